package oracle

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// CachingOracle memoizes analyze-phase decisions per page state. Requests
// for alternatives always reach the wrapped oracle.
type CachingOracle struct {
	next  Oracle
	cache *lru.Cache[string, Decision]
}

// NewCachingOracle wraps next with an LRU of the given size.
func NewCachingOracle(next Oracle, size int) (*CachingOracle, error) {
	cache, err := lru.New[string, Decision](size)
	if err != nil {
		return nil, err
	}
	return &CachingOracle{next: next, cache: cache}, nil
}

// Decide implements Oracle.
func (c *CachingOracle) Decide(ctx context.Context, req Request) (*Decision, error) {
	if req.Phase == PhaseAlternative {
		return c.next.Decide(ctx, req)
	}

	key := cacheKey(req)
	if d, ok := c.cache.Get(key); ok {
		return &d, nil
	}

	d, err := c.next.Decide(ctx, req)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, *d)
	return d, nil
}

// Len returns the number of cached decisions.
func (c *CachingOracle) Len() int {
	return c.cache.Len()
}

func cacheKey(req Request) string {
	h := sha256.New()
	h.Write([]byte(req.URL))
	h.Write([]byte{0})
	h.Write([]byte(strings.Join(req.ClickedSelectors, "\x1f")))
	h.Write([]byte{0})
	h.Write([]byte(req.Snapshot))
	return hex.EncodeToString(h.Sum(nil))
}
