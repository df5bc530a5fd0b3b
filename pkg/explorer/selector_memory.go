package explorer

import "sync"

// SelectorMemory records the selectors clicked during a session. Seen only
// considers the current disclaimer loop; Selectors returns the full history.
type SelectorMemory struct {
	mu      sync.RWMutex
	order   []string
	loop    map[string]bool
	history map[string]bool
}

// NewSelectorMemory creates an empty memory.
func NewSelectorMemory() *SelectorMemory {
	return &SelectorMemory{
		loop:    make(map[string]bool),
		history: make(map[string]bool),
	}
}

// Remember marks selector as clicked.
func (m *SelectorMemory) Remember(selector string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loop[selector] = true
	if !m.history[selector] {
		m.history[selector] = true
		m.order = append(m.order, selector)
	}
}

// Seen reports whether selector was clicked in the current loop.
func (m *SelectorMemory) Seen(selector string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loop[selector]
}

// Selectors returns every clicked selector in first-click order.
func (m *SelectorMemory) Selectors() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, len(m.order))
	copy(out, m.order)
	return out
}

// Len returns the number of distinct clicked selectors.
func (m *SelectorMemory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.order)
}

// ResetLoop starts a new disclaimer loop. History is kept.
func (m *SelectorMemory) ResetLoop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loop = make(map[string]bool)
}
