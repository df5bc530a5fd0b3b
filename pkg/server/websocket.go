package server

import (
	"time"

	"github.com/entrhq/gridscout/pkg/batch"
	"github.com/entrhq/gridscout/pkg/catalog"
	"github.com/entrhq/gridscout/pkg/heal"
	"github.com/entrhq/gridscout/pkg/types"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const writeWait = 10 * time.Second

// handleAgentStream starts the run on first connect and streams its
// events. Closing the socket does not stop the session.
func (s *Server) handleAgentStream(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warnf("websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	r, ok := s.runs.get(c.Param("id"))
	if !ok {
		writeJSON(conn, gin.H{"error": "Run not found"})
		return
	}
	if s.cfg.Pipeline == nil {
		writeJSON(conn, gin.H{"error": "pipeline is not configured"})
		return
	}
	if r.start() {
		s.wg.Add(1)
		go s.execute(r)
	}

	closed := watchClose(conn)
	next := 0
	for {
		events, changed, finished := r.since(next)
		for _, e := range events {
			if err := writeJSON(conn, e); err != nil {
				s.logger.Infof("run %s stream closed: %v", r.ID, err)
				return
			}
		}
		next += len(events)
		if finished {
			writeJSON(conn, r.summary())
			return
		}
		select {
		case <-changed:
		case <-closed:
			return
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Server) execute(r *run) {
	defer s.wg.Done()
	res, err := s.cfg.Pipeline.Run(s.ctx, r.Request, r.append)
	if err != nil {
		s.logger.Warnf("run %s ended with error: %v", r.ID, err)
	}
	r.finish(res)
}

type parallelRequest struct {
	Scripts       []string `json:"scripts"`
	Exclude       []string `json:"exclude"`
	AllVersions   bool     `json:"all_versions"`
	MaxConcurrent *int     `json:"max_concurrent"`
	SearchQuery   string   `json:"search_query"`
	StartDate     string   `json:"start_date"`
	EndDate       string   `json:"end_date"`
}

// wsSink writes batch events to a websocket.
type wsSink struct {
	conn *websocket.Conn
}

func (w wsSink) Send(e *types.Event) error {
	return writeJSON(w.conn, e)
}

// handleParallel reads one batch request from the socket, runs it and
// streams progress. A client that goes away only detaches the stream.
func (s *Server) handleParallel(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warnf("websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	var req parallelRequest
	if err := conn.ReadJSON(&req); err != nil {
		writeJSON(conn, types.NewErrorEvent("", err))
		return
	}
	if s.batches == nil || s.cfg.Catalog == nil {
		writeJSON(conn, gin.H{"type": types.EventTypeError, "error": "batch execution is not configured"})
		return
	}

	paths, err := s.selectScripts(req)
	if err != nil {
		writeJSON(conn, types.NewErrorEvent("", err))
		return
	}
	maxConcurrent := s.cfg.DefaultMaxConcurrent
	if req.MaxConcurrent != nil {
		maxConcurrent = *req.MaxConcurrent
	}
	start, end := defaultDates(req.StartDate, req.EndDate)

	s.wg.Add(1)
	defer s.wg.Done()
	_, err = s.batches.Run(s.ctx, batch.Request{
		Artifacts:     paths,
		MaxConcurrent: maxConcurrent,
		Params:        heal.Params{SearchQuery: req.SearchQuery, StartDate: start, EndDate: end},
	}, wsSink{conn: conn})
	if err != nil {
		writeJSON(conn, types.NewErrorEvent("", err))
	}
	conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
}

// selectScripts resolves explicit names first; otherwise the names are
// treated as glob patterns over the catalog.
func (s *Server) selectScripts(req parallelRequest) ([]string, error) {
	var paths []string
	allResolved := len(req.Scripts) > 0
	for _, ref := range req.Scripts {
		p, err := s.cfg.Catalog.Resolve(ref)
		if err != nil {
			allResolved = false
			break
		}
		paths = append(paths, p)
	}
	if allResolved {
		return paths, nil
	}

	m, err := catalog.NewMatcher(req.Scripts, req.Exclude)
	if err != nil {
		return nil, err
	}
	entries, err := s.cfg.Catalog.Select(m, !req.AllVersions)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, batch.ErrNoArtifacts
	}
	return catalog.Paths(entries), nil
}

func writeJSON(conn *websocket.Conn, v interface{}) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return conn.WriteJSON(v)
}

// watchClose drains incoming frames and closes the returned channel when
// the peer goes away.
func watchClose(conn *websocket.Conn) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()
	return done
}
