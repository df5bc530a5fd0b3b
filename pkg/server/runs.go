package server

import (
	"sync"
	"time"

	"github.com/entrhq/gridscout/pkg/types"
	"github.com/entrhq/gridscout/pkg/workflow"
	"github.com/google/uuid"
)

// run is one pipeline session created by POST /api/run. Events are kept
// so a late or reconnecting stream replays from the start.
type run struct {
	ID        string           `json:"run_id"`
	Request   workflow.Request `json:"request"`
	StartTime time.Time        `json:"start_time"`

	mu       sync.Mutex
	status   string
	started  bool
	finished bool
	events   []*types.Event
	changed  chan struct{}
	result   *workflow.Result
}

func newRun(req workflow.Request) *run {
	return &run{
		ID:        uuid.New().String(),
		Request:   req,
		StartTime: time.Now(),
		status:    "starting",
		changed:   make(chan struct{}),
	}
}

// start marks the run as started. It returns false if it already was.
func (r *run) start() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return false
	}
	r.started = true
	return true
}

func (r *run) append(e *types.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	if e.Status != "" {
		r.status = e.Status
	}
	close(r.changed)
	r.changed = make(chan struct{})
}

func (r *run) finish(res *workflow.Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.result = res
	r.finished = true
	if res != nil {
		r.status = string(res.Status)
	}
	close(r.changed)
	r.changed = make(chan struct{})
}

// since returns the events after index i, a channel closed on the next
// change, and whether the run has finished.
func (r *run) since(i int) ([]*types.Event, <-chan struct{}, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*types.Event
	if i < len(r.events) {
		out = append(out, r.events[i:]...)
	}
	return out, r.changed, r.finished
}

type runSummary struct {
	RunID     string           `json:"run_id"`
	Status    string           `json:"status"`
	Request   workflow.Request `json:"request"`
	StartTime time.Time        `json:"start_time"`
	Finished  bool             `json:"finished"`
	Artifact  string           `json:"script_path,omitempty"`
	RowCount  int              `json:"row_count"`
	Error     string           `json:"error,omitempty"`
	Logs      []string         `json:"logs"`
}

func (r *run) summary() runSummary {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := runSummary{
		RunID:     r.ID,
		Status:    r.status,
		Request:   r.Request,
		StartTime: r.StartTime,
		Finished:  r.finished,
		Logs:      []string{},
	}
	for _, e := range r.events {
		if e.Message != "" {
			s.Logs = append(s.Logs, e.Message)
		}
	}
	if r.result != nil {
		if r.result.Artifact != nil {
			s.Artifact = r.result.Artifact.Path
		}
		s.RowCount = r.result.RowCount
		if r.result.Err != nil {
			s.Error = r.result.Err.Error()
		}
	}
	return s
}

type runRegistry struct {
	mu   sync.RWMutex
	runs map[string]*run
}

func newRunRegistry() *runRegistry {
	return &runRegistry{runs: make(map[string]*run)}
}

func (g *runRegistry) add(r *run) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.runs[r.ID] = r
}

func (g *runRegistry) get(id string) (*run, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	r, ok := g.runs[id]
	return r, ok
}

func (g *runRegistry) active() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n := 0
	for _, r := range g.runs {
		r.mu.Lock()
		if r.started && !r.finished {
			n++
		}
		r.mu.Unlock()
	}
	return n
}
