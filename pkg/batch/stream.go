package batch

import (
	"sync"

	"github.com/entrhq/gridscout/pkg/logging"
	"github.com/entrhq/gridscout/pkg/types"
)

// Sink receives batch progress events. Send may be called from several
// goroutines but never concurrently.
type Sink interface {
	Send(e *types.Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(e *types.Event) error

// Send implements Sink.
func (f SinkFunc) Send(e *types.Event) error {
	return f(e)
}

// stream serializes delivery to a sink. The first delivery failure
// detaches the sink and later events are dropped.
type stream struct {
	mu       sync.Mutex
	sink     Sink
	detached bool
	dropped  int
	logger   *logging.Logger
}

func newStream(sink Sink, logger *logging.Logger) *stream {
	return &stream{sink: sink, detached: sink == nil, logger: logger}
}

func (s *stream) send(e *types.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.detached {
		s.dropped++
		return
	}
	if err := s.sink.Send(e); err != nil {
		s.logger.Warnf("progress stream detached after %s event: %v", e.Type, err)
		s.detach()
	}
}

// detach stops delivery. The caller holds mu.
func (s *stream) detach() {
	s.detached = true
	s.sink = nil
}

// droppedEvents reports how many events were discarded after detaching.
func (s *stream) droppedEvents() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}
