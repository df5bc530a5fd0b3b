package types

import "time"

// EventType defines the type of progress event emitted during a run.
type EventType string

const (
	EventTypeStatus           EventType = "status"            // EventTypeStatus indicates a session status transition.
	EventTypeLog              EventType = "log"               // EventTypeLog carries a session log line.
	EventTypeScriptGenerated  EventType = "script_generated"  // EventTypeScriptGenerated indicates an artifact version was written.
	EventTypeScriptTested     EventType = "script_tested"     // EventTypeScriptTested carries the outcome of one test attempt.
	EventTypeComplete         EventType = "complete"          // EventTypeComplete indicates a session reached a terminal status.
	EventTypeParallelStart    EventType = "parallel_start"    // EventTypeParallelStart indicates a batch began.
	EventTypeScriptStart      EventType = "script_start"      // EventTypeScriptStart indicates one batch unit started.
	EventTypeScriptComplete   EventType = "script_complete"   // EventTypeScriptComplete indicates one batch unit finished.
	EventTypeParallelComplete EventType = "parallel_complete" // EventTypeParallelComplete carries the batch aggregate.
	EventTypeError            EventType = "error"             // EventTypeError indicates a run-level error.
)

// Event is a progress event. Only the fields relevant to Type are set.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`

	SessionID string `json:"session_id,omitempty"`
	Status    string `json:"status,omitempty"`
	Message   string `json:"message,omitempty"`
	Error     string `json:"error,omitempty"`

	// Script unit fields.
	Script   string `json:"script,omitempty"`
	Path     string `json:"path,omitempty"`
	Success  *bool  `json:"success,omitempty"`
	RowCount int    `json:"row_count,omitempty"`
	Version  int    `json:"version,omitempty"`

	// Batch aggregate fields.
	MaxConcurrent *int           `json:"max_concurrent,omitempty"`
	Total         int            `json:"total,omitempty"`
	Successful    int            `json:"successful,omitempty"`
	Failed        int            `json:"failed,omitempty"`
	TotalRows     int            `json:"total_rows,omitempty"`
	Results       []ScriptResult `json:"results,omitempty"`
}

// ScriptResult is the outcome of running one artifact.
type ScriptResult struct {
	Script   string        `json:"script"`
	Path     string        `json:"path"`
	Success  bool          `json:"success"`
	RowCount int           `json:"row_count"`
	DataPath string        `json:"data_path,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

func newEvent(t EventType) *Event {
	return &Event{Type: t, Timestamp: time.Now()}
}

// NewStatusEvent creates a status transition event.
func NewStatusEvent(sessionID, status, message string) *Event {
	e := newEvent(EventTypeStatus)
	e.SessionID = sessionID
	e.Status = status
	e.Message = message
	return e
}

// NewLogEvent creates a log line event.
func NewLogEvent(sessionID, message string) *Event {
	e := newEvent(EventTypeLog)
	e.SessionID = sessionID
	e.Message = message
	return e
}

// NewScriptGeneratedEvent creates an event for a newly written artifact version.
func NewScriptGeneratedEvent(sessionID, path string, version int) *Event {
	e := newEvent(EventTypeScriptGenerated)
	e.SessionID = sessionID
	e.Path = path
	e.Version = version
	return e
}

// NewScriptTestedEvent creates an event for one test attempt.
func NewScriptTestedEvent(sessionID, path string, success bool, rows int, errMsg string) *Event {
	e := newEvent(EventTypeScriptTested)
	e.SessionID = sessionID
	e.Path = path
	e.Success = &success
	e.RowCount = rows
	e.Error = errMsg
	return e
}

// NewCompleteEvent creates a terminal session event.
func NewCompleteEvent(sessionID, status, message string) *Event {
	e := newEvent(EventTypeComplete)
	e.SessionID = sessionID
	e.Status = status
	e.Message = message
	return e
}

// NewParallelStartEvent creates the opening event of a batch.
func NewParallelStartEvent(maxConcurrent, total int) *Event {
	e := newEvent(EventTypeParallelStart)
	e.MaxConcurrent = &maxConcurrent
	e.Total = total
	return e
}

// NewScriptStartEvent creates the start event of one batch unit.
func NewScriptStartEvent(script, path string) *Event {
	e := newEvent(EventTypeScriptStart)
	e.Script = script
	e.Path = path
	return e
}

// NewScriptCompleteEvent creates the completion event of one batch unit.
func NewScriptCompleteEvent(r ScriptResult) *Event {
	e := newEvent(EventTypeScriptComplete)
	e.Script = r.Script
	e.Path = r.Path
	success := r.Success
	e.Success = &success
	e.RowCount = r.RowCount
	e.Error = r.Error
	return e
}

// NewParallelCompleteEvent creates the closing event of a batch.
func NewParallelCompleteEvent(total, successful, failed, totalRows int, results []ScriptResult) *Event {
	e := newEvent(EventTypeParallelComplete)
	e.Total = total
	e.Successful = successful
	e.Failed = failed
	e.TotalRows = totalRows
	e.Results = results
	return e
}

// NewErrorEvent creates an error event.
func NewErrorEvent(sessionID string, err error) *Event {
	e := newEvent(EventTypeError)
	e.SessionID = sessionID
	if err != nil {
		e.Error = err.Error()
	}
	return e
}

// IsError returns true if this is an error event.
func (e *Event) IsError() bool {
	return e.Type == EventTypeError
}
