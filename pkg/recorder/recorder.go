// Package recorder keeps the append-only log of browser interactions that
// succeeded during an exploration session.
package recorder

import (
	"fmt"
	"sync"
	"time"
)

// Kind is the type of a recorded interaction.
type Kind string

const (
	KindNavigate Kind = "navigate"
	KindClick    Kind = "click"
	KindFill     Kind = "fill"
)

// Placeholders substituted at replay time for parameterized fill values.
const (
	PlaceholderSearchTerm = "{{SEARCH_TERM}}"
	PlaceholderStartDate  = "{{START_DATE}}"
	PlaceholderEndDate    = "{{END_DATE}}"
)

// Action is one recorded browser interaction.
type Action struct {
	Kind        Kind      `json:"kind" yaml:"kind"`
	Target      string    `json:"target" yaml:"target"`
	Value       string    `json:"value,omitempty" yaml:"value,omitempty"`
	Description string    `json:"description,omitempty" yaml:"description,omitempty"`
	Timestamp   time.Time `json:"timestamp" yaml:"-"`
}

// Recorder is an append-only action log. Readers get copies, so appended
// actions cannot be changed from outside.
type Recorder struct {
	mu      sync.RWMutex
	actions []Action
	now     func() time.Time
}

// New creates an empty recorder.
func New() *Recorder {
	return &Recorder{now: time.Now}
}

// Navigate records a navigation to url.
func (r *Recorder) Navigate(url string) error {
	return r.append(Action{Kind: KindNavigate, Target: url, Description: "navigate to " + url})
}

// Click records a click on selector.
func (r *Recorder) Click(selector, description string) error {
	return r.append(Action{Kind: KindClick, Target: selector, Description: description})
}

// Fill records filling selector with value.
func (r *Recorder) Fill(selector, value, description string) error {
	return r.append(Action{Kind: KindFill, Target: selector, Value: value, Description: description})
}

func (r *Recorder) append(a Action) error {
	if a.Target == "" {
		return fmt.Errorf("%s action requires a target", a.Kind)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	a.Timestamp = r.now()
	r.actions = append(r.actions, a)
	return nil
}

// Actions returns a copy of the recorded actions in order.
func (r *Recorder) Actions() []Action {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Action, len(r.actions))
	copy(out, r.actions)
	return out
}

// Len returns the number of recorded actions.
func (r *Recorder) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.actions)
}

// Last returns the newest action, if any.
func (r *Recorder) Last() (Action, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.actions) == 0 {
		return Action{}, false
	}
	return r.actions[len(r.actions)-1], true
}
