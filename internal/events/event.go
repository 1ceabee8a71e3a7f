// Package events implements the per-run broadcast of task events.
package events

import (
	"errors"
	"fmt"
	"time"
)

// Type denotes the kind of milestone carried by an Event.
type Type string

// Supported task event types.
const (
	TypeEnqueue     Type = "enqueue"
	TypeStart       Type = "start"
	TypeProgress    Type = "progress"
	TypeContent     Type = "content"
	TypeSourceError Type = "source_error"
	TypeError       Type = "error"
	TypeDone        Type = "done"
)

// Terminal reports whether the event ends the run's stream.
func (t Type) Terminal() bool {
	return t == TypeDone || t == TypeError
}

// Event is one timestamped task event for a run. Events are ephemeral: the
// bus delivers them to currently-connected observers only.
type Event struct {
	RunID    string    `json:"run_id"`
	Type     Type      `json:"type"`
	Message  string    `json:"message,omitempty"`
	Progress int       `json:"progress,omitempty"`
	TS       time.Time `json:"ts"`
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == "" {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Type {
	case TypeEnqueue, TypeStart, TypeProgress, TypeContent, TypeSourceError, TypeError, TypeDone:
	default:
		return fmt.Errorf("unknown event type %q", e.Type)
	}
	if e.Progress < 0 || e.Progress > 100 {
		return fmt.Errorf("progress %d out of range", e.Progress)
	}
	return nil
}
