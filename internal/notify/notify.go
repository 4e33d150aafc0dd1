// Package notify delivers lock workflow notifications. Delivery is never part
// of the state change that triggered it: callers log and drop errors.
package notify

import (
	"context"
	"errors"
	"strings"
	"time"
)

type Type string

const (
	TaskLocked      Type = "task-locked"
	UnlockRequested Type = "unlock-requested"
	UnlockDecided   Type = "unlock-decided"
)

// Event is the payload handed to every dispatcher.
type Event struct {
	Type       Type           `json:"type"`
	TaskID     string         `json:"task_id"`
	ProjectID  string         `json:"project_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Recipients []string       `json:"recipients"`
	Payload    map[string]any `json:"payload,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

type Dispatcher interface {
	Notify(ctx context.Context, ev Event) error
}

// Func adapts a function to Dispatcher.
type Func func(ctx context.Context, ev Event) error

func (f Func) Notify(ctx context.Context, ev Event) error { return f(ctx, ev) }

// Nop discards every event.
type Nop struct{}

func (Nop) Notify(context.Context, Event) error { return nil }

// Multi fans an event out to every dispatcher and joins their errors.
type Multi []Dispatcher

func (m Multi) Notify(ctx context.Context, ev Event) error {
	var errs []error
	for _, d := range m {
		if d == nil {
			continue
		}
		if err := d.Notify(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type eventFilter struct {
	all bool
	set map[Type]struct{}
}

func newEventFilter(events []string) eventFilter {
	set := make(map[Type]struct{}, len(events))
	for _, evt := range events {
		key := strings.TrimSpace(evt)
		if key == "" {
			continue
		}
		set[Type(key)] = struct{}{}
	}
	if len(set) == 0 {
		return eventFilter{all: true}
	}
	return eventFilter{set: set}
}

func (f eventFilter) match(t Type) bool {
	if f.all {
		return true
	}
	_, ok := f.set[t]
	return ok
}
