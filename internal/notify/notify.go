// Package notify posts task lifecycle events to chat platforms. Delivery is
// best-effort: a failed post is logged and never blocks the lifecycle
// operation that raised the event.
package notify

import (
	"context"
	"log"
	"time"
)

// Event is a task reaching a terminal state.
type Event struct {
	TaskID   int64
	Title    string
	Status   string // COMPLETED, FAILED, CANCELLED
	UserName string
	Error    string // set on failure
	At       time.Time
}

// Notifier delivers an event to one platform.
type Notifier interface {
	Post(ctx context.Context, ev Event) error
	Close() error
}

// Multi fans one event out to every configured platform.
type Multi struct {
	notifiers []Notifier
}

// NewMulti builds a Multi over the given notifiers. A nil or empty list is
// fine; Post becomes a no-op.
func NewMulti(notifiers ...Notifier) *Multi {
	return &Multi{notifiers: notifiers}
}

// Post delivers ev to each platform, logging failures and moving on.
func (m *Multi) Post(ctx context.Context, ev Event) {
	for _, n := range m.notifiers {
		if err := n.Post(ctx, ev); err != nil {
			log.Printf("notify: post task %d event: %v", ev.TaskID, err)
		}
	}
}

// Close shuts every notifier down.
func (m *Multi) Close() {
	for _, n := range m.notifiers {
		if err := n.Close(); err != nil {
			log.Printf("notify: close: %v", err)
		}
	}
}
