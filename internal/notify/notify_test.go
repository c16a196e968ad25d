package notify

import (
	"context"
	"errors"
	"testing"
)

type recorder struct {
	posts  int
	err    error
	closed bool
}

func (r *recorder) Post(context.Context, Event) error { r.posts++; return r.err }
func (r *recorder) Close() error                      { r.closed = true; return nil }

func TestMultiFansOutPastFailures(t *testing.T) {
	broken := &recorder{err: errors.New("down")}
	healthy := &recorder{}
	m := NewMulti(broken, healthy)

	m.Post(context.Background(), Event{TaskID: 1, Status: "COMPLETED"})
	if broken.posts != 1 || healthy.posts != 1 {
		t.Errorf("posts = %d/%d, want 1/1", broken.posts, healthy.posts)
	}

	m.Close()
	if !broken.closed || !healthy.closed {
		t.Error("not all notifiers closed")
	}
}

func TestMultiEmptyIsNoop(t *testing.T) {
	m := NewMulti()
	m.Post(context.Background(), Event{TaskID: 1})
	m.Close()
}
