package stream

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/switchboardhq/switchboard/internal/apperr"
	"github.com/switchboardhq/switchboard/internal/kind"
	"github.com/switchboardhq/switchboard/internal/model"
	"github.com/switchboardhq/switchboard/internal/models"
	"github.com/switchboardhq/switchboard/internal/store"
	"github.com/switchboardhq/switchboard/internal/task"
)

// Receive-loop pacing: each channel poll waits up to pollTimeout, and the
// durable subtask status is re-checked at least every statusInterval as a
// safety net against a missed done signal.
const (
	pollTimeout    = 1 * time.Second
	statusInterval = 2 * time.Second
)

// Coordinator serves live and resumed streams for assistant subtasks. It
// never writes content itself; the producer owns the cache entry and the
// coordinator only reads and relays.
type Coordinator struct {
	mgr   *task.Manager
	cache *Cache
}

// NewCoordinator wires a Coordinator.
func NewCoordinator(mgr *task.Manager, cache *Cache) *Coordinator {
	return &Coordinator{mgr: mgr, cache: cache}
}

// Cache exposes the streaming cache for the producer side.
func (c *Coordinator) Cache() *Cache { return c.cache }

// StartStream runs a fresh stream for an assistant subtask. The first event
// carries the task and subtask ids so the client can resume later; every
// following content event carries the absolute offset its chunk begins at.
func (c *Coordinator) StartStream(ctx context.Context, taskID, subtaskID, userID int64, source model.ChunkSource, sink Sink) error {
	if err := sink.Send(FirstEvent{TaskID: taskID, SubtaskID: subtaskID}); err != nil {
		source.Close()
		return err
	}

	producer := NewProducer(c.mgr, c.cache)
	result, err := producer.Run(ctx, taskID, subtaskID, userID, source, func(offset int, chunk string) error {
		return sink.Send(ContentEvent{Offset: offset, Content: chunk})
	})
	if err != nil {
		return sink.Send(ErrorEvent{Error: err.Error()})
	}
	return sink.Send(TerminalEvent{Offset: len(result.Content), Done: true, Result: result})
}

// Resume replays and follows an assistant subtask's stream from offset.
// Completed subtasks answer deterministically; live ones replay the cached
// prefix, then relay the pub/sub channel until a done signal or terminal
// durable status. Offsets are absolute positions in the accumulated string,
// so a client can resume a resume with its last rendered offset and never
// see a duplicate or a gap.
func (c *Coordinator) Resume(ctx context.Context, subtaskID int64, offset int, userID int64, sink Sink) error {
	sub, err := store.GetSubtask(c.mgr.DB(), subtaskID, userID)
	if err != nil {
		return err
	}
	if sub == nil {
		return fmt.Errorf("subtask %d: %w", subtaskID, apperr.ErrNotFound)
	}

	switch st := kind.State(sub.Status); {
	case st == kind.StateCompleted:
		return c.emitCompleted(sink, sub, offset, false)
	case st == kind.StateFailed:
		return sink.Send(ErrorEvent{Error: failureMessage(sub)})
	case !st.Resumable():
		return fmt.Errorf("subtask %d is %s: %w", subtaskID, st, apperr.ErrInvalidState)
	}

	// Live path. Replay what has accumulated so far, preferring the cache
	// and falling back to the durable mirror.
	cached, err := c.cache.GetAccumulated(subtaskID)
	if err != nil {
		log.Printf("stream: resume %d: cache read failed: %v", subtaskID, err)
	}
	if cached == "" && sub.Result != nil {
		cached = sub.Result.Content
	}
	cursor := offset
	if cursor < 0 {
		cursor = 0
	}
	if cursor < len(cached) {
		if err := sink.Send(ContentEvent{Offset: cursor, Content: cached[cursor:], Cached: true}); err != nil {
			return err
		}
		cursor = len(cached)
	}

	// The subtask may have finished between the status read and here.
	if done, err := c.recheck(sink, subtaskID, userID, cursor); done || err != nil {
		return err
	}

	subn, err := c.cache.Subscribe(subtaskID)
	if err != nil {
		log.Printf("stream: resume %d: subscribe failed: %v", subtaskID, err)
		if done, rerr := c.recheck(sink, subtaskID, userID, cursor); done || rerr != nil {
			return rerr
		}
		return sink.Send(ErrorEvent{Error: "stream not available"})
	}
	defer subn.Close()

	lastCheck := time.Now()
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		payload, err := subn.Receive(pollTimeout)
		switch {
		case err == errPollTimeout:
			// fall through to the periodic status check
		case err != nil:
			log.Printf("stream: resume %d: %v", subtaskID, err)
			return sink.Send(ErrorEvent{Error: "stream interrupted"})
		case payload == LegacyDoneSentinel:
			return c.finishFromDurable(sink, subtaskID, userID, cursor)
		default:
			if result, ok := decodeDoneMarker(payload); ok {
				return sink.Send(TerminalEvent{Offset: cursor, Done: true, Result: result})
			}
			if err := sink.Send(ContentEvent{Offset: cursor, Content: payload}); err != nil {
				return err
			}
			cursor += len(payload)
		}

		if time.Since(lastCheck) >= statusInterval {
			lastCheck = time.Now()
			if done, err := c.recheck(sink, subtaskID, userID, cursor); done || err != nil {
				return err
			}
		}
	}
}

// recheck re-reads the durable subtask and, when it has reached a terminal
// state, emits the appropriate closing events. Returns done=true when the
// stream is finished.
func (c *Coordinator) recheck(sink Sink, subtaskID, userID int64, cursor int) (bool, error) {
	sub, err := store.GetSubtask(c.mgr.DB(), subtaskID, userID)
	if err != nil || sub == nil {
		return true, err
	}
	switch kind.State(sub.Status) {
	case kind.StateCompleted:
		return true, c.emitCompleted(sink, sub, cursor, true)
	case kind.StateFailed, kind.StateCancelled, kind.StateDelete:
		return true, sink.Send(ErrorEvent{Error: failureMessage(sub)})
	}
	return false, nil
}

// emitCompleted answers a resume against a completed subtask: the content
// tail from offset, then the terminal event. Repeated calls with the same
// offset yield identical output. cached tags the tail when it was served
// from replayed state rather than the fresh completed path.
func (c *Coordinator) emitCompleted(sink Sink, sub *models.Subtask, offset int, cached bool) error {
	final := ""
	if sub.Result != nil {
		final = sub.Result.Content
	}
	if offset < 0 {
		offset = 0
	}
	if offset < len(final) {
		if err := sink.Send(ContentEvent{Offset: offset, Content: final[offset:], Cached: cached}); err != nil {
			return err
		}
	}
	return sink.Send(TerminalEvent{Offset: len(final), Done: true, Result: sub.Result})
}

// finishFromDurable handles the legacy sentinel, which carries no result.
func (c *Coordinator) finishFromDurable(sink Sink, subtaskID, userID int64, cursor int) error {
	sub, err := store.GetSubtask(c.mgr.DB(), subtaskID, userID)
	if err != nil {
		return err
	}
	if sub == nil {
		return sink.Send(TerminalEvent{Offset: cursor, Done: true})
	}
	return c.emitCompleted(sink, sub, cursor, false)
}

func failureMessage(sub *models.Subtask) string {
	if sub.ErrorMessage != "" {
		return sub.ErrorMessage
	}
	return "subtask failed"
}

// Cancel stops a running stream. The broadcast through the cache is fire and
// forget; the durable finalization below is the actual correctness
// mechanism and happens regardless of delivery. The subtask lands in
// COMPLETED rather than a cancelled state so the truncated answer reads as
// a normal, continuable message. Cancelling an already-terminal subtask is
// a no-op success.
func (c *Coordinator) Cancel(ctx context.Context, subtaskID, userID int64, partial string) (*models.Subtask, error) {
	sub, err := store.GetSubtask(c.mgr.DB(), subtaskID, userID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, fmt.Errorf("subtask %d: %w", subtaskID, apperr.ErrNotFound)
	}
	if kind.State(sub.Status).Terminal() {
		return sub, nil
	}

	if err := c.cache.SignalCancel(subtaskID); err != nil {
		log.Printf("stream: cancel %d: broadcast failed: %v", subtaskID, err)
	}

	status := kind.StateCompleted
	progress := 100
	empty := ""
	sub, err = c.mgr.UpdateSubtask(subtaskID, userID, task.SubtaskPatch{
		Status:       &status,
		Progress:     &progress,
		Result:       &models.SubtaskResult{Content: partial},
		ErrorMessage: &empty,
	})
	if err != nil {
		return nil, err
	}
	if err := c.cache.SaveAccumulated(subtaskID, partial); err != nil {
		log.Printf("stream: cancel %d: cache save failed: %v", subtaskID, err)
	}

	if _, err := c.mgr.Update(sub.TaskID, userID, task.Patch{Status: &status}); err != nil {
		return nil, fmt.Errorf("stream: cancel %d: finalize task %d: %w", subtaskID, sub.TaskID, err)
	}
	return sub, nil
}
