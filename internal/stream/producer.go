package stream

import (
	"context"
	"errors"
	"io"
	"log"
	"time"

	"github.com/switchboardhq/switchboard/internal/kind"
	"github.com/switchboardhq/switchboard/internal/model"
	"github.com/switchboardhq/switchboard/internal/models"
	"github.com/switchboardhq/switchboard/internal/task"
)

// mirrorInterval paces the durable mirror of in-flight content. The cache
// carries the hot copy; the durable result only needs to trail closely
// enough to serve resumes when the cache is empty.
const mirrorInterval = 2 * time.Second

// Producer drives one assistant subtask's stream: it is the single writer
// of the subtask's cache entry, publishes every chunk to the fan-out
// channel, mirrors accumulated content into the durable result, honors the
// cross-process cancel signal, and finalizes the subtask and task on exit.
type Producer struct {
	mgr   *task.Manager
	cache *Cache
}

// NewProducer wires a Producer.
func NewProducer(mgr *task.Manager, cache *Cache) *Producer {
	return &Producer{mgr: mgr, cache: cache}
}

// Run consumes source to completion. onChunk, when non-nil, observes each
// chunk with the offset at which it begins; a non-nil return from onChunk
// stops delivery to that observer but never the stream itself (the client
// went away, the work continues). Returns the final result.
func (p *Producer) Run(ctx context.Context, taskID, subtaskID, userID int64, source model.ChunkSource, onChunk func(offset int, chunk string) error) (*models.SubtaskResult, error) {
	defer source.Close()

	running := kind.StateRunning
	if _, err := p.mgr.UpdateSubtask(subtaskID, userID, task.SubtaskPatch{Status: &running}); err != nil {
		return nil, err
	}
	if _, err := p.mgr.Update(taskID, userID, task.Patch{Status: &running}); err != nil {
		return nil, err
	}

	var accumulated []byte
	observing := onChunk != nil
	lastMirror := time.Now()

	for {
		cancelled, err := p.cache.CancelRequested(subtaskID)
		if err != nil {
			log.Printf("stream: produce %d: cancel check failed: %v", subtaskID, err)
		}
		if cancelled {
			_ = p.cache.ClearCancel(subtaskID)
			// The cancel path finalizes the rows; just stop producing.
			return &models.SubtaskResult{Content: string(accumulated)}, nil
		}

		chunk, err := source.Recv(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, p.fail(subtaskID, taskID, userID, err)
		}
		if chunk == "" {
			continue
		}

		offset := len(accumulated)
		accumulated = append(accumulated, chunk...)
		if err := p.cache.AppendChunk(subtaskID, chunk); err != nil {
			log.Printf("stream: produce %d: %v", subtaskID, err)
		}
		if err := p.cache.PublishChunk(subtaskID, chunk); err != nil {
			log.Printf("stream: produce %d: %v", subtaskID, err)
		}
		if observing {
			if err := onChunk(offset, chunk); err != nil {
				observing = false
			}
		}

		if time.Since(lastMirror) >= mirrorInterval {
			lastMirror = time.Now()
			mirror := &models.SubtaskResult{Content: string(accumulated), Streaming: true, Incomplete: true}
			if _, err := p.mgr.UpdateSubtask(subtaskID, userID, task.SubtaskPatch{Result: mirror}); err != nil {
				log.Printf("stream: produce %d: mirror failed: %v", subtaskID, err)
			}
		}
	}

	return p.finalize(subtaskID, taskID, userID, string(accumulated))
}

// finalize commits the finished stream: authoritative cache content, the
// durable COMPLETED subtask and task, and the done marker for live
// subscribers.
func (p *Producer) finalize(subtaskID, taskID, userID int64, content string) (*models.SubtaskResult, error) {
	result := &models.SubtaskResult{Content: content}
	if err := p.cache.SaveAccumulated(subtaskID, content); err != nil {
		log.Printf("stream: finalize %d: %v", subtaskID, err)
	}

	completed := kind.StateCompleted
	progress := 100
	empty := ""
	if _, err := p.mgr.UpdateSubtask(subtaskID, userID, task.SubtaskPatch{
		Status:       &completed,
		Progress:     &progress,
		Result:       result,
		ErrorMessage: &empty,
	}); err != nil {
		return nil, err
	}
	if _, err := p.mgr.Update(taskID, userID, task.Patch{Status: &completed, Progress: &progress}); err != nil {
		return nil, err
	}

	marker, err := EncodeDoneMarker(result)
	if err == nil {
		err = p.cache.PublishDone(subtaskID, marker)
	}
	if err != nil {
		log.Printf("stream: finalize %d: done marker: %v", subtaskID, err)
	}
	return result, nil
}

// fail records a stream failure on the subtask and task.
func (p *Producer) fail(subtaskID, taskID, userID int64, cause error) error {
	failed := kind.StateFailed
	msg := cause.Error()
	if _, err := p.mgr.UpdateSubtask(subtaskID, userID, task.SubtaskPatch{
		Status:       &failed,
		ErrorMessage: &msg,
	}); err != nil {
		log.Printf("stream: fail %d: %v", subtaskID, err)
	}
	if _, err := p.mgr.Update(taskID, userID, task.Patch{Status: &failed, ErrorMessage: &msg}); err != nil {
		log.Printf("stream: fail %d: task %d: %v", subtaskID, taskID, err)
	}
	return cause
}
