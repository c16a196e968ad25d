// Package model invokes the configured AI model and exposes its reply as a
// text chunk source for the streaming producer.
package model

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ChunkSource yields a reply one text chunk at a time. Recv returns io.EOF
// when the reply is complete. Implementations must be append-only with
// respect to the logical accumulated string: once a chunk is yielded its
// bytes are final.
type ChunkSource interface {
	Recv(ctx context.Context) (string, error)
	Close() error
}

// Config is the resolved model configuration for one invocation.
type Config struct {
	BaseURL      string
	APIKey       string
	Model        string
	SystemPrompt string
}

// chat wire shapes, OpenAI-compatible streaming API.
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

type chatChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// Stream opens a streaming chat completion and returns a ChunkSource over
// its SSE body.
func Stream(ctx context.Context, cfg Config, prompt string) (ChunkSource, error) {
	msgs := []chatMessage{}
	if cfg.SystemPrompt != "" {
		msgs = append(msgs, chatMessage{Role: "system", Content: cfg.SystemPrompt})
	}
	msgs = append(msgs, chatMessage{Role: "user", Content: prompt})

	body, err := json.Marshal(chatRequest{Model: cfg.Model, Messages: msgs, Stream: true})
	if err != nil {
		return nil, fmt.Errorf("model: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(cfg.BaseURL, "/")+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("model: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.APIKey)
	}

	client := &http.Client{Timeout: 0} // streaming body, no overall deadline
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("model: invoke %s: %w", cfg.Model, err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("model: invoke %s: status %d: %s", cfg.Model, resp.StatusCode, data)
	}
	return &sseSource{body: resp.Body, scanner: bufio.NewScanner(resp.Body)}, nil
}

// sseSource parses "data:" lines off a streaming completion body.
type sseSource struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
}

// Recv returns the next non-empty content delta.
func (s *sseSource) Recv(ctx context.Context) (string, error) {
	for s.scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		line := strings.TrimSpace(s.scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" {
			continue
		}
		if payload == "[DONE]" {
			return "", io.EOF
		}
		var chunk chatChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			continue
		}
		if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
			continue
		}
		return chunk.Choices[0].Delta.Content, nil
	}
	if err := s.scanner.Err(); err != nil {
		return "", fmt.Errorf("model: read stream: %w", err)
	}
	return "", io.EOF
}

// Close drains and releases the response body.
func (s *sseSource) Close() error {
	_, _ = io.Copy(io.Discard, io.LimitReader(s.body, 1<<20))
	return s.body.Close()
}

// StaticSource replays fixed chunks with an optional delay, used in tests
// and as a stand-in when no model endpoint is configured.
type StaticSource struct {
	Chunks []string
	Delay  time.Duration
	pos    int
}

// Recv implements ChunkSource.
func (s *StaticSource) Recv(ctx context.Context) (string, error) {
	if s.pos >= len(s.Chunks) {
		return "", io.EOF
	}
	if s.Delay > 0 {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(s.Delay):
		}
	}
	chunk := s.Chunks[s.pos]
	s.pos++
	return chunk, nil
}

// Close implements ChunkSource.
func (s *StaticSource) Close() error { return nil }
