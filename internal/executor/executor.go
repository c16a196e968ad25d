// Package executor talks to the external executor service that hosts the
// sandboxes assistant subtasks run in. The core only ever asks it to tear
// one down; provisioning happens on the executor side when a run starts.
package executor

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// Teardown deletes a provisioned executor. Callers treat failures as
// advisory and never let them block a lifecycle operation.
type Teardown interface {
	Delete(ctx context.Context, namespace, name string) error
}

// Client is the HTTP Teardown implementation.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient returns a Client for the executor service at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// Delete removes the executor identified by (namespace, name).
func (c *Client) Delete(ctx context.Context, namespace, name string) error {
	u := fmt.Sprintf("%s/api/v1/executors/%s/%s",
		c.baseURL, url.PathEscape(namespace), url.PathEscape(name))
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, u, nil)
	if err != nil {
		return fmt.Errorf("executor: build delete request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("executor: delete %s/%s: %w", namespace, name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("executor: delete %s/%s: status %d", namespace, name, resp.StatusCode)
	}
	return nil
}

// Noop is a Teardown that does nothing, used when no executor service is
// configured and in tests.
type Noop struct{}

// Delete implements Teardown.
func (Noop) Delete(context.Context, string, string) error { return nil }
