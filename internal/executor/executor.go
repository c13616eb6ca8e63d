// Package executor sends opaque shell-like commands to named remote resources
// over the remote command executor API.
package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultTimeout = 30 * time.Second

// ErrTransport marks executor unreachability (connect failure, timeout, or a
// broken response). Callers must treat it as "state unknown", never as evidence
// that the remote job is down.
var ErrTransport = errors.New("executor: transport failure")

// Result is the remote command outcome. StatusCode is the remote command's own
// status, not the HTTP status of the API call.
type Result struct {
	StatusCode int    `json:"status_code"`
	Output     string `json:"output_text"`
}

// Failed reports whether the remote command failed (status_code >= 400).
func (r *Result) Failed() bool {
	return r.StatusCode >= 400
}

// Executor runs a single command against a resource.
type Executor interface {
	Run(ctx context.Context, resourceID, command string) (*Result, error)
}

// HTTPExecutor talks to the executor API over HTTP. Every call carries a bounded
// timeout.
type HTTPExecutor struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewHTTPExecutor returns an executor client for the given base URL. timeout <= 0
// falls back to the default.
func NewHTTPExecutor(baseURL string, timeout time.Duration) *HTTPExecutor {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &HTTPExecutor{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: timeout},
	}
}

type runRequest struct {
	ResourceID string `json:"resource_id"`
	Command    string `json:"command_text"`
}

// Run executes command on resourceID and returns the remote outcome. Network
// errors, timeouts, and non-2xx API responses are reported as ErrTransport.
func (e *HTTPExecutor) Run(ctx context.Context, resourceID, command string) (*Result, error) {
	raw, err := json.Marshal(runRequest{ResourceID: resourceID, Command: command})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.BaseURL+"/v1/commands", bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := e.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%w: api status=%d body=%s", ErrTransport, resp.StatusCode, string(b))
	}
	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrTransport, err)
	}
	return &result, nil
}
