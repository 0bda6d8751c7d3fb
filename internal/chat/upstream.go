package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// TurnRequest describes one billable chat turn.
type TurnRequest struct {
	TurnID      string   `json:"turn_id"`
	DatasetID   int64    `json:"dataset_id"`
	DocumentIDs []int64  `json:"document_ids,omitempty"`
	Message     string   `json:"message"`
	History     []string `json:"history,omitempty"`
}

// Upstream is the AI completion collaborator. The gateway core treats it as
// opaque: it streams whatever the upstream produces.
type Upstream interface {
	StreamCompletion(ctx context.Context, req TurnRequest, w io.Writer) error
}

// HTTPUpstream streams completions from an HTTP service.
type HTTPUpstream struct {
	baseURL string
	client  *http.Client
}

// NewHTTPUpstream constructs an upstream client.
func NewHTTPUpstream(baseURL string, timeout time.Duration) *HTTPUpstream {
	return &HTTPUpstream{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// StreamCompletion posts the turn and copies the streamed body through,
// flushing chunk by chunk when the writer supports it.
func (u *HTTPUpstream) StreamCompletion(ctx context.Context, turn TurnRequest, w io.Writer) error {
	payload, err := json.Marshal(turn)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.baseURL+"/v1/chat", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := u.client.Do(req)
	if err != nil {
		return fmt.Errorf("chat: upstream request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("chat: upstream status %d", resp.StatusCode)
	}

	flusher, _ := w.(http.Flusher)
	buf := make([]byte, 4096)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, writeErr := w.Write(buf[:n]); writeErr != nil {
				return writeErr
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			return readErr
		}
	}
}
