// Package llm relays a streaming chat completion from an OpenAI-compatible
// provider as a channel of normalized events.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/liliang-cn/docchat/internal/domain"
	"go.uber.org/zap"
)

// doneSentinel terminates an upstream stream.
const doneSentinel = "[DONE]"

// maxErrorBody bounds how much of a failed response body is reported.
const maxErrorBody = 4 << 10

// Event is one normalized stream event. Exactly one of Content or Error is
// meaningful; Done marks the last event of the stream.
type Event struct {
	Content string
	Error   string
	Done    bool
}

// IsError reports whether the event carries an error note.
func (e Event) IsError() bool {
	return e.Error != ""
}

// Streamer opens a streaming completion for an assembled prompt.
type Streamer interface {
	// Stream returns a channel that is closed when the stream ends. The
	// channel is drained lazily and cannot be restarted.
	Stream(ctx context.Context, messages []domain.PromptMessage) <-chan Event
}

// Options configures a Client.
type Options struct {
	BaseURL string
	APIKey  string
	Model   string
	Referer string
	Title   string
	// Timeout bounds connecting, waiting for headers and every gap between
	// body reads.
	Timeout time.Duration
}

// Client is the upstream chat-completion client.
type Client struct {
	opts       Options
	httpClient *http.Client
	logger     *zap.Logger
}

var _ Streamer = (*Client)(nil)

// NewClient creates a new streaming client.
func NewClient(opts Options, logger *zap.Logger) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	opts.BaseURL = strings.TrimSuffix(opts.BaseURL, "/")

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{Timeout: opts.Timeout, KeepAlive: 30 * time.Second}).DialContext
	transport.ResponseHeaderTimeout = opts.Timeout

	return &Client{
		opts:       opts,
		httpClient: &http.Client{Transport: transport},
		logger:     logger,
	}
}

// ChatCompletionRequest is the body sent upstream.
type ChatCompletionRequest struct {
	Model    string                 `json:"model"`
	Messages []domain.PromptMessage `json:"messages"`
	Stream   bool                   `json:"stream"`
}

// streamChunk is the subset of a completion chunk the relay reads.
type streamChunk struct {
	Choices []struct {
		Delta *struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// Stream implements Streamer.
func (c *Client) Stream(ctx context.Context, messages []domain.PromptMessage) <-chan Event {
	ch := make(chan Event)
	go func() {
		defer close(ch)
		send := func(ev Event) bool {
			select {
			case ch <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}
		defer func() {
			if r := recover(); r != nil {
				c.logger.Error("llm stream panicked", zap.Any("panic", r))
				send(Event{Error: fmt.Sprintf("An unexpected error occurred during AI streaming: %v", r), Done: true})
			}
		}()
		c.stream(ctx, messages, send)
	}()
	return ch
}

func (c *Client) stream(ctx context.Context, messages []domain.PromptMessage, send func(Event) bool) {
	body, err := json.Marshal(ChatCompletionRequest{
		Model:    c.opts.Model,
		Messages: messages,
		Stream:   true,
	})
	if err != nil {
		send(Event{Error: fmt.Sprintf("An unexpected error occurred during AI streaming: %v", err), Done: true})
		return
	}

	reqCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.opts.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		send(Event{Error: fmt.Sprintf("Request error communicating with AI: %v", err), Done: true})
		return
	}
	c.setHeaders(httpReq)

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.logger.Warn("llm request failed", zap.Error(err))
		send(Event{Error: fmt.Sprintf("Request error communicating with AI: %v", err), Done: true})
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		c.logger.Warn("llm returned error status",
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", detail),
		)
		send(Event{Error: fmt.Sprintf("AI service error (%d): %s", resp.StatusCode, string(detail)), Done: true})
		return
	}

	// Cancel the request when the upstream goes quiet for longer than Timeout.
	var idle atomic.Bool
	timer := time.AfterFunc(c.opts.Timeout, func() {
		idle.Store(true)
		cancel()
	})
	defer timer.Stop()

	var pending []byte
	buf := make([]byte, 4096)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			timer.Reset(c.opts.Timeout)
			pending = append(pending, buf[:n]...)
			pending = bytes.ReplaceAll(pending, []byte("\r\n"), []byte("\n"))

			for {
				idx := bytes.Index(pending, []byte("\n\n"))
				if idx < 0 {
					break
				}
				frame := string(pending[:idx])
				pending = pending[idx+2:]

				stop, ok := c.handleFrame(frame, send)
				if !ok {
					return
				}
				if stop {
					c.logger.Debug("llm stream completed", zap.Duration("elapsed", time.Since(start)))
					return
				}
			}
		}

		if readErr == nil {
			continue
		}
		if errors.Is(readErr, io.EOF) {
			if len(bytes.TrimSpace(pending)) > 0 {
				c.logger.Debug("discarding unterminated trailing frame", zap.Int("bytes", len(pending)))
			}
			return
		}
		if idle.Load() {
			send(Event{Error: fmt.Sprintf("Request error communicating with AI: no data received for %s", c.opts.Timeout), Done: true})
			return
		}
		if ctx.Err() != nil {
			return
		}
		send(Event{Error: fmt.Sprintf("An unexpected error occurred during AI streaming: %v", readErr), Done: true})
		return
	}
}

// handleFrame forwards the event carried by one blank-line-delimited frame.
// stop is true after the terminal sentinel; ok is false once the consumer
// is gone.
func (c *Client) handleFrame(frame string, send func(Event) bool) (stop bool, ok bool) {
	payload, found := dataPayload(frame)
	if !found || payload == "" {
		return false, true
	}

	if payload == doneSentinel {
		return true, send(Event{Content: "", Done: true})
	}

	var chunk streamChunk
	if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
		c.logger.Warn("malformed llm frame", zap.String("payload", payload), zap.Error(err))
		return false, send(Event{Error: fmt.Sprintf("Malformed JSON chunk: %s", payload), Done: false})
	}

	if len(chunk.Choices) == 0 || chunk.Choices[0].Delta == nil || chunk.Choices[0].Delta.Content == "" {
		return false, true
	}
	return false, send(Event{Content: chunk.Choices[0].Delta.Content, Done: false})
}

// dataPayload returns the value of the first data: line of a frame.
func dataPayload(frame string) (string, bool) {
	for _, line := range strings.Split(frame, "\n") {
		if strings.HasPrefix(line, "data:") {
			return strings.TrimSpace(strings.TrimPrefix(line, "data:")), true
		}
	}
	return "", false
}

// setHeaders sets common request headers.
func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if c.opts.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.opts.APIKey)
	}
	if c.opts.Referer != "" {
		req.Header.Set("HTTP-Referer", c.opts.Referer)
	}
	if c.opts.Title != "" {
		req.Header.Set("X-Title", c.opts.Title)
	}
}
