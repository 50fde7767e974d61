package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const (
	// DefaultBaseURL is the Cerebras OpenAI-compatible endpoint.
	DefaultBaseURL = "https://api.cerebras.ai/v1"

	completionsPath = "/chat/completions"
	doneSentinel    = "[DONE]"
)

// defaultHTTPClient deliberately has no timeout: completions run until they
// finish, fail, or are cancelled through the request context.
var defaultHTTPClient = &http.Client{}

// HTTPError is a non-success status from the completion endpoint, carrying
// the best-effort response body text.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	body := strings.TrimSpace(e.Body)
	if body == "" {
		return fmt.Sprintf("HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, body)
}

// Client issues completion requests against an OpenAI-compatible endpoint.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewClient creates a client for the given endpoint and credential.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{BaseURL: baseURL, APIKey: apiKey}
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return defaultHTTPClient
}

func (c *Client) endpoint() string {
	base := strings.TrimSuffix(strings.TrimSpace(c.BaseURL), "/")
	if base == "" {
		base = DefaultBaseURL
	}
	return base + completionsPath
}

func (c *Client) newRequest(ctx context.Context, body []byte) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	return req, nil
}

// Complete performs a buffered (non-streaming) completion call.
func (c *Client) Complete(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	req.Stream = false
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := c.newRequest(ctx, body)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient().Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("completion request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &HTTPError{StatusCode: resp.StatusCode, Body: readBodyText(resp.Body)}
	}

	var chatResp ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &chatResp, nil
}

// Stream performs a completion call and returns a normalized event stream.
// The sequence is always terminated by exactly one Done event unless the call
// fails, in which case the failure is delivered as a final EventError.
//
// With req.Stream unset the call is buffered and the event sequence is
// synthesized: one Delta with the full content, one Meta if usage or timing
// fields are present, then Done.
func (c *Client) Stream(ctx context.Context, req ChatRequest) (Stream, error) {
	if !req.Stream {
		return newEventStream(ctx, func(ctx context.Context, events chan<- Event) error {
			resp, err := c.Complete(ctx, req)
			if err != nil {
				return err
			}
			content := ""
			if len(resp.Choices) > 0 && resp.Choices[0].Message != nil {
				content = resp.Choices[0].Message.Content
			}
			events <- Event{Type: EventDelta, Delta: content}
			if meta := metaFrom(resp); meta != nil {
				events <- Event{Type: EventMeta, Meta: meta}
			}
			events <- Event{Type: EventDone}
			return nil
		}), nil
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	// The HTTP call happens inside the producer goroutine so resp.Body is
	// owned by the goroutine that reads and closes it.
	return newEventStream(ctx, func(ctx context.Context, events chan<- Event) error {
		httpReq, err := c.newRequest(ctx, body)
		if err != nil {
			return err
		}
		httpReq.Header.Set("Accept", "text/event-stream")

		resp, err := c.httpClient().Do(httpReq)
		if err != nil {
			return fmt.Errorf("completion request failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return &HTTPError{StatusCode: resp.StatusCode, Body: readBodyText(resp.Body)}
		}
		if resp.Body == nil || resp.Body == http.NoBody {
			return fmt.Errorf("streaming response has no readable body")
		}

		return decodeSSE(resp.Body, events)
	}), nil
}

// decodeSSE reads newline-delimited "data: <json-or-sentinel>" lines and
// emits normalized events. The scanner retains any trailing partial line
// across reads, so chunk fragmentation never splits a payload.
func decodeSSE(r io.Reader, events chan<- Event) error {
	scanner := bufio.NewScanner(r)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" {
			continue
		}
		if data == doneSentinel {
			// Unconditional terminator: stop reading even if bytes remain.
			events <- Event{Type: EventDone}
			return nil
		}

		var chunk ChatResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			// Heartbeats and other non-JSON payloads are skipped.
			continue
		}

		if text := chunk.Content(); text != "" {
			events <- Event{Type: EventDelta, Delta: text}
		}
		if meta := metaFrom(&chunk); meta != nil {
			events <- Event{Type: EventMeta, Meta: meta}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read stream: %w", err)
	}

	// Transport ended without an explicit terminator.
	events <- Event{Type: EventDone}
	return nil
}

func metaFrom(resp *ChatResponse) *Meta {
	if resp.Usage == nil && resp.TimeInfo == nil {
		return nil
	}
	return &Meta{Model: resp.Model, Usage: resp.Usage, TimeInfo: resp.TimeInfo}
}

func readBodyText(r io.Reader) string {
	body, err := io.ReadAll(io.LimitReader(r, 64*1024))
	if err != nil {
		return ""
	}
	return string(body)
}
