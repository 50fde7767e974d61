package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func sseServer(t *testing.T, lines ...string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path=%q, want /chat/completions", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("authorization=%q", got)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, line := range lines {
			fmt.Fprintf(w, "%s\n", line)
			flusher.Flush()
		}
	}))
}

func collect(t *testing.T, stream Stream) []Event {
	t.Helper()
	var events []Event
	for {
		event, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return events
		}
		if err != nil {
			t.Fatalf("recv: %v", err)
		}
		events = append(events, event)
	}
}

func TestStreamDeltasAndMeta(t *testing.T) {
	srv := sseServer(t,
		`data: {"choices":[{"delta":{"content":"Hel"}}]}`,
		``,
		`data: {"choices":[{"delta":{"content":"lo"}}]}`,
		`data: {"model":"llama3.1-8b","choices":[{"delta":{}}],"usage":{"prompt_tokens":3,"completion_tokens":2,"total_tokens":5},"time_info":{"total_time":0.25}}`,
		`data: [DONE]`,
	)
	defer srv.Close()

	client := NewClient(srv.URL, "test-key")
	stream, err := client.Stream(context.Background(), ChatRequest{Model: "llama3.1-8b", Stream: true})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	defer stream.Close()

	events := collect(t, stream)
	if len(events) != 4 {
		t.Fatalf("got %d events, want 4: %+v", len(events), events)
	}
	if events[0].Type != EventDelta || events[0].Delta != "Hel" {
		t.Fatalf("event 0 = %+v", events[0])
	}
	if events[1].Type != EventDelta || events[1].Delta != "lo" {
		t.Fatalf("event 1 = %+v", events[1])
	}
	meta := events[2]
	if meta.Type != EventMeta || meta.Meta == nil {
		t.Fatalf("event 2 = %+v", meta)
	}
	if meta.Meta.Model != "llama3.1-8b" {
		t.Fatalf("meta model=%q", meta.Meta.Model)
	}
	if meta.Meta.Usage == nil || meta.Meta.Usage.TotalTokens != 5 {
		t.Fatalf("meta usage=%+v", meta.Meta.Usage)
	}
	if meta.Meta.TimeInfo == nil || meta.Meta.TimeInfo.TotalTime != 0.25 {
		t.Fatalf("meta time_info=%+v", meta.Meta.TimeInfo)
	}
	if events[3].Type != EventDone {
		t.Fatalf("event 3 = %+v", events[3])
	}
}

func TestStreamStopsAtSentinel(t *testing.T) {
	srv := sseServer(t,
		`data: {"choices":[{"delta":{"content":"done"}}]}`,
		`data: [DONE]`,
		`data: {"choices":[{"delta":{"content":"ignored"}}]}`,
	)
	defer srv.Close()

	client := NewClient(srv.URL, "test-key")
	stream, err := client.Stream(context.Background(), ChatRequest{Stream: true})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	defer stream.Close()

	events := collect(t, stream)
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2: %+v", len(events), events)
	}
	if events[0].Delta != "done" || events[1].Type != EventDone {
		t.Fatalf("events = %+v", events)
	}
}

func TestStreamSkipsMalformedLines(t *testing.T) {
	srv := sseServer(t,
		`data: {not json`,
		`: heartbeat comment`,
		`data: {"choices":[{"delta":{"content":"ok"}}]}`,
		`data: [DONE]`,
	)
	defer srv.Close()

	client := NewClient(srv.URL, "test-key")
	stream, err := client.Stream(context.Background(), ChatRequest{Stream: true})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	defer stream.Close()

	events := collect(t, stream)
	if len(events) != 2 || events[0].Delta != "ok" {
		t.Fatalf("events = %+v", events)
	}
}

func TestStreamSyntheticDoneWithoutSentinel(t *testing.T) {
	srv := sseServer(t,
		`data: {"choices":[{"delta":{"content":"partial"}}]}`,
	)
	defer srv.Close()

	client := NewClient(srv.URL, "test-key")
	stream, err := client.Stream(context.Background(), ChatRequest{Stream: true})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	defer stream.Close()

	events := collect(t, stream)
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2: %+v", len(events), events)
	}
	if events[1].Type != EventDone {
		t.Fatalf("final event = %+v", events[1])
	}
}

func TestStreamReassemblesFragmentedLines(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		// One data line delivered across three flushes.
		io.WriteString(w, `data: {"choices":[{"del`)
		flusher.Flush()
		io.WriteString(w, `ta":{"content":"whole"`)
		flusher.Flush()
		io.WriteString(w, "}}]}\n")
		flusher.Flush()
		io.WriteString(w, "data: [DONE]\n")
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "test-key")
	stream, err := client.Stream(context.Background(), ChatRequest{Stream: true})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	defer stream.Close()

	events := collect(t, stream)
	if len(events) != 2 || events[0].Delta != "whole" {
		t.Fatalf("events = %+v", events)
	}
}

func TestStreamHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"model not found"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "test-key")
	stream, err := client.Stream(context.Background(), ChatRequest{Stream: true})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	defer stream.Close()

	event, err := stream.Recv()
	if err != nil {
		t.Fatalf("recv: %v", err)
	}
	if event.Type != EventError {
		t.Fatalf("event = %+v, want EventError", event)
	}
	var httpErr *HTTPError
	if !errors.As(event.Err, &httpErr) {
		t.Fatalf("err = %v, want *HTTPError", event.Err)
	}
	if httpErr.StatusCode != http.StatusNotFound {
		t.Fatalf("status=%d", httpErr.StatusCode)
	}
	if !strings.Contains(httpErr.Body, "model not found") {
		t.Fatalf("body=%q", httpErr.Body)
	}

	if _, err := stream.Recv(); !errors.Is(err, io.EOF) {
		t.Fatalf("recv after error = %v, want EOF", err)
	}
}

func TestStreamNonStreamingSynthesis(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"model":"llama3.1-8b","choices":[{"message":{"role":"assistant","content":"Hello there"}}],"usage":{"total_tokens":9}}`)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "test-key")
	stream, err := client.Stream(context.Background(), ChatRequest{Stream: false})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	defer stream.Close()

	events := collect(t, stream)
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3: %+v", len(events), events)
	}
	if events[0].Type != EventDelta || events[0].Delta != "Hello there" {
		t.Fatalf("event 0 = %+v", events[0])
	}
	if events[1].Type != EventMeta || events[1].Meta.Usage.TotalTokens != 9 {
		t.Fatalf("event 1 = %+v", events[1])
	}
	if events[2].Type != EventDone {
		t.Fatalf("event 2 = %+v", events[2])
	}
}

func TestStreamCancellation(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"first\"}}]}\n")
		flusher.Flush()
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	client := NewClient(srv.URL, "test-key")
	stream, err := client.Stream(ctx, ChatRequest{Stream: true})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	defer stream.Close()

	event, err := stream.Recv()
	if err != nil || event.Delta != "first" {
		t.Fatalf("recv = %+v, %v", event, err)
	}

	cancel()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case <-deadline:
			t.Fatal("stream did not terminate after cancel")
		default:
		}
		_, err := stream.Recv()
		if err == nil {
			// Error event raced ahead of ctx; keep draining.
			continue
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
			return
		}
		t.Fatalf("recv after cancel = %v", err)
	}
}

func TestCompleteHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "test-key")
	_, err := client.Complete(context.Background(), ChatRequest{})
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("err = %v, want *HTTPError", err)
	}
	if httpErr.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("status=%d", httpErr.StatusCode)
	}
	if got := httpErr.Error(); !strings.Contains(got, "429") || !strings.Contains(got, "rate limited") {
		t.Fatalf("error text=%q", got)
	}
}

func TestResponseContentPrecedence(t *testing.T) {
	tests := []struct {
		name string
		resp ChatResponse
		want string
	}{
		{
			name: "delta wins over message",
			resp: ChatResponse{Choices: []Choice{{
				Delta:   &ChoiceDelta{Content: "from delta"},
				Message: &ChoiceMessage{Content: "from message"},
			}}},
			want: "from delta",
		},
		{
			name: "message fallback",
			resp: ChatResponse{Choices: []Choice{{Message: &ChoiceMessage{Content: "buffered"}}}},
			want: "buffered",
		},
		{name: "no choices", resp: ChatResponse{}, want: ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.resp.Content(); got != tc.want {
				t.Fatalf("content=%q, want %q", got, tc.want)
			}
		})
	}
}
