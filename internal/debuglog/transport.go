package debuglog

import (
	"context"

	"cerechat/internal/api"
)

// Transport is the completion client surface this package decorates.
type Transport interface {
	Complete(ctx context.Context, req api.ChatRequest) (*api.ChatResponse, error)
	Stream(ctx context.Context, req api.ChatRequest) (api.Stream, error)
}

// Wrap decorates a transport so every request and stream event is logged.
// With a nil logger the inner transport is returned unchanged.
func Wrap(inner Transport, logger *Logger) Transport {
	if logger == nil {
		return inner
	}
	return &loggingTransport{inner: inner, logger: logger}
}

type loggingTransport struct {
	inner  Transport
	logger *Logger
}

func (t *loggingTransport) Complete(ctx context.Context, req api.ChatRequest) (*api.ChatResponse, error) {
	t.logger.LogRequest(req)
	resp, err := t.inner.Complete(ctx, req)
	if err != nil {
		t.logger.LogError(err)
	}
	return resp, err
}

func (t *loggingTransport) Stream(ctx context.Context, req api.ChatRequest) (api.Stream, error) {
	t.logger.LogRequest(req)
	stream, err := t.inner.Stream(ctx, req)
	if err != nil {
		t.logger.LogError(err)
		return nil, err
	}
	return &loggingStream{inner: stream, logger: t.logger}, nil
}

type loggingStream struct {
	inner  api.Stream
	logger *Logger
}

func (s *loggingStream) Recv() (api.Event, error) {
	event, err := s.inner.Recv()
	if err == nil {
		s.logger.LogEvent(event)
	}
	return event, err
}

func (s *loggingStream) Close() error {
	return s.inner.Close()
}
