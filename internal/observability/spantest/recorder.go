// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package spantest provides an in-memory trace.TracerProvider for asserting
// on the spans a package starts.
package spantest

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/embedded"
	"go.opentelemetry.io/otel/trace/noop"
)

// Recorder is a trace.TracerProvider that keeps every span started through
// it. Spans carry no span context, so they never link to a parent.
type Recorder struct {
	embedded.TracerProvider

	mu    sync.Mutex
	spans []*Span
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Tracer implements trace.TracerProvider.
func (r *Recorder) Tracer(name string, _ ...trace.TracerOption) trace.Tracer {
	return &tracer{recorder: r, scope: name}
}

// Ended returns the finished spans called name, oldest first.
func (r *Recorder) Ended(name string) []*Span {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Span
	for _, s := range r.spans {
		if s.name == name && s.Ended() {
			out = append(out, s)
		}
	}
	return out
}

// Find returns the first finished span called name whose attribute key
// holds value.
func (r *Recorder) Find(name string, key attribute.Key, value string) (*Span, bool) {
	for _, s := range r.Ended(name) {
		if v, ok := s.Attr(key); ok && v.Emit() == value {
			return s, true
		}
	}
	return nil, false
}

type tracer struct {
	embedded.Tracer

	recorder *Recorder
	scope    string
}

func (t *tracer) Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	cfg := trace.NewSpanStartConfig(opts...)
	s := &Span{Span: noop.Span{}, name: name, scope: t.scope}
	s.SetAttributes(cfg.Attributes()...)

	t.recorder.mu.Lock()
	t.recorder.spans = append(t.recorder.spans, s)
	t.recorder.mu.Unlock()
	return trace.ContextWithSpan(ctx, s), s
}

// Span is a recorded span.
type Span struct {
	trace.Span

	name  string
	scope string

	mu         sync.Mutex
	attrs      map[attribute.Key]attribute.Value
	status     codes.Code
	statusDesc string
	errs       []error
	ended      bool
}

// Name returns the span name.
func (s *Span) Name() string { return s.name }

// Scope returns the name of the tracer that started the span.
func (s *Span) Scope() string { return s.scope }

// IsRecording reports true until the span ends.
func (s *Span) IsRecording() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.ended
}

// SetAttributes records kv, replacing earlier values for the same keys.
func (s *Span) SetAttributes(kv ...attribute.KeyValue) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.attrs == nil {
		s.attrs = make(map[attribute.Key]attribute.Value, len(kv))
	}
	for _, a := range kv {
		s.attrs[a.Key] = a.Value
	}
}

// SetStatus records the span status.
func (s *Span) SetStatus(code codes.Code, description string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = code
	s.statusDesc = description
}

// RecordError keeps err.
func (s *Span) RecordError(err error, _ ...trace.EventOption) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs = append(s.errs, err)
}

// End marks the span finished.
func (s *Span) End(_ ...trace.SpanEndOption) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ended = true
}

// Ended reports whether End was called.
func (s *Span) Ended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}

// Attr returns the value recorded for key.
func (s *Span) Attr(key attribute.Key) (attribute.Value, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.attrs[key]
	return v, ok
}

// Status returns the recorded status code and description.
func (s *Span) Status() (codes.Code, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status, s.statusDesc
}

// Errors returns every error passed to RecordError.
func (s *Span) Errors() []error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]error(nil), s.errs...)
}
