package model

import (
	"context"
	"sync"
)

// Script describes one scripted stream served by MockModel.
type Script struct {
	// Deltas are yielded in order; empty strings are skipped like empty
	// provider deltas.
	Deltas []string
	// Err terminates the stream after all deltas were yielded.
	Err error
	// WaitForCancel blocks after the deltas until ctx is cancelled and then
	// fails with AbortError.
	WaitForCancel bool
	// OnStart runs when the consumer first calls Next.
	OnStart func()
}

// MockModel is a lightweight in-memory Model useful for tests & examples.
// Each Stream call consumes the next queued Script; once the queue is empty
// it serves empty, successful streams.
type MockModel struct {
	mu       sync.Mutex
	info     Info
	scripts  []Script
	requests []Request
}

// NewMockModel constructs an empty MockModel.
func NewMockModel(name string) *MockModel {
	return &MockModel{info: Info{Name: name, Provider: "mock"}}
}

// AddStream queues a successful stream yielding deltas.
func (m *MockModel) AddStream(deltas ...string) *MockModel {
	return m.AddScript(Script{Deltas: deltas})
}

// AddScript queues an arbitrary script.
func (m *MockModel) AddScript(s Script) *MockModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scripts = append(m.scripts, s)

	return m
}

// Requests returns a copy of all requests received so far.
func (m *MockModel) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, len(m.requests))
	copy(out, m.requests)

	return out
}

// Calls returns the number of Stream invocations.
func (m *MockModel) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.requests)
}

// Stream implements Model.
func (m *MockModel) Stream(ctx context.Context, req Request) Stream {
	m.mu.Lock()
	defer m.mu.Unlock()

	req.History = append([]Message(nil), req.History...)
	m.requests = append(m.requests, req)

	var script Script
	if len(m.scripts) > 0 {
		script = m.scripts[0]
		m.scripts = m.scripts[1:]
	}

	return &mockStream{ctx: ctx, script: script}
}

// Info implements Model.
func (m *MockModel) Info() Info { return m.info }

type mockStream struct {
	ctx     context.Context
	script  Script
	idx     int
	started bool
	done    bool
	current string
	err     error
}

func (s *mockStream) Next() bool {
	if s.done {
		return false
	}
	if !s.started {
		s.started = true
		if s.script.OnStart != nil {
			s.script.OnStart()
		}
	}

	if err := s.ctx.Err(); err != nil {
		return s.finish(&AbortError{Err: err})
	}

	for s.idx < len(s.script.Deltas) {
		d := s.script.Deltas[s.idx]
		s.idx++
		if d == "" {
			continue
		}
		s.current = d

		return true
	}

	if s.script.WaitForCancel {
		<-s.ctx.Done()
		return s.finish(&AbortError{Err: s.ctx.Err()})
	}

	return s.finish(s.script.Err)
}

func (s *mockStream) finish(err error) bool {
	s.done = true
	s.current = ""
	s.err = err

	return false
}

func (s *mockStream) Current() string { return s.current }
func (s *mockStream) Err() error      { return s.err }
func (s *mockStream) Close() error    { return nil }
