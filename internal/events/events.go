// Package events implements the sink abstraction from spec §9(v): a single
// emit(event) method, with a structured-logging default and an in-memory
// recorder substitutable in tests.
package events

import (
	"sync"
	"time"

	"cosmossdk.io/log"
)

// Event names the job and transition an executor step produced, plus an
// optional error for failed transitions.
type Event struct {
	JobID      string
	Kind       string
	FromStatus string
	ToStatus   string
	Step       string
	Err        string
	At         time.Time
}

// Sink is implemented by anything that wants to observe executor progress.
type Sink interface {
	Emit(Event)
}

// LogSink emits every event through a structured logger. It is the default
// sink wired into the executor and scheduler outside of tests.
type LogSink struct {
	logger log.Logger
}

// NewLogSink builds a LogSink over the given logger.
func NewLogSink(logger log.Logger) *LogSink {
	return &LogSink{logger: logger.With("component", "events")}
}

// Emit implements Sink.
func (s *LogSink) Emit(e Event) {
	l := s.logger.With(
		"job_id", e.JobID,
		"kind", e.Kind,
		"from", e.FromStatus,
		"to", e.ToStatus,
		"step", e.Step,
	)
	if e.Err != "" {
		l.Error("job transition failed", "err", e.Err)
		return
	}
	l.Info("job transition")
}

// Recorder is an in-memory Sink for tests: it keeps every event it has seen
// in arrival order, guarded by a mutex since the executor may emit from
// multiple goroutines concurrently.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// NewRecorder returns an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Emit implements Sink.
func (r *Recorder) Emit(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a snapshot of every event recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Last returns the most recently recorded event, or the zero Event if none
// have been recorded.
func (r *Recorder) Last() Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		return Event{}
	}
	return r.events[len(r.events)-1]
}
