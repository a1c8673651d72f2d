package progress

import (
	"sync"
)

// Kind identifies the event type on a run's stream.
type Kind string

const (
	KindStage    Kind = "stage"
	KindLog      Kind = "log"
	KindError    Kind = "error"
	KindComplete Kind = "complete"
)

// Event is one entry on a run's progress stream.
type Event struct {
	Kind Kind   `json:"kind"`
	Data string `json:"data"`
}

// Terminal reports whether the event closes the stream.
func (e Event) Terminal() bool {
	return e.Kind == KindError || e.Kind == KindComplete
}

const runBufferSize = 256

// Broker tracks the progress streams of active pipeline runs.
type Broker struct {
	mu   sync.Mutex
	runs map[string]*Run
}

// NewBroker constructs an empty Broker.
func NewBroker() *Broker {
	return &Broker{runs: make(map[string]*Run)}
}

// Open creates (or replaces) the stream for a run.
func (b *Broker) Open(runID string) *Run {
	run := &Run{ch: make(chan Event, runBufferSize)}
	b.mu.Lock()
	b.runs[runID] = run
	b.mu.Unlock()
	return run
}

// Get returns the stream for a run if it is still active.
func (b *Broker) Get(runID string) (*Run, bool) {
	b.mu.Lock()
	run, ok := b.runs[runID]
	b.mu.Unlock()
	return run, ok
}

// Remove forgets a run's stream. Called after the terminal event is
// published; late subscribers simply find no active run.
func (b *Broker) Remove(runID string) {
	b.mu.Lock()
	delete(b.runs, runID)
	b.mu.Unlock()
}

// Run is a single-producer progress stream for one pipeline run. The buffer
// is sized for a full run; should a consumer stall, the oldest buffered
// event is dropped so the producer never blocks. The terminal event is the
// last event on the channel before it closes.
type Run struct {
	mu     sync.Mutex
	ch     chan Event
	closed bool
}

// Stage publishes a stage-changed event.
func (r *Run) Stage(name string) {
	r.publish(Event{Kind: KindStage, Data: name})
}

// Log publishes a log-line event.
func (r *Run) Log(line string) {
	r.publish(Event{Kind: KindLog, Data: line})
}

// Fail publishes the error terminal event and closes the stream.
func (r *Run) Fail(message string) {
	r.terminate(Event{Kind: KindError, Data: message})
}

// Complete publishes the complete terminal event and closes the stream.
func (r *Run) Complete(data string) {
	r.terminate(Event{Kind: KindComplete, Data: data})
}

// Events returns the receive side of the stream. One consumer at a time.
func (r *Run) Events() <-chan Event {
	return r.ch
}

func (r *Run) publish(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.send(ev)
}

func (r *Run) terminate(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.send(ev)
	r.closed = true
	close(r.ch)
}

// send enqueues without blocking, dropping the oldest buffered event when
// the buffer is full. The terminal event cannot be dropped: it is always the
// final send before close.
func (r *Run) send(ev Event) {
	for {
		select {
		case r.ch <- ev:
			return
		default:
			select {
			case <-r.ch:
			default:
			}
		}
	}
}
