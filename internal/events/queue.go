package events

import "sync"

// Sink receives flushed events. Publish must not block.
type Sink interface {
	Publish(Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

func (f SinkFunc) Publish(e Event) { f(e) }

// Queue buffers events raised during an operation and releases them at the
// operation boundary. It keeps a bounded history of flushed events.
type Queue struct {
	mu      sync.Mutex
	seq     uint64
	pending []Event
	recent  []Event
	limit   int
	sinks   []Sink
}

// NewQueue creates a queue that remembers up to limit flushed events.
func NewQueue(limit int) *Queue {
	return &Queue{limit: limit}
}

// Emit buffers an event until the next Flush.
func (q *Queue) Emit(tick uint64, typ Type, data any) {
	q.mu.Lock()
	q.pending = append(q.pending, Event{Tick: tick, Type: typ, Data: data})
	q.mu.Unlock()
}

// Discard drops buffered events.
func (q *Queue) Discard() {
	q.mu.Lock()
	q.pending = nil
	q.mu.Unlock()
}

// Subscribe registers a sink for flushed events.
func (q *Queue) Subscribe(s Sink) {
	q.mu.Lock()
	q.sinks = append(q.sinks, s)
	q.mu.Unlock()
}

// Flush sequences buffered events, records them and publishes them to every
// sink. It returns the flushed events.
func (q *Queue) Flush() []Event {
	q.mu.Lock()
	out := q.pending
	q.pending = nil
	for i := range out {
		q.seq++
		out[i].Seq = q.seq
	}
	q.recent = append(q.recent, out...)
	if over := len(q.recent) - q.limit; q.limit > 0 && over > 0 {
		q.recent = append([]Event(nil), q.recent[over:]...)
	}
	sinks := append([]Sink(nil), q.sinks...)
	q.mu.Unlock()

	for _, e := range out {
		for _, s := range sinks {
			s.Publish(e)
		}
	}
	return out
}

// Recent returns up to n of the most recently flushed events, oldest first.
func (q *Queue) Recent(n int) []Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	if n <= 0 || n > len(q.recent) {
		n = len(q.recent)
	}
	return append([]Event(nil), q.recent[len(q.recent)-n:]...)
}

// Since returns flushed events with Seq greater than seq that are still held.
func (q *Queue) Since(seq uint64) []Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []Event
	for _, e := range q.recent {
		if e.Seq > seq {
			out = append(out, e)
		}
	}
	return out
}
