package synth

import (
	"sync/atomic"

	"github.com/cbegin/wtsynth-go/internal/voice"
)

const queueSize = 256

type EventType uint8

const (
	EventNoteOn EventType = iota
	EventNoteOff
	EventAllNotesOff
)

// Event is a note command passed from the control thread to the audio
// thread. For EventNoteOff only ID and Note.Offset are used.
type Event struct {
	Type EventType
	ID   int
	Note voice.Note
}

// queue is a bounded single-producer single-consumer ring. The producer
// owns tail, the consumer owns head.
type queue struct {
	buf  [queueSize]Event
	head atomic.Uint64
	tail atomic.Uint64
}

// push returns false when the ring is full.
func (q *queue) push(e Event) bool {
	t := q.tail.Load()
	if t-q.head.Load() >= queueSize {
		return false
	}
	q.buf[t%queueSize] = e
	q.tail.Store(t + 1)
	return true
}

func (q *queue) pop() (Event, bool) {
	h := q.head.Load()
	if h == q.tail.Load() {
		return Event{}, false
	}
	e := q.buf[h%queueSize]
	q.head.Store(h + 1)
	return e, true
}

func (q *queue) len() int { return int(q.tail.Load() - q.head.Load()) }
