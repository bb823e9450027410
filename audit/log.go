package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultRetention is how many events a Log keeps in memory unless told
// otherwise. Older events are only available from durable sinks.
const DefaultRetention = 10000

// Log is the in-memory, append-only event history of one station. It keeps
// the most recent events only; sequence numbers keep counting after older
// events are dropped.
type Log struct {
	mu        sync.RWMutex
	stationID string
	seq       uint64
	retain    int
	events    []Event

	// price in force before the oldest stored event, once price changes
	// have been dropped
	basePrice    uint64
	hasBasePrice bool
}

type LogOption func(*Log)

// WithRetention keeps the last n events. n <= 0 keeps everything.
func WithRetention(n int) LogOption {
	return func(l *Log) {
		l.retain = n
	}
}

// StartAfter continues numbering after lastSeq, e.g. the highest sequence
// number already persisted for the station.
func StartAfter(lastSeq uint64) LogOption {
	return func(l *Log) {
		l.seq = lastSeq
	}
}

func NewLog(stationID string, opts ...LogOption) *Log {
	l := &Log{stationID: stationID, retain: DefaultRetention}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Append stamps the event with id, sequence number and station id and stores it.
func (l *Log) Append(e Event) Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	l.seq++
	e.Seq = l.seq
	e.StationID = l.stationID
	l.events = append(l.events, e)
	l.trim()
	return e
}

// trim drops the oldest events in batches of a quarter of the retention so
// the backing array is not copied on every append.
func (l *Log) trim() {
	if l.retain <= 0 {
		return
	}
	slack := l.retain / 4
	if slack < 1 {
		slack = 1
	}
	if len(l.events) <= l.retain+slack {
		return
	}

	drop := len(l.events) - l.retain
	for _, e := range l.events[:drop] {
		if e.Kind == KindPriceChanged {
			l.basePrice = e.PriceChanged.New
			l.hasBasePrice = true
		}
	}
	l.events = append([]Event(nil), l.events[drop:]...)
}

// visible returns the retained window. Callers hold l.mu.
func (l *Log) visible() []Event {
	if l.retain > 0 && len(l.events) > l.retain {
		return l.events[len(l.events)-l.retain:]
	}
	return l.events
}

// Publish lets a Log act as a Sink for another station's events.
func (l *Log) Publish(_ context.Context, e Event) error {
	l.Append(e)
	return nil
}

// Len reports how many events are retained.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.visible())
}

// LastSeq is the sequence number of the most recent event, retained or not.
func (l *Log) LastSeq() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.seq
}

// Filter selects events. Zero values match everything.
type Filter struct {
	Kinds    []Kind
	Since    time.Time
	AfterSeq uint64
	Limit    int
}

func (f Filter) match(e Event) bool {
	if e.Seq <= f.AfterSeq {
		return false
	}
	if !f.Since.IsZero() && e.At.Before(f.Since) {
		return false
	}
	if len(f.Kinds) == 0 {
		return true
	}
	for _, k := range f.Kinds {
		if k == e.Kind {
			return true
		}
	}
	return false
}

// Events returns a copy of the matching events in sequence order.
func (l *Log) Events(f Filter) []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Event, 0)
	for _, e := range l.visible() {
		if !f.match(e) {
			continue
		}
		out = append(out, e)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out
}

// PriceAt reconstructs the price in force at t from the price history.
// initial is the price the station was created with. Once price changes have
// been dropped, times before the oldest stored event report the last dropped
// price.
func (l *Log) PriceAt(t time.Time, initial uint64) uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()

	price := initial
	if l.hasBasePrice {
		price = l.basePrice
	}
	for _, e := range l.events {
		if e.Kind != KindPriceChanged {
			continue
		}
		if e.At.After(t) {
			break
		}
		price = e.PriceChanged.New
	}
	return price
}
