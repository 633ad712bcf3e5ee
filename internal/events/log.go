package events

import (
	"sort"
	"sync"

	"github.com/example/ride-escrow/internal/ledger"
)

// Log keeps the most recent events for polling clients.
type Log struct {
	mu     sync.RWMutex
	events []ledger.Event
	max    int
}

func NewLog(max int) *Log {
	if max <= 0 {
		max = 10_000
	}
	return &Log{max: max}
}

func (l *Log) Append(ev ledger.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
	if over := len(l.events) - l.max; over > 0 {
		l.events = append(l.events[:0:0], l.events[over:]...)
	}
}

// After returns up to limit events with Seq greater than seq, oldest first.
func (l *Log) After(seq uint64, limit int) []ledger.Event {
	l.mu.RLock()
	defer l.mu.RUnlock()
	i := sort.Search(len(l.events), func(i int) bool { return l.events[i].Seq > seq })
	end := len(l.events)
	if limit > 0 && i+limit < end {
		end = i + limit
	}
	out := make([]ledger.Event, end-i)
	copy(out, l.events[i:end])
	return out
}

// Last is the highest sequence number seen, 0 when empty.
func (l *Log) Last() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.events) == 0 {
		return 0
	}
	return l.events[len(l.events)-1].Seq
}
