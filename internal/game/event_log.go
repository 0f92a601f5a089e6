package game

import (
	"encoding/json"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

const (
	EventBufferSize    = 1024                   // Pending events before new ones are dropped
	EventRecentSize    = 128                    // Events kept in memory for the API
	MaxEventsPerSec    = 2000                   // Global rate limit
	BatchFlushInterval = 100 * time.Millisecond // How often pending events hit the file
)

// EventLog is a bounded, rate-limited, append-only JSONL log of lobby and
// round events. Emit never blocks the caller: when the limiter or the
// buffer is exhausted the event is counted as dropped.
type EventLog struct {
	limiter *rate.Limiter
	pending chan Event
	seq     atomic.Uint64

	recentMu sync.Mutex
	recent   []Event
	next     int

	writerWg sync.WaitGroup
	stopChan chan struct{}
	stopOnce sync.Once
	running  atomic.Bool
	file     *os.File

	dropped atomic.Uint64
	total   atomic.Uint64
}

// NewEventLog creates an event log. Events are kept in memory only until
// Start opens a file.
func NewEventLog() *EventLog {
	return &EventLog{
		limiter:  rate.NewLimiter(MaxEventsPerSec, MaxEventsPerSec/10),
		pending:  make(chan Event, EventBufferSize),
		recent:   make([]Event, 0, EventRecentSize),
		stopChan: make(chan struct{}),
	}
}

// Start begins the async writer. An empty path keeps the log in memory.
func (el *EventLog) Start(filePath string) error {
	if el.running.Load() {
		return nil
	}

	if filePath != "" {
		file, err := os.OpenFile(filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return err
		}
		el.file = file
	}

	el.running.Store(true)
	el.writerWg.Add(1)
	go el.writerLoop()
	return nil
}

// Stop flushes pending events and closes the file.
func (el *EventLog) Stop() {
	el.stopOnce.Do(func() {
		if !el.running.Load() {
			return
		}
		el.running.Store(false)
		close(el.stopChan)
		el.writerWg.Wait()
		if el.file != nil {
			el.file.Close()
		}
	})
}

// Emit records an event. Returns false if it was rate limited or the buffer was full.
func (el *EventLog) Emit(event Event) bool {
	if !el.limiter.Allow() {
		el.dropped.Add(1)
		return false
	}

	event.Sequence = el.seq.Add(1)
	el.remember(event)
	el.total.Add(1)

	if !el.running.Load() {
		return true
	}
	select {
	case el.pending <- event:
		return true
	default:
		el.dropped.Add(1)
		return false
	}
}

// EmitSimple builds and emits an event.
func (el *EventLog) EmitSimple(eventType EventType, tick uint64, playerID string, payload any) bool {
	return el.Emit(NewEvent(eventType, tick, playerID, payload))
}

func (el *EventLog) remember(event Event) {
	el.recentMu.Lock()
	defer el.recentMu.Unlock()

	if len(el.recent) < EventRecentSize {
		el.recent = append(el.recent, event)
		return
	}
	el.recent[el.next] = event
	el.next = (el.next + 1) % EventRecentSize
}

// Recent returns up to n of the most recent events, oldest first.
func (el *EventLog) Recent(n int) []Event {
	el.recentMu.Lock()
	defer el.recentMu.Unlock()

	ordered := make([]Event, 0, len(el.recent))
	ordered = append(ordered, el.recent[el.next:]...)
	ordered = append(ordered, el.recent[:el.next]...)
	if n > 0 && n < len(ordered) {
		ordered = ordered[len(ordered)-n:]
	}
	return ordered
}

func (el *EventLog) writerLoop() {
	defer el.writerWg.Done()

	ticker := time.NewTicker(BatchFlushInterval)
	defer ticker.Stop()

	var enc *json.Encoder
	if el.file != nil {
		enc = json.NewEncoder(el.file)
	}
	drain := func() {
		for {
			select {
			case ev := <-el.pending:
				if enc != nil {
					enc.Encode(ev)
				}
			default:
				return
			}
		}
	}

	for {
		select {
		case <-el.stopChan:
			drain()
			return
		case <-ticker.C:
			drain()
		}
	}
}

// GetStats returns counters for monitoring.
func (el *EventLog) GetStats() map[string]interface{} {
	return map[string]interface{}{
		"total":   el.total.Load(),
		"dropped": el.dropped.Load(),
		"pending": len(el.pending),
		"running": el.running.Load(),
	}
}

// TotalCount returns the number of events accepted.
func (el *EventLog) TotalCount() uint64 {
	return el.total.Load()
}

// DroppedCount returns the number of dropped events.
func (el *EventLog) DroppedCount() uint64 {
	return el.dropped.Load()
}
