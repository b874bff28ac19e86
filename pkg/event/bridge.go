package event

import (
	"time"
)

// Bridge is the single hand-off between the gateway callback goroutine and
// the execution goroutine. It is the only piece of shared mutable state in
// the whole system; everything else follows single-writer discipline on the
// execution goroutine.
type Bridge struct {
	ch chan Event
}

// NewBridge creates a bridge with the given queue capacity.
func NewBridge(size int) *Bridge {
	return &Bridge{ch: make(chan Event, size)}
}

// Put enqueues an event from the gateway goroutine. Blocks when the queue
// is full rather than dropping: order and trade callbacks must never be
// lost, and FIFO order must hold.
func (b *Bridge) Put(e Event) {
	b.ch <- e
}

// TryPut enqueues without blocking and reports whether the event was
// accepted. For events the execution goroutine feeds back to itself
// (persistence triggers): a blocking Put there would deadlock the loop
// against a full queue it alone drains, and a dropped trigger just fires
// on the next heartbeat.
func (b *Bridge) TryPut(e Event) bool {
	select {
	case b.ch <- e:
		return true
	default:
		return false
	}
}

// Len returns the number of queued events.
func (b *Bridge) Len() int {
	return len(b.ch)
}

// Poll blocks up to timeout for the first event, then drains everything
// immediately available and returns the batch after coalescing. A nil
// batch means the timeout elapsed — the caller uses that as its heartbeat
// for time-based housekeeping.
func (b *Bridge) Poll(timeout time.Duration) []Event {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var events []Event
	select {
	case e := <-b.ch:
		events = append(events, e)
	case <-timer.C:
		return nil
	}

	for {
		select {
		case e := <-b.ch:
			events = append(events, e)
		default:
			return coalesce(events)
		}
	}
}

// coalesce collapses redundant same-key events within one batch, keeping
// only the most recent: ticks per instrument and persistence triggers.
// Order, trade and account events are never coalesced — each one is a
// distinct state transition.
func coalesce(events []Event) []Event {
	if len(events) <= 1 {
		return events
	}

	seen := make(map[string]bool)
	kept := make([]Event, 0, len(events))

	// Walk newest-first so the retained tick per key is the latest one.
	for i := len(events) - 1; i >= 0; i-- {
		e := events[i]
		switch e.Type {
		case Tick:
			key := "tick." + e.TickData.Symbol
			if seen[key] {
				continue
			}
			seen[key] = true
		case DoPersist:
			if seen["persist"] {
				continue
			}
			seen["persist"] = true
		}
		kept = append(kept, e)
	}

	// Restore enqueue order.
	for i, j := 0, len(kept)-1; i < j; i, j = i+1, j-1 {
		kept[i], kept[j] = kept[j], kept[i]
	}
	return kept
}
