// Package eventbus turns the registry's returned Delivery slices into
// actual per-subscriber channels. The registry only reports who should
// receive what (the event fan-out rule note: mutation is the source of
// truth, delivery is best-effort-per-subscriber); Bus is the transport.
package eventbus

import (
	"sync"

	"github.com/stacksupervisor/stacksupervisor/internal/logging"
	"github.com/stacksupervisor/stacksupervisor/internal/registry"
)

// Bus fans registry.Delivery values out to buffered per-subscriber
// channels. A slow or absent subscriber never blocks the mutation that
// produced the event: a full channel drops the event and logs it.
type Bus struct {
	mu   sync.Mutex
	subs map[string]chan registry.Event
}

func New() *Bus {
	return &Bus{subs: map[string]chan registry.Event{}}
}

// Register allocates a subscriber's delivery channel. bufSize bounds how
// far a subscriber can lag before events are dropped for it.
func (b *Bus) Register(subscriberID string, bufSize int) <-chan registry.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan registry.Event, bufSize)
	b.subs[subscriberID] = ch
	return ch
}

// Remove closes and forgets a subscriber's channel.
func (b *Bus) Remove(subscriberID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subs[subscriberID]; ok {
		close(ch)
		delete(b.subs, subscriberID)
	}
}

// Dispatch delivers every entry in deliveries to its subscriber's channel,
// best-effort: a subscriber with no registered channel is skipped silently,
// and one whose channel is full has the event dropped with a warning logged,
// rather than blocking the caller.
func (b *Bus) Dispatch(deliveries []registry.Delivery) {
	log := logging.With("eventbus")
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, d := range deliveries {
		ch, ok := b.subs[d.SubscriberID]
		if !ok {
			continue
		}
		select {
		case ch <- d.Event:
		default:
			log.Warn("dropping event for slow subscriber", "subscriber", d.SubscriberID, "kind", d.Event.Kind)
		}
	}
}
