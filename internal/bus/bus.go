package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"skytalk/internal/models"
)

// Observer receives the full, ordered message list of a room.
// Observers run synchronously on the publishing goroutine and must not
// mutate the same room from inside the callback.
type Observer func(roomID string, messages []models.Message)

// Source provides the current snapshot of a room.
type Source interface {
	Snapshot(ctx context.Context, roomID string) ([]models.Message, error)
}

// Unsubscribe removes an observer. It is safe to call more than once
// and from inside the observer itself.
type Unsubscribe func()

type subscription struct {
	observer Observer
	active   atomic.Bool

	// lastGen is the generation of the newest snapshot delivered;
	// older snapshots arriving late are dropped.
	lastGen uint64
	mux     sync.Mutex
}

// Bus fans room snapshots out to observers.
type Bus struct {
	source Source

	// Map of roomID -> observers in registration order
	rooms map[string][]*subscription

	// Map of roomID -> publish generation
	gens map[string]uint64

	mu sync.RWMutex
}

func New(source Source) *Bus {
	return &Bus{
		source: source,
		rooms:  make(map[string][]*subscription),
		gens:   make(map[string]uint64),
	}
}

// Subscribe registers observer for roomID and delivers the current snapshot
// before returning, so a late subscriber sees existing messages immediately.
func (b *Bus) Subscribe(ctx context.Context, roomID string, observer Observer) (Unsubscribe, error) {
	sub := &subscription{observer: observer}
	sub.active.Store(true)

	b.mu.Lock()
	b.rooms[roomID] = append(b.rooms[roomID], sub)
	gen := b.gens[roomID]
	b.mu.Unlock()

	unsubscribe := func() { b.unsubscribe(roomID, sub) }

	messages, err := b.source.Snapshot(ctx, roomID)
	if err != nil {
		unsubscribe()
		return nil, fmt.Errorf("failed to load snapshot of room %s: %w", roomID, err)
	}
	b.deliver(roomID, sub, gen, messages)

	return unsubscribe, nil
}

// Publish delivers the fresh snapshot of roomID to every registered observer
// in registration order. A panicking observer does not stop the fan-out.
func (b *Bus) Publish(ctx context.Context, roomID string) {
	b.mu.Lock()
	b.gens[roomID]++
	gen := b.gens[roomID]
	subs := make([]*subscription, len(b.rooms[roomID]))
	copy(subs, b.rooms[roomID])
	b.mu.Unlock()

	if len(subs) == 0 {
		return
	}

	messages, err := b.source.Snapshot(ctx, roomID)
	if err != nil {
		slog.Error("publish failed to load snapshot", "room_id", roomID, "error", err)
		return
	}

	for _, sub := range subs {
		b.deliver(roomID, sub, gen, messages)
	}
}

// Count returns the number of observers registered for roomID.
func (b *Bus) Count(roomID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.rooms[roomID])
}

func (b *Bus) deliver(roomID string, sub *subscription, gen uint64, messages []models.Message) {
	sub.mux.Lock()
	defer sub.mux.Unlock()

	if !sub.active.Load() || gen < sub.lastGen {
		return
	}
	sub.lastGen = gen

	defer func() {
		if r := recover(); r != nil {
			slog.Error("observer panicked", "room_id", roomID, "panic", r)
		}
	}()

	// Each observer gets its own copy so it cannot corrupt what others see.
	snapshot := make([]models.Message, len(messages))
	copy(snapshot, messages)
	sub.observer(roomID, snapshot)
}

func (b *Bus) unsubscribe(roomID string, sub *subscription) {
	if !sub.active.CompareAndSwap(true, false) {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.rooms[roomID]
	remaining := make([]*subscription, 0, len(subs))
	for _, s := range subs {
		if s != sub {
			remaining = append(remaining, s)
		}
	}
	if len(remaining) == 0 {
		delete(b.rooms, roomID)
		return
	}
	b.rooms[roomID] = remaining
}
