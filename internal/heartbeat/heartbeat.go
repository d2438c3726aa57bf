package heartbeat

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"skytalk/internal/models"
)

// DefaultInterval is how often a present client refreshes its presence entry.
const DefaultInterval = 10 * time.Second

// Registry is the part of the presence registry the scheduler drives.
type Registry interface {
	Upsert(ctx context.Context, roomID string, identity models.Identity) error
	Remove(ctx context.Context, roomID, userID string) error
}

type run struct {
	roomID   string
	identity models.Identity
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}

	// previous is the run this one replaced; it must finish its Remove first.
	previous <-chan struct{}
}

// Scheduler keeps one (room, identity) presence entry fresh.
// It is either stopped or running exactly one heartbeat.
type Scheduler struct {
	registry Registry
	current  *run
	last     *run
	mu       sync.Mutex
}

func New(registry Registry) *Scheduler {
	return &Scheduler{registry: registry}
}

// Start upserts the presence entry right away and then every interval until Stop.
// A heartbeat that is already running is stopped first, and the new one begins
// only after the old one removed its entry.
// Failed upserts are logged and do not stop the ticking.
func (s *Scheduler) Start(ctx context.Context, roomID string, identity models.Identity, interval time.Duration) error {
	if roomID == "" || identity.ID == "" {
		return fmt.Errorf("%w: room and user id are required", models.ErrValidation)
	}
	if interval <= 0 {
		return fmt.Errorf("%w: heartbeat interval must be positive", models.ErrValidation)
	}

	runCtx, cancel := context.WithCancel(ctx)
	r := &run{
		roomID:   roomID,
		identity: identity,
		ctx:      runCtx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	s.mu.Lock()
	if s.last != nil {
		r.previous = s.last.done
	}
	s.stopLocked()
	s.current = r
	s.last = r
	s.mu.Unlock()

	go s.loop(r, interval)

	return nil
}

// Stop cancels the heartbeat without waiting for it. The heartbeat goroutine
// then removes the presence entry exactly once. Stop is a no-op when nothing
// is running, so it is safe to defer unconditionally and to call from any goroutine.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopLocked()
}

func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.current != nil
}

// Done is closed once the most recently started heartbeat has stopped and
// removed its entry. It is already closed when Start was never called.
func (s *Scheduler) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.last == nil {
		done := make(chan struct{})
		close(done)
		return done
	}
	return s.last.done
}

func (s *Scheduler) stopLocked() {
	if s.current == nil {
		return
	}
	s.current.cancel()
	s.current = nil
}

func (s *Scheduler) loop(r *run, interval time.Duration) {
	defer close(r.done)
	defer s.remove(r)

	// The replaced run is already canceled; waiting keeps removes and
	// upserts of consecutive runs in order.
	if r.previous != nil {
		<-r.previous
	}

	if r.ctx.Err() != nil {
		return
	}
	s.beat(r)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			s.beat(r)
		}
	}
}

func (s *Scheduler) beat(r *run) {
	if err := s.registry.Upsert(r.ctx, r.roomID, r.identity); err != nil {
		slog.Warn("heartbeat failed", "room_id", r.roomID, "user_id", r.identity.ID, "error", err)
	}
}

// remove runs on the heartbeat goroutine after its last tick, so no upsert can follow it.
func (s *Scheduler) remove(r *run) {
	if err := s.registry.Remove(context.WithoutCancel(r.ctx), r.roomID, r.identity.ID); err != nil {
		slog.Error("failed to remove presence", "room_id", r.roomID, "user_id", r.identity.ID, "error", err)
	}
}
