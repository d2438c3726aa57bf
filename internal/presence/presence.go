package presence

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"skytalk/internal/models"
	"skytalk/internal/storage"
)

// Registry tracks who is in each room. Entries are never expired in place
// on write; readers use LiveSnapshot and a Sweeper removes stale entries.
type Registry struct {
	store storage.KeyValueStore
	now   func() time.Time

	// Set of rooms touched by this process, for the sweeper
	rooms map[string]struct{}
	mu    sync.Mutex
}

type Config struct {
	Store storage.KeyValueStore
	Now   func() time.Time
}

func New(config Config) *Registry {
	now := config.Now
	if now == nil {
		now = time.Now
	}
	return &Registry{
		store: config.Store,
		now:   now,
		rooms: make(map[string]struct{}),
	}
}

// Upsert inserts or refreshes the entry of identity, stamping it with the current time.
func (r *Registry) Upsert(ctx context.Context, roomID string, identity models.Identity) error {
	if roomID == "" || identity.ID == "" {
		return fmt.Errorf("%w: room and user id are required", models.ErrValidation)
	}
	r.track(roomID)

	entry := storage.DBPresence{
		UserID:          identity.ID,
		DisplayName:     identity.DisplayName,
		AvatarURL:       identity.AvatarURL,
		LastHeartbeatAt: r.now().UnixMilli(),
	}

	err := r.update(ctx, roomID, func(set *storage.DBPresenceSet) bool {
		set.Entries[entry.UserID] = entry
		return true
	})
	if err != nil {
		return fmt.Errorf("failed to upsert presence of %s in room %s: %w", identity.ID, roomID, err)
	}
	return nil
}

// Remove deletes the entry of userID. Removing an absent entry is not an error.
func (r *Registry) Remove(ctx context.Context, roomID, userID string) error {
	err := r.update(ctx, roomID, func(set *storage.DBPresenceSet) bool {
		if _, ok := set.Entries[userID]; !ok {
			return false
		}
		delete(set.Entries, userID)
		return true
	})
	if err != nil {
		return fmt.Errorf("failed to remove presence of %s in room %s: %w", userID, roomID, err)
	}
	return nil
}

// Snapshot returns every entry of the room regardless of how old it is.
func (r *Registry) Snapshot(ctx context.Context, roomID string) ([]models.PresenceEntry, error) {
	set, err := r.load(ctx, roomID)
	if err != nil {
		return nil, err
	}
	return set.ToEntries(), nil
}

// LiveSnapshot returns the entries heartbeated within window.
func (r *Registry) LiveSnapshot(ctx context.Context, roomID string, window time.Duration) ([]models.PresenceEntry, error) {
	entries, err := r.Snapshot(ctx, roomID)
	if err != nil {
		return nil, err
	}

	now := r.now()
	live := make([]models.PresenceEntry, 0, len(entries))
	for _, e := range entries {
		if isLive(e.LastHeartbeatAt, now, window) {
			live = append(live, e)
		}
	}
	return live, nil
}

// Sweep removes the entries of the room whose last heartbeat is older than window
// and returns how many were removed.
func (r *Registry) Sweep(ctx context.Context, roomID string, window time.Duration) (int, error) {
	now := r.now()
	removed := 0
	err := r.update(ctx, roomID, func(set *storage.DBPresenceSet) bool {
		removed = 0
		for userID, e := range set.Entries {
			if !isLive(e.LastHeartbeatAt, now, window) {
				delete(set.Entries, userID)
				removed++
			}
		}
		return removed > 0
	})
	if err != nil {
		return 0, fmt.Errorf("failed to sweep room %s: %w", roomID, err)
	}
	return removed, nil
}

// Rooms returns the rooms this registry has seen heartbeats for.
func (r *Registry) Rooms() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	rooms := make([]string, 0, len(r.rooms))
	for id := range r.rooms {
		rooms = append(rooms, id)
	}
	sort.Strings(rooms)
	return rooms
}

func (r *Registry) track(roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rooms[roomID] = struct{}{}
}

func (r *Registry) load(ctx context.Context, roomID string) (*storage.DBPresenceSet, error) {
	data, err := r.store.Get(ctx, storage.PresenceKey(roomID))
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return nil, fmt.Errorf("failed to load presence of room %s: %w", roomID, err)
	}

	set, err := storage.DecodePresenceSet(roomID, data)
	if err != nil {
		return nil, fmt.Errorf("%w: corrupt presence of room %s: %w", models.ErrStorage, roomID, err)
	}
	return set, nil
}

// update applies fn to the stored set; fn reports whether it changed anything.
func (r *Registry) update(ctx context.Context, roomID string, fn func(set *storage.DBPresenceSet) bool) error {
	return r.store.Update(ctx, storage.PresenceKey(roomID), func(current []byte) ([]byte, error) {
		set, err := storage.DecodePresenceSet(roomID, current)
		if err != nil {
			return nil, fmt.Errorf("%w: corrupt presence of room %s: %w", models.ErrStorage, roomID, err)
		}
		if !fn(set) {
			return nil, storage.ErrUnchanged
		}
		if len(set.Entries) == 0 {
			return nil, nil
		}
		return set.MarshalBinary()
	})
}

func isLive(lastHeartbeatAt int64, now time.Time, window time.Duration) bool {
	return now.Sub(time.UnixMilli(lastHeartbeatAt)) < window
}
