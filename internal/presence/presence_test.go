package presence

import (
	"context"
	"testing"
	"time"

	"skytalk/internal/models"
	"skytalk/internal/storage"

	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

func newRegistry() (*Registry, *fakeClock) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	return New(Config{Store: storage.NewMemoryStore(), Now: clock.Now}), clock
}

func userIDs(entries []models.PresenceEntry) []string {
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.UserID
	}
	return ids
}

func TestRegistry_LiveSnapshotFiltersStale(t *testing.T) {
	ctx := context.Background()
	r, clock := newRegistry()

	require.NoError(t, r.Upsert(ctx, "hanoi", models.Identity{ID: "u1", DisplayName: "Minh"}))

	live, err := r.LiveSnapshot(ctx, "hanoi", 5*time.Second)
	require.NoError(t, err)
	require.Equal(t, []string{"u1"}, userIDs(live))

	clock.Advance(6 * time.Second)

	live, err = r.LiveSnapshot(ctx, "hanoi", 5*time.Second)
	require.NoError(t, err)
	require.Empty(t, live)

	all, err := r.Snapshot(ctx, "hanoi")
	require.NoError(t, err)
	require.Equal(t, []string{"u1"}, userIDs(all), "unfiltered snapshot keeps the stale entry")
}

func TestRegistry_UpsertRefreshes(t *testing.T) {
	ctx := context.Background()
	r, clock := newRegistry()

	require.NoError(t, r.Upsert(ctx, "hanoi", models.Identity{ID: "u1", DisplayName: "Old"}))
	clock.Advance(4 * time.Second)
	require.NoError(t, r.Upsert(ctx, "hanoi", models.Identity{ID: "u1", DisplayName: "New", AvatarURL: "/a.png"}))
	clock.Advance(4 * time.Second)

	live, err := r.LiveSnapshot(ctx, "hanoi", 5*time.Second)
	require.NoError(t, err)
	require.Len(t, live, 1)
	require.Equal(t, "New", live[0].DisplayName)
	require.Equal(t, "/a.png", live[0].AvatarURL)
	require.Equal(t, clock.now.Add(-4*time.Second).UnixMilli(), live[0].LastHeartbeatAt)
}

func TestRegistry_Remove(t *testing.T) {
	ctx := context.Background()
	r, _ := newRegistry()

	require.NoError(t, r.Upsert(ctx, "hanoi", models.Identity{ID: "u1"}))
	require.NoError(t, r.Upsert(ctx, "hanoi", models.Identity{ID: "u2"}))
	require.NoError(t, r.Upsert(ctx, "da-nang", models.Identity{ID: "u1"}))

	require.NoError(t, r.Remove(ctx, "hanoi", "u1"))
	require.NoError(t, r.Remove(ctx, "hanoi", "u1"))
	require.NoError(t, r.Remove(ctx, "ha-giang", "nobody"))

	all, err := r.Snapshot(ctx, "hanoi")
	require.NoError(t, err)
	require.Equal(t, []string{"u2"}, userIDs(all))

	other, err := r.Snapshot(ctx, "da-nang")
	require.NoError(t, err)
	require.Equal(t, []string{"u1"}, userIDs(other), "rooms are independent")
}

func TestRegistry_Validation(t *testing.T) {
	r, _ := newRegistry()
	err := r.Upsert(context.Background(), "hanoi", models.Identity{})
	require.ErrorIs(t, err, models.ErrValidation)
}

func TestSweeper(t *testing.T) {
	ctx := context.Background()
	r, clock := newRegistry()

	require.NoError(t, r.Upsert(ctx, "hanoi", models.Identity{ID: "ghost"}))
	require.NoError(t, r.Upsert(ctx, "can-tho", models.Identity{ID: "ghost"}))
	clock.Advance(20 * time.Second)
	require.NoError(t, r.Upsert(ctx, "hanoi", models.Identity{ID: "alive"}))

	s := NewSweeper(r, SweeperConfig{Interval: time.Minute, Window: 10 * time.Second, Rooms: []string{"hanoi", "ha-giang"}})
	require.Equal(t, 2, s.SweepAll(ctx))

	all, err := r.Snapshot(ctx, "hanoi")
	require.NoError(t, err)
	require.Equal(t, []string{"alive"}, userIDs(all))

	all, err = r.Snapshot(ctx, "can-tho")
	require.NoError(t, err)
	require.Empty(t, all)

	require.Equal(t, 0, s.SweepAll(ctx))
	require.Equal(t, []string{"can-tho", "hanoi"}, r.Rooms())
}

func TestSweeper_RunStopsWithContext(t *testing.T) {
	r, _ := newRegistry()
	s := NewSweeper(r, SweeperConfig{Interval: 5 * time.Millisecond, Window: time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}
