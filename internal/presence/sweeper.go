package presence

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper periodically drops presence entries whose heartbeat expired,
// so clients that vanished without leaving do not stay online forever.
type Sweeper struct {
	registry *Registry
	interval time.Duration
	window   time.Duration
	rooms    []string
}

type SweeperConfig struct {
	Interval time.Duration
	Window   time.Duration

	// Rooms are always swept, in addition to rooms seen by the registry.
	Rooms []string
}

func NewSweeper(registry *Registry, config SweeperConfig) *Sweeper {
	return &Sweeper{
		registry: registry,
		interval: config.Interval,
		window:   config.Window,
		rooms:    config.Rooms,
	}
}

func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.SweepAll(ctx)
		}
	}
}

// SweepAll sweeps every known room once and returns the number of removed entries.
// A failing room is logged and skipped.
func (s *Sweeper) SweepAll(ctx context.Context) int {
	seen := make(map[string]bool)
	total := 0
	for _, roomID := range append(append([]string(nil), s.rooms...), s.registry.Rooms()...) {
		if seen[roomID] {
			continue
		}
		seen[roomID] = true

		n, err := s.registry.Sweep(ctx, roomID, s.window)
		if err != nil {
			slog.Error("presence sweep failed", "room_id", roomID, "error", err)
			continue
		}
		if n > 0 {
			slog.Info("expired presence entries removed", "room_id", roomID, "count", n)
		}
		total += n
	}
	return total
}
