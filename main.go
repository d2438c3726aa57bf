package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	oshttp "net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"skytalk/internal/api"
	"skytalk/internal/auth"
	"skytalk/internal/chat"
	"skytalk/internal/commands"
	"skytalk/internal/config"
	"skytalk/internal/http"
	"skytalk/internal/presence"
	"skytalk/internal/room"
	"skytalk/internal/rooms"
	"skytalk/internal/storage"
	"skytalk/internal/weather"
	"skytalk/internal/ws"

	"golang.org/x/sync/errgroup"
)

func run(ctx context.Context, args []string) error {
	flags := flag.NewFlagSet("skytalk", flag.ContinueOnError)
	deleteMessage := flags.String("delete-message", "", "Message to remove as a moderator, as room:id (calls the admin API of a running server)")
	if err := flags.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*deleteMessage != "")
	if err != nil {
		return err
	}

	if *deleteMessage != "" {
		return commands.DeleteMessage(*deleteMessage, cfg)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel})))

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	messageLog := chat.New(chat.Config{Store: store, MaxMessages: cfg.MaxMessages})
	registry := presence.New(presence.Config{Store: store})
	sweeper := presence.NewSweeper(registry, presence.SweeperConfig{
		Interval: cfg.SweepInterval,
		Window:   cfg.StalenessWindow,
		Rooms:    rooms.IDs(),
	})

	provider := auth.HeaderProvider{}
	forecasts := weather.Static{}

	streams := ws.NewServer(provider, room.Deps{Log: messageLog, Presence: registry, Weather: forecasts}, ws.Timing{
		HeartbeatInterval: cfg.HeartbeatInterval,
		PollInterval:      cfg.PresencePollInterval,
		StalenessWindow:   cfg.StalenessWindow,
	})
	apiHandlers := api.New(provider, messageLog, registry, forecasts, cfg.StalenessWindow)

	adminServer := http.NewAdminServer(api.NewAdminHandler(messageLog, sweeper), cfg.AdminAddr)
	apiServer := http.NewAPIServer(apiHandlers, streams, cfg.APIAddr)

	g, gCtx := errgroup.WithContext(ctx)

	// Start Admin Server
	g.Go(func() error {
		err := adminServer.Start()
		if err != nil && err != oshttp.ErrServerClosed {
			return err
		}
		return nil
	})

	// Start API Server
	g.Go(func() error {
		err := apiServer.Start()
		if err != nil && err != oshttp.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		return sweeper.Run(gCtx)
	})

	// Wait for context cancellation (signal)
	g.Go(func() error {
		<-gCtx.Done()
		slog.Info("shutting down servers")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := adminServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("admin server shutdown failed", "error", err)
		}
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("api server shutdown failed", "error", err)
		}
		return nil
	})

	return g.Wait()
}

func openStore(cfg *config.Config) (storage.KeyValueStore, error) {
	var store storage.KeyValueStore
	var err error

	switch cfg.Backend {
	case config.BackendBbolt:
		store, err = storage.NewBboltStorage(cfg.DBFile)
	case config.BackendRedis:
		store, err = storage.NewRedisStore(storage.RedisConfig{
			Address:   cfg.RedisAddr,
			Password:  cfg.RedisPassword,
			DB:        cfg.RedisDB,
			KeyPrefix: "skytalk:",
		})
	case config.BackendMemory:
		store = storage.NewMemoryStore()
	default:
		err = fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", cfg.Backend, err)
	}

	slog.Info("store opened", "backend", cfg.Backend, "timeout", cfg.StoreTimeout)
	return storage.WithTimeout(store, cfg.StoreTimeout), nil
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:]); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, flag.ErrHelp) {
		slog.Error("application error", "error", err)
		os.Exit(1)
	}
}
