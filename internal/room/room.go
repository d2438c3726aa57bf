package room

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"skytalk/internal/bus"
	"skytalk/internal/content"
	"skytalk/internal/heartbeat"
	"skytalk/internal/models"
	"skytalk/internal/weather"

	"github.com/google/uuid"
)

const (
	DefaultPollInterval    = time.Second
	DefaultStalenessWindow = 30 * time.Second
)

var ErrClosed = errors.New("room session closed")

type MessageLog interface {
	Append(ctx context.Context, roomID string, msg models.Message) (models.Message, error)
	DeleteOwn(ctx context.Context, roomID string, id int64, callerID string) error
	Subscribe(ctx context.Context, roomID string, observer bus.Observer) (bus.Unsubscribe, error)
}

type Presence interface {
	heartbeat.Registry
	LiveSnapshot(ctx context.Context, roomID string, window time.Duration) ([]models.PresenceEntry, error)
}

// Deps are the shared components every session of the process uses.
type Deps struct {
	Log      MessageLog
	Presence Presence

	// Weather is optional and used to annotate image messages.
	Weather weather.Provider
}

type Config struct {
	RoomID   string
	Identity models.Identity

	// OnMessages receives the ordered message list on open and after every change.
	OnMessages func(messages []models.Message)
	// OnPresence receives the live presence list every PollInterval.
	OnPresence func(entries []models.PresenceEntry)
	// OnError receives presence poll failures. Defaults to logging.
	OnError func(err error)

	HeartbeatInterval time.Duration
	PollInterval      time.Duration
	StalenessWindow   time.Duration
}

// Session is what a screen holds while it shows one room for one identity:
// a message subscription, a presence heartbeat and a presence poll.
// Close releases all three and must be deferred by the owner.
type Session struct {
	ID       string
	roomID   string
	identity models.Identity
	log      MessageLog
	weather  weather.Provider

	unsubscribe bus.Unsubscribe
	heartbeat   *heartbeat.Scheduler
	stopPoll    context.CancelFunc
	pollDone    chan struct{}
	done        chan struct{}

	closed    atomic.Bool
	closeOnce sync.Once
}

// Open enters the room. If any step fails, everything acquired so far is released.
func Open(ctx context.Context, deps Deps, config Config) (*Session, error) {
	if config.RoomID == "" || config.Identity.ID == "" {
		return nil, fmt.Errorf("%w: room and identity are required", models.ErrValidation)
	}
	if config.HeartbeatInterval <= 0 {
		config.HeartbeatInterval = heartbeat.DefaultInterval
	}
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPollInterval
	}
	if config.StalenessWindow <= 0 {
		config.StalenessWindow = DefaultStalenessWindow
	}
	if config.OnMessages == nil {
		config.OnMessages = func([]models.Message) {}
	}
	if config.OnPresence == nil {
		config.OnPresence = func([]models.PresenceEntry) {}
	}

	s := &Session{
		ID:        uuid.NewString(),
		roomID:    config.RoomID,
		identity:  config.Identity,
		log:       deps.Log,
		weather:   deps.Weather,
		heartbeat: heartbeat.New(deps.Presence),
		pollDone:  make(chan struct{}),
		done:      make(chan struct{}),
	}

	unsubscribe, err := deps.Log.Subscribe(ctx, s.roomID, func(_ string, messages []models.Message) {
		if !s.closed.Load() {
			config.OnMessages(messages)
		}
	})
	if err != nil {
		close(s.pollDone)
		return nil, fmt.Errorf("failed to subscribe to room %s: %w", s.roomID, err)
	}
	s.unsubscribe = unsubscribe

	if err := s.heartbeat.Start(ctx, s.roomID, s.identity, config.HeartbeatInterval); err != nil {
		close(s.pollDone)
		s.Close()
		return nil, fmt.Errorf("failed to start heartbeat in room %s: %w", s.roomID, err)
	}

	pollCtx, cancel := context.WithCancel(ctx)
	s.stopPoll = cancel
	go s.poll(pollCtx, deps.Presence, config)

	slog.Info("room session opened", "session_id", s.ID, "room_id", s.roomID, "user_id", s.identity.ID)
	return s, nil
}

func (s *Session) RoomID() string {
	return s.roomID
}

func (s *Session) Identity() models.Identity {
	return s.identity
}

// Send posts a text message as the session identity.
// Blank text is rejected with models.ErrValidation before anything is written.
func (s *Session) Send(ctx context.Context, text string) (models.Message, error) {
	if s.closed.Load() {
		return models.Message{}, ErrClosed
	}

	msg, err := NewTextMessage(s.identity, text)
	if err != nil {
		return models.Message{}, err
	}
	return s.log.Append(ctx, s.roomID, msg)
}

// SendImage posts an image message as the session identity.
func (s *Session) SendImage(ctx context.Context, image models.ImagePayload) (models.Message, error) {
	if s.closed.Load() {
		return models.Message{}, ErrClosed
	}

	msg, err := NewImageMessage(ctx, s.weather, s.roomID, s.identity, image)
	if err != nil {
		return models.Message{}, err
	}
	return s.log.Append(ctx, s.roomID, msg)
}

// NewTextMessage builds a text message authored by identity. The body is
// kept as plain text; HTML is only produced when a view renders it.
func NewTextMessage(identity models.Identity, text string) (models.Message, error) {
	text, err := content.ValidateText(text)
	if err != nil {
		return models.Message{}, err
	}

	return models.Message{
		Kind:              models.MessageKindText,
		AuthorID:          identity.ID,
		AuthorDisplayName: identity.DisplayName,
		AuthorAvatarURL:   identity.AvatarURL,
		Text:              text,
	}, nil
}

// NewImageMessage builds an image message authored by identity. Missing
// location and temperature are filled from provider when it is not nil;
// a failing provider leaves them empty.
func NewImageMessage(ctx context.Context, provider weather.Provider, roomID string, identity models.Identity, image models.ImagePayload) (models.Message, error) {
	image, err := content.ValidateImage(image)
	if err != nil {
		return models.Message{}, err
	}

	if provider != nil && (image.Temperature == "" || image.Location == "") {
		rec, err := provider.GetWeather(ctx, roomID)
		if err != nil {
			slog.Warn("weather annotation unavailable", "room_id", roomID, "error", err)
		} else {
			if image.Temperature == "" {
				image.Temperature = rec.Temperature
			}
			if image.Location == "" {
				image.Location = rec.City
			}
		}
	}

	return models.Message{
		Kind:              models.MessageKindImage,
		AuthorID:          identity.ID,
		AuthorDisplayName: identity.DisplayName,
		AuthorAvatarURL:   identity.AvatarURL,
		Image:             &image,
	}, nil
}

// Delete removes one of the session identity's own messages.
func (s *Session) Delete(ctx context.Context, messageID int64) error {
	if s.closed.Load() {
		return ErrClosed
	}
	return s.log.DeleteOwn(ctx, s.roomID, messageID, s.identity.ID)
}

// Close stops the presence poll, unsubscribes from the room and stops the
// heartbeat, which then removes the presence entry. It is idempotent and
// never waits, so it may be called from inside an observer callback.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.closed.Store(true)

		if s.stopPoll != nil {
			s.stopPoll()
		}
		if s.unsubscribe != nil {
			s.unsubscribe()
		}
		s.heartbeat.Stop()

		heartbeatDone := s.heartbeat.Done()
		go func() {
			<-s.pollDone
			<-heartbeatDone
			close(s.done)
		}()

		slog.Info("room session closed", "session_id", s.ID, "room_id", s.roomID, "user_id", s.identity.ID)
	})
}

// Done is closed after Close once the presence poll has exited and the
// presence entry has been removed.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) poll(ctx context.Context, presence Presence, config Config) {
	defer close(s.pollDone)

	ticker := time.NewTicker(config.PollInterval)
	defer ticker.Stop()

	for {
		entries, err := presence.LiveSnapshot(ctx, s.roomID, config.StalenessWindow)
		if ctx.Err() != nil {
			return
		}
		switch {
		case err != nil && config.OnError != nil:
			config.OnError(err)
		case err != nil:
			slog.Warn("presence poll failed", "room_id", s.roomID, "error", err)
		default:
			config.OnPresence(entries)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
