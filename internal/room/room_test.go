package room

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"skytalk/internal/bus"
	"skytalk/internal/chat"
	"skytalk/internal/models"
	"skytalk/internal/presence"
	"skytalk/internal/storage"
	"skytalk/internal/weather"

	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu       sync.Mutex
	messages [][]models.Message
	presence [][]models.PresenceEntry
}

func (r *recorder) onMessages(messages []models.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, messages)
}

func (r *recorder) onPresence(entries []models.PresenceEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.presence = append(r.presence, entries)
}

func (r *recorder) lastMessages() []models.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.messages) == 0 {
		return nil
	}
	return r.messages[len(r.messages)-1]
}

func (r *recorder) presenceCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.presence)
}

type fixture struct {
	log      *chat.Log
	presence *presence.Registry
	deps     Deps
}

func newFixture() *fixture {
	store := storage.NewMemoryStore()
	f := &fixture{
		log:      chat.New(chat.Config{Store: store}),
		presence: presence.New(presence.Config{Store: store}),
	}
	f.deps = Deps{Log: f.log, Presence: f.presence, Weather: weather.Static{}}
	return f
}

func (f *fixture) open(t *testing.T, roomID string, identity models.Identity, rec *recorder) *Session {
	t.Helper()
	s, err := Open(context.Background(), f.deps, Config{
		RoomID:            roomID,
		Identity:          identity,
		OnMessages:        rec.onMessages,
		OnPresence:        rec.onPresence,
		HeartbeatInterval: 20 * time.Millisecond,
		PollInterval:      10 * time.Millisecond,
	})
	require.NoError(t, err)
	return s
}

var (
	minh = models.Identity{ID: "u1", DisplayName: "Minh", AvatarURL: "https://example.com/minh.png"}
	lan  = models.Identity{ID: "u2", DisplayName: "Lan"}
)

func TestSession_OpenDeliversSnapshotAndPresence(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.log.Append(ctx, "hanoi", models.Message{Kind: models.MessageKindText, AuthorID: "u9", Text: "earlier"})
	require.NoError(t, err)

	rec := &recorder{}
	s := f.open(t, "hanoi", minh, rec)
	defer s.Close()

	require.Len(t, rec.lastMessages(), 1, "initial snapshot is delivered on open")
	require.Equal(t, 1, f.log.Observers("hanoi"))

	require.Eventually(t, func() bool {
		entries, err := f.presence.Snapshot(ctx, "hanoi")
		return err == nil && len(entries) == 1 && entries[0].DisplayName == "Minh"
	}, time.Second, 5*time.Millisecond, "heartbeat upserts right away")

	require.Eventually(t, func() bool { return rec.presenceCount() > 0 }, time.Second, 5*time.Millisecond)
}

func TestSession_SendReachesOtherSessions(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	recA, recB := &recorder{}, &recorder{}
	a := f.open(t, "hanoi", minh, recA)
	defer a.Close()
	b := f.open(t, "hanoi", lan, recB)
	defer b.Close()

	msg, err := a.Send(ctx, "  xin chào  ")
	require.NoError(t, err)
	require.Equal(t, "xin chào", msg.Text)
	require.Equal(t, "Minh", msg.AuthorDisplayName)
	require.Equal(t, minh.AvatarURL, msg.AuthorAvatarURL)

	got := recB.lastMessages()
	require.Len(t, got, 1)
	require.Equal(t, msg.ID, got[0].ID)
}

func TestSession_SendRejectsBlank(t *testing.T) {
	f := newFixture()
	s := f.open(t, "hanoi", minh, &recorder{})
	defer s.Close()

	_, err := s.Send(context.Background(), "   ")
	require.ErrorIs(t, err, models.ErrValidation)

	messages, err := f.log.Snapshot(context.Background(), "hanoi")
	require.NoError(t, err)
	require.Empty(t, messages)
}

func TestSession_SendImageAddsWeather(t *testing.T) {
	f := newFixture()
	s := f.open(t, "hanoi", minh, &recorder{})
	defer s.Close()

	msg, err := s.SendImage(context.Background(), models.ImagePayload{URL: "https://example.com/lake.jpg", Caption: "Hoan Kiem"})
	require.NoError(t, err)
	require.Equal(t, models.MessageKindImage, msg.Kind)
	require.NotNil(t, msg.Image)
	require.NotEmpty(t, msg.Image.Temperature)
	require.Equal(t, "Hà Nội", msg.Image.Location)
}

func TestSession_DeleteOnlyOwnMessages(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	a := f.open(t, "hanoi", minh, &recorder{})
	defer a.Close()
	b := f.open(t, "hanoi", lan, &recorder{})
	defer b.Close()

	msg, err := a.Send(ctx, "hello")
	require.NoError(t, err)

	require.ErrorIs(t, b.Delete(ctx, msg.ID), models.ErrForbidden)
	require.NoError(t, a.Delete(ctx, msg.ID))

	messages, err := f.log.Snapshot(ctx, "hanoi")
	require.NoError(t, err)
	require.Empty(t, messages)
}

func TestSession_CloseReleasesEverything(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	s := f.open(t, "hanoi", minh, &recorder{})
	s.Close()
	s.Close()

	require.Equal(t, 0, f.log.Observers("hanoi"))
	require.False(t, s.heartbeat.Running())

	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("presence poll or heartbeat still running after close")
	}

	entries, err := f.presence.Snapshot(ctx, "hanoi")
	require.NoError(t, err)
	require.Empty(t, entries, "presence entry is removed on close")

	_, err = s.Send(ctx, "late")
	require.ErrorIs(t, err, ErrClosed)
}

func TestSession_CloseFromObserver(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	var s *Session
	var once sync.Once
	closed := make(chan struct{})
	rec := &recorder{}

	s, err := Open(ctx, f.deps, Config{
		RoomID:   "hanoi",
		Identity: minh,
		OnMessages: func(messages []models.Message) {
			rec.onMessages(messages)
			if len(messages) > 0 {
				once.Do(func() {
					s.Close()
					close(closed)
				})
			}
		},
		PollInterval: 10 * time.Millisecond,
	})
	require.NoError(t, err)

	_, err = f.log.Append(ctx, "hanoi", models.Message{Kind: models.MessageKindText, AuthorID: "u2", Text: "bye"})
	require.NoError(t, err)

	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("close from observer did not complete")
	}
	require.Equal(t, 0, f.log.Observers("hanoi"))
}

type failingLog struct {
	*chat.Log
}

func (failingLog) Subscribe(context.Context, string, bus.Observer) (bus.Unsubscribe, error) {
	return nil, models.ErrStorage
}

func TestSession_OpenFailureLeavesNothingBehind(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	deps := f.deps
	deps.Log = failingLog{f.log}

	_, err := Open(ctx, deps, Config{RoomID: "hanoi", Identity: minh})
	require.ErrorIs(t, err, models.ErrStorage)

	entries, err := f.presence.Snapshot(ctx, "hanoi")
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestSession_OpenValidates(t *testing.T) {
	f := newFixture()

	_, err := Open(context.Background(), f.deps, Config{RoomID: "hanoi"})
	require.True(t, errors.Is(err, models.ErrValidation))
}

func TestSession_SendKeepsPlainText(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	s := f.open(t, "hanoi", minh, &recorder{})
	defer s.Close()

	for _, text := range []string{"don't & <3", "Tom & Jerry: 5 > 3", `<b>bold</b> "quoted"`} {
		msg, err := s.Send(ctx, text)
		require.NoError(t, err)
		require.Equal(t, text, msg.Text)
	}

	messages, err := f.log.Snapshot(ctx, "hanoi")
	require.NoError(t, err)
	require.Len(t, messages, 3)
	require.Equal(t, "don't & <3", messages[0].Text)
	require.Equal(t, "Tom & Jerry: 5 > 3", messages[1].Text)
	require.Equal(t, `<b>bold</b> "quoted"`, messages[2].Text)
}
