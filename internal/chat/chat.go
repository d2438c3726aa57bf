package chat

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"skytalk/internal/bus"
	"skytalk/internal/models"
	"skytalk/internal/storage"
)

// Log is the ordered message log of every room. Each room log is stored
// as a single blob and rewritten on every mutation through store.Update,
// which serializes concurrent writers of the same room.
type Log struct {
	store       storage.KeyValueStore
	ids         *IDGenerator
	bus         *bus.Bus
	maxMessages int
	now         func() time.Time
}

type Config struct {
	Store storage.KeyValueStore

	// MaxMessages caps each room log; the oldest messages are dropped first.
	// Appending an explicit id older than every kept message fails with
	// models.ErrValidation. Zero keeps everything.
	MaxMessages int

	Now func() time.Time
}

func New(config Config) *Log {
	now := config.Now
	if now == nil {
		now = time.Now
	}

	l := &Log{
		store:       config.Store,
		ids:         NewIDGenerator(now),
		maxMessages: config.MaxMessages,
		now:         now,
	}
	l.bus = bus.New(l)
	return l
}

// Append adds msg to the room log and notifies observers before returning.
// A zero id is assigned from the clock; an id that already exists replaces
// the stored message. On error nothing is written and nobody is notified.
func (l *Log) Append(ctx context.Context, roomID string, msg models.Message) (models.Message, error) {
	if roomID == "" {
		return models.Message{}, fmt.Errorf("%w: room id is required", models.ErrValidation)
	}
	msg.RoomID = roomID
	if err := validate(msg); err != nil {
		return models.Message{}, err
	}

	autoID := msg.ID == 0
	if autoID {
		msg.ID = l.ids.Next()
	} else {
		l.ids.Observe(msg.ID)
	}
	if msg.CreatedAt == 0 {
		msg.CreatedAt = l.now().UnixMilli()
	}

	err := l.store.Update(ctx, storage.MessagesKey(roomID), func(current []byte) ([]byte, error) {
		roomLog, err := storage.DecodeRoomLog(roomID, current)
		if err != nil {
			return nil, fmt.Errorf("%w: corrupt log of room %s: %w", models.ErrStorage, roomID, err)
		}

		// Another writer may have used a later id already; keep the log append-ordered.
		if n := len(roomLog.Messages); autoID && n > 0 && roomLog.Messages[n-1].ID >= msg.ID {
			msg.ID = roomLog.Messages[n-1].ID + 1
		}

		roomLog.Messages = insert(roomLog.Messages, storage.FromMessage(msg))
		if l.maxMessages > 0 && len(roomLog.Messages) > l.maxMessages {
			roomLog.Messages = roomLog.Messages[len(roomLog.Messages)-l.maxMessages:]
			if _, kept := find(roomLog.Messages, msg.ID); !kept {
				return nil, fmt.Errorf("%w: message %d is older than the %d messages kept in room %s",
					models.ErrValidation, msg.ID, l.maxMessages, roomID)
			}
		}
		return roomLog.MarshalBinary()
	})
	if err != nil {
		return models.Message{}, fmt.Errorf("failed to append message to room %s: %w", roomID, err)
	}
	l.ids.Observe(msg.ID)

	l.bus.Publish(ctx, roomID)
	return msg, nil
}

// Delete removes the message with id from the room log. Deleting an unknown
// id is not an error. No author check is made; see DeleteOwn.
func (l *Log) Delete(ctx context.Context, roomID string, id int64) error {
	return l.delete(ctx, roomID, id, "")
}

// DeleteOwn removes the message only if callerID is its author and returns
// models.ErrForbidden otherwise.
func (l *Log) DeleteOwn(ctx context.Context, roomID string, id int64, callerID string) error {
	if callerID == "" {
		return fmt.Errorf("%w: caller identity is required", models.ErrForbidden)
	}
	return l.delete(ctx, roomID, id, callerID)
}

func (l *Log) delete(ctx context.Context, roomID string, id int64, callerID string) error {
	err := l.store.Update(ctx, storage.MessagesKey(roomID), func(current []byte) ([]byte, error) {
		roomLog, err := storage.DecodeRoomLog(roomID, current)
		if err != nil {
			return nil, fmt.Errorf("%w: corrupt log of room %s: %w", models.ErrStorage, roomID, err)
		}

		i, found := find(roomLog.Messages, id)
		if !found {
			return nil, storage.ErrUnchanged
		}
		if callerID != "" && roomLog.Messages[i].AuthorID != callerID {
			return nil, fmt.Errorf("%w: message %d belongs to another user", models.ErrForbidden, id)
		}

		roomLog.Messages = append(roomLog.Messages[:i], roomLog.Messages[i+1:]...)
		return roomLog.MarshalBinary()
	})
	if err != nil {
		return fmt.Errorf("failed to delete message %d from room %s: %w", id, roomID, err)
	}

	l.bus.Publish(ctx, roomID)
	return nil
}

// Snapshot returns the messages of the room ordered by id ascending.
func (l *Log) Snapshot(ctx context.Context, roomID string) ([]models.Message, error) {
	data, err := l.store.Get(ctx, storage.MessagesKey(roomID))
	if errors.Is(err, models.ErrNotFound) {
		return []models.Message{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load room %s: %w", roomID, err)
	}

	roomLog, err := storage.DecodeRoomLog(roomID, data)
	if err != nil {
		return nil, fmt.Errorf("%w: corrupt log of room %s: %w", models.ErrStorage, roomID, err)
	}
	return roomLog.ToMessages(), nil
}

// Subscribe registers observer for changes of the room log.
// The observer is called with the current snapshot before Subscribe returns.
func (l *Log) Subscribe(ctx context.Context, roomID string, observer bus.Observer) (bus.Unsubscribe, error) {
	return l.bus.Subscribe(ctx, roomID, observer)
}

// Observers returns the number of observers registered for the room.
func (l *Log) Observers(roomID string) int {
	return l.bus.Count(roomID)
}

func validate(msg models.Message) error {
	switch msg.Kind {
	case models.MessageKindText:
		if msg.Text == "" {
			return fmt.Errorf("%w: text message is empty", models.ErrValidation)
		}
	case models.MessageKindImage:
		if msg.Image == nil || msg.Image.URL == "" {
			return fmt.Errorf("%w: image message has no image", models.ErrValidation)
		}
	default:
		return fmt.Errorf("%w: unknown message kind %q", models.ErrValidation, msg.Kind)
	}
	return nil
}

// find locates id in messages sorted by id.
func find(messages []storage.DBMessage, id int64) (int, bool) {
	i := sort.Search(len(messages), func(i int) bool {
		return messages[i].ID >= id
	})
	return i, i < len(messages) && messages[i].ID == id
}

// insert keeps messages sorted by id; an equal id overwrites in place.
func insert(messages []storage.DBMessage, m storage.DBMessage) []storage.DBMessage {
	i, found := find(messages, m.ID)
	if found {
		messages[i] = m
		return messages
	}
	messages = append(messages, storage.DBMessage{})
	copy(messages[i+1:], messages[i:])
	messages[i] = m
	return messages
}
