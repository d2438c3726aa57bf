package ws

import (
	"context"
	"errors"
	"log"
	"sync"

	"skytalk/internal/models"
	"skytalk/internal/room"
)

type wsConnection interface {
	Close() error
	WriteJSON(v any) error
	ReadJSON(v any) error
}

type roomSession interface {
	Send(ctx context.Context, text string) (models.Message, error)
	SendImage(ctx context.Context, image models.ImagePayload) (models.Message, error)
	Delete(ctx context.Context, messageID int64) error
	Close()
}

// Opener enters a room on behalf of one connection.
type Opener func(ctx context.Context, config room.Config) (roomSession, error)

// Connection bridges one websocket to one room session.
// Message and presence updates are latest-wins: a slow client skips
// intermediate lists but always receives the most recent one.
type Connection struct {
	ws         wsConnection
	open       Opener
	roomID     string
	identity   models.Identity
	fromClient chan models.ClientMessage
	messages   chan []models.Message
	presence   chan []models.PresenceEntry
	notices    chan string
	errorCh    chan error
}

func NewConnection(
	open Opener,
	ws wsConnection,
	roomID string,
	identity models.Identity,
) *Connection {
	return &Connection{
		ws:         ws,
		open:       open,
		roomID:     roomID,
		identity:   identity,
		fromClient: make(chan models.ClientMessage),
		messages:   make(chan []models.Message, 1),
		presence:   make(chan []models.PresenceEntry, 1),
		notices:    make(chan string, 8),
		errorCh:    make(chan error, 2),
	}
}

func (c *Connection) Handle(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	session, err := c.open(ctx, room.Config{
		RoomID:     c.roomID,
		Identity:   c.identity,
		OnMessages: func(messages []models.Message) { offer(c.messages, messages) },
		OnPresence: func(entries []models.PresenceEntry) { offer(c.presence, entries) },
		OnError: func(err error) {
			log.Printf("presence poll failed in room %s: %v", c.roomID, err)
			c.notify("couldn't load who is here")
		},
	})
	if err != nil {
		_ = c.ws.WriteJSON(models.ServerMessage{
			Type:   models.ServerMessageTypeError,
			RoomID: c.roomID,
			Error:  "couldn't enter the room",
		})
		c.ws.Close()
		return err
	}
	defer session.Close()

	var wg sync.WaitGroup
	wg.Go(func() {
		c.errorCh <- c.pumpMessages(ctx)
		cancel()
	})

	wg.Go(func() {
		c.errorCh <- c.mainLoop(ctx, session)
		cancel()
	})

	select {
	case err = <-c.errorCh:
	case <-ctx.Done():
	}
	c.ws.Close()
	wg.Wait()

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	return nil
}

func (c *Connection) pumpMessages(ctx context.Context) error {
	for {
		var msg models.ClientMessage
		if err := c.ws.ReadJSON(&msg); err != nil {
			return err
		}
		select {
		case c.fromClient <- msg:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Connection) mainLoop(ctx context.Context, session roomSession) error {
	for {
		var out models.ServerMessage
		select {
		case msg := <-c.fromClient:
			c.processClientMessage(ctx, session, msg)
			continue
		case messages := <-c.messages:
			out = models.ServerMessage{Type: models.ServerMessageTypeMessages, RoomID: c.roomID, Messages: messages}
		case entries := <-c.presence:
			out = models.ServerMessage{Type: models.ServerMessageTypePresence, RoomID: c.roomID, Presence: entries}
		case notice := <-c.notices:
			out = models.ServerMessage{Type: models.ServerMessageTypeError, RoomID: c.roomID, Error: notice}
		case <-ctx.Done():
			return nil
		}

		if err := c.ws.WriteJSON(out); err != nil {
			return err
		}
	}
}

// processClientMessage never fails the connection: rejected input is
// ignored and other failures are reported to the client as notices.
func (c *Connection) processClientMessage(ctx context.Context, session roomSession, msg models.ClientMessage) {
	var err error
	var notice string

	switch msg.Type {
	case models.ClientMessageTypeSend:
		_, err = session.Send(ctx, msg.Content)
		notice = "couldn't send message"
	case models.ClientMessageTypeSendImage:
		if msg.Image == nil {
			return
		}
		_, err = session.SendImage(ctx, *msg.Image)
		notice = "couldn't send image"
	case models.ClientMessageTypeDelete:
		err = session.Delete(ctx, msg.MessageID)
		notice = "couldn't delete message"
		if errors.Is(err, models.ErrForbidden) {
			notice = "you can only delete your own messages"
		}
	default:
		return
	}

	if err == nil || errors.Is(err, models.ErrValidation) {
		return
	}
	log.Printf("%s message from %s in room %s failed: %v", msg.Type, c.identity.ID, c.roomID, err)
	c.notify(notice)
}

func (c *Connection) notify(notice string) {
	select {
	case c.notices <- notice:
	default:
	}
}

// offer replaces whatever is waiting in the single-slot channel ch with v.
func offer[T any](ch chan T, v T) {
	for {
		select {
		case ch <- v:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}
