package models

import "errors"

var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("validation failed")
	ErrStorage    = errors.New("storage failure")
	ErrTimeout    = errors.New("storage timeout")
	ErrForbidden  = errors.New("forbidden")
)

// Identity is the snapshot of a user the core stamps onto messages and presence entries.
// The core never creates or validates identities.
type Identity struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	AvatarURL   string `json:"avatarUrl"`
}

type MessageKind string

const (
	MessageKindText  MessageKind = "text"
	MessageKindImage MessageKind = "image"
)

// Message represents a chat message in a room.
// ID doubles as the ordering key within the room.
type Message struct {
	ID                int64         `json:"id"`
	RoomID            string        `json:"roomId"`
	Kind              MessageKind   `json:"kind"`
	AuthorID          string        `json:"authorId"`
	AuthorDisplayName string        `json:"authorDisplayName"`
	AuthorAvatarURL   string        `json:"authorAvatarUrl"`
	Text              string        `json:"text,omitempty"`
	Image             *ImagePayload `json:"image,omitempty"`
	CreatedAt         int64         `json:"createdAt"` // Unix timestamp (milliseconds)
}

// ImagePayload is the body of an image message.
type ImagePayload struct {
	URL         string `json:"url"`
	Caption     string `json:"caption,omitempty"`
	WeatherTag  string `json:"weatherTag,omitempty"`
	Location    string `json:"location,omitempty"`
	Temperature string `json:"temperature,omitempty"`
}

// PresenceEntry is one "who is here" record of a room.
type PresenceEntry struct {
	UserID          string `json:"userId"`
	DisplayName     string `json:"displayName"`
	AvatarURL       string `json:"avatarUrl"`
	LastHeartbeatAt int64  `json:"lastHeartbeatAt"` // Unix timestamp (milliseconds)
}

// Room is a discussion room, one per city.
type Room struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ClientMessage represents a frame sent from the client over the room stream.
type ClientMessage struct {
	Type      ClientMessageType `json:"type"`
	Content   string            `json:"content,omitempty"`
	Image     *ImagePayload     `json:"image,omitempty"`
	MessageID int64             `json:"messageId,omitempty"`
}

// ServerMessage represents a frame pushed to the client over the room stream.
type ServerMessage struct {
	Type     ServerMessageType `json:"type"`
	RoomID   string            `json:"roomId"`
	Messages []Message         `json:"messages,omitempty"`
	Presence []PresenceEntry   `json:"presence,omitempty"`
	Error    string            `json:"error,omitempty"`
}

type ClientMessageType string

const (
	ClientMessageTypeSend      ClientMessageType = "send"
	ClientMessageTypeSendImage ClientMessageType = "sendImage"
	ClientMessageTypeDelete    ClientMessageType = "delete"
)

type ServerMessageType string

const (
	ServerMessageTypeMessages ServerMessageType = "messages"
	ServerMessageTypePresence ServerMessageType = "presence"
	ServerMessageTypeError    ServerMessageType = "error"
)
