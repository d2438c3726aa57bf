package storage

import (
	"encoding"
	"sort"

	"skytalk/internal/models"

	"github.com/vmihailenco/msgpack/v5"
)

type Storeable interface {
	Key() string
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
}

// MessagesKey is the store key holding the message log of a room.
func MessagesKey(roomID string) string {
	return "messages:" + roomID
}

// PresenceKey is the store key holding the presence entries of a room.
func PresenceKey(roomID string) string {
	return "presence:" + roomID
}

type DBMessage struct {
	ID                int64           `msgpack:"id"`
	RoomID            string          `msgpack:"roomId"`
	Kind              string          `msgpack:"kind"`
	AuthorID          string          `msgpack:"authorId"`
	AuthorDisplayName string          `msgpack:"authorDisplayName"`
	AuthorAvatarURL   string          `msgpack:"authorAvatarUrl"`
	Text              string          `msgpack:"text"`
	Image             *DBImagePayload `msgpack:"image,omitempty"`
	CreatedAt         int64           `msgpack:"createdAt"`
}

type DBImagePayload struct {
	URL         string `msgpack:"url"`
	Caption     string `msgpack:"caption"`
	WeatherTag  string `msgpack:"weatherTag"`
	Location    string `msgpack:"location"`
	Temperature string `msgpack:"temperature"`
}

// DBRoomLog is the whole message log of one room, stored as a single blob.
type DBRoomLog struct {
	RoomID   string      `msgpack:"roomId"`
	Messages []DBMessage `msgpack:"messages"`
}

func (l *DBRoomLog) Key() string {
	return MessagesKey(l.RoomID)
}

func (l *DBRoomLog) MarshalBinary() (data []byte, err error) {
	type alias DBRoomLog
	return msgpack.Marshal((*alias)(l))
}

func (l *DBRoomLog) UnmarshalBinary(data []byte) error {
	type alias DBRoomLog
	return msgpack.Unmarshal(data, (*alias)(l))
}

type DBPresence struct {
	UserID          string `msgpack:"userId"`
	DisplayName     string `msgpack:"displayName"`
	AvatarURL       string `msgpack:"avatarUrl"`
	LastHeartbeatAt int64  `msgpack:"lastHeartbeatAt"`
}

// DBPresenceSet holds the presence entries of one room keyed by user id.
type DBPresenceSet struct {
	RoomID  string                `msgpack:"roomId"`
	Entries map[string]DBPresence `msgpack:"entries"`
}

func (p *DBPresenceSet) Key() string {
	return PresenceKey(p.RoomID)
}

func (p *DBPresenceSet) MarshalBinary() (data []byte, err error) {
	type alias DBPresenceSet
	return msgpack.Marshal((*alias)(p))
}

func (p *DBPresenceSet) UnmarshalBinary(data []byte) error {
	type alias DBPresenceSet
	return msgpack.Unmarshal(data, (*alias)(p))
}

// DecodeRoomLog decodes a stored room log sorted by id. Nil data is an empty log.
func DecodeRoomLog(roomID string, data []byte) (*DBRoomLog, error) {
	l := &DBRoomLog{RoomID: roomID}
	if len(data) == 0 {
		return l, nil
	}
	if err := l.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	l.RoomID = roomID
	sort.SliceStable(l.Messages, func(i, j int) bool {
		return l.Messages[i].ID < l.Messages[j].ID
	})
	return l, nil
}

// DecodePresenceSet decodes stored presence entries. Nil data is an empty set.
func DecodePresenceSet(roomID string, data []byte) (*DBPresenceSet, error) {
	p := &DBPresenceSet{RoomID: roomID}
	if len(data) > 0 {
		if err := p.UnmarshalBinary(data); err != nil {
			return nil, err
		}
	}
	p.RoomID = roomID
	if p.Entries == nil {
		p.Entries = make(map[string]DBPresence)
	}
	return p, nil
}

func FromMessage(m models.Message) DBMessage {
	dbMessage := DBMessage{
		ID:                m.ID,
		RoomID:            m.RoomID,
		Kind:              string(m.Kind),
		AuthorID:          m.AuthorID,
		AuthorDisplayName: m.AuthorDisplayName,
		AuthorAvatarURL:   m.AuthorAvatarURL,
		Text:              m.Text,
		CreatedAt:         m.CreatedAt,
	}
	if m.Image != nil {
		dbMessage.Image = &DBImagePayload{
			URL:         m.Image.URL,
			Caption:     m.Image.Caption,
			WeatherTag:  m.Image.WeatherTag,
			Location:    m.Image.Location,
			Temperature: m.Image.Temperature,
		}
	}
	return dbMessage
}

func (m DBMessage) ToMessage() models.Message {
	msg := models.Message{
		ID:                m.ID,
		RoomID:            m.RoomID,
		Kind:              models.MessageKind(m.Kind),
		AuthorID:          m.AuthorID,
		AuthorDisplayName: m.AuthorDisplayName,
		AuthorAvatarURL:   m.AuthorAvatarURL,
		Text:              m.Text,
		CreatedAt:         m.CreatedAt,
	}
	if m.Image != nil {
		msg.Image = &models.ImagePayload{
			URL:         m.Image.URL,
			Caption:     m.Image.Caption,
			WeatherTag:  m.Image.WeatherTag,
			Location:    m.Image.Location,
			Temperature: m.Image.Temperature,
		}
	}
	return msg
}

func (l *DBRoomLog) ToMessages() []models.Message {
	messages := make([]models.Message, len(l.Messages))
	for i, m := range l.Messages {
		messages[i] = m.ToMessage()
	}
	return messages
}

func FromPresenceEntry(e models.PresenceEntry) DBPresence {
	return DBPresence{
		UserID:          e.UserID,
		DisplayName:     e.DisplayName,
		AvatarURL:       e.AvatarURL,
		LastHeartbeatAt: e.LastHeartbeatAt,
	}
}

// ToEntries returns presence entries sorted by user id.
func (p *DBPresenceSet) ToEntries() []models.PresenceEntry {
	entries := make([]models.PresenceEntry, 0, len(p.Entries))
	for _, e := range p.Entries {
		entries = append(entries, models.PresenceEntry{
			UserID:          e.UserID,
			DisplayName:     e.DisplayName,
			AvatarURL:       e.AvatarURL,
			LastHeartbeatAt: e.LastHeartbeatAt,
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].UserID < entries[j].UserID
	})
	return entries
}
