package models

// MessageType classifies the payload of a persisted message.
type MessageType string

const (
	MessageTypeText   MessageType = "text"
	MessageTypeImage  MessageType = "image"
	MessageTypeVideo  MessageType = "video"
	MessageTypeAudio  MessageType = "audio"
	MessageTypeSystem MessageType = "system"
)

// Reserved author identities.
const (
	SystemAuthor = "System"
	BotAuthor    = "DeepSeek"
)

// Message is one accepted chat event. Timestamp is assigned by the server
// at acceptance time (millisecond epoch) and is the sole pagination key.
type Message struct {
	ID           string      `json:"id"`
	Type         MessageType `json:"type"`
	Content      string      `json:"content"`
	AuthorID     string      `json:"authorId"`
	AuthorAvatar string      `json:"authorAvatar,omitempty"`
	RoomID       string      `json:"roomId"`
	Timestamp    int64       `json:"timestamp"`
	DeviceOrigin string      `json:"deviceOrigin,omitempty"`
}
