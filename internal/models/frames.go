package models

import "encoding/json"

// FrameType tags one JSON object on the wire.
type FrameType string

// Client -> server frame tags.
const (
	FrameTypeLogin  FrameType = "login"
	FrameTypeChat   FrameType = "chat"
	FrameTypeRecall FrameType = "recall"
)

// Server -> client frame tags. Chat and system events go out as plain
// Message objects carrying their own type field.
const (
	FrameTypeUsersUpdate FrameType = "users_update"
	FrameTypeError       FrameType = "error"
)

// ClientFrame is the envelope for all inbound frames. The Type tag selects
// which of the remaining fields are meaningful.
type ClientFrame struct {
	Type FrameType `json:"type"`

	// login
	Token    string `json:"token,omitempty"`
	Identity string `json:"identity,omitempty"`
	Avatar   string `json:"avatar,omitempty"`
	RoomID   string `json:"roomId,omitempty"`

	// chat
	MsgType      MessageType `json:"msgType,omitempty"`
	Content      string      `json:"content,omitempty"`
	DeviceOrigin string      `json:"deviceOrigin,omitempty"`

	// recall
	MessageID string `json:"messageId,omitempty"`
}

// ParseClientFrame decodes one inbound frame.
func ParseClientFrame(raw []byte) (*ClientFrame, error) {
	var f ClientFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

// RecallEvent tells clients to drop a message from their local view.
type RecallEvent struct {
	Type      FrameType `json:"type"`
	MessageID string    `json:"messageId"`
	RoomID    string    `json:"roomId"`
}

func NewRecallEvent(messageID, roomID string) *RecallEvent {
	return &RecallEvent{Type: FrameTypeRecall, MessageID: messageID, RoomID: roomID}
}

// UsersUpdate is the room presence snapshot.
type UsersUpdate struct {
	Type   FrameType `json:"type"`
	Users  []string  `json:"users"`
	RoomID string    `json:"roomId"`
}

func NewUsersUpdate(roomID string, users []string) *UsersUpdate {
	return &UsersUpdate{Type: FrameTypeUsersUpdate, Users: users, RoomID: roomID}
}

// ErrorFrame carries a human-readable failure notice to one client.
type ErrorFrame struct {
	Type    FrameType `json:"type"`
	Content string    `json:"content"`
}

func NewErrorFrame(content string) *ErrorFrame {
	return &ErrorFrame{Type: FrameTypeError, Content: content}
}
