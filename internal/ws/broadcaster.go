package ws

import (
	"encoding/json"

	"chat-relay/internal/models"
	"chat-relay/internal/registry"
	"chat-relay/pkg/logger"
)

// Broadcaster fans frames out to every live session in a room. Recipients
// are snapshotted from the registry before iterating, so a join or leave
// racing the fan-out never tears the send loop; the snapshot may be at most
// one broadcast stale, which the next presence update corrects.
type Broadcaster struct {
	registry *registry.Registry
}

func NewBroadcaster(reg *registry.Registry) *Broadcaster {
	return &Broadcaster{registry: reg}
}

// Broadcast delivers msg to every authenticated session in msg.RoomID.
func (b *Broadcaster) Broadcast(msg *models.Message) {
	b.BroadcastFrame(msg.RoomID, msg)
}

// BroadcastPresence recomputes the room's identity list from the registry
// and delivers a users_update frame to the room.
func (b *Broadcaster) BroadcastPresence(roomID string) {
	users := b.registry.IdentitiesByRoom(roomID)
	b.BroadcastFrame(roomID, models.NewUsersUpdate(roomID, users))
}

// BroadcastFrame marshals v once and delivers it to every session in
// roomID. A dead or slow recipient is skipped so it can never stall
// delivery to the rest of the room.
func (b *Broadcaster) BroadcastFrame(roomID string, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		logger.Error("Error marshaling broadcast frame: %v", err)
		return
	}

	for _, s := range b.registry.ListByRoom(roomID) {
		if !s.Sink.Enqueue(data) {
			logger.Debug("Dropped frame for slow session %s in room %s", s.Identity, roomID)
		}
	}
}
