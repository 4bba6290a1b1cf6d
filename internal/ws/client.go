package ws

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"chat-relay/internal/auth"
	"chat-relay/internal/database"
	"chat-relay/internal/models"
	"chat-relay/internal/registry"
	"chat-relay/pkg/logger"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	defaultRoom = "public"

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second

	sendBufferSize = 256

	authFailedNotice = "authentication failed, please log in again"
)

// BotResponder handles the AI mention side channel. Reply runs in its own
// goroutine with its own error boundary and must never report back into the
// triggering connection.
type BotResponder interface {
	Reply(roomID, identity, prompt string)
}

// GatewayConfig carries the lifecycle knobs.
type GatewayConfig struct {
	VerifyTimeout time.Duration
	MentionToken  string
}

// Gateway owns the shared collaborators of every connection: the session
// registry, the broadcaster, the message store, the authentication oracle
// and the bot side channel.
type Gateway struct {
	registry *registry.Registry
	bcast    *Broadcaster
	store    database.MessageStore
	verifier auth.TokenVerifier
	bot      BotResponder
	cfg      GatewayConfig
}

func NewGateway(reg *registry.Registry, bcast *Broadcaster, store database.MessageStore, verifier auth.TokenVerifier, bot BotResponder, cfg GatewayConfig) *Gateway {
	if cfg.VerifyTimeout <= 0 {
		cfg.VerifyTimeout = 5 * time.Second
	}
	if cfg.MentionToken == "" {
		cfg.MentionToken = "@DeepSeek"
	}
	return &Gateway{
		registry: reg,
		bcast:    bcast,
		store:    store,
		verifier: verifier,
		bot:      bot,
		cfg:      cfg,
	}
}

// HandleConn runs the full lifecycle of one upgraded connection. The reader
// goroutine processes frames in arrival order; a slow store append delays
// only this connection's next frame, never other connections.
func (g *Gateway) HandleConn(conn *websocket.Conn) {
	client := g.newClient(conn)
	go client.writePump()
	go client.readPump()
}

// Client is the per-connection state machine. It starts unauthenticated
// (no registry entry) and owns at most one registry entry after a
// successful login frame.
type Client struct {
	g    *Gateway
	conn *websocket.Conn

	handle   string
	identity string
	avatar   string
	roomID   string

	send     chan []byte
	sendMu   sync.Mutex
	sendDone bool
}

func (g *Gateway) newClient(conn *websocket.Conn) *Client {
	return &Client{
		g:      g,
		conn:   conn,
		handle: newHandle(),
		send:   make(chan []byte, sendBufferSize),
	}
}

// Enqueue implements registry.Sink. It never blocks: a full buffer means
// the recipient is too slow and the frame is dropped for this session only.
func (c *Client) Enqueue(data []byte) bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if c.sendDone {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *Client) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if !c.sendDone {
		c.sendDone = true
		close(c.send)
	}
}

func (c *Client) readPump() {
	defer func() {
		c.teardown()
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Error("WebSocket error: %v", err)
			}
			break
		}
		c.handleFrame(raw)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				logger.Error("Write error: %v", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleFrame dispatches one inbound frame. A frame that fails to parse is
// logged and dropped; the connection survives.
func (c *Client) handleFrame(raw []byte) {
	frame, err := models.ParseClientFrame(raw)
	if err != nil {
		logger.Error("Parse error: %v", err)
		return
	}

	switch frame.Type {
	case models.FrameTypeLogin:
		c.handleLogin(frame)
	case models.FrameTypeChat:
		c.handleChat(frame)
	case models.FrameTypeRecall:
		c.handleRecall(frame)
	default:
		logger.Debug("Ignoring frame with unknown type %q", frame.Type)
	}
}

func (c *Client) handleLogin(frame *models.ClientFrame) {
	ctx, cancel := context.WithTimeout(context.Background(), c.g.cfg.VerifyTimeout)
	defer cancel()

	if _, err := c.g.verifier.Verify(ctx, frame.Token); err != nil {
		logger.Error("Authentication failed for %s: %v", frame.Identity, err)
		c.sendError(authFailedNotice)
		// Fatal for this connection; the write pump flushes the error
		// frame and then closes the socket.
		c.closeSend()
		return
	}

	c.identity = frame.Identity
	c.avatar = frame.Avatar
	c.roomID = frame.RoomID
	if c.roomID == "" {
		c.roomID = defaultRoom
	}

	c.g.registry.Put(c.handle, c.identity, c.avatar, c.roomID, c)
	logger.Info("User %s joined room %s", c.identity, c.roomID)

	// Best-effort backfill of the avatar on historical messages.
	if c.avatar != "" {
		go c.backfillAvatar(c.identity, c.avatar)
	}

	join := c.systemMessage(fmt.Sprintf("%s joined the room", c.identity))
	c.persistAndBroadcast(join)
	c.g.bcast.BroadcastPresence(c.roomID)
}

func (c *Client) handleChat(frame *models.ClientFrame) {
	// A frame can arrive after teardown has begun; without an
	// authenticated registry entry it must leave no trace.
	session, ok := c.g.registry.Get(c.handle)
	if !ok || !session.Authenticated {
		return
	}

	msgType := frame.MsgType
	if msgType == "" {
		msgType = models.MessageTypeText
	}
	deviceOrigin := frame.DeviceOrigin
	if deviceOrigin == "" {
		deviceOrigin = "Web"
	}

	msg := &models.Message{
		ID:           uuid.NewString(),
		Type:         msgType,
		Content:      frame.Content,
		AuthorID:     c.identity,
		AuthorAvatar: c.avatar,
		RoomID:       c.roomID,
		Timestamp:    time.Now().UnixMilli(),
		DeviceOrigin: deviceOrigin,
	}

	if err := c.g.store.Append(context.Background(), msg); err != nil {
		// Durability precedes fan-out: a message the store did not retain
		// is never shown to anyone.
		logger.Error("Error saving message: %v", err)
		return
	}
	c.g.bcast.Broadcast(msg)

	if msgType == models.MessageTypeText && c.g.bot != nil && strings.Contains(frame.Content, c.g.cfg.MentionToken) {
		prompt := strings.TrimSpace(strings.Replace(frame.Content, c.g.cfg.MentionToken, "", 1))
		go c.g.bot.Reply(c.roomID, c.identity, prompt)
	}
}

func (c *Client) handleRecall(frame *models.ClientFrame) {
	session, ok := c.g.registry.Get(c.handle)
	if !ok || !session.Authenticated {
		return
	}
	if frame.MessageID == "" {
		return
	}

	// No ownership check: any authenticated session may recall any message.
	count, err := c.g.store.Delete(context.Background(), frame.MessageID)
	if err != nil {
		logger.Error("Error deleting message %s: %v", frame.MessageID, err)
		return
	}
	if count == 0 {
		return
	}

	logger.Info("Message recalled: %s", frame.MessageID)
	c.g.bcast.BroadcastFrame(c.roomID, models.NewRecallEvent(frame.MessageID, c.roomID))
}

// teardown removes this connection's registry entry and, if it was
// authenticated, emits the leave message and a fresh presence snapshot.
func (c *Client) teardown() {
	session, ok := c.g.registry.Remove(c.handle)
	if ok && session.Authenticated {
		logger.Info("User %s left room %s", session.Identity, session.RoomID)

		leave := c.systemMessage(fmt.Sprintf("%s left the room", session.Identity))
		c.persistAndBroadcast(leave)
		c.g.bcast.BroadcastPresence(session.RoomID)
	}
	c.closeSend()
}

func (c *Client) persistAndBroadcast(msg *models.Message) {
	if err := c.g.store.Append(context.Background(), msg); err != nil {
		logger.Error("Error saving system message: %v", err)
		return
	}
	c.g.bcast.Broadcast(msg)
}

func (c *Client) backfillAvatar(identity, avatarURL string) {
	count, err := c.g.store.PatchAuthorAvatar(context.Background(), identity, avatarURL)
	if err != nil {
		logger.Error("Error backfilling avatar for %s: %v", identity, err)
		return
	}
	if count > 0 {
		logger.Debug("Backfilled avatar on %d messages for %s", count, identity)
	}
}

func (c *Client) systemMessage(content string) *models.Message {
	return &models.Message{
		ID:           uuid.NewString(),
		Type:         models.MessageTypeSystem,
		Content:      content,
		AuthorID:     models.SystemAuthor,
		RoomID:       c.roomID,
		Timestamp:    time.Now().UnixMilli(),
		DeviceOrigin: "Server",
	}
}

func (c *Client) sendError(content string) {
	data, err := json.Marshal(models.NewErrorFrame(content))
	if err != nil {
		logger.Error("Error marshaling error frame: %v", err)
		return
	}
	c.Enqueue(data)
}

func newHandle() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		// crypto/rand never fails on supported platforms; fall back to a
		// uuid so the handle stays unique either way.
		return uuid.NewString()
	}
	return fmt.Sprintf("%x", bytes)
}
