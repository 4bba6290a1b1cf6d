package ws

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"chat-relay/internal/models"
	"chat-relay/internal/registry"

	"github.com/golang-jwt/jwt/v5"
)

type fakeStore struct {
	mu         sync.Mutex
	messages   map[string]*models.Message
	appendErr  error
	appendLog  []*models.Message
	patchCalls int
}

func newFakeStore() *fakeStore {
	return &fakeStore{messages: make(map[string]*models.Message)}
}

func (s *fakeStore) Append(_ context.Context, msg *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.appendErr != nil {
		return s.appendErr
	}
	cp := *msg
	s.messages[msg.ID] = &cp
	s.appendLog = append(s.appendLog, &cp)
	return nil
}

func (s *fakeStore) Delete(_ context.Context, id string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.messages[id]; !ok {
		return 0, nil
	}
	delete(s.messages, id)
	return 1, nil
}

func (s *fakeStore) Range(_ context.Context, roomID string, limit int, before int64) ([]*models.Message, error) {
	return nil, nil
}

func (s *fakeStore) Search(_ context.Context, roomID, substr string) ([]*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Message
	for _, m := range s.messages {
		if m.RoomID == roomID && m.Type == models.MessageTypeText &&
			strings.Contains(strings.ToLower(m.Content), strings.ToLower(substr)) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *fakeStore) PatchAuthorAvatar(_ context.Context, identity, avatarURL string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.patchCalls++
	return 0, nil
}

func (s *fakeStore) appendCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.appendLog)
}

func (s *fakeStore) setAppendErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendErr = err
}

func (s *fakeStore) has(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.messages[id]
	return ok
}

func (s *fakeStore) seed(msg *models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[msg.ID] = msg
}

type fakeVerifier struct{}

func (fakeVerifier) Verify(_ context.Context, token string) (*jwt.MapClaims, error) {
	if token == "" || token == "bad-token" {
		return nil, errors.New("token rejected")
	}
	return &jwt.MapClaims{}, nil
}

type fakeBot struct {
	calls chan [3]string
}

func newFakeBot() *fakeBot {
	return &fakeBot{calls: make(chan [3]string, 4)}
}

func (b *fakeBot) Reply(roomID, identity, prompt string) {
	b.calls <- [3]string{roomID, identity, prompt}
}

func newTestGateway(store *fakeStore, bot BotResponder) *Gateway {
	reg := registry.New()
	return NewGateway(reg, NewBroadcaster(reg), store, fakeVerifier{}, bot, GatewayConfig{
		VerifyTimeout: time.Second,
		MentionToken:  "@DeepSeek",
	})
}

func frameJSON(t *testing.T, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal frame: %v", err)
	}
	return data
}

func loginFrame(t *testing.T, identity, room string) []byte {
	return frameJSON(t, map[string]string{
		"type": "login", "token": "good-token", "identity": identity, "roomId": room,
	})
}

func chatFrame(t *testing.T, content string) []byte {
	return frameJSON(t, map[string]string{
		"type": "chat", "msgType": "text", "content": content,
	})
}

// drainFrames collects everything currently buffered on the client's send
// channel, decoded as generic JSON objects.
func drainFrames(t *testing.T, c *Client) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				return out
			}
			var m map[string]interface{}
			if err := json.Unmarshal(data, &m); err != nil {
				t.Fatalf("bad frame json: %v", err)
			}
			out = append(out, m)
		default:
			return out
		}
	}
}

func TestUnauthenticatedFramesAreSilent(t *testing.T) {
	store := newFakeStore()
	g := newTestGateway(store, nil)
	c := g.newClient(nil)

	c.handleFrame(chatFrame(t, "sneaky"))
	c.handleFrame(frameJSON(t, map[string]string{"type": "recall", "messageId": "m1"}))

	if store.appendCount() != 0 {
		t.Fatalf("unauthenticated chat must not touch the store, got %d appends", store.appendCount())
	}
	if frames := drainFrames(t, c); len(frames) != 0 {
		t.Fatalf("unauthenticated connection must receive nothing, got %v", frames)
	}
}

func TestLoginSuccessRegistersAndAnnounces(t *testing.T) {
	store := newFakeStore()
	g := newTestGateway(store, nil)
	c := g.newClient(nil)

	c.handleFrame(loginFrame(t, "alice", "group1"))

	if _, ok := g.registry.Get(c.handle); !ok {
		t.Fatal("expected registry entry after successful login")
	}

	frames := drainFrames(t, c)
	if len(frames) != 2 {
		t.Fatalf("expected join message + presence update, got %d frames: %v", len(frames), frames)
	}
	if frames[0]["type"] != "system" || frames[0]["authorId"] != "System" {
		t.Fatalf("expected system join message first, got %v", frames[0])
	}
	if !strings.Contains(frames[0]["content"].(string), "alice") {
		t.Fatalf("join message should name alice: %v", frames[0]["content"])
	}
	if frames[1]["type"] != "users_update" {
		t.Fatalf("expected users_update second, got %v", frames[1])
	}

	if store.appendCount() != 1 {
		t.Fatalf("join message must be persisted, got %d appends", store.appendCount())
	}
}

func TestLoginFailureSendsErrorAndNeverRegisters(t *testing.T) {
	store := newFakeStore()
	g := newTestGateway(store, nil)
	c := g.newClient(nil)

	c.handleFrame(frameJSON(t, map[string]string{
		"type": "login", "token": "bad-token", "identity": "mallory", "roomId": "group1",
	}))

	frames := drainFrames(t, c)
	if len(frames) != 1 || frames[0]["type"] != "error" {
		t.Fatalf("expected exactly one error frame, got %v", frames)
	}
	if _, ok := g.registry.Get(c.handle); ok {
		t.Fatal("failed login must not create a registry entry")
	}
	if store.appendCount() != 0 {
		t.Fatal("failed login must not persist anything")
	}
	if !c.sendDone {
		t.Fatal("connection must be shutting down after auth failure")
	}
}

func TestDefaultRoomWhenLoginOmitsIt(t *testing.T) {
	g := newTestGateway(newFakeStore(), nil)
	c := g.newClient(nil)

	c.handleFrame(loginFrame(t, "alice", ""))

	s, ok := g.registry.Get(c.handle)
	if !ok || s.RoomID != "public" {
		t.Fatalf("expected default room public, got %+v", s)
	}
}

// Two sessions join group1 as alice and bob; alice says hi. Both must see
// one chat message and the presence updates for each join.
func TestTwoUserChatScenario(t *testing.T) {
	store := newFakeStore()
	g := newTestGateway(store, nil)

	alice := g.newClient(nil)
	bob := g.newClient(nil)

	alice.handleFrame(loginFrame(t, "alice", "group1"))
	bob.handleFrame(loginFrame(t, "bob", "group1"))
	alice.handleFrame(chatFrame(t, "hi"))

	aliceFrames := drainFrames(t, alice)
	bobFrames := drainFrames(t, bob)

	var alicePresence [][]interface{}
	var aliceChats []map[string]interface{}
	for _, f := range aliceFrames {
		switch f["type"] {
		case "users_update":
			alicePresence = append(alicePresence, f["users"].([]interface{}))
		case "text":
			aliceChats = append(aliceChats, f)
		}
	}

	if len(alicePresence) != 2 {
		t.Fatalf("alice should see two presence updates, got %d", len(alicePresence))
	}
	if len(alicePresence[0]) != 1 || alicePresence[0][0] != "alice" {
		t.Fatalf("first presence update should be [alice], got %v", alicePresence[0])
	}
	if len(alicePresence[1]) != 2 || alicePresence[1][0] != "alice" || alicePresence[1][1] != "bob" {
		t.Fatalf("second presence update should be [alice bob], got %v", alicePresence[1])
	}

	if len(aliceChats) != 1 || aliceChats[0]["content"] != "hi" || aliceChats[0]["authorId"] != "alice" {
		t.Fatalf("alice should see her own chat message once, got %v", aliceChats)
	}

	var bobChats []map[string]interface{}
	for _, f := range bobFrames {
		if f["type"] == "text" {
			bobChats = append(bobChats, f)
		}
	}
	if len(bobChats) != 1 || bobChats[0]["content"] != "hi" || bobChats[0]["authorId"] != "alice" {
		t.Fatalf("bob should see alice's message once, got %v", bobChats)
	}
}

func TestAppendFailureSuppressesBroadcast(t *testing.T) {
	store := newFakeStore()
	g := newTestGateway(store, nil)

	alice := g.newClient(nil)
	bob := g.newClient(nil)
	alice.handleFrame(loginFrame(t, "alice", "group1"))
	bob.handleFrame(loginFrame(t, "bob", "group1"))
	drainFrames(t, alice)
	drainFrames(t, bob)

	store.setAppendErr(errors.New("disk on fire"))
	alice.handleFrame(chatFrame(t, "lost"))

	if frames := drainFrames(t, bob); len(frames) != 0 {
		t.Fatalf("no client may see a message the store did not retain, got %v", frames)
	}
}

func TestRecallBroadcastsOnlyOnDeletion(t *testing.T) {
	store := newFakeStore()
	g := newTestGateway(store, nil)

	alice := g.newClient(nil)
	bob := g.newClient(nil)
	alice.handleFrame(loginFrame(t, "alice", "group1"))
	bob.handleFrame(loginFrame(t, "bob", "group1"))
	drainFrames(t, alice)
	drainFrames(t, bob)

	store.seed(&models.Message{ID: "m1", Type: models.MessageTypeText, Content: "oops", AuthorID: "alice", RoomID: "group1"})

	recall := frameJSON(t, map[string]string{"type": "recall", "messageId": "m1"})
	alice.handleFrame(recall)

	frames := drainFrames(t, bob)
	if len(frames) != 1 || frames[0]["type"] != "recall" || frames[0]["messageId"] != "m1" {
		t.Fatalf("bob should see one recall event, got %v", frames)
	}
	if store.has("m1") {
		t.Fatal("recalled message must be gone from the store")
	}

	// Second recall of the same id: already absent, no event.
	alice.handleFrame(recall)
	if frames := drainFrames(t, bob); len(frames) != 0 {
		t.Fatalf("repeated recall must not broadcast, got %v", frames)
	}
}

// Documents the current permissive policy: any authenticated session may
// recall any message, not just its author.
func TestRecallByNonAuthorIsPermitted(t *testing.T) {
	store := newFakeStore()
	g := newTestGateway(store, nil)

	alice := g.newClient(nil)
	bob := g.newClient(nil)
	alice.handleFrame(loginFrame(t, "alice", "group1"))
	bob.handleFrame(loginFrame(t, "bob", "group1"))
	drainFrames(t, alice)
	drainFrames(t, bob)

	store.seed(&models.Message{ID: "m1", Type: models.MessageTypeText, Content: "alice's words", AuthorID: "alice", RoomID: "group1"})

	bob.handleFrame(frameJSON(t, map[string]string{"type": "recall", "messageId": "m1"}))

	if store.has("m1") {
		t.Fatal("bob's recall of alice's message should succeed under the permissive policy")
	}
	frames := drainFrames(t, alice)
	if len(frames) != 1 || frames[0]["type"] != "recall" {
		t.Fatalf("alice should see the recall event, got %v", frames)
	}
}

func TestTeardownAnnouncesLeaveAndUpdatesPresence(t *testing.T) {
	store := newFakeStore()
	g := newTestGateway(store, nil)

	alice := g.newClient(nil)
	bob := g.newClient(nil)
	alice.handleFrame(loginFrame(t, "alice", "group1"))
	bob.handleFrame(loginFrame(t, "bob", "group1"))
	drainFrames(t, alice)
	drainFrames(t, bob)

	alice.teardown()

	if _, ok := g.registry.Get(alice.handle); ok {
		t.Fatal("teardown must remove the registry entry")
	}

	frames := drainFrames(t, bob)
	if len(frames) != 2 {
		t.Fatalf("bob should see leave message + presence update, got %v", frames)
	}
	if frames[0]["type"] != "system" || !strings.Contains(frames[0]["content"].(string), "alice") {
		t.Fatalf("expected leave message naming alice, got %v", frames[0])
	}
	users := frames[1]["users"].([]interface{})
	if len(users) != 1 || users[0] != "bob" {
		t.Fatalf("presence after alice leaves should be [bob], got %v", users)
	}

	// Teardown is idempotent; a second run has no room-visible effect.
	alice.teardown()
	if frames := drainFrames(t, bob); len(frames) != 0 {
		t.Fatalf("second teardown must be silent, got %v", frames)
	}
}

func TestPreAuthDisconnectHasNoSideEffects(t *testing.T) {
	store := newFakeStore()
	g := newTestGateway(store, nil)

	observer := g.newClient(nil)
	observer.handleFrame(loginFrame(t, "alice", "group1"))
	drainFrames(t, observer)

	ghost := g.newClient(nil)
	ghost.teardown()

	if store.appendCount() != 1 {
		t.Fatalf("pre-auth disconnect must not persist anything, got %d appends", store.appendCount())
	}
	if frames := drainFrames(t, observer); len(frames) != 0 {
		t.Fatalf("pre-auth disconnect must not broadcast, got %v", frames)
	}
}

func TestMalformedFrameIsIgnored(t *testing.T) {
	store := newFakeStore()
	g := newTestGateway(store, nil)
	c := g.newClient(nil)
	c.handleFrame(loginFrame(t, "alice", "group1"))
	drainFrames(t, c)

	c.handleFrame([]byte("{not json"))
	c.handleFrame(frameJSON(t, map[string]string{"type": "totally-unknown"}))

	// Connection survives: a normal chat still works.
	c.handleFrame(chatFrame(t, "still here"))
	frames := drainFrames(t, c)
	if len(frames) != 1 || frames[0]["content"] != "still here" {
		t.Fatalf("connection should survive malformed frames, got %v", frames)
	}
}

func TestBotMentionFiresSideChannel(t *testing.T) {
	store := newFakeStore()
	bot := newFakeBot()
	g := newTestGateway(store, bot)

	c := g.newClient(nil)
	c.handleFrame(loginFrame(t, "alice", "group1"))
	drainFrames(t, c)

	c.handleFrame(chatFrame(t, "@DeepSeek what is Go?"))

	select {
	case call := <-bot.calls:
		if call[0] != "group1" || call[1] != "alice" || call[2] != "what is Go?" {
			t.Fatalf("unexpected bot call: %v", call)
		}
	case <-time.After(time.Second):
		t.Fatal("bot side channel was never invoked")
	}

	// The triggering message itself is delivered regardless of the bot.
	frames := drainFrames(t, c)
	if len(frames) != 1 || frames[0]["authorId"] != "alice" {
		t.Fatalf("primary broadcast must not wait for the bot, got %v", frames)
	}
}

func TestChatWithoutMentionLeavesBotIdle(t *testing.T) {
	bot := newFakeBot()
	g := newTestGateway(newFakeStore(), bot)

	c := g.newClient(nil)
	c.handleFrame(loginFrame(t, "alice", "group1"))
	c.handleFrame(chatFrame(t, "plain message"))

	select {
	case call := <-bot.calls:
		t.Fatalf("bot must not be invoked without a mention, got %v", call)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestChatAssignsServerTimestampAndID(t *testing.T) {
	store := newFakeStore()
	g := newTestGateway(store, nil)
	c := g.newClient(nil)
	c.handleFrame(loginFrame(t, "alice", "group1"))
	drainFrames(t, c)

	before := time.Now().UnixMilli()
	c.handleFrame(chatFrame(t, "hello"))
	after := time.Now().UnixMilli()

	frames := drainFrames(t, c)
	if len(frames) != 1 {
		t.Fatalf("expected one chat frame, got %v", frames)
	}
	msg := frames[0]
	if msg["id"] == "" || msg["id"] == nil {
		t.Fatal("message must carry a server-assigned id")
	}
	ts := int64(msg["timestamp"].(float64))
	if ts < before || ts > after {
		t.Fatalf("server timestamp %d outside [%d, %d]", ts, before, after)
	}

	// IDs are unique per message.
	c.handleFrame(chatFrame(t, "hello again"))
	frames2 := drainFrames(t, c)
	if frames2[0]["id"] == msg["id"] {
		t.Fatal("two messages must never share an id")
	}
}
