package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"chat-delivery/internal/chat"
	"chat-delivery/internal/config"
	"chat-delivery/internal/domain"
	"chat-delivery/internal/kv"
	"chat-delivery/internal/presence"
	"chat-delivery/internal/registry"
	"chat-delivery/internal/rooms"
	"chat-delivery/internal/store"
	"chat-delivery/internal/webhooks"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "gateway-test-secret"

var errConnClosed = errors.New("connection closed")

// fakeConn scripts inbound frames through a channel and records every
// outbound frame. Closing the channel ends the read loop like a client
// going away.
type fakeConn struct {
	frames chan domain.InboundFrame

	mu        sync.Mutex
	writes    []domain.OutboundFrame
	closed    bool
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{frames: make(chan domain.InboundFrame, 16)}
}

func (c *fakeConn) ReadJSON(v interface{}) error {
	frame, ok := <-c.frames
	if !ok {
		return errConnClosed
	}
	*(v.(*domain.InboundFrame)) = frame
	return nil
}

func (c *fakeConn) WriteJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = append(c.writes, v.(domain.OutboundFrame))
	return nil
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		close(c.frames)
	})
	return nil
}

func (c *fakeConn) push(event string, payload string) {
	c.frames <- domain.InboundFrame{Event: event, Data: json.RawMessage(payload)}
}

func (c *fakeConn) snapshot() []domain.OutboundFrame {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.OutboundFrame, len(c.writes))
	copy(out, c.writes)
	return out
}

// waitForFrame polls until the connection has received a frame with the
// given event past the offset, failing the test on timeout.
func waitForFrame(t *testing.T, c *fakeConn, event string, offset int) domain.OutboundFrame {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, frame := range c.snapshot()[offset:] {
			if frame.Event == event {
				return frame
			}
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s frame, got %+v", event, c.snapshot())
	return domain.OutboundFrame{}
}

func countFrames(c *fakeConn, event string) int {
	n := 0
	for _, frame := range c.snapshot() {
		if frame.Event == event {
			n++
		}
	}
	return n
}

type gatewayFixture struct {
	gateway  *Gateway
	registry *registry.Registry
	presence *presence.Engine
	store    *store.KVStore
}

func newGatewayFixture(t *testing.T) *gatewayFixture {
	t.Helper()
	kvStore := kv.NewMemoryStore()
	chatStore := store.NewKVStore(kvStore)
	if err := chatStore.SaveConversation(context.Background(), &store.Conversation{
		ID:   "c1",
		Type: "group",
		Participants: []store.Participant{
			{UserID: "alice", Role: store.RoleAdmin},
			{UserID: "bob", Role: store.RoleMember},
		},
	}); err != nil {
		t.Fatalf("failed to seed conversation: %v", err)
	}

	presenceCfg := config.PresenceConfig{
		TypingTTL:     5 * time.Second,
		RecordingTTL:  30 * time.Second,
		AwayThreshold: 5 * time.Minute,
		LastSeenTTL:   30 * 24 * time.Hour,
		SocketTTL:     24 * time.Hour,
	}
	reg := registry.NewRegistry(kvStore, presenceCfg.SocketTTL)
	engine := presence.NewEngine(kvStore, presenceCfg)
	router := rooms.NewRouter(chatStore, nil)
	dispatcher := webhooks.NewDispatcher(config.WebhookConfig{})
	service := chat.NewService(chatStore, chatStore, router, engine, dispatcher)

	return &gatewayFixture{
		gateway:  NewGateway(testSecret, reg, engine, router, service, chatStore, dispatcher),
		registry: reg,
		presence: engine,
		store:    chatStore,
	}
}

func signToken(t *testing.T, userID string) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"externalUserId": userID,
	}).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return token
}

// connect runs a session in the background and returns once the handshake
// frame arrived.
func (f *gatewayFixture) connect(t *testing.T, userID string) (*fakeConn, func()) {
	t.Helper()
	conn := newFakeConn()
	done := make(chan struct{})
	go func() {
		f.gateway.HandleConnection(context.Background(), conn, signToken(t, userID))
		close(done)
	}()
	waitForFrame(t, conn, domain.EventConnected, 0)
	return conn, func() {
		conn.Close()
		<-done
	}
}

func TestInvalidTokenIsRejectedBeforeRegistration(t *testing.T) {
	f := newGatewayFixture(t)
	conn := newFakeConn()

	f.gateway.HandleConnection(context.Background(), conn, "not-a-token")

	writes := conn.snapshot()
	if len(writes) != 1 || writes[0].Event != domain.EventError {
		t.Fatalf("expected a single error frame, got %+v", writes)
	}
	payload := writes[0].Data.(domain.ErrorPayload)
	if payload.Code != domain.CodeUnauthorized {
		t.Fatalf("expected UNAUTHORIZED, got %s", payload.Code)
	}
	if !conn.closed {
		t.Fatal("connection must be closed after auth failure")
	}
	if online, _ := f.registry.IsOnline(context.Background(), "alice"); online {
		t.Fatal("no registration may happen before authentication")
	}
}

func TestConnectHandshakeAndPresenceLifecycle(t *testing.T) {
	f := newGatewayFixture(t)
	ctx := context.Background()

	conn, finish := f.connect(t, "alice")

	if online, _ := f.registry.IsOnline(ctx, "alice"); !online {
		t.Fatal("expected alice registered after connect")
	}
	record, _ := f.presence.Status(ctx, "alice")
	if record.Status != domain.StatusOnline {
		t.Fatalf("expected alice online, got %s", record.Status)
	}

	handshake := waitForFrame(t, conn, domain.EventConnected, 0)
	data := handshake.Data.(map[string]interface{})
	if data["userId"] != "alice" || data["socketId"] == "" {
		t.Fatalf("unexpected handshake payload: %v", data)
	}

	finish()

	if online, _ := f.registry.IsOnline(ctx, "alice"); online {
		t.Fatal("expected alice deregistered after disconnect")
	}
	record, _ = f.presence.Status(ctx, "alice")
	if record.Status != domain.StatusOffline || record.LastSeen == nil {
		t.Fatalf("expected offline with lastSeen, got %+v", record)
	}
}

func TestPingPong(t *testing.T) {
	f := newGatewayFixture(t)
	conn, finish := f.connect(t, "alice")
	defer finish()

	conn.push(domain.EventPing, `{}`)
	waitForFrame(t, conn, domain.EventPong, 0)
}

func TestSendMessageFansOutAndAcks(t *testing.T) {
	f := newGatewayFixture(t)
	aliceConn, finishAlice := f.connect(t, "alice")
	defer finishAlice()
	bobConn, finishBob := f.connect(t, "bob")
	defer finishBob()

	aliceConn.push(domain.EventMessageSend, `{"conversationId":"c1","content":"hi"}`)

	ack := waitForFrame(t, aliceConn, domain.EventAck, 0)
	ackData := ack.Data.(domain.AckData)
	if ackData.Event != domain.EventMessageSend || !ackData.Success {
		t.Fatalf("expected successful ack for message:send, got %+v", ackData)
	}
	if ackData.Result["message"].(*store.Message).Content != "hi" {
		t.Fatalf("expected the stored message in the ack, got %+v", ackData.Result)
	}

	frame := waitForFrame(t, bobConn, domain.EventMessageNew, 0)
	if frame.Data.(*store.Message).Content != "hi" {
		t.Fatalf("unexpected broadcast payload: %+v", frame.Data)
	}
}

func TestNonParticipantGetsForbiddenAndNothingLeaks(t *testing.T) {
	f := newGatewayFixture(t)
	bobConn, finishBob := f.connect(t, "bob")
	defer finishBob()
	malloryConn, finishMallory := f.connect(t, "mallory")
	defer finishMallory()

	malloryConn.push(domain.EventMessageSend, `{"conversationId":"c1","content":"let me in"}`)

	frame := waitForFrame(t, malloryConn, domain.EventError, 0)
	payload := frame.Data.(domain.ErrorPayload)
	if payload.Code != domain.CodeForbidden {
		t.Fatalf("expected FORBIDDEN, got %s", payload.Code)
	}
	if payload.Event != domain.EventMessageSend {
		t.Fatalf("error frame must name the offending event, got %q", payload.Event)
	}

	malloryConn.push(domain.EventRoomJoin, `{"conversationId":"c1"}`)
	waitForFrame(t, malloryConn, domain.EventError, len(malloryConn.snapshot()))

	if n := countFrames(bobConn, domain.EventMessageNew); n != 0 {
		t.Fatalf("room members must see nothing from a rejected sender, got %d frames", n)
	}
}

func TestTypingIndicatorNeverEchoesToSender(t *testing.T) {
	f := newGatewayFixture(t)
	aliceConn, finishAlice := f.connect(t, "alice")
	defer finishAlice()
	bobConn, finishBob := f.connect(t, "bob")
	defer finishBob()

	aliceConn.push(domain.EventTypingStart, `{"conversationId":"c1"}`)

	frame := waitForFrame(t, bobConn, domain.EventUserTyping, 0)
	data := frame.Data.(map[string]interface{})
	if data["userId"] != "alice" || data["isActive"] != true {
		t.Fatalf("unexpected typing payload: %v", data)
	}

	waitForFrame(t, aliceConn, domain.EventAck, 0)
	if n := countFrames(aliceConn, domain.EventUserTyping); n != 0 {
		t.Fatal("typing indicator must not echo to its originator")
	}
}

func TestDisconnectBroadcastsOfflineAndStopsIndicators(t *testing.T) {
	f := newGatewayFixture(t)
	aliceConn, finishAlice := f.connect(t, "alice")
	bobConn, finishBob := f.connect(t, "bob")
	defer finishBob()

	aliceConn.push(domain.EventTypingStart, `{"conversationId":"c1"}`)
	waitForFrame(t, bobConn, domain.EventUserTyping, 0)
	afterStart := len(bobConn.snapshot())

	finishAlice()

	offline := waitForFrame(t, bobConn, domain.EventUserOffline, 0)
	data := offline.Data.(map[string]interface{})
	if data["userId"] != "alice" || data["lastSeen"] == "" {
		t.Fatalf("unexpected offline payload: %v", data)
	}

	stop := waitForFrame(t, bobConn, domain.EventUserTyping, afterStart)
	stopData := stop.Data.(map[string]interface{})
	if stopData["isActive"] != false {
		t.Fatalf("expected a stop indicator after disconnect, got %v", stopData)
	}
}

func TestSecondDeviceKeepsUserOnline(t *testing.T) {
	f := newGatewayFixture(t)
	ctx := context.Background()

	_, finishFirst := f.connect(t, "alice")
	_, finishSecond := f.connect(t, "alice")

	finishFirst()
	if online, _ := f.registry.IsOnline(ctx, "alice"); !online {
		t.Fatal("alice must stay online while the second device is connected")
	}
	record, _ := f.presence.Status(ctx, "alice")
	if record.Status != domain.StatusOnline {
		t.Fatalf("expected online, got %s", record.Status)
	}

	finishSecond()
	if online, _ := f.registry.IsOnline(ctx, "alice"); online {
		t.Fatal("alice must be offline after the last device disconnects")
	}
}

func TestUnknownEventYieldsValidationError(t *testing.T) {
	f := newGatewayFixture(t)
	conn, finish := f.connect(t, "alice")
	defer finish()

	conn.push("no:such:event", `{}`)

	frame := waitForFrame(t, conn, domain.EventError, 0)
	payload := frame.Data.(domain.ErrorPayload)
	if payload.Code != domain.CodeValidation {
		t.Fatalf("expected VALIDATION_ERROR, got %s", payload.Code)
	}
}

func TestMessagesSyncReturnsPageToRequesterOnly(t *testing.T) {
	f := newGatewayFixture(t)
	aliceConn, finishAlice := f.connect(t, "alice")
	defer finishAlice()
	bobConn, finishBob := f.connect(t, "bob")
	defer finishBob()

	aliceConn.push(domain.EventMessageSend, `{"conversationId":"c1","content":"one"}`)
	waitForFrame(t, aliceConn, domain.EventAck, 0)
	waitForFrame(t, bobConn, domain.EventMessageNew, 0)

	bobBefore := len(bobConn.snapshot())
	aliceBefore := len(aliceConn.snapshot())
	aliceConn.push(domain.EventMessagesSync, `{"conversationId":"c1"}`)

	ack := waitForFrame(t, aliceConn, domain.EventAck, aliceBefore)
	ackData := ack.Data.(domain.AckData)
	if ackData.Event != domain.EventMessagesSync || !ackData.Success {
		t.Fatalf("expected successful sync ack, got %+v", ackData)
	}
	messages := ackData.Result["messages"].([]store.Message)
	if len(messages) != 1 || messages[0].Content != "one" {
		t.Fatalf("unexpected sync result: %+v", messages)
	}
	if len(bobConn.snapshot()) != bobBefore {
		t.Fatal("sync must not broadcast to the room")
	}
}
