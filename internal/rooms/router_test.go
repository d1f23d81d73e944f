package rooms

import (
	"context"
	"sync"
	"testing"

	"chat-delivery/internal/store"
)

type fakeSubscriber struct {
	id     string
	userID string

	mu     sync.Mutex
	events []string
}

func (f *fakeSubscriber) ID() string     { return f.id }
func (f *fakeSubscriber) UserID() string { return f.userID }

func (f *fakeSubscriber) Send(event string, payload interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

func (f *fakeSubscriber) received() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.events))
	copy(out, f.events)
	return out
}

type fakeConversations struct {
	byUser map[string][]string
}

func (f *fakeConversations) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	for _, id := range f.byUser[userID] {
		if id == conversationID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeConversations) IsAdmin(ctx context.Context, conversationID, userID string) (bool, error) {
	return false, nil
}

func (f *fakeConversations) FindAllConversationIDsForUser(ctx context.Context, userID string) ([]string, error) {
	return f.byUser[userID], nil
}

func (f *fakeConversations) FindByID(ctx context.Context, conversationID string) (*store.Conversation, error) {
	return nil, store.ErrNotFound
}

// loopbackBus delivers every published envelope to the other router
// synchronously, standing in for the broker between two processes.
type loopbackBus struct {
	peers []*Router
}

func (b *loopbackBus) Publish(ctx context.Context, env Envelope) error {
	for _, peer := range b.peers {
		peer.HandleEnvelope(env)
	}
	return nil
}

func TestJoinLeaveIdempotent(t *testing.T) {
	router := NewRouter(&fakeConversations{}, nil)
	sub := &fakeSubscriber{id: "s1", userID: "alice"}

	router.Join("conversation:c1", sub)
	router.Join("conversation:c1", sub)
	router.Broadcast(context.Background(), "conversation:c1", "message:new", map[string]string{"id": "m1"})
	if got := sub.received(); len(got) != 1 {
		t.Fatalf("double join must not duplicate delivery, got %v", got)
	}

	router.Leave("conversation:c1", sub)
	router.Leave("conversation:c1", sub)
	router.Broadcast(context.Background(), "conversation:c1", "message:new", nil)
	if got := sub.received(); len(got) != 1 {
		t.Fatalf("expected no delivery after leave, got %v", got)
	}
}

func TestBroadcastOnlyReachesRoomMembers(t *testing.T) {
	router := NewRouter(&fakeConversations{}, nil)
	inRoom := &fakeSubscriber{id: "s1", userID: "alice"}
	outside := &fakeSubscriber{id: "s2", userID: "mallory"}

	router.Join("conversation:c1", inRoom)
	router.Join("conversation:c2", outside)

	router.EmitToConversation(context.Background(), "c1", "message:new", map[string]string{"id": "m1"})

	if got := inRoom.received(); len(got) != 1 || got[0] != "message:new" {
		t.Fatalf("expected member to receive message:new, got %v", got)
	}
	if got := outside.received(); len(got) != 0 {
		t.Fatalf("non-member must receive nothing, got %v", got)
	}
}

func TestBroadcastExceptSkipsEverySocketOfUser(t *testing.T) {
	router := NewRouter(&fakeConversations{}, nil)
	typist1 := &fakeSubscriber{id: "s1", userID: "alice"}
	typist2 := &fakeSubscriber{id: "s2", userID: "alice"}
	watcher := &fakeSubscriber{id: "s3", userID: "bob"}

	router.Join("conversation:c1", typist1)
	router.Join("conversation:c1", typist2)
	router.Join("conversation:c1", watcher)

	router.BroadcastExcept(context.Background(), "conversation:c1", "user:typing", nil, "alice")

	if got := typist1.received(); len(got) != 0 {
		t.Fatalf("originator socket must not receive its own indicator, got %v", got)
	}
	if got := typist2.received(); len(got) != 0 {
		t.Fatalf("originator's second socket must not receive the indicator, got %v", got)
	}
	if got := watcher.received(); len(got) != 1 {
		t.Fatalf("expected watcher delivery, got %v", got)
	}
}

func TestLeaveAllRemovesFromEveryRoom(t *testing.T) {
	router := NewRouter(&fakeConversations{}, nil)
	sub := &fakeSubscriber{id: "s1", userID: "alice"}

	router.Join("conversation:c1", sub)
	router.Join("conversation:c2", sub)
	router.Join("user:alice", sub)
	router.LeaveAll(sub)

	router.Broadcast(context.Background(), "conversation:c1", "e", nil)
	router.Broadcast(context.Background(), "conversation:c2", "e", nil)
	router.Broadcast(context.Background(), "user:alice", "e", nil)

	if got := sub.received(); len(got) != 0 {
		t.Fatalf("expected nothing after LeaveAll, got %v", got)
	}
}

func TestComputeRooms(t *testing.T) {
	conversations := &fakeConversations{byUser: map[string][]string{
		"alice": {"c1", "c2"},
	}}
	router := NewRouter(conversations, nil)

	rooms, err := router.ComputeRooms(context.Background(), "alice")
	if err != nil {
		t.Fatalf("ComputeRooms failed: %v", err)
	}
	want := map[string]bool{"conversation:c1": true, "conversation:c2": true, "user:alice": true}
	if len(rooms) != len(want) {
		t.Fatalf("expected %d rooms, got %v", len(want), rooms)
	}
	for _, room := range rooms {
		if !want[room] {
			t.Fatalf("unexpected room %q in %v", room, rooms)
		}
	}
}

func TestCrossInstanceBroadcastViaBus(t *testing.T) {
	bus := &loopbackBus{}
	routerA := NewRouter(&fakeConversations{}, bus)
	routerB := NewRouter(&fakeConversations{}, bus)
	bus.peers = []*Router{routerA, routerB}

	local := &fakeSubscriber{id: "s1", userID: "alice"}
	remote := &fakeSubscriber{id: "s2", userID: "bob"}
	routerA.Join("conversation:c1", local)
	routerB.Join("conversation:c1", remote)

	routerA.Broadcast(context.Background(), "conversation:c1", "message:new", map[string]string{"id": "m1"})

	// Local delivery is direct, remote delivery crosses the bus, and the
	// publisher dropping its own envelope prevents a duplicate for local.
	if got := local.received(); len(got) != 1 {
		t.Fatalf("expected exactly one local delivery, got %v", got)
	}
	if got := remote.received(); len(got) != 1 {
		t.Fatalf("expected exactly one remote delivery, got %v", got)
	}
}

func TestBusEnvelopeHonorsExcludeUser(t *testing.T) {
	bus := &loopbackBus{}
	routerA := NewRouter(&fakeConversations{}, bus)
	routerB := NewRouter(&fakeConversations{}, bus)
	bus.peers = []*Router{routerA, routerB}

	remoteTypist := &fakeSubscriber{id: "s1", userID: "alice"}
	remoteWatcher := &fakeSubscriber{id: "s2", userID: "bob"}
	routerB.Join("conversation:c1", remoteTypist)
	routerB.Join("conversation:c1", remoteWatcher)

	routerA.BroadcastExcept(context.Background(), "conversation:c1", "user:typing", nil, "alice")

	if got := remoteTypist.received(); len(got) != 0 {
		t.Fatalf("exclusion must hold across instances, got %v", got)
	}
	if got := remoteWatcher.received(); len(got) != 1 {
		t.Fatalf("expected remote watcher delivery, got %v", got)
	}
}
