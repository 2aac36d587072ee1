package hub

import (
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/agentmesh/internal/bus"
	"github.com/agentmesh/internal/discussion"
	"github.com/agentmesh/internal/identity"
	"github.com/agentmesh/internal/policy"
	"github.com/agentmesh/internal/session"
	"github.com/agentmesh/internal/tasklock"
)

type fakeConn struct {
	mu     sync.Mutex
	frames []map[string]interface{}
}

func (c *fakeConn) WriteJSON(v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var m map[string]interface{}
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, m)
	return nil
}

func (c *fakeConn) Close() error { return nil }

func (c *fakeConn) last() map[string]interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.frames) == 0 {
		return nil
	}
	return c.frames[len(c.frames)-1]
}

func (c *fakeConn) types() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.frames))
	for i, f := range c.frames {
		out[i], _ = f["type"].(string)
	}
	return out
}

func newTestHub(t *testing.T) (*Hub, *identity.Registry) {
	t.Helper()
	dir := t.TempDir()
	reg := identity.NewRegistry(identity.NewPersister(filepath.Join(dir, "identities.json")))
	reg.Load()

	store, err := tasklock.NewClaimStore(filepath.Join(dir, "claims.db"), filepath.Join(dir, "claims.json"))
	if err != nil {
		t.Fatalf("NewClaimStore failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	board := discussion.NewBoard(filepath.Join(dir, "DISCUSSION_BOARD.md"))
	sessions := session.NewTable(reg)

	h := New(sessions, reg, nil, board, policy.NoopAntiEcho{}, policy.NoopOrchestrator{}, policy.NoopEditCoordinator{}, "1.0.0")
	locks := tasklock.NewManager(h, store)
	h.Locks = locks
	return h, reg
}

func connectSession(t *testing.T, h *Hub, name, role string) (*session.Session, *fakeConn) {
	t.Helper()
	conn := &fakeConn{}
	sess, err := h.Sessions.Create(conn, "", name, role)
	if err != nil {
		t.Fatalf("Create session failed: %v", err)
	}
	return sess, conn
}

func TestHandleInboundPingPong(t *testing.T) {
	h, _ := newTestHub(t)
	sess, conn := connectSession(t, h, "alice", "researcher")

	h.HandleInbound(sess, []byte(`{"type":"ping"}`))

	last := conn.last()
	if last["type"] != "pong" {
		t.Fatalf("expected pong, got %+v", last)
	}
}

func TestHandleInboundMalformedFrameRespondsError(t *testing.T) {
	h, _ := newTestHub(t)
	sess, conn := connectSession(t, h, "alice", "researcher")

	h.HandleInbound(sess, []byte(`not json`))

	last := conn.last()
	if last["type"] != "error" {
		t.Fatalf("expected error frame, got %+v", last)
	}
}

func TestHandleInboundUnknownTypeDefaultsToIgnored(t *testing.T) {
	h, _ := newTestHub(t)
	sess, conn := connectSession(t, h, "alice", "researcher")

	h.HandleInbound(sess, []byte(`{"type":"something-nobody-registered"}`))

	if len(conn.types()) != 0 {
		t.Fatalf("expected no reply for an unknown type under the default ignore policy, got %v", conn.types())
	}

	h.SetUnknownPolicy(UnknownRespondError)
	h.HandleInbound(sess, []byte(`{"type":"still-unknown"}`))
	last := conn.last()
	if last["type"] != "error" {
		t.Fatalf("expected error frame once policy is respond-error, got %+v", last)
	}
}

func TestHandleInboundMessageBroadcastsToOthersNotSelf(t *testing.T) {
	h, _ := newTestHub(t)
	alice, aliceConn := connectSession(t, h, "alice", "researcher")
	_, bobConn := connectSession(t, h, "bob", "researcher")

	h.HandleInbound(alice, []byte(`{"type":"message","text":"hello"}`))

	if len(aliceConn.types()) != 0 {
		t.Fatalf("expected sender to not receive its own chat broadcast, got %v", aliceConn.types())
	}
	last := bobConn.last()
	if last["type"] != "chat" || last["text"] != "hello" {
		t.Fatalf("expected bob to receive the chat broadcast, got %+v", last)
	}
}

func TestHandleInboundWhoamiReturnsIdentityCard(t *testing.T) {
	h, _ := newTestHub(t)
	sess, conn := connectSession(t, h, "alice", "researcher")

	h.HandleInbound(sess, []byte(`{"type":"whoami"}`))

	last := conn.last()
	if last["type"] != "identity-card" {
		t.Fatalf("expected identity-card, got %+v", last)
	}
	card, ok := last["card"].(map[string]interface{})
	if !ok || card["displayName"] != "alice" {
		t.Fatalf("expected card.displayName alice, got %+v", last)
	}
}

func TestHandleInboundTaskClaimAndCompleteFlow(t *testing.T) {
	h, _ := newTestHub(t)
	owner, _ := connectSession(t, h, "alice", "researcher")
	_, otherConn := connectSession(t, h, "bob", "researcher")

	h.HandleInbound(owner, []byte(`{"type":"task","action":"create","task":{"id":"t1","title":"do it"}}`))
	if last := otherConn.last(); last["type"] != "task-update" || last["event"] != "created" {
		t.Fatalf("expected task-update created broadcast, got %+v", last)
	}

	h.HandleInbound(owner, []byte(`{"type":"task","action":"claim","task":{"id":"t1"}}`))
	if last := otherConn.last(); last["type"] != "task-update" || last["event"] != "assigned" {
		t.Fatalf("expected task-update assigned broadcast, got %+v", last)
	}
	if h.Locks.IsAvailable("t1") {
		t.Fatal("expected claimed task to be unavailable")
	}

	// A second agent attempting to claim the same task must be rejected.
	second, secondConn := connectSession(t, h, "carol", "researcher")
	h.HandleInbound(second, []byte(`{"type":"task","action":"claim","task":{"id":"t1"}}`))
	if last := secondConn.last(); last["type"] != "task-rejection" {
		t.Fatalf("expected task-rejection for a second claim attempt, got %+v", last)
	}

	h.HandleInbound(owner, []byte(`{"type":"task","action":"complete","task":{"id":"t1"}}`))
	if last := otherConn.last(); last["type"] != "task-update" || last["event"] != "completed" {
		t.Fatalf("expected task-update completed broadcast, got %+v", last)
	}
	if !h.Locks.IsAvailable("t1") {
		t.Fatal("expected task to be available again after completion")
	}
}

func TestHandleInboundSwitchRoleBroadcastsAndReplies(t *testing.T) {
	h, _ := newTestHub(t)
	sess, conn := connectSession(t, h, "alice", "researcher")
	_, otherConn := connectSession(t, h, "bob", "researcher")

	h.HandleInbound(sess, []byte(`{"type":"switch-role","newRole":"architect"}`))

	last := conn.last()
	if last["type"] != "role-changed" || last["newRole"] != "architect" {
		t.Fatalf("expected role-changed reply, got %+v", last)
	}
	broadcast := otherConn.last()
	if broadcast["type"] != "session-update" {
		t.Fatalf("expected session-update broadcast to the other session, got %+v", broadcast)
	}
}

func TestHandleInboundEchoReflectsPayload(t *testing.T) {
	h, _ := newTestHub(t)
	sess, conn := connectSession(t, h, "alice", "researcher")

	h.HandleInbound(sess, []byte(`{"type":"echo","nonce":"abc123"}`))

	last := conn.last()
	if last["type"] != "echo" || last["nonce"] != "abc123" {
		t.Fatalf("expected echoed payload, got %+v", last)
	}
}

func TestHandleInboundStatusReportsLiveState(t *testing.T) {
	h, _ := newTestHub(t)
	sess, conn := connectSession(t, h, "alice", "researcher")
	connectSession(t, h, "bob", "researcher")

	h.HandleInbound(sess, []byte(`{"type":"status"}`))

	last := conn.last()
	if last["type"] != "status" {
		t.Fatalf("expected status reply, got %+v", last)
	}
	if last["activeSessions"] != float64(2) {
		t.Fatalf("expected 2 active sessions in status, got %+v", last)
	}
	if last["serverVersion"] != "1.0.0" {
		t.Fatalf("expected serverVersion in status, got %+v", last)
	}
}

func TestHandleInboundTypingRelaysToOthersNotSelf(t *testing.T) {
	h, _ := newTestHub(t)
	alice, aliceConn := connectSession(t, h, "alice", "researcher")
	_, bobConn := connectSession(t, h, "bob", "researcher")

	h.HandleInbound(alice, []byte(`{"type":"typing","file":"notes.md","isTyping":true}`))

	if len(aliceConn.types()) != 0 {
		t.Fatalf("expected no typing echo back to the sender, got %v", aliceConn.types())
	}
	last := bobConn.last()
	if last["type"] != "typing-indicator" || last["agentId"] != alice.AgentID || last["isTyping"] != true {
		t.Fatalf("expected typing-indicator relayed to bob, got %+v", last)
	}
}

// TestBroadcastDeliversThroughBus exercises the bus-backed delivery path end
// to end: the hub publishes, and frames reach connections only through their
// session subscriptions.
func TestBroadcastDeliversThroughBus(t *testing.T) {
	h, _ := newTestHub(t)

	srv, err := bus.NewEmbeddedServer(bus.EmbeddedServerConfig{Port: 0})
	if err != nil {
		t.Fatalf("NewEmbeddedServer failed: %v", err)
	}
	if err := srv.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(srv.Shutdown)

	client, err := bus.NewClient(srv.URL())
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	t.Cleanup(client.Close)
	h.Publisher = client

	alice, aliceConn := connectSession(t, h, "alice", "researcher")
	bob, bobConn := connectSession(t, h, "bob", "researcher")

	writeTo := func(conn *fakeConn) func([]byte) {
		return func(frame []byte) { _ = conn.WriteJSON(json.RawMessage(frame)) }
	}
	aliceSub, err := client.SubscribeSession(alice.SessionID, writeTo(aliceConn))
	if err != nil {
		t.Fatalf("SubscribeSession failed: %v", err)
	}
	defer aliceSub.Unsubscribe()
	bobSub, err := client.SubscribeSession(bob.SessionID, writeTo(bobConn))
	if err != nil {
		t.Fatalf("SubscribeSession failed: %v", err)
	}
	defer bobSub.Unsubscribe()

	h.HandleInbound(alice, []byte(`{"type":"message","text":"over the bus"}`))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if last := bobConn.last(); last != nil && last["type"] == "chat" {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	last := bobConn.last()
	if last == nil || last["type"] != "chat" || last["text"] != "over the bus" {
		t.Fatalf("expected chat frame via the bus, got %+v", last)
	}
	if len(aliceConn.types()) != 0 {
		t.Fatalf("expected the sender's exclusion to hold over the bus, got %v", aliceConn.types())
	}
}
