package session

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/agentmesh/internal/identity"
)

type fakeConn struct {
	closed  bool
	written []interface{}
}

func (c *fakeConn) WriteJSON(v interface{}) error {
	c.written = append(c.written, v)
	return nil
}

func (c *fakeConn) Close() error {
	c.closed = true
	return nil
}

func newTestTable(t *testing.T) (*Table, *identity.Registry) {
	t.Helper()
	reg := identity.NewRegistry(identity.NewPersister(filepath.Join(t.TempDir(), "identities.json")))
	reg.Load()
	return NewTable(reg), reg
}

func TestCreateRequiresTokenOrName(t *testing.T) {
	table, _ := newTestTable(t)
	if _, err := table.Create(&fakeConn{}, "", "", "role"); err != ErrMissingIdentity {
		t.Fatalf("expected ErrMissingIdentity, got %v", err)
	}
	if _, err := table.Create(&fakeConn{}, "bogus-token", "", "role"); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestCreateDetachesPriorActiveSession(t *testing.T) {
	table, reg := newTestTable(t)

	first, err := table.Create(&fakeConn{}, "", "alice", "researcher")
	if err != nil {
		t.Fatalf("first Create failed: %v", err)
	}
	table.Bump(first.SessionID, CounterMessages)
	table.Bump(first.SessionID, CounterEdits)

	second, err := table.Create(&fakeConn{}, "", "alice", "researcher")
	if err != nil {
		t.Fatalf("second Create failed: %v", err)
	}
	if first.AgentID != second.AgentID {
		t.Fatal("expected both sessions to resolve to the same agent")
	}

	if _, ok := table.Get(first.SessionID); ok {
		t.Fatal("expected the detached session to be dropped from the table")
	}

	// The detached session's counters must have been rolled into the
	// identity, not lost with the stale entry.
	id, _ := reg.Get(first.AgentID)
	if id.Stats.TotalMessages != 1 || id.Stats.TotalEdits != 1 {
		t.Fatalf("expected rolled-up stats messages=1 edits=1, got %+v", id.Stats)
	}

	active := table.Active()
	if len(active) != 1 || active[0].SessionID != second.SessionID {
		t.Fatalf("expected exactly the second session active, got %+v", active)
	}
}

func TestUniqueActiveAgentsDedupes(t *testing.T) {
	table, _ := newTestTable(t)

	table.Create(&fakeConn{}, "", "alice", "r")
	table.Create(&fakeConn{}, "", "bob", "r")

	unique := table.UniqueActiveAgents()
	if len(unique) != 2 {
		t.Fatalf("expected 2 unique active agents, got %d", len(unique))
	}
}

func TestBumpAndRemoveRollsStatsIntoIdentity(t *testing.T) {
	table, reg := newTestTable(t)

	sess, err := table.Create(&fakeConn{}, "", "carol", "r")
	if err != nil {
		t.Fatal(err)
	}

	table.Bump(sess.SessionID, CounterMessages)
	table.Bump(sess.SessionID, CounterMessages)
	table.Bump(sess.SessionID, CounterEdits)

	table.Remove(sess.SessionID)

	if _, ok := table.Get(sess.SessionID); ok {
		t.Fatal("expected session to be removed from the table")
	}

	id, ok := reg.Get(sess.AgentID)
	if !ok {
		t.Fatal("expected identity to still exist")
	}
	if id.Stats.TotalMessages != 2 || id.Stats.TotalEdits != 1 {
		t.Fatalf("expected rolled-up stats messages=2 edits=1, got %+v", id.Stats)
	}
	if id.Connected() {
		t.Fatal("expected identity disconnected after session removal")
	}
}

func TestChangeRoleUpdatesSessionAndIdentity(t *testing.T) {
	table, reg := newTestTable(t)
	sess, _ := table.Create(&fakeConn{}, "", "dave", "researcher")

	table.ChangeRole(sess.SessionID, "architect")

	got, _ := table.Get(sess.SessionID)
	if got.CurrentRole != "architect" {
		t.Fatalf("expected session role architect, got %s", got.CurrentRole)
	}
	id, _ := reg.Get(sess.AgentID)
	if id.CurrentRole != "architect" {
		t.Fatalf("expected identity role architect, got %s", id.CurrentRole)
	}

	byRole := table.ByRole("architect")
	if len(byRole) != 1 {
		t.Fatalf("expected 1 session with role architect, got %d", len(byRole))
	}
}

// TestConcurrentBumpConvergesUnderContention exercises many goroutines
// racing on the same session's counters, asserting the final tally with
// require.Eventually since the bumps complete asynchronously relative to the
// assertion goroutine.
func TestConcurrentBumpConvergesUnderContention(t *testing.T) {
	table, _ := newTestTable(t)
	sess, err := table.Create(&fakeConn{}, "", "frank", "r")
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 50; i++ {
		go table.Bump(sess.SessionID, CounterMessages)
	}

	require.Eventually(t, func() bool {
		got, ok := table.Get(sess.SessionID)
		return ok && got.snapshot().Messages == 50
	}, time.Second, 5*time.Millisecond, "expected all 50 concurrent bumps to be reflected")
}

func TestByPerspectiveAndActivePerspectives(t *testing.T) {
	table, _ := newTestTable(t)
	sess, _ := table.Create(&fakeConn{}, "", "erin", "r")

	table.ChangePerspective(sess.SessionID, "skeptic", "assigned")

	matches := table.ByPerspective("skeptic")
	if len(matches) != 1 {
		t.Fatalf("expected 1 session with perspective skeptic, got %d", len(matches))
	}

	perspectives := table.ActivePerspectives()
	if len(perspectives) != 1 || perspectives[0] != "skeptic" {
		t.Fatalf("expected [skeptic], got %v", perspectives)
	}
}
