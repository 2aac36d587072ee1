// Package session implements the in-memory session table: the
// registry mapping a connection to a live session to an identity.
package session

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentmesh/internal/identity"
)

// Status is the lifecycle state of a Session.
type Status string

const (
	StatusActive       Status = "active"
	StatusIdle         Status = "idle"
	StatusDisconnected Status = "disconnected"
)

// Counter names accepted by Bump.
type Counter string

const (
	CounterEdits    Counter = "edits"
	CounterMessages Counter = "messages"
	CounterTasks    Counter = "tasks"
)

// Conn is the minimal transport handle a session needs; the real
// implementation is a *websocket.Conn wrapper owned by the frontend
// (component F). Kept as an interface here so component B never imports the
// transport package.
type Conn interface {
	WriteJSON(v interface{}) error
	Close() error
}

// Session is one connected instance of an agent.
type Session struct {
	SessionID string
	Conn      Conn
	JoinedAt  time.Time
	Status    Status
	AgentID   string

	CurrentRole        string
	CurrentPerspective string

	mu       sync.Mutex
	edits    int
	messages int
	tasks    int
}

// Snapshot is an immutable copy of a Session's externally visible fields,
// safe to read without the Table lock.
type Snapshot struct {
	SessionID          string
	JoinedAt           time.Time
	Status             Status
	AgentID            string
	CurrentRole        string
	CurrentPerspective string
	Edits              int
	Messages           int
	Tasks              int
}

func (s *Session) snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		SessionID:          s.SessionID,
		JoinedAt:           s.JoinedAt,
		Status:             s.Status,
		AgentID:            s.AgentID,
		CurrentRole:        s.CurrentRole,
		CurrentPerspective: s.CurrentPerspective,
		Edits:              s.edits,
		Messages:           s.messages,
		Tasks:              s.tasks,
	}
}

// Errors returned by Create.
var (
	ErrInvalidToken    = errors.New("session: invalid auth token")
	ErrMissingIdentity = errors.New("session: neither authToken nor displayName supplied")
)

// Table is the process-lifetime session registry (component B).
type Table struct {
	mu       sync.Mutex
	sessions map[string]*Session
	identity *identity.Registry
}

// NewTable creates a session table bound to the given identity registry.
func NewTable(reg *identity.Registry) *Table {
	return &Table{
		sessions: make(map[string]*Session),
		identity: reg,
	}
}

// Create resolves an identity (by token, by name via getOrCreate, or fails)
// and binds a new active Session to it, detaching any prior session for that
// agent.
func (t *Table) Create(conn Conn, authToken, displayName, role string) (*Session, error) {
	if authToken != "" {
		if _, ok := t.identity.AuthenticateByToken(authToken); !ok {
			return nil, ErrInvalidToken
		}
	} else if displayName == "" {
		return nil, ErrMissingIdentity
	}

	id, err := t.identity.GetOrCreate(displayName, role, authToken)
	if err != nil {
		return nil, err
	}

	sessionID := uuid.NewString()
	sess := &Session{
		SessionID:          sessionID,
		Conn:               conn,
		JoinedAt:           time.Now(),
		Status:             StatusActive,
		AgentID:            id.AgentID,
		CurrentRole:        id.CurrentRole,
		CurrentPerspective: id.CurrentPerspective,
	}

	t.mu.Lock()
	// At most one active session per agent: detach any existing one first,
	// dropping it from the table so its counters can be rolled up below
	// rather than lost with the stale entry.
	var detached []*Session
	for sid, existing := range t.sessions {
		if existing.AgentID == id.AgentID && existing.Status == StatusActive {
			existing.Status = StatusDisconnected
			delete(t.sessions, sid)
			detached = append(detached, existing)
		}
	}
	t.sessions[sessionID] = sess
	t.mu.Unlock()

	for _, old := range detached {
		snap := old.snapshot()
		t.identity.UpdateStats(snap.AgentID, identity.StatsDelta{
			Messages: snap.Messages,
			Edits:    snap.Edits,
			Tasks:    snap.Tasks,
		})
		t.identity.Disconnect(snap.SessionID)
	}

	t.identity.Connect(id.AgentID, sessionID)

	if role != "" && role != id.CurrentRole {
		t.identity.ChangeRole(id.AgentID, role, sessionID)
		sess.mu.Lock()
		sess.CurrentRole = role
		sess.mu.Unlock()
	}

	return sess, nil
}

// Get returns the session by ID.
func (t *Table) Get(sessionID string) (*Session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[sessionID]
	return s, ok
}

// All returns a snapshot of every tracked session.
func (t *Table) All() []Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Snapshot, 0, len(t.sessions))
	for _, s := range t.sessions {
		out = append(out, s.snapshot())
	}
	return out
}

// Active returns every session whose status is active.
func (t *Table) Active() []*Session {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Session, 0, len(t.sessions))
	for _, s := range t.sessions {
		if s.Status == StatusActive {
			out = append(out, s)
		}
	}
	return out
}

// ByRole returns active sessions with the given current role.
func (t *Table) ByRole(role string) []*Session {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []*Session
	for _, s := range t.sessions {
		s.mu.Lock()
		match := s.Status == StatusActive && s.CurrentRole == role
		s.mu.Unlock()
		if match {
			out = append(out, s)
		}
	}
	return out
}

// ByPerspective returns active sessions with the given current perspective.
func (t *Table) ByPerspective(p string) []*Session {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []*Session
	for _, s := range t.sessions {
		s.mu.Lock()
		match := s.Status == StatusActive && s.CurrentPerspective == p
		s.mu.Unlock()
		if match {
			out = append(out, s)
		}
	}
	return out
}

// ActivePerspectives returns the set of distinct perspectives currently held
// by active sessions.
func (t *Table) ActivePerspectives() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	seen := make(map[string]bool)
	for _, s := range t.sessions {
		s.mu.Lock()
		if s.Status == StatusActive && s.CurrentPerspective != "" {
			seen[s.CurrentPerspective] = true
		}
		s.mu.Unlock()
	}
	out := make([]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	return out
}

// UniqueActiveAgents returns at most one session per agentId among active
// sessions.
func (t *Table) UniqueActiveAgents() []*Session {
	t.mu.Lock()
	defer t.mu.Unlock()
	seen := make(map[string]bool)
	var out []*Session
	for _, s := range t.sessions {
		if s.Status == StatusActive && !seen[s.AgentID] {
			seen[s.AgentID] = true
			out = append(out, s)
		}
	}
	return out
}

// Remove rolls the session's counters into identity stats, disconnects the
// identity, then drops the session.
func (t *Table) Remove(sessionID string) {
	t.mu.Lock()
	s, ok := t.sessions[sessionID]
	if ok {
		delete(t.sessions, sessionID)
	}
	t.mu.Unlock()

	if !ok {
		return
	}

	snap := s.snapshot()
	t.identity.UpdateStats(snap.AgentID, identity.StatsDelta{
		Messages: snap.Messages,
		Edits:    snap.Edits,
		Tasks:    snap.Tasks,
	})
	t.identity.Disconnect(sessionID)
}

// SetStatus transitions a session to a new lifecycle status.
func (t *Table) SetStatus(sessionID string, status Status) {
	t.mu.Lock()
	s, ok := t.sessions[sessionID]
	t.mu.Unlock()
	if !ok {
		return
	}
	s.mu.Lock()
	s.Status = status
	s.mu.Unlock()
}

// ChangeRole updates both the session's working copy and the identity.
func (t *Table) ChangeRole(sessionID, newRole string) {
	t.mu.Lock()
	s, ok := t.sessions[sessionID]
	t.mu.Unlock()
	if !ok {
		return
	}

	s.mu.Lock()
	s.CurrentRole = newRole
	agentID := s.AgentID
	s.mu.Unlock()

	t.identity.ChangeRole(agentID, newRole, sessionID)
}

// ChangePerspective updates both the session's working copy and the identity.
func (t *Table) ChangePerspective(sessionID, perspective, reason string) {
	t.mu.Lock()
	s, ok := t.sessions[sessionID]
	t.mu.Unlock()
	if !ok {
		return
	}

	s.mu.Lock()
	s.CurrentPerspective = perspective
	agentID := s.AgentID
	s.mu.Unlock()

	t.identity.ChangePerspective(agentID, perspective, reason)
}

// Bump increments one of a session's per-session counters.
func (t *Table) Bump(sessionID string, counter Counter) {
	t.mu.Lock()
	s, ok := t.sessions[sessionID]
	t.mu.Unlock()
	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	switch counter {
	case CounterEdits:
		s.edits++
	case CounterMessages:
		s.messages++
	case CounterTasks:
		s.tasks++
	}
}
