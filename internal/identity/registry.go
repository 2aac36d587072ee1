package identity

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentmesh/internal/utils"
)

// ErrNameTaken is returned by RegisterNew when the requested display name
// already belongs to another identity.
var ErrNameTaken = errors.New("identity: display name already taken")

// ErrInvalidName is returned when a required display name is missing or
// fails basic validation.
var ErrInvalidName = errors.New("identity: invalid display name")

// Registry is the atomic, durable identity store (component A). All public
// methods are total: concurrent callers observe a serialized view and no
// method panics on a contract violation other than the ones documented.
type Registry struct {
	mu sync.Mutex

	byID    map[string]*Identity
	byName  map[string]*Identity
	byToken map[string]*Identity

	persist *Persister
}

// NewRegistry creates an empty registry backed by the given persister. Call
// Load before serving traffic to restore prior state.
func NewRegistry(persist *Persister) *Registry {
	return &Registry{
		byID:    make(map[string]*Identity),
		byName:  make(map[string]*Identity),
		byToken: make(map[string]*Identity),
		persist: persist,
	}
}

// Load restores identities from the durable snapshot. A missing or corrupt
// file is logged and treated as an empty registry.
func (r *Registry) Load() {
	ids, err := r.persist.Load()
	if err != nil {
		log.Printf("[IDENTITY] snapshot load failed, starting empty: %v", err)
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		// A restored identity is never "connected"; a fresh process has no
		// live sessions to resume.
		id.CurrentSessionID = ""
		id.LastActivityTime = nil
		r.byID[id.AgentID] = id
		r.byName[id.DisplayName] = id
		r.byToken[id.AuthToken] = id
	}
	log.Printf("[IDENTITY] restored %d identities", len(ids))
}

// snapshotLocked must be called with mu held. It persists the full set of
// identities best-effort; failures are logged, never rolled back.
func (r *Registry) snapshotLocked() {
	ids := make([]*Identity, 0, len(r.byID))
	for _, id := range r.byID {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].AgentID < ids[j].AgentID })
	if err := r.persist.Save(ids); err != nil {
		log.Printf("[IDENTITY] snapshot save failed: %v", err)
	}
}

func generateToken() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand failing is effectively unrecoverable entropy starvation;
		// fall back to a uuid so the process can still make progress.
		return uuid.NewString() + uuid.NewString()
	}
	return hex.EncodeToString(b)
}

// RegisterNew allocates a brand new identity under createNew semantics:
// fails atomically without mutation if displayName is taken.
func (r *Registry) RegisterNew(displayName, role string) (*Identity, error) {
	if !utils.IsValidDisplayName(displayName) {
		return nil, ErrInvalidName
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[displayName]; exists {
		return nil, ErrNameTaken
	}

	now := time.Now()
	id := &Identity{
		AgentID:     uuid.NewString(),
		DisplayName: displayName,
		AuthToken:   generateToken(),
		FirstSeen:   now,
		LastSeen:    now,
		CurrentRole: role,
		RoleHistory: []RoleChange{{Role: role, ChangedAt: now}},
		Stats:       NewStats(),
	}

	r.byID[id.AgentID] = id
	r.byName[id.DisplayName] = id
	r.byToken[id.AuthToken] = id
	r.snapshotLocked()

	return id.Clone(), nil
}

// registerLegacyLocked is the forceNew path: it allows a duplicate display
// name to exist, so the global-uniqueness invariant only holds for
// identities created via RegisterNew.
func (r *Registry) registerLegacyLocked(displayName, role string) *Identity {
	log.Printf("[IDENTITY] WARNING: forceNew registration for %q bypasses name uniqueness", displayName)

	now := time.Now()
	id := &Identity{
		AgentID:     uuid.NewString(),
		DisplayName: displayName,
		AuthToken:   generateToken(),
		FirstSeen:   now,
		LastSeen:    now,
		CurrentRole: role,
		RoleHistory: []RoleChange{{Role: role, ChangedAt: now}},
		Stats:       NewStats(),
	}

	r.byID[id.AgentID] = id
	// byName intentionally overwritten: the newest forceNew registration wins
	// name-based lookups (FindByDisplayName, GetOrCreate).
	r.byName[id.DisplayName] = id
	r.byToken[id.AuthToken] = id
	return id
}

// RegisterForceNew creates an identity via the legacy duplicate-name-allowed
// path.
func (r *Registry) RegisterForceNew(displayName, role string) (*Identity, error) {
	if !utils.IsValidDisplayName(displayName) {
		return nil, ErrInvalidName
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.registerLegacyLocked(displayName, role)
	r.snapshotLocked()
	return id.Clone(), nil
}

// AuthenticateByToken resolves a token to its identity, updating lastSeen.
func (r *Registry) AuthenticateByToken(token string) (*Identity, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.byToken[token]
	if !ok {
		return nil, false
	}
	id.LastSeen = time.Now()
	r.snapshotLocked()
	return id.Clone(), true
}

// FindByDisplayName looks up an identity by name in O(1).
func (r *Registry) FindByDisplayName(name string) (*Identity, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.byName[name]
	if !ok {
		return nil, false
	}
	return id.Clone(), true
}

// IsNameAvailable reports whether name has no owning identity.
func (r *Registry) IsNameAvailable(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, taken := r.byName[name]
	return !taken
}

// SuggestNames proposes up to count available names derived from base,
// trying base2..base10, then base_new, then base_agent.
func (r *Registry) SuggestNames(base string, count int) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var candidates []string
	for n := 2; n <= 10; n++ {
		candidates = append(candidates, fmt.Sprintf("%s%d", base, n))
	}
	candidates = append(candidates, base+"_new", base+"_agent")

	out := make([]string, 0, count)
	for _, c := range candidates {
		if len(out) >= count {
			break
		}
		if _, taken := r.byName[c]; !taken {
			out = append(out, c)
		}
	}
	return out
}

// GetOrCreate resolves an identity in a fixed order: token (if
// supplied and valid) beats existing name beats freshly created.
func (r *Registry) GetOrCreate(displayName, role, token string) (*Identity, error) {
	r.mu.Lock()

	if token != "" {
		if id, ok := r.byToken[token]; ok {
			id.LastSeen = time.Now()
			clone := id.Clone()
			r.snapshotLocked()
			r.mu.Unlock()
			return clone, nil
		}
	}

	if displayName != "" {
		if id, ok := r.byName[displayName]; ok {
			id.LastSeen = time.Now()
			clone := id.Clone()
			r.snapshotLocked()
			r.mu.Unlock()
			return clone, nil
		}
	}
	r.mu.Unlock()

	if !utils.IsValidDisplayName(displayName) {
		return nil, ErrInvalidName
	}
	return r.RegisterNew(displayName, role)
}

// Connect binds a session to an identity, detaching any previous session.
func (r *Registry) Connect(agentID, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.byID[agentID]
	if !ok {
		return
	}

	now := time.Now()
	id.CurrentSessionID = sessionID
	id.LastActivityTime = &now
	id.Stats.TotalSessions++
	r.snapshotLocked()
}

// Disconnect clears session linkage for whichever identity currently holds
// sessionID. Idempotent.
func (r *Registry) Disconnect(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, id := range r.byID {
		if id.CurrentSessionID == sessionID {
			id.CurrentSessionID = ""
			id.LastActivityTime = nil
			r.snapshotLocked()
			return
		}
	}
}

// ChangeRole pushes the previous role into history and sets the new one.
func (r *Registry) ChangeRole(agentID, newRole, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.byID[agentID]
	if !ok {
		return
	}

	id.RoleHistory = append(id.RoleHistory, RoleChange{
		Role:      id.CurrentRole,
		ChangedAt: time.Now(),
		SessionID: sessionID,
	})
	id.CurrentRole = newRole
	r.snapshotLocked()
}

// ChangePerspective pushes the previous perspective (if any) into history.
func (r *Registry) ChangePerspective(agentID, newPerspective, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.byID[agentID]
	if !ok {
		return
	}

	if id.CurrentPerspective != "" {
		id.PerspectiveHistory = append(id.PerspectiveHistory, PerspectiveChange{
			Perspective: id.CurrentPerspective,
			ChangedAt:   time.Now(),
			Reason:      reason,
		})
	}
	id.CurrentPerspective = newPerspective
	r.snapshotLocked()
}

// TouchActivity refreshes lastActivityTime only if the identity is connected.
func (r *Registry) TouchActivity(agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.byID[agentID]
	if !ok || !id.Connected() {
		return
	}
	now := time.Now()
	id.LastActivityTime = &now
}

// CleanupInactive disconnects every connected identity whose lastActivityTime
// is older than now-timeout, returning the count disconnected.
func (r *Registry) CleanupInactive(timeout time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().Add(-timeout)
	count := 0
	for _, id := range r.byID {
		if id.Connected() && id.LastActivityTime != nil && id.LastActivityTime.Before(cutoff) {
			id.CurrentSessionID = ""
			id.LastActivityTime = nil
			count++
		}
	}
	if count > 0 {
		r.snapshotLocked()
	}
	return count
}

// StatsDelta is a partial stats update for UpdateStats. The counters are
// additive; a score (already in [0,1]) replaces the current value whenever
// its pointer is non-nil, including a zero value.
type StatsDelta struct {
	Messages int
	Edits    int
	Tasks    int

	DiversityScore *float64
	AgreementRate  *float64
	EvidenceRate   *float64
}

// UpdateStats merges the given delta into the identity's running stats.
func (r *Registry) UpdateStats(agentID string, delta StatsDelta) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.byID[agentID]
	if !ok {
		return
	}

	id.Stats.TotalMessages += delta.Messages
	id.Stats.TotalEdits += delta.Edits
	id.Stats.TotalTasks += delta.Tasks
	if delta.DiversityScore != nil {
		id.Stats.DiversityScore = *delta.DiversityScore
	}
	if delta.AgreementRate != nil {
		id.Stats.AgreementRate = *delta.AgreementRate
	}
	if delta.EvidenceRate != nil {
		id.Stats.EvidenceRate = *delta.EvidenceRate
	}
	r.snapshotLocked()
}

// Get returns a clone of the identity by agent ID.
func (r *Registry) Get(agentID string) (*Identity, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byID[agentID]
	if !ok {
		return nil, false
	}
	return id.Clone(), true
}

// Count returns the number of registered identities.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}

// ConnectedCount returns the number of identities currently connected.
func (r *Registry) ConnectedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, id := range r.byID {
		if id.Connected() {
			n++
		}
	}
	return n
}
