package hub

import (
	"encoding/json"
	"fmt"
	"log"

	"github.com/agentmesh/internal/bus"
	"github.com/agentmesh/internal/discussion"
	"github.com/agentmesh/internal/fswatch"
	"github.com/agentmesh/internal/identity"
	"github.com/agentmesh/internal/policy"
	"github.com/agentmesh/internal/session"
	"github.com/agentmesh/internal/tasklock"
)

// checkableTypes is the "checkable set" the anti-echo hook runs against
// before normal handling.
var checkableTypes = map[string]policy.CheckableType{
	"edit":     policy.CheckEdit,
	"vote":     policy.CheckVote,
	"proposal": policy.CheckProposal,
	"decision": policy.CheckDecision,
	"message":  policy.CheckMessage,
}

// UnknownTypePolicy controls what happens to an inbound frame whose type
// matches nothing registered: dropped silently, or answered with an error.
type UnknownTypePolicy int

const (
	UnknownIgnore UnknownTypePolicy = iota
	UnknownRespondError
)

// SecondaryHandler handles a message type the hub core doesn't know about.
type SecondaryHandler func(h *Hub, sess *session.Session, data []byte)

// Hub wires the session table, identity registry, task-lock manager,
// discussion board and external policy hooks into a single per-connection
// dispatcher (component E).
type Hub struct {
	Sessions *session.Table
	Identity *identity.Registry
	Locks    *tasklock.Manager
	Board    *discussion.Board

	AntiEcho     policy.AntiEcho
	Orchestrator policy.Orchestrator
	EditCoord    policy.EditCoordinator

	// Publisher is the delivery backbone: when set, every outbound frame is
	// published to the bus and reaches connections through their writer
	// subscriptions. When nil (tests, or the bus failed to come up) frames
	// are written straight onto the sessions' connections instead.
	Publisher *bus.Client

	// Cursors tracks which editors currently have which file open, backing
	// the concurrent-editing-warning sent on "edit". Nil disables the
	// warning entirely.
	Cursors *fswatch.CursorTracker

	ServerVersion string

	secondary     map[string]SecondaryHandler
	unknownPolicy UnknownTypePolicy
}

// New creates a Hub. antiEcho/orchestrator/editCoord may be the policy
// package's Noop* implementations when no external engine is configured.
func New(sessions *session.Table, ids *identity.Registry, locks *tasklock.Manager, board *discussion.Board, antiEcho policy.AntiEcho, orch policy.Orchestrator, editCoord policy.EditCoordinator, serverVersion string) *Hub {
	h := &Hub{
		Sessions:      sessions,
		Identity:      ids,
		Locks:         locks,
		Board:         board,
		AntiEcho:      antiEcho,
		Orchestrator:  orch,
		EditCoord:     editCoord,
		ServerVersion: serverVersion,
		secondary:     make(map[string]SecondaryHandler),
		unknownPolicy: UnknownIgnore,
	}
	h.RegisterSecondary("file-close", handleFileClose)
	h.RegisterSecondary("cursor-update", handleCursorUpdate)
	h.RegisterSecondary("echo", handleEcho)
	h.RegisterSecondary("status", handleStatus)
	h.RegisterSecondary("typing", handleTyping)
	return h
}

// RegisterSecondary adds a handler for a message type outside the core set.
func (h *Hub) RegisterSecondary(msgType string, fn SecondaryHandler) {
	h.secondary[msgType] = fn
}

// SetUnknownPolicy controls behavior when no handler, core or secondary,
// matches an inbound type.
func (h *Hub) SetUnknownPolicy(p UnknownTypePolicy) {
	h.unknownPolicy = p
}

// writeDirect writes one frame straight onto a session's connection. Write
// errors are logged and swallowed; a broken target never fails the handler.
func (h *Hub) writeDirect(sess *session.Session, msgType string, data interface{}) {
	if err := sess.Conn.WriteJSON(frame(msgType, data)); err != nil {
		log.Printf("[HUB] write to session %s failed: %v", sess.SessionID, err)
	}
}

// sendTo delivers one outbound frame to a single session: over the bus when
// it's attached, straight onto the connection otherwise.
func (h *Hub) sendTo(sess *session.Session, msgType string, data interface{}) {
	if h.Publisher != nil {
		payload, err := json.Marshal(frame(msgType, data))
		if err == nil {
			if err := h.Publisher.PublishDirect(sess.SessionID, payload); err == nil {
				return
			}
			log.Printf("[HUB] bus delivery to session %s failed, writing directly", sess.SessionID)
		}
	}
	h.writeDirect(sess, msgType, data)
}

// broadcast delivers one outbound frame to every connected session except
// the excluded one (if any). With the bus attached a single publish fans out
// through the connection writers' subscriptions, each of which writes on its
// own, so a slow connection does not hold up the others. Without it the hub
// falls back to iterating the session table and writing to each connection
// in turn on the calling goroutine: a write error is logged and skipped, but
// a slow write delays the writes after it.
func (h *Hub) broadcast(msgType string, data interface{}, exclude *session.Session) {
	excludeID := ""
	if exclude != nil {
		excludeID = exclude.SessionID
	}

	if h.Publisher != nil {
		payload, err := json.Marshal(frame(msgType, data))
		if err == nil {
			if err := h.Publisher.PublishBroadcast(broadcastKind(msgType, data), excludeID, payload); err == nil {
				return
			}
			log.Printf("[HUB] bus broadcast %s failed, writing directly", msgType)
		}
	}

	for _, sess := range h.Sessions.Active() {
		if excludeID != "" && sess.SessionID == excludeID {
			continue
		}
		h.writeDirect(sess, msgType, data)
	}
}

// broadcastKind names the bus subject family a broadcast travels on. It is
// the wire message type, except that a lock expiry (carried on the same
// task-update wire type as every other task event) gets its own kind so an
// external observer can subscribe to expirations without the rest.
func broadcastKind(msgType string, data interface{}) string {
	if tu, ok := data.(taskUpdateOut); ok && tu.Event == "lock-expired" {
		return "lock-expired"
	}
	return msgType
}

// HandleInbound decodes and dispatches one inbound frame for an already
// authenticated session. Per connection this is called from a single
// goroutine, so FIFO per-connection ordering falls out of the caller's
// read loop.
func (h *Hub) HandleInbound(sess *session.Session, data []byte) {
	env, err := decodeEnvelope(data)
	if err != nil {
		h.sendTo(sess, "error", errorOut{Message: "malformed frame"})
		return
	}

	if checkType, ok := checkableTypes[env.Type]; ok && h.AntiEcho.Enabled() {
		var payload map[string]interface{}
		_ = json.Unmarshal(env.Raw, &payload)
		verdict := h.AntiEcho.Check(checkType, sess.AgentID, payload)
		if !verdict.Allowed {
			h.sendTo(sess, "diversity-intervention", diversityInterventionOut{
				Reason:         verdict.Reason,
				RequiredAction: verdict.RequiredAction,
				Suggestions:    verdict.Suggestions,
			})
			return
		}
	}

	switch env.Type {
	case "edit":
		h.handleEdit(sess, env.Raw)
	case "task":
		h.handleTask(sess, env.Raw)
	case "vote":
		h.handleVote(sess, env.Raw)
	case "message":
		h.handleMessage(sess, env.Raw)
	case "spawn":
		h.handleSpawn(sess, env.Raw)
	case "whoami":
		h.handleWhoami(sess)
	case "switch-role":
		h.handleSwitchRole(sess, env.Raw)
	case "get-history":
		h.handleGetHistory(sess)
	case "ping":
		h.sendTo(sess, "pong", map[string]string{"timestamp": nowISO()})
	default:
		if fn, ok := h.secondary[env.Type]; ok {
			fn(h, sess, env.Raw)
			break
		}
		if h.unknownPolicy == UnknownRespondError {
			h.sendTo(sess, "error", errorOut{Message: fmt.Sprintf("unknown message type %q", env.Type)})
		}
		return
	}

	h.Identity.TouchActivity(sess.AgentID)
}
