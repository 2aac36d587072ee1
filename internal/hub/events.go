package hub

import (
	"github.com/agentmesh/internal/fswatch"
	"github.com/agentmesh/internal/policy"
	"github.com/agentmesh/internal/session"
	"github.com/agentmesh/internal/tasklock"
)

// Publish implements tasklock.Sink: lock/claim lifecycle events become
// task-update or lock-expired broadcasts.
func (h *Hub) Publish(ev tasklock.Event) {
	switch ev.Type {
	case tasklock.EventLockExpired:
		h.broadcast("task-update", taskUpdateOut{
			Event: "lock-expired",
			Task:  map[string]interface{}{"id": ev.TaskID, "agentId": ev.AgentID},
		}, nil)
	case tasklock.EventTaskStatusChanged:
		h.broadcast("task-update", taskUpdateOut{
			Event: "status-changed",
			Task:  map[string]interface{}{"id": ev.TaskID, "agentId": ev.AgentID},
		}, nil)
	// lock-acquired, lock-released and task-claimed are already reflected by
	// the task-update broadcasts the handler emits synchronously; surfacing
	// them again here would double-deliver the same state change.
	default:
	}
}

// BroadcastJoined announces a newly authenticated session to everyone else.
func (h *Hub) BroadcastJoined(sess *session.Session) {
	h.broadcast("session-update", sessionUpdateOut{Event: "joined", Session: map[string]string{
		"agentId":   sess.AgentID,
		"sessionId": sess.SessionID,
		"role":      sess.CurrentRole,
	}}, sess)
}

// BroadcastLeft announces a session's voluntary disconnect.
func (h *Hub) BroadcastLeft(sess *session.Session) {
	h.broadcast("session-update", sessionUpdateOut{Event: "left", Session: map[string]string{
		"agentId":   sess.AgentID,
		"sessionId": sess.SessionID,
	}}, nil)
}

// BroadcastSessionCleanup announces the idle-session sweeper's result.
func (h *Hub) BroadcastSessionCleanup(count int) {
	h.broadcast("session-cleanup", sessionCleanupOut{CleanedSessions: count, Timestamp: nowISO()}, nil)
}

// BroadcastDiversityMetrics announces the metrics-tick sweeper's reading.
func (h *Hub) BroadcastDiversityMetrics(m policy.DiversityMetrics) {
	h.broadcast("diversity-metrics", diversityMetricsOut{
		OverallDiversity:        m.OverallDiversity,
		AgreementRate:           m.AgreementRate,
		EvidenceRate:            m.EvidenceRate,
		PerspectiveDistribution: m.PerspectiveDistribution,
		RecentInterventions:     m.RecentInterventions,
	}, nil)
}

// BroadcastInterventionRequired announces that the external policy engine
// wants a human or coordinating agent to step in.
// The core never originates one itself; this is a hook point for the engine.
func (h *Hub) BroadcastInterventionRequired(reason, agentID, requiredAction string, suggestions []string) {
	h.broadcast("intervention-required", interventionRequiredOut{
		Reason:         reason,
		AgentID:        agentID,
		RequiredAction: requiredAction,
		Suggestions:    suggestions,
	}, nil)
}

// fsNotificationSink adapts a Hub into an fswatch.Sink, routing each typed
// filesystem notification to its outbound message.
type fsNotificationSink struct {
	hub *Hub
}

// NewFSSink wraps h so it can be passed to fswatch.NewNotifier.
func NewFSSink(h *Hub) fswatch.Sink {
	return fsNotificationSink{hub: h}
}

// Publish implements fswatch.Sink.
func (s fsNotificationSink) Publish(n fswatch.Notification) {
	switch n.Type {
	case fswatch.TypeTaskBoardUpdated:
		s.hub.broadcast("task-board-update", realtimeUpdateOut{UpdateType: string(n.Type), Data: n.Payload}, nil)
	case fswatch.TypeDiscussionUpdated:
		s.hub.broadcast("discussion-update", realtimeUpdateOut{UpdateType: string(n.Type), Data: n.Payload}, nil)
	case fswatch.TypeNewMessage:
		s.hub.broadcast("new-message-notification", realtimeUpdateOut{UpdateType: string(n.Type), Data: n.Payload}, nil)
	default:
		s.hub.broadcast("file-update", realtimeUpdateOut{UpdateType: string(n.Type), Data: n.Payload}, nil)
	}
}
