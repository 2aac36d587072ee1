package hub

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/agentmesh/internal/discussion"
	"github.com/agentmesh/internal/identity"
	"github.com/agentmesh/internal/session"
	"github.com/agentmesh/internal/tasklock"
)

func (h *Hub) handleEdit(sess *session.Session, raw []byte) {
	var in editIn
	if err := json.Unmarshal(raw, &in); err != nil {
		h.sendTo(sess, "error", errorOut{Message: "malformed edit"})
		return
	}

	if h.Cursors != nil && in.File != "" {
		h.Cursors.Open(in.File, sess.AgentID)
		if others := h.Cursors.Editors(in.File, sess.AgentID); len(others) > 0 {
			h.sendTo(sess, "concurrent-editing-warning", concurrentEditingWarningOut{
				Filepath:     in.File,
				OtherEditors: others,
			})
		}
	}

	outcome := h.EditCoord.Apply(in.File, in.Edit, in.Version)
	resolved := outcome.Resolved
	if resolved == nil {
		resolved = in.Edit
	}

	if outcome.Conflict {
		h.broadcast("edit-resolved", editResolvedOut{
			File:       in.File,
			Edit:       resolved,
			ResolvedBy: outcome.ResolvedBy,
			Confidence: outcome.Confidence,
		}, nil)
	} else {
		h.broadcast("edit", map[string]interface{}{"file": in.File, "edit": resolved, "version": in.Version}, sess)
	}

	h.Sessions.Bump(sess.SessionID, session.CounterEdits)
}

func (h *Hub) handleTask(sess *session.Session, raw []byte) {
	var in taskIn
	if err := json.Unmarshal(raw, &in); err != nil {
		h.sendTo(sess, "error", errorOut{Message: "malformed task"})
		return
	}

	switch in.Action {
	case "create":
		task := h.Orchestrator.EnrichTask(in.Task)
		h.Orchestrator.RegisterTask(task)
		h.broadcast("task-update", taskUpdateOut{Event: "created", Task: task}, nil)
		h.Sessions.Bump(sess.SessionID, session.CounterTasks)

	case "claim":
		taskID, _ := in.Task["id"].(string)
		if taskID == "" {
			h.sendTo(sess, "error", errorOut{Message: "task.id is required to claim"})
			return
		}
		if h.AntiEcho.Enabled() && !h.AntiEcho.CanClaim(sess.AgentID, sess.CurrentPerspective, in.Task) {
			h.sendTo(sess, "task-rejection", taskRejectionOut{Reason: "perspective mismatch"})
			return
		}

		token := h.Locks.AcquireLock(taskID, sess.AgentID)
		if token == "" {
			h.sendTo(sess, "task-rejection", taskRejectionOut{Reason: "task is locked by another agent"})
			return
		}
		if !h.Locks.ClaimTask(taskID, sess.AgentID, token) {
			h.Locks.ReleaseLock(taskID, token)
			h.sendTo(sess, "task-rejection", taskRejectionOut{Reason: "task already claimed"})
			return
		}
		h.broadcast("task-update", taskUpdateOut{Event: "assigned", Task: in.Task}, nil)

	case "complete":
		taskID, _ := in.Task["id"].(string)
		if taskID == "" {
			h.sendTo(sess, "error", errorOut{Message: "task.id is required to complete"})
			return
		}
		// The hub's "complete" action is a single client-facing step; it
		// advances a still-"claimed" task through "in_progress" on the way
		// to "completed" rather than requiring a separate message for it.
		// The failure of this call is ignored: it's a no-op once the claim
		// is already in_progress, and a genuine ownership mismatch is
		// caught by the UpdateStatus call below.
		h.Locks.UpdateStatus(taskID, sess.AgentID, tasklock.ClaimInProgress)
		if !h.Locks.UpdateStatus(taskID, sess.AgentID, tasklock.ClaimCompleted) {
			h.sendTo(sess, "error", errorOut{Message: "only the claim owner may complete a task"})
			return
		}
		h.broadcast("task-update", taskUpdateOut{Event: "completed", Task: in.Task}, nil)
		h.Sessions.Bump(sess.SessionID, session.CounterTasks)

	default:
		h.sendTo(sess, "error", errorOut{Message: fmt.Sprintf("unknown task action %q", in.Action)})
	}
}

func (h *Hub) handleVote(sess *session.Session, raw []byte) {
	var in voteIn
	if err := json.Unmarshal(raw, &in); err != nil {
		h.sendTo(sess, "error", errorOut{Message: "malformed vote"})
		return
	}

	weight := h.AntiEcho.VoteWeight(sess.CurrentPerspective, in.Evidence)
	decided, decision, confidence := h.Orchestrator.RecordVote(in.ProposalID, sess.AgentID, weight, in.Vote, in.Evidence)
	if decided {
		h.broadcast("decision-made", decisionMadeOut{
			ProposalID:     in.ProposalID,
			Decision:       decision,
			Confidence:     confidence,
			DiversityScore: h.AntiEcho.Metrics().OverallDiversity,
			Perspectives:   h.Sessions.ActivePerspectives(),
		}, nil)
	}
}

func (h *Hub) handleMessage(sess *session.Session, raw []byte) {
	var in messageIn
	if err := json.Unmarshal(raw, &in); err != nil {
		h.sendTo(sess, "error", errorOut{Message: "malformed message"})
		return
	}

	displayName := sess.AgentID
	if id, ok := h.Identity.Get(sess.AgentID); ok {
		displayName = id.DisplayName
	}

	now := time.Now()
	if h.Board != nil {
		_ = h.Board.Append(discussion.Entry{
			DisplayName: displayName,
			AgentID:     sess.AgentID,
			Role:        sess.CurrentRole,
			Perspective: sess.CurrentPerspective,
			Text:        in.Text,
			Timestamp:   now,
		})
	}

	h.broadcast("chat", chatOut{
		SessionID:   sess.SessionID,
		AgentID:     sess.AgentID,
		DisplayName: displayName,
		Role:        sess.CurrentRole,
		Perspective: sess.CurrentPerspective,
		Text:        in.Text,
		Timestamp:   now.Format(time.RFC3339),
	}, sess)

	h.Sessions.Bump(sess.SessionID, session.CounterMessages)
}

func (h *Hub) handleSpawn(sess *session.Session, raw []byte) {
	var in spawnIn
	if err := json.Unmarshal(raw, &in); err != nil {
		h.sendTo(sess, "error", errorOut{Message: "malformed spawn"})
		return
	}

	agents := h.Orchestrator.SpawnAgents(in.Mode, in.Task, in.Count)
	if h.AntiEcho.Enabled() {
		active := h.Sessions.ActivePerspectives()
		for i := range agents {
			agents[i].Perspective = h.AntiEcho.AssignPerspective(active)
		}
	}
	h.sendTo(sess, "agents-spawned", agentsSpawnedOut{Agents: agents})
}

func (h *Hub) handleWhoami(sess *session.Session) {
	id, ok := h.Identity.Get(sess.AgentID)
	if !ok {
		h.sendTo(sess, "error", errorOut{Message: "identity not found"})
		return
	}
	h.sendTo(sess, "identity-card", identityCardOut{Card: identity.BuildCard(id)})
}

func (h *Hub) handleSwitchRole(sess *session.Session, raw []byte) {
	var in switchRoleIn
	if err := json.Unmarshal(raw, &in); err != nil || in.NewRole == "" {
		h.sendTo(sess, "error", errorOut{Message: "newRole is required"})
		return
	}

	oldRole := sess.CurrentRole
	h.Sessions.ChangeRole(sess.SessionID, in.NewRole)
	h.sendTo(sess, "role-changed", roleChangedOut{OldRole: oldRole, NewRole: in.NewRole, AgentID: sess.AgentID})
	h.broadcast("session-update", sessionUpdateOut{Event: "role-changed", Session: map[string]string{
		"agentId": sess.AgentID,
		"newRole": in.NewRole,
	}}, sess)
}

func (h *Hub) handleGetHistory(sess *session.Session) {
	id, ok := h.Identity.Get(sess.AgentID)
	if !ok {
		h.sendTo(sess, "error", errorOut{Message: "identity not found"})
		return
	}

	report := fmt.Sprintf("%s has been active since %s: %d sessions, %d messages, %d tasks, %d edits. Current role: %s.",
		id.DisplayName, id.FirstSeen.Format("2006-01-02"),
		id.Stats.TotalSessions, id.Stats.TotalMessages, id.Stats.TotalTasks, id.Stats.TotalEdits, id.CurrentRole)
	h.sendTo(sess, "history-report", historyReportOut{Report: report})
}

// handleFileClose removes the sender from a file's editor set, the close
// half of the open/close presence signals. Registered as a policy-extension
// type since the core inbound grammar is fixed.
func handleFileClose(h *Hub, sess *session.Session, raw []byte) {
	var in fileCloseIn
	if err := json.Unmarshal(raw, &in); err != nil || in.File == "" {
		h.sendTo(sess, "error", errorOut{Message: "malformed file-close"})
		return
	}
	if h.Cursors != nil {
		h.Cursors.Close(in.File, sess.AgentID)
	}
}

// handleEcho reflects the sender's own payload back at it, minus the type
// tag. Registered out of the box as a policy-extension type.
func handleEcho(h *Hub, sess *session.Session, raw []byte) {
	var payload map[string]interface{}
	if err := json.Unmarshal(raw, &payload); err != nil {
		h.sendTo(sess, "error", errorOut{Message: "malformed echo"})
		return
	}
	delete(payload, "type")
	h.sendTo(sess, "echo", payload)
}

// handleStatus reports a small live-state summary to the sender. Registered
// out of the box as a policy-extension type.
func handleStatus(h *Hub, sess *session.Session, raw []byte) {
	h.sendTo(sess, "status", map[string]interface{}{
		"serverVersion":  h.ServerVersion,
		"activeSessions": len(h.Sessions.Active()),
		"uniqueAgents":   len(h.Sessions.UniqueActiveAgents()),
		"timestamp":      nowISO(),
	})
}

// handleTyping relays a typing signal to the other sessions as the outbound
// typing-indicator message.
func handleTyping(h *Hub, sess *session.Session, raw []byte) {
	var in typingIn
	if err := json.Unmarshal(raw, &in); err != nil {
		h.sendTo(sess, "error", errorOut{Message: "malformed typing"})
		return
	}
	h.broadcast("typing-indicator", typingIndicatorOut{
		AgentID:  sess.AgentID,
		File:     in.File,
		IsTyping: in.IsTyping,
	}, sess)
}

// handleCursorUpdate records the sender's cursor position and relays it to
// the other editors of the file, backing the outbound cursor-update message.
// Registered as a policy-extension type.
func handleCursorUpdate(h *Hub, sess *session.Session, raw []byte) {
	var in cursorUpdateIn
	if err := json.Unmarshal(raw, &in); err != nil || in.File == "" {
		h.sendTo(sess, "error", errorOut{Message: "malformed cursor-update"})
		return
	}
	if h.Cursors == nil {
		return
	}
	h.Cursors.UpdateCursor(in.File, sess.AgentID, in.Line, in.Column)
	h.broadcast("cursor-update", cursorUpdateOut{
		File:     in.File,
		EditorID: sess.AgentID,
		Line:     in.Line,
		Column:   in.Column,
	}, sess)
}
