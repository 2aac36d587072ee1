package frontend

import (
	"encoding/json"
	"errors"
	"log"

	"github.com/agentmesh/internal/identity"
	"github.com/agentmesh/internal/session"
	"github.com/agentmesh/internal/version"
)

// capabilities is the fixed feature list advertised in auth-success.
var capabilities = []string{"edit", "task", "vote", "message", "spawn", "whoami", "switch-role", "get-history"}

type registerIn struct {
	Type      string `json:"type"`
	AgentName string `json:"agentName"`
	Role      string `json:"role"`
	ForceNew  bool   `json:"forceNew"`
}

type registerSuccessOut struct {
	AgentID   string `json:"agentId"`
	AgentName string `json:"agentName"`
	AuthToken string `json:"authToken"`
	Role      string `json:"role"`
}

type registerFailedOut struct {
	Reason      string   `json:"reason"`
	Suggestions []string `json:"suggestions,omitempty"`
}

type authIn struct {
	Type          string `json:"type"`
	AgentName     string `json:"agentName"`
	AuthToken     string `json:"authToken"`
	Role          string `json:"role"`
	Perspective   string `json:"perspective"`
	ClientVersion string `json:"clientVersion"`
}

type authSuccessOut struct {
	AgentID            string   `json:"agentId"`
	AuthToken          string   `json:"authToken"`
	IsReturning        bool     `json:"isReturning"`
	TotalSessions      int      `json:"totalSessions"`
	TotalContributions int      `json:"totalContributions"`
	LastSeen           string   `json:"lastSeen"`
	ServerVersion      string   `json:"serverVersion"`
	ClientVersion      string   `json:"clientVersion,omitempty"`
	VersionWarning     string   `json:"versionWarning,omitempty"`
	Capabilities       []string `json:"capabilities"`
}

type authFailedOut struct {
	Reason string `json:"reason"`
}

// errAuthRequired is sent for any pre-auth frame that isn't register/auth.
var errAuthRequired = errors.New("Authentication required")

// handleRegister drives the register flow. It never creates a
// session: registration is a one-shot, out-of-band operation.
func (s *Server) handleRegister(conn wireConn, raw []byte) {
	var in registerIn
	if err := json.Unmarshal(raw, &in); err != nil {
		writeJSON(conn, "register-failed", registerFailedOut{Reason: "malformed register frame"})
		return
	}
	if in.AgentName == "" {
		writeJSON(conn, "register-failed", registerFailedOut{Reason: "agent name is required"})
		return
	}

	role := in.Role
	if role == "" {
		role = "contributor"
	}

	if !in.ForceNew && !s.identity.IsNameAvailable(in.AgentName) {
		suggestions := s.identity.SuggestNames(in.AgentName, 3)
		writeJSON(conn, "register-failed", registerFailedOut{Reason: "name-taken", Suggestions: suggestions})
		return
	}

	var id *identity.Identity
	var err error
	if in.ForceNew {
		id, err = s.identity.RegisterForceNew(in.AgentName, role)
	} else {
		id, err = s.identity.RegisterNew(in.AgentName, role)
	}
	if err != nil {
		writeJSON(conn, "register-failed", registerFailedOut{Reason: err.Error()})
		return
	}

	writeJSON(conn, "register-success", registerSuccessOut{
		AgentID:   id.AgentID,
		AgentName: id.DisplayName,
		AuthToken: id.AuthToken,
		Role:      id.CurrentRole,
	})
}

// handleAuth drives the auth flow, returning the bound session on
// success so the caller can promote the connection to the authenticated
// read loop.
func (s *Server) handleAuth(conn wireConn, raw []byte) (*session.Session, bool) {
	var in authIn
	if err := json.Unmarshal(raw, &in); err != nil {
		writeJSON(conn, "auth-failed", authFailedOut{Reason: "malformed auth frame"})
		return nil, false
	}

	compat := version.Check(in.ClientVersion, s.serverVersion)
	if compat.Error != "" {
		writeJSON(conn, "auth-failed", authFailedOut{Reason: compat.Error})
		return nil, false
	}

	var priorSessions int
	if in.AuthToken != "" {
		if id, ok := s.identity.AuthenticateByToken(in.AuthToken); ok {
			priorSessions = id.Stats.TotalSessions
		}
	}

	sess, err := s.sessions.Create(conn, in.AuthToken, in.AgentName, in.Role)
	if err != nil {
		writeJSON(conn, "auth-failed", authFailedOut{Reason: err.Error()})
		return nil, false
	}

	id, ok := s.identity.Get(sess.AgentID)
	if !ok {
		log.Printf("[FRONTEND] auth succeeded but identity %s vanished", sess.AgentID)
		writeJSON(conn, "auth-failed", authFailedOut{Reason: "internal error"})
		return nil, false
	}

	perspective := in.Perspective
	if perspective == "" && s.antiEcho.Enabled() {
		perspective = s.antiEcho.AssignPerspective(s.sessions.ActivePerspectives())
	}
	if perspective != "" {
		s.sessions.ChangePerspective(sess.SessionID, perspective, "assigned at auth")
	}

	isReturning := priorSessions > 0
	totalContributions := id.Stats.TotalMessages + id.Stats.TotalTasks + id.Stats.TotalEdits

	writeJSON(conn, "auth-success", authSuccessOut{
		AgentID:            id.AgentID,
		AuthToken:          id.AuthToken,
		IsReturning:        isReturning,
		TotalSessions:      id.Stats.TotalSessions,
		TotalContributions: totalContributions,
		LastSeen:           id.LastSeen.Format("2006-01-02T15:04:05Z07:00"),
		ServerVersion:      s.serverVersion,
		ClientVersion:      in.ClientVersion,
		VersionWarning:     compat.Warning,
		Capabilities:       capabilities,
	})

	return sess, true
}
