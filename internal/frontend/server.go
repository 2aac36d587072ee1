package frontend

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/agentmesh/internal/bus"
	"github.com/agentmesh/internal/hub"
	"github.com/agentmesh/internal/identity"
	"github.com/agentmesh/internal/policy"
	"github.com/agentmesh/internal/session"
	"github.com/agentmesh/internal/tasklock"
)

// Server is the connection frontend (component F): it owns the websocket
// upgrade, the register/auth handshake, and promotes authenticated
// connections to the hub's per-connection read loop.
type Server struct {
	identity *identity.Registry
	sessions *session.Table
	locks    *tasklock.Manager
	hub      *hub.Hub
	antiEcho policy.AntiEcho

	// bus, when set, is where each authenticated connection's writer
	// subscription is opened; nil means the hub writes to connections
	// directly.
	bus *bus.Client

	serverVersion  string
	allowedOrigins []string

	upgrader websocket.Upgrader
	router   *mux.Router
}

// NewServer wires the frontend to the already-constructed components it
// drives the handshake against.
func NewServer(ids *identity.Registry, sessions *session.Table, locks *tasklock.Manager, h *hub.Hub, antiEcho policy.AntiEcho, busClient *bus.Client, serverVersion string, allowedOrigins []string) *Server {
	s := &Server{
		identity:       ids,
		sessions:       sessions,
		locks:          locks,
		hub:            h,
		antiEcho:       antiEcho,
		bus:            busClient,
		serverVersion:  serverVersion,
		allowedOrigins: allowedOrigins,
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin: s.checkOrigin,
	}
	s.router = mux.NewRouter()
	s.routes()
	return s
}

// Router returns the HTTP handler to serve.
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.allowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	for _, o := range s.allowedOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}

func (s *Server) routes() {
	s.router.HandleFunc("/ws", s.handleWS)
	s.router.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	s.router.HandleFunc("/api/identities/{id}", s.handleGetIdentity).Methods(http.MethodGet)
	s.router.HandleFunc("/api/tasks/{id}/status", s.handleTaskStatus).Methods(http.MethodGet)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":          "ok",
		"serverVersion":   s.serverVersion,
		"connectedAgents": s.identity.ConnectedCount(),
		"knownIdentities": s.identity.Count(),
	})
}

func (s *Server) handleGetIdentity(w http.ResponseWriter, r *http.Request) {
	id, ok := s.identity.Get(mux.Vars(r)["id"])
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(identity.BuildCard(id))
}

func (s *Server) handleTaskStatus(w http.ResponseWriter, r *http.Request) {
	taskID := mux.Vars(r)["id"]
	status := s.locks.LockStatus(taskID)
	owner, hasOwner := s.locks.Owner(taskID)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"taskId":    taskID,
		"available": s.locks.IsAvailable(taskID),
		"lock":      status,
		"owner":     owner,
		"hasOwner":  hasOwner,
	})
}

// handleWS upgrades the connection and drives the handshake followed by the
// authenticated read loop.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	raw, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[FRONTEND] upgrade failed: %v", err)
		return
	}
	conn := newWSConn(raw)
	defer conn.Close()

	sess := s.preAuth(conn, raw)
	if sess == nil {
		return
	}

	// Attach the connection's writer to the delivery bus before anything can
	// be addressed to the new session.
	if s.bus != nil {
		sub, err := s.bus.SubscribeSession(sess.SessionID, conn.writeFrame)
		if err != nil {
			log.Printf("[FRONTEND] bus subscribe for session %s failed: %v", sess.SessionID, err)
		} else {
			defer sub.Unsubscribe()
		}
	}

	// Legacy clients still expect a welcome frame after auth-success; newer
	// ones ignore it.
	writeJSON(conn, "welcome", map[string]string{"sessionId": sess.SessionID})

	s.hub.BroadcastJoined(sess)
	s.readLoop(sess, raw)

	s.sessions.Remove(sess.SessionID)
	s.hub.BroadcastLeft(sess)
}

// maxPreAuthAttempts bounds how many non-auth frames a connection may send
// before it is dropped instead of being told to retry again.
const maxPreAuthAttempts = 10

// preAuth accepts only register/auth frames until auth succeeds.
// Any other type gets an "Authentication required" error but the connection
// stays open so the client can retry, up to maxPreAuthAttempts.
func (s *Server) preAuth(conn wireConn, raw *websocket.Conn) *session.Session {
	attempts := 0
	for {
		_, data, err := raw.ReadMessage()
		if err != nil {
			return nil
		}

		var env struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &env); err != nil {
			writeJSON(conn, "error", errorOut{Message: "malformed frame"})
			if attempts++; attempts >= maxPreAuthAttempts {
				return nil
			}
			continue
		}

		switch env.Type {
		case "register":
			// Registration is one-shot and out-of-band: it never binds a
			// session, so the connection closes whether it succeeds or
			// fails.
			s.handleRegister(conn, data)
			return nil
		case "auth":
			if sess, ok := s.handleAuth(conn, data); ok {
				return sess
			}
			return nil
		default:
			writeJSON(conn, "error", errorOut{Message: errAuthRequired.Error()})
			if attempts++; attempts >= maxPreAuthAttempts {
				return nil
			}
		}
	}
}

// readLoop drives the hub dispatcher for one authenticated connection until
// the client disconnects or a read fails.
func (s *Server) readLoop(sess *session.Session, raw *websocket.Conn) {
	for {
		_, data, err := raw.ReadMessage()
		if err != nil {
			return
		}
		s.hub.HandleInbound(sess, data)
	}
}
