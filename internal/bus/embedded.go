package bus

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/nats-io/nats-server/v2/server"
)

// EmbeddedServerConfig holds configuration for the embedded NATS server used
// as the hub's in-process pub/sub backbone for broadcast fanout.
type EmbeddedServerConfig struct {
	Port int // Port to listen on, 0 picks an ephemeral port
}

// EmbeddedServer wraps the NATS server.
type EmbeddedServer struct {
	server  *server.Server
	config  EmbeddedServerConfig
	mu      sync.RWMutex
	running bool
	port    int // actual listening port, resolved after Start (differs from config.Port when it was 0)
}

// NewEmbeddedServer creates a new embedded NATS server instance.
func NewEmbeddedServer(config EmbeddedServerConfig) (*EmbeddedServer, error) {
	return &EmbeddedServer{
		config: config,
	}, nil
}

// Start starts the embedded NATS server.
func (e *EmbeddedServer) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		return fmt.Errorf("server already running")
	}

	opts := &server.Options{
		Host:       "127.0.0.1",
		Port:       e.config.Port,
		NoLog:      false,
		NoSigs:     true,
		MaxPayload: 1024 * 1024,
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		return fmt.Errorf("failed to create NATS server: %w", err)
	}

	e.server = ns

	go ns.Start()

	if !ns.ReadyForConnections(10 * time.Second) {
		return fmt.Errorf("server not ready for connections")
	}

	e.port = ns.Addr().(*net.TCPAddr).Port
	e.running = true
	return nil
}

// Shutdown gracefully shuts down the NATS server.
func (e *EmbeddedServer) Shutdown() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running || e.server == nil {
		return
	}

	e.server.Shutdown()
	e.server.WaitForShutdown()

	e.running = false
	e.server = nil
}

// URL returns the connection URL for the NATS server, reflecting the actual
// listening port even when config.Port was 0 (ephemeral).
func (e *EmbeddedServer) URL() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return fmt.Sprintf("nats://127.0.0.1:%d", e.port)
}

// IsRunning returns whether the server is currently running.
func (e *EmbeddedServer) IsRunning() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}
