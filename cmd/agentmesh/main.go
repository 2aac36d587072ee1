package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/agentmesh/internal/bus"
	"github.com/agentmesh/internal/config"
	"github.com/agentmesh/internal/discussion"
	"github.com/agentmesh/internal/fswatch"
	"github.com/agentmesh/internal/frontend"
	"github.com/agentmesh/internal/hub"
	"github.com/agentmesh/internal/identity"
	"github.com/agentmesh/internal/policy"
	"github.com/agentmesh/internal/session"
	"github.com/agentmesh/internal/sweep"
	"github.com/agentmesh/internal/tasklock"
)

func main() {
	configPath := flag.String("config", "", "YAML config file (optional)")
	port := flag.Int("port", 0, "HTTP/websocket port (overrides config)")
	workspace := flag.String("workspace", "", "workspace root (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *port != 0 {
		cfg.Port = *port
	}
	if *workspace != "" {
		cfg.WorkspaceRoot = *workspace
	}

	paths, err := config.ResolvePaths(cfg.WorkspaceRoot)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to resolve workspace paths: %v\n", err)
		os.Exit(1)
	}

	log.Printf("[AGENTMESH] starting, workspace=%s port=%d antiEcho=%v", paths.Root, cfg.Port, cfg.EnableAntiEcho)

	persister := identity.NewPersister(paths.IdentitiesJSON)
	registry := identity.NewRegistry(persister)
	registry.Load()

	claimStore, err := tasklock.NewClaimStore(paths.TaskClaimsDB, paths.TaskClaimsJSON)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open claim store: %v\n", err)
		os.Exit(1)
	}
	defer claimStore.Close()

	sessions := session.NewTable(registry)
	board := discussion.NewBoard(paths.DiscussionBoard)

	// The anti-echo engine and the orchestrator are external collaborators;
	// this binary ships only the hook points, so both run as no-ops here. A
	// deployment with a real engine swaps these before hub construction.
	var antiEcho policy.AntiEcho = policy.NoopAntiEcho{}
	orchestrator := policy.Orchestrator(policy.NoopOrchestrator{})
	editCoord := policy.EditCoordinator(policy.NoopEditCoordinator{})
	if cfg.EnableAntiEcho {
		log.Printf("[AGENTMESH] enableAntiEcho is set but no policy engine is linked into this binary; diversity checks stay disabled")
	}

	h := hub.New(sessions, registry, nil, board, antiEcho, orchestrator, editCoord, cfg.ServerVersion)

	locks := tasklock.NewManager(h, claimStore)
	if err := locks.LoadClaims(); err != nil {
		log.Printf("[AGENTMESH] claim restore failed: %v", err)
	}
	h.Locks = locks

	embedded, err := bus.NewEmbeddedServer(bus.EmbeddedServerConfig{Port: 0})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to configure message bus: %v\n", err)
		os.Exit(1)
	}
	if err := embedded.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to start message bus: %v\n", err)
		os.Exit(1)
	}
	defer embedded.Shutdown()

	busClient, err := bus.NewClient(embedded.URL())
	if err != nil {
		log.Printf("[AGENTMESH] bus client unavailable, falling back to direct connection writes: %v", err)
		busClient = nil
	} else {
		h.Publisher = busClient
		defer busClient.Close()
	}

	notifier, err := fswatch.NewNotifier(hub.NewFSSink(h))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start filesystem notifier: %v\n", err)
		os.Exit(1)
	}
	if err := notifier.Watch(paths.Root); err != nil {
		log.Printf("[AGENTMESH] fs watch setup failed: %v", err)
	}
	notifier.Start()
	defer notifier.Stop()
	h.Cursors = notifier.Cursors()

	sweeper := sweep.NewRunner(registry, locks, h, antiEcho, cfg.IdleSessionTimeout)
	sweeper.Start()
	defer sweeper.Stop()

	srv := frontend.NewServer(registry, sessions, locks, h, antiEcho, busClient, cfg.ServerVersion, cfg.AllowedOrigins)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: srv.Router(),
	}

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- httpServer.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		if err != nil && err != http.ErrServerClosed {
			log.Printf("[AGENTMESH] server error: %v", err)
		}
	case <-shutdown:
		log.Println("[AGENTMESH] shutdown signal received")
	}

	sweeper.Stop()
	notifier.Stop()

	if err := httpServer.Close(); err != nil {
		log.Printf("[AGENTMESH] error closing http server: %v", err)
	}
	for _, snap := range sessions.All() {
		if sess, ok := sessions.Get(snap.SessionID); ok {
			_ = sess.Conn.Close()
		}
	}

	log.Println("[AGENTMESH] goodbye")
}
