// Package sweep implements the three periodic background tasks (component
// G): idle-session cleanup, lock expiration, and the diversity metrics
// tick. Timers are owned here, not by the components they sweep, so
// teardown is a single Stop call.
package sweep

import (
	"context"
	"log"
	"time"

	"github.com/agentmesh/internal/hub"
	"github.com/agentmesh/internal/identity"
	"github.com/agentmesh/internal/policy"
	"github.com/agentmesh/internal/tasklock"
)

const (
	idleSweepInterval  = 60 * time.Second
	lockSweepInterval  = 1 * time.Second
	metricsInterval    = 30 * time.Second
	summaryLogInterval = 1 * time.Hour
)

// Runner owns the three sweepers and their goroutines.
type Runner struct {
	identity    *identity.Registry
	locks       *tasklock.Manager
	hub         *hub.Hub
	antiEcho    policy.AntiEcho
	idleTimeout time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

// NewRunner builds a sweeper set; call Start to launch its goroutines.
// idleTimeout is the config-driven threshold for the
// idle-session sweep; a zero value falls back to 5 minutes.
func NewRunner(ids *identity.Registry, locks *tasklock.Manager, h *hub.Hub, antiEcho policy.AntiEcho, idleTimeout time.Duration) *Runner {
	if idleTimeout <= 0 {
		idleTimeout = 5 * time.Minute
	}
	return &Runner{identity: ids, locks: locks, hub: h, antiEcho: antiEcho, idleTimeout: idleTimeout}
}

// Start launches the three sweeper loops. Stop tears them all down.
func (r *Runner) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.done = make(chan struct{})

	go r.run(ctx)
}

// Stop cancels all sweepers and waits for their goroutines to exit.
func (r *Runner) Stop() {
	if r.cancel == nil {
		return
	}
	r.cancel()
	<-r.done
}

func (r *Runner) run(ctx context.Context) {
	defer close(r.done)

	idleTicker := time.NewTicker(idleSweepInterval)
	defer idleTicker.Stop()
	lockTicker := time.NewTicker(lockSweepInterval)
	defer lockTicker.Stop()
	metricsTicker := time.NewTicker(metricsInterval)
	defer metricsTicker.Stop()
	summaryTicker := time.NewTicker(summaryLogInterval)
	defer summaryTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-idleTicker.C:
			r.sweepIdleSessions()
		case <-lockTicker.C:
			r.locks.ExpireLocks()
		case <-metricsTicker.C:
			r.tickMetrics()
		case <-summaryTicker.C:
			r.logSummary()
		}
	}
}

// sweepIdleSessions disconnects identities idle past the threshold and
// announces the result.
func (r *Runner) sweepIdleSessions() {
	count := r.identity.CleanupInactive(r.idleTimeout)
	if count > 0 {
		r.hub.BroadcastSessionCleanup(count)
		log.Printf("[SWEEP] cleaned %d idle session(s)", count)
	}
}

// logSummary emits the hourly active/inactive/total line.
func (r *Runner) logSummary() {
	active := r.identity.ConnectedCount()
	total := r.identity.Count()
	log.Printf("[SWEEP] summary: active=%d inactive=%d total=%d", active, total-active, total)
}

// tickMetrics broadcasts the diversity metrics reading and warns on
// thresholds.
func (r *Runner) tickMetrics() {
	if !r.antiEcho.Enabled() {
		return
	}
	m := r.antiEcho.Metrics()
	r.hub.BroadcastDiversityMetrics(m)

	if m.AgreementRate > 0.8 {
		log.Printf("[SWEEP] WARNING: agreement rate %.2f exceeds 0.8 threshold", m.AgreementRate)
	}
	if m.OverallDiversity < 0.5 {
		log.Printf("[SWEEP] WARNING: overall diversity %.2f below 0.5 threshold", m.OverallDiversity)
	}
}
