// Package policy declares the hook points the message hub calls into for
// decisions the core explicitly does not own: the "diversity/anti-echo"
// engine and the task/vote orchestrator. The core ships no scoring logic for
// either, only these interfaces and no-op defaults so the hub runs without
// a real policy engine attached (useful for tests and for anti-echo-disabled
// deployments).
package policy

// CheckableType names the inbound message types the anti-echo hook is
// consulted for before normal handling.
type CheckableType string

const (
	CheckEdit     CheckableType = "edit"
	CheckVote     CheckableType = "vote"
	CheckProposal CheckableType = "proposal"
	CheckDecision CheckableType = "decision"
	CheckMessage  CheckableType = "message"
)

// Verdict is the anti-echo engine's answer for a single checkable message.
type Verdict struct {
	Allowed        bool
	Reason         string
	RequiredAction string
	Suggestions    []string
}

// DiversityMetrics mirrors the diversity-metrics broadcast payload.
type DiversityMetrics struct {
	OverallDiversity        float64
	AgreementRate           float64
	EvidenceRate            float64
	PerspectiveDistribution map[string]int
	RecentInterventions     int
}

// AntiEcho is the hook surface for the external diversity/anti-echo engine.
type AntiEcho interface {
	// Enabled reports whether the engine is configured for this process.
	Enabled() bool
	// Check evaluates an in-flight message of the given checkable type.
	Check(msgType CheckableType, agentID string, payload map[string]interface{}) Verdict
	// AssignPerspective picks a perspective for a newly connecting or newly
	// spawned agent, given the perspectives already active.
	AssignPerspective(activePerspectives []string) string
	// CanClaim decides whether agentID may claim a task given its
	// perspective requirements.
	CanClaim(agentID, currentPerspective string, task map[string]interface{}) bool
	// VoteWeight computes a vote's weight from perspective and evidence.
	VoteWeight(perspective string, hasEvidence bool) float64
	// Metrics reports the rolling diversity metrics for the periodic tick.
	Metrics() DiversityMetrics
}

// Orchestrator is the hook surface for the external task/vote orchestrator.
type Orchestrator interface {
	// EnrichTask adds policy-required perspectives/evidence fields to a
	// newly created task before it's registered.
	EnrichTask(task map[string]interface{}) map[string]interface{}
	// RegisterTask records a new task with the orchestrator.
	RegisterTask(task map[string]interface{})
	// RecordVote records a vote toward a proposal; ok is true once the
	// orchestrator considers the proposal decided, in which case decision
	// and confidence are populated.
	RecordVote(proposalID, agentID string, weight float64, vote string, evidence bool) (decided bool, decision string, confidence float64)
	// SpawnAgents asks the orchestrator to spawn count agent descriptors for
	// the given mode/task.
	SpawnAgents(mode, task string, count int) []AgentDescriptor
}

// AgentDescriptor is one spawned-agent record returned to the requester.
type AgentDescriptor struct {
	AgentID     string `json:"agentId"`
	Perspective string `json:"perspective,omitempty"`
}

// EditOutcome is the result of routing an edit through the external edit
// coordinator.
type EditOutcome struct {
	Conflict   bool
	Resolved   map[string]interface{}
	ResolvedBy string
	Confidence float64
}

// EditCoordinator is the hook surface for the external edit coordinator.
type EditCoordinator interface {
	Apply(file string, edit map[string]interface{}, version int) EditOutcome
}

// NoopAntiEcho is a disabled anti-echo engine: every check passes, no
// perspective is ever assigned. Used when EnableAntiEcho is false.
type NoopAntiEcho struct{}

func (NoopAntiEcho) Enabled() bool { return false }
func (NoopAntiEcho) Check(CheckableType, string, map[string]interface{}) Verdict {
	return Verdict{Allowed: true}
}
func (NoopAntiEcho) AssignPerspective([]string) string { return "" }
func (NoopAntiEcho) CanClaim(string, string, map[string]interface{}) bool { return true }
func (NoopAntiEcho) VoteWeight(string, bool) float64 { return 1.0 }
func (NoopAntiEcho) Metrics() DiversityMetrics { return DiversityMetrics{} }

// NoopOrchestrator passes tasks/votes through unchanged, useful for tests
// and for standalone operation without a real orchestrator attached.
type NoopOrchestrator struct{}

func (NoopOrchestrator) EnrichTask(task map[string]interface{}) map[string]interface{} { return task }
func (NoopOrchestrator) RegisterTask(map[string]interface{})                          {}
func (NoopOrchestrator) RecordVote(string, string, float64, string, bool) (bool, string, float64) {
	return false, "", 0
}
func (NoopOrchestrator) SpawnAgents(string, string, int) []AgentDescriptor { return nil }

// NoopEditCoordinator applies edits with no conflict detection.
type NoopEditCoordinator struct{}

func (NoopEditCoordinator) Apply(file string, edit map[string]interface{}, version int) EditOutcome {
	return EditOutcome{Conflict: false, Resolved: edit}
}
