// Package gcm implements the Group Chat Manager orchestration engine: a
// coordinator node fans work out to its connected delegate agents in either
// round-robin rounds or a single intelligent-delegation pass, then
// synthesizes a final response.
package gcm

import (
	"errors"
	"time"

	"github.com/intellidoc/agentflow/pkg/delegate"
	"github.com/intellidoc/agentflow/pkg/graph"
	"github.com/intellidoc/agentflow/pkg/models"
)

// Delegation modes.
const (
	ModeRoundRobin  = "round_robin"
	ModeIntelligent = "intelligent"
)

// Termination strategies for round-robin rounds.
// max_iterations_reached is a legacy alias of all_delegates_complete with the
// per-delegate iteration cap.
const (
	TerminationAllComplete        = "all_delegates_complete"
	TerminationAnyComplete        = "any_delegate_complete"
	TerminationMaxIterationsAlias = "max_iterations_reached"
)

// Defaults applied when the manager node leaves settings unset.
const (
	DefaultMaxRounds           = 10
	DefaultConfidenceThreshold = 0.7
	DefaultSynthesisMaxTokens  = 2000
	defaultManagerTemperature  = 0.5
)

// Sentinel errors.
var (
	ErrNoDelegates     = errors.New("group chat manager has no connected delegate agents")
	ErrNoConversations = errors.New("no delegate conversations generated")
)

// Input carries everything the orchestrator needs to run one GCM node.
type Input struct {
	Node          *graph.Node
	Graph         *graph.Graph
	Sources       []graph.InputSource
	ExecutedNodes map[string]string
	ProjectID     string
}

// Result is the structured outcome of a GCM execution.
type Result struct {
	FinalResponse   string
	ConversationLog []string
	DelegateStatus  map[string]*models.DelegateStatus
	TotalIterations int
	InputCount      int

	// Intelligent-mode extras; nil/empty in round-robin mode.
	Metrics             *models.DelegationMetrics
	SubqueryAssignments map[string]*models.Assignment
	DelegateResponses   map[string]map[string]*models.DelegateResponse
}

// settings are the resolved delegation knobs of a manager node.
type settings struct {
	mode                string
	maxIterations       int
	terminationStrategy string
	confidenceThreshold float64
	delegationTimeout   time.Duration
	maxRetries          int
	maxSubqueries       int
	temperature         float64
}

// resolveSettings reads the manager node config, applying defaults.
// max_iterations wins over max_rounds; both clamp to at least one round.
func resolveSettings(node *graph.Node) settings {
	data := node.Data

	maxIterations := data.MaxIterations
	if maxIterations <= 0 {
		maxIterations = data.MaxRounds
	}
	if maxIterations <= 0 {
		maxIterations = DefaultMaxRounds
	}

	strategy := data.TerminationStrategy
	switch strategy {
	case TerminationAllComplete, TerminationAnyComplete:
	case TerminationMaxIterationsAlias:
		strategy = TerminationAllComplete
	default:
		strategy = TerminationAllComplete
	}

	threshold := data.DelegationConfidenceThreshold
	if threshold <= 0 {
		threshold = DefaultConfidenceThreshold
	}

	timeout := time.Duration(data.DelegationTimeoutSeconds) * time.Second

	mode := data.DelegationMode
	if mode != ModeIntelligent {
		mode = ModeRoundRobin
	}

	maxRetries := data.MaxDelegationRetries
	if maxRetries <= 0 {
		maxRetries = delegate.DefaultMaxRetries
	}

	temperature := data.Temperature
	if temperature <= 0 {
		temperature = defaultManagerTemperature
	}

	return settings{
		mode:                mode,
		maxIterations:       maxIterations,
		terminationStrategy: strategy,
		confidenceThreshold: threshold,
		delegationTimeout:   timeout,
		maxRetries:          maxRetries,
		maxSubqueries:       data.MaxSubqueries,
		temperature:         temperature,
	}
}

// terminationMet evaluates the global termination strategy over the status
// map after a round completes.
func terminationMet(status map[string]*models.DelegateStatus, strategy string) bool {
	if len(status) == 0 {
		return false
	}
	switch strategy {
	case TerminationAnyComplete:
		for _, s := range status {
			if s.Completed && s.Iterations > 0 {
				return true
			}
		}
		return false
	default: // all_delegates_complete
		for _, s := range status {
			if !s.Completed || s.Iterations == 0 {
				return false
			}
		}
		return true
	}
}
