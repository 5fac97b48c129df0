package models

import "time"

// Subquery priorities.
const (
	PriorityHigh   = "high"
	PriorityMedium = "medium"
	PriorityLow    = "low"
)

// PriorityRank orders priorities for sorting (high > medium > low).
// Unknown values rank as medium.
func PriorityRank(priority string) int {
	switch priority {
	case PriorityHigh:
		return 3
	case PriorityLow:
		return 1
	default:
		return 2
	}
}

// Subquery is a split piece of an input query produced by query analysis.
type Subquery struct {
	SubqueryID         string    `json:"subquery_id"`
	Query              string    `json:"query"`
	Priority           string    `json:"priority"`
	Dependencies       []int     `json:"dependencies"`
	SuggestedDelegates []string  `json:"suggested_delegates"`
	Index              int       `json:"index"`
	CreatedAt          time.Time `json:"created_at"`
}

// Assignment statuses.
const (
	AssignmentStatusPending   = "pending"
	AssignmentStatusCompleted = "completed"
	AssignmentStatusError     = "error"
)

// Assignment routes a subquery to one or more delegates.
type Assignment struct {
	Subquery          *Subquery `json:"subquery"`
	AssignedDelegates []string  `json:"assigned_delegates"`
	Confidence        float64   `json:"confidence"`
	Reasoning         string    `json:"reasoning"`
	Status            string    `json:"status"`
}

// Delegate response statuses.
const (
	ResponseStatusCompleted  = "completed"
	ResponseStatusInProgress = "in_progress"
	ResponseStatusError      = "error"
)

// DelegateResponse is the outcome of a single delegate execution.
type DelegateResponse struct {
	Response   string         `json:"response"`
	Status     string         `json:"status"`
	Confidence float64        `json:"confidence"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	RetryCount int            `json:"retry_count"`
	Err        string         `json:"error,omitempty"`
}

// Success reports whether the delegate produced a completed response.
func (r *DelegateResponse) Success() bool {
	return r != nil && r.Status == ResponseStatusCompleted
}

// DelegationMetrics aggregates outcomes across an intelligent delegation pass.
type DelegationMetrics struct {
	TotalDelegations      int           `json:"total_delegations"`
	SuccessfulDelegations int           `json:"successful_delegations"`
	FailedDelegations     int           `json:"failed_delegations"`
	Timeouts              int           `json:"timeouts"`
	Retries               int           `json:"retries"`
	MatchingTime          time.Duration `json:"matching_time"`
	DelegationTime        time.Duration `json:"delegation_time"`
}

// SuccessRate returns the percentage of successful delegations.
func (m *DelegationMetrics) SuccessRate() float64 {
	if m.TotalDelegations == 0 {
		return 0
	}
	return float64(m.SuccessfulDelegations) / float64(m.TotalDelegations) * 100
}

// DelegateStatus tracks one delegate's progress within a GCM run.
type DelegateStatus struct {
	Iterations           int     `json:"iterations"`
	SuccessfulIterations int     `json:"successful_iterations,omitempty"`
	MaxIterations        int     `json:"max_iterations"`
	TerminationCondition string  `json:"termination_condition,omitempty"`
	Completed            bool    `json:"completed"`
	UtilizationRate      float64 `json:"utilization_rate,omitempty"`
	SuccessRate          float64 `json:"success_rate,omitempty"`
}
