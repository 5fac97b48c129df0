package gcm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/intellidoc/agentflow/pkg/analysis"
	"github.com/intellidoc/agentflow/pkg/delegate"
	"github.com/intellidoc/agentflow/pkg/graph"
	"github.com/intellidoc/agentflow/pkg/llm"
	"github.com/intellidoc/agentflow/pkg/models"
	"github.com/intellidoc/agentflow/pkg/protocol"
)

// matchOutcome pairs a subquery with its delegate assignment.
type matchOutcome struct {
	subquery *models.Subquery
	match    *analysis.MatchResult
}

// runIntelligent executes the single-pass intelligent delegation pipeline:
// split, parallel match, dependency-level scheduling, per-delegate fan-out,
// and final synthesis. Rounds are forced to one and the termination strategy
// to all_delegates_complete.
func (o *Orchestrator) runIntelligent(ctx context.Context, in Input, cfg settings, manager llm.Client, delegates []*graph.Node, agg *graph.AggregatedContext) (*Result, error) {
	logger := slog.With("manager", in.Node.DisplayName())
	descriptions, byName := delegateDescriptions(delegates)
	svc := analysisService(manager)

	inputText := agg.QueryText()
	if inputText == "" {
		inputText = agg.FormatPrompt()
	}

	// Step 1: split input into subqueries.
	matchingStart := time.Now()
	subqueries := svc.SplitQuery(ctx, inputText, descriptions, cfg.maxSubqueries)
	if len(subqueries) == 0 {
		return nil, fmt.Errorf("query analysis produced no subqueries for manager %s", in.Node.DisplayName())
	}
	logger.Info("Split input into subqueries", "count", len(subqueries))

	// Step 2: match every subquery to delegates in parallel.
	outcomes := make([]matchOutcome, len(subqueries))
	var wg sync.WaitGroup
	for i, sq := range subqueries {
		wg.Add(1)
		go func(i int, sq *models.Subquery) {
			defer wg.Done()
			outcomes[i] = matchOutcome{
				subquery: sq,
				match:    svc.MatchSubquery(ctx, sq.Query, descriptions, cfg.confidenceThreshold),
			}
		}(i, sq)
	}
	wg.Wait()

	assignments := make(map[string]*models.Assignment, len(outcomes))
	for _, out := range outcomes {
		assignments[out.subquery.SubqueryID] = &models.Assignment{
			Subquery:          out.subquery,
			AssignedDelegates: out.match.AssignedDelegates,
			Confidence:        out.match.Confidence,
			Reasoning:         out.match.Reasoning,
			Status:            models.AssignmentStatusPending,
		}
	}
	metrics := &models.DelegationMetrics{MatchingTime: time.Since(matchingStart)}

	// Step 3: schedule subqueries by dependency level; levels run
	// sequentially, subqueries within a level concurrently.
	levels := groupByDependencyLevel(subqueries)
	logger.Info("Grouped subqueries into dependency levels", "levels", len(levels))

	responses := make(map[string]map[string]*models.DelegateResponse, len(subqueries))
	var conversationLog []string
	var mu sync.Mutex

	delegationStart := time.Now()
	for levelIdx, level := range levels {
		logger.Info("Processing dependency level", "level", levelIdx+1, "subqueries", len(level))

		var levelWG sync.WaitGroup
		for _, sq := range level {
			assignment := assignments[sq.SubqueryID]
			levelWG.Add(1)
			go func(sq *models.Subquery, assignment *models.Assignment) {
				defer levelWG.Done()
				result := o.processSubquery(ctx, in, cfg, sq, assignment, subqueries, inputText, byName, levelIdx+1)

				mu.Lock()
				defer mu.Unlock()
				responses[sq.SubqueryID] = result
				success := false
				for name, resp := range result {
					metrics.TotalDelegations++
					metrics.Retries += resp.RetryCount
					if resp.Success() {
						metrics.SuccessfulDelegations++
						success = true
					} else {
						metrics.FailedDelegations++
						if resp.Metadata["error_type"] == "timeout" {
							metrics.Timeouts++
						}
					}
					conversationLog = append(conversationLog,
						fmt.Sprintf("[Subquery %.8s] %s: %s", sq.SubqueryID, name, truncateLog(resp.Response, 200)))
				}
				if success {
					assignment.Status = models.AssignmentStatusCompleted
				} else {
					assignment.Status = models.AssignmentStatusError
				}
			}(sq, assignment)
		}
		levelWG.Wait()
	}
	metrics.DelegationTime = time.Since(delegationStart)

	logger.Info("Completed parallel delegation",
		"total", metrics.TotalDelegations,
		"successful", metrics.SuccessfulDelegations,
		"failed", metrics.FailedDelegations,
		"retries", metrics.Retries,
		"delegation_time", metrics.DelegationTime)

	// Step 4: synthesize.
	finalResponse, err := o.synthesizeIntelligent(ctx, in.Node, cfg, manager, inputText, subqueries, assignments, responses, conversationLog, metrics)
	if err != nil {
		return nil, err
	}

	return &Result{
		FinalResponse:       finalResponse,
		ConversationLog:     conversationLog,
		DelegateStatus:      buildDelegateStats(descriptions, subqueries, assignments, responses),
		TotalIterations:     metrics.TotalDelegations,
		InputCount:          agg.InputCount,
		Metrics:             metrics,
		SubqueryAssignments: assignments,
		DelegateResponses:   responses,
	}, nil
}

// processSubquery formats the delegation message once and fans out to every
// assigned delegate concurrently.
func (o *Orchestrator) processSubquery(ctx context.Context, in Input, cfg settings, sq *models.Subquery, assignment *models.Assignment, all []*models.Subquery, inputText string, byName map[string]*graph.Node, iteration int) map[string]*models.DelegateResponse {
	related := make([]string, 0, len(all)-1)
	for _, other := range all {
		if other.SubqueryID != sq.SubqueryID {
			related = append(related, other.SubqueryID)
		}
	}
	delegation := protocol.NewDelegation(
		sq.SubqueryID, sq.Query, sq.Priority, inputText, related, iteration, assignment.Confidence)

	type namedResponse struct {
		name string
		resp *models.DelegateResponse
	}

	results := make(chan namedResponse, len(assignment.AssignedDelegates))
	var wg sync.WaitGroup
	for _, name := range assignment.AssignedDelegates {
		node, ok := byName[name]
		if !ok {
			slog.Warn("Assigned delegate not found, skipping", "delegate", name, "subquery_id", sq.SubqueryID)
			continue
		}
		wg.Add(1)
		go func(name string, node *graph.Node) {
			defer wg.Done()
			results <- namedResponse{
				name: name,
				resp: o.executor.Execute(ctx, delegate.ExecuteInput{
					Delegate:   node,
					Delegation: delegation,
					ProjectID:  in.ProjectID,
					Timeout:    cfg.delegationTimeout,
					MaxRetries: cfg.maxRetries,
				}),
			}
		}(name, node)
	}
	wg.Wait()
	close(results)

	out := make(map[string]*models.DelegateResponse)
	for r := range results {
		out[r.name] = r.resp
	}
	return out
}

// groupByDependencyLevel orders subqueries into levels via topological sort
// on their index-based dependencies. Dependency indices that match no
// subquery, and self-dependencies, are ignored. When no subquery has all
// dependencies satisfied (a cycle), the remainder runs as one final level in
// arbitrary order.
func groupByDependencyLevel(subqueries []*models.Subquery) [][]*models.Subquery {
	byIndex := make(map[int]*models.Subquery, len(subqueries))
	for _, sq := range subqueries {
		byIndex[sq.Index] = sq
	}

	deps := make(map[string]map[string]struct{}, len(subqueries))
	for _, sq := range subqueries {
		deps[sq.SubqueryID] = make(map[string]struct{})
		for _, depIdx := range sq.Dependencies {
			if dep, ok := byIndex[depIdx]; ok && dep.SubqueryID != sq.SubqueryID {
				deps[sq.SubqueryID][dep.SubqueryID] = struct{}{}
			}
		}
	}

	var levels [][]*models.Subquery
	processed := make(map[string]struct{}, len(subqueries))
	remaining := make(map[string]*models.Subquery, len(subqueries))
	for _, sq := range subqueries {
		remaining[sq.SubqueryID] = sq
	}

	for len(remaining) > 0 {
		var level []*models.Subquery
		for _, sq := range subqueries {
			if _, done := processed[sq.SubqueryID]; done {
				continue
			}
			if _, pending := remaining[sq.SubqueryID]; !pending {
				continue
			}
			satisfied := true
			for dep := range deps[sq.SubqueryID] {
				if _, ok := processed[dep]; !ok {
					satisfied = false
					break
				}
			}
			if satisfied {
				level = append(level, sq)
			}
		}

		if len(level) == 0 {
			slog.Warn("Circular subquery dependencies detected, processing remainder in arbitrary order",
				"remaining", len(remaining))
			for _, sq := range subqueries {
				if _, pending := remaining[sq.SubqueryID]; pending {
					level = append(level, sq)
				}
			}
		}

		levels = append(levels, level)
		for _, sq := range level {
			processed[sq.SubqueryID] = struct{}{}
			delete(remaining, sq.SubqueryID)
		}
	}
	return levels
}

// synthesizeIntelligent builds the aggregation context and asks the manager
// LLM for the final synthesis.
func (o *Orchestrator) synthesizeIntelligent(ctx context.Context, node *graph.Node, cfg settings, manager llm.Client, inputText string, subqueries []*models.Subquery, assignments map[string]*models.Assignment, responses map[string]map[string]*models.DelegateResponse, conversationLog []string, metrics *models.DelegationMetrics) (string, error) {
	var agg strings.Builder
	fmt.Fprintf(&agg, `Intelligent Delegation Summary:
- Total Subqueries: %d
- Total Delegations: %d
- Successful: %d
- Failed: %d
- Timeouts: %d
- Performance: Matching %.2fs, Delegation %.2fs

Subquery Results:
`,
		len(subqueries), metrics.TotalDelegations, metrics.SuccessfulDelegations,
		metrics.FailedDelegations, metrics.Timeouts,
		metrics.MatchingTime.Seconds(), metrics.DelegationTime.Seconds())

	for _, sq := range subqueries {
		assignment := assignments[sq.SubqueryID]
		fmt.Fprintf(&agg, "\nSubquery %.8s (%s priority):\n", sq.SubqueryID, sq.Priority)
		fmt.Fprintf(&agg, "Query: %s\n", sq.Query)
		fmt.Fprintf(&agg, "Assigned to: %s (confidence: %.2f)\n",
			strings.Join(assignment.AssignedDelegates, ", "), assignment.Confidence)
		for name, resp := range responses[sq.SubqueryID] {
			marker := "[ok]"
			if !resp.Success() {
				marker = "[failed]"
			}
			fmt.Fprintf(&agg, "%s %s: %s\n", marker, name, truncateLog(resp.Response, 300))
		}
	}

	recentLog := conversationLog
	if len(recentLog) > 10 {
		recentLog = recentLog[len(recentLog)-10:]
	}

	prompt := fmt.Sprintf(`You are the Group Chat Manager named %s.

You have used intelligent task delegation to split the input into subqueries and route them to specialized delegate agents based on their capabilities.

Original Input:
%s

%s

Delegate Conversation Log:
%s

Based on the intelligent delegation results and delegate responses, provide a comprehensive summary and final output.
Synthesize insights from all subquery results into actionable conclusions.
Highlight how the intelligent routing improved the task execution.`,
		node.DisplayName(), inputText, agg.String(), strings.Join(recentLog, "; "))

	resp, err := manager.Generate(ctx, &llm.GenerateRequest{
		Prompt:      prompt,
		MaxTokens:   DefaultSynthesisMaxTokens,
		Temperature: cfg.temperature,
	})
	if err != nil {
		return "", fmt.Errorf("intelligent delegation final synthesis failed: %w", err)
	}

	return fmt.Sprintf(`Intelligent Delegation Summary (processed %d subqueries, %d successful delegations):

%s

Delegation Metrics:
- Total Subqueries: %d
- Total Delegations: %d
- Successful: %d
- Failed: %d
- Timeouts: %d
- Retries: %d
- Performance: Matching %.2fs, Delegation %.2fs
- Success Rate: %.1f%%`,
		len(subqueries), metrics.SuccessfulDelegations,
		strings.TrimSpace(resp.Text),
		len(subqueries), metrics.TotalDelegations, metrics.SuccessfulDelegations,
		metrics.FailedDelegations, metrics.Timeouts, metrics.Retries,
		metrics.MatchingTime.Seconds(), metrics.DelegationTime.Seconds(),
		metrics.SuccessRate()), nil
}

// buildDelegateStats computes per-delegate utilization and success rates.
func buildDelegateStats(descriptions map[string]string, subqueries []*models.Subquery, assignments map[string]*models.Assignment, responses map[string]map[string]*models.DelegateResponse) map[string]*models.DelegateStatus {
	stats := make(map[string]*models.DelegateStatus, len(descriptions))
	for _, name := range sortedNames(descriptions) {
		assigned := 0
		successful := 0
		for sqID, assignment := range assignments {
			for _, d := range assignment.AssignedDelegates {
				if d != name {
					continue
				}
				assigned++
				if resp, ok := responses[sqID][name]; ok && resp.Success() {
					successful++
				}
				break
			}
		}

		s := &models.DelegateStatus{
			Iterations:           assigned,
			SuccessfulIterations: successful,
			MaxIterations:        len(subqueries),
			Completed:            true,
		}
		if len(subqueries) > 0 {
			s.UtilizationRate = float64(assigned) / float64(len(subqueries))
		}
		if assigned > 0 {
			s.SuccessRate = float64(successful) / float64(assigned)
		}
		stats[name] = s
	}
	return stats
}

func truncateLog(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
