package gcm

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/intellidoc/agentflow/pkg/delegate"
	"github.com/intellidoc/agentflow/pkg/graph"
	"github.com/intellidoc/agentflow/pkg/llm"
	"github.com/intellidoc/agentflow/pkg/models"
	"github.com/intellidoc/agentflow/pkg/protocol"
)

// roundResult pairs a delegate with its round outcome.
type roundResult struct {
	name     string
	response *models.DelegateResponse
}

// runRoundRobin drives rounds in which every not-yet-completed delegate is
// dispatched in parallel, until the termination strategy fires or max rounds
// are exhausted.
func (o *Orchestrator) runRoundRobin(ctx context.Context, in Input, cfg settings, manager llm.Client, delegates []*graph.Node, agg *graph.AggregatedContext) (*Result, error) {
	logger := slog.With("manager", in.Node.DisplayName())
	formatted := agg.FormatPrompt()
	_, byName := delegateDescriptions(delegates)

	status := make(map[string]*models.DelegateStatus, len(delegates))
	order := make([]string, 0, len(delegates))
	for _, d := range delegates {
		name := d.DisplayName()
		status[name] = &models.DelegateStatus{
			MaxIterations:        cfg.maxIterations,
			TerminationCondition: d.Data.TerminationCondition,
		}
		order = append(order, name)
	}

	var conversationLog []string
	totalIterations := 0

	for round := 0; round < cfg.maxIterations; round++ {
		// A completed delegate that never ran still gets one turn — this
		// protects against misconfigured early termination.
		var selected []string
		for _, name := range order {
			s := status[name]
			if s.Completed && s.Iterations > 0 {
				continue
			}
			selected = append(selected, name)
		}
		if len(selected) == 0 {
			if terminationMet(status, TerminationAllComplete) {
				logger.Info("All delegates completed, ending round-robin", "round", round+1)
			} else {
				logger.Warn("No delegates selected but not all complete, ending round-robin", "round", round+1)
			}
			break
		}

		logger.Info("Dispatching round", "round", round+1, "delegates", len(selected))

		results := make(chan roundResult, len(selected))
		var wg sync.WaitGroup
		for _, name := range selected {
			wg.Add(1)
			go func(name string) {
				defer wg.Done()
				resp := o.runDelegateRound(ctx, in, cfg, byName[name], formatted, conversationLog, status[name], round)
				results <- roundResult{name: name, response: resp}
			}(name)
		}
		wg.Wait()
		close(results)

		collected := make(map[string]*models.DelegateResponse, len(selected))
		for r := range results {
			collected[r.name] = r.response
		}

		// Apply results in stable delegate order so the conversation log is
		// deterministic within a round.
		for _, name := range selected {
			resp := collected[name]
			s := status[name]

			text := strings.TrimSpace(resp.Response)
			if text == "" {
				text = fmt.Sprintf("I am %s and I have processed the input sources. No specific output generated.", name)
			}
			conversationLog = append(conversationLog, fmt.Sprintf("[Round %d] %s: %s", round+1, name, text))

			if strings.HasPrefix(text, "ERROR:") {
				logger.Error("Delegate failed in round", "delegate", name, "round", round+1)
				s.Completed = true
			}

			s.Iterations++
			totalIterations++

			if cond := strings.TrimSpace(s.TerminationCondition); cond != "" && strings.HasSuffix(text, cond) {
				s.Completed = true
				logger.Info("Delegate used explicit termination", "delegate", name, "condition", cond)
			}
			if s.Iterations >= s.MaxIterations {
				s.Completed = true
			}
		}

		if terminationMet(status, cfg.terminationStrategy) {
			logger.Info("Termination strategy triggered", "strategy", cfg.terminationStrategy, "round", round+1)
			break
		}
	}

	if len(conversationLog) == 0 {
		return nil, fmt.Errorf("%w: manager %s", ErrNoConversations, in.Node.DisplayName())
	}

	finalResponse, err := o.synthesizeRoundRobin(ctx, in.Node, cfg, manager, agg, conversationLog, totalIterations, status)
	if err != nil {
		return nil, err
	}

	return &Result{
		FinalResponse:   finalResponse,
		ConversationLog: conversationLog,
		DelegateStatus:  status,
		TotalIterations: totalIterations,
		InputCount:      agg.InputCount,
	}, nil
}

// runDelegateRound builds the conversation-aware round prompt and executes
// it through the delegate executor. Failures come back as ERROR responses —
// one delegate's failure never cancels its siblings.
func (o *Orchestrator) runDelegateRound(ctx context.Context, in Input, cfg settings, node *graph.Node, formatted string, conversationLog []string, s *models.DelegateStatus, round int) *models.DelegateResponse {
	name := node.DisplayName()
	systemMessage := node.Data.SystemMessage
	if systemMessage == "" {
		systemMessage = "You are a helpful specialized agent."
	}

	recent := "None"
	if len(conversationLog) > 0 {
		tail := conversationLog
		if len(tail) > 3 {
			tail = tail[len(tail)-3:]
		}
		recent = strings.Join(tail, "; ")
	}

	var prompt strings.Builder
	fmt.Fprintf(&prompt, "You are %s, a specialized delegate agent.\n\n", name)
	fmt.Fprintf(&prompt, "System Message: %s\n\n", systemMessage)
	fmt.Fprintf(&prompt, "Input Context:\n%s\n\n", formatted)
	fmt.Fprintf(&prompt, "Previous Delegate Conversations:\n%s\n\n", recent)
	fmt.Fprintf(&prompt, "Current Iteration: %d/%d\n\n", s.Iterations+1, s.MaxIterations)
	prompt.WriteString("Instructions:\n")
	prompt.WriteString("- Analyze and synthesize information from ALL input sources\n")
	prompt.WriteString("- Provide specialized analysis based on your role and the inputs\n")
	prompt.WriteString("- Be specific and actionable in your response\n")
	if cond := strings.TrimSpace(s.TerminationCondition); cond != "" {
		fmt.Fprintf(&prompt, "- If you have completed your analysis and want to terminate early, end your response with '%s'\n", cond)
	}
	prompt.WriteString("- Consider the previous delegate conversations to avoid duplication\n\n")
	prompt.WriteString("Your response:")

	delegation := protocol.NewDelegation(
		fmt.Sprintf("round-%d", round+1), formatted, models.PriorityMedium, "", nil, s.Iterations+1, 1.0)

	return o.executor.Execute(ctx, delegate.ExecuteInput{
		Delegate:       node,
		Delegation:     delegation,
		ProjectID:      in.ProjectID,
		Timeout:        cfg.delegationTimeout,
		MaxRetries:     cfg.maxRetries,
		PromptOverride: prompt.String(),
	})
}

// synthesizeRoundRobin asks the manager LLM for the final summary over the
// full conversation log.
func (o *Orchestrator) synthesizeRoundRobin(ctx context.Context, node *graph.Node, cfg settings, manager llm.Client, agg *graph.AggregatedContext, conversationLog []string, totalIterations int, status map[string]*models.DelegateStatus) (string, error) {
	prompt := fmt.Sprintf(`You are the Group Chat Manager named %s.

You have processed multiple input sources and coordinated delegate responses.

%s

Delegate Conversation Log:
%s

Based on the input sources and delegate conversations, provide a comprehensive summary and final output.
Focus on synthesizing insights from all inputs and delegate responses into actionable conclusions.
Highlight how the different input sources contributed to the final result.`,
		node.DisplayName(), agg.FormatPrompt(), strings.Join(conversationLog, "; "))

	resp, err := manager.Generate(ctx, &llm.GenerateRequest{
		Prompt:      prompt,
		MaxTokens:   DefaultSynthesisMaxTokens,
		Temperature: cfg.temperature,
	})
	if err != nil {
		return "", fmt.Errorf("group chat manager final response failed: %w", err)
	}

	return fmt.Sprintf(`Group Chat Manager Summary (processed %d delegate iterations from %d input sources):

%s

Input Sources Summary:
%s

Delegate Processing Summary:
%s`,
		totalIterations, agg.InputCount, strings.TrimSpace(resp.Text), agg.InputSummary, delegateSummary(status)), nil
}

// delegateSummary renders one line per delegate with its iteration count.
func delegateSummary(status map[string]*models.DelegateStatus) string {
	names := make([]string, 0, len(status))
	for name := range status {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		s := status[name]
		state := "in progress"
		if s.Completed {
			state = "completed"
		}
		fmt.Fprintf(&b, "- %s: %d/%d iterations (%s)\n", name, s.Iterations, s.MaxIterations, state)
	}
	return strings.TrimRight(b.String(), "\n")
}
