package gcm

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/intellidoc/agentflow/pkg/analysis"
	"github.com/intellidoc/agentflow/pkg/delegate"
	"github.com/intellidoc/agentflow/pkg/graph"
	"github.com/intellidoc/agentflow/pkg/llm"
)

// Orchestrator runs GroupChatManager nodes.
type Orchestrator struct {
	providers llm.ProviderFactory
	executor  *delegate.Executor
}

// New creates a GCM orchestrator.
func New(providers llm.ProviderFactory, executor *delegate.Executor) *Orchestrator {
	return &Orchestrator{providers: providers, executor: executor}
}

// Execute runs the manager node in its configured delegation mode. When
// intelligent delegation fails before any delegate work happened (query
// analysis exception, missing project context), execution falls back to
// round-robin with the cause logged.
func (o *Orchestrator) Execute(ctx context.Context, in Input) (*Result, error) {
	cfg := resolveSettings(in.Node)
	logger := slog.With("manager", in.Node.DisplayName(), "mode", cfg.mode)

	// Aggregate inputs and discover delegates in parallel — independent
	// operations.
	var agg *graph.AggregatedContext
	var delegates []*graph.Node
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		agg = graph.AggregateInputs(in.Sources, in.ExecutedNodes)
		return nil
	})
	g.Go(func() error {
		delegates = in.Graph.DelegatesOf(in.Node.ID)
		return gctx.Err()
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if len(delegates) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoDelegates, in.Node.DisplayName())
	}
	logger.Info("Discovered delegates", "count", len(delegates), "inputs", agg.InputCount)

	manager, err := o.providers.ProviderFor(ctx, in.ProjectID, in.Node.Data.LLMProvider, in.Node.Data.LLMModel)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire manager LLM provider: %w", err)
	}

	if cfg.mode == ModeIntelligent {
		if in.ProjectID == "" {
			logger.Warn("Intelligent delegation requires project context, falling back to round-robin")
		} else {
			result, err := o.runIntelligent(ctx, in, cfg, manager, delegates, agg)
			if err == nil {
				return result, nil
			}
			logger.Error("Intelligent delegation failed, falling back to round-robin", "error", err)
		}
	}

	return o.runRoundRobin(ctx, in, cfg, manager, delegates, agg)
}

// delegateDescriptions maps delegate names to their capability descriptions,
// preferring the explicit description, then the system message.
func delegateDescriptions(delegates []*graph.Node) (map[string]string, map[string]*graph.Node) {
	descriptions := make(map[string]string, len(delegates))
	byName := make(map[string]*graph.Node, len(delegates))
	for _, d := range delegates {
		name := d.DisplayName()
		desc := d.Data.Description
		if desc == "" {
			desc = d.Data.SystemMessage
		}
		if desc == "" {
			desc = fmt.Sprintf("%s is a specialized delegate agent.", name)
		}
		descriptions[name] = desc
		byName[name] = d
	}
	return descriptions, byName
}

func sortedNames(m map[string]string) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// analysisService builds the query analysis service bound to the manager's
// LLM client.
func analysisService(manager llm.Client) *analysis.Service {
	return analysis.NewService(manager)
}
