package graph

import (
	"fmt"
	"strings"
)

// InputSource identifies one upstream node feeding into a target node.
type InputSource struct {
	SourceID string
	Name     string
	NodeType NodeType
}

// NamedInput pairs a source name with the content it produced.
type NamedInput struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

// AggregatedContext is the ordered collection of outputs feeding into a node,
// plus prompt-ready renderings. The first available input is primary; the
// rest are secondary.
type AggregatedContext struct {
	InputCount      int
	PrimaryInput    string
	PrimarySource   string
	SecondaryInputs []NamedInput
	AllInputs       []NamedInput
	InputSummary    string
	CombinedText    string
}

// InputSourcesTo lists the upstream nodes connected into the given node via
// sequential or reflection edges, in edge order. Delegate edges carry no
// data flow and are skipped.
func (g *Graph) InputSourcesTo(nodeID string) []InputSource {
	var sources []InputSource
	for _, e := range g.Edges {
		if e.Target != nodeID || e.Type == EdgeTypeDelegate {
			continue
		}
		src := g.NodeByID(e.Source)
		if src == nil {
			continue
		}
		sources = append(sources, InputSource{
			SourceID: e.Source,
			Name:     src.DisplayName(),
			NodeType: src.Type,
		})
	}
	return sources
}

// AggregateInputs collects the executed output of each input source into an
// AggregatedContext. Sources whose output is not yet in executedNodes are
// skipped — the scheduler only aggregates once all dependencies are present,
// but pause paths may see partial state.
func AggregateInputs(sources []InputSource, executedNodes map[string]string) *AggregatedContext {
	agg := &AggregatedContext{}

	var summary strings.Builder
	var combined strings.Builder
	for _, src := range sources {
		content, ok := executedNodes[src.SourceID]
		if !ok {
			continue
		}
		input := NamedInput{Name: src.Name, Content: content}
		agg.AllInputs = append(agg.AllInputs, input)
		if agg.InputCount == 0 {
			agg.PrimaryInput = content
			agg.PrimarySource = src.Name
		} else {
			agg.SecondaryInputs = append(agg.SecondaryInputs, input)
		}
		agg.InputCount++

		fmt.Fprintf(&summary, "- %s (%d chars)\n", src.Name, len(content))
		fmt.Fprintf(&combined, "%s: %s\n\n", src.Name, content)
	}
	agg.InputSummary = strings.TrimRight(summary.String(), "\n")
	agg.CombinedText = strings.TrimRight(combined.String(), "\n")
	return agg
}

// FormatPrompt renders the aggregated context as the human-readable block
// used in agent prompts.
func (a *AggregatedContext) FormatPrompt() string {
	if a.InputCount == 0 {
		return "No input sources available."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You have received %d input source(s):\n\n", a.InputCount)
	fmt.Fprintf(&b, "Primary Input (from %s):\n%s\n", a.PrimarySource, a.PrimaryInput)
	for i, in := range a.SecondaryInputs {
		fmt.Fprintf(&b, "\nAdditional Input %d (from %s):\n%s\n", i+1, in.Name, in.Content)
	}
	return b.String()
}

// QueryText returns the text used as analysis input for query splitting:
// the combined transcript when present, else the summary.
func (a *AggregatedContext) QueryText() string {
	if a.CombinedText != "" {
		return a.CombinedText
	}
	return a.InputSummary
}
