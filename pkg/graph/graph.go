// Package graph models agent workflow graphs: typed nodes, typed edges, and
// the traversal queries the scheduler and orchestrator need (dependencies,
// delegate discovery, input aggregation).
package graph

import (
	"encoding/json"
	"fmt"
)

// NodeType identifies the kind of a workflow node.
type NodeType string

// Workflow node types.
const (
	NodeTypeStart            NodeType = "StartNode"
	NodeTypeEnd              NodeType = "EndNode"
	NodeTypeAssistantAgent   NodeType = "AssistantAgent"
	NodeTypeDelegateAgent    NodeType = "DelegateAgent"
	NodeTypeGroupChatManager NodeType = "GroupChatManager"
	NodeTypeUserProxyAgent   NodeType = "UserProxyAgent"
)

// IsValid checks if the node type is a known workflow node type.
func (t NodeType) IsValid() bool {
	switch t {
	case NodeTypeStart, NodeTypeEnd, NodeTypeAssistantAgent,
		NodeTypeDelegateAgent, NodeTypeGroupChatManager, NodeTypeUserProxyAgent:
		return true
	default:
		return false
	}
}

// EdgeType identifies the kind of a workflow edge.
type EdgeType string

// Workflow edge types.
const (
	EdgeTypeSequential EdgeType = "sequential"
	EdgeTypeDelegate   EdgeType = "delegate"
	EdgeTypeReflection EdgeType = "reflection"
)

// IsValid checks if the edge type is a known workflow edge type.
func (t EdgeType) IsValid() bool {
	return t == EdgeTypeSequential || t == EdgeTypeDelegate || t == EdgeTypeReflection
}

// NodeConfig holds the per-node configuration payload. Fields are a union
// across node types; each executor reads the subset it needs.
type NodeConfig struct {
	Name          string `json:"name"`
	SystemMessage string `json:"system_message,omitempty"`

	// LLM settings.
	LLMProvider string  `json:"llm_provider,omitempty"`
	LLMModel    string  `json:"llm_model,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`

	// Round-robin / iteration control.
	TerminationCondition string `json:"termination_condition,omitempty"`
	TerminationStrategy  string `json:"termination_strategy,omitempty"`
	MaxIterations        int    `json:"max_iterations,omitempty"`
	MaxRounds            int    `json:"max_rounds,omitempty"`

	// Intelligent delegation.
	DelegationMode                string  `json:"delegation_mode,omitempty"`
	DelegationConfidenceThreshold float64 `json:"delegation_confidence_threshold,omitempty"`
	DelegationTimeoutSeconds      int     `json:"delegation_timeout_s,omitempty"`
	MaxDelegationRetries          int     `json:"max_delegation_retries,omitempty"`
	MaxSubqueries                 int     `json:"max_subqueries,omitempty"`

	// Human input.
	RequireHumanInput bool `json:"require_human_input,omitempty"`

	// Document retrieval.
	DocAware         bool           `json:"doc_aware,omitempty"`
	SearchMethod     string         `json:"search_method,omitempty"`
	SearchParameters map[string]any `json:"search_parameters,omitempty"`
	ContentFilters   []string       `json:"content_filters,omitempty"`

	// Description used for delegate capability matching.
	Description string `json:"description,omitempty"`
}

// Node is one vertex of a workflow graph.
type Node struct {
	ID   string     `json:"id"`
	Type NodeType   `json:"type"`
	Data NodeConfig `json:"data"`
}

// DisplayName returns the configured name, falling back to the node id.
func (n *Node) DisplayName() string {
	if n.Data.Name != "" {
		return n.Data.Name
	}
	return n.ID
}

// Edge is one directed edge of a workflow graph. Delegate edges are treated
// as undirected for delegate discovery.
type Edge struct {
	Source string   `json:"source"`
	Target string   `json:"target"`
	Type   EdgeType `json:"type"`
}

// Graph is a parsed workflow graph with an id index.
type Graph struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`

	byID map[string]*Node
}

// Parse decodes a workflow graph from JSON and builds its node index.
// The graph is not validated — call Validate separately so submission
// endpoints can distinguish decode errors from semantic ones.
func Parse(data []byte) (*Graph, error) {
	var g Graph
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("failed to decode workflow graph: %w", err)
	}
	g.buildIndex()
	return &g, nil
}

// New builds a graph from already-decoded nodes and edges.
func New(nodes []Node, edges []Edge) *Graph {
	g := &Graph{Nodes: nodes, Edges: edges}
	g.buildIndex()
	return g
}

func (g *Graph) buildIndex() {
	g.byID = make(map[string]*Node, len(g.Nodes))
	for i := range g.Nodes {
		g.byID[g.Nodes[i].ID] = &g.Nodes[i]
	}
}

// NodeByID returns the node with the given id, or nil.
func (g *Graph) NodeByID(id string) *Node {
	if g.byID == nil {
		g.buildIndex()
	}
	return g.byID[id]
}

// MarshalJSON keeps the wire form limited to nodes and edges.
func (g *Graph) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Nodes []Node `json:"nodes"`
		Edges []Edge `json:"edges"`
	}{Nodes: g.Nodes, Edges: g.Edges})
}

// UnmarshalJSON decodes nodes and edges and rebuilds the index.
func (g *Graph) UnmarshalJSON(data []byte) error {
	var raw struct {
		Nodes []Node `json:"nodes"`
		Edges []Edge `json:"edges"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	g.Nodes = raw.Nodes
	g.Edges = raw.Edges
	g.buildIndex()
	return nil
}
