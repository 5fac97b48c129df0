package graph

import (
	"errors"
	"fmt"
)

// Sentinel errors for graph validation.
var (
	ErrNoStartNode     = errors.New("graph has no StartNode")
	ErrUnknownNodeType = errors.New("unknown node type")
	ErrDanglingEdge    = errors.New("edge references unknown node")
	ErrInvalidEdge     = errors.New("invalid edge")
	ErrCycle           = errors.New("cycle detected outside reflection edges")
)

// Validate checks the structural invariants of a workflow graph:
// at least one StartNode, known node and edge types, no dangling edges,
// delegate edges joining exactly one GroupChatManager and one DelegateAgent,
// reflection edges targeting a UserProxyAgent, and no cycles except along
// reflection edges.
func (g *Graph) Validate() error {
	if g.byID == nil {
		g.buildIndex()
	}

	hasStart := false
	for i := range g.Nodes {
		n := &g.Nodes[i]
		if n.ID == "" {
			return fmt.Errorf("%w: node with empty id", ErrInvalidEdge)
		}
		if !n.Type.IsValid() {
			return fmt.Errorf("%w: %q (node %s)", ErrUnknownNodeType, n.Type, n.ID)
		}
		if n.Type == NodeTypeStart {
			hasStart = true
		}
	}
	if !hasStart {
		return ErrNoStartNode
	}

	for _, e := range g.Edges {
		src := g.NodeByID(e.Source)
		dst := g.NodeByID(e.Target)
		if src == nil || dst == nil {
			return fmt.Errorf("%w: %s -> %s", ErrDanglingEdge, e.Source, e.Target)
		}
		if !e.Type.IsValid() {
			return fmt.Errorf("%w: unknown edge type %q (%s -> %s)", ErrInvalidEdge, e.Type, e.Source, e.Target)
		}
		switch e.Type {
		case EdgeTypeDelegate:
			// Direction may be either way — one end must be a GCM, the other
			// a DelegateAgent.
			ok := (src.Type == NodeTypeGroupChatManager && dst.Type == NodeTypeDelegateAgent) ||
				(src.Type == NodeTypeDelegateAgent && dst.Type == NodeTypeGroupChatManager)
			if !ok {
				return fmt.Errorf("%w: delegate edge must connect a GroupChatManager and a DelegateAgent (%s -> %s)",
					ErrInvalidEdge, e.Source, e.Target)
			}
		case EdgeTypeReflection:
			if dst.Type != NodeTypeUserProxyAgent {
				return fmt.Errorf("%w: reflection edge must target a UserProxyAgent (%s -> %s)",
					ErrInvalidEdge, e.Source, e.Target)
			}
		}
	}

	return g.checkAcyclic()
}

// checkAcyclic runs Kahn's algorithm over sequential edges only; reflection
// cycles are modelled as iteration counters, never traversed, and delegate
// edges do not participate in scheduling.
func (g *Graph) checkAcyclic() error {
	indegree := make(map[string]int, len(g.Nodes))
	out := make(map[string][]string)
	for _, n := range g.Nodes {
		indegree[n.ID] = 0
	}
	for _, e := range g.Edges {
		if e.Type != EdgeTypeSequential {
			continue
		}
		out[e.Source] = append(out[e.Source], e.Target)
		indegree[e.Target]++
	}

	queue := make([]string, 0, len(g.Nodes))
	for id, d := range indegree {
		if d == 0 {
			queue = append(queue, id)
		}
	}
	visited := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		visited++
		for _, next := range out[id] {
			indegree[next]--
			if indegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}
	if visited != len(g.Nodes) {
		return ErrCycle
	}
	return nil
}
