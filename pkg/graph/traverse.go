package graph

// OutgoingEdges returns all edges whose source is the given node.
func (g *Graph) OutgoingEdges(nodeID string) []Edge {
	var edges []Edge
	for _, e := range g.Edges {
		if e.Source == nodeID {
			edges = append(edges, e)
		}
	}
	return edges
}

// IncomingEdges returns all edges whose target is the given node.
func (g *Graph) IncomingEdges(nodeID string) []Edge {
	var edges []Edge
	for _, e := range g.Edges {
		if e.Target == nodeID {
			edges = append(edges, e)
		}
	}
	return edges
}

// DelegatesOf returns the DelegateAgent nodes connected to the given
// GroupChatManager via delegate edges. Delegate edges are treated as
// undirected: both GCM→delegate and delegate→GCM connect the pair.
func (g *Graph) DelegatesOf(gcmID string) []*Node {
	var delegates []*Node
	seen := make(map[string]struct{})
	for _, e := range g.Edges {
		if e.Type != EdgeTypeDelegate {
			continue
		}
		var otherID string
		switch gcmID {
		case e.Source:
			otherID = e.Target
		case e.Target:
			otherID = e.Source
		default:
			continue
		}
		if _, ok := seen[otherID]; ok {
			continue
		}
		if n := g.NodeByID(otherID); n != nil && n.Type == NodeTypeDelegateAgent {
			seen[otherID] = struct{}{}
			delegates = append(delegates, n)
		}
	}
	return delegates
}

// DelegateIDs returns the set of DelegateAgent node ids that are attached to
// any GroupChatManager via a delegate edge. Those nodes are pulled in by
// their GCM and excluded from the main scheduling sequence.
func (g *Graph) DelegateIDs() map[string]struct{} {
	ids := make(map[string]struct{})
	for _, e := range g.Edges {
		if e.Type != EdgeTypeDelegate {
			continue
		}
		for _, id := range []string{e.Source, e.Target} {
			if n := g.NodeByID(id); n != nil && n.Type == NodeTypeDelegateAgent {
				ids[id] = struct{}{}
			}
		}
	}
	return ids
}

// Dependencies computes the scheduling dependency map: for each schedulable
// node, the set of source node ids that must be executed first. Sequential
// edges always create dependencies; reflection edges create one only when
// the target is a UserProxyAgent that requires human input. Delegate edges
// never do.
func (g *Graph) Dependencies() map[string]map[string]struct{} {
	deps := make(map[string]map[string]struct{})
	add := func(target, source string) {
		if deps[target] == nil {
			deps[target] = make(map[string]struct{})
		}
		deps[target][source] = struct{}{}
	}

	for _, e := range g.Edges {
		switch e.Type {
		case EdgeTypeSequential:
			add(e.Target, e.Source)
		case EdgeTypeReflection:
			if t := g.NodeByID(e.Target); t != nil &&
				t.Type == NodeTypeUserProxyAgent && t.Data.RequireHumanInput {
				add(e.Target, e.Source)
			}
		}
	}
	return deps
}

// SchedulableNodes returns the nodes the scheduler drives directly: every
// node except DelegateAgents attached to a GCM (those execute inside their
// manager).
func (g *Graph) SchedulableNodes() []*Node {
	excluded := g.DelegateIDs()
	nodes := make([]*Node, 0, len(g.Nodes))
	for i := range g.Nodes {
		n := &g.Nodes[i]
		if _, skip := excluded[n.ID]; skip {
			continue
		}
		nodes = append(nodes, n)
	}
	return nodes
}
