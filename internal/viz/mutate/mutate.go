// Package mutate holds the pure merge logic for expand-node deltas. The
// functions never mutate their inputs on failure: a rejected merge leaves the
// caller's payload exactly as supplied.
package mutate

import (
	"github.com/vizboard/vizboard-backend/internal/domain/viz"
	"github.com/vizboard/vizboard-backend/internal/pkg/apperr"
	"github.com/vizboard/vizboard-backend/internal/viz/schema"
)

// MergeGraphDelta appends the delta's nodes and edges to the payload.
// Rejections (never silent drops):
//   - a new node id colliding with an existing node id,
//   - an edge whose endpoint is neither an existing node nor a new one.
//
// Pre-existing nodes and edges are copied unchanged; ids are never renumbered.
func MergeGraphDelta(p *viz.GraphPayload, d *schema.GraphDelta) (*viz.GraphPayload, error) {
	const op = "mutate.MergeGraphDelta"
	if p == nil || d == nil {
		return nil, apperr.Newf(apperr.CodeContractViolation, op, "missing payload or delta")
	}

	ids := p.NodeIDSet()
	for _, n := range d.Nodes {
		if _, exists := ids[n.ID]; exists {
			return nil, apperr.Newf(apperr.CodeContractViolation, op, "new node id %q collides with existing node", n.ID)
		}
	}
	merged := ids
	for _, n := range d.Nodes {
		merged[n.ID] = struct{}{}
	}

	edgeIDs := make(map[string]struct{}, len(p.Edges))
	for _, e := range p.Edges {
		edgeIDs[e.ID] = struct{}{}
	}
	for _, e := range d.Edges {
		if _, exists := edgeIDs[e.ID]; exists {
			return nil, apperr.Newf(apperr.CodeContractViolation, op, "new edge id %q collides with existing edge", e.ID)
		}
		if _, ok := merged[e.Source]; !ok {
			return nil, apperr.Newf(apperr.CodeContractViolation, op, "edge %q source %q is neither existing nor new", e.ID, e.Source)
		}
		if _, ok := merged[e.Target]; !ok {
			return nil, apperr.Newf(apperr.CodeContractViolation, op, "edge %q target %q is neither existing nor new", e.ID, e.Target)
		}
		edgeIDs[e.ID] = struct{}{}
	}

	out := &viz.GraphPayload{
		Nodes: make([]viz.GraphNode, 0, len(p.Nodes)+len(d.Nodes)),
		Edges: make([]viz.GraphEdge, 0, len(p.Edges)+len(d.Edges)),
	}
	out.Nodes = append(out.Nodes, p.Nodes...)
	out.Nodes = append(out.Nodes, d.Nodes...)
	out.Edges = append(out.Edges, p.Edges...)
	out.Edges = append(out.Edges, d.Edges...)
	return out, nil
}

// TreeNodeIDs collects every id in the tree, depth-first.
func TreeNodeIDs(p *viz.TreePayload) []string {
	var out []string
	var walk func(n *viz.TreeNode)
	walk = func(n *viz.TreeNode) {
		if n == nil {
			return
		}
		out = append(out, n.ID)
		for _, c := range n.Children {
			walk(c)
		}
	}
	if p != nil {
		walk(p.Root)
	}
	return out
}

// FindTreeNode locates a node by id via depth-first search.
func FindTreeNode(root *viz.TreeNode, id string) *viz.TreeNode {
	if root == nil {
		return nil
	}
	if root.ID == id {
		return root
	}
	for _, c := range root.Children {
		if found := FindTreeNode(c, id); found != nil {
			return found
		}
	}
	return nil
}

// AppendTreeChildren rebuilds the tree with children appended to the node
// whose id is targetID. The input tree is not aliased by the result: every
// node on the path is reconstructed, so a failed caller can keep using the
// original. A missing target or an id collision returns an error and no
// partial structural mutation.
func AppendTreeChildren(p *viz.TreePayload, targetID string, children []*viz.TreeNode) (*viz.TreePayload, error) {
	const op = "mutate.AppendTreeChildren"
	if p == nil || p.Root == nil {
		return nil, apperr.Newf(apperr.CodeContractViolation, op, "missing tree payload")
	}
	if len(children) == 0 {
		return nil, apperr.Newf(apperr.CodeContractViolation, op, "empty children delta")
	}

	existing := make(map[string]struct{})
	for _, id := range TreeNodeIDs(p) {
		existing[id] = struct{}{}
	}
	var collides func(n *viz.TreeNode) string
	collides = func(n *viz.TreeNode) string {
		if n == nil {
			return ""
		}
		if _, dup := existing[n.ID]; dup {
			return n.ID
		}
		for _, c := range n.Children {
			if id := collides(c); id != "" {
				return id
			}
		}
		return ""
	}
	for _, c := range children {
		if id := collides(c); id != "" {
			return nil, apperr.Newf(apperr.CodeContractViolation, op, "new node id %q collides with existing node", id)
		}
	}

	root, found := cloneWithAppend(p.Root, targetID, children)
	if !found {
		return nil, apperr.Newf(apperr.CodeNodeNotFound, op, "node %q not found", targetID)
	}
	return &viz.TreePayload{Root: root}, nil
}

func cloneWithAppend(n *viz.TreeNode, targetID string, children []*viz.TreeNode) (*viz.TreeNode, bool) {
	clone := &viz.TreeNode{
		ID:          n.ID,
		Content:     n.Content,
		Description: n.Description,
	}
	found := false
	if len(n.Children) > 0 {
		clone.Children = make([]*viz.TreeNode, 0, len(n.Children))
		for _, c := range n.Children {
			cc, f := cloneWithAppend(c, targetID, children)
			found = found || f
			clone.Children = append(clone.Children, cc)
		}
	}
	if n.ID == targetID {
		clone.Children = append(clone.Children, children...)
		found = true
	}
	return clone, found
}
