package viz

// Kind-specific payload shapes. Identifiers produced by the model are opaque
// strings; nothing in the pipeline parses or renumbers them.

type GraphNode struct {
	ID          string `json:"id"`
	Label       string `json:"label"`
	Description string `json:"description,omitempty"`
	Category    string `json:"category,omitempty"`
}

type GraphEdge struct {
	ID     string `json:"id"`
	Source string `json:"source"`
	Target string `json:"target"`
	Label  string `json:"label,omitempty"`
}

// GraphPayload is the network_graph document body. Invariant: every edge's
// Source/Target references an existing node id; node ids are unique and
// stable across edits.
type GraphPayload struct {
	Nodes []GraphNode `json:"nodes"`
	Edges []GraphEdge `json:"edges"`
}

// NodeIDSet returns the set of node ids for endpoint checks.
func (p *GraphPayload) NodeIDSet() map[string]struct{} {
	out := make(map[string]struct{}, len(p.Nodes))
	for _, n := range p.Nodes {
		out[n.ID] = struct{}{}
	}
	return out
}

// TreeNode is one node of a hierarchical payload. A parent exclusively owns
// its children; the structure is a strict tree.
type TreeNode struct {
	ID          string      `json:"id"`
	Content     string      `json:"content"`
	Description string      `json:"description,omitempty"`
	Children    []*TreeNode `json:"children,omitempty"`
}

// TreePayload is the mindmap / tree_diagram document body: a single root.
type TreePayload struct {
	Root *TreeNode `json:"root"`
}

// CountNodes walks the whole tree.
func (p *TreePayload) CountNodes() int {
	var walk func(n *TreeNode) int
	walk = func(n *TreeNode) int {
		if n == nil {
			return 0
		}
		total := 1
		for _, c := range n.Children {
			total += walk(c)
		}
		return total
	}
	return walk(p.Root)
}

type TimelineEvent struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Date        string `json:"date"`
	EndDate     string `json:"end_date,omitempty"`
}

type TimelinePayload struct {
	Events []TimelineEvent `json:"events"`
}

type GanttTask struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Start     string   `json:"start"`
	End       string   `json:"end"`
	DependsOn []string `json:"depends_on,omitempty"`
}

type GanttPayload struct {
	Tasks []GanttTask `json:"tasks"`
}
