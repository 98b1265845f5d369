package mutate

import (
	"encoding/json"
	"testing"

	"github.com/vizboard/vizboard-backend/internal/domain/viz"
	"github.com/vizboard/vizboard-backend/internal/pkg/apperr"
	"github.com/vizboard/vizboard-backend/internal/viz/schema"
)

func baseGraph() *viz.GraphPayload {
	return &viz.GraphPayload{
		Nodes: []viz.GraphNode{
			{ID: "n1", Label: "A"},
			{ID: "n2", Label: "B"},
		},
		Edges: []viz.GraphEdge{
			{ID: "e1", Source: "n1", Target: "n2", Label: "links"},
		},
	}
}

func TestMergeGraphDeltaAppends(t *testing.T) {
	p := baseGraph()
	merged, err := MergeGraphDelta(p, &schema.GraphDelta{
		Nodes: []viz.GraphNode{{ID: "n3", Label: "C"}},
		Edges: []viz.GraphEdge{{ID: "e2", Source: "n3", Target: "n1", Label: "refines"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(merged.Nodes) != 3 || len(merged.Edges) != 2 {
		t.Fatalf("unexpected merge result: %+v", merged)
	}
	// Pre-existing ids stay first and unchanged.
	if merged.Nodes[0].ID != "n1" || merged.Edges[0].ID != "e1" {
		t.Fatalf("existing elements were reordered: %+v", merged)
	}
	if len(p.Nodes) != 2 || len(p.Edges) != 1 {
		t.Fatalf("input payload was mutated: %+v", p)
	}
}

func TestMergeGraphDeltaRejectsNodeIDCollision(t *testing.T) {
	_, err := MergeGraphDelta(baseGraph(), &schema.GraphDelta{
		Nodes: []viz.GraphNode{{ID: "n1", Label: "dup"}},
	})
	if apperr.CodeOf(err) != apperr.CodeContractViolation {
		t.Fatalf("expected contract_violation, got %v", err)
	}
}

func TestMergeGraphDeltaRejectsDanglingEndpoint(t *testing.T) {
	_, err := MergeGraphDelta(baseGraph(), &schema.GraphDelta{
		Nodes: []viz.GraphNode{{ID: "n3", Label: "C"}},
		Edges: []viz.GraphEdge{{ID: "e2", Source: "n3", Target: "ghost"}},
	})
	if apperr.CodeOf(err) != apperr.CodeContractViolation {
		t.Fatalf("expected contract_violation, got %v", err)
	}
}

func TestMergeGraphDeltaAllowsEdgesToExistingNodes(t *testing.T) {
	merged, err := MergeGraphDelta(baseGraph(), &schema.GraphDelta{
		Nodes: []viz.GraphNode{{ID: "n3", Label: "C"}},
		Edges: []viz.GraphEdge{{ID: "e2", Source: "n2", Target: "n3"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(merged.Edges) != 2 {
		t.Fatalf("unexpected edges: %+v", merged.Edges)
	}
}

func baseTree() *viz.TreePayload {
	return &viz.TreePayload{
		Root: &viz.TreeNode{
			ID: "r", Content: "Root",
			Children: []*viz.TreeNode{
				{ID: "a", Content: "Left"},
				{ID: "b", Content: "Right"},
			},
		},
	}
}

func TestAppendTreeChildren(t *testing.T) {
	p := baseTree()
	merged, err := AppendTreeChildren(p, "a", []*viz.TreeNode{
		{ID: "a1", Content: "Detail"},
		{ID: "a2", Content: "More"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	target := FindTreeNode(merged.Root, "a")
	if target == nil || len(target.Children) != 2 {
		t.Fatalf("children not appended: %+v", target)
	}
	// Sibling order preserved, original untouched.
	if merged.Root.Children[0].ID != "a" || merged.Root.Children[1].ID != "b" {
		t.Fatalf("sibling order changed: %+v", merged.Root.Children)
	}
	if orig := FindTreeNode(p.Root, "a"); len(orig.Children) != 0 {
		t.Fatalf("input tree was mutated: %+v", orig)
	}
}

func TestAppendTreeChildrenMissingTargetLeavesPayloadIdentical(t *testing.T) {
	p := baseTree()
	before, err := json.Marshal(p)
	if err != nil {
		t.Fatal(err)
	}

	_, mErr := AppendTreeChildren(p, "ghost", []*viz.TreeNode{{ID: "x", Content: "X"}})
	if apperr.CodeOf(mErr) != apperr.CodeNodeNotFound {
		t.Fatalf("expected node_not_found, got %v", mErr)
	}

	after, err := json.Marshal(p)
	if err != nil {
		t.Fatal(err)
	}
	if string(before) != string(after) {
		t.Fatalf("payload changed on failed expand:\nbefore %s\nafter  %s", before, after)
	}
}

func TestAppendTreeChildrenRejectsIDCollision(t *testing.T) {
	_, err := AppendTreeChildren(baseTree(), "a", []*viz.TreeNode{{ID: "b", Content: "dup"}})
	if apperr.CodeOf(err) != apperr.CodeContractViolation {
		t.Fatalf("expected contract_violation, got %v", err)
	}
}

func TestTreeNodeIDsDepthFirst(t *testing.T) {
	ids := TreeNodeIDs(baseTree())
	want := []string{"r", "a", "b"}
	if len(ids) != len(want) {
		t.Fatalf("unexpected ids: %v", ids)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, ids)
		}
	}
}
