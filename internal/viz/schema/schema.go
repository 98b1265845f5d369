// Package schema is the single gate between raw model output and typed
// in-memory structures. Raw text is repaired, strictly decoded, then checked
// against the structural invariants and cardinality bounds of its kind.
// Nothing downstream of a model call may assume well-formedness without
// having passed through here.
package schema

import (
	"encoding/json"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"github.com/vizboard/vizboard-backend/internal/domain/viz"
	"github.com/vizboard/vizboard-backend/internal/pkg/apperr"
)

// Cardinality bounds enforced server-side after decode. The prompts quote the
// same numbers so the instruction contract and the enforcement never drift.
type GraphBounds struct {
	MinNodes, MaxNodes int
	MaxEdges           int
}

type TreeBounds struct {
	MinNodes, MaxNodes int
	MaxDepth           int
}

type ListBounds struct {
	Min, Max int
}

type DeltaBounds struct {
	MinNodes, MaxNodes int
	MaxEdges           int
}

var (
	DefaultGraphBounds    = GraphBounds{MinNodes: 3, MaxNodes: 30, MaxEdges: 60}
	DefaultTreeBounds     = TreeBounds{MinNodes: 3, MaxNodes: 50, MaxDepth: 6}
	DefaultTimelineBounds = ListBounds{Min: 3, Max: 30}
	DefaultGanttBounds    = ListBounds{Min: 2, Max: 30}
	DefaultDeltaBounds    = DeltaBounds{MinNodes: 1, MaxNodes: 10, MaxEdges: 20}
)

func violation(op, format string, args ...any) error {
	return apperr.Newf(apperr.CodeContractViolation, op, format, args...)
}

// repairAndDecode runs jsonrepair over the raw model text, then a strict
// decode (unknown fields rejected). Models occasionally emit single quotes,
// trailing commas or fenced blocks; repair handles those without loosening
// the schema itself.
func repairAndDecode(op, raw string, out any) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return violation(op, "empty model response")
	}
	repaired, err := jsonrepair.JSONRepair(raw)
	if err != nil {
		return violation(op, "unparseable model response: %v", err)
	}
	dec := json.NewDecoder(strings.NewReader(repaired))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return violation(op, "model response failed strict decode: %v", err)
	}
	return nil
}

// Selection is the format selector's response contract: exactly these three
// fields, kind constrained to the closed enum plus the "none" sentinel.
type Selection struct {
	Visualizable bool     `json:"visualizable"`
	Kind         viz.Kind `json:"kind"`
	Reason       string   `json:"reason"`
}

func DecodeSelection(raw string) (*Selection, error) {
	const op = "schema.DecodeSelection"
	var sel Selection
	if err := repairAndDecode(op, raw, &sel); err != nil {
		return nil, err
	}
	if sel.Kind != viz.KindNone && !viz.ValidKind(sel.Kind) {
		return nil, violation(op, "kind %q is not in the supported set", sel.Kind)
	}
	if sel.Visualizable && sel.Kind == viz.KindNone {
		return nil, violation(op, "visualizable response carries kind none")
	}
	if strings.TrimSpace(sel.Reason) == "" {
		return nil, violation(op, "missing reason")
	}
	return &sel, nil
}

func DecodeGraphPayload(raw string, b GraphBounds) (*viz.GraphPayload, error) {
	const op = "schema.DecodeGraphPayload"
	var p viz.GraphPayload
	if err := repairAndDecode(op, raw, &p); err != nil {
		return nil, err
	}
	if err := ValidateGraph(&p, b); err != nil {
		return nil, err
	}
	return &p, nil
}

// ValidateGraph enforces the network_graph invariants: unique non-empty node
// and edge ids, labels present, every edge endpoint resolving to a node, and
// cardinality within bounds. Violations reject the payload; nothing is
// truncated or padded.
func ValidateGraph(p *viz.GraphPayload, b GraphBounds) error {
	const op = "schema.ValidateGraph"
	if p == nil {
		return violation(op, "missing payload")
	}
	if len(p.Nodes) < b.MinNodes || len(p.Nodes) > b.MaxNodes {
		return violation(op, "node count %d outside bounds [%d,%d]", len(p.Nodes), b.MinNodes, b.MaxNodes)
	}
	if len(p.Edges) > b.MaxEdges {
		return violation(op, "edge count %d exceeds bound %d", len(p.Edges), b.MaxEdges)
	}
	nodeIDs := make(map[string]struct{}, len(p.Nodes))
	for i, n := range p.Nodes {
		if strings.TrimSpace(n.ID) == "" {
			return violation(op, "node %d has empty id", i)
		}
		if strings.TrimSpace(n.Label) == "" {
			return violation(op, "node %q has empty label", n.ID)
		}
		if _, dup := nodeIDs[n.ID]; dup {
			return violation(op, "duplicate node id %q", n.ID)
		}
		nodeIDs[n.ID] = struct{}{}
	}
	edgeIDs := make(map[string]struct{}, len(p.Edges))
	for i, e := range p.Edges {
		if strings.TrimSpace(e.ID) == "" {
			return violation(op, "edge %d has empty id", i)
		}
		if _, dup := edgeIDs[e.ID]; dup {
			return violation(op, "duplicate edge id %q", e.ID)
		}
		edgeIDs[e.ID] = struct{}{}
		if _, ok := nodeIDs[e.Source]; !ok {
			return violation(op, "edge %q references unknown source %q", e.ID, e.Source)
		}
		if _, ok := nodeIDs[e.Target]; !ok {
			return violation(op, "edge %q references unknown target %q", e.ID, e.Target)
		}
	}
	return nil
}

func DecodeTreePayload(raw string, b TreeBounds) (*viz.TreePayload, error) {
	const op = "schema.DecodeTreePayload"
	var p viz.TreePayload
	if err := repairAndDecode(op, raw, &p); err != nil {
		return nil, err
	}
	if err := ValidateTree(&p, b); err != nil {
		return nil, err
	}
	return &p, nil
}

// ValidateTree enforces the hierarchical invariants: a single root, ids
// unique across the whole tree (not just siblings), content present, and
// depth/node-count bounds. The decoded structure is acyclic by construction;
// the depth bound additionally guards degenerate chains.
func ValidateTree(p *viz.TreePayload, b TreeBounds) error {
	const op = "schema.ValidateTree"
	if p == nil || p.Root == nil {
		return violation(op, "missing root node")
	}
	seen := make(map[string]struct{})
	count := 0
	var walk func(n *viz.TreeNode, depth int) error
	walk = func(n *viz.TreeNode, depth int) error {
		if n == nil {
			return violation(op, "null node in children")
		}
		if depth > b.MaxDepth {
			return violation(op, "tree depth exceeds bound %d", b.MaxDepth)
		}
		if strings.TrimSpace(n.ID) == "" {
			return violation(op, "node with empty id")
		}
		if _, dup := seen[n.ID]; dup {
			return violation(op, "duplicate node id %q", n.ID)
		}
		seen[n.ID] = struct{}{}
		if strings.TrimSpace(n.Content) == "" {
			return violation(op, "node %q has empty content", n.ID)
		}
		count++
		for _, c := range n.Children {
			if err := walk(c, depth+1); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(p.Root, 1); err != nil {
		return err
	}
	if count < b.MinNodes || count > b.MaxNodes {
		return violation(op, "node count %d outside bounds [%d,%d]", count, b.MinNodes, b.MaxNodes)
	}
	return nil
}

func DecodeTimelinePayload(raw string, b ListBounds) (*viz.TimelinePayload, error) {
	const op = "schema.DecodeTimelinePayload"
	var p viz.TimelinePayload
	if err := repairAndDecode(op, raw, &p); err != nil {
		return nil, err
	}
	if err := ValidateTimeline(&p, b); err != nil {
		return nil, err
	}
	return &p, nil
}

func ValidateTimeline(p *viz.TimelinePayload, b ListBounds) error {
	const op = "schema.ValidateTimeline"
	if p == nil {
		return violation(op, "missing payload")
	}
	if len(p.Events) < b.Min || len(p.Events) > b.Max {
		return violation(op, "event count %d outside bounds [%d,%d]", len(p.Events), b.Min, b.Max)
	}
	seen := make(map[string]struct{}, len(p.Events))
	for i, e := range p.Events {
		if strings.TrimSpace(e.ID) == "" {
			return violation(op, "event %d has empty id", i)
		}
		if _, dup := seen[e.ID]; dup {
			return violation(op, "duplicate event id %q", e.ID)
		}
		seen[e.ID] = struct{}{}
		if strings.TrimSpace(e.Title) == "" || strings.TrimSpace(e.Date) == "" {
			return violation(op, "event %q missing title or date", e.ID)
		}
	}
	return nil
}

func DecodeGanttPayload(raw string, b ListBounds) (*viz.GanttPayload, error) {
	const op = "schema.DecodeGanttPayload"
	var p viz.GanttPayload
	if err := repairAndDecode(op, raw, &p); err != nil {
		return nil, err
	}
	if err := ValidateGantt(&p, b); err != nil {
		return nil, err
	}
	return &p, nil
}

func ValidateGantt(p *viz.GanttPayload, b ListBounds) error {
	const op = "schema.ValidateGantt"
	if p == nil {
		return violation(op, "missing payload")
	}
	if len(p.Tasks) < b.Min || len(p.Tasks) > b.Max {
		return violation(op, "task count %d outside bounds [%d,%d]", len(p.Tasks), b.Min, b.Max)
	}
	seen := make(map[string]struct{}, len(p.Tasks))
	for i, t := range p.Tasks {
		if strings.TrimSpace(t.ID) == "" {
			return violation(op, "task %d has empty id", i)
		}
		if _, dup := seen[t.ID]; dup {
			return violation(op, "duplicate task id %q", t.ID)
		}
		seen[t.ID] = struct{}{}
		if strings.TrimSpace(t.Name) == "" || strings.TrimSpace(t.Start) == "" || strings.TrimSpace(t.End) == "" {
			return violation(op, "task %q missing name or dates", t.ID)
		}
	}
	for _, t := range p.Tasks {
		for _, dep := range t.DependsOn {
			if _, ok := seen[dep]; !ok {
				return violation(op, "task %q depends on unknown task %q", t.ID, dep)
			}
		}
	}
	return nil
}

// DecodePayload dispatches on kind and returns the typed payload
// (*viz.GraphPayload, *viz.TreePayload, ...). Used both for fresh generation
// output and for re-validating full replacement payloads from chat edits.
func DecodePayload(kind viz.Kind, raw string) (any, error) {
	switch kind {
	case viz.KindNetworkGraph:
		return DecodeGraphPayload(raw, DefaultGraphBounds)
	case viz.KindMindmap, viz.KindTreeDiagram:
		return DecodeTreePayload(raw, DefaultTreeBounds)
	case viz.KindTimeline:
		return DecodeTimelinePayload(raw, DefaultTimelineBounds)
	case viz.KindGantt:
		return DecodeGanttPayload(raw, DefaultGanttBounds)
	default:
		return nil, violation("schema.DecodePayload", "unsupported kind %q", kind)
	}
}

// ValidateStoredPayload re-checks a persisted payload against its kind schema.
// Bounds on stored documents are relaxed upward: expansion legitimately grows
// a document past its generation ceiling, so only structural invariants and
// the hard storage ceilings apply.
func ValidateStoredPayload(kind viz.Kind, payload []byte) (any, error) {
	const op = "schema.ValidateStoredPayload"
	switch kind {
	case viz.KindNetworkGraph:
		var p viz.GraphPayload
		if err := strictUnmarshal(op, payload, &p); err != nil {
			return nil, err
		}
		if err := ValidateGraph(&p, GraphBounds{MinNodes: 1, MaxNodes: storedMaxNodes, MaxEdges: storedMaxEdges}); err != nil {
			return nil, err
		}
		return &p, nil
	case viz.KindMindmap, viz.KindTreeDiagram:
		var p viz.TreePayload
		if err := strictUnmarshal(op, payload, &p); err != nil {
			return nil, err
		}
		if err := ValidateTree(&p, TreeBounds{MinNodes: 1, MaxNodes: storedMaxNodes, MaxDepth: storedMaxDepth}); err != nil {
			return nil, err
		}
		return &p, nil
	case viz.KindTimeline:
		var p viz.TimelinePayload
		if err := strictUnmarshal(op, payload, &p); err != nil {
			return nil, err
		}
		if err := ValidateTimeline(&p, ListBounds{Min: 1, Max: storedMaxNodes}); err != nil {
			return nil, err
		}
		return &p, nil
	case viz.KindGantt:
		var p viz.GanttPayload
		if err := strictUnmarshal(op, payload, &p); err != nil {
			return nil, err
		}
		if err := ValidateGantt(&p, ListBounds{Min: 1, Max: storedMaxNodes}); err != nil {
			return nil, err
		}
		return &p, nil
	default:
		return nil, violation(op, "unsupported kind %q", kind)
	}
}

const (
	storedMaxNodes = 500
	storedMaxEdges = 2000
	storedMaxDepth = 12
)

func strictUnmarshal(op string, raw []byte, out any) error {
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return violation(op, "stored payload failed strict decode: %v", err)
	}
	return nil
}

// GraphDelta is the expand-node response for network graphs: new nodes and
// edges only, to be merged additively.
type GraphDelta struct {
	Nodes []viz.GraphNode `json:"nodes"`
	Edges []viz.GraphEdge `json:"edges"`
}

func DecodeGraphDelta(raw string, b DeltaBounds) (*GraphDelta, error) {
	const op = "schema.DecodeGraphDelta"
	var d GraphDelta
	if err := repairAndDecode(op, raw, &d); err != nil {
		return nil, err
	}
	if len(d.Nodes) < b.MinNodes || len(d.Nodes) > b.MaxNodes {
		return nil, violation(op, "new node count %d outside bounds [%d,%d]", len(d.Nodes), b.MinNodes, b.MaxNodes)
	}
	if len(d.Edges) > b.MaxEdges {
		return nil, violation(op, "new edge count %d exceeds bound %d", len(d.Edges), b.MaxEdges)
	}
	seen := make(map[string]struct{}, len(d.Nodes))
	for i, n := range d.Nodes {
		if strings.TrimSpace(n.ID) == "" {
			return nil, violation(op, "new node %d has empty id", i)
		}
		if strings.TrimSpace(n.Label) == "" {
			return nil, violation(op, "new node %q has empty label", n.ID)
		}
		if _, dup := seen[n.ID]; dup {
			return nil, violation(op, "duplicate new node id %q", n.ID)
		}
		seen[n.ID] = struct{}{}
	}
	for i, e := range d.Edges {
		if strings.TrimSpace(e.ID) == "" {
			return nil, violation(op, "new edge %d has empty id", i)
		}
	}
	return &d, nil
}

type treeChildrenEnvelope struct {
	Children []*viz.TreeNode `json:"children"`
}

// DecodeTreeChildren decodes an ordered sequence of new child nodes for a
// hierarchical expand. Children may carry their own subtrees; ids must be
// unique within the delta (uniqueness against the document is the merge
// step's check).
func DecodeTreeChildren(raw string, b DeltaBounds) ([]*viz.TreeNode, error) {
	const op = "schema.DecodeTreeChildren"
	var env treeChildrenEnvelope
	if err := repairAndDecode(op, raw, &env); err != nil {
		return nil, err
	}
	if len(env.Children) < b.MinNodes || len(env.Children) > b.MaxNodes {
		return nil, violation(op, "new child count %d outside bounds [%d,%d]", len(env.Children), b.MinNodes, b.MaxNodes)
	}
	seen := make(map[string]struct{})
	var walk func(n *viz.TreeNode, depth int) error
	walk = func(n *viz.TreeNode, depth int) error {
		if n == nil {
			return violation(op, "null node in children")
		}
		if depth > DefaultTreeBounds.MaxDepth {
			return violation(op, "delta subtree depth exceeds bound %d", DefaultTreeBounds.MaxDepth)
		}
		if strings.TrimSpace(n.ID) == "" {
			return violation(op, "new node with empty id")
		}
		if _, dup := seen[n.ID]; dup {
			return violation(op, "duplicate new node id %q", n.ID)
		}
		seen[n.ID] = struct{}{}
		if strings.TrimSpace(n.Content) == "" {
			return violation(op, "new node %q has empty content", n.ID)
		}
		for _, c := range n.Children {
			if err := walk(c, depth+1); err != nil {
				return err
			}
		}
		return nil
	}
	for _, c := range env.Children {
		if err := walk(c, 1); err != nil {
			return nil, err
		}
	}
	return env.Children, nil
}

const (
	EditActionReplace = "replace"
	EditActionReply   = "reply"
)

type editEnvelope struct {
	Action  string          `json:"action"`
	Payload json.RawMessage `json:"payload"`
	Reply   string          `json:"reply"`
}

// EditOutcome is the decoded chat-edit response. Exactly one of the two
// shapes: Action=replace with a full re-validated payload, or Action=reply
// with no structural change. The discriminator is explicit; a reply is never
// assumed to imply a structural change.
type EditOutcome struct {
	Action  string
	Payload any
	Reply   string
}

func DecodeEditOutcome(kind viz.Kind, raw string) (*EditOutcome, error) {
	const op = "schema.DecodeEditOutcome"
	var env editEnvelope
	if err := repairAndDecode(op, raw, &env); err != nil {
		return nil, err
	}
	switch env.Action {
	case EditActionReplace:
		if len(env.Payload) == 0 || string(env.Payload) == "null" {
			return nil, violation(op, "replace action carries no payload")
		}
		typed, err := DecodePayload(kind, string(env.Payload))
		if err != nil {
			return nil, err
		}
		return &EditOutcome{Action: EditActionReplace, Payload: typed, Reply: strings.TrimSpace(env.Reply)}, nil
	case EditActionReply:
		if strings.TrimSpace(env.Reply) == "" {
			return nil, violation(op, "reply action carries empty reply")
		}
		return &EditOutcome{Action: EditActionReply, Reply: strings.TrimSpace(env.Reply)}, nil
	default:
		return nil, violation(op, "unknown edit action %q", env.Action)
	}
}
