// Package prompts assembles the per kind × operation instruction contracts
// and the strict json_schema maps handed to the model. The cardinality
// numbers quoted in the prompt text come from the schema package so the
// instruction and the server-side enforcement stay in sync.
package prompts

import (
	"fmt"
	"strings"

	"github.com/vizboard/vizboard-backend/internal/domain/viz"
	"github.com/vizboard/vizboard-backend/internal/viz/schema"
)

const (
	SelectionSchemaName    = "format_selection"
	GraphSchemaName        = "network_graph_payload"
	TreeSchemaName         = "tree_payload"
	TimelineSchemaName     = "timeline_payload"
	GanttSchemaName        = "gantt_payload"
	GraphDeltaSchemaName   = "network_graph_delta"
	TreeChildrenSchemaName = "tree_children_delta"
	EditSchemaName         = "document_edit"
)

func obj(props map[string]any, required ...string) map[string]any {
	return map[string]any{
		"type":                 "object",
		"properties":           props,
		"required":             required,
		"additionalProperties": false,
	}
}

func str() map[string]any            { return map[string]any{"type": "string"} }
func arr(items map[string]any) map[string]any {
	return map[string]any{"type": "array", "items": items}
}

// SelectionSystem instructs the classifier. The kind list is closed; anything
// outside it is a contract violation on our side, not a negotiation.
func SelectionSystem() string {
	kinds := make([]string, 0, len(viz.Kinds()))
	for _, k := range viz.Kinds() {
		kinds = append(kinds, string(k))
	}
	return strings.Join([]string{
		"ROLE: Visualization format classifier.",
		"TASK: Decide whether the user's text can be rendered as one of the supported visualization kinds, and which kind fits best.",
		"SUPPORTED KINDS: " + strings.Join(kinds, ", ") + ".",
		"If the text cannot reasonably be visualized as any supported kind, set visualizable=false and kind=\"none\".",
		"Never invent a kind outside the supported list.",
		"OUTPUT: Return ONLY JSON matching the schema (no extra keys, no prose).",
		"reason must briefly justify the decision in one sentence.",
	}, "\n")
}

func SelectionSchema() map[string]any {
	kinds := []string{string(viz.KindNone)}
	for _, k := range viz.Kinds() {
		kinds = append(kinds, string(k))
	}
	return obj(map[string]any{
		"visualizable": map[string]any{"type": "boolean"},
		"kind":         map[string]any{"type": "string", "enum": kinds},
		"reason":       str(),
	}, "visualizable", "kind", "reason")
}

func graphNodeSchema() map[string]any {
	return obj(map[string]any{
		"id":          str(),
		"label":       str(),
		"description": str(),
		"category":    str(),
	}, "id", "label", "description", "category")
}

func graphEdgeSchema() map[string]any {
	return obj(map[string]any{
		"id":     str(),
		"source": str(),
		"target": str(),
		"label":  str(),
	}, "id", "source", "target", "label")
}

func GraphSchema() map[string]any {
	return obj(map[string]any{
		"nodes": arr(graphNodeSchema()),
		"edges": arr(graphEdgeSchema()),
	}, "nodes", "edges")
}

// Recursive tree schemas use a bounded manual expansion instead of $ref:
// strict json_schema support for self-reference is inconsistent across
// model versions, and the depth bound is part of the contract anyway.
func treeNodeSchema(depth int) map[string]any {
	props := map[string]any{
		"id":          str(),
		"content":     str(),
		"description": str(),
	}
	required := []string{"id", "content", "description"}
	if depth > 1 {
		props["children"] = arr(treeNodeSchema(depth - 1))
		required = append(required, "children")
	}
	return obj(props, required...)
}

func TreeSchema() map[string]any {
	return obj(map[string]any{
		"root": treeNodeSchema(schema.DefaultTreeBounds.MaxDepth),
	}, "root")
}

func TimelineSchema() map[string]any {
	event := obj(map[string]any{
		"id":          str(),
		"title":       str(),
		"description": str(),
		"date":        str(),
		"end_date":    str(),
	}, "id", "title", "description", "date", "end_date")
	return obj(map[string]any{"events": arr(event)}, "events")
}

func GanttSchema() map[string]any {
	task := obj(map[string]any{
		"id":         str(),
		"name":       str(),
		"start":      str(),
		"end":        str(),
		"depends_on": arr(str()),
	}, "id", "name", "start", "end", "depends_on")
	return obj(map[string]any{"tasks": arr(task)}, "tasks")
}

// GenerationSystem returns the kind-specific instruction contract: structural
// rules, cardinality bounds, labeling style.
func GenerationSystem(kind viz.Kind) string {
	common := []string{
		"OUTPUT: Return ONLY JSON matching the schema. No prose, no markdown fences.",
		"All ids are short opaque strings (e.g. \"n1\", \"e3\"); ids must be unique within the document.",
		"Use empty strings for optional text fields you have nothing for; never omit keys.",
	}
	switch kind {
	case viz.KindNetworkGraph:
		b := schema.DefaultGraphBounds
		return strings.Join(append([]string{
			"ROLE: Knowledge-graph author.",
			"TASK: Extract the entities and relationships in the user's text as a network graph.",
			fmt.Sprintf("Produce between %d and %d nodes and at most %d edges.", b.MinNodes, b.MaxNodes, b.MaxEdges),
			"Every edge's source and target must be node ids you produced in the same response.",
			"Node labels are short noun phrases (max 6 words); edge labels name the relationship.",
			"Use category to group related nodes when a natural grouping exists.",
		}, common...), "\n")
	case viz.KindMindmap, viz.KindTreeDiagram:
		b := schema.DefaultTreeBounds
		return strings.Join(append([]string{
			"ROLE: Mind-map author.",
			"TASK: Organize the user's text as a single-rooted hierarchy.",
			fmt.Sprintf("Produce between %d and %d nodes total, at most %d levels deep.", b.MinNodes, b.MaxNodes, b.MaxDepth),
			"The root captures the central topic; children refine their parent.",
			"content is a short phrase (max 8 words); description may elaborate in one sentence.",
			"A node id must not repeat anywhere in the tree.",
		}, common...), "\n")
	case viz.KindTimeline:
		b := schema.DefaultTimelineBounds
		return strings.Join(append([]string{
			"ROLE: Timeline author.",
			"TASK: Lay out the events in the user's text chronologically.",
			fmt.Sprintf("Produce between %d and %d events.", b.Min, b.Max),
			"date (and optional end_date) are ISO-8601 dates or year strings; order events ascending.",
		}, common...), "\n")
	case viz.KindGantt:
		b := schema.DefaultGanttBounds
		return strings.Join(append([]string{
			"ROLE: Project-plan author.",
			"TASK: Break the user's text into scheduled tasks.",
			fmt.Sprintf("Produce between %d and %d tasks.", b.Min, b.Max),
			"start and end are ISO-8601 dates; depends_on lists ids of tasks produced in this response.",
		}, common...), "\n")
	default:
		return strings.Join(common, "\n")
	}
}

func GenerationSchema(kind viz.Kind) (string, map[string]any) {
	switch kind {
	case viz.KindNetworkGraph:
		return GraphSchemaName, GraphSchema()
	case viz.KindMindmap, viz.KindTreeDiagram:
		return TreeSchemaName, TreeSchema()
	case viz.KindTimeline:
		return TimelineSchemaName, TimelineSchema()
	case viz.KindGantt:
		return GanttSchemaName, GanttSchema()
	default:
		return "", nil
	}
}

func GraphDeltaSchema() map[string]any {
	return obj(map[string]any{
		"nodes": arr(graphNodeSchema()),
		"edges": arr(graphEdgeSchema()),
	}, "nodes", "edges")
}

// GraphExpandSystem instructs the expand-node call for graphs. The existing
// ids and labels are listed to discourage duplicates; the response must
// contain new material only.
func GraphExpandSystem() string {
	b := schema.DefaultDeltaBounds
	return strings.Join([]string{
		"ROLE: Knowledge-graph expander.",
		"TASK: Add detail around one target node of an existing graph.",
		fmt.Sprintf("Produce between %d and %d NEW nodes and at most %d NEW edges.", b.MinNodes, b.MaxNodes, b.MaxEdges),
		"Do NOT repeat or restate any existing node or edge; ids you produce must not collide with existing ids.",
		"Edges may connect new nodes to each other, to the target node, or to other existing node ids.",
		"OUTPUT: Return ONLY JSON matching the schema.",
	}, "\n")
}

func GraphExpandUser(nodeID, nodeLabel, sourceText string, existing []string) string {
	return strings.Join([]string{
		"TARGET NODE: id=" + nodeID + " label=" + nodeLabel,
		"ORIGINAL INPUT:\n" + sourceText,
		"EXISTING NODES (id: label):\n" + strings.Join(existing, "\n"),
	}, "\n\n")
}

func TreeChildrenSchema() map[string]any {
	return obj(map[string]any{
		"children": arr(treeNodeSchema(3)),
	}, "children")
}

func TreeExpandSystem() string {
	b := schema.DefaultDeltaBounds
	return strings.Join([]string{
		"ROLE: Mind-map expander.",
		"TASK: Generate new child nodes for one target node of an existing hierarchy.",
		fmt.Sprintf("Produce between %d and %d NEW children (each may carry a small subtree).", b.MinNodes, b.MaxNodes),
		"Ids you produce must not collide with any existing id.",
		"OUTPUT: Return ONLY JSON matching the schema.",
	}, "\n")
}

func TreeExpandUser(nodeID, nodeContent string, existingIDs []string) string {
	return strings.Join([]string{
		"TARGET NODE: id=" + nodeID + " content=" + nodeContent,
		"EXISTING NODE IDS: " + strings.Join(existingIDs, ", "),
	}, "\n\n")
}

// EditSchema wraps the kind payload in the replace/reply envelope. action is
// the explicit discriminator: replace carries a full payload, reply carries
// conversation text only.
func EditSchema(kind viz.Kind) map[string]any {
	_, payloadSchema := GenerationSchema(kind)
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"action":  map[string]any{"type": "string", "enum": []string{"replace", "reply"}},
			"payload": map[string]any{"anyOf": []any{payloadSchema, map[string]any{"type": "null"}}},
			"reply":   str(),
		},
		"required":             []string{"action", "payload", "reply"},
		"additionalProperties": false,
	}
}

func EditSystem(kind viz.Kind) string {
	return strings.Join([]string{
		"ROLE: Visualization document editor.",
		fmt.Sprintf("TASK: Apply the user's instruction to the current %s document, or answer their question about it.", kind),
		"If the instruction changes the structure, set action=\"replace\" and return the COMPLETE updated payload (not a fragment), plus a short reply describing what changed.",
		"If the instruction is a question or needs no structural change, set action=\"reply\", set payload=null, and answer in reply.",
		"When replacing: keep every id of unchanged elements stable; never renumber existing ids.",
		"OUTPUT: Return ONLY JSON matching the schema.",
	}, "\n")
}

func EditUser(payloadJSON, instruction string) string {
	return strings.Join([]string{
		"CURRENT DOCUMENT PAYLOAD:\n" + payloadJSON,
		"INSTRUCTION:\n" + instruction,
	}, "\n\n")
}
