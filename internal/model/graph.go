package model

import "encoding/json"

// Node is a single entry in the workflow graph: a node class plus its input
// bindings. Inputs values are left as `interface{}` after JSON decoding —
// they are either literals or `[nodeID, slotIndex]` reference pairs
// (`[]interface{}{string, float64}` once decoded).
type Node struct {
	ClassType string                 `json:"class_type"`
	Inputs    map[string]interface{} `json:"inputs"`
}

// Graph is the workflow: a mapping from string node ID to its record. It is
// the canonical shape the renderer accepts — a flat map keyed by node id,
// as opposed to the original prototype's node-list shape.
type Graph map[string]*Node

// Clone returns a deep copy of the graph via JSON round-trip. The graph
// only ever contains JSON-safe values (strings, numbers, bools, slices,
// maps) so this is both correct and simple — exactly how
// gpuworker/agent/app/workflow.py's WorkflowLoader.load used
// copy.deepcopy on the parsed JSON document.
func (g Graph) Clone() (Graph, error) {
	data, err := json.Marshal(g)
	if err != nil {
		return nil, err
	}
	out := make(Graph, len(g))
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
