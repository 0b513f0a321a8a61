package workflow

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/AsaTyr2018/visionsuit-gpu-agent/internal/model"
)

// LoraPlacement is one LoRA's resolved name and node-level strength values,
// applied to the template chain built by RewriteLoraChain.
type LoraPlacement struct {
	DisplayName   string
	StrengthModel float64
	StrengthClip  float64
}

// ResolveStrengths reads strength_model/strength_clip/strength from the
// LoRA's metadata: the model axis takes strength_model, else strength; the
// clip axis takes strength_clip, else strength. Each axis is clamped to
// [-2.0, 2.0], rounded to 2dp, and defaults to 1.0 when neither of its keys
// is supplied — per spec.md §4.6.3.
func ResolveStrengths(meta model.LoraMetadata) (strengthModel, strengthClip float64) {
	return normalizeStrength(pickFirst(meta.StrengthModel, meta.Strength)),
		normalizeStrength(pickFirst(meta.StrengthClip, meta.Strength))
}

func pickFirst(values ...*float64) *float64 {
	for _, v := range values {
		if v != nil {
			return v
		}
	}
	return nil
}

func normalizeStrength(v *float64) float64 {
	if v == nil {
		return 1.0
	}
	x := *v
	if x > 2.0 {
		x = 2.0
	}
	if x < -2.0 {
		x = -2.0
	}
	return math.Round(x*100) / 100
}

type reference struct {
	nodeID   string
	inputKey string
	slot     int
}

// RewriteLoraChain implements spec.md §4.6.4: it collapses every template
// LoraLoader node in g down to a single chain of exactly len(placements)
// nodes (or removes LoraLoader entirely when placements is empty),
// preserving every other node's edges into the chain's final output.
func RewriteLoraChain(g model.Graph, placements []LoraPlacement) error {
	templateIDs := findLoraLoaderIDs(g)
	if len(templateIDs) == 0 {
		if len(placements) > 0 {
			return fmt.Errorf("workflow: %d LoRAs requested but workflow has no LoraLoader template node", len(placements))
		}
		return nil
	}

	first := templateIDs[0]
	firstNode := g[first]
	upstreamModel, upstreamModelSlot, okM := isRef(firstNode.Inputs["model"])
	upstreamClip, upstreamClipSlot, okC := isRef(firstNode.Inputs["clip"])
	if !okM || !okC {
		return fmt.Errorf("workflow: LoraLoader template %s is missing upstream model/clip references", first)
	}
	upstream := func(slot int) (string, int) {
		if slot == 0 {
			return upstreamModel, upstreamModelSlot
		}
		return upstreamClip, upstreamClipSlot
	}

	for _, extra := range templateIDs[1:] {
		redirectReferences(g, extra, upstream)
		delete(g, extra)
	}

	if len(placements) == 0 {
		redirectReferences(g, first, upstream)
		delete(g, first)
		return nil
	}

	originalReferrers := collectReferrers(g, first)

	applyLoraPlacement(firstNode, placements[0])

	tail := first
	nextID := maxNodeID(g) + 1
	for i := 1; i < len(placements); i++ {
		clone, err := cloneNode(firstNode)
		if err != nil {
			return fmt.Errorf("workflow: failed to clone LoraLoader template: %w", err)
		}
		clone.Inputs["model"] = makeRef(tail, 0)
		clone.Inputs["clip"] = makeRef(tail, 1)
		applyLoraPlacement(clone, placements[i])

		newID := strconv.Itoa(nextID)
		g[newID] = clone
		tail = newID
		nextID++
	}

	if tail != first {
		for _, r := range originalReferrers {
			g[r.nodeID].Inputs[r.inputKey] = makeRef(tail, r.slot)
		}
	}
	return nil
}

func applyLoraPlacement(node *model.Node, p LoraPlacement) {
	node.Inputs["lora_name"] = p.DisplayName
	node.Inputs["strength_model"] = p.StrengthModel
	node.Inputs["strength_clip"] = p.StrengthClip
}

func findLoraLoaderIDs(g model.Graph) []string {
	var ids []string
	for id, node := range g {
		if node.ClassType == "LoraLoader" {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool {
		a, _ := strconv.Atoi(ids[i])
		b, _ := strconv.Atoi(ids[j])
		return a < b
	})
	return ids
}

func maxNodeID(g model.Graph) int {
	max := 0
	for id := range g {
		if n, err := strconv.Atoi(id); err == nil && n > max {
			max = n
		}
	}
	return max
}

func cloneNode(n *model.Node) (*model.Node, error) {
	data, err := json.Marshal(n)
	if err != nil {
		return nil, err
	}
	var out model.Node
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func isRef(v interface{}) (target string, slot int, ok bool) {
	arr, ok := v.([]interface{})
	if !ok || len(arr) != 2 {
		return "", 0, false
	}
	switch t := arr[0].(type) {
	case string:
		target = t
	case float64:
		target = strconv.Itoa(int(t))
	default:
		return "", 0, false
	}
	slotF, sok := toFloat(arr[1])
	if !sok {
		return "", 0, false
	}
	return target, int(slotF), true
}

func makeRef(target string, slot int) []interface{} {
	return []interface{}{target, float64(slot)}
}

func redirectReferences(g model.Graph, from string, to func(slot int) (string, int)) {
	for _, node := range g {
		for key, val := range node.Inputs {
			target, slot, ok := isRef(val)
			if !ok || target != from {
				continue
			}
			newTarget, newSlot := to(slot)
			node.Inputs[key] = makeRef(newTarget, newSlot)
		}
	}
}

func collectReferrers(g model.Graph, target string) []reference {
	var out []reference
	for id, node := range g {
		for key, val := range node.Inputs {
			t, slot, ok := isRef(val)
			if ok && t == target {
				out = append(out, reference{nodeID: id, inputKey: key, slot: slot})
			}
		}
	}
	return out
}
