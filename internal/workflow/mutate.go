package workflow

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/AsaTyr2018/visionsuit-gpu-agent/internal/model"
)

// ApplyMutations applies each mutation's dotted path write to the graph,
// mirroring gpuworker/agent/app/workflow.py's apply_mutations/_assign_path.
func ApplyMutations(g model.Graph, mutations []model.WorkflowMutation) error {
	for _, mutation := range mutations {
		node, ok := g[strconv.Itoa(mutation.Node)]
		if !ok {
			return fmt.Errorf("workflow: node %d not found", mutation.Node)
		}
		if err := assignPath(node, mutation.Path, mutation.Value); err != nil {
			return err
		}
	}
	return nil
}

func assignPath(node *model.Node, dottedPath string, value interface{}) error {
	parts := strings.Split(dottedPath, ".")
	if node.Inputs == nil {
		node.Inputs = make(map[string]interface{})
	}
	target := node.Inputs
	for _, part := range parts[:len(parts)-1] {
		next, ok := target[part]
		if !ok || next == nil {
			m := make(map[string]interface{})
			target[part] = m
			target = m
			continue
		}
		m, ok := next.(map[string]interface{})
		if !ok {
			return fmt.Errorf("workflow: cannot resolve path %q: %q is not an object", dottedPath, part)
		}
		target = m
	}
	target[parts[len(parts)-1]] = value
	return nil
}

// AttachParameters synthesises a mutation for every workflowParameters
// binding whose parameter is present in resolvedParameters and applies it.
func AttachParameters(g model.Graph, bindings []model.WorkflowParameterBinding, resolvedParameters map[string]interface{}) error {
	var mutations []model.WorkflowMutation
	for _, binding := range bindings {
		value, ok := resolvedParameters[binding.Parameter]
		if !ok {
			continue
		}
		mutations = append(mutations, model.WorkflowMutation{Node: binding.Node, Path: binding.Path, Value: value})
	}
	return ApplyMutations(g, mutations)
}

// VerifyBindings re-reads every applicable binding's node path and compares
// it against the resolved parameter value with the type-aware equality
// rule from spec.md §4.3: integers match floats within 0.5, floats within
// 1e-3, strings after trim. All mismatches are aggregated into one error.
func VerifyBindings(g model.Graph, bindings []model.WorkflowParameterBinding, resolvedParameters map[string]interface{}) error {
	var problems []string
	for _, binding := range bindings {
		expected, ok := resolvedParameters[binding.Parameter]
		if !ok {
			continue
		}
		node, ok := g[strconv.Itoa(binding.Node)]
		if !ok {
			problems = append(problems, fmt.Sprintf("%s: node %d not found", binding.Parameter, binding.Node))
			continue
		}
		actual, err := readPath(node.Inputs, binding.Path)
		if err != nil {
			problems = append(problems, fmt.Sprintf("%s: %s", binding.Parameter, err.Error()))
			continue
		}
		if !valuesMatch(expected, actual) {
			problems = append(problems, fmt.Sprintf("%s: expected %v, got %v", binding.Parameter, expected, actual))
		}
	}
	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("workflow: %d binding mismatches: %s", len(problems), strings.Join(problems, "; "))
}

func readPath(inputs map[string]interface{}, dottedPath string) (interface{}, error) {
	parts := strings.Split(dottedPath, ".")
	var current interface{} = inputs
	for _, part := range parts {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("cannot resolve path %q", dottedPath)
		}
		current, ok = m[part]
		if !ok {
			return nil, fmt.Errorf("path %q not present", dottedPath)
		}
	}
	return current, nil
}

func valuesMatch(expected, actual interface{}) bool {
	if es, ok := expected.(string); ok {
		as, ok := actual.(string)
		return ok && strings.TrimSpace(es) == strings.TrimSpace(as)
	}

	ef, eok := toFloat(expected)
	af, aok := toFloat(actual)
	if !eok || !aok {
		return expected == actual
	}

	if isIntLike(expected) {
		return math.Abs(ef-af) <= 0.5
	}
	return math.Abs(ef-af) <= 1e-3
}

func isIntLike(v interface{}) bool {
	switch v.(type) {
	case int, int32, int64:
		return true
	default:
		return false
	}
}

func toFloat(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	default:
		return 0, false
	}
}
