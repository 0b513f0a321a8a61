package jobengine

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/AsaTyr2018/visionsuit-gpu-agent/internal/allowlist"
	"github.com/AsaTyr2018/visionsuit-gpu-agent/internal/model"
)

// validateWorkflowStructure runs the two structural checks of spec.md
// §4.6.5: every sampler node's positive/negative inputs must reference a
// CLIPTextEncode-family node, and every allow-listable string input must
// name an allowed value. Both aggregate across the whole graph before
// returning.
func validateWorkflowStructure(g model.Graph, samplerClassTypes []string, mapping allowlist.Mapping) error {
	var problems []string

	for id, node := range g {
		if isSamplerNode(node.ClassType, samplerClassTypes) {
			for _, inputKey := range []string{"positive", "negative"} {
				if err := verifyClipTextEncodeRef(g, node, inputKey); err != nil {
					problems = append(problems, fmt.Sprintf("node %s: %s", id, err.Error()))
				}
			}
		}

		for inputKey, value := range node.Inputs {
			str, ok := value.(string)
			if !ok {
				continue
			}
			if !allowlist.Allowed(mapping, inputKey, str) {
				problems = append(problems, fmt.Sprintf("node %s: %s=%q is not an allowed value", id, inputKey, str))
			}
		}
	}

	if len(problems) == 0 {
		return nil
	}
	return validationFailure(fmt.Sprintf("%d workflow validation problems: %s", len(problems), strings.Join(problems, "; ")), nil)
}

func isSamplerNode(classType string, samplerClassTypes []string) bool {
	lower := strings.ToLower(classType)
	for _, candidate := range samplerClassTypes {
		if strings.Contains(lower, strings.ToLower(candidate)) {
			return true
		}
	}
	return false
}

func verifyClipTextEncodeRef(g model.Graph, node *model.Node, inputKey string) error {
	raw, ok := node.Inputs[inputKey]
	if !ok {
		return fmt.Errorf("inputs.%s: missing", inputKey)
	}
	ref, ok := raw.([]interface{})
	if !ok || len(ref) != 2 {
		return fmt.Errorf("inputs.%s: expected a [node, slot] reference", inputKey)
	}
	targetID, ok := ref[0].(string)
	if !ok {
		if f, okNum := ref[0].(float64); okNum {
			targetID = strconv.FormatFloat(f, 'f', -1, 64)
		} else {
			return fmt.Errorf("inputs.%s: reference target id is not a string or number", inputKey)
		}
	}
	target, ok := g[targetID]
	if !ok {
		return fmt.Errorf("inputs.%s: target node %s not found", inputKey, targetID)
	}
	if !strings.Contains(strings.ToLower(target.ClassType), "cliptextencode") {
		return fmt.Errorf("inputs.%s: target node %s (%s) is not a CLIPTextEncode node", inputKey, targetID, target.ClassType)
	}
	return nil
}
