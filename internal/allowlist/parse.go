package allowlist

// parseObjectInfo walks the renderer's /object_info payload, recursively
// extracting every {inputs|required|optional} section's choices/default
// values, mirroring gpuworker/agent/app/comfyui.py's _parse_object_info.
func parseObjectInfo(payload map[string]interface{}) Mapping {
	mapping := Mapping{}
	for _, nodeValue := range payload {
		node, ok := nodeValue.(map[string]interface{})
		if !ok {
			continue
		}
		for _, sectionKey := range []string{"inputs", "required", "optional"} {
			if section, ok := node[sectionKey].(map[string]interface{}); ok {
				collectInputs(section, mapping)
			}
		}
	}
	return mapping
}

func collectInputs(section map[string]interface{}, mapping Mapping) {
	for key, value := range section {
		if nested, ok := value.(map[string]interface{}); ok {
			_, hasChoices := nested["choices"]
			_, hasDefault := nested["default"]
			if !hasChoices && !hasDefault {
				collectInputs(nested, mapping)
				continue
			}
		}
		choices := collectChoices(value)
		if len(choices) == 0 {
			continue
		}
		bucket := mapping[key]
		if bucket == nil {
			bucket = map[string]struct{}{}
			mapping[key] = bucket
		}
		for c := range choices {
			bucket[c] = struct{}{}
		}
	}
}

func collectChoices(value interface{}) map[string]struct{} {
	discovered := map[string]struct{}{}
	switch v := value.(type) {
	case map[string]interface{}:
		if c, ok := v["choices"]; ok {
			for k := range collectChoices(c) {
				discovered[k] = struct{}{}
			}
		}
		if d, ok := v["default"]; ok {
			if s, ok := d.(string); ok {
				discovered[normalizeName(s)] = struct{}{}
			}
		}
		for _, inner := range v {
			switch inner.(type) {
			case map[string]interface{}, []interface{}:
				for k := range collectChoices(inner) {
					discovered[k] = struct{}{}
				}
			}
		}
	case []interface{}:
		for _, item := range v {
			for k := range collectChoices(item) {
				discovered[k] = struct{}{}
			}
		}
	case string:
		discovered[normalizeName(v)] = struct{}{}
	}
	return discovered
}
