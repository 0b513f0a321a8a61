package jobengine

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"sort"
	"strings"

	"github.com/AsaTyr2018/visionsuit-gpu-agent/internal/model"
	"github.com/AsaTyr2018/visionsuit-gpu-agent/internal/workflow"
)

// reservedParameterKeys are the recognised fields that parameters.extra may
// not shadow — they come exclusively from parameters' typed fields.
// sampler/scheduler are deliberately absent: spec.md §4.6.3 permits them in
// extra.
var reservedParameterKeys = map[string]struct{}{
	"prompt":    {},
	"seed":      {},
	"steps":     {},
	"width":     {},
	"height":    {},
	"cfg_scale": {},
}

// resolvedLora is one materialized LoRA plus the metadata the envelope
// supplied for it (by position in job.Loras).
type resolvedLora struct {
	asset *model.ResolvedAsset
	meta  model.LoraMetadata
}

// buildParameterContext validates the envelope's required generation
// parameters, normalizes seed/cfg_scale, and merges workflow defaults,
// resolved-asset context, and the user's extra bag (with reserved-key
// rejection) into the flat map the workflow binding layer consumes.
func buildParameterContext(
	params model.JobParameters,
	baseModel *model.ResolvedAsset,
	loras []resolvedLora,
	workflowDefaults map[string]interface{},
) (map[string]interface{}, error) {
	var problems []string

	prompt := strings.TrimSpace(params.Prompt)
	if prompt == "" {
		problems = append(problems, "prompt: required")
	}

	steps := 0
	if params.Steps == nil || *params.Steps <= 0 {
		problems = append(problems, "steps: must be a positive integer")
	} else {
		steps = *params.Steps
	}

	cfgScale := 0.0
	if params.CfgScale == nil || *params.CfgScale <= 0 {
		problems = append(problems, "cfgScale: must be a positive number")
	} else {
		cfgScale = roundTo(*params.CfgScale, 2)
	}

	width, height := 0, 0
	if params.Resolution == nil || params.Resolution.Width <= 0 || params.Resolution.Height <= 0 {
		problems = append(problems, "resolution: width and height must both be positive")
	} else {
		width = params.Resolution.Width
		height = params.Resolution.Height
	}

	if len(problems) > 0 {
		return nil, validationFailure(fmt.Sprintf("%d parameter problems: %s", len(problems), strings.Join(problems, "; ")), nil)
	}

	seed, err := normalizeSeed(params.Seed)
	if err != nil {
		return nil, systemFailure("failed to generate seed", err)
	}

	context := map[string]interface{}{}
	for k, v := range workflowDefaults {
		context[k] = v
	}

	context["prompt"] = prompt
	if params.NegativePrompt != nil {
		context["negative_prompt"] = *params.NegativePrompt
	}
	context["seed"] = seed
	context["cfg_scale"] = cfgScale
	context["steps"] = steps
	context["width"] = width
	context["height"] = height

	if baseModel != nil {
		context["base_model_path"] = baseModel.DisplayName
		context["base_model_name"] = baseModel.DisplayName
		context["base_model_full_path"] = baseModel.LinkPath
	}

	loraNames := make([]string, 0, len(loras))
	for _, l := range loras {
		loraNames = append(loraNames, l.asset.DisplayName)
	}
	context["loras"] = loraNames

	if metaList := buildLorasMetadata(loras); metaList != nil {
		context["loras_metadata"] = metaList
	}

	if len(loras) > 0 {
		strengthModel, strengthClip := workflow.ResolveStrengths(loras[0].meta)
		context["primary_lora_name"] = loras[0].asset.DisplayName
		context["primary_lora_strength_model"] = strengthModel
		context["primary_lora_strength_clip"] = strengthClip
	}

	if err := mergeExtra(context, params.Extra); err != nil {
		return nil, err
	}

	if err := validateMergedContext(context); err != nil {
		return nil, err
	}

	return context, nil
}

func buildLorasMetadata(loras []resolvedLora) []map[string]interface{} {
	var out []map[string]interface{}
	for _, l := range loras {
		strengthModel, strengthClip := workflow.ResolveStrengths(l.meta)
		out = append(out, map[string]interface{}{
			"name":           l.asset.DisplayName,
			"strength_model": strengthModel,
			"strength_clip":  strengthClip,
		})
	}
	return out
}

// mergeExtra overlays the user-supplied extra bag onto context, rejecting
// any reserved key.
func mergeExtra(context map[string]interface{}, extra map[string]interface{}) error {
	var reserved []string
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if _, isReserved := reservedParameterKeys[k]; isReserved {
			reserved = append(reserved, k)
			continue
		}
		context[k] = extra[k]
	}
	if len(reserved) > 0 {
		return validationFailure(fmt.Sprintf("parameters.extra may not override reserved keys: %s", strings.Join(reserved, ", ")), nil)
	}
	return nil
}

// validateMergedContext enforces the second pass from spec.md §4.6.3: after
// merging, sampler and scheduler must both be present as non-empty trimmed
// strings — spec.md §8's hard invariant — and cfg_scale/steps/width/height
// must still be numeric.
func validateMergedContext(context map[string]interface{}) error {
	var problems []string

	for _, key := range []string{"sampler", "scheduler"} {
		v, ok := context[key]
		if !ok {
			problems = append(problems, fmt.Sprintf("%s: required", key))
			continue
		}
		s, isString := v.(string)
		if !isString || strings.TrimSpace(s) == "" {
			problems = append(problems, fmt.Sprintf("%s: must be a non-empty string", key))
		}
	}

	for _, key := range []string{"cfg_scale", "steps", "width", "height"} {
		if !isNumeric(context[key]) {
			problems = append(problems, fmt.Sprintf("%s: must be numeric", key))
		}
	}

	if len(problems) > 0 {
		return validationFailure(fmt.Sprintf("%d parameter problems: %s", len(problems), strings.Join(problems, "; ")), nil)
	}
	return nil
}

func isNumeric(v interface{}) bool {
	switch v.(type) {
	case int, int32, int64, float32, float64:
		return true
	default:
		return false
	}
}

func roundTo(v float64, places int) float64 {
	mult := math.Pow(10, float64(places))
	return math.Round(v*mult) / mult
}

// normalizeSeed returns |seed| mod 1e9, generating a cryptographically
// random seed in [0, 1e9) when the envelope didn't supply one.
func normalizeSeed(seed *int64) (int64, error) {
	const mod = int64(1_000_000_000)
	if seed == nil {
		n, err := rand.Int(rand.Reader, big.NewInt(mod))
		if err != nil {
			return 0, fmt.Errorf("jobengine: failed to generate seed: %w", err)
		}
		return n.Int64(), nil
	}
	v := *seed
	if v < 0 {
		v = -v
	}
	return v % mod, nil
}

// decodeLoraMetadataList parses parameters.extra["loras_metadata"], which
// arrives as a JSON array of per-LoRA strength records aligned by index to
// job.Loras, into one model.LoraMetadata per resolved LoRA. A missing or
// short list yields zero-value metadata (all strengths default to 1.0).
func decodeLoraMetadataList(extra map[string]interface{}, count int) ([]model.LoraMetadata, error) {
	metas := make([]model.LoraMetadata, count)
	raw, ok := extra["loras_metadata"]
	if !ok {
		return metas, nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("jobengine: failed to re-encode loras_metadata: %w", err)
	}
	var decoded []model.LoraMetadata
	if err := json.Unmarshal(data, &decoded); err != nil {
		return nil, validationFailure("parameters.extra.loras_metadata is malformed", err)
	}
	for i := range decoded {
		if i >= count {
			break
		}
		metas[i] = decoded[i]
	}
	return metas, nil
}
