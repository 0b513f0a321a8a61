// Package model defines the wire-level data shapes exchanged between the
// controller and the agent: the dispatch envelope, asset references, the
// workflow graph, and the records the job engine produces as it resolves a
// job. Field aliases that the controller may send in either camelCase or
// snake_case are normalized during unmarshalling so the rest of the agent
// only ever sees one canonical field.
package model

import "encoding/json"

// CacheStrategy controls whether cleanup may remove a materialized asset
// after the job that used it terminates.
type CacheStrategy string

const (
	CacheStrategyPersistent CacheStrategy = "persistent"
	CacheStrategyEphemeral  CacheStrategy = "ephemeral"
)

// UserContext identifies the requester on whose behalf a job runs.
type UserContext struct {
	ID       string `json:"id" validate:"required"`
	Username string `json:"username" validate:"required"`
}

// AssetRef points at a model or LoRA file in the object store. It is
// read-only for the lifetime of a job.
type AssetRef struct {
	Bucket        string        `json:"bucket" validate:"required"`
	Key           string        `json:"key" validate:"required"`
	CacheStrategy CacheStrategy `json:"cacheStrategy"`
	Checksum      string        `json:"checksum,omitempty"`
	DisplayName   string        `json:"-"`
	OriginalName  string        `json:"-"`
}

// UnmarshalJSON accepts both displayName/originalName and their snake_case
// equivalents (display_name/original_name), honouring whichever is present.
func (a *AssetRef) UnmarshalJSON(data []byte) error {
	type alias AssetRef
	aux := struct {
		*alias
		DisplayNameCamel  *string `json:"displayName"`
		DisplayNameSnake  *string `json:"display_name"`
		OriginalNameCamel *string `json:"originalName"`
		OriginalNameSnake *string `json:"original_name"`
	}{alias: (*alias)(a)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	a.DisplayName = firstNonNil(aux.DisplayNameCamel, aux.DisplayNameSnake)
	a.OriginalName = firstNonNil(aux.OriginalNameCamel, aux.OriginalNameSnake)
	if a.CacheStrategy == "" {
		a.CacheStrategy = CacheStrategyEphemeral
	}
	return nil
}

func firstNonNil(values ...*string) string {
	for _, v := range values {
		if v != nil && *v != "" {
			return *v
		}
	}
	return ""
}

// WorkflowRef describes where to obtain the workflow graph. Exactly one of
// Inline, LocalPath, or ObjectKey must be set — enforced in validate.go via
// a JSON-schema check rather than struct tags, since "exactly one of three"
// does not express cleanly as a validator rule.
type WorkflowRef struct {
	Inline    json.RawMessage `json:"inline,omitempty"`
	LocalPath string          `json:"localPath,omitempty"`
	ObjectKey string          `json:"minioKey,omitempty"`
	Bucket    string          `json:"bucket,omitempty"`
}

// Resolution is the requested output image size.
type Resolution struct {
	Width  int `json:"width" validate:"required,gt=0"`
	Height int `json:"height" validate:"required,gt=0"`
}

// JobParameters carries the recognised generation parameters plus a
// free-form passthrough bag for anything the workflow defaults don't cover.
// Reserved keys (prompt, seed, steps, width, height, cfg_scale) are rejected
// if present in Extra — the merge logic in jobengine enforces this, not a
// key-lookup table here, per the design note in spec.md §9.
type JobParameters struct {
	Prompt         string                 `json:"prompt" validate:"required"`
	NegativePrompt *string                `json:"negativePrompt,omitempty"`
	Seed           *int64                 `json:"seed,omitempty"`
	CfgScale       *float64               `json:"cfgScale,omitempty"`
	Steps          *int                   `json:"steps,omitempty"`
	Resolution     *Resolution            `json:"resolution,omitempty"`
	Extra          map[string]interface{} `json:"extra,omitempty"`
}

// OutputSpec tells the agent where to upload generated artifacts.
type OutputSpec struct {
	Bucket string `json:"bucket" validate:"required"`
	Prefix string `json:"prefix" validate:"required"`
}

// WorkflowMutation is a single node-path→value edit applied to the loaded
// graph before submission. Value is a tagged-union-like `interface{}`:
// string, float64, bool, []interface{}, or map[string]interface{} after
// JSON decoding — binding verification in jobengine does type-aware
// comparison against these shapes.
type WorkflowMutation struct {
	Node  int         `json:"node"`
	Path  string      `json:"path" validate:"required"`
	Value interface{} `json:"value"`
}

// WorkflowParameterBinding names a resolved-parameter-context key that
// should be written to a specific node path; the job engine turns each
// applicable binding into a WorkflowMutation during parameter binding.
type WorkflowParameterBinding struct {
	Parameter string `json:"parameter" validate:"required"`
	Node      int    `json:"node"`
	Path      string `json:"path" validate:"required"`
}

// CallbackConfig holds the controller URLs the agent posts lifecycle events
// to. All are optional — a job with no callbacks configured simply runs
// silently from the controller's point of view.
type CallbackConfig struct {
	Status     string `json:"status,omitempty"`
	Completion string `json:"completion,omitempty"`
	Failure    string `json:"failure,omitempty"`
	Cancel     string `json:"cancel,omitempty"`
}

// DispatchEnvelope is the immutable request body describing a single job.
type DispatchEnvelope struct {
	JobID              string                     `json:"jobId" validate:"required"`
	User               UserContext                `json:"user" validate:"required"`
	Workflow           WorkflowRef                `json:"workflow" validate:"required"`
	BaseModel          AssetRef                    `json:"baseModel" validate:"required"`
	Loras              []AssetRef                  `json:"loras,omitempty"`
	Parameters         JobParameters               `json:"parameters" validate:"required"`
	Output             OutputSpec                  `json:"output" validate:"required"`
	CancelToken        string                      `json:"-"`
	WorkflowOverrides  []WorkflowMutation          `json:"workflowOverrides,omitempty"`
	WorkflowParameters []WorkflowParameterBinding  `json:"workflowParameters,omitempty"`
	Callbacks          CallbackConfig              `json:"callbacks,omitempty"`
}

// UnmarshalJSON normalizes the cancelToken/cancel_token alias.
func (d *DispatchEnvelope) UnmarshalJSON(data []byte) error {
	type alias DispatchEnvelope
	aux := struct {
		*alias
		CancelTokenCamel *string `json:"cancelToken"`
		CancelTokenSnake *string `json:"cancel_token"`
	}{alias: (*alias)(d)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	d.CancelToken = firstNonNil(aux.CancelTokenCamel, aux.CancelTokenSnake)
	return nil
}
