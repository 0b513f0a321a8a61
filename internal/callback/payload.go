package callback

import (
	"path/filepath"
	"time"

	"github.com/AsaTyr2018/visionsuit-gpu-agent/internal/model"
)

// timestampFormat matches spec.md §4.7's "RFC 3339 with ms, Z" requirement.
const timestampFormat = "2006-01-02T15:04:05.000Z"

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampFormat)
}

type statusPayload struct {
	JobID            string                 `json:"job_id"`
	ClientID         string                 `json:"client_id"`
	State            string                 `json:"state"`
	Timestamp        string                 `json:"timestamp"`
	HeartbeatSeq     int                    `json:"heartbeat_seq"`
	PromptID         string                 `json:"prompt_id,omitempty"`
	Message          string                 `json:"message,omitempty"`
	Progress         interface{}            `json:"progress,omitempty"`
	Reason           string                 `json:"reason,omitempty"`
	ActivitySnapshot map[string]interface{} `json:"activity_snapshot,omitempty"`
}

type loraParam struct {
	Name string `json:"name"`
}

type genParams struct {
	Model     string      `json:"model,omitempty"`
	VAE       string      `json:"vae,omitempty"`
	CLIP      string      `json:"clip,omitempty"`
	Seed      *int64      `json:"seed,omitempty"`
	Steps     *int        `json:"steps,omitempty"`
	Cfg       *float64    `json:"cfg,omitempty"`
	Sampler   string      `json:"sampler,omitempty"`
	Scheduler string      `json:"scheduler,omitempty"`
	Denoise   interface{} `json:"denoise,omitempty"`
	Width     int         `json:"width,omitempty"`
	Height    int         `json:"height,omitempty"`
	Loras     []loraParam `json:"loras,omitempty"`
}

type metaPayload struct {
	StatusStr string `json:"status_str"`
	Completed bool   `json:"completed"`
}

type timingPayload struct {
	StartedAt  string `json:"started_at"`
	FinishedAt string `json:"finished_at"`
	DurationMS int64  `json:"duration_ms"`
}

type completionPayload struct {
	JobID     string               `json:"job_id"`
	ClientID  string               `json:"client_id"`
	State     string               `json:"state"`
	Timestamp string               `json:"timestamp"`
	Artifacts []model.ArtifactRecord `json:"artifacts"`
	Params    genParams            `json:"params"`
	Meta      metaPayload          `json:"meta"`
	Timing    timingPayload        `json:"timing"`
	Warnings  []string             `json:"warnings,omitempty"`
}

type terminalPayload struct {
	JobID      string         `json:"job_id"`
	ClientID   string         `json:"client_id"`
	State      string         `json:"state"`
	Timestamp  string         `json:"timestamp"`
	ReasonCode string         `json:"reason_code"`
	Reason     string         `json:"reason"`
	ErrorType  string         `json:"error_type,omitempty"`
	Timing     *timingPayload `json:"timing,omitempty"`
}

// buildParams derives the best-effort generation-parameters summary for the
// completion callback from the envelope. The engine resolves the final
// merged context internally but does not thread it through to the
// callback layer, so this reconstructs the controller-facing view directly
// from what the dispatch envelope carries.
func buildParams(job *model.DispatchEnvelope) genParams {
	p := genParams{
		Model: assetDisplayName(job.BaseModel),
		Seed:  job.Parameters.Seed,
		Steps: job.Parameters.Steps,
		Cfg:   job.Parameters.CfgScale,
	}
	if job.Parameters.Resolution != nil {
		p.Width = job.Parameters.Resolution.Width
		p.Height = job.Parameters.Resolution.Height
	}
	if job.Parameters.Extra != nil {
		if v, ok := job.Parameters.Extra["sampler"].(string); ok {
			p.Sampler = v
		}
		if v, ok := job.Parameters.Extra["scheduler"].(string); ok {
			p.Scheduler = v
		}
		if v, ok := job.Parameters.Extra["denoise"]; ok {
			p.Denoise = v
		}
	}
	for _, l := range job.Loras {
		p.Loras = append(p.Loras, loraParam{Name: assetDisplayName(l)})
	}
	return p
}

func assetDisplayName(ref model.AssetRef) string {
	if ref.DisplayName != "" {
		return ref.DisplayName
	}
	if ref.Key == "" {
		return ""
	}
	return filepath.Base(ref.Key)
}
