// Package callback posts job lifecycle notifications to the controller:
// non-terminal status updates and the three terminal outcomes (completion,
// failure, cancel). Delivery is best-effort — a controller that never
// answers does not fail the job — but every terminal callback is attempted
// at least once regardless of how the retries played out.
package callback

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/AsaTyr2018/visionsuit-gpu-agent/internal/config"
	"github.com/AsaTyr2018/visionsuit-gpu-agent/internal/jobengine"
	"github.com/AsaTyr2018/visionsuit-gpu-agent/internal/model"
)

// jobTiming tracks the per-job heartbeat sequence and start time needed to
// compute the completion callback's duration and to keep idempotency keys
// monotonically increasing, per spec.md §5's ordering invariant.
type jobTiming struct {
	startedAt    time.Time
	heartbeatSeq int
}

// Emitter implements jobengine.CallbackSender over HTTP.
type Emitter struct {
	client   *http.Client
	cfg      config.CallbackConfig
	clientID string
	log      *zap.Logger

	mu     sync.Mutex
	timing map[string]*jobTiming
}

// New builds an Emitter from the agent configuration.
func New(cfg *config.AgentConfig, log *zap.Logger) *Emitter {
	timeout := time.Duration(cfg.Callbacks.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	transport := &http.Transport{}
	if !cfg.Callbacks.VerifyTLS {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return &Emitter{
		client:   &http.Client{Timeout: timeout, Transport: transport},
		cfg:      cfg.Callbacks,
		clientID: cfg.Renderer.ClientID,
		log:      log.Named("callback"),
		timing:   make(map[string]*jobTiming),
	}
}

func (e *Emitter) nextHeartbeat(jobID string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.timing[jobID]
	if !ok {
		t = &jobTiming{startedAt: time.Now().UTC()}
		e.timing[jobID] = t
	}
	t.heartbeatSeq++
	return t.heartbeatSeq
}

// finish returns the job's recorded start time and forgets it, so the
// timing map doesn't grow unbounded across a long-running process.
func (e *Emitter) finish(jobID string) time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.timing[jobID]
	delete(e.timing, jobID)
	if ok {
		return t.startedAt
	}
	return time.Now().UTC()
}

// EmitStatus posts a non-terminal status update.
func (e *Emitter) EmitStatus(ctx context.Context, job *model.DispatchEnvelope, state model.GeneratorState, extra map[string]interface{}) {
	target := job.Callbacks.Status
	if target == "" {
		return
	}
	seq := e.nextHeartbeat(job.JobID)
	payload := statusPayload{
		JobID:        job.JobID,
		ClientID:     e.clientID,
		State:        string(state),
		Timestamp:    formatTimestamp(time.Now()),
		HeartbeatSeq: seq,
	}
	if extra != nil {
		if v, ok := extra["prompt_id"].(string); ok {
			payload.PromptID = v
		}
		if v, ok := extra["message"].(string); ok {
			payload.Message = v
		}
		if v, ok := extra["progress"]; ok {
			payload.Progress = v
		}
		if v, ok := extra["reason"].(string); ok {
			payload.Reason = v
		}
		if v, ok := extra["activity_snapshot"].(map[string]interface{}); ok {
			payload.ActivitySnapshot = v
		}
	}
	key := fmt.Sprintf("%s-%s-%d", job.JobID, state, seq)
	e.send(ctx, target, key, payload)
}

// EmitCompletion posts the terminal SUCCESS callback.
func (e *Emitter) EmitCompletion(ctx context.Context, job *model.DispatchEnvelope, artifacts []model.ArtifactRecord, warnings []string) {
	target := job.Callbacks.Completion
	if target == "" {
		return
	}
	started := e.finish(job.JobID)
	finished := time.Now().UTC()
	if artifacts == nil {
		artifacts = []model.ArtifactRecord{}
	}
	payload := completionPayload{
		JobID:     job.JobID,
		ClientID:  e.clientID,
		State:     string(model.StateSuccess),
		Timestamp: formatTimestamp(finished),
		Artifacts: artifacts,
		Params:    buildParams(job),
		Meta:      metaPayload{StatusStr: "completed", Completed: true},
		Timing: timingPayload{
			StartedAt:  formatTimestamp(started),
			FinishedAt: formatTimestamp(finished),
			DurationMS: finished.Sub(started).Milliseconds(),
		},
		Warnings: warnings,
	}
	e.send(ctx, target, job.JobID+"-"+string(model.StateSuccess), payload)
}

// EmitFailure posts the terminal FAILED callback.
func (e *Emitter) EmitFailure(ctx context.Context, job *model.DispatchEnvelope, failure *jobengine.Failure) {
	target := job.Callbacks.Failure
	if target == "" {
		return
	}
	started := e.finish(job.JobID)
	finished := time.Now().UTC()
	timing := &timingPayload{
		StartedAt:  formatTimestamp(started),
		FinishedAt: formatTimestamp(finished),
		DurationMS: finished.Sub(started).Milliseconds(),
	}
	payload := terminalPayload{
		JobID:      job.JobID,
		ClientID:   e.clientID,
		State:      string(model.StateFailed),
		Timestamp:  formatTimestamp(finished),
		ReasonCode: failure.Category.ReasonCode(),
		Reason:     failure.Detail,
		Timing:     timing,
	}
	e.send(ctx, target, job.JobID+"-"+string(model.StateFailed), payload)
}

// EmitCancel posts the terminal CANCELED callback.
func (e *Emitter) EmitCancel(ctx context.Context, job *model.DispatchEnvelope) {
	target := job.Callbacks.Cancel
	if target == "" {
		return
	}
	started := e.finish(job.JobID)
	finished := time.Now().UTC()
	timing := &timingPayload{
		StartedAt:  formatTimestamp(started),
		FinishedAt: formatTimestamp(finished),
		DurationMS: finished.Sub(started).Milliseconds(),
	}
	payload := terminalPayload{
		JobID:      job.JobID,
		ClientID:   e.clientID,
		State:      string(model.StateCanceled),
		Timestamp:  formatTimestamp(finished),
		ReasonCode: model.FailureCancelled.ReasonCode(),
		Reason:     "job cancelled on request",
		Timing:     timing,
	}
	e.send(ctx, target, job.JobID+"-"+string(model.StateCanceled), payload)
}

// send resolves the target URL, marshals body, and delivers it with linear
// backoff between retries. It never returns an error — every failure is
// logged and swallowed, matching spec.md §4.7's best-effort contract.
func (e *Emitter) send(ctx context.Context, rawTarget, idempotencyKey string, body interface{}) {
	resolved, err := resolveURL(rawTarget, e.cfg.BaseURL)
	if err != nil {
		e.log.Warn("skipping callback: cannot resolve URL", zap.String("target", rawTarget), zap.Error(err))
		return
	}
	data, err := json.Marshal(body)
	if err != nil {
		e.log.Error("failed to marshal callback payload", zap.Error(err))
		return
	}

	maxRetries := e.cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			wait := time.Duration(e.cfg.RetryBackoffSeconds * float64(attempt) * float64(time.Second))
			timer := time.NewTimer(wait)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				e.log.Warn("callback retry abandoned: context cancelled", zap.String("url", resolved))
				return
			}
		}
		if err := e.attempt(ctx, resolved, idempotencyKey, data); err != nil {
			lastErr = err
			e.log.Warn("callback delivery attempt failed", zap.String("url", resolved), zap.Int("attempt", attempt+1), zap.Error(err))
			continue
		}
		return
	}
	e.log.Error("callback delivery exhausted all retries", zap.String("url", resolved), zap.String("idempotencyKey", idempotencyKey), zap.Error(lastErr))
}

func (e *Emitter) attempt(ctx context.Context, url, idempotencyKey string, data []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("callback: failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", idempotencyKey)

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("callback: request failed: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("callback: non-2xx response: %d", resp.StatusCode)
	}
	return nil
}
