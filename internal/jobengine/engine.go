// Package jobengine drives a single dispatched job from QUEUED through its
// terminal state: asset materialization, workflow construction, submission
// to the renderer, completion polling, artifact upload, and cleanup. It is
// the orchestration layer that wires together objectstore, assets,
// workflow, allowlist, and renderer.
package jobengine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/AsaTyr2018/visionsuit-gpu-agent/internal/allowlist"
	"github.com/AsaTyr2018/visionsuit-gpu-agent/internal/assets"
	"github.com/AsaTyr2018/visionsuit-gpu-agent/internal/config"
	"github.com/AsaTyr2018/visionsuit-gpu-agent/internal/model"
	"github.com/AsaTyr2018/visionsuit-gpu-agent/internal/renderer"
	"github.com/AsaTyr2018/visionsuit-gpu-agent/internal/workflow"
)

// RendererClient is the subset of renderer.Client the engine drives.
type RendererClient interface {
	Submit(ctx context.Context, graph model.Graph) (string, error)
	WaitForCompletion(ctx context.Context, promptID string, timeout time.Duration, cancel *model.CancellationHandle) (map[string]interface{}, error)
	FetchObjectInfo(ctx context.Context) (map[string]interface{}, error)
	DescribeActivity(ctx context.Context) renderer.Activity
}

// CallbackSender delivers job lifecycle notifications to the controller.
// Implemented by internal/callback.Emitter.
type CallbackSender interface {
	EmitStatus(ctx context.Context, job *model.DispatchEnvelope, state model.GeneratorState, extra map[string]interface{})
	EmitCompletion(ctx context.Context, job *model.DispatchEnvelope, artifacts []model.ArtifactRecord, warnings []string)
	EmitFailure(ctx context.Context, job *model.DispatchEnvelope, failure *Failure)
	EmitCancel(ctx context.Context, job *model.DispatchEnvelope)
}

// EventSink persists the job's manifest/events/applied-workflow record.
// Implemented by internal/joblog.Writer.
type EventSink interface {
	RecordEvent(jobID, eventType string, detail map[string]interface{})
	WriteManifest(jobID string, envelope *model.DispatchEnvelope, finalState model.GeneratorState) error
	WriteAppliedWorkflow(jobID string, g model.Graph) error
}

// Engine executes at most one job at a time.
type Engine struct {
	cfg *config.AgentConfig
	log *zap.Logger

	store      UploadStore
	resolver   *assets.Resolver
	loader     *workflow.Loader
	oracle     *allowlist.Oracle
	renderer   RendererClient
	callbacks  CallbackSender
	events     EventSink

	gate gate

	cancelMu   sync.Mutex
	cancel     *model.CancellationHandle
	currentJob *model.DispatchEnvelope
}

// New wires an Engine from its collaborators.
func New(
	cfg *config.AgentConfig,
	store UploadStore,
	resolver *assets.Resolver,
	loader *workflow.Loader,
	oracle *allowlist.Oracle,
	rendererClient RendererClient,
	callbacks CallbackSender,
	events EventSink,
	log *zap.Logger,
) *Engine {
	return &Engine{
		cfg:       cfg,
		log:       log.Named("jobengine"),
		store:     store,
		resolver:  resolver,
		loader:    loader,
		oracle:    oracle,
		renderer:  rendererClient,
		callbacks: callbacks,
		events:    events,
	}
}

// IsBusy reports whether a job currently holds the admission gate.
func (e *Engine) IsBusy() bool {
	if e.gate.TryReserve() {
		e.gate.Release()
		return false
	}
	return true
}

// TryReserve acquires the admission gate without waiting. The dispatch
// endpoint returns 409 on failure.
func (e *Engine) TryReserve() bool {
	return e.gate.TryReserve()
}

// RunReserved executes job after TryReserve succeeded, releasing the gate
// on every path.
func (e *Engine) RunReserved(ctx context.Context, job *model.DispatchEnvelope) {
	defer e.gate.Release()
	e.execute(ctx, job)
}

// HandleJob is the waiting variant — acquires the gate, runs, releases.
// Used only in tests, matching spec.md §4.6.1.
func (e *Engine) HandleJob(ctx context.Context, job *model.DispatchEnvelope) {
	e.gate.HandleJob()
	defer e.gate.Release()
	e.execute(ctx, job)
}

// RequestCancel matches token against the in-flight job's cancellation
// handle and, on an exact match, sets the signal, emits a best-effort
// "cancelling" status heartbeat, and returns true.
func (e *Engine) RequestCancel(token string) bool {
	e.cancelMu.Lock()
	handle := e.cancel
	job := e.currentJob
	e.cancelMu.Unlock()
	if handle == nil || token == "" || handle.Token != token {
		return false
	}
	if !handle.Cancel() {
		return false
	}
	if job != nil {
		e.events.RecordEvent(job.JobID, "cancel_requested", nil)
		e.callbacks.EmitStatus(context.Background(), job, model.StateRunning, map[string]interface{}{"message": "cancelling"})
	}
	return true
}

// DescribeActivity reports renderer queue depth plus whether the engine
// itself is currently busy, for /healthz and /.
func (e *Engine) DescribeActivity(ctx context.Context) (busy bool, activity renderer.Activity) {
	return e.IsBusy(), e.renderer.DescribeActivity(ctx)
}

func (e *Engine) setCancelHandle(h *model.CancellationHandle, job *model.DispatchEnvelope) {
	e.cancelMu.Lock()
	e.cancel = h
	e.currentJob = job
	e.cancelMu.Unlock()
}

func (e *Engine) clearCancelHandle() {
	e.cancelMu.Lock()
	e.cancel = nil
	e.currentJob = nil
	e.cancelMu.Unlock()
}

// execute runs the full state machine for one job and never panics —
// every failure path is captured, logged, and reported via the failure
// callback per spec.md §7.
func (e *Engine) execute(ctx context.Context, job *model.DispatchEnvelope) {
	log := e.log.With(zap.String("jobId", job.JobID), zap.String("user", job.User.Username))
	log.Info("starting job")
	e.events.RecordEvent(job.JobID, "accepted", nil)

	if job.CancelToken != "" {
		e.setCancelHandle(model.NewCancellationHandle(job.CancelToken, job.JobID), job)
		e.events.RecordEvent(job.JobID, "cancellation_registered", nil)
	}
	defer e.clearCancelHandle()

	outcome := e.run(ctx, job, log)

	switch {
	case outcome.cancelled:
		log.Info("job cancelled")
		e.events.RecordEvent(job.JobID, "cancelled", nil)
		e.callbacks.EmitCancel(ctx, job)
		e.finalize(job, outcome, model.StateCanceled, log)
	case outcome.failure != nil:
		log.Error("job failed", zap.String("category", string(outcome.failure.Category)), zap.Error(outcome.failure))
		e.events.RecordEvent(job.JobID, "failed", map[string]interface{}{"reason": outcome.failure.Error(), "category": string(outcome.failure.Category)})
		e.callbacks.EmitFailure(ctx, job, outcome.failure)
		e.finalize(job, outcome, model.StateFailed, log)
	default:
		log.Info("job completed")
		e.events.RecordEvent(job.JobID, "completed", map[string]interface{}{"artifacts": len(outcome.artifacts)})
		e.callbacks.EmitCompletion(ctx, job, outcome.artifacts, outcome.warnings)
		e.finalize(job, outcome, model.StateSuccess, log)
	}
}

func (e *Engine) finalize(job *model.DispatchEnvelope, outcome runOutcome, finalState model.GeneratorState, log *zap.Logger) {
	cleanupJob(outcome.baseModel, outcome.loras, e.cfg.Cleanup, e.cfg.PersistentModelKeys, log)
	if err := e.events.WriteManifest(job.JobID, job, finalState); err != nil {
		log.Warn("failed to write job manifest", zap.Error(err))
	}
	e.events.RecordEvent(job.JobID, "finalized", nil)
}

// runOutcome is the internal result of running one job through the state
// machine: exactly one of failure/cancelled/success is populated.
type runOutcome struct {
	failure   *Failure
	cancelled bool
	artifacts []model.ArtifactRecord
	warnings  []string
	baseModel *model.ResolvedAsset
	loras     []*model.ResolvedAsset
}

func (e *Engine) run(ctx context.Context, job *model.DispatchEnvelope, log *zap.Logger) runOutcome {
	var outcome runOutcome

	log.Info("materializing assets")
	baseModel, err := e.resolver.Resolve(ctx, job.BaseModel, assets.KindModel, assets.ResolveOptions{})
	if err != nil {
		outcome.failure = transientFailure("failed to materialize base model", err)
		return outcome
	}
	outcome.baseModel = baseModel

	loraMetas, err := decodeLoraMetadataList(job.Parameters.Extra, len(job.Loras))
	if err != nil {
		if f, ok := err.(*Failure); ok {
			outcome.failure = f
		} else {
			outcome.failure = systemFailure("failed to decode loras_metadata", err)
		}
		return outcome
	}

	resolvedLoras := make([]resolvedLora, 0, len(job.Loras))
	for i, ref := range job.Loras {
		opts := assets.ResolveOptions{
			Owner:         job.User.Username,
			JobID:         job.JobID,
			IsPrimaryLora: i == 0,
		}
		if i == 0 {
			if override := primaryLoraOverride(job.Parameters.Extra); override != "" {
				opts.PrimaryOverrideName = override
			}
		}
		resolved, err := e.resolver.Resolve(ctx, ref, assets.KindLora, opts)
		if err != nil {
			outcome.failure = transientFailure(fmt.Sprintf("failed to materialize lora %d", i), err)
			return outcome
		}
		outcome.loras = append(outcome.loras, resolved)
		resolvedLoras = append(resolvedLoras, resolvedLora{asset: resolved, meta: loraMetas[i]})
	}

	log.Info("building workflow")
	graph, err := e.loader.Load(ctx, job)
	if err != nil {
		outcome.failure = validationFailure("failed to load workflow", err)
		return outcome
	}

	if err := workflow.ApplyMutations(graph, job.WorkflowOverrides); err != nil {
		outcome.failure = validationFailure("failed to apply workflow overrides", err)
		return outcome
	}

	placements := make([]workflow.LoraPlacement, 0, len(resolvedLoras))
	for _, rl := range resolvedLoras {
		strengthModel, strengthClip := workflow.ResolveStrengths(rl.meta)
		placements = append(placements, workflow.LoraPlacement{
			DisplayName:   rl.asset.DisplayName,
			StrengthModel: strengthModel,
			StrengthClip:  strengthClip,
		})
	}
	if err := workflow.RewriteLoraChain(graph, placements); err != nil {
		outcome.failure = validationFailure("failed to rewrite LoRA chain", err)
		return outcome
	}

	resolvedParams, err := buildParameterContext(job.Parameters, baseModel, resolvedLoras, e.cfg.WorkflowDefaults)
	if err != nil {
		if f, ok := err.(*Failure); ok {
			outcome.failure = f
		} else {
			outcome.failure = systemFailure("failed to build parameter context", err)
		}
		return outcome
	}

	if err := workflow.AttachParameters(graph, job.WorkflowParameters, resolvedParams); err != nil {
		outcome.failure = validationFailure("failed to attach workflow parameters", err)
		return outcome
	}
	if err := workflow.VerifyBindings(graph, job.WorkflowParameters, resolvedParams); err != nil {
		outcome.failure = validationFailure("workflow parameter bindings do not match", err)
		return outcome
	}

	if anyDownloaded(baseModel, resolvedLoras) {
		e.oracle.Invalidate()
		waitModelRefreshDelay(ctx, e.cfg.Renderer.ModelRefreshDelaySeconds)
	}

	mapping, err := e.oracle.AllowedNames(ctx)
	if err != nil {
		log.Warn("failed to refresh allow-list, proceeding with last-known mapping", zap.Error(err))
	}
	if err := validateWorkflowStructure(graph, e.cfg.Validation.SamplerClassTypes, mapping); err != nil {
		outcome.failure = err.(*Failure)
		return outcome
	}

	fingerprint, err := workflow.Fingerprint(graph)
	if err != nil {
		log.Warn("failed to fingerprint workflow", zap.Error(err))
	} else {
		e.events.RecordEvent(job.JobID, "context_resolved", map[string]interface{}{"fingerprint": fingerprint})
	}
	if err := e.events.WriteAppliedWorkflow(job.JobID, graph); err != nil {
		log.Warn("failed to persist applied workflow", zap.Error(err))
	}

	e.callbacks.EmitStatus(ctx, job, model.StateQueued, nil)

	if e.cancelled() {
		outcome.cancelled = true
		return outcome
	}

	promptID, err := e.renderer.Submit(ctx, graph)
	if err != nil {
		outcome.failure = transientFailure("failed to submit workflow to renderer", err)
		return outcome
	}
	log.Info("workflow submitted", zap.String("promptId", promptID))
	e.events.RecordEvent(job.JobID, "running", map[string]interface{}{"prompt_id": promptID})
	e.callbacks.EmitStatus(ctx, job, model.StateRunning, map[string]interface{}{"prompt_id": promptID})

	seed, _ := toFloatSeed(resolvedParams["seed"])
	timeout := computeTimeout(e.cfg.Renderer, mustInt(resolvedParams["steps"]), graph)

	history, err := e.renderer.WaitForCompletion(ctx, promptID, timeout, e.cancelHandle())
	if err != nil {
		switch err.(type) {
		case *renderer.Cancelled:
			outcome.cancelled = true
			return outcome
		case *renderer.TimeoutError:
			outcome.failure = newFailure(model.FailureTimeout, "renderer did not complete within the timeout", err)
			return outcome
		case *renderer.JobFailed:
			outcome.failure = newFailure(model.FailureSystem, "renderer reported job failure", err)
			return outcome
		default:
			outcome.failure = transientFailure("failed while waiting for renderer completion", err)
			return outcome
		}
	}

	e.events.RecordEvent(job.JobID, "uploading", nil)
	e.callbacks.EmitStatus(ctx, job, model.StateUploading, map[string]interface{}{"prompt_id": promptID})

	files := extractOutputFiles(history)
	loraNames := make([]string, 0, len(resolvedLoras))
	for _, rl := range resolvedLoras {
		loraNames = append(loraNames, rl.asset.DisplayName)
	}
	artifacts, warnings, err := uploadArtifacts(
		ctx, e.store, e.cfg.Paths.Outputs, job.JobID, job.Output.Bucket,
		job.Parameters, seed, mustInt(resolvedParams["steps"]), job.User.Username,
		baseModel.DisplayName, loraNames, files,
	)
	if err != nil {
		outcome.failure = transientFailure("failed to upload artifacts", err)
		return outcome
	}
	outcome.artifacts = artifacts
	outcome.warnings = warnings
	return outcome
}

func (e *Engine) cancelled() bool {
	h := e.cancelHandle()
	return h != nil && h.IsSet()
}

func (e *Engine) cancelHandle() *model.CancellationHandle {
	e.cancelMu.Lock()
	defer e.cancelMu.Unlock()
	return e.cancel
}

// anyDownloaded reports whether resolving the base model or any LoRA pulled
// a fresh file from the object store this run, meaning the renderer's
// allow-list mapping may still predate the just-written filename.
func anyDownloaded(baseModel *model.ResolvedAsset, loras []resolvedLora) bool {
	if baseModel != nil && baseModel.Downloaded {
		return true
	}
	for _, rl := range loras {
		if rl.asset != nil && rl.asset.Downloaded {
			return true
		}
	}
	return false
}

// waitModelRefreshDelay gives the renderer time to pick up a freshly
// materialized model/LoRA before the allow-list is re-fetched, per
// spec.md §4.4's model_refresh_delay_seconds.
func waitModelRefreshDelay(ctx context.Context, seconds float64) {
	delay := time.Duration(seconds * float64(time.Second))
	if delay <= 0 {
		return
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

func primaryLoraOverride(extra map[string]interface{}) string {
	if extra == nil {
		return ""
	}
	if v, ok := extra["primary_lora_name"]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func toFloatSeed(v interface{}) (int64, bool) {
	switch t := v.(type) {
	case int64:
		return t, true
	case float64:
		return int64(t), true
	default:
		return 0, false
	}
}

func mustInt(v interface{}) int {
	switch t := v.(type) {
	case int:
		return t
	case float64:
		return int(t)
	default:
		return 0
	}
}

func extractOutputFiles(history map[string]interface{}) []outputFile {
	raw := renderer.ExtractOutputFiles(history, nil)
	files := make([]outputFile, 0, len(raw))
	for _, f := range raw {
		files = append(files, outputFile{NodeID: f.NodeID, Filename: f.Filename, Subfolder: f.Subfolder, Type: f.Type})
	}
	return files
}
