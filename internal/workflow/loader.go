// Package workflow loads the node-graph workflow referenced by a dispatch
// envelope, applies node mutations and parameter bindings, rewrites
// template LoraLoader nodes into a per-job chain, and produces a
// fingerprint of the final graph for the job's event log.
package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/AsaTyr2018/visionsuit-gpu-agent/internal/config"
	"github.com/AsaTyr2018/visionsuit-gpu-agent/internal/model"
)

// Store is the subset of the object-store client the loader needs to fetch
// an object-store-referenced workflow.
type Store interface {
	DownloadToPath(ctx context.Context, bucket, key, destination string) error
}

// Loader resolves a WorkflowRef into a parsed Graph.
type Loader struct {
	store        Store
	workflowsDir string
	log          *zap.Logger
}

// New builds a Loader rooted at the configured scratch-workflow directory.
func New(store Store, paths config.PathConfig, log *zap.Logger) *Loader {
	return &Loader{store: store, workflowsDir: paths.Workflows, log: log.Named("workflow")}
}

// Load returns the graph referenced by the envelope, per the precedence in
// spec.md §4.3: inline payload, then local file path, then an object-store
// key downloaded to a per-job scratch path.
func (l *Loader) Load(ctx context.Context, envelope *model.DispatchEnvelope) (model.Graph, error) {
	ref := envelope.Workflow

	switch {
	case len(ref.Inline) > 0:
		l.log.Debug("using inline workflow payload", zap.String("jobId", envelope.JobID))
		return parseGraph(ref.Inline)

	case ref.LocalPath != "":
		l.log.Debug("loading workflow from local path", zap.String("path", ref.LocalPath))
		data, err := os.ReadFile(ref.LocalPath)
		if err != nil {
			return nil, fmt.Errorf("workflow: failed to read local path %s: %w", ref.LocalPath, err)
		}
		return parseGraph(data)

	case ref.ObjectKey != "":
		bucket := ref.Bucket
		if bucket == "" {
			bucket = envelope.BaseModel.Bucket
		}
		scratchPath := filepath.Join(l.workflowsDir, uuid.NewString()+".json")
		l.log.Debug("fetching workflow from object store", zap.String("bucket", bucket), zap.String("key", ref.ObjectKey))
		if err := l.store.DownloadToPath(ctx, bucket, ref.ObjectKey, scratchPath); err != nil {
			return nil, fmt.Errorf("workflow: failed to download %s/%s: %w", bucket, ref.ObjectKey, err)
		}
		data, err := os.ReadFile(scratchPath)
		if err != nil {
			return nil, fmt.Errorf("workflow: failed to read scratch workflow %s: %w", scratchPath, err)
		}
		return parseGraph(data)

	default:
		return nil, fmt.Errorf("workflow: reference does not provide a valid source")
	}
}

func parseGraph(data []byte) (model.Graph, error) {
	var g model.Graph
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("workflow: failed to parse graph: %w", err)
	}
	return g, nil
}
