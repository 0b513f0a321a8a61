package workflow

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AsaTyr2018/visionsuit-gpu-agent/internal/config"
	"github.com/AsaTyr2018/visionsuit-gpu-agent/internal/model"
)

type fakeStore struct {
	written map[string][]byte
}

func (f *fakeStore) DownloadToPath(ctx context.Context, bucket, key, destination string) error {
	data, ok := f.written[bucket+"/"+key]
	if !ok {
		return os.ErrNotExist
	}
	return os.WriteFile(destination, data, 0o640)
}

func newTestLoader(t *testing.T, store Store) *Loader {
	t.Helper()
	paths := config.PathConfig{Workflows: t.TempDir()}
	return New(store, paths, zap.NewNop())
}

func TestLoad_Inline(t *testing.T) {
	l := newTestLoader(t, &fakeStore{})
	envelope := &model.DispatchEnvelope{
		Workflow: model.WorkflowRef{Inline: json.RawMessage(`{"3":{"class_type":"KSampler","inputs":{}}}`)},
	}
	g, err := l.Load(context.Background(), envelope)
	require.NoError(t, err)
	assert.Contains(t, g, "3")
}

func TestLoad_LocalPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wf.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"3":{"class_type":"KSampler","inputs":{}}}`), 0o640))

	l := newTestLoader(t, &fakeStore{})
	envelope := &model.DispatchEnvelope{Workflow: model.WorkflowRef{LocalPath: path}}
	g, err := l.Load(context.Background(), envelope)
	require.NoError(t, err)
	assert.Contains(t, g, "3")
}

func TestLoad_ObjectStore_FallsBackToBaseModelBucket(t *testing.T) {
	store := &fakeStore{written: map[string][]byte{
		"models/wf/base.json": []byte(`{"3":{"class_type":"KSampler","inputs":{}}}`),
	}}
	l := newTestLoader(t, store)
	envelope := &model.DispatchEnvelope{
		Workflow:  model.WorkflowRef{ObjectKey: "wf/base.json"},
		BaseModel: model.AssetRef{Bucket: "models", Key: "sd/base.safetensors"},
	}
	g, err := l.Load(context.Background(), envelope)
	require.NoError(t, err)
	assert.Contains(t, g, "3")
}

func TestLoad_NoSourceIsError(t *testing.T) {
	l := newTestLoader(t, &fakeStore{})
	_, err := l.Load(context.Background(), &model.DispatchEnvelope{})
	assert.Error(t, err)
}
