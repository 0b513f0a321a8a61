package allowlist

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AsaTyr2018/visionsuit-gpu-agent/internal/config"
)

type fakeFetcher struct {
	calls   int32
	payload map[string]interface{}
	err     error
}

func (f *fakeFetcher) FetchObjectInfo(ctx context.Context) (map[string]interface{}, error) {
	atomic.AddInt32(&f.calls, 1)
	return f.payload, f.err
}

func TestParseObjectInfo_RecursiveChoicesAndDefault(t *testing.T) {
	payload := map[string]interface{}{
		"4": map[string]interface{}{
			"required": map[string]interface{}{
				"ckpt_name": map[string]interface{}{
					"choices": []interface{}{"a.safetensors", "b.safetensors"},
					"default": "a.safetensors",
				},
			},
		},
		"9": map[string]interface{}{
			"inputs": map[string]interface{}{
				"nested": map[string]interface{}{
					"lora_name": map[string]interface{}{
						"choices": []interface{}{"style.safetensors"},
					},
				},
			},
		},
	}
	mapping := parseObjectInfo(payload)
	assert.Contains(t, mapping["ckpt_name"], "a.safetensors")
	assert.Contains(t, mapping["ckpt_name"], "b.safetensors")
	assert.Contains(t, mapping["lora_name"], "style.safetensors")
}

func TestAllowed_NoEntryIsUnrestricted(t *testing.T) {
	mapping := Mapping{"ckpt_name": {"a.safetensors": {}}}
	assert.True(t, Allowed(mapping, "unrestricted_field", "anything"))
	assert.True(t, Allowed(mapping, "ckpt_name", "a.safetensors"))
	assert.False(t, Allowed(mapping, "ckpt_name", "b.safetensors"))
}

func TestOracle_UsesFetcherAndCachesWithinTTL(t *testing.T) {
	fetcher := &fakeFetcher{payload: map[string]interface{}{
		"1": map[string]interface{}{"required": map[string]interface{}{
			"ckpt_name": map[string]interface{}{"choices": []interface{}{"a.safetensors"}},
		}},
	}}
	cfg := config.RendererConfig{ObjectInfoCacheSeconds: 60}
	o := New(fetcher, cfg, config.PathConfig{BaseModels: t.TempDir(), Loras: t.TempDir()}, zap.NewNop())

	m1, err := o.AllowedNames(context.Background())
	require.NoError(t, err)
	assert.True(t, Allowed(m1, "ckpt_name", "a.safetensors"))

	_, err = o.AllowedNames(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), fetcher.calls, "second call within TTL must not refetch")
}

func TestOracle_Invalidate_ForcesRefresh(t *testing.T) {
	fetcher := &fakeFetcher{payload: map[string]interface{}{}}
	cfg := config.RendererConfig{ObjectInfoCacheSeconds: 60}
	o := New(fetcher, cfg, config.PathConfig{BaseModels: t.TempDir(), Loras: t.TempDir()}, zap.NewNop())

	_, err := o.AllowedNames(context.Background())
	require.NoError(t, err)
	o.Invalidate()
	_, err = o.AllowedNames(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), fetcher.calls)
}

func TestOracle_FallsBackToFilesystemScan(t *testing.T) {
	baseModels := t.TempDir()
	loras := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(baseModels, "checkpoint.safetensors"), []byte("x"), 0o640))
	require.NoError(t, os.WriteFile(filepath.Join(loras, "style.safetensors"), []byte("x"), 0o640))

	fetcher := &fakeFetcher{err: errors.New("renderer unreachable")}
	cfg := config.RendererConfig{ObjectInfoCacheSeconds: 60}
	o := New(fetcher, cfg, config.PathConfig{BaseModels: baseModels, Loras: loras}, zap.NewNop())

	mapping, err := o.AllowedNames(context.Background())
	require.NoError(t, err)
	assert.True(t, Allowed(mapping, "ckpt_name", "checkpoint.safetensors"))
	assert.True(t, Allowed(mapping, "lora_name", "style.safetensors"))
}

func TestOracle_TTLExpiryTriggersRefresh(t *testing.T) {
	fetcher := &fakeFetcher{payload: map[string]interface{}{}}
	cfg := config.RendererConfig{ObjectInfoCacheSeconds: 0.01}
	o := New(fetcher, cfg, config.PathConfig{BaseModels: t.TempDir(), Loras: t.TempDir()}, zap.NewNop())

	_, err := o.AllowedNames(context.Background())
	require.NoError(t, err)
	time.Sleep(30 * time.Millisecond)
	_, err = o.AllowedNames(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), fetcher.calls)
}
