package jobengine

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/AsaTyr2018/visionsuit-gpu-agent/internal/model"
)

func TestCleanupAsset_RemovesDownloadedEphemeralAsset(t *testing.T) {
	dir := t.TempDir()
	cachePath := filepath.Join(dir, "cache.safetensors")
	require.NoError(t, os.WriteFile(cachePath, []byte("x"), 0o640))

	resolved := &model.ResolvedAsset{
		Asset:      model.AssetRef{Key: "loras/x.safetensors", CacheStrategy: model.CacheStrategyEphemeral},
		CachePath:  cachePath,
		LinkPath:   cachePath,
		Downloaded: true,
	}
	cleanupAsset(resolved, true, nil, zap.NewNop())
	_, err := os.Stat(cachePath)
	assert.True(t, os.IsNotExist(err))
}

func TestCleanupAsset_SkipsPersistentStrategy(t *testing.T) {
	dir := t.TempDir()
	cachePath := filepath.Join(dir, "cache.safetensors")
	require.NoError(t, os.WriteFile(cachePath, []byte("x"), 0o640))

	resolved := &model.ResolvedAsset{
		Asset:      model.AssetRef{Key: "models/x.safetensors", CacheStrategy: model.CacheStrategyPersistent},
		CachePath:  cachePath,
		Downloaded: true,
	}
	cleanupAsset(resolved, true, nil, zap.NewNop())
	_, err := os.Stat(cachePath)
	assert.NoError(t, err, "persistent asset must survive cleanup")
}

func TestCleanupAsset_SkipsConfiguredPersistentKeys(t *testing.T) {
	dir := t.TempDir()
	cachePath := filepath.Join(dir, "cache.safetensors")
	require.NoError(t, os.WriteFile(cachePath, []byte("x"), 0o640))

	resolved := &model.ResolvedAsset{
		Asset:      model.AssetRef{Key: "models/protected.safetensors", CacheStrategy: model.CacheStrategyEphemeral},
		CachePath:  cachePath,
		Downloaded: true,
	}
	cleanupAsset(resolved, true, []string{"models/protected.safetensors"}, zap.NewNop())
	_, err := os.Stat(cachePath)
	assert.NoError(t, err)
}

func TestCleanupAsset_NoopWhenFlagDisabled(t *testing.T) {
	dir := t.TempDir()
	cachePath := filepath.Join(dir, "cache.safetensors")
	require.NoError(t, os.WriteFile(cachePath, []byte("x"), 0o640))

	resolved := &model.ResolvedAsset{
		Asset:      model.AssetRef{CacheStrategy: model.CacheStrategyEphemeral},
		CachePath:  cachePath,
		Downloaded: true,
	}
	cleanupAsset(resolved, false, nil, zap.NewNop())
	_, err := os.Stat(cachePath)
	assert.NoError(t, err)
}

func TestCleanupAsset_SkipsWhenNotDownloadedThisRun(t *testing.T) {
	dir := t.TempDir()
	cachePath := filepath.Join(dir, "cache.safetensors")
	require.NoError(t, os.WriteFile(cachePath, []byte("x"), 0o640))

	resolved := &model.ResolvedAsset{
		Asset:      model.AssetRef{CacheStrategy: model.CacheStrategyEphemeral},
		CachePath:  cachePath,
		Downloaded: false,
	}
	cleanupAsset(resolved, true, nil, zap.NewNop())
	_, err := os.Stat(cachePath)
	assert.NoError(t, err)
}
