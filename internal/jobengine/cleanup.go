package jobengine

import (
	"os"

	"go.uber.org/zap"

	"github.com/AsaTyr2018/visionsuit-gpu-agent/internal/config"
	"github.com/AsaTyr2018/visionsuit-gpu-agent/internal/model"
)

// cleanupAsset removes the cache file and, independently, the visible link
// for one resolved asset, iff: the asset isn't persistent (by its own
// cacheStrategy or the operator's persistent_model_keys belt-and-suspenders
// list), the matching cleanup flag is on, and the file/link was created in
// this run — per spec.md §4.6.9. Failures are logged, never propagated.
func cleanupAsset(resolved *model.ResolvedAsset, deleteFlag bool, persistentKeys []string, log *zap.Logger) {
	if resolved == nil {
		return
	}
	if resolved.Asset.CacheStrategy == model.CacheStrategyPersistent {
		return
	}
	if isProtectedKey(resolved.Asset.Key, persistentKeys) {
		return
	}
	if !deleteFlag {
		return
	}

	if resolved.Downloaded {
		if err := os.Remove(resolved.CachePath); err != nil && !os.IsNotExist(err) {
			log.Warn("failed to remove cached asset", zap.String("path", resolved.CachePath), zap.Error(err))
		}
	}
	if resolved.LinkCreated && resolved.LinkPath != resolved.CachePath {
		if err := os.Remove(resolved.LinkPath); err != nil && !os.IsNotExist(err) {
			log.Warn("failed to remove visible link", zap.String("path", resolved.LinkPath), zap.Error(err))
		}
	}
}

func isProtectedKey(key string, persistentKeys []string) bool {
	for _, k := range persistentKeys {
		if k == key {
			return true
		}
	}
	return false
}

// cleanupJob runs cleanupAsset over the base model and every LoRA resolved
// for a job, using the cleanup flags from config.
func cleanupJob(baseModel *model.ResolvedAsset, loras []*model.ResolvedAsset, cleanup config.CleanupConfig, persistentKeys []string, log *zap.Logger) {
	cleanupAsset(baseModel, cleanup.DeleteDownloadedModels, persistentKeys, log)
	for _, l := range loras {
		cleanupAsset(l, cleanup.DeleteDownloadedLoras, persistentKeys, log)
	}
}
