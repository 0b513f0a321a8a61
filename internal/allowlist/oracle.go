// Package allowlist maintains the set of model/LoRA/VAE/CLIP names the
// renderer will actually accept, sourced from its introspection endpoint
// with a filesystem-scan fallback, refreshed on a TTL and coalesced across
// concurrent callers.
package allowlist

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/AsaTyr2018/visionsuit-gpu-agent/internal/config"
)

// ObjectInfoFetcher is the renderer operation the oracle needs; satisfied
// structurally by *renderer.Client without an import-time dependency on it.
type ObjectInfoFetcher interface {
	FetchObjectInfo(ctx context.Context) (map[string]interface{}, error)
}

// Mapping is input-name → set of allowed values.
type Mapping map[string]map[string]struct{}

// Oracle caches Mapping with a TTL and collapses concurrent refreshes.
type Oracle struct {
	fetcher ObjectInfoFetcher
	ttl     time.Duration
	paths   config.PathConfig
	log     *zap.Logger

	group singleflight.Group

	mu        sync.Mutex
	cached    Mapping
	expiresAt time.Time
}

// New builds an Oracle. fetcher may be nil, in which case only the
// filesystem-scan fallback is ever used.
func New(fetcher ObjectInfoFetcher, cfg config.RendererConfig, paths config.PathConfig, log *zap.Logger) *Oracle {
	return &Oracle{
		fetcher: fetcher,
		ttl:     time.Duration(cfg.ObjectInfoCacheSeconds * float64(time.Second)),
		paths:   paths,
		log:     log.Named("allowlist"),
	}
}

// AllowedNames returns the current mapping, refreshing it if the TTL has
// elapsed. Concurrent callers during a refresh share a single fetch.
func (o *Oracle) AllowedNames(ctx context.Context) (Mapping, error) {
	if m, ok := o.freshCached(); ok {
		return m, nil
	}

	v, err, _ := o.group.Do("refresh", func() (interface{}, error) {
		return o.refresh(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(Mapping), nil
}

// Invalidate forces the next AllowedNames call to refresh, used by the job
// engine after materializing a file the renderer has not seen yet.
func (o *Oracle) Invalidate() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cached = nil
}

func (o *Oracle) freshCached() (Mapping, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cached != nil && time.Now().Before(o.expiresAt) {
		return o.cached, true
	}
	return nil, false
}

func (o *Oracle) refresh(ctx context.Context) (Mapping, error) {
	if m, ok := o.freshCached(); ok {
		return m, nil
	}

	mapping := Mapping{}
	if o.fetcher != nil {
		payload, err := o.fetcher.FetchObjectInfo(ctx)
		if err != nil {
			o.log.Warn("falling back to filesystem scan for allowed names", zap.Error(err))
		} else {
			mapping = parseObjectInfo(payload)
		}
	}
	if len(mapping) == 0 {
		mapping = o.scanFilesystem()
	}

	o.mu.Lock()
	o.cached = mapping
	o.expiresAt = time.Now().Add(o.ttl)
	o.mu.Unlock()
	return mapping, nil
}

// scanFilesystem is the fallback source: a glob of *.safetensors under the
// base-models, loras, and sibling vae/clip directories.
func (o *Oracle) scanFilesystem() Mapping {
	baseModels := o.paths.BaseModels
	baseRoot := filepath.Dir(baseModels)
	vaeDir := filepath.Join(baseRoot, "vae")
	clipDir := filepath.Join(baseRoot, "clip")
	loraDir := o.paths.Loras

	mapping := Mapping{
		"ckpt_name":         collectSafetensors(baseModels),
		"refiner_ckpt_name": collectSafetensors(baseModels),
		"model_name":        collectSafetensors(baseModels),
		"vae_name":          collectSafetensors(vaeDir),
		"clip_name":         collectSafetensors(clipDir),
		"lora_name":         collectSafetensors(loraDir),
	}
	for key, values := range mapping {
		if len(values) == 0 {
			delete(mapping, key)
		}
	}
	return mapping
}

func collectSafetensors(dir string) map[string]struct{} {
	out := map[string]struct{}{}
	if _, err := os.Stat(dir); err != nil {
		return out
	}
	matches, err := doublestar.Glob(os.DirFS(dir), "*.safetensors")
	if err != nil {
		return out
	}
	for _, m := range matches {
		out[normalizeName(m)] = struct{}{}
	}
	return out
}

func normalizeName(name string) string {
	return filepath.Base(strings.TrimSpace(name))
}

// Allowed reports whether value is acceptable for inputName — an input
// name with no mapping entry is unrestricted (the renderer didn't advertise
// choices for it).
func Allowed(mapping Mapping, inputName, value string) bool {
	bucket, ok := mapping[inputName]
	if !ok {
		return true
	}
	_, ok = bucket[value]
	return ok
}
