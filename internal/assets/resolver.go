package assets

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/AsaTyr2018/visionsuit-gpu-agent/internal/config"
	"github.com/AsaTyr2018/visionsuit-gpu-agent/internal/model"
)

// Kind selects which directory pair (base models vs LoRAs) an asset
// resolves into.
type Kind int

const (
	KindModel Kind = iota
	KindLora
)

// Store is the subset of the object-store client the resolver needs.
type Store interface {
	DownloadToPath(ctx context.Context, bucket, key, destination string) error
	GetObjectMetadata(ctx context.Context, bucket, key string) map[string]string
}

// ResolveOptions carries the per-job context needed for LoRA visible-name
// suffixing; Owner/JobID are ignored for KindModel.
type ResolveOptions struct {
	Owner               string
	JobID               string
	IsPrimaryLora       bool
	PrimaryOverrideName string
}

// Resolver materializes AssetRefs onto disk under the agent's base-models
// and LoRA directories.
type Resolver struct {
	store Store
	log   *zap.Logger

	baseModelsDir string
	lorasDir      string

	mu             sync.Mutex
	symlinkSupport map[string]bool
}

// New builds a Resolver over the given store, rooted at the paths
// configured for base models and LoRAs.
func New(store Store, paths config.PathConfig, log *zap.Logger) *Resolver {
	return &Resolver{
		store:          store,
		log:            log.Named("assets"),
		baseModelsDir:  paths.BaseModels,
		lorasDir:       paths.Loras,
		symlinkSupport: make(map[string]bool),
	}
}

func (r *Resolver) directories(kind Kind) (visibleDir, cacheDir string) {
	base := r.baseModelsDir
	if kind == KindLora {
		base = r.lorasDir
	}
	return base, filepath.Join(base, "cache")
}

// Resolve materializes ref, returning a ResolvedAsset describing where its
// bytes and visible link live.
func (r *Resolver) Resolve(ctx context.Context, ref model.AssetRef, kind Kind, opts ResolveOptions) (*model.ResolvedAsset, error) {
	visibleDir, cacheDir := r.directories(kind)
	if err := os.MkdirAll(cacheDir, 0o750); err != nil {
		return nil, fmt.Errorf("assets: failed to create cache dir %s: %w", cacheDir, err)
	}
	if err := os.MkdirAll(visibleDir, 0o750); err != nil {
		return nil, fmt.Errorf("assets: failed to create visible dir %s: %w", visibleDir, err)
	}

	cacheName := ensureExtension(normalizeName(ref.Key), defaultSuffix)
	cachePath := filepath.Join(cacheDir, cacheName)

	if err := r.migrateLegacyCache(cacheDir, ref.Key, cachePath); err != nil {
		r.log.Warn("legacy cache migration failed", zap.String("key", ref.Key), zap.Error(err))
	}

	downloaded := false
	if _, err := os.Stat(cachePath); errors.Is(err, os.ErrNotExist) {
		if err := r.store.DownloadToPath(ctx, ref.Bucket, ref.Key, cachePath); err != nil {
			return nil, fmt.Errorf("assets: failed to download %s: %w", ref.Key, err)
		}
		downloaded = true
	} else if err != nil {
		return nil, fmt.Errorf("assets: failed to stat cache path %s: %w", cachePath, err)
	}

	displayBase := derivePrettyName(r.resolveDisplaySource(ctx, ref), ref.Key)
	if kind == KindLora {
		displayBase = r.applyLoraSuffixing(displayBase, opts)
	}

	if r.supportsSymlink(visibleDir, cacheDir) {
		candidate, created, err := r.createOrReuseSymlink(visibleDir, cachePath, displayBase, ref.Key)
		if err != nil {
			return nil, fmt.Errorf("assets: failed to materialize symlink for %s: %w", ref.Key, err)
		}
		return &model.ResolvedAsset{
			Asset:       ref,
			CachePath:   cachePath,
			DisplayName: candidate,
			LinkPath:    filepath.Join(visibleDir, candidate),
			Downloaded:  downloaded,
			LinkCreated: created,
		}, nil
	}

	finalPath := filepath.Join(visibleDir, displayBase)
	linkCreated := false
	if _, err := os.Stat(finalPath); errors.Is(err, os.ErrNotExist) {
		if err := moveOrCopy(cachePath, finalPath); err != nil {
			return nil, fmt.Errorf("assets: failed to materialize visible copy for %s: %w", ref.Key, err)
		}
		linkCreated = true
	} else if err != nil {
		return nil, fmt.Errorf("assets: failed to stat visible path %s: %w", finalPath, err)
	}

	return &model.ResolvedAsset{
		Asset:       ref,
		CachePath:   finalPath,
		DisplayName: displayBase,
		LinkPath:    finalPath,
		Downloaded:  downloaded,
		LinkCreated: linkCreated,
	}, nil
}

// resolveDisplaySource picks the preferred naming source per spec.md §4.2:
// AssetRef.DisplayName, then OriginalName, then object-store metadata, then
// the key itself.
func (r *Resolver) resolveDisplaySource(ctx context.Context, ref model.AssetRef) string {
	if ref.DisplayName != "" {
		return ref.DisplayName
	}
	if ref.OriginalName != "" {
		return ref.OriginalName
	}
	meta := r.store.GetObjectMetadata(ctx, ref.Bucket, ref.Key)
	for _, key := range []string{"original-name", "original_name", "display-name"} {
		if v := meta[key]; v != "" {
			return v
		}
	}
	return ref.Key
}

// applyLoraSuffixing forces the primary-LoRA override name when supplied,
// otherwise appends the owner-slug/job-hash suffix every LoRA gets.
func (r *Resolver) applyLoraSuffixing(displayBase string, opts ResolveOptions) string {
	if opts.IsPrimaryLora && opts.PrimaryOverrideName != "" {
		return ensureExtension(sanitizeSlug(opts.PrimaryOverrideName), defaultSuffix)
	}

	ext := filepath.Ext(displayBase)
	stem := strings.TrimSuffix(displayBase, ext)
	ownerSlug := sanitizeSlug(opts.Owner)
	job6 := opts.JobID
	if len(job6) > 6 {
		job6 = job6[:6]
	}
	return fmt.Sprintf("%s__%s__%s%s", stem, ownerSlug, job6, ext)
}

// migrateLegacyCache renames a pre-normalisation cache file (bare key
// basename, no guaranteed extension) into the current normalised name, once,
// if the normalised file doesn't already exist.
func (r *Resolver) migrateLegacyCache(cacheDir, key, normalizedPath string) error {
	legacyPath := filepath.Join(cacheDir, normalizeName(key))
	if legacyPath == normalizedPath {
		return nil
	}
	if _, err := os.Stat(normalizedPath); err == nil {
		return nil
	}
	if _, err := os.Stat(legacyPath); err != nil {
		return nil
	}
	return os.Rename(legacyPath, normalizedPath)
}

// supportsSymlink probes dir once and caches the result: a probe file is
// written to cacheDir and linked from dir, exercising exactly the
// filesystem operation Resolve will perform for real.
func (r *Resolver) supportsSymlink(dir, cacheDir string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if v, ok := r.symlinkSupport[dir]; ok {
		return v
	}

	probeName := ".symlink-probe-" + strconv.FormatInt(int64(len(r.symlinkSupport)), 10) + "-probe"
	probeTarget := filepath.Join(cacheDir, probeName)
	probeLink := filepath.Join(dir, probeName+".link")

	supported := false
	if err := os.WriteFile(probeTarget, []byte{}, 0o640); err == nil {
		if err := os.Symlink(probeTarget, probeLink); err == nil {
			supported = true
		}
	}
	os.Remove(probeLink)
	os.Remove(probeTarget)

	r.symlinkSupport[dir] = supported
	return supported
}

// createOrReuseSymlink creates visibleDir/displayBase → cachePath, or
// reuses it if it already points there, or deterministically derives a
// collision-suffixed name (per spec.md §4.2) when it points elsewhere.
func (r *Resolver) createOrReuseSymlink(visibleDir, cachePath, displayBase, collisionSource string) (string, bool, error) {
	ext := filepath.Ext(displayBase)
	stem := strings.TrimSuffix(displayBase, ext)
	candidate := displayBase

	for attempt := 0; attempt < 8; attempt++ {
		candidatePath := filepath.Join(visibleDir, candidate)

		target, err := os.Readlink(candidatePath)
		switch {
		case err == nil:
			if filepath.Clean(target) == filepath.Clean(cachePath) {
				return candidate, false, nil
			}
			source := collisionSource
			if attempt > 0 {
				source = collisionSource + strconv.Itoa(attempt)
			}
			candidate = fmt.Sprintf("%s__%s%s", stem, buildCollisionSuffix(source, 6), ext)
			continue
		case errors.Is(err, os.ErrNotExist):
			if _, statErr := os.Lstat(candidatePath); statErr == nil {
				source := collisionSource
				if attempt > 0 {
					source = collisionSource + strconv.Itoa(attempt)
				}
				candidate = fmt.Sprintf("%s__%s%s", stem, buildCollisionSuffix(source, 6), ext)
				continue
			}
			if err := os.Symlink(cachePath, candidatePath); err != nil {
				return "", false, err
			}
			return candidate, true, nil
		default:
			return "", false, err
		}
	}
	return "", false, fmt.Errorf("exhausted collision-suffix attempts for %s", displayBase)
}

// moveOrCopy renames src to dst, falling back to a copy+remove when the
// rename fails because src/dst live on different filesystems.
func moveOrCopy(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return os.Remove(src)
}
