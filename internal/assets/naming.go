// Package assets resolves AssetRefs onto disk: downloading the underlying
// file into a cache directory and exposing it to the renderer under a
// human-meaningful, collision-free visible name.
package assets

import (
	"crypto/sha1"
	"encoding/hex"
	"path/filepath"
	"strings"
)

const defaultSuffix = ".safetensors"

// normalizeName strips directory components and surrounding whitespace,
// mirroring gpuworker/agent/app/assets.py's normalize_name.
func normalizeName(name string) string {
	return filepath.Base(strings.TrimSpace(name))
}

// ensureExtension guarantees name has a non-empty stem and a suffix,
// defaulting the suffix to fallback when absent.
func ensureExtension(name, fallback string) string {
	normalized := normalizeName(name)
	ext := filepath.Ext(normalized)
	stem := strings.TrimSuffix(normalized, ext)
	if stem == "" {
		stem = "model"
	}
	if ext == "" {
		ext = fallback
	}
	return stem + ext
}

// derivePrettyName picks the first usable candidate name and runs it
// through ensureExtension.
func derivePrettyName(displayName, fallbackName string) string {
	preferred := ""
	if displayName != "" {
		preferred = normalizeName(displayName)
	}
	base := preferred
	if base == "" {
		base = normalizeName(fallbackName)
	}
	if base == "" {
		base = "model"
	}
	return ensureExtension(base, defaultSuffix)
}

// buildCollisionSuffix derives a short deterministic suffix from source
// (typically the object-store key) so a colliding visible name can be
// disambiguated without losing determinism across restarts.
func buildCollisionSuffix(source string, length int) string {
	sum := sha1.Sum([]byte(source))
	hexSum := hex.EncodeToString(sum[:])
	if length > len(hexSum) {
		length = len(hexSum)
	}
	return hexSum[:length]
}

// sanitizeSlug lower-cases s and keeps only alphanumerics, '-', and '_',
// replacing everything else with '-' — used for the owner slug and any
// operator-supplied primary-LoRA override name component.
func sanitizeSlug(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	out := strings.Trim(b.String(), "-")
	if out == "" {
		out = "user"
	}
	return out
}
