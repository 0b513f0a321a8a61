package assets

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeName(t *testing.T) {
	assert.Equal(t, "model.safetensors", normalizeName("  /some/dir/model.safetensors  "))
	assert.Equal(t, "model.safetensors", normalizeName("model.safetensors"))
}

func TestEnsureExtension(t *testing.T) {
	assert.Equal(t, "model.safetensors", ensureExtension("model", defaultSuffix))
	assert.Equal(t, "model.ckpt", ensureExtension("model.ckpt", defaultSuffix))
	assert.Equal(t, "model.safetensors", ensureExtension("", defaultSuffix))
}

func TestDerivePrettyName(t *testing.T) {
	assert.Equal(t, "Foo.safetensors", derivePrettyName("Foo", "fallback.safetensors"))
	assert.Equal(t, "fallback.safetensors", derivePrettyName("", "fallback.safetensors"))
	assert.Equal(t, "model.safetensors", derivePrettyName("", ""))
}

func TestBuildCollisionSuffix_Deterministic(t *testing.T) {
	a := buildCollisionSuffix("bucket/key.safetensors", 6)
	b := buildCollisionSuffix("bucket/key.safetensors", 6)
	assert.Equal(t, a, b)
	assert.Len(t, a, 6)

	c := buildCollisionSuffix("bucket/other-key.safetensors", 6)
	assert.NotEqual(t, a, c)
}

func TestSanitizeSlug(t *testing.T) {
	assert.Equal(t, "alice-smith", sanitizeSlug("Alice Smith"))
	assert.Equal(t, "user", sanitizeSlug("   "))
	assert.Equal(t, "bob_42", sanitizeSlug("Bob_42"))
}
