package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalYAML = `
object_store:
  endpoint: minio.local:9000
renderer:
  api_url: comfy.local:8188
paths:
  base_models: %s/models
  loras: %s/loras
  workflows: %s/workflows
  outputs: %s/outputs
  logs: %s/logs
  temp: %s/temp
`

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o640))
	return path
}

func TestLoad_AppliesDefaultsAndCreatesDirectories(t *testing.T) {
	dir := t.TempDir()
	body := sprintfMinimal(dir)
	path := writeConfig(t, dir, body)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 900, cfg.Renderer.TimeoutSeconds)
	assert.Equal(t, []string{"KSampler", "KSamplerAdvanced"}, cfg.Validation.SamplerClassTypes)
	assert.Equal(t, "http://comfy.local:8188", cfg.Renderer.APIURL)

	for _, p := range []string{cfg.Paths.BaseModels, cfg.Paths.Loras, cfg.Paths.Workflows, cfg.Paths.Outputs, cfg.Paths.Logs, cfg.Paths.Temp} {
		info, err := os.Stat(p)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}

func TestLoad_MissingRequiredFieldIsError(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "renderer:\n  api_url: comfy.local:8188\n")
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoad_SecretEnvOverridesYAML(t *testing.T) {
	dir := t.TempDir()
	body := strings.Replace(sprintfMinimal(dir), "  endpoint: minio.local:9000\n", "  endpoint: minio.local:9000\n  access_key: from-yaml\n", 1)
	path := writeConfig(t, dir, body)

	t.Setenv("VISIONSUIT_MINIO_ACCESS_KEY", "from-env")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.ObjectStore.AccessKey)
}

func TestNormalizeURL(t *testing.T) {
	assert.Equal(t, "http://host:1234", normalizeURL("host:1234"))
	assert.Equal(t, "https://host", normalizeURL("https://host/"))
}

func sprintfMinimal(dir string) string {
	return fmt.Sprintf(minimalYAML, dir, dir, dir, dir, dir, dir)
}
