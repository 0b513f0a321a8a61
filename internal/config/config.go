// Package config loads the agent's YAML configuration file, mirroring the
// shape of gpuworker/agent/app/config.py's dataclasses. Secrets may be
// overridden by environment variables so they don't need to live in the
// YAML file on disk, following the envOrDefault convention from
// arkeep/agent/cmd/agent/main.go.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ObjectStoreConfig configures the S3/MinIO client (internal/objectstore).
type ObjectStoreConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Secure    bool   `yaml:"secure"`
	Region    string `yaml:"region"`
	VerifyTLS bool   `yaml:"verify_tls"`
}

// RendererConfig configures the renderer (ComfyUI-compatible) HTTP client.
type RendererConfig struct {
	APIURL                   string  `yaml:"api_url"`
	TimeoutSeconds           int     `yaml:"timeout_seconds"`
	PollIntervalSeconds      float64 `yaml:"poll_interval_seconds"`
	ClientID                 string  `yaml:"client_id"`
	ObjectInfoCacheSeconds   float64 `yaml:"object_info_cache_seconds"`
	ModelRefreshDelaySeconds float64 `yaml:"model_refresh_delay_seconds"`
	BaseTimeoutSeconds       float64 `yaml:"base_timeout_seconds"`
	PerStepTimeoutSeconds    float64 `yaml:"per_step_timeout_seconds"`
	Img2ImgTimeoutMultiplier float64 `yaml:"img2img_timeout_multiplier"`
}

// PathConfig lists the directories the agent owns on disk.
type PathConfig struct {
	BaseModels string `yaml:"base_models"`
	Loras      string `yaml:"loras"`
	Workflows  string `yaml:"workflows"`
	Outputs    string `yaml:"outputs"`
	Logs       string `yaml:"logs"`
	Temp       string `yaml:"temp"`
}

// CleanupConfig controls post-job asset deletion.
type CleanupConfig struct {
	DeleteDownloadedLoras  bool `yaml:"delete_downloaded_loras"`
	DeleteDownloadedModels bool `yaml:"delete_downloaded_models"`
}

// CallbackConfig configures delivery of status/completion/failure callbacks.
type CallbackConfig struct {
	BaseURL             string  `yaml:"base_url"`
	VerifyTLS           bool    `yaml:"verify_tls"`
	TimeoutSeconds      int     `yaml:"timeout_seconds"`
	MaxRetries          int     `yaml:"max_retries"`
	RetryBackoffSeconds float64 `yaml:"retry_backoff_seconds"`
}

// ValidationConfig controls the workflow structural checks of spec.md §4.6.5.
type ValidationConfig struct {
	// SamplerClassTypes lists the class_type values (case-insensitive,
	// substring match) whose positive/negative inputs must reference a
	// CLIPTextEncode-family node. See spec.md §9's open question — resolved
	// as a configurable list defaulting to KSampler/KSamplerAdvanced.
	SamplerClassTypes []string `yaml:"sampler_class_types"`
}

// AgentConfig is the fully parsed configuration for one agent process.
type AgentConfig struct {
	ObjectStore        ObjectStoreConfig      `yaml:"object_store"`
	Renderer           RendererConfig         `yaml:"renderer"`
	Paths              PathConfig             `yaml:"paths"`
	PersistentModelKeys []string              `yaml:"persistent_model_keys"`
	Cleanup            CleanupConfig          `yaml:"cleanup"`
	Callbacks          CallbackConfig         `yaml:"callbacks"`
	Validation         ValidationConfig       `yaml:"validation"`
	WorkflowDefaults   map[string]interface{} `yaml:"workflow_defaults"`
	ListenAddr         string                 `yaml:"listen_addr"`
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// Load reads and parses the YAML file at path, applies defaults, overlays
// the handful of secret environment-variable overrides, and ensures every
// configured directory exists.
func Load(path string) (*AgentConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: failed to parse %s: %w", path, err)
	}

	cfg.ObjectStore.AccessKey = envOrDefault("VISIONSUIT_MINIO_ACCESS_KEY", cfg.ObjectStore.AccessKey)
	cfg.ObjectStore.SecretKey = envOrDefault("VISIONSUIT_MINIO_SECRET_KEY", cfg.ObjectStore.SecretKey)

	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	if err := cfg.ensureDirectories(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns an AgentConfig populated with the same defaults as
// gpuworker/agent/app/config.py's dataclass field defaults.
func Default() *AgentConfig {
	return &AgentConfig{
		ObjectStore: ObjectStoreConfig{VerifyTLS: true},
		Renderer: RendererConfig{
			TimeoutSeconds:           900,
			PollIntervalSeconds:      2.0,
			ClientID:                 "visionsuit-gpu-agent",
			ObjectInfoCacheSeconds:   45.0,
			ModelRefreshDelaySeconds: 0.75,
			BaseTimeoutSeconds:       60.0,
			PerStepTimeoutSeconds:    6.0,
			Img2ImgTimeoutMultiplier: 1.5,
		},
		Cleanup: CleanupConfig{
			DeleteDownloadedLoras:  true,
			DeleteDownloadedModels: true,
		},
		Callbacks: CallbackConfig{
			VerifyTLS:           true,
			TimeoutSeconds:      10,
			MaxRetries:          3,
			RetryBackoffSeconds: 1.0,
		},
		Validation: ValidationConfig{
			SamplerClassTypes: []string{"KSampler", "KSamplerAdvanced"},
		},
		ListenAddr: "0.0.0.0:8081",
	}
}

func (c *AgentConfig) normalize() error {
	if c.ObjectStore.Endpoint == "" {
		return fmt.Errorf("config: object_store.endpoint is required")
	}
	if c.Renderer.APIURL == "" {
		return fmt.Errorf("config: renderer.api_url is required")
	}
	c.Renderer.APIURL = normalizeURL(c.Renderer.APIURL)
	if c.Callbacks.BaseURL != "" {
		c.Callbacks.BaseURL = normalizeURL(c.Callbacks.BaseURL)
	}
	if len(c.Validation.SamplerClassTypes) == 0 {
		c.Validation.SamplerClassTypes = []string{"KSampler", "KSamplerAdvanced"}
	}
	for _, p := range []*string{&c.Paths.BaseModels, &c.Paths.Loras, &c.Paths.Workflows, &c.Paths.Outputs, &c.Paths.Logs, &c.Paths.Temp} {
		if *p == "" {
			return fmt.Errorf("config: a paths.* entry is missing")
		}
		resolved, err := filepath.Abs(os.ExpandEnv(*p))
		if err != nil {
			return fmt.Errorf("config: failed to resolve path %q: %w", *p, err)
		}
		*p = resolved
	}
	return nil
}

func normalizeURL(raw string) string {
	trimmed := strings.TrimRight(strings.TrimSpace(raw), "/")
	if strings.HasPrefix(trimmed, "http://") || strings.HasPrefix(trimmed, "https://") {
		return trimmed
	}
	return "http://" + trimmed
}

func (c *AgentConfig) ensureDirectories() error {
	for _, dir := range []string{c.Paths.BaseModels, c.Paths.Loras, c.Paths.Workflows, c.Paths.Outputs, c.Paths.Logs, c.Paths.Temp} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("config: failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}
