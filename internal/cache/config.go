package cache

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// EnvConfig stores the deployment settings the caching worker reads from its
// function environment. The variable names match what the infrastructure
// stack injects.
type EnvConfig struct {
	PluginTable    string
	CacheBucket    string
	EventBus       string
	EmitMetrics    bool
	MaxConcurrency int
}

// LoadConfigFromEnv initialises an EnvConfig from environment variables.
func LoadConfigFromEnv() (EnvConfig, error) {
	cfg := EnvConfig{
		PluginTable:    strings.TrimSpace(os.Getenv("PLUGIN_TABLE")),
		CacheBucket:    strings.TrimSpace(os.Getenv("SEGMENT_CACHE_BUCKET")),
		EventBus:       strings.TrimSpace(os.Getenv("EB_EVENT_BUS_NAME")),
		EmitMetrics:    strings.TrimSpace(os.Getenv("ENABLE_CUSTOM_METRICS")) == "Y",
		MaxConcurrency: 10,
	}

	if threads := strings.TrimSpace(os.Getenv("MAX_NUMBER_OF_THREADS")); threads != "" {
		parsed, err := strconv.Atoi(threads)
		if err != nil {
			return EnvConfig{}, fmt.Errorf("parse MAX_NUMBER_OF_THREADS: %w", err)
		}
		if parsed > 0 {
			cfg.MaxConcurrency = parsed
		}
	}

	if missing := cfg.missingRequiredFields(); len(missing) > 0 {
		return EnvConfig{}, fmt.Errorf("missing caching configuration: %s", strings.Join(missing, ", "))
	}
	return cfg, nil
}

func (c EnvConfig) missingRequiredFields() []string {
	missing := make([]string, 0, 3)
	if c.CacheBucket == "" {
		missing = append(missing, "SEGMENT_CACHE_BUCKET")
	}
	if c.EventBus == "" {
		missing = append(missing, "EB_EVENT_BUS_NAME")
	}
	if c.PluginTable == "" {
		missing = append(missing, "PLUGIN_TABLE")
	}
	return missing
}
