package config

import "os"

// LoadFromEnv overlays REGISTRY_URL/REGISTRY_USER/REGISTRY_TOKEN onto cfg.
func LoadFromEnv(cfg *Config) {
	if url := os.Getenv("REGISTRY_URL"); url != "" {
		cfg.Registry.URL = url
	}
	if user := os.Getenv("REGISTRY_USER"); user != "" {
		cfg.Registry.User = user
	}
	if token := os.Getenv("REGISTRY_TOKEN"); token != "" {
		cfg.Registry.Token = token
	}
}

// HasLoginBypass reports whether both REGISTRY_USER and REGISTRY_TOKEN
// are set, bypassing the interactive login flow.
func (c Config) HasLoginBypass() bool {
	return c.Registry.User != "" && c.Registry.Token != ""
}
