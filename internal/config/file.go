package config

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/golemfactory/gvmkit-push/internal/pusherr"
)

// LoadFile unmarshals a YAML override file onto cfg. It is optional:
// callers apply it before LoadFromEnv so environment variables always
// win over file defaults.
func LoadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return pusherr.NewIOError("read", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return pusherr.NewConfigError("parse config file " + path + ": " + err.Error())
	}
	return nil
}
