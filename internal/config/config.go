// Package config holds the core's runtime configuration: registry
// endpoint and credentials, upload pool sizing, and chunk-size
// selection. Fields carry `yaml` tags so an optional override file can
// be layered underneath environment variables and CLI flags, using the
// same struct-of-structs-with-yaml-tags-and-default-annotations shape
// common across the registry's other services.
package config

import (
	"github.com/golemfactory/gvmkit-push/internal/registry"
)

const (
	// DefaultWorkers is the worker-pool size when --upload-workers is unset.
	DefaultWorkers = 4

	autoChunkSmallMax  = 200 * 1024 * 1024 // 200 MiB
	autoChunkMediumMax = 500 * 1024 * 1024 // 500 MiB

	autoChunkSmallSize  = 2 * 1024 * 1024  // 2 MiB
	autoChunkMediumSize = 5 * 1024 * 1024  // 5 MiB
	autoChunkLargeSize  = 10 * 1024 * 1024 // 10 MiB
)

// Config is the core's resolved runtime configuration.
type Config struct {
	Registry RegistryConfig `yaml:"registry"`
	Upload   UploadConfig   `yaml:"upload"`
}

// RegistryConfig holds the connection details for the content-addressed registry.
type RegistryConfig struct {
	URL     string `yaml:"url" default:"https://registry.golem.network"`
	User    string `yaml:"user"`
	Token   string `yaml:"token"`
	NoLogin bool   `yaml:"no_login"`
}

// UploadConfig holds tunables for the Resumable Uploader.
type UploadConfig struct {
	ChunkSize          uint64  `yaml:"chunk_size"`
	Workers            int     `yaml:"workers" default:"4"`
	MaxChunksPerSecond float64 `yaml:"max_chunks_per_second"`
	HideProgress       bool    `yaml:"hide_progress"`
}

// Default returns a Config populated with the documented defaults; it
// is the starting point before env, file, and flag layers are applied.
func Default() Config {
	return Config{
		Registry: RegistryConfig{URL: registry.DefaultBaseURL},
		Upload:   UploadConfig{Workers: DefaultWorkers},
	}
}

// AutoChunkSize implements the auto-selection rule from the CLI
// surface: larger images use a larger chunk size to bound the total
// chunk count, grounded on original_source/src/image_builder.rs's
// equivalent size-banded tier selection for compression level.
func AutoChunkSize(imageSize int64) uint64 {
	switch {
	case imageSize <= autoChunkSmallMax:
		return autoChunkSmallSize
	case imageSize <= autoChunkMediumMax:
		return autoChunkMediumSize
	default:
		return autoChunkLargeSize
	}
}
