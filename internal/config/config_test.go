package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/golemfactory/gvmkit-push/internal/config"
	"github.com/golemfactory/gvmkit-push/internal/pusherr"
)

func TestAutoChunkSize(t *testing.T) {
	cases := []struct {
		name string
		size int64
		want uint64
	}{
		{"tiny", 1024, 2 * 1024 * 1024},
		{"exactly 200MiB", 200 * 1024 * 1024, 2 * 1024 * 1024},
		{"just over 200MiB", 200*1024*1024 + 1, 5 * 1024 * 1024},
		{"exactly 500MiB", 500 * 1024 * 1024, 5 * 1024 * 1024},
		{"just over 500MiB", 500*1024*1024 + 1, 10 * 1024 * 1024},
		{"huge", 10 * 1024 * 1024 * 1024, 10 * 1024 * 1024},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, config.AutoChunkSize(tc.size))
		})
	}
}

func TestDefault(t *testing.T) {
	cfg := config.Default()
	assert.Equal(t, "https://registry.golem.network", cfg.Registry.URL)
	assert.Equal(t, config.DefaultWorkers, cfg.Upload.Workers)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("REGISTRY_URL", "https://example.test")
	t.Setenv("REGISTRY_USER", "alice")
	t.Setenv("REGISTRY_TOKEN", "secret-token")

	cfg := config.Default()
	config.LoadFromEnv(&cfg)

	assert.Equal(t, "https://example.test", cfg.Registry.URL)
	assert.Equal(t, "alice", cfg.Registry.User)
	assert.Equal(t, "secret-token", cfg.Registry.Token)
	assert.True(t, cfg.HasLoginBypass())
}

func TestHasLoginBypass_RequiresBoth(t *testing.T) {
	cfg := config.Default()
	cfg.Registry.User = "alice"
	assert.False(t, cfg.HasLoginBypass())
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gvmkit.yaml")
	contents := "registry:\n  url: https://file.example\nupload:\n  workers: 8\n"
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	cfg := config.Default()
	require.NoError(t, config.LoadFile(path, &cfg))

	assert.Equal(t, "https://file.example", cfg.Registry.URL)
	assert.Equal(t, 8, cfg.Upload.Workers)
}

func TestLoadFile_MissingFileIsIOError(t *testing.T) {
	cfg := config.Default()
	err := config.LoadFile(filepath.Join(t.TempDir(), "nope.yaml"), &cfg)
	require.Error(t, err)
	var ioErr *pusherr.IOError
	assert.ErrorAs(t, err, &ioErr)
}
