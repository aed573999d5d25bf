package appendix_test

import (
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/golemfactory/gvmkit-push/internal/appendix"
	"github.com/golemfactory/gvmkit-push/internal/pusherr"
)

func writeRandomImage(t *testing.T, n int) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "image.gvmkit")

	r := rand.New(rand.NewSource(1234))
	b := make([]byte, n)
	_, _ = r.Read(b)
	require.NoError(t, os.WriteFile(path, b, 0o644))
	return path
}

func TestWriteRead_RoundTrip(t *testing.T) {
	path := writeRandomImage(t, 16521)

	cfg := appendix.ContainerConfig{
		Image:      "test",
		Cmd:        []string{"test"},
		Env:        []string{"test"},
		Entrypoint: []string{"test"},
		WorkingDir: "test",
		Volumes: map[string]struct{}{
			"foo":  {},
			"foo2": {},
		},
	}

	_, err := appendix.Write(path, cfg)
	require.NoError(t, err)

	var got appendix.ContainerConfig
	require.NoError(t, appendix.Read(path, &got))
	assert.Equal(t, cfg, got)
}

func TestRead_TooSmall(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tiny")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	err := appendix.Read(path, &appendix.ContainerConfig{})
	require.Error(t, err)
	assert.ErrorIs(t, err, pusherr.ErrTrailerTooSmall)
}

func TestRead_CrcMismatchOnBitFlip(t *testing.T) {
	path := writeRandomImage(t, 1000)

	_, err := appendix.Write(path, appendix.ContainerConfig{Image: "test"})
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	// Flip one bit inside the JSON payload region (not the length/crc tail).
	flipAt := len(data) - 8 - 5
	data[flipAt] ^= 0x01
	require.NoError(t, os.WriteFile(path, data, 0o644))

	err = appendix.Read(path, &appendix.ContainerConfig{})
	require.Error(t, err)
	assert.ErrorIs(t, err, pusherr.ErrTrailerCrcMismatch)
}

func TestRead_NoTrailerAppended(t *testing.T) {
	path := writeRandomImage(t, 2000)

	err := appendix.Read(path, &appendix.ContainerConfig{})
	require.Error(t, err)
}
