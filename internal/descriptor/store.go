// Package descriptor persists a chunker.FileChunkDesc next to the
// packaged image it describes, as "<image>.descr.bin", and decides
// whether that cached copy is still valid for a given requested chunk
// size.
//
// Uses a constructor-injected *zap.Logger rather than a package
// global, the same way the rest of this codebase threads loggers
// through.
package descriptor

import (
	"os"

	"go.uber.org/zap"

	"github.com/golemfactory/gvmkit-push/internal/chunker"
	"github.com/golemfactory/gvmkit-push/internal/pusherr"
)

// sidecarSuffix is appended to the packaged-image path to locate the
// cached descriptor.
const sidecarSuffix = ".descr.bin"

// SidecarPath returns the cache path for imagePath.
func SidecarPath(imagePath string) string {
	return imagePath + sidecarSuffix
}

// Store loads or (re)builds the descriptor for imagePath at the
// requested chunkSize, using the sidecar cache when valid.
type Store struct {
	logger *zap.Logger
}

// NewStore creates a descriptor store. logger must not be nil; pass
// zap.NewNop() in tests that don't care about log output.
func NewStore(logger *zap.Logger) *Store {
	return &Store{logger: logger}
}

// Load returns a valid descriptor for imagePath at chunkSize, either
// from the sidecar cache or by chunking the image fresh. On a fresh
// build it overwrites the sidecar.
func (s *Store) Load(imagePath string, chunkSize uint64) (*chunker.FileChunkDesc, error) {
	sidecar := SidecarPath(imagePath)

	if desc, ok := s.tryCache(imagePath, sidecar, chunkSize); ok {
		return desc, nil
	}

	desc, err := s.build(imagePath, chunkSize)
	if err != nil {
		return nil, err
	}

	if err := os.WriteFile(sidecar, desc.Serialize(), 0o644); err != nil {
		s.logger.Warn("failed to write descriptor sidecar",
			zap.String("path", sidecar), zap.Error(err))
	}
	return desc, nil
}

// tryCache reports whether the sidecar at sidecarPath is usable for
// imagePath at chunkSize, returning the parsed descriptor if so. Any
// read or parse failure is logged and treated as a cache miss, never
// a hard error.
func (s *Store) tryCache(imagePath, sidecarPath string, chunkSize uint64) (*chunker.FileChunkDesc, bool) {
	imageInfo, err := os.Stat(imagePath)
	if err != nil {
		return nil, false
	}

	sidecarInfo, err := os.Stat(sidecarPath)
	if err != nil {
		return nil, false
	}

	if sidecarInfo.ModTime().Before(imageInfo.ModTime()) {
		s.logger.Debug("descriptor cache stale: image newer than sidecar",
			zap.String("image", imagePath))
		return nil, false
	}

	raw, err := os.ReadFile(sidecarPath)
	if err != nil {
		s.logger.Warn("descriptor sidecar unreadable, regenerating",
			zap.String("path", sidecarPath), zap.Error(err))
		return nil, false
	}

	desc, err := chunker.Deserialize(raw)
	if err != nil {
		s.logger.Warn("descriptor sidecar failed to parse, regenerating",
			zap.String("path", sidecarPath), zap.Error(err))
		return nil, false
	}

	if desc.ChunkSize != chunkSize {
		s.logger.Debug("descriptor cache miss: chunk size changed",
			zap.Uint64("cached_chunk_size", desc.ChunkSize),
			zap.Uint64("requested_chunk_size", chunkSize))
		return nil, false
	}

	return desc, true
}

func (s *Store) build(imagePath string, chunkSize uint64) (*chunker.FileChunkDesc, error) {
	info, err := os.Stat(imagePath)
	if err != nil {
		return nil, pusherr.NewIOError("stat", imagePath, err)
	}

	f, err := os.Open(imagePath)
	if err != nil {
		return nil, pusherr.NewIOError("open", imagePath, err)
	}
	defer f.Close()

	desc, err := chunker.Create(f, uint64(info.Size()), chunkSize)
	if err != nil {
		return nil, err
	}

	s.logger.Info("built descriptor",
		zap.String("image", imagePath),
		zap.Int("chunks", len(desc.Chunks)),
		zap.String("descr_hash", desc.DescrHash()))
	return desc, nil
}
