// Package chunker streams a packaged VM image exactly once, computing
// a per-chunk SHA-256 and a whole-image SHA3-224, and produces the
// binary-serializable FileChunkDesc that addresses the image in the
// registry.
//
// Grounded on internal/storage/chunking.go's ContentChunker (split a
// byte stream into hashed chunks, one constructor + one Split-style
// entry point) generalized from content-defined to fixed-size
// chunking per the descriptor format's invariants, and on
// original_source/src/chunks.rs (createDescriptor: one SHA-256 per
// chunk reset after each chunk, one running digest over the whole
// file) for the exact two-level hashing shape.
package chunker

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"

	"golang.org/x/crypto/sha3"

	"github.com/golemfactory/gvmkit-push/internal/pusherr"
)

// VersionMagic is the fixed 64-bit on-disk version tag. Any other
// value encountered on read is a hard parse error.
const VersionMagic uint64 = 0x0000_0003_3333_3334

const sha3Size = 28  // SHA3-224 digest length
const sha256Size = 32 // SHA-256 digest length

// headerSize is 8 (version) + 8 (size) + 8 (chunk_size) + 28 (sha3).
const headerSize = 8 + 8 + 8 + sha3Size

// FileChunk describes one fixed-size, content-hashed range of the
// packaged image. Immutable once produced.
type FileChunk struct {
	ChunkNo int
	Pos     uint64
	Len     uint64
	SHA256  [sha256Size]byte
}

// FileChunkDesc is the full descriptor of a packaged image: its total
// size, the chunk size used to produce it, a whole-image SHA3-224,
// and the ordered list of chunks. Immutable once produced.
type FileChunkDesc struct {
	Size      uint64
	ChunkSize uint64
	SHA3      [sha3Size]byte
	Chunks    []FileChunk
}

// NumChunks returns ceil(size/chunkSize). A zero-length image has zero
// chunks.
func NumChunks(size, chunkSize uint64) int {
	if size == 0 {
		return 0
	}
	return int((size + chunkSize - 1) / chunkSize)
}

// Create streams r exactly once, reading declaredSize bytes in order,
// and produces the descriptor. It fails with pusherr.ErrShortRead if r
// ends before declaredSize bytes have been consumed, and with an
// pusherr.IOError on any other read failure.
func Create(r io.Reader, declaredSize uint64, chunkSize uint64) (*FileChunkDesc, error) {
	if chunkSize == 0 {
		return nil, pusherr.NewConfigError("chunk_size must be > 0")
	}

	n := NumChunks(declaredSize, chunkSize)
	chunks := make([]FileChunk, 0, n)

	whole := sha3.New224()
	buf := make([]byte, chunkSize)

	var offset uint64
	for chunkNo := 0; chunkNo < n; chunkNo++ {
		length := chunkSize
		if remaining := declaredSize - offset; remaining < chunkSize {
			length = remaining
		}

		slice := buf[:length]
		if _, err := io.ReadFull(r, slice); err != nil {
			if err == io.ErrUnexpectedEOF || err == io.EOF {
				return nil, pusherr.ErrShortRead
			}
			return nil, pusherr.NewIOError("read", "", err)
		}

		whole.Write(slice)
		sum := sha256.Sum256(slice)

		chunks = append(chunks, FileChunk{
			ChunkNo: chunkNo,
			Pos:     offset,
			Len:     length,
			SHA256:  sum,
		})

		offset += length
	}

	desc := &FileChunkDesc{
		Size:      declaredSize,
		ChunkSize: chunkSize,
		Chunks:    chunks,
	}
	copy(desc.SHA3[:], whole.Sum(nil))
	return desc, nil
}

// Serialize renders the descriptor to its exact on-disk layout:
// big-endian version, size, chunk_size; 28 raw SHA3-224 bytes; then
// N*32 raw SHA-256 bytes in chunk_no order. Total length is
// 52 + 32*N bytes.
func (d *FileChunkDesc) Serialize() []byte {
	out := make([]byte, headerSize+sha256Size*len(d.Chunks))
	binary.BigEndian.PutUint64(out[0:8], VersionMagic)
	binary.BigEndian.PutUint64(out[8:16], d.Size)
	binary.BigEndian.PutUint64(out[16:24], d.ChunkSize)
	copy(out[24:24+sha3Size], d.SHA3[:])

	off := headerSize
	for _, c := range d.Chunks {
		copy(out[off:off+sha256Size], c.SHA256[:])
		off += sha256Size
	}
	return out
}

// Deserialize parses a descriptor from its on-disk layout. pos and len
// for every chunk are recomputed from the sequence index, size, and
// chunk_size rather than trusted from any on-disk copy (there is none
// — only the hash is stored per chunk).
func Deserialize(b []byte) (*FileChunkDesc, error) {
	if len(b) < headerSize {
		return nil, pusherr.NewDescriptorParseError(fmt.Sprintf("truncated header: got %d bytes, want at least %d", len(b), headerSize))
	}

	version := binary.BigEndian.Uint64(b[0:8])
	if version != VersionMagic {
		return nil, pusherr.NewDescriptorParseError(fmt.Sprintf("bad version magic: got %#x, want %#x", version, VersionMagic))
	}

	size := binary.BigEndian.Uint64(b[8:16])
	chunkSize := binary.BigEndian.Uint64(b[16:24])
	if chunkSize == 0 {
		return nil, pusherr.NewDescriptorParseError("chunk_size is zero")
	}

	n := NumChunks(size, chunkSize)
	wantLen := headerSize + sha256Size*n
	if len(b) != wantLen {
		return nil, pusherr.NewDescriptorParseError(fmt.Sprintf("length mismatch: got %d bytes, want %d for %d chunks", len(b), wantLen, n))
	}

	desc := &FileChunkDesc{
		Size:      size,
		ChunkSize: chunkSize,
		Chunks:    make([]FileChunk, n),
	}
	copy(desc.SHA3[:], b[24:24+sha3Size])

	off := headerSize
	var pos uint64
	for i := 0; i < n; i++ {
		length := chunkSize
		if remaining := size - pos; remaining < chunkSize {
			length = remaining
		}
		fc := FileChunk{ChunkNo: i, Pos: pos, Len: length}
		copy(fc.SHA256[:], b[off:off+sha256Size])
		desc.Chunks[i] = fc
		off += sha256Size
		pos += length
	}

	return desc, nil
}

// Equal reports whether two descriptors are byte-for-byte equivalent.
func (d *FileChunkDesc) Equal(o *FileChunkDesc) bool {
	if d == nil || o == nil {
		return d == o
	}
	if d.Size != o.Size || d.ChunkSize != o.ChunkSize || d.SHA3 != o.SHA3 {
		return false
	}
	if len(d.Chunks) != len(o.Chunks) {
		return false
	}
	for i := range d.Chunks {
		a, b := d.Chunks[i], o.Chunks[i]
		if a.ChunkNo != b.ChunkNo || a.Pos != b.Pos || a.Len != b.Len || a.SHA256 != b.SHA256 {
			return false
		}
	}
	return true
}

// DescrHash returns the SHA-256 of the serialized descriptor bytes,
// lowercase hex encoded — the registry key this image is addressed by.
func (d *FileChunkDesc) DescrHash() string {
	sum := sha256.Sum256(d.Serialize())
	return fmt.Sprintf("%x", sum)
}

// ImageHash returns the lowercase hex SHA3-224 of the whole image, for
// display purposes.
func (d *FileChunkDesc) ImageHash() string {
	return fmt.Sprintf("%x", d.SHA3[:])
}
