// Package appendix reads and writes the trailing metadata record that
// the (external) image builder appends to a packaged-image file:
// [crc32_le:4][json_bytes:M][ascii_decimal_M:8]. This package is the
// core's only contract with that external file format — it does not
// build images, only recognizes and verifies an already-built one.
//
// Grounded directly on original_source/src/metadata.rs
// (add_metadata_outside / read_metadata_outside): same four-field
// layout, same "seek from end, read decimal length, seek back, verify
// CRC" algorithm, same failure taxonomy.
package appendix

import (
	"encoding/json"
	"fmt"
	"hash/crc32"
	"io"
	"os"

	"github.com/golemfactory/gvmkit-push/internal/pusherr"
)

const (
	lengthFieldSize = 8
	crcFieldSize    = 4
)

// ContainerConfig is the JSON payload carried in the trailer. It
// mirrors the config fields the Rust builder attaches to a packaged
// image (original_source/src/metadata.rs's ContainerConfig), kept as a
// convenience type on top of the generic Read/Write API below.
type ContainerConfig struct {
	Image      string              `json:"image,omitempty"`
	Cmd        []string            `json:"cmd,omitempty"`
	Env        []string            `json:"env,omitempty"`
	Entrypoint []string            `json:"entrypoint,omitempty"`
	WorkingDir string              `json:"working_dir,omitempty"`
	User       string              `json:"user,omitempty"`
	Volumes    map[string]struct{} `json:"volumes,omitempty"`
}

// Write appends the trailer to the file at path: CRC-32/ISO-HDLC over
// the JSON bytes, the JSON bytes themselves, then an 8-digit ASCII
// decimal length. It does not truncate or otherwise touch any
// existing content in the file.
func Write(path string, cfg any) (int, error) {
	payload, err := json.Marshal(cfg)
	if err != nil {
		return 0, pusherr.NewIOError("marshal trailer", path, err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0)
	if err != nil {
		return 0, pusherr.NewIOError("open", path, err)
	}
	defer f.Close()

	crc := crc32.ChecksumIEEE(payload)

	var crcBuf [crcFieldSize]byte
	crcBuf[0] = byte(crc)
	crcBuf[1] = byte(crc >> 8)
	crcBuf[2] = byte(crc >> 16)
	crcBuf[3] = byte(crc >> 24)

	n1, err := f.Write(crcBuf[:])
	if err != nil {
		return n1, pusherr.NewIOError("write crc", path, err)
	}
	n2, err := f.Write(payload)
	if err != nil {
		return n1 + n2, pusherr.NewIOError("write payload", path, err)
	}
	lengthField := []byte(fmt.Sprintf("%08d", len(payload)))
	n3, err := f.Write(lengthField)
	if err != nil {
		return n1 + n2 + n3, pusherr.NewIOError("write length", path, err)
	}
	return n1 + n2 + n3, nil
}

// Read locates and parses the trailer at the end of the file at path,
// verifying its CRC, and unmarshals the JSON payload into out.
func Read(path string, out any) error {
	f, err := os.Open(path)
	if err != nil {
		return pusherr.NewIOError("open", path, err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return pusherr.NewIOError("stat", path, err)
	}
	fileSize := fi.Size()

	if fileSize < int64(lengthFieldSize+crcFieldSize) {
		return pusherr.ErrTrailerTooSmall
	}

	var lengthBuf [lengthFieldSize]byte
	if _, err := f.Seek(-lengthFieldSize, io.SeekEnd); err != nil {
		return pusherr.NewIOError("seek", path, err)
	}
	if _, err := io.ReadFull(f, lengthBuf[:]); err != nil {
		return pusherr.NewIOError("read length", path, err)
	}

	var metaSize int64
	if _, err := fmt.Sscanf(string(lengthBuf[:]), "%d", &metaSize); err != nil {
		return pusherr.ErrTrailerLengthParse
	}

	if metaSize < 0 || metaSize+int64(lengthFieldSize+crcFieldSize) > fileSize {
		return pusherr.ErrTrailerTooSmall
	}

	if _, err := f.Seek(-(int64(lengthFieldSize+crcFieldSize) + metaSize), io.SeekEnd); err != nil {
		return pusherr.NewIOError("seek", path, err)
	}

	var crcBuf [crcFieldSize]byte
	if _, err := io.ReadFull(f, crcBuf[:]); err != nil {
		return pusherr.NewIOError("read crc", path, err)
	}

	payload := make([]byte, metaSize)
	if _, err := io.ReadFull(f, payload); err != nil {
		return pusherr.NewIOError("read payload", path, err)
	}

	wantCRC := uint32(crcBuf[0]) | uint32(crcBuf[1])<<8 | uint32(crcBuf[2])<<16 | uint32(crcBuf[3])<<24
	gotCRC := crc32.ChecksumIEEE(payload)
	if gotCRC != wantCRC {
		return pusherr.ErrTrailerCrcMismatch
	}

	if err := json.Unmarshal(payload, out); err != nil {
		return pusherr.ErrTrailerJSONParse
	}
	return nil
}
