// Package streamio produces a lazy, counted byte stream of a file
// range. It is shared by the descriptor-upload and chunk-upload paths
// so progress accounting never has to be duplicated across them — a
// single "source of (bytes, offset) with a sink of counters", per the
// Streaming + progress composition design note.
package streamio

import (
	"io"
	"os"

	"github.com/golemfactory/gvmkit-push/internal/pusherr"
)

// maxReadSize bounds a single underlying read so progress counters
// advance in bounded increments rather than one huge jump.
const maxReadSize = 100 * 1024 // 100 KiB

// Counter receives bytes as they are actually read off disk. Multiple
// counters (per-file, per-group, global) can observe the same stream.
type Counter interface {
	Add(n int64)
}

// CounterFunc adapts a plain function to the Counter interface.
type CounterFunc func(n int64)

// Add implements Counter.
func (f CounterFunc) Add(n int64) { f(n) }

// Range opens path and returns a reader over exactly [start, end),
// reporting every byte actually read to each of counters. Reading
// fewer than end-start bytes before EOF is a pusherr.IOError.
func Range(path string, start, end int64, counters ...Counter) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, pusherr.NewIOError("open", path, err)
	}
	if _, err := f.Seek(start, io.SeekStart); err != nil {
		f.Close()
		return nil, pusherr.NewIOError("seek", path, err)
	}

	return &rangeReader{
		path:     path,
		f:        f,
		remain:   end - start,
		counters: counters,
	}, nil
}

type rangeReader struct {
	path     string
	f        *os.File
	remain   int64
	counters []Counter
}

func (r *rangeReader) Read(p []byte) (int, error) {
	if r.remain <= 0 {
		return 0, io.EOF
	}

	want := int64(len(p))
	if want > maxReadSize {
		want = maxReadSize
	}
	if want > r.remain {
		want = r.remain
	}

	n, err := r.f.Read(p[:want])
	if n > 0 {
		r.remain -= int64(n)
		for _, c := range r.counters {
			c.Add(int64(n))
		}
	}
	if err != nil && err != io.EOF {
		return n, pusherr.NewIOError("read", r.path, err)
	}
	if err == io.EOF && r.remain > 0 {
		return n, pusherr.NewIOError("read", r.path, io.ErrUnexpectedEOF)
	}
	return n, nil
}

func (r *rangeReader) Close() error {
	return r.f.Close()
}
