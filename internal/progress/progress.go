// Package progress implements the shared byte/chunk counters and the
// rolling-speed/ETA sampler used across upload workers. It is a small
// value object protected by a single mutex with coarse-grained
// updates, per the "Cyclic / shared state" design note: every field
// that forms one sample (bytes_done, chunks_done, the speed window)
// must be read back consistently, which rules out lock-free atomics
// for the multi-field update.
package progress

import (
	"context"
	"sync"
	"time"
)

const sampleWindow = 10

// Snapshot is a consistent, point-in-time read of the aggregator.
type Snapshot struct {
	BytesDone   int64
	BytesTotal  int64
	ChunksDone  int64
	ChunksTotal int64
	// SpeedBps is the instantaneous speed over the rolling window, or
	// -1 if not enough samples exist yet.
	SpeedBps float64
	// ETA is the estimated remaining duration, or -1 ("NA") when speed
	// is below the reporting threshold.
	ETA time.Duration
}

// minReportableSpeed is the floor below which ETA is reported "NA"
// rather than an unreliable multi-hour estimate.
const minReportableSpeed = 100 // bytes/sec

// Aggregator tracks upload progress for one FullUpload call.
type Aggregator struct {
	mu sync.Mutex

	bytesDone   int64
	bytesTotal  int64
	chunksDone  int64
	chunksTotal int64

	samples    []sample
	firstBytes int64
	firstAt    time.Time
	loopIndex  int
}

type sample struct {
	at    time.Time
	bytes int64
}

// NewAggregator creates an aggregator for an upload of the given total
// size and chunk count.
func NewAggregator(bytesTotal int64, chunksTotal int64) *Aggregator {
	return &Aggregator{
		bytesTotal:  bytesTotal,
		chunksTotal: chunksTotal,
	}
}

// Add implements streamio.Counter so an Aggregator can be wired
// directly as a progress sink for a streamed upload.
func (a *Aggregator) Add(n int64) {
	a.mu.Lock()
	a.bytesDone += n
	a.mu.Unlock()
}

// ChunkDone records one more chunk as uploaded (or pre-counted as
// already present on the server).
func (a *Aggregator) ChunkDone() {
	a.mu.Lock()
	a.chunksDone++
	a.mu.Unlock()
}

// Snapshot returns a consistent point-in-time read of all counters
// plus the current speed/ETA estimate.
func (a *Aggregator) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshotLocked()
}

func (a *Aggregator) snapshotLocked() Snapshot {
	s := Snapshot{
		BytesDone:   a.bytesDone,
		BytesTotal:  a.bytesTotal,
		ChunksDone:  a.chunksDone,
		ChunksTotal: a.chunksTotal,
		SpeedBps:    -1,
		ETA:         -1,
	}

	speed := a.windowSpeedLocked()
	if speed <= 0 {
		return s
	}
	s.SpeedBps = speed

	if speed < minReportableSpeed {
		return s
	}
	remaining := s.BytesTotal - s.BytesDone
	if remaining < 0 {
		remaining = 0
	}
	s.ETA = time.Duration(float64(remaining)/speed) * time.Second
	return s
}

// windowSpeedLocked computes the average byte delta per second over
// the last sampleWindow samples. Must be called with a.mu held.
func (a *Aggregator) windowSpeedLocked() float64 {
	if len(a.samples) < 2 {
		return 0
	}
	oldest := a.samples[0]
	newest := a.samples[len(a.samples)-1]
	elapsed := newest.at.Sub(oldest.at).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(newest.bytes-oldest.bytes) / elapsed
}

// tick records one sample and trims the window to the last
// sampleWindow entries. If the wall clock appears to have jumped
// backward relative to the expected loop cadence, the window resets.
func (a *Aggregator) tick(now time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.firstAt.IsZero() {
		a.firstAt = now
		a.firstBytes = a.bytesDone
	}

	expectedElapsed := time.Duration(a.loopIndex) * time.Second
	if now.Sub(a.firstAt) < expectedElapsed-time.Second {
		a.samples = a.samples[:0]
		a.firstAt = now
		a.firstBytes = a.bytesDone
		a.loopIndex = 0
	}
	a.loopIndex++

	a.samples = append(a.samples, sample{at: now, bytes: a.bytesDone})
	if len(a.samples) > sampleWindow {
		a.samples = a.samples[len(a.samples)-sampleWindow:]
	}
}

// CumulativeSpeed returns the average speed since the very first
// sample (a separate figure from the rolling-window speed used for
// ETA), or 0 if no samples have been taken yet.
func (a *Aggregator) CumulativeSpeed() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.firstAt.IsZero() || len(a.samples) == 0 {
		return 0
	}
	last := a.samples[len(a.samples)-1]
	elapsed := last.at.Sub(a.firstAt).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(last.bytes-a.firstBytes) / elapsed
}

// Run starts the once-per-second sampling loop. It is purely
// observational: it must never sit on the critical path of an upload,
// so it is always run in its own goroutine and stops promptly when ctx
// is cancelled.
func (a *Aggregator) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			a.tick(now)
		}
	}
}
