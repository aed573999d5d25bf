// Package upload implements the Resumable Uploader: it drives one
// image's push to completion against the Registry Client, dispatching
// missing chunks across a bounded worker pool and feeding the Progress
// Aggregator as bytes move.
//
// Grounded on the worker-pool shape of other_examples'
// 4c78b19b_yuksbg-atlassian-big-file-uploader (a channel of pending
// work items drained by a fixed number of goroutines) generalized to
// golang.org/x/sync/errgroup for first-class context cancellation, the
// way WebFirstLanguage-beenet uses errgroup to replace a hand-rolled
// sync.WaitGroup + semaphore.
package upload

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/golemfactory/gvmkit-push/internal/chunker"
	"github.com/golemfactory/gvmkit-push/internal/progress"
	"github.com/golemfactory/gvmkit-push/internal/pusherr"
	"github.com/golemfactory/gvmkit-push/internal/registry"
	"github.com/golemfactory/gvmkit-push/internal/streamio"
)

const (
	defaultWorkers = 4

	validationPollAttempts = 6
	validationPollInterval = 5 * time.Second
)

// Options configures one FullUpload call.
type Options struct {
	// Workers bounds concurrent chunk uploads. Zero selects the default of 4.
	Workers int
	// MaxChunksPerSecond, if > 0, paces chunk dispatch through a
	// token-bucket limiter rather than leaving it bound only by Workers.
	MaxChunksPerSecond float64
	// Aggregator receives byte/chunk progress. May be nil.
	Aggregator *progress.Aggregator
	// Logger receives structured diagnostics. May be nil, in which case
	// a no-op logger is used.
	Logger *zap.Logger
}

func (o Options) workers() int {
	if o.Workers <= 0 {
		return defaultWorkers
	}
	return o.Workers
}

func (o Options) logger() *zap.Logger {
	if o.Logger == nil {
		return zap.NewNop()
	}
	return o.Logger
}

// FullUpload drives descr (already produced for imagePath) to a
// "status == full" server state, uploading only the chunks the server
// reports missing. It is safe to call repeatedly on the same image:
// repeated calls resume from server state and perform zero chunk
// uploads once the server already reports full.
func FullUpload(ctx context.Context, client *registry.Client, imagePath string, descr *chunker.FileChunkDesc, opts Options) error {
	callID := uuid.NewString()
	log := opts.logger().With(zap.String("upload_id", callID), zap.String("image", imagePath))

	descrHash := descr.DescrHash()
	serialized := descr.Serialize()

	state, err := client.QueryDescriptor(ctx, descrHash)
	if err != nil {
		log.Error("query descriptor failed", zap.Error(err))
		return err
	}

	if state.Status == registry.StatusUnknown {
		log.Info("descriptor unknown on server, pushing", zap.String("descr_hash", descrHash))
		if err := client.PushDescriptor(ctx, serialized); err != nil {
			log.Error("push descriptor failed", zap.Error(err))
			return err
		}
		state, err = client.QueryDescriptor(ctx, descrHash)
		if err != nil {
			log.Error("re-query after descriptor push failed", zap.Error(err))
			return err
		}
	}

	if state.Status == registry.StatusFull {
		log.Info("descriptor already full, nothing to upload")
		countAllPresent(opts.Aggregator, descr)
		return nil
	}

	pending, err := missingChunks(descr, state)
	if err != nil {
		log.Error("computing missing chunk set failed", zap.Error(err))
		return err
	}
	countPresent(opts.Aggregator, descr, pending)

	log.Info("dispatching chunk uploads", zap.Int("pending", len(pending)), zap.Int("total", len(descr.Chunks)))
	if err := uploadChunks(ctx, client, descrHash, imagePath, descr, pending, opts); err != nil {
		log.Error("chunk upload failed", zap.Error(err))
		return err
	}

	if err := waitForFull(ctx, client, descrHash); err != nil {
		log.Error("validation polling failed", zap.Error(err))
		return err
	}

	log.Info("upload complete", zap.String("descr_hash", descrHash))
	return nil
}

// preflightCheck opens imagePath and reads a single byte so an
// unreadable image fails fast, before any worker is launched. A
// zero-length image has nothing to read and is never preflighted.
func preflightCheck(imagePath string, size uint64) error {
	if size == 0 {
		return nil
	}

	r, err := streamio.Range(imagePath, 0, 1)
	if err != nil {
		return err
	}
	defer r.Close()

	buf := make([]byte, 1)
	if _, err := r.Read(buf); err != nil {
		return err
	}
	return nil
}

// missingChunks computes the working set: when the server omits a
// chunks array, every chunk is treated as missing; a
// present-but-mismatched-length array is a protocol violation.
func missingChunks(descr *chunker.FileChunkDesc, state registry.DescriptorState) ([]chunker.FileChunk, error) {
	if state.ChunksPresent == nil {
		return append([]chunker.FileChunk(nil), descr.Chunks...), nil
	}
	if len(state.ChunksPresent) != len(descr.Chunks) {
		return nil, pusherr.NewProtocolMismatchError(fmt.Sprintf(
			"server chunks array length %d disagrees with descriptor chunk count %d",
			len(state.ChunksPresent), len(descr.Chunks)))
	}

	pending := make([]chunker.FileChunk, 0, len(descr.Chunks))
	for _, c := range descr.Chunks {
		if c.ChunkNo < 0 || c.ChunkNo >= len(state.ChunksPresent) {
			return nil, pusherr.NewProtocolMismatchError(fmt.Sprintf("chunk_no %d out of bounds", c.ChunkNo))
		}
		if !state.ChunksPresent[c.ChunkNo] {
			pending = append(pending, c)
		}
	}
	return pending, nil
}

// countAllPresent pre-counts every chunk as already present, for the
// "server already reports full" short-circuit.
func countAllPresent(agg *progress.Aggregator, descr *chunker.FileChunkDesc) {
	if agg == nil {
		return
	}
	for _, c := range descr.Chunks {
		agg.Add(int64(c.Len))
		agg.ChunkDone()
	}
}

// countPresent pre-counts chunks the server already reports present
// (i.e. every chunk in descr.Chunks not in pending) so the Progress
// Aggregator's totals reflect reality from the very first sample.
func countPresent(agg *progress.Aggregator, descr *chunker.FileChunkDesc, pending []chunker.FileChunk) {
	if agg == nil {
		return
	}
	pendingSet := make(map[int]struct{}, len(pending))
	for _, c := range pending {
		pendingSet[c.ChunkNo] = struct{}{}
	}
	for _, c := range descr.Chunks {
		if _, isPending := pendingSet[c.ChunkNo]; !isPending {
			agg.Add(int64(c.Len))
			agg.ChunkDone()
		}
	}
}

func uploadChunks(ctx context.Context, client *registry.Client, descrHash, imagePath string, descr *chunker.FileChunkDesc, pending []chunker.FileChunk, opts Options) error {
	if len(pending) == 0 {
		return nil
	}
	if err := preflightCheck(imagePath, descr.Size); err != nil {
		return err
	}

	var limiter *rate.Limiter
	if opts.MaxChunksPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.MaxChunksPerSecond), 1)
	}

	work := make(chan chunker.FileChunk)
	g, gctx := errgroup.WithContext(ctx)
	// One slot for the dispatcher goroutine plus one per worker, so that
	// exactly opts.workers() chunk uploads can run at once.
	g.SetLimit(opts.workers() + 1)

	g.Go(func() error {
		defer close(work)
		for _, c := range pending {
			select {
			case work <- c:
			case <-gctx.Done():
				return pusherr.ErrCancelled
			}
		}
		return nil
	})

	for i := 0; i < opts.workers(); i++ {
		g.Go(func() error {
			for c := range work {
				if limiter != nil {
					if err := limiter.Wait(gctx); err != nil {
						if gctx.Err() != nil {
							return pusherr.ErrCancelled
						}
						return err
					}
				}
				if err := uploadOneChunk(gctx, client, descrHash, imagePath, c, opts.Aggregator); err != nil {
					return err
				}
			}
			return nil
		})
	}

	return g.Wait()
}

func uploadOneChunk(ctx context.Context, client *registry.Client, descrHash, imagePath string, c chunker.FileChunk, agg *progress.Aggregator) error {
	var counters []streamio.Counter
	if agg != nil {
		counters = append(counters, agg)
	}

	start := int64(c.Pos)
	end := int64(c.Pos + c.Len)
	data, err := streamio.Range(imagePath, start, end, counters...)
	if err != nil {
		return err
	}
	defer data.Close()

	err = client.PushChunk(ctx, registry.ChunkUpload{
		DescrHash:   descrHash,
		ChunkNo:     c.ChunkNo,
		ChunkSHA256: fmt.Sprintf("%x", c.SHA256),
		ChunkPos:    c.Pos,
		ChunkLen:    c.Len,
		Data:        data,
	})
	if err != nil {
		return err
	}

	if agg != nil {
		agg.ChunkDone()
	}
	return nil
}

// waitForFull polls Query descriptor until status == full, up to
// validationPollAttempts times, sleeping validationPollInterval
// between attempts.
func waitForFull(ctx context.Context, client *registry.Client, descrHash string) error {
	for attempt := 1; attempt <= validationPollAttempts; attempt++ {
		state, err := client.QueryDescriptor(ctx, descrHash)
		if err != nil {
			return err
		}
		if state.Status == registry.StatusFull {
			return nil
		}

		if attempt == validationPollAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return pusherr.ErrCancelled
		case <-time.After(validationPollInterval):
		}
	}
	return pusherr.NewValidationTimeoutError(descrHash, validationPollAttempts)
}
