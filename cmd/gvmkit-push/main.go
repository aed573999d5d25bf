// Command gvmkit-push chunks a packaged VM image and pushes it to a
// content-addressed registry, resuming any previously interrupted
// upload. Building the packaged image itself (container orchestration,
// docker export, image-name parsing) is out of scope here; this binary
// drives the core subsystem directly against an existing file via
// --direct-file-upload.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/golemfactory/gvmkit-push/internal/config"
	"github.com/golemfactory/gvmkit-push/internal/descriptor"
	"github.com/golemfactory/gvmkit-push/internal/login"
	"github.com/golemfactory/gvmkit-push/internal/progress"
	"github.com/golemfactory/gvmkit-push/internal/pusherr"
	"github.com/golemfactory/gvmkit-push/internal/registry"
	"github.com/golemfactory/gvmkit-push/internal/upload"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		push             = flag.Bool("push", false, "upload the packaged image to the registry")
		pushTo           = flag.String("push-to", "", "user/repo:tag to attach the uploaded descriptor to")
		directFileUpload = flag.String("direct-file-upload", "", "skip build, run the core on an arbitrary file")
		uploadChunkSize  = flag.Uint64("upload-chunk-size", 0, "override the auto-selected chunk size, in bytes")
		uploadWorkers    = flag.Int("upload-workers", config.DefaultWorkers, "bounded worker pool size for chunk uploads")
		hideProgress     = flag.Bool("hide-progress", false, "suppress progress reporting (counters still updated)")
		noLogin          = flag.Bool("nologin", false, "push anonymously; disallowed together with --push-to")
		metricsAddr      = flag.String("metrics-addr", "", "optional loopback address to serve /metrics and /healthz, e.g. 127.0.0.1:9090")
	)
	flag.Parse()

	logger, _ := zap.NewProduction()
	defer func() { _ = logger.Sync() }()

	if !*push {
		fmt.Fprintln(os.Stderr, "nothing to do: pass --push")
		return 1
	}
	if *directFileUpload == "" {
		fmt.Fprintln(os.Stderr, "--direct-file-upload <path> is required")
		return 1
	}

	cfg := config.Default()
	config.LoadFromEnv(&cfg)
	if *noLogin {
		cfg.Registry.NoLogin = true
	}
	if *uploadChunkSize > 0 {
		cfg.Upload.ChunkSize = *uploadChunkSize
	}
	cfg.Upload.Workers = *uploadWorkers
	cfg.Upload.HideProgress = *hideProgress

	if err := login.RequireForRepository(cfg, *pushTo); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	go waitForShutdownSignal(cancel, logger)

	client := registry.New(cfg.Registry.URL)
	if err := login.Check(ctx, client, cfg); err != nil {
		logger.Error("login check failed", zap.Error(err))
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}

	info, err := os.Stat(*directFileUpload)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", pusherr.NewIOError("stat", *directFileUpload, err))
		return 1
	}

	chunkSize := cfg.Upload.ChunkSize
	if chunkSize == 0 {
		chunkSize = config.AutoChunkSize(info.Size())
	}

	store := descriptor.NewStore(logger)
	desc, err := store.Load(*directFileUpload, chunkSize)
	if err != nil {
		logger.Error("descriptor load failed", zap.Error(err))
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}

	agg := progress.NewAggregator(int64(desc.Size), int64(len(desc.Chunks)))
	if !*hideProgress {
		sampleCtx, stopSampling := context.WithCancel(ctx)
		defer stopSampling()
		go agg.Run(sampleCtx)
	}

	var metricsServer *http.Server
	if *metricsAddr != "" {
		metricsServer = startMetricsServer(*metricsAddr, agg, logger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsServer.Shutdown(shutdownCtx)
		}()
	}

	opts := upload.Options{
		Workers:            cfg.Upload.Workers,
		MaxChunksPerSecond: cfg.Upload.MaxChunksPerSecond,
		Aggregator:         agg,
		Logger:             logger,
	}
	if err := upload.FullUpload(ctx, client, *directFileUpload, desc, opts); err != nil {
		logger.Error("upload failed", zap.Error(err))
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}

	if *pushTo != "" {
		if err := attach(ctx, client, desc.DescrHash(), *pushTo, cfg); err != nil {
			logger.Error("attach failed", zap.Error(err))
			fmt.Fprintln(os.Stderr, "error:", err)
			return 1
		}
	}

	fmt.Printf("pushed image %s (descr_hash=%s)\n", desc.ImageHash(), desc.DescrHash())
	return 0
}

func attach(ctx context.Context, client *registry.Client, descrHash, pushTo string, cfg config.Config) error {
	user, repo, tag := parsePushTo(pushTo)
	_, err := client.Attach(ctx, descrHash, registry.AttachOptions{
		Tag:        tag,
		Username:   user,
		Repository: repo,
		Login:      cfg.Registry.User,
		Token:      cfg.Registry.Token,
	})
	return err
}

// parsePushTo splits "user/repo:tag" into its three parts. Malformed
// input yields empty fields rather than erroring here; image-name
// parsing proper is an external collaborator.
func parsePushTo(pushTo string) (user, repo, tag string) {
	rest := pushTo
	if idx := indexByte(rest, '/'); idx >= 0 {
		user, rest = rest[:idx], rest[idx+1:]
	}
	if idx := indexByte(rest, ':'); idx >= 0 {
		repo, tag = rest[:idx], rest[idx+1:]
	} else {
		repo = rest
	}
	return user, repo, tag
}

func indexByte(s string, b byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return -1
}

func startMetricsServer(addr string, agg *progress.Aggregator, logger *zap.Logger) *http.Server {
	metrics := progress.NewMetrics(agg)
	srv := &http.Server{Addr: addr, Handler: metrics.Handler()}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Warn("metrics server stopped", zap.Error(err))
		}
	}()
	return srv
}

func waitForShutdownSignal(cancel context.CancelFunc, logger *zap.Logger) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("shutting down...")
	cancel()
}
