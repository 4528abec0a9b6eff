package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/streamline/gateway/internal/api"
	"github.com/streamline/gateway/internal/broadcast"
	"github.com/streamline/gateway/internal/catalog"
	"github.com/streamline/gateway/internal/config"
	"github.com/streamline/gateway/internal/device"
	"github.com/streamline/gateway/internal/embedding"
	"github.com/streamline/gateway/internal/featurestore"
	"github.com/streamline/gateway/internal/hlc"
	"github.com/streamline/gateway/internal/integrity"
	"github.com/streamline/gateway/internal/lora"
	"github.com/streamline/gateway/internal/platform"
	"github.com/streamline/gateway/internal/quality"
	"github.com/streamline/gateway/internal/reco"
	"github.com/streamline/gateway/internal/reco/blend"
	"github.com/streamline/gateway/internal/reco/candidates"
	"github.com/streamline/gateway/internal/resolver"
	"github.com/streamline/gateway/internal/snapshot"
	"github.com/streamline/gateway/internal/syncstore"
	"github.com/streamline/gateway/internal/types"
	"github.com/streamline/gateway/internal/webhook"
	"github.com/streamline/gateway/internal/worker"
	"github.com/streamline/gateway/pkg/ann"
)

// Version information set at build time via ldflags:
//
//	-X main.Version=1.0.0
//	-X main.Commit=abc1234
//	-X main.Date=2026-01-30T12:00:00Z
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// resolverCacheSize bounds the entity resolver's exact/fuzzy-match LRU.
const resolverCacheSize = 4096

// graphPathDecay is the per-hop decay the graph candidate generator
// applies (spec.md §4.10's "each additional hop contributes less"),
// matching the production value internal/api's test harness wires.
const graphPathDecay = 0.5

// webhookDrainPollInterval is how often a platform's webhook.Worker
// checks for newly-ready work when its queue is empty.
const webhookDrainPollInterval = 2 * time.Second

var rootCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Streamline Gateway - Media Aggregation Service",
	RunE:  run,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("gateway %s (commit: %s, built: %s)\n", Version, Commit, Date)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(platformCmd)
}

func run(cmd *cobra.Command, args []string) error {
	// 1. Signal handling
	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	// 2. Load configuration
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// 3. Initialize logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Log.Level),
	}))
	slog.SetDefault(logger)
	slog.Info("logger initialized", "level", cfg.Log.Level)

	// 4. Build platform adapters from the closed PlatformID set (must
	// happen before any ingest/webhook traffic touches the edge registry).
	platformAdapters := registerPlatformAdapters(cfg.Platforms, defaultHTTPClient())
	slog.Info("platform adapters registered", "platforms", platform.RegisteredPlatforms())

	// 5. Initialize the shared catalog (migrations, pragmas)
	catalogStore, err := catalog.Open(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open catalog: %w", err)
	}
	slog.Info("catalog opened", "path", cfg.Database.Path)

	// 6. Initialize embedding service
	embedder := embedding.NewOpenAI(cfg.Embedding.APIKey, cfg.Embedding.Model)
	slog.Info("embedder initialized", "model", cfg.Embedding.Model)

	// 7. Broadcast hub + per-user SyncStore manager + device registry
	hub := broadcast.NewHub()
	syncManager, err := syncstore.NewManager(cfg.Stores.RootPath, hlc.WallClockMillis, hub)
	if err != nil {
		return fmt.Errorf("open sync store manager: %w", err)
	}
	slog.Info("sync store manager initialized", "root_path", cfg.Stores.RootPath)

	devices := device.NewRegistry(syncManager, hub, time.Now)

	// 8. Entity resolver
	res := resolver.New(catalogStore, resolverCacheSize)

	// 9. Recommendation stack: ANN index (seeded from already-embedded
	// content so a restart doesn't start cold), LoRA personalization,
	// Blender, and the orchestrating Service.
	index := ann.New()
	if err := seedANNIndex(ctx, catalogStore, index); err != nil {
		slog.Error("failed to seed ANN index from catalog", "error", err)
	}
	loraService := lora.NewService(cfg.LoRA, cfg.Embedding.Dimensions)
	blender := blend.New(cfg.Blender)
	recoSvc := reco.New(catalogStore, index, loraService, blender, time.Duration(cfg.FeatureStore.TemporalHalfLife), graphPathDecay)

	// 10. FeatureStore (profile updates from interactions)
	embeddingOf := func(contentID string) ([]float32, bool) {
		return catalogStore.EmbeddingOf(context.Background(), contentID)
	}
	features := featurestore.New(catalogStore, embeddingOf,
		cfg.FeatureStore.TemporalDecayRate, time.Duration(cfg.FeatureStore.TemporalHalfLife), cfg.FeatureStore.MinWatchThreshold)

	// 11. Webhook pipeline (verify, dedup, durable queue, drain workers)
	webhookVerifier := webhook.NewVerifier(cfg.Webhooks.Secrets)
	webhookDedup := webhook.NewDedup(time.Duration(cfg.Webhooks.DedupTTL), 0)
	webhookQueuePath := filepath.Join(filepath.Dir(cfg.Database.Path), "webhooks.db")
	webhookQueue, err := webhook.OpenQueue(webhookQueuePath)
	if err != nil {
		return fmt.Errorf("open webhook queue: %w", err)
	}
	slog.Info("webhook queue opened", "path", webhookQueuePath)

	// 12. Cross-cutting request guard: rate limits, webhook dedup, token
	// revocation. Platform-level circuit breaking lives in
	// internal/platform.Manager instead (spec.md §4.6); the breakers map
	// here is empty since nothing yet registers an endpoint-level breaker
	// name against Guard.
	guard := integrity.NewGuard(cfg.RateLimitTiers, nil, webhookDedup, newMemRevocationStore(), nil)

	// 13. Snapshot storage (S3-compatible, or no-op when unconfigured)
	uploader, err := snapshot.NewUploader(cfg.SnapshotStorage)
	if err != nil {
		return fmt.Errorf("initialize snapshot uploader: %w", err)
	}
	if cfg.SnapshotStorage.Bucket != "" {
		slog.Info("snapshot S3 upload enabled", "bucket", cfg.SnapshotStorage.Bucket, "region", cfg.SnapshotStorage.Region)
	}

	// 14. HTTP router
	handler := api.NewHandler(catalogStore, syncManager, hub, devices, recoSvc, features, res,
		webhookVerifier, webhookDedup, webhookQueue, guard, cfg.Auth.APIKey, Version)
	router := api.NewRouter(handler)
	slog.Info("router initialized")

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout),
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout),
	}

	// 15. Worker lifecycle
	var wg sync.WaitGroup

	platformManager := platform.NewManager(cfg.Platforms)
	ingestCoordinator := worker.NewIngestCoordinator(
		platformAdapters,
		platformManager,
		res,
		catalogStore,
		time.Duration(cfg.Worker.IngestPollInterval),
		cfg.Worker.IngestRegions,
	)
	startWorker(ctx, &wg, "ingest-coordinator", ingestCoordinator.Run)

	embeddingCoordinator := worker.NewEmbeddingCoordinator(
		catalogStore, embedder,
		time.Duration(cfg.Worker.EmbeddingRetryInterval),
		cfg.Worker.EmbeddingRetryMaxAttempts,
		cfg.Worker.EmbeddingRetryBatchSize,
	)
	embeddingCoordinator.SetIndex(index)
	startWorker(ctx, &wg, "embedding-coordinator", embeddingCoordinator.Run)

	scorer := quality.New(cfg.Quality.FreshnessLambda, cfg.Quality.FreshnessFloor)
	scoringWorker := quality.NewScoringWorker(catalogStore, scorer,
		time.Duration(cfg.Worker.ScoringInterval), cfg.Worker.ScoringBatchSize)
	startWorker(ctx, &wg, "quality-scoring", scoringWorker.Run)

	collaborativeCoordinator := worker.NewCollaborativeCoordinator(
		catalogStore, recoSvc, candidates.DefaultALSConfig, time.Duration(cfg.Worker.CollaborativeInterval))
	startWorker(ctx, &wg, "collaborative-coordinator", collaborativeCoordinator.Run)

	snapshotTmpDir := filepath.Join(cfg.Stores.RootPath, "snapshot-tmp")
	snapshotCoordinator := worker.NewSnapshotCoordinator(
		syncManager, time.Duration(cfg.Worker.SnapshotInterval), uploader, snapshotTmpDir)
	startWorker(ctx, &wg, "snapshot-coordinator", snapshotCoordinator.Run)

	compactionCoordinator := worker.NewCompactionCoordinator(
		syncManager, time.Duration(cfg.Worker.CompactionInterval), time.Duration(cfg.Worker.CompactionRetention))
	startWorker(ctx, &wg, "compaction-coordinator", compactionCoordinator.Run)

	for _, platformID := range platform.RegisteredPlatforms() {
		webhookWorker := webhook.NewWorker(platformID, webhookQueue, webhookIngestHandler(res, catalogStore), webhookDrainPollInterval)
		startWorker(ctx, &wg, "webhook-worker-"+platformID, webhookWorker.Run)
	}

	// 16. Start HTTP server
	go func() {
		slog.Info("server starting", "address", addr)
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			cancel()
		}
	}()

	// 17. Block until signal received
	<-ctx.Done()
	slog.Info("shutdown initiated")

	// 18. Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(
		context.Background(), time.Duration(cfg.Server.ShutdownTimeout))
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	wg.Wait()

	if err := webhookQueue.Close(); err != nil {
		slog.Error("webhook queue close error", "error", err)
	}
	if err := syncManager.Close(); err != nil {
		slog.Error("sync store manager close error", "error", err)
	}
	if err := catalogStore.Close(); err != nil {
		slog.Error("catalog close error", "error", err)
	}

	slog.Info("shutdown complete")
	return nil
}

// seedANNIndex loads every already-embedded content row into index so a
// restart doesn't serve cold recommendations until the embedding
// coordinator's next cycle re-populates it.
func seedANNIndex(ctx context.Context, catalogStore *catalog.Store, index *ann.Index) error {
	entries, err := catalogStore.AllEmbeddings(ctx)
	if err != nil {
		return err
	}
	for _, c := range entries {
		if len(c.Embedding) == 0 {
			continue
		}
		index.Upsert(c.EntityID, c.Embedding)
	}
	slog.Info("ann index seeded", "entries", index.Len())
	return nil
}

// webhookIngestHandler builds the webhook.Handler closure draining
// each platform's queue: decode the dequeued payload as a RawItem through
// that platform's own adapter, resolve, and upsert — the exact same
// three-step pipeline internal/worker.IngestRawItem already gives the
// poll-based IngestCoordinator, reused here instead of duplicated.
func webhookIngestHandler(res *resolver.Resolver, catalogStore *catalog.Store) webhook.Handler {
	return func(ctx context.Context, item webhook.QueueItem) error {
		adapter, ok := platform.Get(item.Platform)
		if !ok {
			return fmt.Errorf("no adapter registered for platform %q", item.Platform)
		}
		raw := rawItemFromQueueItem(item)
		return worker.IngestRawItem(ctx, adapter, res, catalogStore, raw)
	}
}

// rawItemFromQueueItem adapts a dequeued webhook.QueueItem into the
// types.RawItem shape a platform.Adapter's Normalize expects: the queued
// payload is exactly the raw webhook body a change-feed poll would have
// produced for one item.
func rawItemFromQueueItem(item webhook.QueueItem) types.RawItem {
	return types.RawItem{
		PlatformID: item.Platform,
		Payload:    item.Payload,
		FetchedAt:  item.ReceivedAt,
	}
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// startWorker launches a background worker goroutine that respects
// context cancellation, tracked via WaitGroup for graceful shutdown.
func startWorker(ctx context.Context, wg *sync.WaitGroup, name string, fn func(ctx context.Context)) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		fn(ctx)
	}()
}
