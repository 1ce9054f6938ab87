package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/Capstone-Design2/Backend/internal/book"
	"github.com/Capstone-Design2/Backend/internal/broadcast"
	"github.com/Capstone-Design2/Backend/internal/bus"
	"github.com/Capstone-Design2/Backend/internal/engine"
	"github.com/Capstone-Design2/Backend/internal/feed"
	"github.com/Capstone-Design2/Backend/internal/infra"
	"github.com/Capstone-Design2/Backend/internal/infra/kis"
	"github.com/Capstone-Design2/Backend/internal/intake"
	"github.com/Capstone-Design2/Backend/internal/ledger"
	"github.com/Capstone-Design2/Backend/internal/recorder"
	"github.com/Capstone-Design2/Backend/internal/storage"
)

// defaultAccountKey is the metadata row holding the auto-created
// account's id. paperctl resolves the alias "default" through it.
const defaultAccountKey = "default_account"

// statsInterval paces the pipeline counter log line.
const statsInterval = 30 * time.Second

// bookRefreshInterval paces the reload of the pending-order cache from
// storage. This is how orders submitted by paperctl in a separate
// process reach the running engine.
const bookRefreshInterval = 5 * time.Second

// Bootstrap orchestrates the application startup sequence and owns the
// wired pipeline for its lifetime.
type Bootstrap struct {
	Config   *infra.Config
	Store    *storage.Store
	Book     *book.Book
	Ledger   *ledger.Ledger
	Intake   *intake.Service
	Recorder *recorder.Recorder

	eventBus *bus.Bus
	subs     []*bus.Subscription
	norm     *feed.Normalizer
	capture  *feed.Capture
	engine   *engine.Engine
	hub      *broadcast.Hub
	httpd    *http.Server
	unlock   func()
}

// NewBootstrap creates a new Bootstrap instance
func NewBootstrap() *Bootstrap {
	return &Bootstrap{}
}

// Initialize performs core system initialization: config, logger,
// workspace, instance lock, storage, and the rebuilt order book.
// replayFile, when non-empty, overrides the configured feed with a
// replay of that file.
func (b *Bootstrap) Initialize(configPath, replayFile string) error {
	slog.Info("🚀 Bootstrapping KIS paper trading server...")

	// 1. Load Config (Dynamic Path Resolution)
	if configPath == "" {
		configPath = infra.ResolveConfigPath()
	}
	cfg, err := infra.LoadConfig(configPath)
	if err != nil {
		return err // Let main handle the error
	}
	if replayFile != "" {
		cfg.Feed.Source = infra.FeedSourceReplay
		cfg.Feed.ReplayFile = replayFile
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
	}

	// 1.1 Optional secret file next to the config. Environment variables
	// already applied by LoadConfig take precedence.
	secretPath := filepath.Join(filepath.Dir(configPath), "secret.yaml")
	if _, err := os.Stat(secretPath); err == nil {
		secrets, err := infra.LoadSecretConfig(secretPath)
		if err != nil {
			return err
		}
		secrets.Apply(cfg)
		slog.Info("🔑 KIS credentials loaded", "path", secretPath)
	}
	b.Config = cfg

	// 2. Setup Logger
	logger := infra.NewLogger(cfg)
	slog.SetDefault(logger)

	infra.PrintBanner(cfg)

	// 3. Workspace layout + single-instance lock
	workDir := infra.GetWorkspaceDir()
	dataDir := filepath.Join(workDir, "data")
	logDir := filepath.Join(workDir, "logs")
	if err := infra.EnsureDir(dataDir); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}
	if err := infra.EnsureDir(logDir); err != nil {
		return fmt.Errorf("failed to create log dir: %w", err)
	}
	unlock, err := infra.CreateLockFile(workDir)
	if err != nil {
		return err
	}
	b.unlock = unlock

	// 4. Ledger store (single-writer WAL DB)
	dbPath := filepath.Join(dataDir, "ledger.db")
	store, err := storage.NewStore(dbPath)
	if err != nil {
		return err
	}
	b.Store = store
	slog.Info("✅ Ledger store initialized (WAL-mode)", "path", dbPath)

	// 5. Rebuild the pending-order cache from storage so orders accepted
	// in a previous run keep filling after a restart.
	b.Book = book.New()
	pending, err := store.AllPendingOrders(context.Background())
	if err != nil {
		return fmt.Errorf("failed to rebuild order book: %w", err)
	}
	b.Book.Rebuild(pending)
	slog.Info("✅ Order book rebuilt", "pending_orders", len(pending))

	b.Ledger = ledger.New(store)
	b.norm = feed.NewNormalizer()
	return nil
}

// Run wires the tick pipeline, starts the configured feed source and
// blocks until ctx is cancelled, then shuts everything down in drain
// order: feed first, then bus, consumers, HTTP and storage.
func (b *Bootstrap) Run(ctx context.Context) error {
	cfg := b.Config

	// 1. Event bus. Consumers subscribe before the feed publishes so not
	// a single tick is missed.
	b.eventBus = bus.New()
	engineSub := b.eventBus.Subscribe("engine", cfg.Bus.QueueSize)
	recorderSub := b.eventBus.Subscribe("recorder", cfg.Bus.QueueSize)
	hubSub := b.eventBus.Subscribe("broadcast", cfg.Bus.QueueSize)
	b.subs = []*bus.Subscription{engineSub, recorderSub, hubSub}

	// 2. Consumers: bar recorder, execution engine, viewer fan-out.
	b.Recorder = recorder.New(b.Store, recorderSub)
	b.Recorder.Start()

	b.engine = engine.New(b.Store, b.Book, b.Ledger, engineSub, engine.Config{
		Shards:    cfg.Engine.Shards,
		QueueSize: cfg.Engine.QueueSize,
	})
	b.engine.Start()

	b.hub = broadcast.NewHub(hubSub)
	b.hub.Start()

	// 3. Order intake, priced from the recorder's latest-trade map.
	b.Intake = intake.New(b.Store, b.Book, b.Recorder, cfg.InitialBalance())
	if err := b.ensureDefaultAccount(ctx); err != nil {
		b.shutdown(func() {})
		return err
	}

	// 4. HTTP surface: market stream + healthz.
	server := broadcast.NewServer(b.hub)
	server.Stats = b.pipelineStats
	b.httpd = &http.Server{Addr: cfg.Server.Addr, Handler: server.Routes()}
	go func() {
		slog.Info("🌐 Market stream listening", "addr", cfg.Server.Addr)
		if err := b.httpd.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server failed", slog.Any("error", err))
		}
	}()

	// 5. Feed source. Connection failure here is fatal: a server that
	// cannot acquire its feed has nothing to serve.
	// Re-recording a replay would only copy the input file.
	if cfg.Feed.Record && cfg.Feed.Source != infra.FeedSourceReplay {
		capture, err := feed.OpenCapture(filepath.Join(infra.GetWorkspaceDir(), "recordings"), time.Now())
		if err != nil {
			b.shutdown(func() {})
			return err
		}
		b.capture = capture
		b.norm.SetCapture(capture)
		slog.Info("🎥 Recording session frames", "path", capture.Path())
	}

	stopFeed, err := b.startFeed(ctx)
	if err != nil {
		b.shutdown(func() {})
		return err
	}

	go b.statsLoop(ctx)
	go b.bookRefreshLoop(ctx)

	slog.Info("✨ Paper trading server fully operational. Press Ctrl+C to exit.")
	<-ctx.Done()
	slog.Info("👋 Shutting down gracefully...")

	b.shutdown(stopFeed)
	return nil
}

// ensureDefaultAccount creates the demo account on first boot and logs
// its id on every boot.
func (b *Bootstrap) ensureDefaultAccount(ctx context.Context) error {
	accountID, err := b.Store.GetMetadata(ctx, defaultAccountKey)
	if err != nil {
		return err
	}
	if accountID == "" {
		acct, err := b.Intake.CreateAccount(ctx)
		if err != nil {
			return fmt.Errorf("failed to create default account: %w", err)
		}
		accountID = acct.AccountID
		if err := b.Store.UpsertMetadata(ctx, defaultAccountKey, accountID, time.Now().UnixMicro()); err != nil {
			return err
		}
	}
	slog.Info("✅ Default account ready", "account_id", accountID)
	return nil
}

// startFeed launches the configured tick source. The returned stop
// function blocks until the source has stopped publishing, which makes
// closing the bus safe.
func (b *Bootstrap) startFeed(ctx context.Context) (func(), error) {
	cfg := b.Config

	switch cfg.Feed.Source {
	case infra.FeedSourceWS:
		client := kis.NewClient(cfg.KIS.RestURL, cfg.KIS.AppKey, cfg.KIS.AppSecret)
		worker := kis.NewWorker(cfg.KIS.WSURL, client, cfg.KIS.Instruments, b.norm, b.eventBus)
		if err := worker.Start(ctx); err != nil {
			return nil, err
		}
		slog.Info("✅ KIS feed connected", "instruments", len(cfg.KIS.Instruments))
		return worker.Stop, nil

	case infra.FeedSourcePoll:
		client := kis.NewClient(cfg.KIS.RestURL, cfg.KIS.AppKey, cfg.KIS.AppSecret)
		interval := time.Duration(cfg.KIS.PollIntervalSec) * time.Second
		poller := kis.NewPoller(client, cfg.KIS.Instruments, interval, b.norm, b.eventBus)
		if err := poller.Start(ctx); err != nil {
			return nil, err
		}
		slog.Info("✅ KIS price poller started", "interval", interval)
		return poller.Stop, nil

	case infra.FeedSourceReplay:
		replayer := feed.NewReplayer(cfg.Feed.ReplayFile, cfg.Feed.ReplaySpeed, b.norm, b.eventBus)
		replayCtx, cancel := context.WithCancel(ctx)
		done := make(chan struct{})
		go func() {
			defer close(done)
			if err := replayer.Run(replayCtx); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("Replay failed", slog.Any("error", err))
			}
		}()
		// The server keeps serving after the file is exhausted so the
		// resulting fills and bars can be inspected.
		return func() { cancel(); <-done }, nil

	case infra.FeedSourceSim:
		sim := feed.NewSimulator(cfg.KIS.Instruments, 0, b.norm, b.eventBus)
		if err := sim.Start(ctx); err != nil {
			return nil, err
		}
		return sim.Stop, nil

	default:
		// Validate has already rejected anything else.
		return nil, fmt.Errorf("unknown feed source %q", cfg.Feed.Source)
	}
}

// shutdown drains the pipeline. Order matters: the feed must stop
// publishing before the bus closes, and every consumer must finish its
// queue before storage goes away. Also runs on a failed startup, when
// the HTTP server may not exist yet.
func (b *Bootstrap) shutdown(stopFeed func()) {
	stopFeed()
	if b.capture != nil {
		if err := b.capture.Close(); err != nil {
			slog.Warn("Failed to close recording", slog.Any("error", err))
		}
	}
	b.eventBus.Close()
	b.engine.Wait()
	b.Recorder.Wait()
	b.hub.Wait()

	if b.httpd != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := b.httpd.Shutdown(shutdownCtx); err != nil {
			slog.Warn("HTTP shutdown incomplete", slog.Any("error", err))
		}
	}

	if err := b.Store.Close(); err != nil {
		slog.Warn("Failed to close store", slog.Any("error", err))
	}
	if b.unlock != nil {
		b.unlock()
	}
	slog.Info("🛑 Shutdown complete")
}

// pipelineStats snapshots every stage's counters for /healthz.
func (b *Bootstrap) pipelineStats() map[string]any {
	feedStats := b.norm.Stats()
	engineStats := b.engine.Stats()

	var busDropped uint64
	for _, sub := range b.subs {
		busDropped += sub.Dropped()
	}

	return map[string]any{
		"ticks_parsed":    feedStats.Parsed,
		"ticks_malformed": feedStats.DroppedMalformed,
		"ticks_unknown":   feedStats.DroppedUnknown,
		"ticks_stale":     feedStats.DroppedStale,
		"bus_dropped":     busDropped,
		"fills":           engineStats.Fills,
		"lost_races":      engineStats.LostRaces,
		"inconsistencies": engineStats.Inconsistencies,
		"pending_orders":  b.Book.Len(),
	}
}

// bookRefreshLoop re-indexes the PENDING rows so orders inserted by
// another process start filling. A stale entry this creates (an order
// the engine just settled) is harmless: the guarded status flip refuses
// the double fill and the engine evicts it again.
func (b *Bootstrap) bookRefreshLoop(ctx context.Context) {
	ticker := time.NewTicker(bookRefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pending, err := b.Store.AllPendingOrders(ctx)
			if err != nil {
				slog.Warn("Failed to refresh order book", slog.Any("error", err))
				continue
			}
			b.Book.Rebuild(pending)
		}
	}
}

func (b *Bootstrap) statsLoop(ctx context.Context) {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			feedStats := b.norm.Stats()
			engineStats := b.engine.Stats()
			hubStats := b.hub.Stats()
			var busDropped uint64
			for _, sub := range b.subs {
				busDropped += sub.Dropped()
			}
			slog.Info("Pipeline stats",
				slog.Uint64("parsed", feedStats.Parsed),
				slog.Uint64("malformed", feedStats.DroppedMalformed),
				slog.Uint64("stale", feedStats.DroppedStale),
				slog.Uint64("bus_dropped", busDropped),
				slog.Uint64("fills", engineStats.Fills),
				slog.Uint64("lost_races", engineStats.LostRaces),
				slog.Uint64("inconsistencies", engineStats.Inconsistencies),
				slog.Int("pending_orders", b.Book.Len()),
				slog.Int("subscribers", hubStats.Subscribers),
				slog.Uint64("relayed", hubStats.Relayed))
		}
	}
}
