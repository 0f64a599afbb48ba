package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/deepmark/deepmark/internal/api"
	"github.com/deepmark/deepmark/internal/cache"
	"github.com/deepmark/deepmark/internal/config"
	"github.com/deepmark/deepmark/internal/fingerprint"
	"github.com/deepmark/deepmark/internal/ingest"
	"github.com/deepmark/deepmark/internal/metastamp"
	"github.com/deepmark/deepmark/internal/metrics"
	"github.com/deepmark/deepmark/internal/plugin"
	"github.com/deepmark/deepmark/internal/resilience"
	"github.com/deepmark/deepmark/internal/security"
	"github.com/deepmark/deepmark/internal/store"
	"github.com/deepmark/deepmark/internal/tracing"
	"github.com/deepmark/deepmark/internal/vault"
	"github.com/deepmark/deepmark/internal/version"
	"github.com/deepmark/deepmark/internal/watermark"
)

// provenanceCacheSize bounds the in-memory content-hash lookup tier
// fronting the store (§4.5).
const provenanceCacheSize = 4096

// Run is the main daemon orchestrator. It initialises every subsystem —
// vault, store, codecs, the ingest decider, the thin HTTP surface — and
// blocks until a shutdown signal is received.
func Run(cfg *config.Config, foreground bool) error {
	dataDir := expandHome(cfg.Server.DataDir)
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("creating data directory %s: %w", dataDir, err)
	}

	logLevel := parseLogLevel(cfg.Server.LogLevel)
	zerolog.SetGlobalLevel(logLevel)

	var writers []io.Writer

	logPath := filepath.Join(dataDir, "deepmarkd.log")
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening log file %s: %w", logPath, err)
	}
	defer logFile.Close()
	writers = append(writers, logFile)

	if foreground {
		writers = append(writers, zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: "15:04:05",
		})
	}

	multi := zerolog.MultiLevelWriter(writers...)
	log.Logger = zerolog.New(multi).With().Timestamp().Str("service", "deepmarkd").Logger()

	log.Info().
		Str("version", version.Version).
		Str("data_dir", dataDir).
		Bool("foreground", foreground).
		Msg("deepmarkd starting")

	if IsRunning(dataDir) {
		return fmt.Errorf("deepmarkd is already running (PID file exists at %s)", filepath.Join(dataDir, pidFilename))
	}

	kv, err := vault.NewKeyVault(cfg.Vault.MasterKeyRef)
	if err != nil {
		return fmt.Errorf("initializing key vault: %w", err)
	}
	log.Info().Msg("key vault initialized")

	storePath := expandHome(cfg.Store.Path)
	if err := os.MkdirAll(filepath.Dir(storePath), 0o755); err != nil {
		return fmt.Errorf("creating store directory: %w", err)
	}
	st, err := store.Open(storePath)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()
	log.Info().Str("db_path", storePath).Msg("store opened")

	collector := metrics.NewCollector()

	if err := WritePID(dataDir); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer func() {
		if err := RemovePID(dataDir); err != nil {
			log.Error().Err(err).Msg("failed to remove PID file")
		}
	}()
	log.Info().Int("pid", os.Getpid()).Msg("PID file written")

	// On a config change only the log level is reapplied: the watcher never
	// hot-reloads the vault or store, since rotating the master key or
	// database path mid-run would invalidate already-issued Ciphers and open
	// handles.
	configFile := config.ConfigFilePath()
	if configFile == "" {
		configFile = filepath.Join(dataDir, config.DefaultConfigFilename)
	}
	var watcher *config.Watcher
	if _, statErr := os.Stat(configFile); statErr == nil {
		w, watchErr := config.Watch(configFile)
		if watchErr != nil {
			log.Warn().Err(watchErr).Msg("failed to start config watcher; continuing without it")
		} else {
			watcher = w
			defer watcher.Close()
			watcher.OnChange(func(old, newCfg *config.Config) {
				log.Info().Msg("configuration reloaded")
				zerolog.SetGlobalLevel(parseLogLevel(newCfg.Server.LogLevel))
			})
			log.Info().Str("file", configFile).Msg("config watcher started")
		}
	}

	pruneCtx, pruneCancel := context.WithCancel(context.Background())
	defer pruneCancel()
	prunerDone := make(chan struct{})
	go func() {
		defer close(prunerDone)
		runPruner(pruneCtx, st, cfg.Store.RetentionDays)
	}()

	// ---------------------------------------------------------------
	// Wire up the ingest pipeline's collaborators.
	// ---------------------------------------------------------------

	users := store.NewUserAdapter(st)
	posts := store.NewPostAdapter(st)
	provenance := store.NewProvenanceAdapter(st)
	activities := store.NewActivityAdapter(st)

	blobDir := filepath.Join(dataDir, "blobs")
	blobs, err := NewLocalBlobStore(blobDir)
	if err != nil {
		return fmt.Errorf("initializing blob store: %w", err)
	}

	// *store.Store directly satisfies security.WarningStore; no adapter
	// needed.
	sec := security.NewGate(st)

	fp := fingerprint.NewFingerprinter(cfg.FFmpeg.FFmpegBin, cfg.FFmpeg.FFprobeBin, cfg.Fingerprint.FrameStride)
	emb := watermark.NewEmbedder(cfg.FFmpeg.FFmpegBin, cfg.FFmpeg.FFprobeBin)
	emb.Stride = cfg.Watermark.FrameStride
	emb.Alpha = cfg.Watermark.Alpha
	stamper := metastamp.NewVideoStamper(cfg.FFmpeg.FFmpegBin, cfg.FFmpeg.FFprobeBin)

	// ffmpeg/ffprobe subprocesses fail transiently under load; retry them
	// per the configured resilience policy rather than failing the whole
	// ingest on one bad exec.
	retryPolicy := resilience.NewPolicy(
		cfg.Resilience.RetryMaxAttempts,
		cfg.Resilience.RetryBaseDelay(),
		cfg.Resilience.RetryMaxDelay(),
	)
	retryingFP := resilience.NewRetryingFingerprinter(fp, retryPolicy)
	retryingEmb := resilience.NewRetryingEmbedder(emb, retryPolicy)
	retryingStamper := resilience.NewRetryingVideoStamper(stamper, retryPolicy)

	provenanceCache, err := cache.NewProvenanceLookup[ingest.ProvenanceRecord](provenance, provenanceCacheSize)
	if err != nil {
		return fmt.Errorf("creating provenance cache: %w", err)
	}

	decider := ingest.NewDecider(kv, users, posts, provenance, activities, blobs, sec, retryingStamper, retryingFP, retryingEmb, provenanceCache)

	registry := plugin.NewRegistry()
	if cfg.Plugins.Enabled {
		// Dynamic loading of third-party verification plugins (Go's
		// plugin package, or an RPC-based loader) is not wired up here;
		// cfg.Plugins.Dir/Configs are reserved for that, but no loader
		// ships in this tree. Host processes embedding this package
		// register plugins directly via registry.Register.
		log.Info().Str("dir", cfg.Plugins.Dir).Msg("plugin registry enabled; no plugins auto-loaded")
	}

	// ---------------------------------------------------------------
	// Tracing.
	// ---------------------------------------------------------------
	var tracingShutdown func(context.Context) error
	if cfg.Tracing.Enabled {
		shutdown, err := tracing.Init(context.Background(), cfg.Tracing.ServiceName, version.Version, cfg.Tracing.Exporter, cfg.Tracing.Endpoint, cfg.Tracing.SampleRate, cfg.Tracing.Insecure)
		if err != nil {
			return fmt.Errorf("initializing tracing: %w", err)
		}
		tracingShutdown = shutdown
		log.Info().Str("exporter", cfg.Tracing.Exporter).Msg("tracing initialized")
	}

	// ---------------------------------------------------------------
	// HTTP server.
	// ---------------------------------------------------------------
	scratchDir := filepath.Join(dataDir, "scratch")
	handler := &api.Handler{
		Decider:    decider,
		Users:      users,
		Collector:  collector,
		ScratchDir: scratchDir,
		Store:      st,
		Plugins:    registry,
	}

	readTimeout := time.Duration(cfg.Server.ReadTimeout) * time.Second
	writeTimeout := time.Duration(cfg.Server.WriteTimeout) * time.Second
	idleTimeout := time.Duration(cfg.Server.IdleTimeout) * time.Second

	srv := api.NewServer(handler, collector, cfg.Server.BindAddress, readTimeout, writeTimeout, idleTimeout, cfg.Tracing.Enabled)

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Server.BindAddress).Msg("api server starting")
		if err := srv.Start(); err != nil {
			errCh <- fmt.Errorf("api server: %w", err)
		}
	}()

	log.Info().Str("addr", cfg.Server.BindAddress).Msg("deepmarkd is ready")
	if foreground {
		fmt.Printf("\n  deepmarkd is running!\n")
		fmt.Printf("  API: http://%s\n\n", cfg.Server.BindAddress)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("shutdown signal received")
	case err := <-errCh:
		log.Error().Err(err).Msg("fatal server error")
		return err
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	log.Info().Msg("shutting down...")

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("api server shutdown error")
	}

	registry.CloseAll()

	if tracingShutdown != nil {
		if err := tracingShutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("tracing shutdown error")
		}
	}

	pruneCancel()
	<-prunerDone
	st.Close()
	if err := RemovePID(dataDir); err != nil {
		log.Error().Err(err).Msg("failed to remove PID file during shutdown")
	}

	log.Info().Msg("deepmarkd stopped")
	return nil
}

// Stop reads the PID file and sends SIGTERM to the running daemon.
func Stop() error {
	dataDir := expandHome(config.Get().Server.DataDir)

	pid, err := ReadPID(dataDir)
	if err != nil {
		return fmt.Errorf("deepmarkd does not appear to be running: %w", err)
	}

	if !isProcessAlive(pid) {
		if rmErr := RemovePID(dataDir); rmErr != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to remove stale PID file: %v\n", rmErr)
		}
		return fmt.Errorf("deepmarkd is not running (stale PID file removed)")
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("finding process %d: %w", pid, err)
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("sending SIGTERM to process %d: %w", pid, err)
	}

	fmt.Printf("Sent SIGTERM to deepmarkd (PID %d)\n", pid)

	for i := 0; i < 30; i++ {
		time.Sleep(100 * time.Millisecond)
		if !isProcessAlive(pid) {
			return nil
		}
	}

	return nil
}

// Status checks if the daemon is running and prints a summary, fetched
// from the daemon's own /api/status endpoint.
func Status() error {
	cfg := config.Get()
	dataDir := expandHome(cfg.Server.DataDir)

	if !IsRunning(dataDir) {
		fmt.Println("deepmarkd is not running")
		return nil
	}

	pid, _ := ReadPID(dataDir)
	fmt.Printf("deepmarkd is running (PID %d)\n", pid)

	statusURL := fmt.Sprintf("http://%s/api/status", cfg.Server.BindAddress)
	client := &http.Client{Timeout: 3 * time.Second}

	resp, err := client.Get(statusURL)
	if err != nil {
		fmt.Println("  (api unreachable)")
		return nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil
	}

	var stats metrics.Stats
	if err := json.Unmarshal(body, &stats); err != nil {
		return nil
	}

	fmt.Printf("\n  Uptime:            %s\n", stats.Uptime)
	fmt.Printf("  Total Ingests:     %d\n", stats.TotalIngests)
	fmt.Printf("  Accepted:          %d\n", stats.AcceptedIngests)
	fmt.Printf("  Rejected:          %d\n", stats.RejectedIngests)
	fmt.Printf("  Lockouts:          %d\n", stats.Lockouts)
	fmt.Printf("  Active:            %d\n", stats.ActiveIngests)

	return nil
}

// runPruner periodically prunes old data from the store.
func runPruner(ctx context.Context, st *store.Store, retentionDays int) {
	if retentionDays <= 0 {
		return
	}

	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			func() {
				defer func() {
					if r := recover(); r != nil {
						log.Error().Interface("panic", r).Msg("data pruner: recovered from panic")
					}
				}()
				n, err := st.Prune(retentionDays)
				if err != nil {
					log.Error().Err(err).Msg("data pruning failed")
				} else if n > 0 {
					log.Info().Int64("rows", n).Int("retention_days", retentionDays).Msg("pruned old data")
				}
			}()
		}
	}
}

// parseLogLevel converts a string log level to a zerolog.Level.
func parseLogLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

// expandHome replaces a leading ~ with the user's home directory.
func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
