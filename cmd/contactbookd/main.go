package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/webbook/contactbook/internal/crypto"
	"github.com/webbook/contactbook/internal/orchestrator"
	"github.com/webbook/contactbook/internal/platform/privacylog"
	"github.com/webbook/contactbook/internal/platform/ratelimiter"
	"github.com/webbook/contactbook/internal/storage"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

// storageKeySalt is a fixed domain-separation salt for deriving the storage
// key that encrypts the sensitive SQLite columns from an operator-supplied
// passphrase; it is not a secret, the passphrase is.
var storageKeySalt = []byte("contactbookd-storage-key-v1")

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to an optional config.yaml overlay")
	flag.Parse()
	if *showVersion {
		fmt.Printf("contactbookd version=%s commit=%s build_date=%s\n", version, commit, buildDate)
		return
	}

	cfg, err := applyYAMLFile(loadConfigFromEnv(), *configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "contactbookd: reading %s: %v\n", *configPath, err)
		os.Exit(1)
	}
	logger := newLogger(cfg.logLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("contactbookd failed", "error", err)
		os.Exit(1)
	}
}

// newLogger builds the process-wide structured logger. Every record passes
// through privacylog.SanitizingHandler first: contact_id/identity_id/
// device_id values are replaced with a boot-nonce-salted fingerprint before
// they ever reach stderr, so a log dump doesn't double as a contact-graph
// leak.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	base := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	return slog.New(privacylog.WrapHandler(base))
}

func run(ctx context.Context, cfg daemonConfig, logger *slog.Logger) error {
	if cfg.storagePassphrase == "" {
		return errors.New("CONTACTBOOK_STORAGE_PASSPHRASE must be set")
	}

	storeKey, err := crypto.KeyFromBytes(crypto.PBKDF2SHA256(storageKeySalt, []byte(cfg.storagePassphrase)))
	if err != nil {
		return fmt.Errorf("deriving storage key: %w", err)
	}
	store, err := storage.Open(cfg.storagePath, storeKey)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer store.Close()

	opts := orchestrator.Options{
		Logger: logger,
		LinkRequestLimiter: ratelimiter.New(
			float64(cfg.linkRequestRPS), cfg.linkRequestBurst, 10*time.Minute,
		),
	}

	o, err := openOrBootstrap(store, cfg, opts, logger)
	if err != nil {
		return fmt.Errorf("initializing identity: %w", err)
	}
	logger.Info("identity ready", "public_id", o.PublicID())

	o.OnEvent(func(ev orchestrator.Event) {
		logger.Info("event", "kind", ev.Kind)
	})

	var metricsServer *http.Server
	if cfg.metricsEnabled {
		metricsServer = startMetricsServer(cfg.metricsBindAddress, logger)
	}

	logger.Info("contactbookd started", "storage_path", cfg.storagePath, "metrics_addr", cfg.metricsBindAddress)
	<-ctx.Done()
	logger.Info("contactbookd stopping")

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics server shutdown error", "error", err)
		}
	}
	return nil
}

// openOrBootstrap resumes a previously bootstrapped identity from storage,
// else restores one from the configured backup file if that file exists,
// else creates a fresh one. A fresh identity's backup is persisted to
// storage (and to the backup file, if one is configured) only when an
// identity password is set; without one, no backup is written.
func openOrBootstrap(store *storage.Store, cfg daemonConfig, opts orchestrator.Options, logger *slog.Logger) (*orchestrator.Orchestrator, error) {
	if orchestrator.HasIdentity(store) {
		o, err := orchestrator.Open(store, cfg.identityPassword, opts)
		if err != nil {
			return nil, err
		}
		logger.Info("resumed existing identity")
		return o, nil
	}

	if cfg.backupFilePath != "" {
		if _, err := os.Stat(cfg.backupFilePath); err == nil {
			o, err := restoreFromBackupFile(store, cfg.backupFilePath, cfg.identityPassword, opts, logger)
			if err != nil {
				return nil, fmt.Errorf("restoring backup file %s: %w", cfg.backupFilePath, err)
			}
			logger.Info("restored identity from backup file", "path", cfg.backupFilePath)
			return o, nil
		}
	}

	o, err := orchestrator.Bootstrap(store, cfg.displayName, opts)
	if err != nil {
		return nil, err
	}
	if cfg.identityPassword != "" {
		blob, err := o.ExportBackup(cfg.identityPassword)
		if err != nil {
			return nil, fmt.Errorf("exporting initial identity backup: %w", err)
		}
		if cfg.backupFilePath != "" {
			if err := writeBackupFile(cfg.backupFilePath, cfg.identityPassword, blob); err != nil {
				return nil, fmt.Errorf("writing backup file %s: %w", cfg.backupFilePath, err)
			}
		}
	}
	logger.Info("bootstrapped new identity")
	return o, nil
}

func startMetricsServer(addr string, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
		}
	}()
	return srv
}
