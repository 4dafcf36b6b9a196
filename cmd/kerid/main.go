// Copyright 2025 Certen Protocol
//
// kerid wires the storage, escrow, processor, and reply layers into a single
// runnable node: load configuration, load or generate this node's Ed25519
// identity key, open the CometBFT KV backend, construct the processor and
// reply handler, and serve /health and /metrics over HTTP until a shutdown
// signal arrives. Grounded on the teacher's root main.go component-wiring
// and signal-handling shape (pkg/consensus/bft_integration.go for the
// dbm.NewDB backend-selection call).
package main

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	dbm "github.com/cometbft/cometbft-db"
	cmtlog "github.com/cometbft/cometbft/libs/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/certen/keri-core/pkg/keri/config"
	"github.com/certen/keri-core/pkg/keri/escrow"
	"github.com/certen/keri-core/pkg/keri/notify"
	"github.com/certen/keri-core/pkg/keri/processor"
	"github.com/certen/keri-core/pkg/keri/reply"
	"github.com/certen/keri-core/pkg/keri/said"
	"github.com/certen/keri-core/pkg/keri/storage"
)

func main() {
	var configPath = flag.String("config", "", "path to YAML config file (overrides env-derived config)")
	flag.Parse()

	logger := cmtlog.NewTMLogger(cmtlog.NewSyncWriter(os.Stdout))

	cfg, err := loadConfig(*configPath)
	if err != nil {
		logger.Error("load configuration", "err", err)
		os.Exit(1)
	}
	logger.Info("configuration loaded", "environment", cfg.Environment, "storage_backend", cfg.Storage.Backend)

	logger = filteredLogger(logger, cfg.Logging.Level)

	if _, err := loadOrGenerateEd25519Key(cfg.Identity.Ed25519KeyPath, cfg.Storage.DataDir); err != nil {
		logger.Error("load identity key", "err", err)
		os.Exit(1)
	}

	hashCode := said.Code(cfg.Identity.HashCode)
	if hashCode == "" {
		hashCode = said.CodeSHA256
	}

	if err := os.MkdirAll(cfg.Storage.DataDir, 0o700); err != nil {
		logger.Error("create data directory", "dir", cfg.Storage.DataDir, "err", err)
		os.Exit(1)
	}
	db, err := dbm.NewDB("keri", dbm.BackendType(cfg.Storage.Backend), cfg.Storage.DataDir)
	if err != nil {
		logger.Error("open storage backend", "backend", cfg.Storage.Backend, "dir", cfg.Storage.DataDir, "err", err)
		os.Exit(1)
	}
	defer db.Close()

	store := storage.New(storage.NewKVAdapter(db))

	reg := prometheus.NewRegistry()
	metrics := processor.NewMetrics(reg)

	windows := escrow.Windows{
		OutOfOrder:         escrow.Window(cfg.Escrow.OutOfOrder.Duration()),
		PartiallySigned:    escrow.Window(cfg.Escrow.PartiallySigned.Duration()),
		PartiallyWitnessed: escrow.Window(cfg.Escrow.PartiallyWitnessed.Duration()),
		Delegation:         escrow.Window(cfg.Escrow.Delegation.Duration()),
		TransReceipts:      escrow.Window(cfg.Escrow.TransReceipts.Duration()),
	}

	bus := notify.New()
	proc := processor.New(bus, processor.Config{
		Log:         store,
		Receipts:    store,
		Duplicitous: store,
		HashCode:    hashCode,
		Windows:     windows,
		Logger:      logger.With("component", "processor"),
		Metrics:     metrics,
	})

	replyHandler := reply.New(bus, proc, store, cfg.Reply.StaleWindow.Duration())
	proc.SetReplyHandler(replyHandler)

	logBusActivity(bus, logger.With("component", "notify"))

	mux := http.NewServeMux()
	mux.Handle(cfg.Metrics.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})

	httpServer := &http.Server{
		Addr:    cfg.Transport.ListenAddr,
		Handler: mux,
	}

	go func() {
		logger.Info("http server listening", "addr", cfg.Transport.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", "err", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown", "err", err)
	}

	logger.Info("final escrow depth", "depth", proc.Escrows().Depth()) // snapshot for an operator pulling logs before exit
	logger.Info("stopped")
}

// loadConfig prefers an explicit -config file, then falls back to
// environment variables (cfg.LoadFromEnv), matching the teacher's
// CLI-flag-overrides-env precedence.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadConfig(path)
	}
	return config.LoadFromEnv(), nil
}

// filteredLogger applies a minimum log level, mirroring the teacher's use of
// a level-filtered cmtlog.Logger in front of its TMLogger sink.
func filteredLogger(base cmtlog.Logger, level string) cmtlog.Logger {
	var opt cmtlog.Option
	switch strings.ToLower(level) {
	case "debug":
		opt = cmtlog.AllowDebug()
	case "", "info":
		opt = cmtlog.AllowInfo()
	case "warn", "warning":
		opt = cmtlog.AllowWarn()
	case "error":
		opt = cmtlog.AllowError()
	default:
		opt = cmtlog.AllowInfo()
	}
	return cmtlog.NewFilter(base, opt)
}

// loadOrGenerateEd25519Key loads this node's controller signing key from
// keyPath, generating and persisting a new one if it does not yet exist.
// Adapted from the teacher's loadOrGenerateEd25519Key (root main.go): same
// directory creation, hex encoding, and file-permission discipline.
func loadOrGenerateEd25519Key(keyPath, dataDir string) (ed25519.PrivateKey, error) {
	if keyPath == "" {
		if dataDir == "" {
			dataDir = "./data"
		}
		keyPath = filepath.Join(dataDir, "ed25519_key.hex")
	}

	keyDir := filepath.Dir(keyPath)
	if err := os.MkdirAll(keyDir, 0o700); err != nil {
		return nil, fmt.Errorf("create key directory %s: %w", keyDir, err)
	}

	if _, err := os.Stat(keyPath); os.IsNotExist(err) {
		_, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("generate ed25519 key: %w", err)
		}
		if err := os.WriteFile(keyPath, []byte(hex.EncodeToString(priv)), 0o600); err != nil {
			return nil, fmt.Errorf("save ed25519 key to %s: %w", keyPath, err)
		}
		return priv, nil
	}

	data, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("read ed25519 key from %s: %w", keyPath, err)
	}
	keyBytes, err := hex.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("decode ed25519 key from %s: %w", keyPath, err)
	}
	if len(keyBytes) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("invalid ed25519 key size: expected %d, got %d", ed25519.PrivateKeySize, len(keyBytes))
	}
	return ed25519.PrivateKey(keyBytes), nil
}

// logBusActivity subscribes a logging-only handler to every notification tag,
// logging each notification's tag, prefix, sn, CorrelationID and error at
// Debug level.
func logBusActivity(bus *notify.Bus, logger cmtlog.Logger) {
	tags := []notify.Tag{
		notify.KeyEventAdded,
		notify.OutOfOrder,
		notify.PartiallySigned,
		notify.PartiallyWitnessed,
		notify.MissingDelegatingEvent,
		notify.DuplicitousEvent,
		notify.ReceiptAccepted,
		notify.ReceiptOutOfOrder,
		notify.TransReceiptOutOfOrder,
	}
	for _, tag := range tags {
		bus.Subscribe(tag, func(e notify.Event) {
			if e.Err != nil {
				logger.Debug("notification", "tag", e.Tag, "prefix", e.Prefix, "sn", e.SN, "correlation_id", e.CorrelationID, "err", e.Err)
				return
			}
			logger.Debug("notification", "tag", e.Tag, "prefix", e.Prefix, "sn", e.SN, "correlation_id", e.CorrelationID)
		})
	}
}
