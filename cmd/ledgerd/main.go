// Command ledgerd runs the contract host: it owns the state store, executes
// the ledger contract and orders submissions, and serves them over gRPC.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jmerrifield20/herbledger/internal/contract"
	"github.com/jmerrifield20/herbledger/internal/host"
	"github.com/jmerrifield20/herbledger/internal/identity"
	"github.com/jmerrifield20/herbledger/internal/state"
	"github.com/jmerrifield20/herbledger/internal/txlog"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync() //nolint:errcheck

	if err := run(logger); err != nil {
		logger.Fatal("ledgerd exited with error", zap.Error(err))
	}
}

func run(logger *zap.Logger) error {
	// ── Configuration ─────────────────────────────────────────────────────────
	viper.SetConfigName("ledgerd")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("configs")
	viper.AddConfigPath(".")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("ledger.grpc_port", 7051)
	viper.SetDefault("ledger.http_port", 7080) // /healthz and /metrics
	viper.SetDefault("ledger.provenance_mode", string(contract.ProvenanceOrgScoped))
	viper.SetDefault("ledger.key_dir", "certs")
	viper.SetDefault("ledger.issuer", "herbledger")
	viper.SetDefault("ledger.submit_queue", 256)
	viper.SetDefault("state.driver", state.DriverMemory)
	viper.SetDefault("state.path", "")
	viper.SetDefault("database.url", "")

	if err := viper.ReadInConfig(); err != nil {
		var cfgNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgNotFound) {
			return fmt.Errorf("read config: %w", err)
		}
		logger.Warn("no config file found, using defaults and env vars")
	}

	grpcPort := viper.GetInt("ledger.grpc_port")
	httpPort := viper.GetInt("ledger.http_port")

	mode, err := contract.ParseProvenanceMode(viper.GetString("ledger.provenance_mode"))
	if err != nil {
		return err
	}

	// ── Org credential verification ───────────────────────────────────────────
	keyDir := viper.GetString("ledger.key_dir")
	keys := identity.NewKeyManager(keyDir)
	if err := keys.LoadOrCreate(); err != nil {
		return fmt.Errorf("signing key setup failed: %w", err)
	}
	verifier := identity.NewVerifier(keys.PublicKey(), viper.GetString("ledger.issuer"))
	logger.Info("signing key ready", zap.String("key_dir", keyDir))

	// ── State store ───────────────────────────────────────────────────────────
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stateCfg := state.Config{
		Driver:      viper.GetString("state.driver"),
		Path:        viper.GetString("state.path"),
		DatabaseURL: viper.GetString("database.url"),
	}
	store, err := state.Open(ctx, stateCfg, logger)
	if err != nil {
		return fmt.Errorf("open state store: %w", err)
	}
	defer store.Close() //nolint:errcheck
	if stateCfg.Driver == state.DriverMemory || stateCfg.Driver == "" {
		logger.Warn("state driver is memory; the ledger will not survive a restart")
	}

	// ── Commit log ────────────────────────────────────────────────────────────
	var commitLog txlog.Log
	if stateCfg.Driver == state.DriverPostgres {
		db, err := pgxpool.New(ctx, stateCfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("connect commit log to postgres: %w", err)
		}
		defer db.Close()
		commitLog = txlog.NewPostgresLog(db, logger)
	} else {
		commitLog = txlog.NewMemoryLog()
		logger.Info("commit log: memory (durable only with state.driver=postgres)")
	}

	if err := commitLog.Verify(ctx); err != nil {
		logger.Warn("commit log integrity check FAILED", zap.Error(err))
	} else {
		n, _ := commitLog.Len(ctx)
		tip, _ := commitLog.Tip(ctx)
		logger.Info("commit log verified",
			zap.Int("entries", n),
			zap.String("tip", tip),
		)
	}

	// ── Contract host ─────────────────────────────────────────────────────────
	c := contract.New(identity.ContextResolver{}, logger, contract.WithProvenanceMode(mode))
	h := host.New(c, store, logger,
		host.WithQueueSize(viper.GetInt("ledger.submit_queue")),
		host.WithCommitLog(commitLog),
	)
	defer h.Close() //nolint:errcheck

	// ── gRPC server ───────────────────────────────────────────────────────────
	grpcLis, err := net.Listen("tcp", fmt.Sprintf(":%d", grpcPort))
	if err != nil {
		return fmt.Errorf("gRPC listen on :%d: %w", grpcPort, err)
	}
	grpcServer, healthSvc := host.NewGRPCServer(h, verifier, logger)

	// ── Ops HTTP ──────────────────────────────────────────────────────────────
	httpMux := http.NewServeMux()
	httpMux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"status":"ok","service":"ledgerd"}`)
	})
	httpMux.Handle("/metrics", promhttp.Handler())

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", httpPort),
		Handler:           httpMux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ── Start both servers ─────────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("ledgerd gRPC listening",
			zap.Int("port", grpcPort),
			zap.String("state_driver", stateCfg.Driver),
			zap.String("provenance_mode", string(mode)),
		)
		if err := grpcServer.Serve(grpcLis); err != nil {
			logger.Fatal("gRPC serve error", zap.Error(err))
		}
	}()

	go func() {
		logger.Info("ledgerd ops HTTP listening", zap.Int("port", httpPort))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP serve error", zap.Error(err))
		}
	}()

	// ── Graceful shutdown ──────────────────────────────────────────────────────
	<-quit
	logger.Info("shutting down ledgerd...")
	healthSvc.Shutdown()

	// In-flight submissions drain through GracefulStop; the host is closed
	// afterwards by the deferred Close.
	stopped := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(stopped)
	}()

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutCancel()
	select {
	case <-stopped:
	case <-shutCtx.Done():
		logger.Warn("gRPC graceful stop timed out, forcing")
		grpcServer.Stop()
	}
	if err := httpSrv.Shutdown(shutCtx); err != nil {
		logger.Error("ops HTTP shutdown", zap.Error(err))
	}

	logger.Info("ledgerd stopped")
	return nil
}
