// Command gateway serves the herbledger HTTP API. It validates requests,
// forwards them to the contract host under the configured org identity, and
// renders results for web and mobile clients.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jmerrifield20/herbledger/internal/gateway"
	"github.com/jmerrifield20/herbledger/internal/gateway/handler"
	"github.com/jmerrifield20/herbledger/internal/labels"
	"github.com/jmerrifield20/herbledger/internal/state"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync() //nolint:errcheck

	if err := run(logger); err != nil {
		logger.Fatal("gateway exited with error", zap.Error(err))
	}
}

func run(logger *zap.Logger) error {
	// ── Configuration ────────────────────────────────────────────────────────
	viper.SetConfigName("gateway")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("configs")
	viper.AddConfigPath(".")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("gateway.port", 5000)
	viper.SetDefault("gateway.mode", gateway.ModeRemote)
	viper.SetDefault("gateway.ledger_addr", "localhost:7051")
	viper.SetDefault("gateway.credential", "")
	viper.SetDefault("gateway.credential_file", "")
	viper.SetDefault("gateway.org", "")
	viper.SetDefault("gateway.connect_timeout", "10s")
	viper.SetDefault("gateway.cors_origins", []string{})
	viper.SetDefault("gateway.rate_limit_rps", 20)
	viper.SetDefault("gateway.body_limit_bytes", 2<<20)
	viper.SetDefault("gateway.trust_forwarded_proto", false)
	viper.SetDefault("gateway.provenance_mode", "")
	viper.SetDefault("state.driver", state.DriverMemory)
	viper.SetDefault("state.path", "")
	viper.SetDefault("database.url", "")
	viper.SetDefault("labels.driver", labels.DriverNone)
	viper.SetDefault("labels.s3.bucket", "")
	viper.SetDefault("labels.s3.region", "us-east-1")
	viper.SetDefault("labels.s3.prefix", "labels")
	viper.SetDefault("labels.s3.endpoint", "")
	viper.SetDefault("labels.s3.path_style", false)
	viper.SetDefault("labels.s3.access_key_id", "")
	viper.SetDefault("labels.s3.secret_access_key", "")

	if err := viper.ReadInConfig(); err != nil {
		var cfgNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgNotFound) {
			return fmt.Errorf("read config: %w", err)
		}
		logger.Warn("no config file found, using defaults and env vars")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Label store ───────────────────────────────────────────────────────────
	labelStore, err := labels.Open(ctx, labels.Config{
		Driver: viper.GetString("labels.driver"),
		S3: labels.S3Config{
			Bucket:          viper.GetString("labels.s3.bucket"),
			Region:          viper.GetString("labels.s3.region"),
			Prefix:          viper.GetString("labels.s3.prefix"),
			Endpoint:        viper.GetString("labels.s3.endpoint"),
			PathStyle:       viper.GetBool("labels.s3.path_style"),
			AccessKeyID:     viper.GetString("labels.s3.access_key_id"),
			SecretAccessKey: viper.GetString("labels.s3.secret_access_key"),
		},
	})
	if err != nil {
		return fmt.Errorf("open label store: %w", err)
	}
	if labelStore == nil {
		logger.Info("label store: none (set labels.driver to persist QR labels)")
	}

	// ── Gateway connection ────────────────────────────────────────────────────
	cfg := gateway.Config{
		Mode:           viper.GetString("gateway.mode"),
		LedgerAddr:     viper.GetString("gateway.ledger_addr"),
		Credential:     viper.GetString("gateway.credential"),
		CredentialFile: viper.GetString("gateway.credential_file"),
		ConnectTimeout: viper.GetDuration("gateway.connect_timeout"),
		Org:            viper.GetString("gateway.org"),
		ProvenanceMode: viper.GetString("gateway.provenance_mode"),
		State: state.Config{
			Driver:      viper.GetString("state.driver"),
			Path:        viper.GetString("state.path"),
			DatabaseURL: viper.GetString("database.url"),
		},
	}
	var opts []gateway.Option
	if labelStore != nil {
		opts = append(opts, gateway.WithLabelStore(labelStore))
	}
	gw, err := gateway.Open(ctx, cfg, logger, opts...)
	if err != nil {
		return err
	}
	defer gw.Close() //nolint:errcheck

	// ── HTTP router ───────────────────────────────────────────────────────────
	ledgerHandler := handler.NewLedgerHandler(gw, logger)
	ledgerHandler.SetTrustForwardedProto(viper.GetBool("gateway.trust_forwarded_proto"))

	router := handler.NewRouter(ctx, handler.RouterConfig{
		CORSOrigins:    viper.GetStringSlice("gateway.cors_origins"),
		RateLimitRPS:   viper.GetInt("gateway.rate_limit_rps"),
		BodyLimitBytes: viper.GetInt64("gateway.body_limit_bytes"),
	}, ledgerHandler, logger)

	port := viper.GetInt("gateway.port")
	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("gateway HTTP listening",
			zap.Int("port", port),
			zap.String("mode", cfg.Mode),
		)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP listen error", zap.Error(err))
		}
	}()

	// ── Graceful shutdown ──────────────────────────────────────────────────────
	<-quit
	logger.Info("shutting down gateway...")

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutCancel()
	if err := httpSrv.Shutdown(shutCtx); err != nil {
		logger.Error("HTTP shutdown error", zap.Error(err))
	}

	logger.Info("gateway stopped")
	return nil
}
