package gateway

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jmerrifield20/herbledger/internal/contract"
	"github.com/jmerrifield20/herbledger/internal/host"
	"github.com/jmerrifield20/herbledger/internal/identity"
	"github.com/jmerrifield20/herbledger/internal/state"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Connection modes accepted by Open.
const (
	ModeRemote   = "remote"
	ModeEmbedded = "embedded"
)

// Config describes how the gateway reaches the contract host.
type Config struct {
	Mode string // remote (default) or embedded

	// Remote mode.
	LedgerAddr     string
	Credential     string // org credential presented to the host
	CredentialFile string // read when Credential is empty
	ConnectTimeout time.Duration
	DialOptions    []grpc.DialOption // replace the default insecure transport

	// Embedded mode runs the contract in-process as Org.
	Org            string
	State          state.Config
	ProvenanceMode string
}

// Open establishes the gateway's connection. Failures are *InitError; the
// caller decides whether to abort.
func Open(ctx context.Context, cfg Config, logger *zap.Logger, opts ...Option) (*Gateway, error) {
	var (
		conn Connection
		err  error
	)
	switch cfg.Mode {
	case "", ModeRemote:
		conn, err = openRemote(ctx, cfg, logger)
	case ModeEmbedded:
		conn, err = openEmbedded(ctx, cfg, logger)
	default:
		err = &InitError{Op: "config", Err: fmt.Errorf("unknown gateway mode %q", cfg.Mode)}
	}
	if err != nil {
		return nil, err
	}
	return New(conn, logger, opts...), nil
}

func openRemote(ctx context.Context, cfg Config, logger *zap.Logger) (Connection, error) {
	if cfg.LedgerAddr == "" {
		return nil, &InitError{Op: "config", Err: errors.New("ledger address is required")}
	}

	token := strings.TrimSpace(cfg.Credential)
	if token == "" && cfg.CredentialFile != "" {
		b, err := os.ReadFile(cfg.CredentialFile)
		if err != nil {
			return nil, &InitError{Op: "resolve identity", Err: err}
		}
		token = strings.TrimSpace(string(b))
	}
	if token == "" {
		return nil, &InitError{Op: "resolve identity", Err: identity.ErrNoIdentity}
	}
	org, err := identity.PeekOrg(token)
	if err != nil {
		return nil, &InitError{Op: "resolve identity", Err: err}
	}

	dialOpts := cfg.DialOptions
	if len(dialOpts) == 0 {
		dialOpts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	dialOpts = append(dialOpts, grpc.WithPerRPCCredentials(identity.NewCredentials(token, false)))

	client, err := host.Dial(cfg.LedgerAddr, dialOpts...)
	if err != nil {
		return nil, &InitError{Op: "connect", Err: err}
	}

	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := client.Ping(pingCtx); err != nil {
		_ = client.Close()
		return nil, &InitError{Op: "connect", Err: err}
	}

	logger.Info("connected to contract host",
		zap.String("addr", cfg.LedgerAddr),
		zap.String("org", org),
	)
	return client, nil
}

// embedded runs a Host in-process and owns its store.
type embedded struct {
	*host.Host
	store state.Store
}

func (e *embedded) Close() error {
	_ = e.Host.Close()
	return e.store.Close()
}

func openEmbedded(ctx context.Context, cfg Config, logger *zap.Logger) (Connection, error) {
	if cfg.Org == "" {
		return nil, &InitError{Op: "resolve identity", Err: identity.ErrNoIdentity}
	}
	mode, err := contract.ParseProvenanceMode(cfg.ProvenanceMode)
	if err != nil {
		return nil, &InitError{Op: "config", Err: err}
	}
	store, err := state.Open(ctx, cfg.State, logger)
	if err != nil {
		return nil, &InitError{Op: "open state", Err: err}
	}

	c := contract.New(identity.StaticResolver(cfg.Org), logger, contract.WithProvenanceMode(mode))
	logger.Info("running embedded contract host",
		zap.String("org", cfg.Org),
		zap.String("state_driver", cfg.State.Driver),
	)
	return &embedded{Host: host.New(c, store, logger), store: store}, nil
}
