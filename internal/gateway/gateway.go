// Package gateway is the transaction gateway: it validates typed requests,
// converts them into the contract's positional string form, invokes the
// contract host over a single shared connection, and decodes the results.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/jmerrifield20/herbledger/internal/host"
	"github.com/jmerrifield20/herbledger/internal/labels"
	"go.uber.org/zap"
	"google.golang.org/grpc/status"
)

var (
	// ErrUninitialized is returned by calls on a nil or closed Gateway.
	ErrUninitialized = errors.New("gateway not initialized")

	// ErrDecode is returned when the contract's response is not valid JSON.
	ErrDecode = errors.New("cannot decode contract response")
)

// ContractError is a failure reported by the contract host. Only the message
// survives: callers cannot tell a missing batch from a foreign one except by
// reading it.
type ContractError struct {
	Message string
}

func (e *ContractError) Error() string { return e.Message }

// InitError is returned by Open when the gateway cannot start.
type InitError struct {
	Op  string
	Err error
}

func (e *InitError) Error() string { return "gateway init: " + e.Op + ": " + e.Err.Error() }

func (e *InitError) Unwrap() error { return e.Err }

// Connection is the gateway's session with a contract host. Implementations
// must be safe for concurrent use.
type Connection interface {
	host.Invoker
	Close() error
}

// Gateway is safe for concurrent use. All calls share one Connection.
type Gateway struct {
	logger *zap.Logger
	qr     QREncoder
	labels labels.Store

	mu   sync.RWMutex
	conn Connection
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithQREncoder overrides the encoder used for package scan codes.
func WithQREncoder(e QREncoder) Option {
	return func(g *Gateway) { g.qr = e }
}

// WithLabelStore persists the PNG of every package scan code.
func WithLabelStore(s labels.Store) Option {
	return func(g *Gateway) { g.labels = s }
}

// New wraps an established connection. Open is the usual entry point.
func New(conn Connection, logger *zap.Logger, opts ...Option) *Gateway {
	g := &Gateway{conn: conn, logger: logger, qr: NewQREncoder(defaultQRSize)}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Labels returns the configured label store, or nil if labels are disabled.
func (g *Gateway) Labels() labels.Store {
	if g == nil {
		return nil
	}
	return g.labels
}

func (g *Gateway) connection() (Connection, error) {
	if g == nil {
		return nil, ErrUninitialized
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.conn == nil {
		return nil, ErrUninitialized
	}
	return g.conn, nil
}

// Close tears down the connection. Later calls return ErrUninitialized.
func (g *Gateway) Close() error {
	if g == nil {
		return nil
	}
	g.mu.Lock()
	conn := g.conn
	g.conn = nil
	g.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

// Submit validates req, runs it through the ordered submission path and
// blocks until it is committed. An empty contract result decodes to nil.
func (g *Gateway) Submit(ctx context.Context, req Request) (any, error) {
	out, err := g.invoke(ctx, "submit", req)
	if err != nil {
		return nil, err
	}
	return decode(out, nil)
}

// Evaluate validates req and runs it read-only. An empty contract result
// decodes to an empty list.
func (g *Gateway) Evaluate(ctx context.Context, req Request) (any, error) {
	out, err := g.invoke(ctx, "evaluate", req)
	if err != nil {
		return nil, err
	}
	return decode(out, []any{})
}

func (g *Gateway) invoke(ctx context.Context, path string, req Request) ([]byte, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	conn, err := g.connection()
	if err != nil {
		return nil, err
	}
	args, err := req.Args()
	if err != nil {
		return nil, err
	}

	fn := req.Function()
	var out []byte
	if path == "submit" {
		out, err = conn.Submit(ctx, fn, args)
	} else {
		out, err = conn.Evaluate(ctx, fn, args)
	}
	gatewayInvocations.WithLabelValues(fn, path, resultLabel(err)).Inc()
	if err != nil {
		g.logger.Warn("contract invocation failed",
			zap.String("function", fn),
			zap.String("path", path),
			zap.Error(err),
		)
		return nil, &ContractError{Message: status.Convert(err).Message()}
	}
	return out, nil
}

// decode keeps numbers as json.Number so payloads the contract stored
// verbatim come back verbatim, whatever their magnitude.
func decode(out []byte, empty any) (any, error) {
	if len(bytes.TrimSpace(out)) == 0 {
		return empty, nil
	}
	dec := json.NewDecoder(bytes.NewReader(out))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: trailing data after response", ErrDecode)
	}
	return v, nil
}

// PackageResult is the response to a package creation.
type PackageResult struct {
	Result  any    `json:"result"`
	QR      string `json:"qr"`
	ScanURL string `json:"scanUrl"`
}

// PackageProduct derives the package's scan URL from origin and renders its
// QR code, then submits req. The code is rendered first so a package ID that
// cannot fit in one is rejected before anything is committed. The derived
// fields never affect ledger state; a failure to store the label is logged
// and ignored.
func (g *Gateway) PackageProduct(ctx context.Context, req *PackageRequest, origin Origin) (*PackageResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if _, err := g.connection(); err != nil {
		return nil, err
	}
	packageID, _ := req.PackageID.Arg()
	scanURL := ScanURL(origin, packageID)
	png, err := g.qr.Encode(scanURL)
	if err != nil {
		g.logger.Debug("encode scan code", zap.Int("url_len", len(scanURL)), zap.Error(err))
		return nil, &ValidationError{Field: "packageId", Reason: "too long to encode as a scan code"}
	}

	result, err := g.Submit(ctx, req)
	if err != nil {
		return nil, err
	}

	if g.labels != nil {
		if err := g.labels.Put(ctx, packageID, png); err != nil {
			g.logger.Warn("store package label", zap.String("package_id", packageID), zap.Error(err))
		}
	}

	return &PackageResult{Result: result, QR: DataURL(png), ScanURL: scanURL}, nil
}
