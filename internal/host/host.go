// Package host runs the ledger contract against a state store.
//
// Submissions are ordered through a single committer goroutine: each one is
// executed against the latest committed state, and its write set is committed
// atomically before the next submission runs. A rejected invocation commits
// nothing. Evaluations run concurrently against committed state and never
// write.
package host

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmerrifield20/herbledger/internal/contract"
	"github.com/jmerrifield20/herbledger/internal/state"
	"github.com/jmerrifield20/herbledger/internal/txlog"
	"go.uber.org/zap"
)

// ErrClosed is returned by calls made after Close.
var ErrClosed = errors.New("contract host closed")

const defaultQueueSize = 256

// Invoker is implemented by Host and by the gRPC Client, so gateways can run
// against either.
type Invoker interface {
	Submit(ctx context.Context, fn string, args []string) ([]byte, error)
	Evaluate(ctx context.Context, fn string, args []string) ([]byte, error)
}

type outcome struct {
	out []byte
	err error
}

type submission struct {
	ctx    context.Context
	fn     string
	args   []string
	result chan outcome
}

// Host executes contract invocations.
type Host struct {
	contract *contract.Contract
	store    state.Store
	txlog    txlog.Log
	logger   *zap.Logger
	now      func() time.Time

	mu     sync.RWMutex
	closed bool
	queue  chan *submission
	done   chan struct{}
}

// Option configures a Host.
type Option func(*Host)

// WithQueueSize sets how many submissions may wait for the committer.
func WithQueueSize(n int) Option {
	return func(h *Host) {
		if n > 0 {
			h.queue = make(chan *submission, n)
		}
	}
}

// WithClock overrides the commit timestamp source.
func WithClock(now func() time.Time) Option {
	return func(h *Host) { h.now = now }
}

// WithCommitLog chains every committed transaction onto l.
func WithCommitLog(l txlog.Log) Option {
	return func(h *Host) { h.txlog = l }
}

// New starts a Host. The caller keeps ownership of store and closes it after
// Close returns.
func New(c *contract.Contract, store state.Store, logger *zap.Logger, opts ...Option) *Host {
	h := &Host{
		contract: c,
		store:    store,
		logger:   logger,
		now:      time.Now,
		queue:    make(chan *submission, defaultQueueSize),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	go h.commitLoop()
	return h
}

// Submit runs fn through the ordered committer and blocks until its writes
// are committed or the invocation is rejected.
//
// If ctx ends while the submission is still queued it is dropped. Once it has
// started executing, its commit proceeds even if ctx ends meanwhile; Submit
// then returns ctx.Err() without waiting for the outcome.
func (h *Host) Submit(ctx context.Context, fn string, args []string) ([]byte, error) {
	sub := &submission{ctx: ctx, fn: fn, args: args, result: make(chan outcome, 1)}

	h.mu.RLock()
	if h.closed {
		h.mu.RUnlock()
		return nil, ErrClosed
	}
	select {
	case h.queue <- sub:
		submitQueueDepth.Inc()
		h.mu.RUnlock()
	case <-ctx.Done():
		h.mu.RUnlock()
		return nil, ctx.Err()
	}

	select {
	case r := <-sub.result:
		return r.out, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Evaluate runs fn against committed state. Any writes it attempts are
// discarded.
func (h *Host) Evaluate(ctx context.Context, fn string, args []string) ([]byte, error) {
	h.mu.RLock()
	closed := h.closed
	h.mu.RUnlock()
	if closed {
		return nil, ErrClosed
	}

	out, err := h.contract.Invoke(ctx, newTxContext(h.store), fn, args)
	invocationsTotal.WithLabelValues(fn, "evaluate", resultLabel(err)).Inc()
	h.logInvocation("evaluate", fn, "", err)
	return out, err
}

// Close stops accepting submissions, lets queued ones finish, and stops the
// committer. It is safe to call more than once.
func (h *Host) Close() error {
	h.mu.Lock()
	if !h.closed {
		h.closed = true
		close(h.queue)
	}
	h.mu.Unlock()
	<-h.done
	return nil
}

func (h *Host) commitLoop() {
	defer close(h.done)
	for sub := range h.queue {
		submitQueueDepth.Dec()
		if err := sub.ctx.Err(); err != nil {
			sub.result <- outcome{err: err}
			continue
		}
		out, err := h.execute(sub)
		sub.result <- outcome{out: out, err: err}
	}
}

func (h *Host) execute(sub *submission) ([]byte, error) {
	txID := uuid.NewString()
	tx := newTxContext(h.store)

	out, err := h.contract.Invoke(sub.ctx, tx, sub.fn, sub.args)
	if err == nil {
		if writes := tx.writeSet(); len(writes) > 0 {
			err = h.commit(context.WithoutCancel(sub.ctx), &state.Tx{
				ID:        txID,
				Timestamp: h.now().UTC(),
				Writes:    writes,
			}, sub.fn)
		}
	}

	invocationsTotal.WithLabelValues(sub.fn, "submit", resultLabel(err)).Inc()
	h.logInvocation("submit", sub.fn, txID, err)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (h *Host) commit(ctx context.Context, tx *state.Tx, fn string) error {
	if err := h.store.Commit(ctx, tx); err != nil {
		return fmt.Errorf("commit %s: %w", tx.ID, err)
	}
	commitsTotal.Inc()

	if h.txlog == nil {
		return nil
	}
	// State is already committed, so a log failure is reported but does not
	// fail the submission.
	org, _ := h.contract.CallerOrg(ctx)
	if _, err := h.txlog.Append(ctx, tx, fn, org); err != nil {
		txlogFailuresTotal.Inc()
		h.logger.Error("append to commit log failed",
			zap.String("tx_id", tx.ID),
			zap.String("function", fn),
			zap.Error(err),
		)
	}
	return nil
}

func (h *Host) logInvocation(path, fn, txID string, err error) {
	fields := []zap.Field{zap.String("path", path), zap.String("function", fn)}
	if txID != "" {
		fields = append(fields, zap.String("tx_id", txID))
	}
	if err != nil {
		h.logger.Warn("invocation failed", append(fields, zap.Error(err))...)
		return
	}
	h.logger.Debug("invocation", fields...)
}
