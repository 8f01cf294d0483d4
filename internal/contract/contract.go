// Package contract implements the herb ledger contract: the authorization
// rules and state transitions for collection, processing, quality-test and
// packaging records, plus provenance retrieval over a key's version history.
//
// The contract holds no state of its own. Each invocation receives a Ledger
// (the transaction's view of the state store) and resolves the caller's org
// through the identity.Resolver it was constructed with.
package contract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmerrifield20/herbledger/internal/identity"
	"github.com/jmerrifield20/herbledger/internal/state"
	"go.uber.org/zap"
)

var (
	// ErrNotFound is returned when a referenced batch key has no current value.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized is returned when the caller's org does not own the
	// referenced batch.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrUnknownFunction is returned by Invoke for a function name the
	// contract does not export.
	ErrUnknownFunction = errors.New("unknown function")

	// ErrArgCount is returned by Invoke when the positional argument count
	// does not match the function's arity.
	ErrArgCount = errors.New("incorrect number of arguments")
)

// Ledger is the state access a single invocation runs against. Writes are
// buffered by the host and committed only if the invocation succeeds.
type Ledger interface {
	GetState(ctx context.Context, key string) ([]byte, error)
	PutState(ctx context.Context, key string, value []byte) error
	GetHistoryForKey(ctx context.Context, key string) (state.HistoryIterator, error)
}

// Contract is the ledger contract. It is safe for concurrent use.
type Contract struct {
	identity identity.Resolver
	mode     ProvenanceMode
	logger   *zap.Logger
}

// Option configures a Contract.
type Option func(*Contract)

// WithProvenanceMode sets how GetProvenance filters history. The default is
// ProvenanceOrgScoped.
func WithProvenanceMode(m ProvenanceMode) Option {
	return func(c *Contract) { c.mode = m }
}

// New creates a Contract that resolves callers through resolver.
func New(resolver identity.Resolver, logger *zap.Logger, opts ...Option) *Contract {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Contract{identity: resolver, mode: ProvenanceOrgScoped, logger: logger}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Mode returns the provenance mode the contract was configured with.
func (c *Contract) Mode() ProvenanceMode { return c.mode }

// InitLedger is a no-op kept so hosts can run the conventional init call.
func (c *Contract) InitLedger(context.Context, Ledger) error {
	c.logger.Info("ledger initialized")
	return nil
}

// CreateCollectionEvent records a harvest under id, owned by the caller's org.
//
// No existence check is made: creating an id that already exists appends a
// new version to that key.
func (c *Contract) CreateCollectionEvent(ctx context.Context, l Ledger, id, lat, lng, species, collectorID, timestamp string) (*CollectionEvent, error) {
	org, err := c.callerOrg(ctx)
	if err != nil {
		return nil, err
	}
	rec := &CollectionEvent{
		ID:          id,
		Lat:         lat,
		Lng:         lng,
		Species:     species,
		CollectorID: collectorID,
		Timestamp:   timestamp,
		Org:         org,
		DocType:     KindCollection,
	}
	if err := put(ctx, l, id, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// AddProcessingStep records a processing step against a batch the caller owns.
func (c *Contract) AddProcessingStep(ctx context.Context, l Ledger, id, batchID, stepType, params, timestamp string) (*ProcessingStep, error) {
	org, err := c.authorizeBatch(ctx, l, batchID, "add steps to")
	if err != nil {
		return nil, err
	}
	rec := &ProcessingStep{
		ID:        id,
		BatchID:   batchID,
		StepType:  stepType,
		Params:    payloadFromArg(params),
		Timestamp: timestamp,
		Org:       org,
		DocType:   KindProcessing,
	}
	if err := put(ctx, l, id, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// AddQualityTest records a lab result against a batch the caller owns.
func (c *Contract) AddQualityTest(ctx context.Context, l Ledger, id, batchID, testType, results, timestamp string) (*QualityTest, error) {
	org, err := c.authorizeBatch(ctx, l, batchID, "add tests to")
	if err != nil {
		return nil, err
	}
	rec := &QualityTest{
		ID:        id,
		BatchID:   batchID,
		TestType:  testType,
		Results:   payloadFromArg(results),
		Timestamp: timestamp,
		Org:       org,
		DocType:   KindQualityTest,
	}
	if err := put(ctx, l, id, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// PackageProduct packages a batch the caller owns under packageID.
func (c *Contract) PackageProduct(ctx context.Context, l Ledger, packageID, batchID, timestamp string) (*Package, error) {
	org, err := c.authorizeBatch(ctx, l, batchID, "package")
	if err != nil {
		return nil, err
	}
	rec := &Package{
		PackageID: packageID,
		BatchID:   batchID,
		Timestamp: timestamp,
		Org:       org,
		DocType:   KindPackage,
	}
	if err := put(ctx, l, packageID, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// CallerOrg reports the org the contract would record as the owner of writes
// made under ctx.
func (c *Contract) CallerOrg(ctx context.Context) (string, error) {
	return c.callerOrg(ctx)
}

// callerOrg resolves the invoking org. A caller without a resolvable org
// cannot own anything, so the failure is reported as ErrUnauthorized.
func (c *Contract) callerOrg(ctx context.Context) (string, error) {
	if c.identity == nil {
		return "", fmt.Errorf("%w: no identity resolver configured", ErrUnauthorized)
	}
	org, err := c.identity.ResolveCallerOrg(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: resolve caller org: %v", ErrUnauthorized, err)
	}
	return org, nil
}

// authorizeBatch checks that batchID currently exists and is owned by the
// caller, returning the caller's org.
func (c *Contract) authorizeBatch(ctx context.Context, l Ledger, batchID, action string) (string, error) {
	org, err := c.callerOrg(ctx)
	if err != nil {
		return "", err
	}
	raw, err := l.GetState(ctx, batchID)
	if err != nil {
		return "", fmt.Errorf("read batch %s: %w", batchID, err)
	}
	if len(raw) == 0 {
		return "", fmt.Errorf("%w: batch %s does not exist", ErrNotFound, batchID)
	}

	// batchId is a soft reference: any decodable record will do, but its
	// owner must be the caller.
	owner := ""
	if rec, err := DecodeRecord(raw); err == nil {
		owner = rec.Owner()
	}
	if owner == "" || owner != org {
		return "", fmt.Errorf("%w: org %s is not authorized to %s batch %s", ErrUnauthorized, org, action, batchID)
	}
	return org, nil
}

func put(ctx context.Context, l Ledger, key string, rec Record) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode %s record: %w", rec.Kind(), err)
	}
	if err := l.PutState(ctx, key, b); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}
