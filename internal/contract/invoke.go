package contract

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"

	"go.uber.org/zap"
)

// Exported function names, as invoked by hosts and gateways.
const (
	FnInitLedger            = "InitLedger"
	FnCreateCollectionEvent = "CreateCollectionEvent"
	FnAddProcessingStep     = "AddProcessingStep"
	FnAddQualityTest        = "AddQualityTest"
	FnPackageProduct        = "PackageProduct"
	FnGetProvenance         = "GetProvenance"
)

type function struct {
	arity int
	call  func(c *Contract, ctx context.Context, l Ledger, args []string) (any, error)
}

var functions = map[string]function{
	FnInitLedger: {0, func(c *Contract, ctx context.Context, l Ledger, _ []string) (any, error) {
		return nil, c.InitLedger(ctx, l)
	}},
	FnCreateCollectionEvent: {6, func(c *Contract, ctx context.Context, l Ledger, a []string) (any, error) {
		return c.CreateCollectionEvent(ctx, l, a[0], a[1], a[2], a[3], a[4], a[5])
	}},
	FnAddProcessingStep: {5, func(c *Contract, ctx context.Context, l Ledger, a []string) (any, error) {
		return c.AddProcessingStep(ctx, l, a[0], a[1], a[2], a[3], a[4])
	}},
	FnAddQualityTest: {5, func(c *Contract, ctx context.Context, l Ledger, a []string) (any, error) {
		return c.AddQualityTest(ctx, l, a[0], a[1], a[2], a[3], a[4])
	}},
	FnPackageProduct: {3, func(c *Contract, ctx context.Context, l Ledger, a []string) (any, error) {
		return c.PackageProduct(ctx, l, a[0], a[1], a[2])
	}},
	FnGetProvenance: {1, func(c *Contract, ctx context.Context, l Ledger, a []string) (any, error) {
		return c.GetProvenance(ctx, l, a[0])
	}},
}

// Functions returns the exported function names in sorted order.
func Functions() []string {
	names := make([]string, 0, len(functions))
	for name := range functions {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Invoke dispatches a positional, string-typed invocation and returns the
// JSON-encoded result. Functions with no result return nil bytes.
func (c *Contract) Invoke(ctx context.Context, l Ledger, fn string, args []string) ([]byte, error) {
	f, ok := functions[fn]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFunction, fn)
	}
	if len(args) != f.arity {
		return nil, fmt.Errorf("%w: %s takes %d, got %d", ErrArgCount, fn, f.arity, len(args))
	}

	result, err := f.call(c, ctx, l, args)
	if err != nil {
		c.logger.Debug("invocation rejected", zap.String("function", fn), zap.Error(err))
		return nil, err
	}
	if result == nil {
		return nil, nil
	}
	b, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("encode %s result: %w", fn, err)
	}
	return b, nil
}
