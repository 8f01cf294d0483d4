package contract_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jmerrifield20/herbledger/internal/contract"
	"github.com/jmerrifield20/herbledger/internal/identity"
	"github.com/jmerrifield20/herbledger/internal/state"
	"go.uber.org/zap"
)

// storeLedger commits every PutState as its own transaction, which is enough
// to observe the versions a single contract call appends.
type storeLedger struct {
	store state.Store
	seq   int
}

func newLedger() *storeLedger { return &storeLedger{store: state.NewMemoryStore()} }

func (l *storeLedger) GetState(ctx context.Context, key string) ([]byte, error) {
	return l.store.Get(ctx, key)
}

func (l *storeLedger) PutState(ctx context.Context, key string, value []byte) error {
	l.seq++
	return l.store.Commit(ctx, &state.Tx{
		ID:        fmt.Sprintf("tx-%d", l.seq),
		Timestamp: time.Unix(int64(l.seq), 0).UTC(),
		Writes:    []state.Write{{Key: key, Value: value}},
	})
}

func (l *storeLedger) GetHistoryForKey(ctx context.Context, key string) (state.HistoryIterator, error) {
	return l.store.History(ctx, key)
}

func (l *storeLedger) versions(t *testing.T, key string) int {
	t.Helper()
	n := 0
	for _, err := range state.Versions(context.Background(), l.store, key) {
		if err != nil {
			t.Fatal(err)
		}
		n++
	}
	return n
}

func as(org string) context.Context {
	return identity.WithOrg(context.Background(), org)
}

func newContract(opts ...contract.Option) *contract.Contract {
	return contract.New(identity.ContextResolver{}, zap.NewNop(), opts...)
}

func seedCollection(t *testing.T, c *contract.Contract, l *storeLedger, id, org string) {
	t.Helper()
	if _, err := c.CreateCollectionEvent(as(org), l, id, "28.61", "77.20", "Ashwagandha", "FARM1", "T1"); err != nil {
		t.Fatalf("CreateCollectionEvent(%s) error: %v", id, err)
	}
}

func TestCreateCollectionEvent(t *testing.T) {
	c, l := newContract(), newLedger()

	rec, err := c.CreateCollectionEvent(as("OrgA"), l, "CE1", "28.61", "77.20", "Ashwagandha", "FARM1", "T1")
	if err != nil {
		t.Fatalf("CreateCollectionEvent() error: %v", err)
	}
	if rec.Org != "OrgA" || rec.DocType != contract.KindCollection {
		t.Errorf("record: got org=%q docType=%q", rec.Org, rec.DocType)
	}

	raw, _ := l.GetState(context.Background(), "CE1")
	var stored map[string]any
	if err := json.Unmarshal(raw, &stored); err != nil {
		t.Fatal(err)
	}
	if stored["org"] != "OrgA" || stored["docType"] != "collection" || stored["id"] != "CE1" {
		t.Errorf("stored record: got %v", stored)
	}

	entries, err := c.GetProvenance(as("OrgA"), l, "CE1")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("provenance: got %d entries, want 1", len(entries))
	}
}

func TestCreateCollectionEvent_overwriteAppendsVersion(t *testing.T) {
	c, l := newContract(), newLedger()
	seedCollection(t, c, l, "CE1", "OrgA")
	seedCollection(t, c, l, "CE1", "OrgA")

	if n := l.versions(t, "CE1"); n != 2 {
		t.Errorf("versions: got %d, want 2", n)
	}
}

func TestCreateCollectionEvent_noIdentity(t *testing.T) {
	c, l := newContract(), newLedger()
	_, err := c.CreateCollectionEvent(context.Background(), l, "CE1", "1", "2", "Tulsi", "F", "T")
	if !errors.Is(err, contract.ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}
	if n := l.versions(t, "CE1"); n != 0 {
		t.Errorf("versions: got %d, want 0", n)
	}
}

func TestAddProcessingStep(t *testing.T) {
	c, l := newContract(), newLedger()
	seedCollection(t, c, l, "CE1", "OrgA")

	rec, err := c.AddProcessingStep(as("OrgA"), l, "PS1", "CE1", "Drying", `{"temp":40}`, "T2")
	if err != nil {
		t.Fatalf("AddProcessingStep() error: %v", err)
	}
	if rec.BatchID != "CE1" || rec.Org != "OrgA" || rec.DocType != contract.KindProcessing {
		t.Errorf("record: got %+v", rec)
	}
	if string(rec.Params) != `{"temp":40}` {
		t.Errorf("params: got %s", rec.Params)
	}
}

func TestAddProcessingStep_otherOrgUnauthorized(t *testing.T) {
	c, l := newContract(), newLedger()
	seedCollection(t, c, l, "CE1", "OrgA")

	_, err := c.AddProcessingStep(as("OrgB"), l, "PS1", "CE1", "Drying", "{}", "T2")
	if !errors.Is(err, contract.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if n := l.versions(t, "CE1"); n != 1 {
		t.Errorf("CE1 versions: got %d, want 1", n)
	}
	if n := l.versions(t, "PS1"); n != 0 {
		t.Errorf("PS1 versions: got %d, want 0", n)
	}
}

func TestDependentWrites_missingBatch(t *testing.T) {
	c, l := newContract(), newLedger()
	ctx := as("OrgA")

	calls := map[string]func() error{
		"AddProcessingStep": func() error {
			_, err := c.AddProcessingStep(ctx, l, "PS1", "CE404", "Drying", "{}", "T")
			return err
		},
		"AddQualityTest": func() error {
			_, err := c.AddQualityTest(ctx, l, "QT1", "CE404", "Pesticide", "{}", "T3")
			return err
		},
		"PackageProduct": func() error {
			_, err := c.PackageProduct(ctx, l, "PKG1", "CE404", "T4")
			return err
		},
	}
	for name, call := range calls {
		t.Run(name, func(t *testing.T) {
			if err := call(); !errors.Is(err, contract.ErrNotFound) {
				t.Errorf("expected ErrNotFound, got %v", err)
			}
		})
	}
	for _, key := range []string{"CE404", "PS1", "QT1", "PKG1"} {
		if n := l.versions(t, key); n != 0 {
			t.Errorf("%s versions: got %d, want 0", key, n)
		}
	}
}

func TestAddQualityTest_softReference(t *testing.T) {
	c, l := newContract(), newLedger()
	seedCollection(t, c, l, "CE1", "OrgA")
	if _, err := c.AddProcessingStep(as("OrgA"), l, "PS1", "CE1", "Drying", "{}", "T2"); err != nil {
		t.Fatal(err)
	}

	// Any owned record can serve as a batch, not only collection events.
	rec, err := c.AddQualityTest(as("OrgA"), l, "QT1", "PS1", "Moisture", "not json", "T3")
	if err != nil {
		t.Fatalf("AddQualityTest() error: %v", err)
	}
	if string(rec.Results) != `"not json"` {
		t.Errorf("results: got %s, want a JSON string", rec.Results)
	}
}

func TestPackageProduct(t *testing.T) {
	c, l := newContract(), newLedger()
	seedCollection(t, c, l, "CE1", "OrgA")

	rec, err := c.PackageProduct(as("OrgA"), l, "PKG1", "CE1", "T4")
	if err != nil {
		t.Fatalf("PackageProduct() error: %v", err)
	}
	if rec.PackageID != "PKG1" || rec.DocType != contract.KindPackage {
		t.Errorf("record: got %+v", rec)
	}
	if n := l.versions(t, "PKG1"); n != 1 {
		t.Errorf("PKG1 versions: got %d, want 1", n)
	}
}

func TestDependentWrite_undecodableBatch(t *testing.T) {
	c, l := newContract(), newLedger()
	if err := l.PutState(context.Background(), "RAW1", []byte("plain text")); err != nil {
		t.Fatal(err)
	}
	_, err := c.PackageProduct(as("OrgA"), l, "PKG1", "RAW1", "T")
	if !errors.Is(err, contract.ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}
}

func TestOwnershipFollowsCurrentVersion(t *testing.T) {
	c, l := newContract(), newLedger()
	seedCollection(t, c, l, "CE1", "OrgA")
	seedCollection(t, c, l, "CE1", "OrgB")

	if _, err := c.PackageProduct(as("OrgA"), l, "PKG1", "CE1", "T"); !errors.Is(err, contract.ErrUnauthorized) {
		t.Errorf("OrgA after overwrite: expected ErrUnauthorized, got %v", err)
	}
	if _, err := c.PackageProduct(as("OrgB"), l, "PKG2", "CE1", "T"); err != nil {
		t.Errorf("OrgB after overwrite: %v", err)
	}
}
