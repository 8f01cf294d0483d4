package contract_test

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/jmerrifield20/herbledger/internal/contract"
)

func TestInvoke_dispatch(t *testing.T) {
	c, l := newContract(), newLedger()
	ctx := as("OrgA")

	out, err := c.Invoke(ctx, l, contract.FnCreateCollectionEvent,
		[]string{"CE1", "28.61", "77.20", "Ashwagandha", "FARM1", "T1"})
	if err != nil {
		t.Fatalf("Invoke(CreateCollectionEvent) error: %v", err)
	}
	var rec map[string]any
	if err := json.Unmarshal(out, &rec); err != nil {
		t.Fatal(err)
	}
	if rec["species"] != "Ashwagandha" || rec["collectorId"] != "FARM1" {
		t.Errorf("argument order not preserved: %v", rec)
	}

	out, err = c.Invoke(ctx, l, contract.FnGetProvenance, []string{"CE1"})
	if err != nil {
		t.Fatal(err)
	}
	var entries []map[string]any
	if err := json.Unmarshal(out, &entries); err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("provenance: got %d entries, want 1", len(entries))
	}
}

func TestInvoke_initLedgerReturnsNothing(t *testing.T) {
	out, err := newContract().Invoke(as("OrgA"), newLedger(), contract.FnInitLedger, nil)
	if err != nil || out != nil {
		t.Errorf("InitLedger: got (%q, %v)", out, err)
	}
}

func TestInvoke_errors(t *testing.T) {
	c, l := newContract(), newLedger()
	tests := []struct {
		name string
		fn   string
		args []string
		want error
	}{
		{"unknown function", "DeleteEverything", nil, contract.ErrUnknownFunction},
		{"too few args", contract.FnPackageProduct, []string{"PKG1"}, contract.ErrArgCount},
		{"too many args", contract.FnGetProvenance, []string{"a", "b"}, contract.ErrArgCount},
		{"missing batch", contract.FnPackageProduct, []string{"PKG1", "CE404", "T"}, contract.ErrNotFound},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := c.Invoke(as("OrgA"), l, tc.fn, tc.args); !errors.Is(err, tc.want) {
				t.Errorf("got %v, want %v", err, tc.want)
			}
		})
	}
}

func TestFunctions(t *testing.T) {
	got := contract.Functions()
	if len(got) != 6 {
		t.Fatalf("got %d functions: %v", len(got), got)
	}
	if got[0] != contract.FnAddProcessingStep {
		t.Errorf("expected sorted names, first is %q", got[0])
	}
}

func TestDecodeRecord(t *testing.T) {
	rec, err := contract.DecodeRecord([]byte(`{"packageId":"P","batchId":"B","org":"OrgA","docType":"package"}`))
	if err != nil {
		t.Fatal(err)
	}
	p, ok := rec.(*contract.Package)
	if !ok || p.PackageID != "P" || p.Owner() != "OrgA" {
		t.Errorf("got %#v", rec)
	}

	for _, in := range []string{`not json`, `{"docType":"invoice"}`, `{}`} {
		if _, err := contract.DecodeRecord([]byte(in)); err == nil {
			t.Errorf("DecodeRecord(%s): expected error", in)
		}
	}
}
