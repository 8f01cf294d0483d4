package contract_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/jmerrifield20/herbledger/internal/contract"
	"github.com/jmerrifield20/herbledger/internal/state"
)

// mixedHistory writes CE1 as OrgA, then OrgB, then a raw value, then a delete.
func mixedHistory(t *testing.T, c *contract.Contract) *storeLedger {
	t.Helper()
	l := newLedger()
	seedCollection(t, c, l, "CE1", "OrgA")
	seedCollection(t, c, l, "CE1", "OrgB")
	if err := l.PutState(context.Background(), "CE1", []byte("not a record")); err != nil {
		t.Fatal(err)
	}
	err := l.store.Commit(context.Background(), &state.Tx{
		ID:     "tx-delete",
		Writes: []state.Write{{Key: "CE1", Delete: true}},
	})
	if err != nil {
		t.Fatal(err)
	}
	return l
}

func TestGetProvenance_unrestricted(t *testing.T) {
	c := newContract(contract.WithProvenanceMode(contract.ProvenanceUnrestricted))
	l := mixedHistory(t, c)

	entries, err := c.GetProvenance(context.Background(), l, "CE1")
	if err != nil {
		t.Fatalf("GetProvenance() error: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("entries: got %d, want 3 (delete marker skipped)", len(entries))
	}
	if entries[0].Owner() != "OrgA" || entries[1].Owner() != "OrgB" {
		t.Errorf("owners: got %q, %q", entries[0].Owner(), entries[1].Owner())
	}
	if entries[2].Record != nil || entries[2].Raw != "not a record" {
		t.Errorf("raw entry: got %+v", entries[2])
	}
	for i := 1; i < len(entries); i++ {
		if entries[i].Timestamp.Before(entries[i-1].Timestamp) {
			t.Errorf("entry %d precedes entry %d", i, i-1)
		}
	}
}

func TestGetProvenance_orgScopedIsSubset(t *testing.T) {
	full := newContract(contract.WithProvenanceMode(contract.ProvenanceUnrestricted))
	l := mixedHistory(t, full)
	all, err := full.GetProvenance(context.Background(), l, "CE1")
	if err != nil {
		t.Fatal(err)
	}

	scoped := newContract()
	for _, org := range []string{"OrgA", "OrgB", "OrgC"} {
		got, err := scoped.GetProvenance(as(org), l, "CE1")
		if err != nil {
			t.Fatalf("%s: %v", org, err)
		}
		want := 0
		for _, e := range all {
			if e.Owner() == org {
				want++
			}
		}
		if len(got) != want {
			t.Errorf("%s: got %d entries, want %d", org, len(got), want)
		}
		for _, e := range got {
			if e.Owner() != org {
				t.Errorf("%s: entry owned by %q leaked", org, e.Owner())
			}
		}
	}
}

func TestGetProvenance_orgScopedRequiresIdentity(t *testing.T) {
	c := newContract()
	_, err := c.GetProvenance(context.Background(), newLedger(), "CE1")
	if !errors.Is(err, contract.ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}
}

func TestGetProvenance_emptyHistory(t *testing.T) {
	c := newContract()
	entries, err := c.GetProvenance(as("OrgA"), newLedger(), "NOPE")
	if err != nil {
		t.Fatal(err)
	}
	if entries == nil || len(entries) != 0 {
		t.Errorf("expected empty non-nil list, got %#v", entries)
	}
	b, _ := json.Marshal(entries)
	if string(b) != "[]" {
		t.Errorf("JSON: got %s, want []", b)
	}
}

func TestProvenanceEntry_JSON(t *testing.T) {
	c := newContract(contract.WithProvenanceMode(contract.ProvenanceUnrestricted))
	l := mixedHistory(t, c)
	entries, err := c.GetProvenance(context.Background(), l, "CE1")
	if err != nil {
		t.Fatal(err)
	}

	b, err := json.Marshal(entries)
	if err != nil {
		t.Fatal(err)
	}
	var generic []map[string]any
	if err := json.Unmarshal(b, &generic); err != nil {
		t.Fatal(err)
	}
	if generic[0]["txId"] == "" {
		t.Error("txId missing")
	}
	if rec, ok := generic[0]["record"].(map[string]any); !ok || rec["docType"] != "collection" {
		t.Errorf("record 0: got %v", generic[0]["record"])
	}
	if generic[2]["record"] != "not a record" {
		t.Errorf("record 2: got %v, want raw string", generic[2]["record"])
	}

	var back []contract.ProvenanceEntry
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatalf("unmarshal entries: %v", err)
	}
	if back[1].Owner() != "OrgB" || back[2].Raw != "not a record" {
		t.Errorf("round trip: got %+v", back)
	}
}

func TestParseProvenanceMode(t *testing.T) {
	tests := []struct {
		in      string
		want    contract.ProvenanceMode
		wantErr bool
	}{
		{"", contract.ProvenanceOrgScoped, false},
		{"org-scoped", contract.ProvenanceOrgScoped, false},
		{"unrestricted", contract.ProvenanceUnrestricted, false},
		{"everyone", "", true},
	}
	for _, tc := range tests {
		got, err := contract.ParseProvenanceMode(tc.in)
		if (err != nil) != tc.wantErr || got != tc.want {
			t.Errorf("ParseProvenanceMode(%q) = (%q, %v)", tc.in, got, err)
		}
	}
}
