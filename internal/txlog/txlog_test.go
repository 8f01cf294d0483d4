package txlog_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/jmerrifield20/herbledger/internal/state"
	"github.com/jmerrifield20/herbledger/internal/txlog"
)

var ctx = context.Background()

func tx(id string, writes ...state.Write) *state.Tx {
	return &state.Tx{ID: id, Timestamp: time.Date(2024, 3, 1, 12, 0, 0, 123456789, time.UTC), Writes: writes}
}

func TestNewMemoryLog_genesisEntry(t *testing.T) {
	l := txlog.NewMemoryLog()

	n, err := l.Len(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("expected 1 genesis entry, got %d", n)
	}
	e, err := l.Get(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if e.Function != "genesis" || e.Hash != txlog.GenesisHash {
		t.Errorf("genesis: got %+v", e)
	}
}

func TestAppend_chainsCorrectly(t *testing.T) {
	l := txlog.NewMemoryLog()

	e1, err := l.Append(ctx, tx("tx1", state.Write{Key: "CE1", Value: []byte(`{"id":"CE1"}`)}), "CreateCollectionEvent", "OrgA")
	if err != nil {
		t.Fatal(err)
	}
	e2, err := l.Append(ctx, tx("tx2", state.Write{Key: "PKG1", Value: []byte(`{"packageId":"PKG1"}`)}), "PackageProduct", "OrgA")
	if err != nil {
		t.Fatal(err)
	}

	if e1.PrevHash != txlog.GenesisHash {
		t.Errorf("e1.PrevHash = %q, want GenesisHash", e1.PrevHash)
	}
	if e2.PrevHash != e1.Hash {
		t.Errorf("chain broken: e2.PrevHash=%q, want e1.Hash=%q", e2.PrevHash, e1.Hash)
	}
	if e2.Index != 2 {
		t.Errorf("e2.Index = %d, want 2", e2.Index)
	}
	if e1.Timestamp.Nanosecond()%1000 != 0 {
		t.Errorf("timestamp not truncated to microseconds: %v", e1.Timestamp)
	}

	tip, _ := l.Tip(ctx)
	if tip != e2.Hash {
		t.Errorf("Tip() = %q, want %q", tip, e2.Hash)
	}
	if err := l.Verify(ctx); err != nil {
		t.Errorf("Verify() = %v", err)
	}
}

func TestGet_returnsCopy(t *testing.T) {
	l := txlog.NewMemoryLog()
	if _, err := l.Append(ctx, tx("tx1", state.Write{Key: "CE1", Value: []byte("v")}), "CreateCollectionEvent", "OrgA"); err != nil {
		t.Fatal(err)
	}

	e, _ := l.Get(ctx, 1)
	e.Org = "OrgB"

	if err := l.Verify(ctx); err != nil {
		t.Errorf("mutating a returned entry broke the chain: %v", err)
	}
	if _, err := l.Get(ctx, 5); err == nil {
		t.Error("expected out-of-range error")
	}
}

func TestWriteHash(t *testing.T) {
	a, err := txlog.WriteHash([]state.Write{{Key: "CE1", Value: []byte("v1")}})
	if err != nil {
		t.Fatal(err)
	}
	b, _ := txlog.WriteHash([]state.Write{{Key: "CE1", Value: []byte("v2")}})
	c, _ := txlog.WriteHash([]state.Write{{Key: "CE1", Delete: true}})
	if a == b || a == c || b == c {
		t.Error("distinct write sets must hash differently")
	}
	again, _ := txlog.WriteHash([]state.Write{{Key: "CE1", Value: []byte("v1")}})
	if a != again {
		t.Error("WriteHash is not deterministic")
	}
	if len(a) != 64 || strings.Trim(a, "0123456789abcdef") != "" {
		t.Errorf("expected hex SHA-256, got %q", a)
	}
}
