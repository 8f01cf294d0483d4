package gateway_test

import (
	"context"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/jmerrifield20/herbledger/internal/contract"
	"github.com/jmerrifield20/herbledger/internal/gateway"
	"github.com/jmerrifield20/herbledger/internal/host"
	"github.com/jmerrifield20/herbledger/internal/identity"
	"github.com/jmerrifield20/herbledger/internal/state"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"
)

func TestOpen_embedded(t *testing.T) {
	ctx := context.Background()
	g, err := gateway.Open(ctx, gateway.Config{Mode: gateway.ModeEmbedded, Org: "OrgA"}, zap.NewNop())
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer g.Close() //nolint:errcheck

	coll := decodeRequest[gateway.CollectionRequest](t, `{"id":"CE1","lat":28.61,"lng":77.2,"species":"Ashwagandha","collectorId":"FARM1","timestamp":"T1"}`)
	rec, err := g.Submit(ctx, coll)
	if err != nil {
		t.Fatalf("Submit() error: %v", err)
	}
	if rec.(map[string]any)["org"] != "OrgA" {
		t.Errorf("record: got %v", rec)
	}

	qt := decodeRequest[gateway.QualityRequest](t, `{"id":"QT1","batchId":"CE404","testType":"Pesticide","timestamp":"T3"}`)
	_, err = g.Submit(ctx, qt)
	var ce *gateway.ContractError
	if !errors.As(err, &ce) || !strings.Contains(ce.Message, "CE404") {
		t.Errorf("missing batch: got %v", err)
	}

	prov, err := g.Evaluate(ctx, decodeRequest[gateway.ProvenanceRequest](t, `{"id":"CE1"}`))
	if err != nil {
		t.Fatal(err)
	}
	if entries := prov.([]any); len(entries) != 1 {
		t.Errorf("provenance: got %d entries, want 1", len(entries))
	}
}

func TestOpen_initErrors(t *testing.T) {
	tests := []struct {
		name string
		cfg  gateway.Config
	}{
		{"unknown mode", gateway.Config{Mode: "carrier-pigeon"}},
		{"remote without address", gateway.Config{Credential: "x"}},
		{"remote without credential", gateway.Config{LedgerAddr: "localhost:7051"}},
		{"remote with unreadable credential", gateway.Config{LedgerAddr: "localhost:7051", Credential: "not-a-jwt"}},
		{"remote missing credential file", gateway.Config{LedgerAddr: "localhost:7051", CredentialFile: "/nonexistent/credential"}},
		{"embedded without org", gateway.Config{Mode: gateway.ModeEmbedded}},
		{"embedded bad provenance mode", gateway.Config{Mode: gateway.ModeEmbedded, Org: "OrgA", ProvenanceMode: "all"}},
		{"embedded bad state driver", gateway.Config{Mode: gateway.ModeEmbedded, Org: "OrgA", State: state.Config{Driver: "tape"}}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			g, err := gateway.Open(context.Background(), tc.cfg, zap.NewNop())
			var ie *gateway.InitError
			if !errors.As(err, &ie) {
				t.Fatalf("expected *InitError, got %v", err)
			}
			if g != nil {
				t.Error("expected nil gateway on failure")
			}
		})
	}
}

func TestOpen_remote(t *testing.T) {
	km := identity.NewKeyManager(t.TempDir())
	if err := km.Create(); err != nil {
		t.Fatal(err)
	}
	store := state.NewMemoryStore()
	h := host.New(contract.New(identity.ContextResolver{}, zap.NewNop()), store, zap.NewNop())
	t.Cleanup(func() { _ = h.Close() })

	srv, _ := host.NewGRPCServer(h, identity.NewVerifier(km.PublicKey(), "herbledger"), zap.NewNop())
	lis := bufconn.Listen(1 << 20)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	token, err := identity.NewTokenIssuer(km.Key(), "herbledger", time.Hour).Issue("appUser", "OrgA")
	if err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	g, err := gateway.Open(ctx, gateway.Config{
		LedgerAddr:     "passthrough:///bufnet",
		Credential:     token,
		ConnectTimeout: 5 * time.Second,
		DialOptions: []grpc.DialOption{
			grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
				return lis.DialContext(ctx)
			}),
			grpc.WithTransportCredentials(insecure.NewCredentials()),
		},
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer g.Close() //nolint:errcheck

	coll := decodeRequest[gateway.CollectionRequest](t, `{"id":"CE1","lat":"28.61","lng":"77.20","species":"Tulsi","collectorId":"FARM1","timestamp":"T1"}`)
	if _, err := g.Submit(ctx, coll); err != nil {
		t.Fatalf("Submit() error: %v", err)
	}
	res, err := g.PackageProduct(ctx,
		decodeRequest[gateway.PackageRequest](t, `{"packageId":"PKG1","batchId":"CE1","timestamp":"T4"}`),
		gateway.Origin{Scheme: "http", Host: "localhost:5000"},
	)
	if err != nil {
		t.Fatalf("PackageProduct() error: %v", err)
	}
	if !strings.HasSuffix(res.ScanURL, "/scan/PKG1") || !strings.HasPrefix(res.QR, "data:image/png;base64,") {
		t.Errorf("augmentation: got %+v", res)
	}
}
