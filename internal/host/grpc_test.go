package host_test

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/jmerrifield20/herbledger/internal/contract"
	"github.com/jmerrifield20/herbledger/internal/host"
	"github.com/jmerrifield20/herbledger/internal/identity"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

const testIssuer = "herbledger-test"

type rig struct {
	lis    *bufconn.Listener
	issuer *identity.TokenIssuer
}

func startServer(t *testing.T) *rig {
	t.Helper()
	km := identity.NewKeyManager(t.TempDir())
	if err := km.Create(); err != nil {
		t.Fatal(err)
	}
	h, _ := newHost(t)
	srv, _ := host.NewGRPCServer(h, identity.NewVerifier(km.PublicKey(), testIssuer), zap.NewNop())

	lis := bufconn.Listen(1 << 20)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	return &rig{lis: lis, issuer: identity.NewTokenIssuer(km.Key(), testIssuer, time.Hour)}
}

func (r *rig) dial(t *testing.T, org string) *host.Client {
	t.Helper()
	opts := []grpc.DialOption{
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return r.lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}
	if org != "" {
		token, err := r.issuer.Issue("appUser", org)
		if err != nil {
			t.Fatal(err)
		}
		opts = append(opts, grpc.WithPerRPCCredentials(identity.NewCredentials(token, false)))
	}
	c, err := host.Dial("passthrough:///bufnet", opts...)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestGRPC_SubmitAndEvaluate(t *testing.T) {
	r := startServer(t)
	c := r.dial(t, "OrgA")
	ctx := context.Background()

	if err := c.Ping(ctx); err != nil {
		t.Fatalf("Ping() error: %v", err)
	}
	out, err := c.Submit(ctx, contract.FnCreateCollectionEvent, collectionArgs)
	if err != nil {
		t.Fatalf("Submit() error: %v", err)
	}
	if !strings.Contains(string(out), `"org":"OrgA"`) {
		t.Errorf("org not taken from the credential: %s", out)
	}

	out, err = c.Evaluate(ctx, contract.FnGetProvenance, []string{"CE1"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(out), `"txId"`) {
		t.Errorf("provenance: got %s", out)
	}
}

func TestGRPC_ErrorCodes(t *testing.T) {
	r := startServer(t)
	a, b := r.dial(t, "OrgA"), r.dial(t, "OrgB")
	ctx := context.Background()
	if _, err := a.Submit(ctx, contract.FnCreateCollectionEvent, collectionArgs); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		call func() error
		want codes.Code
	}{
		{"missing batch", func() error {
			_, err := a.Submit(ctx, contract.FnAddQualityTest, []string{"QT1", "CE404", "Pesticide", "{}", "T3"})
			return err
		}, codes.NotFound},
		{"other org", func() error {
			_, err := b.Submit(ctx, contract.FnAddProcessingStep, []string{"PS1", "CE1", "Drying", "{}", "T2"})
			return err
		}, codes.PermissionDenied},
		{"unknown function", func() error {
			_, err := a.Evaluate(ctx, "Nope", nil)
			return err
		}, codes.InvalidArgument},
		{"no credential", func() error {
			_, err := r.dial(t, "").Evaluate(ctx, contract.FnGetProvenance, []string{"CE1"})
			return err
		}, codes.Unauthenticated},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.call()
			if got := status.Code(err); got != tc.want {
				t.Errorf("code: got %v, want %v (err=%v)", got, tc.want, err)
			}
		})
	}
}

func TestGRPC_HealthWithoutCredential(t *testing.T) {
	r := startServer(t)
	if err := r.dial(t, "").Ping(context.Background()); err != nil {
		t.Errorf("health check should not require a credential: %v", err)
	}
}

func TestInvocationEncoding(t *testing.T) {
	req, err := host.EncodeInvocation("PackageProduct", []string{"PKG1", "CE1", "T4"})
	if err != nil {
		t.Fatal(err)
	}
	fn, args, err := host.DecodeInvocation(req)
	if err != nil {
		t.Fatal(err)
	}
	if fn != "PackageProduct" || strings.Join(args, ",") != "PKG1,CE1,T4" {
		t.Errorf("got %s(%v)", fn, args)
	}

	empty, _ := host.EncodeInvocation("", nil)
	if _, _, err := host.DecodeInvocation(empty); err == nil {
		t.Error("expected error for missing function name")
	}
}
