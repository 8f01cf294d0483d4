package identity_test

import (
	"strings"
	"testing"
	"time"

	"github.com/jmerrifield20/herbledger/internal/identity"
)

const testIssuer = "herbledger-test"

func newTestKeys(t *testing.T) *identity.KeyManager {
	t.Helper()
	km := identity.NewKeyManager(t.TempDir())
	if err := km.Create(); err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	return km
}

func TestTokenIssuer_Issue(t *testing.T) {
	km := newTestKeys(t)
	ti := identity.NewTokenIssuer(km.Key(), testIssuer, time.Hour)

	token, err := ti.Issue("appUser", "Org1MSP")
	if err != nil {
		t.Fatalf("Issue() error: %v", err)
	}
	if parts := strings.Split(token, "."); len(parts) != 3 {
		t.Errorf("expected 3-part JWT, got %d parts", len(parts))
	}
}

func TestTokenIssuer_Issue_requiresOrg(t *testing.T) {
	km := newTestKeys(t)
	ti := identity.NewTokenIssuer(km.Key(), testIssuer, time.Hour)
	if _, err := ti.Issue("appUser", ""); err == nil {
		t.Error("expected error for empty org")
	}
}

func TestVerifier_Verify_valid(t *testing.T) {
	km := newTestKeys(t)
	ti := identity.NewTokenIssuer(km.Key(), testIssuer, time.Hour)
	v := identity.NewVerifier(km.PublicKey(), testIssuer)

	token, err := ti.Issue("appUser", "Org1MSP")
	if err != nil {
		t.Fatal(err)
	}
	claims, err := v.Verify(token)
	if err != nil {
		t.Fatalf("Verify() error: %v", err)
	}
	if claims.Org != "Org1MSP" {
		t.Errorf("Org: got %q, want Org1MSP", claims.Org)
	}
	if claims.Subject != "appUser" {
		t.Errorf("Subject: got %q, want appUser", claims.Subject)
	}
}

func TestVerifier_Verify_expired(t *testing.T) {
	km := newTestKeys(t)
	// Issue a credential with a 1-nanosecond TTL; it is expired by the time we verify.
	ti := identity.NewTokenIssuer(km.Key(), testIssuer, time.Nanosecond)
	v := identity.NewVerifier(km.PublicKey(), testIssuer)

	token, err := ti.Issue("appUser", "Org1MSP")
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(2 * time.Millisecond)

	if _, err := v.Verify(token); err == nil {
		t.Error("expected error for expired credential, got nil")
	}
}

func TestVerifier_Verify_wrongKey(t *testing.T) {
	signer := newTestKeys(t)
	other := newTestKeys(t)
	ti := identity.NewTokenIssuer(signer.Key(), testIssuer, time.Hour)
	v := identity.NewVerifier(other.PublicKey(), testIssuer)

	token, _ := ti.Issue("appUser", "Org1MSP")
	if _, err := v.Verify(token); err == nil {
		t.Error("expected error for credential signed by another key")
	}
}

func TestVerifier_Verify_wrongIssuer(t *testing.T) {
	km := newTestKeys(t)
	ti := identity.NewTokenIssuer(km.Key(), "ledger-a", time.Hour)
	v := identity.NewVerifier(km.PublicKey(), "ledger-b")

	token, _ := ti.Issue("appUser", "Org1MSP")
	if _, err := v.Verify(token); err == nil {
		t.Error("expected error for wrong issuer, got nil")
	}
}

func TestPeekOrg(t *testing.T) {
	km := newTestKeys(t)
	ti := identity.NewTokenIssuer(km.Key(), testIssuer, time.Hour)
	token, _ := ti.Issue("appUser", "Org2MSP")

	org, err := identity.PeekOrg(token)
	if err != nil {
		t.Fatal(err)
	}
	if org != "Org2MSP" {
		t.Errorf("PeekOrg: got %q, want Org2MSP", org)
	}

	if _, err := identity.PeekOrg("not-a-jwt"); err == nil {
		t.Error("expected error for malformed credential")
	}
}
