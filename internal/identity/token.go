package identity

import (
	"crypto/rsa"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// OrgClaims are the JWT claims of an org credential. A credential binds a
// named client to the organization that owns every record it writes.
type OrgClaims struct {
	jwt.RegisteredClaims
	Org string `json:"org"`
}

// TokenIssuer issues org credentials signed with RS256.
type TokenIssuer struct {
	key    *rsa.PrivateKey
	issuer string
	ttl    time.Duration
}

// NewTokenIssuer creates a TokenIssuer.
//
//	issuer — the "iss" claim value; must match the verifier's.
//	ttl    — credential lifetime (default: 1 year).
func NewTokenIssuer(key *rsa.PrivateKey, issuer string, ttl time.Duration) *TokenIssuer {
	if ttl == 0 {
		ttl = 365 * 24 * time.Hour
	}
	return &TokenIssuer{key: key, issuer: issuer, ttl: ttl}
}

// Issue creates a signed credential for client acting on behalf of org.
func (t *TokenIssuer) Issue(client, org string) (string, error) {
	if org == "" {
		return "", fmt.Errorf("issue credential: org is required")
	}
	now := time.Now().UTC()
	claims := OrgClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.issuer,
			Subject:   client,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
			ID:        uuid.New().String(),
		},
		Org: org,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signed, err := token.SignedString(t.key)
	if err != nil {
		return "", fmt.Errorf("sign credential: %w", err)
	}
	return signed, nil
}

// TTL returns the configured credential lifetime.
func (t *TokenIssuer) TTL() time.Duration { return t.ttl }

// Verifier validates org credentials against the host's public key.
type Verifier struct {
	pub    *rsa.PublicKey
	issuer string
}

// NewVerifier creates a Verifier for credentials issued by issuer.
func NewVerifier(pub *rsa.PublicKey, issuer string) *Verifier {
	return &Verifier{pub: pub, issuer: issuer}
}

// Verify parses and validates a credential, returning its claims on success.
func (v *Verifier) Verify(tokenStr string) (*OrgClaims, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&OrgClaims{},
		func(tok *jwt.Token) (any, error) {
			if _, ok := tok.Method.(*jwt.SigningMethodRSA); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", tok.Header["alg"])
			}
			return v.pub, nil
		},
		jwt.WithIssuer(v.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("verify credential: %w", err)
	}

	claims, ok := token.Claims.(*OrgClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid credential claims")
	}
	if claims.Org == "" {
		return nil, fmt.Errorf("credential carries no org")
	}
	return claims, nil
}

// PeekOrg returns the org claim of a credential without verifying its
// signature. The gateway uses it for logging and startup checks only; the
// ledger host always verifies.
func PeekOrg(tokenStr string) (string, error) {
	claims := &OrgClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenStr, claims); err != nil {
		return "", fmt.Errorf("parse credential: %w", err)
	}
	if claims.Org == "" {
		return "", fmt.Errorf("credential carries no org")
	}
	return claims.Org, nil
}
