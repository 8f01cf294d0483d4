package identity

import (
	"context"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const authorizationKey = "authorization"

// Credentials attaches an org credential to every RPC as a Bearer token.
type Credentials struct {
	token  string
	secure bool
}

// NewCredentials returns per-RPC credentials for token. When secure is true
// gRPC refuses to send them over an insecure channel.
func NewCredentials(token string, secure bool) *Credentials {
	return &Credentials{token: token, secure: secure}
}

// GetRequestMetadata implements credentials.PerRPCCredentials.
func (c *Credentials) GetRequestMetadata(context.Context, ...string) (map[string]string, error) {
	return map[string]string{authorizationKey: "Bearer " + c.token}, nil
}

// RequireTransportSecurity implements credentials.PerRPCCredentials.
func (c *Credentials) RequireTransportSecurity() bool { return c.secure }

// UnaryAuth returns a gRPC interceptor that enforces a valid org credential.
//
// On success the verified org is bound to the handler context with WithOrg.
// Methods listed in skip (full method names) are passed through unauthenticated.
func UnaryAuth(v *Verifier, skip ...string) grpc.UnaryServerInterceptor {
	open := make(map[string]struct{}, len(skip))
	for _, m := range skip {
		open[m] = struct{}{}
	}
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if _, ok := open[info.FullMethod]; ok {
			return handler(ctx, req)
		}

		md, _ := metadata.FromIncomingContext(ctx)
		var authHeader string
		if vals := md.Get(authorizationKey); len(vals) > 0 {
			authHeader = vals[0]
		}
		if !strings.HasPrefix(authHeader, "Bearer ") {
			return nil, status.Error(codes.Unauthenticated, "Bearer credential required")
		}

		claims, err := v.Verify(strings.TrimPrefix(authHeader, "Bearer "))
		if err != nil {
			return nil, status.Error(codes.Unauthenticated, "invalid credential: "+err.Error())
		}
		return handler(WithOrg(ctx, claims.Org), req)
	}
}
