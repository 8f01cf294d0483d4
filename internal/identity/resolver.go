package identity

import (
	"context"
	"errors"
)

// ErrNoIdentity is returned when no verified caller org is bound to the context.
var ErrNoIdentity = errors.New("caller identity not resolved")

type callerKey struct{}

// WithOrg returns a copy of ctx bound to the verified caller org. Only
// transport layers that have authenticated the caller should call it.
func WithOrg(ctx context.Context, org string) context.Context {
	return context.WithValue(ctx, callerKey{}, org)
}

// OrgFromContext returns the caller org bound by WithOrg.
func OrgFromContext(ctx context.Context) (string, bool) {
	org, ok := ctx.Value(callerKey{}).(string)
	return org, ok && org != ""
}

// Resolver resolves the calling organization. It is consulted synchronously
// from within a single contract invocation.
type Resolver interface {
	ResolveCallerOrg(ctx context.Context) (string, error)
}

// ContextResolver resolves the org bound to the invocation context.
type ContextResolver struct{}

// ResolveCallerOrg implements Resolver.
func (ContextResolver) ResolveCallerOrg(ctx context.Context) (string, error) {
	org, ok := OrgFromContext(ctx)
	if !ok {
		return "", ErrNoIdentity
	}
	return org, nil
}

// StaticResolver always resolves to the same org. Used by embedded gateways
// that run the contract in-process under a single configured identity.
type StaticResolver string

// ResolveCallerOrg implements Resolver.
func (s StaticResolver) ResolveCallerOrg(context.Context) (string, error) {
	if s == "" {
		return "", ErrNoIdentity
	}
	return string(s), nil
}
