// Package identity implements caller identity for the herb ledger.
//
// It provides:
//   - KeyManager      — creates/loads the ledger host's credential-signing key
//   - TokenIssuer     — issues RS256 org credentials
//   - Verifier        — verifies org credentials on the ledger host
//   - Resolver        — resolves the calling org inside a contract invocation
//   - Credentials     — gRPC per-RPC credentials carrying an org credential
//   - UnaryAuth       — gRPC interceptor that verifies credentials and binds the org
package identity
