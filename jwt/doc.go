// Package jwt decodes access-token claims for freshness decisions and mints
// tokens for the fake backend and tests.
//
// # Architecture boundaries
//
// Decoding never enforces exp, nbf or iat: whether a token is still usable is
// the Guard's decision, made from the claims this package returns. Signature
// verification is opt-in because a client usually holds no verification key.
//
// # What this package must NOT do
//
//   - Access secure storage or the network.
//   - Import goGuard, store or refresh.
package jwt
