// Package authd is the authentication and session lifecycle core: credential checks,
// JWT access/refresh issuance and rotation, revocation, concurrent-session tracking and
// account lockout.
//
// Construct a [Coordinator] through [Builder]. Coordinator methods are safe to call from
// multiple goroutines; all shared state lives in Redis and the account store, so several
// processes may serve the same users.
//
// # Architecture boundaries
//
// authd is the public surface. Token encoding, blacklist, nonce, retry, session and
// account packages are leaf packages that never import authd. Every error that leaves a
// Coordinator method is an [*Error] carrying one [ErrorKind].
//
// # What this package must NOT do
//
//   - Log or return passwords, password hashes or raw tokens.
//   - Hold account state in process memory between calls.
//   - Fail a login because audit delivery or session indexing failed.
package authd
