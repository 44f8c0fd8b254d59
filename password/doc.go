// Package password hashes and verifies user passwords.
//
// # Output format
//
// New hashes are Argon2id in PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// Legacy bcrypt hashes ($2a$, $2b$, $2y$) are still verified. [Hasher.NeedsUpgrade]
// reports hashes that should be replaced on the next successful login.
//
// Password policy such as reuse history is enforced by the account guard, not here.
package password
