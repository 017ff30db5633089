// Package credential implements one-way hashing for account passwords and
// device PINs.
//
// Both credential tiers use the same Argon2id primitive with PHC-encoded
// output, so a stored hash carries its own parameters and salt. Policy about
// what a valid password or PIN looks like belongs to the caller; this package
// only hashes and verifies.
//
// Plaintext secrets are never logged and never returned.
package credential
