// Package session implements Stash's multi-device session subsystem.
//
// One session row is one device binding: it owns the current access/refresh
// token pair (stored as digests, never as raw values) and an optional
// per-device PIN hash. Access tokens are short-lived PASETO v4.public;
// refresh tokens are opaque random strings whose only meaning is the row
// that holds them, which is what makes revocation immediate regardless of
// any signature validity window.
//
// Refresh rotation replaces both token digests on the same row with a single
// conditional update keyed on the digest that was read, so two concurrent
// refreshes of the same token cannot both succeed.
//
// Transport integration is intentionally out of scope here.
package session
