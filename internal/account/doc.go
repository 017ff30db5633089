// Package account is the read surface over the account-identity store.
//
// Accounts are owned by the registration/profile service; this subsystem only
// reads them during login and password re-authentication. No write operations
// are exposed here.
package account
