// Package session persists and restores the authenticated Moodle session.
//
// A session is three storage keys written together: the web service token,
// a JSON profile (username, backend, token, user id, issue timestamp) and an
// expiry in epoch milliseconds. Records expire 90 days after they are issued.
//
// Lifecycle:
//   - Absent: nothing stored, or the stored record was discarded
//   - Active: a record was saved by Login, or restored and accepted by the backend
//
// Any expired, partial, or unparsable record is cleared the moment it is
// read, so a bad state file never survives a restart.
//
// Example Usage:
//
//	store := session.NewStore(kv, connector, logger)
//	handle, ok := store.RestoreAndValidate(ctx)
//	if !ok {
//	    handle, err = store.Login(ctx, username, password, backendURL)
//	}
package session
