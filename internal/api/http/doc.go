// Package http provides the REST handlers of the local archiver API.
//
// Handlers keep the working course selection in memory and remember it in
// storage only after a download succeeds. Course lists are fetched once per
// session activation and filtered locally.
//
// Error mapping:
//   - 400: malformed input, or nothing selected
//   - 401: no session, or credentials rejected at login
//   - 409: a download is already running
//   - 502: the LMS failed; the body carries its message
package http
