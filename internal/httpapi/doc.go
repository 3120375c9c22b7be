// Package httpapi serves the index and ask operations over HTTP.
//
// Routes:
//
//	POST /index    {"repo": "owner/name"}
//	POST /ask      {"repo": "owner/name", "question": "...", "top_k": 5}
//	GET  /repos
//	GET  /healthz
//
// Failures are reported as {"detail": "...", "code": "..."} with a status
// derived from the error type. Every response carries an X-Request-ID.
package httpapi
