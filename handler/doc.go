// Package handler adapts typed request handlers to net/http.
//
// A HandlerFunc receives a Context and a decoded request value and returns a
// Response. Wrap binds the request with the configured binders, runs the
// handler and renders the result; any error along the way goes to the
// ErrorHandler, which by default answers with a JSON error envelope:
//
//	{"error": {"code": "not_found", "message": "Not Found"}}
//
// Errors are classified by HTTPError (status code plus stable key) and
// ValidationError (per-field messages, rendered as 422).
package handler
