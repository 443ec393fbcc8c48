// Package httputil holds the JSON request/response helpers shared by the
// operator API handlers.
//
// All endpoints answer with either the raw payload or the ErrorResponse
// envelope; handlers go through these helpers rather than writing to the
// http.ResponseWriter directly so the wire format stays uniform. The one
// exception is the dispatch trigger, which always answers 200 with its own
// result envelope and encodes errors in the body.
package httputil
