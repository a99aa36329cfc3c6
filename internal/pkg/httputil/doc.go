// Package httputil provides shared HTTP response/request utilities for the
// sync API handlers.
//
// Handlers use these helpers instead of writing raw http.ResponseWriter
// calls, so JSON formatting and error envelopes stay consistent. The
// tracking endpoints do not use them: their responses are fixed bytes.
package httputil
