// Package middleware provides the HTTP middleware wrapped around every API
// route: request id propagation, structured request logging and panic
// recovery.
//
// Recovery must be outermost so that panics in logging are caught too:
//
//	handler = RequestID(handler)
//	handler = Logging(logger)(handler)
//	handler = Recovery(logger)(handler)
package middleware
