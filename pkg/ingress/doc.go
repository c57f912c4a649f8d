// Package ingress steers inbound chat-completion requests toward a
// cost-appropriate model before they reach the provider.
//
// The Adapter is HTTP middleware. For each request it resolves a scope id
// from a configurable field path, looks up the most constrained budget of
// that scope through a cached StatusSource, infers the task type, asks the
// selection service for a model and rewrites the body's "model" field. The
// selection is stashed under the request id so that Complete, called once
// the provider reports actual token counts, can reconcile the spend.
//
// Field paths take one of four forms:
//
//	header.X-Team-ID      request header
//	query.team            URL query parameter
//	body.metadata.team    dotted path into the JSON body
//	context.team          value placed on the context with WithValue
//
// Any failure on the way (unreadable body, unresolved scope, catalog
// outage, no admissible model) is a degraded-mode event: it is logged,
// audited and counted, and in fail-open mode the original request is
// forwarded unmodified. In fail-closed mode the request is rejected with
// 503. Budget enforcement refusals are always rejected with 403.
package ingress
