// Package transport performs one physical HTTP call against the remote
// catalog API.
//
// HTTPTransport encodes JSON request bodies, attaches the bearer token when
// one is configured and classifies failures for the retry layer: network
// failures become resilience.TransportError and non-2xx responses become
// resilience.StatusError. Outbound requests are traced with otelhttp.
package transport
