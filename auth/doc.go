// Package auth holds the bearer credential attached to outbound requests.
//
// A Token wraps the raw credential string. JWT credentials are inspected
// without signature verification (the server verifies them) so the client
// can read the expiry and subject. Expiry is advisory: an expired token is
// still sent and the server's answer decides.
// Opaque API tokens are accepted as-is and never expire client-side.
package auth
