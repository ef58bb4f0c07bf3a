// Package canon computes stable identities for outbound requests.
//
// A request's identity is the SHA-256 of its canonical JSON form (RFC 8785)
// prefixed by a versioned domain string. Two requests that differ only in
// query parameter order, method case, host case or fragment map to the same
// key, so the router can share cache entries between them.
package canon
