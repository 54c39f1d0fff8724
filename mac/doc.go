// Package mac computes keyed-hash message authentication codes by
// delegating the cryptographic work to a PKCS#11 token. It maps each
// supported HMAC variant to the token's mechanism and to the expected
// tag length, imports the raw key for the duration of one signing
// session, streams the message through the token and returns the tag.
//
// The package never implements the underlying hash or MAC arithmetic
// itself.
package mac
