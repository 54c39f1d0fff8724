// Package p11 provides a Go interface to PKCS#11 cryptographic devices
// such as Hardware Security Modules (HSMs) and smart cards.
//
// The package covers the small capability set needed by MAC providers:
//   - Module loading and one-time initialization
//   - Slot and token discovery
//   - Session management
//   - Import of symmetric session keys scoped for signing
//   - Streaming sign operations
//
// Imported keys are session objects and never persist on the token.
//
// This package is based on the crypto11 layer of
// github.com/effective-security/xpki, reduced to symmetric signing.
package p11
