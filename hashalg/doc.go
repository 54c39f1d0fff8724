// Package hashalg describes the digest algorithms used by MAC providers:
// their identity, output length and software constructors.
package hashalg
