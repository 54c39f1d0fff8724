package hashalg

import (
	"crypto"
	"hash"

	"github.com/pkg/errors"

	// register SHA-3 constructors with crypto.Hash
	_ "golang.org/x/crypto/sha3"
)

// Algorithm identifies a supported digest algorithm.
type Algorithm int

// Supported digest algorithms
const (
	SHA256 Algorithm = 1 + iota
	SHA384
	SHA512
	SHA3_256
	SHA3_384
	SHA3_512
)

// Length returns the digest size in bytes
func (a Algorithm) Length() (int, error) {
	switch a {
	case SHA256, SHA3_256:
		return 32, nil
	case SHA384, SHA3_384:
		return 48, nil
	case SHA512, SHA3_512:
		return 64, nil
	}
	return 0, errors.Errorf("unknown hash algorithm: %d", a)
}

// HashFunc returns the crypto.Hash identity for the algorithm
func (a Algorithm) HashFunc() (crypto.Hash, error) {
	switch a {
	case SHA256:
		return crypto.SHA256, nil
	case SHA384:
		return crypto.SHA384, nil
	case SHA512:
		return crypto.SHA512, nil
	case SHA3_256:
		return crypto.SHA3_256, nil
	case SHA3_384:
		return crypto.SHA3_384, nil
	case SHA3_512:
		return crypto.SHA3_512, nil
	}
	return 0, errors.Errorf("unknown hash algorithm: %d", a)
}

// New returns a new hash.Hash computing the algorithm
func (a Algorithm) New() (hash.Hash, error) {
	h, err := a.HashFunc()
	if err != nil {
		return nil, err
	}
	return h.New(), nil
}

func (a Algorithm) String() string {
	switch a {
	case SHA256:
		return "SHA256"
	case SHA384:
		return "SHA384"
	case SHA512:
		return "SHA512"
	case SHA3_256:
		return "SHA3-256"
	case SHA3_384:
		return "SHA3-384"
	case SHA3_512:
		return "SHA3-512"
	}
	return "UNKNOWN"
}
