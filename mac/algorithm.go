package mac

import (
	"github.com/cockroachdb/errors"
	"github.com/effective-security/p11mac/hashalg"
	"github.com/miekg/pkcs11"
)

// Algorithm identifies a supported HMAC variant
type Algorithm int

// Supported HMAC variants
const (
	HMACSHA256 Algorithm = 1 + iota
	HMACSHA384
	HMACSHA512
	HMACSHA3_256
	HMACSHA3_384
	HMACSHA3_512
)

// ErrUnsupportedAlgorithm is returned for an algorithm outside the
// supported set. With exhaustive mappings below it is not reachable
// through normal use.
var ErrUnsupportedAlgorithm = errors.New("unsupported HMAC algorithm")

// Mechanism returns the PKCS#11 mechanism code for the algorithm
func (a Algorithm) Mechanism() (uint, error) {
	switch a {
	case HMACSHA256:
		return pkcs11.CKM_SHA256_HMAC, nil
	case HMACSHA384:
		return pkcs11.CKM_SHA384_HMAC, nil
	case HMACSHA512:
		return pkcs11.CKM_SHA512_HMAC, nil
	case HMACSHA3_256:
		return pkcs11.CKM_SHA3_256_HMAC, nil
	case HMACSHA3_384:
		return pkcs11.CKM_SHA3_384_HMAC, nil
	case HMACSHA3_512:
		return pkcs11.CKM_SHA3_512_HMAC, nil
	}
	return 0, errors.Wrapf(ErrUnsupportedAlgorithm, "algorithm: %d", a)
}

// Hash returns the underlying digest algorithm, used only to look up
// the expected tag length.
func (a Algorithm) Hash() (hashalg.Algorithm, error) {
	switch a {
	case HMACSHA256:
		return hashalg.SHA256, nil
	case HMACSHA384:
		return hashalg.SHA384, nil
	case HMACSHA512:
		return hashalg.SHA512, nil
	case HMACSHA3_256:
		return hashalg.SHA3_256, nil
	case HMACSHA3_384:
		return hashalg.SHA3_384, nil
	case HMACSHA3_512:
		return hashalg.SHA3_512, nil
	}
	return 0, errors.Wrapf(ErrUnsupportedAlgorithm, "algorithm: %d", a)
}

// TagLength returns the expected tag size in bytes
func (a Algorithm) TagLength() (int, error) {
	h, err := a.Hash()
	if err != nil {
		return 0, err
	}
	return h.Length()
}

func (a Algorithm) String() string {
	switch a {
	case HMACSHA256:
		return "HMAC-SHA256"
	case HMACSHA384:
		return "HMAC-SHA384"
	case HMACSHA512:
		return "HMAC-SHA512"
	case HMACSHA3_256:
		return "HMAC-SHA3-256"
	case HMACSHA3_384:
		return "HMAC-SHA3-384"
	case HMACSHA3_512:
		return "HMAC-SHA3-512"
	}
	return "UNKNOWN"
}

// ParseAlgorithm resolves an algorithm by its String name
func ParseAlgorithm(name string) (Algorithm, error) {
	for _, a := range []Algorithm{
		HMACSHA256,
		HMACSHA384,
		HMACSHA512,
		HMACSHA3_256,
		HMACSHA3_384,
		HMACSHA3_512,
	} {
		if a.String() == name {
			return a, nil
		}
	}
	return 0, errors.Wrapf(ErrUnsupportedAlgorithm, "algorithm: %q", name)
}
