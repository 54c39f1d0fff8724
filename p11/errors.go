package p11

import (
	"github.com/cockroachdb/errors"
	"github.com/miekg/pkcs11"
)

// CKR extracts the native PKCS#11 return code from an error produced
// by this package, following wrapping.
func CKR(err error) (uint, bool) {
	var pe pkcs11.Error
	if errors.As(err, &pe) {
		return uint(pe), true
	}
	return 0, false
}

func isCKR(err error, code uint) bool {
	ckr, ok := CKR(err)
	return ok && ckr == code
}
