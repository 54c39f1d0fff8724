package mac

import (
	"math"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/p11mac/metricskey"
	"github.com/effective-security/p11mac/p11"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/p11mac", "mac")

// ProviderName specifies a provider name
const ProviderName = "PKCS11"

// ErrInputTooLarge is returned when the message does not fit the
// provider's 32-bit length representation.
var ErrInputTooLarge = errors.New("message exceeds provider length limit")

// fitsProviderLen reports whether a message length fits the 32-bit
// length representation of the PKCS#11 interface.
func fitsProviderLen(n int) bool {
	return uint64(n) <= math.MaxUint32
}

// Hmac computes the HMAC tag of data under key on the process-wide
// default token, configuring it on first use. See p11.Default.
func Hmac(alg Algorithm, key, data []byte) ([]byte, error) {
	p11lib, err := p11.Default()
	if err != nil {
		return nil, err
	}
	return HmacOn(p11lib, alg, key, data)
}

// HmacOn computes the HMAC tag of data under key on the given token.
//
// The raw key is imported as a session-scoped signing key, the whole
// message is fed in a single update, and the operation either returns
// a complete tag of the algorithm's expected length or an error; no
// partial results, no retries. The session and the imported key are
// released on every exit path.
func HmacOn(p11lib *p11.Lib, alg Algorithm, key, data []byte) (tag []byte, err error) {
	defer metricskey.PerfMacOperation.MeasureSince(time.Now(), ProviderName, "hmac")
	defer func() {
		if err != nil {
			metricskey.StatsMacFailed.IncrCounter(1, ProviderName, "hmac")
		}
	}()

	if !fitsProviderLen(len(data)) {
		return nil, errors.Wrapf(ErrInputTooLarge, "length: %d", len(data))
	}

	mech, err := alg.Mechanism()
	if err != nil {
		return nil, err
	}
	expected, err := alg.TagLength()
	if err != nil {
		return nil, err
	}

	session, err := p11lib.NewSigningSession()
	if err != nil {
		return nil, err
	}
	defer session.Close()

	kh, err := session.ImportSymKey(mech, key)
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to import key, alg=%s", alg)
	}

	err = session.SignInit(mech, kh)
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to create signing context, alg=%s", alg)
	}

	err = session.SignUpdate(data)
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to digest message, alg=%s", alg)
	}

	tag, err = session.SignFinal()
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to finalize, alg=%s", alg)
	}

	// The token disagreeing with the static length table is a broken
	// invariant, not a runtime failure.
	if len(tag) != expected {
		logger.Panicf("tag length mismatch: alg=%s, expected=%d, actual=%d", alg, expected, len(tag))
	}

	return tag, nil
}
