package p11

import (
	"github.com/effective-security/x/guid"
	"github.com/miekg/pkcs11"
	"github.com/pkg/errors"
)

// SigningSession is a session on the internal slot used to drive a
// single MAC computation. Keys imported into it are session objects
// and are released when the session is closed.
type SigningSession struct {
	lib *Lib
	sh  pkcs11.SessionHandle

	closed bool
}

// NewSigningSession opens a session on the internal slot
func (p11lib *Lib) NewSigningSession() (*SigningSession, error) {
	sh, err := p11lib.Ctx.OpenSession(p11lib.Slot.ID, pkcs11.CKF_SERIAL_SESSION)
	if err != nil {
		return nil, errors.WithMessagef(err, "OpenSession on slot %d", p11lib.Slot.ID)
	}
	return &SigningSession{
		lib: p11lib,
		sh:  sh,
	}, nil
}

// ImportSymKey imports raw key bytes as a session-scoped secret key
// usable for signing with the given mechanism.
func (s *SigningSession) ImportSymKey(mech uint, key []byte) (pkcs11.ObjectHandle, error) {
	label := "imported-" + guid.MustCreate()
	template := []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_CLASS, pkcs11.CKO_SECRET_KEY),
		pkcs11.NewAttribute(pkcs11.CKA_KEY_TYPE, pkcs11.CKK_GENERIC_SECRET),
		pkcs11.NewAttribute(pkcs11.CKA_TOKEN, false),
		pkcs11.NewAttribute(pkcs11.CKA_SIGN, true),
		pkcs11.NewAttribute(pkcs11.CKA_SENSITIVE, true),
		pkcs11.NewAttribute(pkcs11.CKA_EXTRACTABLE, false),
		pkcs11.NewAttribute(pkcs11.CKA_LABEL, []byte(label)),
		pkcs11.NewAttribute(pkcs11.CKA_VALUE, key),
	}

	kh, err := s.lib.Ctx.CreateObject(s.sh, template)
	if err != nil {
		return 0, errors.WithMessagef(err, "CreateObject, mech=0x%X", mech)
	}
	return kh, nil
}

// SignInit binds the session to the key and mechanism, with an empty
// mechanism parameter.
func (s *SigningSession) SignInit(mech uint, key pkcs11.ObjectHandle) error {
	err := s.lib.Ctx.SignInit(s.sh, []*pkcs11.Mechanism{pkcs11.NewMechanism(mech, nil)}, key)
	if err != nil {
		return errors.WithMessagef(err, "SignInit, mech=0x%X", mech)
	}
	return nil
}

// SignUpdate feeds message bytes into the signing operation
func (s *SigningSession) SignUpdate(data []byte) error {
	err := s.lib.Ctx.SignUpdate(s.sh, data)
	if err != nil {
		return errors.WithMessage(err, "SignUpdate")
	}
	return nil
}

// SignFinal completes the signing operation and returns the tag.
// The operation must not be used again after this call.
func (s *SigningSession) SignFinal() ([]byte, error) {
	tag, err := s.lib.Ctx.SignFinal(s.sh)
	if err != nil {
		return nil, errors.WithMessage(err, "SignFinal")
	}
	return tag, nil
}

// Close releases the session and any objects created within it.
// It is safe to call more than once.
func (s *SigningSession) Close() {
	if s.closed {
		return
	}
	s.closed = true
	if err := s.lib.Ctx.CloseSession(s.sh); err != nil {
		logger.Warningf("reason=CloseSession, err=[%v]", err)
	}
}
