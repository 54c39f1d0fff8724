package p11

import (
	"github.com/miekg/pkcs11"
)

// Ctx is the subset of pkcs11.Ctx used by this package,
// extracted to an interface so that a software token can stand in
// for a real module in tests.
type Ctx interface {
	Destroy()
	Initialize(opts ...pkcs11.InitializeOption) error
	Finalize() error
	GetSlotList(tokenPresent bool) ([]uint, error)
	GetSlotInfo(slotID uint) (pkcs11.SlotInfo, error)
	GetTokenInfo(slotID uint) (pkcs11.TokenInfo, error)
	OpenSession(slotID uint, flags uint) (pkcs11.SessionHandle, error)
	CloseSession(sh pkcs11.SessionHandle) error
	Login(sh pkcs11.SessionHandle, userType uint, pin string) error
	Logout(sh pkcs11.SessionHandle) error
	CreateObject(sh pkcs11.SessionHandle, temp []*pkcs11.Attribute) (pkcs11.ObjectHandle, error)
	DestroyObject(sh pkcs11.SessionHandle, oh pkcs11.ObjectHandle) error
	SignInit(sh pkcs11.SessionHandle, m []*pkcs11.Mechanism, o pkcs11.ObjectHandle) error
	SignUpdate(sh pkcs11.SessionHandle, message []byte) error
	SignFinal(sh pkcs11.SessionHandle) ([]byte, error)
}

var _ Ctx = (*pkcs11.Ctx)(nil)

// CtxFactory loads a PKCS#11 module from the given library path.
// Override for unittest.
var CtxFactory = func(path string) Ctx {
	return pkcs11.New(path)
}
