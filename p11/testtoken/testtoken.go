package testtoken

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/binary"
	"hash"
	"sync"

	"github.com/effective-security/p11mac/p11"
	"github.com/miekg/pkcs11"
	"golang.org/x/crypto/sha3"
)

// slotID is the single slot exposed by the software token
const slotID = uint(1)

type object struct {
	class   uint
	keyType uint
	value   []byte
	sign    bool
}

type session struct {
	objects map[pkcs11.ObjectHandle]*object
	signOp  hash.Hash
}

// Token is an in-memory implementation of p11.Ctx backed by the Go
// crypto libraries. It supports the operations needed by MAC
// computation and fails with native PKCS#11 codes otherwise.
type Token struct {
	mu          sync.Mutex
	initialized bool
	loggedIn    bool
	nextSession pkcs11.SessionHandle
	nextObject  pkcs11.ObjectHandle
	sessions    map[pkcs11.SessionHandle]*session
	failures    map[string]pkcs11.Error
}

// Ensure compiles
var _ p11.Ctx = (*Token)(nil)

// New returns an uninitialized software token
func New() *Token {
	return &Token{
		nextSession: 100,
		nextObject:  1000,
		sessions:    map[pkcs11.SessionHandle]*session{},
		failures:    map[string]pkcs11.Error{},
	}
}

// Lib returns a p11.Lib driving a fresh software token
func Lib() (*p11.Lib, error) {
	return p11.NewLib(New(), Config())
}

// Config returns the token configuration matching the software token
func Config() p11.TokenConfig {
	return &tokenConfig{
		manufacturer: "p11mac",
		model:        "SoftToken",
		path:         "testtoken",
		label:        "testtoken",
		pin:          "1234",
	}
}

type tokenConfig struct {
	manufacturer, model, path, serial, label, pin string
}

func (c *tokenConfig) Manufacturer() string { return c.manufacturer }
func (c *tokenConfig) Model() string        { return c.model }
func (c *tokenConfig) Path() string         { return c.path }
func (c *tokenConfig) TokenSerial() string  { return c.serial }
func (c *tokenConfig) TokenLabel() string   { return c.label }
func (c *tokenConfig) Pin() string          { return c.pin }
func (c *tokenConfig) Attributes() string   { return "" }

// FailWith makes the named operation return the given PKCS#11 code
// until Reset is called. Operation names match the Ctx methods.
func (t *Token) FailWith(op string, ckr uint) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failures[op] = pkcs11.Error(ckr)
}

// Reset clears injected failures
func (t *Token) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failures = map[string]pkcs11.Error{}
}

func (t *Token) failure(op string) error {
	if err, ok := t.failures[op]; ok {
		return err
	}
	return nil
}

// Destroy is a no-op for the software token
func (t *Token) Destroy() {}

// Initialize marks the token ready; options are ignored
func (t *Token) Initialize(opts ...pkcs11.InitializeOption) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.initialized {
		return pkcs11.Error(pkcs11.CKR_CRYPTOKI_ALREADY_INITIALIZED)
	}
	t.initialized = true
	return nil
}

// Finalize releases all sessions
func (t *Token) Finalize() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.initialized {
		return pkcs11.Error(pkcs11.CKR_CRYPTOKI_NOT_INITIALIZED)
	}
	t.initialized = false
	t.sessions = map[pkcs11.SessionHandle]*session{}
	return nil
}

// GetSlotList returns the single software slot
func (t *Token) GetSlotList(tokenPresent bool) ([]uint, error) {
	if err := t.failure("GetSlotList"); err != nil {
		return nil, err
	}
	return []uint{slotID}, nil
}

// GetSlotInfo describes the software slot
func (t *Token) GetSlotInfo(id uint) (pkcs11.SlotInfo, error) {
	if id != slotID {
		return pkcs11.SlotInfo{}, pkcs11.Error(pkcs11.CKR_SLOT_ID_INVALID)
	}
	return pkcs11.SlotInfo{
		SlotDescription: "p11mac software token",
		ManufacturerID:  "p11mac",
		Flags:           pkcs11.CKF_TOKEN_PRESENT,
	}, nil
}

// GetTokenInfo describes the software token
func (t *Token) GetTokenInfo(id uint) (pkcs11.TokenInfo, error) {
	if id != slotID {
		return pkcs11.TokenInfo{}, pkcs11.Error(pkcs11.CKR_SLOT_ID_INVALID)
	}
	return pkcs11.TokenInfo{
		Label:          "testtoken",
		ManufacturerID: "p11mac",
		Model:          "SoftToken",
		SerialNumber:   "20000001",
	}, nil
}

// OpenSession creates an in-memory session
func (t *Token) OpenSession(id uint, flags uint) (pkcs11.SessionHandle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.failure("OpenSession"); err != nil {
		return 0, err
	}
	if !t.initialized {
		return 0, pkcs11.Error(pkcs11.CKR_CRYPTOKI_NOT_INITIALIZED)
	}
	if id != slotID {
		return 0, pkcs11.Error(pkcs11.CKR_SLOT_ID_INVALID)
	}
	t.nextSession++
	sh := t.nextSession
	t.sessions[sh] = &session{
		objects: map[pkcs11.ObjectHandle]*object{},
	}
	return sh, nil
}

// CloseSession drops the session and its objects
func (t *Token) CloseSession(sh pkcs11.SessionHandle) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.sessions[sh]; !ok {
		return pkcs11.Error(pkcs11.CKR_SESSION_HANDLE_INVALID)
	}
	delete(t.sessions, sh)
	return nil
}

// Login records login state; any PIN is accepted
func (t *Token) Login(sh pkcs11.SessionHandle, userType uint, pin string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.sessions[sh]; !ok {
		return pkcs11.Error(pkcs11.CKR_SESSION_HANDLE_INVALID)
	}
	if t.loggedIn {
		return pkcs11.Error(pkcs11.CKR_USER_ALREADY_LOGGED_IN)
	}
	t.loggedIn = true
	return nil
}

// Logout clears login state
func (t *Token) Logout(sh pkcs11.SessionHandle) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.loggedIn = false
	return nil
}

// CreateObject stores a secret key object in the session
func (t *Token) CreateObject(sh pkcs11.SessionHandle, temp []*pkcs11.Attribute) (pkcs11.ObjectHandle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.failure("CreateObject"); err != nil {
		return 0, err
	}
	s, ok := t.sessions[sh]
	if !ok {
		return 0, pkcs11.Error(pkcs11.CKR_SESSION_HANDLE_INVALID)
	}

	obj := &object{}
	seenValue := false
	for _, attr := range temp {
		switch attr.Type {
		case pkcs11.CKA_CLASS:
			obj.class = bytesToUlong(attr.Value)
		case pkcs11.CKA_KEY_TYPE:
			obj.keyType = bytesToUlong(attr.Value)
		case pkcs11.CKA_SIGN:
			obj.sign = len(attr.Value) > 0 && attr.Value[0] != 0
		case pkcs11.CKA_VALUE:
			obj.value = append([]byte{}, attr.Value...)
			seenValue = true
		}
	}
	if obj.class != pkcs11.CKO_SECRET_KEY || !seenValue {
		return 0, pkcs11.Error(pkcs11.CKR_TEMPLATE_INCOMPLETE)
	}

	t.nextObject++
	oh := t.nextObject
	s.objects[oh] = obj
	return oh, nil
}

// DestroyObject removes the object from the session
func (t *Token) DestroyObject(sh pkcs11.SessionHandle, oh pkcs11.ObjectHandle) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[sh]
	if !ok {
		return pkcs11.Error(pkcs11.CKR_SESSION_HANDLE_INVALID)
	}
	if _, ok := s.objects[oh]; !ok {
		return pkcs11.Error(pkcs11.CKR_OBJECT_HANDLE_INVALID)
	}
	delete(s.objects, oh)
	return nil
}

// SignInit starts an HMAC operation for the mechanism and key
func (t *Token) SignInit(sh pkcs11.SessionHandle, m []*pkcs11.Mechanism, oh pkcs11.ObjectHandle) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.failure("SignInit"); err != nil {
		return err
	}
	s, ok := t.sessions[sh]
	if !ok {
		return pkcs11.Error(pkcs11.CKR_SESSION_HANDLE_INVALID)
	}
	if len(m) != 1 {
		return pkcs11.Error(pkcs11.CKR_MECHANISM_INVALID)
	}
	obj, ok := s.objects[oh]
	if !ok {
		return pkcs11.Error(pkcs11.CKR_KEY_HANDLE_INVALID)
	}
	if !obj.sign {
		return pkcs11.Error(pkcs11.CKR_KEY_FUNCTION_NOT_PERMITTED)
	}
	if s.signOp != nil {
		return pkcs11.Error(pkcs11.CKR_OPERATION_ACTIVE)
	}

	newHash, err := mechHash(m[0].Mechanism)
	if err != nil {
		return err
	}
	s.signOp = hmac.New(newHash, obj.value)
	return nil
}

// SignUpdate feeds data into the active HMAC operation
func (t *Token) SignUpdate(sh pkcs11.SessionHandle, message []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.failure("SignUpdate"); err != nil {
		return err
	}
	s, ok := t.sessions[sh]
	if !ok {
		return pkcs11.Error(pkcs11.CKR_SESSION_HANDLE_INVALID)
	}
	if s.signOp == nil {
		return pkcs11.Error(pkcs11.CKR_OPERATION_NOT_INITIALIZED)
	}
	_, _ = s.signOp.Write(message)
	return nil
}

// SignFinal completes the active HMAC operation
func (t *Token) SignFinal(sh pkcs11.SessionHandle) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.failure("SignFinal"); err != nil {
		return nil, err
	}
	s, ok := t.sessions[sh]
	if !ok {
		return nil, pkcs11.Error(pkcs11.CKR_SESSION_HANDLE_INVALID)
	}
	if s.signOp == nil {
		return nil, pkcs11.Error(pkcs11.CKR_OPERATION_NOT_INITIALIZED)
	}
	tag := s.signOp.Sum(nil)
	s.signOp = nil
	return tag, nil
}

func mechHash(mech uint) (func() hash.Hash, error) {
	switch mech {
	case pkcs11.CKM_SHA256_HMAC:
		return sha256.New, nil
	case pkcs11.CKM_SHA384_HMAC:
		return sha512.New384, nil
	case pkcs11.CKM_SHA512_HMAC:
		return sha512.New, nil
	case pkcs11.CKM_SHA3_256_HMAC:
		return sha3.New256, nil
	case pkcs11.CKM_SHA3_384_HMAC:
		return sha3.New384, nil
	case pkcs11.CKM_SHA3_512_HMAC:
		return sha3.New512, nil
	}
	return nil, pkcs11.Error(pkcs11.CKR_MECHANISM_INVALID)
}

func bytesToUlong(bs []byte) uint {
	buf := make([]byte, 8)
	copy(buf, bs)
	return uint(binary.LittleEndian.Uint64(buf))
}
