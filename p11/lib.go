package p11

import (
	"os"
	"strings"
	"sync"

	"github.com/effective-security/xlog"
	"github.com/miekg/pkcs11"
	"github.com/pkg/errors"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/p11mac", "p11")

// ConfigEnvName is the environment variable consulted by Default()
// when no default token has been configured explicitly.
const ConfigEnvName = "P11MAC_CONFIG"

// SlotTokenInfo describes the token slot selected at Init
type SlotTokenInfo struct {
	ID           uint
	Description  string
	Label        string
	Manufacturer string
	Model        string
	Serial       string
	Flags        uint
}

// Lib provides the loaded PKCS#11 module and its selected slot
type Lib struct {
	Ctx  Ctx
	Slot SlotTokenInfo

	cfg          TokenConfig
	loginSession pkcs11.SessionHandle
}

var (
	libsMu sync.Mutex
	libs   = map[string]*Lib{}
)

// Init loads and initializes the PKCS#11 module described by cfg.
// It is idempotent per module path: a second Init with the same path
// returns the already loaded Lib.
func Init(cfg TokenConfig) (*Lib, error) {
	libsMu.Lock()
	defer libsMu.Unlock()

	if lib, ok := libs[cfg.Path()]; ok {
		return lib, nil
	}

	ctx := CtxFactory(cfg.Path())
	if ctx == nil {
		return nil, errors.Errorf("unable to load PKCS#11 library: %s", cfg.Path())
	}

	lib, err := NewLib(ctx, cfg)
	if err != nil {
		ctx.Destroy()
		return nil, err
	}

	libs[cfg.Path()] = lib
	return lib, nil
}

// ConfigureFromFile loads a token configuration file and initializes
// the module it describes.
func ConfigureFromFile(filename string) (*Lib, error) {
	cfg, err := LoadTokenConfig(filename)
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to load HSM config: %s", filename)
	}
	return Init(cfg)
}

// NewLib initializes the provided PKCS#11 context and selects the
// internal slot per cfg. Most callers should use Init; NewLib exists
// for providers that construct their own Ctx, such as software tokens.
func NewLib(ctx Ctx, cfg TokenConfig) (*Lib, error) {
	err := ctx.Initialize()
	if err != nil && !isCKR(err, pkcs11.CKR_CRYPTOKI_ALREADY_INITIALIZED) {
		return nil, errors.WithMessagef(err, "Initialize: %s", cfg.Path())
	}

	lib := &Lib{
		Ctx: ctx,
		cfg: cfg,
	}

	err = lib.selectSlot()
	if err != nil {
		return nil, err
	}

	if pin := cfg.Pin(); pin != "" {
		err = lib.login(pin)
		if err != nil {
			return nil, err
		}
	}

	logger.KV(xlog.INFO,
		"slot", lib.Slot.ID,
		"label", lib.Slot.Label,
		"serial", lib.Slot.Serial)

	return lib, nil
}

// selectSlot picks the token slot: first match on configured serial or
// label, otherwise the first slot with a token present.
func (p11lib *Lib) selectSlot() error {
	list, err := p11lib.TokensInfo()
	if err != nil {
		return err
	}
	if len(list) == 0 {
		return errors.New("no slots with tokens found")
	}

	serial := p11lib.cfg.TokenSerial()
	label := p11lib.cfg.TokenLabel()

	if serial == "" && label == "" {
		p11lib.Slot = *list[0]
		return nil
	}

	for _, ti := range list {
		if (serial != "" && ti.Serial == serial) ||
			(label != "" && ti.Label == label) {
			p11lib.Slot = *ti
			return nil
		}
	}

	return errors.Errorf("token not found: serial=%q, label=%q", serial, label)
}

// login opens a keep-alive session and logs the token in.
// Login state is per token, so subsequent sessions inherit it.
func (p11lib *Lib) login(pin string) error {
	sh, err := p11lib.Ctx.OpenSession(p11lib.Slot.ID, pkcs11.CKF_SERIAL_SESSION)
	if err != nil {
		return errors.WithMessagef(err, "OpenSession on slot %d", p11lib.Slot.ID)
	}

	err = p11lib.Ctx.Login(sh, pkcs11.CKU_USER, pin)
	if err != nil && !isCKR(err, pkcs11.CKR_USER_ALREADY_LOGGED_IN) {
		_ = p11lib.Ctx.CloseSession(sh)
		return errors.WithMessagef(err, "Login on slot %d", p11lib.Slot.ID)
	}

	p11lib.loginSession = sh
	return nil
}

// CurrentSlotID returns current slot ID
func (p11lib *Lib) CurrentSlotID() uint {
	return p11lib.Slot.ID
}

// TokensInfo returns list of tokens
func (p11lib *Lib) TokensInfo() ([]*SlotTokenInfo, error) {
	list := []*SlotTokenInfo{}
	slots, err := p11lib.Ctx.GetSlotList(true)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	logger.Tracef("slots=%d", len(slots))

	for _, slotID := range slots {
		si, err := p11lib.Ctx.GetSlotInfo(slotID)
		if err != nil {
			return nil, errors.WithMessagef(err, "GetSlotInfo: %d", slotID)
		}
		ti, err := p11lib.Ctx.GetTokenInfo(slotID)
		if err != nil {
			logger.Errorf(
				"reason=GetTokenInfo, slotID=%d, ManufacturerID=%q, SlotDescription=%q, err=[%+v]",
				slotID,
				si.ManufacturerID,
				si.SlotDescription,
				err,
			)
			continue
		}
		list = append(list, &SlotTokenInfo{
			ID:           slotID,
			Description:  si.SlotDescription,
			Label:        ti.Label,
			Manufacturer: strings.TrimSpace(ti.ManufacturerID),
			Model:        strings.TrimSpace(ti.Model),
			Serial:       ti.SerialNumber,
			Flags:        ti.Flags,
		})
	}
	return list, nil
}

// Close logs out and releases the module
func (p11lib *Lib) Close() error {
	if p11lib.loginSession != 0 {
		_ = p11lib.Ctx.Logout(p11lib.loginSession)
		_ = p11lib.Ctx.CloseSession(p11lib.loginSession)
		p11lib.loginSession = 0
	}
	err := p11lib.Ctx.Finalize()
	p11lib.Ctx.Destroy()

	libsMu.Lock()
	defer libsMu.Unlock()
	for path, lib := range libs {
		if lib == p11lib {
			delete(libs, path)
		}
	}

	return errors.WithStack(err)
}

var (
	defMu sync.Mutex
	def   *Lib
)

// SetDefault sets the process-wide default token used by package-level
// operations. It replaces any lazily configured default.
func SetDefault(lib *Lib) {
	defMu.Lock()
	defer defMu.Unlock()
	def = lib
}

// Default returns the process-wide default token, configuring it on
// first use from the file named by $P11MAC_CONFIG. It is safe to call
// concurrently and repeatedly; configuration happens at most once.
func Default() (*Lib, error) {
	defMu.Lock()
	defer defMu.Unlock()

	if def != nil {
		return def, nil
	}

	filename := os.Getenv(ConfigEnvName)
	if filename == "" {
		return nil, errors.Errorf("default token not configured: set %s or call SetDefault", ConfigEnvName)
	}

	lib, err := ConfigureFromFile(filename)
	if err != nil {
		return nil, err
	}
	def = lib
	return def, nil
}
