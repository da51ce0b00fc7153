package keymgr

import (
	"context"
	"fmt"
	"sync"

	"github.com/ilpconnector/connectord/config"
	"github.com/miekg/pkcs11"
)

// hsmBackend signs digests through a PKCS#11 token (e.g. a YubiHSM2 or
// CloudHSM partition). Keys are located by label within the configured
// slot; the session is opened once and reused, guarded by a mutex since
// PKCS#11 sessions are not safe for concurrent use.
type hsmBackend struct {
	ctx  *pkcs11.Ctx
	sh   pkcs11.SessionHandle
	slot uint
	pin  string

	mu         sync.Mutex
	labelCache map[string]pkcs11.ObjectHandle
}

func newHSMBackend(cfg *config.Config) (KeyManager, error) {
	if cfg.PKCS11Lib == "" || cfg.PKCS11Label == "" {
		return nil, ErrConfigError
	}

	ctx := pkcs11.New(cfg.PKCS11Lib)
	if ctx == nil {
		return nil, fmt.Errorf("%w: could not load pkcs11 module %q", ErrConfigError, cfg.PKCS11Lib)
	}
	if err := ctx.Initialize(); err != nil {
		return nil, fmt.Errorf("%w: pkcs11 initialize: %v", ErrConfigError, err)
	}

	sh, err := ctx.OpenSession(cfg.PKCS11Slot, pkcs11.CKF_SERIAL_SESSION|pkcs11.CKF_RW_SESSION)
	if err != nil {
		return nil, fmt.Errorf("%w: pkcs11 open session: %v", ErrConfigError, err)
	}
	if err := ctx.Login(sh, pkcs11.CKU_USER, cfg.PKCS11Pin); err != nil {
		return nil, fmt.Errorf("%w: pkcs11 login: %v", ErrSigningRejected, err)
	}

	return &hsmBackend{
		ctx:        ctx,
		sh:         sh,
		slot:       cfg.PKCS11Slot,
		pin:        cfg.PKCS11Pin,
		labelCache: make(map[string]pkcs11.ObjectHandle),
	}, nil
}

func (b *hsmBackend) findKey(label string) (pkcs11.ObjectHandle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if h, ok := b.labelCache[label]; ok {
		return h, nil
	}

	tmpl := []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_CLASS, pkcs11.CKO_PRIVATE_KEY),
		pkcs11.NewAttribute(pkcs11.CKA_LABEL, label),
	}
	if err := b.ctx.FindObjectsInit(b.sh, tmpl); err != nil {
		return 0, fmt.Errorf("%w: find objects init: %v", ErrBackendUnavailable, err)
	}
	defer b.ctx.FindObjectsFinal(b.sh)

	objs, _, err := b.ctx.FindObjects(b.sh, 1)
	if err != nil {
		return 0, fmt.Errorf("%w: find objects: %v", ErrBackendUnavailable, err)
	}
	if len(objs) == 0 {
		return 0, ErrKeyNotFound
	}

	b.labelCache[label] = objs[0]
	return objs[0], nil
}

func (b *hsmBackend) Sign(_ context.Context, keyID string, digest []byte) ([]byte, error) {
	handle, err := b.findKey(keyID)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	mech := []*pkcs11.Mechanism{pkcs11.NewMechanism(pkcs11.CKM_ECDSA, nil)}
	if err := b.ctx.SignInit(b.sh, mech, handle); err != nil {
		return nil, fmt.Errorf("%w: sign init: %v", ErrBackendUnavailable, err)
	}
	sig, err := b.ctx.Sign(b.sh, digest)
	if err != nil {
		return nil, fmt.Errorf("%w: sign: %v", ErrBackendUnavailable, err)
	}
	return sig, nil
}

func (b *hsmBackend) PublicKey(_ context.Context, keyID string) ([]byte, error) {
	handle, err := b.findKey(keyID)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	tmpl := []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_EC_POINT, nil),
	}
	attrs, err := b.ctx.GetAttributeValue(b.sh, handle, tmpl)
	if err != nil {
		return nil, fmt.Errorf("%w: get attribute: %v", ErrBackendUnavailable, err)
	}
	if len(attrs) == 0 {
		return nil, ErrKeyNotFound
	}
	return attrs[0].Value, nil
}
