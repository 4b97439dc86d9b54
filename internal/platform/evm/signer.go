package evm

import (
	"context"
	"crypto/ecdsa"
	"fmt"

	gethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/R3E-Network/proofwork/internal/platform"
)

// KeySource resolves a named key to its ECDSA private key. Production
// deployments implement this against AWS KMS (or another custodial signer)
// without exposing the key material to the process; local development uses
// HexKeySource, which maps the KMS_PAYOUT_KEY_ID key id to the hex key given
// in PAYOUT_SIGNER_HEX_KEY, the way the teacher's LocalTEESigner stands in for a production signer
// behind an identical interface.
type KeySource interface {
	Resolve(ctx context.Context, keyID string) (*ecdsa.PrivateKey, error)
}

// HexKeySource resolves each keyID through a statically configured map of
// hex private keys; an unknown keyID is an error. It exists purely for local development and tests; a real
// deployment swaps in a KMS-backed KeySource without touching SignerDriver.
type HexKeySource struct {
	keys map[string]*ecdsa.PrivateKey
}

// NewHexKeySource builds a source from a map of keyID -> hex-encoded
// private key (with or without a 0x prefix).
func NewHexKeySource(hexKeys map[string]string) (*HexKeySource, error) {
	keys := make(map[string]*ecdsa.PrivateKey, len(hexKeys))
	for id, hex := range hexKeys {
		pk, err := gethcrypto.HexToECDSA(trim0x(hex))
		if err != nil {
			return nil, fmt.Errorf("evm: parse key %q: %w", id, err)
		}
		keys[id] = pk
	}
	return &HexKeySource{keys: keys}, nil
}

func (s *HexKeySource) Resolve(_ context.Context, keyID string) (*ecdsa.PrivateKey, error) {
	pk, ok := s.keys[keyID]
	if !ok {
		return nil, fmt.Errorf("evm: unknown key id %q", keyID)
	}
	return pk, nil
}

func trim0x(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}

// SignerDriver implements platform.SignerDriver by delegating key
// resolution to a KeySource and signing with go-ethereum's secp256k1
// implementation. It never persists key material itself.
type SignerDriver struct {
	source KeySource
}

func NewSignerDriver(source KeySource) *SignerDriver {
	return &SignerDriver{source: source}
}

func (d *SignerDriver) Name() string { return "evm-signer" }

func (d *SignerDriver) Start(ctx context.Context) error { return nil }
func (d *SignerDriver) Stop(ctx context.Context) error  { return nil }

func (d *SignerDriver) Ping(ctx context.Context) error {
	if d.source == nil {
		return fmt.Errorf("evm: signer has no key source configured")
	}
	return nil
}

func (d *SignerDriver) Sign(ctx context.Context, keyID string, digest []byte) ([]byte, error) {
	pk, err := d.source.Resolve(ctx, keyID)
	if err != nil {
		return nil, err
	}
	if len(digest) != 32 {
		return nil, fmt.Errorf("evm: digest must be 32 bytes, got %d", len(digest))
	}
	sig, err := gethcrypto.Sign(digest, pk)
	if err != nil {
		return nil, fmt.Errorf("evm: sign: %w", err)
	}
	return sig, nil
}

func (d *SignerDriver) PublicAddress(ctx context.Context, keyID string) (string, error) {
	pk, err := d.source.Resolve(ctx, keyID)
	if err != nil {
		return "", err
	}
	return gethcrypto.PubkeyToAddress(pk.PublicKey).Hex(), nil
}

var _ platform.SignerDriver = (*SignerDriver)(nil)
