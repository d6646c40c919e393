// Package wallet derives one-time deposit keys. Every derivation path maps
// deterministically to the same secp256k1 key, so a deposit address can be
// re-derived at refund time from the path alone.
package wallet

import (
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// DryRunSeed is a fixed throwaway seed for local dry runs. Never fund
// addresses derived from it.
const DryRunSeed = "59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"

// Deriver produces deposit addresses and their signing keys from a root
// seed. The seed never leaves the process.
type Deriver struct {
	seed []byte
}

func NewDeriver(seedHex string) (*Deriver, error) {
	seedHex = strings.TrimPrefix(seedHex, "0x")
	if seedHex == "" {
		return nil, fmt.Errorf("wallet seed is required")
	}
	seed, err := crypto.HexToECDSA(seedHex)
	if err != nil {
		return nil, fmt.Errorf("parse wallet seed: %w", err)
	}
	return &Deriver{seed: crypto.FromECDSA(seed)}, nil
}

// PathFor builds the canonical derivation path for a request.
func PathFor(requesterID, name string) string {
	return requesterID + "-" + name
}

// KeyFor derives the signing key for a path.
func (d *Deriver) KeyFor(path string) (*ecdsa.PrivateKey, error) {
	if path == "" {
		return nil, fmt.Errorf("derivation path is empty")
	}
	child := crypto.Keccak256(d.seed, []byte(path))
	key, err := crypto.ToECDSA(child)
	if err != nil {
		return nil, fmt.Errorf("derive key for path %q: %w", path, err)
	}
	return key, nil
}

// AddressFor derives the deposit address for a path.
func (d *Deriver) AddressFor(path string) (common.Address, error) {
	key, err := d.KeyFor(path)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(key.PublicKey), nil
}
