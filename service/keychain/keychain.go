package keychain

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/elnosh/gonuts/cashu/nuts/nut13"
	"github.com/tyler-smith/go-bip39"
)

// NUT-13 derivation purpose.
const purpose = 129372

var ErrInvalidMnemonic = errors.New("mnemonic must be 12 or 24 valid bip39 words")

// Keychain derives deterministic proof secrets and blinding factors from a wallet seed.
type Keychain struct {
	master *hdkeychain.ExtendedKey
}

func New(mnemonic string) (*Keychain, error) {
	words := strings.Fields(mnemonic)
	if len(words) != 12 && len(words) != 24 {
		return nil, ErrInvalidMnemonic
	}

	mnemonic = strings.Join(words, " ")
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, ErrInvalidMnemonic
	}

	master, err := hdkeychain.NewMaster(bip39.NewSeed(mnemonic, ""), &chaincfg.MainNetParams)
	if err != nil {
		return nil, err
	}

	return &Keychain{master: master}, nil
}

// GenerateMnemonic returns a fresh 12 or 24 word mnemonic.
func GenerateMnemonic(words int) (string, error) {
	var bits int
	switch words {
	case 12:
		bits = 128
	case 24:
		bits = 256
	default:
		return "", ErrInvalidMnemonic
	}

	entropy, err := bip39.NewEntropy(bits)
	if err != nil {
		return "", err
	}

	return bip39.NewMnemonic(entropy)
}

// KeysetIndex maps a hex keyset id onto its hardened derivation index.
func KeysetIndex(id string) (uint32, error) {
	b, err := hex.DecodeString(id)
	if err != nil || len(b) == 0 {
		return 0, fmt.Errorf("keyset id %q is not hex", id)
	}

	n := new(big.Int).SetBytes(b)
	n.Mod(n, big.NewInt(1<<31-1))
	return uint32(n.Uint64()), nil
}

// Path is the derivation path the counter of a keyset is stored under.
func Path(id string) (string, error) {
	idx, err := KeysetIndex(id)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("m/%d'/0'/%d'", purpose, idx), nil
}

// Derive returns the secret and blinding factor at m/129372'/0'/keyset'/counter'/{0,1}.
func (k *Keychain) Derive(keysetID string, counter uint32) (string, *secp256k1.PrivateKey, error) {
	if _, err := KeysetIndex(keysetID); err != nil {
		return "", nil, err
	}

	keysetPath, err := nut13.DeriveKeysetPath(k.master, keysetID)
	if err != nil {
		return "", nil, err
	}

	secret, err := nut13.DeriveSecret(keysetPath, counter)
	if err != nil {
		return "", nil, err
	}

	r, err := nut13.DeriveBlindingFactor(keysetPath, counter)
	if err != nil {
		return "", nil, err
	}

	return secret, r, nil
}
