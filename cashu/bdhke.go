package cashu

import (
	"encoding/hex"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/elnosh/gonuts/crypto"
)

// HashToCurve maps a secret onto a secp256k1 point (NUT-00).
func HashToCurve(message []byte) (*secp256k1.PublicKey, error) {
	return crypto.HashToCurve(message)
}

// Y returns the hex encoded hash_to_curve point of a proof secret, as the mint indexes spend state by it.
func Y(secret string) (string, error) {
	pk, err := HashToCurve([]byte(secret))
	if err != nil {
		return "", err
	}

	return EncodePoint(pk), nil
}

// Blind computes B_ = Y + rG.
func Blind(secret string, r *secp256k1.PrivateKey) (*secp256k1.PublicKey, error) {
	b, _, err := crypto.BlindMessage(secret, r)
	return b, err
}

// Unblind computes C = C_ - rK.
func Unblind(c *secp256k1.PublicKey, r *secp256k1.PrivateKey, k *secp256k1.PublicKey) *secp256k1.PublicKey {
	return crypto.UnblindSignature(c, r, k)
}

// Sign computes C_ = kB_, the mint side of the exchange.
func Sign(b *secp256k1.PublicKey, k *secp256k1.PrivateKey) *secp256k1.PublicKey {
	return crypto.SignBlindedMessage(b, k)
}

func ParsePoint(s string) (*secp256k1.PublicKey, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, err
	}

	return secp256k1.ParsePubKey(b)
}

func EncodePoint(pk *secp256k1.PublicKey) string {
	return hex.EncodeToString(pk.SerializeCompressed())
}
