package cashu

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fxamacker/cbor/v2"
)

const (
	PrefixA = "cashuA"
	PrefixB = "cashuB"

	minPayloadSize = 10
)

type tokenA struct {
	Token []tokenAEntry `json:"token"`
	Unit  string        `json:"unit,omitempty"`
	Memo  string        `json:"memo,omitempty"`
}

type tokenAEntry struct {
	Mint   string `json:"mint"`
	Proofs Proofs `json:"proofs"`
}

type tokenB struct {
	Mint   string        `cbor:"m"`
	Unit   string        `cbor:"u"`
	Memo   string        `cbor:"d,omitempty"`
	Tokens []tokenBEntry `cbor:"t"`
}

type tokenBEntry struct {
	ID     []byte   `cbor:"i"`
	Proofs []proofB `cbor:"p"`
}

type proofB struct {
	Amount  uint64 `cbor:"a"`
	Secret  string `cbor:"s"`
	C       []byte `cbor:"c"`
	Witness string `cbor:"w,omitempty"`
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedToken, fmt.Sprintf(format, args...))
}

// Parse decodes a serialized token. It performs no I/O.
func Parse(raw string) (*Token, error) {
	raw = strings.TrimSpace(raw)

	var version Version
	switch {
	case strings.HasPrefix(raw, PrefixA):
		version = VersionA
	case strings.HasPrefix(raw, PrefixB):
		version = VersionB
	default:
		return nil, malformed("unknown prefix")
	}

	payload, err := decodeBase64URL(raw[len(PrefixA):])
	if err != nil {
		return nil, malformed("invalid base64 payload")
	}

	if len(payload) < minPayloadSize {
		return nil, malformed("payload too short")
	}

	var token *Token
	if version == VersionA {
		token, err = parseA(payload)
	} else {
		token, err = parseB(payload)
	}

	if err != nil {
		return nil, err
	}

	if err := validate(token); err != nil {
		return nil, err
	}

	return token, nil
}

func decodeBase64URL(s string) ([]byte, error) {
	s = strings.TrimRight(s, "=")
	if m := len(s) % 4; m != 0 {
		s += strings.Repeat("=", 4-m)
	}

	b, err := base64.URLEncoding.DecodeString(s)
	if err != nil {
		// some wallets emit the standard alphabet
		return base64.StdEncoding.DecodeString(s)
	}

	return b, nil
}

func parseA(payload []byte) (*Token, error) {
	var envelope tokenA
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, malformed("invalid proof envelope")
	}

	if len(envelope.Token) == 0 {
		return nil, malformed("empty proof envelope")
	}

	token := &Token{
		Version: VersionA,
		Mint:    envelope.Token[0].Mint,
		Unit:    envelope.Unit,
		Memo:    envelope.Memo,
	}

	for _, entry := range envelope.Token {
		if entry.Mint != token.Mint {
			return nil, malformed("multiple mints in one token")
		}

		token.Proofs = append(token.Proofs, entry.Proofs...)
	}

	return token, nil
}

func parseB(payload []byte) (*Token, error) {
	var envelope tokenB
	if err := cbor.Unmarshal(payload, &envelope); err != nil {
		return nil, malformed("invalid cbor envelope")
	}

	token := &Token{
		Version: VersionB,
		Mint:    envelope.Mint,
		Unit:    envelope.Unit,
		Memo:    envelope.Memo,
	}

	for _, entry := range envelope.Tokens {
		id := hex.EncodeToString(entry.ID)
		for _, p := range entry.Proofs {
			token.Proofs = append(token.Proofs, Proof{
				Amount:  p.Amount,
				ID:      id,
				Secret:  p.Secret,
				C:       hex.EncodeToString(p.C),
				Witness: p.Witness,
			})
		}
	}

	return token, nil
}

func validate(token *Token) error {
	if token.Mint == "" {
		return malformed("missing mint")
	}

	if len(token.Proofs) == 0 {
		return malformed("no proofs")
	}

	for _, p := range token.Proofs {
		if p.Amount == 0 || p.Secret == "" || p.C == "" || p.ID == "" {
			return malformed("incomplete proof")
		}
	}

	return nil
}

// Encode serializes the token in the cashuB (CBOR) format.
func Encode(token *Token) (string, error) {
	envelope := tokenB{
		Mint: token.Mint,
		Unit: token.Unit,
		Memo: token.Memo,
	}

	index := map[string]int{}
	for _, p := range token.Proofs {
		c, err := hex.DecodeString(p.C)
		if err != nil {
			return "", fmt.Errorf("proof C is not hex: %w", err)
		}

		idx, ok := index[p.ID]
		if !ok {
			id, err := hex.DecodeString(p.ID)
			if err != nil {
				return "", fmt.Errorf("keyset id %q is not hex: %w", p.ID, err)
			}

			idx = len(envelope.Tokens)
			index[p.ID] = idx
			envelope.Tokens = append(envelope.Tokens, tokenBEntry{ID: id})
		}

		envelope.Tokens[idx].Proofs = append(envelope.Tokens[idx].Proofs, proofB{
			Amount:  p.Amount,
			Secret:  p.Secret,
			C:       c,
			Witness: p.Witness,
		})
	}

	b, err := cbor.Marshal(envelope)
	if err != nil {
		return "", err
	}

	return PrefixB + base64.RawURLEncoding.EncodeToString(b), nil
}

// EncodeA serializes the token in the legacy cashuA (JSON) format.
func EncodeA(token *Token) (string, error) {
	envelope := tokenA{
		Token: []tokenAEntry{{Mint: token.Mint, Proofs: token.Proofs}},
		Unit:  token.Unit,
		Memo:  token.Memo,
	}

	b, err := json.Marshal(envelope)
	if err != nil {
		return "", err
	}

	return PrefixA + base64.URLEncoding.EncodeToString(b), nil
}
