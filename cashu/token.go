package cashu

import "errors"

var ErrMalformedToken = errors.New("malformed token")

type Version byte

const (
	VersionA Version = 'A'
	VersionB Version = 'B'
)

type Proof struct {
	Amount  uint64 `json:"amount"`
	ID      string `json:"id"`
	Secret  string `json:"secret"`
	C       string `json:"C"`
	Witness string `json:"witness,omitempty"`
}

type Proofs []Proof

func (p Proofs) Amount() uint64 {
	var sum uint64
	for _, proof := range p {
		sum += proof.Amount
	}

	return sum
}

func (p Proofs) Secrets() []string {
	secrets := make([]string, len(p))
	for i, proof := range p {
		secrets[i] = proof.Secret
	}

	return secrets
}

type BlindedMessage struct {
	Amount uint64 `json:"amount"`
	ID     string `json:"id"`
	B_     string `json:"B_"`
}

type BlindedSignature struct {
	Amount uint64 `json:"amount"`
	ID     string `json:"id"`
	C_     string `json:"C_"`
}

// Token is a decoded bearer token. All proofs belong to Mint.
type Token struct {
	Version Version `json:"version"`
	Mint    string  `json:"mint"`
	Unit    string  `json:"unit,omitempty"`
	Memo    string  `json:"memo,omitempty"`
	Proofs  Proofs  `json:"proofs"`
}

func (t *Token) Amount() uint64 {
	return t.Proofs.Amount()
}

// Keysets returns the distinct keyset ids referenced by the proofs, in order of appearance.
func (t *Token) Keysets() []string {
	var (
		ids  []string
		seen = map[string]bool{}
	)

	for _, p := range t.Proofs {
		if !seen[p.ID] {
			seen[p.ID] = true
			ids = append(ids, p.ID)
		}
	}

	return ids
}

// SplitAmount breaks amount into power of two denominations, smallest first.
func SplitAmount(amount uint64) []uint64 {
	var amounts []uint64
	for bit := uint64(1); amount > 0; bit <<= 1 {
		if amount&bit != 0 {
			amounts = append(amounts, bit)
			amount &^= bit
		}
	}

	return amounts
}
