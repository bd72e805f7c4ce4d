package core

import (
	"context"
	"time"

	"github.com/pandodao/plebwallet/cashu"
)

// ProofRecord is a proof held by the wallet.
type ProofRecord struct {
	Secret    string    `json:"secret"`
	Y         string    `json:"y"`
	KeysetID  string    `json:"keyset_id"`
	Mint      string    `json:"mint"`
	Amount    uint64    `json:"amount"`
	C         string    `json:"C"`
	Reserved  bool      `json:"reserved"`
	SendID    string    `json:"send_id,omitempty"`
	Path      string    `json:"path,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	// ReservedAt is zero unless the proof is reserved.
	ReservedAt time.Time `json:"reserved_at,omitempty"`
}

func (p *ProofRecord) Proof() cashu.Proof {
	return cashu.Proof{
		Amount: p.Amount,
		ID:     p.KeysetID,
		Secret: p.Secret,
		C:      p.C,
	}
}

type ProofRecords []*ProofRecord

func (r ProofRecords) Proofs() cashu.Proofs {
	proofs := make(cashu.Proofs, len(r))
	for i, p := range r {
		proofs[i] = p.Proof()
	}

	return proofs
}

func (r ProofRecords) Amount() uint64 {
	var sum uint64
	for _, p := range r {
		sum += p.Amount
	}

	return sum
}

func (r ProofRecords) Secrets() []string {
	secrets := make([]string, len(r))
	for i, p := range r {
		secrets[i] = p.Secret
	}

	return secrets
}

type Balance struct {
	Mint   string `json:"mint"`
	Amount uint64 `json:"amount"`
	Count  int    `json:"count"`
}

type ProofStore interface {
	Save(ctx context.Context, proofs []*ProofRecord) error
	// ListUnspent returns the non reserved proofs of mint, largest first.
	ListUnspent(ctx context.Context, mint string) ([]*ProofRecord, error)
	// ListReserved pages through proofs reserved before reservedBefore, ordered by secret and starting after the given one.
	ListReserved(ctx context.Context, reservedBefore time.Time, after string, limit int) ([]*ProofRecord, error)
	// Reserve fails unless every secret is currently held and not reserved.
	Reserve(ctx context.Context, secrets []string, sendID string) error
	Release(ctx context.Context, secrets []string) error
	Delete(ctx context.Context, secrets []string) error
	// SumBalances sums non reserved proofs per mint.
	SumBalances(ctx context.Context) ([]*Balance, error)
}

// CounterStore keeps NUT-13 derivation counters keyed by keyset derivation path.
type CounterStore interface {
	Get(ctx context.Context, path string) (uint32, error)
	// Advance moves the counter from `from` to `to`; it fails if the stored value is not `from` or to <= from.
	Advance(ctx context.Context, path string, from, to uint32) error
}
