package core

import (
	"context"
	"time"

	"github.com/pandodao/plebwallet/cashu"
)

type Keyset struct {
	ID          string            `json:"id"`
	Mint        string            `json:"mint"`
	Unit        string            `json:"unit"`
	Active      bool              `json:"active"`
	InputFeePPK uint64            `json:"input_fee_ppk"`
	Keys        map[uint64]string `json:"keys,omitempty"`
}

const (
	ProofStateUnspent = "UNSPENT"
	ProofStatePending = "PENDING"
	ProofStateSpent   = "SPENT"
)

type ProofState struct {
	Y     string `json:"Y"`
	State string `json:"state"`
}

const (
	MeltStateUnpaid  = "UNPAID"
	MeltStatePending = "PENDING"
	MeltStatePaid    = "PAID"
)

type MeltQuote struct {
	Quote      string `json:"quote"`
	Request    string `json:"request,omitempty"`
	Amount     uint64 `json:"amount"`
	FeeReserve uint64 `json:"fee_reserve"`
	State      string `json:"state"`
	Expiry     int64  `json:"expiry"`
}

type MeltResult struct {
	Quote    string                   `json:"quote"`
	State    string                   `json:"state"`
	Preimage string                   `json:"payment_preimage,omitempty"`
	Change   []cashu.BlindedSignature `json:"change,omitempty"`
}

// MintService talks to a mint over the NUT REST api. Errors wrap the core sentinels.
type MintService interface {
	Keysets(ctx context.Context, mint string) ([]*Keyset, error)
	Keys(ctx context.Context, mint, id string) (*Keyset, error)
	CheckState(ctx context.Context, mint string, ys []string) ([]*ProofState, error)
	Swap(ctx context.Context, mint string, inputs cashu.Proofs, outputs []cashu.BlindedMessage) ([]cashu.BlindedSignature, error)
	Restore(ctx context.Context, mint string, outputs []cashu.BlindedMessage) ([]cashu.BlindedMessage, []cashu.BlindedSignature, error)
	MeltQuote(ctx context.Context, mint, request string) (*MeltQuote, error)
	Melt(ctx context.Context, mint, quote string, inputs cashu.Proofs, outputs []cashu.BlindedMessage) (*MeltResult, error)
}

const PropertyKeysetSnapshot = "keyset_snapshot"

// KeysetSnapshot is the last seen active keyset of the primary mint.
type KeysetSnapshot struct {
	Mint      string    `json:"mint"`
	KeysetID  string    `json:"keyset_id"`
	Count     int       `json:"count"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ReadKeysetSnapshot returns the stored snapshot, nil before the first sync.
func ReadKeysetSnapshot(ctx context.Context, properties PropertyStore) (*KeysetSnapshot, error) {
	var s KeysetSnapshot
	if err := properties.Get(ctx, PropertyKeysetSnapshot, &s); err != nil {
		return nil, err
	}

	if s.KeysetID == "" {
		return nil, nil
	}

	return &s, nil
}
