package core

import (
	"context"

	"github.com/pandodao/plebwallet/cashu"
)

type Receipt struct {
	Amount uint64 `json:"amount"`
	Mint   string `json:"mint"`
}

type TokenCheck struct {
	Valid  bool   `json:"valid"`
	Spent  bool   `json:"spent"`
	Amount uint64 `json:"amount,omitempty"`
	Mint   string `json:"mint,omitempty"`
	Error  string `json:"error,omitempty"`
}

type Withdrawal struct {
	Token  string `json:"token"`
	Amount uint64 `json:"amount"`
}

type MeltReceipt struct {
	Quote      string `json:"quote"`
	Amount     uint64 `json:"amount"`
	FeeReserve uint64 `json:"fee_reserve"`
	// Spent is the value of the proofs consumed minus the change returned.
	Spent    uint64 `json:"spent"`
	Change   uint64 `json:"change"`
	Preimage string `json:"preimage,omitempty"`
}

type WalletStats struct {
	Balance      uint64     `json:"balance"`
	Unit         string     `json:"unit"`
	MintURL      string     `json:"mint_url"`
	TrustedMints []string   `json:"trusted_mints"`
	KeysetID     string     `json:"keyset_id,omitempty"`
	KeysetCount  int        `json:"keyset_count"`
	ProofCount   int        `json:"proof_count"`
	Balances     []*Balance `json:"balances"`
	Initialized  bool       `json:"initialized"`
}

// WalletService owns the proof set. Mutating calls are serialized.
type WalletService interface {
	ValidateFormat(raw string) (*cashu.Token, error)
	AmountOf(raw string) (uint64, error)
	CheckSpent(ctx context.Context, raw string) bool
	Redeem(ctx context.Context, raw string) (*Receipt, error)
	Generate(ctx context.Context, amount uint64, memo string) (*Withdrawal, error)
	SweepAll(ctx context.Context, memo string) (*Withdrawal, error)
	Balance() uint64
	MeltQuote(ctx context.Context, request string) (*MeltQuote, error)
	Melt(ctx context.Context, quote *MeltQuote) (*MeltReceipt, error)
	Stats(ctx context.Context) (*WalletStats, error)
}

// PaymentGateway is the narrow view of the wallet used by the conversation flow.
type PaymentGateway interface {
	Check(ctx context.Context, token string) (*TokenCheck, error)
	Receive(ctx context.Context, token string) (*Receipt, error)
}
