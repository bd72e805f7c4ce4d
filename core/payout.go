package core

import (
	"context"
	"time"
)

// PayData is the LNURL-pay capability document of a payee. Bounds are in millisatoshis.
type PayData struct {
	Tag         string `json:"tag"`
	Callback    string `json:"callback"`
	MinSendable uint64 `json:"minSendable"`
	MaxSendable uint64 `json:"maxSendable"`
	Metadata    string `json:"metadata,omitempty"`
}

type PayoutIntent struct {
	Address     string `json:"address"`
	Amount      uint64 `json:"amount"`
	MinSendable uint64 `json:"min_sendable"`
	MaxSendable uint64 `json:"max_sendable"`
	Fee         uint64 `json:"fee"`
	Net         uint64 `json:"net"`
}

type PayoutResult struct {
	Address    string `json:"address"`
	AmountSent uint64 `json:"amount_sent"`
	FeePaid    uint64 `json:"fee_paid"`
	Quote      string `json:"quote,omitempty"`
	Preimage   string `json:"preimage,omitempty"`
}

type PayeeService interface {
	PayData(ctx context.Context, address string) (*PayData, error)
	Invoice(ctx context.Context, data *PayData, amountMsat uint64) (string, error)
	EstimateFee(amount uint64) uint64
}

type PayoutService interface {
	Payout(ctx context.Context, address string, amount uint64) (*PayoutResult, error)
}

const PropertyLastPayout = "last_payout"

// LastPayout is stored after every scheduled payout attempt.
type LastPayout struct {
	At         time.Time `json:"at"`
	Address    string    `json:"address"`
	Balance    uint64    `json:"balance"`
	AmountSent uint64    `json:"amount_sent,omitempty"`
	FeePaid    uint64    `json:"fee_paid,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// ReadLastPayout returns the outcome of the latest attempt, nil when none happened yet.
func ReadLastPayout(ctx context.Context, properties PropertyStore) (*LastPayout, error) {
	var last LastPayout
	if err := properties.Get(ctx, PropertyLastPayout, &last); err != nil {
		return nil, err
	}

	if last.At.IsZero() {
		return nil, nil
	}

	return &last, nil
}
