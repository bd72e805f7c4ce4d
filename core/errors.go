package core

import (
	"errors"
	"fmt"

	"github.com/pandodao/plebwallet/cashu"
)

var (
	ErrNotInitialized      = errors.New("wallet not initialized")
	ErrMalformedToken      = cashu.ErrMalformedToken
	ErrUntrustedMint       = errors.New("untrusted mint")
	ErrUnknownKeyset       = errors.New("unknown keyset")
	ErrAlreadySpent        = errors.New("token already spent")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrCounterConflict     = errors.New("counter conflict")
	ErrTransport           = errors.New("transport error")
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrPaymentPending      = errors.New("payment pending")

	ErrInvalidPayee      = errors.New("invalid payee")
	ErrAmountOutOfBounds = errors.New("amount out of bounds")
	ErrPayoutDisabled    = errors.New("payout not configured")
)

var codes = []struct {
	code string
	err  error
}{
	{"not_initialized", ErrNotInitialized},
	{"malformed_token", ErrMalformedToken},
	{"untrusted_mint", ErrUntrustedMint},
	{"unknown_keyset", ErrUnknownKeyset},
	{"already_spent", ErrAlreadySpent},
	{"insufficient_balance", ErrInsufficientBalance},
	{"counter_conflict", ErrCounterConflict},
	{"transport", ErrTransport},
	{"invalid_amount", ErrInvalidAmount},
	{"payment_pending", ErrPaymentPending},
	{"invalid_payee", ErrInvalidPayee},
	{"amount_out_of_bounds", ErrAmountOutOfBounds},
	{"payout_disabled", ErrPayoutDisabled},
}

// ErrorCode is the stable wire name of the sentinel err wraps, empty when it wraps none.
func ErrorCode(err error) string {
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}

	return ""
}

// ErrorFromCode rebuilds an error reported by a remote wallet so callers can still match sentinels.
func ErrorFromCode(code, msg string) error {
	for _, c := range codes {
		if c.code == code {
			if msg == "" || msg == c.err.Error() {
				return c.err
			}

			return fmt.Errorf("%w: %s", c.err, msg)
		}
	}

	return errors.New(msg)
}
