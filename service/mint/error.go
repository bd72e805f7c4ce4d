package mint

import (
	"fmt"

	"github.com/pandodao/plebwallet/core"
)

// NUT error codes the wallet branches on.
const (
	CodeOutputsAlreadySigned  = 10002
	CodeTokenAlreadySpent     = 11001
	CodeTransactionUnbalanced = 11002
	CodeUnitNotSupported      = 11005
	CodeKeysetNotFound        = 12001
	CodeKeysetInactive        = 12002
	CodeQuoteNotPaid          = 20001
	CodeQuotePending          = 20005
)

// Error is the error body a mint returns, `{"detail": "...", "code": 11001}`.
type Error struct {
	Detail string `json:"detail"`
	Code   int    `json:"code"`
	Status int    `json:"-"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("mint error %d (http %d): %s", e.Code, e.Status, e.Detail)
}

func (e *Error) Unwrap() error {
	switch e.Code {
	case CodeOutputsAlreadySigned:
		return core.ErrCounterConflict
	case CodeTokenAlreadySpent:
		return core.ErrAlreadySpent
	case CodeTransactionUnbalanced:
		return core.ErrInvalidAmount
	case CodeUnitNotSupported:
		return core.ErrMalformedToken
	case CodeKeysetNotFound, CodeKeysetInactive:
		return core.ErrUnknownKeyset
	default:
		return nil
	}
}
