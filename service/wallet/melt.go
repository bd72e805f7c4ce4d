package wallet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/bits"

	"github.com/pandodao/plebwallet/core"
)

func (w *Wallet) MeltQuote(ctx context.Context, request string) (*core.MeltQuote, error) {
	quote, err := w.mintz.MeltQuote(ctx, w.cfg.MintURL, request)
	if err != nil {
		w.logger.Error("mintz.MeltQuote", "err", err)
		return nil, err
	}

	return quote, nil
}

// blankOutputs is the number of NUT-08 outputs needed to take back overpaid as change.
func blankOutputs(overpaid uint64) int {
	if overpaid == 0 {
		return 0
	}

	return max(bits.Len64(overpaid), 1)
}

// Melt pays the quote with held proofs of the primary mint.
func (w *Wallet) Melt(ctx context.Context, quote *core.MeltQuote) (*core.MeltReceipt, error) {
	if !w.initialized.Load() {
		return nil, core.ErrNotInitialized
	}

	if err := w.lock(ctx); err != nil {
		return nil, err
	}

	defer w.unlock()

	if err := w.reload(ctx); err != nil {
		return nil, err
	}

	total := quote.Amount + quote.FeeReserve
	if total > w.Balance() {
		return nil, fmt.Errorf("%w: melt needs %d, have %d", core.ErrInsufficientBalance, total, w.Balance())
	}

	logger := w.logger.With("quote", quote.Quote, "amount", quote.Amount, "fee_reserve", quote.FeeReserve)

	// the mint rejects the whole melt when a blank output was signed before, inputs are released and safe to retry
	receipt, err := w.melt(ctx, quote, logger)
	if errors.Is(err, core.ErrCounterConflict) {
		logger.Warn("counter conflict on change outputs, restoring counters", "err", err)
		if rerr := w.restore(ctx, w.cfg.MintURL); rerr != nil {
			logger.Error("restore", "err", rerr)
			return nil, fmt.Errorf("%w: restore failed: %v", core.ErrCounterConflict, rerr)
		}

		receipt, err = w.melt(ctx, quote, logger)
	}

	return receipt, err
}

func (w *Wallet) melt(ctx context.Context, quote *core.MeltQuote, logger *slog.Logger) (*core.MeltReceipt, error) {
	total := quote.Amount + quote.FeeReserve

	held, err := w.proofs.ListUnspent(ctx, w.cfg.MintURL)
	if err != nil {
		return nil, err
	}

	keysets, active, err := w.keysetsOf(ctx, w.cfg.MintURL)
	if err != nil {
		return nil, err
	}

	inputs, fee, err := selectCover(held, total, keysets)
	if err != nil {
		return nil, err
	}

	spent := core.ProofRecords(inputs).Amount()
	placeholders := make([]uint64, blankOutputs(spent-fee-quote.Amount))
	for i := range placeholders {
		placeholders[i] = 1
	}

	blanks, err := w.prepareOutputs(ctx, active, placeholders)
	if err != nil {
		return nil, err
	}

	secrets := core.ProofRecords(inputs).Secrets()
	if err := w.proofs.Reserve(ctx, secrets, "melt:"+quote.Quote); err != nil {
		logger.Error("proofs.Reserve", "err", err)
		return nil, err
	}

	result, err := w.mintz.Melt(ctx, w.cfg.MintURL, quote.Quote, core.ProofRecords(inputs).Proofs(), blanks.messages())
	if err != nil {
		if errors.Is(err, core.ErrTransport) {
			logger.Error("mintz.Melt outcome unknown, inputs stay reserved", "err", err)
		} else {
			logger.Error("mintz.Melt", "err", err)
			w.release(ctx, secrets)
		}

		return nil, err
	}

	switch result.State {
	case core.MeltStatePaid:
	case core.MeltStatePending:
		logger.Warn("melt pending, inputs stay reserved")
		return nil, fmt.Errorf("%w: quote %s", core.ErrPaymentPending, quote.Quote)
	default:
		w.release(ctx, secrets)
		return nil, fmt.Errorf("melt quote %s not paid, state %s", quote.Quote, result.State)
	}

	change, err := w.unblind(ctx, w.cfg.MintURL, blanks, result.Change)
	if err != nil {
		logger.Error("unblind change, recoverable by restore", "err", err)
		change = nil
	}

	if err := w.proofs.Save(ctx, change); err != nil {
		logger.Error("proofs.Save change", "err", err)
	}

	if err := w.proofs.Delete(ctx, secrets); err != nil {
		logger.Error("proofs.Delete", "err", err)
		return nil, err
	}

	if err := w.reload(ctx); err != nil {
		return nil, err
	}

	back := core.ProofRecords(change).Amount()
	receipt := &core.MeltReceipt{
		Quote:      quote.Quote,
		Amount:     quote.Amount,
		FeeReserve: quote.FeeReserve,
		Spent:      spent - back,
		Change:     back,
		Preimage:   result.Preimage,
	}

	logger.Info("melt paid", "spent", receipt.Spent, "change", back)
	return receipt, nil
}
