package wallet

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/pandodao/plebwallet/cashu"
	"github.com/pandodao/plebwallet/core"
)

func (w *Wallet) Generate(ctx context.Context, amount uint64, memo string) (*core.Withdrawal, error) {
	if !w.initialized.Load() {
		return nil, core.ErrNotInitialized
	}

	if amount == 0 {
		return nil, core.ErrInvalidAmount
	}

	if err := w.lock(ctx); err != nil {
		return nil, err
	}

	defer w.unlock()

	return w.generate(ctx, amount, memo)
}

func (w *Wallet) SweepAll(ctx context.Context, memo string) (*core.Withdrawal, error) {
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

	balance := w.Balance()
	if balance == 0 {
		return nil, fmt.Errorf("%w: nothing to sweep", core.ErrInsufficientBalance)
	}

	return w.generate(ctx, balance, memo)
}

func (w *Wallet) generate(ctx context.Context, amount uint64, memo string) (*core.Withdrawal, error) {
	if err := w.reload(ctx); err != nil {
		return nil, err
	}

	if amount > w.Balance() {
		return nil, fmt.Errorf("%w: want %d, have %d", core.ErrInsufficientBalance, amount, w.Balance())
	}

	held, err := w.proofs.ListUnspent(ctx, w.cfg.MintURL)
	if err != nil {
		w.logger.Error("proofs.ListUnspent", "err", err)
		return nil, err
	}

	sendID := "send:" + uuid.NewString()
	send, err := w.selectSend(ctx, held, amount, sendID)
	if err != nil {
		return nil, err
	}

	token, err := cashu.Encode(&cashu.Token{
		Version: cashu.VersionB,
		Mint:    w.cfg.MintURL,
		Unit:    w.cfg.Unit,
		Memo:    memo,
		Proofs:  core.ProofRecords(send).Proofs(),
	})
	if err != nil {
		w.release(ctx, core.ProofRecords(send).Secrets())
		return nil, err
	}

	if err := w.reload(ctx); err != nil {
		return nil, err
	}

	w.logger.Info("withdrawal token generated", "amount", amount, "proofs", len(send), "send_id", sendID)
	return &core.Withdrawal{Token: token, Amount: amount}, nil
}

// selectSend returns reserved proofs worth exactly amount, swapping held proofs at the mint
// when no exact subset exists.
func (w *Wallet) selectSend(ctx context.Context, held []*core.ProofRecord, amount uint64, sendID string) ([]*core.ProofRecord, error) {
	if exact := selectExact(held, amount); exact != nil {
		if err := w.proofs.Reserve(ctx, core.ProofRecords(exact).Secrets(), sendID); err != nil {
			w.logger.Error("proofs.Reserve", "err", err)
			return nil, err
		}

		return exact, nil
	}

	keysets, active, err := w.keysetsOf(ctx, w.cfg.MintURL)
	if err != nil {
		return nil, err
	}

	inputs, fee, err := selectCover(held, amount, keysets)
	if err != nil {
		return nil, err
	}

	keep := core.ProofRecords(inputs).Amount() - fee - amount
	sendAmounts := cashu.SplitAmount(amount)
	outs, err := w.prepareOutputs(ctx, active, append(sendAmounts, cashu.SplitAmount(keep)...))
	if err != nil {
		return nil, err
	}

	records, err := w.swapHeld(ctx, inputs, outs, "swap:"+uuid.NewString())
	if err != nil {
		return nil, err
	}

	send := records[:len(sendAmounts)]
	for _, r := range send {
		r.Reserved = true
		r.SendID = sendID
	}

	if err := w.proofs.Save(ctx, records); err != nil {
		w.logger.Error("proofs.Save, proofs recoverable by restore", "err", err)
		return nil, err
	}

	if err := w.proofs.Delete(ctx, core.ProofRecords(inputs).Secrets()); err != nil {
		w.logger.Error("proofs.Delete", "err", err)
		return nil, err
	}

	return send, nil
}

// swapHeld swaps held proofs for fresh outputs. Inputs stay reserved when the outcome is unknown.
func (w *Wallet) swapHeld(ctx context.Context, inputs []*core.ProofRecord, outs outputs, swapID string) ([]*core.ProofRecord, error) {
	secrets := core.ProofRecords(inputs).Secrets()
	if err := w.proofs.Reserve(ctx, secrets, swapID); err != nil {
		w.logger.Error("proofs.Reserve", "err", err)
		return nil, err
	}

	sigs, err := w.mintz.Swap(ctx, w.cfg.MintURL, core.ProofRecords(inputs).Proofs(), outs.messages())
	if err != nil {
		w.logger.Error("mintz.Swap", "swap", swapID, "err", err)
		if !errors.Is(err, core.ErrTransport) {
			w.release(ctx, secrets)
		}

		return nil, err
	}

	return w.unblind(ctx, w.cfg.MintURL, outs, sigs)
}

// selectExact picks proofs summing to amount, largest first. It returns nil when none fit.
func selectExact(held []*core.ProofRecord, amount uint64) []*core.ProofRecord {
	var (
		picked    []*core.ProofRecord
		remaining = amount
	)

	for _, p := range held {
		if p.Amount <= remaining {
			picked = append(picked, p)
			remaining -= p.Amount
		}

		if remaining == 0 {
			return picked
		}
	}

	return nil
}

// selectCover picks proofs, smallest first, until they cover amount plus their own input fee.
func selectCover(held []*core.ProofRecord, amount uint64, keysets map[string]*core.Keyset) ([]*core.ProofRecord, uint64, error) {
	var (
		picked []*core.ProofRecord
		sum    uint64
	)

	for i := len(held) - 1; i >= 0; i-- {
		picked = append(picked, held[i])
		sum += held[i].Amount

		fee := inputFee(keysets, core.ProofRecords(picked).Proofs())
		if sum >= amount+fee {
			return picked, fee, nil
		}
	}

	return nil, 0, fmt.Errorf("%w: held proofs do not cover %d plus fees", core.ErrInsufficientBalance, amount)
}
