package wallet

import (
	"context"

	"github.com/pandodao/plebwallet/cashu"
	"github.com/pandodao/plebwallet/core"
	"github.com/pandodao/plebwallet/service/keychain"
)

// restore rescans the active keyset of mint from position 0 in batches, stopping after
// RestoreGap consecutive batches the mint has no signatures for. Unspent proofs found on the
// way are kept and the counter moves past the last signed position. Caller holds the lock.
func (w *Wallet) restore(ctx context.Context, mint string) error {
	_, ks, err := w.keysetsOf(ctx, mint)
	if err != nil {
		return err
	}

	path, err := keychain.Path(ks.ID)
	if err != nil {
		return err
	}

	current, err := w.counters.Get(ctx, path)
	if err != nil {
		return err
	}

	logger := w.logger.With("mint", mint, "path", path)
	logger.Info("restore start", "counter", current)

	var (
		last  int64 = -1
		empty int
		found []*core.ProofRecord
		batch = w.cfg.RestoreBatch
	)

	placeholders := make([]uint64, batch)
	for i := range placeholders {
		placeholders[i] = 1
	}

	for start := uint32(0); empty < w.cfg.RestoreGap; start += uint32(batch) {
		outs, err := w.derive(ks.ID, path, start, placeholders)
		if err != nil {
			return err
		}

		returned, sigs, err := w.mintz.Restore(ctx, mint, outs.messages())
		if err != nil {
			logger.Error("mintz.Restore", "start", start, "err", err)
			return err
		}

		if len(sigs) == 0 {
			empty++
			continue
		}

		empty = 0

		index := make(map[string]*output, len(outs))
		for _, out := range outs {
			index[out.b] = out
		}

		var (
			matched     outputs
			matchedSigs []cashu.BlindedSignature
		)

		for i, msg := range returned {
			out, ok := index[msg.B_]
			if !ok {
				continue
			}

			if int64(out.counter) > last {
				last = int64(out.counter)
			}

			matched = append(matched, out)
			matchedSigs = append(matchedSigs, sigs[i])
		}

		records, err := w.unblind(ctx, mint, matched, matchedSigs)
		if err != nil {
			return err
		}

		found = append(found, records...)
	}

	recovered, err := w.keepUnspent(ctx, mint, found)
	if err != nil {
		return err
	}

	if next := uint32(last + 1); next > current {
		if err := w.counters.Advance(ctx, path, current, next); err != nil {
			logger.Error("counters.Advance", "err", err)
			return err
		}

		current = next
	}

	logger.Info("restore done", "counter", current, "signed", len(found), "recovered", len(recovered))
	return w.reload(ctx)
}

func (w *Wallet) keepUnspent(ctx context.Context, mint string, records []*core.ProofRecord) ([]*core.ProofRecord, error) {
	if len(records) == 0 {
		return nil, nil
	}

	ys := make([]string, len(records))
	for i, r := range records {
		ys[i] = r.Y
	}

	states, err := w.mintz.CheckState(ctx, mint, ys)
	if err != nil {
		return nil, err
	}

	var unspent []*core.ProofRecord
	for i, s := range states {
		if s.State == core.ProofStateUnspent {
			unspent = append(unspent, records[i])
		}
	}

	if err := w.proofs.Save(ctx, unspent); err != nil {
		return nil, err
	}

	return unspent, nil
}
