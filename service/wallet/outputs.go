package wallet

import (
	"context"
	"fmt"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/pandodao/plebwallet/cashu"
	"github.com/pandodao/plebwallet/core"
	"github.com/pandodao/plebwallet/service/keychain"
)

type output struct {
	amount   uint64
	keysetID string
	counter  uint32
	path     string
	secret   string
	r        *secp256k1.PrivateKey
	b        string
}

type outputs []*output

func (o outputs) messages() []cashu.BlindedMessage {
	msgs := make([]cashu.BlindedMessage, len(o))
	for i, out := range o {
		msgs[i] = cashu.BlindedMessage{Amount: out.amount, ID: out.keysetID, B_: out.b}
	}

	return msgs
}

// prepareOutputs derives outputs at the next unused counter positions of the keyset and
// advances the stored counter past them before anything is sent to the mint.
func (w *Wallet) prepareOutputs(ctx context.Context, ks *core.Keyset, amounts []uint64) (outputs, error) {
	if len(amounts) == 0 {
		return nil, nil
	}

	path, err := keychain.Path(ks.ID)
	if err != nil {
		return nil, err
	}

	base, err := w.counters.Get(ctx, path)
	if err != nil {
		w.logger.Error("counters.Get", "path", path, "err", err)
		return nil, err
	}

	outs, err := w.derive(ks.ID, path, base, amounts)
	if err != nil {
		return nil, err
	}

	if err := w.counters.Advance(ctx, path, base, base+uint32(len(amounts))); err != nil {
		w.logger.Error("counters.Advance", "path", path, "from", base, "err", err)
		return nil, err
	}

	return outs, nil
}

func (w *Wallet) derive(keysetID, path string, base uint32, amounts []uint64) (outputs, error) {
	outs := make(outputs, len(amounts))
	for i, amount := range amounts {
		counter := base + uint32(i)
		secret, r, err := w.keys.Derive(keysetID, counter)
		if err != nil {
			return nil, err
		}

		b, err := cashu.Blind(secret, r)
		if err != nil {
			return nil, err
		}

		outs[i] = &output{
			amount:   amount,
			keysetID: keysetID,
			counter:  counter,
			path:     fmt.Sprintf("%s/%d'", path, counter),
			secret:   secret,
			r:        r,
			b:        cashu.EncodePoint(b),
		}
	}

	return outs, nil
}

// unblind turns the mint signatures into proofs. sigs[i] answers outs[i].
func (w *Wallet) unblind(ctx context.Context, mint string, outs outputs, sigs []cashu.BlindedSignature) ([]*core.ProofRecord, error) {
	if len(sigs) > len(outs) {
		return nil, fmt.Errorf("%w: %d signatures for %d outputs", core.ErrTransport, len(sigs), len(outs))
	}

	now := time.Now()
	records := make([]*core.ProofRecord, 0, len(sigs))
	for i, sig := range sigs {
		ks, err := w.mintz.Keys(ctx, mint, sig.ID)
		if err != nil {
			return nil, err
		}

		pub, ok := ks.Keys[sig.Amount]
		if !ok {
			return nil, fmt.Errorf("%w: keyset %s has no key for amount %d", core.ErrTransport, sig.ID, sig.Amount)
		}

		k, err := cashu.ParsePoint(pub)
		if err != nil {
			return nil, fmt.Errorf("%w: bad mint key: %v", core.ErrTransport, err)
		}

		c, err := cashu.ParsePoint(sig.C_)
		if err != nil {
			return nil, fmt.Errorf("%w: bad signature point: %v", core.ErrTransport, err)
		}

		out := outs[i]
		y, err := cashu.Y(out.secret)
		if err != nil {
			return nil, err
		}

		records = append(records, &core.ProofRecord{
			Secret:    out.secret,
			Y:         y,
			KeysetID:  sig.ID,
			Mint:      mint,
			Amount:    sig.Amount,
			C:         cashu.EncodePoint(cashu.Unblind(c, out.r, k)),
			Path:      out.path,
			CreatedAt: now,
		})
	}

	return records, nil
}
