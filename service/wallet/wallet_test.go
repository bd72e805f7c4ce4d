package wallet

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/pandodao/plebwallet/cashu"
	"github.com/pandodao/plebwallet/core"
	"github.com/pandodao/plebwallet/service/keychain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedeemConcurrentAtMostOnce(t *testing.T) {
	ctx := context.Background()
	mint := newFakeMint(t)
	w := newTestWallet(t, mint, newMemProofs(), newMemCounters())

	raw := mint.token(t, primaryMint, 1, 2, 8)

	var (
		wg        sync.WaitGroup
		mux       sync.Mutex
		successes int
		spent     int
	)

	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := w.Redeem(ctx, raw)

			mux.Lock()
			defer mux.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, core.ErrAlreadySpent):
				spent++
			}
		}()
	}

	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, 4, spent)
	assert.EqualValues(t, 11, w.Balance())
}

func TestRedeemMintTrust(t *testing.T) {
	ctx := context.Background()
	mint := newFakeMint(t)
	w := newTestWallet(t, mint, newMemProofs(), newMemCounters())

	evil := mint.token(t, "https://evil.example.com", 8)

	_, err := w.ValidateFormat(evil)
	assert.ErrorIs(t, err, core.ErrUntrustedMint)

	_, err = w.Redeem(ctx, evil)
	assert.ErrorIs(t, err, core.ErrUntrustedMint)
	assert.Zero(t, mint.swapCalls)

	receipt, err := w.Redeem(ctx, mint.token(t, otherMint+"/", 4))
	require.NoError(t, err)
	assert.Equal(t, otherMint, receipt.Mint)
	assert.EqualValues(t, 4, receipt.Amount)

	// only the primary mint counts towards the spendable balance
	assert.Zero(t, w.Balance())

	stats, err := w.Stats(ctx)
	require.NoError(t, err)
	require.Len(t, stats.Balances, 1)
	assert.Equal(t, otherMint, stats.Balances[0].Mint)
	assert.Equal(t, []string{primaryMint, otherMint}, stats.TrustedMints)
}

func TestRedeemCounterConflict(t *testing.T) {
	ctx := context.Background()

	t.Run("recovered", func(t *testing.T) {
		mint := newFakeMint(t)
		mint.conflicts = 1
		w := newTestWallet(t, mint, newMemProofs(), newMemCounters())

		receipt, err := w.Redeem(ctx, mint.token(t, primaryMint, 16))
		require.NoError(t, err)
		assert.EqualValues(t, 16, receipt.Amount)
		assert.Equal(t, 2, mint.swapCalls)
		// one recovery pass over an empty history is RestoreGap batches
		assert.Equal(t, 2, mint.restoreCalls)
	})

	t.Run("second conflict is terminal", func(t *testing.T) {
		mint := newFakeMint(t)
		mint.conflicts = 2
		w := newTestWallet(t, mint, newMemProofs(), newMemCounters())

		_, err := w.Redeem(ctx, mint.token(t, primaryMint, 16))
		assert.ErrorIs(t, err, core.ErrCounterConflict)
		assert.Equal(t, 2, mint.swapCalls)
		assert.Equal(t, 2, mint.restoreCalls)
		assert.Zero(t, w.Balance())
	})

	t.Run("lost counters", func(t *testing.T) {
		mint := newFakeMint(t)
		proofs := newMemProofs()

		first := newTestWallet(t, mint, proofs, newMemCounters())
		_, err := first.Redeem(ctx, mint.token(t, primaryMint, 1, 2, 4))
		require.NoError(t, err)

		// same seed, counters gone: the mint has already signed the first positions
		second := newTestWallet(t, mint, newMemProofs(), newMemCounters())
		receipt, err := second.Redeem(ctx, mint.token(t, primaryMint, 8))
		require.NoError(t, err)
		assert.EqualValues(t, 8, receipt.Amount)

		// restore picked up the proofs the first wallet derived
		assert.EqualValues(t, 15, second.Balance())
	})
}

func TestRedeemInputFee(t *testing.T) {
	mint := newFakeMint(t)
	mint.feePPK = 100
	w := newTestWallet(t, mint, newMemProofs(), newMemCounters())

	receipt, err := w.Redeem(context.Background(), mint.token(t, primaryMint, 1, 2, 8))
	require.NoError(t, err)
	assert.EqualValues(t, 10, receipt.Amount)
	assert.EqualValues(t, 10, w.Balance())
}

func TestRedeemNotInitialized(t *testing.T) {
	mint := newFakeMint(t)
	keys, err := keychain.New(testMnemonic)
	require.NoError(t, err)

	w := New(mint, newMemProofs(), newMemCounters(), keys, slog.New(slog.NewTextHandler(io.Discard, nil)), Config{
		MintURL:      primaryMint,
		Unit:         "sat",
		RestoreBatch: 25,
		RestoreGap:   2,
	})

	_, err = w.Redeem(context.Background(), mint.token(t, primaryMint, 1))
	assert.ErrorIs(t, err, core.ErrNotInitialized)
}

func TestGenerate(t *testing.T) {
	ctx := context.Background()
	mint := newFakeMint(t)
	w := newTestWallet(t, mint, newMemProofs(), newMemCounters())

	_, err := w.Redeem(ctx, mint.token(t, primaryMint, 1, 2, 8))
	require.NoError(t, err)

	_, err = w.Generate(ctx, 0, "")
	assert.ErrorIs(t, err, core.ErrInvalidAmount)

	_, err = w.Generate(ctx, 100, "")
	assert.ErrorIs(t, err, core.ErrInsufficientBalance)

	// 2 + 1 is an exact subset, no swap needed
	calls := mint.swapCalls
	withdrawal, err := w.Generate(ctx, 3, "exact")
	require.NoError(t, err)
	assert.Equal(t, calls, mint.swapCalls)
	assert.EqualValues(t, 8, w.Balance())

	token, err := cashu.Parse(withdrawal.Token)
	require.NoError(t, err)
	assert.EqualValues(t, 3, token.Amount())
	assert.Equal(t, primaryMint, token.Mint)
	assert.Equal(t, "exact", token.Memo)

	// 5 out of a single 8 needs a swap into send and keep outputs
	withdrawal, err = w.Generate(ctx, 5, "")
	require.NoError(t, err)
	assert.Equal(t, calls+1, mint.swapCalls)
	assert.EqualValues(t, 3, w.Balance())

	token, err = cashu.Parse(withdrawal.Token)
	require.NoError(t, err)
	assert.EqualValues(t, 5, token.Amount())

	swept, err := w.SweepAll(ctx, "")
	require.NoError(t, err)
	assert.EqualValues(t, 3, swept.Amount)
	assert.Zero(t, w.Balance())

	_, err = w.SweepAll(ctx, "")
	assert.ErrorIs(t, err, core.ErrInsufficientBalance)
}

func TestGeneratedTokenIsRedeemable(t *testing.T) {
	ctx := context.Background()
	mint := newFakeMint(t)
	sender := newTestWallet(t, mint, newMemProofs(), newMemCounters())

	_, err := sender.Redeem(ctx, mint.token(t, primaryMint, 32))
	require.NoError(t, err)

	withdrawal, err := sender.Generate(ctx, 21, "")
	require.NoError(t, err)

	// same seed, but far ahead of the positions the sender used
	path, err := keychain.Path(testKeyset)
	require.NoError(t, err)
	counters := newMemCounters()
	counters.m[path] = 1000
	receiver := newTestWallet(t, mint, newMemProofs(), counters)

	receipt, err := receiver.Redeem(ctx, withdrawal.Token)
	require.NoError(t, err)
	assert.EqualValues(t, 21, receipt.Amount)
}

func TestMelt(t *testing.T) {
	ctx := context.Background()
	mint := newFakeMint(t)
	mint.meltFee = 1
	w := newTestWallet(t, mint, newMemProofs(), newMemCounters())

	_, err := w.Redeem(ctx, mint.token(t, primaryMint, 4, 32, 64))
	require.NoError(t, err)

	quote, err := w.MeltQuote(ctx, "lnbc50")
	require.NoError(t, err)
	assert.EqualValues(t, 50, quote.Amount)

	receipt, err := w.Melt(ctx, quote)
	require.NoError(t, err)
	assert.EqualValues(t, 51, receipt.Spent)
	assert.EqualValues(t, 49, receipt.Change)
	assert.EqualValues(t, 49, w.Balance())

	big, err := w.MeltQuote(ctx, "lnbc1000")
	require.NoError(t, err)

	_, err = w.Melt(ctx, big)
	assert.ErrorIs(t, err, core.ErrInsufficientBalance)
	assert.Equal(t, 1, mint.meltCalls)
}

func TestMeltCounterConflict(t *testing.T) {
	ctx := context.Background()

	t.Run("recovered", func(t *testing.T) {
		mint := newFakeMint(t)
		w := newTestWallet(t, mint, newMemProofs(), newMemCounters())

		_, err := w.Redeem(ctx, mint.token(t, primaryMint, 4, 32, 64))
		require.NoError(t, err)

		quote, err := w.MeltQuote(ctx, "lnbc50")
		require.NoError(t, err)

		mint.meltConflicts = 1
		restores := mint.restoreCalls

		receipt, err := w.Melt(ctx, quote)
		require.NoError(t, err)
		assert.Equal(t, 2, mint.meltCalls)
		assert.Greater(t, mint.restoreCalls, restores)
		assert.EqualValues(t, 50, receipt.Amount)
		assert.EqualValues(t, 50, w.Balance())
	})

	t.Run("release failure is logged", func(t *testing.T) {
		mint := newFakeMint(t)
		proofs := newMemProofs()
		w := newTestWallet(t, mint, proofs, newMemCounters())

		var logs strings.Builder
		w.logger = slog.New(slog.NewTextHandler(&logs, nil))

		_, err := w.Redeem(ctx, mint.token(t, primaryMint, 4, 32, 64))
		require.NoError(t, err)

		quote, err := w.MeltQuote(ctx, "lnbc50")
		require.NoError(t, err)

		mint.meltConflicts = 1
		proofs.releaseErr = errors.New("disk full")

		// every input is stuck reserved, so the retry has nothing left to spend
		_, err = w.Melt(ctx, quote)
		assert.ErrorIs(t, err, core.ErrInsufficientBalance)
		assert.Equal(t, 1, mint.meltCalls)
		assert.Contains(t, logs.String(), "proofs.Release")
		assert.Contains(t, logs.String(), "disk full")
	})
}

func TestCheckSpent(t *testing.T) {
	ctx := context.Background()
	mint := newFakeMint(t)
	w := newTestWallet(t, mint, newMemProofs(), newMemCounters())

	raw := mint.token(t, primaryMint, 2)
	assert.False(t, w.CheckSpent(ctx, raw))

	_, err := w.Redeem(ctx, raw)
	require.NoError(t, err)
	assert.True(t, w.CheckSpent(ctx, raw))

	assert.True(t, w.CheckSpent(ctx, "cashuAnotatoken"))

	mint.checkErr = core.ErrTransport
	assert.True(t, w.CheckSpent(ctx, mint.token(t, primaryMint, 2)))
}

func TestBlankOutputs(t *testing.T) {
	for _, tc := range []struct {
		overpaid uint64
		want     int
	}{
		{0, 0},
		{1, 1},
		{2, 2},
		{50, 6},
		{1000, 10},
	} {
		assert.Equal(t, tc.want, blankOutputs(tc.overpaid), "overpaid %d", tc.overpaid)
	}
}

func TestPreview(t *testing.T) {
	assert.Equal(t, "debug", Preview("debug"))
	assert.Equal(t, "cashuAeyJ0b2tlbiI6W3...", Preview("cashuAeyJ0b2tlbiI6W3sibWludCI6"))
}
