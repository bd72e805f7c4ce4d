package syncer

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/pandodao/plebwallet/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWallet struct {
	keysets []string
	calls   int
	err     error
}

func (w *fakeWallet) RefreshKeysets(context.Context) (bool, error) {
	if w.err != nil {
		return false, w.err
	}

	w.calls++
	return w.calls > 1 && w.keysets[w.calls-1] != w.keysets[w.calls-2], nil
}

func (w *fakeWallet) Stats(context.Context) (*core.WalletStats, error) {
	return &core.WalletStats{MintURL: "https://mint.example.com", KeysetID: w.keysets[w.calls-1], KeysetCount: w.calls}, nil
}

type memProperties map[string][]byte

func (s memProperties) Get(_ context.Context, key string, value any) error {
	if b, ok := s[key]; ok {
		return json.Unmarshal(b, value)
	}

	return nil
}

func (s memProperties) Set(_ context.Context, key string, value any) error {
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}

	s[key] = b
	return nil
}

func TestRun(t *testing.T) {
	ctx := context.Background()
	props := memProperties{}
	wallet := &fakeWallet{keysets: []string{"00aa", "00aa", "00bb"}}
	w := New(wallet, props, slog.New(slog.NewTextHandler(io.Discard, nil)), 0)

	snap, err := core.ReadKeysetSnapshot(ctx, props)
	require.NoError(t, err)
	assert.Nil(t, snap)

	for _, want := range wallet.keysets {
		require.NoError(t, w.run(ctx))

		snap, err := core.ReadKeysetSnapshot(ctx, props)
		require.NoError(t, err)
		require.NotNil(t, snap)
		assert.Equal(t, want, snap.KeysetID)
		assert.Equal(t, "https://mint.example.com", snap.Mint)
	}
}

func TestRunMintDown(t *testing.T) {
	props := memProperties{}
	w := New(&fakeWallet{err: core.ErrTransport}, props, slog.New(slog.NewTextHandler(io.Discard, nil)), 0)

	assert.ErrorIs(t, w.run(context.Background()), core.ErrTransport)
	assert.Empty(t, props)
}
