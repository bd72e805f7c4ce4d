package cleaner

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/pandodao/plebwallet/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProofs struct {
	core.ProofStore

	reserved []*core.ProofRecord
	before   time.Time
	pages    int
	deleted  []string
}

// ListReserved expects reserved to be sorted by secret.
func (s *fakeProofs) ListReserved(_ context.Context, reservedBefore time.Time, after string, limit int) ([]*core.ProofRecord, error) {
	s.before = reservedBefore
	s.pages++

	var page []*core.ProofRecord
	for _, p := range s.reserved {
		if p.Secret > after && len(page) < limit {
			page = append(page, p)
		}
	}

	return page, nil
}

func (s *fakeProofs) Delete(_ context.Context, secrets []string) error {
	s.deleted = append(s.deleted, secrets...)
	return nil
}

type fakeMarkers struct {
	core.ContinuationStore

	before time.Time
}

func (m *fakeMarkers) Purge(_ context.Context, before time.Time) (int64, error) {
	m.before = before
	return 2, nil
}

type fakeMint struct {
	core.MintService

	states map[string]string
	down   map[string]bool
}

func (m *fakeMint) CheckState(_ context.Context, mint string, ys []string) ([]*core.ProofState, error) {
	if m.down[mint] {
		return nil, core.ErrTransport
	}

	out := make([]*core.ProofState, len(ys))
	for i, y := range ys {
		state, ok := m.states[y]
		if !ok {
			state = core.ProofStateUnspent
		}

		out[i] = &core.ProofState{Y: y, State: state}
	}

	return out, nil
}

func TestRun(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	proofs := &fakeProofs{reserved: []*core.ProofRecord{
		{Secret: "s1", Y: "y1", Mint: "https://a.example"},
		{Secret: "s2", Y: "y2", Mint: "https://a.example"},
		{Secret: "s3", Y: "y3", Mint: "https://a.example"},
		{Secret: "s4", Y: "y4", Mint: "https://b.example"},
	}}

	mint := &fakeMint{
		states: map[string]string{"y1": core.ProofStateSpent, "y2": core.ProofStatePending, "y4": core.ProofStateSpent},
		down:   map[string]bool{"https://b.example": true},
	}

	w := New(proofs, mint, &fakeMarkers{}, slog.New(slog.NewTextHandler(io.Discard, nil)), Config{
		Grace:    time.Hour,
		Interval: time.Minute,
		Limit:    100,
	})
	w.now = func() time.Time { return now }

	dropped, err := w.run(context.Background())
	require.NoError(t, err)

	// pending and unspent stay, the unreachable mint is skipped
	assert.Equal(t, 1, dropped)
	assert.Equal(t, []string{"s1"}, proofs.deleted)
	assert.Equal(t, now.Add(-time.Hour), proofs.before)
}

func TestRunPagesPastUnspent(t *testing.T) {
	var reserved []*core.ProofRecord
	for _, s := range []string{"s1", "s2", "s3", "s4", "s5"} {
		reserved = append(reserved, &core.ProofRecord{Secret: s, Y: "y" + s[1:], Mint: "https://a.example"})
	}

	proofs := &fakeProofs{reserved: reserved}

	// the oldest reservations are unredeemed withdrawal tokens, only the last one was spent
	mint := &fakeMint{states: map[string]string{"y5": core.ProofStateSpent}}

	w := New(proofs, mint, &fakeMarkers{}, slog.New(slog.NewTextHandler(io.Discard, nil)), Config{
		Grace:    time.Hour,
		Interval: time.Minute,
		Limit:    2,
	})

	dropped, err := w.run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, dropped)
	assert.Equal(t, []string{"s5"}, proofs.deleted)
	assert.Equal(t, 3, proofs.pages)
}

func TestPurge(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	markers := &fakeMarkers{}

	w := New(&fakeProofs{}, &fakeMint{}, markers, slog.New(slog.NewTextHandler(io.Discard, nil)), Config{
		Grace:    time.Hour,
		Interval: time.Minute,
		Limit:    100,
	})
	w.now = func() time.Time { return now }

	w.purge(context.Background())
	assert.Equal(t, now, markers.before)
}

func TestRunEmpty(t *testing.T) {
	w := New(&fakeProofs{}, &fakeMint{}, &fakeMarkers{}, slog.New(slog.NewTextHandler(io.Discard, nil)), Config{
		Grace:    time.Hour,
		Interval: time.Minute,
		Limit:    100,
	})

	dropped, err := w.run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, dropped)
}

func TestRunStops(t *testing.T) {
	w := New(&fakeProofs{}, &fakeMint{}, &fakeMarkers{}, slog.New(slog.NewTextHandler(io.Discard, nil)), Config{
		Grace:    time.Hour,
		Interval: time.Millisecond,
		Limit:    10,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := w.Run(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}
