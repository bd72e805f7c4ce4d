package wallet

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/pandodao/plebwallet/cashu"
	"github.com/pandodao/plebwallet/core"
	"github.com/pandodao/plebwallet/service/keychain"
	"github.com/stretchr/testify/require"
)

const (
	testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"
	testKeyset   = "009a1f293253e41e"
	primaryMint  = "https://mint.example.com"
	otherMint    = "https://other.example.com"
)

// fakeMint signs for real so the wallet's unblinding is exercised end to end.
type fakeMint struct {
	mu      sync.Mutex
	keys    map[uint64]*secp256k1.PrivateKey
	spent   map[string]bool
	signed  map[string]cashu.BlindedSignature
	feePPK  uint64
	meltFee uint64

	conflicts     int
	meltConflicts int
	checkErr      error
	swapCalls    int
	restoreCalls int
	meltCalls    int
}

func newFakeMint(t *testing.T) *fakeMint {
	m := &fakeMint{
		keys:   map[uint64]*secp256k1.PrivateKey{},
		spent:  map[string]bool{},
		signed: map[string]cashu.BlindedSignature{},
	}

	for i := 0; i < 21; i++ {
		k, err := secp256k1.GeneratePrivateKey()
		require.NoError(t, err)
		m.keys[1<<i] = k
	}

	return m
}

func (m *fakeMint) Keysets(_ context.Context, mint string) ([]*core.Keyset, error) {
	return []*core.Keyset{{ID: testKeyset, Mint: mint, Unit: "sat", Active: true, InputFeePPK: m.feePPK}}, nil
}

func (m *fakeMint) Keys(_ context.Context, mint, id string) (*core.Keyset, error) {
	if id != testKeyset {
		return nil, core.ErrUnknownKeyset
	}

	keys := make(map[uint64]string, len(m.keys))
	for amount, k := range m.keys {
		keys[amount] = cashu.EncodePoint(k.PubKey())
	}

	return &core.Keyset{ID: id, Mint: mint, Unit: "sat", Active: true, Keys: keys}, nil
}

func (m *fakeMint) CheckState(_ context.Context, _ string, ys []string) ([]*core.ProofState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.checkErr != nil {
		return nil, m.checkErr
	}

	states := make([]*core.ProofState, len(ys))
	for i, y := range ys {
		state := core.ProofStateUnspent
		if m.spent[y] {
			state = core.ProofStateSpent
		}

		states[i] = &core.ProofState{Y: y, State: state}
	}

	return states, nil
}

// spend verifies and burns inputs. Caller holds mu.
func (m *fakeMint) spend(inputs cashu.Proofs) error {
	ys := make([]string, len(inputs))
	for i, p := range inputs {
		k, ok := m.keys[p.Amount]
		if !ok || p.ID != testKeyset {
			return core.ErrUnknownKeyset
		}

		y, err := cashu.HashToCurve([]byte(p.Secret))
		if err != nil {
			return err
		}

		if cashu.EncodePoint(cashu.Sign(y, k)) != p.C {
			return errors.New("invalid proof")
		}

		ys[i] = cashu.EncodePoint(y)
		if m.spent[ys[i]] {
			return core.ErrAlreadySpent
		}
	}

	for _, y := range ys {
		m.spent[y] = true
	}

	return nil
}

func (m *fakeMint) sign(msg cashu.BlindedMessage, amount uint64) (cashu.BlindedSignature, error) {
	b, err := cashu.ParsePoint(msg.B_)
	if err != nil {
		return cashu.BlindedSignature{}, err
	}

	sig := cashu.BlindedSignature{Amount: amount, ID: testKeyset, C_: cashu.EncodePoint(cashu.Sign(b, m.keys[amount]))}
	m.signed[msg.B_] = sig
	return sig, nil
}

func (m *fakeMint) Swap(_ context.Context, _ string, inputs cashu.Proofs, outputs []cashu.BlindedMessage) ([]cashu.BlindedSignature, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.swapCalls++
	if m.conflicts > 0 {
		m.conflicts--
		return nil, fmt.Errorf("outputs have already been signed: %w", core.ErrCounterConflict)
	}

	var out uint64
	for _, o := range outputs {
		if _, ok := m.signed[o.B_]; ok {
			return nil, fmt.Errorf("outputs have already been signed: %w", core.ErrCounterConflict)
		}

		out += o.Amount
	}

	fee := (m.feePPK*uint64(len(inputs)) + 999) / 1000
	if inputs.Amount() != out+fee {
		return nil, core.ErrInvalidAmount
	}

	if err := m.spend(inputs); err != nil {
		return nil, err
	}

	sigs := make([]cashu.BlindedSignature, len(outputs))
	for i, o := range outputs {
		sig, err := m.sign(o, o.Amount)
		if err != nil {
			return nil, err
		}

		sigs[i] = sig
	}

	return sigs, nil
}

func (m *fakeMint) Restore(_ context.Context, _ string, outputs []cashu.BlindedMessage) ([]cashu.BlindedMessage, []cashu.BlindedSignature, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.restoreCalls++

	var (
		outs []cashu.BlindedMessage
		sigs []cashu.BlindedSignature
	)

	for _, o := range outputs {
		if sig, ok := m.signed[o.B_]; ok {
			outs = append(outs, cashu.BlindedMessage{Amount: sig.Amount, ID: sig.ID, B_: o.B_})
			sigs = append(sigs, sig)
		}
	}

	return outs, sigs, nil
}

func (m *fakeMint) MeltQuote(_ context.Context, _, request string) (*core.MeltQuote, error) {
	var amount uint64
	if _, err := fmt.Sscanf(request, "lnbc%d", &amount); err != nil {
		return nil, err
	}

	return &core.MeltQuote{Quote: "quote-" + request, Request: request, Amount: amount, FeeReserve: 4, State: core.MeltStateUnpaid}, nil
}

func (m *fakeMint) Melt(ctx context.Context, mint, quote string, inputs cashu.Proofs, outputs []cashu.BlindedMessage) (*core.MeltResult, error) {
	q, err := m.MeltQuote(ctx, mint, quote[len("quote-"):])
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.meltCalls++
	if m.meltConflicts > 0 {
		m.meltConflicts--
		return nil, fmt.Errorf("outputs have already been signed: %w", core.ErrCounterConflict)
	}

	if err := m.spend(inputs); err != nil {
		return nil, err
	}

	result := &core.MeltResult{Quote: quote, State: core.MeltStatePaid, Preimage: "00"}
	change := inputs.Amount() - q.Amount - m.meltFee
	for i, amount := range cashu.SplitAmount(change) {
		sig, err := m.sign(outputs[i], amount)
		if err != nil {
			return nil, err
		}

		result.Change = append(result.Change, sig)
	}

	return result, nil
}

// issue mints proofs directly, as a user's wallet would hold them.
func (m *fakeMint) issue(t *testing.T, amounts ...uint64) cashu.Proofs {
	proofs := make(cashu.Proofs, len(amounts))
	for i, amount := range amounts {
		b := make([]byte, 32)
		_, err := rand.Read(b)
		require.NoError(t, err)
		secret := hex.EncodeToString(b)

		y, err := cashu.HashToCurve([]byte(secret))
		require.NoError(t, err)

		proofs[i] = cashu.Proof{Amount: amount, ID: testKeyset, Secret: secret, C: cashu.EncodePoint(cashu.Sign(y, m.keys[amount]))}
	}

	return proofs
}

func (m *fakeMint) token(t *testing.T, mint string, amounts ...uint64) string {
	raw, err := cashu.EncodeA(&cashu.Token{Mint: mint, Unit: "sat", Proofs: m.issue(t, amounts...)})
	require.NoError(t, err)
	return raw
}

type memProofs struct {
	mu         sync.Mutex
	m          map[string]*core.ProofRecord
	releaseErr error
}

func newMemProofs() *memProofs {
	return &memProofs{m: map[string]*core.ProofRecord{}}
}

func (s *memProofs) Save(_ context.Context, proofs []*core.ProofRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range proofs {
		if _, ok := s.m[p.Secret]; !ok {
			cp := *p
			s.m[p.Secret] = &cp
		}
	}

	return nil
}

func (s *memProofs) filter(fn func(p *core.ProofRecord) bool) []*core.ProofRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*core.ProofRecord
	for _, p := range s.m {
		if fn(p) {
			cp := *p
			out = append(out, &cp)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Amount != out[j].Amount {
			return out[i].Amount > out[j].Amount
		}

		return out[i].Secret < out[j].Secret
	})

	return out
}

func (s *memProofs) ListUnspent(_ context.Context, mint string) ([]*core.ProofRecord, error) {
	return s.filter(func(p *core.ProofRecord) bool { return p.Mint == mint && !p.Reserved }), nil
}

func (s *memProofs) ListReserved(_ context.Context, _ time.Time, after string, limit int) ([]*core.ProofRecord, error) {
	out := s.filter(func(p *core.ProofRecord) bool { return p.Reserved && p.Secret > after })
	if len(out) > limit {
		out = out[:limit]
	}

	return out, nil
}

func (s *memProofs) Reserve(_ context.Context, secrets []string, sendID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, secret := range secrets {
		if p, ok := s.m[secret]; !ok || p.Reserved {
			return errors.New("optimistic lock failed")
		}
	}

	for _, secret := range secrets {
		s.m[secret].Reserved = true
		s.m[secret].SendID = sendID
	}

	return nil
}

func (s *memProofs) Release(_ context.Context, secrets []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.releaseErr != nil {
		return s.releaseErr
	}

	for _, secret := range secrets {
		if p, ok := s.m[secret]; ok {
			p.Reserved = false
			p.SendID = ""
		}
	}

	return nil
}

func (s *memProofs) Delete(_ context.Context, secrets []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, secret := range secrets {
		delete(s.m, secret)
	}

	return nil
}

func (s *memProofs) SumBalances(_ context.Context) ([]*core.Balance, error) {
	byMint := map[string]*core.Balance{}
	for _, p := range s.filter(func(p *core.ProofRecord) bool { return !p.Reserved }) {
		b, ok := byMint[p.Mint]
		if !ok {
			b = &core.Balance{Mint: p.Mint}
			byMint[p.Mint] = b
		}

		b.Amount += p.Amount
		b.Count++
	}

	var balances []*core.Balance
	for _, b := range byMint {
		balances = append(balances, b)
	}

	sort.Slice(balances, func(i, j int) bool { return balances[i].Mint < balances[j].Mint })
	return balances, nil
}

type memCounters struct {
	mu sync.Mutex
	m  map[string]uint32
}

func newMemCounters() *memCounters {
	return &memCounters{m: map[string]uint32{}}
}

func (s *memCounters) Get(_ context.Context, path string) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.m[path], nil
}

func (s *memCounters) Advance(_ context.Context, path string, from, to uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.m[path] != from || to <= from {
		return errors.New("optimistic lock failed")
	}

	s.m[path] = to
	return nil
}

func newTestWallet(t *testing.T, mint *fakeMint, proofs core.ProofStore, counters core.CounterStore) *Wallet {
	t.Helper()

	keys, err := keychain.New(testMnemonic)
	require.NoError(t, err)

	w := New(mint, proofs, counters, keys, slog.New(slog.NewTextHandler(io.Discard, nil)), Config{
		MintURL:      primaryMint + "/",
		TrustedMints: []string{otherMint},
		Unit:         "sat",
		RestoreBatch: 25,
		RestoreGap:   2,
	})

	require.NoError(t, w.Init(context.Background()))
	return w
}
