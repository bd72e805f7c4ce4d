package wallet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/asaskevich/govalidator"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/pandodao/plebwallet/cashu"
	"github.com/pandodao/plebwallet/core"
	"github.com/pandodao/plebwallet/metrics"
	"github.com/zyedidia/generic/mapset"
)

// Deriver produces the deterministic secret and blinding factor for an output position.
type Deriver interface {
	Derive(keysetID string, counter uint32) (string, *secp256k1.PrivateKey, error)
}

type Config struct {
	MintURL      string `valid:"url,required"`
	TrustedMints []string
	Unit         string `valid:"required"`
	// RestoreBatch and RestoreGap bound the counter recovery scan.
	RestoreBatch int `valid:"required"`
	RestoreGap   int `valid:"required"`
}

func NormalizeMint(mint string) string {
	return strings.TrimSuffix(strings.TrimSpace(mint), "/")
}

func New(
	mintz core.MintService,
	proofs core.ProofStore,
	counters core.CounterStore,
	keys Deriver,
	logger *slog.Logger,
	cfg Config,
) *Wallet {
	if _, err := govalidator.ValidateStruct(cfg); err != nil {
		panic(err)
	}

	cfg.MintURL = NormalizeMint(cfg.MintURL)
	trusted := mapset.New[string]()
	trusted.Put(cfg.MintURL)
	mints := []string{cfg.MintURL}
	for _, m := range cfg.TrustedMints {
		if m = NormalizeMint(m); m != "" && !trusted.Has(m) {
			trusted.Put(m)
			mints = append(mints, m)
		}
	}

	return &Wallet{
		mintz:    mintz,
		proofs:   proofs,
		counters: counters,
		keys:     keys,
		logger:   logger.With("service", "wallet"),
		cfg:      cfg,
		trusted:  trusted,
		mints:    mints,
		mu:       make(chan struct{}, 1),
	}
}

type Wallet struct {
	mintz    core.MintService
	proofs   core.ProofStore
	counters core.CounterStore
	keys     Deriver
	logger   *slog.Logger
	cfg      Config
	trusted  mapset.Set[string]
	mints    []string

	// mu serializes every mutation of the proof set and the counters.
	mu chan struct{}

	balance     atomic.Uint64
	initialized atomic.Bool

	ksMux   sync.RWMutex
	active  *core.Keyset
	keysets map[string]*core.Keyset
}

var _ core.WalletService = (*Wallet)(nil)

func (w *Wallet) lock(ctx context.Context) error {
	select {
	case w.mu <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Wallet) unlock() {
	<-w.mu
}

// Init loads the primary mint keysets and the held balance. It is safe to call again.
func (w *Wallet) Init(ctx context.Context) error {
	if err := w.lock(ctx); err != nil {
		return err
	}

	defer w.unlock()

	if err := w.loadKeysets(ctx); err != nil {
		return err
	}

	if err := w.reload(ctx); err != nil {
		return err
	}

	w.initialized.Store(true)
	w.logger.Info("wallet initialized", "mint", w.cfg.MintURL, "keyset", w.activeKeyset().ID, "balance", w.Balance())
	return nil
}

// Shutdown waits for the in flight mutation and refuses new ones.
func (w *Wallet) Shutdown(ctx context.Context) error {
	if err := w.lock(ctx); err != nil {
		return err
	}

	defer w.unlock()

	w.initialized.Store(false)
	w.logger.Info("wallet shutdown")
	return nil
}

// RefreshKeysets reloads the primary mint keysets so a rotated active keyset is picked up.
func (w *Wallet) RefreshKeysets(ctx context.Context) (bool, error) {
	if err := w.lock(ctx); err != nil {
		return false, err
	}

	defer w.unlock()

	before := w.activeKeyset()
	if err := w.loadKeysets(ctx); err != nil {
		return false, err
	}

	after := w.activeKeyset()
	return before == nil || before.ID != after.ID, nil
}

func (w *Wallet) loadKeysets(ctx context.Context) error {
	keysets, err := w.mintz.Keysets(ctx, w.cfg.MintURL)
	if err != nil {
		w.logger.Error("mintz.Keysets", "err", err)
		return err
	}

	index := make(map[string]*core.Keyset, len(keysets))
	var active *core.Keyset
	for _, ks := range keysets {
		index[ks.ID] = ks
		if active == nil && ks.Active && ks.Unit == w.cfg.Unit {
			active = ks
		}
	}

	if active == nil {
		return fmt.Errorf("%w: mint %s has no active %s keyset", core.ErrUnknownKeyset, w.cfg.MintURL, w.cfg.Unit)
	}

	keys, err := w.mintz.Keys(ctx, w.cfg.MintURL, active.ID)
	if err != nil {
		w.logger.Error("mintz.Keys", "keyset", active.ID, "err", err)
		return err
	}

	active.Keys = keys.Keys

	w.ksMux.Lock()
	w.active = active
	w.keysets = index
	w.ksMux.Unlock()

	return nil
}

func (w *Wallet) activeKeyset() *core.Keyset {
	w.ksMux.RLock()
	defer w.ksMux.RUnlock()
	return w.active
}

// keysetsOf returns the keysets of a mint, from the loaded snapshot for the primary mint.
func (w *Wallet) keysetsOf(ctx context.Context, mint string) (map[string]*core.Keyset, *core.Keyset, error) {
	if mint == w.cfg.MintURL {
		w.ksMux.RLock()
		defer w.ksMux.RUnlock()
		return w.keysets, w.active, nil
	}

	keysets, err := w.mintz.Keysets(ctx, mint)
	if err != nil {
		return nil, nil, err
	}

	index := make(map[string]*core.Keyset, len(keysets))
	var active *core.Keyset
	for _, ks := range keysets {
		index[ks.ID] = ks
		if active == nil && ks.Active && ks.Unit == w.cfg.Unit {
			active = ks
		}
	}

	if active == nil {
		return nil, nil, fmt.Errorf("%w: mint %s has no active %s keyset", core.ErrUnknownKeyset, mint, w.cfg.Unit)
	}

	keys, err := w.mintz.Keys(ctx, mint, active.ID)
	if err != nil {
		return nil, nil, err
	}

	withKeys := *active
	withKeys.Keys = keys.Keys
	return index, &withKeys, nil
}

// inputFee is ceil(sum(input_fee_ppk) / 1000) over the proofs' keysets.
func inputFee(keysets map[string]*core.Keyset, proofs cashu.Proofs) uint64 {
	var ppk uint64
	for _, p := range proofs {
		if ks, ok := keysets[p.ID]; ok {
			ppk += ks.InputFeePPK
		}
	}

	return (ppk + 999) / 1000
}

// reload recomputes the advisory balance from the store.
func (w *Wallet) reload(ctx context.Context) error {
	balances, err := w.proofs.SumBalances(ctx)
	if err != nil {
		w.logger.Error("proofs.SumBalances", "err", err)
		return err
	}

	var total uint64
	for _, b := range balances {
		if b.Mint == w.cfg.MintURL {
			total = b.Amount
		}
	}

	w.balance.Store(total)
	metrics.WalletBalance.Set(float64(total))
	return nil
}

// release hands reserved proofs back to the balance. A failure leaves them reserved until an operator steps in.
func (w *Wallet) release(ctx context.Context, secrets []string) {
	if err := w.proofs.Release(ctx, secrets); err != nil {
		w.logger.Error("proofs.Release", "count", len(secrets), "err", err)
	}
}

func (w *Wallet) Initialized() bool {
	return w.initialized.Load()
}

func (w *Wallet) IsTrusted(mint string) bool {
	return w.trusted.Has(NormalizeMint(mint))
}

func (w *Wallet) ValidateFormat(raw string) (*cashu.Token, error) {
	token, err := cashu.Parse(raw)
	if err != nil {
		return nil, err
	}

	if !w.IsTrusted(token.Mint) {
		return nil, fmt.Errorf("%w: %s", core.ErrUntrustedMint, token.Mint)
	}

	if token.Unit != "" && token.Unit != w.cfg.Unit {
		return nil, fmt.Errorf("%w: unit %s not supported", core.ErrMalformedToken, token.Unit)
	}

	token.Mint = NormalizeMint(token.Mint)
	return token, nil
}

func (w *Wallet) AmountOf(raw string) (uint64, error) {
	token, err := cashu.Parse(raw)
	if err != nil {
		return 0, err
	}

	return token.Amount(), nil
}

// CheckSpent reports whether any proof of the token is no longer unspent. Any failure counts as spent.
func (w *Wallet) CheckSpent(ctx context.Context, raw string) bool {
	token, err := cashu.Parse(raw)
	if err != nil {
		return true
	}

	ys := make([]string, len(token.Proofs))
	for i, p := range token.Proofs {
		if ys[i], err = cashu.Y(p.Secret); err != nil {
			return true
		}
	}

	states, err := w.mintz.CheckState(ctx, NormalizeMint(token.Mint), ys)
	if err != nil {
		w.logger.Warn("mintz.CheckState", "mint", token.Mint, "err", err)
		return true
	}

	for _, s := range states {
		if s.State != core.ProofStateUnspent {
			return true
		}
	}

	return false
}

func (w *Wallet) Balance() uint64 {
	return w.balance.Load()
}

func (w *Wallet) Redeem(ctx context.Context, raw string) (*core.Receipt, error) {
	if !w.initialized.Load() {
		return nil, core.ErrNotInitialized
	}

	if err := w.lock(ctx); err != nil {
		return nil, err
	}

	defer w.unlock()

	token, err := w.ValidateFormat(raw)
	if err != nil {
		metrics.Redemptions.WithLabelValues(resultOf(err)).Inc()
		return nil, err
	}

	logger := w.logger.With("mint", token.Mint, "amount", token.Amount(), "token", Preview(raw))

	receipt, err := w.redeem(ctx, token)
	if errors.Is(err, core.ErrCounterConflict) {
		logger.Warn("counter conflict, restoring counters", "err", err)
		if rerr := w.restore(ctx, token.Mint); rerr != nil {
			logger.Error("restore", "err", rerr)
			err = fmt.Errorf("%w: restore failed: %v", core.ErrCounterConflict, rerr)
		} else {
			receipt, err = w.redeem(ctx, token)
		}
	}

	metrics.Redemptions.WithLabelValues(resultOf(err)).Inc()

	if err != nil {
		if errors.Is(err, core.ErrCounterConflict) || errors.Is(err, core.ErrTransport) {
			logger.Error("UNREDEEMED TOKEN - MANUAL RECOVERY NEEDED", "raw_token", raw, "err", err)
		} else {
			logger.Info("redeem rejected", "err", err)
		}

		return nil, err
	}

	metrics.RedeemedSats.Add(float64(receipt.Amount))
	logger.Info("token redeemed", "received", receipt.Amount)
	return receipt, nil
}

func (w *Wallet) redeem(ctx context.Context, token *cashu.Token) (*core.Receipt, error) {
	keysets, active, err := w.keysetsOf(ctx, token.Mint)
	if err != nil {
		return nil, err
	}

	amount := token.Amount()
	fee := inputFee(keysets, token.Proofs)
	if fee >= amount {
		return nil, fmt.Errorf("%w: token value %d does not cover mint fee %d", core.ErrInvalidAmount, amount, fee)
	}

	outputs, err := w.prepareOutputs(ctx, active, cashu.SplitAmount(amount-fee))
	if err != nil {
		return nil, err
	}

	sigs, err := w.mintz.Swap(ctx, token.Mint, token.Proofs, outputs.messages())
	if err != nil {
		return nil, err
	}

	records, err := w.unblind(ctx, token.Mint, outputs, sigs)
	if err != nil {
		return nil, err
	}

	if err := w.proofs.Save(ctx, records); err != nil {
		w.logger.Error("proofs.Save, proofs recoverable by restore", "mint", token.Mint, "err", err)
		return nil, err
	}

	if err := w.reload(ctx); err != nil {
		return nil, err
	}

	return &core.Receipt{Amount: core.ProofRecords(records).Amount(), Mint: token.Mint}, nil
}

func (w *Wallet) Stats(ctx context.Context) (*core.WalletStats, error) {
	balances, err := w.proofs.SumBalances(ctx)
	if err != nil {
		return nil, err
	}

	stats := &core.WalletStats{
		Balance:      w.Balance(),
		Unit:         w.cfg.Unit,
		MintURL:      w.cfg.MintURL,
		TrustedMints: w.TrustedMints(),
		Balances:     balances,
		Initialized:  w.initialized.Load(),
	}

	for _, b := range balances {
		stats.ProofCount += b.Count
	}

	w.ksMux.RLock()
	stats.KeysetCount = len(w.keysets)
	if w.active != nil {
		stats.KeysetID = w.active.ID
	}
	w.ksMux.RUnlock()

	return stats, nil
}

// TrustedMints lists the trusted mints, primary first.
func (w *Wallet) TrustedMints() []string {
	return append([]string(nil), w.mints...)
}

// Preview shortens a token for logs.
func Preview(raw string) string {
	if len(raw) <= 20 {
		return raw
	}

	return raw[:20] + "..."
}

func resultOf(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, core.ErrMalformedToken):
		return "malformed"
	case errors.Is(err, core.ErrUntrustedMint):
		return "untrusted_mint"
	case errors.Is(err, core.ErrAlreadySpent):
		return "already_spent"
	case errors.Is(err, core.ErrCounterConflict):
		return "counter_conflict"
	case errors.Is(err, core.ErrTransport):
		return "transport"
	default:
		return "error"
	}
}
