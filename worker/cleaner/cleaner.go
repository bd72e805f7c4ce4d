package cleaner

import (
	"context"
	"log/slog"
	"time"

	"github.com/asaskevich/govalidator"
	"github.com/pandodao/plebwallet/core"
	"github.com/zyedidia/generic/mapset"
)

type Config struct {
	// Grace is how long a reserved proof is left alone after it was reserved.
	Grace    time.Duration `valid:"required"`
	Interval time.Duration `valid:"required"`
	// Limit is the page size, every reserved proof past the grace period is inspected each pass.
	Limit int `valid:"required"`
}

type Cleaner struct {
	proofs  core.ProofStore
	mintz   core.MintService
	markers core.ContinuationStore
	logger  *slog.Logger
	cfg    Config
	now    func() time.Time
}

func New(
	proofs core.ProofStore,
	mintz core.MintService,
	markers core.ContinuationStore,
	logger *slog.Logger,
	cfg Config,
) *Cleaner {
	if _, err := govalidator.ValidateStruct(cfg); err != nil {
		panic(err)
	}

	return &Cleaner{
		proofs:  proofs,
		mintz:   mintz,
		markers: markers,
		logger:  logger.With("worker", "cleaner"),
		cfg:     cfg,
		now:     time.Now,
	}
}

func (w *Cleaner) Run(ctx context.Context) error {
	w.logger.Info("cleaner start")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(w.cfg.Interval):
			_, _ = w.run(ctx)
			w.purge(ctx)
		}
	}
}

// run drops reserved proofs the mint reports spent and returns how many were dropped.
// Reserved proofs that are still unspent belong to a withdrawal token nobody redeemed yet and stay reserved.
func (w *Cleaner) run(ctx context.Context) (int, error) {
	before := w.now().Add(-w.cfg.Grace)

	var (
		dropped int
		after   string
	)

	for {
		page, err := w.proofs.ListReserved(ctx, before, after, w.cfg.Limit)
		if err != nil {
			w.logger.Error("proofs.ListReserved", "err", err)
			return dropped, err
		}

		if len(page) == 0 {
			return dropped, nil
		}

		n, err := w.drop(ctx, page)
		dropped += n
		if err != nil {
			return dropped, err
		}

		if len(page) < w.cfg.Limit {
			return dropped, nil
		}

		after = page[len(page)-1].Secret
	}
}

// purge forgets resumed chat runs whose markers expired.
func (w *Cleaner) purge(ctx context.Context) {
	n, err := w.markers.Purge(ctx, w.now())
	if err != nil {
		w.logger.Error("markers.Purge", "err", err)
		return
	}

	if n > 0 {
		w.logger.Info("expired continuations purged", "count", n)
	}
}

func (w *Cleaner) drop(ctx context.Context, reserved []*core.ProofRecord) (int, error) {
	byMint := map[string][]*core.ProofRecord{}
	for _, p := range reserved {
		byMint[p.Mint] = append(byMint[p.Mint], p)
	}

	var dropped int
	for mint, records := range byMint {
		spent, err := w.spentOf(ctx, mint, records)
		if err != nil {
			w.logger.Error("mintz.CheckState", "mint", mint, "err", err)
			continue
		}

		if len(spent) == 0 {
			continue
		}

		if err := w.proofs.Delete(ctx, spent); err != nil {
			w.logger.Error("proofs.Delete", "mint", mint, "err", err)
			return dropped, err
		}

		dropped += len(spent)
		w.logger.Info("spent reserved proofs dropped", "mint", mint, "count", len(spent))
	}

	return dropped, nil
}

func (w *Cleaner) spentOf(ctx context.Context, mint string, records []*core.ProofRecord) ([]string, error) {
	ys := make([]string, len(records))
	for i, p := range records {
		ys[i] = p.Y
	}

	states, err := w.mintz.CheckState(ctx, mint, ys)
	if err != nil {
		return nil, err
	}

	spent := mapset.New[string]()
	for _, s := range states {
		if s.State == core.ProofStateSpent {
			spent.Put(s.Y)
		}
	}

	var secrets []string
	for _, p := range records {
		if spent.Has(p.Y) {
			secrets = append(secrets, p.Secret)
		}
	}

	return secrets, nil
}
