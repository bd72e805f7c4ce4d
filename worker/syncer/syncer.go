package syncer

import (
	"context"
	"log/slog"
	"time"

	"github.com/pandodao/plebwallet/core"
)

type KeysetRefresher interface {
	RefreshKeysets(ctx context.Context) (bool, error)
	Stats(ctx context.Context) (*core.WalletStats, error)
}

func New(
	walletz KeysetRefresher,
	properties core.PropertyStore,
	logger *slog.Logger,
	interval time.Duration,
) *Syncer {
	if interval <= 0 {
		interval = time.Minute
	}

	return &Syncer{
		walletz:    walletz,
		properties: properties,
		logger:     logger.With("worker", "syncer"),
		interval:   interval,
	}
}

type Syncer struct {
	walletz    KeysetRefresher
	properties core.PropertyStore
	logger     *slog.Logger
	interval   time.Duration
}

func (w *Syncer) Run(ctx context.Context) error {
	w.logger.Info("syncer start")

	for {
		dur := w.interval
		if w.run(ctx) != nil {
			dur = w.interval / 4
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(dur):
		}
	}
}

func (w *Syncer) run(ctx context.Context) error {
	var prev core.KeysetSnapshot
	if err := w.properties.Get(ctx, core.PropertyKeysetSnapshot, &prev); err != nil {
		w.logger.Error("properties.Get", "err", err)
		return err
	}

	rotated, err := w.walletz.RefreshKeysets(ctx)
	if err != nil {
		w.logger.Error("walletz.RefreshKeysets", "err", err)
		return err
	}

	stats, err := w.walletz.Stats(ctx)
	if err != nil {
		w.logger.Error("walletz.Stats", "err", err)
		return err
	}

	if rotated || prev.KeysetID != stats.KeysetID {
		w.logger.Info("active keyset changed", "from", prev.KeysetID, "to", stats.KeysetID)
	}

	next := core.KeysetSnapshot{
		Mint:      stats.MintURL,
		KeysetID:  stats.KeysetID,
		Count:     stats.KeysetCount,
		UpdatedAt: time.Now(),
	}

	if err := w.properties.Set(ctx, core.PropertyKeysetSnapshot, next); err != nil {
		w.logger.Error("properties.Set", "err", err)
		return err
	}

	return nil
}
