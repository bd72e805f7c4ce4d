package payout

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/asaskevich/govalidator"
	"github.com/pandodao/plebwallet/core"
)

type Config struct {
	Address   string
	Threshold uint64        `valid:"required"`
	Interval  time.Duration `valid:"required"`
	// Timeout bounds a single payout, which is never cut short by shutdown.
	Timeout time.Duration
}

type Balancer interface {
	Balance() uint64
}

func New(
	walletz Balancer,
	payoutz core.PayoutService,
	properties core.PropertyStore,
	logger *slog.Logger,
	cfg Config,
) *Scheduler {
	if _, err := govalidator.ValidateStruct(cfg); err != nil {
		panic(err)
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}

	return &Scheduler{
		walletz:    walletz,
		payoutz:    payoutz,
		properties: properties,
		logger:     logger.With("worker", "payout"),
		cfg:        cfg,
	}
}

type Scheduler struct {
	walletz    Balancer
	payoutz    core.PayoutService
	properties core.PropertyStore
	logger     *slog.Logger
	cfg        Config
}

func (w *Scheduler) Run(ctx context.Context) error {
	if w.cfg.Address == "" {
		w.logger.Info("no payout address, scheduler disabled")
		<-ctx.Done()
		return ctx.Err()
	}

	w.logger.Info("payout scheduler start", "address", w.cfg.Address, "threshold", w.cfg.Threshold, "interval", w.cfg.Interval)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(w.cfg.Interval):
			_ = w.run(ctx)
		}
	}
}

func (w *Scheduler) run(ctx context.Context) error {
	balance := w.walletz.Balance()
	if balance < w.cfg.Threshold {
		w.logger.Debug("balance below threshold", "balance", balance)
		return nil
	}

	w.logger.Info("threshold reached, paying out", "balance", balance)

	// an in flight melt holds the wallet lock, let it finish on shutdown
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.cfg.Timeout)
	defer cancel()

	last := core.LastPayout{At: time.Now(), Address: w.cfg.Address, Balance: balance}
	result, err := w.payoutz.Payout(pctx, w.cfg.Address, balance)
	if err != nil {
		w.logger.Error("payoutz.Payout", "err", err)
		last.Error = err.Error()
	} else {
		w.logger.Info("payout done", "sent", result.AmountSent, "fee", result.FeePaid)
		last.AmountSent, last.FeePaid = result.AmountSent, result.FeePaid
	}

	if perr := w.properties.Set(pctx, core.PropertyLastPayout, last); perr != nil {
		w.logger.Error("properties.Set", "err", perr)
		err = errors.Join(err, perr)
	}

	return err
}
