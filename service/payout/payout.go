package payout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/pandodao/plebwallet/core"
	"github.com/pandodao/plebwallet/metrics"
)

type Config struct {
	// Address is the default payee, used when a call names none.
	Address string
}

func New(
	walletz core.WalletService,
	payeez core.PayeeService,
	logger *slog.Logger,
	cfg Config,
) *Service {
	return &Service{
		walletz: walletz,
		payeez:  payeez,
		logger:  logger.With("service", "payout"),
		cfg:     cfg,
	}
}

type Service struct {
	walletz core.WalletService
	payeez  core.PayeeService
	logger  *slog.Logger
	cfg     Config
}

var _ core.PayoutService = (*Service)(nil)

func (s *Service) Address() string {
	return s.cfg.Address
}

// Plan computes the payout intent for amount sats, zero meaning the full balance.
func (s *Service) Plan(address string, amount uint64) (*core.PayoutIntent, error) {
	if address = strings.TrimSpace(address); address == "" {
		address = s.cfg.Address
	}

	if address == "" {
		return nil, core.ErrPayoutDisabled
	}

	balance := s.walletz.Balance()
	if amount == 0 {
		amount = balance
	}

	if amount == 0 {
		return nil, fmt.Errorf("%w: no funds to pay out", core.ErrInsufficientBalance)
	}

	if amount > balance {
		return nil, fmt.Errorf("%w: balance %d sats", core.ErrInsufficientBalance, balance)
	}

	fee := s.payeez.EstimateFee(amount)
	if amount <= fee {
		return nil, fmt.Errorf("%w: %d sats does not cover estimated fee %d", core.ErrInvalidAmount, amount, fee)
	}

	return &core.PayoutIntent{
		Address: address,
		Amount:  amount,
		Fee:     fee,
		Net:     amount - fee,
	}, nil
}

func (s *Service) Payout(ctx context.Context, address string, amount uint64) (*core.PayoutResult, error) {
	result, err := s.payout(ctx, address, amount)
	metrics.Payouts.WithLabelValues(resultOf(err)).Inc()
	if err != nil {
		return nil, err
	}

	metrics.PaidSats.Add(float64(result.AmountSent))
	return result, nil
}

func (s *Service) payout(ctx context.Context, address string, amount uint64) (*core.PayoutResult, error) {
	intent, err := s.Plan(address, amount)
	if err != nil {
		return nil, err
	}

	logger := s.logger.With("address", intent.Address, "amount", intent.Amount, "net", intent.Net)

	data, err := s.payeez.PayData(ctx, intent.Address)
	if err != nil {
		logger.Error("payeez.PayData", "err", err)
		return nil, err
	}

	intent.MinSendable, intent.MaxSendable = data.MinSendable, data.MaxSendable

	msat := intent.Net * 1000
	if msat < data.MinSendable {
		return nil, fmt.Errorf("%w: %d sats below minimum %d sats", core.ErrAmountOutOfBounds, intent.Net, data.MinSendable/1000)
	}

	if msat > data.MaxSendable {
		return nil, fmt.Errorf("%w: %d sats above maximum %d sats", core.ErrAmountOutOfBounds, intent.Net, data.MaxSendable/1000)
	}

	logger.Info("requesting invoice")
	invoice, err := s.payeez.Invoice(ctx, data, msat)
	if err != nil {
		logger.Error("payeez.Invoice", "err", err)
		return nil, err
	}

	quote, err := s.walletz.MeltQuote(ctx, invoice)
	if err != nil {
		return nil, err
	}

	logger.Info("melting", "quote", quote.Quote, "quote_amount", quote.Amount, "fee_reserve", quote.FeeReserve)
	receipt, err := s.walletz.Melt(ctx, quote)
	if err != nil {
		logger.Error("walletz.Melt", "err", err)
		return nil, err
	}

	result := &core.PayoutResult{
		Address:    intent.Address,
		AmountSent: intent.Net,
		Quote:      receipt.Quote,
		Preimage:   receipt.Preimage,
	}

	if receipt.Spent > intent.Net {
		result.FeePaid = receipt.Spent - intent.Net
	}

	logger.Info("payout complete", "sent", result.AmountSent, "fee", result.FeePaid, "balance", s.walletz.Balance())
	return result, nil
}

func resultOf(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, core.ErrPayoutDisabled):
		return "disabled"
	case errors.Is(err, core.ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, core.ErrInvalidPayee):
		return "invalid_payee"
	case errors.Is(err, core.ErrAmountOutOfBounds):
		return "out_of_bounds"
	case errors.Is(err, core.ErrPaymentPending):
		return "pending"
	default:
		return "error"
	}
}
