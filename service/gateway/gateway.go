package gateway

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pandodao/plebwallet/core"
)

// NewLocal serves payments from the in-process wallet.
func NewLocal(walletz core.WalletService) core.PaymentGateway {
	return &local{walletz: walletz}
}

type local struct {
	walletz core.WalletService
}

func (g *local) Check(ctx context.Context, token string) (*core.TokenCheck, error) {
	t, err := g.walletz.ValidateFormat(token)
	if err != nil {
		return &core.TokenCheck{Valid: false, Error: err.Error()}, nil
	}

	return &core.TokenCheck{
		Valid:  true,
		Spent:  g.walletz.CheckSpent(ctx, token),
		Amount: t.Amount(),
		Mint:   t.Mint,
	}, nil
}

func (g *local) Receive(ctx context.Context, token string) (*core.Receipt, error) {
	return g.walletz.Redeem(ctx, token)
}

type RemoteConfig struct {
	BaseURL string
	Timeout time.Duration
}

// NewRemote talks to a wallet process over its /check and /receive endpoints.
func NewRemote(cfg RemoteConfig) core.PaymentGateway {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	return &remote{
		client: resty.New().
			SetBaseURL(strings.TrimSuffix(cfg.BaseURL, "/")).
			SetTimeout(cfg.Timeout).
			SetHeader("Content-Type", "application/json"),
	}
}

type remote struct {
	client *resty.Client
}

type tokenRequest struct {
	Token string `json:"token"`
}

type receiveResponse struct {
	Success bool   `json:"success"`
	Amount  uint64 `json:"amount"`
	Mint    string `json:"mint"`
	Error   string `json:"error"`
	Code    string `json:"code"`
}

func (g *remote) Check(ctx context.Context, token string) (*core.TokenCheck, error) {
	var body core.TokenCheck
	resp, err := g.client.R().
		SetContext(ctx).
		SetBody(tokenRequest{Token: token}).
		SetResult(&body).
		Post("/check")
	if err != nil {
		return nil, fmt.Errorf("%w: wallet check: %v", core.ErrTransport, err)
	}

	if resp.IsError() {
		return nil, fmt.Errorf("%w: wallet check responded %s", core.ErrTransport, resp.Status())
	}

	return &body, nil
}

func (g *remote) Receive(ctx context.Context, token string) (*core.Receipt, error) {
	var body receiveResponse
	resp, err := g.client.R().
		SetContext(ctx).
		SetBody(tokenRequest{Token: token}).
		SetResult(&body).
		SetError(&body).
		Post("/receive")
	if err != nil {
		return nil, fmt.Errorf("%w: wallet receive: %v", core.ErrTransport, err)
	}

	if !body.Success {
		if body.Error == "" && body.Code == "" {
			return nil, fmt.Errorf("%w: wallet receive responded %s", core.ErrTransport, resp.Status())
		}

		return nil, core.ErrorFromCode(body.Code, body.Error)
	}

	return &core.Receipt{Amount: body.Amount, Mint: body.Mint}, nil
}
