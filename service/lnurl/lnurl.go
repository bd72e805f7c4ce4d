package lnurl

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcutil/bech32"
	"github.com/go-resty/resty/v2"
	"github.com/pandodao/plebwallet/core"
	"github.com/shopspring/decimal"
	"github.com/zyedidia/generic/cache"
)

const (
	tagPayRequest = "payRequest"

	defaultMinSendable = 1000
	defaultMaxSendable = 1_000_000_000_000

	// FeePPM is the routing fee assumed for payouts, 1%.
	FeePPM = 10000
	minFee = 2
)

type Config struct {
	Timeout         time.Duration
	ValidateTimeout time.Duration
	// CacheTTL bounds how long a fetched pay document is reused. Zero disables caching.
	CacheTTL time.Duration
}

func New(cfg Config) *Service {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	if cfg.ValidateTimeout <= 0 {
		cfg.ValidateTimeout = 5 * time.Second
	}

	return &Service{
		client: resty.New().
			SetTimeout(cfg.Timeout).
			SetHeader("Accept", "application/json"),
		cfg:   cfg,
		cache: cache.New[string, cached](128),
	}
}

type cached struct {
	data    *core.PayData
	fetched time.Time
}

type Service struct {
	client *resty.Client
	cfg    Config

	mux   sync.Mutex
	cache *cache.Cache[string, cached]
}

var _ core.PayeeService = (*Service)(nil)

// Resolve turns a lightning address, a bech32 lnurl or an https url into the pay document url.
func Resolve(address string) (string, error) {
	s := strings.TrimSpace(address)
	if len(s) >= 10 && strings.EqualFold(s[:10], "lightning:") {
		s = s[10:]
	}

	if parts := strings.Split(s, "@"); len(parts) == 2 {
		if parts[0] == "" || parts[1] == "" {
			return "", fmt.Errorf("%w: %q", core.ErrInvalidPayee, address)
		}

		return "https://" + parts[1] + "/.well-known/lnurlp/" + parts[0], nil
	}

	if strings.HasPrefix(strings.ToLower(s), "lnurl") {
		_, data, err := bech32.DecodeNoLimit(s)
		if err != nil {
			return "", fmt.Errorf("%w: decode lnurl: %v", core.ErrInvalidPayee, err)
		}

		b, err := bech32.ConvertBits(data, 5, 8, false)
		if err != nil {
			return "", fmt.Errorf("%w: decode lnurl: %v", core.ErrInvalidPayee, err)
		}

		return string(b), nil
	}

	if !strings.HasPrefix(s, "https://") {
		return "", fmt.Errorf("%w: direct lnurl must use https", core.ErrInvalidPayee)
	}

	return s, nil
}

type payResponse struct {
	Tag         string  `json:"tag"`
	Callback    *string `json:"callback"`
	MinSendable *uint64 `json:"minSendable"`
	MaxSendable *uint64 `json:"maxSendable"`
	Metadata    string  `json:"metadata"`
	Reason      string  `json:"reason"`
}

func (s *Service) PayData(ctx context.Context, address string) (*core.PayData, error) {
	url, err := Resolve(address)
	if err != nil {
		return nil, err
	}

	if data, ok := s.cached(url); ok {
		return data, nil
	}

	var body payResponse
	resp, err := s.client.R().SetContext(ctx).SetResult(&body).SetError(&body).Get(url)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch pay data: %v", core.ErrTransport, err)
	}

	if resp.IsError() {
		return nil, fmt.Errorf("%w: pay data %s: %s", core.ErrInvalidPayee, resp.Status(), body.Reason)
	}

	if body.Tag != tagPayRequest {
		return nil, fmt.Errorf("%w: expected tag %q, got %q", core.ErrInvalidPayee, tagPayRequest, body.Tag)
	}

	if body.Callback == nil || *body.Callback == "" {
		return nil, fmt.Errorf("%w: missing callback url", core.ErrInvalidPayee)
	}

	data := &core.PayData{
		Tag:         body.Tag,
		Callback:    *body.Callback,
		MinSendable: defaultMinSendable,
		MaxSendable: defaultMaxSendable,
		Metadata:    body.Metadata,
	}

	if body.MinSendable != nil {
		data.MinSendable = *body.MinSendable
	}

	if body.MaxSendable != nil {
		data.MaxSendable = *body.MaxSendable
	}

	s.store(url, data)
	return data, nil
}

func (s *Service) cached(url string) (*core.PayData, bool) {
	if s.cfg.CacheTTL <= 0 {
		return nil, false
	}

	s.mux.Lock()
	defer s.mux.Unlock()

	c, ok := s.cache.Get(url)
	if !ok || time.Since(c.fetched) > s.cfg.CacheTTL {
		return nil, false
	}

	return c.data, true
}

func (s *Service) store(url string, data *core.PayData) {
	if s.cfg.CacheTTL <= 0 {
		return
	}

	s.mux.Lock()
	s.cache.Put(url, cached{data: data, fetched: time.Now()})
	s.mux.Unlock()
}

type invoiceResponse struct {
	PR     string `json:"pr"`
	Status string `json:"status"`
	Reason string `json:"reason"`
}

func (s *Service) Invoice(ctx context.Context, data *core.PayData, amountMsat uint64) (string, error) {
	sep := "?"
	if strings.Contains(data.Callback, "?") {
		sep = "&"
	}

	var body invoiceResponse
	resp, err := s.client.R().
		SetContext(ctx).
		SetResult(&body).
		SetError(&body).
		Get(data.Callback + sep + "amount=" + strconv.FormatUint(amountMsat, 10))
	if err != nil {
		return "", fmt.Errorf("%w: request invoice: %v", core.ErrTransport, err)
	}

	if body.PR == "" {
		if body.Reason != "" {
			return "", fmt.Errorf("%w: %s", core.ErrInvalidPayee, body.Reason)
		}

		return "", fmt.Errorf("%w: invalid invoice response %s", core.ErrInvalidPayee, resp.Status())
	}

	return body.PR, nil
}

// EstimateFee is ceil(amount * FeePPM / 1e6) sats, at least 2.
func (s *Service) EstimateFee(amount uint64) uint64 {
	return EstimateFee(amount)
}

func EstimateFee(amount uint64) uint64 {
	fee := decimal.NewFromInt(int64(amount)).
		Mul(decimal.NewFromInt(FeePPM)).
		Div(decimal.NewFromInt(1_000_000)).
		Ceil().
		IntPart()

	return max(uint64(fee), minFee)
}

// Validate checks that address is a reachable lightning address of the user@host form.
func (s *Service) Validate(ctx context.Context, address string) error {
	if parts := strings.Split(strings.TrimSpace(address), "@"); len(parts) != 2 {
		return fmt.Errorf("%w: %q is not a lightning address", core.ErrInvalidPayee, address)
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.ValidateTimeout)
	defer cancel()

	data, err := s.PayData(ctx, address)
	if err != nil {
		return err
	}

	if data.MinSendable == 0 {
		return fmt.Errorf("%w: payee accepts nothing", core.ErrInvalidPayee)
	}

	return nil
}
