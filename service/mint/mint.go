package mint

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pandodao/plebwallet/cashu"
	"github.com/pandodao/plebwallet/core"
	"golang.org/x/sync/singleflight"
)

type Config struct {
	Timeout time.Duration
	Unit    string
}

func New(cfg Config) core.MintService {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	if cfg.Unit == "" {
		cfg.Unit = "sat"
	}

	keys, err := lru.New[string, *core.Keyset](64)
	if err != nil {
		panic(err)
	}

	return &service{
		client: resty.New().
			SetTimeout(cfg.Timeout).
			SetHeader("Accept", "application/json"),
		keys: keys,
		sf:   &singleflight.Group{},
		unit: cfg.Unit,
	}
}

type service struct {
	client *resty.Client
	keys   *lru.Cache[string, *core.Keyset]
	sf     *singleflight.Group
	unit   string
}

func endpoint(mint, path string) string {
	return strings.TrimSuffix(mint, "/") + path
}

func (s *service) request(ctx context.Context) *resty.Request {
	return s.client.R().SetContext(ctx).SetError(&Error{})
}

func check(resp *resty.Response, err error) error {
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrTransport, err)
	}

	if !resp.IsError() {
		return nil
	}

	if e, ok := resp.Error().(*Error); ok && (e.Code != 0 || e.Detail != "") {
		e.Status = resp.StatusCode()
		return e
	}

	return fmt.Errorf("%w: mint responded %s", core.ErrTransport, resp.Status())
}

type keysetResponse struct {
	Keysets []struct {
		ID          string            `json:"id"`
		Unit        string            `json:"unit"`
		Active      *bool             `json:"active,omitempty"`
		InputFeePPK uint64            `json:"input_fee_ppk"`
		Keys        map[string]string `json:"keys,omitempty"`
	} `json:"keysets"`
}

func (s *service) Keysets(ctx context.Context, mint string) ([]*core.Keyset, error) {
	v, err, _ := s.sf.Do("keysets:"+mint, func() (any, error) {
		var body keysetResponse
		if err := check(s.request(ctx).SetResult(&body).Get(endpoint(mint, "/v1/keysets"))); err != nil {
			return nil, err
		}

		keysets := make([]*core.Keyset, 0, len(body.Keysets))
		for _, k := range body.Keysets {
			keysets = append(keysets, &core.Keyset{
				ID:          k.ID,
				Mint:        mint,
				Unit:        k.Unit,
				Active:      k.Active == nil || *k.Active,
				InputFeePPK: k.InputFeePPK,
			})
		}

		return keysets, nil
	})
	if err != nil {
		return nil, err
	}

	return v.([]*core.Keyset), nil
}

func (s *service) Keys(ctx context.Context, mint, id string) (*core.Keyset, error) {
	key := mint + "|" + id
	if k, ok := s.keys.Get(key); ok {
		return k, nil
	}

	v, err, _ := s.sf.Do("keys:"+key, func() (any, error) {
		var body keysetResponse
		if err := check(s.request(ctx).SetResult(&body).Get(endpoint(mint, "/v1/keys/"+id))); err != nil {
			return nil, err
		}

		for _, k := range body.Keysets {
			if k.ID != id {
				continue
			}

			keyset := &core.Keyset{
				ID:     k.ID,
				Mint:   mint,
				Unit:   k.Unit,
				Active: k.Active == nil || *k.Active,
				Keys:   make(map[uint64]string, len(k.Keys)),
			}

			for amount, pub := range k.Keys {
				a, err := strconv.ParseUint(amount, 10, 64)
				if err != nil {
					return nil, fmt.Errorf("%w: keyset %s has bad amount %q", core.ErrTransport, id, amount)
				}

				keyset.Keys[a] = pub
			}

			s.keys.Add(key, keyset)
			return keyset, nil
		}

		return nil, fmt.Errorf("%w: %s", core.ErrUnknownKeyset, id)
	})
	if err != nil {
		return nil, err
	}

	return v.(*core.Keyset), nil
}

func (s *service) CheckState(ctx context.Context, mint string, ys []string) ([]*core.ProofState, error) {
	var body struct {
		States []*core.ProofState `json:"states"`
	}

	req := s.request(ctx).SetBody(map[string]any{"Ys": ys}).SetResult(&body)
	if err := check(req.Post(endpoint(mint, "/v1/checkstate"))); err != nil {
		return nil, err
	}

	if len(body.States) != len(ys) {
		return nil, fmt.Errorf("%w: checkstate returned %d states for %d proofs", core.ErrTransport, len(body.States), len(ys))
	}

	return body.States, nil
}

func (s *service) Swap(ctx context.Context, mint string, inputs cashu.Proofs, outputs []cashu.BlindedMessage) ([]cashu.BlindedSignature, error) {
	var body struct {
		Signatures []cashu.BlindedSignature `json:"signatures"`
	}

	req := s.request(ctx).
		SetBody(map[string]any{"inputs": inputs, "outputs": outputs}).
		SetResult(&body)
	if err := check(req.Post(endpoint(mint, "/v1/swap"))); err != nil {
		return nil, err
	}

	if len(body.Signatures) != len(outputs) {
		return nil, fmt.Errorf("%w: swap returned %d signatures for %d outputs", core.ErrTransport, len(body.Signatures), len(outputs))
	}

	return body.Signatures, nil
}

func (s *service) Restore(ctx context.Context, mint string, outputs []cashu.BlindedMessage) ([]cashu.BlindedMessage, []cashu.BlindedSignature, error) {
	var body struct {
		Outputs    []cashu.BlindedMessage   `json:"outputs"`
		Signatures []cashu.BlindedSignature `json:"signatures"`
		Promises   []cashu.BlindedSignature `json:"promises"`
	}

	req := s.request(ctx).SetBody(map[string]any{"outputs": outputs}).SetResult(&body)
	if err := check(req.Post(endpoint(mint, "/v1/restore"))); err != nil {
		return nil, nil, err
	}

	sigs := body.Signatures
	if len(sigs) == 0 {
		sigs = body.Promises
	}

	if len(sigs) != len(body.Outputs) {
		return nil, nil, fmt.Errorf("%w: restore returned %d signatures for %d outputs", core.ErrTransport, len(sigs), len(body.Outputs))
	}

	return body.Outputs, sigs, nil
}

type meltQuoteResponse struct {
	Quote      string `json:"quote"`
	Request    string `json:"request"`
	Amount     uint64 `json:"amount"`
	FeeReserve uint64 `json:"fee_reserve"`
	State      string `json:"state"`
	Paid       *bool  `json:"paid,omitempty"`
	Expiry     int64  `json:"expiry"`
}

func (r *meltQuoteResponse) state() string {
	if r.State != "" {
		return r.State
	}

	if r.Paid != nil && *r.Paid {
		return core.MeltStatePaid
	}

	return core.MeltStateUnpaid
}

func (s *service) MeltQuote(ctx context.Context, mint, request string) (*core.MeltQuote, error) {
	var body meltQuoteResponse
	req := s.request(ctx).
		SetBody(map[string]any{"request": request, "unit": s.unit}).
		SetResult(&body)
	if err := check(req.Post(endpoint(mint, "/v1/melt/quote/bolt11"))); err != nil {
		return nil, err
	}

	return &core.MeltQuote{
		Quote:      body.Quote,
		Request:    request,
		Amount:     body.Amount,
		FeeReserve: body.FeeReserve,
		State:      body.state(),
		Expiry:     body.Expiry,
	}, nil
}

func (s *service) Melt(ctx context.Context, mint, quote string, inputs cashu.Proofs, outputs []cashu.BlindedMessage) (*core.MeltResult, error) {
	var body struct {
		meltQuoteResponse
		Preimage string                   `json:"payment_preimage"`
		Change   []cashu.BlindedSignature `json:"change"`
	}

	payload := map[string]any{"quote": quote, "inputs": inputs}
	if len(outputs) > 0 {
		payload["outputs"] = outputs
	}

	req := s.request(ctx).SetBody(payload).SetResult(&body)
	if err := check(req.Post(endpoint(mint, "/v1/melt/bolt11"))); err != nil {
		return nil, err
	}

	return &core.MeltResult{
		Quote:    quote,
		State:    body.state(),
		Preimage: body.Preimage,
		Change:   body.Change,
	}, nil
}
