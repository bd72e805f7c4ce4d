package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/pandodao/generic"
	"github.com/pandodao/plebwallet/core"
	"github.com/pandodao/plebwallet/handler/auth"
	"github.com/pandodao/plebwallet/store/runlog"
)

type authInfoResponse struct {
	Authenticated bool   `json:"authenticated"`
	Pubkey        string `json:"pubkey,omitempty"`
	Npub          string `json:"npub,omitempty"`
	IsAdmin       bool   `json:"is_admin"`
}

func (s *Server) authInfo(w http.ResponseWriter, r *http.Request) {
	id := s.authz.Inspect(r)
	if id == nil {
		renderJSON(w, http.StatusOK, authInfoResponse{})
		return
	}

	renderJSON(w, http.StatusOK, authInfoResponse{
		Authenticated: true,
		Pubkey:        id.Pubkey,
		Npub:          id.Npub,
		IsAdmin:       s.authz.Verifier().Restricted() && s.authz.Verifier().Allowed(id.Pubkey),
	})
}

type adminStatsResponse struct {
	*core.WalletStats
	PayoutEnabled   bool                 `json:"payout_enabled"`
	PayoutAddress   string               `json:"payout_address,omitempty"`
	PayoutThreshold uint64               `json:"payout_threshold"`
	LastPayout      *core.LastPayout     `json:"last_payout,omitempty"`
	Keyset          *core.KeysetSnapshot `json:"keyset_snapshot,omitempty"`
	AdminPubkey     string               `json:"admin_pubkey"`
}

func (s *Server) adminStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	stats, err := s.walletz.Stats(ctx)
	if err != nil {
		s.logger.Error("walletz.Stats", "err", err)
		renderDetail(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := adminStatsResponse{
		WalletStats:     stats,
		PayoutEnabled:   s.cfg.PayoutAddress != "",
		PayoutAddress:   s.cfg.PayoutAddress,
		PayoutThreshold: s.cfg.PayoutThreshold,
	}

	if id, ok := auth.From(ctx); ok {
		resp.AdminPubkey = id.Pubkey
	}

	if resp.LastPayout, err = core.ReadLastPayout(ctx, s.properties); err != nil {
		s.logger.Warn("core.ReadLastPayout", "err", err)
	}

	if resp.Keyset, err = core.ReadKeysetSnapshot(ctx, s.properties); err != nil {
		s.logger.Warn("core.ReadKeysetSnapshot", "err", err)
	}

	renderJSON(w, http.StatusOK, resp)
}

type withdrawRequest struct {
	Amount uint64 `json:"amount"`
	Memo   string `json:"memo"`
}

type withdrawResponse struct {
	Success bool   `json:"success"`
	Token   string `json:"token,omitempty"`
	Amount  uint64 `json:"amount"`
	Error   string `json:"error,omitempty"`
	Code    string `json:"code,omitempty"`
}

func (s *Server) withdraw(w http.ResponseWriter, r *http.Request) {
	var req withdrawRequest
	if err := decode(w, r, &req); err != nil {
		renderDetail(w, http.StatusBadRequest, err.Error())
		return
	}

	if req.Amount == 0 {
		renderDetail(w, http.StatusBadRequest, "amount must be greater than 0")
		return
	}

	if req.Memo == "" {
		req.Memo = s.cfg.WithdrawMemo
	}

	s.renderWithdrawal(w, r, func() (*core.Withdrawal, error) {
		return s.walletz.Generate(r.Context(), req.Amount, req.Memo)
	})
}

func (s *Server) sweep(w http.ResponseWriter, r *http.Request) {
	s.renderWithdrawal(w, r, func() (*core.Withdrawal, error) {
		return s.walletz.SweepAll(r.Context(), s.cfg.SweepMemo)
	})
}

func (s *Server) renderWithdrawal(w http.ResponseWriter, r *http.Request, fn func() (*core.Withdrawal, error)) {
	withdrawal, err := fn()
	if err != nil {
		s.logger.Info("withdrawal failed", "path", r.URL.Path, "err", err)
		renderJSON(w, statusOf(err), withdrawResponse{Error: err.Error(), Code: core.ErrorCode(err)})
		return
	}

	renderJSON(w, http.StatusOK, withdrawResponse{
		Success: true,
		Token:   withdrawal.Token,
		Amount:  withdrawal.Amount,
	})
}

type payoutRequest struct {
	Amount    uint64 `json:"amount"`
	LnAddress string `json:"ln_address"`
}

type payoutResponse struct {
	Success    bool   `json:"success"`
	AmountSent uint64 `json:"amount_sent"`
	FeePaid    uint64 `json:"fee_paid"`
	Error      string `json:"error,omitempty"`
	Code       string `json:"code,omitempty"`
}

func (s *Server) payout(w http.ResponseWriter, r *http.Request) {
	var req payoutRequest
	// the body is optional
	if err := decode(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
		renderDetail(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := s.payoutz.Payout(r.Context(), req.LnAddress, req.Amount)
	if err != nil {
		renderJSON(w, statusOf(err), payoutResponse{Error: err.Error(), Code: core.ErrorCode(err)})
		return
	}

	renderJSON(w, http.StatusOK, payoutResponse{
		Success:    true,
		AmountSent: result.AmountSent,
		FeePaid:    result.FeePaid,
	})
}

type threadView struct {
	ThreadID string `json:"thread_id"`
}

func (s *Server) listThreads(w http.ResponseWriter, r *http.Request) {
	threads, err := s.runs.ListThreads(r.Context())
	if err != nil {
		s.logger.Error("runs.ListThreads", "err", err)
		renderDetail(w, http.StatusInternalServerError, err.Error())
		return
	}

	renderJSON(w, http.StatusOK, map[string]any{
		"threads": generic.MapSlice(threads, func(id string) threadView { return threadView{ThreadID: id} }),
	})
}

func (s *Server) readThread(w http.ResponseWriter, r *http.Request) {
	threadID := runlog.SanitizeThread(chi.URLParam(r, "thread_id"))

	events, err := s.runs.ReadThread(r.Context(), threadID)
	if err != nil {
		s.logger.Error("runs.ReadThread", "thread", threadID, "err", err)
		renderDetail(w, http.StatusInternalServerError, err.Error())
		return
	}

	if len(events) == 0 {
		renderDetail(w, http.StatusNotFound, "thread not found")
		return
	}

	renderJSON(w, http.StatusOK, map[string]any{
		"thread_id": threadID,
		"events":    events,
	})
}
