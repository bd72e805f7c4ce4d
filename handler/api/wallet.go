package api

import (
	"net/http"

	"github.com/pandodao/plebwallet/core"
)

type tokenRequest struct {
	Token string `json:"token"`
}

type receiveResponse struct {
	Success bool   `json:"success"`
	Amount  uint64 `json:"amount"`
	Mint    string `json:"mint,omitempty"`
	Error   string `json:"error,omitempty"`
	Code    string `json:"code,omitempty"`
}

func (s *Server) receive(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := decode(w, r, &req); err != nil || req.Token == "" {
		renderJSON(w, http.StatusBadRequest, receiveResponse{Error: "token is required", Code: core.ErrorCode(core.ErrMalformedToken)})
		return
	}

	receipt, err := s.walletz.Redeem(r.Context(), req.Token)
	if err != nil {
		renderJSON(w, statusOf(err), receiveResponse{Error: err.Error(), Code: core.ErrorCode(err)})
		return
	}

	renderJSON(w, http.StatusOK, receiveResponse{Success: true, Amount: receipt.Amount, Mint: receipt.Mint})
}

func (s *Server) check(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := decode(w, r, &req); err != nil || req.Token == "" {
		renderJSON(w, http.StatusBadRequest, core.TokenCheck{Error: "token is required"})
		return
	}

	check, err := s.payments.Check(r.Context(), req.Token)
	if err != nil {
		renderJSON(w, statusOf(err), core.TokenCheck{Error: err.Error()})
		return
	}

	renderJSON(w, http.StatusOK, check)
}

func (s *Server) balance(w http.ResponseWriter, r *http.Request) {
	stats, err := s.walletz.Stats(r.Context())
	if err != nil {
		s.logger.Error("walletz.Stats", "err", err)
		renderDetail(w, http.StatusInternalServerError, err.Error())
		return
	}

	renderJSON(w, http.StatusOK, map[string]any{
		"balance": stats.Balance,
		"unit":    stats.Unit,
	})
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.walletz.Stats(r.Context())
	if err != nil {
		s.logger.Error("walletz.Stats", "err", err)
		renderDetail(w, http.StatusInternalServerError, err.Error())
		return
	}

	renderJSON(w, http.StatusOK, stats)
}
