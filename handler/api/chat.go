package api

import (
	"errors"
	"net/http"

	"github.com/pandodao/plebwallet/core"
	"github.com/pandodao/plebwallet/service/chat"
)

func (s *Server) startRun(w http.ResponseWriter, r *http.Request) {
	var req chat.StartRequest
	if err := decode(w, r, &req); err != nil {
		renderDetail(w, http.StatusBadRequest, err.Error())
		return
	}

	if len(req.Messages) == 0 {
		renderDetail(w, http.StatusBadRequest, "messages are required")
		return
	}

	result, err := s.graph.Invoke(r.Context(), req)
	if err != nil {
		s.logger.Error("graph.Invoke", "err", err)
		renderDetail(w, http.StatusInternalServerError, err.Error())
		return
	}

	renderJSON(w, http.StatusOK, result)
}

type resumeRequest struct {
	Continuation string         `json:"continuation"`
	ToolResults  []core.Message `json:"tool_results"`
}

func (s *Server) resumeRun(w http.ResponseWriter, r *http.Request) {
	var req resumeRequest
	if err := decode(w, r, &req); err != nil {
		renderDetail(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := s.graph.Resume(r.Context(), req.Continuation, req.ToolResults)
	if err != nil {
		if errors.Is(err, chat.ErrBadContinuation) {
			renderDetail(w, http.StatusBadRequest, err.Error())
			return
		}

		s.logger.Error("graph.Resume", "err", err)
		renderDetail(w, http.StatusInternalServerError, err.Error())
		return
	}

	renderJSON(w, http.StatusOK, result)
}
