package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/pandodao/plebwallet/core"
	"github.com/pandodao/plebwallet/handler/auth"
	"github.com/pandodao/plebwallet/service/chat"
	"github.com/pandodao/plebwallet/service/gateway"
)

const maxBody = 1 << 20

type Config struct {
	PayoutAddress   string
	PayoutThreshold uint64
	WithdrawMemo    string
	SweepMemo       string
}

func New(
	walletz core.WalletService,
	payoutz core.PayoutService,
	graph *chat.Graph,
	runs core.RunLog,
	properties core.PropertyStore,
	authz *auth.Auth,
	logger *slog.Logger,
	cfg Config,
) *Server {
	if cfg.WithdrawMemo == "" {
		cfg.WithdrawMemo = "PlebChat admin withdrawal"
	}

	if cfg.SweepMemo == "" {
		cfg.SweepMemo = "PlebChat wallet sweep"
	}

	return &Server{
		walletz:    walletz,
		payments:   gateway.NewLocal(walletz),
		payoutz:    payoutz,
		graph:      graph,
		runs:       runs,
		properties: properties,
		authz:      authz,
		logger:     logger.With("server", "api"),
		cfg:        cfg,
	}
}

type Server struct {
	walletz    core.WalletService
	payments   core.PaymentGateway
	payoutz    core.PayoutService
	graph      *chat.Graph
	runs       core.RunLog
	properties core.PropertyStore
	authz      *auth.Auth
	logger     *slog.Logger
	cfg        Config
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Group(s.walletRoutes)
	r.Route("/api/wallet", s.walletRoutes)

	r.Route("/admin", func(r chi.Router) {
		r.Get("/auth/info", s.authInfo)

		r.Group(func(r chi.Router) {
			r.Use(s.authz.Require)
			r.Get("/stats", s.adminStats)
			r.Post("/withdraw", s.withdraw)
			r.Post("/sweep", s.sweep)
			r.Post("/payout", s.payout)
			r.Get("/threads", s.listThreads)
			r.Get("/threads/{thread_id}", s.readThread)
		})
	})

	r.Route("/api/chat", func(r chi.Router) {
		r.Post("/runs", s.startRun)
		r.Post("/runs/resume", s.resumeRun)
	})

	return r
}

func (s *Server) walletRoutes(r chi.Router) {
	r.Post("/receive", s.receive)
	r.Post("/check", s.check)
	r.Get("/balance", s.balance)
	r.Get("/stats", s.stats)
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return err
	}

	return nil
}

func renderJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func renderDetail(w http.ResponseWriter, status int, detail string) {
	renderJSON(w, status, map[string]string{"detail": detail})
}

// statusOf maps the error taxonomy onto HTTP statuses: local rejections are 4xx, upstream failures 502.
func statusOf(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, core.ErrTransport), errors.Is(err, core.ErrCounterConflict):
		return http.StatusBadGateway
	case errors.Is(err, core.ErrNotInitialized), errors.Is(err, core.ErrPayoutDisabled):
		return http.StatusServiceUnavailable
	case errors.Is(err, core.ErrPaymentPending):
		return http.StatusAccepted
	case errors.Is(err, core.ErrMalformedToken),
		errors.Is(err, core.ErrUntrustedMint),
		errors.Is(err, core.ErrUnknownKeyset),
		errors.Is(err, core.ErrInvalidAmount),
		errors.Is(err, core.ErrInvalidPayee),
		errors.Is(err, core.ErrAmountOutOfBounds):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrAlreadySpent), errors.Is(err, core.ErrInsufficientBalance):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
