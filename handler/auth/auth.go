package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/pandodao/plebwallet/metrics"
	"github.com/pandodao/plebwallet/service/nip98"
)

const maxBody = 1 << 20

type contextKey struct{}

type Config struct {
	// PublicURL replaces scheme and host of incoming requests when rebuilding the signed URL.
	PublicURL string
}

func New(verifier *nip98.Verifier, logger *slog.Logger, cfg Config) *Auth {
	return &Auth{
		verifier:  verifier,
		logger:    logger.With("handler", "auth"),
		publicURL: strings.TrimSuffix(cfg.PublicURL, "/"),
	}
}

type Auth struct {
	verifier  *nip98.Verifier
	logger    *slog.Logger
	publicURL string
}

func (a *Auth) Verifier() *nip98.Verifier {
	return a.verifier
}

// Require rejects requests that do not carry a NIP-98 header from an allowed admin.
func (a *Auth) Require(next http.Handler) http.Handler {
	fn := func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "" {
			metrics.AuthFailures.WithLabelValues("missing").Inc()
			unauthorized(w, "Missing Authorization header")
			return
		}

		if !a.verifier.Restricted() {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]string{"detail": "No admin pubkeys configured"})
			return
		}

		id, err := a.check(r, a.verifier.Verify)
		if err != nil {
			metrics.AuthFailures.WithLabelValues(reasonOf(err)).Inc()
			a.logger.Info("admin auth rejected", "path", r.URL.Path, "err", err)
			unauthorized(w, err.Error())
			return
		}

		next.ServeHTTP(w, r.WithContext(With(r.Context(), id)))
	}

	return http.HandlerFunc(fn)
}

// Inspect authenticates the request without the allowlist. A nil identity means no valid header.
func (a *Auth) Inspect(r *http.Request) *nip98.Identity {
	if r.Header.Get("Authorization") == "" {
		return nil
	}

	id, err := a.check(r, a.verifier.Authenticate)
	if err != nil {
		a.logger.Debug("auth info rejected", "err", err)
		return nil
	}

	return id
}

func (a *Auth) check(r *http.Request, verify func(nip98.Request) (*nip98.Identity, error)) (*nip98.Identity, error) {
	body, err := readBody(r)
	if err != nil {
		return nil, err
	}

	return verify(nip98.Request{
		Header: r.Header.Get("Authorization"),
		URL:    a.AbsoluteURL(r),
		Method: r.Method,
		Body:   body,
	})
}

// readBody drains the body and puts it back for the next handler.
func readBody(r *http.Request) ([]byte, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, nil
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	_ = r.Body.Close()
	if err != nil {
		return nil, err
	}

	r.Body = io.NopCloser(bytes.NewReader(body))
	return body, nil
}

// AbsoluteURL rebuilds the URL the client signed.
func (a *Auth) AbsoluteURL(r *http.Request) string {
	if a.publicURL != "" {
		return a.publicURL + r.URL.RequestURI()
	}

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}

	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}

	host := r.Host
	if fwd := r.Header.Get("X-Forwarded-Host"); fwd != "" {
		host = fwd
	}

	return scheme + "://" + host + r.URL.RequestURI()
}

func With(ctx context.Context, id *nip98.Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

func From(ctx context.Context) (*nip98.Identity, bool) {
	id, ok := ctx.Value(contextKey{}).(*nip98.Identity)
	return id, ok
}

func unauthorized(w http.ResponseWriter, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"detail": detail})
}

func reasonOf(err error) string {
	for _, r := range []struct {
		err    error
		reason string
	}{
		{nip98.ErrBadScheme, "bad_scheme"},
		{nip98.ErrBadEvent, "bad_event"},
		{nip98.ErrWrongKind, "wrong_kind"},
		{nip98.ErrTamperedEvent, "tampered"},
		{nip98.ErrBadSignature, "bad_signature"},
		{nip98.ErrExpired, "expired"},
		{nip98.ErrFromFuture, "future"},
		{nip98.ErrURLMismatch, "url_mismatch"},
		{nip98.ErrMethodMismatch, "method_mismatch"},
		{nip98.ErrPayloadMismatch, "payload_mismatch"},
		{nip98.ErrNotAuthorized, "not_authorized"},
	} {
		if errors.Is(err, r.err) {
			return r.reason
		}
	}

	return "other"
}
