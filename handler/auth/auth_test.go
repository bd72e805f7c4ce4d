package auth

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/nbd-wtf/go-nostr"
	"github.com/pandodao/plebwallet/service/nip98"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAuth(t *testing.T, publicURL string, admins ...string) *Auth {
	v, err := nip98.New(nip98.Config{Allowlist: admins})
	require.NoError(t, err)

	return New(v, slog.New(slog.NewTextHandler(io.Discard, nil)), Config{PublicURL: publicURL})
}

func keypair(t *testing.T) (string, string) {
	sk := nostr.GeneratePrivateKey()
	pk, err := nostr.GetPublicKey(sk)
	require.NoError(t, err)
	return sk, pk
}

func TestRequire(t *testing.T) {
	adminSK, adminPK := keypair(t)
	otherSK, _ := keypair(t)

	const body = `{"amount":100}`

	echo := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := From(r.Context())
		require.True(t, ok)
		assert.Equal(t, adminPK, id.Pubkey)

		// the body is still readable after verification
		b, _ := io.ReadAll(r.Body)
		assert.Equal(t, body, string(b))
		w.WriteHeader(http.StatusNoContent)
	})

	sign := func(sk, url string) string {
		h, err := nip98.Header(sk, url, http.MethodPost, []byte(body))
		require.NoError(t, err)
		return h
	}

	tests := []struct {
		name      string
		publicURL string
		header    string
		want      int
	}{
		{"missing header", "", "", http.StatusUnauthorized},
		{"admin", "", sign(adminSK, "http://example.com/admin/withdraw"), http.StatusNoContent},
		{"trailing slash", "", sign(adminSK, "http://example.com/admin/withdraw/"), http.StatusNoContent},
		{"not an admin", "", sign(otherSK, "http://example.com/admin/withdraw"), http.StatusUnauthorized},
		{"wrong url", "", sign(adminSK, "http://example.com/admin/sweep"), http.StatusUnauthorized},
		{"behind proxy", "https://api.example.org", sign(adminSK, "https://api.example.org/admin/withdraw"), http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newAuth(t, tt.publicURL, adminPK)

			r := httptest.NewRequest(http.MethodPost, "http://example.com/admin/withdraw", strings.NewReader(body))
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}

			w := httptest.NewRecorder()
			a.Require(echo).ServeHTTP(w, r)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestRequireWithoutAdmins(t *testing.T) {
	sk, _ := keypair(t)
	a := newAuth(t, "")

	r := httptest.NewRequest(http.MethodGet, "http://example.com/admin/stats", nil)
	h, err := nip98.Header(sk, "http://example.com/admin/stats", http.MethodGet, nil)
	require.NoError(t, err)
	r.Header.Set("Authorization", h)

	w := httptest.NewRecorder()
	a.Require(http.NotFoundHandler()).ServeHTTP(w, r)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestInspect(t *testing.T) {
	_, adminPK := keypair(t)
	sk, pk := keypair(t)
	a := newAuth(t, "", adminPK)

	r := httptest.NewRequest(http.MethodGet, "http://example.com/admin/auth/info", nil)
	assert.Nil(t, a.Inspect(r))

	h, err := nip98.Header(sk, "http://example.com/admin/auth/info", http.MethodGet, nil)
	require.NoError(t, err)
	r.Header.Set("Authorization", h)

	id := a.Inspect(r)
	require.NotNil(t, id)
	assert.Equal(t, pk, id.Pubkey)
	assert.False(t, a.Verifier().Allowed(id.Pubkey))
}

func TestAbsoluteURL(t *testing.T) {
	a := newAuth(t, "")
	r := httptest.NewRequest(http.MethodGet, "http://internal:8000/admin/stats?x=1", nil)
	r.Header.Set("X-Forwarded-Proto", "https")
	r.Header.Set("X-Forwarded-Host", "wallet.example.com")
	assert.Equal(t, "https://wallet.example.com/admin/stats?x=1", a.AbsoluteURL(r))

	a = newAuth(t, "https://pub.example.com/")
	assert.Equal(t, "https://pub.example.com/admin/stats?x=1", a.AbsoluteURL(r))
}
