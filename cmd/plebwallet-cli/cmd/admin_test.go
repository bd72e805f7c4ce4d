/*
Copyright © 2024 pando
*/
package cmd

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"
	"github.com/pandodao/plebwallet/service/nip98"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSecretKey(t *testing.T) {
	sk := nostr.GeneratePrivateKey()
	nsec, err := nip19.EncodePrivateKey(sk)
	require.NoError(t, err)

	tests := []struct {
		name    string
		value   string
		want    string
		wantErr bool
	}{
		{name: "hex", value: sk, want: sk},
		{name: "nsec", value: " " + nsec + "\n", want: sk},
		{name: "empty", value: "", wantErr: true},
		{name: "bad nsec", value: "nsec1qqqq", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			viper.Set("admin_nsec", tt.value)
			t.Cleanup(func() { viper.Set("admin_nsec", "") })

			got, err := secretKey()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAdminCallSigned(t *testing.T) {
	sk := nostr.GeneratePrivateKey()
	pk, err := nostr.GetPublicKey(sk)
	require.NoError(t, err)

	verifier, err := nip98.New(nip98.Config{Allowlist: []string{pk}})
	require.NoError(t, err)

	var (
		srv     *httptest.Server
		gotPath string
	)
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		gotPath = r.URL.Path

		if _, err := verifier.VerifyHTTP(r, srv.URL+r.URL.Path, body); err != nil {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"unauthorized"}`))
			return
		}

		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	t.Cleanup(srv.Close)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
	}{
		{name: "get", method: http.MethodGet, path: "/admin/stats"},
		{name: "post with body", method: http.MethodPost, path: "/admin/withdraw", body: map[string]any{"amount": 21, "memo": "tip"}},
	}

	viper.Set("endpoint", srv.URL+"/")
	viper.Set("admin_nsec", sk)
	t.Cleanup(func() {
		viper.Set("endpoint", "")
		viper.Set("admin_nsec", "")
	})

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			c := &cobra.Command{}
			c.SetContext(context.Background())
			c.SetOut(&out)
			c.SetErr(&out)

			require.NoError(t, adminCall(c, tt.method, tt.path, tt.body))
			assert.Equal(t, tt.path, gotPath)
			assert.Contains(t, out.String(), `"ok": true`)
			assert.NotContains(t, out.String(), "401")
		})
	}
}
