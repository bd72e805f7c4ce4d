package hc

import (
	"encoding/json"
	"net/http"
	"time"
)

type Checker interface {
	Initialized() bool
}

// Handler reports the build and whether the wallet finished its startup sync.
func Handler(version, commit string, wallet Checker) http.Handler {
	t := time.Now()
	fn := func(w http.ResponseWriter, r *http.Request) {
		status, code := "healthy", http.StatusOK
		if wallet != nil && !wallet.Initialized() {
			status, code = "starting", http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":  status,
			"service": "plebwallet",
			"version": version,
			"commit":  commit,
			"uptime":  time.Since(t).String(),
		})
	}

	return http.HandlerFunc(fn)
}
