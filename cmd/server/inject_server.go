package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/wire"
	"github.com/pandodao/plebwallet/handler/api"
	"github.com/pandodao/plebwallet/handler/auth"
	"github.com/pandodao/plebwallet/handler/hc"
	"github.com/pandodao/plebwallet/metrics"
	"github.com/pandodao/plebwallet/service/wallet"
	"github.com/rs/cors"
	"github.com/spf13/viper"
)

var serverSet = wire.NewSet(
	provideAuthConfig,
	auth.New,
	provideAPIConfig,
	api.New,
	provideServer,
)

func provideAuthConfig(v *viper.Viper) auth.Config {
	return auth.Config{PublicURL: v.GetString("public_url")}
}

func provideAPIConfig(v *viper.Viper) api.Config {
	return api.Config{
		PayoutAddress:   v.GetString("payout_ln_address"),
		PayoutThreshold: uint64(v.GetInt64("payout_threshold_sats")),
	}
}

func provideCors(v *viper.Viper) *cors.Cors {
	u := v.GetString("frontend_url")
	if u == "" {
		return cors.AllowAll()
	}

	return cors.New(cors.Options{
		AllowedOrigins:   []string{u, "http://localhost:3000"},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})
}

func provideServer(v *viper.Viper, apiHandler *api.Server, walletz *wallet.Wallet) *http.Server {
	port := v.GetInt("port")
	if opt.port > 0 {
		port = opt.port
	}

	m := chi.NewMux()
	m.Use(middleware.RealIP)
	m.Use(middleware.Logger)
	m.Use(middleware.Recoverer)
	m.Use(provideCors(v).Handler)

	health := hc.Handler(version, commit, walletz)
	m.Mount("/hc", health)
	m.Mount("/health", health)
	m.Mount("/metrics", metrics.Handler())
	m.Mount("/", apiHandler.Handler())

	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           m,
		ReadHeaderTimeout: 10 * time.Second,
	}
}
