package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/carlmjohnson/versioninfo"
	"github.com/joho/godotenv"
	"github.com/pandodao/plebwallet/service/lnurl"
	"github.com/pandodao/plebwallet/service/payout"
	"github.com/pandodao/plebwallet/service/wallet"
	"github.com/pandodao/plebwallet/worker/cleaner"
	payoutworker "github.com/pandodao/plebwallet/worker/payout"
	"github.com/pandodao/plebwallet/worker/syncer"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
)

var (
	opt struct {
		config string
		env    string
		port   int
		debug  bool
	}

	version = "0.0.1-src"
	commit  = versioninfo.Short()
)

func main() {
	flag.StringVar(&opt.config, "config", "", "optional yaml config file")
	flag.StringVar(&opt.env, "env", ".env", "dotenv file, skipped when missing")
	flag.IntVar(&opt.port, "port", 0, "server port, overrides PORT")
	flag.BoolVar(&opt.debug, "debug", false, "debug mode")
	flag.Parse()

	logger := initLogger()

	v, err := initViper()
	if err != nil {
		logger.Error("load config", "err", err)
		os.Exit(1)
	}

	if err := validateConfig(v); err != nil {
		logger.Error("invalid configuration, refusing to start", "err", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	app, cleanup, err := setupApp(v, logger)
	if err != nil {
		logger.Error("setup failed", "err", err)
		os.Exit(1)
	}

	defer cleanup()

	if err := app.wallet.Init(ctx); err != nil {
		logger.Error("wallet.Init", "err", err)
		os.Exit(1)
	}

	if addr := app.payoutz.Address(); addr != "" {
		if err := app.payees.Validate(ctx, addr); err != nil {
			logger.Warn("payout address not reachable, scheduler keeps retrying", "address", addr, "err", err)
		}
	}

	logger.Info("plebwallet server launched", "version", version, "commit", commit, "addr", app.svr.Addr)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := app.svr.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}

		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return app.svr.Shutdown(sctx)
	})

	g.Go(func() error {
		return ignoreCanceled(app.scheduler.Run(ctx))
	})

	g.Go(func() error {
		return ignoreCanceled(app.cleaner.Run(ctx))
	})

	g.Go(func() error {
		return ignoreCanceled(app.syncer.Run(ctx))
	})

	if err := g.Wait(); err != nil {
		logger.Error("server exit", "err", err)
	}

	sctx, scancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer scancel()
	if err := app.wallet.Shutdown(sctx); err != nil {
		logger.Error("wallet.Shutdown", "err", err)
	}
}

type app struct {
	svr       *http.Server
	wallet    *wallet.Wallet
	payees    *lnurl.Service
	payoutz   *payout.Service
	scheduler *payoutworker.Scheduler
	cleaner   *cleaner.Cleaner
	syncer    *syncer.Syncer
	logger    *slog.Logger
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}

	return err
}

func initLogger() *slog.Logger {
	level := slog.LevelInfo
	if opt.debug {
		level = slog.LevelDebug
	}

	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	return slog.New(handler)
}

func initViper() (*viper.Viper, error) {
	if err := godotenv.Load(opt.env); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if opt.config != "" {
		v.SetConfigFile(opt.config)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	return v, nil
}
