package main

import (
	"strings"
	"time"

	"github.com/google/wire"
	"github.com/pandodao/plebwallet/service/wallet"
	"github.com/pandodao/plebwallet/worker/cleaner"
	payoutworker "github.com/pandodao/plebwallet/worker/payout"
	"github.com/pandodao/plebwallet/worker/syncer"
	"github.com/spf13/viper"
)

var workerSet = wire.NewSet(
	provideSchedulerConfig,
	wire.Bind(new(payoutworker.Balancer), new(*wallet.Wallet)),
	payoutworker.New,
	provideCleanerConfig,
	cleaner.New,
	provideSyncInterval,
	wire.Bind(new(syncer.KeysetRefresher), new(*wallet.Wallet)),
	syncer.New,
)

func provideSchedulerConfig(v *viper.Viper) payoutworker.Config {
	return payoutworker.Config{
		Address:   strings.TrimSpace(v.GetString("payout_ln_address")),
		Threshold: uint64(v.GetInt64("payout_threshold_sats")),
		Interval:  time.Duration(v.GetInt64("payout_interval_seconds")) * time.Second,
		Timeout:   2 * time.Minute,
	}
}

func provideCleanerConfig(v *viper.Viper) cleaner.Config {
	return cleaner.Config{
		Grace:    time.Duration(v.GetInt64("cleaner_grace_minutes")) * time.Minute,
		Interval: 10 * time.Minute,
		Limit:    500,
	}
}

func provideSyncInterval(v *viper.Viper) time.Duration {
	return time.Duration(v.GetInt64("keyset_sync_seconds")) * time.Second
}
