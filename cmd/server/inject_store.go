package main

import (
	"github.com/google/wire"
	_ "github.com/lib/pq"
	"github.com/pandodao/plebwallet/core"
	"github.com/pandodao/plebwallet/store/continuation"
	"github.com/pandodao/plebwallet/store/counter"
	"github.com/pandodao/plebwallet/store/db"
	"github.com/pandodao/plebwallet/store/proof"
	"github.com/pandodao/plebwallet/store/property"
	"github.com/pandodao/plebwallet/store/runlog"
	"github.com/spf13/viper"
	"github.com/tsenart/nap"
	_ "modernc.org/sqlite"
)

var storeSet = wire.NewSet(
	provideDB,
	proof.New,
	counter.New,
	property.New,
	continuation.New,
	provideRunLog,
)

func provideDB(v *viper.Viper) (*nap.DB, func(), error) {
	driver := v.GetString("db_driver")
	dsn := v.GetString("db_dsn")

	for _, replica := range list(v, "db_replicas") {
		dsn += ";" + replica
	}

	conn, err := nap.Open(driver, dsn)
	if err != nil {
		return nil, nil, err
	}

	if driver == "sqlite" {
		// a single writer keeps sqlite from reporting busy under concurrent redemptions
		conn.Master().SetMaxOpenConns(1)
	}

	if err := db.Migrate(conn.Master(), driver, db.MigrateData{Unit: v.GetString("cashu_unit")}); err != nil {
		_ = conn.Close()
		return nil, nil, err
	}

	return conn, func() { _ = conn.Close() }, nil
}

func provideRunLog(v *viper.Viper) core.RunLog {
	return runlog.New(v.GetString("log_dir"))
}
