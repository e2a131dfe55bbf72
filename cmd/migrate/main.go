package main

import (
	"os"

	"github.com/seedguard/seedguard/internal/data/db"
	"github.com/seedguard/seedguard/internal/platform/envutil"
	"github.com/seedguard/seedguard/internal/platform/logger"
)

func main() {
	log, err := logger.New(envutil.String("APP_ENV", "dev"))
	if err != nil {
		os.Exit(1)
	}
	defer log.Sync()

	pg, err := db.NewPostgresService(log)
	if err != nil {
		log.Error("failed to connect to Postgres", "err", err)
		os.Exit(1)
	}
	if err := db.AutoMigrateAll(pg.DB()); err != nil {
		log.Error("migration failed", "err", err)
		os.Exit(1)
	}
	log.Info("migration complete")
}
