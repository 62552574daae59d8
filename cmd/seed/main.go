package main

import (
	"context"
	"os"

	"github.com/sirupsen/logrus"

	"cmsapi/internal/config"
	"cmsapi/internal/db"
	"cmsapi/internal/logging"
)

func main() {
	cfg := config.Load()
	log := logging.Component(logging.New(cfg.LogLevel, cfg.LogFormat), "seed")
	log.Info("starting seed")

	gormDB, err := db.NewMySQL(cfg.MySQLDSN)
	if err != nil {
		log.WithError(err).Fatal("connect to database")
	}

	// Run migrations to ensure schema is up to date
	if err := db.Migrate(gormDB); err != nil {
		log.WithError(err).Fatal("run migrations")
	}

	res, err := db.Seed(context.Background(), gormDB, db.AdminSeed{
		Email:    os.Getenv("SEED_ADMIN_EMAIL"),
		Password: os.Getenv("SEED_ADMIN_PASSWORD"),
		Name:     os.Getenv("SEED_ADMIN_NAME"),
	})
	if err != nil {
		log.WithError(err).Fatal("seed")
	}

	log.WithFields(logrus.Fields{
		"permissions":  res.Permissions,
		"roles":        res.Roles,
		"settings":     res.Settings,
		"adminCreated": res.AdminCreated,
	}).Info("seed completed")
}
