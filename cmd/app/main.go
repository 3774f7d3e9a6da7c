package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/wichananm65/storefront-backend/internal/config"
	"github.com/wichananm65/storefront-backend/internal/database"
	"github.com/wichananm65/storefront-backend/internal/logging"
)

func main() {
	app := &cli.App{
		Name:  "storefront",
		Usage: "storefront order and payment backend",
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "run the HTTP API",
				Action: serve,
			},
			{
				Name:  "migrate",
				Usage: "apply database migrations",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "down", Usage: "revert the latest migration instead"},
				},
				Action: migrate,
			},
			{
				Name:   "reap",
				Usage:  "delete expired checkout sessions and payment attempts",
				Action: reap,
			},
		},
		DefaultCommand: "serve",
	}
	if err := app.Run(os.Args); err != nil {
		logrus.WithError(err).Fatal("storefront exited")
	}
}

func setup() (config.Config, *logrus.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, err
	}
	decimal.MarshalJSONWithoutQuotes = true
	return cfg, logging.New(cfg.LogLevel, cfg.LogFormat), nil
}

func serve(c *cli.Context) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := database.Migrate(db); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, err := build(ctx, cfg, db, log)
	if err != nil {
		return err
	}
	defer srv.close()

	errc := make(chan error, 1)
	go func() { errc <- srv.app.Listen(cfg.Addr) }()
	log.WithField("addr", cfg.Addr).Info("server started")

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.app.ShutdownWithContext(shutdownCtx)
}

func migrate(c *cli.Context) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	if c.Bool("down") {
		if err := database.Rollback(db); err != nil {
			return err
		}
		log.Info("rolled back latest migration")
		return nil
	}
	if err := database.Migrate(db); err != nil {
		return err
	}
	log.Info("migrations applied")
	return nil
}

func reap(c *cli.Context) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	srv, err := build(c.Context, cfg, db, log)
	if err != nil {
		return err
	}
	defer srv.close()

	sessions, err := srv.checkout.Reap(c.Context)
	if err != nil {
		return err
	}
	attempts, err := srv.payments.Reap(c.Context)
	if err != nil {
		return err
	}
	log.WithFields(logrus.Fields{"sessions": sessions, "attempts": attempts}).Info("expired rows deleted")
	return nil
}
