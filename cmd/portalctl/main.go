// Command portalctl runs administrative tasks against the portal's store:
// creating users, toggling MFA, seeding the demo company, checking SMTP and
// applying migrations.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"nuam-capital/portal/internal/app"
	"nuam-capital/portal/internal/config"
	"nuam-capital/portal/internal/logging"
)

func main() {
	os.Exit(execute(os.Args[1:]))
}

func execute(args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, usage)
		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return 1
	}
	// Migrations are explicit here.
	cfg.AutoMigrate = false

	log, err := logging.New(logging.Config{Environment: cfg.Environment, Level: "warn", Service: "portalctl"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		return 1
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, closeStore, err := app.OpenStore(ctx, cfg, log)
	if err != nil {
		log.Error("open store", zap.Error(err))
		return 1
	}
	defer closeStore()

	ms := app.NewMailer(cfg, log)
	c := &cli{
		cfg:   cfg,
		store: st,
		auth:  app.NewAuthService(cfg, st, ms, nil, log),
		mail:  ms,
		out:   os.Stdout,
	}
	if err := c.run(ctx, args); err != nil {
		fmt.Fprintf(os.Stderr, "portalctl %s: %v\n", args[0], err)
		return 1
	}
	return 0
}
