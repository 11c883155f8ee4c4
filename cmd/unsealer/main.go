package main

import (
	"errors"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/devstack-core/secrets-provisioning/api/statushandler"
	"github.com/devstack-core/secrets-provisioning/bootstrap"
	"github.com/devstack-core/secrets-provisioning/cmd/flags"
	"github.com/devstack-core/secrets-provisioning/fslock"
	"github.com/devstack-core/secrets-provisioning/httpserver"
	"github.com/devstack-core/secrets-provisioning/unseal"
)

var listenAddrFlag = &cli.StringFlag{
	Name:  "listen-addr",
	Value: "127.0.0.1:8080",
	Usage: "address to listen on for the status API",
}

func main() {
	app := &cli.App{
		Name:  "unsealer",
		Usage: "Unseal the secret store at boot and serve its seal status",
		Flags: append([]cli.Flag{
			listenAddrFlag,
			flags.MetricsAddrFlag,
			flags.PprofFlag,
			flags.DrainSecondsFlag,
			flags.LogServiceFlagFn("unsealer"),
		}, flags.CommonFlags...),
		Action: runUnsealer,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func runUnsealer(cCtx *cli.Context) error {
	logger := flags.SetupLogger(cCtx)
	listenAddr := cCtx.String(listenAddrFlag.Name)
	configDir := flags.ConfigDir(cCtx)

	store, err := flags.NewStoreClient(cCtx, logger)
	if err != nil {
		logger.Error("Failed to create store client", "err", err)
		return err
	}

	// The status server comes up before the unseal sequence so
	// supervisors can watch livez/readyz throughout. Readiness stays
	// 503 until the store is unsealed.
	srv, err := httpserver.New(flags.ConfigureServer(cCtx, logger, listenAddr),
		statushandler.NewHandler(store, logger))
	if err != nil {
		logger.Error("Failed to create status server", "err", err)
		return err
	}
	srv.RunInBackground()

	paths := bootstrap.Config{ConfigDir: configDir}
	coordinator := unseal.NewCoordinator(store, unseal.Config{
		KeySharePath: paths.KeySharePath(),
	}, logger)

	// The unseal sequence shares the bootstrap advisory lock so it
	// cannot interleave with a concurrent bootstrap run.
	if err := os.MkdirAll(configDir, 0o700); err != nil {
		logger.Error("Failed to create config directory", "err", err)
		srv.Shutdown()
		return err
	}
	lock := fslock.New(paths.LockPath())
	if err := lock.Acquire(cCtx.Context); err != nil {
		logger.Error("Failed to acquire bootstrap lock", "err", err)
		srv.Shutdown()
		return err
	}
	_, runErr := coordinator.Run(cCtx.Context)
	if err := lock.Release(); err != nil {
		logger.Warn("Failed to release bootstrap lock", "err", err)
	}

	switch {
	case errors.Is(runErr, unseal.ErrStoreUninitialized):
		logger.Warn("Store is not initialized, idling unready until bootstrap runs")
	case runErr != nil:
		logger.Error("Unseal failed", "err", runErr)
		srv.Shutdown()
		return runErr
	default:
		srv.SetReady(true)
		logger.Info("Status server ready", slog.String("listen_addr", listenAddr))
	}

	exit := make(chan os.Signal, 1)
	signal.Notify(exit, os.Interrupt, syscall.SIGTERM)
	<-exit
	logger.Info("Shutdown signal received")

	srv.Shutdown()
	return nil
}
