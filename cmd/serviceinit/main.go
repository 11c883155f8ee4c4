package main

import (
	"errors"
	"log"
	"log/slog"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/devstack-core/secrets-provisioning/cmd/flags"
	"github.com/devstack-core/secrets-provisioning/interfaces"
	"github.com/devstack-core/secrets-provisioning/serviceinit"
)

var serviceFlag = &cli.StringFlag{
	Name:     "service",
	Usage:    "service whose credentials to fetch",
	Required: true,
}
var allowRootFallbackFlag = &cli.BoolFlag{
	Name:  "allow-root-fallback",
	Value: false,
	Usage: "permit root token login when the service has no approle credential files",
}

func main() {
	app := &cli.App{
		Name:      "serviceinit",
		Usage:     "Fetch a service's credentials and exec its process with them injected",
		ArgsUsage: "-- command [args...]",
		Flags: append([]cli.Flag{
			serviceFlag,
			flags.CertsDirFlag,
			flags.BaseDomainFlag,
			allowRootFallbackFlag,
			flags.LogServiceFlagFn("serviceinit"),
		}, flags.CommonFlags...),
		Action: runServiceInit,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func runServiceInit(cCtx *cli.Context) error {
	logger := flags.SetupLogger(cCtx)

	service, err := interfaces.NewServiceName(cCtx.String(serviceFlag.Name))
	if err != nil {
		return err
	}
	command := cCtx.Args().Slice()
	if len(command) == 0 {
		return errors.New("no command given; usage: serviceinit --service <name> -- <command> [args...]")
	}

	store, err := flags.NewStoreClient(cCtx, logger)
	if err != nil {
		logger.Error("Failed to create store client", "err", err)
		return err
	}

	fetcher := serviceinit.NewFetcher(store, serviceinit.Config{
		ConfigDir:         flags.ConfigDir(cCtx),
		CertsDir:          cCtx.String(flags.CertsDirFlag.Name),
		BaseDomain:        cCtx.String(flags.BaseDomainFlag.Name),
		AllowRootFallback: cCtx.Bool(allowRootFallbackFlag.Name),
	}, logger)

	bundle, err := fetcher.Fetch(cCtx.Context, service)
	if err != nil {
		logger.Error("Failed to fetch credentials",
			slog.String("service", service.String()), "err", err)
		return err
	}

	logger.Info("Credentials ready, starting service process",
		slog.String("service", service.String()),
		slog.String("command", command[0]))
	return serviceinit.Exec(command, serviceinit.Environ(service, bundle, os.Environ()))
}
