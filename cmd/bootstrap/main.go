package main

import (
	"fmt"
	"log"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/devstack-core/secrets-provisioning/bootstrap"
	"github.com/devstack-core/secrets-provisioning/cmd/flags"
	"github.com/devstack-core/secrets-provisioning/interfaces"
	"github.com/devstack-core/secrets-provisioning/secretstore"
)

var rotateSecretsFlag = &cli.BoolFlag{
	Name:  "rotate-secrets",
	Value: false,
	Usage: "generate new credential values even where secret entries exist",
}
var lockWaitSecondsFlag = &cli.Int64Flag{
	Name:  "lock-wait-seconds",
	Value: 0,
	Usage: "seconds to wait for the bootstrap lock; 0 fails immediately when another run holds it",
}
var initSharesFlag = &cli.IntFlag{
	Name:  "init-shares",
	Value: 5,
	Usage: "number of key shares to split the master key into at initialization",
}
var initThresholdFlag = &cli.IntFlag{
	Name:  "init-threshold",
	Value: 3,
	Usage: "number of key shares required to unseal",
}
var serviceFlag = &cli.StringFlag{
	Name:     "service",
	Usage:    "service name",
	Required: true,
}
var fieldFlag = &cli.StringFlag{
	Name:  "field",
	Usage: "print only this field's value",
}

func main() {
	app := &cli.App{
		Name:           "bootstrap",
		Usage:          "Provision the secret store: PKI hierarchy, service credentials and access roles",
		DefaultCommand: "run",
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "run the full bootstrap sequence",
				Flags: append([]cli.Flag{
					flags.CertsDirFlag,
					flags.BaseDomainFlag,
					flags.StoreTokenFlag,
					rotateSecretsFlag,
					lockWaitSecondsFlag,
					initSharesFlag,
					initThresholdFlag,
					flags.LogServiceFlagFn("bootstrap"),
				}, flags.CommonFlags...),
				Action: runBootstrap,
			},
			{
				Name:   "status",
				Usage:  "print the store's initialization and seal status",
				Flags:  append([]cli.Flag{flags.LogServiceFlagFn("bootstrap")}, flags.CommonFlags...),
				Action: runStatus,
			},
			{
				Name:  "show-secret",
				Usage: "print a service's stored credentials",
				Flags: append([]cli.Flag{
					serviceFlag,
					fieldFlag,
					flags.StoreTokenFlag,
					flags.LogServiceFlagFn("bootstrap"),
				}, flags.CommonFlags...),
				Action: runShowSecret,
			},
			{
				Name:   "ca-chain",
				Usage:  "print the CA certificate chain PEM",
				Flags:  append([]cli.Flag{flags.LogServiceFlagFn("bootstrap")}, flags.CommonFlags...),
				Action: runCAChain,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func runBootstrap(cCtx *cli.Context) error {
	logger := flags.SetupLogger(cCtx)

	store, err := flags.NewStoreClient(cCtx, logger)
	if err != nil {
		logger.Error("Failed to create store client", "err", err)
		return err
	}

	orch := bootstrap.NewOrchestrator(store, bootstrap.Config{
		ConfigDir:     flags.ConfigDir(cCtx),
		CertsDir:      cCtx.String(flags.CertsDirFlag.Name),
		BaseDomain:    cCtx.String(flags.BaseDomainFlag.Name),
		Token:         cCtx.String(flags.StoreTokenFlag.Name),
		InitShares:    cCtx.Int(initSharesFlag.Name),
		InitThreshold: cCtx.Int(initThresholdFlag.Name),
		RotateSecrets: cCtx.Bool(rotateSecretsFlag.Name),
		LockWait:      time.Duration(cCtx.Int64(lockWaitSecondsFlag.Name)) * time.Second,
	}, logger)

	report, err := orch.Run(cCtx.Context)
	if report != nil {
		fmt.Print(report)
	}
	if err != nil {
		logger.Error("Bootstrap failed", "err", err)
		return err
	}
	fmt.Printf("bootstrap complete: %d applied, %d skipped\n", report.Applied(), report.Skipped())
	return nil
}

func runStatus(cCtx *cli.Context) error {
	logger := flags.SetupLogger(cCtx)

	store, err := flags.NewStoreClient(cCtx, logger)
	if err != nil {
		return err
	}
	state, err := store.SealStatus(cCtx.Context)
	if err != nil {
		logger.Error("Failed to read seal status", "err", err)
		return err
	}

	fmt.Printf("Initialized: %v\n", state.Initialized)
	fmt.Printf("Sealed:      %v\n", state.Sealed)
	if state.Initialized {
		fmt.Printf("Shares:      %d total, threshold %d\n", state.TotalShares, state.ShareThreshold)
	}
	if state.Sealed && state.Progress > 0 {
		fmt.Printf("Progress:    %d of %d shares submitted\n", state.Progress, state.ShareThreshold)
	}

	if !state.Initialized {
		return cli.Exit("store is not initialized", 2)
	}
	if state.Sealed {
		return cli.Exit("store is sealed", 2)
	}
	return nil
}

func runShowSecret(cCtx *cli.Context) error {
	logger := flags.SetupLogger(cCtx)

	service, err := interfaces.NewServiceName(cCtx.String(serviceFlag.Name))
	if err != nil {
		return err
	}

	store, err := flags.NewStoreClient(cCtx, logger)
	if err != nil {
		return err
	}
	if err := installRootToken(cCtx, store); err != nil {
		return err
	}

	entry, err := store.GetSecret(cCtx.Context, service)
	if err != nil {
		logger.Error("Failed to read secret entry", slog.String("service", service.String()), "err", err)
		return err
	}

	if field := cCtx.String(fieldFlag.Name); field != "" {
		value, ok := entry.Field(field)
		if !ok {
			return fmt.Errorf("secret entry for %s has no field %q", service, field)
		}
		fmt.Println(value)
		return nil
	}

	names := make([]string, 0, len(entry.Fields))
	for name := range entry.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Printf("%s: %s\n", name, entry.Fields[name])
	}
	return nil
}

// installRootToken authenticates the client for privileged reads: the
// explicit token flag when given, otherwise the root token persisted at
// initialization.
func installRootToken(cCtx *cli.Context, store *secretstore.Client) error {
	if cCtx.String(flags.StoreTokenFlag.Name) != "" {
		return nil
	}
	path := bootstrap.Config{ConfigDir: flags.ConfigDir(cCtx)}.KeySharePath()
	set, err := interfaces.LoadKeyShareSet(path)
	if err != nil {
		return fmt.Errorf("no --store-token given and no usable key share file: %w", err)
	}
	store.SetToken(set.RootToken)
	return nil
}

func runCAChain(cCtx *cli.Context) error {
	logger := flags.SetupLogger(cCtx)

	store, err := flags.NewStoreClient(cCtx, logger)
	if err != nil {
		return err
	}
	chain, err := store.CAChain(cCtx.Context)
	if err != nil {
		logger.Error("Failed to read CA chain", "err", err)
		return err
	}
	fmt.Print(string(chain))
	return nil
}
