package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/devstack-core/secrets-provisioning/bootstrap"
	"github.com/devstack-core/secrets-provisioning/certmanager"
	"github.com/devstack-core/secrets-provisioning/cmd/flags"
	"github.com/devstack-core/secrets-provisioning/interfaces"
)

var serviceFlag = &cli.StringFlag{
	Name:  "service",
	Usage: "service name",
}
var allFlag = &cli.BoolFlag{
	Name:  "all",
	Usage: "renew every TLS fleet member whose certificate is due",
}
var ifNeededFlag = &cli.BoolFlag{
	Name:  "if-needed",
	Usage: "renew only when the certificate is inside the warning window",
}
var parallelFlag = &cli.BoolFlag{
	Name:  "parallel",
	Usage: "with --all, renew due certificates concurrently",
}
var jsonFlag = &cli.BoolFlag{
	Name:  "json",
	Usage: "emit the scan report as JSON",
}
var backupDirFlag = &cli.StringFlag{
	Name:    "backup-dir",
	Usage:   "directory receiving pre-renewal backups (default <config-dir>/backups)",
	EnvVars: []string{"DEVSTACK_BACKUP_DIR"},
}
var backupPassphraseFlag = &cli.StringFlag{
	Name:    "backup-passphrase",
	Usage:   "encrypt backed-up certificate material with this passphrase",
	EnvVars: []string{"DEVSTACK_BACKUP_PASSPHRASE"},
}
var archiveLocationFlag = &cli.StringSliceFlag{
	Name:  "archive-location",
	Usage: "replicate backups to this archive URI (file:// or s3://), repeatable",
}
var restartCommandFlag = &cli.StringFlag{
	Name:  "restart-command",
	Usage: "whitespace-split restart command template, {service} expands to the service name (default: docker restart dev-{service})",
}

// renewFlags are shared by the subcommands that modify certificates.
var renewFlags = []cli.Flag{
	flags.CertsDirFlag,
	flags.BaseDomainFlag,
	flags.StoreTokenFlag,
	backupDirFlag,
	backupPassphraseFlag,
	archiveLocationFlag,
	restartCommandFlag,
	flags.LogServiceFlagFn("certmanager"),
}

func main() {
	app := &cli.App{
		Name:           "certmanager",
		Usage:          "Scan, renew and revoke the fleet's TLS certificates",
		DefaultCommand: "scan",
		Commands: []*cli.Command{
			{
				Name:  "scan",
				Usage: "classify installed certificates by remaining lifetime; exit 0/1/2 = ok/warning/critical",
				Flags: append([]cli.Flag{
					flags.CertsDirFlag,
					flags.BaseDomainFlag,
					jsonFlag,
					flags.LogServiceFlagFn("certmanager"),
				}, flags.CommonFlags...),
				Action: runScan,
			},
			{
				Name:   "renew",
				Usage:  "back up, reissue and reinstall a service's certificate",
				Flags:  append(append([]cli.Flag{serviceFlag, allFlag, ifNeededFlag, parallelFlag}, renewFlags...), flags.CommonFlags...),
				Action: runRenew,
			},
			{
				Name:   "revoke",
				Usage:  "revoke a service's certificate and immediately reissue it",
				Flags:  append(append([]cli.Flag{serviceFlag}, renewFlags...), flags.CommonFlags...),
				Action: runRevoke,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func runScan(cCtx *cli.Context) error {
	logger := flags.SetupLogger(cCtx)

	mgr, err := newManager(cCtx, logger, false)
	if err != nil {
		logger.Error("Failed to set up certificate manager", "err", err)
		return err
	}

	statuses, worst := mgr.Scan(time.Now())
	if cCtx.Bool(jsonFlag.Name) {
		if err := printScanJSON(statuses); err != nil {
			return err
		}
	} else {
		fmt.Print(certmanager.FormatScan(statuses))
	}

	if code := worst.ExitCode(); code != 0 {
		return cli.Exit("", code)
	}
	return nil
}

func runRenew(cCtx *cli.Context) error {
	logger := flags.SetupLogger(cCtx)

	mgr, err := newManager(cCtx, logger, true)
	if err != nil {
		logger.Error("Failed to set up certificate manager", "err", err)
		return err
	}

	if cCtx.Bool(allFlag.Name) {
		sweep := mgr.RenewDue
		if cCtx.Bool(parallelFlag.Name) {
			sweep = mgr.RenewDueParallel
		}
		renewed, err := sweep(cCtx.Context, time.Now())
		for _, cert := range renewed {
			fmt.Printf("renewed %s: serial %s, expires %s\n",
				cert.Service, cert.Serial, cert.NotAfter.UTC().Format(time.RFC3339))
		}
		if err != nil {
			logger.Error("Renewal sweep finished with failures", "err", err)
			return err
		}
		if len(renewed) == 0 {
			fmt.Println("all certificates are within their validity window")
		}
		return nil
	}

	name := cCtx.String(serviceFlag.Name)
	if name == "" {
		return errors.New("either --service or --all is required")
	}
	service, err := interfaces.NewServiceName(name)
	if err != nil {
		return err
	}

	var cert *interfaces.ServiceCertificate
	if cCtx.Bool(ifNeededFlag.Name) {
		cert, err = mgr.RenewIfNeeded(cCtx.Context, service, time.Now())
	} else {
		cert, err = mgr.Renew(cCtx.Context, service)
	}
	if err != nil {
		logger.Error("Renewal failed", slog.String("service", service.String()), "err", err)
		return err
	}
	if cert == nil {
		fmt.Printf("certificate for %s is within its validity window\n", service)
		return nil
	}
	fmt.Printf("renewed %s: serial %s, expires %s\n",
		cert.Service, cert.Serial, cert.NotAfter.UTC().Format(time.RFC3339))
	return nil
}

func runRevoke(cCtx *cli.Context) error {
	logger := flags.SetupLogger(cCtx)

	name := cCtx.String(serviceFlag.Name)
	if name == "" {
		return errors.New("--service is required")
	}
	service, err := interfaces.NewServiceName(name)
	if err != nil {
		return err
	}

	mgr, err := newManager(cCtx, logger, true)
	if err != nil {
		logger.Error("Failed to set up certificate manager", "err", err)
		return err
	}

	result, err := mgr.RevokeAndReissue(cCtx.Context, service)
	if err != nil {
		logger.Error("Revocation failed", slog.String("service", service.String()), "err", err)
		return err
	}
	fmt.Printf("revoked %s: serial %s at %s\n",
		service, result.RevokedSerial, result.RevokedAt.UTC().Format(time.RFC3339))
	fmt.Printf("reissued %s: serial %s, expires %s\n",
		result.NewCertificate.Service, result.NewCertificate.Serial,
		result.NewCertificate.NotAfter.UTC().Format(time.RFC3339))
	return nil
}

// newManager builds the lifecycle manager from the CLI flags. Scanning
// works tokenless; renewals and revocations authenticate with the token
// flag or fall back to the root token persisted at initialization.
func newManager(cCtx *cli.Context, logger *slog.Logger, authenticated bool) (*certmanager.Manager, error) {
	store, err := flags.NewStoreClient(cCtx, logger)
	if err != nil {
		return nil, err
	}
	if authenticated && cCtx.String(flags.StoreTokenFlag.Name) == "" {
		path := bootstrap.Config{ConfigDir: flags.ConfigDir(cCtx)}.KeySharePath()
		set, err := interfaces.LoadKeyShareSet(path)
		if err != nil {
			return nil, fmt.Errorf("no --store-token given and no usable key share file: %w", err)
		}
		store.SetToken(set.RootToken)
	}

	backupDir := cCtx.String(backupDirFlag.Name)
	if backupDir == "" {
		backupDir = filepath.Join(flags.ConfigDir(cCtx), "backups")
	}

	raw := cCtx.StringSlice(archiveLocationFlag.Name)
	locations := make([]interfaces.ArchiveLocation, 0, len(raw))
	for _, uri := range raw {
		loc, err := interfaces.NewArchiveLocation(uri)
		if err != nil {
			return nil, err
		}
		locations = append(locations, loc)
	}

	return certmanager.NewManager(store, certmanager.Config{
		CertsDir:         cCtx.String(flags.CertsDirFlag.Name),
		BackupDir:        backupDir,
		BaseDomain:       cCtx.String(flags.BaseDomainFlag.Name),
		BackupPassphrase: cCtx.String(backupPassphraseFlag.Name),
		ArchiveLocations: locations,
		Restarter: &certmanager.ExecRestarter{
			Command: strings.Fields(cCtx.String(restartCommandFlag.Name)),
			Log:     logger,
		},
	}, logger)
}

type scanRow struct {
	Service       string `json:"service"`
	Status        string `json:"status"`
	CommonName    string `json:"common_name,omitempty"`
	Serial        string `json:"serial,omitempty"`
	NotAfter      string `json:"not_after,omitempty"`
	RemainingDays int    `json:"remaining_days"`
	Problem       string `json:"problem,omitempty"`
}

func printScanJSON(statuses []certmanager.CertStatus) error {
	rows := make([]scanRow, 0, len(statuses))
	for _, st := range statuses {
		row := scanRow{Service: st.Service.String(), Status: st.Status.String(), Problem: st.Problem}
		if st.Problem == "" {
			row.CommonName = st.CommonName
			row.Serial = st.Serial
			row.NotAfter = st.NotAfter.UTC().Format(time.RFC3339)
			row.RemainingDays = int(st.Remaining.Hours() / 24)
		}
		rows = append(rows, row)
	}
	out, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
