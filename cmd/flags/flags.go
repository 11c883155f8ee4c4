// Package flags holds the CLI flags and setup helpers shared by the
// provisioning binaries.
package flags

import (
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/devstack-core/secrets-provisioning/common"
	"github.com/devstack-core/secrets-provisioning/httpserver"
	"github.com/devstack-core/secrets-provisioning/secretstore"
)

func SetupLogger(cCtx *cli.Context) (log *slog.Logger) {
	logJSON := cCtx.Bool(LogJsonFlag.Name)
	logDebug := cCtx.Bool(LogDebugFlag.Name)
	logUID := cCtx.Bool(LogUidFlag.Name)
	logService := cCtx.String("log-service")

	logger := common.SetupLogger(&common.LoggingOpts{
		Debug:   logDebug,
		JSON:    logJSON,
		Service: logService,
		Version: common.Version,
	})

	if logUID {
		id := uuid.Must(uuid.NewRandom())
		logger = logger.With("uid", id.String())
	}
	return logger
}

func ConfigureServer(cCtx *cli.Context, logger *slog.Logger, listenAddr string) *httpserver.HTTPServerConfig {
	metricsAddr := cCtx.String(MetricsAddrFlag.Name)
	enablePprof := cCtx.Bool(PprofFlag.Name)
	drainDuration := time.Duration(cCtx.Int64(DrainSecondsFlag.Name)) * time.Second

	return &httpserver.HTTPServerConfig{
		ListenAddr:               listenAddr,
		MetricsAddr:              metricsAddr,
		Log:                      logger,
		EnablePprof:              enablePprof,
		DrainDuration:            drainDuration,
		GracefulShutdownDuration: 30 * time.Second,
		ReadTimeout:              60 * time.Second,
		WriteTimeout:             30 * time.Second,
	}
}

// NewStoreClient builds a secret store client from the store flags.
func NewStoreClient(cCtx *cli.Context, logger *slog.Logger) (*secretstore.Client, error) {
	return secretstore.NewClient(&secretstore.Config{
		Address: cCtx.String(StoreAddrFlag.Name),
		Token:   cCtx.String(StoreTokenFlag.Name),
		Timeout: time.Duration(cCtx.Int64(StoreTimeoutSecondsFlag.Name)) * time.Second,
	}, logger)
}

// ConfigDir resolves the configuration directory flag, defaulting to
// ~/.config/devstack when unset.
func ConfigDir(cCtx *cli.Context) string {
	if dir := cCtx.String(ConfigDirFlag.Name); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".devstack"
	}
	return filepath.Join(home, ".config", "devstack")
}

var StoreAddrFlag = &cli.StringFlag{
	Name:    "store-addr",
	Value:   "http://127.0.0.1:8200",
	Usage:   "address of the secret store API",
	EnvVars: []string{"VAULT_ADDR"},
}

var StoreTokenFlag = &cli.StringFlag{
	Name:    "store-token",
	Usage:   "privileged store token; overrides the one recorded in keys.json",
	EnvVars: []string{"VAULT_TOKEN"},
}

var StoreTimeoutSecondsFlag = &cli.Int64Flag{
	Name:  "store-timeout-seconds",
	Value: 30,
	Usage: "per-request timeout against the secret store",
}

var ConfigDirFlag = &cli.StringFlag{
	Name:    "config-dir",
	Usage:   "directory holding keys.json, CA exports and approle credentials (default ~/.config/devstack)",
	EnvVars: []string{"DEVSTACK_CONFIG_DIR"},
}

var CertsDirFlag = &cli.StringFlag{
	Name:    "certs-dir",
	Value:   "/var/lib/devstack/certs",
	Usage:   "directory holding per-service certificate material",
	EnvVars: []string{"DEVSTACK_CERTS_DIR"},
}

var BaseDomainFlag = &cli.StringFlag{
	Name:  "base-domain",
	Value: "devstack.local",
	Usage: "DNS suffix for service certificate common names",
}

var LogJsonFlag = &cli.BoolFlag{
	Name:  "log-json",
	Value: false,
	Usage: "log in JSON format",
}
var LogDebugFlag = &cli.BoolFlag{
	Name:  "log-debug",
	Value: false,
	Usage: "log debug messages",
}
var LogUidFlag = &cli.BoolFlag{
	Name:  "log-uid",
	Value: false,
	Usage: "generate a uuid and add to all log messages",
}

var LogServiceFlagFn = func(service string) *cli.StringFlag {
	return &cli.StringFlag{
		Name:  "log-service",
		Value: service,
		Usage: "add 'service' tag to logs",
	}
}

var PprofFlag = &cli.BoolFlag{
	Name:  "pprof",
	Value: false,
	Usage: "enable pprof debug endpoint",
}
var DrainSecondsFlag = &cli.Int64Flag{
	Name:  "drain-seconds",
	Value: 45,
	Usage: "seconds to wait in drain HTTP request",
}
var MetricsAddrFlag = &cli.StringFlag{
	Name:  "metrics-addr",
	Value: "127.0.0.1:8090",
	Usage: "address to listen on for Prometheus metrics",
}

var CommonFlags = []cli.Flag{
	LogJsonFlag,
	LogDebugFlag,
	LogUidFlag,
	StoreAddrFlag,
	StoreTimeoutSecondsFlag,
	ConfigDirFlag,
}
