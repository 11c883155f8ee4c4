// Package bootstrap provisions a fresh secrets store end to end:
// initialization and unsealing, the KV v2 secrets engine, the two-tier
// PKI hierarchy, per-service secret entries and certificates, and the
// AppRole identities the services authenticate with.
//
// Every step checks remote state before acting, so a re-run against an
// already provisioned store changes nothing and reports each step as
// skipped. Partial failures are resumable the same way: the next run
// skips what exists and completes the rest.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/devstack-core/secrets-provisioning/approle"
	"github.com/devstack-core/secrets-provisioning/certmanager"
	"github.com/devstack-core/secrets-provisioning/cryptoutils"
	"github.com/devstack-core/secrets-provisioning/fslock"
	"github.com/devstack-core/secrets-provisioning/interfaces"
	"github.com/devstack-core/secrets-provisioning/metrics"
	"github.com/devstack-core/secrets-provisioning/secretstore"
)

// lockFileName is the advisory lock serializing bootstrap runs per
// config directory. The unsealer takes the same lock while it submits
// shares.
const lockFileName = ".bootstrap.lock"

// keyShareFileName is where the initialization output is persisted.
const keyShareFileName = "keys.json"

// Config holds everything a bootstrap run needs besides the store
// client itself.
type Config struct {
	// ConfigDir is the provisioning state directory: key shares, exported
	// CA certificates and AppRole credential files all live under it.
	ConfigDir string

	// CertsDir is where issued service certificates are installed.
	CertsDir string

	// BaseDomain is the DNS suffix for certificate common names.
	BaseDomain string

	// Fleet is the managed service set. Empty means the default fleet.
	Fleet []interfaces.ServiceSpec

	// Token authenticates against an already initialized store. When
	// empty the root token from the persisted key share file is used.
	Token string

	// InitShares and InitThreshold configure the Shamir split on first
	// initialization. Defaults: 5 shares, threshold 3.
	InitShares    int
	InitThreshold int

	// RotateSecrets forces new credential values for every service,
	// writing a new secret entry version even where one exists.
	RotateSecrets bool

	// LockWait bounds how long the run waits for the bootstrap lock.
	// Zero means fail immediately when another run holds it.
	LockWait time.Duration

	// Certificate authority shape. Zero values take the defaults below.
	RootCACommonName         string
	IntermediateCACommonName string
	RootCATTL                string
	IntermediateCATTL        string
	LeafTTL                  string

	// Credential generation. Zero values take the defaults below.
	CredentialLength int
	DefaultUser      string
}

func (cfg Config) withDefaults() Config {
	if len(cfg.Fleet) == 0 {
		cfg.Fleet = interfaces.DefaultFleet()
	}
	if cfg.InitShares == 0 {
		cfg.InitShares = 5
	}
	if cfg.InitThreshold == 0 {
		cfg.InitThreshold = 3
	}
	if cfg.RootCACommonName == "" {
		cfg.RootCACommonName = "DevStack Root CA"
	}
	if cfg.IntermediateCACommonName == "" {
		cfg.IntermediateCACommonName = "DevStack Intermediate CA"
	}
	if cfg.RootCATTL == "" {
		cfg.RootCATTL = "87600h" // 10 years
	}
	if cfg.IntermediateCATTL == "" {
		cfg.IntermediateCATTL = "43800h" // 5 years
	}
	if cfg.LeafTTL == "" {
		cfg.LeafTTL = "8760h" // 1 year
	}
	if cfg.CredentialLength == 0 {
		cfg.CredentialLength = 25
	}
	if cfg.DefaultUser == "" {
		cfg.DefaultUser = "devuser"
	}
	return cfg
}

// KeySharePath returns where this configuration persists the key share
// set.
func (cfg Config) KeySharePath() string {
	return filepath.Join(cfg.ConfigDir, keyShareFileName)
}

// LockPath returns the advisory lock file guarding bootstrap and unseal
// runs against this config directory.
func (cfg Config) LockPath() string {
	return filepath.Join(cfg.ConfigDir, lockFileName)
}

// CAExportDir returns where this configuration exports CA certificates.
func (cfg Config) CAExportDir() string {
	return filepath.Join(cfg.ConfigDir, "ca")
}

// Orchestrator drives the bootstrap state machine against one store.
type Orchestrator struct {
	store *secretstore.Client
	cfg   Config
	log   *slog.Logger
}

// NewOrchestrator creates a bootstrap orchestrator. The client may be
// tokenless; the initialization step installs the root token before any
// authenticated call.
func NewOrchestrator(store *secretstore.Client, cfg Config, log *slog.Logger) *Orchestrator {
	return &Orchestrator{store: store, cfg: cfg.withDefaults(), log: log}
}

// Run executes the bootstrap sequence under the config directory's
// advisory lock. The returned report lists every step that ran, also on
// failure, where it covers the steps up to and including the failed one.
func (o *Orchestrator) Run(ctx context.Context) (*Report, error) {
	lock, err := o.acquireLock(ctx)
	if err != nil {
		return nil, err
	}
	defer lock.Release()

	report := &Report{StartedAt: time.Now()}
	defer func() { report.FinishedAt = time.Now() }()

	type step struct {
		name string
		fn   func(context.Context) error
	}

	// Intermediate CA issuance spans three steps sharing run-local state.
	var (
		intermediatePresent bool
		intermediateCSR     []byte
		intermediateCert    []byte
	)

	steps := []step{
		{"check-initialized", o.ensureInitialized},
		{"enable-kv", o.store.EnableKVv2},
		{"enable-root-pki", func(ctx context.Context) error {
			return o.store.EnablePKIEngine(ctx, secretstore.RootPKIMount, "root certificate authority", o.cfg.RootCATTL)
		}},
		{"enable-intermediate-pki", func(ctx context.Context) error {
			return o.store.EnablePKIEngine(ctx, secretstore.IntermediatePKIMount, "intermediate certificate authority", o.cfg.IntermediateCATTL)
		}},
		{"ensure-root-ca", o.ensureRootCA},
		{"generate-intermediate-csr", func(ctx context.Context) error {
			has, err := o.store.HasIntermediateCA(ctx)
			if err != nil {
				return err
			}
			if has {
				intermediatePresent = true
				return interfaces.NewIdempotencyConflict("generate-intermediate-csr", "intermediate CA present")
			}
			intermediateCSR, err = o.store.GenerateIntermediateCSR(ctx, o.cfg.IntermediateCACommonName, o.cfg.IntermediateCATTL)
			return err
		}},
		{"sign-intermediate", func(ctx context.Context) error {
			if intermediatePresent {
				return interfaces.NewIdempotencyConflict("sign-intermediate", "intermediate CA present")
			}
			var err error
			intermediateCert, err = o.store.SignIntermediate(ctx, intermediateCSR, o.cfg.IntermediateCATTL)
			return err
		}},
		{"install-intermediate", func(ctx context.Context) error {
			if intermediatePresent {
				return interfaces.NewIdempotencyConflict("install-intermediate", "intermediate CA present")
			}
			return o.store.SetSignedIntermediate(ctx, intermediateCert)
		}},
		{"export-ca-chain", o.exportCAChain},
	}

	for _, spec := range o.cfg.Fleet {
		spec := spec
		steps = append(steps, step{"pki-role/" + spec.Name.String(), func(ctx context.Context) error {
			return o.store.EnsureIssuingRole(ctx, spec.Name, o.cfg.BaseDomain, o.cfg.LeafTTL)
		}})
		steps = append(steps, step{"secret/" + spec.Name.String(), func(ctx context.Context) error {
			return o.ensureSecret(ctx, spec)
		}})
		if spec.TLSEnabled {
			steps = append(steps, step{"certificate/" + spec.Name.String(), func(ctx context.Context) error {
				return o.ensureCertificate(ctx, spec)
			}})
		}
	}

	steps = append(steps, step{"enable-approle", o.store.EnableAppRoleAuth})
	for _, spec := range o.cfg.Fleet {
		spec := spec
		steps = append(steps, step{"policy/" + spec.Name.String(), func(ctx context.Context) error {
			return o.ensurePolicy(ctx, spec)
		}})
		steps = append(steps, step{"auth-role/" + spec.Name.String(), func(ctx context.Context) error {
			return o.store.EnsureAppRole(ctx, spec.Name, []string{spec.Name.PolicyName()},
				interfaces.DefaultTokenTTL, interfaces.MaxTokenTTL)
		}})
		steps = append(steps, step{"credentials/" + spec.Name.String(), func(ctx context.Context) error {
			return o.ensureCredentialFiles(ctx, spec)
		}})
	}

	for _, st := range steps {
		if err := o.runStep(ctx, report, st.name, st.fn); err != nil {
			return report, err
		}
	}

	o.log.Info("Bootstrap complete",
		slog.Int("applied", report.Applied()),
		slog.Int("skipped", report.Skipped()),
		slog.Int("services", len(o.cfg.Fleet)))
	return report, nil
}

func (o *Orchestrator) runStep(ctx context.Context, report *Report, name string, fn func(context.Context) error) error {
	// Metric label is the step kind, without the per-service suffix.
	kind, _, _ := strings.Cut(name, "/")

	err := fn(ctx)
	if err == nil {
		report.record(name, StepApplied, "")
		metrics.BootstrapSteps.WithLabelValues(kind, "applied").Inc()
		o.log.Info("Bootstrap step applied", slog.String("step", name))
		return nil
	}

	var conflict *interfaces.IdempotencyConflict
	if errors.As(err, &conflict) {
		report.record(name, StepSkipped, conflict.Detail)
		metrics.BootstrapSteps.WithLabelValues(kind, "skipped").Inc()
		o.log.Debug("Bootstrap step already satisfied",
			slog.String("step", name),
			slog.String("detail", conflict.Detail))
		return nil
	}

	report.record(name, StepFailed, err.Error())
	metrics.BootstrapSteps.WithLabelValues(kind, "failed").Inc()
	return fmt.Errorf("bootstrap step %s: %w", name, err)
}

func (o *Orchestrator) acquireLock(ctx context.Context) (*fslock.Lock, error) {
	if err := os.MkdirAll(o.cfg.ConfigDir, 0o700); err != nil {
		return nil, fmt.Errorf("could not create config directory %s: %w", o.cfg.ConfigDir, err)
	}

	lock := fslock.New(o.cfg.LockPath())
	if o.cfg.LockWait <= 0 {
		held, err := lock.TryAcquire()
		if err != nil {
			return nil, err
		}
		if !held {
			return nil, fmt.Errorf("another bootstrap run holds %s", lock.Path())
		}
		return lock, nil
	}

	waitCtx, cancel := context.WithTimeout(ctx, o.cfg.LockWait)
	defer cancel()
	if err := lock.Acquire(waitCtx); err != nil {
		return nil, fmt.Errorf("bootstrap lock not acquired within %s: %w", o.cfg.LockWait, err)
	}
	return lock, nil
}

// ensureInitialized brings the store to an unsealed, authenticated
// state. A fresh store is initialized, its share set persisted and then
// unsealed; an initialized one is unsealed from the persisted shares if
// needed. Either way the client ends up carrying a usable token.
func (o *Orchestrator) ensureInitialized(ctx context.Context) error {
	state, err := o.store.SealStatus(ctx)
	if err != nil {
		return err
	}

	if !state.Initialized {
		set, err := o.store.Initialize(ctx, o.cfg.InitShares, o.cfg.InitThreshold)
		if err != nil {
			return err
		}
		// Persist before unsealing. Losing the shares here would strand
		// the store permanently sealed.
		if err := set.WriteFile(o.cfg.KeySharePath()); err != nil {
			return fmt.Errorf("store initialized but key shares were not persisted: %w", err)
		}
		o.store.SetToken(set.RootToken)
		return o.unsealWith(ctx, set)
	}

	token := o.cfg.Token
	var set *interfaces.KeyShareSet
	if token == "" || state.Sealed {
		set, err = interfaces.LoadKeyShareSet(o.cfg.KeySharePath())
		if err != nil {
			return fmt.Errorf("store is already initialized: %w", err)
		}
		if token == "" {
			token = set.RootToken
		}
	}
	o.store.SetToken(token)

	if state.Sealed {
		return o.unsealWith(ctx, set)
	}
	return interfaces.NewIdempotencyConflict("check-initialized", "store already initialized and unsealed")
}

func (o *Orchestrator) unsealWith(ctx context.Context, set *interfaces.KeyShareSet) error {
	var state interfaces.SealState
	var err error
	for _, share := range set.UnsealKeysB64[:set.Threshold] {
		state, err = o.store.SubmitUnsealShare(ctx, share)
		if err != nil {
			return err
		}
		if !state.Sealed {
			break
		}
	}
	if state.Sealed {
		return fmt.Errorf("store remained sealed after submitting %d shares", set.Threshold)
	}
	o.log.Info("Store unsealed", slog.Int("shares_submitted", set.Threshold))
	return nil
}

func (o *Orchestrator) ensureRootCA(ctx context.Context) error {
	has, err := o.store.HasRootCA(ctx)
	if err != nil {
		return err
	}
	if has {
		return interfaces.NewIdempotencyConflict("ensure-root-ca", "root CA present")
	}
	_, err = o.store.GenerateRootCA(ctx, o.cfg.RootCACommonName, o.cfg.RootCATTL)
	return err
}

// exportCAChain writes root.pem, intermediate.pem and ca-chain.pem under
// the config directory so host tools and containers can trust the
// hierarchy without talking to the store. The export runs on every run
// to pick up a rebuilt hierarchy.
func (o *Orchestrator) exportCAChain(ctx context.Context) error {
	root, err := o.store.RootCACertificate(ctx)
	if err != nil {
		return err
	}
	intermediate, err := o.store.IntermediateCACertificate(ctx)
	if err != nil {
		return err
	}
	if err := cryptoutils.VerifyCertificateChain(intermediate, root); err != nil {
		return fmt.Errorf("intermediate CA does not verify against the root: %w", err)
	}
	chain, err := o.store.CAChain(ctx)
	if err != nil {
		return err
	}

	dir := o.cfg.CAExportDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("could not create CA export directory %s: %w", dir, err)
	}
	for name, data := range map[string][]byte{
		"root.pem":         root,
		"intermediate.pem": intermediate,
		"ca-chain.pem":     chain,
	} {
		if err := installFile(filepath.Join(dir, name), data, 0o644); err != nil {
			return err
		}
	}

	o.log.Info("CA chain exported", slog.String("dir", dir))
	return nil
}

func (o *Orchestrator) ensureSecret(ctx context.Context, spec interfaces.ServiceSpec) error {
	exists, err := o.store.SecretExists(ctx, spec.Name)
	if err != nil {
		return err
	}
	if exists && !o.cfg.RotateSecrets {
		return interfaces.NewIdempotencyConflict("secret", spec.Name.SecretDataPath()+" present")
	}

	fields, err := o.generateFields(spec)
	if err != nil {
		return err
	}
	_, err = o.store.PutSecret(ctx, spec.Name, fields, spec.TLSEnabled)
	return err
}

// generateFields fills a service's credential fields: identity fields
// get the stable development defaults, everything else a fresh random
// value.
func (o *Orchestrator) generateFields(spec interfaces.ServiceSpec) (map[string]string, error) {
	fields := make(map[string]string, len(spec.SecretFields))
	for _, field := range spec.SecretFields {
		switch field {
		case "user", "username":
			fields[field] = o.cfg.DefaultUser
		case "email":
			fields[field] = o.cfg.DefaultUser + "@" + o.cfg.BaseDomain
		default:
			value, err := cryptoutils.RandomCredential(o.cfg.CredentialLength)
			if err != nil {
				return nil, fmt.Errorf("could not generate %s field for %s: %w", field, spec.Name, err)
			}
			fields[field] = value
		}
	}
	return fields, nil
}

func (o *Orchestrator) ensureCertificate(ctx context.Context, spec interfaces.ServiceSpec) error {
	if certmanager.HasInstalledCertificate(o.cfg.CertsDir, spec.Name) {
		return interfaces.NewIdempotencyConflict("certificate", "material installed for "+spec.Name.String())
	}

	cert, err := o.store.IssueCertificate(ctx, spec.Name, spec.Name.CommonName(o.cfg.BaseDomain), o.cfg.LeafTTL)
	if err != nil {
		return err
	}
	_, err = certmanager.InstallCertificate(o.cfg.CertsDir, cert)
	return err
}

func (o *Orchestrator) ensurePolicy(ctx context.Context, spec interfaces.ServiceSpec) error {
	want := secretstore.PolicyDocument(spec.Name)

	current, err := o.store.GetPolicy(ctx, spec.Name.PolicyName())
	if err == nil && current == want {
		return interfaces.NewIdempotencyConflict("policy", spec.Name.PolicyName()+" up to date")
	}
	if err != nil && !interfaces.IsNotFoundError(err) {
		return err
	}
	return o.store.WritePolicy(ctx, spec.Name.PolicyName(), want)
}

func (o *Orchestrator) ensureCredentialFiles(ctx context.Context, spec interfaces.ServiceSpec) error {
	if approle.HasCredentialFiles(o.cfg.ConfigDir, spec.Name) {
		return interfaces.NewIdempotencyConflict("credentials", approle.CredentialDir(o.cfg.ConfigDir, spec.Name)+" present")
	}

	roleID, err := o.store.RoleID(ctx, spec.Name)
	if err != nil {
		return err
	}
	secretID, err := o.store.GenerateSecretID(ctx, spec.Name)
	if err != nil {
		return err
	}
	return approle.WriteCredentialFiles(o.cfg.ConfigDir, spec.Name, roleID, secretID)
}

func installFile(path string, data []byte, perm os.FileMode) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, perm); err != nil {
		return fmt.Errorf("could not write %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("could not install %s: %w", path, err)
	}
	return nil
}
