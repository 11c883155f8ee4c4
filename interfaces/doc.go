// Package interfaces defines core types and errors for the secrets
// provisioning system, separating the domain vocabulary from component
// implementations.
//
// The package provides the data model shared by all components:
//
// # Store State Types
//
// SealState: the store's initialization and seal status as reported by its
// health and seal-status endpoints, including the share threshold required
// for unsealing.
//
// KeyShareSet: the unseal key shares and initial root credential produced
// exactly once at store initialization, persisted to a restricted-permission
// file and never regenerated except by destructive re-initialization.
//
// # Service Identity and Credentials
//
// ServiceName: validated identifier for a managed service; derives that
// service's secret path, policy name, and certificate common name so the
// least-privilege coupling between them is established in one place.
//
// ServiceSpec: the per-service provisioning contract (credential fields and
// whether TLS is required). DefaultFleet lists the stack's built-in services.
//
// SecretEntry: the versioned credential record stored under a service's
// secret path. ServiceToken models the machine-identity exchange: a
// persisted (role-id, secret-id) pair is traded for a short-lived bearer
// token scoped to a single service's path.
//
// CredentialBundle: the transient, fully-resolved set of credentials and
// certificate paths handed to a service process at start-up.
//
// # Certificate Hierarchy
//
// CAInfo and ServiceCertificate model the two-tier authority: one active
// root, one active intermediate strictly inside the root's validity window,
// and one active leaf per service strictly inside the intermediate's.
//
// # Error Taxonomy
//
// Typed errors classify every store interaction into retryable and fatal
// categories: TransientNetworkError and SealedStoreError are retried with
// bounded backoff, while AuthenticationError, AuthorizationError,
// NotFoundError, and CertificateValidationError are surfaced immediately
// with structured diagnostics. IdempotencyConflict is success-shaped: it
// reports that a bootstrap step's target state already existed.
//
// # Archive Storage
//
// ArchiveBackend: named-artifact storage used for certificate backups across
// multiple backend types (file, S3), with multi-backend replication.
package interfaces
