// Package secretstore provides a typed client for the secrets store's
// HTTP API, wrapping github.com/hashicorp/vault/api.
//
// The client covers the store surface this system orchestrates:
//
//   - seal lifecycle: health, seal status, initialization, unseal shares
//   - KV v2 secret entries under secret/data/<service>
//   - the two-tier PKI: root and intermediate engines, per-service
//     issuing roles, leaf issuance and revocation
//   - AppRole authentication: policies, roles, role-id/secret-id pairs,
//     login exchange
//
// # Error Classification
//
// Raw transport and response errors are mapped onto the typed taxonomy
// in the interfaces package by Classify. Callers branch on categories
// (retryable vs fatal), never on status codes or error strings. WithRetry
// retries exactly the retryable categories with bounded exponential
// backoff and surfaces the last error once attempts are exhausted.
//
// # Testing
//
// The storetest subpackage runs an in-process fake store speaking the
// same API subset, so client behavior is tested over real HTTP without
// an external store binary.
package secretstore
