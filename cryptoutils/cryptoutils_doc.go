// Package cryptoutils provides cryptographic operations for the secrets
// provisioning system.
//
// This package implements certificate material handling, expiry
// classification, passphrase-based archive encryption, and credential
// generation. It is used by the bootstrap orchestrator when seeding
// secrets, by the credential fetcher when validating on-disk TLS
// material, and by the certificate lifecycle manager when backing up
// certificates before renewal.
//
// # Certificate Types
//
// TLSCert and CACert wrap PEM-encoded material with validation at
// construction. CACert.VerifyCertificate checks issuance,
// VerifyCertificate checks that a private key matches a certificate and
// its common name, and VerifyCertificateChain validates a leaf against a
// full issuing chain.
//
// # Expiry Classification
//
// ClassifyExpiry maps a certificate's remaining validity onto three
// severities used by the renewal scanner:
//
//   - ExpiryOK: at least 30 days remaining
//   - ExpiryWarning: less than 30 days remaining
//   - ExpiryCritical: less than 7 days remaining, or already expired
//
// # Archive Encryption
//
// Certificate backups are encrypted with a passphrase before leaving the
// host. The scheme uses Argon2id for key derivation and AES-GCM for
// authenticated encryption, with this binary format:
//
//	[salt (16 bytes)][nonce (12 bytes)][ciphertext]
//
// A fresh random salt and nonce are generated for every encryption, so
// encrypting the same plaintext twice never yields the same blob.
//
// # Credential Generation
//
// RandomCredential produces fixed-length URL-safe random strings for
// seeding service passwords. The alphabet has 64 symbols, which divides
// 256 evenly, so drawing bytes and reducing modulo the alphabet size
// introduces no bias.
package cryptoutils
