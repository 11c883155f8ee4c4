// Package storage implements archive backends for certificate backups
// and CA exports.
//
// # Backends
//
// Two backend types are supported, selected by location URI scheme:
//
//   - file:// - Local filesystem storage rooted at a directory
//   - s3:// - Amazon S3 or compatible object storage
//
// Every backend stores named artifacts (relative slash-separated paths)
// and implements interfaces.ArchiveBackend. Backup payloads may hold
// private keys, so file artifacts are written with owner-only
// permissions and S3 objects are private.
//
// # Multi-Backend Replication
//
// MultiArchiveBackend aggregates several backends. Writes replicate to
// every available backend and succeed if at least one write succeeds;
// reads return the first hit. This gives certificate backups redundancy
// across a local directory and an off-host bucket without the callers
// knowing about either.
//
// # Location URIs
//
// The factory creates backends from URIs:
//
//	file:///var/lib/devstack/backups
//	s3://bucket-name/prefix?region=us-east-1&endpoint=minio.local:9000
//
// S3 credentials come from the URI userinfo part or, when absent, the
// SDK's default chain (environment, shared config, instance profile).
package storage
