package interfaces

import (
	"errors"
	"fmt"
)

// TransientNetworkError indicates a temporary failure reaching the store:
// connection refused, timeout, or a 5xx response. Callers retry these with
// bounded backoff and surface them only once retries are exhausted.
type TransientNetworkError struct {
	Operation string
	Cause     error
}

func (e *TransientNetworkError) Error() string {
	return fmt.Sprintf("transient network error during %s: %v", e.Operation, e.Cause)
}

// Unwrap returns the underlying cause for errors.As/Is support.
func (e *TransientNetworkError) Unwrap() error {
	return e.Cause
}

// NewTransientNetworkError creates a TransientNetworkError.
func NewTransientNetworkError(operation string, cause error) *TransientNetworkError {
	return &TransientNetworkError{Operation: operation, Cause: cause}
}

// IsTransientNetworkError returns true if the error is a TransientNetworkError.
func IsTransientNetworkError(err error) bool {
	var e *TransientNetworkError
	return errors.As(err, &e)
}

// AuthenticationError indicates an invalid credential pair (role-id,
// secret-id) or missing authentication material. It is fatal: the same
// pair must never be retried, and recovery requires re-bootstrapping the
// service's authentication role.
type AuthenticationError struct {
	Service ServiceName
	Cause   error
}

func (e *AuthenticationError) Error() string {
	if e.Service != "" {
		return fmt.Sprintf("authentication failed for service %s: %v", e.Service, e.Cause)
	}
	return fmt.Sprintf("authentication failed: %v", e.Cause)
}

func (e *AuthenticationError) Unwrap() error {
	return e.Cause
}

// NewAuthenticationError creates an AuthenticationError.
func NewAuthenticationError(service ServiceName, cause error) *AuthenticationError {
	return &AuthenticationError{Service: service, Cause: cause}
}

// IsAuthenticationError returns true if the error is an AuthenticationError.
func IsAuthenticationError(err error) bool {
	var e *AuthenticationError
	return errors.As(err, &e)
}

// AuthorizationError indicates the presented token's policies do not grant
// the requested capability on a path. It is fatal and carries the path and
// capability so the diagnostic names exactly what the policy is missing.
type AuthorizationError struct {
	Path       string
	Capability string
	Cause      error
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("not authorized for %s on %s: %v", e.Capability, e.Path, e.Cause)
}

func (e *AuthorizationError) Unwrap() error {
	return e.Cause
}

// NewAuthorizationError creates an AuthorizationError.
func NewAuthorizationError(path, capability string, cause error) *AuthorizationError {
	return &AuthorizationError{Path: path, Capability: capability, Cause: cause}
}

// IsAuthorizationError returns true if the error is an AuthorizationError.
func IsAuthorizationError(err error) bool {
	var e *AuthorizationError
	return errors.As(err, &e)
}

// NotFoundError indicates a secret or certificate is absent from the
// store. It is fatal: it signals that bootstrap was never run for this
// path, not that a retry might succeed.
type NotFoundError struct {
	Path  string
	Cause error
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found", e.Path)
}

func (e *NotFoundError) Unwrap() error {
	return e.Cause
}

// NewNotFoundError creates a NotFoundError.
func NewNotFoundError(path string, cause error) *NotFoundError {
	return &NotFoundError{Path: path, Cause: cause}
}

// IsNotFoundError returns true if the error is a NotFoundError.
func IsNotFoundError(err error) bool {
	var e *NotFoundError
	return errors.As(err, &e)
}

// SealedStoreError indicates the store is reachable but sealed. It is
// retried only during the startup window and becomes fatal past the
// retry cap.
type SealedStoreError struct {
	Cause error
}

func (e *SealedStoreError) Error() string {
	return fmt.Sprintf("store is sealed: %v", e.Cause)
}

func (e *SealedStoreError) Unwrap() error {
	return e.Cause
}

// NewSealedStoreError creates a SealedStoreError.
func NewSealedStoreError(cause error) *SealedStoreError {
	return &SealedStoreError{Cause: cause}
}

// IsSealedStoreError returns true if the error is a SealedStoreError.
func IsSealedStoreError(err error) bool {
	var e *SealedStoreError
	return errors.As(err, &e)
}

// CertificateValidationError indicates missing, expired, or mismatched
// certificate material. It is fatal and blocks TLS activation: a service
// is never started without TLS when TLS was required.
type CertificateValidationError struct {
	Service ServiceName
	Reason  string
	Cause   error
}

func (e *CertificateValidationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("certificate validation failed for %s: %s: %v", e.Service, e.Reason, e.Cause)
	}
	return fmt.Sprintf("certificate validation failed for %s: %s", e.Service, e.Reason)
}

func (e *CertificateValidationError) Unwrap() error {
	return e.Cause
}

// NewCertificateValidationError creates a CertificateValidationError.
func NewCertificateValidationError(service ServiceName, reason string, cause error) *CertificateValidationError {
	return &CertificateValidationError{Service: service, Reason: reason, Cause: cause}
}

// IsCertificateValidationError returns true if the error is a CertificateValidationError.
func IsCertificateValidationError(err error) bool {
	var e *CertificateValidationError
	return errors.As(err, &e)
}

// IdempotencyConflict reports that a bootstrap step's target state already
// exists in the store. It is success-shaped: the orchestrator records the
// step as skipped and continues.
type IdempotencyConflict struct {
	Step   string
	Detail string
}

func (e *IdempotencyConflict) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: already configured: %s", e.Step, e.Detail)
	}
	return fmt.Sprintf("%s: already configured", e.Step)
}

// NewIdempotencyConflict creates an IdempotencyConflict.
func NewIdempotencyConflict(step, detail string) *IdempotencyConflict {
	return &IdempotencyConflict{Step: step, Detail: detail}
}

// IsIdempotencyConflict returns true if the error is an IdempotencyConflict.
func IsIdempotencyConflict(err error) bool {
	var e *IdempotencyConflict
	return errors.As(err, &e)
}

// IsRetryable reports whether an error belongs to a category that may be
// retried with backoff. Everything outside these categories is fatal and
// must be surfaced immediately.
func IsRetryable(err error) bool {
	return IsTransientNetworkError(err) || IsSealedStoreError(err)
}
