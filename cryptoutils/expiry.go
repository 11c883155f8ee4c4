package cryptoutils

import "time"

// Renewal windows for certificate expiry classification. A certificate
// inside the warning window should be renewed soon; inside the critical
// window renewal is overdue.
const (
	RenewalWarningWindow  = 30 * 24 * time.Hour
	RenewalCriticalWindow = 7 * 24 * time.Hour
)

// ExpiryStatus classifies a certificate's remaining validity.
type ExpiryStatus int

const (
	// ExpiryOK means at least the warning window remains.
	ExpiryOK ExpiryStatus = iota
	// ExpiryWarning means less than the warning window remains.
	ExpiryWarning
	// ExpiryCritical means less than the critical window remains, or the
	// certificate has already expired.
	ExpiryCritical
)

// String returns the status name as reported by the scanner.
func (s ExpiryStatus) String() string {
	switch s {
	case ExpiryOK:
		return "OK"
	case ExpiryWarning:
		return "WARNING"
	case ExpiryCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// ExitCode maps the status onto the scanner's process exit code.
func (s ExpiryStatus) ExitCode() int {
	switch s {
	case ExpiryWarning:
		return 1
	case ExpiryCritical:
		return 2
	default:
		return 0
	}
}

// ClassifyExpiry returns the expiry status of a certificate that expires
// at notAfter, evaluated at the given time.
func ClassifyExpiry(notAfter, now time.Time) ExpiryStatus {
	remaining := notAfter.Sub(now)
	switch {
	case remaining < RenewalCriticalWindow:
		return ExpiryCritical
	case remaining < RenewalWarningWindow:
		return ExpiryWarning
	default:
		return ExpiryOK
	}
}

// WorstStatus returns the most severe of the given statuses. An empty
// input is OK.
func WorstStatus(statuses ...ExpiryStatus) ExpiryStatus {
	worst := ExpiryOK
	for _, s := range statuses {
		if s > worst {
			worst = s
		}
	}
	return worst
}
