package certmanager

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/devstack-core/secrets-provisioning/cryptoutils"
	"github.com/devstack-core/secrets-provisioning/interfaces"
)

// CertStatus is one service's scan result.
type CertStatus struct {
	Service    interfaces.ServiceName
	CommonName string
	Serial     string
	NotAfter   time.Time
	Remaining  time.Duration
	Status     cryptoutils.ExpiryStatus

	// Problem is set when the installed material could not be read or
	// parsed; such entries are always critical.
	Problem string
}

// Scan classifies every TLS fleet member's installed certificate by
// remaining lifetime, evaluated at the given instant. It is a pure
// filesystem operation and needs no store connectivity. The second
// return value is the worst status across the fleet, which maps onto
// the scanner's exit code.
func (m *Manager) Scan(now time.Time) ([]CertStatus, cryptoutils.ExpiryStatus) {
	var statuses []CertStatus
	worst := cryptoutils.ExpiryOK
	for _, spec := range interfaces.TLSServices(m.cfg.Fleet) {
		st := m.scanOne(spec.Name, now)
		statuses = append(statuses, st)
		worst = cryptoutils.WorstStatus(worst, st.Status)
	}
	return statuses, worst
}

// ScanService classifies a single service's certificate.
func (m *Manager) ScanService(service interfaces.ServiceName, now time.Time) (CertStatus, error) {
	if _, err := m.fleetSpec(service); err != nil {
		return CertStatus{}, err
	}
	return m.scanOne(service, now), nil
}

func (m *Manager) scanOne(service interfaces.ServiceName, now time.Time) CertStatus {
	st := CertStatus{Service: service, Status: cryptoutils.ExpiryCritical}

	paths := interfaces.CertificatePathsFor(m.cfg.CertsDir, service)
	certPEM, err := os.ReadFile(paths.CertFile)
	if err != nil {
		st.Problem = "no certificate installed"
		return st
	}

	cert, err := cryptoutils.NewTLSCert(certPEM)
	if err != nil {
		st.Problem = fmt.Sprintf("unparseable certificate: %v", err)
		return st
	}
	parsed, err := cert.GetX509Cert()
	if err != nil {
		st.Problem = fmt.Sprintf("unparseable certificate: %v", err)
		return st
	}

	st.CommonName = parsed.Subject.CommonName
	st.Serial = cryptoutils.FormatSerial(parsed)
	st.NotAfter = parsed.NotAfter
	st.Remaining = parsed.NotAfter.Sub(now)
	st.Status = cryptoutils.ClassifyExpiry(parsed.NotAfter, now)
	return st
}

// FormatScan renders scan results as an aligned table, one service per
// line.
func FormatScan(statuses []CertStatus) string {
	var b strings.Builder
	for _, st := range statuses {
		if st.Problem != "" {
			fmt.Fprintf(&b, "%-12s %-8s %s\n", st.Service, st.Status, st.Problem)
			continue
		}
		fmt.Fprintf(&b, "%-12s %-8s %s expires %s (%dd remaining)\n",
			st.Service, st.Status, st.CommonName,
			st.NotAfter.UTC().Format("2006-01-02"),
			int(st.Remaining.Hours()/24))
	}
	return b.String()
}
