package interfaces

// ServiceSpec describes one managed service: the credential fields seeded
// into its secret entry and whether it holds a TLS certificate.
type ServiceSpec struct {
	Name         ServiceName
	SecretFields []string
	TLSEnabled   bool
}

// NeedsUser reports whether the service's secret entry carries a username
// field alongside the generated password.
func (s ServiceSpec) NeedsUser() bool {
	for _, f := range s.SecretFields {
		if f == "user" || f == "username" {
			return true
		}
	}
	return false
}

// DefaultFleet returns the standard managed service set. The bootstrap run
// seeds a secret entry and an access role for each member, and issues leaf
// certificates for the TLS-enabled ones.
func DefaultFleet() []ServiceSpec {
	return []ServiceSpec{
		{Name: "postgres", SecretFields: []string{"user", "password"}, TLSEnabled: true},
		{Name: "mysql", SecretFields: []string{"user", "password"}, TLSEnabled: true},
		{Name: "mongodb", SecretFields: []string{"user", "password"}},
		{Name: "redis-1", SecretFields: []string{"password"}},
		{Name: "redis-2", SecretFields: []string{"password"}},
		{Name: "redis-3", SecretFields: []string{"password"}},
		{Name: "rabbitmq", SecretFields: []string{"user", "password"}, TLSEnabled: true},
		{Name: "forgejo", SecretFields: []string{"username", "email", "password"}},
		{Name: "management", SecretFields: []string{"password"}},
	}
}

// FleetSpec returns the spec for the named service, or false when the
// service is not part of the fleet.
func FleetSpec(fleet []ServiceSpec, name ServiceName) (ServiceSpec, bool) {
	for _, s := range fleet {
		if s.Name == name {
			return s, true
		}
	}
	return ServiceSpec{}, false
}

// TLSServices filters the fleet down to the members that hold certificates.
func TLSServices(fleet []ServiceSpec) []ServiceSpec {
	var out []ServiceSpec
	for _, s := range fleet {
		if s.TLSEnabled {
			out = append(out, s)
		}
	}
	return out
}
