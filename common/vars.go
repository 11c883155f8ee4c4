package common

var (
	// PackageName is used as the Prometheus metrics namespace.
	PackageName = "secrets_provisioning"

	// Version is set during the build process via ldflags.
	Version = "dev"
)
