package certmanager

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/devstack-core/secrets-provisioning/interfaces"
)

// Restarter restarts a service after its certificate material changed.
type Restarter interface {
	Restart(ctx context.Context, service interfaces.ServiceName) error
}

// servicePlaceholder is substituted with the service name in restart
// command templates.
const servicePlaceholder = "{service}"

// ExecRestarter restarts services by running an external command. The
// default template restarts the conventional container name:
//
//	docker restart dev-{service}
type ExecRestarter struct {
	// Command is the argv template; every occurrence of {service} is
	// replaced with the service name. Empty means the default above.
	Command []string

	Log *slog.Logger
}

func (r *ExecRestarter) Restart(ctx context.Context, service interfaces.ServiceName) error {
	template := r.Command
	if len(template) == 0 {
		template = []string{"docker", "restart", "dev-" + servicePlaceholder}
	}

	argv := make([]string, len(template))
	for i, arg := range template {
		argv[i] = strings.ReplaceAll(arg, servicePlaceholder, service.String())
	}

	if r.Log != nil {
		r.Log.Info("Restarting service", slog.String("service", service.String()), slog.String("command", strings.Join(argv, " ")))
	}

	out, err := exec.CommandContext(ctx, argv[0], argv[1:]...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("restart command for %s failed: %w: %s", service, err, strings.TrimSpace(string(out)))
	}
	return nil
}
