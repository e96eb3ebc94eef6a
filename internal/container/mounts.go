package container

import (
	"fmt"

	"github.com/scbe-labs/arachne/internal/config"
)

// workerEnv assembles the environment a worker needs to find the daemon:
// the bus URL, the HTTP API, and its own identity.
func workerEnv(cfg config.FleetConfig, spec config.WorkerSpec) []string {
	return []string{
		fmt.Sprintf("ARACHNE_NATS_URL=%s", cfg.NATSURL),
		fmt.Sprintf("ARACHNE_API_URL=%s", cfg.APIURL),
		fmt.Sprintf("ARACHNE_AGENT_ID=%s", spec.ID),
		fmt.Sprintf("ARACHNE_ROLE=%s", spec.Role),
	}
}

// buildBinds renders configured mounts as Docker bind strings.
func buildBinds(mounts []config.Mount) []string {
	binds := make([]string, 0, len(mounts))
	for _, m := range mounts {
		bind := fmt.Sprintf("%s:%s", m.Source, m.Target)
		if m.ReadOnly {
			bind += ":ro"
		}
		binds = append(binds, bind)
	}
	return binds
}
