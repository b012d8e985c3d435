package executor

import (
	"fmt"
	"time"

	"github.com/luminousstack/lumen-heal/internal/models"
)

// BuildCommand maps an operation onto the argv executed on the host. Both
// execution modes and the privileged helper share this table, so a dry run
// previews exactly what the helper would run.
func BuildCommand(operation string, params map[string]string) ([]string, error) {
	switch operation {
	case models.OpRestartService:
		service := params["service"]
		if service == "" {
			return nil, fmt.Errorf("restart_service: missing service parameter")
		}
		return []string{"systemctl", "restart", service}, nil

	case models.OpReloadService:
		service := params["service"]
		if service == "" {
			return nil, fmt.Errorf("reload_service: missing service parameter")
		}
		return []string{"systemctl", "reload", service}, nil

	case models.OpSetCPUGovernor:
		governor := params["governor"]
		if governor == "" {
			governor = "powersave"
		}
		return []string{"cpupower", "frequency-set", "-g", governor}, nil

	case models.OpClearSystemCache:
		return []string{"sh", "-c", "sync && echo 3 > /proc/sys/vm/drop_caches"}, nil

	case models.OpCleanNixStore:
		return []string{"nix-collect-garbage", "-d"}, nil

	case models.OpRollbackGeneration:
		return []string{"nixos-rebuild", "switch", "--rollback"}, nil

	case models.OpRebuildSystem:
		return []string{"nixos-rebuild", "switch"}, nil
	}
	return nil, fmt.Errorf("unknown operation %q", operation)
}

// CommandTimeout returns the execution deadline for an operation. Store
// garbage collection and rebuilds legitimately run for minutes.
func CommandTimeout(operation string) time.Duration {
	switch operation {
	case models.OpCleanNixStore:
		return 10 * time.Minute
	case models.OpRollbackGeneration:
		return 5 * time.Minute
	case models.OpRebuildSystem:
		return 15 * time.Minute
	}
	return 30 * time.Second
}
