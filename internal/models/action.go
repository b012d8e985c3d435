package models

// ActionCategory enumerates the three remediation categories.
type ActionCategory string

const (
	CategoryResourceManagement ActionCategory = "resource_management"
	CategoryServiceManagement  ActionCategory = "service_management"
	CategorySystemRecovery     ActionCategory = "system_recovery"
)

// Operation names within the three categories. The vocabulary is deliberately
// small; new remediations are added here, not discovered at runtime.
const (
	OpCleanNixStore      = "clean_nix_store"
	OpClearSystemCache   = "clear_system_cache"
	OpSetCPUGovernor     = "set_cpu_governor"
	OpRestartService     = "restart_service"
	OpReloadService      = "reload_service"
	OpRollbackGeneration = "rollback_generation"
	OpRebuildSystem      = "rebuild_system"
)

// CategoryFor returns the category an operation belongs to. The boolean is
// false for operations outside the closed vocabulary.
func CategoryFor(operation string) (ActionCategory, bool) {
	switch operation {
	case OpCleanNixStore, OpClearSystemCache, OpSetCPUGovernor:
		return CategoryResourceManagement, true
	case OpRestartService, OpReloadService:
		return CategoryServiceManagement, true
	case OpRollbackGeneration, OpRebuildSystem:
		return CategorySystemRecovery, true
	}
	return "", false
}

// Action is a concrete remediation operation selected for exactly one Issue.
// Actions are consumed immediately by the permission boundary and never
// persisted independently.
type Action struct {
	Category   ActionCategory
	Operation  string
	Parameters map[string]string
}
