package bootstrap

import "time"

// State is the last bootstrap step that completed.
type State int

const (
	NotStarted State = iota
	RoleMigrated
	RoleEnsured
	DbEnsured
	SchemaEnsured
	MirrorIndexed
	TablesEnsured
	Done
)

var stateNames = [...]string{
	NotStarted:    "not_started",
	RoleMigrated:  "role_migrated",
	RoleEnsured:   "role_ensured",
	DbEnsured:     "db_ensured",
	SchemaEnsured: "schema_ensured",
	MirrorIndexed: "mirror_indexed",
	TablesEnsured: "tables_ensured",
	Done:          "done",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Report summarizes one bootstrap run.
type Report struct {
	RunID string
	// State is the last step that completed.
	State    State
	Started  time.Time
	Finished time.Time
	// Warnings lists non-fatal problems such as skipped ownership transfers.
	Warnings []string
	// MigratedRoles lists legacy roles whose objects were handed to the cache role.
	MigratedRoles []string
	// Degraded is set when table provisioning failed under fail-open.
	Degraded bool
	// ProvisioningErr is the provisioning failure behind Degraded.
	ProvisioningErr error
}
