package auth

const (
	RoleAdministrator = "administrator"
	RoleSalesManager  = "sales_manager"
	RoleSales         = "sales"
)

const (
	PermProgressSubmit  = "progress.submit"
	PermProgressRead    = "progress.read"
	PermStageAdvance    = "stage.advance"
	PermProspectReset   = "prospect.reset"
	PermTasksRead       = "tasks.read"
	PermTasksWrite      = "tasks.write"
	PermScoresRecompute = "scores.recompute"
	PermCustomersRead   = "customers.read"
	PermCustomersWrite  = "customers.write"
	PermMetricsRead     = "metrics.read"
	PermSystemAdmin     = "admin.system"
)

var DefaultPermissions = []string{
	PermProgressSubmit,
	PermProgressRead,
	PermStageAdvance,
	PermProspectReset,
	PermTasksRead,
	PermTasksWrite,
	PermScoresRecompute,
	PermCustomersRead,
	PermCustomersWrite,
	PermMetricsRead,
	PermSystemAdmin,
}

var DefaultRoles = []string{RoleAdministrator, RoleSalesManager, RoleSales}

// RolePermissions is the built-in policy loaded into the enforcer. The
// administrator entry is a wildcard.
var RolePermissions = map[string][]string{
	RoleSales: {
		PermProgressSubmit,
		PermProgressRead,
		PermStageAdvance,
		PermTasksRead,
		PermCustomersRead,
		PermCustomersWrite,
	},
	RoleSalesManager: {
		PermProgressSubmit,
		PermProgressRead,
		PermStageAdvance,
		PermTasksRead,
		PermTasksWrite,
		PermScoresRecompute,
		PermCustomersRead,
		PermCustomersWrite,
		PermMetricsRead,
	},
	RoleAdministrator: {
		"*",
	},
}
