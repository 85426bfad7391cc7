package model

// Permission represents a string code for a specific system action.
type Permission string

const (
	// PermissionExamsMonitor allows watching live exam sessions and their violation logs.
	PermissionExamsMonitor Permission = "exams:monitor"

	// PermissionExamsRead allows viewing exams; it also grants the live monitor.
	PermissionExamsRead Permission = "exams:read"

	// PermissionStudentsResetSession allows resetting a student's active login.
	PermissionStudentsResetSession Permission = "students:reset_session"
)

// AllPermissions is a slice of all permissions this service checks.
var AllPermissions = []Permission{
	PermissionExamsMonitor,
	PermissionExamsRead,
	PermissionStudentsResetSession,
}
