package models

// ImportStatus is the lifecycle of the import run itself.
type ImportStatus string

const (
	ImportStatusPending    ImportStatus = "pending"
	ImportStatusProcessing ImportStatus = "processing"
	ImportStatusCompleted  ImportStatus = "completed"
	ImportStatusFailed     ImportStatus = "failed"
)

// RollbackStatus tracks rollback attempts on an import job.
// A job that has never been rolled back carries NULL (nil pointer).
// completed/failed are terminal: no second rollback attempt is permitted.
type RollbackStatus string

const (
	RollbackStatusPending    RollbackStatus = "pending"
	RollbackStatusInProgress RollbackStatus = "in_progress"
	RollbackStatusCompleted  RollbackStatus = "completed"
	RollbackStatusFailed     RollbackStatus = "failed"
)

func (s RollbackStatus) IsTerminal() bool {
	return s == RollbackStatusCompleted || s == RollbackStatusFailed
}

// SnapshotOperation records what the import did to a row.
type SnapshotOperation string

const (
	SnapshotOperationInsert SnapshotOperation = "insert"
	SnapshotOperationUpdate SnapshotOperation = "update"
)

// ImportEntityType identifies the business table an import targets.
type ImportEntityType string

const (
	ImportEntityTypeMember    ImportEntityType = "members"
	ImportEntityTypeAdvisor   ImportEntityType = "advisors"
	ImportEntityTypeBillGroup ImportEntityType = "bill_groups"
)

// ProfileRole is the caller's role within an organization.
type ProfileRole string

const (
	ProfileRoleOwner   ProfileRole = "owner"
	ProfileRoleAdmin   ProfileRole = "admin"
	ProfileRoleAdvisor ProfileRole = "advisor"
	ProfileRoleStaff   ProfileRole = "staff"
)

// CanManageImports reports whether the role may run or roll back imports.
func (r ProfileRole) CanManageImports() bool {
	return r == ProfileRoleOwner || r == ProfileRoleAdmin
}

// AuditAction identifies a compliance-relevant state change.
type AuditAction string

const (
	AuditActionImportRun      AuditAction = "import_run"
	AuditActionImportRollback AuditAction = "import_rollback"
)

type MemberStatus string

const (
	MemberStatusActive   MemberStatus = "active"
	MemberStatusInactive MemberStatus = "inactive"
)
