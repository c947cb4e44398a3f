// Package server holds the domain model for managed OpenVPN servers.
package server

// Status represents the current lifecycle state of a managed server
type Status string

const (
	StatusPending      Status = "pending"
	StatusInstalling   Status = "installing"
	StatusInstalled    Status = "installed"
	StatusRunning      Status = "running"
	StatusStopped      Status = "stopped"
	StatusReinstalling Status = "reinstalling"
	StatusError        Status = "error"
)

// IsValid checks if the status is a valid server status
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusInstalling, StatusInstalled, StatusRunning,
		StatusStopped, StatusReinstalling, StatusError:
		return true
	default:
		return false
	}
}

// CanTransitionTo checks if the current status can transition to the target status
func (s Status) CanTransitionTo(target Status) bool {
	switch s {
	case StatusPending:
		return target == StatusInstalling || target == StatusError
	case StatusInstalling:
		return target == StatusInstalled || target == StatusError
	case StatusInstalled:
		return target == StatusInstalling || target == StatusRunning ||
			target == StatusStopped || target == StatusReinstalling || target == StatusError
	case StatusRunning:
		return target == StatusStopped || target == StatusReinstalling || target == StatusError
	case StatusStopped:
		return target == StatusRunning || target == StatusReinstalling || target == StatusError
	case StatusReinstalling:
		return target == StatusRunning || target == StatusInstalled ||
			target == StatusStopped || target == StatusError
	case StatusError:
		return target == StatusInstalling || target == StatusReinstalling ||
			target == StatusRunning || target == StatusStopped
	default:
		return false
	}
}

// String returns the string representation of the status
func (s Status) String() string {
	return string(s)
}

// IsBusy returns true while a provisioning operation holds the server
func (s Status) IsBusy() bool {
	return s == StatusInstalling || s == StatusReinstalling
}

// IsMonitorable returns true when the reconciler should probe the server
func (s Status) IsMonitorable() bool {
	switch s {
	case StatusInstalled, StatusRunning, StatusStopped, StatusError:
		return true
	default:
		return false
	}
}

// Client certificate statuses
const (
	ClientActive  = "active"
	ClientRevoked = "revoked"
	ClientExpired = "expired"
)

// Provisioning task statuses
const (
	TaskPending   = "pending"
	TaskRunning   = "running"
	TaskCompleted = "completed"
	TaskFailed    = "failed"
)
