package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for common cases
var (
	ErrServerNotFound    = errors.New("server not found")
	ErrClientNotFound    = errors.New("client certificate not found")
	ErrClientExists      = errors.New("client certificate already exists")
	ErrInvalidClientName = errors.New("invalid client name")
	ErrOperationInFlight = errors.New("another provisioning operation is in flight for this server")
	ErrAgentNotInstalled = errors.New("agent not installed on remote host")
	ErrInvalidStatus     = errors.New("invalid server status transition")
	ErrInvalidConfig     = errors.New("invalid configuration")
	ErrDatabaseError     = errors.New("database error")
	ErrManagementSocket  = errors.New("management socket unreachable")
	ErrPKINotInitialized = errors.New("pki not initialized")
)

// ProvisionError represents an error during a server provisioning operation
type ProvisionError struct {
	Command  string // e.g. "install", "configure", "reinstall"
	ServerID string
	Message  string
	Err      error
}

func (e *ProvisionError) Error() string {
	if e.ServerID != "" {
		return fmt.Sprintf("provision failed at %s (server=%s): %s: %v", e.Command, e.ServerID, e.Message, e.Err)
	}
	return fmt.Sprintf("provision failed at %s: %s: %v", e.Command, e.Message, e.Err)
}

func (e *ProvisionError) Unwrap() error {
	return e.Err
}

// NewProvisionError creates a new provision error
func NewProvisionError(command, serverID, message string, err error) *ProvisionError {
	return &ProvisionError{
		Command:  command,
		ServerID: serverID,
		Message:  message,
		Err:      err,
	}
}

// AgentError represents a failure reported by (or while reaching) the remote agent
type AgentError struct {
	Command string
	TaskID  string
	Message string
	Detail  string // raw agent error field or transport detail
	Err     error
}

func (e *AgentError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("agent %s failed (task=%s): %s: %s", e.Command, e.TaskID, e.Message, e.Detail)
	}
	return fmt.Sprintf("agent %s failed (task=%s): %s: %v", e.Command, e.TaskID, e.Message, e.Err)
}

func (e *AgentError) Unwrap() error {
	return e.Err
}

// NewAgentError creates a new agent error
func NewAgentError(command, taskID, message, detail string, err error) *AgentError {
	return &AgentError{
		Command: command,
		TaskID:  taskID,
		Message: message,
		Detail:  detail,
		Err:     err,
	}
}

// DeployError represents an error while deploying the agent to a remote host
type DeployError struct {
	Host    string
	Stage   string // e.g. "upload", "service_install", "remove"
	Message string
	Err     error
}

func (e *DeployError) Error() string {
	return fmt.Sprintf("agent deploy failed at %s (host=%s): %s: %v", e.Stage, e.Host, e.Message, e.Err)
}

func (e *DeployError) Unwrap() error {
	return e.Err
}

// NewDeployError creates a new deploy error
func NewDeployError(host, stage, message string, err error) *DeployError {
	return &DeployError{
		Host:    host,
		Stage:   stage,
		Message: message,
		Err:     err,
	}
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
	Err     error
}

func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("config error [%s]: %s: %v", e.Field, e.Message, e.Err)
	}
	return fmt.Sprintf("config error: %s: %v", e.Message, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// NewConfigError creates a new config error
func NewConfigError(field, message string, err error) *ConfigError {
	return &ConfigError{
		Field:   field,
		Message: message,
		Err:     err,
	}
}
