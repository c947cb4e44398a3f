package config

import (
	"time"

	"github.com/IvanDubrovin-std/ovpn-control/internal/shared/errors"
)

// Config defines the configuration for the control plane service.
type Config struct {
	Log     Log     `mapstructure:"log"`
	DB      DB      `mapstructure:"db"`
	SSH     SSH     `mapstructure:"ssh"`
	Agent   Agent   `mapstructure:"agent"`
	Monitor Monitor `mapstructure:"monitor"`
}

// Log defines the logging configuration.
type Log struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DB defines the database configuration.
type DB struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// SSH defines timeouts for remote command execution.
type SSH struct {
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	CommandTimeout time.Duration `mapstructure:"command_timeout"`
	TaskTimeout    time.Duration `mapstructure:"task_timeout"`
	MaxIdle        time.Duration `mapstructure:"max_idle"`
}

// Agent defines where the deployable agent binary lives locally.
type Agent struct {
	BinaryPath string `mapstructure:"binary_path"`
}

// Monitor defines the reconciliation loop intervals.
type Monitor struct {
	StatusInterval     time.Duration `mapstructure:"status_interval"`
	ConnectionInterval time.Duration `mapstructure:"connection_interval"`
}

// Validate checks the configuration for values the service cannot run with.
func (c *Config) Validate() error {
	if c.Log.Level != "" {
		switch c.Log.Level {
		case "debug", "info", "warn", "error":
		default:
			return errors.NewConfigError("log.level", "must be one of debug, info, warn, error", nil)
		}
	}
	if c.DB.Path == "" {
		return errors.NewConfigError("db.path", "database path is required", nil)
	}
	if c.Agent.BinaryPath == "" {
		return errors.NewConfigError("agent.binary_path", "agent binary path is required", nil)
	}
	if c.SSH.TaskTimeout < c.SSH.CommandTimeout {
		return errors.NewConfigError("ssh.task_timeout", "task timeout must not be shorter than command timeout", nil)
	}
	if c.Monitor.StatusInterval <= 0 || c.Monitor.ConnectionInterval <= 0 {
		return errors.NewConfigError("monitor", "intervals must be positive", nil)
	}
	return nil
}
