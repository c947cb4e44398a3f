package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Loader handles configuration loading from YAML files and environment variables
type Loader struct {
	v *viper.Viper
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{
		v: viper.New(),
	}
}

// Load loads configuration from files and environment variables
// YAML files take precedence, then ENV variables override
func (l *Loader) Load() (*Config, error) {
	// Set config file settings
	l.v.SetConfigName("config")
	l.v.SetConfigType("yaml")

	// Add multiple search paths (in order of priority)
	l.v.AddConfigPath("/etc/ovpn-control")   // System-wide config
	l.v.AddConfigPath("$HOME/.ovpn-control") // User config
	l.v.AddConfigPath(".")                   // Current directory

	// Enable environment variable support
	l.v.SetEnvPrefix("OVPN_CONTROL")
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()

	// Set defaults
	l.setDefaults()

	// Read config file (optional - will use defaults and ENV if not found)
	if err := l.v.ReadInConfig(); err != nil {
		// Config file not found is OK - we'll use defaults and ENV
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Unmarshal into Config struct
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func (l *Loader) setDefaults() {
	// Log defaults
	l.v.SetDefault("log.level", "info")
	l.v.SetDefault("log.format", "text")

	// Database defaults
	l.v.SetDefault("db.path", "./data/ovpn-control.db")
	l.v.SetDefault("db.max_open_conns", 25)
	l.v.SetDefault("db.max_idle_conns", 5)
	l.v.SetDefault("db.conn_max_lifetime", "5m")

	// SSH defaults
	l.v.SetDefault("ssh.connect_timeout", "30s")
	l.v.SetDefault("ssh.command_timeout", "60s")
	l.v.SetDefault("ssh.task_timeout", "10m")
	l.v.SetDefault("ssh.max_idle", "5m")

	// Agent defaults
	l.v.SetDefault("agent.binary_path", "/usr/local/share/ovpn-control/ovpn-agent")

	// Monitor defaults
	l.v.SetDefault("monitor.status_interval", "60s")
	l.v.SetDefault("monitor.connection_interval", "10s")
}

// LoadWithPath loads configuration from a specific file path
func LoadWithPath(configPath string) (*Config, error) {
	loader := NewLoader()
	loader.v.SetConfigFile(configPath)
	return loader.Load()
}
