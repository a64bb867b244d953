package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

// DefaultSystemUserID is the workflow system user seeded by the migrations
const DefaultSystemUserID = "00000000-0000-0000-0000-000000000001"

// Config holds all application configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Logger   LoggerConfig   `mapstructure:"logger"`
	Workflow WorkflowConfig `mapstructure:"workflow"`
	Lark     LarkConfig     `mapstructure:"lark"`
	Report   ReportConfig   `mapstructure:"report"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// Addr returns the listen address
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"`
}

// WorkflowConfig holds engine and workflow manager settings
type WorkflowConfig struct {
	// SystemUserID is recorded as the actor of chained transitions
	SystemUserID      string        `mapstructure:"system_user_id"`
	CycleDuration     time.Duration `mapstructure:"cycle_duration"`
	BatchSize         int           `mapstructure:"batch_size"`
	MaximumBatchCount int           `mapstructure:"maximum_batch_count"`
}

// SystemUser parses SystemUserID. An empty value yields uuid.Nil.
func (w WorkflowConfig) SystemUser() (uuid.UUID, error) {
	if w.SystemUserID == "" {
		return uuid.Nil, nil
	}
	return uuid.Parse(w.SystemUserID)
}

// LarkConfig holds Lark API configuration. Notifications are only sent
// when credentials and a chat are configured.
type LarkConfig struct {
	AppID        string        `mapstructure:"app_id"`
	AppSecret    string        `mapstructure:"app_secret"`
	NotifyChatID string        `mapstructure:"notify_chat_id"`
	APITimeout   time.Duration `mapstructure:"api_timeout"`
}

// Enabled reports whether Lark notifications are configured
func (l LarkConfig) Enabled() bool {
	return l.AppID != "" && l.AppSecret != "" && l.NotifyChatID != ""
}

// ReportConfig holds audit report export settings
type ReportConfig struct {
	OutputDir string `mapstructure:"output_dir"`
}

// Load loads configuration from file and environment variables.
// A .env file in the working directory is applied first when present.
func Load(configPath string) (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetConfigType("yaml")
	v.AutomaticEnv()

	// Set defaults
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Override with environment variables
	bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func loadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := gotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)

	// Database defaults
	v.SetDefault("database.driver", "sqlite3")
	v.SetDefault("database.path", "data/workflow.db")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)
	v.SetDefault("database.auto_migrate", true)

	// Logger defaults
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.output_path", "stdout")
	v.SetDefault("logger.format", "json")

	// Workflow defaults
	v.SetDefault("workflow.system_user_id", DefaultSystemUserID)
	v.SetDefault("workflow.cycle_duration", 10*time.Second)
	v.SetDefault("workflow.batch_size", 25)
	v.SetDefault("workflow.maximum_batch_count", 0)

	// Lark defaults
	v.SetDefault("lark.api_timeout", 30*time.Second)

	// Report defaults
	v.SetDefault("report.output_dir", "reports")
}

// bindEnvVars binds environment variables to configuration
func bindEnvVars(v *viper.Viper) {
	_ = v.BindEnv("database.driver", "DB_DRIVER")
	_ = v.BindEnv("database.dsn", "DATABASE_URL")
	_ = v.BindEnv("database.path", "DB_PATH")
	_ = v.BindEnv("logger.level", "LOG_LEVEL")
	_ = v.BindEnv("workflow.system_user_id", "WORKFLOW_SYSTEM_USER_ID")

	// Sensitive credentials from environment
	_ = v.BindEnv("lark.app_id", "LARK_APP_ID")
	_ = v.BindEnv("lark.app_secret", "LARK_APP_SECRET")
	_ = v.BindEnv("lark.notify_chat_id", "LARK_NOTIFY_CHAT_ID")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite3", "sqlite", "":
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for sqlite")
		}
	case "postgres", "postgresql", "mysql":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for %s", c.Database.Driver)
		}
	default:
		return fmt.Errorf("database.driver %q is not supported", c.Database.Driver)
	}

	if _, err := c.Workflow.SystemUser(); err != nil {
		return fmt.Errorf("workflow.system_user_id is not a valid uuid: %w", err)
	}
	if c.Workflow.CycleDuration <= 0 {
		return fmt.Errorf("workflow.cycle_duration must be positive")
	}
	if c.Workflow.BatchSize <= 0 {
		return fmt.Errorf("workflow.batch_size must be positive")
	}
	if c.Workflow.MaximumBatchCount < 0 {
		return fmt.Errorf("workflow.maximum_batch_count cannot be negative")
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}

	// Lark is optional, but a partial configuration is a mistake
	if (c.Lark.AppID == "") != (c.Lark.AppSecret == "") {
		return fmt.Errorf("lark.app_id and lark.app_secret must be set together")
	}

	return nil
}
