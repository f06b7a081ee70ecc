package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server   ServerConfig   `mapstructure:"server" validate:"required"`
	Log      LogConfig      `mapstructure:"log" validate:"required"`
	Queue    QueueConfig    `mapstructure:"queue"`
	Registry RegistryConfig `mapstructure:"registry"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Archive  ArchiveConfig  `mapstructure:"archive"`
}

// ServerConfig contains the inspection HTTP server settings.
type ServerConfig struct {
	Port            int           `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gte=0"`
}

// LogConfig controls the structured logger.
type LogConfig struct {
	Level  string `mapstructure:"level" validate:"required,oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"required,oneof=json text"`
	// Output is "stdout", "stderr", or a file path
	Output   string         `mapstructure:"output" validate:"required"`
	Rotation RotationConfig `mapstructure:"rotation"`
}

// RotationConfig applies when Output is a file path.
type RotationConfig struct {
	MaxSizeMB  int  `mapstructure:"max_size_mb" validate:"gte=0"`
	MaxBackups int  `mapstructure:"max_backups" validate:"gte=0"`
	MaxAgeDays int  `mapstructure:"max_age_days" validate:"gte=0"`
	Compress   bool `mapstructure:"compress"`
}

// QueueConfig contains work queue settings.
type QueueConfig struct {
	// Capacity bounds pending jobs; 0 means unbounded
	Capacity int `mapstructure:"capacity" validate:"gte=0"`
}

// RegistryConfig contains the task registry retention policy.
// Zero values keep every task until it is removed explicitly.
type RegistryConfig struct {
	MaxEntries      int           `mapstructure:"max_entries" validate:"gte=0"`
	Retention       time.Duration `mapstructure:"retention" validate:"gte=0"`
	JanitorInterval time.Duration `mapstructure:"janitor_interval" validate:"gte=0"`
}

// AuthConfig protects the inspection API. An empty secret disables auth.
type AuthConfig struct {
	JWTSecret     string        `mapstructure:"jwt_secret" validate:"omitempty,min=32"`
	TokenLifetime time.Duration `mapstructure:"token_lifetime" validate:"gte=0"`
}

// ArchiveConfig controls the terminal-task history database.
type ArchiveConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Driver is "pgx" for PostgreSQL or "sqlite" for an embedded database
	Driver       string        `mapstructure:"driver" validate:"omitempty,oneof=pgx sqlite"`
	DSN          string        `mapstructure:"dsn" validate:"required_if=Enabled true"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" validate:"gte=0"`
	// Retention purges rows older than this; 0 keeps history forever
	Retention     time.Duration `mapstructure:"retention" validate:"gte=0"`
	PurgeInterval time.Duration `mapstructure:"purge_interval" validate:"gte=0"`
}
