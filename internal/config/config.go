// Package config provides Viper-based configuration loading for the game host.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// BotConfig holds chat command settings.
type BotConfig struct {
	// Prefix is the leading string that marks a chat line as a command.
	Prefix string `mapstructure:"prefix"`
	// Commands is the path to the command manifest (JSON or YAML).
	Commands string `mapstructure:"commands"`
}

// WhitelistConfig controls which communities the bot serves.
type WhitelistConfig struct {
	// Enabled turns whitelisting on. When false every community is served.
	Enabled bool `mapstructure:"enabled"`
	// File lists one community identifier per line.
	File string `mapstructure:"file"`
}

// LibraryConfig holds game library settings.
type LibraryConfig struct {
	// Manifest is the path to the game library manifest.
	Manifest string `mapstructure:"manifest"`
	// ScreenSize is the edge length of each session's square screen grid.
	ScreenSize int `mapstructure:"screen_size"`
	// InstructionLimit bounds the Lua opcodes a single module hook may execute.
	InstructionLimit int `mapstructure:"instruction_limit"`
}

// ManagerConfig holds per-community session manager settings.
type ManagerConfig struct {
	// IdleTimeout is how long a manager may sit without sessions before it hibernates.
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`
	// TickInterval is the period of the second tick.
	TickInterval time.Duration `mapstructure:"tick_interval"`
	// ReapInterval is how often hibernated managers are removed from the registry.
	ReapInterval time.Duration `mapstructure:"reap_interval"`
}

// GatewayConfig holds the chat-platform WebSocket gateway settings.
type GatewayConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	// Token is the shared bearer token bridges must present. Empty disables auth.
	Token string `mapstructure:"token"`
	// HistoryLimit caps the messages kept per room; older ones are dropped.
	HistoryLimit int `mapstructure:"history_limit"`
}

// Addr returns the "host:port" listen address.
//
// Postcondition: Returns a non-empty string in "host:port" format.
func (g GatewayConfig) Addr() string {
	return fmt.Sprintf("%s:%d", g.Host, g.Port)
}

// AdminConfig holds the gRPC diagnostics server settings.
type AdminConfig struct {
	GRPCHost string `mapstructure:"grpc_host"`
	GRPCPort int    `mapstructure:"grpc_port"`
}

// Addr returns the "host:port" gRPC address.
//
// Postcondition: Returns a non-empty string in "host:port" format.
func (a AdminConfig) Addr() string {
	return fmt.Sprintf("%s:%d", a.GRPCHost, a.GRPCPort)
}

// DatabaseConfig holds PostgreSQL connection settings for the session archive.
type DatabaseConfig struct {
	// Enabled turns the archive on. When false no connection is attempted.
	Enabled         bool          `mapstructure:"enabled"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// DSN returns the PostgreSQL connection string.
//
// Precondition: Host, Port, User, and Name must be non-empty.
// Postcondition: Returns a valid PostgreSQL DSN string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode,
	)
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `mapstructure:"level"`
	// Format is the log output format: "json" or "console".
	Format string `mapstructure:"format"`
}

// Config is the top-level application configuration.
type Config struct {
	Bot       BotConfig       `mapstructure:"bot"`
	Whitelist WhitelistConfig `mapstructure:"whitelist"`
	Library   LibraryConfig   `mapstructure:"library"`
	Manager   ManagerConfig   `mapstructure:"manager"`
	Gateway   GatewayConfig   `mapstructure:"gateway"`
	Admin     AdminConfig     `mapstructure:"admin"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// Validate checks all configuration invariants.
//
// Postcondition: Returns nil if configuration is valid, or an error describing all violations.
func (c Config) Validate() error {
	var errs []string

	for _, err := range []error{
		validateBot(c.Bot),
		validateWhitelist(c.Whitelist),
		validateLibrary(c.Library),
		validateManager(c.Manager),
		validateGateway(c.Gateway),
		validateAdmin(c.Admin),
		validateDatabase(c.Database),
		validateLogging(c.Logging),
	} {
		if err != nil {
			errs = append(errs, err.Error())
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func validateBot(b BotConfig) error {
	var errs []string
	if strings.TrimSpace(b.Prefix) == "" {
		errs = append(errs, "bot.prefix must not be empty")
	}
	if b.Commands == "" {
		errs = append(errs, "bot.commands must not be empty")
	}
	return joinErrs(errs)
}

func validateWhitelist(w WhitelistConfig) error {
	if w.Enabled && w.File == "" {
		return errors.New("whitelist.file must not be empty when whitelist.enabled is true")
	}
	return nil
}

func validateLibrary(l LibraryConfig) error {
	var errs []string
	if l.Manifest == "" {
		errs = append(errs, "library.manifest must not be empty")
	}
	if l.ScreenSize < 1 || l.ScreenSize > 64 {
		errs = append(errs, fmt.Sprintf("library.screen_size must be 1-64, got %d", l.ScreenSize))
	}
	if l.InstructionLimit < 0 {
		errs = append(errs, fmt.Sprintf("library.instruction_limit must be >= 0, got %d", l.InstructionLimit))
	}
	return joinErrs(errs)
}

func validateManager(m ManagerConfig) error {
	var errs []string
	if m.IdleTimeout <= 0 {
		errs = append(errs, "manager.idle_timeout must be positive")
	}
	if m.TickInterval <= 0 {
		errs = append(errs, "manager.tick_interval must be positive")
	}
	if m.ReapInterval <= 0 {
		errs = append(errs, "manager.reap_interval must be positive")
	}
	return joinErrs(errs)
}

func validateAdmin(a AdminConfig) error {
	var errs []string
	if a.GRPCHost == "" {
		errs = append(errs, "admin.grpc_host must not be empty")
	}
	if err := validatePort("admin.grpc_port", a.GRPCPort); err != nil {
		errs = append(errs, err.Error())
	}
	return joinErrs(errs)
}

func validateDatabase(d DatabaseConfig) error {
	if !d.Enabled {
		return nil
	}
	var errs []string
	if d.Host == "" {
		errs = append(errs, "database.host must not be empty")
	}
	if err := validatePort("database.port", d.Port); err != nil {
		errs = append(errs, err.Error())
	}
	if d.User == "" {
		errs = append(errs, "database.user must not be empty")
	}
	if d.Name == "" {
		errs = append(errs, "database.name must not be empty")
	}
	validSSL := map[string]bool{"disable": true, "require": true, "verify-ca": true, "verify-full": true}
	if !validSSL[d.SSLMode] {
		errs = append(errs, fmt.Sprintf("database.sslmode must be one of [disable, require, verify-ca, verify-full], got %q", d.SSLMode))
	}
	if d.MaxConns < 1 {
		errs = append(errs, fmt.Sprintf("database.max_conns must be >= 1, got %d", d.MaxConns))
	}
	if d.MinConns < 0 || d.MinConns > d.MaxConns {
		errs = append(errs, "database.min_conns must be between 0 and database.max_conns")
	}
	return joinErrs(errs)
}

func validateLogging(l LoggingConfig) error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[l.Level] {
		return fmt.Errorf("logging.level must be one of [debug, info, warn, error], got %q", l.Level)
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("logging.format must be one of [json, console], got %q", l.Format)
	}
	return nil
}

func validateGateway(g GatewayConfig) error {
	var errs []string
	if err := validatePort("gateway.port", g.Port); err != nil {
		errs = append(errs, err.Error())
	}
	if g.HistoryLimit < 1 {
		errs = append(errs, fmt.Sprintf("gateway.history_limit must be >= 1, got %d", g.HistoryLimit))
	}
	return joinErrs(errs)
}

func validatePort(key string, port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("%s must be 1-65535, got %d", key, port)
	}
	return nil
}

func joinErrs(errs []string) error {
	if len(errs) == 0 {
		return nil
	}
	return errors.New(strings.Join(errs, "; "))
}

// Load reads configuration from the given file path, applies environment variable
// overrides, and validates the result.
//
// Precondition: path must be a valid file path to a YAML configuration file.
// Postcondition: Returns a valid Config or a non-nil error.
func Load(path string) (Config, error) {
	v := newViper()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}
	return LoadFromViper(v)
}

// LoadFromViper builds a Config from an already-configured Viper instance.
//
// Precondition: v must be non-nil and have configuration values set.
// Postcondition: Returns a valid Config or a non-nil error.
func LoadFromViper(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func newViper() *viper.Viper {
	v := viper.New()

	// Environment variable overrides with GAMEHOST_ prefix
	v.SetEnvPrefix("GAMEHOST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// The chat bridge token conventionally lives in BOT_TOKEN.
	_ = v.BindEnv("gateway.token", "GAMEHOST_GATEWAY_TOKEN", "BOT_TOKEN")

	setDefaults(v)
	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("bot.prefix", "!")
	v.SetDefault("bot.commands", "content/commands.json")

	v.SetDefault("whitelist.enabled", false)
	v.SetDefault("whitelist.file", "content/whitelist.txt")

	v.SetDefault("library.manifest", "content/library/manifest.json")
	v.SetDefault("library.screen_size", 10)
	v.SetDefault("library.instruction_limit", 100_000)

	v.SetDefault("manager.idle_timeout", "10m")
	v.SetDefault("manager.tick_interval", "1s")
	v.SetDefault("manager.reap_interval", "1m")

	v.SetDefault("gateway.host", "0.0.0.0")
	v.SetDefault("gateway.port", 8420)
	v.SetDefault("gateway.history_limit", 200)

	v.SetDefault("admin.grpc_host", "127.0.0.1")
	v.SetDefault("admin.grpc_port", 50061)

	v.SetDefault("database.enabled", false)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "gamehost")
	v.SetDefault("database.password", "gamehost")
	v.SetDefault("database.name", "gamehost")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 5)
	v.SetDefault("database.min_conns", 1)
	v.SetDefault("database.max_conn_lifetime", "1h")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}
