// Package config provides Viper-based configuration loading for the room server.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ServerConfig holds the realtime WebSocket listener settings.
type ServerConfig struct {
	// Host is the bind address for the WebSocket listener.
	Host string `mapstructure:"host"`
	// Port is the TCP port for the WebSocket listener.
	Port int `mapstructure:"port"`
	// MaxConnections is the global ceiling of simultaneously open connections.
	MaxConnections int `mapstructure:"max_connections"`
	// ReadTimeout is how long a connection may stay silent (no frame, no pong).
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	// WriteTimeout bounds each frame write.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// PingInterval is the keepalive ping period. Must be shorter than ReadTimeout.
	PingInterval time.Duration `mapstructure:"ping_interval"`
	// MaxMessageBytes caps the size of a single inbound frame.
	MaxMessageBytes int64 `mapstructure:"max_message_bytes"`
	// SendBuffer is the per-connection outbound queue length.
	SendBuffer int `mapstructure:"send_buffer"`
}

// Addr returns the "host:port" listen address.
//
// Postcondition: Returns a non-empty string in "host:port" format.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// RoomsConfig holds room lifecycle and gameplay limits.
type RoomsConfig struct {
	// MaxPlayers is the seat capacity of every room.
	MaxPlayers int `mapstructure:"max_players"`
	// MinCitySize and MaxCitySize bound the accepted grid edge length, inclusive.
	MinCitySize int `mapstructure:"min_city_size"`
	MaxCitySize int `mapstructure:"max_city_size"`
	// GracePeriod is how long an empty room survives before deletion.
	GracePeriod time.Duration `mapstructure:"grace_period"`
	// SweepInterval is the period of the lobby inactivity sweep.
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	// InactivityTimeout is the idle time after which a lobby connection is evicted.
	InactivityTimeout time.Duration `mapstructure:"inactivity_timeout"`
	// ClockTick advances every room's game time by one per tick. Zero disables it.
	ClockTick time.Duration `mapstructure:"clock_tick"`
	// DefaultPseudo is the display name given to players who never sent one.
	DefaultPseudo string `mapstructure:"default_pseudo"`
}

// DirectoryConfig holds the REST room directory listener settings.
type DirectoryConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// Addr returns the "host:port" listen address.
func (d DirectoryConfig) Addr() string {
	return fmt.Sprintf("%s:%d", d.Host, d.Port)
}

// GRPCConfig holds the gRPC directory and health service settings.
type GRPCConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
}

// Addr returns the "host:port" gRPC address.
//
// Postcondition: Returns a non-empty string in "host:port" format.
func (g GRPCConfig) Addr() string {
	return fmt.Sprintf("%s:%d", g.Host, g.Port)
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `mapstructure:"level"`
	// Format is the log output format: "json" or "console".
	Format string `mapstructure:"format"`
}

// DatabaseConfig holds PostgreSQL connection settings for the room archive.
type DatabaseConfig struct {
	// Enabled turns on archiving of deleted rooms.
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

// EventsConfig holds the NATS lifecycle event publisher settings.
type EventsConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	URL           string `mapstructure:"url"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
}

// Config is the top-level application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Rooms     RoomsConfig     `mapstructure:"rooms"`
	Directory DirectoryConfig `mapstructure:"directory"`
	GRPC      GRPCConfig      `mapstructure:"grpc"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Events    EventsConfig    `mapstructure:"events"`
}

// Validate checks all configuration invariants.
//
// Postcondition: Returns nil if configuration is valid, or an error describing all violations.
func (c Config) Validate() error {
	var errs []string

	for _, check := range []error{
		validateServer(c.Server),
		validateRooms(c.Rooms),
		validatePort("directory.port", c.Directory.Port),
		validateGRPC(c.GRPC),
		validateLogging(c.Logging),
		validateDatabase(c.Database),
		validateEvents(c.Events),
	} {
		if check != nil {
			errs = append(errs, check.Error())
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func validatePort(key string, port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("%s must be 1-65535, got %d", key, port)
	}
	return nil
}

func validateServer(s ServerConfig) error {
	var errs []string
	if err := validatePort("server.port", s.Port); err != nil {
		errs = append(errs, err.Error())
	}
	if s.MaxConnections < 1 {
		errs = append(errs, fmt.Sprintf("server.max_connections must be >= 1, got %d", s.MaxConnections))
	}
	if s.ReadTimeout <= 0 {
		errs = append(errs, "server.read_timeout must be positive")
	}
	if s.WriteTimeout <= 0 {
		errs = append(errs, "server.write_timeout must be positive")
	}
	if s.PingInterval <= 0 || s.PingInterval >= s.ReadTimeout {
		errs = append(errs, "server.ping_interval must be positive and shorter than server.read_timeout")
	}
	if s.MaxMessageBytes < 1 {
		errs = append(errs, fmt.Sprintf("server.max_message_bytes must be >= 1, got %d", s.MaxMessageBytes))
	}
	if s.SendBuffer < 1 {
		errs = append(errs, fmt.Sprintf("server.send_buffer must be >= 1, got %d", s.SendBuffer))
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

func validateRooms(r RoomsConfig) error {
	var errs []string
	if r.MaxPlayers < 1 {
		errs = append(errs, fmt.Sprintf("rooms.max_players must be >= 1, got %d", r.MaxPlayers))
	}
	if r.MinCitySize < 1 {
		errs = append(errs, fmt.Sprintf("rooms.min_city_size must be >= 1, got %d", r.MinCitySize))
	}
	if r.MaxCitySize < r.MinCitySize {
		errs = append(errs, "rooms.max_city_size must not be less than rooms.min_city_size")
	}
	if r.GracePeriod < 0 {
		errs = append(errs, "rooms.grace_period must not be negative")
	}
	if r.SweepInterval <= 0 {
		errs = append(errs, "rooms.sweep_interval must be positive")
	}
	if r.InactivityTimeout <= 0 {
		errs = append(errs, "rooms.inactivity_timeout must be positive")
	}
	if r.ClockTick < 0 {
		errs = append(errs, "rooms.clock_tick must not be negative")
	}
	if strings.TrimSpace(r.DefaultPseudo) == "" {
		errs = append(errs, "rooms.default_pseudo must not be empty")
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

func validateGRPC(g GRPCConfig) error {
	if !g.Enabled {
		return nil
	}
	if g.Host == "" {
		return errors.New("grpc.host must not be empty")
	}
	return validatePort("grpc.port", g.Port)
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

// validateDatabase only checks connection settings when archiving is enabled.
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
	if d.MinConns < 0 {
		errs = append(errs, fmt.Sprintf("database.min_conns must be >= 0, got %d", d.MinConns))
	}
	if d.MinConns > d.MaxConns {
		errs = append(errs, "database.min_conns must not exceed database.max_conns")
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

func validateEvents(e EventsConfig) error {
	if !e.Enabled {
		return nil
	}
	var errs []string
	if e.URL == "" {
		errs = append(errs, "events.url must not be empty")
	}
	if e.SubjectPrefix == "" || strings.ContainsAny(e.SubjectPrefix, " *>") {
		errs = append(errs, fmt.Sprintf("events.subject_prefix must be a plain NATS token, got %q", e.SubjectPrefix))
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

// Load reads configuration from the given file path, applies environment variable
// overrides, and validates the result.
//
// Precondition: path must be a valid file path to a YAML configuration file.
// Postcondition: Returns a valid Config or a non-nil error.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	// Environment variable overrides with CITY_ prefix
	v.SetEnvPrefix("CITY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	SetDefaults(v)

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

// Default returns the configuration produced by defaults alone.
//
// Postcondition: The returned Config passes Validate.
func Default() Config {
	v := viper.New()
	SetDefaults(v)
	cfg, err := LoadFromViper(v)
	if err != nil {
		panic(fmt.Sprintf("config: defaults are invalid: %v", err))
	}
	return cfg
}

// SetDefaults registers every default value on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 9876)
	v.SetDefault("server.max_connections", 50)
	v.SetDefault("server.read_timeout", "60s")
	v.SetDefault("server.write_timeout", "10s")
	v.SetDefault("server.ping_interval", "54s")
	v.SetDefault("server.max_message_bytes", 64*1024)
	v.SetDefault("server.send_buffer", 256)

	v.SetDefault("rooms.max_players", 2)
	v.SetDefault("rooms.min_city_size", 12)
	v.SetDefault("rooms.max_city_size", 24)
	v.SetDefault("rooms.grace_period", "30s")
	v.SetDefault("rooms.sweep_interval", "60s")
	v.SetDefault("rooms.inactivity_timeout", "5m")
	v.SetDefault("rooms.clock_tick", "1s")
	v.SetDefault("rooms.default_pseudo", "Player")

	v.SetDefault("directory.host", "0.0.0.0")
	v.SetDefault("directory.port", 9877)

	v.SetDefault("grpc.enabled", true)
	v.SetDefault("grpc.host", "127.0.0.1")
	v.SetDefault("grpc.port", 50051)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("database.enabled", false)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "city")
	v.SetDefault("database.password", "city")
	v.SetDefault("database.name", "city")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 5)
	v.SetDefault("database.min_conns", 1)
	v.SetDefault("database.max_conn_lifetime", "1h")

	v.SetDefault("events.enabled", false)
	v.SetDefault("events.url", "nats://127.0.0.1:4222")
	v.SetDefault("events.subject_prefix", "citybuilder")
}
