package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Database holds the connection and pool settings shared by both services.
// Pool limits are per tenant database, not global: every tenant resolved by
// the registry gets its own pool with these bounds.
type Database struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslmode"`

	// ControlDB is the server's default database used for the
	// database-exists check and CREATE DATABASE statements.
	ControlDB string `yaml:"control_db"`
	// Schema is the namespace the domain tables live under inside each
	// tenant database.
	Schema string `yaml:"schema"`

	MaxOpenConns           int `yaml:"max_open_conns"`
	MaxIdleConns           int `yaml:"max_idle_conns"`
	ConnMaxLifetimeSeconds int `yaml:"conn_max_lifetime_seconds"`
}

// ConnMaxLifetime returns the connection recycling interval.
func (d Database) ConnMaxLifetime() time.Duration {
	return time.Duration(d.ConnMaxLifetimeSeconds) * time.Second
}

type Config struct {
	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`

	Database Database `yaml:"database"`

	Auth struct {
		// RequireUUID switches the events service to the strict bearer
		// variant: tokens must parse as UUIDs.
		RequireUUID bool `yaml:"require_uuid"`
	} `yaml:"auth"`

	Events struct {
		// DatabaseKey is the registry key the events service resolves for
		// every request. Its rows are scoped by owner_id.
		DatabaseKey string `yaml:"database_key"`
		// AgendaTitle is the default title for agendas created without one.
		AgendaTitle string `yaml:"agenda_title"`
	} `yaml:"events"`
}

func LoadConfig(path string) (*Config, error) {
	cfg := &Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	return cfg, nil
}

// applyEnv lets deployment environments override credentials without
// touching the config file.
func (c *Config) applyEnv() {
	if v := os.Getenv("POSTGRES_DB_HOST"); v != "" {
		c.Database.Host = v
	}
	if v := os.Getenv("POSTGRES_DB_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Database.Port = p
		}
	}
	if v := os.Getenv("POSTGRES_DB_USER"); v != "" {
		c.Database.User = v
	}
	if v := os.Getenv("POSTGRES_DB_PASSWORD"); v != "" {
		c.Database.Password = v
	}
	if v := os.Getenv("POSTGRES_DB_SCHEMA"); v != "" {
		c.Database.Schema = v
	}
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Database.Host == "" {
		c.Database.Host = "localhost"
	}
	if c.Database.Port == 0 {
		c.Database.Port = 5432
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}
	if c.Database.ControlDB == "" {
		c.Database.ControlDB = "postgres"
	}
	if c.Database.Schema == "" {
		c.Database.Schema = "public"
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 50
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 20
	}
	if c.Database.ConnMaxLifetimeSeconds == 0 {
		c.Database.ConnMaxLifetimeSeconds = 1800
	}
	if c.Events.DatabaseKey == "" {
		c.Events.DatabaseKey = "events"
	}
	if c.Events.AgendaTitle == "" {
		c.Events.AgendaTitle = "Program događaja"
	}
}
