// Package config loads server and database settings from environment
// variables, failing fast with an error when a required variable is
// missing rather than falling back to a silent default.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Server holds SERVER_HOST/SERVER_PORT.
type Server struct {
	Host string
	Port string
}

// Addr returns "host:port" for http.Server.Addr.
func (s Server) Addr() string { return s.Host + ":" + s.Port }

// Database holds the required POSTGRES_* variables plus DB_MAX_CONN.
type Database struct {
	User     string
	Password string
	Port     string
	Host     string
	Name     string
	MaxConns int32
}

// DSN renders a libpq connection string for pgxpool.ParseConfig.
func (d Database) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

// Config is the full process configuration.
type Config struct {
	Server        Server
	Database      Database
	MigrateRun    bool
	MergeInterval time.Duration
}

// Load reads and validates environment variables, returning an error
// (never panicking) if a required POSTGRES_* variable is absent.
func Load() (Config, error) {
	var cfg Config

	cfg.Server = Server{
		Host: getenvDefault("SERVER_HOST", "127.0.0.1"),
		Port: getenvDefault("SERVER_PORT", "8080"),
	}

	var err error
	cfg.Database, err = loadDatabase()
	if err != nil {
		return Config{}, err
	}

	cfg.MigrateRun, err = strconv.ParseBool(getenvDefault("MIGRATE_RUN", "false"))
	if err != nil {
		return Config{}, fmt.Errorf("config: MIGRATE_RUN: %w", err)
	}

	intervalStr := getenvDefault("MERGE_INTERVAL", "300s")
	cfg.MergeInterval, err = time.ParseDuration(intervalStr)
	if err != nil {
		return Config{}, fmt.Errorf("config: MERGE_INTERVAL: %w", err)
	}

	return cfg, nil
}

func loadDatabase() (Database, error) {
	required := map[string]*string{}
	var d Database
	required["POSTGRES_USER"] = &d.User
	required["POSTGRES_PASSWORD"] = &d.Password
	required["POSTGRES_PORT"] = &d.Port
	required["POSTGRES_HOST"] = &d.Host
	required["POSTGRES_DB"] = &d.Name

	for name, dst := range required {
		v, ok := os.LookupEnv(name)
		if !ok || v == "" {
			return Database{}, fmt.Errorf("config: required environment variable %s is not set", name)
		}
		*dst = v
	}

	maxConns := int64(5)
	if v, ok := os.LookupEnv("DB_MAX_CONN"); ok && v != "" {
		n, err := strconv.ParseInt(v, 10, 32)
		if err != nil {
			return Database{}, fmt.Errorf("config: DB_MAX_CONN: %w", err)
		}
		maxConns = n
	}
	d.MaxConns = int32(maxConns)

	return d, nil
}

func getenvDefault(name, def string) string {
	if v, ok := os.LookupEnv(name); ok && v != "" {
		return v
	}
	return def
}
