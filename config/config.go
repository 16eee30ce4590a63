// Package config builds the server configuration from flags, the
// environment and optional .env files, so main stays lean.
//
// Precedence: explicit flag > environment variable > .env file > default.
package config

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Server captures process level configuration.
type Server struct {
	Port        int
	DBPath      string
	Seed        bool
	RedisURL    string
	LogLevel    slog.Level
	LogFormat   string
	CORSOrigins []string

	SnapshotTTL     time.Duration
	ShutdownTimeout time.Duration
}

func defaults() Server {
	return Server{
		Port:            8080,
		DBPath:          "entitlements.db",
		Seed:            true,
		LogLevel:        slog.LevelInfo,
		LogFormat:       "json",
		CORSOrigins:     []string{"*"},
		SnapshotTTL:     6 * time.Hour,
		ShutdownTimeout: 30 * time.Second,
	}
}

// LoadEnvFiles loads .env then .env.local if present. Missing files are
// ignored; variables already set in the environment win.
func LoadEnvFiles() {
	for _, f := range []string{".env", ".env.local"} {
		_ = godotenv.Load(f)
	}
}

// Load parses args (without the program name) on top of the environment
// as seen through getenv.
func Load(args []string, getenv func(string) string) (Server, error) {
	cfg := defaults()
	if err := cfg.applyEnv(getenv); err != nil {
		return Server{}, err
	}

	fs := flag.NewFlagSet("entitlement-engine", flag.ContinueOnError)
	port := fs.Int("port", cfg.Port, "HTTP server port")
	db := fs.String("db", cfg.DBPath, `SQLite database path (":memory:" for in-memory)`)
	seed := fs.Bool("seed", cfg.Seed, "load the embedded rate tables at startup")
	redisURL := fs.String("redis", cfg.RedisURL, "Redis URL for the snapshot and tier caches (empty disables)")
	level := fs.String("log-level", cfg.LogLevel.String(), "log level: debug, info, warn, error")
	format := fs.String("log-format", cfg.LogFormat, "log format: json or text")
	if err := fs.Parse(args); err != nil {
		return Server{}, err
	}

	cfg.Port = *port
	cfg.DBPath = *db
	cfg.Seed = *seed
	cfg.RedisURL = *redisURL
	cfg.LogFormat = *format
	if err := cfg.LogLevel.UnmarshalText([]byte(*level)); err != nil {
		return Server{}, fmt.Errorf("log level %q: %w", *level, err)
	}

	return cfg, cfg.Validate()
}

// FromEnv is Load over os.Args and the process environment.
func FromEnv() (Server, error) {
	LoadEnvFiles()
	return Load(os.Args[1:], os.Getenv)
}

func (c *Server) applyEnv(getenv func(string) string) error {
	if v := getenv("ENGINE_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("ENGINE_PORT %q: %w", v, err)
		}
		c.Port = port
	}
	if v := getenv("ENGINE_DB"); v != "" {
		c.DBPath = v
	}
	if v := getenv("ENGINE_SEED"); v != "" {
		seed, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("ENGINE_SEED %q: %w", v, err)
		}
		c.Seed = seed
	}
	if v := getenv("REDIS_URL"); v != "" {
		c.RedisURL = v
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		if err := c.LogLevel.UnmarshalText([]byte(v)); err != nil {
			return fmt.Errorf("LOG_LEVEL %q: %w", v, err)
		}
	}
	if v := getenv("LOG_FORMAT"); v != "" {
		c.LogFormat = v
	}
	if v := getenv("CORS_ORIGINS"); v != "" {
		c.CORSOrigins = splitList(v)
	}
	if v := getenv("SNAPSHOT_TTL"); v != "" {
		ttl, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("SNAPSHOT_TTL %q: %w", v, err)
		}
		c.SnapshotTTL = ttl
	}
	return nil
}

func (c Server) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.DBPath == "" {
		return errors.New("database path is required")
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		return fmt.Errorf("log format %q: want json or text", c.LogFormat)
	}
	return nil
}

func (c Server) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// NewLogger builds the process logger for this configuration.
func (c Server) NewLogger() *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.LogLevel}
	if c.LogFormat == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
