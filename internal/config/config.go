// Package config loads the service configuration from YAML, a .env file and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"auction-room/internal/admission"
	"auction-room/internal/models"
	"auction-room/internal/rooms"
	"auction-room/internal/session"
	"auction-room/utils"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Ledger drivers
const (
	LedgerMemory   = "memory"
	LedgerSQLite   = "sqlite"
	LedgerPostgres = "postgres"
)

// Fabric drivers
const (
	FabricMemory = "memory"
	FabricRedis  = "redis"
	FabricNats   = "nats"
)

type ServerConfig struct {
	Port            string        `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type LedgerConfig struct {
	Driver      string `yaml:"driver"`
	SQLitePath  string `yaml:"sqlite_path"`
	DatabaseURL string `yaml:"database_url"`
}

type FabricConfig struct {
	Driver     string `yaml:"driver"`
	RedisURL   string `yaml:"redis_url"`
	NatsURL    string `yaml:"nats_url"`
	Prefix     string `yaml:"prefix"`
	BufferSize int    `yaml:"buffer_size"`
}

// AuctionSeed is an auction registered in the ledger at startup
type AuctionSeed struct {
	ID            string `yaml:"id"`
	Title         string `yaml:"title"`
	StartingPrice string `yaml:"starting_price"`
	Status        string `yaml:"status"`
}

// Config is the complete service configuration
type Config struct {
	Server    ServerConfig     `yaml:"server"`
	Log       utils.LogConfig  `yaml:"log"`
	Ledger    LedgerConfig     `yaml:"ledger"`
	Fabric    FabricConfig     `yaml:"fabric"`
	Admission admission.Config `yaml:"admission"`
	Rooms     rooms.Config     `yaml:"rooms"`
	Session   session.Config   `yaml:"session"`
	Auctions  []AuctionSeed    `yaml:"auctions"`
}

// Default returns a configuration that runs a single in-memory instance
func Default() Config {
	return Config{
		Server: ServerConfig{Port: "8080", ShutdownTimeout: 10 * time.Second},
		Log:    utils.LogConfig{Level: "info", MaxSizeMB: 100, MaxBackups: 3, MaxAgeDays: 28},
		Ledger: LedgerConfig{Driver: LedgerMemory, SQLitePath: "auction-room.db"},
		Fabric: FabricConfig{
			Driver:     FabricMemory,
			RedisURL:   "redis://localhost:6379/0",
			NatsURL:    "nats://127.0.0.1:4222",
			Prefix:     "auction-room",
			BufferSize: 256,
		},
		Admission: admission.DefaultConfig(),
		Rooms:     rooms.Config{ResyncInterval: 5 * time.Second, QueryTimeout: 5 * time.Second},
		Session:   session.DefaultConfig(),
		Auctions: []AuctionSeed{
			{ID: "item1", Title: "title1", StartingPrice: "100.00", Status: string(models.StatusOpen)},
			{ID: "item2", Title: "title2", StartingPrice: "200.00", Status: string(models.StatusOpen)},
			{ID: "item3", Title: "title3", StartingPrice: "150.00", Status: string(models.StatusOpen)},
		},
	}
}

// LoadEnvFile loads variables from a .env file into the process environment.
// A missing file is not an error.
func LoadEnvFile(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

// Load reads the YAML file at path over the defaults, applies environment
// overrides and validates the result. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse YAML: %w", err)
		}
	}

	cfg.applyEnv(os.LookupEnv)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	overrides := []struct {
		key    string
		target *string
	}{
		{"PORT", &c.Server.Port},
		{"LOG_LEVEL", &c.Log.Level},
		{"LEDGER_DRIVER", &c.Ledger.Driver},
		{"DATABASE_URL", &c.Ledger.DatabaseURL},
		{"SQLITE_PATH", &c.Ledger.SQLitePath},
		{"FABRIC_DRIVER", &c.Fabric.Driver},
		{"REDIS_URL", &c.Fabric.RedisURL},
		{"NATS_URL", &c.Fabric.NatsURL},
	}
	for _, o := range overrides {
		if v, ok := lookup(o.key); ok && strings.TrimSpace(v) != "" {
			*o.target = strings.TrimSpace(v)
		}
	}
}

// Validate reports every configuration problem at once
func (c Config) Validate() error {
	var errs []error

	if c.Server.Port == "" {
		errs = append(errs, errors.New("server.port is required"))
	}

	switch c.Ledger.Driver {
	case LedgerMemory:
	case LedgerSQLite:
		if c.Ledger.SQLitePath == "" {
			errs = append(errs, errors.New("ledger.sqlite_path is required for the sqlite driver"))
		}
	case LedgerPostgres:
		if c.Ledger.DatabaseURL == "" {
			errs = append(errs, errors.New("ledger.database_url is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown ledger.driver %q", c.Ledger.Driver))
	}

	switch c.Fabric.Driver {
	case FabricMemory:
	case FabricRedis:
		if c.Fabric.RedisURL == "" {
			errs = append(errs, errors.New("fabric.redis_url is required for the redis driver"))
		}
	case FabricNats:
		if c.Fabric.NatsURL == "" {
			errs = append(errs, errors.New("fabric.nats_url is required for the nats driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown fabric.driver %q", c.Fabric.Driver))
	}

	if c.Admission.MaxAttempts < 1 {
		errs = append(errs, errors.New("admission.max_attempts must be at least 1"))
	}
	if c.Admission.LockTimeout <= 0 {
		errs = append(errs, errors.New("admission.lock_timeout must be positive"))
	}
	if c.Rooms.ResyncInterval < 0 {
		errs = append(errs, errors.New("rooms.resync_interval must not be negative"))
	}
	if c.Session.RateLimit < 0 {
		errs = append(errs, errors.New("session.rate_limit must not be negative"))
	}

	seen := make(map[string]bool, len(c.Auctions))
	for i, seed := range c.Auctions {
		if _, err := seed.Auction(); err != nil {
			errs = append(errs, fmt.Errorf("auctions[%d]: %w", i, err))
		}
		if seen[seed.ID] {
			errs = append(errs, fmt.Errorf("auctions[%d]: duplicate id %q", i, seed.ID))
		}
		seen[seed.ID] = true
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// Addr returns the listen address for the HTTP server
func (c Config) Addr() string {
	if strings.Contains(c.Server.Port, ":") {
		return c.Server.Port
	}
	return ":" + c.Server.Port
}

// Auction converts a seed into a ledger auction
func (s AuctionSeed) Auction() (models.Auction, error) {
	if s.ID == "" {
		return models.Auction{}, errors.New("id is required")
	}
	price, err := decimal.NewFromString(s.StartingPrice)
	if err != nil {
		return models.Auction{}, fmt.Errorf("starting_price %q: %w", s.StartingPrice, err)
	}
	if !price.IsPositive() {
		return models.Auction{}, fmt.Errorf("starting_price %q must be greater than 0", s.StartingPrice)
	}

	status := models.AuctionStatus(s.Status)
	switch status {
	case "":
		status = models.StatusOpen
	case models.StatusOpen, models.StatusClosed:
	default:
		return models.Auction{}, fmt.Errorf("unknown status %q", s.Status)
	}

	title := s.Title
	if title == "" {
		title = s.ID
	}
	return models.Auction{
		ID:            s.ID,
		Title:         title,
		StartingPrice: price.Round(models.PriceScale),
		Status:        status,
	}, nil
}
