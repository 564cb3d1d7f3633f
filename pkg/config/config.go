// Package config loads the netwatch YAML configuration file and applies
// defaults. Secrets (encryption key, database password, JWT secret) may
// be supplied via environment variables instead of the file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/netwatch-nms/netwatch/pkg/secret"
	"github.com/netwatch-nms/netwatch/pkg/util"
)

// Config is the full process configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Discovery  DiscoveryConfig  `yaml:"discovery"`
	Encryption EncryptionConfig `yaml:"encryption"`
	Auth       AuthConfig       `yaml:"auth"`
	Transport  TransportConfig  `yaml:"transport"`
	Log        LogConfig        `yaml:"log"`
	Audit      AuditConfig      `yaml:"audit"`
}

// ServerConfig controls the HTTP front end.
type ServerConfig struct {
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowedOrigins"`
	RateLimit      struct {
		Enabled           bool `yaml:"enabled"`
		RequestsPerMinute int  `yaml:"requestsPerMinute"`
		BurstSize         int  `yaml:"burstSize"`
	} `yaml:"rateLimit"`
}

// DatabaseConfig controls the Postgres connection pools. MaxConnections
// sizes the request-domain pool; the discovery domain gets its own pool
// sized by the worker budget so blocking scans cannot starve the API.
type DatabaseConfig struct {
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	Name           string `yaml:"name"`
	User           string `yaml:"user"`
	Password       string `yaml:"password"`
	SSL            bool   `yaml:"ssl"`
	MaxConnections int    `yaml:"maxConnections"`
}

// DSN renders the pgx connection string.
func (d DatabaseConfig) DSN() string {
	sslmode := "disable"
	if d.SSL {
		sslmode = "require"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, sslmode)
}

// DiscoveryConfig controls the scan engine and its worker pool.
type DiscoveryConfig struct {
	Worker struct {
		Instances int `yaml:"instances"`
		PoolSize  int `yaml:"poolSize"`
	} `yaml:"worker"`

	LivenessTimeout  time.Duration `yaml:"livenessTimeout"`
	PortTimeout      time.Duration `yaml:"portTimeout"`
	SSHTimeout       time.Duration `yaml:"sshTimeout"`
	ProbeConcurrency int           `yaml:"probeConcurrency"`

	// MinPrefixLen rejects CIDR ranges broader than this prefix unless
	// AllowLargeRanges is set. Bounds the scan footprint.
	MinPrefixLen     int  `yaml:"minPrefixLen"`
	AllowLargeRanges bool `yaml:"allowLargeRanges"`
}

// WorkerCount returns the total discovery worker budget.
func (d DiscoveryConfig) WorkerCount() int {
	return d.Worker.Instances * d.Worker.PoolSize
}

// EncryptionConfig holds the AEAD key for the credential secret store.
type EncryptionConfig struct {
	Key string `yaml:"key"` // base64, standard or URL-safe
}

// AuthConfig controls token issuance.
type AuthConfig struct {
	JWT struct {
		Secret            string        `yaml:"secret"`
		Issuer            string        `yaml:"issuer"`
		Audience          string        `yaml:"audience"`
		Expiration        time.Duration `yaml:"expiration"`
		RefreshExpiration time.Duration `yaml:"refreshExpiration"`
	} `yaml:"jwt"`
}

// TransportConfig selects the control-plane transport. "local" is the
// in-process bus; "redis" load-balances across processes.
type TransportConfig struct {
	Mode           string        `yaml:"mode"`
	RedisAddr      string        `yaml:"redisAddr"`
	RequestTimeout time.Duration `yaml:"requestTimeout"`
}

// LogConfig controls logging output.
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// AuditConfig controls the mutation audit trail.
type AuditConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Path       string `yaml:"path"`
	MaxSizeMB  int64  `yaml:"maxSizeMb"`
	MaxBackups int    `yaml:"maxBackups"`
}

// Default returns a Config with all defaults applied.
func Default() *Config {
	cfg := &Config{}
	cfg.Server.Host = "0.0.0.0"
	cfg.Server.Port = 8080
	cfg.Server.AllowedOrigins = []string{"*"}
	cfg.Server.RateLimit.Enabled = true
	cfg.Server.RateLimit.RequestsPerMinute = 100
	cfg.Server.RateLimit.BurstSize = 20

	cfg.Database.Host = "localhost"
	cfg.Database.Port = 5432
	cfg.Database.Name = "netwatch"
	cfg.Database.User = "netwatch"
	cfg.Database.MaxConnections = 20

	cfg.Discovery.Worker.Instances = 2
	cfg.Discovery.Worker.PoolSize = 4
	cfg.Discovery.LivenessTimeout = 1 * time.Second
	cfg.Discovery.PortTimeout = 3 * time.Second
	cfg.Discovery.SSHTimeout = 5 * time.Second
	cfg.Discovery.ProbeConcurrency = 64
	cfg.Discovery.MinPrefixLen = 16

	cfg.Auth.JWT.Issuer = "netwatch"
	cfg.Auth.JWT.Audience = "netwatch-api"
	cfg.Auth.JWT.Expiration = time.Hour
	cfg.Auth.JWT.RefreshExpiration = 7 * 24 * time.Hour

	cfg.Transport.Mode = "local"
	cfg.Transport.RedisAddr = "localhost:6379"
	cfg.Transport.RequestTimeout = 30 * time.Second

	cfg.Log.Level = "info"

	cfg.Audit.Path = "netwatch-audit.log"
	cfg.Audit.MaxSizeMB = 10
	cfg.Audit.MaxBackups = 10
	return cfg
}

// Load reads the config file at path, merges it over defaults, applies
// environment overrides, and validates. A missing file is not an error:
// env-only deployments are supported.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("NETWATCH_ENCRYPTION_KEY"); v != "" {
		c.Encryption.Key = v
	}
	if v := os.Getenv("NETWATCH_DB_PASSWORD"); v != "" {
		c.Database.Password = v
	}
	if v := os.Getenv("NETWATCH_JWT_SECRET"); v != "" {
		c.Auth.JWT.Secret = v
	}
}

// Validate fails fast on configuration the process cannot run with.
func (c *Config) Validate() error {
	var b util.ValidationBuilder
	b.Add(c.Server.Port > 0 && c.Server.Port < 65536, "server.port out of range")
	b.Add(c.Database.MaxConnections > 0, "database.maxConnections must be positive")
	b.Add(c.Discovery.Worker.Instances > 0, "discovery.worker.instances must be positive")
	b.Add(c.Discovery.Worker.PoolSize > 0, "discovery.worker.poolSize must be positive")
	b.Add(c.Discovery.ProbeConcurrency > 0, "discovery.probeConcurrency must be positive")
	b.Add(c.Transport.Mode == "local" || c.Transport.Mode == "redis",
		"transport.mode must be local or redis")

	// The encryption key must decode at startup, not at first use.
	if c.Encryption.Key == "" {
		b.AddError("encryption.key is required (or NETWATCH_ENCRYPTION_KEY)")
	} else if _, err := secret.DecodeKey(c.Encryption.Key); err != nil {
		b.AddErrorf("encryption.key: %v", err)
	}

	return b.Build()
}
