// Package config loads service configuration from files and environment
// variables.
//
// Values resolve in order: defaults, then an optional config.yaml, then
// environment variables prefixed with ASSISTANT_ (dots become underscores,
// e.g. ASSISTANT_POSTGRES_PASSWORD). A DATABASE_URL variable, when present,
// overrides the individual postgres fields.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration tree.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Postgres  PostgresConfig  `mapstructure:"postgres"`
	Embedder  EmbedderConfig  `mapstructure:"embedder"`
	Retrieval RetrievalConfig `mapstructure:"retrieval"`
	Log       LogConfig       `mapstructure:"log"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// HMACSecret signs the uid fallback cookie.
	HMACSecret string `mapstructure:"hmac_secret"`

	AllowedOrigins []string `mapstructure:"allowed_origins"`
	TrustProxy     bool     `mapstructure:"trust_proxy"`

	// RateLimit is requests per second per client IP; RateBurst is the
	// bucket size.
	RateLimit float64 `mapstructure:"rate_limit"`
	RateBurst int     `mapstructure:"rate_burst"`
}

// PostgresConfig holds the database connection settings.
type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"ssl_mode"`
	MaxConns int    `mapstructure:"max_conns"`
}

// EmbedderConfig holds the deterministic embedder settings.
type EmbedderConfig struct {
	Dimensions int `mapstructure:"dimensions"`
}

// RetrievalConfig holds the similarity search settings.
type RetrievalConfig struct {
	TopK     int     `mapstructure:"top_k"`
	MinScore float64 `mapstructure:"min_score"`
}

// LogConfig holds the logger settings.
type LogConfig struct {
	Level     string `mapstructure:"level"`
	JSON      bool   `mapstructure:"json"`
	AddSource bool   `mapstructure:"add_source"`
}

// Load reads configuration from the given directory (or the working
// directory when empty) plus the environment.
func Load(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if path != "" {
		v.AddConfigPath(path)
	}
	v.AddConfigPath(".")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// No file is fine; defaults and env carry the day.
	}

	v.SetEnvPrefix("ASSISTANT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if dbURL := v.GetString("database_url"); dbURL != "" {
		if err := cfg.Postgres.applyURL(dbURL); err != nil {
			return nil, fmt.Errorf("parse DATABASE_URL: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.idle_timeout", 120*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.allowed_origins", []string{"http://localhost:3000"})
	v.SetDefault("server.trust_proxy", false)
	v.SetDefault("server.rate_limit", 5.0)
	v.SetDefault("server.rate_burst", 10)

	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "assistant")
	v.SetDefault("postgres.password", "")
	v.SetDefault("postgres.database", "assistant")
	v.SetDefault("postgres.ssl_mode", "disable")
	v.SetDefault("postgres.max_conns", 10)

	v.SetDefault("embedder.dimensions", 1536)

	v.SetDefault("retrieval.top_k", 5)
	v.SetDefault("retrieval.min_score", 0.3)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", true)
	v.SetDefault("log.add_source", false)

	// Bound explicitly because it has no dot-form key in the tree.
	_ = v.BindEnv("database_url", "DATABASE_URL")
}

// Validate checks invariants that would otherwise fail at first use.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: invalid server port %d", c.Server.Port)
	}
	if c.Embedder.Dimensions <= 0 {
		return fmt.Errorf("config: invalid embedder dimensions %d", c.Embedder.Dimensions)
	}
	if c.Retrieval.TopK <= 0 {
		return fmt.Errorf("config: invalid retrieval top_k %d", c.Retrieval.TopK)
	}
	if c.Retrieval.MinScore < -1 || c.Retrieval.MinScore > 1 {
		return fmt.Errorf("config: retrieval min_score %v outside [-1, 1]", c.Retrieval.MinScore)
	}
	if c.Postgres.Database == "" {
		return errors.New("config: postgres database name is empty")
	}
	return nil
}

// Addr returns the host:port the server should bind.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ConnectionString renders a postgres URL for pgx and migrations.
func (p *PostgresConfig) ConnectionString() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(p.User, p.Password),
		Host:   fmt.Sprintf("%s:%d", p.Host, p.Port),
		Path:   "/" + p.Database,
	}
	q := url.Values{}
	q.Set("sslmode", p.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}

// applyURL overwrites the individual fields from a postgres URL.
func (p *PostgresConfig) applyURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}

	p.Host = u.Hostname()
	if port := u.Port(); port != "" {
		n, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("invalid port %q", port)
		}
		p.Port = n
	}
	if u.User != nil {
		p.User = u.User.Username()
		if pw, ok := u.User.Password(); ok {
			p.Password = pw
		}
	}
	if db := strings.TrimPrefix(u.Path, "/"); db != "" {
		p.Database = db
	}
	if mode := u.Query().Get("sslmode"); mode != "" {
		p.SSLMode = mode
	}
	return nil
}

// maskSecret hides all but a short prefix of a secret.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 4 {
		return "****"
	}
	return s[:2] + strings.Repeat("*", len(s)-2)
}

// MarshalJSON renders the config with secrets masked so it can be logged.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	masked := alias(c)
	masked.Postgres.Password = maskSecret(c.Postgres.Password)
	masked.Server.HMACSecret = maskSecret(c.Server.HMACSecret)
	return json.Marshal(masked)
}
