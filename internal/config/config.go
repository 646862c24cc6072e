// Package config loads process configuration via viper: defaults, then an
// optional YAML file, then environment variables (MATCHCORE_-prefixed),
// then command-line flags — each layer overriding the last.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// TransportConfig selects and configures the message bus transport (spec
// §4.1: Local for single-process/tests, Redis for a real deployment).
type TransportConfig struct {
	Kind       string `mapstructure:"kind"` // "local" or "redis"
	RedisAddr  string `mapstructure:"redis_addr"`
	RedisDB    int    `mapstructure:"redis_db"`
}

// PersistenceConfig configures the Session Record Store's PostgreSQL pool.
type PersistenceConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

// DSN returns the PostgreSQL connection string pgx expects.
func (p PersistenceConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		p.User, p.Password, p.Host, p.Port, p.DBName, p.SSLMode)
}

// RoutingConfig mirrors routing.Config's fields for config-file loading.
type RoutingConfig struct {
	RouteTimeout       time.Duration `mapstructure:"route_timeout"`
	ReservationTimeout time.Duration `mapstructure:"reservation_timeout"`
	MaxQueueWait       time.Duration `mapstructure:"max_queue_wait"`
	MaxRouteRetries    int           `mapstructure:"max_route_retries"`
}

// ObservabilityConfig configures the operator snapshot/stream endpoint
// (SPEC_FULL.md §4.8).
type ObservabilityConfig struct {
	SnapshotAddr string `mapstructure:"snapshot_addr"`
	StreamAddr   string `mapstructure:"stream_addr"`
}

// Config is the complete routing-core process configuration.
type Config struct {
	SenderID        string              `mapstructure:"sender_id"`
	ServerTimeout   time.Duration       `mapstructure:"server_timeout"`
	ProxyTimeout    time.Duration       `mapstructure:"proxy_timeout"`
	LogLevel        string              `mapstructure:"log_level"`
	Transport       TransportConfig     `mapstructure:"transport"`
	Persistence     PersistenceConfig   `mapstructure:"persistence"`
	Routing         RoutingConfig       `mapstructure:"routing"`
	Observability   ObservabilityConfig `mapstructure:"observability"`
}

// Default returns a Config populated with spec-mandated defaults.
func Default() Config {
	return Config{
		SenderID:      "routingd",
		ServerTimeout: 90 * time.Second,
		ProxyTimeout:  90 * time.Second,
		LogLevel:      "info",
		Transport: TransportConfig{
			Kind:      "local",
			RedisAddr: "127.0.0.1:6379",
		},
		Persistence: PersistenceConfig{
			Host:    "127.0.0.1",
			Port:    5432,
			User:    "matchcore",
			Password: "matchcore",
			DBName:  "matchcore",
			SSLMode: "disable",
		},
		Routing: RoutingConfig{
			RouteTimeout:       15 * time.Second,
			ReservationTimeout: 5 * time.Second,
			MaxQueueWait:       45 * time.Second,
			MaxRouteRetries:    3,
		},
		Observability: ObservabilityConfig{
			SnapshotAddr: ":8090",
			StreamAddr:   ":8091",
		},
	}
}

// Load builds a Config from defaults, an optional YAML file at path (if
// non-empty and present), MATCHCORE_-prefixed environment variables, and
// flags bound onto fs (pass nil to skip flag binding).
func Load(path string, fs *pflag.FlagSet) (Config, error) {
	v := viper.New()

	def := Default()
	v.SetDefault("sender_id", def.SenderID)
	v.SetDefault("server_timeout", def.ServerTimeout)
	v.SetDefault("proxy_timeout", def.ProxyTimeout)
	v.SetDefault("log_level", def.LogLevel)
	v.SetDefault("transport.kind", def.Transport.Kind)
	v.SetDefault("transport.redis_addr", def.Transport.RedisAddr)
	v.SetDefault("transport.redis_db", def.Transport.RedisDB)
	v.SetDefault("persistence.host", def.Persistence.Host)
	v.SetDefault("persistence.port", def.Persistence.Port)
	v.SetDefault("persistence.user", def.Persistence.User)
	v.SetDefault("persistence.password", def.Persistence.Password)
	v.SetDefault("persistence.dbname", def.Persistence.DBName)
	v.SetDefault("persistence.sslmode", def.Persistence.SSLMode)
	v.SetDefault("routing.route_timeout", def.Routing.RouteTimeout)
	v.SetDefault("routing.reservation_timeout", def.Routing.ReservationTimeout)
	v.SetDefault("routing.max_queue_wait", def.Routing.MaxQueueWait)
	v.SetDefault("routing.max_route_retries", def.Routing.MaxRouteRetries)
	v.SetDefault("observability.snapshot_addr", def.Observability.SnapshotAddr)
	v.SetDefault("observability.stream_addr", def.Observability.StreamAddr)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound && !errors.Is(err, fs.ErrNotExist) {
				return Config{}, fmt.Errorf("reading config %s: %w", path, err)
			}
		}
	}

	v.SetEnvPrefix("matchcore")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if fs != nil {
		if err := v.BindPFlags(fs); err != nil {
			return Config{}, fmt.Errorf("binding flags: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshaling config: %w", err)
	}
	return cfg, nil
}
