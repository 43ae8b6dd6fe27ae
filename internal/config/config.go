// Package config loads runtime configuration from the environment, an
// optional .env file and an optional YAML file.
package config

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server   Server
	Storage  Storage
	Redis    Redis
	Auth     Auth
	Relay    Relay
	Calls    Calls
	Log      Log
	Telegram Telegram
}

type Server struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	AllowOrigins []string
}

type Storage struct {
	Driver string // "postgres" or "memory"
	DSN    string
}

type Redis struct {
	Addr     string
	Password string
	DB       int
}

type Auth struct {
	Secret         string
	Issuer         string
	TokenTTL       time.Duration
	AllowAnonymous bool
}

type Relay struct {
	Driver  string // "none", "redis" or "nats"
	NodeID  string
	NATSURL string
	Subject string
}

type Calls struct {
	RingTimeout   time.Duration
	SweepInterval time.Duration
	Retention     time.Duration
	MaxDuration   time.Duration
}

type Log struct {
	Level       string
	Development bool
}

type Telegram struct {
	Token string
}

// Load reads .env (if present), then CONFIG_FILE (if set), then the process
// environment. Environment variables win.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not loaded")
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file := v.GetString("config_file"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", file, err)
		}
	}

	cfg := fromViper(v)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("server.allow_origins", []string{})

	v.SetDefault("storage.driver", "postgres")
	v.SetDefault("storage.dsn", "")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("auth.secret", "")
	v.SetDefault("auth.issuer", "matchgogo-service")
	v.SetDefault("auth.token_ttl", 72*time.Hour)
	v.SetDefault("auth.allow_anonymous", false)

	v.SetDefault("relay.driver", "none")
	v.SetDefault("relay.node_id", "")
	v.SetDefault("relay.nats_url", "nats://localhost:4222")
	v.SetDefault("relay.subject", "matchgogo.deliver")

	v.SetDefault("calls.ring_timeout", DefaultCallRingTimeout)
	v.SetDefault("calls.sweep_interval", DefaultCallSweepInterval)
	v.SetDefault("calls.retention", DefaultCallRetention)
	v.SetDefault("calls.max_duration", DefaultMaxCallDuration)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)

	v.SetDefault("telegram.token", "")
	v.SetDefault("config_file", "")
}

func fromViper(v *viper.Viper) *Config {
	return &Config{
		Server: Server{
			Addr:         v.GetString("server.addr"),
			ReadTimeout:  v.GetDuration("server.read_timeout"),
			WriteTimeout: v.GetDuration("server.write_timeout"),
			AllowOrigins: splitList(v.GetStringSlice("server.allow_origins")),
		},
		Storage: Storage{
			Driver: strings.ToLower(v.GetString("storage.driver")),
			DSN:    v.GetString("storage.dsn"),
		},
		Redis: Redis{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Auth: Auth{
			Secret:         v.GetString("auth.secret"),
			Issuer:         v.GetString("auth.issuer"),
			TokenTTL:       v.GetDuration("auth.token_ttl"),
			AllowAnonymous: v.GetBool("auth.allow_anonymous"),
		},
		Relay: Relay{
			Driver:  strings.ToLower(v.GetString("relay.driver")),
			NodeID:  v.GetString("relay.node_id"),
			NATSURL: v.GetString("relay.nats_url"),
			Subject: v.GetString("relay.subject"),
		},
		Calls: Calls{
			RingTimeout:   v.GetDuration("calls.ring_timeout"),
			SweepInterval: v.GetDuration("calls.sweep_interval"),
			Retention:     v.GetDuration("calls.retention"),
			MaxDuration:   v.GetDuration("calls.max_duration"),
		},
		Log: Log{
			Level:       v.GetString("log.level"),
			Development: v.GetBool("log.development"),
		},
		Telegram: Telegram{
			Token: v.GetString("telegram.token"),
		},
	}
}

// splitList accepts both a YAML list and a comma-separated environment
// value. Viper splits the latter on whitespace only.
func splitList(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func (c *Config) Validate() error {
	if c.Auth.Secret == "" {
		return errors.New("config: AUTH_SECRET is required")
	}
	switch c.Storage.Driver {
	case "postgres":
		if c.Storage.DSN == "" {
			return errors.New("config: STORAGE_DSN is required for the postgres driver")
		}
	case "memory":
	default:
		return fmt.Errorf("config: unknown storage driver %q", c.Storage.Driver)
	}
	switch c.Relay.Driver {
	case "none":
	case "redis":
		if c.Redis.Addr == "" {
			return errors.New("config: REDIS_ADDR is required for the redis relay")
		}
	case "nats":
		if c.Relay.NATSURL == "" {
			return errors.New("config: RELAY_NATS_URL is required for the nats relay")
		}
	default:
		return fmt.Errorf("config: unknown relay driver %q", c.Relay.Driver)
	}
	if c.Calls.RingTimeout <= 0 || c.Calls.SweepInterval <= 0 {
		return errors.New("config: call timeouts must be positive")
	}
	return nil
}
