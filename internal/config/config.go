package config

import (
	"os"

	"github.com/BurntSushi/toml"
)

const (
	DefaultConfigPath   = "config.toml"
	DefaultHTTPAddr     = ":8080"
	DefaultJWTExpiresIn = "24h"
	DefaultPGHost       = "127.0.0.1"
	DefaultPGPort       = 5432
	DefaultPGUser       = "postgres"
	DefaultPGDatabase   = "crewdesk"
	DefaultPGSSLMode    = "disable"
	DefaultStoreDriver  = "postgres"
	DefaultSweepSpec    = "@every 1h"
)

type Config struct {
	Log           LogConfig           `toml:"log"`
	Server        ServerConfig        `toml:"server"`
	Admin         AdminConfig         `toml:"admin"`
	Auth          AuthConfig          `toml:"auth"`
	Store         StoreConfig         `toml:"store"`
	Postgres      PostgresConfig      `toml:"postgres"`
	Mailer        MailerConfig        `toml:"mailer"`
	Conversations ConversationsConfig `toml:"conversations"`
	Webhooks      WebhooksConfig      `toml:"webhooks"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
}

type AdminConfig struct {
	Name     string `toml:"name"`
	Email    string `toml:"email"`
	Password string `toml:"password"`
}

type AuthConfig struct {
	JWTSecret    string `toml:"jwt_secret"`
	JWTExpiresIn string `toml:"jwt_expires_in"`
}

// StoreConfig selects the record-store backend. "postgres" is the production
// driver; "memory" keeps everything in-process for local runs.
type StoreConfig struct {
	Driver string `toml:"driver"`
}

type PostgresConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Database string `toml:"database"`
	SSLMode  string `toml:"sslmode"`
}

type MailerConfig struct {
	Enabled  bool   `toml:"enabled"`
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	Username string `toml:"username"`
	Password string `toml:"password"`
	From     string `toml:"from"`
}

type ConversationsConfig struct {
	// AutoResolveSweep is the cron spec for the idle-conversation sweep.
	AutoResolveSweep string `toml:"auto_resolve_sweep"`
}

type WebhooksConfig struct {
	TimeoutSeconds int `toml:"timeout_seconds"`
}

func Load(path string) (Config, error) {
	cfg := Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr: DefaultHTTPAddr,
		},
		Admin: AdminConfig{
			Name:     "Administrator",
			Email:    "admin@example.com",
			Password: "change-your-password-here",
		},
		Auth: AuthConfig{
			JWTExpiresIn: DefaultJWTExpiresIn,
		},
		Store: StoreConfig{
			Driver: DefaultStoreDriver,
		},
		Postgres: PostgresConfig{
			Host:     DefaultPGHost,
			Port:     DefaultPGPort,
			User:     DefaultPGUser,
			Database: DefaultPGDatabase,
			SSLMode:  DefaultPGSSLMode,
		},
		Mailer: MailerConfig{
			Port: 587,
		},
		Conversations: ConversationsConfig{
			AutoResolveSweep: DefaultSweepSpec,
		},
		Webhooks: WebhooksConfig{
			TimeoutSeconds: 10,
		},
	}

	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, err
	}

	return cfg, nil
}
