// Package dbconfig resolves the room store's Postgres connection settings
// from the process environment. A full DATABASE_URL wins outright; otherwise
// the individual DB_* variables are assembled into one, with defaults aimed
// at a local development database.
package dbconfig

import (
	"net"
	"net/url"
	"os"
)

// Config holds the settings the connection URL is built from.
type Config struct {
	// URL, when non-empty, is used verbatim and the other fields are
	// ignored.
	URL string

	Host     string
	Port     string
	User     string
	Password string
	Database string
	SSLMode  string
}

// NewConfigFromEnv reads DATABASE_URL and the DB_* variables.
func NewConfigFromEnv() Config {
	return Config{
		URL:      os.Getenv("DATABASE_URL"),
		Host:     envOr("DB_HOST", "localhost"),
		Port:     envOr("DB_PORT", "5432"),
		User:     envOr("DB_USER", "postgres"),
		Password: envOr("DB_PASSWORD", "postgres"),
		Database: envOr("DB_NAME", "prepbattle"),
		SSLMode:  envOr("DB_SSLMODE", "disable"),
	}
}

// DSN returns the connection URL. Assembled URLs go through net/url, so
// credentials with reserved characters stay intact.
func (c Config) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     net.JoinHostPort(c.Host, c.Port),
		Path:     "/" + c.Database,
		RawQuery: "sslmode=" + c.SSLMode,
	}
	return u.String()
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
