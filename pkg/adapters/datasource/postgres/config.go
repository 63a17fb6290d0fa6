package postgres

import (
	"fmt"
	"net/url"

	"github.com/new-bakery/nga/pkg/adapters/datasource"
	"github.com/new-bakery/nga/pkg/config"
)

// Config contains PostgreSQL-specific connection options.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string // "disable", "require", "verify-ca", "verify-full"
}

// DefaultPort returns the default PostgreSQL port.
func DefaultPort() int {
	return 5432
}

// DefaultSSLMode returns the default SSL mode.
func DefaultSSLMode() string {
	return "require"
}

// FromMap creates a Config from resolved connection parameters.
func FromMap(params map[string]any) (*Config, error) {
	cfg := &Config{
		Host:     datasource.ParamString(params, "host"),
		Port:     datasource.ParamInt(params, "port", DefaultPort()),
		User:     datasource.ParamString(params, "user"),
		Password: datasource.ParamString(params, "password"),
		Database: datasource.ParamString(params, "database"),
		SSLMode:  datasource.ParamString(params, "ssl_mode"),
	}
	if cfg.Host == "" {
		return nil, fmt.Errorf("host is required")
	}
	if cfg.User == "" {
		return nil, fmt.Errorf("user is required")
	}
	if cfg.Database == "" {
		return nil, fmt.Errorf("database is required")
	}
	if cfg.SSLMode == "" {
		cfg.SSLMode = DefaultSSLMode()
	}
	return cfg, nil
}

// ConnectionString builds a PostgreSQL URL with every user-provided field
// escaped, so passwords may contain @, /, # or ?. Inside Docker, localhost
// resolves to host.docker.internal.
func (c *Config) ConnectionString() string {
	host := config.ResolveHostForDocker(c.Host)

	return fmt.Sprintf(
		"postgresql://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(c.User),
		url.QueryEscape(c.Password),
		host,
		c.Port,
		url.QueryEscape(c.Database),
		c.SSLMode,
	)
}
