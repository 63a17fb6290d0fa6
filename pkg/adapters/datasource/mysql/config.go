package mysql

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/new-bakery/nga/pkg/adapters/datasource"
	"github.com/new-bakery/nga/pkg/config"
)

// Config contains MySQL-specific connection options.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	TLS      string // "true", "false", "skip-verify", "preferred"
	Timeout  time.Duration
}

// DefaultPort returns the default MySQL port.
func DefaultPort() int {
	return 3306
}

// FromMap creates a Config from resolved connection parameters.
func FromMap(params map[string]any) (*Config, error) {
	cfg := &Config{
		Host:     datasource.ParamString(params, "host"),
		Port:     datasource.ParamInt(params, "port", DefaultPort()),
		User:     datasource.ParamString(params, "user"),
		Password: datasource.ParamString(params, "password"),
		Database: datasource.ParamString(params, "database"),
		TLS:      datasource.ParamString(params, "tls"),
		Timeout:  time.Duration(datasource.ParamInt(params, "timeout", 10)) * time.Second,
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
	return cfg, nil
}

// DSN renders the driver data source name.
func (c *Config) DSN() string {
	dc := mysql.NewConfig()
	dc.Net = "tcp"
	dc.Addr = net.JoinHostPort(config.ResolveHostForDocker(c.Host), strconv.Itoa(c.Port))
	dc.User = c.User
	dc.Passwd = c.Password
	dc.DBName = c.Database
	dc.Timeout = c.Timeout
	dc.ParseTime = true
	if c.TLS != "" {
		dc.TLSConfig = c.TLS
	}
	return dc.FormatDSN()
}
