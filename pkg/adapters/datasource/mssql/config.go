package mssql

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/new-bakery/nga/pkg/adapters/datasource"
	"github.com/new-bakery/nga/pkg/config"
)

// Config contains SQL Server-specific connection options.
type Config struct {
	Host     string
	Port     int
	Instance string // named instance, e.g. SQLEXPRESS
	Database string
	Username string
	Password string

	// Connection options
	Encrypt                string // "true", "false" or "" for the driver default
	TrustServerCertificate bool
	ConnectionTimeout      int
	ApplicationName        string
}

// DefaultPort returns the default SQL Server port.
func DefaultPort() int {
	return 1433
}

// FromMap creates a Config from resolved connection parameters.
//
// encrypt and ssl both map to TLS encryption; encrypt wins when both are
// given. autocommit and charset are accepted but have no effect: the driver
// always autocommits outside explicit transactions and talks UTF-16 on the wire.
func FromMap(params map[string]any) (*Config, error) {
	cfg := &Config{
		Host:                   datasource.ParamString(params, "host"),
		Port:                   datasource.ParamInt(params, "port", DefaultPort()),
		Instance:               datasource.ParamString(params, "instance"),
		Database:               datasource.ParamString(params, "database"),
		Username:               datasource.ParamString(params, "username"),
		Password:               datasource.ParamString(params, "password"),
		ConnectionTimeout:      datasource.ParamInt(params, "timeout", 0),
		ApplicationName:        datasource.ParamString(params, "application_name"),
		TrustServerCertificate: datasource.ParamBool(params, "trust_server_certificate", false),
	}

	switch {
	case datasource.ParamString(params, "encrypt") != "":
		cfg.Encrypt = strconv.FormatBool(datasource.ParamBool(params, "encrypt", true))
	case datasource.ParamString(params, "ssl") != "":
		cfg.Encrypt = strconv.FormatBool(datasource.ParamBool(params, "ssl", true))
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the fields every connection needs.
func (c *Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}
	if c.Database == "" {
		return fmt.Errorf("database is required")
	}
	if c.Username == "" {
		return fmt.Errorf("username is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	return nil
}

// ConnectionString builds a sqlserver:// URL for SQL authentication. A named
// instance is resolved through the SQL Browser service, so the port is left out.
func (c *Config) ConnectionString() string {
	query := url.Values{}
	query.Add("database", c.Database)

	if c.Encrypt != "" {
		query.Add("encrypt", c.Encrypt)
	}
	if c.TrustServerCertificate {
		query.Add("TrustServerCertificate", "true")
	}
	if c.ConnectionTimeout > 0 {
		query.Add("connection timeout", strconv.Itoa(c.ConnectionTimeout))
	}
	if c.ApplicationName != "" {
		query.Add("app name", c.ApplicationName)
	}

	u := &url.URL{
		Scheme:   "sqlserver",
		User:     url.UserPassword(c.Username, c.Password),
		Host:     fmt.Sprintf("%s:%d", config.ResolveHostForDocker(c.Host), c.Port),
		RawQuery: query.Encode(),
	}
	if c.Instance != "" {
		u.Host = config.ResolveHostForDocker(c.Host)
		u.Path = c.Instance
	}
	return u.String()
}
