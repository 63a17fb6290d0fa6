// Package mysql connects MySQL and MariaDB sources.
package mysql

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/new-bakery/nga/pkg/adapters/datasource"
	"github.com/new-bakery/nga/pkg/adapters/datasource/sqldb"
	"github.com/new-bakery/nga/pkg/apperrors"
	"github.com/new-bakery/nga/pkg/logging"
)

// Backend reaches MySQL 5.7+ and MariaDB.
type Backend struct {
	logger *zap.Logger
}

// NewBackend creates the MySQL backend.
func NewBackend(logger *zap.Logger) *Backend {
	return &Backend{logger: logger.Named("mysql")}
}

func (b *Backend) Info() datasource.Info {
	return datasource.Info{
		Type:        "mysql",
		DisplayName: "MySQL",
		Description: "Connect to MySQL 5.7+ and MariaDB",
		Icon:        "mysql",
		Dialect:     "mysql",
	}
}

func (b *Backend) ConnectionSchema() datasource.ConnectionSchema {
	return datasource.ConnectionSchema{
		"host":     {Required: true, Title: "Host"},
		"port":     {Title: "Port", Default: "3306"},
		"database": {Required: true, Title: "Database"},
		"user":     {Required: true, Title: "User"},
		"password": {Title: "Password", Secret: true},
		"tls":      {Title: "TLS", Allowed: []string{"true", "false", "skip-verify", "preferred"}},
		"timeout":  {Title: "Time Out", Hint: "Dial timeout in seconds", Default: "10"},
	}
}

// Open opens a database/sql handle; the driver dials lazily.
func (b *Backend) Open(ctx context.Context, params map[string]any) (datasource.Conn, error) {
	cfg, err := FromMap(params)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrConfiguration, err)
	}

	db, err := sql.Open("mysql", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("%w: open mysql connection: %s", apperrors.ErrConnectivity, logging.SanitizeError(err))
	}

	return sqldb.NewConn(db, dialect{}, b.logger), nil
}

var _ datasource.Backend = (*Backend)(nil)
