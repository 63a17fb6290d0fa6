// Package postgres connects PostgreSQL sources.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"github.com/new-bakery/nga/pkg/adapters/datasource"
	"github.com/new-bakery/nga/pkg/adapters/datasource/sqldb"
	"github.com/new-bakery/nga/pkg/apperrors"
	"github.com/new-bakery/nga/pkg/logging"
)

// Pool sizing for source connections. Signature jobs read one table at a
// time, so a small pool is enough.
const (
	poolMaxConns        = 4
	poolMaxConnIdleTime = 5 * time.Minute
)

// Backend reaches PostgreSQL 12+, Aurora PostgreSQL and Supabase.
type Backend struct {
	logger *zap.Logger
}

// NewBackend creates the PostgreSQL backend.
func NewBackend(logger *zap.Logger) *Backend {
	return &Backend{logger: logger.Named("postgres")}
}

func (b *Backend) Info() datasource.Info {
	return datasource.Info{
		Type:        "postgres",
		DisplayName: "PostgreSQL",
		Description: "Connect to PostgreSQL 12+, Aurora PostgreSQL, Supabase",
		Icon:        "postgres",
		Dialect:     "postgres",
	}
}

func (b *Backend) ConnectionSchema() datasource.ConnectionSchema {
	return datasource.ConnectionSchema{
		"host":     {Required: true, Title: "Host"},
		"port":     {Title: "Port", Default: "5432"},
		"database": {Required: true, Title: "Database"},
		"user":     {Required: true, Title: "User"},
		"password": {Title: "Password", Secret: true},
		"ssl_mode": {
			Title:   "SSL mode",
			Default: DefaultSSLMode(),
			Allowed: []string{"disable", "allow", "prefer", "require", "verify-ca", "verify-full"},
		},
	}
}

// Open creates a pool and exposes it through database/sql.
func (b *Backend) Open(ctx context.Context, params map[string]any) (datasource.Conn, error) {
	cfg, err := FromMap(params)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrConfiguration, err)
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("%w: parse connection string: %s", apperrors.ErrConfiguration, logging.SanitizeError(err))
	}
	poolConfig.MaxConns = poolMaxConns
	poolConfig.MaxConnIdleTime = poolMaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("%w: connect to postgres: %s", apperrors.ErrConnectivity, logging.SanitizeError(err))
	}

	return &conn{
		Conn: sqldb.NewConn(stdlib.OpenDBFromPool(pool), dialect{}, b.logger),
		pool: pool,
	}, nil
}

// conn closes the pool behind the database/sql handle as well.
type conn struct {
	*sqldb.Conn
	pool *pgxpool.Pool
}

func (c *conn) Close() error {
	err := c.Conn.Close()
	c.pool.Close()
	return err
}

var _ datasource.Backend = (*Backend)(nil)
