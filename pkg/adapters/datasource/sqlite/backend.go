// Package sqlite connects SQLite database files.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"

	"go.uber.org/zap"
	_ "modernc.org/sqlite" // pure Go SQLite driver

	"github.com/new-bakery/nga/pkg/adapters/datasource"
	"github.com/new-bakery/nga/pkg/adapters/datasource/sqldb"
	"github.com/new-bakery/nga/pkg/apperrors"
)

// Backend reads SQLite database files reachable from the server.
type Backend struct {
	logger *zap.Logger
}

// NewBackend creates the SQLite backend.
func NewBackend(logger *zap.Logger) *Backend {
	return &Backend{logger: logger.Named("sqlite")}
}

func (b *Backend) Info() datasource.Info {
	return datasource.Info{
		Type:        "sqlite",
		DisplayName: "SQLite",
		Description: "SQLite database file on the server",
		Icon:        "sqlite",
		Dialect:     "sqlite",
	}
}

func (b *Backend) ConnectionSchema() datasource.ConnectionSchema {
	return datasource.ConnectionSchema{
		"path": {Required: true, Title: "Database File", Hint: "Absolute path to the .db file"},
	}
}

// Open opens the file read-only. A missing file is a configuration error
// rather than a new empty database.
func (b *Backend) Open(ctx context.Context, params map[string]any) (datasource.Conn, error) {
	path := datasource.ParamString(params, "path")
	if path == "" {
		return nil, fmt.Errorf("%w: path is required", apperrors.ErrConfiguration)
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: database file %s: %v", apperrors.ErrConfiguration, path, err)
	}

	db, err := sql.Open("sqlite", dataSourceName(path))
	if err != nil {
		return nil, fmt.Errorf("%w: open sqlite database: %v", apperrors.ErrConnectivity, err)
	}

	return sqldb.NewConn(db, dialect{}, b.logger), nil
}

func dataSourceName(path string) string {
	u := url.URL{Scheme: "file", Opaque: path}
	q := url.Values{}
	q.Set("mode", "ro")
	q.Add("_pragma", "busy_timeout(5000)")
	u.RawQuery = q.Encode()
	return u.String()
}

var _ datasource.Backend = (*Backend)(nil)
