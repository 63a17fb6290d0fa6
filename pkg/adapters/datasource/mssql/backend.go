// Package mssql connects Microsoft SQL Server sources.
package mssql

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/microsoft/go-mssqldb" // SQL Server driver
	"go.uber.org/zap"

	"github.com/new-bakery/nga/pkg/adapters/datasource"
	"github.com/new-bakery/nga/pkg/adapters/datasource/sqldb"
	"github.com/new-bakery/nga/pkg/apperrors"
	"github.com/new-bakery/nga/pkg/logging"
)

// Backend reaches SQL Server and Azure SQL with SQL authentication.
type Backend struct {
	logger *zap.Logger
}

// NewBackend creates the SQL Server backend.
func NewBackend(logger *zap.Logger) *Backend {
	return &Backend{logger: logger.Named("mssql")}
}

func (b *Backend) Info() datasource.Info {
	return datasource.Info{
		Type:        "sqlserver",
		DisplayName: "Microsoft SQL Server",
		Description: "Microsoft SQL Server Database as Source",
		Icon:        "microsoft-sql-server.svg",
		Dialect:     "mssql",
	}
}

func (b *Backend) ConnectionSchema() datasource.ConnectionSchema {
	yesNo := []string{"yes", "no"}
	return datasource.ConnectionSchema{
		"host":             {Required: true, Title: "Host", Hint: "Your SQL Server host or IP address"},
		"port":             {Title: "Port", Hint: "SQL Server default port", Default: "1433"},
		"database":         {Required: true, Title: "Database", Hint: "Target database name"},
		"username":         {Required: true, Title: "User Name", Hint: "Database username"},
		"password":         {Required: true, Title: "Password", Hint: "Database password", Secret: true},
		"encrypt":          {Title: "Encrypt", Hint: "Enable encrypted connection (yes or no)", Allowed: yesNo},
		"timeout":          {Title: "Time Out", Hint: "Connection timeout in seconds"},
		"application_name": {Title: "Application Name", Hint: "Application name for tracking"},
		"instance":         {Title: "Instance", Hint: "SQL Server named instance (e.g. SQLEXPRESS)"},
		"autocommit":       {Title: "Auto Commit", Hint: "Enable auto-commit transactions (true or false)", Allowed: []string{"true", "false"}},
		"ssl":              {Title: "SSL", Hint: "Enable SSL connection (yes or no)", Allowed: yesNo},
		"charset":          {Title: "Charset", Hint: "e.g. UTF-8"},
		"trust_server_certificate": {
			Title:   "Trust Server Certificate",
			Hint:    "Accept self-signed server certificates (yes or no)",
			Allowed: yesNo,
		},
	}
}

// Open opens a database/sql handle. The driver connects lazily; Ping
// reports unreachable servers and bad credentials.
func (b *Backend) Open(ctx context.Context, params map[string]any) (datasource.Conn, error) {
	cfg, err := FromMap(params)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrConfiguration, err)
	}

	db, err := sql.Open("sqlserver", cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("%w: open sqlserver connection: %s", apperrors.ErrConnectivity, logging.SanitizeError(err))
	}

	return sqldb.NewConn(db, dialect{}, b.logger), nil
}

var _ datasource.Backend = (*Backend)(nil)
