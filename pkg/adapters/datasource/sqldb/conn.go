package sqldb

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/new-bakery/nga/pkg/adapters/datasource"
	"github.com/new-bakery/nga/pkg/apperrors"
	"github.com/new-bakery/nga/pkg/models"
)

// Conn is a datasource.Conn over a database/sql handle.
type Conn struct {
	db      *sql.DB
	dialect Dialect
	logger  *zap.Logger
}

// NewConn wraps db. The connection owns db and closes it on Close.
func NewConn(db *sql.DB, dialect Dialect, logger *zap.Logger) *Conn {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Conn{
		db:      db,
		dialect: dialect,
		logger:  logger.Named(dialect.Name()),
	}
}

// Ping verifies the database is reachable and answers a trivial query.
func (c *Conn) Ping(ctx context.Context) error {
	if err := c.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: ping %s: %v", apperrors.ErrConnectivity, c.dialect.Name(), err)
	}
	var one int
	if err := c.db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("%w: test query failed: %v", apperrors.ErrConnectivity, err)
	}
	return nil
}

type tableKey struct {
	schema, name string
}

// ListEntities reads the catalog: tables, columns, primary keys and declared
// foreign keys. A table in a named schema is listed as "schema.table".
// Declared foreign keys are attached to the referenced table, which is the
// primary side of the relationship.
func (c *Conn) ListEntities(ctx context.Context) ([]models.Table, error) {
	tables, index, err := c.listTables(ctx)
	if err != nil {
		return nil, err
	}
	if err := c.listColumns(ctx, tables, index); err != nil {
		return nil, err
	}
	if err := c.listPrimaryKeys(ctx, tables, index); err != nil {
		return nil, err
	}
	if err := c.listForeignKeys(ctx, tables, index); err != nil {
		return nil, err
	}

	c.logger.Debug("catalog listed", zap.Int("tables", len(tables)))
	return tables, nil
}

func displayName(schema, name string) string {
	if schema == "" {
		return name
	}
	return schema + "." + name
}

func (c *Conn) listTables(ctx context.Context) ([]models.Table, map[tableKey]int, error) {
	rows, err := c.db.QueryContext(ctx, c.dialect.TablesQuery())
	if err != nil {
		return nil, nil, fmt.Errorf("query tables: %w", err)
	}
	defer rows.Close()

	var tables []models.Table
	index := make(map[tableKey]int)
	for rows.Next() {
		var schema, name, desc sql.NullString
		if err := rows.Scan(&schema, &name, &desc); err != nil {
			return nil, nil, fmt.Errorf("scan table: %w", err)
		}
		key := tableKey{schema.String, name.String}
		if _, dup := index[key]; dup {
			continue
		}
		index[key] = len(tables)
		tables = append(tables, models.Table{
			TableName:   displayName(schema.String, name.String),
			Description: desc.String,
			SchemaName:  schema.String,
			ObjectName:  name.String,
			Columns:     []models.Column{},
		})
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate tables: %w", err)
	}
	return tables, index, nil
}

func (c *Conn) listColumns(ctx context.Context, tables []models.Table, index map[tableKey]int) error {
	rows, err := c.db.QueryContext(ctx, c.dialect.ColumnsQuery())
	if err != nil {
		return fmt.Errorf("query columns: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var schema, table, column, typ, desc sql.NullString
		if err := rows.Scan(&schema, &table, &column, &typ, &desc); err != nil {
			return fmt.Errorf("scan column: %w", err)
		}
		i, ok := index[tableKey{schema.String, table.String}]
		if !ok {
			continue
		}
		tables[i].Columns = append(tables[i].Columns, models.Column{
			ColumnName:  column.String,
			Type:        typ.String,
			Description: desc.String,
		})
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate columns: %w", err)
	}
	return nil
}

func (c *Conn) listPrimaryKeys(ctx context.Context, tables []models.Table, index map[tableKey]int) error {
	rows, err := c.db.QueryContext(ctx, c.dialect.PrimaryKeysQuery())
	if err != nil {
		return fmt.Errorf("query primary keys: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var schema, table, column sql.NullString
		if err := rows.Scan(&schema, &table, &column); err != nil {
			return fmt.Errorf("scan primary key: %w", err)
		}
		if i, ok := index[tableKey{schema.String, table.String}]; ok {
			tables[i].PrimaryKeys = append(tables[i].PrimaryKeys, column.String)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate primary keys: %w", err)
	}
	return nil
}

func (c *Conn) listForeignKeys(ctx context.Context, tables []models.Table, index map[tableKey]int) error {
	rows, err := c.db.QueryContext(ctx, c.dialect.ForeignKeysQuery())
	if err != nil {
		return fmt.Errorf("query foreign keys: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var pkSchema, pkTable, pkColumn, fkSchema, fkTable, fkColumn sql.NullString
		if err := rows.Scan(&pkSchema, &pkTable, &pkColumn, &fkSchema, &fkTable, &fkColumn); err != nil {
			return fmt.Errorf("scan foreign key: %w", err)
		}
		i, ok := index[tableKey{pkSchema.String, pkTable.String}]
		if !ok {
			continue
		}
		if _, ok := index[tableKey{fkSchema.String, fkTable.String}]; !ok {
			continue
		}
		primary := displayName(pkSchema.String, pkTable.String)
		foreign := displayName(fkSchema.String, fkTable.String)
		tables[i].ForeignKeys = append(tables[i].ForeignKeys, models.Relationship{
			ID:            models.RelationshipID(primary, pkColumn.String, foreign, fkColumn.String),
			PrimaryTable:  primary,
			PrimaryColumn: pkColumn.String,
			ForeignTable:  foreign,
			ForeignColumn: fkColumn.String,
			By:            models.ByDesign,
		})
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate foreign keys: %w", err)
	}
	return nil
}

// CountRows returns COUNT(*) of the table.
func (c *Conn) CountRows(ctx context.Context, table *models.Table) (int64, error) {
	schema, object := table.Qualified()
	query := "SELECT COUNT(*) FROM " + Qualified(c.dialect, schema, object)

	var n int64
	if err := c.db.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, fmt.Errorf("count rows of %s: %w", table.TableName, err)
	}
	return n, nil
}

// ReadRows reads up to limit rows of columns, ordered by the table's primary
// keys when it declares any so that capped reads are repeatable.
func (c *Conn) ReadRows(ctx context.Context, table *models.Table, columns []string, limit int) ([]map[string]any, error) {
	schema, object := table.Qualified()
	query := c.dialect.SelectQuery(Qualified(c.dialect, schema, object), columns, table.PrimaryKeys, limit)

	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", table.TableName, err)
	}
	defer rows.Close()

	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, fmt.Errorf("column types of %s: %w", table.TableName, err)
	}

	var out []map[string]any
	for rows.Next() {
		values := make([]any, len(types))
		ptrs := make([]any, len(types))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan row of %s: %w", table.TableName, err)
		}

		row := make(map[string]any, len(types))
		for i, ct := range types {
			row[ct.Name()] = textValue(ct.DatabaseTypeName(), values[i])
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows of %s: %w", table.TableName, err)
	}
	return out, nil
}

// textValue turns the []byte that text-protocol drivers return for character
// and numeric columns into a string. Binary columns stay as bytes.
func textValue(dbType string, v any) any {
	b, ok := v.([]byte)
	if !ok {
		return v
	}
	if isBinaryType(dbType) {
		out := make([]byte, len(b))
		copy(out, b)
		return out
	}
	return string(b)
}

func isBinaryType(dbType string) bool {
	t := strings.ToUpper(dbType)
	return strings.Contains(t, "BINARY") || strings.Contains(t, "BLOB") ||
		t == "BYTEA" || t == "IMAGE" || t == "BIT"
}

// Close closes the underlying handle.
func (c *Conn) Close() error {
	return c.db.Close()
}

var _ datasource.Conn = (*Conn)(nil)
