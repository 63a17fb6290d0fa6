package mysql

import (
	"github.com/new-bakery/nga/pkg/adapters/datasource/sqldb"
)

// Tables of the connected database are listed without a schema prefix.
type dialect struct{}

func (dialect) Name() string { return "mysql" }

func (dialect) QuoteIdentifier(name string) string {
	return sqldb.QuoteWith("`", "`", name)
}

func (dialect) TablesQuery() string {
	return `
		SELECT '', TABLE_NAME, NULLIF(TABLE_COMMENT, '')
		FROM information_schema.TABLES
		WHERE TABLE_SCHEMA = DATABASE() AND TABLE_TYPE = 'BASE TABLE'
		ORDER BY TABLE_NAME`
}

func (dialect) ColumnsQuery() string {
	return `
		SELECT '', TABLE_NAME, COLUMN_NAME, DATA_TYPE, NULLIF(COLUMN_COMMENT, '')
		FROM information_schema.COLUMNS
		WHERE TABLE_SCHEMA = DATABASE()
		ORDER BY TABLE_NAME, ORDINAL_POSITION`
}

func (dialect) PrimaryKeysQuery() string {
	return `
		SELECT '', TABLE_NAME, COLUMN_NAME
		FROM information_schema.KEY_COLUMN_USAGE
		WHERE TABLE_SCHEMA = DATABASE() AND CONSTRAINT_NAME = 'PRIMARY'
		ORDER BY TABLE_NAME, ORDINAL_POSITION`
}

func (dialect) ForeignKeysQuery() string {
	return `
		SELECT '', REFERENCED_TABLE_NAME, REFERENCED_COLUMN_NAME, '', TABLE_NAME, COLUMN_NAME
		FROM information_schema.KEY_COLUMN_USAGE
		WHERE TABLE_SCHEMA = DATABASE()
		  AND REFERENCED_TABLE_SCHEMA = DATABASE()
		  AND REFERENCED_TABLE_NAME IS NOT NULL
		ORDER BY TABLE_NAME, CONSTRAINT_NAME, ORDINAL_POSITION`
}

func (d dialect) SelectQuery(table string, columns, orderBy []string, limit int) string {
	return sqldb.LimitSelect(d, table, columns, orderBy, limit)
}
