package postgres

import (
	"github.com/jackc/pgx/v5"

	"github.com/new-bakery/nga/pkg/adapters/datasource/sqldb"
)

const excludedSchemas = `('pg_catalog', 'information_schema', 'pg_toast')`

type dialect struct{}

func (dialect) Name() string { return "postgres" }

func (dialect) QuoteIdentifier(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

func (dialect) TablesQuery() string {
	return `
		SELECT n.nspname, c.relname, obj_description(c.oid, 'pg_class')
		FROM pg_class c
		JOIN pg_namespace n ON n.oid = c.relnamespace
		WHERE c.relkind IN ('r', 'p')
		  AND NOT c.relispartition
		  AND n.nspname NOT IN ` + excludedSchemas + `
		  AND n.nspname NOT LIKE 'pg_temp%'
		ORDER BY n.nspname, c.relname`
}

func (dialect) ColumnsQuery() string {
	return `
		SELECT c.table_schema, c.table_name, c.column_name, c.data_type,
			col_description((quote_ident(c.table_schema) || '.' || quote_ident(c.table_name))::regclass, c.ordinal_position::int)
		FROM information_schema.columns c
		JOIN information_schema.tables t
			ON t.table_schema = c.table_schema AND t.table_name = c.table_name
		WHERE t.table_type = 'BASE TABLE'
		  AND c.table_schema NOT IN ` + excludedSchemas + `
		ORDER BY c.table_schema, c.table_name, c.ordinal_position`
}

func (dialect) PrimaryKeysQuery() string {
	return `
		SELECT kcu.table_schema, kcu.table_name, kcu.column_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
			ON tc.constraint_name = kcu.constraint_name
			AND tc.table_schema = kcu.table_schema
		WHERE tc.constraint_type = 'PRIMARY KEY'
		  AND tc.table_schema NOT IN ` + excludedSchemas + `
		ORDER BY kcu.table_schema, kcu.table_name, kcu.ordinal_position`
}

func (dialect) ForeignKeysQuery() string {
	return `
		SELECT
			ccu.table_schema, ccu.table_name, ccu.column_name,
			kcu.table_schema, kcu.table_name, kcu.column_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
			ON tc.constraint_name = kcu.constraint_name
			AND tc.table_schema = kcu.table_schema
		JOIN information_schema.constraint_column_usage ccu
			ON tc.constraint_name = ccu.constraint_name
			AND tc.table_schema = ccu.table_schema
		WHERE tc.constraint_type = 'FOREIGN KEY'
		  AND tc.table_schema NOT IN ` + excludedSchemas + `
		ORDER BY kcu.table_schema, kcu.table_name, kcu.ordinal_position`
}

func (d dialect) SelectQuery(table string, columns, orderBy []string, limit int) string {
	return sqldb.LimitSelect(d, table, columns, orderBy, limit)
}
