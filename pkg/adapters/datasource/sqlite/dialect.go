package sqlite

import (
	"github.com/new-bakery/nga/pkg/adapters/datasource/sqldb"
)

// SQLite has no schemas and no catalog descriptions; listings come from
// sqlite_master and the pragma table-valued functions.
type dialect struct{}

func (dialect) Name() string { return "sqlite" }

func (dialect) QuoteIdentifier(name string) string {
	return sqldb.QuoteWith(`"`, `"`, name)
}

func (dialect) TablesQuery() string {
	return `
		SELECT '', m.name, NULL
		FROM sqlite_master m
		WHERE m.type = 'table' AND m.name NOT LIKE 'sqlite_%'
		ORDER BY m.name`
}

func (dialect) ColumnsQuery() string {
	return `
		SELECT '', m.name, p.name, p.type, NULL
		FROM sqlite_master m
		JOIN pragma_table_info(m.name) p
		WHERE m.type = 'table' AND m.name NOT LIKE 'sqlite_%'
		ORDER BY m.name, p.cid`
}

func (dialect) PrimaryKeysQuery() string {
	return `
		SELECT '', m.name, p.name
		FROM sqlite_master m
		JOIN pragma_table_info(m.name) p
		WHERE m.type = 'table' AND m.name NOT LIKE 'sqlite_%' AND p.pk > 0
		ORDER BY m.name, p.pk`
}

// A foreign key without a target column references the primary key of the
// target table.
func (dialect) ForeignKeysQuery() string {
	return `
		SELECT '', f."table", COALESCE(f."to", pk.name), '', m.name, f."from"
		FROM sqlite_master m
		JOIN pragma_foreign_key_list(m.name) f
		LEFT JOIN pragma_table_info(f."table") pk ON pk.pk = f.seq + 1
		WHERE m.type = 'table' AND m.name NOT LIKE 'sqlite_%'
		ORDER BY m.name, f.id, f.seq`
}

func (d dialect) SelectQuery(table string, columns, orderBy []string, limit int) string {
	return sqldb.LimitSelect(d, table, columns, orderBy, limit)
}
