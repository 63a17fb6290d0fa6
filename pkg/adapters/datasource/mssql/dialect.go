package mssql

import (
	"github.com/new-bakery/nga/pkg/adapters/datasource/sqldb"
)

type dialect struct{}

func (dialect) Name() string { return "sqlserver" }

func (dialect) QuoteIdentifier(name string) string {
	return sqldb.QuoteWith("[", "]", name)
}

func (dialect) TablesQuery() string {
	return `
	SELECT
	    SCHEMA_NAME(t.schema_id),
	    t.name,
	    CAST(ep.value AS NVARCHAR(MAX))
	FROM sys.tables t
	LEFT JOIN sys.extended_properties ep
	    ON ep.major_id = t.object_id
	    AND ep.minor_id = 0
	    AND ep.class = 1
	    AND ep.name = 'MS_Description'
	WHERE t.is_ms_shipped = 0
	ORDER BY SCHEMA_NAME(t.schema_id), t.name`
}

func (dialect) ColumnsQuery() string {
	return `
	SELECT
	    SCHEMA_NAME(t.schema_id),
	    t.name,
	    c.name,
	    tp.name,
	    CAST(ep.value AS NVARCHAR(MAX))
	FROM sys.columns c
	INNER JOIN sys.tables t ON c.object_id = t.object_id
	INNER JOIN sys.types tp ON c.user_type_id = tp.user_type_id
	LEFT JOIN sys.extended_properties ep
	    ON ep.major_id = c.object_id
	    AND ep.minor_id = c.column_id
	    AND ep.class = 1
	    AND ep.name = 'MS_Description'
	WHERE t.is_ms_shipped = 0
	ORDER BY SCHEMA_NAME(t.schema_id), t.name, c.column_id`
}

func (dialect) PrimaryKeysQuery() string {
	return `
	SELECT
	    SCHEMA_NAME(t.schema_id),
	    t.name,
	    c.name
	FROM sys.indexes i
	INNER JOIN sys.index_columns ic ON i.object_id = ic.object_id AND i.index_id = ic.index_id
	INNER JOIN sys.columns c ON ic.object_id = c.object_id AND ic.column_id = c.column_id
	INNER JOIN sys.tables t ON i.object_id = t.object_id
	WHERE i.is_primary_key = 1 AND t.is_ms_shipped = 0
	ORDER BY SCHEMA_NAME(t.schema_id), t.name, ic.key_ordinal`
}

func (dialect) ForeignKeysQuery() string {
	return `
	SELECT
	    SCHEMA_NAME(rt.schema_id),
	    rt.name,
	    COL_NAME(fkc.referenced_object_id, fkc.referenced_column_id),
	    SCHEMA_NAME(pt.schema_id),
	    pt.name,
	    COL_NAME(fkc.parent_object_id, fkc.parent_column_id)
	FROM sys.foreign_keys fk
	INNER JOIN sys.foreign_key_columns fkc ON fk.object_id = fkc.constraint_object_id
	INNER JOIN sys.tables rt ON fk.referenced_object_id = rt.object_id
	INNER JOIN sys.tables pt ON fk.parent_object_id = pt.object_id
	WHERE fk.is_ms_shipped = 0
	ORDER BY SCHEMA_NAME(pt.schema_id), pt.name, fk.name, fkc.constraint_column_id`
}

func (d dialect) SelectQuery(table string, columns, orderBy []string, limit int) string {
	return sqldb.TopSelect(d, table, columns, orderBy, limit)
}
