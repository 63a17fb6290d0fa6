// Package sqldb implements source connections for database/sql drivers.
// Each database supplies a Dialect with its catalog queries and quoting.
package sqldb

import (
	"strconv"
	"strings"
)

// Dialect holds the database-specific parts of catalog and data access.
//
// Catalog queries take no arguments and return, in order:
//   - TablesQuery: schema, table, description
//   - ColumnsQuery: schema, table, column, type, description (ordinal order)
//   - PrimaryKeysQuery: schema, table, column (key order)
//   - ForeignKeysQuery: referenced schema, table, column, then referencing
//     schema, table, column
type Dialect interface {
	Name() string
	QuoteIdentifier(name string) string
	TablesQuery() string
	ColumnsQuery() string
	PrimaryKeysQuery() string
	ForeignKeysQuery() string

	// SelectQuery builds a read of columns from table, ordered by orderBy
	// when given, returning at most limit rows when limit > 0.
	SelectQuery(table string, columns, orderBy []string, limit int) string
}

// QuoteWith doubles closing quote characters and wraps name.
func QuoteWith(open, close, name string) string {
	return open + strings.ReplaceAll(name, close, close+close) + close
}

// Qualified quotes an optional schema and an object name.
func Qualified(d Dialect, schema, object string) string {
	if schema == "" {
		return d.QuoteIdentifier(object)
	}
	return d.QuoteIdentifier(schema) + "." + d.QuoteIdentifier(object)
}

// LimitSelect builds "SELECT cols FROM table [ORDER BY ...] [LIMIT n]".
func LimitSelect(d Dialect, table string, columns, orderBy []string, limit int) string {
	var b strings.Builder
	b.WriteString("SELECT ")
	writeColumns(&b, d, columns)
	b.WriteString(" FROM ")
	b.WriteString(table)
	if len(orderBy) > 0 {
		b.WriteString(" ORDER BY ")
		writeColumns(&b, d, orderBy)
	}
	if limit > 0 {
		b.WriteString(" LIMIT ")
		b.WriteString(strconv.Itoa(limit))
	}
	return b.String()
}

// TopSelect builds "SELECT TOP (n) cols FROM table [ORDER BY ...]".
func TopSelect(d Dialect, table string, columns, orderBy []string, limit int) string {
	var b strings.Builder
	b.WriteString("SELECT ")
	if limit > 0 {
		b.WriteString("TOP (")
		b.WriteString(strconv.Itoa(limit))
		b.WriteString(") ")
	}
	writeColumns(&b, d, columns)
	b.WriteString(" FROM ")
	b.WriteString(table)
	if len(orderBy) > 0 {
		b.WriteString(" ORDER BY ")
		writeColumns(&b, d, orderBy)
	}
	return b.String()
}

func writeColumns(b *strings.Builder, d Dialect, columns []string) {
	if len(columns) == 0 {
		b.WriteString("*")
		return
	}
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(d.QuoteIdentifier(c))
	}
}
