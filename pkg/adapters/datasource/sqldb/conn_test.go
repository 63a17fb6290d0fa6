package sqldb

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/new-bakery/nga/pkg/apperrors"
	"github.com/new-bakery/nga/pkg/models"
)

type testDialect struct{}

func (testDialect) Name() string                       { return "test" }
func (testDialect) QuoteIdentifier(name string) string { return QuoteWith(`"`, `"`, name) }
func (testDialect) TablesQuery() string                { return "TABLES" }
func (testDialect) ColumnsQuery() string               { return "COLUMNS" }
func (testDialect) PrimaryKeysQuery() string           { return "PKS" }
func (testDialect) ForeignKeysQuery() string           { return "FKS" }
func (d testDialect) SelectQuery(table string, columns, orderBy []string, limit int) string {
	return LimitSelect(d, table, columns, orderBy, limit)
}

func newMockConn(t *testing.T) (*Conn, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(
		sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual),
		sqlmock.MonitorPingsOption(true),
	)
	require.NoError(t, err)
	return NewConn(db, testDialect{}, zap.NewNop()), mock
}

func expectCatalog(mock sqlmock.Sqlmock) {
	mock.ExpectQuery("TABLES").WillReturnRows(sqlmock.NewRows([]string{"schema", "table", "description"}).
		AddRow("sales", "customers", "Customer master").
		AddRow("sales", "orders", nil).
		AddRow("", "settings", nil))
	mock.ExpectQuery("COLUMNS").WillReturnRows(sqlmock.NewRows([]string{"schema", "table", "column", "type", "description"}).
		AddRow("sales", "customers", "id", "int", "Surrogate key").
		AddRow("sales", "customers", "name", "varchar", nil).
		AddRow("sales", "orders", "id", "int", nil).
		AddRow("sales", "orders", "customer_id", "int", nil).
		AddRow("hidden", "other", "x", "int", nil))
	mock.ExpectQuery("PKS").WillReturnRows(sqlmock.NewRows([]string{"schema", "table", "column"}).
		AddRow("sales", "customers", "id").
		AddRow("sales", "orders", "id"))
	mock.ExpectQuery("FKS").WillReturnRows(sqlmock.NewRows([]string{"pks", "pkt", "pkc", "fks", "fkt", "fkc"}).
		AddRow("sales", "customers", "id", "sales", "orders", "customer_id").
		AddRow("sales", "customers", "id", "hidden", "other", "x"))
}

func TestConn_ListEntities(t *testing.T) {
	conn, mock := newMockConn(t)
	expectCatalog(mock)

	tables, err := conn.ListEntities(context.Background())

	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
	require.Len(t, tables, 3)

	customers := tables[0]
	assert.Equal(t, "sales.customers", customers.TableName)
	assert.Equal(t, "Customer master", customers.Description)
	assert.Equal(t, "sales", customers.SchemaName)
	assert.Equal(t, "customers", customers.ObjectName)
	assert.Equal(t, []string{"id", "name"}, customers.ColumnNames())
	assert.Equal(t, "Surrogate key", customers.Columns[0].Description)
	assert.Equal(t, []string{"id"}, customers.PrimaryKeys)

	require.Len(t, customers.ForeignKeys, 1)
	fk := customers.ForeignKeys[0]
	assert.Equal(t, "sales.customers.id <-> sales.orders.customer_id", fk.ID)
	assert.Equal(t, "sales.customers", fk.PrimaryTable)
	assert.Equal(t, "sales.orders", fk.ForeignTable)
	assert.Equal(t, models.ByDesign, fk.By)

	assert.Empty(t, tables[1].ForeignKeys)
	assert.Equal(t, "settings", tables[2].TableName)
	assert.NotNil(t, tables[2].Columns)
	assert.Empty(t, tables[2].Columns)
}

func TestConn_ListEntitiesQueryError(t *testing.T) {
	conn, mock := newMockConn(t)
	mock.ExpectQuery("TABLES").WillReturnError(errors.New("permission denied"))

	_, err := conn.ListEntities(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "permission denied")
}

func TestConn_Ping(t *testing.T) {
	conn, mock := newMockConn(t)
	mock.ExpectPing()
	mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))

	require.NoError(t, conn.Ping(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestConn_PingFailureIsConnectivity(t *testing.T) {
	conn, mock := newMockConn(t)
	mock.ExpectPing().WillReturnError(errors.New("login failed"))

	err := conn.Ping(context.Background())

	assert.ErrorIs(t, err, apperrors.ErrConnectivity)
}

func TestConn_CountRows(t *testing.T) {
	conn, mock := newMockConn(t)
	mock.ExpectQuery(`SELECT COUNT(*) FROM "sales"."orders"`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(42)))

	n, err := conn.CountRows(context.Background(), &models.Table{TableName: "sales.orders"})

	require.NoError(t, err)
	assert.Equal(t, int64(42), n)
}

func TestConn_ReadRowsOrdersByPrimaryKeyAndCaps(t *testing.T) {
	conn, mock := newMockConn(t)
	rows := sqlmock.NewRowsWithColumnDefinition(
		sqlmock.NewColumn("id").OfType("INT", int64(0)),
		sqlmock.NewColumn("name").OfType("VARCHAR", ""),
		sqlmock.NewColumn("avatar").OfType("VARBINARY", []byte{}),
	).
		AddRow(int64(1), []byte("ada"), []byte{0xde, 0xad}).
		AddRow(int64(2), []byte("bob"), nil)
	mock.ExpectQuery(`SELECT "id", "name", "avatar" FROM "customers" ORDER BY "id" LIMIT 2`).WillReturnRows(rows)

	table := &models.Table{TableName: "customers", PrimaryKeys: []string{"id"}}
	got, err := conn.ReadRows(context.Background(), table, []string{"id", "name", "avatar"}, 2)

	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "ada", got[0]["name"])
	assert.Equal(t, []byte{0xde, 0xad}, got[0]["avatar"])
	assert.Nil(t, got[1]["avatar"])
	assert.Equal(t, int64(2), got[1]["id"])
}

func TestConn_ReadRowsUnlimitedWithoutKeys(t *testing.T) {
	conn, mock := newMockConn(t)
	mock.ExpectQuery(`SELECT * FROM "logs"`).
		WillReturnRows(sqlmock.NewRows([]string{"line"}).AddRow("boot"))

	got, err := conn.ReadRows(context.Background(), &models.Table{TableName: "logs"}, nil, 0)

	require.NoError(t, err)
	assert.Equal(t, []map[string]any{{"line": "boot"}}, got)
}

func TestConn_Close(t *testing.T) {
	conn, mock := newMockConn(t)
	mock.ExpectClose()

	require.NoError(t, conn.Close())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSelectBuilders(t *testing.T) {
	d := testDialect{}

	assert.Equal(t, `SELECT "a" FROM t ORDER BY "k" LIMIT 5`, LimitSelect(d, "t", []string{"a"}, []string{"k"}, 5))
	assert.Equal(t, `SELECT TOP (5) "a" FROM t ORDER BY "k"`, TopSelect(d, "t", []string{"a"}, []string{"k"}, 5))
	assert.Equal(t, `SELECT * FROM t`, TopSelect(d, "t", nil, nil, 0))
	assert.Equal(t, `"we""ird"`, d.QuoteIdentifier(`we"ird`))
	assert.Equal(t, "[a]]b]", QuoteWith("[", "]", "a]b"))
	assert.Equal(t, `"s"."t"`, Qualified(d, "s", "t"))
	assert.Equal(t, `"t"`, Qualified(d, "", "t"))
}
