package models

import (
	"fmt"
	"strings"
)

// RelationshipBy values. Any other value names the detection approach that
// inferred the relationship.
const (
	ByDesign = "design"
)

// SchemaDocument is the full schema description of a source, stored in the
// document store.
type SchemaDocument struct {
	ID                string         `json:"id,omitempty" bson:"-"`
	SourceName        string         `json:"source_name" bson:"source_name"`
	Description       string         `json:"description,omitempty" bson:"description,omitempty"`
	SourceType        string         `json:"source_type" bson:"source_type"`
	Dialect           string         `json:"dialect,omitempty" bson:"dialect,omitempty"`
	Tables            []Table        `json:"tables" bson:"tables"`
	Connection        map[string]any `json:"connection" bson:"connection"`
	AdditionalDetails map[string]any `json:"additional_details,omitempty" bson:"additional_details,omitempty"`
	Graph             *Graph         `json:"_graph,omitempty" bson:"_graph,omitempty"`
	Statistics        *Statistics    `json:"_statistics,omitempty" bson:"_statistics,omitempty"`
}

// TableByName returns the table with the given name, or nil.
func (d *SchemaDocument) TableByName(name string) *Table {
	for i := range d.Tables {
		if d.Tables[i].TableName == name {
			return &d.Tables[i]
		}
	}
	return nil
}

// Table describes one entity of a source.
type Table struct {
	TableName   string         `json:"table_name" bson:"table_name"`
	Description string         `json:"description,omitempty" bson:"description,omitempty"`
	Columns     []Column       `json:"columns" bson:"columns"`
	PrimaryKeys []string       `json:"primary_keys,omitempty" bson:"primary_keys,omitempty"`
	ForeignKeys []Relationship `json:"foreign_keys,omitempty" bson:"foreign_keys,omitempty"`
	// Shape is [row_count, column_count]. Nil until signatures are computed
	// or the backend reports it while listing.
	Shape   []int64  `json:"shape,omitempty" bson:"shape,omitempty"`
	Domains []string `json:"domains,omitempty" bson:"domains,omitempty"`
	Tags    []string `json:"tags,omitempty" bson:"tags,omitempty"`

	// Catalog location for database backends. When empty the schema and
	// object name are derived from TableName.
	SchemaName string `json:"schema_name,omitempty" bson:"schema_name,omitempty"`
	ObjectName string `json:"object_name,omitempty" bson:"object_name,omitempty"`

	// File location for tabular file backends.
	FileType         string `json:"file_type,omitempty" bson:"file_type,omitempty"`
	OriginalFilename string `json:"original_filename,omitempty" bson:"original_filename,omitempty"`
	SheetName        string `json:"sheet_name,omitempty" bson:"sheet_name,omitempty"`

	Statistics *TableStatistics `json:"_statistics,omitempty" bson:"_statistics,omitempty"`
}

// RowCount returns the recorded row count, or -1 when the shape is unknown.
func (t *Table) RowCount() int64 {
	if len(t.Shape) == 0 {
		return -1
	}
	return t.Shape[0]
}

// Qualified returns the schema and object name of a database table.
// "sales.orders" splits into ("sales", "orders"); an unqualified name
// returns an empty schema.
func (t *Table) Qualified() (string, string) {
	if t.ObjectName != "" {
		return t.SchemaName, t.ObjectName
	}
	if i := strings.Index(t.TableName, "."); i > 0 {
		return t.TableName[:i], t.TableName[i+1:]
	}
	return "", t.TableName
}

// ColumnNames returns the column names in declaration order.
func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.ColumnName
	}
	return names
}

// Column describes one attribute of a table.
type Column struct {
	ColumnName  string         `json:"column_name" bson:"column_name"`
	Type        string         `json:"type" bson:"type"`
	Description string         `json:"description,omitempty" bson:"description,omitempty"`
	Tags        []string       `json:"tags,omitempty" bson:"tags,omitempty"`
	Signature   *SignatureWire `json:"_signature,omitempty" bson:"_signature,omitempty"`
}

// Relationship links a column in one table to a column in another.
// Relationships are symmetric for graph purposes; the primary side is the
// table with more rows when inferred.
type Relationship struct {
	ID            string `json:"foreign_key_name" bson:"foreign_key_name"`
	PrimaryTable  string `json:"primary_table" bson:"primary_table"`
	PrimaryColumn string `json:"primary_column" bson:"primary_column"`
	ForeignTable  string `json:"foreign_table" bson:"foreign_table"`
	ForeignColumn string `json:"foreign_column" bson:"foreign_column"`
	By            string `json:"by,omitempty" bson:"by,omitempty"`
}

// RelationshipID renders the canonical identifier "pt.pc <-> ft.fc".
func RelationshipID(primaryTable, primaryColumn, foreignTable, foreignColumn string) string {
	return fmt.Sprintf("%s.%s <-> %s.%s", primaryTable, primaryColumn, foreignTable, foreignColumn)
}

// Provenance returns By, defaulting to ByDesign.
func (r Relationship) Provenance() string {
	if r.By == "" {
		return ByDesign
	}
	return r.By
}

// TableStatistics holds per-table statistics.
type TableStatistics struct {
	TokensCount int `json:"tokens_count" bson:"tokens_count"`
}

// Statistics holds document-level statistics.
type Statistics struct {
	TablesCount                 int     `json:"tables_count" bson:"tables_count"`
	TokensCount                 int     `json:"tokens_count" bson:"tokens_count"`
	AvgColumnsCountPerTable     float64 `json:"avg_columns_count_per_table" bson:"avg_columns_count_per_table"`
	MedianColumnsCountPerTable  float64 `json:"med_columns_count_per_table" bson:"med_columns_count_per_table"`
	AvgTokensCountPerTable      float64 `json:"avg_tokens_count_per_table" bson:"avg_tokens_count_per_table"`
	MedianTokensCountPerTable   float64 `json:"med_tokens_count_per_table" bson:"med_tokens_count_per_table"`
	ConnectedComponents         int     `json:"connected_components" bson:"connected_components"`
	IslandTables                int     `json:"island_tables" bson:"island_tables"`
	LargestComponentTablesCount int     `json:"largest_component_tables_count" bson:"largest_component_tables_count"`
}
