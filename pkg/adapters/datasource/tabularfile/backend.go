// Package tabularfile exposes uploaded CSV and Excel files as a source.
// Every CSV file is one table; every sheet of a workbook is one table.
package tabularfile

import (
	"context"
	"fmt"
	"path"
	"strings"

	"go.uber.org/zap"

	"github.com/new-bakery/nga/pkg/adapters/datasource"
	"github.com/new-bakery/nga/pkg/apperrors"
	"github.com/new-bakery/nga/pkg/models"
	"github.com/new-bakery/nga/pkg/signature"
	"github.com/new-bakery/nga/pkg/storage"
)

// File types recorded on tables.
const (
	FileTypeCSV  = "csv"
	FileTypeXLSX = "xlsx"
)

// FileObject is one uploaded file in the file_objects parameter.
type FileObject struct {
	ObjectName       string `json:"object_name"`
	MediaType        string `json:"media_type,omitempty"`
	OriginalFilename string `json:"original_filename"`
}

// Backend reads files from object storage.
type Backend struct {
	store   storage.ObjectStore
	numPerm int
	logger  *zap.Logger
}

// NewBackend creates the tabular file backend. Columns are signed with
// numPerm permutations while listing.
func NewBackend(store storage.ObjectStore, numPerm int, logger *zap.Logger) *Backend {
	if numPerm <= 0 {
		numPerm = signature.DefaultNumPerm
	}
	return &Backend{store: store, numPerm: numPerm, logger: logger.Named("tabularfile")}
}

func (b *Backend) Info() datasource.Info {
	return datasource.Info{
		Type:        "tabularfile",
		DisplayName: "Tabular File",
		Description: "Excel or CSV files containing tabular data (without specific formats or layouts, with column headers, starting from cell A1)",
		Icon:        "tabular-file.svg",
		Dialect:     "duckdb",
	}
}

func (b *Backend) ConnectionSchema() datasource.ConnectionSchema {
	return datasource.ConnectionSchema{
		"file_objects": {
			Required:     true,
			Title:        "Tabular Files",
			Hint:         "Select tabular files",
			FileUploader: true,
			Multiple:     true,
			AllowedExts:  []string{".xlsx", ".csv"},
		},
	}
}

// Open decodes the file list. Files are downloaded on first use.
func (b *Backend) Open(ctx context.Context, params map[string]any) (datasource.Conn, error) {
	files, err := fileObjects(params)
	if err != nil {
		return nil, err
	}
	return newConn(b.store, files, b.numPerm, b.logger), nil
}

func fileObjects(params map[string]any) ([]FileObject, error) {
	var files []FileObject
	if err := datasource.DecodeParam(params, "file_objects", &files); err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrConfiguration, err)
	}
	for i, f := range files {
		if strings.TrimSpace(f.ObjectName) == "" {
			return nil, fmt.Errorf("%w: file_objects[%d] has no object_name", apperrors.ErrConfiguration, i)
		}
		if _, err := fileTypeOf(f); err != nil {
			return nil, err
		}
	}
	return files, nil
}

// ValidateEntities checks that every table names a supported file that
// exists in storage, and a sheet for workbooks.
func (b *Backend) ValidateEntities(ctx context.Context, params map[string]any, tables []models.Table) error {
	exists := make(map[string]bool)
	for _, t := range tables {
		switch t.FileType {
		case FileTypeCSV:
		case FileTypeXLSX:
			if strings.TrimSpace(t.SheetName) == "" {
				return fmt.Errorf("%w: table %s has no sheet_name", apperrors.ErrData, t.TableName)
			}
		default:
			return fmt.Errorf("%w: table %s has invalid file type %q", apperrors.ErrData, t.TableName, t.FileType)
		}
		if strings.TrimSpace(t.ObjectName) == "" {
			return fmt.Errorf("%w: table %s has no object_name", apperrors.ErrData, t.TableName)
		}

		ok, seen := exists[t.ObjectName]
		if !seen {
			var err error
			ok, err = b.store.Exists(ctx, t.ObjectName)
			if err != nil {
				return fmt.Errorf("%w: check %s: %v", apperrors.ErrConnectivity, t.ObjectName, err)
			}
			exists[t.ObjectName] = ok
		}
		if !ok {
			return fmt.Errorf("%w: %s not found", apperrors.ErrData, t.ObjectName)
		}
	}
	return nil
}

// fileTypeOf derives the type from the original filename's extension,
// falling back to the object name.
func fileTypeOf(f FileObject) (string, error) {
	name := f.OriginalFilename
	if name == "" {
		name = f.ObjectName
	}
	switch strings.ToLower(path.Ext(name)) {
	case ".csv":
		return FileTypeCSV, nil
	case ".xlsx":
		return FileTypeXLSX, nil
	}
	return "", fmt.Errorf("%w: unsupported file %q, expected .csv or .xlsx", apperrors.ErrConfiguration, name)
}

// safeFilename lowercases the base name and replaces anything outside
// [a-z0-9._-] with an underscore.
func safeFilename(f FileObject) string {
	name := f.OriginalFilename
	if name == "" {
		name = f.ObjectName
	}
	name = strings.ToLower(path.Base(strings.ReplaceAll(name, `\`, "/")))
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			return r
		}
		return '_'
	}, name)
}

var (
	_ datasource.Backend         = (*Backend)(nil)
	_ datasource.EntityValidator = (*Backend)(nil)
)
