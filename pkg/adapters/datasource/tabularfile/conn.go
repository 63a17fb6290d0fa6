package tabularfile

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/new-bakery/nga/pkg/adapters/datasource"
	"github.com/new-bakery/nga/pkg/apperrors"
	"github.com/new-bakery/nga/pkg/models"
	"github.com/new-bakery/nga/pkg/signature"
	"github.com/new-bakery/nga/pkg/storage"
)

// conn downloads and parses each object at most once.
type conn struct {
	store   storage.ObjectStore
	files   []FileObject
	numPerm int
	logger  *zap.Logger

	mu     sync.Mutex
	parsed map[string][]sheet // object name -> sheets
}

func newConn(store storage.ObjectStore, files []FileObject, numPerm int, logger *zap.Logger) *conn {
	return &conn{
		store:   store,
		files:   files,
		numPerm: numPerm,
		logger:  logger,
		parsed:  make(map[string][]sheet),
	}
}

func (c *conn) load(ctx context.Context, objectName, fileType string) ([]sheet, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if sheets, ok := c.parsed[objectName]; ok {
		return sheets, nil
	}

	data, err := c.store.Get(ctx, objectName)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", objectName, err)
	}

	var sheets []sheet
	switch fileType {
	case FileTypeCSV:
		f, err := parseCSV(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", objectName, err)
		}
		sheets = []sheet{{frame: f}}
	case FileTypeXLSX:
		sheets, err = parseXLSX(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", objectName, err)
		}
	default:
		return nil, fmt.Errorf("%w: unsupported file type %q", apperrors.ErrData, fileType)
	}

	c.parsed[objectName] = sheets
	c.logger.Debug("file parsed", zap.String("object_name", objectName), zap.Int("sheets", len(sheets)))
	return sheets, nil
}

// Ping downloads every file and rejects files without data.
func (c *conn) Ping(ctx context.Context) error {
	for _, f := range c.files {
		fileType, err := fileTypeOf(f)
		if err != nil {
			return err
		}
		sheets, err := c.load(ctx, f.ObjectName, fileType)
		if err != nil {
			return fmt.Errorf("%w: %v", apperrors.ErrConnectivity, err)
		}
		if allEmpty(sheets) {
			return fmt.Errorf("%w: empty %s file: %s", apperrors.ErrData, fileType, f.OriginalFilename)
		}
	}
	return nil
}

func allEmpty(sheets []sheet) bool {
	for _, s := range sheets {
		if !s.frame.empty() {
			return false
		}
	}
	return true
}

// ListEntities returns one table per CSV file and per workbook sheet, with
// inferred column types, shape and a signature for every column. Repeated
// table names get a "_n" suffix.
func (c *conn) ListEntities(ctx context.Context) ([]models.Table, error) {
	var tables []models.Table
	occurrences := make(map[string]int)

	for _, f := range c.files {
		fileType, err := fileTypeOf(f)
		if err != nil {
			return nil, err
		}
		sheets, err := c.load(ctx, f.ObjectName, fileType)
		if err != nil {
			return nil, err
		}

		for _, s := range sheets {
			base := s.name
			if fileType == FileTypeCSV {
				base = safeFilename(f)
			}
			name := base
			if n := occurrences[base]; n > 0 {
				name = base + "_" + strconv.Itoa(n)
			}
			occurrences[base]++

			tables = append(tables, c.describe(name, fileType, f, s))
		}
	}
	return tables, nil
}

func (c *conn) describe(name, fileType string, f FileObject, s sheet) models.Table {
	t := models.Table{
		TableName:        name,
		FileType:         fileType,
		OriginalFilename: f.OriginalFilename,
		ObjectName:       f.ObjectName,
		SheetName:        s.name,
		Columns:          []models.Column{},
		PrimaryKeys:      []string{},
		ForeignKeys:      []models.Relationship{},
		Shape:            []int64{0, 0},
	}
	if s.frame.empty() {
		return t
	}

	fr := s.frame
	t.Shape = []int64{int64(len(fr.rows)), int64(len(fr.columns))}
	for i, col := range fr.columns {
		values := make([]any, len(fr.rows))
		for r, row := range fr.rows {
			values[r] = row[i]
		}
		t.Columns = append(t.Columns, models.Column{
			ColumnName: col,
			Type:       fr.types[i],
			Signature:  signature.Encode(signature.Compute(values, c.numPerm)),
		})
	}
	return t
}

func (c *conn) frameOf(ctx context.Context, table *models.Table) (*frame, error) {
	sheets, err := c.load(ctx, table.ObjectName, table.FileType)
	if err != nil {
		return nil, err
	}
	if table.FileType == FileTypeCSV {
		return sheets[0].frame, nil
	}
	for _, s := range sheets {
		if s.name == table.SheetName {
			return s.frame, nil
		}
	}
	return nil, fmt.Errorf("%w: sheet %s in %s", apperrors.ErrNotFound, table.SheetName, table.ObjectName)
}

func (c *conn) CountRows(ctx context.Context, table *models.Table) (int64, error) {
	fr, err := c.frameOf(ctx, table)
	if err != nil {
		return 0, err
	}
	return int64(len(fr.rows)), nil
}

// ReadRows returns rows in file order.
func (c *conn) ReadRows(ctx context.Context, table *models.Table, columns []string, limit int) ([]map[string]any, error) {
	fr, err := c.frameOf(ctx, table)
	if err != nil {
		return nil, err
	}

	index := make(map[string]int, len(fr.columns))
	for i, col := range fr.columns {
		index[col] = i
	}
	if len(columns) == 0 {
		columns = fr.columns
	}
	for _, col := range columns {
		if _, ok := index[col]; !ok {
			return nil, fmt.Errorf("%w: column %s not in %s", apperrors.ErrData, col, table.TableName)
		}
	}

	n := len(fr.rows)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]map[string]any, n)
	for r := 0; r < n; r++ {
		row := make(map[string]any, len(columns))
		for _, col := range columns {
			row[col] = fr.rows[r][index[col]]
		}
		out[r] = row
	}
	return out, nil
}

func (c *conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.parsed = make(map[string][]sheet)
	return nil
}

var _ datasource.Conn = (*conn)(nil)
