package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/new-bakery/nga/pkg/adapters/datasource"
	"github.com/new-bakery/nga/pkg/apperrors"
	"github.com/new-bakery/nga/pkg/models"
)

// fakeSources is an in-memory record store. MergeStatus is a read, a pause
// and a write, so unsynchronized callers lose updates.
type fakeSources struct {
	mu         sync.Mutex
	sources    map[uuid.UUID]*models.Source
	mergeDelay time.Duration
	merges     int
}

func newFakeSources() *fakeSources {
	return &fakeSources{sources: make(map[uuid.UUID]*models.Source)}
}

func (f *fakeSources) Create(_ context.Context, s *models.Source) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	if s.Status == nil {
		s.Status = models.JobStatus{}
	}
	cp := *s
	f.sources[s.ID] = &cp
	return nil
}

func (f *fakeSources) GetByID(_ context.Context, id uuid.UUID) (*models.Source, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sources[id]
	if !ok {
		return nil, fmt.Errorf("source %s: %w", id, apperrors.ErrNotFound)
	}
	cp := *s
	cp.Status = copyStatus(s.Status)
	return &cp, nil
}

func (f *fakeSources) Update(_ context.Context, s *models.Source) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	existing, ok := f.sources[s.ID]
	if !ok {
		return fmt.Errorf("source %s: %w", s.ID, apperrors.ErrNotFound)
	}
	existing.OwnerID = s.OwnerID
	existing.IsPrivate = s.IsPrivate
	existing.DocID = s.DocID
	return nil
}

func (f *fakeSources) MergeStatus(_ context.Context, id uuid.UUID, op models.Operation, st models.OperationStatus) error {
	f.mu.Lock()
	s, ok := f.sources[id]
	if !ok {
		f.mu.Unlock()
		return fmt.Errorf("source %s: %w", id, apperrors.ErrNotFound)
	}
	merged := copyStatus(s.Status)
	f.mu.Unlock()

	time.Sleep(f.mergeDelay)
	merged[op] = st

	f.mu.Lock()
	s.Status = merged
	f.merges++
	f.mu.Unlock()
	return nil
}

func (f *fakeSources) GetStatus(ctx context.Context, id uuid.UUID) (models.JobStatus, error) {
	s, err := f.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.Status, nil
}

func (f *fakeSources) mergeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.merges
}

func copyStatus(s models.JobStatus) models.JobStatus {
	out := make(models.JobStatus, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// fakeDocuments is an in-memory document store keyed by generated ids.
type fakeDocuments struct {
	mu       sync.Mutex
	docs     map[string]*models.SchemaDocument
	next     int
	replaces int
}

func newFakeDocuments() *fakeDocuments {
	return &fakeDocuments{docs: make(map[string]*models.SchemaDocument)}
}

func (f *fakeDocuments) Create(_ context.Context, doc *models.SchemaDocument) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	doc.ID = fmt.Sprintf("doc-%d", f.next)
	f.docs[doc.ID] = cloneDocument(doc)
	return doc.ID, nil
}

func (f *fakeDocuments) Get(_ context.Context, id string) (*models.SchemaDocument, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[id]
	if !ok {
		return nil, fmt.Errorf("schema document %s: %w", id, apperrors.ErrNotFound)
	}
	return cloneDocument(doc), nil
}

func (f *fakeDocuments) Replace(_ context.Context, doc *models.SchemaDocument) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.docs[doc.ID]; !ok {
		return fmt.Errorf("schema document %s: %w", doc.ID, apperrors.ErrNotFound)
	}
	f.docs[doc.ID] = cloneDocument(doc)
	f.replaces++
	return nil
}

func (f *fakeDocuments) replaceCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.replaces
}

// cloneDocument copies the slices a job mutates so stored documents only
// change through Replace.
func cloneDocument(doc *models.SchemaDocument) *models.SchemaDocument {
	cp := *doc
	cp.Tables = make([]models.Table, len(doc.Tables))
	for i, t := range doc.Tables {
		t.Columns = append([]models.Column(nil), t.Columns...)
		t.ForeignKeys = append([]models.Relationship(nil), t.ForeignKeys...)
		t.Shape = append([]int64(nil), t.Shape...)
		cp.Tables[i] = t
	}
	return &cp
}

// heldLocker never grants a lease.
type heldLocker struct {
	attempts int
	mu       sync.Mutex
}

func (l *heldLocker) TryLock(context.Context, string, time.Duration) (func(context.Context) error, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.attempts++
	return nil, false, nil
}

// refusingLocker wraps a Locker and refuses the next refuse leases.
type refusingLocker struct {
	Locker
	mu     sync.Mutex
	refuse int
}

func (l *refusingLocker) refuseNext(n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refuse = n
}

func (l *refusingLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, bool, error) {
	l.mu.Lock()
	if l.refuse > 0 {
		l.refuse--
		l.mu.Unlock()
		return nil, false, nil
	}
	l.mu.Unlock()
	return l.Locker.TryLock(ctx, key, ttl)
}

// memTable is one table of a memBackend.
type memTable struct {
	table models.Table
	rows  []map[string]any
}

// memBackend serves tables from memory. ReadRows returns rows in stored
// order, so capped reads see the same prefix each time.
type memBackend struct {
	name           string
	withSignatures bool

	mu         sync.Mutex
	tables     []memTable
	reads      []int
	openErr    error
	lastParams map[string]any
	// panicOn makes ReadRows of that table panic.
	panicOn string
}

func newMemBackend(name string, tables ...memTable) *memBackend {
	return &memBackend{name: name, tables: tables}
}

func (b *memBackend) Info() datasource.Info {
	return datasource.Info{Type: b.name, DisplayName: strings.ToUpper(b.name), Dialect: "memory"}
}

func (b *memBackend) ConnectionSchema() datasource.ConnectionSchema {
	return datasource.ConnectionSchema{
		"dsn":      {Required: true, Title: "DSN"},
		"mode":     {Default: "ro", Allowed: []string{"ro", "rw"}},
		"password": {Secret: true},
	}
}

func (b *memBackend) Open(_ context.Context, params map[string]any) (datasource.Conn, error) {
	b.mu.Lock()
	b.lastParams = params
	b.mu.Unlock()
	if b.openErr != nil {
		return nil, b.openErr
	}
	return &memConn{backend: b}, nil
}

func (b *memBackend) openedWith() map[string]any {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastParams
}

func (b *memBackend) readLimits() []int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]int(nil), b.reads...)
}

type memConn struct {
	backend *memBackend
}

func (c *memConn) Ping(context.Context) error { return nil }

func (c *memConn) ListEntities(context.Context) ([]models.Table, error) {
	out := make([]models.Table, 0, len(c.backend.tables))
	for _, mt := range c.backend.tables {
		t := mt.table
		t.Columns = append([]models.Column(nil), t.Columns...)
		out = append(out, t)
	}
	return out, nil
}

func (c *memConn) find(name string) (*memTable, error) {
	for i := range c.backend.tables {
		if c.backend.tables[i].table.TableName == name {
			return &c.backend.tables[i], nil
		}
	}
	return nil, fmt.Errorf("table %s: %w", name, apperrors.ErrNotFound)
}

func (c *memConn) CountRows(_ context.Context, table *models.Table) (int64, error) {
	mt, err := c.find(table.TableName)
	if err != nil {
		return 0, err
	}
	return int64(len(mt.rows)), nil
}

func (c *memConn) ReadRows(_ context.Context, table *models.Table, columns []string, limit int) ([]map[string]any, error) {
	mt, err := c.find(table.TableName)
	if err != nil {
		return nil, err
	}
	c.backend.mu.Lock()
	c.backend.reads = append(c.backend.reads, limit)
	panicOn := c.backend.panicOn
	c.backend.mu.Unlock()
	if panicOn == table.TableName {
		panic("driver returned a nil row set")
	}

	rows := mt.rows
	if limit > 0 && limit < len(rows) {
		rows = rows[:limit]
	}
	out := make([]map[string]any, 0, len(rows))
	for _, r := range rows {
		row := make(map[string]any, len(columns))
		for _, col := range columns {
			row[col] = r[col]
		}
		out = append(out, row)
	}
	return out, nil
}

func (c *memConn) Close() error { return nil }

// intRows builds rows with one integer column.
func intRows(column string, values ...int) []map[string]any {
	rows := make([]map[string]any, len(values))
	for i, v := range values {
		rows[i] = map[string]any{column: v}
	}
	return rows
}

func sortedOps(s models.JobStatus) []string {
	out := make([]string, 0, len(s))
	for op := range s {
		out = append(out, string(op))
	}
	sort.Strings(out)
	return out
}
