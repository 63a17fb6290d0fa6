package services

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/new-bakery/nga/pkg/adapters/datasource"
	"github.com/new-bakery/nga/pkg/apperrors"
	"github.com/new-bakery/nga/pkg/config"
	"github.com/new-bakery/nga/pkg/logging"
	"github.com/new-bakery/nga/pkg/models"
	"github.com/new-bakery/nga/pkg/repositories"
	"github.com/new-bakery/nga/pkg/services/workqueue"
	"github.com/new-bakery/nga/pkg/signature"
)

// DetectionSettings are the thresholds and limits used by detection jobs.
type DetectionSettings struct {
	SignatureThreshold float64
	NameTypeThreshold  float64
	// MaxRowsToSignature caps how many rows feed a table's signatures.
	MaxRowsToSignature int
	NumPerm            int
}

// DetectionSettingsFromConfig converts the detection config section.
func DetectionSettingsFromConfig(cfg config.DetectionConfig) DetectionSettings {
	return DetectionSettings{
		SignatureThreshold: cfg.SignatureThreshold,
		NameTypeThreshold:  cfg.NameTypeThreshold,
		MaxRowsToSignature: cfg.MaxRowsToSignature,
		NumPerm:            cfg.NumPerm,
	}
}

// DetectionResult is the result of a completed relationship detection job.
type DetectionResult struct {
	Detected            int `json:"detected"`
	Added               int `json:"added"`
	ConnectedComponents int `json:"connected_components"`
	IslandTables        int `json:"island_tables"`
}

// RelationshipOrchestrator runs signature computation and relationship
// detection as background jobs. Jobs that touch one source's document are
// sequenced on the source id, so they never overlap.
type RelationshipOrchestrator struct {
	queue     *workqueue.Queue
	sources   repositories.SourceRepository
	documents repositories.SchemaDocumentRepository
	status    StatusService
	matcher   *RelationshipMatcher
	connector *SourceConnector
	settings  DetectionSettings
	logger    *zap.Logger
}

// NewRelationshipOrchestrator creates an orchestrator.
func NewRelationshipOrchestrator(
	queue *workqueue.Queue,
	sources repositories.SourceRepository,
	documents repositories.SchemaDocumentRepository,
	status StatusService,
	matcher *RelationshipMatcher,
	connector *SourceConnector,
	settings DetectionSettings,
	logger *zap.Logger,
) *RelationshipOrchestrator {
	return &RelationshipOrchestrator{
		queue:     queue,
		sources:   sources,
		documents: documents,
		status:    status,
		matcher:   matcher,
		connector: connector,
		settings:  settings,
		logger:    logger.Named("relationship_orchestrator"),
	}
}

// DetectRelationships schedules detection for a source and returns without
// waiting. Approaches that need signatures chain the signature job in front
// of the detection job; the handle refers to the detection job.
func (o *RelationshipOrchestrator) DetectRelationships(ctx context.Context, backend datasource.Backend, sourceID uuid.UUID, approach models.DetectApproach) (models.JobHandle, error) {
	source, err := o.sources.GetByID(ctx, sourceID)
	if err != nil {
		return models.JobHandle{}, err
	}

	detect := o.newRelationshipTask(source, approach)

	if approach.RequiresSignatures() {
		sigs := o.newSignatureTask(backend, source)
		detect.after = sigs
		if err := o.queue.EnqueueChain(sigs, detect); err != nil {
			return models.JobHandle{}, fmt.Errorf("enqueue relationship detection: %w", err)
		}
	} else if err := o.queue.Enqueue(detect); err != nil {
		return models.JobHandle{}, fmt.Errorf("enqueue relationship detection: %w", err)
	}

	o.logger.Info("Relationship detection scheduled",
		zap.String("source_id", sourceID.String()),
		zap.String("approach", string(approach)),
		zap.String("job_id", detect.ID()))

	return models.JobHandle{
		ID:        detect.ID(),
		SourceID:  sourceID.String(),
		Operation: models.OperationDetectRelationships,
	}, nil
}

// runPhase records running, runs fn, then records done or failed. The
// error from fn, or a panic turned into one, is returned after the failed
// state is recorded.
func (o *RelationshipOrchestrator) runPhase(ctx context.Context, sourceID uuid.UUID, op models.Operation, fn func(context.Context) error) error {
	return runTracked(ctx, o.status, o.logger, sourceID, op, fn)
}

func runTracked(ctx context.Context, status StatusService, logger *zap.Logger, sourceID uuid.UUID, op models.Operation, fn func(context.Context) error) error {
	if err := status.Update(ctx, sourceID, op, models.JobStateRunning, nil); err != nil {
		return err
	}

	// The terminal state is written even when the queue is shutting down.
	final := context.WithoutCancel(ctx)

	if err := callPhase(ctx, op, fn); err != nil {
		logger.Error("Job phase failed",
			zap.String("source_id", sourceID.String()),
			zap.String("operation", string(op)),
			zap.String("error", logging.SanitizeError(err)))
		if statusErr := status.Update(final, sourceID, op, models.JobStateFailed, err); statusErr != nil {
			return errors.Join(err, statusErr)
		}
		return err
	}

	return status.Update(final, sourceID, op, models.JobStateDone, nil)
}

// callPhase runs fn, converting a panic into an error.
func callPhase(ctx context.Context, op models.Operation, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s panicked: %v", op, r)
		}
	}()
	return fn(ctx)
}

// signatureTask computes and stores a signature for every column of every
// table of one source.
type signatureTask struct {
	workqueue.BaseTask
	o       *RelationshipOrchestrator
	backend datasource.Backend
	source  *models.Source

	mu        sync.Mutex
	succeeded bool
}

func (o *RelationshipOrchestrator) newSignatureTask(backend datasource.Backend, source *models.Source) *signatureTask {
	return &signatureTask{
		BaseTask: workqueue.NewSequencedTask("Compute column signatures", source.ID.String(), true),
		o:        o,
		backend:  backend,
		source:   source,
	}
}

func (t *signatureTask) Execute(ctx context.Context, _ workqueue.TaskEnqueuer) error {
	err := t.o.runPhase(ctx, t.source.ID, models.OperationCalculateSignatures, func(ctx context.Context) error {
		return t.o.computeSignatures(ctx, t.backend, t.source)
	})
	t.mu.Lock()
	t.succeeded = err == nil
	t.mu.Unlock()
	return err
}

// Succeeded reports whether this run computed and stored the signatures.
func (t *signatureTask) Succeeded() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.succeeded
}

func (o *RelationshipOrchestrator) computeSignatures(ctx context.Context, backend datasource.Backend, source *models.Source) error {
	doc, err := o.documents.Get(ctx, source.DocID)
	if err != nil {
		return err
	}
	if len(doc.Tables) == 0 {
		return fmt.Errorf("%w: schema document of source %s has no tables", apperrors.ErrData, source.ID)
	}

	conn, err := o.connector.Open(ctx, backend, source.ID.String(), doc)
	if err != nil {
		return err
	}
	defer conn.Close()

	for i := range doc.Tables {
		if err := o.signTable(ctx, conn, &doc.Tables[i]); err != nil {
			return err
		}
	}

	// One replace per phase; a failure above leaves the stored document as it was.
	return o.documents.Replace(ctx, doc)
}

// signTable reads the table, capped at MaxRowsToSignature rows in the
// backend's fixed order, and signs each column.
func (o *RelationshipOrchestrator) signTable(ctx context.Context, conn datasource.Conn, table *models.Table) error {
	count, err := conn.CountRows(ctx, table)
	if err != nil {
		return fmt.Errorf("count rows of %s: %w", table.TableName, err)
	}

	limit := 0
	if o.settings.MaxRowsToSignature > 0 && count > int64(o.settings.MaxRowsToSignature) {
		limit = o.settings.MaxRowsToSignature
		o.logger.Debug("Capping signature read",
			zap.String("table", table.TableName),
			zap.Int64("rows", count),
			zap.Int("limit", limit))
	}

	columns := make([]string, len(table.Columns))
	for i, c := range table.Columns {
		columns[i] = c.ColumnName
	}

	rows, err := conn.ReadRows(ctx, table, columns, limit)
	if err != nil {
		return fmt.Errorf("read rows of %s: %w", table.TableName, err)
	}

	values := make([]any, len(rows))
	for ci := range table.Columns {
		name := table.Columns[ci].ColumnName
		for ri, row := range rows {
			values[ri] = row[name]
		}
		table.Columns[ci].Signature = signature.Encode(signature.Compute(values, o.settings.NumPerm))
	}
	table.Shape = []int64{count, int64(len(table.Columns))}
	return nil
}

// relationshipTask detects relationships, merges them into the tables'
// foreign keys and rebuilds the graph.
type relationshipTask struct {
	workqueue.BaseTask
	o        *RelationshipOrchestrator
	source   *models.Source
	approach models.DetectApproach
	// after is the signature task chained in front of this one, if any.
	after *signatureTask

	mu     sync.Mutex
	result *DetectionResult
}

func (o *RelationshipOrchestrator) newRelationshipTask(source *models.Source, approach models.DetectApproach) *relationshipTask {
	return &relationshipTask{
		BaseTask: workqueue.NewSequencedTask("Detect relationships", source.ID.String(), false),
		o:        o,
		source:   source,
		approach: approach,
	}
}

func (t *relationshipTask) Execute(ctx context.Context, _ workqueue.TaskEnqueuer) error {
	return t.o.runPhase(ctx, t.source.ID, models.OperationDetectRelationships, func(ctx context.Context) error {
		result, err := t.o.detect(ctx, t.source, t.approach, t.after)
		if err != nil {
			return err
		}
		t.mu.Lock()
		t.result = result
		t.mu.Unlock()
		return nil
	})
}

// Result implements workqueue.ResultTask.
func (t *relationshipTask) Result() any {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.result == nil {
		return nil
	}
	return *t.result
}

func (o *RelationshipOrchestrator) detect(ctx context.Context, source *models.Source, approach models.DetectApproach, after *signatureTask) (*DetectionResult, error) {
	// Chaining orders the phases. The chained signature run and the
	// persisted status must both report success; a done status left by an
	// earlier run does not vouch for this one.
	if approach.RequiresSignatures() {
		if after != nil && !after.Succeeded() {
			return nil, fmt.Errorf("%w: %s requires this run's %s to succeed", apperrors.ErrPrecondition, approach, models.OperationCalculateSignatures)
		}
		status, err := o.status.Get(ctx, source.ID)
		if err != nil {
			return nil, err
		}
		if !status.Is(models.OperationCalculateSignatures, models.JobStateDone) {
			return nil, fmt.Errorf("%w: %s requires %s to be done", apperrors.ErrPrecondition, approach, models.OperationCalculateSignatures)
		}
	}

	doc, err := o.documents.Get(ctx, source.DocID)
	if err != nil {
		return nil, err
	}

	found := o.matcher.Detect(doc.Tables, approach, o.settings.SignatureThreshold, o.settings.NameTypeThreshold)
	added := MergeRelationships(doc.Tables, found)

	graph := BuildTableGraph(doc.Tables)
	doc.Graph = graph.NodeLink()
	components, islands := graph.FindConnectedComponents()

	if err := o.documents.Replace(ctx, doc); err != nil {
		return nil, err
	}

	LogConnectivity(graph.EdgeCount(), components, islands, o.logger.With(zap.String("source_id", source.ID.String())))

	return &DetectionResult{
		Detected:            len(found),
		Added:               added,
		ConnectedComponents: len(components),
		IslandTables:        len(islands),
	}, nil
}
