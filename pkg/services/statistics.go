package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/new-bakery/nga/pkg/apperrors"
	"github.com/new-bakery/nga/pkg/models"
	"github.com/new-bakery/nga/pkg/repositories"
	"github.com/new-bakery/nga/pkg/services/workqueue"
)

// tokenWorkers bounds concurrent per-table token counts.
const tokenWorkers = 8

// StatisticsService computes size statistics of schema documents in the
// background.
type StatisticsService struct {
	queue     *workqueue.Queue
	sources   repositories.SourceRepository
	documents repositories.SchemaDocumentRepository
	status    StatusService
	tokens    TokenCounter
	logger    *zap.Logger
}

// NewStatisticsService creates a statistics service.
func NewStatisticsService(
	queue *workqueue.Queue,
	sources repositories.SourceRepository,
	documents repositories.SchemaDocumentRepository,
	status StatusService,
	tokens TokenCounter,
	logger *zap.Logger,
) *StatisticsService {
	return &StatisticsService{
		queue:     queue,
		sources:   sources,
		documents: documents,
		status:    status,
		tokens:    tokens,
		logger:    logger.Named("statistics"),
	}
}

// ComputeStatistics schedules statistics computation for a source.
func (s *StatisticsService) ComputeStatistics(ctx context.Context, sourceID uuid.UUID) (models.JobHandle, error) {
	source, err := s.sources.GetByID(ctx, sourceID)
	if err != nil {
		return models.JobHandle{}, err
	}

	task := &statisticsTask{
		BaseTask: workqueue.NewSequencedTask("Compute statistics", source.ID.String(), false),
		s:        s,
		source:   source,
	}
	if err := s.queue.Enqueue(task); err != nil {
		return models.JobHandle{}, fmt.Errorf("enqueue statistics: %w", err)
	}

	return models.JobHandle{
		ID:        task.ID(),
		SourceID:  sourceID.String(),
		Operation: models.OperationStatistics,
	}, nil
}

type statisticsTask struct {
	workqueue.BaseTask
	s      *StatisticsService
	source *models.Source

	mu     sync.Mutex
	result *models.Statistics
}

func (t *statisticsTask) Execute(ctx context.Context, _ workqueue.TaskEnqueuer) error {
	return runTracked(ctx, t.s.status, t.s.logger, t.source.ID, models.OperationStatistics, func(ctx context.Context) error {
		doc, err := t.s.documents.Get(ctx, t.source.DocID)
		if err != nil {
			return err
		}
		if err := ComputeDocumentStatistics(ctx, doc, t.s.tokens); err != nil {
			return err
		}
		if err := t.s.documents.Replace(ctx, doc); err != nil {
			return err
		}

		t.mu.Lock()
		t.result = doc.Statistics
		t.mu.Unlock()
		return nil
	})
}

// Result implements workqueue.ResultTask.
func (t *statisticsTask) Result() any {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.result == nil {
		return nil
	}
	return *t.result
}

// ComputeDocumentStatistics sets per-table token counts and the document
// statistics in place.
func ComputeDocumentStatistics(ctx context.Context, doc *models.SchemaDocument, tokens TokenCounter) error {
	n := len(doc.Tables)
	if n == 0 {
		return fmt.Errorf("%w: schema document has no tables", apperrors.ErrData)
	}

	tokenCounts := make([]int, n)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(tokenWorkers)
	for i := range doc.Tables {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			text, err := withoutControlKeys(doc.Tables[i])
			if err != nil {
				return fmt.Errorf("encode table %s: %w", doc.Tables[i].TableName, err)
			}
			tokenCounts[i] = tokens.Count(text)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	columnCounts := make([]int, n)
	totalTokens, totalColumns := 0, 0
	for i := range doc.Tables {
		doc.Tables[i].Statistics = &models.TableStatistics{TokensCount: tokenCounts[i]}
		columnCounts[i] = len(doc.Tables[i].Columns)
		totalTokens += tokenCounts[i]
		totalColumns += columnCounts[i]
	}

	graph := BuildTableGraph(doc.Tables)
	components, islands := graph.FindConnectedComponents()
	largest := 0
	if len(components) > 0 {
		largest = components[0].Size
	} else if len(islands) > 0 {
		largest = 1
	}

	doc.Statistics = &models.Statistics{
		TablesCount:                 n,
		TokensCount:                 totalTokens,
		AvgColumnsCountPerTable:     float64(totalColumns) / float64(n),
		MedianColumnsCountPerTable:  median(columnCounts),
		AvgTokensCountPerTable:      float64(totalTokens) / float64(n),
		MedianTokensCountPerTable:   median(tokenCounts),
		ConnectedComponents:         len(components),
		IslandTables:                len(islands),
		LargestComponentTablesCount: largest,
	}
	return nil
}

// median of a non-empty list; even lengths average the two middle values.
func median(values []int) float64 {
	sorted := append([]int(nil), values...)
	sort.Ints(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return float64(sorted[mid-1]+sorted[mid]) / 2
	}
	return float64(sorted[mid])
}

// withoutControlKeys renders table as JSON with every key starting with an
// underscore removed, at any depth.
func withoutControlKeys(table models.Table) (string, error) {
	raw, err := json.Marshal(table)
	if err != nil {
		return "", err
	}
	var data any
	if err := json.Unmarshal(raw, &data); err != nil {
		return "", err
	}
	out, err := json.Marshal(stripControlKeys(data))
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func stripControlKeys(v any) any {
	switch x := v.(type) {
	case map[string]any:
		for k, val := range x {
			if strings.HasPrefix(k, "_") {
				delete(x, k)
				continue
			}
			x[k] = stripControlKeys(val)
		}
		return x
	case []any:
		for i := range x {
			x[i] = stripControlKeys(x[i])
		}
		return x
	default:
		return v
	}
}
