package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/new-bakery/nga/pkg/logging"
	"github.com/new-bakery/nga/pkg/models"
	"github.com/new-bakery/nga/pkg/repositories"
)

// StatusService records operation outcomes in a source's JobStatus.
type StatusService interface {
	// Update sets one operation's state under the per-source status lock.
	// cause, when non-nil, is recorded as the error text. Returns an error
	// wrapping ErrLockAcquisition when the lock cannot be taken.
	Update(ctx context.Context, sourceID uuid.UUID, op models.Operation, state models.JobState, cause error) error

	// Get returns the status record of a source.
	Get(ctx context.Context, sourceID uuid.UUID) (models.JobStatus, error)
}

type statusService struct {
	sources repositories.SourceRepository
	locker  Locker
	policy  LockPolicy
	logger  *zap.Logger
}

// NewStatusService creates a status service.
func NewStatusService(sources repositories.SourceRepository, locker Locker, policy LockPolicy, logger *zap.Logger) StatusService {
	return &statusService{
		sources: sources,
		locker:  locker,
		policy:  policy,
		logger:  logger.Named("status"),
	}
}

var _ StatusService = (*statusService)(nil)

func (s *statusService) Update(ctx context.Context, sourceID uuid.UUID, op models.Operation, state models.JobState, cause error) error {
	status := models.OperationStatus{State: state}
	if cause != nil {
		status.Error = logging.StatusError(cause)
	}

	err := withLock(ctx, s.locker, s.policy, statusLockKey(sourceID), func() error {
		return s.sources.MergeStatus(ctx, sourceID, op, status)
	})
	if err != nil {
		s.logger.Error("Failed to update job status",
			zap.String("source_id", sourceID.String()),
			zap.String("operation", string(op)),
			zap.String("state", string(state)),
			zap.String("error", logging.SanitizeError(err)))
		return fmt.Errorf("update %s status of source %s: %w", op, sourceID, err)
	}

	s.logger.Debug("Job status updated",
		zap.String("source_id", sourceID.String()),
		zap.String("operation", string(op)),
		zap.String("state", string(state)))
	return nil
}

func (s *statusService) Get(ctx context.Context, sourceID uuid.UUID) (models.JobStatus, error) {
	return s.sources.GetStatus(ctx, sourceID)
}
