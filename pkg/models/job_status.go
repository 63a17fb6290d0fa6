package models

// Operation names a background operation tracked in a source's JobStatus.
type Operation string

const (
	OperationCalculateSignatures Operation = "calculate_signatures"
	OperationDetectRelationships Operation = "detect_relationships"
	OperationStatistics          Operation = "statistics"
	// OperationEmbedding is reserved for embedding indexing of a source,
	// which runs outside this service.
	OperationEmbedding Operation = "embedding"
)

// JobState is the lifecycle state of one operation.
type JobState string

const (
	JobStateRunning JobState = "running"
	JobStateDone    JobState = "done"
	JobStateFailed  JobState = "failed"
)

// OperationStatus is the last recorded outcome of an operation.
type OperationStatus struct {
	State JobState `json:"state"`
	Error string   `json:"error,omitempty"`
}

// JobStatus maps operation name to its last recorded status. Writers merge
// a single operation key; other keys are preserved.
type JobStatus map[Operation]OperationStatus

// Is reports whether op is recorded in the given state.
func (s JobStatus) Is(op Operation, state JobState) bool {
	st, ok := s[op]
	return ok && st.State == state
}

// JobHandle identifies a background job returned to callers. Its ID can be
// polled for progress.
type JobHandle struct {
	ID        string    `json:"id"`
	SourceID  string    `json:"source_id"`
	Operation Operation `json:"operation"`
}
