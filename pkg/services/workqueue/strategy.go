package workqueue

import "sync"

// ConcurrencyStrategy controls how tasks are allowed to start concurrently.
// The strategy is responsible for tracking running tasks and determining
// if a new task can start based on the current state.
type ConcurrencyStrategy interface {
	// CanStartSource returns true if a source-reading task can start
	CanStartSource() bool
	// CanStartInternal returns true if an internal task can start
	CanStartInternal() bool
	// OnStartSource is called when a source-reading task starts
	OnStartSource()
	// OnStartInternal is called when an internal task starts
	OnStartInternal()
	// OnCompleteSource is called when a source-reading task completes
	OnCompleteSource()
	// OnCompleteInternal is called when an internal task completes
	OnCompleteInternal()
}

// ============================================================================
// SerializedStrategy - one source task and one internal task at a time
// ============================================================================

// SerializedStrategy serializes both lanes. A source task and an internal
// task can still run in parallel.
type SerializedStrategy struct {
	mu              sync.Mutex
	sourceRunning   bool
	internalRunning bool
}

// NewSerializedStrategy creates a strategy with one slot per lane.
func NewSerializedStrategy() *SerializedStrategy {
	return &SerializedStrategy{}
}

func (s *SerializedStrategy) CanStartSource() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.sourceRunning
}

func (s *SerializedStrategy) CanStartInternal() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.internalRunning
}

func (s *SerializedStrategy) OnStartSource() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sourceRunning = true
}

func (s *SerializedStrategy) OnStartInternal() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.internalRunning = true
}

func (s *SerializedStrategy) OnCompleteSource() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sourceRunning = false
}

func (s *SerializedStrategy) OnCompleteInternal() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.internalRunning = false
}

// ============================================================================
// ThrottledStrategy - up to N tasks per lane
// ============================================================================

// ThrottledStrategy allows up to maxSource source-reading tasks and up to
// maxInternal internal tasks to run in parallel.
type ThrottledStrategy struct {
	mu              sync.Mutex
	maxSource       int
	maxInternal     int
	sourceRunning   int
	internalRunning int
}

// NewThrottledStrategy creates a strategy with the given per-lane limits.
// Limits below 1 are raised to 1.
func NewThrottledStrategy(maxSource, maxInternal int) *ThrottledStrategy {
	if maxSource < 1 {
		maxSource = 1
	}
	if maxInternal < 1 {
		maxInternal = 1
	}
	return &ThrottledStrategy{
		maxSource:   maxSource,
		maxInternal: maxInternal,
	}
}

func (s *ThrottledStrategy) CanStartSource() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sourceRunning < s.maxSource
}

func (s *ThrottledStrategy) CanStartInternal() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.internalRunning < s.maxInternal
}

func (s *ThrottledStrategy) OnStartSource() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sourceRunning++
}

func (s *ThrottledStrategy) OnStartInternal() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.internalRunning++
}

func (s *ThrottledStrategy) OnCompleteSource() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sourceRunning > 0 {
		s.sourceRunning--
	}
}

func (s *ThrottledStrategy) OnCompleteInternal() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.internalRunning > 0 {
		s.internalRunning--
	}
}
