package workqueue

import "sync"

// ConcurrencyStrategy controls how many tasks may run at once.
// The strategy is responsible for tracking running tasks and determining
// if a new task can start based on the current state.
type ConcurrencyStrategy interface {
	// CanStart returns true if another task can start given current state
	CanStart() bool
	// OnStart is called when a task starts
	OnStart()
	// OnComplete is called when a task completes
	OnComplete()
}

// ============================================================================
// SerializedStrategy - one task at a time
// ============================================================================

// SerializedStrategy runs tasks strictly one after another.
type SerializedStrategy struct {
	mu      sync.Mutex
	running bool
}

// NewSerializedStrategy creates a strategy that allows a single running task.
func NewSerializedStrategy() *SerializedStrategy {
	return &SerializedStrategy{}
}

func (s *SerializedStrategy) CanStart() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.running
}

func (s *SerializedStrategy) OnStart() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = true
}

func (s *SerializedStrategy) OnComplete() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
}

// ============================================================================
// ThrottledStrategy - up to N tasks in parallel
// ============================================================================

// ThrottledStrategy allows up to maxConcurrent tasks to run in parallel.
type ThrottledStrategy struct {
	mu            sync.Mutex
	maxConcurrent int
	running       int
}

// NewThrottledStrategy creates a strategy that allows up to maxConcurrent
// tasks to run in parallel. Values below one are treated as one.
func NewThrottledStrategy(maxConcurrent int) *ThrottledStrategy {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &ThrottledStrategy{
		maxConcurrent: maxConcurrent,
	}
}

func (s *ThrottledStrategy) CanStart() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running < s.maxConcurrent
}

func (s *ThrottledStrategy) OnStart() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running++
}

func (s *ThrottledStrategy) OnComplete() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running > 0 {
		s.running--
	}
}

// StrategyFor picks the strategy for a configured worker count.
func StrategyFor(workers int) ConcurrencyStrategy {
	if workers <= 1 {
		return NewSerializedStrategy()
	}
	return NewThrottledStrategy(workers)
}
