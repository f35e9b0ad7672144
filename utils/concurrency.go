package utils

import (
	"sync"
	"time"
)

// WorkerPool manages a pool of goroutines with rate limiting. Used to fan
// out independent harvest sessions; a single session never runs concurrent
// units of work.
type WorkerPool struct {
	maxWorkers  int
	rateLimitMs int
	semaphore   chan struct{}
	wg          sync.WaitGroup
	mu          sync.Mutex
	lastRequest time.Time
}

// NewWorkerPool creates a WorkerPool with the given concurrency and rate limit.
func NewWorkerPool(maxWorkers, rateLimitMs int) *WorkerPool {
	return &WorkerPool{
		maxWorkers:  maxWorkers,
		rateLimitMs: rateLimitMs,
		semaphore:   make(chan struct{}, maxWorkers),
		lastRequest: time.Now(),
	}
}

// Submit enqueues a job for execution in the pool.
func (wp *WorkerPool) Submit(job func()) {
	wp.wg.Add(1)
	wp.semaphore <- struct{}{}

	go func() {
		defer wp.wg.Done()
		defer func() { <-wp.semaphore }()

		wp.enforceRateLimit()
		job()
	}()
}

// Wait blocks until all submitted jobs have completed.
func (wp *WorkerPool) Wait() {
	wp.wg.Wait()
}

func (wp *WorkerPool) enforceRateLimit() {
	wp.mu.Lock()
	defer wp.mu.Unlock()

	minInterval := time.Duration(wp.rateLimitMs) * time.Millisecond
	elapsed := time.Since(wp.lastRequest)
	if elapsed < minInterval {
		time.Sleep(minInterval - elapsed)
	}
	wp.lastRequest = time.Now()
}

// HashSet is a thread-safe set of content hashes seen within one session.
type HashSet struct {
	mu   sync.RWMutex
	seen map[string]struct{}
}

// NewHashSet creates an empty HashSet.
func NewHashSet() *HashSet {
	return &HashSet{seen: make(map[string]struct{})}
}

// Add returns true if the hash was newly added, false if already present.
func (s *HashSet) Add(hash string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.seen[hash]; exists {
		return false
	}
	s.seen[hash] = struct{}{}
	return true
}

// Contains returns true if the hash has already been recorded.
func (s *HashSet) Contains(hash string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, exists := s.seen[hash]
	return exists
}

// Size returns the number of unique hashes tracked.
func (s *HashSet) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.seen)
}
