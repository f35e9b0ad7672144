package storage

import (
	"context"
	"sync"
	"time"

	"property-scraper/models"
)

// MemoryStore is an in-memory Sink + ProgressStore used in tests and dry
// runs. It mirrors the Postgres semantics: idempotent upserts keyed by
// content hash, monotonic cursor advancement, terminal-state immutability.
type MemoryStore struct {
	mu         sync.Mutex
	properties map[string]models.Property
	cursors    map[string]*models.ProgressCursor
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		properties: make(map[string]models.Property),
		cursors:    make(map[string]*models.ProgressCursor),
	}
}

// UpsertBatch implements Sink.
func (m *MemoryStore) UpsertBatch(_ context.Context, properties []models.Property) (models.SaveResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result models.SaveResult
	for _, p := range properties {
		existing, ok := m.properties[p.ContentHash]
		switch {
		case !ok:
			m.properties[p.ContentHash] = p
			result.Inserted++
		case contentEqual(existing, p):
			result.Duplicates++
		default:
			p.ScrapedAt = existing.ScrapedAt
			p.LastUpdated = time.Now()
			m.properties[p.ContentHash] = p
			result.Updated++
		}
	}
	return result, nil
}

// contentEqual compares the fields the Postgres upsert guard compares.
func contentEqual(a, b models.Property) bool {
	return a.Title == b.Title &&
		a.Price == b.Price &&
		a.Area == b.Area &&
		a.Location == b.Location &&
		a.Description == b.Description &&
		a.IsActive == b.IsActive
}

// Count returns the number of stored properties.
func (m *MemoryStore) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.properties)
}

// Property returns a stored record by hash.
func (m *MemoryStore) Property(hash string) (models.Property, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.properties[hash]
	return p, ok
}

// ResolveStart implements ProgressStore.
func (m *MemoryStore) ResolveStart(_ context.Context, sourceKey string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cursor, ok := m.cursors[sourceKey]
	if !ok {
		now := time.Now()
		m.cursors[sourceKey] = &models.ProgressCursor{
			SourceKey:      sourceKey,
			Status:         models.StatusInProgress,
			StartedAt:      now,
			LastActivityAt: now,
		}
		return 1, nil
	}

	if cursor.Status == models.StatusStopped {
		cursor.Status = models.StatusInProgress
		cursor.StopReason = ""
		cursor.CompletedAt = nil
	}
	return cursor.LastCompletedStep + 1, nil
}

// Advance implements ProgressStore.
func (m *MemoryStore) Advance(_ context.Context, sourceKey string, step int, stats models.BatchStats) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cursor, ok := m.cursors[sourceKey]
	if !ok || cursor.Status != models.StatusInProgress || cursor.LastCompletedStep >= step {
		return nil
	}

	cursor.LastCompletedStep = step
	cursor.TotalScraped += stats.Total
	cursor.NewProperties += stats.Inserted
	cursor.Updated += stats.Updated
	cursor.Duplicates += stats.Duplicates
	cursor.LastActivityAt = time.Now()
	return nil
}

// MarkCompleted implements ProgressStore.
func (m *MemoryStore) MarkCompleted(_ context.Context, sourceKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cursor, ok := m.cursors[sourceKey]; ok {
		now := time.Now()
		cursor.Status = models.StatusCompleted
		cursor.CompletedAt = &now
		cursor.LastActivityAt = now
	}
	return nil
}

// MarkStopped implements ProgressStore.
func (m *MemoryStore) MarkStopped(_ context.Context, sourceKey, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cursor, ok := m.cursors[sourceKey]
	if !ok || cursor.Status == models.StatusCompleted {
		return nil
	}
	now := time.Now()
	cursor.Status = models.StatusStopped
	cursor.StopReason = reason
	cursor.CompletedAt = &now
	cursor.LastActivityAt = now
	return nil
}

// Get implements ProgressStore.
func (m *MemoryStore) Get(_ context.Context, sourceKey string) (*models.ProgressCursor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cursor, ok := m.cursors[sourceKey]
	if !ok {
		return nil, nil
	}
	copied := *cursor
	return &copied, nil
}

// compile-time interface checks
var (
	_ Sink          = (*MemoryStore)(nil)
	_ ProgressStore = (*MemoryStore)(nil)
)
