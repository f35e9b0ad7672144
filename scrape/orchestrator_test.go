package scrape

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"property-scraper/models"
	"property-scraper/services"
	"property-scraper/storage"
)

// scriptedStrategy replays a fixed sequence of units, then reports
// exhaustion.
type scriptedStrategy struct {
	units      [][]models.RawRecord
	errAt      int // 1-based call number that fails, 0 = never
	err        error
	stopReason string

	calls     int
	stepsSeen []int
}

func (s *scriptedStrategy) FetchNextUnit(_ context.Context, sess *Session) ([]models.RawRecord, bool, error) {
	s.calls++
	s.stepsSeen = append(s.stepsSeen, sess.Step())

	if s.errAt > 0 && s.calls == s.errAt {
		return nil, false, s.err
	}
	if s.calls > len(s.units) {
		return nil, false, nil
	}
	return s.units[s.calls-1], true, nil
}

func (s *scriptedStrategy) StopReason() string { return s.stopReason }

type failingSink struct{}

func (failingSink) UpsertBatch(context.Context, []models.Property) (models.SaveResult, error) {
	return models.SaveResult{}, errors.New("connection refused")
}

func card(title, url string) models.RawRecord {
	return models.RawRecord{Fields: map[string]string{
		"title":       title,
		"propertyUrl": url,
		"price":       "₹1.2 Crore",
	}}
}

func newTestOrchestrator(strategy Strategy, sink storage.Sink, store storage.ProgressStore, maxPages int) *Orchestrator {
	logger := newTestLogger()
	return NewOrchestrator(
		strategy,
		services.NewNormalizer(),
		nil, // accept everything
		sink,
		store,
		LoggerSink{Logger: logger},
		logger,
		maxPages,
		0,
	)
}

const testSource = "https://www.example.com/flats-for-sale-in-mumbai"

func TestOrchestratorRunsToCompletion(t *testing.T) {
	store := storage.NewMemoryStore()
	strategy := &scriptedStrategy{units: [][]models.RawRecord{
		{card("Flat A", "https://x/a"), card("Flat B", "https://x/b")},
		{card("Flat C", "https://x/c")},
	}}

	o := newTestOrchestrator(strategy, store, store, 10)
	stats, err := o.Run(context.Background(), testSource)
	require.NoError(t, err)

	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 3, stats.Inserted)
	assert.Equal(t, 3, store.Count())

	cursor, err := store.Get(context.Background(), NormalizeSourceKey(testSource))
	require.NoError(t, err)
	require.NotNil(t, cursor)
	assert.Equal(t, models.StatusCompleted, cursor.Status)
	assert.Equal(t, 2, cursor.LastCompletedStep)
}

func TestOrchestratorStopsWhenFirstUnitEmpty(t *testing.T) {
	store := storage.NewMemoryStore()
	strategy := &scriptedStrategy{units: [][]models.RawRecord{{}}}

	o := newTestOrchestrator(strategy, store, store, 10)
	_, err := o.Run(context.Background(), testSource)
	require.NoError(t, err)

	cursor, err := store.Get(context.Background(), NormalizeSourceKey(testSource))
	require.NoError(t, err)
	require.NotNil(t, cursor)
	assert.Equal(t, models.StatusStopped, cursor.Status)
	assert.Equal(t, models.StopNoContentFound, cursor.StopReason)
	assert.Equal(t, 0, cursor.LastCompletedStep)
}

func TestOrchestratorResumesFromLastCompletedStep(t *testing.T) {
	store := storage.NewMemoryStore()

	first := &scriptedStrategy{units: [][]models.RawRecord{
		{card("Flat A", "https://x/a")},
	}}
	o := newTestOrchestrator(first, store, store, 1)
	_, err := o.Run(context.Background(), testSource)
	require.NoError(t, err)
	assert.Equal(t, []int{1}, first.stepsSeen)

	// The first session hit its budget and stopped; a second session
	// reopens the cursor and continues where it left off.
	second := &scriptedStrategy{units: [][]models.RawRecord{
		{card("Flat B", "https://x/b")},
	}}
	o = newTestOrchestrator(second, store, store, 1)
	_, err = o.Run(context.Background(), testSource)
	require.NoError(t, err)
	assert.Equal(t, []int{2}, second.stepsSeen)

	cursor, err := store.Get(context.Background(), NormalizeSourceKey(testSource))
	require.NoError(t, err)
	assert.Equal(t, 2, cursor.LastCompletedStep)
	assert.Equal(t, 2, cursor.NewProperties)
}

func TestOrchestratorFiltersRepeatedCardsWithinSession(t *testing.T) {
	store := storage.NewMemoryStore()

	// Incremental DOM extraction re-reads everything in the page, so unit 2
	// contains unit 1's card again.
	strategy := &scriptedStrategy{units: [][]models.RawRecord{
		{card("Flat A", "https://x/a")},
		{card("Flat A", "https://x/a"), card("Flat B", "https://x/b")},
	}}

	o := newTestOrchestrator(strategy, store, store, 10)
	stats, err := o.Run(context.Background(), testSource)
	require.NoError(t, err)

	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 2, stats.Inserted)
	assert.Equal(t, 1, stats.Duplicates)
	assert.Equal(t, 2, store.Count())
}

func TestOrchestratorPersistenceErrorLeavesCursorOpen(t *testing.T) {
	store := storage.NewMemoryStore()
	strategy := &scriptedStrategy{units: [][]models.RawRecord{
		{card("Flat A", "https://x/a")},
	}}

	o := newTestOrchestrator(strategy, failingSink{}, store, 10)
	_, err := o.Run(context.Background(), testSource)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPersistence)

	// No terminal transition: the next run must retry the same unit.
	cursor, err := store.Get(context.Background(), NormalizeSourceKey(testSource))
	require.NoError(t, err)
	assert.Equal(t, models.StatusInProgress, cursor.Status)
	assert.Equal(t, 0, cursor.LastCompletedStep)
}

func TestOrchestratorMapsStrategyErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantReason string
	}{
		{"capture", ErrCaptureFailed, models.StopCaptureFailed},
		{"navigation", ErrNavigation, models.StopNavigationFailed},
		{"other", errors.New("selector mismatch"), "extraction_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := storage.NewMemoryStore()
			strategy := &scriptedStrategy{errAt: 1, err: tt.err}

			o := newTestOrchestrator(strategy, store, store, 10)
			_, err := o.Run(context.Background(), testSource)
			require.Error(t, err)

			cursor, getErr := store.Get(context.Background(), NormalizeSourceKey(testSource))
			require.NoError(t, getErr)
			assert.Equal(t, models.StatusStopped, cursor.Status)
			assert.Equal(t, tt.wantReason, cursor.StopReason)
		})
	}
}

func TestOrchestratorHonorsPageBudget(t *testing.T) {
	store := storage.NewMemoryStore()
	strategy := &scriptedStrategy{units: [][]models.RawRecord{
		{card("Flat A", "https://x/a")},
		{card("Flat B", "https://x/b")},
		{card("Flat C", "https://x/c")},
	}}

	o := newTestOrchestrator(strategy, store, store, 2)
	stats, err := o.Run(context.Background(), testSource)
	require.NoError(t, err)

	assert.Equal(t, 2, stats.Inserted)
	assert.Equal(t, 2, strategy.calls)

	cursor, err := store.Get(context.Background(), NormalizeSourceKey(testSource))
	require.NoError(t, err)
	assert.Equal(t, models.StatusStopped, cursor.Status)
	assert.Equal(t, models.StopMaxPages, cursor.StopReason)
}

func TestOrchestratorStrategyStopReasonWins(t *testing.T) {
	store := storage.NewMemoryStore()
	strategy := &scriptedStrategy{
		units:      [][]models.RawRecord{{card("Flat A", "https://x/a")}},
		stopReason: models.StopPaginationEnded,
	}

	o := newTestOrchestrator(strategy, store, store, 10)
	_, err := o.Run(context.Background(), testSource)
	require.NoError(t, err)

	cursor, err := store.Get(context.Background(), NormalizeSourceKey(testSource))
	require.NoError(t, err)
	assert.Equal(t, models.StatusStopped, cursor.Status)
	assert.Equal(t, models.StopPaginationEnded, cursor.StopReason)
}

func TestNormalizeSourceKey(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"https://WWW.Example.com/Flats/", "https://www.example.com/Flats"},
		{"https://www.example.com/flats?page=4#top", "https://www.example.com/flats"},
		{"https://www.example.com/flats", "https://www.example.com/flats"},
		{"  https://www.example.com/flats/  ", "https://www.example.com/flats"},
	}
	for _, tt := range tests {
		if got := NormalizeSourceKey(tt.in); got != tt.want {
			t.Errorf("NormalizeSourceKey(%q) = %q; want %q", tt.in, got, tt.want)
		}
	}
}
