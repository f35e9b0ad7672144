package storage

import (
	"context"
	"testing"
	"time"

	"property-scraper/models"
)

func sampleProperty(hash, title string) models.Property {
	return models.Property{
		ContentHash: hash,
		Title:       title,
		Price:       "₹45 Lakh",
		IsActive:    true,
		ScrapedAt:   time.Now(),
		LastUpdated: time.Now(),
	}
}

func TestMemoryStoreUpsertIsIdempotent(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	batch := []models.Property{
		sampleProperty("h1", "Flat A"),
		sampleProperty("h2", "Flat B"),
	}

	result, err := store.UpsertBatch(ctx, batch)
	if err != nil {
		t.Fatalf("UpsertBatch: %v", err)
	}
	if result.Inserted != 2 || result.Updated != 0 || result.Duplicates != 0 {
		t.Fatalf("first upsert = %+v; want 2 inserted", result)
	}

	// Same batch again: nothing changed, everything is a duplicate.
	result, err = store.UpsertBatch(ctx, batch)
	if err != nil {
		t.Fatalf("UpsertBatch: %v", err)
	}
	if result.Inserted != 0 || result.Updated != 0 || result.Duplicates != 2 {
		t.Fatalf("second upsert = %+v; want 2 duplicates", result)
	}
	if store.Count() != 2 {
		t.Fatalf("Count = %d; want 2", store.Count())
	}
}

func TestMemoryStoreUpsertDetectsChanges(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if _, err := store.UpsertBatch(ctx, []models.Property{sampleProperty("h1", "Flat A")}); err != nil {
		t.Fatalf("UpsertBatch: %v", err)
	}

	changed := sampleProperty("h1", "Flat A")
	changed.Price = "₹50 Lakh"
	result, err := store.UpsertBatch(ctx, []models.Property{changed})
	if err != nil {
		t.Fatalf("UpsertBatch: %v", err)
	}
	if result.Updated != 1 {
		t.Fatalf("upsert of changed record = %+v; want 1 updated", result)
	}

	got, ok := store.Property("h1")
	if !ok {
		t.Fatal("property h1 missing after update")
	}
	if got.Price != "₹50 Lakh" {
		t.Errorf("Price = %q; want updated value", got.Price)
	}
}

func TestProgressCursorLifecycle(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	key := "https://www.example.com/flats"

	start, err := store.ResolveStart(ctx, key)
	if err != nil {
		t.Fatalf("ResolveStart: %v", err)
	}
	if start != 1 {
		t.Fatalf("fresh ResolveStart = %d; want 1", start)
	}

	if err := store.Advance(ctx, key, 1, models.BatchStats{Total: 30, Inserted: 30}); err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if err := store.Advance(ctx, key, 2, models.BatchStats{Total: 30, Inserted: 25, Duplicates: 5}); err != nil {
		t.Fatalf("Advance: %v", err)
	}

	cursor, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if cursor.LastCompletedStep != 2 {
		t.Errorf("LastCompletedStep = %d; want 2", cursor.LastCompletedStep)
	}
	if cursor.TotalScraped != 60 || cursor.NewProperties != 55 || cursor.Duplicates != 5 {
		t.Errorf("cumulative stats wrong: %+v", cursor)
	}
}

func TestProgressAdvanceIsMonotonic(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	key := "https://www.example.com/flats"

	if _, err := store.ResolveStart(ctx, key); err != nil {
		t.Fatalf("ResolveStart: %v", err)
	}
	if err := store.Advance(ctx, key, 3, models.BatchStats{Total: 10}); err != nil {
		t.Fatalf("Advance: %v", err)
	}

	// A stale or duplicate advance must not move the cursor backwards.
	if err := store.Advance(ctx, key, 2, models.BatchStats{Total: 10}); err != nil {
		t.Fatalf("Advance: %v", err)
	}

	cursor, _ := store.Get(ctx, key)
	if cursor.LastCompletedStep != 3 {
		t.Errorf("LastCompletedStep = %d after stale advance; want 3", cursor.LastCompletedStep)
	}
	if cursor.TotalScraped != 10 {
		t.Errorf("TotalScraped = %d; stale advance must not accumulate", cursor.TotalScraped)
	}
}

func TestProgressResumeAfterStop(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	key := "https://www.example.com/flats"

	if _, err := store.ResolveStart(ctx, key); err != nil {
		t.Fatalf("ResolveStart: %v", err)
	}
	if err := store.Advance(ctx, key, 5, models.BatchStats{}); err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if err := store.MarkStopped(ctx, key, models.StopNoNewContent); err != nil {
		t.Fatalf("MarkStopped: %v", err)
	}

	// A stopped cursor reopens and resumes after the last completed step.
	start, err := store.ResolveStart(ctx, key)
	if err != nil {
		t.Fatalf("ResolveStart: %v", err)
	}
	if start != 6 {
		t.Fatalf("ResolveStart after stop = %d; want 6", start)
	}

	cursor, _ := store.Get(ctx, key)
	if cursor.Status != models.StatusInProgress {
		t.Errorf("Status = %q; want reopened cursor", cursor.Status)
	}
	if cursor.StopReason != "" {
		t.Errorf("StopReason = %q; want cleared", cursor.StopReason)
	}
}

func TestProgressCompletedIsTerminal(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	key := "https://www.example.com/flats"

	if _, err := store.ResolveStart(ctx, key); err != nil {
		t.Fatalf("ResolveStart: %v", err)
	}
	if err := store.Advance(ctx, key, 4, models.BatchStats{}); err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if err := store.MarkCompleted(ctx, key); err != nil {
		t.Fatalf("MarkCompleted: %v", err)
	}

	// Advancing a completed cursor is a no-op.
	if err := store.Advance(ctx, key, 5, models.BatchStats{Total: 10}); err != nil {
		t.Fatalf("Advance: %v", err)
	}
	// A later stop must not overwrite completion.
	if err := store.MarkStopped(ctx, key, models.StopCancelled); err != nil {
		t.Fatalf("MarkStopped: %v", err)
	}

	cursor, _ := store.Get(ctx, key)
	if cursor.Status != models.StatusCompleted {
		t.Errorf("Status = %q; want completed to stick", cursor.Status)
	}
	if cursor.LastCompletedStep != 4 {
		t.Errorf("LastCompletedStep = %d; want 4", cursor.LastCompletedStep)
	}
}
