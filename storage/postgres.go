package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"property-scraper/models"
	"property-scraper/utils"
)

// PostgresStore is the persistence layer: the property sink, the progress
// store and the invalid-record audit trail share one explicitly
// constructed connection pool.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens a connection to PostgreSQL, runs schema
// migrations, and returns a ready-to-use store. The database may still be
// coming up when the process starts, so the first ping is retried.
func NewPostgresStore(dsn string, logger *utils.Logger) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}

	retry := utils.RetryConfig{MaxAttempts: 10, BaseDelay: time.Second, Logger: logger}
	if err := retry.Do("postgres ping", db.Ping); err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}

	s := &PostgresStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("postgres: migrate: %w", err)
	}

	return s, nil
}

func (s *PostgresStore) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS properties (
			content_hash      VARCHAR(32)  PRIMARY KEY,
			title             TEXT         NOT NULL DEFAULT '',
			property_url      TEXT         NOT NULL DEFAULT '',
			listing_id        TEXT         NOT NULL DEFAULT '',
			image_url         TEXT         NOT NULL DEFAULT '',
			price             TEXT         NOT NULL DEFAULT '',
			location          TEXT         NOT NULL DEFAULT '',
			city              TEXT         NOT NULL DEFAULT '',
			country           TEXT         NOT NULL DEFAULT '',
			property_type     TEXT         NOT NULL DEFAULT '',
			transaction       TEXT         NOT NULL DEFAULT '',
			description       TEXT         NOT NULL DEFAULT '',
			bedrooms          TEXT         NOT NULL DEFAULT '',
			bathrooms         TEXT         NOT NULL DEFAULT '',
			parking           TEXT         NOT NULL DEFAULT '',
			area              TEXT         NOT NULL DEFAULT '',
			floor             TEXT         NOT NULL DEFAULT '',
			status            TEXT         NOT NULL DEFAULT '',
			furnishing        TEXT         NOT NULL DEFAULT '',
			facing            TEXT         NOT NULL DEFAULT '',
			overlooking       TEXT         NOT NULL DEFAULT '',
			ownership         TEXT         NOT NULL DEFAULT '',
			society           TEXT         NOT NULL DEFAULT '',
			balcony           TEXT         NOT NULL DEFAULT '',
			latitude          DOUBLE PRECISION NOT NULL DEFAULT 0,
			longitude         DOUBLE PRECISION NOT NULL DEFAULT 0,
			schema_type       TEXT         NOT NULL DEFAULT '',
			price_numeric     NUMERIC(16,2),
			area_numeric      NUMERIC(12,3),
			bedrooms_numeric  INT,
			bathrooms_numeric INT,
			floor_number      INT,
			total_floors      INT,
			balconies_numeric INT,
			source            TEXT         NOT NULL DEFAULT '',
			session_id        TEXT         NOT NULL DEFAULT '',
			is_active         BOOLEAN      NOT NULL DEFAULT TRUE,
			first_scraped_at  TIMESTAMPTZ  NOT NULL DEFAULT NOW(),
			last_updated      TIMESTAMPTZ  NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_properties_price    ON properties(price_numeric);
		CREATE INDEX IF NOT EXISTS idx_properties_location ON properties(location);
		CREATE INDEX IF NOT EXISTS idx_properties_url      ON properties(property_url);
		CREATE INDEX IF NOT EXISTS idx_properties_source   ON properties(source);

		CREATE TABLE IF NOT EXISTS scrape_progress (
			source_key          TEXT        PRIMARY KEY,
			last_completed_step INT         NOT NULL DEFAULT 0,
			total_scraped       INT         NOT NULL DEFAULT 0,
			new_properties      INT         NOT NULL DEFAULT 0,
			updated_properties  INT         NOT NULL DEFAULT 0,
			duplicates          INT         NOT NULL DEFAULT 0,
			status              VARCHAR(20) NOT NULL DEFAULT 'in_progress',
			stop_reason         TEXT        NOT NULL DEFAULT '',
			started_at          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			last_activity_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			completed_at        TIMESTAMPTZ
		);

		CREATE TABLE IF NOT EXISTS scrape_errors (
			id         SERIAL      PRIMARY KEY,
			source     TEXT        NOT NULL DEFAULT '',
			payload    JSONB       NOT NULL DEFAULT '{}',
			reasons    TEXT        NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
	`)
	return err
}

// upsertColumns are the non-key property columns written on every upsert.
var upsertColumns = []string{
	"title", "property_url", "listing_id", "image_url",
	"price", "location", "city", "country",
	"property_type", "transaction", "description",
	"bedrooms", "bathrooms", "parking", "area", "floor", "status",
	"furnishing", "facing", "overlooking", "ownership", "society", "balcony",
	"latitude", "longitude", "schema_type",
	"price_numeric", "area_numeric", "bedrooms_numeric", "bathrooms_numeric",
	"floor_number", "total_floors", "balconies_numeric",
	"source", "session_id", "is_active",
}

// UpsertBatch implements Sink. Conflicting rows whose content is unchanged
// are skipped by the update guard and counted as duplicates, keeping the
// operation idempotent: re-sending an identical batch reports zero inserts
// and zero updates.
func (s *PostgresStore) UpsertBatch(ctx context.Context, properties []models.Property) (models.SaveResult, error) {
	if len(properties) == 0 {
		return models.SaveResult{}, nil
	}

	argsPerRow := len(upsertColumns) + 1
	valueStrings := make([]string, 0, len(properties))
	valueArgs := make([]interface{}, 0, len(properties)*argsPerRow)

	for idx, p := range properties {
		base := idx * argsPerRow
		placeholders := make([]string, argsPerRow)
		for i := range placeholders {
			placeholders[i] = fmt.Sprintf("$%d", base+i+1)
		}
		valueStrings = append(valueStrings, "("+strings.Join(placeholders, ",")+")")

		valueArgs = append(valueArgs,
			p.ContentHash,
			p.Title, p.PropertyURL, p.ListingID, p.ImageURL,
			p.Price, p.Location, p.City, p.Country,
			p.PropertyType, p.Transaction, p.Description,
			p.Bedrooms, p.Bathrooms, p.Parking, p.Area, p.Floor, p.Status,
			p.Furnishing, p.Facing, p.Overlooking, p.Ownership, p.Society, p.Balcony,
			p.Latitude, p.Longitude, p.PropertySchemaType,
			p.PriceNumeric, p.AreaNumeric, p.BedroomsNumeric, p.BathroomsNumeric,
			p.FloorNumber, p.TotalFloors, p.BalconiesNumeric,
			p.Source, p.SessionID, p.IsActive,
		)
	}

	assignments := make([]string, 0, len(upsertColumns)+1)
	for _, col := range upsertColumns {
		assignments = append(assignments, fmt.Sprintf("%s = EXCLUDED.%s", col, col))
	}
	assignments = append(assignments, "last_updated = NOW()")

	// The WHERE guard skips rows whose content is unchanged; skipped rows
	// do not appear in RETURNING, which is how duplicates are counted.
	query := fmt.Sprintf(`
		INSERT INTO properties (content_hash, %s)
		VALUES %s
		ON CONFLICT (content_hash) DO UPDATE SET %s
		WHERE (properties.title, properties.price, properties.area,
		       properties.location, properties.description, properties.is_active)
		   IS DISTINCT FROM
		      (EXCLUDED.title, EXCLUDED.price, EXCLUDED.area,
		       EXCLUDED.location, EXCLUDED.description, EXCLUDED.is_active)
		RETURNING (xmax = 0) AS inserted
	`, strings.Join(upsertColumns, ", "), strings.Join(valueStrings, ","), strings.Join(assignments, ", "))

	rows, err := s.db.QueryContext(ctx, query, valueArgs...)
	if err != nil {
		return models.SaveResult{}, fmt.Errorf("postgres: upsert batch: %w", err)
	}
	defer rows.Close()

	var result models.SaveResult
	written := 0
	for rows.Next() {
		var inserted bool
		if err := rows.Scan(&inserted); err != nil {
			return models.SaveResult{}, fmt.Errorf("postgres: scan upsert result: %w", err)
		}
		written++
		if inserted {
			result.Inserted++
		} else {
			result.Updated++
		}
	}
	if err := rows.Err(); err != nil {
		return models.SaveResult{}, fmt.Errorf("postgres: upsert rows: %w", err)
	}

	result.Duplicates = len(properties) - written
	return result, nil
}

// ResolveStart implements ProgressStore.
func (s *PostgresStore) ResolveStart(ctx context.Context, sourceKey string) (int, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scrape_progress (source_key, status)
		VALUES ($1, 'in_progress')
		ON CONFLICT (source_key) DO NOTHING
	`, sourceKey)
	if err != nil {
		return 0, fmt.Errorf("postgres: init progress: %w", err)
	}

	var lastStep int
	var status string
	err = s.db.QueryRowContext(ctx, `
		SELECT last_completed_step, status
		FROM scrape_progress
		WHERE source_key = $1
	`, sourceKey).Scan(&lastStep, &status)
	if err != nil {
		return 0, fmt.Errorf("postgres: read progress: %w", err)
	}

	// A stopped cursor is reopened by the new session. Completed cursors
	// stay terminal; their sessions run duplicate-only and finish fast.
	if status == models.StatusStopped {
		_, err = s.db.ExecContext(ctx, `
			UPDATE scrape_progress
			SET status = 'in_progress', stop_reason = '', last_activity_at = NOW(), completed_at = NULL
			WHERE source_key = $1 AND status = 'stopped'
		`, sourceKey)
		if err != nil {
			return 0, fmt.Errorf("postgres: reopen progress: %w", err)
		}
	}

	return lastStep + 1, nil
}

// Advance implements ProgressStore. The guard enforces monotonicity and
// terminal-state immutability in a single statement, which also makes it
// safe under concurrent retries.
func (s *PostgresStore) Advance(ctx context.Context, sourceKey string, step int, stats models.BatchStats) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE scrape_progress
		SET last_completed_step = $2,
		    total_scraped      = total_scraped + $3,
		    new_properties     = new_properties + $4,
		    updated_properties = updated_properties + $5,
		    duplicates         = duplicates + $6,
		    last_activity_at   = NOW()
		WHERE source_key = $1
		  AND status = 'in_progress'
		  AND last_completed_step < $2
	`, sourceKey, step, stats.Total, stats.Inserted, stats.Updated, stats.Duplicates)
	if err != nil {
		return fmt.Errorf("postgres: advance progress: %w", err)
	}
	return nil
}

// MarkCompleted implements ProgressStore.
func (s *PostgresStore) MarkCompleted(ctx context.Context, sourceKey string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE scrape_progress
		SET status = 'completed', completed_at = NOW(), last_activity_at = NOW()
		WHERE source_key = $1
	`, sourceKey)
	if err != nil {
		return fmt.Errorf("postgres: mark completed: %w", err)
	}
	return nil
}

// MarkStopped implements ProgressStore.
func (s *PostgresStore) MarkStopped(ctx context.Context, sourceKey, reason string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE scrape_progress
		SET status = 'stopped', stop_reason = $2, completed_at = NOW(), last_activity_at = NOW()
		WHERE source_key = $1 AND status <> 'completed'
	`, sourceKey, reason)
	if err != nil {
		return fmt.Errorf("postgres: mark stopped: %w", err)
	}
	return nil
}

// Get implements ProgressStore.
func (s *PostgresStore) Get(ctx context.Context, sourceKey string) (*models.ProgressCursor, error) {
	cursor := &models.ProgressCursor{SourceKey: sourceKey}
	var completedAt sql.NullTime

	err := s.db.QueryRowContext(ctx, `
		SELECT last_completed_step, total_scraped, new_properties,
		       updated_properties, duplicates, status, stop_reason,
		       started_at, last_activity_at, completed_at
		FROM scrape_progress
		WHERE source_key = $1
	`, sourceKey).Scan(
		&cursor.LastCompletedStep, &cursor.TotalScraped, &cursor.NewProperties,
		&cursor.Updated, &cursor.Duplicates, &cursor.Status, &cursor.StopReason,
		&cursor.StartedAt, &cursor.LastActivityAt, &completedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get progress: %w", err)
	}

	if completedAt.Valid {
		cursor.CompletedAt = &completedAt.Time
	}
	return cursor, nil
}

// SaveInvalid records rejected records for later inspection.
func (s *PostgresStore) SaveInvalid(ctx context.Context, source string, properties []models.Property, reasons []string) error {
	for i, p := range properties {
		payload, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("postgres: marshal invalid record: %w", err)
		}
		reason := ""
		if i < len(reasons) {
			reason = reasons[i]
		}
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO scrape_errors (source, payload, reasons)
			VALUES ($1, $2, $3)
		`, source, payload, reason)
		if err != nil {
			return fmt.Errorf("postgres: save invalid record: %w", err)
		}
	}
	return nil
}

// FetchBySource retrieves stored properties for one source, used by the
// exporter.
func (s *PostgresStore) FetchBySource(ctx context.Context, source string) ([]models.Property, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT content_hash, title, property_url, listing_id, price, location,
		       city, property_type, transaction, description,
		       price_numeric, area_numeric, bedrooms_numeric, bathrooms_numeric,
		       floor_number, total_floors, source, is_active,
		       first_scraped_at, last_updated
		FROM properties
		WHERE source = $1 OR $1 = ''
		ORDER BY last_updated DESC
	`, source)
	if err != nil {
		return nil, fmt.Errorf("postgres: fetch properties: %w", err)
	}
	defer rows.Close()

	var properties []models.Property
	for rows.Next() {
		var p models.Property
		if err := rows.Scan(
			&p.ContentHash, &p.Title, &p.PropertyURL, &p.ListingID, &p.Price,
			&p.Location, &p.City, &p.PropertyType, &p.Transaction, &p.Description,
			&p.PriceNumeric, &p.AreaNumeric, &p.BedroomsNumeric, &p.BathroomsNumeric,
			&p.FloorNumber, &p.TotalFloors, &p.Source, &p.IsActive,
			&p.ScrapedAt, &p.LastUpdated,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan property: %w", err)
		}
		properties = append(properties, p)
	}
	return properties, rows.Err()
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// compile-time interface checks
var (
	_ Sink          = (*PostgresStore)(nil)
	_ ProgressStore = (*PostgresStore)(nil)
)
