package models

import "time"

// StructuredPayload is the linked-data block embedded in a listing card
// (schema.org Residence/Apartment markup). When present its values take
// priority over text extracted from the rendered card.
type StructuredPayload struct {
	Type          string  `json:"@type"`
	Name          string  `json:"name"`
	URL           string  `json:"url"`
	ID            string  `json:"@id"`
	Image         string  `json:"image"`
	NumberOfRooms string  `json:"numberOfRooms"`
	Address       Address `json:"address"`
	Geo           Geo     `json:"geo"`
}

// Address is the schema.org postal address of a structured payload.
type Address struct {
	Locality string `json:"addressLocality"`
	Region   string `json:"addressRegion"`
	Country  string `json:"addressCountry"`
}

// Geo carries the coordinates of a structured payload.
type Geo struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// RawRecord holds one listing unit exactly as read from the source: raw
// field strings keyed by field name plus the optional structured payload.
// A RawRecord is produced once per listing unit per extraction pass and
// discarded after normalization.
type RawRecord struct {
	Fields     map[string]string
	Structured *StructuredPayload
}

// Field returns the raw value for name, or "" when absent.
func (r RawRecord) Field(name string) string {
	return r.Fields[name]
}

// Property is the normalized, typed listing record keyed by ContentHash.
// Numeric fields are pointers: nil means the value could not be extracted,
// which is distinct from zero.
type Property struct {
	ContentHash string

	Title       string
	PropertyURL string
	ListingID   string
	ImageURL    string

	Price    string
	Location string
	City     string
	Country  string

	PropertyType string
	Transaction  string
	Description  string

	Bedrooms    string
	Bathrooms   string
	Parking     string
	Area        string
	Floor       string
	Status      string
	Furnishing  string
	Facing      string
	Overlooking string
	Ownership   string
	Society     string
	Balcony     string

	Latitude           float64
	Longitude          float64
	PropertySchemaType string

	PriceNumeric     *float64
	AreaNumeric      *float64
	BedroomsNumeric  *int
	BathroomsNumeric *int
	FloorNumber      *int
	TotalFloors      *int
	BalconiesNumeric *int

	Source        string
	SessionID     string
	IsActive      bool
	HasStructured bool
	ScrapedAt     time.Time
	LastUpdated   time.Time
}

// BatchStats aggregates the outcome of persisting one unit of work.
type BatchStats struct {
	Total      int
	Inserted   int
	Updated    int
	Duplicates int
}

// Add accumulates other into s.
func (s *BatchStats) Add(other BatchStats) {
	s.Total += other.Total
	s.Inserted += other.Inserted
	s.Updated += other.Updated
	s.Duplicates += other.Duplicates
}

// SaveResult is what a persistence sink reports for one upsert batch.
type SaveResult struct {
	Inserted   int
	Updated    int
	Duplicates int
}

// Cursor status values. A cursor in a terminal state (completed/stopped)
// is not advanced further unless a new session reopens it.
const (
	StatusNotStarted = "not_started"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusStopped    = "stopped"
)

// Stop reasons recorded on a terminal cursor.
const (
	StopNoNewContent     = "no_new_content"
	StopNoContentFound   = "no_content_found"
	StopMaxCycles        = "max_cycles_reached"
	StopMaxPages         = "max_pages_reached"
	StopPaginationEnded  = "pagination_ended"
	StopCancelled        = "cancelled"
	StopCaptureFailed    = "capture_failed"
	StopNavigationFailed = "navigation_failed"
	StopPersistence      = "persistence_error"
)

// ProgressCursor is the persisted resume point and cumulative statistics
// for one source target, keyed by the normalized base URL.
type ProgressCursor struct {
	SourceKey         string
	LastCompletedStep int

	TotalScraped  int
	NewProperties int
	Updated       int
	Duplicates    int

	Status     string
	StopReason string

	StartedAt      time.Time
	LastActivityAt time.Time
	CompletedAt    *time.Time
}
