package scrape

import (
	"context"
	"time"

	"property-scraper/config"
	"property-scraper/models"
)

// PageHandle abstracts one exclusive browser context over a listing page.
// All waits are bounded; implementations must never block indefinitely.
// A timed-out wait reports false, not an error — the driver feeds that
// into its give-up counters.
type PageHandle interface {
	// Navigate loads the given URL and blocks until the document is ready.
	Navigate(ctx context.Context, url string) error

	// WaitForSelectorReady waits until at least one element matches the
	// selector, up to timeout. Returns false on timeout.
	WaitForSelectorReady(ctx context.Context, selector string, timeout time.Duration) (bool, error)

	// ScrollBy scrolls the viewport forward by distance pixels.
	ScrollBy(ctx context.Context, distance int) error

	// ElementVisibleInViewport reports whether the first element matching
	// the selector currently intersects the viewport.
	ElementVisibleInViewport(ctx context.Context, selector string) (bool, error)

	// ClickIfEnabled clicks the first element matching the selector if it
	// exists and is not disabled. Returns false when absent or disabled.
	ClickIfEnabled(ctx context.Context, selector string) (bool, error)

	// ExtractVisibleUnits reads every listing unit currently in the DOM
	// into raw records using the configured selector map.
	ExtractVisibleUnits(ctx context.Context, selectors config.Selectors) ([]models.RawRecord, error)

	// CurrentUnitCount counts elements matching the card selector.
	CurrentUnitCount(ctx context.Context, selector string) (int, error)

	// AtBottom reports whether the scroll position is within threshold
	// pixels of the total scrollable height.
	AtBottom(ctx context.Context, threshold int) (bool, error)
}

// Capturer performs the one-time capture phase of API replay: drive a real
// page load, watch outgoing network calls and return the first one that
// looks like a listing endpoint.
type Capturer interface {
	CaptureListingRequest(ctx context.Context, targetURL string, wait time.Duration) (*CapturedRequest, error)
}

// Strategy produces the raw records of "the next unit of work" — one
// scroll/paginate step or one API page. advanced=false signals exhaustion
// and is the sole termination signal the orchestrator consumes.
type Strategy interface {
	FetchNextUnit(ctx context.Context, sess *Session) (records []models.RawRecord, advanced bool, err error)

	// StopReason explains a false advanced result. Empty means plain
	// exhaustion (the source has no more content).
	StopReason() string
}

// Event kinds emitted during a session.
const (
	EventLog        = "log"
	EventInfo       = "info"
	EventError      = "error"
	EventCheckpoint = "checkpoint"
	EventSuccess    = "success"
	EventCompleted  = "completed"
	EventFailed     = "failed"
)

// EventSink receives session status events. Fire-and-forget: the core
// never waits on a sink.
type EventSink interface {
	Emit(kind, message string, data map[string]any)
}

// LoggerSink adapts a Logger into an EventSink for CLI runs.
type LoggerSink struct {
	Logger logger
}

type logger interface {
	Info(format string, args ...any)
	Error(format string, args ...any)
}

// Emit implements EventSink.
func (s LoggerSink) Emit(kind, message string, data map[string]any) {
	switch kind {
	case EventError, EventFailed:
		s.Logger.Error("[%s] %s %v", kind, message, data)
	default:
		s.Logger.Info("[%s] %s %v", kind, message, data)
	}
}
