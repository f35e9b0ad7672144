package scrape

import "errors"

// Session-fatal errors. Each terminates its own session only; concurrent
// sessions against other sources are unaffected.
var (
	// ErrCaptureFailed means the capture phase observed no network call
	// matching the listing-endpoint heuristic within its bounded wait.
	ErrCaptureFailed = errors.New("could not capture a listing API request")

	// ErrNavigation means the initial page load failed.
	ErrNavigation = errors.New("page navigation failed")

	// ErrPersistence wraps a sink write failure. The session halts without
	// advancing progress for the batch so the unit is retried on resume.
	ErrPersistence = errors.New("persistence sink write failed")
)
