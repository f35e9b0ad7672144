package scrape

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"property-scraper/models"
	"property-scraper/services"
	"property-scraper/storage"
	"property-scraper/utils"
)

// Session is the transient in-memory state of one harvest run: the set of
// content hashes seen so far, the current step number and the accumulated
// statistics. Owned exclusively by the orchestrator.
type Session struct {
	ID        string
	Source    string
	SourceKey string

	step  int
	seen  *utils.HashSet
	Stats models.BatchStats
}

// Step is the current unit-of-work number (the page number for replay).
func (s *Session) Step() int { return s.step }

// Orchestrator drives one full harvest session per Run call: resolve the
// resume point, pull units of work from the strategy, normalize, dedupe,
// persist and advance the cursor after every successfully persisted unit.
type Orchestrator struct {
	strategy   Strategy
	normalizer *services.Normalizer
	validator  *services.Validator
	sink       storage.Sink
	progress   storage.ProgressStore
	events     EventSink
	logger     *utils.Logger

	maxPages int
	delay    time.Duration
}

// NewOrchestrator wires a session controller. validator may be nil to
// accept every normalized record.
func NewOrchestrator(
	strategy Strategy,
	normalizer *services.Normalizer,
	validator *services.Validator,
	sink storage.Sink,
	progress storage.ProgressStore,
	events EventSink,
	logger *utils.Logger,
	maxPages int,
	delay time.Duration,
) *Orchestrator {
	return &Orchestrator{
		strategy:   strategy,
		normalizer: normalizer,
		validator:  validator,
		sink:       sink,
		progress:   progress,
		events:     events,
		logger:     logger,
		maxPages:   maxPages,
		delay:      delay,
	}
}

// Run executes one session against source to exhaustion or budget and
// returns the accumulated statistics. Errors terminate the session, never
// the process; partial progress already advanced is preserved.
func (o *Orchestrator) Run(ctx context.Context, source string) (models.BatchStats, error) {
	return o.RunSession(ctx, source, uuid.NewString())
}

// RunSession is Run with a caller-chosen session ID, so the HTTP layer can
// hand out the log-stream URL before the run starts.
func (o *Orchestrator) RunSession(ctx context.Context, source, sessionID string) (models.BatchStats, error) {
	sourceKey := NormalizeSourceKey(source)

	start, err := o.progress.ResolveStart(ctx, sourceKey)
	if err != nil {
		return models.BatchStats{}, fmt.Errorf("resolve start for %s: %w", sourceKey, err)
	}

	sess := &Session{
		ID:        sessionID,
		Source:    source,
		SourceKey: sourceKey,
		step:      start,
		seen:      utils.NewHashSet(),
	}

	o.logger.Info("[orchestrator] Session %s starting at step %d for %s", sess.ID, start, sourceKey)
	o.events.Emit(EventInfo, "session started", map[string]any{
		"sessionId": sess.ID, "source": source, "startStep": start,
	})

	endStep := start + o.maxPages - 1
	firstUnit := true

	for sess.step <= endStep {
		if err := ctx.Err(); err != nil {
			o.terminate(sess, models.StopCancelled)
			return sess.Stats, err
		}

		records, advanced, err := o.strategy.FetchNextUnit(ctx, sess)
		if err != nil {
			reason := stopReasonForError(err)
			o.events.Emit(EventFailed, err.Error(), map[string]any{"sessionId": sess.ID, "step": sess.step})
			o.terminate(sess, reason)
			return sess.Stats, err
		}

		if firstUnit && len(records) == 0 {
			// Nothing on the very first unit is a distinct terminal
			// outcome from running out of pages mid-session.
			o.terminate(sess, models.StopNoContentFound)
			return sess.Stats, nil
		}

		if !advanced {
			o.finish(sess)
			return sess.Stats, nil
		}

		stats, err := o.processBatch(ctx, sess, records)
		if err != nil {
			o.events.Emit(EventFailed, err.Error(), map[string]any{"sessionId": sess.ID, "step": sess.step})
			// The cursor stays in_progress and was not advanced for this
			// batch, so the next run retries the same unit.
			return sess.Stats, err
		}

		sess.Stats.Add(stats)

		if err := o.progress.Advance(ctx, sourceKey, sess.step, stats); err != nil {
			o.events.Emit(EventError, "progress advance failed", map[string]any{
				"sessionId": sess.ID, "step": sess.step, "error": err.Error(),
			})
			return sess.Stats, fmt.Errorf("advance progress at step %d: %w", sess.step, err)
		}

		o.events.Emit(EventCheckpoint, fmt.Sprintf("step %d done", sess.step), map[string]any{
			"sessionId":  sess.ID,
			"step":       sess.step,
			"total":      stats.Total,
			"inserted":   stats.Inserted,
			"updated":    stats.Updated,
			"duplicates": stats.Duplicates,
		})

		firstUnit = false
		sess.step++

		if sess.step <= endStep {
			sleepCtx(ctx, o.delay)
		}
	}

	o.terminate(sess, models.StopMaxPages)
	return sess.Stats, nil
}

// processBatch normalizes one unit of work, filters hashes already seen
// this session and persists the remainder.
func (o *Orchestrator) processBatch(ctx context.Context, sess *Session, records []models.RawRecord) (models.BatchStats, error) {
	stats := models.BatchStats{Total: len(records)}

	fresh := make([]models.Property, 0, len(records))
	for _, raw := range records {
		p := o.normalizer.Normalize(raw, sess.SourceKey)
		p.SessionID = sess.ID

		if !sess.seen.Add(p.ContentHash) {
			stats.Duplicates++
			continue
		}
		fresh = append(fresh, p)
	}

	if o.validator != nil && len(fresh) > 0 {
		valid, invalid := o.validator.ValidateBatch(fresh)
		if len(invalid) > 0 {
			o.events.Emit(EventLog, fmt.Sprintf("rejected %d invalid records", len(invalid)),
				map[string]any{"sessionId": sess.ID, "step": sess.step})
			o.auditInvalid(ctx, sess, invalid)
		}
		fresh = valid
	}

	if len(fresh) == 0 {
		return stats, nil
	}

	result, err := o.sink.UpsertBatch(ctx, fresh)
	if err != nil {
		return stats, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	stats.Inserted += result.Inserted
	stats.Updated += result.Updated
	stats.Duplicates += result.Duplicates
	return stats, nil
}

// auditInvalid keeps rejected records for inspection when the sink supports
// it. Best effort: an audit failure never fails the batch.
func (o *Orchestrator) auditInvalid(ctx context.Context, sess *Session, invalid []services.InvalidProperty) {
	recorder, ok := o.sink.(storage.InvalidRecorder)
	if !ok {
		return
	}

	properties := make([]models.Property, 0, len(invalid))
	reasons := make([]string, 0, len(invalid))
	for _, inv := range invalid {
		properties = append(properties, inv.Property)
		reasons = append(reasons, strings.Join(inv.Errors, "; "))
	}

	if err := recorder.SaveInvalid(ctx, sess.SourceKey, properties, reasons); err != nil {
		o.logger.Warn("[orchestrator] Invalid-record audit failed: %v", err)
	}
}

func (o *Orchestrator) finish(sess *Session) {
	if reason := o.strategy.StopReason(); reason != "" {
		o.terminate(sess, reason)
		return
	}

	if err := o.progress.MarkCompleted(context.Background(), sess.SourceKey); err != nil {
		o.logger.Error("[orchestrator] Mark completed failed for %s: %v", sess.SourceKey, err)
	}
	o.logger.Info("[orchestrator] Session %s completed — %+v", sess.ID, sess.Stats)
	o.events.Emit(EventSuccess, "scraping completed", summaryData(sess))
	o.events.Emit(EventCompleted, "done", map[string]any{"sessionId": sess.ID})
}

func (o *Orchestrator) terminate(sess *Session, reason string) {
	// Terminal transitions use a fresh context: a cancelled session must
	// still record why it stopped.
	if err := o.progress.MarkStopped(context.Background(), sess.SourceKey, reason); err != nil {
		o.logger.Error("[orchestrator] Mark stopped failed for %s: %v", sess.SourceKey, err)
	}
	o.logger.Info("[orchestrator] Session %s stopped (%s) — %+v", sess.ID, reason, sess.Stats)

	data := summaryData(sess)
	data["stopReason"] = reason
	o.events.Emit(EventSuccess, "scraping stopped", data)
	o.events.Emit(EventCompleted, "done", map[string]any{"sessionId": sess.ID})
}

func summaryData(sess *Session) map[string]any {
	return map[string]any{
		"sessionId":     sess.ID,
		"totalScraped":  sess.Stats.Total,
		"newProperties": sess.Stats.Inserted,
		"updated":       sess.Stats.Updated,
		"duplicates":    sess.Stats.Duplicates,
		"lastStep":      sess.step,
	}
}

func stopReasonForError(err error) string {
	switch {
	case errors.Is(err, ErrCaptureFailed):
		return models.StopCaptureFailed
	case errors.Is(err, ErrNavigation):
		return models.StopNavigationFailed
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return models.StopCancelled
	default:
		return "extraction_error"
	}
}

// NormalizeSourceKey reduces a source URL to its cursor key: lowercased
// scheme and host plus the path, with query, fragment and trailing slash
// dropped. Two spellings of the same listing target share one cursor.
func NormalizeSourceKey(source string) string {
	u, err := url.Parse(strings.TrimSpace(source))
	if err != nil || u.Host == "" {
		return strings.TrimRight(strings.TrimSpace(source), "/")
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme == "" {
		scheme = "https"
	}
	host := strings.ToLower(u.Host)
	path := strings.TrimRight(u.Path, "/")

	return scheme + "://" + host + path
}
