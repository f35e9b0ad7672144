package scrape

import (
	"context"
	"math/rand"
	"time"

	"property-scraper/models"
	"property-scraper/utils"
)

// DriverState is the position of the heuristic driver in its cycle.
type DriverState int

const (
	StateScrolling DriverState = iota
	StateAtPagination
	StateAdvancingPage
	StateExhausted
	StateStopped
)

func (s DriverState) String() string {
	switch s {
	case StateScrolling:
		return "scrolling"
	case StateAtPagination:
		return "at_pagination"
	case StateAdvancingPage:
		return "advancing_page"
	case StateExhausted:
		return "exhausted"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// nearBottomThreshold is how close (in px) to the total scrollable height
// counts as "near bottom".
const nearBottomThreshold = 30

// cardSettleDelay lets the DOM settle after a successful page click.
const cardSettleDelay = time.Second

// DriverOptions tunes the heuristic scroll/paginate loop.
type DriverOptions struct {
	CardSelector       string
	PaginationSelector string
	NextSelector       string

	MaxScrollCycles          int
	MaxNoNewCardTries        int
	BottomHitTriesBeforeNext int

	ContentWait time.Duration
	ClickWait   time.Duration
}

// PageDriver advances an infinite-scroll/paginated listing page one unit of
// work at a time. It keeps three counters across calls: consecutive cycles
// without new content, consecutive near-bottom hits, and the total cycle
// count, which is hard-bounded.
//
// A successful "next" click does not advance the step counter by itself;
// the caller counts a unit of work only after the follow-up extraction.
type PageDriver struct {
	page   PageHandle
	opts   DriverOptions
	logger *utils.Logger
	rng    *rand.Rand

	cycle      int
	noNewTries int
	bottomHits int
	state      DriverState
	stopReason string
}

// NewPageDriver creates a driver over the given page handle.
func NewPageDriver(page PageHandle, opts DriverOptions, logger *utils.Logger) *PageDriver {
	if opts.MaxScrollCycles <= 0 {
		opts.MaxScrollCycles = 250
	}
	if opts.MaxNoNewCardTries <= 0 {
		opts.MaxNoNewCardTries = 30
	}
	if opts.BottomHitTriesBeforeNext <= 0 {
		opts.BottomHitTriesBeforeNext = 2
	}
	if opts.ContentWait <= 0 {
		opts.ContentWait = 4500 * time.Millisecond
	}
	if opts.ClickWait <= 0 {
		opts.ClickWait = 12 * time.Second
	}

	return &PageDriver{
		page:   page,
		opts:   opts,
		logger: logger,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		state:  StateScrolling,
	}
}

// State returns the driver's current state.
func (d *PageDriver) State() DriverState { return d.state }

// StopReason explains why the driver terminated, empty while running.
func (d *PageDriver) StopReason() string { return d.stopReason }

// Advance runs scroll/click cycles until new content surfaces (advanced=true)
// or the session must stop for this source (advanced=false, see StopReason).
// Cancellation is checked at the top of every cycle.
func (d *PageDriver) Advance(ctx context.Context) (bool, error) {
	if d.state == StateStopped || d.state == StateExhausted {
		return false, nil
	}

	for d.cycle < d.opts.MaxScrollCycles {
		if err := ctx.Err(); err != nil {
			d.stop(models.StopCancelled)
			return false, err
		}
		d.cycle++

		before := d.unitCount(ctx)

		visible, _ := d.page.ElementVisibleInViewport(ctx, d.opts.PaginationSelector)
		if visible {
			d.state = StateAtPagination
			d.logger.Debug("[driver] Pagination control in viewport — trying next")

			if d.clickNext(ctx, before) {
				d.resetCounters()
				d.state = StateScrolling
				d.humanPause(800, 1200)
				return true, nil
			}
			d.stop(models.StopPaginationEnded)
			return false, nil
		}

		d.state = StateScrolling
		distance := 650 + d.rng.Intn(350)
		if err := d.page.ScrollBy(ctx, distance); err != nil {
			d.logger.Warn("[driver] Scroll failed: %v", err)
		}

		d.humanPause(100, 100)
		if d.rng.Float64() < 0.18 {
			d.humanPause(100, 100)
		}

		grew := d.waitForCountAbove(ctx, before, d.opts.ContentWait)
		after := d.unitCount(ctx)

		newContent := grew || after > before
		if newContent {
			d.noNewTries = 0
		} else {
			d.noNewTries++
		}

		nearBottom, _ := d.page.AtBottom(ctx, nearBottomThreshold)
		if nearBottom {
			d.bottomHits++
		} else {
			d.bottomHits = 0
		}

		d.logger.Debug("[driver] cycle=%d cards %d→%d noNewTries=%d bottomHits=%d",
			d.cycle, before, after, d.noNewTries, d.bottomHits)

		if newContent {
			return true, nil
		}

		// Bottom reached repeatedly without the pagination control ever
		// entering the viewport: force a next attempt anyway.
		if d.bottomHits >= d.opts.BottomHitTriesBeforeNext {
			d.state = StateAdvancingPage
			d.logger.Debug("[driver] Bottom hit %d times — trying next", d.bottomHits)

			if d.clickNext(ctx, after) {
				d.resetCounters()
				d.state = StateScrolling
				return true, nil
			}
			d.stop(models.StopPaginationEnded)
			return false, nil
		}

		if d.noNewTries >= d.opts.MaxNoNewCardTries {
			// Give-up policy, not a failure: the source may simply be
			// exhausted.
			d.stop(models.StopNoNewContent)
			return false, nil
		}
	}

	d.state = StateExhausted
	d.stopReason = models.StopMaxCycles
	return false, nil
}

// clickNext attempts the "click next and wait for content change" action.
// Success means the control was clickable and the DOM observably changed
// within the bounded wait.
func (d *PageDriver) clickNext(ctx context.Context, beforeCount int) bool {
	d.state = StateAdvancingPage

	clicked, err := d.page.ClickIfEnabled(ctx, d.opts.NextSelector)
	if err != nil || !clicked {
		d.logger.Debug("[driver] Next control absent or disabled")
		return false
	}

	changed := d.waitForCountChange(ctx, beforeCount, d.opts.ClickWait)

	// Some sources replace cards in place without changing the count, so a
	// generic content-ready probe also counts as success.
	ready, _ := d.page.WaitForSelectorReady(ctx, d.opts.CardSelector, d.opts.ClickWait)

	sleepCtx(ctx, cardSettleDelay)

	if changed || ready {
		d.logger.Debug("[driver] Next page loaded")
		return true
	}
	d.logger.Debug("[driver] Next clicked but content did not change")
	return false
}

func (d *PageDriver) waitForCountAbove(ctx context.Context, before int, wait time.Duration) bool {
	return d.pollCount(ctx, wait, func(n int) bool { return n > before })
}

func (d *PageDriver) waitForCountChange(ctx context.Context, before int, wait time.Duration) bool {
	return d.pollCount(ctx, wait, func(n int) bool { return n != before })
}

func (d *PageDriver) pollCount(ctx context.Context, wait time.Duration, ok func(int) bool) bool {
	deadline := time.Now().Add(wait)
	for {
		if n, err := d.page.CurrentUnitCount(ctx, d.opts.CardSelector); err == nil && ok(n) {
			return true
		}
		if time.Now().After(deadline) || ctx.Err() != nil {
			return false
		}
		sleepCtx(ctx, 250*time.Millisecond)
	}
}

func (d *PageDriver) unitCount(ctx context.Context) int {
	n, err := d.page.CurrentUnitCount(ctx, d.opts.CardSelector)
	if err != nil {
		return 0
	}
	return n
}

func (d *PageDriver) resetCounters() {
	d.noNewTries = 0
	d.bottomHits = 0
}

func (d *PageDriver) stop(reason string) {
	d.state = StateStopped
	d.stopReason = reason
}

func (d *PageDriver) humanPause(baseMs, jitterMs int) {
	pause := time.Duration(baseMs+d.rng.Intn(jitterMs)) * time.Millisecond
	time.Sleep(pause)
}

func sleepCtx(ctx context.Context, dur time.Duration) {
	timer := time.NewTimer(dur)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
