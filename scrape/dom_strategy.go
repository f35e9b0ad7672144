package scrape

import (
	"context"
	"fmt"
	"time"

	"property-scraper/config"
	"property-scraper/models"
	"property-scraper/utils"
)

// initialCardWait bounds the wait for the first property card after
// navigation.
const initialCardWait = 10 * time.Second

// DOMStrategy reads listing units straight out of the rendered page,
// advancing via the heuristic scroll/paginate driver. One unit of work is
// one scroll/paginate step; a step may surface zero or more new cards and
// the orchestrator's session set filters the re-extracted ones.
type DOMStrategy struct {
	page      PageHandle
	driver    *PageDriver
	selectors config.Selectors
	targetURL string
	logger    *utils.Logger

	navigated  bool
	stopReason string
}

// NewDOMStrategy creates the incremental-DOM extraction strategy.
func NewDOMStrategy(page PageHandle, driver *PageDriver, selectors config.Selectors, targetURL string, logger *utils.Logger) *DOMStrategy {
	return &DOMStrategy{
		page:      page,
		driver:    driver,
		selectors: selectors,
		targetURL: targetURL,
		logger:    logger,
	}
}

// FetchNextUnit implements Strategy. The first call navigates and collects
// the initially visible cards; subsequent calls delegate advancement to the
// page driver and re-extract everything currently in the DOM.
func (s *DOMStrategy) FetchNextUnit(ctx context.Context, sess *Session) ([]models.RawRecord, bool, error) {
	if !s.navigated {
		if err := s.page.Navigate(ctx, s.targetURL); err != nil {
			return nil, false, fmt.Errorf("%w: %s: %v", ErrNavigation, s.targetURL, err)
		}
		s.navigated = true

		ready, err := s.page.WaitForSelectorReady(ctx, s.selectors.PropertyCard, initialCardWait)
		if err != nil {
			return nil, false, fmt.Errorf("wait for property cards: %w", err)
		}
		if !ready {
			s.logger.Warn("[dom] No property cards appeared on %s", s.targetURL)
			return nil, false, nil
		}

		return s.extract(ctx)
	}

	advanced, err := s.driver.Advance(ctx)
	if err != nil {
		return nil, false, err
	}
	if !advanced {
		s.stopReason = s.driver.StopReason()
		return nil, false, nil
	}

	return s.extract(ctx)
}

// StopReason implements Strategy.
func (s *DOMStrategy) StopReason() string { return s.stopReason }

func (s *DOMStrategy) extract(ctx context.Context) ([]models.RawRecord, bool, error) {
	records, err := s.page.ExtractVisibleUnits(ctx, s.selectors)
	if err != nil {
		// Extraction hiccups are survivable: report an empty advanced unit
		// and let the next cycle retry.
		s.logger.Warn("[dom] Extraction failed: %v", err)
		return nil, true, nil
	}
	return records, true, nil
}
