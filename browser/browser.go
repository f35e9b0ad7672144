package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/chromedp/chromedp"

	"property-scraper/config"
	"property-scraper/models"
	"property-scraper/scrape"
	"property-scraper/utils"
)

// Page is the chromedp-backed implementation of scrape.PageHandle. One
// Page owns one exclusive browser tab and must not be driven concurrently.
type Page struct {
	allocCtx    context.Context
	cancelAlloc context.CancelFunc
	tabCtx      context.Context
	cancelTab   context.CancelFunc

	cfg    *config.Config
	logger *utils.Logger
}

// NewPage launches a browser context configured from cfg.
func NewPage(cfg *config.Config, logger *utils.Logger) (*Page, error) {
	chromeBin := cfg.ChromeBin
	if chromeBin == "" {
		chromeBin = findChromeBinary()
	}
	logger.Debug("[browser] Using browser binary: %s", chromeBin)

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-setuid-sandbox", true),
		// Listing cards are text-extracted; skipping image decode keeps
		// page loads fast.
		chromedp.Flag("blink-settings", "imagesEnabled=false"),
		chromedp.WindowSize(cfg.ViewportW, cfg.ViewportH),
		chromedp.UserAgent(cfg.UserAgent),
	)
	if chromeBin != "" {
		opts = append(opts, chromedp.ExecPath(chromeBin))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), opts...)

	// Suppress chromedp log noise
	tabCtx, cancelTab := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(string, ...interface{}) {}))

	return &Page{
		allocCtx:    allocCtx,
		cancelAlloc: cancelAlloc,
		tabCtx:      tabCtx,
		cancelTab:   cancelTab,
		cfg:         cfg,
		logger:      logger,
	}, nil
}

// Close tears the browser down.
func (p *Page) Close() error {
	p.cancelTab()
	p.cancelAlloc()
	return nil
}

// Navigate implements scrape.PageHandle.
func (p *Page) Navigate(ctx context.Context, url string) error {
	runCtx, cancel := p.bounded(ctx, time.Duration(p.cfg.NavigationTimeout)*time.Millisecond)
	defer cancel()

	if err := chromedp.Run(runCtx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	return nil
}

// WaitForSelectorReady implements scrape.PageHandle. A timeout is reported
// as ready=false, not as an error.
func (p *Page) WaitForSelectorReady(ctx context.Context, selector string, timeout time.Duration) (bool, error) {
	runCtx, cancel := p.bounded(ctx, timeout)
	defer cancel()

	err := chromedp.Run(runCtx, chromedp.WaitReady(selector, chromedp.ByQuery))
	if err != nil {
		if runCtx.Err() != nil {
			return false, nil
		}
		return false, fmt.Errorf("wait for %q: %w", selector, err)
	}
	return true, nil
}

// ScrollBy implements scrape.PageHandle.
func (p *Page) ScrollBy(ctx context.Context, distance int) error {
	runCtx, cancel := p.bounded(ctx, 10*time.Second)
	defer cancel()

	js := fmt.Sprintf(`window.scrollBy({top: %d, left: 0, behavior: "smooth"})`, distance)
	return chromedp.Run(runCtx, chromedp.Evaluate(js, nil))
}

// ElementVisibleInViewport implements scrape.PageHandle.
func (p *Page) ElementVisibleInViewport(ctx context.Context, selector string) (bool, error) {
	runCtx, cancel := p.bounded(ctx, 10*time.Second)
	defer cancel()

	js := fmt.Sprintf(`
		(function() {
			var el = document.querySelector(%q);
			if (!el) return false;
			var rect = el.getBoundingClientRect();
			var vh = window.innerHeight || document.documentElement.clientHeight;
			return rect.top < vh && rect.bottom > 0;
		})()
	`, selector)

	var visible bool
	if err := chromedp.Run(runCtx, chromedp.Evaluate(js, &visible)); err != nil {
		return false, err
	}
	return visible, nil
}

// ClickIfEnabled implements scrape.PageHandle.
func (p *Page) ClickIfEnabled(ctx context.Context, selector string) (bool, error) {
	runCtx, cancel := p.bounded(ctx, 10*time.Second)
	defer cancel()

	js := fmt.Sprintf(`
		(function() {
			var btn = document.querySelector(%q);
			if (!btn) return false;
			if (btn.disabled ||
				btn.classList.contains("disabled") ||
				btn.getAttribute("aria-disabled") === "true") {
				return false;
			}
			btn.click();
			return true;
		})()
	`, selector)

	var clicked bool
	if err := chromedp.Run(runCtx, chromedp.Evaluate(js, &clicked)); err != nil {
		return false, err
	}
	return clicked, nil
}

// CurrentUnitCount implements scrape.PageHandle.
func (p *Page) CurrentUnitCount(ctx context.Context, selector string) (int, error) {
	runCtx, cancel := p.bounded(ctx, 10*time.Second)
	defer cancel()

	js := fmt.Sprintf(`document.querySelectorAll(%q).length`, selector)

	var count int
	if err := chromedp.Run(runCtx, chromedp.Evaluate(js, &count)); err != nil {
		return 0, err
	}
	return count, nil
}

// AtBottom implements scrape.PageHandle.
func (p *Page) AtBottom(ctx context.Context, threshold int) (bool, error) {
	runCtx, cancel := p.bounded(ctx, 10*time.Second)
	defer cancel()

	js := fmt.Sprintf(
		`window.innerHeight + window.scrollY >= document.body.scrollHeight - %d`, threshold)

	var atBottom bool
	if err := chromedp.Run(runCtx, chromedp.Evaluate(js, &atBottom)); err != nil {
		return false, err
	}
	return atBottom, nil
}

// extractedCard mirrors the object shape produced by the in-page extractor.
type extractedCard struct {
	Fields map[string]string `json:"fields"`
	JSONLD string            `json:"jsonLd"`
}

// ExtractVisibleUnits implements scrape.PageHandle. It reads every card
// currently in the DOM through the selector map and picks up an embedded
// JSON-LD block when the card carries one.
func (p *Page) ExtractVisibleUnits(ctx context.Context, selectors config.Selectors) ([]models.RawRecord, error) {
	runCtx, cancel := p.bounded(ctx, 30*time.Second)
	defer cancel()

	fieldSelectors, err := json.Marshal(selectors.Fields)
	if err != nil {
		return nil, fmt.Errorf("marshal selector map: %w", err)
	}

	js := fmt.Sprintf(`
		(function() {
			var fieldSelectors = %s;
			var cards = document.querySelectorAll(%q);
			var results = [];

			var getText = function(root, sel) {
				if (!sel) return "";
				var el = root.querySelector(sel);
				return el ? (el.innerText || el.textContent || "").trim() : "";
			};

			var getImage = function(root) {
				var img = root.querySelector("img");
				if (!img) return "";
				return img.getAttribute("src") ||
					img.getAttribute("data-src") ||
					img.getAttribute("data-original") ||
					(img.getAttribute("srcset") || "").split(" ")[0] ||
					"";
			};

			cards.forEach(function(card) {
				try {
					var fields = {};
					for (var name in fieldSelectors) {
						fields[name] = getText(card, fieldSelectors[name]);
					}

					var link = card.querySelector("a");
					fields["propertyUrl"] = link && link.href ? link.href : "";
					fields["imageUrl"] = getImage(card);
					fields["listingId"] = card.getAttribute("data-id") ||
						card.getAttribute("data-listing-id") || "";

					var jsonLd = "";
					var script = card.querySelector('script[type="application/ld+json"]');
					if (script) jsonLd = script.textContent || "";

					results.push({fields: fields, jsonLd: jsonLd});
				} catch (err) {}
			});

			return results;
		})()
	`, fieldSelectors, selectors.PropertyCard)

	var cards []extractedCard
	if err := chromedp.Run(runCtx, chromedp.Evaluate(js, &cards)); err != nil {
		return nil, fmt.Errorf("extract cards: %w", err)
	}

	records := make([]models.RawRecord, 0, len(cards))
	for _, card := range cards {
		record := models.RawRecord{Fields: card.Fields}
		if card.JSONLD != "" {
			var sd models.StructuredPayload
			if err := json.Unmarshal([]byte(card.JSONLD), &sd); err == nil {
				record.Structured = &sd
			}
		}
		records = append(records, record)
	}

	return records, nil
}

func (p *Page) bounded(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	merged, cancelMerge := mergeDone(p.tabCtx, ctx)
	runCtx, cancelTimeout := context.WithTimeout(merged, timeout)
	return runCtx, func() {
		cancelTimeout()
		cancelMerge()
	}
}

// mergeDone derives a child of the tab context that is also cancelled when
// the caller's context is.
func mergeDone(tab, caller context.Context) (context.Context, context.CancelFunc) {
	merged, cancel := context.WithCancel(tab)
	stop := make(chan struct{})
	go func() {
		select {
		case <-caller.Done():
			cancel()
		case <-stop:
		}
	}()
	return merged, func() {
		close(stop)
		cancel()
	}
}

// findChromeBinary locates a Chrome/Chromium binary.
func findChromeBinary() string {
	if bin := os.Getenv("CHROME_BIN"); bin != "" {
		return bin
	}

	names := []string{"google-chrome-stable", "google-chrome", "chromium", "chromium-browser"}
	for _, name := range names {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}

	paths := []string{
		"/usr/bin/google-chrome-stable",
		"/usr/bin/google-chrome",
		"/usr/bin/chromium-browser",
		"/usr/bin/chromium",
		"/snap/bin/chromium",
		"/opt/google/chrome/google-chrome",
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	return ""
}

// compile-time interface check
var _ scrape.PageHandle = (*Page)(nil)
