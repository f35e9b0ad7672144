package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"property-scraper/scrape"
)

// CaptureListingRequest drives a real load of targetURL on a fresh tab and
// records the first XHR/fetch call whose URL matches the listing-endpoint
// heuristic. First match wins; the wait is bounded. Implements
// scrape.Capturer.
func (p *Page) CaptureListingRequest(ctx context.Context, targetURL string, wait time.Duration) (*scrape.CapturedRequest, error) {
	tabCtx, cancelTab := chromedp.NewContext(p.allocCtx)
	defer cancelTab()

	runCtx, cancelMerge := mergeDone(tabCtx, ctx)
	defer cancelMerge()

	var (
		mu       sync.Mutex
		captured *scrape.CapturedRequest
	)
	matched := make(chan struct{})

	chromedp.ListenTarget(runCtx, func(ev interface{}) {
		req, ok := ev.(*network.EventRequestWillBeSent)
		if !ok {
			return
		}
		if req.Type != network.ResourceTypeXHR && req.Type != network.ResourceTypeFetch {
			return
		}
		if !scrape.IsListingEndpoint(req.Request.URL) {
			return
		}

		mu.Lock()
		defer mu.Unlock()
		if captured != nil {
			return
		}

		headers := make(map[string]string, len(req.Request.Headers))
		for name, value := range req.Request.Headers {
			if s, ok := value.(string); ok {
				headers[name] = s
			}
		}

		captured = &scrape.CapturedRequest{
			Method:  req.Request.Method,
			URL:     req.Request.URL,
			Headers: headers,
			Body:    req.Request.PostData,
		}
		p.logger.Info("[capture] Matched %s %s", captured.Method, captured.URL)
		close(matched)
	})

	navCtx, cancelNav := context.WithTimeout(runCtx, time.Duration(p.cfg.NavigationTimeout)*time.Millisecond)
	defer cancelNav()

	if err := chromedp.Run(navCtx,
		network.Enable(),
		chromedp.Navigate(targetURL),
	); err != nil {
		return nil, fmt.Errorf("capture navigation: %w", err)
	}

	// Give the page time to fire its listing call, but return as soon as
	// one matches.
	select {
	case <-matched:
	case <-time.After(wait):
	case <-runCtx.Done():
		return nil, runCtx.Err()
	}

	mu.Lock()
	result := captured
	mu.Unlock()

	if result == nil {
		return nil, fmt.Errorf("no matching request within %s", wait)
	}

	cookies, err := harvestCookies(runCtx, targetURL)
	if err != nil {
		p.logger.Warn("[capture] Cookie harvest failed: %v", err)
	}
	result.Cookies = cookies

	return result, nil
}

func harvestCookies(ctx context.Context, targetURL string) ([]scrape.Cookie, error) {
	var cookies []scrape.Cookie

	err := chromedp.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		raw, err := network.GetCookies().WithUrls([]string{targetURL}).Do(ctx)
		if err != nil {
			return err
		}
		for _, c := range raw {
			cookies = append(cookies, scrape.Cookie{Name: c.Name, Value: c.Value})
		}
		return nil
	}))
	if err != nil {
		return nil, err
	}
	return cookies, nil
}

// compile-time interface check
var _ scrape.Capturer = (*Page)(nil)
