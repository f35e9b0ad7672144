package scrape

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"property-scraper/models"
	"property-scraper/utils"
)

// APIReplayStrategy captures the listing API call once with a real browser
// load, then pages through the API directly, mutating the captured
// request's pagination parameter. One unit of work is one API page.
type APIReplayStrategy struct {
	capturer    Capturer
	client      *resty.Client
	targetURL   string
	captureWait time.Duration
	logger      *utils.Logger

	captured *CapturedRequest
}

// NewAPIReplayStrategy creates the captured-API-replay extraction strategy.
func NewAPIReplayStrategy(capturer Capturer, client *resty.Client, targetURL string, captureWait time.Duration, logger *utils.Logger) *APIReplayStrategy {
	return &APIReplayStrategy{
		capturer:    capturer,
		client:      client,
		targetURL:   targetURL,
		captureWait: captureWait,
		logger:      logger,
	}
}

// FetchNextUnit implements Strategy. The first call runs the capture
// phase; every call replays the captured request for the session's current
// step number.
func (s *APIReplayStrategy) FetchNextUnit(ctx context.Context, sess *Session) ([]models.RawRecord, bool, error) {
	if s.captured == nil {
		captured, err := s.capturer.CaptureListingRequest(ctx, s.targetURL, s.captureWait)
		if err != nil {
			return nil, false, fmt.Errorf("%w: %v", ErrCaptureFailed, err)
		}
		s.captured = captured
		s.logger.Info("[replay] Captured %s %s (%d cookies)",
			captured.Method, captured.URL, len(captured.Cookies))
	}

	page := sess.Step()

	reqURL := s.captured.URL
	body := ""
	if s.captured.Method == http.MethodGet {
		reqURL = UpdatePageInURL(reqURL, page)
	} else {
		body = UpdateBodyPage(s.captured.Body, page)
	}

	req := s.client.R().
		SetContext(ctx).
		SetHeaders(s.captured.Headers).
		SetHeader("cookie", s.captured.CookieHeader())
	if body != "" {
		req.SetBody(body)
	}

	res, err := req.Execute(s.captured.Method, reqURL)
	if err != nil {
		return nil, false, fmt.Errorf("replay page %d: %w", page, err)
	}
	if res.StatusCode() >= 400 {
		return nil, false, fmt.Errorf("replay page %d: status %d", page, res.StatusCode())
	}

	items := ExtractItems(res.Body())
	if len(items) == 0 {
		s.logger.Info("[replay] Page %d returned no items — source exhausted", page)
		return nil, false, nil
	}

	records := make([]models.RawRecord, 0, len(items))
	for _, item := range items {
		records = append(records, rawRecordFromItem(item))
	}

	s.logger.Debug("[replay] Page %d: %d items", page, len(items))
	return records, true, nil
}

// StopReason implements Strategy. Replay exhaustion is plain completion.
func (s *APIReplayStrategy) StopReason() string { return "" }

// rawRecordFromItem flattens one API item into a RawRecord. Scalar values
// become strings; a nested jsonLd object becomes the structured payload.
func rawRecordFromItem(item map[string]any) models.RawRecord {
	record := models.RawRecord{Fields: make(map[string]string, len(item))}

	for key, value := range item {
		switch v := value.(type) {
		case string:
			record.Fields[key] = v
		case float64:
			record.Fields[key] = strconv.FormatFloat(v, 'f', -1, 64)
		case bool:
			record.Fields[key] = strconv.FormatBool(v)
		case nil:
			// absent
		default:
			// nested structures other than jsonLd are not field material
		}
	}

	if nested, ok := item["jsonLd"].(map[string]any); ok {
		record.Structured = structuredFromMap(nested)
	}

	return record
}

func structuredFromMap(m map[string]any) *models.StructuredPayload {
	sd := &models.StructuredPayload{}
	sd.Type, _ = m["@type"].(string)
	sd.Name, _ = m["name"].(string)
	sd.URL, _ = m["url"].(string)
	sd.ID, _ = m["@id"].(string)
	sd.Image, _ = m["image"].(string)

	switch rooms := m["numberOfRooms"].(type) {
	case string:
		sd.NumberOfRooms = rooms
	case float64:
		sd.NumberOfRooms = strconv.FormatFloat(rooms, 'f', -1, 64)
	}

	if addr, ok := m["address"].(map[string]any); ok {
		sd.Address.Locality, _ = addr["addressLocality"].(string)
		sd.Address.Region, _ = addr["addressRegion"].(string)
		sd.Address.Country, _ = addr["addressCountry"].(string)
	}
	if geo, ok := m["geo"].(map[string]any); ok {
		sd.Geo.Latitude, _ = geo["latitude"].(float64)
		sd.Geo.Longitude, _ = geo["longitude"].(float64)
	}

	return sd
}
