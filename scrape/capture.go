package scrape

import (
	"encoding/json"
	"net/url"
	"strconv"
	"strings"
)

// listingEndpointHints are the URL substrings that mark a network call as
// the listing API during the capture phase. First match wins.
var listingEndpointHints = []string{"search", "property", "listing", "api"}

// Cookie is one captured browser cookie.
type Cookie struct {
	Name  string
	Value string
}

// CapturedRequest is the recorded shape of the listing API call observed
// during the capture phase. The replay phase reissues it with a mutated
// pagination parameter, bypassing further browser rendering.
type CapturedRequest struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    string
	Cookies []Cookie
}

// CookieHeader renders the captured cookies as a Cookie header value.
func (c *CapturedRequest) CookieHeader() string {
	parts := make([]string, 0, len(c.Cookies))
	for _, ck := range c.Cookies {
		parts = append(parts, ck.Name+"="+ck.Value)
	}
	return strings.Join(parts, "; ")
}

// IsListingEndpoint reports whether a request URL looks like the listing
// API.
func IsListingEndpoint(rawURL string) bool {
	lower := strings.ToLower(rawURL)
	for _, hint := range listingEndpointHints {
		if strings.Contains(lower, hint) {
			return true
		}
	}
	return false
}

// UpdatePageInURL sets (or appends) the page query parameter of a GET
// listing URL.
func UpdatePageInURL(rawURL string, page int) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	q := u.Query()
	q.Set("page", strconv.Itoa(page))
	u.RawQuery = q.Encode()
	return u.String()
}

// UpdateBodyPage mutates the pagination field of a captured JSON request
// body: the first of page/pageNo/pageNumber present is set to page;
// otherwise an offset/limit pair has its offset recomputed as
// (page-1)*limit. Returns the body unchanged when it is not a JSON object
// or carries no recognizable pagination field.
func UpdateBodyPage(body string, page int) string {
	if strings.TrimSpace(body) == "" {
		return body
	}

	var payload map[string]any
	if err := json.Unmarshal([]byte(body), &payload); err != nil {
		return body
	}

	mutated := false
	for _, key := range []string{"page", "pageNo", "pageNumber"} {
		if _, ok := payload[key]; ok {
			payload[key] = page
			mutated = true
			break
		}
	}

	if !mutated {
		limit, hasLimit := payload["limit"]
		_, hasOffset := payload["offset"]
		if hasOffset && hasLimit {
			if lf, ok := limit.(float64); ok {
				payload["offset"] = (page - 1) * int(lf)
				mutated = true
			}
		}
	}

	if !mutated {
		return body
	}

	out, err := json.Marshal(payload)
	if err != nil {
		return body
	}
	return string(out)
}

// ExtractItems probes a replayed API response for the listing array:
// data.results, then a top-level results, then a top-level array, else
// empty.
func ExtractItems(body []byte) []map[string]any {
	var envelope struct {
		Data struct {
			Results []map[string]any `json:"results"`
		} `json:"data"`
		Results []map[string]any `json:"results"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil {
		if len(envelope.Data.Results) > 0 {
			return envelope.Data.Results
		}
		if len(envelope.Results) > 0 {
			return envelope.Results
		}
	}

	var list []map[string]any
	if err := json.Unmarshal(body, &list); err == nil {
		return list
	}

	return nil
}
