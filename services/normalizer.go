package services

import (
	"crypto/md5"
	"encoding/hex"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"property-scraper/models"
)

var (
	// numberRegexp captures the first numeric token in a string
	numberRegexp = regexp.MustCompile(`\d+(?:\.\d+)?`)
	// priceTokenRegexp captures numeric price values including thousands separators
	priceTokenRegexp = regexp.MustCompile(`[\d,]+(?:\.\d+)?`)
	// areaRegexp captures a number followed by an area unit
	areaRegexp = regexp.MustCompile(`(?i)(\d+\.?\d*)\s*(sq\.?\s*ft|sqft|square feet|sq\.?\s*m|sqm|square meter)`)
	// areaSqftRegexp is the square-feet-only variant used on free text
	areaSqftRegexp = regexp.MustCompile(`(?i)(\d+\.?\d*)\s*(sq\.?\s*ft|sqft|square feet)`)
	// floorRegexp captures "6 out of 7" style floor descriptions
	floorNumberRegexp = regexp.MustCompile(`(?i)(\d+)\s*out of`)
	totalFloorsRegexp = regexp.MustCompile(`(?i)out of\s*(\d+)`)
	// bhkRegexp captures "3 BHK" bedroom counts
	bhkRegexp = regexp.MustCompile(`(?i)(\d+)\s*BHK`)
	// titleTypeRegexp captures the property type mentioned in a title
	titleTypeRegexp = regexp.MustCompile(`(?i)(\d+\s*BHK\s+)?(Flat|Apartment|Villa|House|Plot|Shop|Office)`)
	// titleTransactionRegexp captures "for Sale" / "for Rent"
	titleTransactionRegexp = regexp.MustCompile(`(?i)for\s+(Sale|Rent)`)
	// titleLocationRegexp captures "... for sale in <location>, <city>"
	titleLocationRegexp = regexp.MustCompile(`(?i)for (?:sale|rent) in ([^,]+),\s*(.+?)$`)
)

// sqmToSqft converts square meters to square feet.
const sqmToSqft = 10.764

// Normalizer converts RawRecords into canonical Property records. It is
// pure and total: malformed or missing fields degrade to empty strings or
// nil numerics, never to an error. Acceptability is the Validator's job.
type Normalizer struct{}

// NewNormalizer creates a Normalizer.
func NewNormalizer() *Normalizer {
	return &Normalizer{}
}

// Normalize reconciles the raw fields of one listing unit into a typed
// Property. Per-field priority: structured payload > title-extracted value
// > raw field value.
func (n *Normalizer) Normalize(raw models.RawRecord, source string) models.Property {
	var sd models.StructuredPayload
	if raw.Structured != nil {
		sd = *raw.Structured
	}

	title := firstNonEmpty(sd.Name, raw.Field("title"))
	titleData := extractDetailsFromTitle(title)

	propertyURL := firstNonEmpty(sd.URL, sd.ID, raw.Field("propertyUrl"))
	imageURL := firstNonEmpty(sd.Image, raw.Field("imageUrl"))
	bedrooms := firstNonEmpty(sd.NumberOfRooms, titleData.bedrooms, raw.Field("bedrooms"))
	location := firstNonEmpty(sd.Address.Locality, titleData.location, raw.Field("location"))
	city := firstNonEmpty(sd.Address.Region, titleData.city)
	propertyType := firstNonEmpty(titleData.propertyType, raw.Field("propertyType"))

	bathroomValue := extractLabelValue(raw.Field("bathrooms"))
	floorValue := extractLabelValue(raw.Field("floor"))
	statusValue := extractLabelValue(raw.Field("status"))
	transactionValue := extractLabelValue(raw.Field("transaction"))
	furnishingValue := extractLabelValue(raw.Field("furnishing"))
	societyValue := extractLabelValue(raw.Field("society"))

	price := raw.Field("price")
	area := raw.Field("area")
	description := raw.Field("description")

	areaNumeric := ExtractArea(area)
	if areaNumeric == nil {
		areaNumeric = extractAreaFromDescription(description)
	}

	bedroomsNumeric := firstNonNilInt(
		extractInt(bedrooms),
		extractBHK(title),
		extractInt(raw.Field("bedrooms")),
	)

	now := time.Now()

	return models.Property{
		ContentHash: ContentHash(title, propertyURL),

		Title:       cleanText(title),
		PropertyURL: propertyURL,
		ListingID:   raw.Field("listingId"),
		ImageURL:    imageURL,

		Price:    cleanText(price),
		Location: cleanText(location),
		City:     cleanText(city),
		Country:  cleanText(sd.Address.Country),

		PropertyType: cleanText(propertyType),
		Transaction:  firstNonEmpty(titleData.transaction, transactionValue),
		Description:  cleanText(description),

		Bedrooms:    cleanText(bedrooms),
		Bathrooms:   bathroomValue,
		Parking:     cleanLabeledField(raw.Field("parking")),
		Area:        cleanText(area),
		Floor:       floorValue,
		Status:      statusValue,
		Furnishing:  furnishingValue,
		Facing:      cleanLabeledField(raw.Field("facing")),
		Overlooking: cleanLabeledField(raw.Field("overlooking")),
		Ownership:   cleanLabeledField(raw.Field("ownership")),
		Society:     societyValue,
		Balcony:     cleanLabeledField(raw.Field("balcony")),

		Latitude:           sd.Geo.Latitude,
		Longitude:          sd.Geo.Longitude,
		PropertySchemaType: sd.Type,

		PriceNumeric:     ExtractPrice(price),
		AreaNumeric:      areaNumeric,
		BedroomsNumeric:  bedroomsNumeric,
		BathroomsNumeric: extractInt(bathroomValue),
		FloorNumber:      ExtractFloorNumber(floorValue),
		TotalFloors:      ExtractTotalFloors(floorValue),
		BalconiesNumeric: extractInt(raw.Field("balcony")),

		Source:        source,
		IsActive:      true,
		HasStructured: raw.Structured != nil,
		ScrapedAt:     now,
		LastUpdated:   now,
	}
}

// ContentHash is the sole deduplication key system-wide: a deterministic
// digest of title + source URL. Price and area are intentionally excluded
// so that a re-listed price change updates the existing record instead of
// creating a new one.
func ContentHash(title, propertyURL string) string {
	sum := md5.Sum([]byte(title + "-" + propertyURL))
	return hex.EncodeToString(sum[:])
}

// ExtractPrice parses a display price like "₹1.2 Crore" into its numeric
// value. The first numeric token wins; a currency-scale keyword in the same
// string applies a multiplier. Returns nil when no numeric token exists.
func ExtractPrice(raw string) *float64 {
	cleaned := cleanText(raw)
	if cleaned == "" {
		return nil
	}

	token := priceTokenRegexp.FindString(cleaned)
	if token == "" {
		return nil
	}

	value, err := strconv.ParseFloat(strings.ReplaceAll(token, ",", ""), 64)
	if err != nil {
		return nil
	}

	lower := strings.ToLower(cleaned)
	switch {
	case strings.Contains(lower, "crore") || strings.Contains(lower, "cr"):
		value *= 10_000_000
	case strings.Contains(lower, "lakh") || strings.Contains(lower, "lac"):
		value *= 100_000
	case strings.Contains(lower, "million"):
		value *= 1_000_000
	case strings.Contains(lower, "thousand") || strings.Contains(lower, "k"):
		value *= 1_000
	}

	return &value
}

// ExtractArea parses "544 sqft" or "50 sq m" into a square-feet value.
// Square meters are converted; a bare number without a unit is accepted
// as-is.
func ExtractArea(raw string) *float64 {
	if strings.TrimSpace(raw) == "" {
		return nil
	}

	cleaned := strings.ToLower(strings.ReplaceAll(raw, "\n", " "))
	match := areaRegexp.FindStringSubmatch(cleaned)
	if match == nil {
		return extractFloat(raw)
	}

	value, err := strconv.ParseFloat(match[1], 64)
	if err != nil {
		return nil
	}

	if strings.Contains(match[2], "m") {
		value *= sqmToSqft
	}

	return &value
}

// ExtractFloorNumber parses the floor out of "6 out of 7". Without the
// "out of" shape it falls back to the first numeric token.
func ExtractFloorNumber(raw string) *int {
	if raw == "" {
		return nil
	}
	if match := floorNumberRegexp.FindStringSubmatch(raw); match != nil {
		n, err := strconv.Atoi(match[1])
		if err == nil {
			return &n
		}
	}
	return extractInt(raw)
}

// ExtractTotalFloors parses the building height out of "6 out of 7".
// There is no fallback: a bare number means the floor, not the total.
func ExtractTotalFloors(raw string) *int {
	if raw == "" {
		return nil
	}
	match := totalFloorsRegexp.FindStringSubmatch(raw)
	if match == nil {
		return nil
	}
	n, err := strconv.Atoi(match[1])
	if err != nil {
		return nil
	}
	return &n
}

func extractAreaFromDescription(description string) *float64 {
	if description == "" {
		return nil
	}
	match := areaSqftRegexp.FindStringSubmatch(description)
	if match == nil {
		return nil
	}
	value, err := strconv.ParseFloat(match[1], 64)
	if err != nil {
		return nil
	}
	return &value
}

func extractBHK(title string) *int {
	match := bhkRegexp.FindStringSubmatch(title)
	if match == nil {
		return nil
	}
	n, err := strconv.Atoi(match[1])
	if err != nil {
		return nil
	}
	return &n
}

// titleDetails holds the fields recoverable from a listing title like
// "3 BHK Flat for Sale in Andheri West, Mumbai".
type titleDetails struct {
	bedrooms     string
	propertyType string
	transaction  string
	location     string
	city         string
}

func extractDetailsFromTitle(title string) titleDetails {
	var d titleDetails
	if title == "" {
		return d
	}

	if match := bhkRegexp.FindStringSubmatch(title); match != nil {
		d.bedrooms = match[1]
	}
	if match := titleTypeRegexp.FindStringSubmatch(title); match != nil {
		d.propertyType = match[2]
	}
	if match := titleTransactionRegexp.FindStringSubmatch(title); match != nil {
		d.transaction = match[1]
	}
	if match := titleLocationRegexp.FindStringSubmatch(title); match != nil {
		d.location = strings.TrimSpace(match[1])
		d.city = strings.TrimSpace(match[2])
	}

	return d
}

// extractLabelValue strips the label off a "LABEL\nvalue" field, keeping
// only the value on the last non-empty line.
func extractLabelValue(raw string) string {
	if raw == "" {
		return ""
	}

	parts := strings.Split(raw, "\n")
	value := ""
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			value = trimmed
		}
	}
	return value
}

// cleanLabeledField removes a leading all-caps label from a field whose
// newlines were already flattened, e.g. "PARKING 1 Covered" → "1 Covered".
func cleanLabeledField(raw string) string {
	cleaned := cleanText(raw)
	if cleaned == "" {
		return ""
	}

	parts := strings.Fields(cleaned)
	if len(parts) > 1 && isAllUpper(parts[0]) {
		return strings.Join(parts[1:], " ")
	}
	return cleaned
}

func isAllUpper(s string) bool {
	hasLetter := false
	for _, r := range s {
		if unicode.IsLetter(r) {
			hasLetter = true
			if !unicode.IsUpper(r) {
				return false
			}
		}
	}
	return hasLetter
}

// cleanText flattens newlines, collapses internal whitespace and trims.
func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func extractFloat(raw string) *float64 {
	match := numberRegexp.FindString(strings.ReplaceAll(raw, "\n", " "))
	if match == "" {
		return nil
	}
	value, err := strconv.ParseFloat(match, 64)
	if err != nil {
		return nil
	}
	return &value
}

func extractInt(raw string) *int {
	f := extractFloat(raw)
	if f == nil {
		return nil
	}
	n := int(*f)
	return &n
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func firstNonNilInt(values ...*int) *int {
	for _, v := range values {
		if v != nil {
			return v
		}
	}
	return nil
}
