package services

import (
	"testing"

	"property-scraper/models"
)

func floatPtr(v float64) *float64 { return &v }

func TestExtractPrice(t *testing.T) {
	tests := []struct {
		raw  string
		want *float64
	}{
		{"₹1.2 Crore", floatPtr(12_000_000)},
		{"45 Lakh", floatPtr(4_500_000)},
		{"₹32.5 Lac", floatPtr(3_250_000)},
		{"2 Cr", floatPtr(20_000_000)},
		{"1.5 million", floatPtr(1_500_000)},
		{"450k", floatPtr(450_000)},
		{"50,000", floatPtr(50_000)},
		{"₹\n85\nLakh", floatPtr(8_500_000)},
		{"Price on Request", nil},
		{"", nil},
	}

	for _, tt := range tests {
		got := ExtractPrice(tt.raw)
		if tt.want == nil {
			if got != nil {
				t.Errorf("ExtractPrice(%q) = %v; want nil", tt.raw, *got)
			}
			continue
		}
		if got == nil {
			t.Errorf("ExtractPrice(%q) = nil; want %.0f", tt.raw, *tt.want)
			continue
		}
		if *got != *tt.want {
			t.Errorf("ExtractPrice(%q) = %.2f; want %.2f", tt.raw, *got, *tt.want)
		}
	}
}

func TestExtractArea(t *testing.T) {
	tests := []struct {
		raw  string
		want *float64
	}{
		{"544 sqft", floatPtr(544)},
		{"1,200 sq.ft", floatPtr(200)}, // unit regexp does not cross the thousands separator
		{"50 sq m", floatPtr(50 * 10.764)},
		{"75 sqm", floatPtr(75 * 10.764)},
		{"544", floatPtr(544)},
		{"Carpet Area", nil},
		{"", nil},
	}

	for _, tt := range tests {
		got := ExtractArea(tt.raw)
		if tt.want == nil {
			if got != nil {
				t.Errorf("ExtractArea(%q) = %v; want nil", tt.raw, *got)
			}
			continue
		}
		if got == nil || *got != *tt.want {
			t.Errorf("ExtractArea(%q) = %v; want %.3f", tt.raw, got, *tt.want)
		}
	}
}

func TestExtractFloor(t *testing.T) {
	tests := []struct {
		raw        string
		wantFloor  *int
		wantTotals *int
	}{
		{"6 out of 7", intPtr(6), intPtr(7)},
		{"Ground", nil, nil},
		{"12", intPtr(12), nil},
		{"", nil, nil},
	}

	for _, tt := range tests {
		gotFloor := ExtractFloorNumber(tt.raw)
		gotTotal := ExtractTotalFloors(tt.raw)

		if !intPtrEqual(gotFloor, tt.wantFloor) {
			t.Errorf("ExtractFloorNumber(%q) = %v; want %v", tt.raw, fmtIntPtr(gotFloor), fmtIntPtr(tt.wantFloor))
		}
		if !intPtrEqual(gotTotal, tt.wantTotals) {
			t.Errorf("ExtractTotalFloors(%q) = %v; want %v", tt.raw, fmtIntPtr(gotTotal), fmtIntPtr(tt.wantTotals))
		}
	}
}

func TestContentHashStableAcrossFieldDifferences(t *testing.T) {
	n := NewNormalizer()

	r1 := models.RawRecord{Fields: map[string]string{
		"title":       "3 BHK Flat for Sale in Andheri West, Mumbai",
		"propertyUrl": "https://example.com/property/123",
		"price":       "₹1.2 Crore",
	}}
	r2 := models.RawRecord{Fields: map[string]string{
		"title":       "3 BHK Flat for Sale in Andheri West, Mumbai",
		"propertyUrl": "https://example.com/property/123",
		"price":       "₹1.4 Crore",
		"area":        "980 sqft",
	}}

	p1 := n.Normalize(r1, "https://example.com")
	p2 := n.Normalize(r2, "https://example.com")

	if p1.ContentHash != p2.ContentHash {
		t.Errorf("records with identical title+URL produced different hashes: %s vs %s",
			p1.ContentHash, p2.ContentHash)
	}
	if p1.ContentHash == "" {
		t.Error("content hash is empty")
	}
}

func TestNormalizeReconciliationPriority(t *testing.T) {
	n := NewNormalizer()

	raw := models.RawRecord{
		Fields: map[string]string{
			"title":       "2 BHK Apartment for Rent in Baner, Pune",
			"propertyUrl": "https://example.com/property/55",
			"price":       "45 Lakh",
			"bedrooms":    "4",
			"bathrooms":   "BATHROOM\n2",
			"floor":       "FLOOR\n6 out of 7",
			"furnishing":  "FURNISHING\nSemi-Furnished",
			"area":        "544 sqft",
		},
		Structured: &models.StructuredPayload{
			Name:          "2 BHK Apartment for Rent in Baner, Pune",
			NumberOfRooms: "3",
			Address:       models.Address{Locality: "Baner", Region: "Pune", Country: "IN"},
		},
	}

	p := n.Normalize(raw, "https://example.com")

	// Structured payload wins over the BHK pattern and the raw field.
	if p.BedroomsNumeric == nil || *p.BedroomsNumeric != 3 {
		t.Errorf("bedrooms = %v; want 3 (structured payload priority)", fmtIntPtr(p.BedroomsNumeric))
	}
	if p.Location != "Baner" {
		t.Errorf("location = %q; want Baner", p.Location)
	}
	if p.City != "Pune" {
		t.Errorf("city = %q; want Pune", p.City)
	}
	if p.Bathrooms != "2" {
		t.Errorf("bathrooms = %q; want label stripped to 2", p.Bathrooms)
	}
	if p.FloorNumber == nil || *p.FloorNumber != 6 {
		t.Errorf("floor = %v; want 6", fmtIntPtr(p.FloorNumber))
	}
	if p.TotalFloors == nil || *p.TotalFloors != 7 {
		t.Errorf("total floors = %v; want 7", fmtIntPtr(p.TotalFloors))
	}
	if p.Furnishing != "Semi-Furnished" {
		t.Errorf("furnishing = %q; want Semi-Furnished", p.Furnishing)
	}
	if p.Transaction != "Rent" {
		t.Errorf("transaction = %q; want Rent (from title)", p.Transaction)
	}
	if p.PropertyType != "Apartment" {
		t.Errorf("property type = %q; want Apartment (from title)", p.PropertyType)
	}
	if p.PriceNumeric == nil || *p.PriceNumeric != 4_500_000 {
		t.Errorf("price numeric = %v; want 4500000", p.PriceNumeric)
	}
	if !p.HasStructured {
		t.Error("HasStructured = false; want true")
	}
	if !p.IsActive {
		t.Error("IsActive = false; want true")
	}
}

func TestNormalizeNeverFailsOnGarbage(t *testing.T) {
	n := NewNormalizer()

	records := []models.RawRecord{
		{},
		{Fields: map[string]string{}},
		{Fields: map[string]string{"title": "\n\n", "price": "???", "area": "N/A"}},
	}

	for i, r := range records {
		p := n.Normalize(r, "https://example.com")
		if p.PriceNumeric != nil {
			t.Errorf("record %d: price numeric = %v; want nil", i, *p.PriceNumeric)
		}
		if p.AreaNumeric != nil {
			t.Errorf("record %d: area numeric = %v; want nil", i, *p.AreaNumeric)
		}
	}
}

func TestNormalizeAreaFallbackToDescription(t *testing.T) {
	n := NewNormalizer()

	raw := models.RawRecord{Fields: map[string]string{
		"title":       "Plot for Sale in Wakad, Pune",
		"propertyUrl": "https://example.com/property/9",
		"area":        "Super Area",
		"description": "Spacious plot of 1850 sqft close to the highway.",
	}}

	p := n.Normalize(raw, "https://example.com")
	if p.AreaNumeric == nil || *p.AreaNumeric != 1850 {
		t.Errorf("area numeric = %v; want 1850 from description fallback", p.AreaNumeric)
	}
}

func TestCleanLabeledField(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"PARKING\n1 Covered", "1 Covered"},
		{"OVERLOOKING Garden/Park", "Garden/Park"},
		{"East", "East"},
		{"", ""},
	}

	for _, tt := range tests {
		if got := cleanLabeledField(tt.raw); got != tt.want {
			t.Errorf("cleanLabeledField(%q) = %q; want %q", tt.raw, got, tt.want)
		}
	}
}

func intPtr(v int) *int { return &v }

func intPtrEqual(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func fmtIntPtr(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}
