package services

import (
	"testing"

	"property-scraper/models"
	"property-scraper/utils"
)

func validProperty() models.Property {
	price := 12_000_000.0
	return models.Property{
		Title:        "3 BHK Flat for Sale in Andheri West",
		Price:        "₹1.2 Crore",
		PriceNumeric: &price,
		PropertyURL:  "https://www.example.com/property/123",
	}
}

func TestValidatorAcceptsCompleteRecord(t *testing.T) {
	v := NewValidator(DefaultValidationRules(), utils.NewLogger())

	if errs := v.Validate(validProperty()); len(errs) != 0 {
		t.Fatalf("Validate returned errors for a complete record: %v", errs)
	}
}

func TestValidatorRejections(t *testing.T) {
	v := NewValidator(DefaultValidationRules(), utils.NewLogger())

	tests := []struct {
		name   string
		mutate func(*models.Property)
	}{
		{"missing title", func(p *models.Property) { p.Title = "" }},
		{"missing price", func(p *models.Property) { p.Price = "" }},
		{"price above maximum", func(p *models.Property) {
			huge := 500_000_000.0
			p.PriceNumeric = &huge
		}},
		{"relative property URL", func(p *models.Property) { p.PropertyURL = "/property/123" }},
		{"negative bedrooms", func(p *models.Property) {
			n := -1
			p.BedroomsNumeric = &n
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := validProperty()
			tt.mutate(&p)
			if errs := v.Validate(p); len(errs) == 0 {
				t.Errorf("Validate accepted a record with %s", tt.name)
			}
		})
	}
}

func TestValidatorNilNumericsAreNotErrors(t *testing.T) {
	v := NewValidator(DefaultValidationRules(), utils.NewLogger())

	p := validProperty()
	p.PriceNumeric = nil
	p.BedroomsNumeric = nil

	// Absent numerics mean "could not extract", which is acceptable as long
	// as the raw fields are present.
	if errs := v.Validate(p); len(errs) != 0 {
		t.Fatalf("Validate rejected nil numerics: %v", errs)
	}
}

func TestValidateBatchSplitsRecords(t *testing.T) {
	v := NewValidator(DefaultValidationRules(), utils.NewLogger())

	good := validProperty()
	bad := validProperty()
	bad.Title = ""

	valid, invalid := v.ValidateBatch([]models.Property{good, bad})
	if len(valid) != 1 || len(invalid) != 1 {
		t.Fatalf("ValidateBatch split = %d valid, %d invalid; want 1 and 1", len(valid), len(invalid))
	}
	if len(invalid[0].Errors) == 0 {
		t.Error("invalid record carries no reasons")
	}
}
