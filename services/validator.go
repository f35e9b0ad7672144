package services

import (
	"fmt"
	"strings"

	"property-scraper/models"
	"property-scraper/utils"
)

// ValidationRules holds the acceptability thresholds applied after
// normalization. Normalization itself never rejects anything.
type ValidationRules struct {
	RequiredFields []string
	PriceMin       float64
	PriceMax       float64
}

// DefaultValidationRules mirrors the rules used in production.
func DefaultValidationRules() ValidationRules {
	return ValidationRules{
		RequiredFields: []string{"title", "price"},
		PriceMin:       0,
		PriceMax:       100_000_000,
	}
}

// InvalidProperty pairs a rejected record with the reasons it failed.
type InvalidProperty struct {
	Property models.Property
	Errors   []string
}

// Validator decides whether a normalized record is acceptable for storage.
type Validator struct {
	rules  ValidationRules
	logger *utils.Logger
}

// NewValidator creates a Validator with the given rules.
func NewValidator(rules ValidationRules, logger *utils.Logger) *Validator {
	return &Validator{rules: rules, logger: logger}
}

// Validate checks a single record and returns the list of failures.
func (v *Validator) Validate(p models.Property) []string {
	var errs []string

	for _, field := range v.rules.RequiredFields {
		if v.fieldValue(p, field) == "" {
			errs = append(errs, fmt.Sprintf("missing required field: %s", field))
		}
	}

	if p.PriceNumeric != nil {
		if *p.PriceNumeric < v.rules.PriceMin {
			errs = append(errs, "price below minimum threshold")
		}
		if *p.PriceNumeric > v.rules.PriceMax {
			errs = append(errs, "price above maximum threshold")
		}
	}

	if p.PropertyURL != "" && !strings.HasPrefix(p.PropertyURL, "http") {
		errs = append(errs, "invalid property URL")
	}

	if p.BedroomsNumeric != nil && *p.BedroomsNumeric < 0 {
		errs = append(errs, "invalid bedrooms count")
	}

	return errs
}

// ValidateBatch splits records into accepted and rejected sets.
func (v *Validator) ValidateBatch(properties []models.Property) (valid []models.Property, invalid []InvalidProperty) {
	for _, p := range properties {
		if errs := v.Validate(p); len(errs) > 0 {
			invalid = append(invalid, InvalidProperty{Property: p, Errors: errs})
			continue
		}
		valid = append(valid, p)
	}

	if len(invalid) > 0 {
		v.logger.Warn("[validator] Rejected %d of %d records", len(invalid), len(valid)+len(invalid))
	}
	return valid, invalid
}

func (v *Validator) fieldValue(p models.Property, field string) string {
	switch field {
	case "title":
		return p.Title
	case "price":
		return p.Price
	case "location":
		return p.Location
	case "propertyUrl":
		return p.PropertyURL
	default:
		return "-"
	}
}
