package storage

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"property-scraper/models"
)

// Exporter dumps canonical records to timestamped CSV and JSON files.
type Exporter struct {
	dir string
}

// NewExporter creates an Exporter writing into dir, creating it if needed.
func NewExporter(dir string) *Exporter {
	return &Exporter{dir: dir}
}

// ExportJSON writes the records as a pretty-printed JSON array and returns
// the file path.
func (e *Exporter) ExportJSON(properties []models.Property) (string, error) {
	if err := os.MkdirAll(e.dir, 0755); err != nil {
		return "", fmt.Errorf("export: create dir: %w", err)
	}

	path := filepath.Join(e.dir, fmt.Sprintf("properties_%d.json", time.Now().UnixMilli()))
	data, err := json.MarshalIndent(properties, "", "  ")
	if err != nil {
		return "", fmt.Errorf("export: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("export: write %q: %w", path, err)
	}
	return path, nil
}

// ExportCSV writes the records as CSV and returns the file path.
func (e *Exporter) ExportCSV(properties []models.Property) (string, error) {
	if err := os.MkdirAll(e.dir, 0755); err != nil {
		return "", fmt.Errorf("export: create dir: %w", err)
	}

	path := filepath.Join(e.dir, fmt.Sprintf("properties_%d.csv", time.Now().UnixMilli()))
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("export: create file %q: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	header := []string{
		"content_hash", "title", "property_url", "price", "price_numeric",
		"location", "city", "property_type", "transaction",
		"bedrooms", "bathrooms", "area_numeric", "floor_number", "total_floors",
		"source", "is_active", "scraped_at", "last_updated",
	}
	if err := w.Write(header); err != nil {
		return "", fmt.Errorf("export: write header: %w", err)
	}

	for _, p := range properties {
		row := []string{
			p.ContentHash,
			p.Title,
			p.PropertyURL,
			p.Price,
			formatFloatPtr(p.PriceNumeric),
			p.Location,
			p.City,
			p.PropertyType,
			p.Transaction,
			p.Bedrooms,
			p.Bathrooms,
			formatFloatPtr(p.AreaNumeric),
			formatIntPtr(p.FloorNumber),
			formatIntPtr(p.TotalFloors),
			p.Source,
			strconv.FormatBool(p.IsActive),
			p.ScrapedAt.Format(time.RFC3339),
			p.LastUpdated.Format(time.RFC3339),
		}
		if err := w.Write(row); err != nil {
			return "", fmt.Errorf("export: write row: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("export: flush: %w", err)
	}
	return path, nil
}

func formatFloatPtr(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

func formatIntPtr(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}
