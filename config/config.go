package config

import (
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	TargetURL         string
	MaxPages          int
	DelayBetweenPages int // milliseconds
	MaxRetries        int
	NavigationTimeout int // milliseconds
	CaptureWaitMs     int
	MaxConcurrency    int

	MaxScrollCycles          int
	MaxNoNewCardTries        int
	BottomHitTriesBeforeNext int
	ContentWaitMs            int
	ClickWaitMs              int

	ServerAddr string
	ExportDir  string
	ChromeBin  string
	Headless   bool
	UserAgent  string
	ViewportW  int
	ViewportH  int

	Selectors Selectors
}

// Selectors maps listing fields to the CSS selectors used to read them from
// a property card. The defaults target MagicBricks search result pages and
// can be overridden per deployment via env vars.
type Selectors struct {
	PropertyCard string
	Pagination   string
	NextButton   string

	Fields map[string]string
}

// Load reads the .env file and returns a populated Config struct.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("[config] No .env file found, falling back to system env vars")
	}

	return &Config{
		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "scraper"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "scraper123"),
		PostgresDB:       getEnv("POSTGRES_DB", "property_db"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),

		TargetURL:         getEnv("TARGET_URL", "https://www.magicbricks.com/flats-for-sale-in-mumbai"),
		MaxPages:          getEnvInt("MAX_PAGES", 10),
		DelayBetweenPages: getEnvInt("DELAY_BETWEEN_PAGES", 2000),
		MaxRetries:        getEnvInt("MAX_RETRIES", 3),
		NavigationTimeout: getEnvInt("NAVIGATION_TIMEOUT_MS", 60000),
		CaptureWaitMs:     getEnvInt("CAPTURE_WAIT_MS", 15000),
		MaxConcurrency:    getEnvInt("MAX_CONCURRENCY", 2),

		MaxScrollCycles:          getEnvInt("MAX_SCROLL_CYCLES", 250),
		MaxNoNewCardTries:        getEnvInt("MAX_NO_NEW_CARD_TRIES", 30),
		BottomHitTriesBeforeNext: getEnvInt("BOTTOM_HIT_TRIES_BEFORE_NEXT", 2),
		ContentWaitMs:            getEnvInt("CONTENT_WAIT_MS", 4500),
		ClickWaitMs:              getEnvInt("CLICK_WAIT_MS", 12000),

		ServerAddr: getEnv("SERVER_ADDR", ":3000"),
		ExportDir:  getEnv("EXPORT_DIR", "./exports"),
		ChromeBin:  getEnv("CHROME_BIN", ""),
		Headless:   getEnvBool("HEADLESS", true),
		UserAgent: getEnv("USER_AGENT",
			"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 "+
				"(KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"),
		ViewportW: getEnvInt("VIEWPORT_WIDTH", 1920),
		ViewportH: getEnvInt("VIEWPORT_HEIGHT", 1080),

		Selectors: defaultSelectors(),
	}
}

func defaultSelectors() Selectors {
	return Selectors{
		PropertyCard: getEnv("SEL_PROPERTY_CARD", ".mb-srp__list"),
		Pagination:   getEnv("SEL_PAGINATION", ".mb-pagination"),
		NextButton:   getEnv("SEL_NEXT_BUTTON", ".mb-pagination--next"),
		Fields: map[string]string{
			"title":        getEnv("SEL_TITLE", ".mb-srp__card--title"),
			"price":        getEnv("SEL_PRICE", ".mb-srp__card__price--amount"),
			"location":     ".location, .address, .area",
			"bedrooms":     ".bedrooms, .beds, [data-beds]",
			"bathrooms":    `[data-summary="bathroom"]`,
			"parking":      `[data-summary="parking"]`,
			"area":         `[data-summary="carpet-area"]`,
			"floor":        `[data-summary="floor"]`,
			"status":       `[data-summary="status"]`,
			"transaction":  `[data-summary="transaction"]`,
			"furnishing":   `[data-summary="furnishing"]`,
			"facing":       `[data-summary="facing"]`,
			"overlooking":  `[data-summary="overlooking"]`,
			"ownership":    `[data-summary="ownership"]`,
			"society":      `[data-summary="society"]`,
			"balcony":      `[data-summary="balcony"]`,
			"propertyType": ".type, .property-type, .category",
			"description":  getEnv("SEL_DESCRIPTION", ".mb-srp__card--desc--text"),
		},
	}
}

// DSN returns the PostgreSQL connection string.
func (c *Config) DSN() string {
	return "host=" + c.PostgresHost +
		" port=" + c.PostgresPort +
		" user=" + c.PostgresUser +
		" password=" + c.PostgresPassword +
		" dbname=" + c.PostgresDB +
		" sslmode=" + c.PostgresSSLMode
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		n, err := strconv.Atoi(val)
		if err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		b, err := strconv.ParseBool(val)
		if err == nil {
			return b
		}
	}
	return fallback
}
