package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration.
type Config struct {
	Port            string
	Env             string
	CORSAllowOrigin []string
	DatabaseURL     string

	ObjectStoreType string
	LocalStoreDir   string
	AWSRegion       string
	S3Bucket        string
	S3Prefix        string

	GeminiAPIKey  string
	GeminiBaseURL string

	ReportModel     string
	SectionModel    string
	AuditModel      string
	ComparisonModel string

	UploadRetries    int
	UploadRetryDelay time.Duration
	FileReadyTimeout time.Duration

	ParserAPIKey  string
	ParserBaseURL string

	FirecrawlAPIKey  string
	FirecrawlBaseURL string
	EnrichModel      string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() Config {
	// Best-effort load of local env files for dev convenience.
	loadEnvFiles(".env", "cmd/.env")

	env := normalizeEnv(getEnv("ENV", "dev"))
	dbURL := os.Getenv("DATABASE_URL")

	if env == "production" && dbURL == "" {
		log.Printf("DATABASE_URL is required in production")
	}

	reportModel := getEnv("REPORT_MODEL", "gemini-2.5-pro")

	return Config{
		Port:            getEnv("PORT", "8080"),
		Env:             env,
		CORSAllowOrigin: splitAndTrim(getEnv("CORS_ALLOW_ORIGINS", "http://localhost:5173")),
		DatabaseURL:     dbURL,

		ObjectStoreType: normalizeStoreType(getEnv("OBJECT_STORE", "local")),
		LocalStoreDir:   getEnv("LOCAL_STORE_DIR", "./data"),
		AWSRegion:       getEnv("AWS_REGION", ""),
		S3Bucket:        getEnv("S3_BUCKET", ""),
		S3Prefix:        getEnv("S3_PREFIX", ""),

		GeminiAPIKey:  getEnv("GEMINI_API_KEY", ""),
		GeminiBaseURL: getEnv("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com"),

		ReportModel:     reportModel,
		SectionModel:    getEnv("SECTION_MODEL", reportModel),
		AuditModel:      getEnv("AUDIT_MODEL", "gemini-2.5-flash"),
		ComparisonModel: getEnv("COMPARISON_MODEL", "gemini-2.5-flash"),

		UploadRetries:    getEnvInt("UPLOAD_RETRIES", 3),
		UploadRetryDelay: getEnvDuration("UPLOAD_RETRY_DELAY", 2*time.Second),
		FileReadyTimeout: getEnvDuration("FILE_READY_TIMEOUT", 2*time.Minute),

		ParserAPIKey:  getEnv("LLAMACLOUD_API_KEY", ""),
		ParserBaseURL: getEnv("LLAMACLOUD_BASE_URL", "https://api.cloud.llamaindex.ai"),

		FirecrawlAPIKey:  getEnv("FIRECRAWL_API_KEY", ""),
		FirecrawlBaseURL: getEnv("FIRECRAWL_BASE_URL", "https://api.firecrawl.dev"),
		EnrichModel:      getEnv("ENRICH_MODEL", "gemini-2.5-flash"),
	}
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getEnvInt(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		log.Printf("config env %s invalid int: %v", key, err)
		return def
	}
	return val
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	val, err := time.ParseDuration(raw)
	if err != nil {
		log.Printf("config env %s invalid duration: %v", key, err)
		return def
	}
	return val
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	var out []string
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func normalizeEnv(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "production", "prod":
		return "production"
	case "staging":
		return "staging"
	case "local":
		return "local"
	default:
		return "dev"
	}
}

func normalizeStoreType(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "s3":
		return "s3"
	default:
		return "local"
	}
}
