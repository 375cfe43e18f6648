package config

import "os"

// Config holds process-wide server configuration, sourced from the
// environment following 12-factor conventions.
type Config struct {
	Port             string
	LogLevel         string
	StorageEngine    string // "sqlite" | "postgres"
	DatabaseURL      string
	TenantProfileDir string
	AdminJWTSecret   string
	OpenAIAPIKey     string
	BillingBuffer    int
	RateLimitRPS     float64
	RateLimitBurst   int
	S3ExportBucket   string // empty disables the durable export sink
	S3ExportPrefix   string
}

// Load loads configuration from environment variables.
func Load() *Config {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "INFO"
	}

	engine := os.Getenv("STORAGE_ENGINE")
	if engine == "" {
		engine = "sqlite"
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		// Default to a local file-backed SQLite database in dev mode.
		dbURL = "signet.db"
	}

	profileDir := os.Getenv("TENANT_PROFILE_DIR")
	if profileDir == "" {
		profileDir = "./profiles"
	}

	rps := 10.0
	burst := 20

	return &Config{
		Port:             port,
		LogLevel:         logLevel,
		StorageEngine:    engine,
		DatabaseURL:      dbURL,
		TenantProfileDir: profileDir,
		AdminJWTSecret:   os.Getenv("ADMIN_JWT_SECRET"),
		OpenAIAPIKey:     os.Getenv("OPENAI_API_KEY"),
		BillingBuffer:    256,
		RateLimitRPS:     rps,
		RateLimitBurst:   burst,
		S3ExportBucket:   os.Getenv("S3_EXPORT_BUCKET"),
		S3ExportPrefix:   os.Getenv("S3_EXPORT_PREFIX"),
	}
}
