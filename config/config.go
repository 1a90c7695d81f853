package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	Port string // default: 8080

	// Database
	PostgresDSN string

	// Cache
	RedisAddr string

	// Ingestion auth
	IngestToken string

	// Provider credentials
	VercelToken        string
	VercelTeamID       string
	GitHubToken        string
	GitHubOrg          string
	CloudflareAPIToken string
	CloudflareZoneID   string

	// Observability
	OTELExporterType     string // "stdout" or "otlp"
	OTELExporterEndpoint string // default: "localhost:4317"
	LogLevel             string // default: "info"
	LogFormat            string // "json" or "console"

	// Rate Limiting
	IngestRateLimit int64 // ingestion requests per minute, default: 60
}

func Load() (*Config, error) {
	// Load .env file if present (non-fatal if missing)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                 getEnv("PORT", "8080"),
		PostgresDSN:          os.Getenv("POSTGRES_DSN"),
		RedisAddr:            os.Getenv("REDIS_ADDR"),
		IngestToken:          os.Getenv("INGEST_TOKEN"),
		VercelToken:          os.Getenv("VERCEL_TOKEN"),
		VercelTeamID:         os.Getenv("VERCEL_TEAM_ID"),
		GitHubToken:          os.Getenv("GITHUB_TOKEN"),
		GitHubOrg:            os.Getenv("GITHUB_ORG"),
		CloudflareAPIToken:   os.Getenv("CLOUDFLARE_API_TOKEN"),
		CloudflareZoneID:     os.Getenv("CLOUDFLARE_ZONE_ID"),
		OTELExporterType:     getEnv("OTEL_EXPORTER_TYPE", "stdout"),
		OTELExporterEndpoint: getEnv("OTEL_EXPORTER_ENDPOINT", "localhost:4317"),
		LogLevel:             getEnv("LOG_LEVEL", "info"),
		LogFormat:            getEnv("LOG_FORMAT", "json"),
	}

	// Rate Limiting Default
	rpmStr := getEnv("INGEST_RATE_LIMIT", "60")
	rpm, err := strconv.ParseInt(rpmStr, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid INGEST_RATE_LIMIT: %w", err)
	}
	cfg.IngestRateLimit = rpm

	// Validation
	if cfg.PostgresDSN == "" {
		return nil, fmt.Errorf("POSTGRES_DSN is required")
	}
	if cfg.RedisAddr == "" {
		return nil, fmt.Errorf("REDIS_ADDR is required")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
