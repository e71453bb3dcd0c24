package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the panic-report console.
type Config struct {
	Environment    string
	HTTPPort       int
	LogLevel       string
	AllowedOrigins []string
	FrontendURL    string

	DatabaseURL string
	DataStore   string

	GoogleClientID     string
	GoogleClientSecret string
	OAuthRedirectURL   string
	AllowedDomain      string

	RegistryURL      string
	RegistryAppID    string
	RegistryAppToken string

	SessionStore string
	SessionFile  string
	RedisURL     string
}

// Load reads configuration from environment variables with sensible defaults
// for local development. A .env file in the working directory is applied
// first when present.
func Load() (Config, error) {
	_ = godotenv.Load()

	databaseURL, err := getEnvOrFile("DATABASE_URL", "/run/secrets/panicdesk_database_url")
	if err != nil {
		return Config{}, err
	}

	clientSecret, err := getEnvOrFile("GOOGLE_CLIENT_SECRET", "/run/secrets/panicdesk_google_client_secret")
	if err != nil {
		return Config{}, err
	}

	registryToken, err := getEnvOrFile("REGISTRY_APP_TOKEN", "/run/secrets/panicdesk_registry_app_token")
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Environment:    getEnv("APP_ENV", "development"),
		LogLevel:       strings.ToLower(getEnv("LOG_LEVEL", "info")),
		AllowedOrigins: parseCSV(getEnv("ALLOWED_ORIGINS", "http://localhost:5173,http://localhost:8080")),
		FrontendURL:    getEnv("FRONTEND_URL", "http://localhost:5173"),

		DatabaseURL: databaseURL,
		DataStore:   strings.ToLower(getEnv("DATA_STORE", "memory")),

		GoogleClientID:     os.Getenv("GOOGLE_CLIENT_ID"),
		GoogleClientSecret: strings.TrimSpace(clientSecret),
		OAuthRedirectURL:   getEnv("OAUTH_REDIRECT_URL", "http://localhost:8080/auth/callback"),
		AllowedDomain:      getEnv("ALLOWED_DOMAIN", "unicach.mx"),

		RegistryURL:      os.Getenv("REGISTRY_URL"),
		RegistryAppID:    getEnv("REGISTRY_APP_ID", "PANICO"),
		RegistryAppToken: strings.TrimSpace(registryToken),

		SessionStore: strings.ToLower(getEnv("SESSION_STORE", "file")),
		SessionFile:  getEnv("SESSION_FILE", "data/session.json"),
		RedisURL:     os.Getenv("REDIS_URL"),
	}

	portValue := getEnv("PORT", getEnv("HTTP_PORT", "8080"))
	port, err := strconv.Atoi(portValue)
	if err != nil {
		return Config{}, fmt.Errorf("invalid port %q: %w", portValue, err)
	}
	cfg.HTTPPort = port

	if cfg.GoogleClientID == "" {
		return Config{}, fmt.Errorf("GOOGLE_CLIENT_ID is not set")
	}
	if cfg.DataStore == "postgres" && cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATA_STORE is postgres but DATABASE_URL is not set")
	}
	if cfg.SessionStore == "redis" && cfg.RedisURL == "" {
		return Config{}, fmt.Errorf("SESSION_STORE is redis but REDIS_URL is not set")
	}

	switch cfg.SessionStore {
	case "memory", "file", "redis":
	default:
		return Config{}, fmt.Errorf("invalid SESSION_STORE %q", cfg.SessionStore)
	}

	return cfg, nil
}

// HTTPAddress returns the address the HTTP server should bind to.
func (c Config) HTTPAddress() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

// UseInMemoryStore returns true if the in-memory repository should be used.
func (c Config) UseInMemoryStore() bool {
	return c.DataStore == "memory"
}

// RegistryEnabled reports whether the institutional registry check is
// configured.
func (c Config) RegistryEnabled() bool {
	return c.RegistryURL != ""
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func parseCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		trimmed := strings.TrimSpace(p)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func getEnvOrFile(key, defaultPath string) (string, error) {
	if value := os.Getenv(key); value != "" {
		return value, nil
	}

	fileKey := key + "_FILE"
	if path := os.Getenv(fileKey); path != "" {
		return readSecret(path, fileKey)
	}

	if defaultPath != "" {
		return readSecret(defaultPath, key)
	}

	return "", nil
}

func readSecret(path, name string) (string, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("config: reading %s (%s): %w", name, path, err)
	}

	value := strings.TrimSpace(string(contents))
	if value == "" {
		return "", fmt.Errorf("config: %s (%s) is empty", name, path)
	}
	return value, nil
}
