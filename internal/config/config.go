package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// ProviderCredentials holds one platform's OAuth client registration.
type ProviderCredentials struct {
	ClientID     string
	ClientSecret string
}

// Configured reports whether both halves of the registration are present.
func (c ProviderCredentials) Configured() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

// Config aggregates runtime configuration for the StreamLens service.
type Config struct {
	Environment    string
	HTTPPort       int
	BaseURL        string
	LogLevel       string
	AllowedOrigins []string
	DataStore      string
	DatabaseURL    string
	Twitch         ProviderCredentials
	YouTube        ProviderCredentials
	// InsecureSkipTLSVerify disables certificate checks on the provider
	// HTTP client only. Honored exclusively in development.
	InsecureSkipTLSVerify bool
}

// Load reads configuration from environment variables with sensible defaults
// for local development. Missing provider credentials outside development
// are a fatal configuration error, never a per-request one.
func Load() (Config, error) {
	twitchSecret, err := getEnvOrFile("TWITCH_CLIENT_SECRET", "/run/secrets/streamlens_twitch_client_secret")
	if err != nil {
		return Config{}, err
	}

	youtubeSecret, err := getEnvOrFile("YOUTUBE_CLIENT_SECRET", "/run/secrets/streamlens_youtube_client_secret")
	if err != nil {
		return Config{}, err
	}

	databaseURL, err := getEnvOrFile("DATABASE_URL", "/run/secrets/streamlens_database_url")
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Environment:    getEnv("APP_ENV", "development"),
		BaseURL:        strings.TrimSuffix(getEnv("BASE_URL", "http://localhost:8080"), "/"),
		LogLevel:       strings.ToLower(getEnv("LOG_LEVEL", "info")),
		AllowedOrigins: parseCSV(getEnv("ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:8080")),
		DataStore:      strings.ToLower(getEnv("DATA_STORE", "cookie")),
		DatabaseURL:    databaseURL,
		Twitch: ProviderCredentials{
			ClientID:     getEnv("TWITCH_CLIENT_ID", ""),
			ClientSecret: strings.TrimSpace(twitchSecret),
		},
		YouTube: ProviderCredentials{
			ClientID:     getEnv("YOUTUBE_CLIENT_ID", ""),
			ClientSecret: strings.TrimSpace(youtubeSecret),
		},
	}

	portValue := getEnv("PORT", getEnv("HTTP_PORT", "8080"))
	port, err := strconv.Atoi(portValue)
	if err != nil {
		return Config{}, fmt.Errorf("invalid port %q: %w", portValue, err)
	}
	cfg.HTTPPort = port

	isDev := strings.EqualFold(cfg.Environment, "development")
	cfg.InsecureSkipTLSVerify = isDev && getEnv("INSECURE_SKIP_TLS_VERIFY", "") == "true"

	// A half-configured provider is always a mistake; a fully absent one is
	// tolerated in development so either platform can be worked on alone.
	for name, creds := range map[string]ProviderCredentials{"twitch": cfg.Twitch, "youtube": cfg.YouTube} {
		if (creds.ClientID == "") != (creds.ClientSecret == "") {
			return Config{}, fmt.Errorf("%s OAuth credentials are incomplete: both client id and secret are required", name)
		}
		if !isDev && !creds.Configured() {
			return Config{}, fmt.Errorf("%s OAuth credentials are required outside development", name)
		}
	}

	switch cfg.DataStore {
	case "cookie":
	case "postgres":
		if cfg.DatabaseURL == "" {
			return Config{}, fmt.Errorf("DATA_STORE is postgres but DATABASE_URL is not set")
		}
	default:
		return Config{}, fmt.Errorf("unsupported DATA_STORE %q", cfg.DataStore)
	}

	return cfg, nil
}

// HTTPAddress returns the address the HTTP server should bind to.
func (c Config) HTTPAddress() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

// UseCookieStore returns true if the cookie-backed session store should be used.
func (c Config) UseCookieStore() bool {
	return c.DataStore == "cookie"
}

// RedirectURL builds the exact redirect URI registered with the provider.
func (c Config) RedirectURL(provider string) string {
	return c.BaseURL + "/auth/" + provider + "/callback"
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
