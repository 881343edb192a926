package infra

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents client configuration loaded from an optional YAML file and
// environment variables. Environment values always win over the file.
type Config struct {
	AppEnv             string
	APIBaseURL         string
	StateDir           string
	OutputDir          string
	DatabaseURL        string
	Profile            string
	Locale             string
	Provider           string
	JobPollInterval    time.Duration
	JobPollMaxAttempts int
	JobPollMaxDuration time.Duration
	LoginPollInterval  time.Duration
	LoginTimeout       time.Duration
	HTTPTimeout        time.Duration
}

// LoadConfig loads configuration from NEOAIGC_CONFIG (if set) and the environment,
// applying defaults where needed.
func LoadConfig() (*Config, error) {
	file, err := readConfigFile(os.Getenv("NEOAIGC_CONFIG"))
	if err != nil {
		return nil, err
	}
	get := func(key, fallback string) string {
		return getEnv(key, file.GetString(strings.ToLower(key)), fallback)
	}
	getInt := func(key string, fallback int) int {
		if file.IsSet(strings.ToLower(key)) {
			fallback = file.GetInt(strings.ToLower(key))
		}
		return getEnvInt(key, fallback)
	}

	cfg := &Config{
		AppEnv:             get("APP_ENV", "production"),
		APIBaseURL:         strings.TrimRight(get("API_BASE_URL", "http://localhost:8080/api"), "/"),
		StateDir:           get("STATE_DIR", defaultStateDir()),
		OutputDir:          get("OUTPUT_DIR", ""),
		DatabaseURL:        get("DATABASE_URL", ""),
		Profile:            get("PROFILE", "default"),
		Locale:             get("LOCALE", "en"),
		Provider:           get("PROVIDER", ""),
		JobPollInterval:    time.Millisecond * time.Duration(getInt("JOB_POLL_INTERVAL_MS", 2000)),
		JobPollMaxAttempts: getInt("JOB_POLL_MAX_ATTEMPTS", 0),
		JobPollMaxDuration: time.Second * time.Duration(getInt("JOB_POLL_MAX_SECONDS", 0)),
		LoginPollInterval:  time.Millisecond * time.Duration(getInt("LOGIN_POLL_INTERVAL_MS", 2000)),
		LoginTimeout:       time.Second * time.Duration(getInt("LOGIN_TIMEOUT_SECONDS", 0)),
		HTTPTimeout:        time.Second * time.Duration(getInt("HTTP_TIMEOUT_SECONDS", 30)),
	}

	if cfg.JobPollInterval <= 0 {
		return nil, fmt.Errorf("JOB_POLL_INTERVAL_MS must be positive")
	}
	if cfg.LoginPollInterval <= 0 {
		return nil, fmt.Errorf("LOGIN_POLL_INTERVAL_MS must be positive")
	}
	if cfg.APIBaseURL == "" {
		return nil, fmt.Errorf("API_BASE_URL is required")
	}

	return cfg, nil
}

func readConfigFile(path string) (*viper.Viper, error) {
	v := viper.New()
	path = strings.TrimSpace(path)
	if path == "" {
		return v, nil
	}
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}
	return v, nil
}

func defaultStateDir() string {
	dir, err := os.UserConfigDir()
	if err != nil || dir == "" {
		return ".neoaigc"
	}
	return filepath.Join(dir, "neoaigc")
}

func getEnv(key, fileValue, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	if fileValue != "" {
		return fileValue
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}
