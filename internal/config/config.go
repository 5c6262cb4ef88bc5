package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config captures the runtime configuration for the Lomi client core.
type Config struct {
	LogLevel string
	DeviceID string `validate:"required"`

	API     APIConfig
	Store   StoreConfig
	Gate    GateConfig
	Control ControlConfig
}

// APIConfig controls how the client reaches the Lomi backend.
type APIConfig struct {
	BaseURL   string        `validate:"required,url"`
	Timeout   time.Duration `validate:"gt=0"`
	RateLimit int           `validate:"gte=0"`
	UserAgent string
}

// StoreConfig selects and configures the persistent token store backend.
type StoreConfig struct {
	Driver      string `validate:"oneof=memory file sqlite postgres redis"`
	Path        string `validate:"required_if=Driver file,required_if=Driver sqlite"`
	Passphrase  string `validate:"required_if=Driver file"`
	DatabaseURL string `validate:"required_if=Driver postgres"`
	RedisAddr   string `validate:"required_if=Driver redis"`
	RedisDB     int
}

// GateConfig controls host detection and credential polling at startup.
type GateConfig struct {
	HostPlatform       string
	InitData           string
	InitDataFile       string
	CredentialAttempts int           `validate:"gt=0"`
	CredentialInterval time.Duration `validate:"gt=0"`
}

// ControlConfig configures the local control API used by the app shell.
type ControlConfig struct {
	Port           int `validate:"gte=0,lte=65535"`
	AllowedOrigins []string
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first when present.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		LogLevel: getString("LOMI_LOG_LEVEL", "info"),
		DeviceID: getString("LOMI_DEVICE_ID", defaultDeviceID()),
		API: APIConfig{
			BaseURL:   strings.TrimRight(getString("LOMI_API_BASE_URL", "http://localhost:8000/api/v1"), "/"),
			Timeout:   getDuration("LOMI_API_TIMEOUT", 30*time.Second),
			RateLimit: getInt("LOMI_API_RATE", 20),
			UserAgent: getString("LOMI_USER_AGENT", "lomi-client/1.0"),
		},
		Store: StoreConfig{
			Driver:      strings.ToLower(getString("LOMI_STORE_DRIVER", "sqlite")),
			Path:        getString("LOMI_STORE_PATH", "./data/lomi.db"),
			Passphrase:  getString("LOMI_STORE_PASSPHRASE", ""),
			DatabaseURL: getString("LOMI_DATABASE_URL", ""),
			RedisAddr:   getString("LOMI_REDIS_ADDR", ""),
			RedisDB:     getInt("LOMI_REDIS_DB", 0),
		},
		Gate: GateConfig{
			HostPlatform:       strings.ToLower(getString("LOMI_HOST_PLATFORM", "")),
			InitData:           getString("LOMI_INIT_DATA", ""),
			InitDataFile:       getString("LOMI_INIT_DATA_FILE", ""),
			CredentialAttempts: getInt("LOMI_CREDENTIAL_ATTEMPTS", 10),
			CredentialInterval: getDuration("LOMI_CREDENTIAL_INTERVAL", 500*time.Millisecond),
		},
		Control: ControlConfig{
			Port:           getInt("LOMI_CONTROL_PORT", 8787),
			AllowedOrigins: getList("LOMI_CONTROL_ORIGINS", []string{"http://localhost:3000", "https://web.telegram.org"}),
		},
	}

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the struct tags on cfg and flattens the failures into one error.
func Validate(cfg Config) error {
	err := validator.New().Struct(cfg)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("validate config: %w", err)
	}

	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

func defaultDeviceID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "local-device"
	}
	return host
}

func getString(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return i
}

func getDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}

func getList(key string, fallback []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
