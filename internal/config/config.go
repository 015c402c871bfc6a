package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Port                  string
	AppEnv                string
	LogLevel              string
	AllowedOrigin         string
	DatabaseURL           string
	LocalCachePath        string
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	TenantID              string
	AuthSecret            string
	AccessTokenTTLMinutes int
	AuthorityTimeout      time.Duration
	SyncBatchSize         int
	ProbeInterval         time.Duration
}

// Load reads the environment, after merging a .env file from the working
// directory when one exists. Real environment variables win over .env.
func Load() Config {
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	return Config{
		Port:                  getString(v, "PORT", "8080"),
		AppEnv:                getString(v, "APP_ENV", "development"),
		LogLevel:              getString(v, "LOG_LEVEL", "info"),
		AllowedOrigin:         getString(v, "ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:           getString(v, "DATABASE_URL", ""),
		LocalCachePath:        getString(v, "LOCAL_CACHE_PATH", "kasirledger-local.db"),
		RedisAddr:             getString(v, "REDIS_ADDR", ""),
		RedisPassword:         getString(v, "REDIS_PASSWORD", ""),
		RedisDB:               getInt(v, "REDIS_DB", 0, 0),
		TenantID:              getString(v, "DEFAULT_TENANT_ID", "main-store"),
		AuthSecret:            strings.TrimSpace(getString(v, "AUTH_SECRET", "")),
		AccessTokenTTLMinutes: getInt(v, "ACCESS_TOKEN_TTL_MINUTES", 480, 1),
		AuthorityTimeout:      time.Duration(getInt(v, "AUTHORITY_TIMEOUT_MS", 3000, 1)) * time.Millisecond,
		SyncBatchSize:         getInt(v, "SYNC_BATCH_SIZE", 50, 1),
		ProbeInterval:         time.Duration(getInt(v, "CONNECTIVITY_PROBE_SECONDS", 15, 1)) * time.Second,
	}
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c Config) AccessTokenTTL() time.Duration {
	return time.Duration(c.AccessTokenTTLMinutes) * time.Minute
}

func getString(v *viper.Viper, key string, fallback string) string {
	val := strings.TrimSpace(v.GetString(key))
	if val == "" {
		return fallback
	}
	return val
}

// getInt falls back when the value is missing, malformed or below min.
func getInt(v *viper.Viper, key string, fallback int, min int) int {
	raw := strings.TrimSpace(v.GetString(key))
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < min {
		return fallback
	}
	return n
}
