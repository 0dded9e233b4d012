package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds all environment-driven settings for the server process.
type Config struct {
	Port        string
	Mode        string // "", "api" or "worker"
	DatabaseURL string

	MasterKeyHex      string
	RSAPrivateKeyPath string
	WrapScheme        int
	DevMode           bool

	SaveCooldownSeconds int
	PersistenceEnabled  bool

	RetentionDays          int
	RetentionSweepInterval int // seconds
}

// Load reads configuration from the environment. A .env file in the working
// directory is honored when present.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Port:        getEnv("PORT", "8080"),
		Mode:        getEnv("MODE", ""),
		DatabaseURL: getEnv("DATABASE_URL", ""),

		MasterKeyHex:      getEnv("MASTER_KEY", ""),
		RSAPrivateKeyPath: getEnv("RSA_PRIVATE_KEY_PATH", "keys/private_key.pem"),
		WrapScheme:        getEnvAsInt("WRAP_SCHEME", 2),
		DevMode:           getEnvAsBool("DEV_MODE", false),

		SaveCooldownSeconds: getEnvAsInt("SAVE_COOLDOWN_SECONDS", 10),
		PersistenceEnabled:  getEnvAsBool("PERSISTENCE_ENABLED", true),

		RetentionDays:          getEnvAsInt("RETENTION_DAYS", 0),
		RetentionSweepInterval: getEnvAsInt("RETENTION_SWEEP_INTERVAL", 3600),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
