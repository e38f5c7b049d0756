package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every environment-driven setting.
type Config struct {
	// Gateway (external inference API)
	ReplicateAPIToken string
	ReplicateBaseURL  string
	Step1Model        string
	Step2Model        string

	// Orchestration
	PollInterval     time.Duration
	MaxPollAttempts  int
	SessionRetention time.Duration
	SweepInterval    time.Duration
	SessionBackend   string // "memory" or "redis"

	// Redis (session store backend)
	RedisHost     string
	RedisPort     string
	RedisUsername string
	RedisPassword string
	RedisUseTLS   bool

	// Supabase (credit ledger + result archive)
	SupabaseURL            string
	SupabaseServiceKey     string
	SupabaseStorageBaseURL string

	// Characters
	CharacterAssetBaseURL string

	// Server
	Port string

	// Credit
	CreditsPerGeneration int
}

var globalConfig *Config

// LoadConfig reads the environment (and .env when present) into the global
// config. The gateway token is deliberately not required here: its absence is
// a per-request configuration error at generation start, not a boot failure.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  .env file not found, using environment variables")
	}

	useTLS := true
	if tlsStr := os.Getenv("REDIS_USE_TLS"); tlsStr != "" {
		if parsed, err := strconv.ParseBool(tlsStr); err == nil {
			useTLS = parsed
		}
	}

	globalConfig = &Config{
		ReplicateAPIToken: getEnv("REPLICATE_API_TOKEN", ""),
		ReplicateBaseURL:  getEnv("REPLICATE_BASE_URL", "https://api.replicate.com"),
		Step1Model:        getEnv("REPLICATE_STEP1_MODEL", "google/nano-banana"),
		Step2Model:        getEnv("REPLICATE_STEP2_MODEL", "black-forest-labs/flux-kontext-pro"),

		PollInterval:     time.Duration(getEnvInt("POLL_INTERVAL_MS", 3000)) * time.Millisecond,
		MaxPollAttempts:  getEnvInt("MAX_POLL_ATTEMPTS", 40),
		SessionRetention: time.Duration(getEnvInt("SESSION_RETENTION_MINUTES", 60)) * time.Minute,
		SweepInterval:    time.Duration(getEnvInt("SWEEP_INTERVAL_MINUTES", 10)) * time.Minute,
		SessionBackend:   getEnv("SESSION_STORE_BACKEND", "memory"),

		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisUsername: getEnv("REDIS_USERNAME", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisUseTLS:   useTLS,

		SupabaseURL:            getEnv("SUPABASE_URL", ""),
		SupabaseServiceKey:     getEnv("SUPABASE_SERVICE_KEY", ""),
		SupabaseStorageBaseURL: getEnv("SUPABASE_STORAGE_BASE_URL", ""),

		CharacterAssetBaseURL: getEnv("CHARACTER_ASSET_BASE_URL", "https://labubufy.app/characters"),

		Port: getEnv("PORT", "8080"),

		CreditsPerGeneration: getEnvInt("CREDITS_PER_GENERATION", 1),
	}

	if err := globalConfig.validate(); err != nil {
		return nil, err
	}

	log.Println("✅ Configuration loaded successfully")
	log.Printf("   Gateway: %s (step1: %s, step2: %s)",
		globalConfig.ReplicateBaseURL, globalConfig.Step1Model, globalConfig.Step2Model)
	log.Printf("   Session store: %s (retention: %v)", globalConfig.SessionBackend, globalConfig.SessionRetention)
	log.Printf("   Poll: every %v, max %d checks", globalConfig.PollInterval, globalConfig.MaxPollAttempts)
	log.Printf("   Credit: %d per generation", globalConfig.CreditsPerGeneration)

	return globalConfig, nil
}

// GetConfig returns the loaded config.
func GetConfig() *Config {
	if globalConfig == nil {
		log.Fatal("❌ Config not loaded. Call LoadConfig() first.")
	}
	return globalConfig
}

// SetConfig replaces the global config. Test helper.
func SetConfig(c *Config) {
	globalConfig = c
}

func (c *Config) validate() error {
	if c.SessionBackend != "memory" && c.SessionBackend != "redis" {
		return fmt.Errorf("SESSION_STORE_BACKEND must be \"memory\" or \"redis\", got %q", c.SessionBackend)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("POLL_INTERVAL_MS must be positive")
	}
	if c.MaxPollAttempts <= 0 {
		return fmt.Errorf("MAX_POLL_ATTEMPTS must be positive")
	}
	if c.SessionBackend == "redis" && c.RedisHost == "" {
		return fmt.Errorf("REDIS_HOST is required when SESSION_STORE_BACKEND=redis")
	}
	return nil
}

// getEnv reads an environment variable with a default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt reads an integer environment variable with a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// GetRedisAddr builds the Redis connection string.
func (c *Config) GetRedisAddr() string {
	return fmt.Sprintf("%s:%s", c.RedisHost, c.RedisPort)
}
