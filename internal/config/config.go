package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the memory orchestrator service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string

	DatabaseURL  string
	EmbeddingDim int

	EmbedderMode   string
	OpenAIAPIKey   string
	OpenAIBaseURL  string
	EmbeddingModel string
	ChatModel      string

	BrainMode         string
	BrainHTTPURL      string
	BrainGatewayURL   string
	BrainGatewayToken string

	PersonalBoost       float64
	DefaultContextLimit int
	ChunkSize           int
	ChunkOverlap        int
	RetrievalAttempts   int

	SeedDefaults bool

	PerfWindowSize         int
	PerfMinSuccessRate     float64
	PerfLatencyWeight      float64
	PerfConfidenceWeight   float64
	PerfPersonalizedWeight float64
	PerfJournalPath        string
	RetentionWindow        time.Duration

	EmbedCacheEntries int
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:               envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:       envOrDefault("APP_METRICS_NAMESPACE", "mentora"),
		ShutdownTimeout:        15 * time.Second,
		DatabaseURL:            stringsTrimSpace("DATABASE_URL"),
		EmbeddingDim:           384,
		EmbedderMode:           envOrDefault("EMBEDDER_MODE", "auto"),
		OpenAIAPIKey:           stringsTrimSpace("OPENAI_API_KEY"),
		OpenAIBaseURL:          stringsTrimSpace("OPENAI_BASE_URL"),
		EmbeddingModel:         stringsTrimSpace("EMBEDDING_MODEL"),
		ChatModel:              stringsTrimSpace("CHAT_MODEL"),
		BrainMode:              envOrDefault("BRAIN_MODE", "auto"),
		BrainHTTPURL:           stringsTrimSpace("BRAIN_HTTP_URL"),
		BrainGatewayURL:        stringsTrimSpace("BRAIN_GATEWAY_URL"),
		BrainGatewayToken:      stringsTrimSpace("BRAIN_GATEWAY_TOKEN"),
		PersonalBoost:          0.15,
		DefaultContextLimit:    5,
		ChunkSize:              200,
		ChunkOverlap:           20,
		RetrievalAttempts:      3,
		SeedDefaults:           true,
		PerfWindowSize:         256,
		PerfMinSuccessRate:     0.95,
		PerfLatencyWeight:      1.0,
		PerfConfidenceWeight:   1.0,
		PerfPersonalizedWeight: 0.5,
		PerfJournalPath:        stringsTrimSpace("PERF_JOURNAL_PATH"),
		RetentionWindow:        0,
		EmbedCacheEntries:      4096,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.EmbeddingDim, err = intFromEnv("EMBEDDING_DIM", cfg.EmbeddingDim)
	if err != nil {
		return Config{}, err
	}
	cfg.PersonalBoost, err = floatFromEnv("PERSONAL_BOOST", cfg.PersonalBoost)
	if err != nil {
		return Config{}, err
	}
	cfg.DefaultContextLimit, err = intFromEnv("DEFAULT_CONTEXT_LIMIT", cfg.DefaultContextLimit)
	if err != nil {
		return Config{}, err
	}
	cfg.ChunkSize, err = intFromEnv("CHUNK_SIZE", cfg.ChunkSize)
	if err != nil {
		return Config{}, err
	}
	cfg.ChunkOverlap, err = intFromEnv("CHUNK_OVERLAP", cfg.ChunkOverlap)
	if err != nil {
		return Config{}, err
	}
	cfg.RetrievalAttempts, err = intFromEnv("RETRIEVAL_ATTEMPTS", cfg.RetrievalAttempts)
	if err != nil {
		return Config{}, err
	}
	cfg.SeedDefaults, err = boolFromEnv("SEED_DEFAULTS", cfg.SeedDefaults)
	if err != nil {
		return Config{}, err
	}
	cfg.PerfWindowSize, err = intFromEnv("PERF_WINDOW_SIZE", cfg.PerfWindowSize)
	if err != nil {
		return Config{}, err
	}
	cfg.PerfMinSuccessRate, err = floatFromEnv("PERF_MIN_SUCCESS_RATE", cfg.PerfMinSuccessRate)
	if err != nil {
		return Config{}, err
	}
	cfg.PerfLatencyWeight, err = floatFromEnv("PERF_LATENCY_WEIGHT", cfg.PerfLatencyWeight)
	if err != nil {
		return Config{}, err
	}
	cfg.PerfConfidenceWeight, err = floatFromEnv("PERF_CONFIDENCE_WEIGHT", cfg.PerfConfidenceWeight)
	if err != nil {
		return Config{}, err
	}
	cfg.PerfPersonalizedWeight, err = floatFromEnv("PERF_PERSONALIZED_WEIGHT", cfg.PerfPersonalizedWeight)
	if err != nil {
		return Config{}, err
	}
	cfg.RetentionWindow, err = durationFromEnv("RETENTION_WINDOW", cfg.RetentionWindow)
	if err != nil {
		return Config{}, err
	}
	cfg.EmbedCacheEntries, err = intFromEnv("EMBED_CACHE_ENTRIES", cfg.EmbedCacheEntries)
	if err != nil {
		return Config{}, err
	}

	if cfg.EmbeddingDim <= 0 {
		return Config{}, fmt.Errorf("EMBEDDING_DIM must be positive")
	}
	if cfg.PersonalBoost < 0 || cfg.PersonalBoost > 1 {
		return Config{}, fmt.Errorf("PERSONAL_BOOST must be in [0, 1]")
	}
	if cfg.DefaultContextLimit < 0 {
		return Config{}, fmt.Errorf("DEFAULT_CONTEXT_LIMIT must be >= 0")
	}
	if cfg.ChunkSize <= 0 {
		return Config{}, fmt.Errorf("CHUNK_SIZE must be positive")
	}
	if cfg.ChunkOverlap < 0 || cfg.ChunkOverlap >= cfg.ChunkSize {
		return Config{}, fmt.Errorf("CHUNK_OVERLAP must be in [0, CHUNK_SIZE)")
	}
	if cfg.RetrievalAttempts <= 0 {
		return Config{}, fmt.Errorf("RETRIEVAL_ATTEMPTS must be positive")
	}
	if cfg.PerfWindowSize <= 0 {
		return Config{}, fmt.Errorf("PERF_WINDOW_SIZE must be positive")
	}
	if cfg.PerfMinSuccessRate < 0 || cfg.PerfMinSuccessRate > 1 {
		return Config{}, fmt.Errorf("PERF_MIN_SUCCESS_RATE must be in [0, 1]")
	}
	if cfg.PerfLatencyWeight < 0 || cfg.PerfConfidenceWeight < 0 || cfg.PerfPersonalizedWeight < 0 {
		return Config{}, fmt.Errorf("performance weights must be >= 0")
	}
	if cfg.RetentionWindow < 0 {
		return Config{}, fmt.Errorf("RETENTION_WINDOW must be >= 0")
	}
	if cfg.EmbedCacheEntries <= 0 {
		return Config{}, fmt.Errorf("EMBED_CACHE_ENTRIES must be positive")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
