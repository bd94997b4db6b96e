package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for Chronicle
type Config struct {
	Server    ServerConfig    `json:"server"`
	Database  DatabaseConfig  `json:"database"`
	Redis     RedisConfig     `json:"redis"`
	Audio     AudioConfig     `json:"audio"`
	Speech    SpeechConfig    `json:"speech"`
	ASR       ASRConfig       `json:"asr"`
	LLM       LLMConfig       `json:"llm"`
	Embedding EmbeddingConfig `json:"embedding"`
	Memory    MemoryConfig    `json:"memory"`
	Speaker   SpeakerConfig   `json:"speaker"`
	Jobs      JobsConfig      `json:"jobs"`
}

// ServerConfig holds API server configuration
type ServerConfig struct {
	Host        string   `json:"host"`
	Port        int      `json:"port"`
	CORSOrigins []string `json:"cors_origins"`
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	PostgresURL string `json:"postgres_url"`
}

// RedisConfig holds the stream bus / scheduler backend configuration
type RedisConfig struct {
	URL string `json:"url"`
}

// AudioConfig holds audio persistence configuration
type AudioConfig struct {
	ChunkDir   string `json:"chunk_dir"`   // where per-conversation WAVs land
	SampleRate int    `json:"sample_rate"` // canonical streaming rate (Hz)
}

// SpeechConfig holds speech detection and conversation lifecycle tuning
type SpeechConfig struct {
	MinWords              int     `json:"min_words"`      // W_MIN
	MinConfidence         float64 `json:"min_confidence"` // C_MIN
	MinDuration           float64 `json:"min_duration"`   // D_MIN, seconds
	InactivityThreshold   float64 `json:"inactivity_threshold_seconds"`
	MaxConversationSecs   float64 `json:"max_conversation_seconds"`
	AudioFileWaitSecs     float64 `json:"audio_file_wait_seconds"`
	WaitForQueueDrain     bool    `json:"wait_for_queue_drain"` // test affordance, never default
	ContextPaddingSecs    float64 `json:"context_padding_seconds"`
	MinSegmentDuration    float64 `json:"min_segment_duration_seconds"`
	PreConversationBuffer int     `json:"pre_conversation_buffer_chunks"`
}

// ASRConfig holds transcription provider configuration (OpenAI-compatible)
type ASRConfig struct {
	URL     string `json:"url"`
	APIKey  string `json:"api_key"`
	Model   string `json:"model"`
	Diarize bool   `json:"diarize"`
}

// LLMConfig holds LLM API configuration
type LLMConfig struct {
	URL         string  `json:"url"`
	APIKey      string  `json:"api_key"`
	Model       string  `json:"model"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
}

// EmbeddingConfig holds embedding API configuration
type EmbeddingConfig struct {
	URL        string `json:"url"`
	APIKey     string `json:"api_key"`
	Model      string `json:"model"`
	Dimensions int    `json:"dimensions"`
}

// MemoryConfig holds memory extraction configuration
type MemoryConfig struct {
	Provider             string  `json:"provider"` // "chronicle" or "" to disable
	MinTranscriptChars   int     `json:"min_transcript_chars"`
	MinImportance        float64 `json:"min_importance"`
	FilterPrimarySpeaker bool    `json:"filter_primary_speakers"`
}

// SpeakerConfig holds the optional speaker-recognition service endpoint
type SpeakerConfig struct {
	URL     string `json:"url"`
	APIKey  string `json:"api_key"`
	Enabled bool   `json:"enabled"`
}

// JobsConfig holds worker pool sizing and scheduler policy
type JobsConfig struct {
	DefaultWorkers       int           `json:"default_workers"`
	TranscriptionWorkers int           `json:"transcription_workers"`
	MemoryWorkers        int           `json:"memory_workers"`
	ResultTTL            time.Duration `json:"-"`
	ResultTTLSeconds     int           `json:"result_ttl_seconds"`
	MaxRetries           int           `json:"max_retries"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".chronicle")

	return &Config{
		Server: ServerConfig{
			Host:        "0.0.0.0",
			Port:        8080,
			CORSOrigins: []string{"http://localhost:3000"},
		},
		Database: DatabaseConfig{
			PostgresURL: "postgres://localhost:5432/chronicle",
		},
		Redis: RedisConfig{
			URL: "redis://localhost:6379/0",
		},
		Audio: AudioConfig{
			ChunkDir:   filepath.Join(dataDir, "audio_chunks"),
			SampleRate: 16000,
		},
		Speech: SpeechConfig{
			MinWords:              5,
			MinConfidence:         0.5,
			MinDuration:           10.0,
			InactivityThreshold:   60.0,
			MaxConversationSecs:   10740, // 3 hours minus a safety margin
			AudioFileWaitSecs:     30.0,
			WaitForQueueDrain:     false,
			ContextPaddingSecs:    0.5,
			MinSegmentDuration:    0.5,
			PreConversationBuffer: 512,
		},
		ASR: ASRConfig{
			URL:     "http://localhost:8001/v1",
			APIKey:  "",
			Model:   "whisper-large-v3",
			Diarize: true,
		},
		LLM: LLMConfig{
			URL:         "http://localhost:8000/v1",
			APIKey:      "",
			Model:       "Qwen/Qwen3-8B-AWQ",
			MaxTokens:   4096,
			Temperature: 0.3,
		},
		Embedding: EmbeddingConfig{
			URL:        "http://localhost:11434/v1",
			APIKey:     "",
			Model:      "text-embedding-3-small",
			Dimensions: 1536,
		},
		Memory: MemoryConfig{
			Provider:             "chronicle",
			MinTranscriptChars:   10,
			MinImportance:        0.3,
			FilterPrimarySpeaker: true,
		},
		Speaker: SpeakerConfig{
			URL:     "",
			APIKey:  "",
			Enabled: false,
		},
		Jobs: JobsConfig{
			DefaultWorkers:       4,
			TranscriptionWorkers: 2,
			MemoryWorkers:        2,
			ResultTTLSeconds:     600,
			MaxRetries:           3,
		},
	}
}

// envString loads a string environment variable into the target pointer if set
func envString(key string, target *string) {
	if v := os.Getenv(key); v != "" {
		*target = v
	}
}

// envInt loads an integer environment variable into the target pointer if set and valid
func envInt(key string, target *int) {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			*target = i
		}
	}
}

// envFloat loads a float64 environment variable into the target pointer if set and valid
func envFloat(key string, target *float64) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*target = f
		}
	}
}

// envBool loads a boolean environment variable into the target pointer if set
func envBool(key string, target *bool) {
	if v := os.Getenv(key); v != "" {
		*target = strings.EqualFold(v, "true") || v == "1"
	}
}

// envStringSlice loads a comma-separated environment variable into a string slice
func envStringSlice(key string, target *[]string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, part := range parts {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			*target = result
		}
	}
}

// Load loads configuration from environment variables and config file
func Load() (*Config, error) {
	cfg := DefaultConfig()

	configPath := getConfigPath()
	if data, err := os.ReadFile(configPath); err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to parse config file %s: %v\n", configPath, err)
		}
	}

	envString("CHRONICLE_SERVER_HOST", &cfg.Server.Host)
	envInt("CHRONICLE_SERVER_PORT", &cfg.Server.Port)
	envStringSlice("CHRONICLE_CORS_ORIGINS", &cfg.Server.CORSOrigins)

	envString("CHRONICLE_POSTGRES_URL", &cfg.Database.PostgresURL)
	envString("CHRONICLE_REDIS_URL", &cfg.Redis.URL)

	envString("CHRONICLE_CHUNK_DIR", &cfg.Audio.ChunkDir)
	envInt("CHRONICLE_SAMPLE_RATE", &cfg.Audio.SampleRate)

	envInt("SPEECH_DETECTION_MIN_WORDS", &cfg.Speech.MinWords)
	envFloat("SPEECH_DETECTION_MIN_CONFIDENCE", &cfg.Speech.MinConfidence)
	envFloat("SPEECH_DETECTION_MIN_DURATION", &cfg.Speech.MinDuration)
	envFloat("SPEECH_INACTIVITY_THRESHOLD_SECONDS", &cfg.Speech.InactivityThreshold)
	envFloat("CHRONICLE_MAX_CONVERSATION_SECONDS", &cfg.Speech.MaxConversationSecs)
	envFloat("CHRONICLE_AUDIO_FILE_WAIT_SECONDS", &cfg.Speech.AudioFileWaitSecs)
	envBool("WAIT_FOR_AUDIO_QUEUE_DRAIN", &cfg.Speech.WaitForQueueDrain)

	envString("CHRONICLE_ASR_URL", &cfg.ASR.URL)
	envString("CHRONICLE_ASR_API_KEY", &cfg.ASR.APIKey)
	envString("CHRONICLE_ASR_MODEL", &cfg.ASR.Model)
	envBool("CHRONICLE_ASR_DIARIZE", &cfg.ASR.Diarize)

	envString("CHRONICLE_LLM_URL", &cfg.LLM.URL)
	envString("CHRONICLE_LLM_API_KEY", &cfg.LLM.APIKey)
	envString("CHRONICLE_LLM_MODEL", &cfg.LLM.Model)
	envInt("CHRONICLE_LLM_MAX_TOKENS", &cfg.LLM.MaxTokens)
	envFloat("CHRONICLE_LLM_TEMPERATURE", &cfg.LLM.Temperature)

	envString("CHRONICLE_EMBEDDING_URL", &cfg.Embedding.URL)
	envString("CHRONICLE_EMBEDDING_API_KEY", &cfg.Embedding.APIKey)
	envString("CHRONICLE_EMBEDDING_MODEL", &cfg.Embedding.Model)
	envInt("CHRONICLE_EMBEDDING_DIMENSIONS", &cfg.Embedding.Dimensions)

	envString("CHRONICLE_MEMORY_PROVIDER", &cfg.Memory.Provider)
	envBool("CHRONICLE_MEMORY_FILTER_PRIMARY_SPEAKERS", &cfg.Memory.FilterPrimarySpeaker)

	envString("CHRONICLE_SPEAKER_SERVICE_URL", &cfg.Speaker.URL)
	envString("CHRONICLE_SPEAKER_SERVICE_API_KEY", &cfg.Speaker.APIKey)
	envBool("CHRONICLE_SPEAKER_SERVICE_ENABLED", &cfg.Speaker.Enabled)

	envInt("CHRONICLE_DEFAULT_WORKERS", &cfg.Jobs.DefaultWorkers)
	envInt("CHRONICLE_TRANSCRIPTION_WORKERS", &cfg.Jobs.TranscriptionWorkers)
	envInt("CHRONICLE_MEMORY_WORKERS", &cfg.Jobs.MemoryWorkers)
	envInt("CHRONICLE_JOB_RESULT_TTL_SECONDS", &cfg.Jobs.ResultTTLSeconds)
	envInt("CHRONICLE_JOB_MAX_RETRIES", &cfg.Jobs.MaxRetries)

	cfg.Jobs.ResultTTL = time.Duration(cfg.Jobs.ResultTTLSeconds) * time.Second

	if err := os.MkdirAll(cfg.Audio.ChunkDir, 0755); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// IsSpeakerServiceConfigured returns true if speaker recognition is reachable
func (c *Config) IsSpeakerServiceConfigured() bool {
	return c.Speaker.Enabled && c.Speaker.URL != ""
}

// IsMemoryConfigured returns true if a memory provider is enabled
func (c *Config) IsMemoryConfigured() bool {
	return c.Memory.Provider != ""
}

// isValidURL validates that a URL has proper format
func isValidURL(urlStr string) bool {
	u, err := url.Parse(urlStr)
	return err == nil && u.Scheme != "" && u.Host != ""
}

// Validate checks that the configuration has valid values
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, "server port must be between 1 and 65535")
	}

	if c.Database.PostgresURL == "" {
		errs = append(errs, "PostgreSQL URL is required")
	} else if !isValidURL(c.Database.PostgresURL) {
		errs = append(errs, "PostgreSQL URL must be a valid URL")
	}

	if c.Redis.URL == "" {
		errs = append(errs, "Redis URL is required")
	} else if !isValidURL(c.Redis.URL) {
		errs = append(errs, "Redis URL must be a valid URL")
	}

	if c.Audio.SampleRate < 8000 {
		errs = append(errs, "audio sample rate must be at least 8000 Hz")
	}

	if c.Speech.MinWords < 1 {
		errs = append(errs, "speech detection min_words must be at least 1")
	}
	if c.Speech.MinConfidence < 0 || c.Speech.MinConfidence > 1 {
		errs = append(errs, "speech detection min_confidence must be between 0 and 1")
	}
	if c.Speech.InactivityThreshold <= 0 {
		errs = append(errs, "speech inactivity threshold must be positive")
	}
	if c.Speech.MaxConversationSecs <= 0 {
		errs = append(errs, "max conversation duration must be positive")
	}

	if c.ASR.URL != "" && !isValidURL(c.ASR.URL) {
		errs = append(errs, "ASR URL must be a valid URL")
	}

	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		errs = append(errs, "LLM temperature must be between 0 and 2")
	}
	if c.LLM.MaxTokens < 1 {
		errs = append(errs, "LLM max_tokens must be positive")
	}
	if c.LLM.URL != "" && !isValidURL(c.LLM.URL) {
		errs = append(errs, "LLM URL must be a valid URL")
	}

	if c.Embedding.URL != "" {
		if !isValidURL(c.Embedding.URL) {
			errs = append(errs, "Embedding URL must be a valid URL")
		}
		if c.Embedding.Dimensions < 1 {
			errs = append(errs, "Embedding dimensions must be positive when URL is set")
		}
	}

	if c.Speaker.Enabled && c.Speaker.URL == "" {
		errs = append(errs, "speaker service URL is required when enabled")
	}
	if c.Speaker.URL != "" && !isValidURL(c.Speaker.URL) {
		errs = append(errs, "speaker service URL must be a valid URL")
	}

	if c.Jobs.DefaultWorkers < 1 || c.Jobs.TranscriptionWorkers < 1 || c.Jobs.MemoryWorkers < 1 {
		errs = append(errs, "worker counts must be at least 1")
	}
	if c.Jobs.MaxRetries < 0 {
		errs = append(errs, "job max retries cannot be negative")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// getConfigPath returns the path to the config file
func getConfigPath() string {
	if path := os.Getenv("CHRONICLE_CONFIG"); path != "" {
		return path
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "config.json"
	}

	configDir := filepath.Join(homeDir, ".config", "chronicle")
	configPath := filepath.Join(configDir, "config.json")
	if _, err := os.Stat(configPath); err == nil {
		return configPath
	}

	altPath := filepath.Join(homeDir, ".chronicle", "config.json")
	if _, err := os.Stat(altPath); err == nil {
		return altPath
	}

	return configPath
}
