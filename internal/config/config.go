package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"podpipe/internal/core"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App           App                   `mapstructure:"app"`
	Database      Database              `mapstructure:"database"`
	Feeds         Feeds                 `mapstructure:"feeds"`
	Audio         Audio                 `mapstructure:"audio"`
	Transcription Transcription         `mapstructure:"transcription"`
	Reasoner      Reasoner              `mapstructure:"reasoner"`
	Pipeline      Pipeline              `mapstructure:"pipeline"`
	Topics        Topics                `mapstructure:"topics"`
	Redis         Redis                 `mapstructure:"redis"`
	Server        Server                `mapstructure:"server"`
	Notify        Notify                `mapstructure:"notify"`
	Logging       Logging               `mapstructure:"logging"`
	FeedList      []core.FeedDescriptor `mapstructure:"feed_list"`
}

// App holds general application configuration
type App struct {
	Debug      bool   `mapstructure:"debug"`
	DataDir    string `mapstructure:"data_dir"`
	ConfigFile string `mapstructure:"config_file"`
}

// Database selects and configures the storage backend
type Database struct {
	Driver          string        `mapstructure:"driver"` // sqlite | postgres
	Path            string        `mapstructure:"path"`
	URL             string        `mapstructure:"url"`
	Schema          string        `mapstructure:"schema"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// Feeds holds feed fetching configuration
type Feeds struct {
	UserAgent   string        `mapstructure:"user_agent"`
	Timeout     time.Duration `mapstructure:"timeout"`
	MaxEpisodes int           `mapstructure:"max_episodes"`
}

// Audio holds download and ffmpeg configuration
type Audio struct {
	Directory       string        `mapstructure:"directory"`
	Format          string        `mapstructure:"format"` // wav | mp3
	SampleRate      int           `mapstructure:"sample_rate"`
	FFmpegPath      string        `mapstructure:"ffmpeg_path"`
	FFprobePath     string        `mapstructure:"ffprobe_path"`
	DownloadTimeout time.Duration `mapstructure:"download_timeout"`
	ConvertTimeout  time.Duration `mapstructure:"convert_timeout"`
}

// Transcription holds speech-to-text configuration
type Transcription struct {
	APIKey            string        `mapstructure:"api_key"`
	BaseURL           string        `mapstructure:"base_url"`
	Model             string        `mapstructure:"model"`
	Language          string        `mapstructure:"language"`
	MaxUploadBytes    int64         `mapstructure:"max_upload_bytes"`
	ChunkDuration     time.Duration `mapstructure:"chunk_duration"`
	ChunkOverlap      time.Duration `mapstructure:"chunk_overlap"`
	ChunkDirectory    string        `mapstructure:"chunk_directory"`
	RequestsPerMinute int           `mapstructure:"requests_per_minute"`
	Timeout           time.Duration `mapstructure:"timeout"`
}

// Reasoner holds LLM configuration for summarization and topic analysis
type Reasoner struct {
	Provider         string        `mapstructure:"provider"` // gemini | groq
	Gemini           LLMProvider   `mapstructure:"gemini"`
	Groq             LLMProvider   `mapstructure:"groq"`
	Temperature      float32       `mapstructure:"temperature"`
	TopicTemperature float32       `mapstructure:"topic_temperature"`
	MaxTokens        int32         `mapstructure:"max_tokens"`
	MaxInputChars    int           `mapstructure:"max_input_chars"`
	MaxRetries       int           `mapstructure:"max_retries"`
	RetryDelay       time.Duration `mapstructure:"retry_delay"`
	Timeout          time.Duration `mapstructure:"timeout"`
}

// LLMProvider holds per-provider credentials
type LLMProvider struct {
	APIKey  string `mapstructure:"api_key"`
	Model   string `mapstructure:"model"`
	BaseURL string `mapstructure:"base_url"`
}

// Pipeline holds orchestrator tuning
type Pipeline struct {
	Workers      int           `mapstructure:"workers"`
	ClaimTTL     time.Duration `mapstructure:"claim_ttl"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
	BaseDelay    time.Duration `mapstructure:"base_delay"`
	MaxDelay     time.Duration `mapstructure:"max_delay"`
	StageTimeout time.Duration `mapstructure:"stage_timeout"`
}

// Topics holds cross-episode topic analysis settings
type Topics struct {
	MaxSummaries int           `mapstructure:"max_summaries"`
	MaxClusters  int           `mapstructure:"max_clusters"`
	CacheTTL     time.Duration `mapstructure:"cache_ttl"`
}

// Redis holds the optional cache connection
type Redis struct {
	URL string `mapstructure:"url"`
}

// Notify holds webhook targets for run notifications
type Notify struct {
	SlackWebhookURL   string `mapstructure:"slack_webhook_url"`
	DiscordWebhookURL string `mapstructure:"discord_webhook_url"`
	Title             string `mapstructure:"title"`
}

// Server holds the read-only API server configuration
type Server struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	CORS         CORS          `mapstructure:"cors"`
}

// CORS holds cross-origin settings
type CORS struct {
	Enabled        bool     `mapstructure:"enabled"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// Logging holds logging configuration
type Logging struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

var globalConfig *Config

// Load loads the configuration from various sources
func Load(configFile string) (*Config, error) {
	if globalConfig != nil {
		return globalConfig, nil
	}

	// Load .env file if it exists
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: Error loading .env file: %v\n", err)
		}
	}

	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME")
		viper.SetConfigName(".podpipe")
		viper.SetConfigType("yaml")
	}

	setDefaults()
	bindEnvironmentVariables()

	viper.SetEnvPrefix("PODPIPE")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	config.App.ConfigFile = viper.ConfigFileUsed()

	postProcessConfig(config)

	if err := validateConfig(config); err != nil {
		return nil, err
	}

	globalConfig = config
	return config, nil
}

// Get returns the global configuration, loading it if necessary
func Get() *Config {
	if globalConfig == nil {
		config, err := Load("")
		if err != nil {
			panic(fmt.Sprintf("Failed to load configuration: %v", err))
		}
		return config
	}
	return globalConfig
}

// setDefaults sets default configuration values
func setDefaults() {
	viper.SetDefault("app.debug", false)
	viper.SetDefault("app.data_dir", "data")

	viper.SetDefault("database.driver", "sqlite")
	viper.SetDefault("database.path", "")
	viper.SetDefault("database.schema", "public")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", "5m")

	viper.SetDefault("feeds.user_agent", "podpipe/1.0")
	viper.SetDefault("feeds.timeout", "30s")
	viper.SetDefault("feeds.max_episodes", 10)

	viper.SetDefault("audio.directory", "")
	viper.SetDefault("audio.format", "wav")
	viper.SetDefault("audio.sample_rate", 16000)
	viper.SetDefault("audio.ffmpeg_path", "ffmpeg")
	viper.SetDefault("audio.ffprobe_path", "ffprobe")
	viper.SetDefault("audio.download_timeout", "5m")
	viper.SetDefault("audio.convert_timeout", "10m")

	viper.SetDefault("transcription.base_url", "https://api.groq.com/openai/v1")
	viper.SetDefault("transcription.model", "whisper-large-v3-turbo")
	viper.SetDefault("transcription.max_upload_bytes", 80*1024*1024)
	viper.SetDefault("transcription.chunk_duration", "30m")
	viper.SetDefault("transcription.chunk_overlap", "0s")
	viper.SetDefault("transcription.requests_per_minute", 20)
	viper.SetDefault("transcription.timeout", "10m")

	viper.SetDefault("reasoner.provider", "groq")
	viper.SetDefault("reasoner.gemini.model", "gemini-flash-lite-latest")
	viper.SetDefault("reasoner.groq.model", "llama-3.3-70b-versatile")
	viper.SetDefault("reasoner.groq.base_url", "https://api.groq.com/openai/v1")
	viper.SetDefault("reasoner.temperature", 0.2)
	viper.SetDefault("reasoner.topic_temperature", 0.3)
	viper.SetDefault("reasoner.max_tokens", 4000)
	viper.SetDefault("reasoner.max_input_chars", 500000)
	viper.SetDefault("reasoner.max_retries", 2)
	viper.SetDefault("reasoner.retry_delay", "2s")
	viper.SetDefault("reasoner.timeout", "2m")

	viper.SetDefault("pipeline.workers", 2)
	viper.SetDefault("pipeline.claim_ttl", "30m")
	viper.SetDefault("pipeline.max_attempts", 3)
	viper.SetDefault("pipeline.base_delay", "5s")
	viper.SetDefault("pipeline.max_delay", "1m")
	viper.SetDefault("pipeline.stage_timeout", "20m")

	viper.SetDefault("topics.max_summaries", 200)
	viper.SetDefault("topics.max_clusters", 8)
	viper.SetDefault("topics.cache_ttl", "6h")

	viper.SetDefault("server.host", "127.0.0.1")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", "15s")
	viper.SetDefault("server.write_timeout", "15s")
	viper.SetDefault("server.cors.enabled", false)

	viper.SetDefault("notify.title", "New podcast summaries")

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
}

// bindEnvironmentVariables sets up flexible environment variable binding
func bindEnvironmentVariables() {
	bindEnvKeys("transcription.api_key", []string{
		"GROQ_API_KEY",
	})
	bindEnvKeys("transcription.model", []string{
		"GROQ_WHISPER_MODEL",
	})

	bindEnvKeys("reasoner.groq.api_key", []string{
		"GROQ_API_KEY",
	})
	bindEnvKeys("reasoner.groq.model", []string{
		"GROQ_MODEL",
	})
	bindEnvKeys("reasoner.gemini.api_key", []string{
		"GEMINI_API_KEY",
		"GOOGLE_GEMINI_API_KEY",
		"GOOGLE_AI_API_KEY",
	})
	bindEnvKeys("reasoner.provider", []string{
		"REASONER_PROVIDER",
	})
	bindEnvKeys("reasoner.temperature", []string{
		"GROQ_TEMPERATURE",
	})
	bindEnvKeys("reasoner.topic_temperature", []string{
		"GROQ_TOPIC_TEMPERATURE",
	})
	bindEnvKeys("reasoner.max_tokens", []string{
		"GROQ_MAX_TOKENS",
	})

	bindEnvKeys("database.url", []string{
		"DB_URL",
		"DATABASE_URL",
	})
	bindEnvKeys("database.schema", []string{
		"DB_SCHEMA",
	})
	bindEnvKeys("database.driver", []string{
		"DB_DRIVER",
	})

	bindEnvKeys("redis.url", []string{
		"REDIS_URL",
	})

	bindEnvKeys("notify.slack_webhook_url", []string{
		"SLACK_WEBHOOK_URL",
	})
	bindEnvKeys("notify.discord_webhook_url", []string{
		"DISCORD_WEBHOOK_URL",
	})

	bindEnvKeys("app.debug", []string{
		"DEBUG",
		"PODPIPE_DEBUG",
	})
	bindEnvKeys("logging.level", []string{
		"LOG_LEVEL",
	})
}

// bindEnvKeys binds the first found environment variable to a viper key
func bindEnvKeys(viperKey string, envKeys []string) {
	for _, envKey := range envKeys {
		if value := os.Getenv(envKey); value != "" {
			viper.Set(viperKey, value)
			return
		}
	}
}

// postProcessConfig derives paths that depend on the data directory
func postProcessConfig(config *Config) {
	config.App.DataDir = expandPath(config.App.DataDir)

	if config.Database.Path == "" {
		config.Database.Path = filepath.Join(config.App.DataDir, "podpipe.db")
	} else {
		config.Database.Path = expandPath(config.Database.Path)
	}
	if config.Audio.Directory == "" {
		config.Audio.Directory = filepath.Join(config.App.DataDir, "audio")
	} else {
		config.Audio.Directory = expandPath(config.Audio.Directory)
	}
	if config.Transcription.ChunkDirectory == "" {
		config.Transcription.ChunkDirectory = filepath.Join(config.App.DataDir, "chunks")
	} else {
		config.Transcription.ChunkDirectory = expandPath(config.Transcription.ChunkDirectory)
	}

	config.Database.Driver = strings.ToLower(strings.TrimSpace(config.Database.Driver))
	config.Reasoner.Provider = strings.ToLower(strings.TrimSpace(config.Reasoner.Provider))
	config.Audio.Format = strings.ToLower(strings.TrimSpace(config.Audio.Format))

	if config.App.Debug {
		config.Logging.Level = "debug"
	}
}

// expandPath expands ~ and environment variables in paths
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return os.ExpandEnv(path)
}

// validateConfig ensures the configuration is coherent. API keys are checked
// by the commands that need them, so read-only commands work without them.
func validateConfig(config *Config) error {
	var errors []string

	switch config.Database.Driver {
	case "sqlite":
	case "postgres":
		if config.Database.URL == "" {
			errors = append(errors, "PostgreSQL requires a connection URL. Set DB_URL or database.url")
		}
		if config.Database.Schema == "" {
			errors = append(errors, "database.schema must not be empty")
		}
	default:
		errors = append(errors, fmt.Sprintf("Unknown database driver: %s. Supported: sqlite, postgres", config.Database.Driver))
	}

	switch config.Reasoner.Provider {
	case "gemini", "groq":
	default:
		errors = append(errors, fmt.Sprintf("Unknown reasoner provider: %s. Supported: gemini, groq", config.Reasoner.Provider))
	}

	switch config.Audio.Format {
	case "wav", "mp3":
	default:
		errors = append(errors, fmt.Sprintf("Unsupported audio format: %s. Supported: wav, mp3", config.Audio.Format))
	}

	if config.Pipeline.Workers < 1 {
		errors = append(errors, "pipeline.workers must be at least 1")
	}
	if config.Pipeline.MaxAttempts < 1 {
		errors = append(errors, "pipeline.max_attempts must be at least 1")
	}
	if config.Transcription.MaxUploadBytes <= 0 {
		errors = append(errors, "transcription.max_upload_bytes must be positive")
	}
	if config.Transcription.ChunkDuration < time.Minute {
		errors = append(errors, "transcription.chunk_duration must be at least 1m")
	}
	if config.Transcription.ChunkOverlap < 0 || config.Transcription.ChunkOverlap >= config.Transcription.ChunkDuration {
		errors = append(errors, "transcription.chunk_overlap must be non-negative and shorter than chunk_duration")
	}

	for i, f := range config.FeedList {
		if f.URL == "" {
			errors = append(errors, fmt.Sprintf("feed_list[%d] has no url", i))
		}
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration errors:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

// RequireTranscriptionKey reports a helpful error when the Groq key is missing
func (c *Config) RequireTranscriptionKey() error {
	if !isValidAPIKey(c.Transcription.APIKey) {
		return fmt.Errorf("Groq API key is required for transcription. Set GROQ_API_KEY or transcription.api_key")
	}
	return nil
}

// RequireReasonerKey reports a helpful error when the selected provider has no key
func (c *Config) RequireReasonerKey() error {
	switch c.Reasoner.Provider {
	case "gemini":
		if !isValidAPIKey(c.Reasoner.Gemini.APIKey) {
			return fmt.Errorf("Gemini API key is required. Set GEMINI_API_KEY or reasoner.gemini.api_key")
		}
	default:
		if !isValidAPIKey(c.Reasoner.Groq.APIKey) {
			return fmt.Errorf("Groq API key is required. Set GROQ_API_KEY or reasoner.groq.api_key")
		}
	}
	return nil
}

// isValidAPIKey checks if an API key is valid (not empty and not a placeholder)
func isValidAPIKey(apiKey string) bool {
	if apiKey == "" {
		return false
	}

	placeholders := []string{
		"your-api-key", "your-groq-key", "your-gemini-key",
		"YOUR_API_KEY", "PLACEHOLDER", "TODO", "CHANGE_ME",
	}

	for _, placeholder := range placeholders {
		if apiKey == placeholder {
			return false
		}
	}

	return true
}

// Reset clears the global configuration (useful for testing)
func Reset() {
	globalConfig = nil
	viper.Reset()
}
