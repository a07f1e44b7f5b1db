package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/chkda/transcription-service/domain/entities"
	"github.com/chkda/transcription-service/internal/audio"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "TRANSCRIPTION_"

// DotEnvFile is loaded into the environment before overrides are applied
var DotEnvFile = ".env"

// Config represents the complete service configuration
type Config struct {
	Server          ServerConfig          `yaml:"server"`
	Audio           AudioConfig           `yaml:"audio"`
	SessionDefaults SessionDefaultsConfig `yaml:"session_defaults"`
	Buffering       BufferingConfig       `yaml:"buffering"`
	Analysis        AnalysisConfig        `yaml:"analysis"`
	VAD             VADConfig             `yaml:"vad"`
	ASR             ASRConfig             `yaml:"asr"`
	Archive         ArchiveConfig         `yaml:"archive"`
	Auth            AuthConfig            `yaml:"auth"`
	Log             LogConfig             `yaml:"log"`
}

// ServerConfig contains HTTP and websocket transport settings
type ServerConfig struct {
	Addr            string   `yaml:"addr"`
	AllowedOrigins  []string `yaml:"allowed_origins"`
	ReadLimit       int64    `yaml:"read_limit"`       // bytes per inbound frame
	PingInterval    float64  `yaml:"ping_interval"`    // seconds
	PongWait        float64  `yaml:"pong_wait"`        // seconds
	WriteWait       float64  `yaml:"write_wait"`       // seconds
	SendQueueSize   int      `yaml:"send_queue_size"`  // outbound frames per connection
	ShutdownTimeout float64  `yaml:"shutdown_timeout"` // seconds
}

// AudioConfig describes the PCM stream agreed with every client
type AudioConfig struct {
	SampleRate  int    `yaml:"sample_rate"`
	SampleWidth int    `yaml:"sample_width"`
	Channels    int    `yaml:"channels"`
	DumpDir     string `yaml:"dump_dir"`
}

// SessionDefaultsConfig is the config every new session starts with.
// An empty language means auto-detect.
type SessionDefaultsConfig struct {
	Language           string  `yaml:"language"`
	ProcessingStrategy string  `yaml:"processing_strategy"`
	ChunkLengthSeconds float64 `yaml:"chunk_length_seconds"`
	ChunkOffsetSeconds float64 `yaml:"chunk_offset_seconds"`
	ErrorIfNotRealtime bool    `yaml:"error_if_not_realtime"`
}

// BufferingConfig holds server-side policy settings. Set overrides win over client values.
type BufferingConfig struct {
	ChunkLengthSeconds   *float64 `yaml:"chunk_length_seconds"`
	ChunkOffsetSeconds   *float64 `yaml:"chunk_offset_seconds"`
	ErrorIfNotRealtime   *bool    `yaml:"error_if_not_realtime"`
	TrailingSilenceGate  bool     `yaml:"trailing_silence_gate"`
	MaxBufferSeconds     float64  `yaml:"max_buffer_seconds"`
	RealtimeGraceSeconds float64  `yaml:"realtime_grace_seconds"`
}

// AnalysisConfig bounds calls to the VAD and ASR engines
type AnalysisConfig struct {
	Timeout       float64 `yaml:"timeout"`       // seconds per attempt
	MaxRetries    int     `yaml:"max_retries"`
	RetryBackoff  float64 `yaml:"retry_backoff"` // seconds
	MaxConcurrent int64   `yaml:"max_concurrent"`
}

// VADConfig selects and tunes the voice activity detector
type VADConfig struct {
	Engine     string  `yaml:"engine"`
	Threshold  float64 `yaml:"threshold"`
	Window     float64 `yaml:"window"`      // seconds
	MinSpeech  float64 `yaml:"min_speech"`  // seconds
	MinSilence float64 `yaml:"min_silence"` // seconds
	Endpoint   string  `yaml:"endpoint"`
	Timeout    float64 `yaml:"timeout"` // seconds
	APIKey     string  `yaml:"-"`
}

// ASRConfig selects and tunes the speech recognizer
type ASRConfig struct {
	Engine          string `yaml:"engine"`
	Model           string `yaml:"model"`
	DefaultLanguage string `yaml:"default_language"`
	Endpoint        string `yaml:"endpoint"`
	MockText        string `yaml:"mock_text"`
	CredentialsFile string `yaml:"-"`
	OpenAIAPIKey    string `yaml:"-"`
	GeminiAPIKey    string `yaml:"-"`
}

// ArchiveConfig selects where delivered transcripts are kept
type ArchiveConfig struct {
	Backend       string  `yaml:"backend"`
	SQLitePath    string  `yaml:"sqlite_path"`
	MongoDatabase string  `yaml:"mongo_database"`
	Retention     float64 `yaml:"retention"`      // hours, 0 keeps forever
	PurgeInterval float64 `yaml:"purge_interval"` // minutes
	MongoURI      string  `yaml:"-"`
}

// AuthConfig gates the websocket endpoint. An empty secret disables auth.
type AuthConfig struct {
	JWTSecret string `yaml:"-"`
}

// LogConfig contains logging configuration
type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Archive backends
const (
	ArchiveMemory = "memory"
	ArchiveSQLite = "sqlite"
	ArchiveMongo  = "mongo"
	ArchiveNone   = "none"
)

// Default returns the configuration used when nothing is set
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadLimit:       1 << 20,
			PingInterval:    54,
			PongWait:        60,
			WriteWait:       10,
			SendQueueSize:   256,
			ShutdownTimeout: 10,
		},
		Audio: AudioConfig{
			SampleRate:  audio.DefaultSampleRate,
			SampleWidth: audio.DefaultSampleWidth,
			Channels:    audio.DefaultChannels,
		},
		SessionDefaults: SessionDefaultsConfig{
			ProcessingStrategy: entities.StrategySilenceAtEndOfChunk,
			ChunkLengthSeconds: 3,
			ChunkOffsetSeconds: 0.1,
		},
		Buffering: BufferingConfig{
			MaxBufferSeconds:     30,
			RealtimeGraceSeconds: 5,
		},
		Analysis: AnalysisConfig{
			Timeout:       30,
			MaxRetries:    2,
			RetryBackoff:  0.2,
			MaxConcurrent: 4,
		},
		VAD: VADConfig{
			Engine:     "energy",
			Threshold:  0.02,
			Window:     0.03,
			MinSpeech:  0.1,
			MinSilence: 0.3,
			Timeout:    10,
		},
		ASR: ASRConfig{
			Engine:          "mock",
			DefaultLanguage: "en-US",
		},
		Archive: ArchiveConfig{
			Backend:       ArchiveMemory,
			SQLitePath:    "data/transcripts.db",
			MongoDatabase: "transcription",
			Retention:     24 * 7,
			PurgeInterval: 30,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load builds the configuration from defaults, the optional YAML file at path,
// a .env file and environment overrides, in that order.
func Load(path string) (*Config, error) {
	config := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := godotenv.Load(DotEnvFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load %s: %w", DotEnvFile, err)
	}

	if err := config.applyEnv(); err != nil {
		return nil, fmt.Errorf("invalid environment override: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Validate performs validation of the whole configuration
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}
	if err := c.Audio.Format().Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}
	if err := c.SessionDefaults.SessionConfig().Validate(); err != nil {
		return fmt.Errorf("session_defaults config: %w", err)
	}
	if err := c.Buffering.Validate(); err != nil {
		return fmt.Errorf("buffering config: %w", err)
	}
	if err := c.Analysis.Validate(); err != nil {
		return fmt.Errorf("analysis config: %w", err)
	}
	if err := c.VAD.Validate(); err != nil {
		return fmt.Errorf("vad config: %w", err)
	}
	if err := c.ASR.Validate(); err != nil {
		return fmt.Errorf("asr config: %w", err)
	}
	if err := c.Archive.Validate(); err != nil {
		return fmt.Errorf("archive config: %w", err)
	}
	if err := c.Log.Validate(); err != nil {
		return fmt.Errorf("log config: %w", err)
	}
	return nil
}

// Validate validates transport settings
func (s *ServerConfig) Validate() error {
	if s.Addr == "" {
		return fmt.Errorf("addr cannot be empty")
	}
	if s.ReadLimit < 1024 {
		return fmt.Errorf("read_limit must be at least 1024 bytes, got %d", s.ReadLimit)
	}
	if s.PongWait <= 0 || s.WriteWait <= 0 {
		return fmt.Errorf("pong_wait and write_wait must be positive")
	}
	if s.PingInterval <= 0 || s.PingInterval >= s.PongWait {
		return fmt.Errorf("ping_interval must be positive and below pong_wait, got %v", s.PingInterval)
	}
	if s.SendQueueSize < 1 {
		return fmt.Errorf("send_queue_size must be at least 1, got %d", s.SendQueueSize)
	}
	return nil
}

// Validate validates server-side buffering settings
func (b *BufferingConfig) Validate() error {
	if b.ChunkLengthSeconds != nil && *b.ChunkLengthSeconds <= 0 {
		return fmt.Errorf("chunk_length_seconds must be positive, got %v", *b.ChunkLengthSeconds)
	}
	if b.ChunkOffsetSeconds != nil && *b.ChunkOffsetSeconds < 0 {
		return fmt.Errorf("chunk_offset_seconds cannot be negative, got %v", *b.ChunkOffsetSeconds)
	}
	if b.MaxBufferSeconds < 0 {
		return fmt.Errorf("max_buffer_seconds cannot be negative, got %v", b.MaxBufferSeconds)
	}
	if b.RealtimeGraceSeconds < 0 {
		return fmt.Errorf("realtime_grace_seconds cannot be negative, got %v", b.RealtimeGraceSeconds)
	}
	return nil
}

// Validate validates analysis settings
func (a *AnalysisConfig) Validate() error {
	if a.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %v", a.Timeout)
	}
	if a.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", a.MaxRetries)
	}
	if a.RetryBackoff < 0 {
		return fmt.Errorf("retry_backoff cannot be negative, got %v", a.RetryBackoff)
	}
	if a.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1, got %d", a.MaxConcurrent)
	}
	return nil
}

// Validate validates VAD settings
func (v *VADConfig) Validate() error {
	switch v.Engine {
	case "energy":
		if v.Threshold <= 0 || v.Threshold >= 1 {
			return fmt.Errorf("threshold must be between 0 and 1, got %v", v.Threshold)
		}
		if v.Window <= 0 {
			return fmt.Errorf("window must be positive, got %v", v.Window)
		}
	case "http":
		if v.Endpoint == "" {
			return fmt.Errorf("endpoint cannot be empty for the http engine")
		}
	default:
		return fmt.Errorf("engine must be one of [energy, http], got '%s'", v.Engine)
	}
	return nil
}

// Validate validates ASR settings
func (a *ASRConfig) Validate() error {
	switch a.Engine {
	case "mock", "google":
	case "openai":
		if a.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required for the openai engine")
		}
	case "gemini":
		if a.GeminiAPIKey == "" {
			return fmt.Errorf("GEMINI_API_KEY is required for the gemini engine")
		}
	default:
		return fmt.Errorf("engine must be one of [google, openai, gemini, mock], got '%s'", a.Engine)
	}
	return nil
}

// Validate validates archive settings
func (a *ArchiveConfig) Validate() error {
	switch a.Backend {
	case ArchiveMemory, ArchiveNone:
	case ArchiveSQLite:
		if strings.TrimSpace(a.SQLitePath) == "" {
			return fmt.Errorf("sqlite_path cannot be empty for the sqlite backend")
		}
	case ArchiveMongo:
		if a.MongoURI == "" {
			return fmt.Errorf("MONGODB_URI is required for the mongo backend")
		}
	default:
		return fmt.Errorf("backend must be one of [memory, sqlite, mongo, none], got '%s'", a.Backend)
	}
	if a.Retention < 0 {
		return fmt.Errorf("retention cannot be negative, got %v", a.Retention)
	}
	return nil
}

// Validate validates logging configuration
func (l *LogConfig) Validate() error {
	if _, err := zap.ParseAtomicLevel(l.Level); err != nil {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}
	return nil
}

// NewLogger builds the process logger
func (l *LogConfig) NewLogger() (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(l.Level)
	if err != nil {
		return nil, err
	}

	zc := zap.NewProductionConfig()
	if l.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = level
	return zc.Build()
}

// Format returns the PCM format of the stream
func (a *AudioConfig) Format() audio.Format {
	return audio.Format{
		SampleRate:  a.SampleRate,
		SampleWidth: a.SampleWidth,
		Channels:    a.Channels,
	}
}

// SessionConfig returns the default session config
func (s *SessionDefaultsConfig) SessionConfig() entities.SessionConfig {
	cfg := entities.DefaultSessionConfig()
	if s.Language != "" {
		lang := s.Language
		cfg.Language = &lang
	}
	cfg.ProcessingStrategy = s.ProcessingStrategy
	cfg.ProcessingArgs.ChunkLengthSeconds = s.ChunkLengthSeconds
	cfg.ProcessingArgs.ChunkOffsetSeconds = s.ChunkOffsetSeconds
	cfg.ErrorIfNotRealtime = s.ErrorIfNotRealtime
	return cfg
}

// Seconds converts a seconds setting to a time.Duration
func Seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}

// RetentionDuration returns how long archived transcripts are kept
func (a *ArchiveConfig) RetentionDuration() time.Duration {
	return time.Duration(a.Retention * float64(time.Hour))
}

// PurgeIntervalDuration returns how often the archive is purged
func (a *ArchiveConfig) PurgeIntervalDuration() time.Duration {
	return time.Duration(a.PurgeInterval * float64(time.Minute))
}
