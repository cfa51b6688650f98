package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server struct {
		Host string `yaml:"host"`
		Port int    `yaml:"port"`
	} `yaml:"server"`

	Logging Logging `yaml:"logging"`

	Queue Queue `yaml:"queue"`

	Tools Tools `yaml:"tools"`

	OpenAI OpenAI `yaml:"openai"`

	Summarize struct {
		ChunkSizeWords int `yaml:"chunk_size_words"`
	} `yaml:"summarize"`

	Transcription struct {
		// ChunkMinutes is advisory only; audio is sent to the
		// speech-to-text service whole, subject to MaxAudioMB.
		ChunkMinutes int `yaml:"chunk_minutes"`
		MaxAudioMB   int `yaml:"max_audio_mb"`
	} `yaml:"transcription"`

	Limits struct {
		MaxVideoDurationSeconds int `yaml:"max_video_duration_seconds"`
		MaxUploadMB             int `yaml:"max_upload_mb"`
		RateLimitRequests       int `yaml:"rate_limit_requests"`
		RateLimitWindowMinutes  int `yaml:"rate_limit_window_minutes"`
	} `yaml:"limits"`

	Storage struct {
		ScratchDir string `yaml:"scratch_dir"`
		UploadDir  string `yaml:"upload_dir"`
	} `yaml:"storage"`

	Cleanup struct {
		IntervalMinutes int `yaml:"interval_minutes"`
		MaxAgeHours     int `yaml:"max_age_hours"`
	} `yaml:"cleanup"`

	GoogleDrive GoogleDrive `yaml:"google_drive"`
}

// Logging controls the logrus logger
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Queue configures the durable backend and its retry/retention policy
type Queue struct {
	Name           string        `yaml:"name"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	Redis          struct {
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`
	Attempts              int           `yaml:"attempts"`
	Backoff               time.Duration `yaml:"backoff"`
	RemoveOnCompleteAge   time.Duration `yaml:"remove_on_complete_age"`
	RemoveOnCompleteCount int           `yaml:"remove_on_complete_count"`
	RemoveOnFailAge       time.Duration `yaml:"remove_on_fail_age"`
	LockDuration          time.Duration `yaml:"lock_duration"`
}

// Tools configures the external subprocesses
type Tools struct {
	YtDlpPath       string        `yaml:"yt_dlp_path"`
	FFmpegPath      string        `yaml:"ffmpeg_path"`
	ProbeTimeout    time.Duration `yaml:"probe_timeout"`
	DownloadTimeout time.Duration `yaml:"download_timeout"`
	ExtractTimeout  time.Duration `yaml:"extract_timeout"`
}

// OpenAI configures the completion and speech-to-text client
type OpenAI struct {
	APIKey             string  `yaml:"api_key"`
	BaseURL            string  `yaml:"base_url"`
	ChatModel          string  `yaml:"chat_model"`
	TranscriptionModel string  `yaml:"transcription_model"`
	Language           string  `yaml:"language"`
	Temperature        float32 `yaml:"temperature"`
	MaxTokens          int     `yaml:"max_tokens"`
	SkipCreditsCheck   bool    `yaml:"skip_credits_check"`
}

// GoogleDrive configures the optional result export
type GoogleDrive struct {
	Enabled         bool   `yaml:"enabled"`
	CredentialsFile string `yaml:"credentials_file"`
	TokenFile       string `yaml:"token_file"`
	FolderName      string `yaml:"folder_name"`
}

// Default returns the built-in configuration
func Default() *Config {
	cfg := &Config{}
	cfg.Server.Host = "0.0.0.0"
	cfg.Server.Port = 5000

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "text"

	cfg.Queue.Name = "video-summarizer"
	cfg.Queue.ConnectTimeout = 3 * time.Second
	cfg.Queue.Redis.Host = "localhost"
	cfg.Queue.Redis.Port = 6379
	cfg.Queue.Attempts = 2
	cfg.Queue.Backoff = 5 * time.Second
	cfg.Queue.RemoveOnCompleteAge = time.Hour
	cfg.Queue.RemoveOnCompleteCount = 100
	cfg.Queue.RemoveOnFailAge = 24 * time.Hour
	cfg.Queue.LockDuration = 30 * time.Second

	cfg.Tools.FFmpegPath = "ffmpeg"
	cfg.Tools.ProbeTimeout = 30 * time.Second
	cfg.Tools.DownloadTimeout = 30 * time.Minute
	cfg.Tools.ExtractTimeout = 5 * time.Minute

	cfg.OpenAI.ChatModel = "gpt-3.5-turbo"
	cfg.OpenAI.TranscriptionModel = "whisper-1"
	cfg.OpenAI.Language = "en"
	cfg.OpenAI.Temperature = 0.5
	cfg.OpenAI.MaxTokens = 500

	cfg.Summarize.ChunkSizeWords = 3000
	cfg.Transcription.ChunkMinutes = 10
	cfg.Transcription.MaxAudioMB = 25

	cfg.Limits.MaxVideoDurationSeconds = 7200
	cfg.Limits.MaxUploadMB = 500
	cfg.Limits.RateLimitRequests = 100
	cfg.Limits.RateLimitWindowMinutes = 15

	cfg.Storage.ScratchDir = "temp"
	cfg.Storage.UploadDir = "uploads"

	cfg.Cleanup.IntervalMinutes = 30
	cfg.Cleanup.MaxAgeHours = 2

	cfg.GoogleDrive.FolderName = "Video Summaries"
	return cfg
}

// Load reads the YAML file at path over the defaults, applies environment
// overrides and validates the result. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if cfg.Tools.YtDlpPath == "" {
		cfg.Tools.YtDlpPath = resolveYtDlp(".", fileExists)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides file values with the process environment
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	num := func(key string, dst *int) error {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
		*dst = n
		return nil
	}

	str("OPENAI_API_KEY", &c.OpenAI.APIKey)
	str("OPENAI_BASE_URL", &c.OpenAI.BaseURL)
	str("YT_DLP_PATH", &c.Tools.YtDlpPath)
	str("FFMPEG_PATH", &c.Tools.FFmpegPath)
	str("REDIS_HOST", &c.Queue.Redis.Host)
	str("REDIS_PASSWORD", &c.Queue.Redis.Password)
	str("QUEUE_NAME", &c.Queue.Name)
	str("LOG_LEVEL", &c.Logging.Level)

	if v, ok := lookup("SKIP_OPENAI_CREDITS_CHECK"); ok {
		c.OpenAI.SkipCreditsCheck = strings.EqualFold(strings.TrimSpace(v), "true")
	}

	for key, dst := range map[string]*int{
		"MAX_VIDEO_DURATION": &c.Limits.MaxVideoDurationSeconds,
		"REDIS_PORT":         &c.Queue.Redis.Port,
		"PORT":               &c.Server.Port,
	} {
		if err := num(key, dst); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks value ranges and clamps the retry policy
func (c *Config) Validate() error {
	positive := map[string]int{
		"server.port":                       c.Server.Port,
		"limits.max_video_duration_seconds": c.Limits.MaxVideoDurationSeconds,
		"limits.max_upload_mb":              c.Limits.MaxUploadMB,
		"summarize.chunk_size_words":        c.Summarize.ChunkSizeWords,
		"transcription.max_audio_mb":        c.Transcription.MaxAudioMB,
		"queue.redis.port":                  c.Queue.Redis.Port,
		"queue.remove_on_complete_count":    c.Queue.RemoveOnCompleteCount,
		"limits.rate_limit_requests":        c.Limits.RateLimitRequests,
		"limits.rate_limit_window_minutes":  c.Limits.RateLimitWindowMinutes,
		"cleanup.interval_minutes":          c.Cleanup.IntervalMinutes,
		"cleanup.max_age_hours":             c.Cleanup.MaxAgeHours,
	}
	for name, v := range positive {
		if v <= 0 {
			return fmt.Errorf("%s must be greater than 0", name)
		}
	}

	durations := map[string]time.Duration{
		"queue.connect_timeout":        c.Queue.ConnectTimeout,
		"queue.backoff":                c.Queue.Backoff,
		"queue.remove_on_complete_age": c.Queue.RemoveOnCompleteAge,
		"queue.remove_on_fail_age":     c.Queue.RemoveOnFailAge,
		"queue.lock_duration":          c.Queue.LockDuration,
		"tools.probe_timeout":          c.Tools.ProbeTimeout,
		"tools.download_timeout":       c.Tools.DownloadTimeout,
		"tools.extract_timeout":        c.Tools.ExtractTimeout,
	}
	for name, d := range durations {
		if d <= 0 {
			return fmt.Errorf("%s must be greater than 0", name)
		}
	}

	if strings.TrimSpace(c.Queue.Name) == "" {
		return errors.New("queue.name is required")
	}

	// Whole-job retries re-run every stage, so the cap stays at 2.
	if c.Queue.Attempts < 1 {
		c.Queue.Attempts = 1
	}
	if c.Queue.Attempts > 2 {
		c.Queue.Attempts = 2
	}
	return nil
}

// RedisAddr returns host:port of the durable backend
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Queue.Redis.Host, c.Queue.Redis.Port)
}

// MaxVideoDuration returns the duration cap as a time.Duration
func (c *Config) MaxVideoDuration() time.Duration {
	return time.Duration(c.Limits.MaxVideoDurationSeconds) * time.Second
}

// resolveYtDlp picks ./bin/yt-dlp when bundled, else relies on PATH
func resolveYtDlp(root string, exists func(string) bool) string {
	name := "yt-dlp"
	if runtime.GOOS == "windows" {
		name = "yt-dlp.exe"
	}
	for _, candidate := range []string{
		filepath.Join(root, "bin", name),
		filepath.Join(root, "..", "bin", name),
	} {
		if exists(candidate) {
			return candidate
		}
	}
	return "yt-dlp"
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
