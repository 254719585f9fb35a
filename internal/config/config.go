package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

var ErrMissing = errors.New("missing required configuration")

type Config struct {
	Port        string
	PostgresDsn string
	RedisURL    string

	LLMAPIKey  string
	LLMAPIBase string
	LLMModel   string
	LLMTimeout time.Duration

	MapsAPIKey        string
	MapsTimeout       time.Duration
	MapsQPS           float64
	MapsLanguage      string
	VerifyRadius      uint
	VerifyThresholdKm float64

	STTAPIKey  string
	STTModel   string
	STTTimeout time.Duration

	ChunkLimitBytes  int64
	ChunkDuration    time.Duration
	CaptionLanguages []string

	YtKey      string
	BinYtDlp   string
	BinFfmpeg  string
	BinFfprobe string
	TmpDir     string

	JobWorkers   int
	JobQueueSize int
	JobTTL       time.Duration

	LogLevel  string
	LogFormat string
}

// Load reads an optional .env file and then the environment.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Port:        getEnv("PORT", ":8080"),
		PostgresDsn: getEnv("POSTGRES_DSN", ""),
		RedisURL:    getEnv("REDIS_URL", ""),

		LLMAPIKey:  getEnv("LLM_API_KEY", ""),
		LLMAPIBase: getEnv("LLM_API_BASE", "https://generativelanguage.googleapis.com/v1beta/openai/"),
		LLMModel:   getEnv("LLM_MODEL", "gemini-1.5-pro"),
		LLMTimeout: getEnvDuration("LLM_TIMEOUT", time.Minute),

		MapsAPIKey:        getEnv("GOOGLE_MAPS_API_KEY", ""),
		MapsTimeout:       getEnvDuration("MAPS_TIMEOUT", 10*time.Second),
		MapsQPS:           getEnvFloat("MAPS_QPS", 10),
		MapsLanguage:      getEnv("MAPS_LANGUAGE", "ko"),
		VerifyRadius:      uint(getEnvInt("VERIFY_RADIUS_M", 20000)),
		VerifyThresholdKm: getEnvFloat("VERIFY_THRESHOLD_KM", 2.0),

		STTAPIKey:  getEnv("OPENAI_API_KEY", ""),
		STTModel:   getEnv("STT_MODEL", "whisper-1"),
		STTTimeout: getEnvDuration("STT_TIMEOUT", 5*time.Minute),

		ChunkLimitBytes:  int64(getEnvInt("AUDIO_CHUNK_LIMIT_BYTES", 25*1024*1024)),
		ChunkDuration:    getEnvDuration("AUDIO_CHUNK_DURATION", 10*time.Minute),
		CaptionLanguages: getEnvList("CAPTION_LANGUAGES", []string{"ko", "en"}),

		YtKey:      getEnv("YT_KEY", ""),
		BinYtDlp:   getEnv("BIN_YTDLP", "yt-dlp"),
		BinFfmpeg:  getEnv("BIN_FFMPEG", "ffmpeg"),
		BinFfprobe: getEnv("BIN_FFPROBE", "ffprobe"),
		TmpDir:     getEnv("TMP_DIR", os.TempDir()),

		JobWorkers:   getEnvInt("JOB_WORKERS", 4),
		JobQueueSize: getEnvInt("JOB_QUEUE_SIZE", 100),
		JobTTL:       getEnvDuration("JOB_TTL", 24*time.Hour),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),
	}
}

// RequireServing checks the values without which the pipeline cannot run.
func (c *Config) RequireServing() error {
	var missing []string
	if c.PostgresDsn == "" {
		missing = append(missing, "POSTGRES_DSN")
	}
	if c.LLMAPIKey == "" {
		missing = append(missing, "LLM_API_KEY")
	}
	if c.MapsAPIKey == "" {
		missing = append(missing, "GOOGLE_MAPS_API_KEY")
	}

	if len(missing) > 0 {
		return &MissingError{Keys: missing}
	}

	return nil
}

type MissingError struct {
	Keys []string
}

func (e *MissingError) Error() string {
	return ErrMissing.Error() + ": " + strings.Join(e.Keys, ", ")
}

func (e *MissingError) Unwrap() error {
	return ErrMissing
}

// NewLogger builds the process logger, JSON unless LOG_FORMAT=text.
func (c *Config) NewLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stdout)

	if c.LogFormat == "text" {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		log.SetFormatter(&logrus.JSONFormatter{})
	}

	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		log.WithField("level", c.LogLevel).Warn("unknown log level, using info")
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	return log
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	v, err := strconv.Atoi(getEnv(key, ""))
	if err != nil {
		return def
	}
	return v
}

func getEnvFloat(key string, def float64) float64 {
	v, err := strconv.ParseFloat(getEnv(key, ""), 64)
	if err != nil {
		return def
	}
	return v
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	v, err := time.ParseDuration(getEnv(key, ""))
	if err != nil {
		return def
	}
	return v
}

func getEnvList(key string, def []string) []string {
	raw := getEnv(key, "")
	if raw == "" {
		return def
	}

	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
