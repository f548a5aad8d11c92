package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// DefaultMetricsInterval is the stdout export period.
const DefaultMetricsInterval = 30 * time.Second

// Config represents application configuration loaded from environment
// variables. It is built once per process and treated as read-only.
type Config struct {
	AppEnv      string
	Port        string
	DatabaseURL string

	ProviderBaseURL string
	AccountsFile    string
	AccountsJSON    string
	DefaultModel    string
	DefaultAspect   string
	OutputDir       string

	PollRounds       int
	PollInterval     time.Duration
	MissingBudget    int
	SubmitDelay      time.Duration
	UploadSettle     time.Duration
	BackoffBase      time.Duration
	BackoffCap       time.Duration
	DownloadAttempts int
	DownloadBackoff  time.Duration
	Thumbnails       bool
	FFmpegPath       string

	APIToken        string
	CORSOrigins     []string
	BatchRateLimit  int
	BatchRatePeriod time.Duration

	MetricsExport   string
	MetricsInterval time.Duration

	HTTPClientTimeout time.Duration
	HTTPReadTimeout   time.Duration
	HTTPWriteTimeout  time.Duration
	HTTPIdleTimeout   time.Duration
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:            getEnv("APP_ENV", "development"),
		Port:              getEnv("PORT", "8080"),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		ProviderBaseURL:   getEnv("PROVIDER_BASE_URL", "https://aisandbox-pa.googleapis.com/v1"),
		AccountsFile:      os.Getenv("ACCOUNTS_FILE"),
		AccountsJSON:      os.Getenv("ACCOUNTS_JSON"),
		DefaultModel:      getEnv("DEFAULT_MODEL", "veo_3_1_t2v_fast"),
		DefaultAspect:     getEnv("DEFAULT_ASPECT", "16:9"),
		OutputDir:         getEnv("OUTPUT_DIR", "./output"),
		PollRounds:        getEnvInt("POLL_ROUNDS", 120),
		PollInterval:      getEnvDuration("POLL_INTERVAL", 5*time.Second),
		MissingBudget:     getEnvInt("POLL_MISSING_BUDGET", 3),
		SubmitDelay:       getEnvDuration("SUBMIT_DELAY", 500*time.Millisecond),
		UploadSettle:      getEnvDuration("UPLOAD_SETTLE", time.Second),
		BackoffBase:       getEnvDuration("ROTATOR_BACKOFF_BASE", 10*time.Second),
		BackoffCap:        getEnvDuration("ROTATOR_BACKOFF_CAP", 60*time.Second),
		DownloadAttempts:  getEnvInt("DOWNLOAD_ATTEMPTS", 5),
		DownloadBackoff:   getEnvDuration("DOWNLOAD_BACKOFF", 2*time.Second),
		Thumbnails:        getEnvBool("THUMBNAILS", true),
		FFmpegPath:        getEnv("FFMPEG_PATH", "ffmpeg"),
		APIToken:          os.Getenv("API_TOKEN"),
		CORSOrigins:       splitList(os.Getenv("CORS_ORIGINS")),
		BatchRateLimit:    getEnvInt("BATCH_RATE_LIMIT", 10),
		BatchRatePeriod:   getEnvDuration("BATCH_RATE_PERIOD", time.Minute),
		MetricsExport:     strings.ToLower(os.Getenv("METRICS_EXPORT")),
		MetricsInterval:   getEnvDuration("METRICS_INTERVAL", DefaultMetricsInterval),
		HTTPClientTimeout: time.Second * time.Duration(getEnvInt("HTTP_CLIENT_TIMEOUT_SECONDS", 60)),
		HTTPReadTimeout:   time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout:  time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 0)),
		HTTPIdleTimeout:   time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
	}

	if cfg.PollRounds <= 0 {
		return nil, fmt.Errorf("POLL_ROUNDS must be positive")
	}
	if cfg.PollInterval <= 0 {
		return nil, fmt.Errorf("POLL_INTERVAL must be positive")
	}
	if cfg.MissingBudget <= 0 {
		return nil, fmt.Errorf("POLL_MISSING_BUDGET must be positive")
	}
	if cfg.DownloadAttempts <= 0 {
		return nil, fmt.Errorf("DOWNLOAD_ATTEMPTS must be positive")
	}
	switch cfg.MetricsExport {
	case "", "none", "stdout":
	default:
		return nil, fmt.Errorf("METRICS_EXPORT must be one of none, stdout")
	}
	if cfg.MetricsInterval <= 0 {
		return nil, fmt.Errorf("METRICS_INTERVAL must be positive")
	}
	if cfg.BackoffCap < cfg.BackoffBase {
		return nil, fmt.Errorf("ROTATOR_BACKOFF_CAP must be >= ROTATOR_BACKOFF_BASE")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

// getEnvDuration accepts Go duration strings ("750ms", "5s"); a bare
// integer is read as seconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return fallback
	}
	v = strings.TrimSpace(v)
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if i, err := strconv.Atoi(v); err == nil {
		return time.Duration(i) * time.Second
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
