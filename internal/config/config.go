// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes application settings
// such as server timeouts, logging, quota limits, supplier endpoints, and
// observability.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "go-transcribe-backend")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// LimitsConfig carries the usage limits enforced by the quota gates.
type LimitsConfig struct {
	AnonDailyCount        int     // ANON_DAILY_LIMIT
	AnonMonthlyMinutes    float64 // ANON_MONTHLY_MINUTES
	AnonPreviewDailyCount int     // ANON_PREVIEW_DAILY_LIMIT
	YouTubeMonthlyCount   int     // YOUTUBE_MONTHLY_LIMIT
}

// DurationConfig carries the clip policy and upload ceiling values.
type DurationConfig struct {
	PreviewLimitSeconds  float64 // PREVIEW_LIMIT_SECONDS
	ClipToleranceSeconds float64 // CLIP_TOLERANCE_SECONDS
	FreeUploadSeconds    float64 // FREE_UPLOAD_LIMIT_SECONDS
	BasicUploadSeconds   float64 // BASIC_UPLOAD_LIMIT_SECONDS
	ProUploadSeconds     float64 // PRO_UPLOAD_LIMIT_SECONDS
}

// SupplierConfig configures one external transcription provider. A provider
// counts as configured only when both endpoint and token are set.
type SupplierConfig struct {
	Endpoint      string
	Token         string
	SignCallbacks bool
}

// SuppliersConfig groups dispatch settings.
type SuppliersConfig struct {
	Premium       SupplierConfig
	Standard      SupplierConfig
	LocalFallback bool // SUPPLIER_LOCAL_FALLBACK

	CallbackBase   string        // CALLBACK_BASE_URL, externally reachable
	CallbackSecret string        // CALLBACK_SECRET, signs job ids
	Timeout        time.Duration // SUPPLIER_TIMEOUT per submission
}

// VerifyConfig configures the anonymous-preview bot check.
type VerifyConfig struct {
	SessionSecret   string        // VERIFY_SESSION_SECRET
	SessionTTL      time.Duration // VERIFY_SESSION_TTL
	ChallengeURL    string        // TURNSTILE_VERIFY_URL
	ChallengeSecret string        // TURNSTILE_SECRET
}

// StorageConfig configures the CDN rewrite of raw storage references.
type StorageConfig struct {
	OriginPrefix string // STORAGE_ORIGIN_PREFIX
	CDNPrefix    string // STORAGE_CDN_PREFIX
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging / Docs
	LogLevel       string // debug|info|warn|error|fatal|panic
	LogPretty      bool   // pretty console logs in dev
	SwaggerEnabled bool   // enable Swagger UI route
	APIBasePath    string // base path for API routes

	// App
	DBPath            string        // SQLite path
	IdentitySalt      string        // keys the anonymous IP derivation
	AdmissionDeadline time.Duration // bounds the whole admission path

	// Domain policy
	Limits    LimitsConfig
	Durations DurationConfig
	Suppliers SuppliersConfig
	Verify    VerifyConfig
	Storage   StorageConfig

	// Rate limiting
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Idempotency
	IdempotencyTTL time.Duration // how long a given Idempotency-Key is valid

	// Observability
	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		// Server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging / Docs
		LogLevel:       strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:      getbool("LOG_PRETTY", false),
		SwaggerEnabled: getbool("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		// App
		DBPath:            getenv("DB_PATH", "app.db"),
		IdentitySalt:      getenv("IDENTITY_SALT", ""),
		AdmissionDeadline: getdur("ADMISSION_DEADLINE", 10*time.Second),

		// Domain policy
		Limits: LimitsConfig{
			AnonDailyCount:        getint("ANON_DAILY_LIMIT", 5),
			AnonMonthlyMinutes:    getfloat("ANON_MONTHLY_MINUTES", 30),
			AnonPreviewDailyCount: getint("ANON_PREVIEW_DAILY_LIMIT", 10),
			YouTubeMonthlyCount:   getint("YOUTUBE_MONTHLY_LIMIT", 3),
		},
		Durations: DurationConfig{
			PreviewLimitSeconds:  getfloat("PREVIEW_LIMIT_SECONDS", 300),
			ClipToleranceSeconds: getfloat("CLIP_TOLERANCE_SECONDS", 1),
			FreeUploadSeconds:    getfloat("FREE_UPLOAD_LIMIT_SECONDS", 2*3600),
			BasicUploadSeconds:   getfloat("BASIC_UPLOAD_LIMIT_SECONDS", 4*3600),
			ProUploadSeconds:     getfloat("PRO_UPLOAD_LIMIT_SECONDS", 10*3600),
		},
		Suppliers: SuppliersConfig{
			Premium: SupplierConfig{
				Endpoint:      getenv("SUPPLIER_PREMIUM_ENDPOINT", ""),
				Token:         getenv("SUPPLIER_PREMIUM_TOKEN", ""),
				SignCallbacks: getbool("SUPPLIER_PREMIUM_SIGN_CALLBACKS", true),
			},
			Standard: SupplierConfig{
				Endpoint:      getenv("SUPPLIER_STANDARD_ENDPOINT", ""),
				Token:         getenv("SUPPLIER_STANDARD_TOKEN", ""),
				SignCallbacks: getbool("SUPPLIER_STANDARD_SIGN_CALLBACKS", false),
			},
			LocalFallback:  getbool("SUPPLIER_LOCAL_FALLBACK", false),
			CallbackBase:   strings.TrimRight(getenv("CALLBACK_BASE_URL", ""), "/"),
			CallbackSecret: getenv("CALLBACK_SECRET", ""),
			Timeout:        getdur("SUPPLIER_TIMEOUT", 8*time.Second),
		},
		Verify: VerifyConfig{
			SessionSecret:   getenv("VERIFY_SESSION_SECRET", ""),
			SessionTTL:      getdur("VERIFY_SESSION_TTL", time.Hour),
			ChallengeURL:    getenv("TURNSTILE_VERIFY_URL", "https://challenges.cloudflare.com/turnstile/v0/siteverify"),
			ChallengeSecret: getenv("TURNSTILE_SECRET", ""),
		},
		Storage: StorageConfig{
			OriginPrefix: getenv("STORAGE_ORIGIN_PREFIX", ""),
			CDNPrefix:    getenv("STORAGE_CDN_PREFIX", ""),
		},

		// Rate limiting
		RateRPS:   getfloat("RATE_RPS", 5.0),
		RateBurst: getint("RATE_BURST", 10),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		// Idempotency
		IdempotencyTTL: getdur("IDEMPOTENCY_TTL", 24*time.Hour),

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "go-transcribe-backend"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		return cfg, errors.New("DB_PATH must not be empty")
	}
	if cfg.AdmissionDeadline <= 0 {
		return cfg, errors.New("ADMISSION_DEADLINE must be > 0")
	}
	if cfg.Limits.AnonDailyCount < 0 || cfg.Limits.AnonPreviewDailyCount < 0 || cfg.Limits.YouTubeMonthlyCount < 0 {
		return cfg, errors.New("anonymous count limits must be >= 0")
	}
	if cfg.Limits.AnonMonthlyMinutes < 0 {
		return cfg, errors.New("ANON_MONTHLY_MINUTES must be >= 0")
	}
	if cfg.Durations.PreviewLimitSeconds <= 0 {
		return cfg, errors.New("PREVIEW_LIMIT_SECONDS must be > 0")
	}
	if cfg.Durations.ClipToleranceSeconds < 0 {
		return cfg, errors.New("CLIP_TOLERANCE_SECONDS must be >= 0")
	}
	if cfg.Suppliers.Timeout <= 0 {
		return cfg, errors.New("SUPPLIER_TIMEOUT must be > 0")
	}
	if (cfg.Suppliers.Premium.Endpoint != "" || cfg.Suppliers.Standard.Endpoint != "") && cfg.Suppliers.CallbackBase == "" {
		return cfg, errors.New("CALLBACK_BASE_URL is required when an external supplier is configured")
	}
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.IdempotencyTTL <= 0 {
		return cfg, errors.New("IDEMPOTENCY_TTL must be > 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// ---- helpers (no external deps) ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
