// Package config loads the uploader configuration once at startup.
//
// Values come from built-in defaults, then an optional YAML file, then the
// environment, each layer overriding the previous one. YAML keys are the
// environment names in lower case (downloads_path, allowed_extensions, ...).
package config

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// Setting names, shared by the environment and the YAML file.
const (
	KeyAddr               = "UPLOADER_ADDR"
	KeyDownloadsPath      = "DOWNLOADS_PATH"
	KeyTempChunksPath     = "TEMP_CHUNKS_PATH"
	KeyAllowedExtensions  = "ALLOWED_EXTENSIONS"
	KeyMaxFileSize        = "MAX_FILE_SIZE"
	KeyMaxContentLength   = "MAX_CONTENT_LENGTH"
	KeyStaleFileThreshold = "STALE_FILE_THRESHOLD"
	KeySweepInterval      = "SWEEP_INTERVAL"
	KeyLogLevel           = "LOGGING_LEVEL"
	KeyLogFormat          = "LOG_FORMAT"
	KeyDatabaseURL        = "DATABASE_URL"
	KeyDestination        = "DESTINATION_BACKEND"
	KeyS3Endpoint         = "S3_ENDPOINT"
	KeyS3AccessKey        = "S3_ACCESS_KEY"
	KeyS3SecretKey        = "S3_SECRET_KEY"
	KeyS3Bucket           = "S3_BUCKET"
	KeyS3Prefix           = "S3_PREFIX"
	KeyRateLimit          = "RATE_LIMIT_PER_MINUTE"
)

// Destination backends.
const (
	BackendFS    = "fs"
	BackendMinio = "minio"
)

var keys = []string{
	KeyAddr, KeyDownloadsPath, KeyTempChunksPath, KeyAllowedExtensions,
	KeyMaxFileSize, KeyMaxContentLength, KeyStaleFileThreshold, KeySweepInterval,
	KeyLogLevel, KeyLogFormat, KeyDatabaseURL, KeyDestination,
	KeyS3Endpoint, KeyS3AccessKey, KeyS3SecretKey, KeyS3Bucket, KeyS3Prefix,
	KeyRateLimit,
}

var defaults = map[string]string{
	KeyAddr:               ":5005",
	KeyDownloadsPath:      "./downloads",
	KeyTempChunksPath:     "./temp_chunks",
	KeyMaxFileSize:        "5GiB",
	KeyMaxContentLength:   "20GiB",
	KeyStaleFileThreshold: "86400",
	KeySweepInterval:      "1h",
	KeyLogLevel:           "info",
	KeyLogFormat:          "json",
	KeyDestination:        BackendFS,
	KeyRateLimit:          "0",
}

// S3 locates the object-store destination.
type S3 struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Prefix    string
}

// Config is the immutable process configuration.
type Config struct {
	Addr               string
	DownloadsPath      string
	TempChunksPath     string
	AllowedExtensions  []string
	MaxFileSize        int64
	MaxContentLength   int64
	StaleFileThreshold time.Duration
	SweepInterval      time.Duration
	LogLevel           string
	LogFormat          string
	DatabaseURL        string
	Destination        string
	S3                 S3
	RateLimitPerMinute int
}

// Load reads the optional YAML file at path (empty for none) and the
// process environment.
func Load(path string) (Config, error) {
	return LoadWith(path, os.LookupEnv)
}

// LoadWith is Load with an explicit environment lookup.
func LoadWith(path string, lookup func(string) (string, bool)) (Config, error) {
	values := make(map[string]string, len(keys))
	for k, v := range defaults {
		values[k] = v
	}

	if path != "" {
		fileValues, err := readFile(path)
		if err != nil {
			return Config{}, err
		}
		for k, v := range fileValues {
			values[k] = v
		}
	}

	for _, k := range keys {
		if v, ok := lookup(k); ok && v != "" {
			values[k] = v
		}
	}

	return parse(values)
}

func readFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}

	known := make(map[string]bool, len(keys))
	for _, k := range keys {
		known[k] = true
	}

	out := make(map[string]string, len(raw))
	var unknown []string
	for k, v := range raw {
		key := strings.ToUpper(k)
		if !known[key] {
			unknown = append(unknown, k)
			continue
		}
		switch val := v.(type) {
		case nil:
		case []any:
			parts := make([]string, 0, len(val))
			for _, p := range val {
				parts = append(parts, fmt.Sprint(p))
			}
			out[key] = strings.Join(parts, ",")
		default:
			out[key] = fmt.Sprint(val)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, fmt.Errorf("config file %s: unknown keys: %s", path, strings.Join(unknown, ", "))
	}
	return out, nil
}

func parse(values map[string]string) (Config, error) {
	v := NewValidator()

	cfg := Config{
		Addr:           values[KeyAddr],
		DownloadsPath:  values[KeyDownloadsPath],
		TempChunksPath: values[KeyTempChunksPath],
		LogLevel:       strings.ToLower(values[KeyLogLevel]),
		LogFormat:      strings.ToLower(values[KeyLogFormat]),
		DatabaseURL:    values[KeyDatabaseURL],
		Destination:    strings.ToLower(values[KeyDestination]),
		S3: S3{
			Endpoint:  values[KeyS3Endpoint],
			AccessKey: values[KeyS3AccessKey],
			SecretKey: values[KeyS3SecretKey],
			Bucket:    values[KeyS3Bucket],
			Prefix:    values[KeyS3Prefix],
		},
	}

	v.ValidateAddr(KeyAddr, cfg.Addr)
	v.ValidateRequired(KeyDownloadsPath, cfg.DownloadsPath)
	v.ValidateRequired(KeyTempChunksPath, cfg.TempChunksPath)

	cfg.AllowedExtensions = splitExtensions(values[KeyAllowedExtensions])
	if len(cfg.AllowedExtensions) == 0 {
		v.AddError(KeyAllowedExtensions, "at least one extension is required")
	}

	cfg.MaxFileSize = v.Size(KeyMaxFileSize, values[KeyMaxFileSize])
	cfg.MaxContentLength = v.Size(KeyMaxContentLength, values[KeyMaxContentLength])
	cfg.StaleFileThreshold = time.Duration(v.PositiveInt(KeyStaleFileThreshold, values[KeyStaleFileThreshold])) * time.Second
	cfg.SweepInterval = v.Duration(KeySweepInterval, values[KeySweepInterval])
	cfg.RateLimitPerMinute = v.NonNegativeInt(KeyRateLimit, values[KeyRateLimit])

	v.ValidateEnum(KeyLogLevel, cfg.LogLevel, []string{"debug", "info", "warn", "error"})
	v.ValidateEnum(KeyLogFormat, cfg.LogFormat, []string{"json", "text"})
	v.ValidateEnum(KeyDestination, cfg.Destination, []string{BackendFS, BackendMinio})

	if cfg.DatabaseURL != "" &&
		!strings.HasPrefix(cfg.DatabaseURL, "postgres://") &&
		!strings.HasPrefix(cfg.DatabaseURL, "postgresql://") {
		v.AddError(KeyDatabaseURL, "must be a valid PostgreSQL connection string")
	}

	if cfg.Destination == BackendMinio {
		v.ValidateRequired(KeyS3Endpoint, cfg.S3.Endpoint)
		v.ValidateRequired(KeyS3AccessKey, cfg.S3.AccessKey)
		v.ValidateRequired(KeyS3SecretKey, cfg.S3.SecretKey)
		v.ValidateRequired(KeyS3Bucket, cfg.S3.Bucket)
		if strings.Contains(cfg.S3.Endpoint, "://") {
			v.ValidateURL(KeyS3Endpoint, cfg.S3.Endpoint)
		}
	}

	if err := v.Err(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// splitExtensions normalises "MKV, .mp4,avi" to [mkv mp4 avi].
func splitExtensions(s string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, part := range strings.Split(s, ",") {
		ext := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(part)), ".")
		if ext == "" || seen[ext] {
			continue
		}
		seen[ext] = true
		out = append(out, ext)
	}
	return out
}

// Warnings lists settings that are valid but worth a second look.
func (c Config) Warnings() []string {
	var warnings []string
	if c.DatabaseURL == "" {
		warnings = append(warnings, "DATABASE_URL not set - upload activity is tracked in memory and not shared between instances")
	}
	if c.StaleFileThreshold < time.Hour {
		warnings = append(warnings, "STALE_FILE_THRESHOLD under one hour - slow uploads may lose chunks to the janitor")
	}
	if c.MaxContentLength < c.MaxFileSize {
		warnings = append(warnings, "MAX_CONTENT_LENGTH is below MAX_FILE_SIZE - this only matters for single-chunk uploads")
	}
	return warnings
}

// Summary renders the configuration without secrets.
func (c Config) Summary() map[string]string {
	s := map[string]string{
		KeyAddr:               c.Addr,
		KeyDownloadsPath:      c.DownloadsPath,
		KeyTempChunksPath:     c.TempChunksPath,
		KeyAllowedExtensions:  strings.Join(c.AllowedExtensions, ","),
		KeyMaxFileSize:        humanize.Bytes(uint64(c.MaxFileSize)),
		KeyMaxContentLength:   humanize.Bytes(uint64(c.MaxContentLength)),
		KeyStaleFileThreshold: c.StaleFileThreshold.String(),
		KeySweepInterval:      c.SweepInterval.String(),
		KeyLogLevel:           c.LogLevel,
		KeyLogFormat:          c.LogFormat,
		KeyDestination:        c.Destination,
		KeyRateLimit:          fmt.Sprint(c.RateLimitPerMinute),
	}
	if c.DatabaseURL != "" {
		s[KeyDatabaseURL] = "(set)"
	}
	if c.Destination == BackendMinio {
		s[KeyS3Endpoint] = c.S3.Endpoint
		s[KeyS3Bucket] = c.S3.Bucket
		s[KeyS3Prefix] = c.S3.Prefix
	}
	return s
}
