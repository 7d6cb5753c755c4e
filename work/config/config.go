package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration values for the stream proxy.
type Config struct {
	Port                int           `json:"port"`                // HTTP listen port
	AdminToken          string        `json:"-"`                   // Shared secret (or bcrypt hash) for POST /clear-cache
	CacheTTL            time.Duration `json:"cacheTTL"`            // Age after which a cached segment is gone
	CacheSweepInterval  time.Duration `json:"cacheSweepInterval"`  // Period of the expiry sweep
	CacheMaxBytes       int64         `json:"cacheMaxBytes"`       // Payload weight ceiling for the segment store
	UpstreamTimeout     time.Duration `json:"upstreamTimeout"`     // Whole-fetch timeout for buffered upstream requests
	StreamHeaderTimeout time.Duration `json:"streamHeaderTimeout"` // Response header timeout for streamed passthrough
	WorkerThreads       int           `json:"workerThreads"`       // Size of the buffered fetch worker pool
	UpstreamRateLimit   int           `json:"upstreamRateLimit"`   // Requests per second per upstream host, 0 = unlimited
	UpstreamHostInclude string        `json:"upstreamHostInclude"` // Regex an upstream host must match, empty = any
	UpstreamHostExclude string        `json:"upstreamHostExclude"` // Regex of upstream hosts that are refused
	GatewayHost         string        `json:"gatewayHost"`         // Host used by the host-rewriting variant
	ProviderTag         string        `json:"providerTag"`         // Provider path segment on the gateway
	LogLevel            string        `json:"logLevel"`            // debug, info, warn, error
	LogPretty           bool          `json:"logPretty"`           // Console log output instead of JSON
	ObfuscateUrls       bool          `json:"obfuscateUrls"`       // Obfuscate URLs in logs
}

// ConfigFile represents the JSON file structure. Duration fields are strings ("10m").
type ConfigFile struct {
	Port                int    `json:"port"`
	AdminToken          string `json:"adminToken"`
	CacheTTL            string `json:"cacheTTL"`
	CacheSweepInterval  string `json:"cacheSweepInterval"`
	CacheMaxBytes       int64  `json:"cacheMaxBytes"`
	UpstreamTimeout     string `json:"upstreamTimeout"`
	StreamHeaderTimeout string `json:"streamHeaderTimeout"`
	WorkerThreads       int    `json:"workerThreads"`
	UpstreamRateLimit   int    `json:"upstreamRateLimit"`
	UpstreamHostInclude string `json:"upstreamHostInclude"`
	UpstreamHostExclude string `json:"upstreamHostExclude"`
	GatewayHost         string `json:"gatewayHost"`
	ProviderTag         string `json:"providerTag"`
	LogLevel            string `json:"logLevel"`
	LogPretty           bool   `json:"logPretty"`
	ObfuscateUrls       bool   `json:"obfuscateUrls"`
}

const (
	DefaultConfigPath          = "/settings/config.json"
	DefaultPort                = 3000
	DefaultCacheTTL            = 600 * time.Second
	DefaultCacheSweepInterval  = 120 * time.Second
	DefaultCacheMaxBytes       = 512 << 20
	DefaultUpstreamTimeout     = 30 * time.Second
	DefaultStreamHeaderTimeout = 30 * time.Second
	DefaultWorkerThreads       = 64
	DefaultGatewayHost         = "embed.su"
	DefaultProviderTag         = "viper"
)

// LoadConfig loads the configuration once at startup.
//
// Process:
//   - Reads the JSON file at CONFIG_PATH (default /settings/config.json), falling back
//     to defaults when it is missing or invalid.
//   - Loads a .env file from the working directory if present.
//   - Applies environment overrides.
//   - Runs validation to ensure safe defaults.
func LoadConfig() *Config {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("Failed to load .env file: %v", err)
	}

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = DefaultConfigPath
	}

	config, err := loadFromFile(configPath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			log.Printf("Failed to load config from %s: %v", configPath, err)
		}
		config = getDefaultConfig()
	}

	applyEnv(config, os.LookupEnv)
	validateAndSetDefaults(config)

	return config
}

// loadFromFile reads and parses the configuration from a JSON file.
func loadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var configFile ConfigFile
	if err := json.Unmarshal(data, &configFile); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	return convertFromFile(&configFile)
}

// convertFromFile converts a ConfigFile to Config, parsing duration strings.
// Empty duration strings are left at zero and filled in by validateAndSetDefaults.
func convertFromFile(cf *ConfigFile) (*Config, error) {
	config := &Config{
		Port:                cf.Port,
		AdminToken:          cf.AdminToken,
		CacheMaxBytes:       cf.CacheMaxBytes,
		WorkerThreads:       cf.WorkerThreads,
		UpstreamRateLimit:   cf.UpstreamRateLimit,
		UpstreamHostInclude: cf.UpstreamHostInclude,
		UpstreamHostExclude: cf.UpstreamHostExclude,
		GatewayHost:         cf.GatewayHost,
		ProviderTag:         cf.ProviderTag,
		LogLevel:            cf.LogLevel,
		LogPretty:           cf.LogPretty,
		ObfuscateUrls:       cf.ObfuscateUrls,
	}

	durations := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"cacheTTL", cf.CacheTTL, &config.CacheTTL},
		{"cacheSweepInterval", cf.CacheSweepInterval, &config.CacheSweepInterval},
		{"upstreamTimeout", cf.UpstreamTimeout, &config.UpstreamTimeout},
		{"streamHeaderTimeout", cf.StreamHeaderTimeout, &config.StreamHeaderTimeout},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", d.name, err)
		}
		*d.dst = parsed
	}

	return config, nil
}

// applyEnv overrides config values from the environment. lookup is os.LookupEnv
// outside of tests. Unparseable values are logged and ignored.
func applyEnv(config *Config, lookup func(string) (string, bool)) {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				log.Printf("Ignoring %s=%q: %v", key, v, err)
				return
			}
			*dst = n
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok && v != "" {
			d, err := parseDurationOrSeconds(v)
			if err != nil {
				log.Printf("Ignoring %s=%q: %v", key, v, err)
				return
			}
			*dst = d
		}
	}
	flag := func(key string, dst *bool) {
		if v, ok := lookup(key); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				log.Printf("Ignoring %s=%q: %v", key, v, err)
				return
			}
			*dst = b
		}
	}

	num("PORT", &config.Port)
	str("ADMIN_TOKEN", &config.AdminToken)
	dur("CACHE_TTL", &config.CacheTTL)
	dur("CACHE_SWEEP_INTERVAL", &config.CacheSweepInterval)
	dur("UPSTREAM_TIMEOUT", &config.UpstreamTimeout)
	dur("STREAM_HEADER_TIMEOUT", &config.StreamHeaderTimeout)
	num("WORKER_THREADS", &config.WorkerThreads)
	num("UPSTREAM_RATE_LIMIT", &config.UpstreamRateLimit)
	str("UPSTREAM_HOST_INCLUDE", &config.UpstreamHostInclude)
	str("UPSTREAM_HOST_EXCLUDE", &config.UpstreamHostExclude)
	str("GATEWAY_HOST", &config.GatewayHost)
	str("PROVIDER_TAG", &config.ProviderTag)
	str("LOG_LEVEL", &config.LogLevel)
	flag("LOG_PRETTY", &config.LogPretty)
	flag("OBFUSCATE_URLS", &config.ObfuscateUrls)

	if v, ok := lookup("CACHE_MAX_BYTES"); ok && v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			log.Printf("Ignoring CACHE_MAX_BYTES=%q: %v", v, err)
		} else {
			config.CacheMaxBytes = n
		}
	}
}

// parseDurationOrSeconds accepts Go durations ("10m") and bare seconds ("600").
func parseDurationOrSeconds(v string) (time.Duration, error) {
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	return time.ParseDuration(v)
}

// getDefaultConfig returns a baseline configuration used when no file is present.
func getDefaultConfig() *Config {
	return &Config{
		Port:                DefaultPort,
		CacheTTL:            DefaultCacheTTL,
		CacheSweepInterval:  DefaultCacheSweepInterval,
		CacheMaxBytes:       DefaultCacheMaxBytes,
		UpstreamTimeout:     DefaultUpstreamTimeout,
		StreamHeaderTimeout: DefaultStreamHeaderTimeout,
		WorkerThreads:       DefaultWorkerThreads,
		GatewayHost:         DefaultGatewayHost,
		ProviderTag:         DefaultProviderTag,
		LogLevel:            "info",
	}
}

// validateAndSetDefaults ensures all config values are valid,
// filling in defaults for missing/invalid ones.
func validateAndSetDefaults(config *Config) {
	if config.Port <= 0 || config.Port > 65535 {
		config.Port = DefaultPort
	}
	if config.CacheTTL <= 0 {
		config.CacheTTL = DefaultCacheTTL
	}
	if config.CacheSweepInterval <= 0 {
		config.CacheSweepInterval = DefaultCacheSweepInterval
	}
	if config.CacheMaxBytes <= 0 {
		config.CacheMaxBytes = DefaultCacheMaxBytes
	}
	if config.UpstreamTimeout <= 0 {
		config.UpstreamTimeout = DefaultUpstreamTimeout
	}
	if config.StreamHeaderTimeout <= 0 {
		config.StreamHeaderTimeout = DefaultStreamHeaderTimeout
	}
	if config.WorkerThreads <= 0 {
		config.WorkerThreads = DefaultWorkerThreads
	}
	if config.UpstreamRateLimit < 0 {
		config.UpstreamRateLimit = 0
	}
	config.GatewayHost = strings.TrimSuffix(strings.TrimPrefix(config.GatewayHost, "https://"), "/")
	if config.GatewayHost == "" {
		config.GatewayHost = DefaultGatewayHost
	}
	config.ProviderTag = strings.Trim(config.ProviderTag, "/")
	if config.ProviderTag == "" {
		config.ProviderTag = DefaultProviderTag
	}
	if config.LogLevel == "" {
		config.LogLevel = "info"
	}
}

// Validated returns config with defaults applied, for callers that build a Config by hand.
func Validated(config *Config) *Config {
	validateAndSetDefaults(config)
	return config
}
