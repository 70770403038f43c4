package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the application
type Config struct {
	// Scan file discovery
	ScanDir    string  // Directory holding the scan log files
	FileFormat string  // printf-style template mapping a scan number to a file name
	StartScan  int64   // First scan number to probe in sequential mode
	ScanList   []int64 // Explicit scan numbers; non-empty selects explicit mode

	// Parser settings
	PollInterval         time.Duration // Delay between discovery passes
	Watch                bool          // Trigger extra passes from filesystem events
	FollowTail           bool          // Re-expose the last scan's tail; set false for finished files
	SpectralLineCapacity int           // Channels per MCA line; 0 uses the declared format
	ReadAllData          bool          // Materialize every table at ingest instead of on demand
	MaxWorkers           int           // Parallel workers for persisting distinct files

	// Persistence
	OffsetDBPath string // BoltDB file for parse progress
	OutputDBPath string // SQLite artifact; empty disables persistence
	Overwrite    bool   // Rewrite scans already present in the artifact
	CountersPath string // YAML counter-hook definitions; empty means passthrough

	// Observability
	LogLevel        string
	LogFile         string
	TracingEnabled  bool
	TracingEndpoint string
	TracingProtocol string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	scanList, err := parseScanList(getEnv("SCAN_LIST", ""))
	if err != nil {
		return nil, fmt.Errorf("invalid SCAN_LIST: %w", err)
	}

	cfg := &Config{
		ScanDir:    getEnv("SCAN_DIR", ""),
		FileFormat: getEnv("FILE_FORMAT", "%07d_meta.log"),
		StartScan:  int64(getEnvInt("START_SCAN", 1)),
		ScanList:   scanList,

		PollInterval:         time.Duration(getEnvInt("POLL_INTERVAL_MS", 2000)) * time.Millisecond,
		Watch:                getEnvBool("WATCH", false),
		FollowTail:           getEnvBool("FOLLOW_TAIL", true),
		SpectralLineCapacity: getEnvInt("SPECTRAL_LINE_CAPACITY", 0),
		ReadAllData:          getEnvBool("READ_ALL_DATA", false),
		MaxWorkers:           getEnvInt("MAX_WORKERS", 4),

		OffsetDBPath: getEnv("OFFSET_DB_PATH", "specmeta_offsets.db"),
		OutputDBPath: getEnv("OUTPUT_DB_PATH", "specmeta_scans.db"),
		Overwrite:    getEnvBool("OVERWRITE", false),
		CountersPath: getEnv("COUNTERS_PATH", ""),

		LogLevel:        getEnv("LOG_LEVEL", "info"),
		LogFile:         getEnv("LOG_FILE", ""),
		TracingEnabled:  getEnvBool("TRACING_ENABLED", false),
		TracingEndpoint: getEnv("TRACING_ENDPOINT", ""),
		TracingProtocol: getEnv("TRACING_PROTOCOL", "grpc"),
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.ScanDir == "" {
		return fmt.Errorf("SCAN_DIR is required")
	}
	if !strings.Contains(c.FileFormat, "%") {
		return fmt.Errorf("FILE_FORMAT must contain a scan number verb, e.g. %%07d")
	}
	if c.StartScan < 0 {
		return fmt.Errorf("START_SCAN must not be negative")
	}
	if c.PollInterval < 100*time.Millisecond {
		return fmt.Errorf("POLL_INTERVAL_MS must be at least 100")
	}
	if c.SpectralLineCapacity < 0 {
		return fmt.Errorf("SPECTRAL_LINE_CAPACITY must not be negative")
	}
	if c.MaxWorkers < 1 {
		return fmt.Errorf("MAX_WORKERS must be at least 1")
	}

	return nil
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer environment variable or returns a default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvBool gets a boolean environment variable or returns a default value
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// parseScanList parses a comma-separated list of scan numbers
func parseScanList(listStr string) ([]int64, error) {
	if listStr == "" {
		return nil, nil
	}

	parts := strings.Split(listStr, ",")
	result := make([]int64, 0, len(parts))

	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		n, err := strconv.ParseInt(trimmed, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("scan number %q: %w", trimmed, err)
		}
		result = append(result, n)
	}

	return result, nil
}
