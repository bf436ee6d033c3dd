package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// Installation
	InstallDir     string
	StagingDir     string
	BackupsDirName string
	ExecutableName string
	CurrentVersion string
	TargetOS       string
	DevMode        bool

	// Release feed
	FeedURL      string
	ProbeURL     string
	FeedToken    string
	HTTPRetries  int
	HTTPTimeout  time.Duration
	ProbeTimeout time.Duration
	RetryBackoff time.Duration

	// Staging
	CopyWorkers    int
	MigrateWorkers int
	ExtractRetries int

	// AMQP progress publishing (optional)
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	LogLevel string
}

func Load() *Config {
	cfg := &Config{
		InstallDir:     getEnv("INSTALL_DIR", executableDir()),
		StagingDir:     getEnv("STAGING_DIR", filepath.Join(os.TempDir(), "spese-update")),
		BackupsDirName: getEnv("BACKUPS_DIR_NAME", "Backups"),
		ExecutableName: getEnv("EXECUTABLE_NAME", ""),
		CurrentVersion: getEnv("CURRENT_VERSION", ""),
		TargetOS:       getEnv("TARGET_OS", runtime.GOOS),
		DevMode:        getEnvBool("DEV_MODE", false),

		FeedURL:      getEnv("FEED_URL", "https://api.github.com/repos/emiliopalmerini/spese/releases/latest"),
		ProbeURL:     getEnv("PROBE_URL", "https://github.com"),
		FeedToken:    getEnv("FEED_TOKEN", ""),
		HTTPRetries:  getEnvInt("HTTP_RETRIES", 3),
		HTTPTimeout:  getEnvDuration("HTTP_TIMEOUT", 30*time.Second),
		ProbeTimeout: getEnvDuration("PROBE_TIMEOUT", 3*time.Second),
		RetryBackoff: getEnvDuration("RETRY_BACKOFF", 500*time.Millisecond),

		CopyWorkers:    getEnvInt("COPY_WORKERS", runtime.NumCPU()),
		MigrateWorkers: getEnvInt("MIGRATE_WORKERS", runtime.NumCPU()),
		ExtractRetries: getEnvInt("EXTRACT_RETRIES", 1),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "spese"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "update_progress"),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	if cfg.ExecutableName == "" {
		cfg.ExecutableName = DefaultExecutableName(cfg.TargetOS)
	}

	return cfg
}

// DefaultExecutableName returns the main executable name shipped for goos.
func DefaultExecutableName(goos string) string {
	if goos == "windows" {
		return "Spese.exe"
	}
	return "Spese"
}

// BackupsDir returns the live backups directory.
func (c *Config) BackupsDir() string {
	return filepath.Join(c.InstallDir, c.BackupsDirName)
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	// Validate installation layout
	if c.CurrentVersion == "" {
		errors = append(errors, "current version cannot be empty")
	}
	if c.InstallDir == "" {
		errors = append(errors, "install directory cannot be empty")
	} else if info, err := os.Stat(c.InstallDir); err != nil || !info.IsDir() {
		errors = append(errors, fmt.Sprintf("install directory does not exist: %s", c.InstallDir))
	}
	if c.StagingDir == "" {
		errors = append(errors, "staging directory cannot be empty")
	} else if c.InstallDir != "" && filepath.Clean(c.StagingDir) == filepath.Clean(c.InstallDir) {
		errors = append(errors, "staging directory must differ from install directory")
	}
	if c.BackupsDirName == "" || strings.ContainsAny(c.BackupsDirName, `/\`) {
		errors = append(errors, fmt.Sprintf("invalid backups directory name '%s': must be a single path element", c.BackupsDirName))
	}
	if c.ExecutableName == "" {
		errors = append(errors, "executable name cannot be empty")
	}

	validOS := []string{"windows", "linux", "darwin"}
	isValidOS := false
	for _, goos := range validOS {
		if c.TargetOS == goos {
			isValidOS = true
			break
		}
	}
	if !isValidOS {
		errors = append(errors, fmt.Sprintf("invalid target OS '%s': must be one of %v", c.TargetOS, validOS))
	}

	// Validate release feed
	for name, raw := range map[string]string{"feed": c.FeedURL, "probe": c.ProbeURL} {
		if raw == "" {
			errors = append(errors, fmt.Sprintf("%s URL cannot be empty", name))
			continue
		}
		if parsedURL, err := url.Parse(raw); err != nil {
			errors = append(errors, fmt.Sprintf("invalid %s URL '%s': %v", name, raw, err))
		} else if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
			errors = append(errors, fmt.Sprintf("invalid %s URL scheme '%s': must be 'http' or 'https'", name, parsedURL.Scheme))
		}
	}

	if c.HTTPRetries < 0 || c.HTTPRetries > 10 {
		errors = append(errors, fmt.Sprintf("invalid HTTP retries %d: must be between 0 and 10", c.HTTPRetries))
	}
	if c.HTTPTimeout < time.Second {
		errors = append(errors, fmt.Sprintf("invalid HTTP timeout %v: must be at least 1 second", c.HTTPTimeout))
	}
	if c.ProbeTimeout <= 0 || c.ProbeTimeout > time.Minute {
		errors = append(errors, fmt.Sprintf("invalid probe timeout %v: must be between 0 and 1 minute", c.ProbeTimeout))
	}
	if c.RetryBackoff < 0 {
		errors = append(errors, fmt.Sprintf("invalid retry backoff %v: must not be negative", c.RetryBackoff))
	}

	// Validate staging workers
	if c.CopyWorkers < 1 || c.CopyWorkers > 64 {
		errors = append(errors, fmt.Sprintf("invalid copy workers %d: must be between 1 and 64", c.CopyWorkers))
	}
	if c.MigrateWorkers < 1 || c.MigrateWorkers > 64 {
		errors = append(errors, fmt.Sprintf("invalid migrate workers %d: must be between 1 and 64", c.MigrateWorkers))
	}
	if c.ExtractRetries < 0 || c.ExtractRetries > 5 {
		errors = append(errors, fmt.Sprintf("invalid extract retries %d: must be between 0 and 5", c.ExtractRetries))
	}

	// Validate AMQP URL if provided
	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errors = append(errors, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	// Return combined errors
	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

func executableDir() string {
	exe, err := os.Executable()
	if err != nil {
		return "."
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	return filepath.Dir(exe)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
