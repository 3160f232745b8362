//
//  Copyright © Manetu Inc. All rights reserved.
//

// Package config provides configuration management for the access control
// service using [Viper] for flexible configuration sources.
//
// Configuration can be provided via:
//   - YAML configuration files
//   - Environment variables with the ACS_ prefix
//   - Programmatic defaults
//
// # Configuration File
//
// By default, the service looks for acs-config.yaml in the current
// directory. Override the location using environment variables:
//
//	ACS_CONFIG_PATH=/etc/acs
//	ACS_CONFIG_FILENAME=production-config
//
// Example configuration file:
//
//	log:
//	  level: ".:info"
//	tenantId: "acme"
//	retentionDays: 90
//	cache:
//	  ttl: 5m
//	  maxEntries: 10000
//	buffer:
//	  softCap: 1024
//	  deadlineDefault: 30s
//
// # Environment Variables
//
// All configuration keys can be set via environment variables with the ACS_
// prefix. Dots in key names become underscores:
//
//	ACS_LOG_LEVEL=.:debug
//	ACS_TENANTID=acme
//	ACS_BUFFER_SOFTCAP=4096
//
// [Viper]: https://github.com/spf13/viper
package config

import (
	"errors"
	"os"
	"strings"
	"sync"

	"github.com/JoshuaRamirez/ACS-sub003/internal/logging"
	"github.com/spf13/viper"
)

// Environment variable and default path constants for configuration loading.
const (
	// EnvVarPrefix is the prefix for all service environment variables.
	// For example, the key "log.level" becomes ACS_LOG_LEVEL.
	EnvVarPrefix string = "ACS"

	// ConfigPathEnv is the environment variable that specifies the directory
	// containing the configuration file.
	ConfigPathEnv string = "ACS_CONFIG_PATH"

	// ConfigFileNameEnv is the environment variable that specifies the
	// configuration file name (without extension).
	ConfigFileNameEnv string = "ACS_CONFIG_FILENAME"

	// ConfigDefaultPath is the default directory to search for config files.
	ConfigDefaultPath string = "."

	// ConfigDefaultFilename is the default configuration file name (without extension).
	ConfigDefaultFilename string = "acs-config"
)

// Configuration key constants for use with [VConfig].
const (
	logLevel string = "log.level"

	// TenantID is the identifier stamped on audit records and health reports.
	TenantID string = "tenantId"

	// RetentionDays is the default audit retention, in days.
	RetentionDays string = "retentionDays"

	// PreserveChangeTypes lists changeType prefixes exempt from retention
	// purge. Defaults to the security event family.
	PreserveChangeTypes string = "preserveChangeTypes"

	// CacheTTL is the tenant-wide time-to-live for cached permission
	// decisions.
	CacheTTL string = "cache.ttl"

	// CacheMaxEntries bounds the permission decision cache.
	CacheMaxEntries string = "cache.maxEntries"

	// BufferSoftCap is the command queue soft cap; enqueues beyond it fail
	// with Backpressure.
	BufferSoftCap string = "buffer.softCap"

	// BufferDeadlineDefault is the default command deadline applied when a
	// submitter does not set one.
	BufferDeadlineDefault string = "buffer.deadlineDefault"

	// CircuitWindow is the sliding sample window size of each per-operation
	// circuit breaker.
	CircuitWindow string = "circuit.window"

	// CircuitOpenAt is the error rate (0..1) over the window at which a
	// breaker opens.
	CircuitOpenAt string = "circuit.openAt"

	// CircuitCooldown is how long an open breaker waits before moving to
	// half-open.
	CircuitCooldown string = "circuit.cooldown"

	// MonitorSampleFloor is the minimum number of samples before the health
	// monitor reports a status other than Unknown.
	MonitorSampleFloor string = "monitor.sampleFloor"

	// RetryMaxAttempts bounds persistence retries before a command is
	// dead-lettered.
	RetryMaxAttempts string = "retry.maxAttempts"

	// RetryInitialInterval is the starting backoff interval for retries.
	RetryInitialInterval string = "retry.initialInterval"

	// DLQCapacity bounds the dead-letter queue.
	DLQCapacity string = "dlq.capacity"

	// RepositoryType selects the registered persistence backend.
	RepositoryType string = "repository.type"
)

var (
	once     sync.Once
	loadOnce sync.Once
	loadErr  error

	// VConfig is the global Viper configuration instance for the service.
	//
	// VConfig is initialized automatically when [Load] or [Init] is called.
	// In most cases, applications don't need to access VConfig directly;
	// configuration is handled automatically by the core service constructor.
	VConfig *viper.Viper
	logger  = logging.GetLogger("acs.config")
)

// Init initializes the configuration system without loading config files.
//
// Init sets up Viper with configuration file paths and names, environment
// variable handling (ACS_ prefix), and default values for all keys.
//
// This function is safe to call multiple times; subsequent calls are no-ops.
// Most applications don't need to call Init directly; it's called
// automatically by [Load].
func Init() {
	once.Do(doInitialize)
}

func getConfigPath() string {
	if configPath, ok := os.LookupEnv(ConfigPathEnv); ok {
		return configPath
	}
	return ConfigDefaultPath
}

func getConfigFileName() string {
	if configName, ok := os.LookupEnv(ConfigFileNameEnv); ok {
		return configName
	}
	return ConfigDefaultFilename
}

func doInitialize() {
	VConfig = viper.New()

	// set up config-file loading:  default is './acs-config.yaml' but can be overridden with $(ACS_CONFIG_PATH)/$(ACS_CONFIG_FILENAME).yaml
	VConfig.AddConfigPath(getConfigPath())
	VConfig.SetConfigName(getConfigFileName())
	VConfig.SetConfigType("yaml")

	// set up envvar handling:  keys such as 'log.level' become 'ACS_LOG_LEVEL'
	VConfig.SetEnvPrefix(EnvVarPrefix)
	VConfig.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	VConfig.AutomaticEnv()

	VConfig.SetDefault(logLevel, ".:info")
	VConfig.SetDefault(TenantID, "default")
	VConfig.SetDefault(RetentionDays, 365)
	VConfig.SetDefault(PreserveChangeTypes, []string{"SECURITY:"})
	VConfig.SetDefault(CacheTTL, "5m")
	VConfig.SetDefault(CacheMaxEntries, 10000)
	VConfig.SetDefault(BufferSoftCap, 1024)
	VConfig.SetDefault(BufferDeadlineDefault, "30s")
	VConfig.SetDefault(CircuitWindow, 10)
	VConfig.SetDefault(CircuitOpenAt, 0.25)
	VConfig.SetDefault(CircuitCooldown, "5s")
	VConfig.SetDefault(MonitorSampleFloor, 10)
	VConfig.SetDefault(RetryMaxAttempts, 3)
	VConfig.SetDefault(RetryInitialInterval, "50ms")
	VConfig.SetDefault(DLQCapacity, 256)
	VConfig.SetDefault(RepositoryType, "memory")
}

// Load initializes configuration and loads settings from files and environment.
//
// Load performs the following steps:
//  1. Calls [Init] if not already called
//  2. Reads the configuration file (if present; missing files are not an error)
//  3. Applies environment variable overrides
//  4. Updates log levels based on configuration
//
// This function is safe to call concurrently from multiple goroutines.
// Subsequent calls after the first successful load are no-ops that return nil.
//
// Returns an error if log level configuration is invalid.
func Load() error {
	loadOnce.Do(func() {
		Init()

		// Early log level update from environment variable allows us to debug the config loading.
		earlyLoglevel := os.Getenv("ACS_LOG_LEVEL")
		if earlyLoglevel != "" {
			if err := logging.UpdateLogLevels(earlyLoglevel); err != nil {
				logger.SysErrorf("Failed updating early log level %s: %+v", earlyLoglevel, err)
				loadErr = err
				return
			}
		}

		logger.SysDebugf("Loading configuration from %s/%s.yaml", getConfigPath(), getConfigFileName())
		err := VConfig.ReadInConfig()
		if err != nil {
			// Only log if it's an actual error, not just a missing config file
			var configNotFound viper.ConfigFileNotFoundError
			if !errors.As(err, &configNotFound) {
				logger.SysWarnf("error reading config; using defaults: %+v", err)
			}
			logger.SysDebugf("No config file found at %s/%s.yaml", getConfigPath(), getConfigFileName())
		}

		loglevel := VConfig.GetString(logLevel)
		if err := logging.UpdateLogLevels(loglevel); err != nil {
			logger.SysErrorf("Failed updating log level %s: %+v", loglevel, err)
			loadErr = err
			return
		}

		if logger.IsDebugEnabled() {
			VConfig.DebugTo(logger.Out())
		}
	})

	return loadErr
}

// ResetConfig clears all configuration and reinitializes with defaults.
//
// WARNING: This function is intended for testing only. It resets the global
// configuration state, which can cause race conditions in concurrent code.
func ResetConfig() {
	VConfig = nil
	once = sync.Once{}
	loadOnce = sync.Once{}
	loadErr = nil
	Init()
	_ = Load()
}
