package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderstream/internal/app"
)

const (
	envPort               = "PORT"
	envMetricsAddr        = "METRICS_ADDR"
	envStorageDriver      = "STORAGE_DRIVER"
	envDatabaseURL        = "DATABASE_URL"
	envDatabaseUser       = "DATABASE_USER"
	envDatabasePassword   = "DATABASE_PASSWORD"
	envDatabaseAutoSchema = "DATABASE_AUTO_SCHEMA"
	envPebbleDir          = "PEBBLE_DIR"
	envFetchSize          = "FETCH_SIZE"
	envFlushEvery         = "FLUSH_EVERY"
	envStreamTimeout      = "STREAM_TIMEOUT"
	envShutdownTimeout    = "SHUTDOWN_TIMEOUT"
	envKafkaBrokers       = "KAFKA_BROKERS"
	envKafkaTopic         = "KAFKA_TOPIC"
	envLogLevel           = "LOG_LEVEL"

	propertiesPath = "./etc/application.properties"
)

type envLookup func(string) (string, bool)

// chainLookup возвращает первое найденное значение.
func chainLookup(lookups ...envLookup) envLookup {
	return func(key string) (string, bool) {
		for _, lookup := range lookups {
			if lookup == nil {
				continue
			}
			if value, ok := lookup(key); ok {
				return value, true
			}
		}
		return "", false
	}
}

// propertiesLookup читает файл свойств. DATABASE_URL ищется под ключом database.url.
func propertiesLookup(path string) (envLookup, error) {
	values, err := godotenv.Read(path)
	if err != nil {
		return nil, err
	}
	return func(key string) (string, bool) {
		value, ok := values[propertyName(key)]
		return value, ok
	}, nil
}

func propertyName(env string) string {
	return strings.ReplaceAll(strings.ToLower(env), "_", ".")
}

// readConfigFromEnv собирает конфигурацию поверх DefaultConfig.
// Некорректные значения не применяются и возвращаются как предупреждения.
func readConfigFromEnv(lookup envLookup) (app.Config, []string) {
	cfg := app.DefaultConfig()
	warnings := make([]string, 0)
	warn := func(key, value string, err error) {
		warnings = append(warnings, fmt.Sprintf("invalid %s=%q: %v, using default", key, value, err))
	}

	if v, ok := lookupTrimmed(lookup, envPort); ok {
		port, err := parseInt(v, func(p int) bool { return p >= 0 && p <= 65535 }, "must be in [0, 65535]")
		if err != nil {
			warn(envPort, v, err)
		} else {
			cfg.HTTPAddr = ":" + strconv.Itoa(port)
		}
	}
	if v, ok := lookupTrimmed(lookup, envMetricsAddr); ok {
		cfg.MetricsAddr = v
	}
	if v, ok := lookupTrimmed(lookup, envStorageDriver); ok {
		cfg.StorageDriver = strings.ToLower(v)
	}
	if v, ok := lookupTrimmed(lookup, envDatabaseURL); ok {
		cfg.DatabaseURL = v
	}
	if v, ok := lookupTrimmed(lookup, envDatabaseUser); ok {
		cfg.DatabaseUser = v
	}
	if v, ok := lookup(envDatabasePassword); ok && v != "" {
		cfg.DatabasePassword = v
	}
	if v, ok := lookupTrimmed(lookup, envDatabaseAutoSchema); ok {
		parsed, err := parseBool(v)
		if err != nil {
			warn(envDatabaseAutoSchema, v, err)
		} else {
			cfg.DatabaseAutoSchema = parsed
		}
	}
	if v, ok := lookupTrimmed(lookup, envPebbleDir); ok {
		cfg.PebbleDir = v
	}
	if v, ok := lookupTrimmed(lookup, envFetchSize); ok {
		parsed, err := parseInt(v, func(n int) bool { return n > 0 }, "must be > 0")
		if err != nil {
			warn(envFetchSize, v, err)
		} else {
			cfg.FetchSize = parsed
		}
	}
	// Без FLUSH_EVERY ответ сбрасывается после каждой порции курсора.
	cfg.FlushEvery = cfg.FetchSize
	if v, ok := lookupTrimmed(lookup, envFlushEvery); ok {
		parsed, err := parseInt(v, func(n int) bool { return n > 0 }, "must be > 0")
		if err != nil {
			warn(envFlushEvery, v, err)
		} else {
			cfg.FlushEvery = parsed
		}
	}
	if v, ok := lookupTrimmed(lookup, envStreamTimeout); ok {
		parsed, err := parseDuration(v, func(d time.Duration) bool { return d >= 0 }, "must be >= 0")
		if err != nil {
			warn(envStreamTimeout, v, err)
		} else {
			cfg.StreamTimeout = parsed
		}
	}
	if v, ok := lookupTrimmed(lookup, envShutdownTimeout); ok {
		parsed, err := parseDuration(v, func(d time.Duration) bool { return d > 0 }, "must be > 0")
		if err != nil {
			warn(envShutdownTimeout, v, err)
		} else {
			cfg.ShutdownTimeout = parsed
		}
	}
	if v, ok := lookupTrimmed(lookup, envKafkaBrokers); ok {
		for _, broker := range strings.Split(v, ",") {
			if broker = strings.TrimSpace(broker); broker != "" {
				cfg.KafkaBrokers = append(cfg.KafkaBrokers, broker)
			}
		}
	}
	if v, ok := lookupTrimmed(lookup, envKafkaTopic); ok {
		cfg.KafkaTopic = v
	}
	if v, ok := lookupTrimmed(lookup, envLogLevel); ok {
		if _, err := log.ParseLevel(v); err != nil {
			warn(envLogLevel, v, err)
		} else {
			cfg.LogLevel = strings.ToLower(v)
		}
	}

	return cfg, warnings
}

func lookupTrimmed(lookup envLookup, key string) (string, bool) {
	value, ok := lookup(key)
	if !ok {
		return "", false
	}
	value = strings.TrimSpace(value)
	return value, value != ""
}

func parseBool(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "y", "on":
		return true, nil
	case "0", "false", "no", "n", "off":
		return false, nil
	default:
		return false, errors.New("expected boolean")
	}
}

func parseInt(raw string, valid func(int) bool, rule string) (int, error) {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, err
	}
	if valid != nil && !valid(value) {
		return 0, errors.New(rule)
	}
	return value, nil
}

func parseDuration(raw string, valid func(time.Duration) bool, rule string) (time.Duration, error) {
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, err
	}
	if valid != nil && !valid(value) {
		return 0, errors.New(rule)
	}
	return value, nil
}
