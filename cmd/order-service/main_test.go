package main

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/orderstream/internal/app"
)

func TestReadConfigFromEnv_Defaults(t *testing.T) {
	cfg, warnings := readConfigFromEnv(mapLookup(nil))

	if len(warnings) != 0 {
		t.Fatalf("expected no warnings, got %v", warnings)
	}
	if !reflect.DeepEqual(cfg, app.DefaultConfig()) {
		t.Fatalf("expected default config, got %#v", cfg)
	}
}

func TestReadConfigFromEnv_ValidOverrides(t *testing.T) {
	cfg, warnings := readConfigFromEnv(mapLookup(map[string]string{
		envPort:               "8080",
		envMetricsAddr:        "localhost:9091",
		envStorageDriver:      " PoStGrEs ",
		envDatabaseURL:        " jdbc:postgresql://localhost:5432/orders ",
		envDatabaseUser:       "orders",
		envDatabasePassword:   " secret ",
		envDatabaseAutoSchema: "off",
		envPebbleDir:          "/var/lib/orders",
		envFetchSize:          "100",
		envFlushEvery:         "5",
		envStreamTimeout:      "30s",
		envShutdownTimeout:    "10s",
		envKafkaBrokers:       "broker1:9092, broker2:9092,",
		envKafkaTopic:         "orders.audit",
		envLogLevel:           "DEBUG",
	}))

	if len(warnings) != 0 {
		t.Fatalf("expected no warnings, got %v", warnings)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Fatalf("unexpected http addr: %s", cfg.HTTPAddr)
	}
	if cfg.MetricsAddr != "localhost:9091" {
		t.Fatalf("unexpected metrics addr: %s", cfg.MetricsAddr)
	}
	if cfg.StorageDriver != app.StorageDriverPostgres {
		t.Fatalf("unexpected storage driver: %s", cfg.StorageDriver)
	}
	if cfg.DatabaseURL != "jdbc:postgresql://localhost:5432/orders" {
		t.Fatalf("unexpected database url: %s", cfg.DatabaseURL)
	}
	if cfg.DatabaseUser != "orders" || cfg.DatabasePassword != " secret " {
		t.Fatalf("unexpected credentials: %q/%q", cfg.DatabaseUser, cfg.DatabasePassword)
	}
	if cfg.DatabaseAutoSchema {
		t.Fatal("expected DatabaseAutoSchema=false")
	}
	if cfg.PebbleDir != "/var/lib/orders" {
		t.Fatalf("unexpected pebble dir: %s", cfg.PebbleDir)
	}
	if cfg.FetchSize != 100 {
		t.Fatalf("unexpected fetch size: %d", cfg.FetchSize)
	}
	if cfg.FlushEvery != 5 {
		t.Fatalf("unexpected flush every: %d", cfg.FlushEvery)
	}
	if cfg.StreamTimeout != 30*time.Second {
		t.Fatalf("unexpected stream timeout: %s", cfg.StreamTimeout)
	}
	if cfg.ShutdownTimeout != 10*time.Second {
		t.Fatalf("unexpected shutdown timeout: %s", cfg.ShutdownTimeout)
	}
	if !reflect.DeepEqual(cfg.KafkaBrokers, []string{"broker1:9092", "broker2:9092"}) {
		t.Fatalf("unexpected brokers: %v", cfg.KafkaBrokers)
	}
	if cfg.KafkaTopic != "orders.audit" {
		t.Fatalf("unexpected kafka topic: %s", cfg.KafkaTopic)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("unexpected log level: %s", cfg.LogLevel)
	}
}

func TestReadConfigFromEnv_InvalidValuesFallbackToDefaults(t *testing.T) {
	defaultCfg := app.DefaultConfig()

	cfg, warnings := readConfigFromEnv(mapLookup(map[string]string{
		envPort:               "http",
		envDatabaseAutoSchema: "not-bool",
		envFetchSize:          "0",
		envFlushEvery:         "-3",
		envStreamTimeout:      "-1s",
		envShutdownTimeout:    "soon",
		envLogLevel:           "loud",
	}))

	if len(warnings) != 7 {
		t.Fatalf("expected 7 warnings, got %d: %v", len(warnings), warnings)
	}
	if !reflect.DeepEqual(cfg, defaultCfg) {
		t.Fatalf("expected defaults on invalid values, got %#v", cfg)
	}
}

func TestReadConfigFromEnv_FlushEveryFollowsFetchSize(t *testing.T) {
	cfg, warnings := readConfigFromEnv(mapLookup(map[string]string{
		envFetchSize: "250",
	}))

	if len(warnings) != 0 {
		t.Fatalf("expected no warnings, got %v", warnings)
	}
	if cfg.FetchSize != 250 || cfg.FlushEvery != 250 {
		t.Fatalf("expected flush every to follow fetch size, got %d/%d", cfg.FetchSize, cfg.FlushEvery)
	}
}

func TestReadConfigFromEnv_BlankValuesIgnored(t *testing.T) {
	cfg, warnings := readConfigFromEnv(mapLookup(map[string]string{
		envPort:          "  ",
		envStorageDriver: "",
	}))

	if len(warnings) != 0 {
		t.Fatalf("expected no warnings, got %v", warnings)
	}
	if !reflect.DeepEqual(cfg, app.DefaultConfig()) {
		t.Fatalf("expected default config, got %#v", cfg)
	}
}

func TestPropertiesLookup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "application.properties")
	content := "port=7000\ndatabase.url=postgres://localhost:5432/orders\ndatabase.user=props\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write properties: %v", err)
	}

	props, err := propertiesLookup(path)
	if err != nil {
		t.Fatalf("propertiesLookup: %v", err)
	}

	lookup := chainLookup(mapLookup(map[string]string{envDatabaseUser: "env"}), props)
	cfg, warnings := readConfigFromEnv(lookup)
	if len(warnings) != 0 {
		t.Fatalf("expected no warnings, got %v", warnings)
	}
	if cfg.HTTPAddr != ":7000" {
		t.Fatalf("expected port from properties, got %s", cfg.HTTPAddr)
	}
	if cfg.DatabaseURL != "postgres://localhost:5432/orders" {
		t.Fatalf("expected url from properties, got %s", cfg.DatabaseURL)
	}
	if cfg.DatabaseUser != "env" {
		t.Fatalf("expected env to win over properties, got %s", cfg.DatabaseUser)
	}
}

func TestLoadLookup_MissingFile(t *testing.T) {
	lookup, err := loadLookup(filepath.Join(t.TempDir(), "missing.properties"))
	if err != nil {
		t.Fatalf("missing properties file must not be an error: %v", err)
	}
	if lookup == nil {
		t.Fatal("expected env lookup")
	}
}

func TestPropertyName(t *testing.T) {
	if got := propertyName("DATABASE_PASSWORD"); got != "database.password" {
		t.Fatalf("unexpected property name: %s", got)
	}
}

func TestParseBool(t *testing.T) {
	trueValue, err := parseBool(" YES ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !trueValue {
		t.Fatal("expected true result")
	}

	falseValue, err := parseBool("off")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if falseValue {
		t.Fatal("expected false result")
	}

	if _, err := parseBool("sometimes"); err == nil {
		t.Fatal("expected error for invalid bool value")
	}
}

func TestParseInt(t *testing.T) {
	value, err := parseInt(" 12 ", func(v int) bool { return v > 0 }, "must be > 0")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if value != 12 {
		t.Fatalf("unexpected value: %d", value)
	}

	if _, err := parseInt("0", func(v int) bool { return v > 0 }, "must be > 0"); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestParseDuration(t *testing.T) {
	value, err := parseDuration(" 250ms ", func(v time.Duration) bool { return v >= 0 }, "must be >= 0")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if value != 250*time.Millisecond {
		t.Fatalf("unexpected value: %s", value)
	}

	if _, err := parseDuration("-1ms", func(v time.Duration) bool { return v >= 0 }, "must be >= 0"); err == nil {
		t.Fatal("expected validation error")
	}
}

func mapLookup(values map[string]string) envLookup {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}
