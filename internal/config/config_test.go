package config

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

// clearEnv blanks every variable Load reads so the host environment cannot leak in.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"PIPELINE_CONFIG", "WEATHER_PROVIDER", "OPENWEATHER_API_KEY", "WEATHERAPI_API_KEY",
		"OPENWEATHER_BASE_URL", "WEATHERAPI_BASE_URL", "CITIES", "UNITS", "PIPELINE_MODE",
		"PIPELINE_CRON", "FETCH_INTERVAL", "HTTP_TIMEOUT", "WRITE_TIMEOUT", "REQUESTS_PER_SECOND",
		"REQUEST_BURST", "RETRY_MAX", "RETRY_INITIAL_INTERVAL", "RETRY_MAX_INTERVAL",
		"TEMP_MIN_C", "TEMP_MAX_C", "PRESSURE_MIN_HPA", "PRESSURE_MAX_HPA", "MAX_CLOCK_SKEW",
		"WAREHOUSE_DRIVER", "BQ_PROJECT_ID", "BQ_DATASET_ID", "BQ_TABLE_ID", "BQ_LOCATION",
		"SQLITE_PATH", "HTTP_ADDR", "APP_ENV", "LOG_LEVEL",
	} {
		t.Setenv(key, "")
	}
}

// minimalEnv is the smallest valid environment: a key and a memory warehouse.
func minimalEnv(t *testing.T) {
	t.Helper()
	clearEnv(t)
	t.Setenv("OPENWEATHER_API_KEY", "owm-key")
	t.Setenv("WAREHOUSE_DRIVER", "memory")
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	minimalEnv(t)

	cfg, err := Load(Overrides{})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	want := []string{"London", "New York", "Tokyo", "Paris", "Sydney"}
	if !reflect.DeepEqual(cfg.Cities, want) {
		t.Fatalf("cities: got %v, want %v", cfg.Cities, want)
	}
	if cfg.Provider != "openweathermap" || cfg.Units != "metric" || cfg.Mode != ModeSingle {
		t.Fatalf("provider/units/mode: %s %s %s", cfg.Provider, cfg.Units, cfg.Mode)
	}
	if cfg.FetchInterval != 30*time.Minute || cfg.HTTPTimeout != 10*time.Second || cfg.WriteTimeout != 30*time.Second {
		t.Fatalf("durations: %v %v %v", cfg.FetchInterval, cfg.HTTPTimeout, cfg.WriteTimeout)
	}
	if cfg.Retry.MaxRetries != 2 || cfg.Retry.InitialInterval != 500*time.Millisecond || cfg.Retry.MaxInterval != 5*time.Second {
		t.Fatalf("retry: %+v", cfg.Retry)
	}
	rules := cfg.Rules()
	if rules.TempMinC != -90 || rules.TempMaxC != 60 || rules.PressureMin != 800 || rules.PressureMax != 1200 || rules.MaxSkew != time.Hour {
		t.Fatalf("rules: %+v", rules)
	}
	if cfg.Warehouse.TableID != "weather_observations" || cfg.Warehouse.Location != "US" {
		t.Fatalf("warehouse: %+v", cfg.Warehouse)
	}
	if cfg.AppEnv != "dev" || cfg.LogLevel != "info" || cfg.HTTPAddr != "" {
		t.Fatalf("app env/log level/http addr: %s %s %q", cfg.AppEnv, cfg.LogLevel, cfg.HTTPAddr)
	}
}

func TestLoadFileOverlay(t *testing.T) {
	minimalEnv(t)
	path := writeFile(t, `
provider: weatherapi
weatherapi_api_key: wa-key
cities: [Berlin, Madrid]
units: imperial
fetch_interval: 15m
retry:
  max_retries: 4
validation:
  temp_min_c: -60
warehouse:
  driver: sqlite
  sqlite_path: /tmp/weather.db
`)

	cfg, err := Load(Overrides{ConfigFile: path})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Provider != "weatherapi" || cfg.APIKey() != "wa-key" {
		t.Fatalf("provider: %s %s", cfg.Provider, cfg.APIKey())
	}
	if !reflect.DeepEqual(cfg.Cities, []string{"Berlin", "Madrid"}) {
		t.Fatalf("cities: %v", cfg.Cities)
	}
	if cfg.Units != "imperial" || cfg.FetchInterval != 15*time.Minute {
		t.Fatalf("units/interval: %s %v", cfg.Units, cfg.FetchInterval)
	}
	// Untouched nested fields keep their defaults.
	if cfg.Retry.MaxRetries != 4 || cfg.Retry.InitialInterval != 500*time.Millisecond {
		t.Fatalf("retry: %+v", cfg.Retry)
	}
	if cfg.Validation.TempMinC != -60 || cfg.Validation.TempMaxC != 60 {
		t.Fatalf("validation: %+v", cfg.Validation)
	}
	// WAREHOUSE_DRIVER=memory from the environment wins over the file.
	if cfg.Warehouse.Driver != "memory" || cfg.Warehouse.SQLitePath != "/tmp/weather.db" {
		t.Fatalf("warehouse: %+v", cfg.Warehouse)
	}
}

func TestLoadFileFromEnv(t *testing.T) {
	minimalEnv(t)
	t.Setenv("PIPELINE_CONFIG", writeFile(t, "cities: [Oslo]\n"))

	cfg, err := Load(Overrides{})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !reflect.DeepEqual(cfg.Cities, []string{"Oslo"}) {
		t.Fatalf("cities: %v", cfg.Cities)
	}
}

func TestLoadEnvPrecedence(t *testing.T) {
	minimalEnv(t)
	path := writeFile(t, "cities: [Berlin]\nunits: imperial\nhttp_timeout: 3s\n")
	t.Setenv("CITIES", " Rome , ,Lisbon ")
	t.Setenv("HTTP_TIMEOUT", "7s")
	t.Setenv("LOG_LEVEL", "DEBUG")

	cfg, err := Load(Overrides{ConfigFile: path})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !reflect.DeepEqual(cfg.Cities, []string{"Rome", "Lisbon"}) {
		t.Fatalf("cities: %v", cfg.Cities)
	}
	if cfg.HTTPTimeout != 7*time.Second {
		t.Fatalf("http timeout: %v", cfg.HTTPTimeout)
	}
	if cfg.Units != "imperial" {
		t.Fatalf("units from file lost: %s", cfg.Units)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("log level: %s", cfg.LogLevel)
	}
}

func TestLoadFlagOverridesWin(t *testing.T) {
	minimalEnv(t)
	t.Setenv("CITIES", "Rome")
	t.Setenv("PIPELINE_MODE", "single")
	t.Setenv("PIPELINE_CRON", "*/5 * * * *")

	cfg, err := Load(Overrides{Mode: "continuous", Cities: "Kyiv,Warsaw", Interval: 5 * time.Minute})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Mode != ModeContinuous {
		t.Fatalf("mode: %s", cfg.Mode)
	}
	if !reflect.DeepEqual(cfg.Cities, []string{"Kyiv", "Warsaw"}) {
		t.Fatalf("cities: %v", cfg.Cities)
	}
	if cfg.FetchInterval != 5*time.Minute || cfg.Cron != "" {
		t.Fatalf("interval/cron: %v %q", cfg.FetchInterval, cfg.Cron)
	}
}

func TestLoadValidationFailures(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"missing api key", map[string]string{"OPENWEATHER_API_KEY": ""}, "api key"},
		{"weatherapi key missing", map[string]string{"WEATHER_PROVIDER": "weatherapi"}, "api key"},
		{"unknown provider", map[string]string{"WEATHER_PROVIDER": "darksky"}, "Provider"},
		{"bad units", map[string]string{"UNITS": "kelvin"}, "Units"},
		{"bad mode", map[string]string{"PIPELINE_MODE": "forever"}, "Mode"},
		{"bad duration", map[string]string{"FETCH_INTERVAL": "soon"}, "FETCH_INTERVAL"},
		{"zero interval", map[string]string{"FETCH_INTERVAL": "0s"}, "FetchInterval"},
		{"bad int", map[string]string{"RETRY_MAX": "two"}, "RETRY_MAX"},
		{"negative rps", map[string]string{"REQUESTS_PER_SECOND": "-1"}, "RequestsPerSecond"},
		{"inverted temp band", map[string]string{"TEMP_MIN_C": "70"}, "TempMinC"},
		{"inverted pressure band", map[string]string{"PRESSURE_MAX_HPA": "700"}, "PressureMin"},
		{"bad cron", map[string]string{"PIPELINE_CRON": "every day"}, "Cron"},
		{"bigquery without project", map[string]string{"WAREHOUSE_DRIVER": "bigquery"}, "ProjectID"},
		{"unknown driver", map[string]string{"WAREHOUSE_DRIVER": "postgres"}, "Driver"},
		{"bad http addr", map[string]string{"HTTP_ADDR": "not an address"}, "HTTPAddr"},
		{"bad log level", map[string]string{"LOG_LEVEL": "verbose"}, "LogLevel"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			minimalEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := Load(Overrides{})
			if !errors.Is(err, ErrInvalid) {
				t.Fatalf("expected ErrInvalid, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	minimalEnv(t)
	_, err := Load(Overrides{ConfigFile: filepath.Join(t.TempDir(), "nope.yaml")})
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
}

func TestValidateRedactsKeys(t *testing.T) {
	cfg := Defaults()
	cfg.OpenWeatherAPIKey = "super-secret"
	cfg.Warehouse.Driver = "memory"
	cfg.Units = "kelvin"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error")
	}
	if strings.Contains(err.Error(), "super-secret") {
		t.Fatalf("error leaks api key: %v", err)
	}
}

func TestDerivedConfigs(t *testing.T) {
	cfg := Defaults()
	cfg.Provider = "weatherapi"
	cfg.WeatherAPIKey = "wa"
	cfg.WeatherAPIBaseURL = "http://localhost:9999"
	cfg.Units = "imperial"

	pc := cfg.ProviderConfig()
	if pc.APIKey != "wa" || pc.BaseURL != "http://localhost:9999" || pc.Units != "imperial" {
		t.Fatalf("provider config: %+v", pc)
	}

	sc := cfg.StoreConfig()
	if sc.Driver != "bigquery" || sc.BigQuery.TableID != "weather_observations" {
		t.Fatalf("store config: %+v", sc)
	}

	pl := cfg.PipelineConfig()
	if len(pl.Cities) != 5 || pl.FetchTimeout != 10*time.Second || pl.Retry.MaxRetries != 2 {
		t.Fatalf("pipeline config: %+v", pl)
	}
}
