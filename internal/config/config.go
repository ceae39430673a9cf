package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/i474232898/weather-pipeline/internal/common"
	"github.com/i474232898/weather-pipeline/internal/store"
	"github.com/i474232898/weather-pipeline/internal/weather"
	"github.com/i474232898/weather-pipeline/internal/weather/providers"
)

// ErrInvalid wraps every configuration problem so main can exit with the
// usage status.
var ErrInvalid = errors.New("invalid configuration")

const (
	ModeSingle     = "single"
	ModeContinuous = "continuous"
	ModeStatus     = "status"
)

var defaultCities = []string{"London", "New York", "Tokyo", "Paris", "Sydney"}

type RetryConfig struct {
	MaxRetries      int           `yaml:"max_retries" validate:"gte=0,lte=10"`
	InitialInterval time.Duration `yaml:"initial_interval" validate:"gt=0"`
	MaxInterval     time.Duration `yaml:"max_interval" validate:"gtefield=InitialInterval"`
}

type ValidationConfig struct {
	TempMinC     float64       `yaml:"temp_min_c" validate:"ltfield=TempMaxC"`
	TempMaxC     float64       `yaml:"temp_max_c"`
	PressureMin  int           `yaml:"pressure_min_hpa" validate:"gte=0,ltfield=PressureMax"`
	PressureMax  int           `yaml:"pressure_max_hpa"`
	MaxClockSkew time.Duration `yaml:"max_clock_skew" validate:"gte=0"`
}

type WarehouseConfig struct {
	Driver     string `yaml:"driver" validate:"oneof=bigquery sqlite memory"`
	ProjectID  string `yaml:"project_id" validate:"required_if=Driver bigquery"`
	DatasetID  string `yaml:"dataset_id" validate:"required_if=Driver bigquery"`
	TableID    string `yaml:"table_id"`
	Location   string `yaml:"location"`
	SQLitePath string `yaml:"sqlite_path" validate:"required_if=Driver sqlite"`
}

// AppConfig is the full runtime configuration. Sources, lowest precedence
// first: defaults, YAML file, environment (including .env), command-line flags.
type AppConfig struct {
	Provider           string `yaml:"provider" validate:"oneof=openweathermap weatherapi"`
	OpenWeatherAPIKey  string `yaml:"openweather_api_key"`
	WeatherAPIKey      string `yaml:"weatherapi_api_key"`
	OpenWeatherBaseURL string `yaml:"openweather_base_url" validate:"omitempty,url"`
	WeatherAPIBaseURL  string `yaml:"weatherapi_base_url" validate:"omitempty,url"`

	Cities []string `yaml:"cities" validate:"min=1,dive,required"`
	Units  string   `yaml:"units" validate:"oneof=metric imperial"`

	Mode string `yaml:"mode" validate:"oneof=single continuous status"`
	// FetchInterval controls how often a pass runs in continuous mode.
	FetchInterval time.Duration `yaml:"fetch_interval" validate:"gt=0"`
	// Cron, when set, replaces FetchInterval.
	Cron string `yaml:"cron" validate:"omitempty,cronspec"`

	HTTPTimeout       time.Duration `yaml:"http_timeout" validate:"gt=0"`
	WriteTimeout      time.Duration `yaml:"write_timeout" validate:"gt=0"`
	RequestsPerSecond float64       `yaml:"requests_per_second" validate:"gte=0"`
	RequestBurst      int           `yaml:"request_burst" validate:"gte=1"`

	Retry      RetryConfig      `yaml:"retry"`
	Validation ValidationConfig `yaml:"validation"`
	Warehouse  WarehouseConfig  `yaml:"warehouse"`

	// HTTPAddr enables the ops API in continuous mode when non-empty.
	HTTPAddr string `yaml:"http_addr" validate:"omitempty,hostname_port"`
	AppEnv   string `yaml:"app_env" validate:"oneof=dev prod"`
	LogLevel string `yaml:"log_level" validate:"oneof=debug info warn error"`
}

// Overrides carries command-line flag values; zero values are ignored.
type Overrides struct {
	ConfigFile string
	Mode       string
	Cities     string
	Interval   time.Duration
}

// Defaults returns the configuration used when nothing is set.
func Defaults() AppConfig {
	rules := weather.DefaultRules()
	retry := weather.DefaultRetryPolicy()
	return AppConfig{
		Provider:      providers.NameOpenWeather,
		Cities:        append([]string(nil), defaultCities...),
		Units:         string(weather.UnitsMetric),
		Mode:          ModeSingle,
		FetchInterval: 30 * time.Minute,
		HTTPTimeout:   10 * time.Second,
		WriteTimeout:  30 * time.Second,

		RequestsPerSecond: 1,
		RequestBurst:      1,

		Retry: RetryConfig{
			MaxRetries:      retry.MaxRetries,
			InitialInterval: retry.InitialInterval,
			MaxInterval:     retry.MaxInterval,
		},
		Validation: ValidationConfig{
			TempMinC:     rules.TempMinC,
			TempMaxC:     rules.TempMaxC,
			PressureMin:  rules.PressureMin,
			PressureMax:  rules.PressureMax,
			MaxClockSkew: rules.MaxSkew,
		},
		Warehouse: WarehouseConfig{
			Driver:     store.DriverBigQuery,
			TableID:    store.DefaultTable,
			Location:   "US",
			SQLitePath: "weather_data.db",
		},
		AppEnv:   "dev",
		LogLevel: "info",
	}
}

// Load reads configuration from .env, the optional YAML file, the environment
// and flag overrides, then validates it.
func Load(o Overrides) (*AppConfig, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("config: could not load .env", "error", err)
	}

	cfg := Defaults()

	path := o.ConfigFile
	if path == "" {
		path = os.Getenv("PIPELINE_CONFIG")
	}
	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}
	applyOverrides(&cfg, o)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadFile(path string, cfg *AppConfig) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: read %s: %w", ErrInvalid, path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("%w: parse %s: %w", ErrInvalid, path, err)
	}
	return nil
}

func applyEnv(cfg *AppConfig) error {
	cfg.Provider = getenvDefault("WEATHER_PROVIDER", cfg.Provider)
	cfg.OpenWeatherAPIKey = getenvDefault("OPENWEATHER_API_KEY", cfg.OpenWeatherAPIKey)
	cfg.WeatherAPIKey = getenvDefault("WEATHERAPI_API_KEY", cfg.WeatherAPIKey)
	cfg.OpenWeatherBaseURL = getenvDefault("OPENWEATHER_BASE_URL", cfg.OpenWeatherBaseURL)
	cfg.WeatherAPIBaseURL = getenvDefault("WEATHERAPI_BASE_URL", cfg.WeatherAPIBaseURL)

	if v := os.Getenv("CITIES"); v != "" {
		cfg.Cities = common.SplitCSV(v)
	}
	cfg.Units = getenvDefault("UNITS", cfg.Units)
	cfg.Mode = getenvDefault("PIPELINE_MODE", cfg.Mode)
	cfg.Cron = getenvDefault("PIPELINE_CRON", cfg.Cron)

	cfg.Warehouse.Driver = getenvDefault("WAREHOUSE_DRIVER", cfg.Warehouse.Driver)
	cfg.Warehouse.ProjectID = getenvDefault("BQ_PROJECT_ID", cfg.Warehouse.ProjectID)
	cfg.Warehouse.DatasetID = getenvDefault("BQ_DATASET_ID", cfg.Warehouse.DatasetID)
	cfg.Warehouse.TableID = getenvDefault("BQ_TABLE_ID", cfg.Warehouse.TableID)
	cfg.Warehouse.Location = getenvDefault("BQ_LOCATION", cfg.Warehouse.Location)
	cfg.Warehouse.SQLitePath = getenvDefault("SQLITE_PATH", cfg.Warehouse.SQLitePath)

	cfg.HTTPAddr = getenvDefault("HTTP_ADDR", cfg.HTTPAddr)
	cfg.AppEnv = getenvDefault("APP_ENV", cfg.AppEnv)
	cfg.LogLevel = strings.ToLower(getenvDefault("LOG_LEVEL", cfg.LogLevel))

	var errs []error
	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"FETCH_INTERVAL", &cfg.FetchInterval},
		{"HTTP_TIMEOUT", &cfg.HTTPTimeout},
		{"WRITE_TIMEOUT", &cfg.WriteTimeout},
		{"RETRY_INITIAL_INTERVAL", &cfg.Retry.InitialInterval},
		{"RETRY_MAX_INTERVAL", &cfg.Retry.MaxInterval},
		{"MAX_CLOCK_SKEW", &cfg.Validation.MaxClockSkew},
	}
	for _, d := range durations {
		v, err := getenvDuration(d.key, *d.dst)
		errs = append(errs, err)
		*d.dst = v
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"REQUEST_BURST", &cfg.RequestBurst},
		{"RETRY_MAX", &cfg.Retry.MaxRetries},
		{"PRESSURE_MIN_HPA", &cfg.Validation.PressureMin},
		{"PRESSURE_MAX_HPA", &cfg.Validation.PressureMax},
	}
	for _, i := range ints {
		v, err := getenvInt(i.key, *i.dst)
		errs = append(errs, err)
		*i.dst = v
	}

	floats := []struct {
		key string
		dst *float64
	}{
		{"REQUESTS_PER_SECOND", &cfg.RequestsPerSecond},
		{"TEMP_MIN_C", &cfg.Validation.TempMinC},
		{"TEMP_MAX_C", &cfg.Validation.TempMaxC},
	}
	for _, f := range floats {
		v, err := getenvFloat(f.key, *f.dst)
		errs = append(errs, err)
		*f.dst = v
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return nil
}

func applyOverrides(cfg *AppConfig, o Overrides) {
	if o.Mode != "" {
		cfg.Mode = o.Mode
	}
	if o.Cities != "" {
		cfg.Cities = common.SplitCSV(o.Cities)
	}
	if o.Interval > 0 {
		cfg.FetchInterval = o.Interval
		// An explicit interval wins over a cron expression from file or env.
		cfg.Cron = ""
	}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("cronspec", func(fl validator.FieldLevel) bool {
		_, err := cron.ParseStandard(fl.Field().String())
		return err == nil
	})
	return v
}

// Validate checks field constraints and the credential of the selected provider.
func (c *AppConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			msgs := make([]string, 0, len(fieldErrs))
			for _, fe := range fieldErrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q (value %v)", fe.Namespace(), fe.Tag(), redact(fe)))
			}
			return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}

	if c.APIKey() == "" {
		return fmt.Errorf("%w: api key for provider %s is not set", ErrInvalid, c.Provider)
	}
	return nil
}

func redact(fe validator.FieldError) any {
	if strings.HasSuffix(fe.Field(), "APIKey") {
		return "***"
	}
	return fe.Value()
}

// APIKey returns the credential of the selected provider.
func (c *AppConfig) APIKey() string {
	if c.Provider == providers.NameWeatherAPI {
		return c.WeatherAPIKey
	}
	return c.OpenWeatherAPIKey
}

func (c *AppConfig) ProviderConfig() providers.Config {
	baseURL := c.OpenWeatherBaseURL
	if c.Provider == providers.NameWeatherAPI {
		baseURL = c.WeatherAPIBaseURL
	}
	return providers.Config{
		APIKey:  c.APIKey(),
		BaseURL: baseURL,
		Units:   weather.Units(c.Units),
	}
}

func (c *AppConfig) StoreConfig() store.Config {
	return store.Config{
		Driver: c.Warehouse.Driver,
		BigQuery: store.BigQueryConfig{
			ProjectID: c.Warehouse.ProjectID,
			DatasetID: c.Warehouse.DatasetID,
			TableID:   c.Warehouse.TableID,
			Location:  c.Warehouse.Location,
		},
		SQLitePath: c.Warehouse.SQLitePath,
	}
}

func (c *AppConfig) Rules() weather.Rules {
	return weather.Rules{
		TempMinC:    c.Validation.TempMinC,
		TempMaxC:    c.Validation.TempMaxC,
		PressureMin: c.Validation.PressureMin,
		PressureMax: c.Validation.PressureMax,
		MaxSkew:     c.Validation.MaxClockSkew,
	}
}

func (c *AppConfig) PipelineConfig() weather.PipelineConfig {
	return weather.PipelineConfig{
		Cities:       c.Cities,
		FetchTimeout: c.HTTPTimeout,
		WriteTimeout: c.WriteTimeout,
		Retry: weather.RetryPolicy{
			MaxRetries:      c.Retry.MaxRetries,
			InitialInterval: c.Retry.InitialInterval,
			MaxInterval:     c.Retry.MaxInterval,
		},
	}
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getenvFloat(key string, def float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def, fmt.Errorf("%s: %w", key, err)
	}
	return f, nil
}

func getenvDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
