package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"

	"github.com/smukkama/airquality-pipeline/internal/models"
)

type Config struct {
	Database  DatabaseConfig
	Redis     RedisConfig
	Kafka     KafkaConfig
	SMTP      SMTPConfig
	HTTP      HTTPConfig
	Pipeline  PipelineConfig
	Sources   SourcesConfig
	Quality   QualityConfig
	Alerts    AlertsConfig
	Locations []LocationConfig
	LogLevel  string
}

type DatabaseConfig struct {
	Driver   string // postgres or sqlite
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	Path     string // sqlite file
}

func (d DatabaseConfig) ConnectionString() string {
	if d.Driver == "sqlite" {
		return d.Path
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode)
}

// MigrationURL is the golang-migrate database URL for this database
func (d DatabaseConfig) MigrationURL() string {
	if d.Driver == "sqlite" {
		return "sqlite://" + d.Path
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode)
}

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
	StateTTL time.Duration
}

type KafkaConfig struct {
	Enabled       bool
	Brokers       []string
	TopicAlerts   string
	GroupID       string
	NumPartitions int
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       string // comma separated
}

type HTTPConfig struct {
	Addr string
}

type PipelineConfig struct {
	Interval      time.Duration
	Lookback      time.Duration
	SourceTimeout time.Duration
	Mode          string // fallback or all
	RetryBase     time.Duration
	RetryMax      time.Duration
	RetryAttempts int
	AlertLogDir   string
}

type SourcesConfig struct {
	Order      []string `toml:"order"`
	Parameters []string `toml:"parameters"`

	OpenAQURL      string
	OpenAQKey      string
	AirNowURL      string
	AirNowKey      string
	AirNowRadius   int
	Synthetic      bool
	RequestRetries int
}

type QualityConfig struct {
	MADMultiplier float64            `toml:"mad_multiplier"`
	MinGroupSize  int                `toml:"min_group_size"`
	Ceilings      map[string]float64 `toml:"ceilings"`
}

type AlertsConfig struct {
	Tiers []models.Severity `toml:"tiers"`
}

type LocationConfig struct {
	City      string  `toml:"city"`
	District  string  `toml:"district"`
	Country   string  `toml:"country"`
	Latitude  float64 `toml:"latitude"`
	Longitude float64 `toml:"longitude"`
}

// Location converts the entry into a model location
func (l LocationConfig) Location() models.Location {
	lat, lon := l.Latitude, l.Longitude
	loc := models.Location{City: l.City, District: l.District, Country: l.Country}
	if lat != 0 || lon != 0 {
		loc.Latitude, loc.Longitude = &lat, &lon
	}
	loc.Key = models.LocationKey(loc.City, loc.District, loc.Latitude, loc.Longitude)
	return loc
}

// fileConfig holds the tuning tables that may come from a TOML file
type fileConfig struct {
	Sources   *SourcesConfig   `toml:"sources"`
	Quality   *QualityConfig   `toml:"quality"`
	Alerts    *AlertsConfig    `toml:"alerts"`
	Locations []LocationConfig `toml:"locations"`
}

// Error is a configuration problem. It is fatal at startup.
type Error struct {
	Field   string
	Problem string
}

func (e *Error) Error() string {
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Problem)
}

var defaultLocations = []LocationConfig{
	{City: "Los Angeles", Country: "US", Latitude: 34.0522, Longitude: -118.2437},
	{City: "New York", Country: "US", Latitude: 40.7128, Longitude: -74.0060},
	{City: "London", Country: "GB", Latitude: 51.5074, Longitude: -0.1278},
}

// Load reads .env, the environment and the optional TOML tuning file named
// by AQ_CONFIG_FILE (config.toml when unset). The result is validated.
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	var env envReader
	config := &Config{
		Database: DatabaseConfig{
			Driver:   getEnv("DB_DRIVER", "postgres"),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     env.getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "aq_user"),
			Password: getEnv("DB_PASSWORD", "aq_pass"),
			DBName:   getEnv("DB_NAME", "air_quality"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			Path:     getEnv("DB_PATH", "air_quality.db"),
		},
		Redis: RedisConfig{
			Enabled:  env.getEnvAsBool("REDIS_ENABLED", false),
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       env.getEnvAsInt("REDIS_DB", 0),
			StateTTL: env.getEnvAsDuration("REDIS_STATE_TTL", 7*24*time.Hour),
		},
		Kafka: KafkaConfig{
			Enabled:       env.getEnvAsBool("KAFKA_ENABLED", false),
			Brokers:       getEnvAsList("KAFKA_BROKERS", []string{"localhost:9092"}),
			TopicAlerts:   getEnv("KAFKA_TOPIC_ALERTS", "airquality.alerts"),
			GroupID:       getEnv("KAFKA_GROUP_ID", "notifier-group"),
			NumPartitions: env.getEnvAsInt("KAFKA_NUM_PARTITIONS", 3),
		},
		SMTP: SMTPConfig{
			Host:     getEnv("SMTP_HOST", "smtp.gmail.com"),
			Port:     env.getEnvAsInt("SMTP_PORT", 587),
			Username: getEnv("SMTP_USERNAME", ""),
			Password: getEnv("SMTP_PASSWORD", ""),
			From:     getEnv("SMTP_FROM", "airquality@example.com"),
			To:       getEnv("SMTP_TO", ""),
		},
		HTTP: HTTPConfig{
			Addr: getEnv("HTTP_ADDR", ":8080"),
		},
		Pipeline: PipelineConfig{
			Interval:      env.getEnvAsDuration("PIPELINE_INTERVAL", 6*time.Hour),
			Lookback:      env.getEnvAsDuration("PIPELINE_LOOKBACK", 0),
			SourceTimeout: env.getEnvAsDuration("SOURCE_TIMEOUT", 30*time.Second),
			Mode:          getEnv("PIPELINE_MODE", "fallback"),
			RetryBase:     env.getEnvAsDuration("RETRY_BASE", time.Second),
			RetryMax:      env.getEnvAsDuration("RETRY_MAX", 30*time.Second),
			RetryAttempts: env.getEnvAsInt("RETRY_ATTEMPTS", 4),
			AlertLogDir:   getEnv("ALERT_LOG_DIR", "alert_logs"),
		},
		Sources: SourcesConfig{
			Order:          getEnvAsList("SOURCE_ORDER", []string{"openaq", "airnow"}),
			OpenAQURL:      getEnv("OPENAQ_URL", "https://api.openaq.org/v3/measurements"),
			OpenAQKey:      getEnv("OPENAQ_API_KEY", ""),
			AirNowURL:      getEnv("AIRNOW_URL", "https://www.airnowapi.org/aq/observation/latLong/current/"),
			AirNowKey:      getEnv("AIRNOW_API_KEY", ""),
			AirNowRadius:   env.getEnvAsInt("AIRNOW_DISTANCE", 25),
			Synthetic:      env.getEnvAsBool("SOURCE_SYNTHETIC", false),
			Parameters:     getEnvAsList("SOURCE_PARAMETERS", []string{"pm25", "o3", "no2"}),
			RequestRetries: env.getEnvAsInt("SOURCE_REQUEST_RETRIES", 0),
		},
		Quality: QualityConfig{
			MADMultiplier: env.getEnvAsFloat("QUALITY_MAD_MULTIPLIER", 5.0),
			MinGroupSize:  env.getEnvAsInt("QUALITY_MIN_GROUP_SIZE", 5),
		},
		Locations: append([]LocationConfig(nil), defaultLocations...),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
	}
	if env.err != nil {
		return nil, env.err
	}

	path := getEnv("AQ_CONFIG_FILE", "config.toml")
	if err := config.loadFile(path); err != nil {
		var cfgErr *Error
		switch {
		case errors.As(err, &cfgErr):
			return nil, err
		case !errors.Is(err, fs.ErrNotExist) || os.Getenv("AQ_CONFIG_FILE") != "":
			return nil, &Error{Field: "AQ_CONFIG_FILE", Problem: err.Error()}
		}
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// loadFile overlays the tables present in a TOML file
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var fc fileConfig
	if err := toml.Unmarshal(data, &fc); err != nil {
		return &Error{Field: path, Problem: err.Error()}
	}

	if fc.Sources != nil {
		if len(fc.Sources.Order) > 0 {
			c.Sources.Order = fc.Sources.Order
		}
		if len(fc.Sources.Parameters) > 0 {
			c.Sources.Parameters = fc.Sources.Parameters
		}
	}
	if fc.Quality != nil {
		if fc.Quality.MADMultiplier > 0 {
			c.Quality.MADMultiplier = fc.Quality.MADMultiplier
		}
		if fc.Quality.MinGroupSize > 0 {
			c.Quality.MinGroupSize = fc.Quality.MinGroupSize
		}
		if len(fc.Quality.Ceilings) > 0 {
			c.Quality.Ceilings = fc.Quality.Ceilings
		}
	}
	if fc.Alerts != nil && len(fc.Alerts.Tiers) > 0 {
		c.Alerts.Tiers = fc.Alerts.Tiers
	}
	if len(fc.Locations) > 0 {
		c.Locations = fc.Locations
	}
	return nil
}

// Validate checks the settings a run cannot start without
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return &Error{Field: "DB_DRIVER", Problem: fmt.Sprintf("unsupported driver %q", c.Database.Driver)}
	}
	if c.Database.Driver == "sqlite" && c.Database.Path == "" {
		return &Error{Field: "DB_PATH", Problem: "required for sqlite"}
	}

	if c.Pipeline.Interval <= 0 {
		return &Error{Field: "PIPELINE_INTERVAL", Problem: "must be positive"}
	}
	if c.Pipeline.SourceTimeout <= 0 {
		return &Error{Field: "SOURCE_TIMEOUT", Problem: "must be positive"}
	}
	if c.Pipeline.Mode != "fallback" && c.Pipeline.Mode != "all" {
		return &Error{Field: "PIPELINE_MODE", Problem: fmt.Sprintf("unknown mode %q", c.Pipeline.Mode)}
	}
	if c.Pipeline.RetryAttempts < 1 {
		return &Error{Field: "RETRY_ATTEMPTS", Problem: "must be at least 1"}
	}

	if len(c.Sources.Order) == 0 && !c.Sources.Synthetic {
		return &Error{Field: "SOURCE_ORDER", Problem: "no sources configured"}
	}
	for _, name := range c.Sources.Order {
		switch name {
		case "openaq", "airnow", "synthetic":
		default:
			return &Error{Field: "SOURCE_ORDER", Problem: fmt.Sprintf("unknown source %q", name)}
		}
	}
	if _, err := c.SourceParameters(); err != nil {
		return err
	}

	if c.Quality.MADMultiplier <= 0 {
		return &Error{Field: "quality.mad_multiplier", Problem: "must be positive"}
	}
	if _, err := c.CeilingTable(); err != nil {
		return err
	}

	seen := make(map[int]bool)
	for _, t := range c.Alerts.Tiers {
		if t.Name == "" || t.MinAQI <= 0 {
			return &Error{Field: "alerts.tiers", Problem: fmt.Sprintf("tier %+v needs a name and a positive min_aqi", t)}
		}
		if seen[t.MinAQI] {
			return &Error{Field: "alerts.tiers", Problem: fmt.Sprintf("duplicate min_aqi %d", t.MinAQI)}
		}
		seen[t.MinAQI] = true
	}

	if len(c.Locations) == 0 {
		return &Error{Field: "locations", Problem: "at least one location is required"}
	}
	for _, l := range c.Locations {
		if l.City == "" {
			return &Error{Field: "locations", Problem: "city is required"}
		}
	}
	return nil
}

// SourceParameters returns the configured pollutants
func (c *Config) SourceParameters() ([]models.Parameter, error) {
	out := make([]models.Parameter, 0, len(c.Sources.Parameters))
	for _, s := range c.Sources.Parameters {
		p, ok := models.ParseParameter(s)
		if !ok {
			return nil, &Error{Field: "SOURCE_PARAMETERS", Problem: fmt.Sprintf("unknown parameter %q", s)}
		}
		out = append(out, p)
	}
	return out, nil
}

// CeilingTable returns configured plausibility ceilings keyed by parameter.
// It only holds overrides; the cleaner keeps its default for any parameter
// missing here.
func (c *Config) CeilingTable() (map[models.Parameter]float64, error) {
	if len(c.Quality.Ceilings) == 0 {
		return nil, nil
	}
	out := make(map[models.Parameter]float64, len(c.Quality.Ceilings))
	for name, v := range c.Quality.Ceilings {
		p, ok := models.ParseParameter(name)
		if !ok {
			return nil, &Error{Field: "quality.ceilings", Problem: fmt.Sprintf("unknown parameter %q", name)}
		}
		if v <= 0 {
			return nil, &Error{Field: "quality.ceilings", Problem: fmt.Sprintf("ceiling for %s must be positive", p)}
		}
		out[p] = v
	}
	return out, nil
}

// ModelLocations converts the configured locations
func (c *Config) ModelLocations() []models.Location {
	out := make([]models.Location, len(c.Locations))
	for i, l := range c.Locations {
		out[i] = l.Location()
	}
	return out
}

// SlogLevel maps LOG_LEVEL onto a slog level
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// envReader parses typed environment variables. A variable that is set but
// does not parse is a configuration error, not a silent default; the first
// one is kept in err.
type envReader struct {
	err error
}

func (r *envReader) fail(key, value string) {
	if r.err == nil {
		r.err = &Error{Field: key, Problem: fmt.Sprintf("cannot parse %q", value)}
	}
}

func (r *envReader) getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		r.fail(key, valueStr)
		return defaultValue
	}
	return value
}

func (r *envReader) getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		r.fail(key, valueStr)
		return defaultValue
	}
	return value
}

func (r *envReader) getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		r.fail(key, valueStr)
		return defaultValue
	}
	return value
}

func (r *envReader) getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		r.fail(key, valueStr)
		return defaultValue
	}
	return value
}

func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
