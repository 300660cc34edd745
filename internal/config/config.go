package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/RMahshie/sigcal/internal/instrument"
	"github.com/RMahshie/sigcal/internal/validation"
	"github.com/RMahshie/sigcal/pkg/models"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. SIGCAL_EMAIL_PASSWORD
const EnvPrefix = "SIGCAL"

const redacted = "********"

// Config holds all configuration for a calibration run
type Config struct {
	Mode            models.Mode             `mapstructure:"mode" yaml:"mode"`
	OutputDir       string                  `mapstructure:"output_dir" yaml:"output_dir"`
	Procedures      []string                `mapstructure:"procedures" yaml:"procedures"`
	FrequencyPoints []models.FrequencyPoint `mapstructure:"frequency_points" yaml:"frequency_points"`
	ModDepths       []ModDepth              `mapstructure:"mod_depths" yaml:"mod_depths"`
	ModDevs         []ModDev                `mapstructure:"mod_devs" yaml:"mod_devs"`
	LevelPoints     []LevelPoint            `mapstructure:"level_points" yaml:"level_points"`
	Instruments     InstrumentsConfig       `mapstructure:"instruments" yaml:"instruments"`
	Telemetry       TelemetryConfig         `mapstructure:"telemetry" yaml:"telemetry"`
	Email           EmailConfig             `mapstructure:"email" yaml:"email"`
	SMS             SMSConfig               `mapstructure:"sms" yaml:"sms"`
	Monitor         MonitorConfig           `mapstructure:"monitor" yaml:"monitor"`
	Database        DatabaseConfig          `mapstructure:"database" yaml:"database"`
	Archive         ArchiveConfig           `mapstructure:"archive" yaml:"archive"`
	Server          ServerConfig            `mapstructure:"server" yaml:"server"`
	Log             LogConfig               `mapstructure:"log" yaml:"log"`
}

// ModDepth is an AM depth sweep point, e.g. {depth: 30PCT, delay: 2}
type ModDepth struct {
	Depth string  `mapstructure:"depth" yaml:"depth"`
	Delay float64 `mapstructure:"delay" yaml:"delay"`
}

// ModDev is an FM deviation sweep point, e.g. {dev: 5e3, delay: 2}
type ModDev struct {
	Dev   string  `mapstructure:"dev" yaml:"dev"`
	Delay float64 `mapstructure:"delay" yaml:"delay"`
}

// LevelPoint is a power level sweep point in dBm, e.g. {level: -10, delay: 2}
type LevelPoint struct {
	Level string  `mapstructure:"level" yaml:"level"`
	Delay float64 `mapstructure:"delay" yaml:"delay"`
}

// InstrumentsConfig holds both instrument connections
type InstrumentsConfig struct {
	Analyzer InstrumentConfig `mapstructure:"analyzer" yaml:"analyzer"`
	Stimulus InstrumentConfig `mapstructure:"stimulus" yaml:"stimulus"`
}

// InstrumentConfig describes how one instrument is attached
type InstrumentConfig struct {
	Transport   string        `mapstructure:"transport" yaml:"transport"`
	Address     string        `mapstructure:"address" yaml:"address"`
	GPIBAddress int           `mapstructure:"gpib_address" yaml:"gpib_address"`
	Timeout     time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// TelemetryConfig holds result streaming configuration
type TelemetryConfig struct {
	Transport    string   `mapstructure:"transport" yaml:"transport"`
	Broker       string   `mapstructure:"broker" yaml:"broker"`
	Port         int      `mapstructure:"port" yaml:"port"`
	TLS          bool     `mapstructure:"tls" yaml:"tls"`
	Username     string   `mapstructure:"username" yaml:"username"`
	Password     string   `mapstructure:"password" yaml:"password"`
	ClientID     string   `mapstructure:"client_id" yaml:"client_id"`
	KafkaBrokers []string `mapstructure:"kafka_brokers" yaml:"kafka_brokers"`
}

// EmailConfig holds alert mail configuration
type EmailConfig struct {
	Provider       string   `mapstructure:"provider" yaml:"provider"`
	SMTPServer     string   `mapstructure:"smtp_server" yaml:"smtp_server"`
	SMTPPort       int      `mapstructure:"smtp_port" yaml:"smtp_port"`
	Sender         string   `mapstructure:"sender" yaml:"sender"`
	Password       string   `mapstructure:"password" yaml:"password"`
	SendGridAPIKey string   `mapstructure:"sendgrid_api_key" yaml:"sendgrid_api_key"`
	Recipients     []string `mapstructure:"recipients" yaml:"recipients"`
}

// SMSConfig holds text alert configuration
type SMSConfig struct {
	Enabled    bool     `mapstructure:"enabled" yaml:"enabled"`
	AccountSID string   `mapstructure:"twilio_account_sid" yaml:"twilio_account_sid"`
	AuthToken  string   `mapstructure:"twilio_auth_token" yaml:"twilio_auth_token"`
	FromNumber string   `mapstructure:"twilio_from_number" yaml:"twilio_from_number"`
	Numbers    []string `mapstructure:"notification_numbers" yaml:"notification_numbers"`
}

// MonitorConfig holds instrument error queue polling configuration
type MonitorConfig struct {
	Enabled  bool          `mapstructure:"enabled" yaml:"enabled"`
	Interval time.Duration `mapstructure:"interval" yaml:"interval"`
}

// DatabaseConfig holds results repository configuration
type DatabaseConfig struct {
	Driver string `mapstructure:"driver" yaml:"driver"`
	DSN    string `mapstructure:"dsn" yaml:"dsn"`
}

// ArchiveConfig holds object storage configuration for result files
type ArchiveConfig struct {
	Bucket    string `mapstructure:"bucket" yaml:"bucket"`
	Endpoint  string `mapstructure:"endpoint" yaml:"endpoint"`
	Region    string `mapstructure:"region" yaml:"region"`
	Prefix    string `mapstructure:"prefix" yaml:"prefix"`
	AccessKey string `mapstructure:"access_key" yaml:"access_key"`
	SecretKey string `mapstructure:"secret_key" yaml:"secret_key"`
}

// ServerConfig holds status server configuration
type ServerConfig struct {
	Enabled        bool     `mapstructure:"enabled" yaml:"enabled"`
	Addr           string   `mapstructure:"addr" yaml:"addr"`
	AllowedOrigins []string `mapstructure:"allowed_origins" yaml:"allowed_origins"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
	File  string `mapstructure:"file" yaml:"file"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", string(models.ModeLive))
	v.SetDefault("output_dir", ".")
	v.SetDefault("procedures", []string{"am", "level"})
	v.SetDefault("frequency_points", []map[string]any{
		{"display": "100MHz", "value": "100e6"},
		{"display": "500MHz", "value": "500e6"},
		{"display": "1GHz", "value": "1e9"},
	})
	v.SetDefault("mod_depths", []map[string]any{
		{"depth": "30PCT", "delay": 2},
		{"depth": "50PCT", "delay": 2},
		{"depth": "80PCT", "delay": 2},
	})
	v.SetDefault("mod_devs", []map[string]any{
		{"dev": "5e3", "delay": 2},
		{"dev": "10e3", "delay": 2},
	})
	v.SetDefault("level_points", []map[string]any{
		{"level": "0", "delay": 2},
		{"level": "-10", "delay": 2},
		{"level": "-20", "delay": 2},
	})

	v.SetDefault("instruments.analyzer.transport", string(instrument.TransportSerial))
	v.SetDefault("instruments.analyzer.address", "/dev/ttyUSB0")
	v.SetDefault("instruments.analyzer.gpib_address", 20)
	v.SetDefault("instruments.analyzer.timeout", 10*time.Second)
	v.SetDefault("instruments.stimulus.transport", string(instrument.TransportSerial))
	v.SetDefault("instruments.stimulus.address", "/dev/ttyUSB1")
	v.SetDefault("instruments.stimulus.gpib_address", 28)
	v.SetDefault("instruments.stimulus.timeout", 10*time.Second)

	v.SetDefault("telemetry.transport", "mqtt")
	v.SetDefault("telemetry.broker", "localhost")
	v.SetDefault("telemetry.port", 8883)
	v.SetDefault("telemetry.tls", true)
	v.SetDefault("telemetry.username", "")
	v.SetDefault("telemetry.password", "")
	v.SetDefault("telemetry.client_id", "calibration")
	v.SetDefault("telemetry.kafka_brokers", []string{"localhost:9092"})

	v.SetDefault("email.provider", "none")
	v.SetDefault("email.smtp_server", "smtp.gmail.com")
	v.SetDefault("email.smtp_port", 587)
	v.SetDefault("email.sender", "")
	v.SetDefault("email.password", "")
	v.SetDefault("email.sendgrid_api_key", "")
	v.SetDefault("email.recipients", []string{})

	v.SetDefault("sms.enabled", false)
	v.SetDefault("sms.twilio_account_sid", "")
	v.SetDefault("sms.twilio_auth_token", "")
	v.SetDefault("sms.twilio_from_number", "")
	v.SetDefault("sms.notification_numbers", []string{})

	v.SetDefault("monitor.enabled", false)
	v.SetDefault("monitor.interval", 30*time.Second)

	v.SetDefault("database.driver", "none")
	v.SetDefault("database.dsn", "")

	v.SetDefault("archive.bucket", "")
	v.SetDefault("archive.endpoint", "")
	v.SetDefault("archive.region", "us-east-1")
	v.SetDefault("archive.prefix", "calibration-runs")
	v.SetDefault("archive.access_key", "")
	v.SetDefault("archive.secret_key", "")

	v.SetDefault("server.enabled", false)
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.allowed_origins", []string{"http://localhost:5173", "http://localhost:3000"})

	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
}

// Load reads the configuration file at path (or calibration.yaml in . or
// ./configs when path is empty), applies SIGCAL_ environment overrides and
// any flags bound in flags. A missing default file is not an error.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	// Secrets may live in .env; values already in the environment win
	loadDotEnv(".env")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	} else {
		v.SetConfigName("calibration")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	if flags != nil {
		bindFlag(v, flags, "log.level", "log-level")
		bindFlag(v, flags, "output_dir", "output-dir")
		bindFlag(v, flags, "server.enabled", "serve")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	checkFrequencyFields(v.Get("frequency_points"))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log.Debug().
		Str("config_file", v.ConfigFileUsed()).
		Str("mode", string(cfg.Mode)).
		Int("frequency_points", len(cfg.FrequencyPoints)).
		Msg("Configuration loaded")

	return &cfg, nil
}

func bindFlag(v *viper.Viper, flags *pflag.FlagSet, key, name string) {
	if f := flags.Lookup(name); f != nil {
		_ = v.BindPFlag(key, f)
	}
}

func loadDotEnv(path string) {
	ev := viper.New()
	ev.SetConfigFile(path)
	ev.SetConfigType("env")
	if err := ev.ReadInConfig(); err != nil {
		return // file may not exist
	}
	for _, key := range ev.AllKeys() {
		name := strings.ToUpper(key)
		if _, set := os.LookupEnv(name); set {
			continue
		}
		_ = os.Setenv(name, ev.GetString(key))
	}
}

// checkFrequencyFields warns about malformed raw frequency entries. They are
// kept so the run reports and skips them at their turn.
func checkFrequencyFields(raw any) {
	entries, ok := raw.([]any)
	if !ok {
		return
	}
	for i, entry := range entries {
		fields, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		if err := validation.ValidateFrequencyFields(fields); err != nil {
			log.Warn().Err(err).Int("index", i).Msg("Malformed frequency point in configuration")
		}
	}
}

// Validate checks enumerated settings
func (c *Config) Validate() error {
	switch c.Mode {
	case models.ModeLive, models.ModeSimulated:
	default:
		return fmt.Errorf("invalid mode %q: must be live or simulated", c.Mode)
	}
	if _, err := c.ProcedureKinds(); err != nil {
		return err
	}
	for name, ic := range map[string]InstrumentConfig{"analyzer": c.Instruments.Analyzer, "stimulus": c.Instruments.Stimulus} {
		switch instrument.Transport(ic.Transport) {
		case instrument.TransportSerial, instrument.TransportTCP:
		default:
			return fmt.Errorf("invalid %s transport %q", name, ic.Transport)
		}
	}
	if !oneOf(c.Telemetry.Transport, "mqtt", "kafka", "none") {
		return fmt.Errorf("invalid telemetry transport %q", c.Telemetry.Transport)
	}
	if !oneOf(c.Email.Provider, "smtp", "sendgrid", "none") {
		return fmt.Errorf("invalid email provider %q", c.Email.Provider)
	}
	if !oneOf(c.Database.Driver, "postgres", "sqlite3", "none") {
		return fmt.Errorf("invalid database driver %q", c.Database.Driver)
	}
	return nil
}

// ProcedureKinds maps the configured procedure names to result kinds
func (c *Config) ProcedureKinds() ([]models.Kind, error) {
	kinds := make([]models.Kind, 0, len(c.Procedures))
	for _, p := range c.Procedures {
		switch strings.ToLower(strings.TrimSpace(p)) {
		case "am":
			kinds = append(kinds, models.KindAM)
		case "fm":
			kinds = append(kinds, models.KindFM)
		case "level":
			kinds = append(kinds, models.KindLevel)
		default:
			return nil, fmt.Errorf("unknown procedure %q: must be am, fm or level", p)
		}
	}
	return kinds, nil
}

// SweepPoints returns the configured sweep for a procedure kind
func (c *Config) SweepPoints(kind models.Kind) []models.SweepPoint {
	var points []models.SweepPoint
	switch kind {
	case models.KindAM:
		for _, p := range c.ModDepths {
			points = append(points, models.SweepPoint{Value: p.Depth, Delay: seconds(p.Delay)})
		}
	case models.KindFM:
		for _, p := range c.ModDevs {
			points = append(points, models.SweepPoint{Value: p.Dev, Delay: seconds(p.Delay)})
		}
	case models.KindLevel:
		for _, p := range c.LevelPoints {
			points = append(points, models.SweepPoint{Value: p.Level, Delay: seconds(p.Delay)})
		}
	}
	return points
}

// Endpoint converts the instrument settings for the gateway layer
func (ic InstrumentConfig) Endpoint() instrument.Endpoint {
	return instrument.Endpoint{
		Transport:   instrument.Transport(ic.Transport),
		Address:     ic.Address,
		GPIBAddress: ic.GPIBAddress,
		Timeout:     ic.Timeout,
	}
}

// Redacted returns a copy with secrets masked
func (c Config) Redacted() Config {
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return redacted
	}
	c.Telemetry.Password = mask(c.Telemetry.Password)
	c.Email.Password = mask(c.Email.Password)
	c.Email.SendGridAPIKey = mask(c.Email.SendGridAPIKey)
	c.SMS.AuthToken = mask(c.SMS.AuthToken)
	c.Database.DSN = mask(c.Database.DSN)
	c.Archive.SecretKey = mask(c.Archive.SecretKey)
	return c
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func oneOf(s string, options ...string) bool {
	for _, o := range options {
		if s == o {
			return true
		}
	}
	return false
}
