package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	// Log configuration
	Log LogConfig `mapstructure:"log"`

	// Telemetry configuration
	Telemetry TelemetryConfig `mapstructure:"telemetry"`

	// Server configuration
	Server ServerConfig `mapstructure:"server"`

	// CircuitBreaker configuration
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`

	// Alert configuration
	Alert AlertConfig `mapstructure:"alert"`

	// Model backend configuration
	Model ModelConfig `mapstructure:"model"`

	// Dataset and batching
	Data DataConfig `mapstructure:"data"`

	// Target slot layout
	Slots SlotsConfig `mapstructure:"slots"`

	// Loss evaluation
	Loss LossConfig `mapstructure:"loss"`

	// Decoding and prediction output
	Decode DecodeConfig `mapstructure:"decode"`

	// Run reports
	Output OutputConfig `mapstructure:"output"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // text, json
}

// TelemetryConfig holds telemetry configuration
type TelemetryConfig struct {
	ParquetPath string `mapstructure:"parquet_path"`
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // gin mode: debug, release, test
}

// CircuitBreakerConfig holds configuration for circuit breaking
type CircuitBreakerConfig struct {
	Enabled          bool    `mapstructure:"enabled"`
	MaxRequests      uint32  `mapstructure:"max_requests"`
	MinRequests      uint32  `mapstructure:"min_requests"`
	Interval         int     `mapstructure:"interval"` // in seconds
	Timeout          int     `mapstructure:"timeout"`  // in seconds
	ReadyToTripRatio float64 `mapstructure:"ready_to_trip_ratio"`
}

// AlertConfig holds configuration for alerting
type AlertConfig struct {
	Enabled  bool     `mapstructure:"enabled"`
	SMTPHost string   `mapstructure:"smtp_host"`
	SMTPPort int      `mapstructure:"smtp_port"`
	Username string   `mapstructure:"username"`
	Password string   `mapstructure:"password"`
	From     string   `mapstructure:"from"`
	To       []string `mapstructure:"to"`
}

// ModelConfig locates the model server. An empty endpoint is only valid
// when a model is supplied programmatically.
type ModelConfig struct {
	Endpoint string        `mapstructure:"endpoint"`
	APIKey   string        `mapstructure:"api_key"`
	Timeout  time.Duration `mapstructure:"timeout"`
	// Generator selects "remote" (the server's /v1/generate) or "greedy"
	// (local greedy decoding over the model interface).
	Generator string `mapstructure:"generator"`
}

// DataConfig holds dataset configuration
type DataConfig struct {
	VocabPath    string `mapstructure:"vocab_path"`
	TestPath     string `mapstructure:"test_path"`
	BatchSize    int    `mapstructure:"batch_size"`
	MaxSrcLen    int    `mapstructure:"max_src_len"`
	Lowercase    bool   `mapstructure:"lowercase"`
	SortByLength bool   `mapstructure:"sort_by_length"`
}

// SlotsConfig holds the fixed-slot layout
type SlotsConfig struct {
	FixKpNumLen bool `mapstructure:"fix_kp_num_len"`
	MaxKpNum    int  `mapstructure:"max_kp_num"`
	MaxKpLen    int  `mapstructure:"max_kp_len"`
	AssignSteps int  `mapstructure:"assign_steps"`
	// SeperatePreAb keeps the historical spelling of the option.
	SeperatePreAb bool `mapstructure:"seperate_pre_ab"`
}

// LossConfig holds loss evaluation options
type LossConfig struct {
	SetLoss             bool    `mapstructure:"set_loss"`
	UseOptimalTransport bool    `mapstructure:"use_optimal_transport"`
	AdaptiveLRScale     bool    `mapstructure:"adaptive_lr_scale"`
	LossScale           float64 `mapstructure:"loss_scale"`
	LossScalePre        float64 `mapstructure:"loss_scale_pre"`
	LossScaleAb         float64 `mapstructure:"loss_scale_ab"`
	OTEpsilon           float64 `mapstructure:"ot_epsilon"`
	OTIterations        int     `mapstructure:"ot_iterations"`
}

// DecodeConfig holds decoding and prediction options
type DecodeConfig struct {
	VocabSize     int    `mapstructure:"vocab_size"`
	CopyAttention bool   `mapstructure:"copy_attention"`
	ReplaceUnk    bool   `mapstructure:"replace_unk"`
	MaxDecodeLen  int    `mapstructure:"max_decode_len"`
	LogInterval   int    `mapstructure:"log_interval"`
	PredPath      string `mapstructure:"pred_path"`
}

// OutputConfig holds run report options
type OutputConfig struct {
	ReportDir string `mapstructure:"report_dir"`
	StatsDir  string `mapstructure:"stats_dir"`
	Format    string `mapstructure:"format"` // json, yaml
}

// Load loads configuration from file and environment variables
func Load() (*Config, error) {
	// Set defaults
	setDefaults()

	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	// Override with environment variables if present
	overrideWithEnv(config)

	return config, nil
}

// Default returns the configuration produced by the defaults alone.
func Default() *Config {
	v := viper.New()
	setDefaultsOn(v)
	config := &Config{}
	_ = v.Unmarshal(config)
	return config
}

// setDefaults sets default configuration values
func setDefaults() {
	setDefaultsOn(viper.GetViper())
}

func setDefaultsOn(v *viper.Viper) {
	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	// Server defaults
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")

	// Circuit breaker defaults
	v.SetDefault("circuit_breaker.enabled", true)
	v.SetDefault("circuit_breaker.max_requests", 1)
	v.SetDefault("circuit_breaker.min_requests", 3)
	v.SetDefault("circuit_breaker.interval", 60)
	v.SetDefault("circuit_breaker.timeout", 30)
	v.SetDefault("circuit_breaker.ready_to_trip_ratio", 0.6)

	// Model defaults
	v.SetDefault("model.endpoint", "http://localhost:9000")
	v.SetDefault("model.timeout", 60*time.Second)
	v.SetDefault("model.generator", "remote")

	// Data defaults
	v.SetDefault("data.batch_size", 8)
	v.SetDefault("data.max_src_len", 0)
	v.SetDefault("data.lowercase", true)
	v.SetDefault("data.sort_by_length", true)

	// Slot defaults
	v.SetDefault("slots.fix_kp_num_len", true)
	v.SetDefault("slots.max_kp_num", 20)
	v.SetDefault("slots.max_kp_len", 6)
	v.SetDefault("slots.assign_steps", 2)
	v.SetDefault("slots.seperate_pre_ab", true)

	// Loss defaults
	v.SetDefault("loss.set_loss", true)
	v.SetDefault("loss.use_optimal_transport", false)
	v.SetDefault("loss.adaptive_lr_scale", false)
	v.SetDefault("loss.loss_scale", 1.0)
	v.SetDefault("loss.loss_scale_pre", 0.2)
	v.SetDefault("loss.loss_scale_ab", 0.1)
	v.SetDefault("loss.ot_epsilon", 0.1)
	v.SetDefault("loss.ot_iterations", 100)

	// Decode defaults
	v.SetDefault("decode.vocab_size", 50000)
	v.SetDefault("decode.copy_attention", true)
	v.SetDefault("decode.replace_unk", true)
	v.SetDefault("decode.max_decode_len", 60)
	v.SetDefault("decode.log_interval", 1000)
	v.SetDefault("decode.pred_path", "./pred")

	// Output defaults
	v.SetDefault("output.report_dir", "./reports")
	v.SetDefault("output.format", "json")

	// Telemetry defaults
	home, err := os.UserHomeDir()
	if err == nil {
		defaultPath := fmt.Sprintf("%s/.kpset/telemetry", home)
		v.SetDefault("telemetry.parquet_path", defaultPath)
	}
}

// overrideWithEnv overrides config with environment variables
func overrideWithEnv(config *Config) {
	// Model server
	if endpoint := os.Getenv("KPSET_MODEL_ENDPOINT"); endpoint != "" {
		config.Model.Endpoint = endpoint
	}
	if apiKey := os.Getenv("KPSET_MODEL_API_KEY"); apiKey != "" {
		config.Model.APIKey = apiKey
	}

	// Data
	if path := os.Getenv("KPSET_VOCAB_PATH"); path != "" {
		config.Data.VocabPath = path
	}
	if path := os.Getenv("KPSET_TEST_PATH"); path != "" {
		config.Data.TestPath = path
	}
	if path := os.Getenv("KPSET_PRED_PATH"); path != "" {
		config.Decode.PredPath = path
	}

	// Server settings
	if host := os.Getenv("SERVER_HOST"); host != "" {
		config.Server.Host = host
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}

	// Telemetry settings
	if path := os.Getenv("TELEMETRY_PARQUET_PATH"); path != "" {
		config.Telemetry.ParquetPath = path
	}
}

// Validate checks option combinations before any work is done.
func (c *Config) Validate() error {
	var errs []error
	if c.Data.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("data.batch_size must be positive, got %d", c.Data.BatchSize))
	}
	if c.Decode.VocabSize <= 0 {
		errs = append(errs, fmt.Errorf("decode.vocab_size must be positive, got %d", c.Decode.VocabSize))
	}
	if c.Slots.FixKpNumLen {
		if c.Slots.MaxKpNum <= 0 || c.Slots.MaxKpLen <= 0 {
			errs = append(errs, fmt.Errorf("slots.max_kp_num and slots.max_kp_len must be positive, got %d and %d", c.Slots.MaxKpNum, c.Slots.MaxKpLen))
		}
		if c.Slots.SeperatePreAb && c.Slots.MaxKpNum%2 != 0 {
			errs = append(errs, fmt.Errorf("slots.max_kp_num must be even with seperate_pre_ab, got %d", c.Slots.MaxKpNum))
		}
		if c.Loss.SetLoss && c.Slots.AssignSteps <= 0 {
			errs = append(errs, fmt.Errorf("slots.assign_steps must be positive, got %d", c.Slots.AssignSteps))
		}
		if c.Slots.AssignSteps > c.Slots.MaxKpLen {
			errs = append(errs, fmt.Errorf("slots.assign_steps (%d) exceeds slots.max_kp_len (%d)", c.Slots.AssignSteps, c.Slots.MaxKpLen))
		}
	}
	if c.Loss.AdaptiveLRScale && !(c.Slots.FixKpNumLen && c.Loss.SetLoss) {
		errs = append(errs, errors.New("loss.adaptive_lr_scale requires slots.fix_kp_num_len and loss.set_loss"))
	}
	if c.Loss.UseOptimalTransport {
		if c.Loss.OTEpsilon <= 0 {
			errs = append(errs, fmt.Errorf("loss.ot_epsilon must be positive, got %g", c.Loss.OTEpsilon))
		}
		if c.Loss.OTIterations <= 0 {
			errs = append(errs, fmt.Errorf("loss.ot_iterations must be positive, got %d", c.Loss.OTIterations))
		}
	}
	if !c.Slots.FixKpNumLen && c.Decode.MaxDecodeLen <= 0 {
		errs = append(errs, fmt.Errorf("decode.max_decode_len must be positive, got %d", c.Decode.MaxDecodeLen))
	}
	switch strings.ToLower(c.Model.Generator) {
	case "", "remote", "greedy":
	default:
		errs = append(errs, fmt.Errorf("unsupported model.generator: %s", c.Model.Generator))
	}
	switch strings.ToLower(c.Output.Format) {
	case "", "json", "yaml":
	default:
		errs = append(errs, fmt.Errorf("unsupported output.format: %s", c.Output.Format))
	}
	return errors.Join(errs...)
}
