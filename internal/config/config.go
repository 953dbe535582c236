package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Security     SecurityConfig     `mapstructure:"security"`
	Logging      LoggingConfig      `mapstructure:"logging"`
	Upstream     UpstreamConfig     `mapstructure:"upstream"`
	TokenRefresh TokenRefreshConfig `mapstructure:"token_refresh"`
	Metrics      MetricsConfig      `mapstructure:"metrics"`
}

type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Mode         string        `mapstructure:"mode"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type SecurityConfig struct {
	APIKey         string   `mapstructure:"api_key"`
	EnableCORS     bool     `mapstructure:"enable_cors"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type LoggingConfig struct {
	Level         string `mapstructure:"level"`
	Format        string `mapstructure:"format"`
	Output        string `mapstructure:"output"`
	ConsoleOutput bool   `mapstructure:"console_output"`
	MaxSize       int    `mapstructure:"max_size"`
	MaxBackups    int    `mapstructure:"max_backups"`
	MaxAge        int    `mapstructure:"max_age"`
	Compress      bool   `mapstructure:"compress"`
}

// UpstreamConfig points at the watsonx.ai AI service deployment.
// The four identity fields are normally supplied through the environment
// (DEPLOYMENT_ID, SPACE_ID, APIKEY, WATSONX_URL).
type UpstreamConfig struct {
	DeploymentID  string        `mapstructure:"deployment_id"`
	SpaceID       string        `mapstructure:"space_id"`
	APIKey        string        `mapstructure:"api_key"`
	URL           string        `mapstructure:"url"`
	IAMURL        string        `mapstructure:"iam_url"`
	ModelLabel    string        `mapstructure:"model_label"`
	Timeout       time.Duration `mapstructure:"timeout"`
	StreamTimeout time.Duration `mapstructure:"stream_timeout"`
}

type TokenRefreshConfig struct {
	Threshold  time.Duration `mapstructure:"threshold"`
	RetryCount int           `mapstructure:"retry_count"`
	RetryDelay time.Duration `mapstructure:"retry_delay"`
}

type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Path      string `mapstructure:"path"`
	Namespace string `mapstructure:"namespace"`
}

// Load loads the configuration from file and environment
func Load() (*Config, error) {
	var cfg Config

	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	setDefaults(&cfg)

	// zero is a valid retry count, so only an absent key takes the default
	if viper.IsSet("token_refresh.retry_count") {
		cfg.TokenRefresh.RetryCount = viper.GetInt("token_refresh.retry_count")
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Mode == "" {
		cfg.Server.Mode = "release"
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	// WriteTimeout stays zero unless configured: streamed responses can
	// outlive any fixed write deadline, upstream.stream_timeout bounds them.

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "logs/gateway.log"
	}
	cfg.Logging.ConsoleOutput = true
	if cfg.Logging.MaxSize == 0 {
		cfg.Logging.MaxSize = 100
	}
	if cfg.Logging.MaxBackups == 0 {
		cfg.Logging.MaxBackups = 10
	}
	if cfg.Logging.MaxAge == 0 {
		cfg.Logging.MaxAge = 30
	}

	if cfg.Upstream.IAMURL == "" {
		cfg.Upstream.IAMURL = "https://iam.cloud.ibm.com/identity/token"
	}
	if cfg.Upstream.ModelLabel == "" {
		cfg.Upstream.ModelLabel = "wx.ai AI service"
	}
	if cfg.Upstream.Timeout == 0 {
		cfg.Upstream.Timeout = 120 * time.Second
	}
	if cfg.Upstream.StreamTimeout == 0 {
		cfg.Upstream.StreamTimeout = 10 * time.Minute
	}

	// IAM tokens live for an hour; refresh a little before that
	if cfg.TokenRefresh.Threshold == 0 {
		cfg.TokenRefresh.Threshold = 3500 * time.Second
	}
	if cfg.TokenRefresh.RetryCount == 0 {
		cfg.TokenRefresh.RetryCount = 2
	}
	if cfg.TokenRefresh.RetryDelay == 0 {
		cfg.TokenRefresh.RetryDelay = 500 * time.Millisecond
	}

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = "wxgateway"
	}
}

func validate(cfg *Config) error {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", cfg.Server.Port)
	}
	if cfg.TokenRefresh.RetryCount < 0 {
		return fmt.Errorf("invalid token_refresh.retry_count: %d", cfg.TokenRefresh.RetryCount)
	}
	return nil
}

// ValidateUpstream reports which upstream settings are missing. The server
// and the token command need them; other commands do not.
func (c *Config) ValidateUpstream() error {
	var errs []error
	if c.Upstream.DeploymentID == "" {
		errs = append(errs, errors.New("upstream.deployment_id (DEPLOYMENT_ID) is required"))
	}
	if c.Upstream.APIKey == "" {
		errs = append(errs, errors.New("upstream.api_key (APIKEY) is required"))
	}
	if c.Upstream.URL == "" {
		errs = append(errs, errors.New("upstream.url (WATSONX_URL) is required"))
	}
	return errors.Join(errs...)
}
