// 应用配置：config/config.yaml + NOBG_ 前缀的环境变量
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server ServerConfig `mapstructure:"server"`
	App    AppConfig    `mapstructure:"app"`
	Log    LogConfig    `mapstructure:"log"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            string        `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// MaxRequestBytes 整个请求体的上限，0 表示 max_size_bytes + 1MB（multipart 头部开销）
	MaxRequestBytes int64  `mapstructure:"max_request_bytes"`
	SessionSecret   string `mapstructure:"session_secret"`
}

type AppConfig struct {
	AllowedExtensions []string `mapstructure:"allowed_extensions"`
	MaxSizeBytes      int64    `mapstructure:"max_size_bytes"`
	// MaxPixels 宽 x 高的上限，超过时不解码像素
	MaxPixels int64 `mapstructure:"max_pixels"`
	Threshold         int      `mapstructure:"threshold"`
	PreviewSize       int      `mapstructure:"preview_size"`
	StatsCron         string   `mapstructure:"stats_cron"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Default 默认配置，和原来的 Flask 版本保持一致
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            "5000",
			Mode:            "debug",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    60 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			SessionSecret:   "dev-secret-key-change-in-production",
		},
		App: AppConfig{
			AllowedExtensions: []string{"png", "jpg", "jpeg", "gif", "bmp", "webp"},
			MaxSizeBytes:      16 << 20,
			MaxPixels:         1024 * 1024 * 1024 / 4 / 3,
			Threshold:         240,
			PreviewSize:       256,
			StatsCron:         "@every 1m",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.mode", d.Server.Mode)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.idle_timeout", d.Server.IdleTimeout)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)
	v.SetDefault("server.max_request_bytes", d.Server.MaxRequestBytes)
	v.SetDefault("server.session_secret", d.Server.SessionSecret)
	v.SetDefault("app.allowed_extensions", d.App.AllowedExtensions)
	v.SetDefault("app.max_size_bytes", d.App.MaxSizeBytes)
	v.SetDefault("app.max_pixels", d.App.MaxPixels)
	v.SetDefault("app.threshold", d.App.Threshold)
	v.SetDefault("app.preview_size", d.App.PreviewSize)
	v.SetDefault("app.stats_cron", d.App.StatsCron)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
}

// LoadConfig 读取 <dir>/config.yaml，文件不存在时只用默认值和环境变量
func LoadConfig(dir string) (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v)

	v.AddConfigPath(dir)
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.SetEnvPrefix("NOBG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// 兼容原来的 SESSION_SECRET
	if err := v.BindEnv("server.session_secret", "NOBG_SERVER_SESSION_SECRET", "SESSION_SECRET"); err != nil {
		return nil, err
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	return v, nil
}

func ParseConfig(v *viper.Viper) (*Config, error) {
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	if c.Server.MaxRequestBytes == 0 {
		c.Server.MaxRequestBytes = c.App.MaxSizeBytes + 1<<20
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) Validate() error {
	if c.App.Threshold < 0 || c.App.Threshold > 255 {
		return fmt.Errorf("app.threshold must be within 0-255, got %d", c.App.Threshold)
	}
	if c.App.MaxSizeBytes <= 0 {
		return fmt.Errorf("app.max_size_bytes must be positive, got %d", c.App.MaxSizeBytes)
	}
	if c.App.MaxPixels <= 0 {
		return fmt.Errorf("app.max_pixels must be positive, got %d", c.App.MaxPixels)
	}
	if c.Server.MaxRequestBytes < c.App.MaxSizeBytes {
		return fmt.Errorf("server.max_request_bytes (%d) must not be less than app.max_size_bytes (%d)",
			c.Server.MaxRequestBytes, c.App.MaxSizeBytes)
	}
	if len(c.App.AllowedExtensions) == 0 {
		return errors.New("app.allowed_extensions must not be empty")
	}
	if c.Server.Port == "" {
		return errors.New("server.port is required")
	}
	return nil
}

func (c *ServerConfig) Addr() string {
	return c.Host + ":" + c.Port
}
