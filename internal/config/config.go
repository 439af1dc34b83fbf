package config

import (
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	JWT      JWTConfig      `yaml:"jwt"`
	Auth     AuthConfig     `yaml:"auth"`
	Log      LogConfig      `yaml:"log"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port string `yaml:"port"`
	Mode string `yaml:"mode"` // debug, release, test
}

type DatabaseConfig struct {
	Driver string `yaml:"driver"` // sqlite, mysql, postgres
	DSN    string `yaml:"dsn"`
}

type JWTConfig struct {
	Secret            string `yaml:"secret"`
	AccessExpireMin   int    `yaml:"access_expire_minutes"`
	RefreshExpireHour int    `yaml:"refresh_expire_hours"`
}

// AuthConfig holds session lifecycle knobs outside the codec itself.
type AuthConfig struct {
	StoreTimeoutMs  int     `yaml:"store_timeout_ms"`
	RetentionDays   int     `yaml:"retention_days"`
	CleanupSchedule string  `yaml:"cleanup_schedule"` // cron expression
	LoginRateLimit  float64 `yaml:"login_rate_limit"` // requests per second per IP
	LoginRateBurst  int     `yaml:"login_rate_burst"`
}

type LogConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

var GlobalConfig *Config

func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}

	var cfg *Config

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg = DefaultConfig()
	} else {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, err
		}

		var fileCfg Config
		if err := yaml.Unmarshal(data, &fileCfg); err != nil {
			return nil, err
		}
		cfg = &fileCfg
	}

	cfg.applyDefaults()
	cfg.overrideFromEnv()
	GlobalConfig = cfg
	return cfg, nil
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: "8080",
			Mode: "debug",
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "newsplatform.db",
		},
		JWT: JWTConfig{
			Secret:            "newsplatform-secret-key-change-in-production",
			AccessExpireMin:   60,
			RefreshExpireHour: 168,
		},
		Auth: AuthConfig{
			StoreTimeoutMs:  2000,
			RetentionDays:   30,
			CleanupSchedule: "30 3 * * *",
			LoginRateLimit:  1,
			LoginRateBurst:  5,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// applyDefaults fills zero values left by a partial config file.
func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.Server.Host == "" {
		c.Server.Host = def.Server.Host
	}
	if c.Server.Port == "" {
		c.Server.Port = def.Server.Port
	}
	if c.Server.Mode == "" {
		c.Server.Mode = def.Server.Mode
	}
	if c.Database.Driver == "" {
		c.Database.Driver = def.Database.Driver
	}
	if c.Database.DSN == "" {
		c.Database.DSN = def.Database.DSN
	}
	if c.JWT.Secret == "" {
		c.JWT.Secret = def.JWT.Secret
	}
	if c.JWT.AccessExpireMin <= 0 {
		c.JWT.AccessExpireMin = def.JWT.AccessExpireMin
	}
	if c.JWT.RefreshExpireHour <= 0 {
		c.JWT.RefreshExpireHour = def.JWT.RefreshExpireHour
	}
	if c.Auth.StoreTimeoutMs <= 0 {
		c.Auth.StoreTimeoutMs = def.Auth.StoreTimeoutMs
	}
	if c.Auth.RetentionDays <= 0 {
		c.Auth.RetentionDays = def.Auth.RetentionDays
	}
	if c.Auth.CleanupSchedule == "" {
		c.Auth.CleanupSchedule = def.Auth.CleanupSchedule
	}
	if c.Auth.LoginRateLimit <= 0 {
		c.Auth.LoginRateLimit = def.Auth.LoginRateLimit
	}
	if c.Auth.LoginRateBurst <= 0 {
		c.Auth.LoginRateBurst = def.Auth.LoginRateBurst
	}
	if c.Log.Level == "" {
		c.Log.Level = def.Log.Level
	}
}

func (c *Config) overrideFromEnv() {
	if host := os.Getenv("SERVER_HOST"); host != "" {
		c.Server.Host = host
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		c.Server.Port = port
	}
	if mode := os.Getenv("SERVER_MODE"); mode != "" {
		c.Server.Mode = mode
	}
	if driver := os.Getenv("DB_DRIVER"); driver != "" {
		c.Database.Driver = driver
	}
	if dsn := os.Getenv("DB_DSN"); dsn != "" {
		c.Database.DSN = dsn
	}
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		c.JWT.Secret = secret
	}
	if v := envInt("JWT_ACCESS_EXPIRE_MINUTES"); v > 0 {
		c.JWT.AccessExpireMin = v
	}
	if v := envInt("JWT_REFRESH_EXPIRE_HOURS"); v > 0 {
		c.JWT.RefreshExpireHour = v
	}
	if v := envInt("AUTH_RETENTION_DAYS"); v > 0 {
		c.Auth.RetentionDays = v
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		c.Log.Level = level
	}
}

func envInt(key string) int {
	raw := os.Getenv(key)
	if raw == "" {
		return 0
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return v
}

func (c *Config) Save(configPath string) error {
	if configPath == "" {
		configPath = "config.yaml"
	}

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(configPath, data, 0644)
}
