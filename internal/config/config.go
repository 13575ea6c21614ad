package config

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration (file + env overrides)
type Config struct {
	Server struct {
		Addr     string `mapstructure:"addr"`
		LogLevel string `mapstructure:"log_level"`
	} `mapstructure:"server"`

	Storage struct {
		Driver string `mapstructure:"driver"` // "memory" | "postgres"
	} `mapstructure:"storage"`

	Postgres struct {
		Host         string `mapstructure:"host"`
		Port         int    `mapstructure:"port"`
		User         string `mapstructure:"user"`
		Password     string `mapstructure:"password"`
		DBName       string `mapstructure:"db_name"`
		SSLMode      string `mapstructure:"ssl_mode"`
		MaxOpenConns int    `mapstructure:"max_open_conns"`
		MaxIdleConns int    `mapstructure:"max_idle_conns"`
	} `mapstructure:"postgres"`

	Listener struct {
		Channel          string `mapstructure:"channel"`
		ReconnectSeconds int    `mapstructure:"reconnect_seconds"`
	} `mapstructure:"listener"`

	Browser struct {
		ControlURL     string   `mapstructure:"control_url"`
		Bin            string   `mapstructure:"bin"`
		Headless       bool     `mapstructure:"headless"`
		Flags          []string `mapstructure:"flags"`
		HostURL        string   `mapstructure:"host_url"`
		LoadTimeoutMs  int      `mapstructure:"load_timeout_ms"`
		PollIntervalMs int      `mapstructure:"poll_interval_ms"`
		SettleMs       int      `mapstructure:"settle_ms"`
	} `mapstructure:"browser"`

	Agent struct {
		Mode string `mapstructure:"mode"` // "local" | "remote"
		URL  string `mapstructure:"url"`
		Addr string `mapstructure:"addr"`
	} `mapstructure:"agent"`

	Campaign struct {
		MaxTargets  int    `mapstructure:"max_targets"`
		HostPattern string `mapstructure:"host_pattern"`
	} `mapstructure:"campaign"`
}

func Load() Config {
	v := viper.New()
	v.SetConfigName("application")
	v.SetConfigType("yaml")
	v.AddConfigPath("configs")
	_ = v.ReadInConfig() // optional; env can fully configure

	// APP_STORAGE_DRIVER -> storage.driver
	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnv(v, reflect.TypeOf(Config{}), "")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Errorf("unable to decode config: %w", err))
	}
	validate(&cfg)
	return cfg
}

// bindEnv registers every mapstructure key so Unmarshal sees env values for
// keys the config file does not mention.
func bindEnv(v *viper.Viper, t reflect.Type, prefix string) {
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		key := prefix + f.Tag.Get("mapstructure")
		if f.Type.Kind() == reflect.Struct {
			bindEnv(v, f.Type, key+".")
			continue
		}
		_ = v.BindEnv(key)
	}
}

// Defaults returns a Config with every default applied and nothing read from
// disk or env.
func Defaults() Config {
	var cfg Config
	validate(&cfg)
	return cfg
}

func validate(c *Config) {
	if c.Server.Addr == "" { c.Server.Addr = ":8080" }
	if c.Storage.Driver == "" { c.Storage.Driver = "memory" }
	if c.Postgres.Port == 0 { c.Postgres.Port = 5432 }
	if c.Postgres.SSLMode == "" { c.Postgres.SSLMode = "disable" }
	if c.Postgres.MaxOpenConns == 0 { c.Postgres.MaxOpenConns = 4 }
	if c.Postgres.MaxIdleConns == 0 { c.Postgres.MaxIdleConns = 1 }
	if c.Listener.Channel == "" { c.Listener.Channel = "kv_changed" }
	if c.Listener.ReconnectSeconds <= 0 { c.Listener.ReconnectSeconds = 5 }
	if c.Browser.HostURL == "" { c.Browser.HostURL = "https://www.instagram.com/" }
	if c.Browser.LoadTimeoutMs <= 0 { c.Browser.LoadTimeoutMs = 30000 }
	if c.Browser.PollIntervalMs <= 0 { c.Browser.PollIntervalMs = 500 }
	if c.Browser.SettleMs < 0 { c.Browser.SettleMs = 0 }
	if c.Browser.SettleMs == 0 { c.Browser.SettleMs = 2000 }
	if c.Agent.Mode == "" { c.Agent.Mode = "local" }
	if c.Agent.Addr == "" { c.Agent.Addr = ":8090" }
	if c.Campaign.MaxTargets <= 0 { c.Campaign.MaxTargets = 5 }
	if c.Campaign.HostPattern == "" { c.Campaign.HostPattern = "instagram.com/" }
}

func (c Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Postgres.User,
		c.Postgres.Password,
		c.Postgres.Host,
		c.Postgres.Port,
		c.Postgres.DBName,
		c.Postgres.SSLMode,
	)
}

func (c Config) Backoff() time.Duration { return time.Duration(c.Listener.ReconnectSeconds) * time.Second }

func (c Config) LoadTimeout() time.Duration { return ms(c.Browser.LoadTimeoutMs) }

func (c Config) PollInterval() time.Duration { return ms(c.Browser.PollIntervalMs) }

func (c Config) Settle() time.Duration { return ms(c.Browser.SettleMs) }

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }
