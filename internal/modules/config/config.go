package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v2"
)

const (
	configFilePathENV = "CONFIG_FILE"
	configDir         = "configs/"
	envPrefix         = "ZW"
)

// Config ...
type Config struct {
	DB string `yaml:"db_dsn"`

	Telegram struct {
		Token string `yaml:"token"`
	} `yaml:"telegram"`

	Kite struct {
		APIKey      string `yaml:"api_key" validate:"required"`
		AccessToken string `yaml:"access_token" validate:"required"`
		WSURL       string `yaml:"ws_url" validate:"required,url"`
		APIURL      string `yaml:"api_url" validate:"required,url"`

		// реконнект внутри одной сессии фида
		ReconnectMaxAttempts int           `yaml:"reconnect_max_attempts" validate:"gte=0"`
		ReconnectMinDelay    time.Duration `yaml:"reconnect_min_delay"`
		ReconnectMaxDelay    time.Duration `yaml:"reconnect_max_delay"`
		PingInterval         time.Duration `yaml:"ping_interval"`
	} `yaml:"kite"`

	Market struct {
		Timezone     string        `yaml:"timezone" validate:"required"`
		Open         string        `yaml:"open" validate:"required"`
		Close        string        `yaml:"close" validate:"required"`
		Holidays     []string      `yaml:"holidays"`
		CandleWindow time.Duration `yaml:"candle_window" validate:"gte=0"`
		HistorySize  int           `yaml:"history_size" validate:"gte=0"`
	} `yaml:"market"`

	Runner struct {
		Poll             time.Duration `yaml:"poll"`
		ConnectGrace     time.Duration `yaml:"connect_grace"`
		LoginAttempts    int           `yaml:"login_attempts" validate:"gte=0"`
		LoginRetryDelay  time.Duration `yaml:"login_retry_delay"`
		LoginBackoff     time.Duration `yaml:"login_backoff"`
		MaxFaults        int           `yaml:"max_faults" validate:"gte=0"`
		FaultBackoff     time.Duration `yaml:"fault_backoff"`
		LongFaultBackoff time.Duration `yaml:"long_fault_backoff"`
		MaxSleep         time.Duration `yaml:"max_sleep"`
		FlushInterval    time.Duration `yaml:"flush_interval"`
		StatsInterval    time.Duration `yaml:"stats_interval"`
	} `yaml:"runner"`

	Health struct {
		Addr string `yaml:"addr"`
	} `yaml:"health"`

	Tracing struct {
		Enabled bool   `yaml:"enabled"`
		Host    string `yaml:"host" validate:"required_if=Enabled true"`
		Port    int    `yaml:"port" validate:"required_if=Enabled true"`
	} `yaml:"tracing"`

	Log struct {
		Level string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	} `yaml:"log"`
}

// Location — часовой пояс биржи.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Market.Timezone)
}

func defaults() Config {
	var c Config
	c.Kite.WSURL = "wss://ws.kite.trade"
	c.Kite.APIURL = "https://api.kite.trade"
	c.Kite.ReconnectMaxAttempts = 50
	c.Kite.ReconnectMinDelay = time.Second
	c.Kite.ReconnectMaxDelay = time.Minute
	c.Kite.PingInterval = 20 * time.Second
	c.Market.Timezone = "Asia/Kolkata"
	c.Market.Open = "09:15"
	c.Market.Close = "15:30"
	c.Market.CandleWindow = 5 * time.Second
	c.Market.HistorySize = 20
	c.Runner.FlushInterval = time.Second
	c.Runner.StatsInterval = 30 * time.Second
	c.Health.Addr = ":8080"
	c.Log.Level = "info"
	return c
}

func NewConfig() (*Config, error) {
	_ = godotenv.Load()

	configFileName := os.Getenv(configFilePathENV)
	if configFileName == "" {
		configFileName = "values_local.yaml"
	}
	return Load(configDir + configFileName)
}

// Load читает yaml, накладывает переменные окружения ZW_* и валидирует результат.
func Load(path string) (cfg *Config, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("config.Load %s: %w", path, err)
		}
	}()

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	c := defaults()
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return nil, err
	}

	applyEnv(&c, newEnv())

	if err := validator.New().Struct(&c); err != nil {
		return nil, err
	}
	if _, err := c.Location(); err != nil {
		return nil, err
	}
	return &c, nil
}

func newEnv() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func applyEnv(c *Config, v *viper.Viper) {
	override := func(key string, dst *string) {
		if s := v.GetString(key); s != "" {
			*dst = s
		}
	}
	override("database_dsn", &c.DB)
	override("telegram_token", &c.Telegram.Token)
	override("kite_api_key", &c.Kite.APIKey)
	override("kite_access_token", &c.Kite.AccessToken)
	override("log_level", &c.Log.Level)
	override("health_addr", &c.Health.Addr)
}
