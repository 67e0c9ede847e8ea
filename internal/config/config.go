package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	MySQL     MySQLConfig     `mapstructure:"mysql"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Etcd      EtcdConfig      `mapstructure:"etcd"`
	Workers   WorkersConfig   `mapstructure:"workers"`
	Stream    StreamConfig    `mapstructure:"stream"`
	Identity  IdentityConfig  `mapstructure:"identity"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
}

type ServerConfig struct {
	Environment string `mapstructure:"environment"`
	Port        string `mapstructure:"port"`
}

type MySQLConfig struct {
	DSN string `mapstructure:"dsn"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type EtcdConfig struct {
	Endpoints   []string      `mapstructure:"endpoints"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

type WorkersConfig struct {
	OutboxInterval     time.Duration `mapstructure:"outbox_interval"`
	ReconcilerInterval time.Duration `mapstructure:"reconciler_interval"`
}

type StreamConfig struct {
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	HubBufferSize     int           `mapstructure:"hub_buffer_size"`
}

// IdentityConfig holds the HS256 key used to verify optional identity
// tokens on the evaluate endpoint. Empty key disables token support.
type IdentityConfig struct {
	SigningKey string `mapstructure:"signing_key"`
}

type RateLimitConfig struct {
	RequestsPerSecond int `mapstructure:"requests_per_second"`
}

func Load() *Config {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	viper.SetEnvPrefix("TOGGLR")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		// Missing config file is fine, env vars can carry everything
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			panic(err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		panic(err)
	}

	return &cfg
}
