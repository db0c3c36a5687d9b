package config

import (
	"log"

	"github.com/spf13/viper"
)

type Database struct {
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	SSLMode  string `mapstructure:"ssl-mode"`
}

type KafkaWriter struct {
	BatchSize      int `mapstructure:"batch-size"`
	BatchTimeoutMs int `mapstructure:"batch-timeout-ms"`
}

type KafkaBroker struct {
	URL string `mapstructure:"url"`
}

type KafkaTopic struct {
	GatewayEvents string `mapstructure:"gateway-events"`
}

type Kafka struct {
	Writer KafkaWriter `mapstructure:"writer"`
	Broker KafkaBroker `mapstructure:"broker"`
	Topic  KafkaTopic  `mapstructure:"topic"`
}

type Outbox struct {
	PollingIntervalMs   int `mapstructure:"polling-interval-ms"`
	FetchSize           int `mapstructure:"fetch-size"`
	RetryPublishDelayMs int `mapstructure:"retry-publish-delay-ms"`
	MaxPublishAttempts  int `mapstructure:"max-publish-attempts"`
}

type Recovery struct {
	MaxVoidAttempts   int `mapstructure:"max-void-attempts"`
	VoidBackoffBaseMs int `mapstructure:"void-backoff-base-ms"`
	InquiryTimeoutMs  int `mapstructure:"inquiry-timeout-ms"`
}

type Reconciler struct {
	IntervalMs   int `mapstructure:"interval-ms"`
	LookbackDays int `mapstructure:"lookback-days"`
}

type Provider struct {
	Code      string `mapstructure:"code"`
	BaseURL   string `mapstructure:"base-url"`
	TimeoutMs int    `mapstructure:"timeout-ms"`
}

type Server struct {
	Port string `mapstructure:"port"`
}

type Metrics struct {
	URL          string `mapstructure:"url"`
	IntervalMs   int    `mapstructure:"interval-ms"`
	CommonLabels string `mapstructure:"common-labels"`
}

type Logs struct {
	URL string `mapstructure:"url"`
}

type Config struct {
	Database   Database   `mapstructure:"database"`
	Kafka      Kafka      `mapstructure:"kafka"`
	Outbox     Outbox     `mapstructure:"outbox"`
	Recovery   Recovery   `mapstructure:"recovery"`
	Reconciler Reconciler `mapstructure:"reconciler"`
	Providers  []Provider `mapstructure:"providers"`
	Server     Server     `mapstructure:"server"`
	Metrics    Metrics    `mapstructure:"metrics"`
	Logs       Logs       `mapstructure:"logs"`
}

func LoadConfig(path string) (*Config, error) {
	viper.AddConfigPath(path)
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		return nil, err
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func MustLoadConfig(path string) *Config {
	config, err := LoadConfig(path)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	return config
}
