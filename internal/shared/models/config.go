package models

import "time"

type ServiceConfig struct {
	Name           string        `yaml:"name"`
	Port           string        `yaml:"port"`
	RequestTimeout time.Duration `yaml:"request_timeout" split_words:"true"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type StorageConfig struct {
	Driver string `yaml:"driver"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	MaxConns int32  `yaml:"max_conns" split_words:"true"`
}

type RabbitMQConfig struct {
	Host               string `yaml:"host"`
	Port               string `yaml:"port"`
	User               string `yaml:"user"`
	Password           string `yaml:"password"`
	Exchange           string `yaml:"exchange"`
	Queue              string `yaml:"queue"`
	DeadLetterExchange string `yaml:"dead_letter_exchange" split_words:"true"`
	DeadLetterQueue    string `yaml:"dead_letter_queue" split_words:"true"`
	Prefetch           int    `yaml:"prefetch"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" envconfig:"JWT_SECRET"`
}

type IngestConfig struct {
	MaxAttempts    int           `yaml:"max_attempts" split_words:"true"`
	InitialBackoff time.Duration `yaml:"initial_backoff" split_words:"true"`
	MaxBackoff     time.Duration `yaml:"max_backoff" split_words:"true"`
}

type PublishConfig struct {
	MaxAttempts    int           `yaml:"max_attempts" split_words:"true"`
	InitialBackoff time.Duration `yaml:"initial_backoff" split_words:"true"`
	MaxBackoff     time.Duration `yaml:"max_backoff" split_words:"true"`
	Timeout        time.Duration `yaml:"timeout"`
	RelayInterval  time.Duration `yaml:"relay_interval" split_words:"true"`
	RelayBatch     int           `yaml:"relay_batch" split_words:"true"`
}

type Config struct {
	Service  ServiceConfig  `yaml:"service"`
	Log      LogConfig      `yaml:"log"`
	Storage  StorageConfig  `yaml:"storage"`
	Database DatabaseConfig `yaml:"database"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
	Auth     AuthConfig     `yaml:"auth"`
	Ingest   IngestConfig   `yaml:"ingest"`
	Publish  PublishConfig  `yaml:"publish"`
}
