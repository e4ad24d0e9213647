// Package config содержит логику чтения конфигурации сервиса MediMind.
package config

import (
	"flag"
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	defaultRunAddress    = "localhost:8080"
	defaultMongoDatabase = "medimind"
	defaultKafkaTopic    = "medimind.sales"
)

// Config содержит параметры конфигурации сервиса MediMind.
type Config struct {
	RunAddress    string   `env:"RUN_ADDRESS"`
	DatabaseURI   string   `env:"DATABASE_URI"`
	MongoURI      string   `env:"MONGO_URI"`
	MongoDatabase string   `env:"MONGO_DATABASE"`
	JWTSecret     string   `env:"JWT_SECRET"`
	KafkaBrokers  []string `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaTopic    string   `env:"KAFKA_TOPIC"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
// Переменные окружения имеют приоритет над флагами. Файл .env, если он есть,
// дополняет окружение, не перезаписывая уже заданные переменные.
func Parse() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envCfg := *cfg

	var brokers string
	flag.StringVar(&cfg.RunAddress, "a", defaultRunAddress, "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "PostgreSQL URI")
	flag.StringVar(&cfg.MongoURI, "m", "", "MongoDB URI")
	flag.StringVar(&cfg.MongoDatabase, "mdb", defaultMongoDatabase, "MongoDB database name")
	flag.StringVar(&cfg.JWTSecret, "s", "", "JWT signing secret")
	flag.StringVar(&brokers, "k", "", "comma-separated Kafka brokers")
	flag.StringVar(&cfg.KafkaTopic, "t", defaultKafkaTopic, "Kafka topic for sale events")

	flag.Parse()

	cfg.KafkaBrokers = splitList(brokers)

	if envCfg.RunAddress != "" {
		cfg.RunAddress = envCfg.RunAddress
	}
	if envCfg.DatabaseURI != "" {
		cfg.DatabaseURI = envCfg.DatabaseURI
	}
	if envCfg.MongoURI != "" {
		cfg.MongoURI = envCfg.MongoURI
	}
	if envCfg.MongoDatabase != "" {
		cfg.MongoDatabase = envCfg.MongoDatabase
	}
	if envCfg.JWTSecret != "" {
		cfg.JWTSecret = envCfg.JWTSecret
	}
	if len(envCfg.KafkaBrokers) > 0 {
		cfg.KafkaBrokers = splitList(strings.Join(envCfg.KafkaBrokers, ","))
	}
	if envCfg.KafkaTopic != "" {
		cfg.KafkaTopic = envCfg.KafkaTopic
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = defaultRunAddress
	}
	if cfg.MongoDatabase == "" {
		cfg.MongoDatabase = defaultMongoDatabase
	}
	if cfg.KafkaTopic == "" {
		cfg.KafkaTopic = defaultKafkaTopic
	}

	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
