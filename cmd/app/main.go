package main

import (
	"flag"
	"log"
	"os"

	"github.com/joho/godotenv"

	"TradePilot/internal/di"
	"TradePilot/pkg/config"
)

func main() {
	// Optional .env for local development
	_ = godotenv.Load()

	// Parse flags
	configPath := flag.String("config", "config/config.yaml", "config file path")
	flag.Parse()

	// Load config
	cfg, err := config.LoadWithEnv(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	log.Printf("env=%s account=%s symbols=%v", cfg.Environment, cfg.Account.ID, cfg.Trading.Symbols)

	// Wire DI: Initialize all dependencies
	app, err := di.InitializeApp(cfg)
	if err != nil {
		log.Fatalf("app initialization failed: %v", err)
	}

	log.Printf("clickhouse: db=%s kafka: brokers=%v ticks=%s", cfg.ClickHouse.Database, cfg.Kafka.Brokers, cfg.Kafka.TickTopic)

	// Run application (blocks until signal)
	if err := app.Run(); err != nil {
		log.Printf("app error: %v", err)
		os.Exit(1)
	}
}
