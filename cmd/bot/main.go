package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/vitos/spot_support_bot/internal/domain"
	"github.com/vitos/spot_support_bot/internal/infrastructure/exchange"
	"github.com/vitos/spot_support_bot/internal/infrastructure/logger"
	"github.com/vitos/spot_support_bot/internal/infrastructure/storage"
	"github.com/vitos/spot_support_bot/internal/usecase"
	"github.com/vitos/spot_support_bot/internal/web"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

type Config struct {
	AccountID string `yaml:"account_id"`
	Database  struct {
		Path string `yaml:"path"`
	} `yaml:"database"`
	Exchange struct {
		Name         string `yaml:"name"`
		RESTEndpoint string `yaml:"rest_endpoint"`
		WSEndpoint   string `yaml:"ws_endpoint"`
	} `yaml:"exchange"`
	Logging struct {
		Level string `yaml:"level"`
		File  string `yaml:"file"`
	} `yaml:"logging"`
	Server struct {
		Port int `yaml:"port"`
	} `yaml:"server"`
	// Trading seeds the account configuration on first run. After that the
	// database copy is authoritative and is edited over the HTTP API.
	Trading domain.TradingConfiguration `yaml:"trading"`
}

func loadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// seedTradingConfig writes the yaml trading defaults into storage if the
// account has no configuration yet. An existing row is never overwritten.
func seedTradingConfig(ctx context.Context, store *storage.SQLiteStore, accountID string, defaults domain.TradingConfiguration) error {
	_, err := store.LoadConfig(ctx, accountID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return err
	}

	defaults.AccountID = accountID
	defaults.UpdatedAt = time.Now().UTC()
	if err := defaults.Validate(); err != nil {
		return fmt.Errorf("seed trading config: %w", err)
	}
	return store.SaveConfig(ctx, &defaults)
}

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to yaml config")
	flag.Parse()

	// Secrets come from the environment; .env is optional.
	_ = godotenv.Load()

	// 1. Load Config
	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if cfg.AccountID == "" {
		fmt.Println("account_id must be set in config")
		os.Exit(1)
	}

	// 2. Init Logger
	var log *zap.Logger
	if cfg.Logging.File != "" {
		log, err = logger.NewFileLogger(cfg.Logging.File, cfg.Logging.Level)
	} else {
		log, err = logger.NewLogger(cfg.Logging.Level)
	}
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// 3. Init Storage
	dbPath := cfg.Database.Path
	if dbPath == "" {
		dbPath = "bot.db"
	}
	store, err := storage.NewSQLiteStore(dbPath)
	if err != nil {
		log.Fatal("Failed to init sqlite", zap.Error(err))
	}
	defer store.Close()

	// 4. Init Exchange (Bybit)
	apiKey := os.Getenv("BYBIT_API_KEY")
	apiSecret := os.Getenv("BYBIT_API_SECRET")
	if apiKey == "" || apiSecret == "" {
		log.Fatal("BYBIT_API_KEY and BYBIT_API_SECRET must be set")
	}
	bybitAdapter := exchange.NewBybitAdapter(apiKey, apiSecret, cfg.Exchange.RESTEndpoint, cfg.Exchange.WSEndpoint, log)

	// 5. Seed trading configuration on first run
	ctx := context.Background()
	if err := seedTradingConfig(ctx, store, cfg.AccountID, cfg.Trading); err != nil {
		log.Fatal("Failed to seed trading config", zap.Error(err))
	}

	// 6. Init Engine
	events := usecase.NewActivityLogger(store, log)
	registry := usecase.NewEngineRegistry(usecase.EngineDeps{
		Config:    store,
		Exchange:  bybitAdapter,
		Samples:   store,
		Signals:   store,
		Positions: store,
		Events:    events,
		Logger:    log,
	})

	if err := registry.StartEngine(ctx, cfg.AccountID); err != nil {
		if errors.Is(err, domain.ErrConfigInactive) {
			log.Warn("Trading config is inactive, engine not started; enable it over the API and POST /engine/start",
				zap.String("account_id", cfg.AccountID))
		} else {
			log.Fatal("Failed to start engine", zap.Error(err))
		}
	}

	// 7. Init Web Server
	port := cfg.Server.Port
	if port == 0 {
		port = 8080 // Default
	}
	server := web.NewServer(port, registry, store, store, store, store, cfg.AccountID, log)

	go func() {
		if err := server.Start(); err != nil {
			log.Fatal("Web server failed", zap.Error(err))
		}
	}()

	// 8. Wait for Shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Info("Shutting down")
	registry.StopAll()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Web server shutdown failed", zap.Error(err))
	}
}
