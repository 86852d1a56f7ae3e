package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"trading-journal-bot/internal/bot"
	"trading-journal-bot/internal/config"
	"trading-journal-bot/internal/database"
	"trading-journal-bot/internal/logger"
	"trading-journal-bot/internal/store"
	"trading-journal-bot/internal/telegram"

	"go.uber.org/zap"
)

func main() {
	// Load application configuration. A missing bot token is fatal here,
	// before any session can exist.
	cfg, err := config.LoadConfig("./configs")
	if err != nil {
		// We can't use the logger here because it's not initialized yet.
		panic(fmt.Sprintf("could not load config: %v", err))
	}

	// Initialize logger
	log, err := logger.NewLogger(cfg.Logger.Level, cfg.Logger.Format)
	if err != nil {
		panic(err)
	}
	defer log.Sync()
	log.Info("Configuration loaded")

	loc, err := time.LoadLocation(cfg.Telegram.Timezone)
	if err != nil {
		log.Fatal("Invalid timezone", zap.String("timezone", cfg.Telegram.Timezone), zap.Error(err))
	}

	// Initialize database
	db, err := database.NewDatabase(cfg.Database.DSN)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	log.Info("Database connection successful and schema migrated.")

	// Initialize Telegram client and verify the token works.
	client := telegram.NewClient(cfg.Telegram.Token, log)
	me, err := client.GetMe(context.Background())
	if err != nil {
		log.Fatal("Failed to connect to Telegram", zap.Error(err))
	}
	log.Info("Connected to Telegram", zap.String("bot", me.Username))

	// Setup context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		sigchan := make(chan os.Signal, 1)
		signal.Notify(sigchan, syscall.SIGINT, syscall.SIGTERM)
		<-sigchan
		log.Info("Shutdown signal received, gracefully shutting down...")
		cancel()
	}()

	tradeStore := store.NewTradeStore(db)

	var wg sync.WaitGroup
	digest := bot.NewDigest(log, tradeStore, tradeStore, client, cfg.Digest.Hour, loc)
	wg.Add(1)
	go func() {
		defer wg.Done()
		digest.Run(ctx)
	}()

	journalBot := bot.New(log, client, tradeStore, bot.DefaultSessionTimeout)
	journalBot.Run(ctx)
	wg.Wait()

	log.Info("Bot has been shut down.")
}
