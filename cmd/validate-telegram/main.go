// Command validate-telegram checks the change alert configuration and prints
// a preview of the alert message without sending it.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"
	"github.com/joho/godotenv"

	"github.com/irfndi/celebrum-correlation/internal/config"
	"github.com/irfndi/celebrum-correlation/internal/models"
	"github.com/irfndi/celebrum-correlation/internal/services"
)

// botInfo is the part of the bot API the check needs.
type botInfo interface {
	GetMe(ctx context.Context) (*tgmodels.User, error)
}

func main() {
	if err := godotenv.Load(); err != nil {
		fmt.Printf("⚠️  Warning: Could not load .env file: %v\n", err)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("❌ Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	newBot := func(token string) (botInfo, error) { return bot.New(token) }
	if err := validate(ctx, cfg.Telegram, newBot, os.Stdout); err != nil {
		fmt.Printf("❌ %v\n", err)
		os.Exit(1)
	}
}

func validate(ctx context.Context, cfg config.TelegramConfig, newBot func(string) (botInfo, error), out io.Writer) error {
	fmt.Fprintln(out, "🔧 Validating Telegram alert configuration...")

	if cfg.BotToken == "" {
		return errors.New("TELEGRAM_BOT_TOKEN is not configured")
	}
	fmt.Fprintf(out, "✅ TELEGRAM_BOT_TOKEN is configured (length: %d)\n", len(cfg.BotToken))

	if cfg.ChatID == 0 {
		fmt.Fprintln(out, "⚠️  TELEGRAM_CHAT_ID is not configured, alerts stay disabled")
	} else {
		fmt.Fprintf(out, "✅ TELEGRAM_CHAT_ID is configured: %d\n", cfg.ChatID)
	}

	b, err := newBot(cfg.BotToken)
	if err != nil {
		return fmt.Errorf("failed to create Telegram bot: %w", err)
	}

	me, err := b.GetMe(ctx)
	if err != nil {
		return fmt.Errorf("failed to get bot info: %w", err)
	}
	fmt.Fprintf(out, "✅ Bot API connection successful: @%s (ID %d)\n", me.Username, me.ID)

	fmt.Fprintln(out, "\nAlert preview:")
	fmt.Fprintln(out, services.FormatChangeMessage(sampleChanges()))
	return nil
}

func sampleChanges() []models.ChangeRecord {
	cur := 0.8421
	prev := 0.9133
	return []models.ChangeRecord{
		{
			Coin1:              "BTCUSDT",
			Coin2:              "ETHUSDT",
			CurrentCorrelation: &cur,
			ChangeType:         models.ChangeNewHigh,
			Status:             services.StatusText(models.ChangeNewHigh, 0, cur),
		},
		{
			Coin1:               "BNBUSDT",
			Coin2:               "SOLUSDT",
			PreviousCorrelation: &prev,
			ChangeType:          models.ChangeLostHigh,
			Status:              services.StatusText(models.ChangeLostHigh, prev, 0),
		},
	}
}
