package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"
	"github.com/sirupsen/logrus"

	"github.com/irfndi/celebrum-correlation/internal/models"
	"github.com/irfndi/celebrum-correlation/internal/utils"
)

// maxAlertLines bounds how many changes one alert lists.
const maxAlertLines = 10

// Notifier is told about the changes of every analysis cycle.
type Notifier interface {
	NotifyChanges(ctx context.Context, changes []models.ChangeRecord) error
}

// MessageSender is the part of the Telegram bot API the notifier needs.
type MessageSender interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*tgmodels.Message, error)
}

// NotificationService posts high-correlation transitions to a Telegram chat.
type NotificationService struct {
	sender MessageSender
	chatID int64
	logger *logrus.Logger
}

// NewNotificationService creates a notifier backed by a Telegram bot.
func NewNotificationService(botToken string, chatID int64, logger *logrus.Logger) (*NotificationService, error) {
	if botToken == "" {
		return nil, fmt.Errorf("telegram bot token is required")
	}
	b, err := bot.New(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	return NewNotificationServiceWithSender(b, chatID, logger), nil
}

// NewNotificationServiceWithSender creates a notifier with an explicit sender.
func NewNotificationServiceWithSender(sender MessageSender, chatID int64, logger *logrus.Logger) *NotificationService {
	if logger == nil {
		logger = logrus.New()
	}
	return &NotificationService{sender: sender, chatID: chatID, logger: logger}
}

// isAlertworthy reports whether a change crosses the high-correlation boundary.
func isAlertworthy(t models.ChangeType) bool {
	switch t {
	case models.ChangeNewHigh, models.ChangeLostHigh, models.ChangeHighToLow, models.ChangeLowToHigh:
		return true
	}
	return false
}

// NotifyChanges sends one message summarizing the boundary crossings among changes.
func (ns *NotificationService) NotifyChanges(ctx context.Context, changes []models.ChangeRecord) error {
	alerts := make([]models.ChangeRecord, 0, len(changes))
	for _, c := range changes {
		if isAlertworthy(c.ChangeType) {
			alerts = append(alerts, c)
		}
	}
	if len(alerts) == 0 {
		return nil
	}

	_, err := ns.sender.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:    ns.chatID,
		Text:      FormatChangeMessage(alerts),
		ParseMode: tgmodels.ParseModeMarkdown,
	})
	if err != nil {
		return fmt.Errorf("failed to send telegram message: %v: %w", err, utils.ErrTransient)
	}

	ns.logger.WithFields(logrus.Fields{
		"chat_id": ns.chatID,
		"alerts":  len(alerts),
	}).Info("Sent correlation change alert")
	return nil
}

// FormatChangeMessage renders the Markdown alert text.
func FormatChangeMessage(changes []models.ChangeRecord) string {
	var sb strings.Builder
	sb.WriteString("📊 *Correlation Changes*\n\n")
	fmt.Fprintf(&sb, "%d pair(s) crossed the high-correlation boundary:\n\n", len(changes))

	shown := changes
	if len(shown) > maxAlertLines {
		shown = shown[:maxAlertLines]
	}
	for i, c := range shown {
		icon := "🔗"
		if c.ChangeType == models.ChangeLostHigh || c.ChangeType == models.ChangeHighToLow {
			icon = "✂️"
		}
		fmt.Fprintf(&sb, "%s *%d. %s / %s*\n", icon, i+1, c.Coin1, c.Coin2)
		fmt.Fprintf(&sb, "%s: %s → %s\n\n", c.Status, formatCorrelation(c.PreviousCorrelation), formatCorrelation(c.CurrentCorrelation))
	}
	if len(changes) > maxAlertLines {
		fmt.Fprintf(&sb, "...and %d more\n", len(changes)-maxAlertLines)
	}
	return sb.String()
}

func formatCorrelation(v *float64) string {
	if v == nil {
		return "n/a"
	}
	return fmt.Sprintf("%.4f", *v)
}
