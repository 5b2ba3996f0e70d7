package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/mikeka317/wager-arbiter/models"
	"gopkg.in/telebot.v3"
)

// Notifier доставляет оповещения операторам. Ошибка доставки не отменяет запись оповещения.
type Notifier interface {
	Notify(ctx context.Context, alert *models.OperatorAlert) error
}

// LogNotifier только пишет оповещение в лог.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(ctx context.Context, alert *models.OperatorAlert) error {
	n.logger.WarnContext(ctx, "operator alert raised",
		slog.String("alert_id", alert.ID),
		slog.String("kind", string(alert.Kind)),
		slog.String("match_id", deref(alert.MatchID)),
		slog.String("tournament_id", deref(alert.TournamentID)),
		slog.String("details", alert.Details),
	)
	return nil
}

type sender interface {
	Send(to telebot.Recipient, what interface{}, opts ...interface{}) (*telebot.Message, error)
}

// TelegramNotifier отправляет оповещения в админский чат Telegram.
type TelegramNotifier struct {
	bot    sender
	chat   *telebot.Chat
	mu     sync.Mutex
	logger *slog.Logger
}

func NewTelegramNotifier(token string, chatID int64, logger *slog.Logger) (*TelegramNotifier, error) {
	if token == "" || chatID == 0 {
		return nil, errors.New("telegram notifier requires bot token and admin chat id")
	}
	// Offline: бот только отправляет сообщения, getMe и поллинг не нужны.
	b, err := telebot.NewBot(telebot.Settings{
		Token:   token,
		Offline: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}
	return &TelegramNotifier{bot: b, chat: &telebot.Chat{ID: chatID}, logger: logger}, nil
}

func (n *TelegramNotifier) Notify(ctx context.Context, alert *models.OperatorAlert) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	_, err := n.bot.Send(n.chat, FormatAlert(alert), &telebot.SendOptions{
		ParseMode:             telebot.ModeMarkdown,
		DisableWebPagePreview: true,
	})
	if err != nil {
		n.logger.ErrorContext(ctx, "failed to send telegram alert",
			slog.String("alert_id", alert.ID), slog.Any("error", err))
		return fmt.Errorf("failed to send telegram alert %s: %w", alert.ID, err)
	}
	return nil
}

// FormatAlert - текст сообщения для оператора.
func FormatAlert(alert *models.OperatorAlert) string {
	var b strings.Builder
	fmt.Fprintf(&b, "⚠️ *%s*\n", strings.ReplaceAll(string(alert.Kind), "_", " "))
	if alert.MatchID != nil {
		fmt.Fprintf(&b, "Match: `%s`\n", *alert.MatchID)
	}
	if alert.TournamentID != nil {
		fmt.Fprintf(&b, "Tournament: `%s`\n", *alert.TournamentID)
	}
	fmt.Fprintf(&b, "\n%s\n\nAlert: `%s`", alert.Details, alert.ID)
	return b.String()
}

// Fanout рассылает оповещение всем получателям и объединяет ошибки.
type Fanout []Notifier

func (f Fanout) Notify(ctx context.Context, alert *models.OperatorAlert) error {
	var errs []error
	for _, n := range f {
		if err := n.Notify(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
