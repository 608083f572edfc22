package gateway

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rahul/handsfree/internal/agent"
	"github.com/rahul/handsfree/internal/observability"
	"go.uber.org/zap"
)

// telegramBot is the part of *tgbotapi.BotAPI the gateway uses.
type telegramBot interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	StopReceivingUpdates()
}

type TelegramGateway struct {
	Bot       telegramBot
	Handler   Handler
	AllowFrom []string
	Logger    *observability.Logger

	wg sync.WaitGroup
}

func NewTelegramGateway(token string, handler Handler, allowFrom []string, logger *observability.Logger) (*TelegramGateway, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	logger.Zap().Info("telegram authorized", zap.String("account", bot.Self.UserName))

	return &TelegramGateway{
		Bot:       bot,
		Handler:   handler,
		AllowFrom: allowFrom,
		Logger:    logger,
	}, nil
}

// Start handles each message on its own goroutine so a kill switch can
// reach a chat whose previous command is still running.
func (tg *TelegramGateway) Start(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := tg.Bot.GetUpdatesChan(u)
	defer tg.wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.Message == nil || update.Message.Text == "" {
				continue
			}
			chatID := strconv.FormatInt(update.Message.Chat.ID, 10)
			if !allowed(tg.AllowFrom, chatID) {
				tg.Logger.Zap().Warn("telegram chat not allowed", zap.String("chat_id", chatID))
				continue
			}
			text := update.Message.Text
			tg.wg.Go(func() {
				out := tg.Handler.Handle(ctx, agent.Command{ChatID: chatID, Source: "telegram", Text: text})
				if err := tg.Send(chatID, out.Reply); err != nil {
					tg.Logger.Zap().Warn("telegram reply failed", zap.String("chat_id", chatID), zap.Error(err))
				}
			})
		}
	}
}

func (tg *TelegramGateway) Send(chatID string, text string) error {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil || id == 0 {
		return fmt.Errorf("invalid chat ID: %s", chatID)
	}

	msg := tgbotapi.NewMessage(id, text)
	_, err = tg.Bot.Send(msg)
	return err
}

func (tg *TelegramGateway) Stop() error {
	tg.Bot.StopReceivingUpdates()
	return nil
}
