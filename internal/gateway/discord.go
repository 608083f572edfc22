package gateway

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"
	"github.com/rahul/handsfree/internal/agent"
	"github.com/rahul/handsfree/internal/observability"
	"go.uber.org/zap"
)

// Discord caps message content at 2000 characters.
const discordMaxMessage = 2000

type discordSession interface {
	AddHandler(handler interface{}) func()
	Open() error
	Close() error
	ChannelMessageSend(channelID string, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

type DiscordGateway struct {
	Session   discordSession
	Handler   Handler
	AllowFrom []string
	Logger    *observability.Logger

	wg sync.WaitGroup
}

func NewDiscordGateway(token string, handler Handler, allowFrom []string, logger *observability.Logger) (*DiscordGateway, error) {
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("discord: %w", err)
	}
	s.Identify.Intents = discordgo.IntentGuildMessages | discordgo.IntentDirectMessages | discordgo.IntentMessageContent
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &DiscordGateway{Session: s, Handler: handler, AllowFrom: allowFrom, Logger: logger}, nil
}

func (d *DiscordGateway) Start(ctx context.Context) error {
	remove := d.Session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		if m.Author == nil || m.Author.Bot {
			return
		}
		if s.State != nil && s.State.User != nil && m.Author.ID == s.State.User.ID {
			return
		}
		d.onMessage(ctx, m.ChannelID, m.Author.ID, m.Content)
	})
	defer remove()

	if err := d.Session.Open(); err != nil {
		return fmt.Errorf("discord: open session: %w", err)
	}
	d.Logger.Zap().Info("discord gateway connected")

	<-ctx.Done()
	d.wg.Wait()
	return nil
}

func (d *DiscordGateway) onMessage(ctx context.Context, channelID, authorID, content string) {
	text := strings.TrimSpace(content)
	if text == "" {
		return
	}
	if !allowed(d.AllowFrom, authorID) {
		d.Logger.Zap().Warn("discord user not allowed", zap.String("user_id", authorID))
		return
	}
	d.wg.Go(func() {
		out := d.Handler.Handle(ctx, agent.Command{ChatID: channelID, Source: "discord", Text: text})
		if err := d.Send(channelID, out.Reply); err != nil {
			d.Logger.Zap().Warn("discord reply failed", zap.String("channel_id", channelID), zap.Error(err))
		}
	})
}

func (d *DiscordGateway) Send(chatID string, text string) error {
	if chatID == "" {
		return fmt.Errorf("invalid channel ID")
	}
	if len(text) > discordMaxMessage {
		text = text[:discordMaxMessage-3] + "..."
	}
	_, err := d.Session.ChannelMessageSend(chatID, text)
	return err
}

func (d *DiscordGateway) Stop() error {
	return d.Session.Close()
}
