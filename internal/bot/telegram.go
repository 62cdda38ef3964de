package bot

import (
	"context"
	"fmt"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"wisefido-ventilation/internal/commands"
)

// Sender outbound half of the bot API
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramBot long-polls updates and maps chat commands onto commands.Service
type TelegramBot struct {
	api     *tgbotapi.BotAPI
	sender  Sender
	cmds    *commands.Service
	allowed map[int64]bool
	logger  *zap.Logger
}

func NewTelegramBot(token string, allowedChatIDs []int64, cmds *commands.Service, logger *zap.Logger) (*TelegramBot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}
	b := newBot(api, cmds, allowedChatIDs, logger)
	b.api = api
	logger.Info("Telegram bot authorized", zap.String("username", api.Self.UserName))
	return b, nil
}

func newBot(sender Sender, cmds *commands.Service, allowedChatIDs []int64, logger *zap.Logger) *TelegramBot {
	allowed := make(map[int64]bool, len(allowedChatIDs))
	for _, id := range allowedChatIDs {
		allowed[id] = true
	}
	if len(allowed) == 0 {
		logger.Warn("No TELEGRAM_ALLOWED_CHAT_IDS configured, accepting every chat")
	}
	return &TelegramBot{
		sender:  sender,
		cmds:    cmds,
		allowed: allowed,
		logger:  logger,
	}
}

// Run polls until ctx is cancelled
func (b *TelegramBot) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := b.api.GetUpdatesChan(u)

	b.logger.Info("Telegram bot started")
	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			b.logger.Info("Telegram bot stopped")
			return nil
		case upd, ok := <-updates:
			if !ok {
				return nil
			}
			b.handleUpdate(ctx, upd)
		}
	}
}

func (b *TelegramBot) handleUpdate(ctx context.Context, upd tgbotapi.Update) {
	msg := upd.Message
	if msg == nil || msg.Chat == nil {
		return
	}
	chatID := msg.Chat.ID
	if !b.chatAllowed(chatID) {
		b.logger.Warn("Ignoring message from unauthorized chat", zap.Int64("chat_id", chatID))
		return
	}

	userID, name := strconv.FormatInt(chatID, 10), ""
	if msg.From != nil {
		userID = strconv.FormatInt(msg.From.ID, 10)
		name = msg.From.FirstName
		if name == "" {
			name = msg.From.UserName
		}
	}

	reply := b.Handle(ctx, chatID, userID, name, msg.Text)
	if reply == "" {
		return
	}
	b.reply(chatID, reply)
}

func (b *TelegramBot) chatAllowed(chatID int64) bool {
	return len(b.allowed) == 0 || b.allowed[chatID]
}

func (b *TelegramBot) reply(chatID int64, text string) {
	if _, err := b.sender.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		b.logger.Error("Failed to send Telegram reply",
			zap.Int64("chat_id", chatID),
			zap.Error(err),
		)
	}
}

// Notify sends an unsolicited message to every allowed chat
func (b *TelegramBot) Notify(text string) {
	for id := range b.allowed {
		b.reply(id, text)
	}
}
