package telegram

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// MenuOption is one inline button: a visible label and the callback payload
// routed back through Handlers.OnCallback.
type MenuOption struct {
	Label string
	Data  string
}

type Bot struct {
	api *tgbotapi.BotAPI
}

type CommandUpdate struct {
	ChatID   int64
	UserID   int64
	Username string
	Command  string
	Args     string
}

// MessageUpdate is any non-command private message: the raw material of the
// relay. ReplyToMsgID is the sender-local id of the quoted message, if any.
type MessageUpdate struct {
	ChatID       int64
	UserID       int64
	Username     string
	MessageID    int64
	Text         string
	ReplyToMsgID int64
	IsMedia      bool
}

type CallbackUpdate struct {
	CallbackID string
	ChatID     int64
	UserID     int64
	Username   string
	MessageID  int64
	Data       string
}

type Handlers struct {
	OnCommand  func(context.Context, CommandUpdate) error
	OnMessage  func(context.Context, MessageUpdate) error
	OnCallback func(context.Context, CallbackUpdate) error
}

func NewBot(token string) (*Bot, error) {
	if strings.TrimSpace(token) == "" {
		return nil, fmt.Errorf("telegram bot token is empty")
	}

	api, err := tgbotapi.NewBotAPI(strings.TrimSpace(token))
	if err != nil {
		return nil, fmt.Errorf("create telegram bot api: %w", err)
	}

	return &Bot{api: api}, nil
}

func (b *Bot) Username() string {
	if b == nil || b.api == nil {
		return ""
	}
	return b.api.Self.UserName
}

func (b *Bot) Listen(ctx context.Context, handlers Handlers) error {
	if b == nil || b.api == nil {
		return fmt.Errorf("telegram bot is not initialized")
	}

	updateCfg := tgbotapi.NewUpdate(0)
	updateCfg.Timeout = 30
	updates := b.api.GetUpdatesChan(updateCfg)
	defer b.api.StopReceivingUpdates()

	for {
		select {
		case <-ctx.Done():
			return nil
		case update := <-updates:
			if update.Message != nil && update.Message.From != nil && update.Message.Chat.IsPrivate() {
				if update.Message.IsCommand() {
					if handlers.OnCommand == nil {
						continue
					}
					err := handlers.OnCommand(ctx, CommandUpdate{
						ChatID:   update.Message.Chat.ID,
						UserID:   update.Message.From.ID,
						Username: update.Message.From.UserName,
						Command:  update.Message.Command(),
						Args:     update.Message.CommandArguments(),
					})
					if err != nil {
						return err
					}
					continue
				}

				if handlers.OnMessage != nil {
					msg := MessageUpdate{
						ChatID:    update.Message.Chat.ID,
						UserID:    update.Message.From.ID,
						Username:  update.Message.From.UserName,
						MessageID: int64(update.Message.MessageID),
						Text:      update.Message.Text,
						IsMedia:   hasMedia(update.Message),
					}
					if update.Message.ReplyToMessage != nil {
						msg.ReplyToMsgID = int64(update.Message.ReplyToMessage.MessageID)
					}
					if err := handlers.OnMessage(ctx, msg); err != nil {
						return err
					}
				}
			}

			if update.CallbackQuery != nil && update.CallbackQuery.From != nil && handlers.OnCallback != nil {
				var chatID int64
				var messageID int64
				if update.CallbackQuery.Message != nil {
					chatID = update.CallbackQuery.Message.Chat.ID
					messageID = int64(update.CallbackQuery.Message.MessageID)
				}
				err := handlers.OnCallback(ctx, CallbackUpdate{
					CallbackID: update.CallbackQuery.ID,
					ChatID:     chatID,
					UserID:     update.CallbackQuery.From.ID,
					Username:   update.CallbackQuery.From.UserName,
					MessageID:  messageID,
					Data:       update.CallbackQuery.Data,
				})
				if err != nil {
					return err
				}
			}
		}
	}
}

// Deliver copies a message to the recipient without exposing the sender.
// replyToMsgID, when non-zero, is a recipient-local id to thread under.
func (b *Bot) Deliver(ctx context.Context, toUserID, fromUserID, messageID, replyToMsgID int64) (int64, error) {
	if b == nil || b.api == nil {
		return 0, fmt.Errorf("telegram bot is not initialized")
	}

	cfg := tgbotapi.NewCopyMessage(toUserID, fromUserID, int(messageID))
	if replyToMsgID > 0 {
		cfg.ReplyToMessageID = int(replyToMsgID)
	}

	sent, err := b.api.CopyMessage(cfg)
	if err != nil {
		return 0, fmt.Errorf("copy message to %d: %w", toUserID, err)
	}

	return int64(sent.MessageID), nil
}

func (b *Bot) Notify(ctx context.Context, userID int64, text string) (int64, error) {
	if b == nil || b.api == nil {
		return 0, fmt.Errorf("telegram bot is not initialized")
	}
	if userID == 0 {
		return 0, fmt.Errorf("user id is required")
	}

	msg := tgbotapi.NewMessage(userID, text)
	sent, err := b.api.Send(msg)
	if err != nil {
		return 0, fmt.Errorf("send telegram message: %w", err)
	}

	return int64(sent.MessageID), nil
}

// NotifyClosing sends a notice and removes the in-chat reply keyboard.
func (b *Bot) NotifyClosing(ctx context.Context, userID int64, text string) (int64, error) {
	if b == nil || b.api == nil {
		return 0, fmt.Errorf("telegram bot is not initialized")
	}

	msg := tgbotapi.NewMessage(userID, text)
	msg.ReplyMarkup = tgbotapi.NewRemoveKeyboard(false)
	sent, err := b.api.Send(msg)
	if err != nil {
		return 0, fmt.Errorf("send closing message: %w", err)
	}

	return int64(sent.MessageID), nil
}

// SendChatControls attaches the persistent Next/Stop reply keyboard shown
// for the duration of a conversation.
func (b *Bot) SendChatControls(ctx context.Context, userID int64, text string) (int64, error) {
	if b == nil || b.api == nil {
		return 0, fmt.Errorf("telegram bot is not initialized")
	}

	msg := tgbotapi.NewMessage(userID, text)
	msg.ReplyMarkup = tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(NextButton),
			tgbotapi.NewKeyboardButton(StopButton),
		),
	)
	sent, err := b.api.Send(msg)
	if err != nil {
		return 0, fmt.Errorf("send chat controls: %w", err)
	}

	return int64(sent.MessageID), nil
}

func (b *Bot) PresentMenu(ctx context.Context, userID int64, text string, options []MenuOption) (int64, error) {
	if b == nil || b.api == nil {
		return 0, fmt.Errorf("telegram bot is not initialized")
	}

	msg := tgbotapi.NewMessage(userID, text)
	msg.ReplyMarkup = inlineKeyboard(options)
	sent, err := b.api.Send(msg)
	if err != nil {
		return 0, fmt.Errorf("present menu: %w", err)
	}

	return int64(sent.MessageID), nil
}

func (b *Bot) EditMenu(ctx context.Context, userID, messageID int64, text string, options []MenuOption) error {
	if b == nil || b.api == nil {
		return fmt.Errorf("telegram bot is not initialized")
	}

	edit := tgbotapi.NewEditMessageText(userID, int(messageID), text)
	keyboard := inlineKeyboard(options)
	edit.ReplyMarkup = &keyboard
	if _, err := b.api.Send(edit); err != nil {
		return fmt.Errorf("edit menu: %w", err)
	}

	return nil
}

func (b *Bot) DeleteMessage(ctx context.Context, userID, messageID int64) error {
	if b == nil || b.api == nil {
		return fmt.Errorf("telegram bot is not initialized")
	}

	if _, err := b.api.Request(tgbotapi.NewDeleteMessage(userID, int(messageID))); err != nil {
		return fmt.Errorf("delete message: %w", err)
	}

	return nil
}

func (b *Bot) Pin(ctx context.Context, userID, messageID int64) error {
	if b == nil || b.api == nil {
		return fmt.Errorf("telegram bot is not initialized")
	}

	cfg := tgbotapi.PinChatMessageConfig{
		ChatID:              userID,
		MessageID:           int(messageID),
		DisableNotification: true,
	}
	if _, err := b.api.Request(cfg); err != nil {
		return fmt.Errorf("pin message: %w", err)
	}

	return nil
}

func (b *Bot) Unpin(ctx context.Context, userID, messageID int64) error {
	if b == nil || b.api == nil {
		return fmt.Errorf("telegram bot is not initialized")
	}

	cfg := tgbotapi.UnpinChatMessageConfig{
		ChatID:    userID,
		MessageID: int(messageID),
	}
	if _, err := b.api.Request(cfg); err != nil {
		return fmt.Errorf("unpin message: %w", err)
	}

	return nil
}

// SendPhoto uploads an in-memory PNG, used for invite QR codes.
func (b *Bot) SendPhoto(ctx context.Context, userID int64, name string, png []byte, caption string) (int64, error) {
	if b == nil || b.api == nil {
		return 0, fmt.Errorf("telegram bot is not initialized")
	}

	photo := tgbotapi.NewPhoto(userID, tgbotapi.FileBytes{Name: name, Bytes: png})
	photo.Caption = caption
	sent, err := b.api.Send(photo)
	if err != nil {
		return 0, fmt.Errorf("send photo: %w", err)
	}

	return int64(sent.MessageID), nil
}

func (b *Bot) AnswerCallback(ctx context.Context, callbackID, text string) error {
	if b == nil || b.api == nil {
		return fmt.Errorf("telegram bot is not initialized")
	}
	if strings.TrimSpace(callbackID) == "" {
		return nil
	}

	cfg := tgbotapi.NewCallback(callbackID, text)
	if _, err := b.api.Request(cfg); err != nil {
		return fmt.Errorf("answer callback query: %w", err)
	}

	return nil
}

const (
	NextButton = "➡️ Next"
	StopButton = "🛑 Stop"
)

func inlineKeyboard(options []MenuOption) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(options))
	for _, opt := range options {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(opt.Label, opt.Data),
		))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func hasMedia(msg *tgbotapi.Message) bool {
	if msg == nil {
		return false
	}
	return len(msg.Photo) > 0 || msg.Video != nil || msg.Voice != nil ||
		msg.VideoNote != nil || msg.Document != nil || msg.Sticker != nil ||
		msg.Animation != nil
}
