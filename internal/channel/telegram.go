package channel

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	log "github.com/sirupsen/logrus"

	"github.com/stellarlinkco/chatkeeper/internal/bus"
	"github.com/stellarlinkco/chatkeeper/internal/config"
)

const telegramChannelName = "telegram"

// Telegram has a 4096 char limit per message
const telegramMaxLen = 4000

// TelegramBot interface for mocking telegram bot API
type TelegramBot interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetSelf() tgbotapi.User
}

// tgBotWrapper wraps tgbotapi.BotAPI to implement TelegramBot interface
type tgBotWrapper struct {
	bot *tgbotapi.BotAPI
}

func (w *tgBotWrapper) GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return w.bot.GetUpdatesChan(config)
}

func (w *tgBotWrapper) StopReceivingUpdates() {
	w.bot.StopReceivingUpdates()
}

func (w *tgBotWrapper) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	return w.bot.Send(c)
}

func (w *tgBotWrapper) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	return w.bot.Request(c)
}

func (w *tgBotWrapper) GetSelf() tgbotapi.User {
	return w.bot.Self
}

// BotFactory creates TelegramBot instances (allows mocking)
type BotFactory func(token, apiEndpoint string, client *http.Client) (TelegramBot, error)

var defaultBotFactory BotFactory = func(token, apiEndpoint string, client *http.Client) (TelegramBot, error) {
	bot, err := tgbotapi.NewBotAPIWithClient(token, apiEndpoint, client)
	if err != nil {
		return nil, err
	}
	return &tgBotWrapper{bot: bot}, nil
}

type TelegramChannel struct {
	BaseChannel
	token      string
	bot        TelegramBot
	proxy      string
	cancel     context.CancelFunc
	botFactory BotFactory
}

func NewTelegramChannel(cfg config.TelegramConfig, b *bus.MessageBus) (*TelegramChannel, error) {
	return NewTelegramChannelWithFactory(cfg, b, defaultBotFactory)
}

// NewTelegramChannelWithFactory creates a TelegramChannel with custom bot factory (for testing)
func NewTelegramChannelWithFactory(cfg config.TelegramConfig, b *bus.MessageBus, factory BotFactory) (*TelegramChannel, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("telegram token is required")
	}

	return &TelegramChannel{
		BaseChannel: NewBaseChannel(telegramChannelName, b, cfg.AllowFrom),
		token:       cfg.Token,
		proxy:       cfg.Proxy,
		botFactory:  factory,
	}, nil
}

func (t *TelegramChannel) initBot() error {
	client := http.DefaultClient
	if t.proxy != "" {
		proxyURL, err := url.Parse(t.proxy)
		if err != nil {
			return fmt.Errorf("parse proxy url: %w", err)
		}
		client = &http.Client{
			Transport: &http.Transport{Proxy: http.ProxyURL(proxyURL)},
		}
	}

	bot, err := t.botFactory(t.token, tgbotapi.APIEndpoint, client)
	if err != nil {
		return fmt.Errorf("create telegram bot: %w", err)
	}
	t.bot = bot
	log.Printf("[telegram] authorized as @%s", bot.GetSelf().UserName)
	return nil
}

func (t *TelegramChannel) Start(ctx context.Context) error {
	if err := t.initBot(); err != nil {
		return err
	}

	ctx, t.cancel = context.WithCancel(ctx)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	u.AllowedUpdates = []string{"message", "callback_query", "my_chat_member"}
	updates := t.bot.GetUpdatesChan(u)

	go func() {
		for {
			select {
			case update, ok := <-updates:
				if !ok {
					return
				}
				t.handleUpdate(update)
			case <-ctx.Done():
				return
			}
		}
	}()

	log.Printf("[telegram] polling started")
	return nil
}

func (t *TelegramChannel) handleUpdate(update tgbotapi.Update) {
	switch {
	case update.Message != nil:
		t.handleMessage(update.Message)
	case update.CallbackQuery != nil:
		t.handleCallback(update.CallbackQuery)
	case update.MyChatMember != nil:
		t.handleMembership(update.MyChatMember)
	}
}

func (t *TelegramChannel) handleMessage(msg *tgbotapi.Message) {
	if msg.From == nil || msg.Chat == nil {
		return
	}
	senderID := strconv.FormatInt(msg.From.ID, 10)
	chatID := strconv.FormatInt(msg.Chat.ID, 10)

	if !t.IsAllowed(senderID, chatID) {
		log.Printf("[telegram] rejected message from %s (%s) in %s", senderID, msg.From.UserName, chatID)
		return
	}

	// only text is logged
	if strings.TrimSpace(msg.Text) == "" {
		return
	}

	inbound := bus.InboundMessage{
		Channel:   telegramChannelName,
		Kind:      bus.EventMessage,
		ChatID:    msg.Chat.ID,
		MessageID: msg.MessageID,
		UserID:    msg.From.ID,
		Username:  msg.From.UserName,
		FullName:  fullName(msg.From),
		Text:      msg.Text,
		Timestamp: time.Unix(int64(msg.Date), 0).UTC(),
	}
	if msg.IsCommand() {
		inbound.Kind = bus.EventCommand
		inbound.Command = msg.Command()
		inbound.Args = strings.Fields(msg.CommandArguments())
	}
	t.bus.Inbound <- inbound
}

func (t *TelegramChannel) handleCallback(q *tgbotapi.CallbackQuery) {
	if q.Message == nil || q.Message.Chat == nil {
		return
	}
	var senderID string
	if q.From != nil {
		senderID = strconv.FormatInt(q.From.ID, 10)
	}
	chatID := strconv.FormatInt(q.Message.Chat.ID, 10)
	if !t.IsAllowed(senderID, chatID) {
		log.Printf("[telegram] rejected callback from %s in %s", senderID, chatID)
		return
	}

	inbound := bus.InboundMessage{
		Channel:      telegramChannelName,
		Kind:         bus.EventCallback,
		ChatID:       q.Message.Chat.ID,
		MessageID:    q.Message.MessageID,
		CallbackID:   q.ID,
		CallbackData: q.Data,
		Timestamp:    time.Now().UTC(),
	}
	if q.From != nil {
		inbound.UserID = q.From.ID
		inbound.Username = q.From.UserName
		inbound.FullName = fullName(q.From)
	}
	t.bus.Inbound <- inbound
}

func (t *TelegramChannel) handleMembership(u *tgbotapi.ChatMemberUpdated) {
	was := isMemberStatus(u.OldChatMember.Status)
	is := isMemberStatus(u.NewChatMember.Status)
	if was == is {
		return
	}
	senderID := strconv.FormatInt(u.From.ID, 10)
	chatID := strconv.FormatInt(u.Chat.ID, 10)
	if !t.IsAllowed(senderID, chatID) {
		log.Printf("[telegram] rejected membership change by %s in %s", senderID, chatID)
		return
	}
	t.bus.Inbound <- bus.InboundMessage{
		Channel:   telegramChannelName,
		Kind:      bus.EventMembership,
		ChatID:    u.Chat.ID,
		UserID:    u.From.ID,
		Username:  u.From.UserName,
		FullName:  fullName(&u.From),
		Timestamp: time.Unix(int64(u.Date), 0).UTC(),
		WasMember: was,
		IsMember:  is,
	}
}

func isMemberStatus(status string) bool {
	switch status {
	case "member", "administrator", "creator":
		return true
	}
	return false
}

func fullName(u *tgbotapi.User) string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

func (t *TelegramChannel) Stop() error {
	if t.cancel != nil {
		t.cancel()
	}
	if t.bot != nil {
		t.bot.StopReceivingUpdates()
	}
	log.Printf("[telegram] stopped")
	return nil
}

// SetBot sets the bot (for testing)
func (t *TelegramChannel) SetBot(bot TelegramBot) {
	t.bot = bot
}

func (t *TelegramChannel) Send(msg bus.OutboundMessage) error {
	if t.bot == nil {
		return fmt.Errorf("telegram bot not initialized")
	}

	if msg.CallbackID != "" {
		if _, err := t.bot.Request(tgbotapi.NewCallback(msg.CallbackID, "")); err != nil {
			log.Printf("[telegram] answer callback %s failed: %v", msg.CallbackID, err)
		}
	}

	switch {
	case msg.EditMessageID != 0:
		edit := tgbotapi.NewEditMessageText(msg.ChatID, msg.EditMessageID, msg.Text)
		edit.ParseMode = msg.ParseMode
		if _, err := t.bot.Send(edit); err != nil {
			return fmt.Errorf("edit telegram message: %w", err)
		}
		return nil
	case len(msg.Photo) > 0:
		name := msg.PhotoName
		if name == "" {
			name = "image.png"
		}
		photo := tgbotapi.NewPhoto(msg.ChatID, tgbotapi.FileBytes{Name: name, Bytes: msg.Photo})
		photo.Caption = msg.Text
		photo.ReplyToMessageID = msg.ReplyTo
		if _, err := t.bot.Send(photo); err != nil {
			return fmt.Errorf("send telegram photo: %w", err)
		}
		return nil
	case msg.Text == "":
		return nil
	}

	return t.sendText(msg)
}

func (t *TelegramChannel) sendText(msg bus.OutboundMessage) error {
	parseMode := msg.ParseMode
	content := msg.Text
	if parseMode == "" {
		parseMode = tgbotapi.ModeHTML
		content = toTelegramHTML(msg.Text)
	}

	chunks := splitMessage(content, telegramMaxLen)
	for i, chunk := range chunks {
		tgMsg := tgbotapi.NewMessage(msg.ChatID, chunk)
		tgMsg.ParseMode = parseMode
		if i == 0 {
			tgMsg.ReplyToMessageID = msg.ReplyTo
		}
		if i == len(chunks)-1 && len(msg.Buttons) > 0 {
			tgMsg.ReplyMarkup = keyboard(msg.Buttons)
		}
		if _, err := t.bot.Send(tgMsg); err != nil {
			// Retry the whole message as plain text
			log.Printf("[telegram] formatted send failed, retrying as plain text: %v", err)
			return t.sendPlain(msg)
		}
	}
	return nil
}

func (t *TelegramChannel) sendPlain(msg bus.OutboundMessage) error {
	chunks := splitMessage(msg.Text, telegramMaxLen)
	for i, chunk := range chunks {
		tgMsg := tgbotapi.NewMessage(msg.ChatID, chunk)
		if i == 0 {
			tgMsg.ReplyToMessageID = msg.ReplyTo
		}
		if i == len(chunks)-1 && len(msg.Buttons) > 0 {
			tgMsg.ReplyMarkup = keyboard(msg.Buttons)
		}
		if _, err := t.bot.Send(tgMsg); err != nil {
			return fmt.Errorf("send telegram message: %w", err)
		}
	}
	return nil
}

func keyboard(buttons []bus.Button) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(buttons))
	for _, b := range buttons {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData(b.Text, b.Data)))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

// splitMessage cuts s into chunks of at most maxLen bytes, preferring to split
// at the last newline.
func splitMessage(s string, maxLen int) []string {
	var chunks []string
	for len(s) > 0 {
		chunk := s
		if len(chunk) > maxLen {
			idx := strings.LastIndex(chunk[:maxLen], "\n")
			if idx > 0 {
				chunk = chunk[:idx]
			} else {
				chunk = chunk[:maxLen]
			}
		}
		s = s[len(chunk):]
		chunks = append(chunks, chunk)
	}
	return chunks
}

// toTelegramHTML converts basic markdown to Telegram HTML.
func toTelegramHTML(s string) string {
	// Escape HTML entities first
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")

	// Code blocks: ```...``` -> <pre>...</pre>
	for {
		start := strings.Index(s, "```")
		if start == -1 {
			break
		}
		end := strings.Index(s[start+3:], "```")
		if end == -1 {
			break
		}
		end += start + 3
		code := s[start+3 : end]
		// Strip optional language tag on first line
		if nl := strings.Index(code, "\n"); nl >= 0 {
			firstLine := strings.TrimSpace(code[:nl])
			if len(firstLine) > 0 && !strings.Contains(firstLine, " ") {
				code = code[nl+1:]
			}
		}
		s = s[:start] + "<pre>" + code + "</pre>" + s[end+3:]
	}

	s = replacePairs(s, "`", "<code>", "</code>")
	s = replacePairs(s, "**", "<b>", "</b>")
	// Italic after bold so ** is already consumed
	s = replacePairs(s, "*", "<i>", "</i>")
	return s
}

// replacePairs wraps every closed delim...delim span in the given tags.
func replacePairs(s, delim, openTag, closeTag string) string {
	for {
		start := strings.Index(s, delim)
		if start == -1 {
			return s
		}
		end := strings.Index(s[start+len(delim):], delim)
		if end == -1 {
			return s
		}
		end += start + len(delim)
		s = s[:start] + openTag + s[start+len(delim):end] + closeTag + s[end+len(delim):]
	}
}
