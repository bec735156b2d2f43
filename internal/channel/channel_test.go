package channel

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/stellarlinkco/chatkeeper/internal/bus"
	"github.com/stellarlinkco/chatkeeper/internal/config"
)

// mockTelegramBot implements TelegramBot interface for testing
type mockTelegramBot struct {
	updatesChan chan tgbotapi.Update
	stopped     bool
	sentMsgs    []tgbotapi.Chattable
	requests    []tgbotapi.Chattable
	sendErr     error
	// failSends makes the first n Send calls fail.
	failSends int
	self      tgbotapi.User
}

func newMockBot() *mockTelegramBot {
	return &mockTelegramBot{
		updatesChan: make(chan tgbotapi.Update, 10),
		self:        tgbotapi.User{UserName: "testbot"},
	}
}

func (m *mockTelegramBot) GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return m.updatesChan
}

func (m *mockTelegramBot) StopReceivingUpdates() {
	m.stopped = true
}

func (m *mockTelegramBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	m.sentMsgs = append(m.sentMsgs, c)
	if m.failSends > 0 {
		m.failSends--
		return tgbotapi.Message{}, fmt.Errorf("Bad Request: can't parse entities")
	}
	if m.sendErr != nil {
		return tgbotapi.Message{}, m.sendErr
	}
	return tgbotapi.Message{MessageID: 1}, nil
}

func (m *mockTelegramBot) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	m.requests = append(m.requests, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (m *mockTelegramBot) GetSelf() tgbotapi.User {
	return m.self
}

func newTestChannel(t *testing.T, cfg config.TelegramConfig) (*TelegramChannel, *bus.MessageBus, *mockTelegramBot) {
	t.Helper()
	if cfg.Token == "" {
		cfg.Token = "fake-token"
	}
	b := bus.NewMessageBus(10)
	ch, err := NewTelegramChannel(cfg, b)
	if err != nil {
		t.Fatalf("NewTelegramChannel error: %v", err)
	}
	bot := newMockBot()
	ch.SetBot(bot)
	return ch, b, bot
}

func receive(t *testing.T, b *bus.MessageBus) bus.InboundMessage {
	t.Helper()
	select {
	case msg := <-b.Inbound:
		return msg
	case <-time.After(time.Second):
		t.Fatal("expected inbound message")
		return bus.InboundMessage{}
	}
}

func expectNone(t *testing.T, b *bus.MessageBus) {
	t.Helper()
	select {
	case msg := <-b.Inbound:
		t.Errorf("unexpected inbound message: %+v", msg)
	default:
	}
}

func commandMessage(text string) *tgbotapi.Message {
	cmdLen := len(text)
	if i := strings.Index(text, " "); i >= 0 {
		cmdLen = i
	}
	return &tgbotapi.Message{
		MessageID: 7,
		From:      &tgbotapi.User{ID: 123, UserName: "alice", FirstName: "Alice", LastName: "Smith"},
		Chat:      &tgbotapi.Chat{ID: -100},
		Text:      text,
		Date:      1717236000,
		Entities:  []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: cmdLen}},
	}
}

func TestBaseChannel_Name(t *testing.T) {
	ch := NewBaseChannel("test", bus.NewMessageBus(10), nil)
	if ch.Name() != "test" {
		t.Errorf("Name = %q, want test", ch.Name())
	}
}

func TestBaseChannel_IsAllowed_NoFilter(t *testing.T) {
	ch := NewBaseChannel("test", bus.NewMessageBus(10), nil)
	if !ch.IsAllowed("anyone") {
		t.Error("should allow anyone when allowFrom is empty")
	}
}

func TestBaseChannel_IsAllowed_WithFilter(t *testing.T) {
	ch := NewBaseChannel("test", bus.NewMessageBus(10), []string{"user1", "-100"})

	if !ch.IsAllowed("user1") {
		t.Error("should allow user1")
	}
	if !ch.IsAllowed("user3", "-100") {
		t.Error("should allow any user in an allowed chat")
	}
	if ch.IsAllowed("user3", "-200") {
		t.Error("should reject user3 in another chat")
	}
}

func TestNewTelegramChannel_NoToken(t *testing.T) {
	if _, err := NewTelegramChannel(config.TelegramConfig{}, bus.NewMessageBus(10)); err == nil {
		t.Error("expected error for empty token")
	}
}

func TestNewTelegramChannel_WithProxy(t *testing.T) {
	ch, err := NewTelegramChannel(config.TelegramConfig{
		Token: "fake-token",
		Proxy: "http://proxy.local:8080",
	}, bus.NewMessageBus(10))
	if err != nil {
		t.Fatalf("NewTelegramChannel error: %v", err)
	}
	if ch.Name() != "telegram" {
		t.Errorf("Name = %q, want telegram", ch.Name())
	}
	if ch.proxy != "http://proxy.local:8080" {
		t.Errorf("proxy = %q", ch.proxy)
	}
}

func TestTelegramChannel_HandleMessage_Text(t *testing.T) {
	ch, b, _ := newTestChannel(t, config.TelegramConfig{})

	ch.handleMessage(&tgbotapi.Message{
		MessageID: 5,
		From:      &tgbotapi.User{ID: 123, UserName: "testuser", FirstName: "Test", LastName: "User"},
		Chat:      &tgbotapi.Chat{ID: 456},
		Text:      "hello",
		Date:      1234567890,
	})

	inbound := receive(t, b)
	if inbound.Kind != bus.EventMessage || inbound.Text != "hello" {
		t.Errorf("inbound = %+v", inbound)
	}
	if inbound.ChatID != 456 || inbound.UserID != 123 || inbound.MessageID != 5 {
		t.Errorf("ids = chat %d user %d message %d", inbound.ChatID, inbound.UserID, inbound.MessageID)
	}
	if inbound.Username != "testuser" || inbound.FullName != "Test User" {
		t.Errorf("identity = %q %q", inbound.Username, inbound.FullName)
	}
	if !inbound.Timestamp.Equal(time.Unix(1234567890, 0)) || inbound.Timestamp.Location() != time.UTC {
		t.Errorf("timestamp = %v", inbound.Timestamp)
	}
}

func TestTelegramChannel_HandleMessage_Command(t *testing.T) {
	ch, b, _ := newTestChannel(t, config.TelegramConfig{})

	ch.handleMessage(commandMessage("/profile@testbot @bob"))

	inbound := receive(t, b)
	if inbound.Kind != bus.EventCommand || inbound.Command != "profile" {
		t.Errorf("command = %q kind = %q", inbound.Command, inbound.Kind)
	}
	if len(inbound.Args) != 1 || inbound.Args[0] != "@bob" {
		t.Errorf("args = %v", inbound.Args)
	}
	if inbound.FullName != "Alice Smith" {
		t.Errorf("full name = %q", inbound.FullName)
	}
}

func TestTelegramChannel_HandleMessage_Rejected(t *testing.T) {
	ch, b, _ := newTestChannel(t, config.TelegramConfig{AllowFrom: []string{"999"}})

	ch.handleMessage(&tgbotapi.Message{
		From: &tgbotapi.User{ID: 123, UserName: "testuser"},
		Chat: &tgbotapi.Chat{ID: 456},
		Text: "hello",
	})
	expectNone(t, b)
}

func TestTelegramChannel_HandleMessage_NonText(t *testing.T) {
	ch, b, _ := newTestChannel(t, config.TelegramConfig{})

	ch.handleMessage(&tgbotapi.Message{
		From:    &tgbotapi.User{ID: 123},
		Chat:    &tgbotapi.Chat{ID: 456},
		Caption: "a photo",
		Photo:   []tgbotapi.PhotoSize{{FileID: "p1"}},
	})
	ch.handleMessage(&tgbotapi.Message{Chat: &tgbotapi.Chat{ID: 456}, Text: "no sender"})
	expectNone(t, b)
}

func TestTelegramChannel_HandleCallback(t *testing.T) {
	ch, b, _ := newTestChannel(t, config.TelegramConfig{})

	ch.handleUpdate(tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:      "cb-1",
		From:    &tgbotapi.User{ID: 1, UserName: "alice"},
		Message: &tgbotapi.Message{MessageID: 42, Chat: &tgbotapi.Chat{ID: -100}},
		Data:    "coffee",
	}})

	inbound := receive(t, b)
	if inbound.Kind != bus.EventCallback || inbound.CallbackID != "cb-1" || inbound.CallbackData != "coffee" {
		t.Errorf("callback = %+v", inbound)
	}
	if inbound.ChatID != -100 || inbound.MessageID != 42 {
		t.Errorf("callback target = %d/%d", inbound.ChatID, inbound.MessageID)
	}
}

func TestTelegramChannel_HandleCallback_Rejected(t *testing.T) {
	ch, b, _ := newTestChannel(t, config.TelegramConfig{AllowFrom: []string{"-200"}})

	ch.handleUpdate(tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:      "cb-2",
		From:    &tgbotapi.User{ID: 1, UserName: "alice"},
		Message: &tgbotapi.Message{MessageID: 42, Chat: &tgbotapi.Chat{ID: -100}},
		Data:    "coffee",
	}})
	expectNone(t, b)

	ch.handleUpdate(tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:      "cb-3",
		Message: &tgbotapi.Message{MessageID: 43, Chat: &tgbotapi.Chat{ID: -200}},
		Data:    "coffee",
	}})
	if inbound := receive(t, b); inbound.CallbackID != "cb-3" {
		t.Errorf("allowed chat callback = %+v", inbound)
	}
}

func TestTelegramChannel_HandleMembership_Rejected(t *testing.T) {
	ch, b, _ := newTestChannel(t, config.TelegramConfig{AllowFrom: []string{"-200"}})

	added := func(chatID int64) tgbotapi.Update {
		return tgbotapi.Update{MyChatMember: &tgbotapi.ChatMemberUpdated{
			Chat:          tgbotapi.Chat{ID: chatID},
			From:          tgbotapi.User{ID: 9, UserName: "admin"},
			Date:          1717236000,
			OldChatMember: tgbotapi.ChatMember{Status: "left"},
			NewChatMember: tgbotapi.ChatMember{Status: "member"},
		}}
	}

	ch.handleUpdate(added(-100))
	expectNone(t, b)

	ch.handleUpdate(added(-200))
	if inbound := receive(t, b); inbound.ChatID != -200 || !inbound.IsMember {
		t.Errorf("allowed chat membership = %+v", inbound)
	}
}

func TestTelegramChannel_HandleMembership(t *testing.T) {
	tests := []struct {
		oldStatus, newStatus string
		wantEvent            bool
		wasMember, isMember  bool
	}{
		{"left", "member", true, false, true},
		{"kicked", "administrator", true, false, true},
		{"member", "left", true, true, false},
		{"member", "member", false, false, false},
		{"member", "administrator", false, false, false},
		{"left", "kicked", false, false, false},
	}

	for _, tt := range tests {
		ch, b, _ := newTestChannel(t, config.TelegramConfig{})
		ch.handleUpdate(tgbotapi.Update{MyChatMember: &tgbotapi.ChatMemberUpdated{
			Chat:          tgbotapi.Chat{ID: -100},
			From:          tgbotapi.User{ID: 9, UserName: "admin"},
			Date:          1717236000,
			OldChatMember: tgbotapi.ChatMember{Status: tt.oldStatus},
			NewChatMember: tgbotapi.ChatMember{Status: tt.newStatus},
		}})

		if !tt.wantEvent {
			expectNone(t, b)
			continue
		}
		inbound := receive(t, b)
		if inbound.Kind != bus.EventMembership || inbound.ChatID != -100 {
			t.Errorf("%s->%s: inbound = %+v", tt.oldStatus, tt.newStatus, inbound)
		}
		if inbound.WasMember != tt.wasMember || inbound.IsMember != tt.isMember {
			t.Errorf("%s->%s: was=%v is=%v", tt.oldStatus, tt.newStatus, inbound.WasMember, inbound.IsMember)
		}
	}
}

func TestTelegramChannel_InitBot(t *testing.T) {
	b := bus.NewMessageBus(10)
	mockBot := newMockBot()

	ch, _ := NewTelegramChannelWithFactory(config.TelegramConfig{Token: "fake-token"}, b,
		func(token, apiEndpoint string, client *http.Client) (TelegramBot, error) {
			if token != "fake-token" || apiEndpoint != tgbotapi.APIEndpoint {
				t.Errorf("factory got %q %q", token, apiEndpoint)
			}
			return mockBot, nil
		})
	if err := ch.initBot(); err != nil {
		t.Fatalf("initBot error: %v", err)
	}
	if ch.bot == nil {
		t.Error("bot should be set")
	}

	failing, _ := NewTelegramChannelWithFactory(config.TelegramConfig{Token: "fake-token"}, b,
		func(token, apiEndpoint string, client *http.Client) (TelegramBot, error) {
			return nil, fmt.Errorf("auth failed")
		})
	if err := failing.initBot(); err == nil {
		t.Error("expected error from initBot")
	}
}

func TestTelegramChannel_InitBot_InvalidProxy(t *testing.T) {
	ch, _ := NewTelegramChannelWithFactory(config.TelegramConfig{
		Token: "fake-token",
		Proxy: "://invalid-url",
	}, bus.NewMessageBus(10), defaultBotFactory)

	if err := ch.initBot(); err == nil {
		t.Error("expected error for invalid proxy URL")
	}
}

func TestTelegramChannel_Start(t *testing.T) {
	b := bus.NewMessageBus(10)
	mockBot := newMockBot()

	ch, _ := NewTelegramChannelWithFactory(config.TelegramConfig{Token: "fake-token"}, b,
		func(token, apiEndpoint string, client *http.Client) (TelegramBot, error) {
			return mockBot, nil
		})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := ch.Start(ctx); err != nil {
		t.Fatalf("Start error: %v", err)
	}

	mockBot.updatesChan <- tgbotapi.Update{}
	mockBot.updatesChan <- tgbotapi.Update{
		Message: &tgbotapi.Message{
			From: &tgbotapi.User{ID: 123},
			Chat: &tgbotapi.Chat{ID: 456},
			Text: "test message",
		},
	}

	if inbound := receive(t, b); inbound.Text != "test message" {
		t.Errorf("text = %q, want 'test message'", inbound.Text)
	}

	ch.Stop()
	if !mockBot.stopped {
		t.Error("bot should be stopped")
	}
}

func TestTelegramChannel_Start_InitError(t *testing.T) {
	ch, _ := NewTelegramChannelWithFactory(config.TelegramConfig{Token: "fake-token"}, bus.NewMessageBus(10),
		func(token, apiEndpoint string, client *http.Client) (TelegramBot, error) {
			return nil, fmt.Errorf("init failed")
		})

	if err := ch.Start(context.Background()); err == nil {
		t.Error("expected error from Start")
	}
}

func TestTelegramChannel_Stop_NotStarted(t *testing.T) {
	ch, _ := NewTelegramChannel(config.TelegramConfig{Token: "fake-token"}, bus.NewMessageBus(10))
	if err := ch.Stop(); err != nil {
		t.Errorf("Stop error: %v", err)
	}
}

func TestTelegramChannel_Send_NilBot(t *testing.T) {
	ch, _ := NewTelegramChannel(config.TelegramConfig{Token: "fake-token"}, bus.NewMessageBus(10))
	if err := ch.Send(bus.OutboundMessage{ChatID: 123, Text: "test"}); err == nil {
		t.Error("expected error when bot is nil")
	}
}

func TestTelegramChannel_Send_Text(t *testing.T) {
	ch, _, bot := newTestChannel(t, config.TelegramConfig{})

	err := ch.Send(bus.OutboundMessage{
		ChatID:  123,
		Text:    "**hi** there",
		ReplyTo: 9,
		Buttons: []bus.Button{{Text: "☕ - on service", Data: "coffee"}},
	})
	if err != nil {
		t.Fatalf("Send error: %v", err)
	}
	if len(bot.sentMsgs) != 1 {
		t.Fatalf("sent = %d, want 1", len(bot.sentMsgs))
	}
	msg := bot.sentMsgs[0].(tgbotapi.MessageConfig)
	if msg.ChatID != 123 || msg.Text != "<b>hi</b> there" || msg.ParseMode != tgbotapi.ModeHTML {
		t.Errorf("message = %+v", msg)
	}
	if msg.ReplyToMessageID != 9 {
		t.Errorf("reply to = %d, want 9", msg.ReplyToMessageID)
	}
	markup, ok := msg.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	if !ok || len(markup.InlineKeyboard) != 1 || *markup.InlineKeyboard[0][0].CallbackData != "coffee" {
		t.Errorf("markup = %+v", msg.ReplyMarkup)
	}
}

func TestTelegramChannel_Send_Markdown(t *testing.T) {
	ch, _, bot := newTestChannel(t, config.TelegramConfig{})

	if err := ch.Send(bus.OutboundMessage{ChatID: 1, Text: "*Stats*", ParseMode: "Markdown"}); err != nil {
		t.Fatalf("Send error: %v", err)
	}
	msg := bot.sentMsgs[0].(tgbotapi.MessageConfig)
	if msg.Text != "*Stats*" || msg.ParseMode != "Markdown" {
		t.Errorf("message = %q mode %q", msg.Text, msg.ParseMode)
	}
}

func TestTelegramChannel_Send_LongMessage(t *testing.T) {
	ch, _, bot := newTestChannel(t, config.TelegramConfig{})

	longContent := strings.Repeat("This is a long line of text that will be repeated.\n", 100)
	if err := ch.Send(bus.OutboundMessage{ChatID: 123, Text: longContent}); err != nil {
		t.Errorf("Send error: %v", err)
	}
	if len(bot.sentMsgs) < 2 {
		t.Errorf("expected multiple sent messages for long content, got %d", len(bot.sentMsgs))
	}
}

func TestTelegramChannel_Send_FormatErrorRetriesPlain(t *testing.T) {
	ch, _, bot := newTestChannel(t, config.TelegramConfig{})
	bot.failSends = 1

	if err := ch.Send(bus.OutboundMessage{ChatID: 123, Text: "@user_name: 3 messages", ParseMode: "Markdown"}); err != nil {
		t.Fatalf("Send should succeed after retry: %v", err)
	}
	if len(bot.sentMsgs) != 2 {
		t.Fatalf("sent = %d, want 2", len(bot.sentMsgs))
	}
	retry := bot.sentMsgs[1].(tgbotapi.MessageConfig)
	if retry.ParseMode != "" || retry.Text != "@user_name: 3 messages" {
		t.Errorf("retry = %q mode %q", retry.Text, retry.ParseMode)
	}
}

func TestTelegramChannel_Send_BothFail(t *testing.T) {
	ch, _, bot := newTestChannel(t, config.TelegramConfig{})
	bot.sendErr = fmt.Errorf("send failed")

	if err := ch.Send(bus.OutboundMessage{ChatID: 123, Text: "test"}); err == nil {
		t.Error("expected error when both sends fail")
	}
}

func TestTelegramChannel_Send_Photo(t *testing.T) {
	ch, _, bot := newTestChannel(t, config.TelegramConfig{})

	png := []byte("\x89PNG fake")
	if err := ch.Send(bus.OutboundMessage{ChatID: 5, Photo: png, PhotoName: "activity.png"}); err != nil {
		t.Fatalf("Send error: %v", err)
	}
	photo, ok := bot.sentMsgs[0].(tgbotapi.PhotoConfig)
	if !ok {
		t.Fatalf("sent %T, want PhotoConfig", bot.sentMsgs[0])
	}
	file, ok := photo.File.(tgbotapi.FileBytes)
	if !ok || file.Name != "activity.png" || string(file.Bytes) != string(png) {
		t.Errorf("photo file = %+v", photo.File)
	}
}

func TestTelegramChannel_Send_CallbackEdit(t *testing.T) {
	ch, _, bot := newTestChannel(t, config.TelegramConfig{})

	err := ch.Send(bus.OutboundMessage{ChatID: 5, Text: "about", EditMessageID: 42, CallbackID: "cb-1"})
	if err != nil {
		t.Fatalf("Send error: %v", err)
	}
	if len(bot.requests) != 1 {
		t.Fatalf("requests = %d, want 1", len(bot.requests))
	}
	if cb := bot.requests[0].(tgbotapi.CallbackConfig); cb.CallbackQueryID != "cb-1" {
		t.Errorf("callback = %+v", cb)
	}
	edit, ok := bot.sentMsgs[0].(tgbotapi.EditMessageTextConfig)
	if !ok || edit.MessageID != 42 || edit.ChatID != 5 || edit.Text != "about" {
		t.Errorf("edit = %+v", bot.sentMsgs[0])
	}
}

func TestSplitMessage(t *testing.T) {
	if got := splitMessage(strings.Repeat("x", 5000), 4000); len(got) != 2 || len(got[0]) != 4000 {
		t.Errorf("split without newline = %d chunks", len(got))
	}
	got := splitMessage("aaa\nbbb", 5)
	if len(got) != 2 || got[0] != "aaa" || got[1] != "\nbbb" {
		t.Errorf("split at newline = %q", got)
	}
	if got := splitMessage("", 10); len(got) != 0 {
		t.Errorf("empty split = %q", got)
	}
}

func TestToTelegramHTML(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"hello", "hello"},
		{"**bold**", "<b>bold</b>"},
		{"`code`", "<code>code</code>"},
		{"a & b", "a &amp; b"},
		{"<tag>", "&lt;tag&gt;"},
		{"```go\nfunc main() {}\n```", "<pre>func main() {}\n</pre>"},
		{"```\ncode here\n```", "<pre>\ncode here\n</pre>"},
		{"*italic*", "<i>italic</i>"},
		{"**bold** and *italic*", "<b>bold</b> and <i>italic</i>"},
		{"```code", "<code></code>`code"},
		{"`code", "`code"},
		{"**unclosed", "<i></i>unclosed"},
	}

	for _, tt := range tests {
		if got := toTelegramHTML(tt.input); got != tt.want {
			t.Errorf("toTelegramHTML(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

// mockChannel implements Channel interface for testing
type mockChannel struct {
	name     string
	started  bool
	stopped  bool
	startErr error
	stopErr  error

	mu       sync.Mutex
	sentMsgs []bus.OutboundMessage
}

func (m *mockChannel) Name() string { return m.name }

func (m *mockChannel) Start(ctx context.Context) error {
	m.started = true
	return m.startErr
}

func (m *mockChannel) Stop() error {
	m.stopped = true
	return m.stopErr
}

func (m *mockChannel) Send(msg bus.OutboundMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sentMsgs = append(m.sentMsgs, msg)
	return nil
}

func (m *mockChannel) sentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sentMsgs)
}

func TestChannelManager_Disabled(t *testing.T) {
	m, err := NewChannelManager(config.TelegramConfig{Enabled: false}, bus.NewMessageBus(10))
	if err != nil {
		t.Fatalf("NewChannelManager error: %v", err)
	}
	if len(m.EnabledChannels()) != 0 {
		t.Errorf("expected 0 enabled channels, got %d", len(m.EnabledChannels()))
	}
	if err := m.StartAll(context.Background()); err != nil {
		t.Errorf("StartAll error: %v", err)
	}
	if err := m.StopAll(); err != nil {
		t.Errorf("StopAll error: %v", err)
	}
}

func TestChannelManager_EnabledWithoutToken(t *testing.T) {
	if _, err := NewChannelManager(config.TelegramConfig{Enabled: true}, bus.NewMessageBus(10)); err == nil {
		t.Error("expected error for enabled telegram without token")
	}
}

func TestChannelManager_Telegram(t *testing.T) {
	m, err := NewChannelManager(config.TelegramConfig{Enabled: true, Token: "fake-token"}, bus.NewMessageBus(10))
	if err != nil {
		t.Fatalf("NewChannelManager error: %v", err)
	}
	if names := m.EnabledChannels(); len(names) != 1 || names[0] != "telegram" {
		t.Errorf("EnabledChannels = %v", names)
	}
}

func TestChannelManager_RegisterRoutesOutbound(t *testing.T) {
	b := bus.NewMessageBus(10)
	m, _ := NewChannelManager(config.TelegramConfig{}, b)
	mock := &mockChannel{name: "mock"}
	m.Register(mock)

	if err := m.StartAll(context.Background()); err != nil {
		t.Errorf("StartAll error: %v", err)
	}
	if !mock.started {
		t.Error("mock channel should be started")
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		b.DispatchOutbound(ctx)
		close(done)
	}()
	b.Outbound <- bus.OutboundMessage{Channel: "mock", ChatID: 1, Text: "hi"}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if mock.sentCount() == 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	<-done
	if len(mock.sentMsgs) != 1 || mock.sentMsgs[0].Text != "hi" {
		t.Errorf("sent = %+v", mock.sentMsgs)
	}

	if err := m.StopAll(); err != nil {
		t.Errorf("StopAll error: %v", err)
	}
	if !mock.stopped {
		t.Error("mock channel should be stopped")
	}
}

func TestChannelManager_StartAll_Error(t *testing.T) {
	b := bus.NewMessageBus(10)
	m := &ChannelManager{
		channels: map[string]Channel{"mock": &mockChannel{name: "mock", startErr: fmt.Errorf("start failed")}},
		bus:      b,
	}
	if err := m.StartAll(context.Background()); err == nil {
		t.Error("expected error from StartAll")
	}
}

func TestChannelManager_StopAll_Error(t *testing.T) {
	m := &ChannelManager{
		channels: map[string]Channel{"mock": &mockChannel{name: "mock", stopErr: fmt.Errorf("stop failed")}},
		bus:      bus.NewMessageBus(10),
	}
	if err := m.StopAll(); err != nil {
		t.Errorf("StopAll should not return error: %v", err)
	}
}
