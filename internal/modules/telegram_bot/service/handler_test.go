package service

import (
	"context"
	"sync"
	"testing"
	"time"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"slot_trader/internal/models"
)

type fakeBot struct {
	mu       sync.Mutex
	sent     []tgbot.Chattable
	requests int
	sentCh   chan tgbot.MessageConfig
}

func newFakeBot() *fakeBot { return &fakeBot{sentCh: make(chan tgbot.MessageConfig, 16)} }

func (f *fakeBot) Send(c tgbot.Chattable) (tgbot.Message, error) {
	f.mu.Lock()
	f.sent = append(f.sent, c)
	id := len(f.sent)
	f.mu.Unlock()
	if m, ok := c.(tgbot.MessageConfig); ok {
		f.sentCh <- m
	}
	return tgbot.Message{MessageID: id}, nil
}

func (f *fakeBot) Request(tgbot.Chattable) (*tgbot.APIResponse, error) {
	f.mu.Lock()
	f.requests++
	f.mu.Unlock()
	return &tgbot.APIResponse{Ok: true}, nil
}

func (f *fakeBot) GetUpdatesChan(tgbot.UpdateConfig) tgbot.UpdatesChannel {
	return make(chan tgbot.Update)
}

func (f *fakeBot) StopReceivingUpdates() {}

func (f *fakeBot) next(t *testing.T) tgbot.MessageConfig {
	t.Helper()
	select {
	case m := <-f.sentCh:
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("no message sent")
	}
	return tgbot.MessageConfig{}
}

func commandUpdate(chatID int64, text string) tgbot.Update {
	n := len(text)
	for i, r := range text {
		if r == ' ' {
			n = i
			break
		}
	}
	return tgbot.Update{Message: &tgbot.Message{
		Text:     text,
		Chat:     &tgbot.Chat{ID: chatID},
		Entities: []tgbot.MessageEntity{{Type: "bot_command", Offset: 0, Length: n}},
	}}
}

func TestNotifyWithoutBotOnlyLogs(t *testing.T) {
	tg := newTelegram(nil, 1, zap.NewNop())
	tg.Notify(context.Background(), "slot %d", 3)
	assert.Empty(t, tg.queue)
	assert.False(t, tg.Enabled())
}

func TestNotifyQueuesAndRunSends(t *testing.T) {
	bot := newFakeBot()
	tg := newTelegram(bot, 42, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go tg.Run(ctx)

	tg.Notify(ctx, "closed %s", "BTC-USDT-SWAP")
	m := bot.next(t)
	assert.Equal(t, int64(42), m.ChatID)
	assert.Equal(t, "closed BTC-USDT-SWAP", m.Text)
}

func TestCommandDispatch(t *testing.T) {
	bot := newFakeBot()
	tg := newTelegram(bot, 42, zap.NewNop())
	var got string
	tg.Handle("rest", "пауза", func(_ context.Context, args string) string {
		got = args
		return "ok"
	})

	tg.handleUpdate(context.Background(), commandUpdate(42, "/rest 2h"))
	m := bot.next(t)
	assert.Equal(t, "ok", m.Text)
	assert.Equal(t, "2h", got)

	tg.handleUpdate(context.Background(), commandUpdate(42, "/help"))
	assert.Contains(t, bot.next(t).Text, "/rest — пауза")
}

func TestForeignChatIgnored(t *testing.T) {
	bot := newFakeBot()
	tg := newTelegram(bot, 42, zap.NewNop())
	tg.Handle("status", "", func(context.Context, string) string { return "x" })

	tg.handleUpdate(context.Background(), commandUpdate(7, "/status"))
	select {
	case <-bot.sentCh:
		t.Fatal("reply to foreign chat")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestConfirmAccepted(t *testing.T) {
	bot := newFakeBot()
	tg := newTelegram(bot, 42, zap.NewNop())

	done := make(chan bool, 1)
	go func() { done <- tg.Confirm(context.Background(), "Закрыть всё?", time.Second) }()

	bot.next(t)
	var token string
	require.Eventually(t, func() bool {
		tg.mu.Lock()
		defer tg.mu.Unlock()
		for k := range tg.pendings {
			token = k
		}
		return token != ""
	}, time.Second, 5*time.Millisecond)

	tg.handleUpdate(context.Background(), tgbot.Update{CallbackQuery: &tgbot.CallbackQuery{
		ID:      "cb",
		Data:    "CONF::" + token,
		Message: &tgbot.Message{Chat: &tgbot.Chat{ID: 42}},
	}})
	assert.True(t, <-done)
}

func TestConfirmTimeout(t *testing.T) {
	tg := newTelegram(newFakeBot(), 42, zap.NewNop())
	assert.False(t, tg.Confirm(context.Background(), "?", 20*time.Millisecond))
}

func TestParseConfirmData(t *testing.T) {
	v, tok := parseConfirmData("REJ::123")
	assert.Equal(t, "REJ", v)
	assert.Equal(t, "123", tok)
	v, _ = parseConfirmData("garbage")
	assert.Empty(t, v)
}

func TestFormatSlots(t *testing.T) {
	assert.Contains(t, FormatSlots([]models.Slot{{ID: 1}}), "свободны")
	out := FormatSlots([]models.Slot{{ID: 2, Symbol: "ETH-USDT-SWAP", Side: models.SideShort, Category: models.CategoryFast}})
	assert.Contains(t, out, "#2 ETH-USDT-SWAP SHORT [fast]")
}
