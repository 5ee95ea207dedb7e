package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type Config struct {
	Token  string
	ChatID int64
}

// botAPI: то, что нужно от *tgbot.BotAPI.
type botAPI interface {
	Send(c tgbot.Chattable) (tgbot.Message, error)
	Request(c tgbot.Chattable) (*tgbot.APIResponse, error)
	GetUpdatesChan(config tgbot.UpdateConfig) tgbot.UpdatesChannel
	StopReceivingUpdates()
}

type pending struct {
	ch     chan bool
	msgID  int
	prompt string
}

// Command отвечает текстом на /name args.
type Command func(ctx context.Context, args string) string

type command struct {
	help string
	fn   Command
}

// Telegram: уведомления в один чат оператора и несколько команд управления.
// Без токена работает как логгер.
type Telegram struct {
	api    botAPI
	chatID int64
	log    *zap.Logger
	queue  chan string
	limit  *rate.Limiter

	mu       sync.Mutex
	pendings map[string]*pending
	commands map[string]command
}

func NewTelegram(cfg Config, log *zap.Logger) *Telegram {
	t := newTelegram(nil, cfg.ChatID, log)
	if cfg.Token == "" || cfg.ChatID == 0 {
		log.Info("[TG] disabled: no token or chat id")
		return t
	}
	b, err := tgbot.NewBotAPI(cfg.Token)
	if err != nil {
		log.Warn("[TG] bot init failed, notifications go to log only", zap.Error(err))
		return t
	}
	t.api = b
	return t
}

func newTelegram(api botAPI, chatID int64, log *zap.Logger) *Telegram {
	return &Telegram{
		api:      api,
		chatID:   chatID,
		log:      log,
		queue:    make(chan string, 128),
		limit:    rate.NewLimiter(rate.Every(time.Second), 3),
		pendings: make(map[string]*pending),
		commands: make(map[string]command),
	}
}

func (t *Telegram) Enabled() bool { return t.api != nil }

// Notify не блокирует: при переполненной очереди сообщение только в логе.
func (t *Telegram) Notify(_ context.Context, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	t.log.Info("[TG] notify", zap.String("text", msg))
	if t.api == nil {
		return
	}
	select {
	case t.queue <- msg:
	default:
		t.log.Warn("[TG] queue full, message dropped")
	}
}

func (t *Telegram) Send(_ context.Context, chatID int64, msg string) (tgbot.Message, error) {
	return t.api.Send(tgbot.NewMessage(chatID, msg))
}

func (t *Telegram) SendF(ctx context.Context, chatID int64, format string, args ...any) (tgbot.Message, error) {
	return t.Send(ctx, chatID, fmt.Sprintf(format, args...))
}

// Run отправляет очередь с ограничением частоты до отмены ctx.
func (t *Telegram) Run(ctx context.Context) {
	if t.api == nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-t.queue:
			if err := t.limit.Wait(ctx); err != nil {
				return
			}
			if _, err := t.Send(ctx, t.chatID, msg); err != nil {
				t.log.Warn("[TG] send failed", zap.Error(err))
			}
		}
	}
}

func (t *Telegram) editReplyMarkupRemove(chatID int64, msgID int) error {
	rm := tgbot.InlineKeyboardMarkup{InlineKeyboard: [][]tgbot.InlineKeyboardButton{}}
	_, err := t.api.Request(tgbot.NewEditMessageReplyMarkup(chatID, msgID, rm))
	return err
}

func (t *Telegram) editText(chatID int64, msgID int, text string) error {
	_, err := t.api.Request(tgbot.NewEditMessageText(chatID, msgID, text))
	return err
}

// Confirm: сообщение с кнопками и ожиданием callback.
func (t *Telegram) Confirm(ctx context.Context, prompt string, timeout time.Duration) bool {
	if t.api == nil {
		return false
	}
	token := fmt.Sprintf("%d", time.Now().UnixNano())
	p := &pending{ch: make(chan bool, 1), prompt: prompt}

	t.mu.Lock()
	t.pendings[token] = p
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		delete(t.pendings, token)
		t.mu.Unlock()
	}()

	btnYes := tgbot.NewInlineKeyboardButtonData("✅ Да", "CONF::"+token)
	btnNo := tgbot.NewInlineKeyboardButtonData("❌ Нет", "REJ::"+token)
	msg := tgbot.NewMessage(t.chatID, prompt)
	msg.ReplyMarkup = tgbot.NewInlineKeyboardMarkup(tgbot.NewInlineKeyboardRow(btnYes, btnNo))

	sent, err := t.api.Send(msg)
	if err != nil {
		t.log.Warn("[TG] confirm send failed", zap.Error(err))
		return false
	}
	t.mu.Lock()
	p.msgID = sent.MessageID
	t.mu.Unlock()

	tmr := time.NewTimer(timeout)
	defer tmr.Stop()

	select {
	case ok := <-p.ch:
		return ok
	case <-tmr.C:
		_ = t.editReplyMarkupRemove(t.chatID, sent.MessageID)
		_ = t.editText(t.chatID, sent.MessageID, fmt.Sprintf("%s\n\n⏳ Таймаут", prompt))
		return false
	case <-ctx.Done():
		_ = t.editReplyMarkupRemove(t.chatID, sent.MessageID)
		_ = t.editText(t.chatID, sent.MessageID, fmt.Sprintf("%s\n\n⛔️ Отменено", prompt))
		return false
	}
}
