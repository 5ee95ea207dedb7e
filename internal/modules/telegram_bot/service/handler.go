package service

import (
	"context"
	"fmt"
	"sort"
	"strings"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// Handle регистрирует команду /name. Повторная регистрация заменяет обработчик.
func (t *Telegram) Handle(name, help string, fn Command) {
	t.mu.Lock()
	t.commands[strings.ToLower(name)] = command{help: help, fn: fn}
	t.mu.Unlock()
}

// Listen читает апдейты до отмены ctx.
func (t *Telegram) Listen(ctx context.Context) {
	if t.api == nil {
		return
	}
	u := tgbot.NewUpdate(0)
	u.Timeout = 30
	updates := t.api.GetUpdatesChan(u)
	defer t.api.StopReceivingUpdates()

	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			t.handleUpdate(ctx, update)
		}
	}
}

func (t *Telegram) handleUpdate(ctx context.Context, update tgbot.Update) {
	// 1) команды
	if msg := update.Message; msg != nil {
		if msg.Chat == nil || msg.Chat.ID != t.chatID {
			return
		}
		if !msg.IsCommand() {
			return
		}
		// обработчик может ждать Confirm, а тот ждёт callback из этого же цикла
		go t.runCommand(ctx, msg.Command(), msg.CommandArguments())
		return
	}

	// 2) inline-кнопки
	if cb := update.CallbackQuery; cb != nil {
		if cb.Message == nil || cb.Message.Chat == nil || cb.Message.Chat.ID != t.chatID {
			return
		}
		t.handleConfirmCallback(cb.Message.Chat.ID, cb.Data)
		if _, err := t.api.Request(tgbot.NewCallback(cb.ID, "")); err != nil {
			t.log.Debug("[TG] callback ack failed", zap.Error(err))
		}
	}
}

func (t *Telegram) runCommand(ctx context.Context, name, args string) {
	name = strings.ToLower(name)
	var reply string
	if name == "help" || name == "start" {
		reply = t.help()
	} else {
		t.mu.Lock()
		cmd, ok := t.commands[name]
		t.mu.Unlock()
		if !ok {
			reply = "Неизвестная команда. /help"
		} else {
			reply = cmd.fn(ctx, strings.TrimSpace(args))
		}
	}
	if reply == "" {
		return
	}
	if _, err := t.Send(ctx, t.chatID, reply); err != nil {
		t.log.Warn("[TG] reply failed", zap.String("command", name), zap.Error(err))
	}
}

func (t *Telegram) help() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	names := make([]string, 0, len(t.commands))
	for n := range t.commands {
		names = append(names, n)
	}
	sort.Strings(names)
	var b strings.Builder
	b.WriteString("Команды:\n")
	for _, n := range names {
		fmt.Fprintf(&b, "/%s — %s\n", n, t.commands[n].help)
	}
	return b.String()
}

// handleConfirmCallback обрабатывает callback-и вида CONF::token / REJ::token.
func (t *Telegram) handleConfirmCallback(chatID int64, data string) {
	verb, token := parseConfirmData(data)
	if verb == "" || token == "" {
		return
	}

	t.mu.Lock()
	p, ok := t.pendings[token]
	if ok {
		delete(t.pendings, token)
	}
	t.mu.Unlock()
	if !ok {
		return
	}

	accepted := verb == "CONF"
	_ = t.editReplyMarkupRemove(chatID, p.msgID)
	suffix := "❌ Отклонено"
	if accepted {
		suffix = "✅ Подтверждено"
	}
	_ = t.editText(chatID, p.msgID, p.prompt+"\n\n"+suffix)

	select {
	case p.ch <- accepted:
	default:
	}
}

func parseConfirmData(data string) (verb, token string) {
	i := strings.Index(data, "::")
	if i < 0 {
		return "", ""
	}
	return data[:i], data[i+2:]
}
