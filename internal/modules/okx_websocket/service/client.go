package service

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"slot_trader/internal/helper"
	"slot_trader/internal/models"
	"slot_trader/internal/modules/config"
)

const defaultPublicURL = "wss://ws.okx.com:8443/ws/v5/public"

type TradeSink interface {
	OnTrade(p models.TradePrint)
}

type PriceSink interface {
	OnPrice(symbol string, px float64, at time.Time)
}

// Instruments: ctVal для перевода размера сделки из контрактов в монету.
type Instruments interface {
	Instrument(ctx context.Context, symbol string) (models.Instrument, error)
}

// HealthState: отметки для /healthz.
type HealthState interface {
	SetWSConnected(v bool)
	TouchTick(t time.Time)
}

// Client: публичный WebSocket OKX: сделки (в CVD скорера) и тикеры (в ленту цен).
type Client struct {
	url    string
	dialer *websocket.Dialer
	log    *zap.Logger

	trades TradeSink
	prices PriceSink
	insts  Instruments
	health HealthState

	mu      sync.RWMutex
	watch   []string
	restart chan struct{}
}

func NewClient(cfg *config.Config, trades TradeSink, prices PriceSink, insts Instruments, health HealthState, log *zap.Logger) *Client {
	url := cfg.OKX.WSPublicURL
	if url == "" {
		url = defaultPublicURL
	}
	return &Client{
		url:     url,
		dialer:  &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		log:     log,
		trades:  trades,
		prices:  prices,
		insts:   insts,
		health:  health,
		restart: make(chan struct{}, 1),
	}
}

// SetWatchlist меняет набор символов; активное соединение переподключается с новой подпиской.
func (c *Client) SetWatchlist(symbols []string) {
	seen := make(map[string]struct{}, len(symbols))
	norm := make([]string, 0, len(symbols))
	for _, s := range symbols {
		id := helper.NormalizeSymbol(s)
		if _, ok := seen[id]; ok || id == "" {
			continue
		}
		seen[id] = struct{}{}
		norm = append(norm, id)
	}

	c.mu.Lock()
	c.watch = norm
	c.mu.Unlock()

	select {
	case c.restart <- struct{}{}:
	default:
	}
}

func (c *Client) Watchlist() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.watch...)
}
