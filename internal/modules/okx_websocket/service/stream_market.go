package service

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"slot_trader/internal/models"
)

// OKX рвёт тихое соединение через 30s
const pingEvery = 20 * time.Second

type wsArg struct {
	Channel string `json:"channel"`
	InstID  string `json:"instId"`
}

type wsTrade struct {
	InstID string `json:"instId"`
	Px     string `json:"px"`
	Sz     string `json:"sz"`
	Side   string `json:"side"`
	TS     string `json:"ts"`
}

type wsTicker struct {
	InstID string `json:"instId"`
	Last   string `json:"last"`
	TS     string `json:"ts"`
}

type wsFrame struct {
	Event string `json:"event"`
	Code  string `json:"code"`
	Msg   string `json:"msg"`
	Arg   wsArg  `json:"arg"`
	// разбирается по каналу
	Data json.RawMessage `json:"data"`
}

// Run держит соединение до отмены ctx: подписка, ping, чтение, переподключение с паузой.
func (c *Client) Run(ctx context.Context) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = 30 * time.Second
	bo.MaxElapsedTime = 0

	for {
		syms := c.Watchlist()
		if len(syms) == 0 {
			select {
			case <-ctx.Done():
				return
			case <-c.restart:
				continue
			}
		}

		start := time.Now()
		err := c.session(ctx, syms)
		c.health.SetWSConnected(false)
		if ctx.Err() != nil {
			return
		}
		if errors.Is(err, errResubscribe) {
			bo.Reset()
			continue
		}
		if time.Since(start) > time.Minute {
			bo.Reset()
		}
		wait := bo.NextBackOff()
		c.log.Warn("[WS] disconnected, reconnecting", zap.Error(err), zap.Duration("in", wait))

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

var errResubscribe = errors.New("watchlist changed")

func subscribeArgs(symbols []string) []wsArg {
	args := make([]wsArg, 0, 2*len(symbols))
	for _, id := range symbols {
		args = append(args, wsArg{Channel: "trades", InstID: id}, wsArg{Channel: "tickers", InstID: id})
	}
	return args
}

func (c *Client) session(ctx context.Context, syms []string) error {
	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return errors.Wrap(err, "dial")
	}

	var wmu sync.Mutex
	write := func(mt int, data []byte) error {
		wmu.Lock()
		defer wmu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		return conn.WriteMessage(mt, data)
	}

	sub, err := sonic.Marshal(map[string]any{"op": "subscribe", "args": subscribeArgs(syms)})
	if err != nil {
		_ = conn.Close()
		return errors.Wrap(err, "subscribe marshal")
	}
	if err := write(websocket.TextMessage, sub); err != nil {
		_ = conn.Close()
		return errors.Wrap(err, "subscribe")
	}
	c.log.Info("[WS] subscribed", zap.Int("symbols", len(syms)))
	c.health.SetWSConnected(true)

	sessCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// закрытие соединения будит блокирующий ReadMessage
	reason := make(chan error, 1)
	go func() {
		t := time.NewTicker(pingEvery)
		defer t.Stop()
		for {
			select {
			case <-sessCtx.Done():
				_ = conn.Close()
				return
			case <-c.restart:
				reason <- errResubscribe
				_ = conn.Close()
				return
			case <-t.C:
				if err := write(websocket.TextMessage, []byte("ping")); err != nil {
					_ = conn.Close()
					return
				}
			}
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			select {
			case r := <-reason:
				return r
			default:
			}
			return errors.Wrap(err, "read")
		}
		c.handle(ctx, msg)
	}
}

func (c *Client) handle(ctx context.Context, msg []byte) {
	if string(msg) == "pong" {
		return
	}
	trades, tickers, err := parseFrame(msg)
	if err != nil {
		c.log.Warn("[WS] bad frame", zap.Error(err))
		return
	}
	now := time.Now()
	for _, t := range tickers {
		c.prices.OnPrice(t.InstID, t.Last, t.At)
	}
	for _, tr := range trades {
		inst, err := c.insts.Instrument(ctx, tr.Symbol)
		if err != nil || inst.ContractValue <= 0 {
			continue
		}
		tr.Size *= inst.ContractValue
		c.trades.OnTrade(tr)
	}
	if len(trades)+len(tickers) > 0 {
		c.health.TouchTick(now)
	}
}

type tickerUpdate struct {
	InstID string
	Last   float64
	At     time.Time
}

// parseFrame разбирает кадр OKX. Размер сделки остаётся в контрактах.
func parseFrame(msg []byte) ([]models.TradePrint, []tickerUpdate, error) {
	var f wsFrame
	if err := sonic.Unmarshal(msg, &f); err != nil {
		return nil, nil, errors.Wrap(err, "decode frame")
	}
	switch f.Event {
	case "error":
		return nil, nil, errors.Errorf("okx ws error code=%s msg=%s", f.Code, f.Msg)
	case "subscribe", "unsubscribe", "channel-conn-count":
		return nil, nil, nil
	}
	if len(f.Data) == 0 {
		return nil, nil, nil
	}

	switch f.Arg.Channel {
	case "trades":
		var rows []wsTrade
		if err := sonic.Unmarshal(f.Data, &rows); err != nil {
			return nil, nil, errors.Wrap(err, "decode trades")
		}
		out := make([]models.TradePrint, 0, len(rows))
		for _, r := range rows {
			px, err1 := strconv.ParseFloat(r.Px, 64)
			sz, err2 := strconv.ParseFloat(r.Sz, 64)
			if err1 != nil || err2 != nil || px <= 0 || sz <= 0 {
				continue
			}
			side := models.SideLong
			if r.Side == "sell" {
				side = models.SideShort
			}
			out = append(out, models.TradePrint{
				Symbol: r.InstID,
				Side:   side,
				Price:  px,
				Size:   sz,
				At:     msTime(r.TS),
			})
		}
		return out, nil, nil

	case "tickers":
		var rows []wsTicker
		if err := sonic.Unmarshal(f.Data, &rows); err != nil {
			return nil, nil, errors.Wrap(err, "decode tickers")
		}
		out := make([]tickerUpdate, 0, len(rows))
		for _, r := range rows {
			last, err := strconv.ParseFloat(r.Last, 64)
			if err != nil || last <= 0 {
				continue
			}
			out = append(out, tickerUpdate{InstID: r.InstID, Last: last, At: msTime(r.TS)})
		}
		return nil, out, nil
	}
	return nil, nil, nil
}

func msTime(s string) time.Time {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Now()
	}
	return time.UnixMilli(ms)
}
