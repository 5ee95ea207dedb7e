package service

import (
	"context"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"slot_trader/internal/helper"
	"slot_trader/internal/models"
)

// LastPrice: последняя цена по /market/ticker. Успешный ответ обновляет локальный кэш,
// чтобы переживать короткие обрывы сети.
func (c *Client) LastPrice(ctx context.Context, symbol string) (float64, error) {
	instID := helper.NormalizeSymbol(symbol)
	rows, err := call[[]tickerRow](ctx, c, "LastPrice", http.MethodGet,
		"/api/v5/market/ticker?instId="+url.QueryEscape(instID), nil, false)
	if err != nil {
		if px, ok := c.cachedPrice(instID); ok && errors.Is(err, models.ErrTransient) {
			return px, nil
		}
		return 0, err
	}
	if len(rows) == 0 {
		return 0, errors.Wrapf(models.ErrNoPrice, "LastPrice %s: empty data", instID)
	}
	px, err := strconv.ParseFloat(rows[0].Last, 64)
	if err != nil || px <= 0 {
		return 0, errors.Wrapf(models.ErrNoPrice, "LastPrice %s: last=%q", instID, rows[0].Last)
	}
	c.storePrice(instID, px)
	return px, nil
}

// LastPrices: цены пачкой из одного запроса /market/tickers.
// Символы без цены в ответе не попадают.
func (c *Client) LastPrices(ctx context.Context, symbols []string) (map[string]float64, error) {
	out := make(map[string]float64, len(symbols))
	if len(symbols) == 0 {
		return out, nil
	}
	tickers, err := c.Tickers(ctx)
	if err != nil {
		if !errors.Is(err, models.ErrTransient) {
			return nil, err
		}
		for _, s := range symbols {
			if px, ok := c.cachedPrice(helper.NormalizeSymbol(s)); ok {
				out[helper.NormalizeSymbol(s)] = px
			}
		}
		if len(out) == 0 {
			return nil, err
		}
		return out, nil
	}
	for _, s := range symbols {
		id := helper.NormalizeSymbol(s)
		if t, ok := tickers[id]; ok && t.Last > 0 {
			out[id] = t.Last
		}
	}
	return out, nil
}

// Tickers: все USDT-SWAP тикеры.
func (c *Client) Tickers(ctx context.Context) (map[string]models.Ticker, error) {
	rows, err := call[[]tickerRow](ctx, c, "Tickers", http.MethodGet,
		"/api/v5/market/tickers?instType=SWAP", nil, false)
	if err != nil {
		return nil, err
	}
	now := c.clock.Now()
	out := make(map[string]models.Ticker, len(rows))
	for _, r := range rows {
		if !strings.HasSuffix(r.InstID, "-USDT-SWAP") {
			continue
		}
		last, err := strconv.ParseFloat(r.Last, 64)
		if err != nil || last <= 0 {
			continue
		}
		vol, _ := strconv.ParseFloat(r.VolCcy24h, 64)
		out[r.InstID] = models.Ticker{Symbol: r.InstID, Last: last, Turnover: vol * last, UpdatedAt: now}
		c.storePrice(r.InstID, last)
	}
	return out, nil
}

// TopByTurnover: n самых ликвидных USDT-SWAP по 24h обороту в USDT.
func (c *Client) TopByTurnover(ctx context.Context, n int) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}
	tickers, err := c.Tickers(ctx)
	if err != nil {
		return nil, err
	}
	arr := make([]models.Ticker, 0, len(tickers))
	for _, t := range tickers {
		if t.Turnover > 0 {
			arr = append(arr, t)
		}
	}
	sort.Slice(arr, func(i, j int) bool {
		if arr[i].Turnover != arr[j].Turnover {
			return arr[i].Turnover > arr[j].Turnover
		}
		return arr[i].Symbol < arr[j].Symbol
	})
	if n > len(arr) {
		n = len(arr)
	}
	res := make([]string, 0, n)
	for i := 0; i < n; i++ {
		res = append(res, arr[i].Symbol)
	}
	return res, nil
}

// Candles: закрытые и текущая свечи, от старых к новым.
// Строка OKX: [ts, o, h, l, c, vol, volCcy, volCcyQuote, confirm].
func (c *Client) Candles(ctx context.Context, symbol, tf string, limit int) ([]models.Candle, error) {
	if limit <= 0 {
		limit = 100
	}
	bar, err := okxBar(tf)
	if err != nil {
		return nil, errors.Wrap(models.ErrValidation, err.Error())
	}
	instID := helper.NormalizeSymbol(symbol)

	q := url.Values{}
	q.Set("instId", instID)
	q.Set("bar", bar)
	q.Set("limit", strconv.Itoa(limit))
	rows, err := call[[][]string](ctx, c, "Candles", http.MethodGet, "/api/v5/market/candles?"+q.Encode(), nil, false)
	if err != nil {
		return nil, err
	}
	return parseCandles(instID, rows), nil
}

func parseCandles(instID string, rows [][]string) []models.Candle {
	// OKX отдаёт newest-first, разворачиваем
	out := make([]models.Candle, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		row := rows[i]
		if len(row) < 5 {
			continue
		}
		tsMs, err := strconv.ParseInt(row[0], 10, 64)
		if err != nil {
			continue
		}
		open, _ := strconv.ParseFloat(row[1], 64)
		high, _ := strconv.ParseFloat(row[2], 64)
		low, _ := strconv.ParseFloat(row[3], 64)
		closep, _ := strconv.ParseFloat(row[4], 64)
		if closep <= 0 {
			continue
		}
		var vol float64
		if len(row) >= 6 {
			vol, _ = strconv.ParseFloat(row[5], 64)
		}
		out = append(out, models.Candle{
			Symbol: instID,
			Open:   open,
			High:   high,
			Low:    low,
			Close:  closep,
			Volume: vol,
			Start:  time.UnixMilli(tsMs),
		})
	}
	return out
}

func okxBar(tf string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(tf)) {
	case "1m", "3m", "5m", "15m", "30m":
		return strings.ToLower(strings.TrimSpace(tf)), nil
	case "60m", "1h":
		return "1H", nil
	case "2h":
		return "2H", nil
	case "4h":
		return "4H", nil
	case "6h":
		return "6H", nil
	case "12h":
		return "12H", nil
	case "1d":
		return "1D", nil
	case "1w":
		return "1W", nil
	}
	return "", errors.Errorf("unsupported timeframe for OKX bar: %q", tf)
}

func (c *Client) cachedPrice(instID string) (float64, bool) {
	c.pxMu.RLock()
	defer c.pxMu.RUnlock()
	px, ok := c.lastPx[instID]
	return px, ok && px > 0
}

func (c *Client) storePrice(instID string, px float64) {
	c.pxMu.Lock()
	c.lastPx[instID] = px
	c.pxMu.Unlock()
}
