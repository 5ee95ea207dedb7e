package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"slot_trader/internal/models"
	"slot_trader/internal/modules/config"
	"slot_trader/pkg/workpool"
)

const tsLayout = "2006-01-02T15:04:05.000Z"

// Client: REST-шлюз OKX: рыночные данные, счёт и торговля по USDT-SWAP.
// Реализует exchange.Executor, exchange.MarketData и exchange.CandleSource.
type Client struct {
	cfg      config.OKXConfig
	leverage float64

	http    *http.Client
	baseURL string
	clock   *ServerClock
	limiter *rate.Limiter
	pool    *workpool.Pool
	log     *zap.Logger

	apiKey    string
	apiSecret string
	passph    string

	safe atomic.Bool

	instMu      sync.RWMutex
	instruments map[string]models.Instrument

	pxMu   sync.RWMutex
	lastPx map[string]float64
}

func NewClient(cfg *config.Config, clock *ServerClock, pool *workpool.Pool, log *zap.Logger) *Client {
	rps := cfg.OKX.RPS
	if rps <= 0 {
		rps = 10
	}
	base := strings.TrimRight(cfg.OKX.BaseURL, "/")
	if base == "" {
		base = "https://www.okx.com"
	}
	c := &Client{
		cfg:         cfg.OKX,
		leverage:    cfg.Bankroll.Leverage,
		http:        &http.Client{Timeout: 10 * time.Second},
		baseURL:     base,
		clock:       clock,
		limiter:     rate.NewLimiter(rate.Limit(rps), int(rps)),
		pool:        pool,
		log:         log,
		apiKey:      cfg.OKX.APIKey,
		apiSecret:   cfg.OKX.APISecret,
		passph:      cfg.OKX.Passphrase,
		instruments: make(map[string]models.Instrument),
		lastPx:      make(map[string]float64),
	}
	if !cfg.OKX.HasCredentials() {
		c.safe.Store(true)
	}
	return c
}

// SafeMode: ключей нет или они не прошли проверку. Запись на биржу запрещена.
func (c *Client) SafeMode() bool { return c.safe.Load() }

func (c *Client) EnterSafeMode(reason error) {
	if !c.safe.Swap(true) {
		c.log.Error("[OKX] safe mode enabled", zap.Error(reason))
	}
}

// Verify проверяет ключи приватным запросом баланса.
func (c *Client) Verify(ctx context.Context) error {
	if !c.cfg.HasCredentials() {
		return errors.Wrap(models.ErrSafeMode, "Verify: no credentials")
	}
	if _, err := c.Balance(ctx); err != nil {
		// отказ по ключу уже перевёл клиент в safe mode внутри call
		return errors.Wrap(err, "Verify")
	}
	c.safe.Store(false)
	return nil
}

// sign: подпись OKX: base64(hmac_sha256(secret, ts+METHOD+path+body)).
func sign(secret, ts, method, requestPath, body string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(ts + strings.ToUpper(method) + requestPath + body))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

func (c *Client) generateRequest(ctx context.Context, method, requestPath, body string, private bool) (*http.Request, error) {
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+requestPath, rd)
	if err != nil {
		return nil, errors.Wrap(err, "generateRequest")
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.Simulated {
		req.Header.Set("x-simulated-trading", "1")
	}
	if private {
		ts := c.clock.Now().UTC().Format(tsLayout)
		req.Header.Set("OK-ACCESS-KEY", c.apiKey)
		req.Header.Set("OK-ACCESS-SIGN", sign(c.apiSecret, ts, method, requestPath, body))
		req.Header.Set("OK-ACCESS-TIMESTAMP", ts)
		req.Header.Set("OK-ACCESS-PASSPHRASE", c.passph)
	}
	return req, nil
}

type envelope[T any] struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
	Data T      `json:"data"`
}

// okxError: ответ с ненулевым code. 50111..50114: проблемы с ключом/подписью.
type okxError struct {
	Op   string
	Code string
	Msg  string
}

func (e *okxError) Error() string {
	return fmt.Sprintf("%s: okx error code=%s msg=%s", e.Op, e.Code, e.Msg)
}

func (e *okxError) authFailure() bool {
	switch e.Code {
	case "50111", "50112", "50113", "50114", "50119":
		return true
	}
	return false
}

// call выполняет запрос через лимитер и пул. GET повторяется с экспоненциальной паузой,
// запись не повторяется никогда.
func call[T any](ctx context.Context, c *Client, op, method, requestPath string, body any, private bool) (T, error) {
	var zero T
	payload := ""
	if body != nil {
		b, err := sonic.Marshal(body)
		if err != nil {
			return zero, errors.Wrapf(err, "%s: marshal", op)
		}
		payload = string(b)
	}

	attempt := func() (T, error) {
		return workpool.Call(ctx, c.pool, func(ctx context.Context) (T, error) {
			if err := c.limiter.Wait(ctx); err != nil {
				return zero, backoff.Permanent(errors.Wrapf(err, "%s: rate wait", op))
			}
			req, err := c.generateRequest(ctx, method, requestPath, payload, private)
			if err != nil {
				return zero, backoff.Permanent(err)
			}
			resp, err := c.http.Do(req)
			if err != nil {
				return zero, errors.Wrapf(models.ErrTransient, "%s do: %v", op, err)
			}
			defer resp.Body.Close()

			data, _ := io.ReadAll(resp.Body)
			if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode/100 == 5 {
				return zero, errors.Wrapf(models.ErrTransient, "%s http %d: %s", op, resp.StatusCode, string(data))
			}

			var env envelope[T]
			if err := sonic.Unmarshal(data, &env); err != nil {
				return zero, backoff.Permanent(errors.Wrapf(err, "%s decode; body=%s", op, string(data)))
			}
			if env.Code != "0" {
				oe := &okxError{Op: op, Code: env.Code, Msg: env.Msg}
				if oe.authFailure() {
					c.EnterSafeMode(oe)
				}
				return zero, backoff.Permanent(oe)
			}
			return env.Data, nil
		})
	}

	if method != http.MethodGet {
		v, err := attempt()
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			err = perm.Err
		}
		return v, err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxElapsedTime = 3 * time.Second
	return backoff.RetryWithData(attempt, backoff.WithContext(backoff.WithMaxRetries(b, 3), ctx))
}
