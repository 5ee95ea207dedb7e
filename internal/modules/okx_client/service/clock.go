package service

import (
	"context"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// ServerClock: локальное время со сдвигом до часов биржи. Подпись запросов
// берёт время только отсюда.
type ServerClock struct {
	offset atomic.Int64 // наносекунды, server - local
	now    func() time.Time
}

func NewServerClock() *ServerClock {
	return &ServerClock{now: time.Now}
}

func (s *ServerClock) Now() time.Time {
	return s.now().Add(time.Duration(s.offset.Load()))
}

func (s *ServerClock) Offset() time.Duration { return time.Duration(s.offset.Load()) }

func (s *ServerClock) SetOffset(d time.Duration) { s.offset.Store(int64(d)) }

// SyncTime читает /api/v5/public/time и запоминает сдвиг с поправкой на половину RTT.
func (c *Client) SyncTime(ctx context.Context) (time.Duration, error) {
	sent := c.clock.now()
	rows, err := call[[]struct {
		TS string `json:"ts"`
	}](ctx, c, "SyncTime", http.MethodGet, "/api/v5/public/time", nil, false)
	if err != nil {
		return 0, err
	}
	received := c.clock.now()
	if len(rows) == 0 {
		return 0, errors.New("SyncTime: empty data")
	}
	ms, err := strconv.ParseInt(rows[0].TS, 10, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "SyncTime: ts %q", rows[0].TS)
	}

	local := sent.Add(received.Sub(sent) / 2)
	offset := time.UnixMilli(ms).Sub(local)
	c.clock.SetOffset(offset)
	c.log.Info("[OKX] clock synced", zap.Duration("offset", offset))
	return offset, nil
}
