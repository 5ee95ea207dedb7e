// Package workpool ограничивает число одновременных блокирующих вызовов к бирже и хранилищу
// и навешивает на каждый вызов таймаут.
package workpool

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/semaphore"
)

type Config struct {
	Size        int64         `mapstructure:"size"`
	CallTimeout time.Duration `mapstructure:"call_timeout"`
}

type Pool struct {
	sem     *semaphore.Weighted
	timeout time.Duration
}

func New(cfg Config) *Pool {
	if cfg.Size <= 0 {
		cfg.Size = 8
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 10 * time.Second
	}
	return &Pool{
		sem:     semaphore.NewWeighted(cfg.Size),
		timeout: cfg.CallTimeout,
	}
}

func (p *Pool) Timeout() time.Duration { return p.timeout }

// Do занимает слот пула и выполняет fn с дедлайном. Ожидание слота тоже
// ограничено тем же дедлайном.
func (p *Pool) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	if err := p.sem.Acquire(ctx, 1); err != nil {
		return errors.Wrap(err, "workpool acquire")
	}
	defer p.sem.Release(1)

	return fn(ctx)
}

// Call: Do с результатом.
func Call[T any](ctx context.Context, p *Pool, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := p.Do(ctx, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}
