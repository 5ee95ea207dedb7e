// Package service: документы слотов, цикла и статуса банкролла в Postgres (JSONB),
// история сделок. Без базы работает в памяти процесса.
package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"slot_trader/internal/models"
	"slot_trader/pkg/db"
	"slot_trader/pkg/workpool"
)

// DB: то, что нужно хранилищу от pkg/db.
type DB interface {
	RunMaster(ctx context.Context, fn func(ctxTx context.Context, tx db.Transaction) error) error
	Conn() db.Transaction
}

type Store struct {
	db   DB // nil: offline, всё в памяти
	pool *workpool.Pool
	log  *zap.Logger

	mu       sync.RWMutex
	slots    map[int]models.Slot
	gens     map[int]uint64 // счётчик успешных записей по слоту
	cycle    *models.Cycle
	status   models.BankrollStatus
	trades   []models.TradeRecord
	maxSlots int
}

func New(database DB, pool *workpool.Pool, maxSlots int, log *zap.Logger) *Store {
	if database == nil {
		log.Warn("[STORE] no database, running offline")
	}
	return &Store{
		db:       database,
		pool:     pool,
		log:      log,
		slots:    make(map[int]models.Slot, maxSlots),
		gens:     make(map[int]uint64, maxSlots),
		maxSlots: maxSlots,
	}
}

func (s *Store) Offline() bool { return s.db == nil }

// read: чтение с повтором при сетевых ошибках.
func read[T any](ctx context.Context, s *Store, op string, fn func(ctx context.Context, tx db.Transaction) (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxElapsedTime = 2 * time.Second

	v, err := backoff.RetryWithData(func() (T, error) {
		return workpool.Call(ctx, s.pool, func(ctx context.Context) (T, error) {
			return fn(ctx, s.db.Conn())
		})
	}, backoff.WithContext(backoff.WithMaxRetries(b, 2), ctx))
	if err != nil {
		return v, errors.Wrapf(models.ErrTransient, "%s: %v", op, err)
	}
	return v, nil
}

// write не повторяется: вызывающий решает сам.
func (s *Store) write(ctx context.Context, op string, fn func(ctx context.Context, tx db.Transaction) error) error {
	err := s.pool.Do(ctx, func(ctx context.Context) error {
		return fn(ctx, s.db.Conn())
	})
	if err != nil {
		return errors.Wrapf(models.ErrTransient, "%s: %v", op, err)
	}
	return nil
}

// EnsureSchema создаёт таблицы, если их нет.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if s.Offline() {
		return nil
	}
	return s.pool.Do(ctx, func(ctx context.Context) error {
		return s.db.RunMaster(ctx, func(ctx context.Context, tx db.Transaction) error {
			for _, q := range schema {
				if _, err := tx.Exec(ctx, q); err != nil {
					return errors.Wrap(err, "EnsureSchema")
				}
			}
			return nil
		})
	})
}

// EnsureSlots создаёт пустые документы 1..n, существующие не трогает.
func (s *Store) EnsureSlots(ctx context.Context, n int) error {
	now := time.Now().UTC()
	s.mu.Lock()
	for id := 1; id <= n; id++ {
		if _, ok := s.slots[id]; !ok {
			s.slots[id] = models.Slot{ID: id, UpdatedAt: now}
		}
	}
	s.mu.Unlock()

	if s.Offline() {
		return nil
	}
	err := s.pool.Do(ctx, func(ctx context.Context) error {
		return s.db.RunMaster(ctx, func(ctx context.Context, tx db.Transaction) error {
			for id := 1; id <= n; id++ {
				doc, err := encodeSlot(models.Slot{ID: id, UpdatedAt: now})
				if err != nil {
					return err
				}
				if _, err := tx.Exec(ctx, qInsertSlot, id, doc); err != nil {
					return errors.Wrapf(err, "insert slot %d", id)
				}
			}
			return nil
		})
	})
	if err != nil {
		return errors.Wrapf(models.ErrTransient, "EnsureSlots: %v", err)
	}
	_, err = s.Slots(ctx)
	return err
}

// Slots: все слоты по id. При недоступной базе отдаёт последний снимок вместе с ошибкой.
// Слот, записанный во время чтения, берётся из кэша: строка базы для него уже старая.
func (s *Store) Slots(ctx context.Context) ([]models.Slot, error) {
	if s.Offline() {
		return s.snapshot(), nil
	}
	s.mu.RLock()
	before := make(map[int]uint64, len(s.gens))
	for id, g := range s.gens {
		before[id] = g
	}
	s.mu.RUnlock()

	slots, err := read(ctx, s, "Slots", func(ctx context.Context, tx db.Transaction) ([]models.Slot, error) {
		rows, err := tx.Query(ctx, qSelectSlots)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		var out []models.Slot
		for rows.Next() {
			var (
				id  int
				doc []byte
			)
			if err := rows.Scan(&id, &doc); err != nil {
				return nil, backoff.Permanent(errors.Wrap(err, "scan slot"))
			}
			sl, err := decodeSlot(id, doc)
			if err != nil {
				return nil, backoff.Permanent(err)
			}
			out = append(out, sl)
		}
		return out, rows.Err()
	})
	if err != nil {
		s.log.Warn("[STORE] slots read failed, serving cache", zap.Error(err))
		return s.snapshot(), err
	}

	s.mu.Lock()
	for i, sl := range slots {
		if s.gens[sl.ID] != before[sl.ID] {
			slots[i] = s.slots[sl.ID]
			continue
		}
		s.slots[sl.ID] = sl
	}
	s.mu.Unlock()
	return slots, nil
}

func (s *Store) snapshot() []models.Slot {
	s.mu.RLock()
	out := make([]models.Slot, 0, len(s.slots))
	for _, sl := range s.slots {
		out = append(out, sl)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// UpdateSlot: частичная запись через jsonb ||; кэш обновляется только после успеха.
func (s *Store) UpdateSlot(ctx context.Context, id int, u models.SlotUpdate) error {
	if id <= 0 || (s.maxSlots > 0 && id > s.maxSlots) {
		return errors.Wrapf(models.ErrValidation, "UpdateSlot: id %d out of range", id)
	}
	if !s.Offline() {
		patch, err := encodePatch(u)
		if err != nil {
			return err
		}
		err = s.write(ctx, "UpdateSlot", func(ctx context.Context, tx db.Transaction) error {
			tag, err := tx.Exec(ctx, qMergeSlot, id, patch)
			if err != nil {
				return err
			}
			if tag.RowsAffected() == 0 {
				return errors.Errorf("slot %d missing", id)
			}
			return nil
		})
		if err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.slots[id]
	if !ok {
		cur = models.Slot{ID: id}
	}
	next, err := cur.Apply(u)
	if err != nil {
		return err
	}
	s.slots[id] = next
	s.gens[id]++
	return nil
}

func (s *Store) AppendTrade(ctx context.Context, rec models.TradeRecord) error {
	s.mu.Lock()
	s.trades = append(s.trades, rec)
	s.mu.Unlock()

	if s.Offline() {
		return nil
	}
	doc, err := encode(rec)
	if err != nil {
		return err
	}
	return s.write(ctx, "AppendTrade", func(ctx context.Context, tx db.Transaction) error {
		_, err := tx.Exec(ctx, qInsertTrade, rec.SlotID, rec.Symbol, rec.PnL, string(rec.Reason), rec.ClosedAt, doc)
		return err
	})
}

// Trades: сделки, записанные этим процессом, от старых к новым.
func (s *Store) Trades() []models.TradeRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.TradeRecord(nil), s.trades...)
}

func (s *Store) LoadCycle(ctx context.Context) (models.Cycle, bool, error) {
	if s.Offline() {
		s.mu.RLock()
		defer s.mu.RUnlock()
		if s.cycle == nil {
			return models.Cycle{}, false, nil
		}
		return *s.cycle, true, nil
	}

	type loaded struct {
		c     models.Cycle
		found bool
	}
	res, err := read(ctx, s, "LoadCycle", func(ctx context.Context, tx db.Transaction) (loaded, error) {
		doc, found, err := selectDoc(ctx, tx, qSelectCycle)
		if err != nil || !found {
			return loaded{}, err
		}
		var c models.Cycle
		if err := decode(doc, &c); err != nil {
			return loaded{}, backoff.Permanent(err)
		}
		return loaded{c: c, found: true}, nil
	})
	if err != nil {
		s.mu.RLock()
		defer s.mu.RUnlock()
		if s.cycle != nil {
			return *s.cycle, true, err
		}
		return models.Cycle{}, false, err
	}
	if res.found {
		s.mu.Lock()
		c := res.c
		s.cycle = &c
		s.mu.Unlock()
	}
	return res.c, res.found, nil
}

func (s *Store) SaveCycle(ctx context.Context, c models.Cycle) error {
	if !s.Offline() {
		doc, err := encode(c)
		if err != nil {
			return err
		}
		if err := s.write(ctx, "SaveCycle", func(ctx context.Context, tx db.Transaction) error {
			_, err := tx.Exec(ctx, qUpsertCycle, doc)
			return err
		}); err != nil {
			return err
		}
	}
	s.mu.Lock()
	s.cycle = &c
	s.mu.Unlock()
	return nil
}

func (s *Store) SaveBankrollStatus(ctx context.Context, st models.BankrollStatus) error {
	s.mu.Lock()
	s.status = st
	s.mu.Unlock()

	if s.Offline() {
		return nil
	}
	doc, err := encode(st)
	if err != nil {
		return err
	}
	return s.write(ctx, "SaveBankrollStatus", func(ctx context.Context, tx db.Transaction) error {
		_, err := tx.Exec(ctx, qUpsertStatus, doc)
		return err
	})
}

func (s *Store) BankrollStatus() models.BankrollStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}
