package service

import (
	"context"

	"github.com/bytedance/sonic"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"slot_trader/internal/models"
	"slot_trader/pkg/db"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS slots (
		id         INT PRIMARY KEY,
		doc        JSONB NOT NULL DEFAULT '{}'::jsonb,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS trade_history (
		id        BIGSERIAL PRIMARY KEY,
		slot_id   INT NOT NULL,
		symbol    TEXT NOT NULL,
		pnl       DOUBLE PRECISION NOT NULL,
		reason    TEXT NOT NULL,
		closed_at TIMESTAMPTZ NOT NULL,
		doc       JSONB NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS trade_history_closed_at_idx ON trade_history (closed_at)`,
	`CREATE TABLE IF NOT EXISTS cycle_state (
		id  INT PRIMARY KEY,
		doc JSONB NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS bankroll_status (
		id  INT PRIMARY KEY,
		doc JSONB NOT NULL
	)`,
}

const (
	qInsertSlot  = `INSERT INTO slots (id, doc) VALUES ($1, $2::jsonb) ON CONFLICT (id) DO NOTHING`
	qSelectSlots = `SELECT id, doc FROM slots ORDER BY id`
	// merge как в документной базе: поля патча перекрывают старые, null очищает
	qMergeSlot    = `UPDATE slots SET doc = doc || $2::jsonb, updated_at = now() WHERE id = $1`
	qInsertTrade  = `INSERT INTO trade_history (slot_id, symbol, pnl, reason, closed_at, doc) VALUES ($1, $2, $3, $4, $5, $6::jsonb)`
	qSelectCycle  = `SELECT doc FROM cycle_state WHERE id = 1`
	qUpsertCycle  = `INSERT INTO cycle_state (id, doc) VALUES (1, $1::jsonb) ON CONFLICT (id) DO UPDATE SET doc = EXCLUDED.doc`
	qUpsertStatus = `INSERT INTO bankroll_status (id, doc) VALUES (1, $1::jsonb) ON CONFLICT (id) DO UPDATE SET doc = EXCLUDED.doc`
)

func selectDoc(ctx context.Context, tx db.Transaction, q string, args ...any) ([]byte, bool, error) {
	var doc []byte
	err := tx.QueryRow(ctx, q, args...).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return doc, true, nil
}

func encode(v any) (string, error) {
	b, err := sonic.Marshal(v)
	if err != nil {
		return "", errors.Wrap(err, "encode document")
	}
	return string(b), nil
}

func decode(doc []byte, v any) error {
	if len(doc) == 0 {
		return nil
	}
	return errors.Wrap(sonic.Unmarshal(doc, v), "decode document")
}

func encodeSlot(s models.Slot) (string, error) { return encode(s) }

func encodePatch(u models.SlotUpdate) (string, error) { return encode(map[string]any(u)) }

func decodeSlot(id int, doc []byte) (models.Slot, error) {
	var s models.Slot
	if err := decode(doc, &s); err != nil {
		return models.Slot{}, errors.Wrapf(err, "slot %d", id)
	}
	s.ID = id
	return s, nil
}
