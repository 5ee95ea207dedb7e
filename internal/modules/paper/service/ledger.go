package service

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"

	"slot_trader/internal/models"
)

type LedgerState struct {
	Balance   float64              `yaml:"balance"`
	Positions []models.SimPosition `yaml:"positions"`
	History   []models.ClosedOrder `yaml:"history"`
}

// Ledger: снимок paper-счёта в YAML-файле.
type Ledger struct {
	path string
}

func NewLedger(path string) *Ledger {
	if path == "" {
		return nil
	}
	return &Ledger{path: path}
}

func (l *Ledger) Load() (LedgerState, bool, error) {
	var st LedgerState
	raw, err := os.ReadFile(l.path)
	if os.IsNotExist(err) {
		return st, false, nil
	}
	if err != nil {
		return st, false, errors.Wrap(err, "ledger read")
	}
	if err := yaml.Unmarshal(raw, &st); err != nil {
		return st, false, errors.Wrapf(err, "ledger decode %s", l.path)
	}
	return st, true, nil
}

// Save пишет во временный файл и переименовывает, чтобы не оставить половину снимка.
func (l *Ledger) Save(st LedgerState) error {
	raw, err := yaml.Marshal(st)
	if err != nil {
		return errors.Wrap(err, "ledger encode")
	}
	tmp, err := os.CreateTemp(filepath.Dir(l.path), ".paper-*.yaml")
	if err != nil {
		return errors.Wrap(err, "ledger temp")
	}
	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return errors.Wrap(err, "ledger write")
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return errors.Wrap(err, "ledger close")
	}
	return errors.Wrap(os.Rename(tmp.Name(), l.path), "ledger rename")
}
