package bankroll

import (
	"sort"
	"sync"

	"slot_trader/internal/helper"
	"slot_trader/internal/models"
)

// Reservations: слоты, захваченные на окно admit -> ордер выставлен.
// Общие для аллокатора и сверки, чтобы сверка не подбирала позицию,
// которую аллокатор ещё не успел записать в слот.
type Reservations struct {
	mu     sync.Mutex
	bySlot map[int]string
}

func NewReservations() *Reservations {
	return &Reservations{bySlot: make(map[int]string)}
}

func (r *Reservations) Add(symbol string, slotID int) {
	r.mu.Lock()
	r.bySlot[slotID] = helper.NormalizeSymbol(symbol)
	r.mu.Unlock()
}

func (r *Reservations) Remove(symbol string, slotID int) {
	r.mu.Lock()
	if r.bySlot[slotID] == helper.NormalizeSymbol(symbol) {
		delete(r.bySlot, slotID)
	}
	r.mu.Unlock()
}

func (r *Reservations) Has(symbol string) bool {
	sym := helper.NormalizeSymbol(symbol)
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.bySlot {
		if s == sym {
			return true
		}
	}
	return false
}

func (r *Reservations) SlotTaken(slotID int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.bySlot[slotID]
	return ok
}

func (r *Reservations) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.bySlot)
}

func (r *Reservations) Snapshot() []models.PendingReservation {
	r.mu.Lock()
	out := make([]models.PendingReservation, 0, len(r.bySlot))
	for id, s := range r.bySlot {
		out = append(out, models.PendingReservation{Symbol: s, SlotID: id})
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].SlotID < out[j].SlotID })
	return out
}
