package scorer

import (
	"math"
	"sort"
	"sync"

	"slot_trader/internal/helper"
	"slot_trader/internal/models"
)

// ring: кольцевой буфер подписанного нотионала одного инструмента.
type ring struct {
	buf  []float64
	next int
	full bool
}

func newRing(n int) *ring {
	if n <= 0 {
		n = 1
	}
	return &ring{buf: make([]float64, n)}
}

func (r *ring) push(v float64) {
	r.buf[r.next] = v
	r.next++
	if r.next == len(r.buf) {
		r.next = 0
		r.full = true
	}
}

func (r *ring) values() []float64 {
	if !r.full {
		return r.buf[:r.next]
	}
	return r.buf
}

// FlowBook хранит CVD по инструментам. Безопасен для конкурентного доступа.
type FlowBook struct {
	size int

	mu    sync.RWMutex
	rings map[string]*ring
}

func NewFlowBook(size int) *FlowBook {
	return &FlowBook{size: size, rings: make(map[string]*ring)}
}

func (f *FlowBook) Add(t models.TradePrint) {
	v := t.SignedNotional()
	if v == 0 || math.IsNaN(v) {
		return
	}
	sym := helper.NormalizeSymbol(t.Symbol)

	f.mu.Lock()
	r, ok := f.rings[sym]
	if !ok {
		r = newRing(f.size)
		f.rings[sym] = r
	}
	r.push(v)
	f.mu.Unlock()
}

// CVD: сумма буфера.
func (f *FlowBook) CVD(symbol string) float64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	r, ok := f.rings[helper.NormalizeSymbol(symbol)]
	if !ok {
		return 0
	}
	sum := 0.0
	for _, v := range r.values() {
		sum += v
	}
	return sum
}

// LargestPrint: крупнейший нотионал в буфере в сторону side.
func (f *FlowBook) LargestPrint(symbol string, side models.Side) float64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	r, ok := f.rings[helper.NormalizeSymbol(symbol)]
	if !ok {
		return 0
	}
	best := 0.0
	for _, v := range r.values() {
		if a := v * side.Sign(); a > best {
			best = a
		}
	}
	return best
}

// Active: символы с |CVD| >= minFlow, по убыванию |CVD|.
func (f *FlowBook) Active(minFlow float64) []string {
	snap := f.Snapshot()
	out := make([]string, 0, len(snap))
	for sym, cvd := range snap {
		if math.Abs(cvd) >= minFlow {
			out = append(out, sym)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := math.Abs(snap[out[i]]), math.Abs(snap[out[j]])
		if a == b {
			return out[i] < out[j]
		}
		return a > b
	})
	return out
}

func (f *FlowBook) Snapshot() map[string]float64 {
	f.mu.RLock()
	syms := make([]string, 0, len(f.rings))
	for sym := range f.rings {
		syms = append(syms, sym)
	}
	f.mu.RUnlock()

	out := make(map[string]float64, len(syms))
	for _, sym := range syms {
		out[sym] = f.CVD(sym)
	}
	return out
}
