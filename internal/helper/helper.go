package helper

import (
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

const swapSuffix = "-USDT-SWAP"

// NormalizeSymbol приводит любое написание к instId OKX: "btcusdt.p" -> "BTC-USDT-SWAP".
func NormalizeSymbol(raw string) string {
	s := strings.ToUpper(strings.TrimSpace(raw))
	s = strings.TrimSuffix(s, ".P")
	if s == "" {
		return ""
	}
	if strings.HasSuffix(s, "-SWAP") {
		return s
	}
	if strings.Contains(s, "-") {
		// BTC-USDT / BTC-USDC
		return s + "-SWAP"
	}
	for _, quote := range []string{"USDT", "USDC"} {
		if base, ok := strings.CutSuffix(s, quote); ok && base != "" {
			return base + "-" + quote + "-SWAP"
		}
	}
	return s + swapSuffix
}

// BaseAsset: "BTC-USDT-SWAP" -> "BTC".
func BaseAsset(symbol string) string {
	s := NormalizeSymbol(symbol)
	if i := strings.IndexByte(s, '-'); i > 0 {
		return s[:i]
	}
	return s
}

func SameSymbol(a, b string) bool {
	return NormalizeSymbol(a) == NormalizeSymbol(b)
}

// RoundDownToStep округляет вниз к шагу в десятичной арифметике,
// чтобы 0.3/0.1 не превращалось в 2.9999.
func RoundDownToStep(v, step float64) float64 {
	if step <= 0 {
		return v
	}
	d := decimal.NewFromFloat(v)
	st := decimal.NewFromFloat(step)
	out, _ := d.Div(st).Floor().Mul(st).Float64()
	return out
}

func RoundUpToStep(v, step float64) float64 {
	if step <= 0 {
		return v
	}
	d := decimal.NewFromFloat(v)
	st := decimal.NewFromFloat(step)
	out, _ := d.Div(st).Ceil().Mul(st).Float64()
	return out
}

// RoundToTick: ближайший тик; для стоп-цен.
func RoundToTick(px, tick float64) float64 {
	if tick <= 0 {
		return px
	}
	d := decimal.NewFromFloat(px)
	st := decimal.NewFromFloat(tick)
	out, _ := d.Div(st).Round(0).Mul(st).Float64()
	return out
}

// StepPrecision: 0.001 -> 3, 1 -> 0, 5 -> 0.
func StepPrecision(step float64) int {
	if step <= 0 || step >= 1 {
		return 0
	}
	return int(math.Round(-math.Log10(step)))
}

// FormatStep печатает число, кратное шагу, без хвостовых нулей.
func FormatStep(v, step float64) string {
	return decimal.NewFromFloat(RoundDownToStep(v, step)).String()
}

func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
