package helper

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeSymbol(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"BTC-USDT-SWAP", "BTC-USDT-SWAP"},
		{" btcusdt ", "BTC-USDT-SWAP"},
		{"BTCUSDT.P", "BTC-USDT-SWAP"},
		{"eth-usdt", "ETH-USDT-SWAP"},
		{"SOL", "SOL-USDT-SWAP"},
		{"PEPEUSDC", "PEPE-USDC-SWAP"},
		{"", ""},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, NormalizeSymbol(c.in), c.in)
	}
	assert.True(t, SameSymbol("btcusdt", "BTC-USDT-SWAP"))
	assert.Equal(t, "BTC", BaseAsset("btcusdt.p"))
}

func TestRounding(t *testing.T) {
	assert.Equal(t, 0.3, RoundDownToStep(0.3, 0.1))
	assert.Equal(t, 1.23, RoundDownToStep(1.2399, 0.01))
	assert.Equal(t, 10.0, RoundDownToStep(14.9, 5))
	assert.Equal(t, 1.24, RoundUpToStep(1.2301, 0.01))
	assert.Equal(t, 101.5, RoundToTick(101.49, 0.5))
	assert.Equal(t, 3, StepPrecision(0.001))
	assert.Equal(t, 0, StepPrecision(1))
	assert.Equal(t, "1.25", FormatStep(1.2599, 0.01))
}
