package tradingutils

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestDiv_Truncates(t *testing.T) {
	tests := []struct {
		name     string
		a, b     string
		places   int32
		expected string
	}{
		{"exact", "90", "1.5", 6, "60"},
		{"truncates repeating", "4", "1.000001", 6, "3.999996"},
		{"truncates to zero places", "10", "3", 0, "3"},
		{"negative toward zero", "-10", "3", 0, "-3"},
		{"division by zero", "10", "0", 6, "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, Div(d(tt.a), d(tt.b), tt.places).Equal(d(tt.expected)),
				"got %s", Div(d(tt.a), d(tt.b), tt.places))
		})
	}
}

func TestDivUp(t *testing.T) {
	assert.Equal(t, "4", DivUp(d("10"), d("3"), 0).String())
	assert.Equal(t, "3", DivUp(d("9"), d("3"), 0).String())
	assert.Equal(t, "0.333334", DivUp(d("1"), d("3"), 6).String())
	assert.Equal(t, "-4", DivUp(d("-10"), d("3"), 0).String())
}

func TestMulDiv_SingleRounding(t *testing.T) {
	// 90 * 45 / 75 = 54 exactly, no intermediate rounding
	assert.Equal(t, "54", MulDiv(d("90"), d("45"), d("75"), 18).String())
	// 1/3 * 3 would lose precision if divided first
	assert.Equal(t, "1", MulDiv(d("1"), d("3"), d("3"), 6).String())
}

func TestNormalizeDenormalize(t *testing.T) {
	price := d("0.5")
	cost := Normalize(d("3.000001"), price)
	assert.Equal(t, "1.5000005", cost.String())

	// back to 6 decimals
	assert.Equal(t, "3.000001", Denormalize(cost, price, 6).String())

	// truncation to asset decimals
	assert.Equal(t, "0.33", Denormalize(d("1"), d("3"), 2).String())
	assert.Equal(t, "0.34", DenormalizeUp(d("1"), d("3"), 2).String())
}

func TestConvert(t *testing.T) {
	// 100 units priced 2 into an asset priced 3 with 6 decimals
	assert.Equal(t, "66.666666", Convert(d("100"), d("2"), d("3"), 6).String())
	assert.Equal(t, "66.666667", ConvertUp(d("100"), d("2"), d("3"), 6).String())
}

func TestApplyBps(t *testing.T) {
	assert.Equal(t, "97", ApplyBps(d("100"), 300, 6).String())
	assert.Equal(t, "100", ApplyBps(d("100"), 0, 6).String())
}

func TestMinMax(t *testing.T) {
	assert.Equal(t, "1", Min(d("1"), d("2")).String())
	assert.Equal(t, "2", Max(d("1"), d("2")).String())
	assert.True(t, PositiveOrZero(d("-1")).IsZero())
	assert.Equal(t, "5", PositiveOrZero(d("5")).String())
}
