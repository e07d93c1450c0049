package tradingutils_test

import (
	"pairs_trader/pkg/tradingutils"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestAlignToLot(t *testing.T) {
	tests := []struct {
		name string
		qty  string
		lot  string
		want string
	}{
		{"exact multiple", "10", "1", "10"},
		{"truncates down", "9.8039", "1", "9"},
		{"fractional lot", "9.8039", "0.1", "9.8"},
		{"below one lot is zero", "0.7", "1", "0"},
		{"negative truncates toward zero", "-9.8039", "1", "-9"},
		{"negative below one lot", "-0.3", "1", "0"},
		{"zero qty", "0", "1", "0"},
		{"zero lot leaves qty", "9.8039", "0", "9.8039"},
		{"small lot", "1.23456", "0.001", "1.234"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tradingutils.AlignToLot(d(tt.qty), d(tt.lot))
			assert.True(t, d(tt.want).Equal(got), "got %s want %s", got, tt.want)
		})
	}
}

func TestAlignToLotIsIdempotent(t *testing.T) {
	quantities := []string{"10", "9.8039", "-123.456", "0.0007", "55.5"}
	lots := []string{"1", "0.1", "0.001", "5"}

	for _, q := range quantities {
		for _, l := range lots {
			once := tradingutils.AlignToLot(d(q), d(l))
			twice := tradingutils.AlignToLot(once, d(l))
			assert.True(t, once.Equal(twice), "qty=%s lot=%s: %s != %s", q, l, once, twice)
			assert.True(t, tradingutils.IsLotAligned(once, d(l)))
		}
	}
}

func TestSpreadPercent(t *testing.T) {
	tests := []struct {
		name string
		buy  string
		sell string
		want string
	}{
		{"favorable", "100", "102", "1.9607843137254902"},
		{"flat", "100", "100", "0"},
		{"unfavorable", "102", "100", "-2"},
		{"zero sell price", "100", "0", "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tradingutils.SpreadPercent(d(tt.buy), d(tt.sell))
			assert.True(t, got.Sub(d(tt.want)).Abs().LessThan(d("0.0000001")),
				"got %s want %s", got, tt.want)
		})
	}
}

func TestNotional(t *testing.T) {
	assert.True(t, d("1000").Equal(tradingutils.Notional(d("100"), d("10"))))
	assert.True(t, d("1000").Equal(tradingutils.Notional(d("100"), d("-10"))))
}

func TestWeightedAvgPrice(t *testing.T) {
	assert.True(t, d("102").Equal(tradingutils.WeightedAvgPrice(d("918"), d("9"))))
	assert.True(t, d("102").Equal(tradingutils.WeightedAvgPrice(d("918"), d("-9"))))
	assert.True(t, decimal.Zero.Equal(tradingutils.WeightedAvgPrice(d("918"), decimal.Zero)))
}
