package money

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		raw  string
		want Amount
	}{
		{raw: "1000", want: 100000},
		{raw: "149.9", want: 14990},
		{raw: "0,50", want: 50},
		{raw: " 12.34 ", want: 1234},
		{raw: "92233720368547758.07", want: Amount(math.MaxInt64)},
	}
	for _, tt := range tests {
		got, err := Parse(tt.raw)
		require.NoError(t, err, tt.raw)
		assert.Equal(t, tt.want, got, tt.raw)
	}

	bad := []string{
		"", "abc", "-1", "1.001",
		"92233720368547758.08",
		"184467440737095517.16",
		"1e30",
	}
	for _, raw := range bad {
		_, err := Parse(raw)
		assert.Error(t, err, raw)
	}
}

func TestString(t *testing.T) {
	assert.Equal(t, "1000.00", Amount(100000).String())
	assert.Equal(t, "0.07", Amount(7).String())
}

func TestSplitSeventyThirty(t *testing.T) {
	author, platform := Split(100000, decimal.RequireFromString("0.7"))
	assert.Equal(t, Amount(70000), author)
	assert.Equal(t, Amount(30000), platform)
}

func TestSplitAlwaysSumsExactly(t *testing.T) {
	percents := []string{"0", "0.7", "0.8", "0.333", "0.5", "1"}
	for _, p := range percents {
		pct := decimal.RequireFromString(p)
		for amount := Amount(0); amount <= 2500; amount += 7 {
			author, platform := Split(amount, pct)
			require.Equal(t, amount, author+platform, "amount=%d pct=%s", amount, p)
			require.GreaterOrEqual(t, int64(author), int64(0))
			require.GreaterOrEqual(t, int64(platform), int64(0))
		}
	}
}

func TestSplitRoundsHalfUp(t *testing.T) {
	author, platform := Split(5, decimal.RequireFromString("0.7"))
	assert.Equal(t, Amount(4), author)
	assert.Equal(t, Amount(1), platform)
}

func TestJSONUsesMajorUnits(t *testing.T) {
	b, err := json.Marshal(struct {
		Price Amount `json:"price"`
	}{Price: 123456})
	require.NoError(t, err)
	assert.JSONEq(t, `{"price":"1234.56"}`, string(b))

	var in struct {
		Price Amount `json:"price"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"price":99.5}`), &in))
	assert.Equal(t, Amount(9950), in.Price)
}
