package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormat(t *testing.T) {
	assert.Equal(t, "35.00", Format(3500))
	assert.Equal(t, "0.05", Format(5))
	assert.Equal(t, "-1.20", Format(-120))
}

func TestParse(t *testing.T) {
	cases := map[string]int64{
		"35":     3500,
		"35.5":   3550,
		"10.00":  1000,
		"0.005":  1,
		" 7.25 ": 725,
	}
	for raw, want := range cases {
		got, err := Parse(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, want, got, raw)
	}

	_, err := Parse("abc")
	assert.Error(t, err)
	_, err = Parse("")
	assert.Error(t, err)
}

func TestPercentRoundsHalfAwayFromZero(t *testing.T) {
	assert.Equal(t, int64(200), Percent(1000, decimal.NewFromInt(20)))
	// 333 * 15% = 49.95
	assert.Equal(t, int64(50), Percent(333, decimal.NewFromInt(15)))
	assert.Equal(t, int64(2700), PercentOff(3000, decimal.NewFromInt(10)))
	assert.Equal(t, int64(0), PercentOff(3000, decimal.NewFromInt(100)))
}

func TestClampZero(t *testing.T) {
	assert.Equal(t, int64(0), ClampZero(-5))
	assert.Equal(t, int64(5), ClampZero(5))
}
