package registry

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAmount(t *testing.T) {
	cases := []struct {
		in   string
		want Amount
	}{
		{"0.05", MinFee},
		{"1", Unit},
		{"1.5", Unit + Unit/2},
		{".25", Unit / 4},
		{"0.000001", 1},
		{" 2.000000 ", 2 * Unit},
	}
	for _, tc := range cases {
		got, err := ParseAmount(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}

	for _, bad := range []string{"", "-1", "abc", "1.2.3", "0.0000001", ".", "1e3", "99999999999999999999"} {
		_, err := ParseAmount(bad)
		assert.Error(t, err, bad)
	}
}

func TestAmountString(t *testing.T) {
	assert.Equal(t, "0.05", MinFee.String())
	assert.Equal(t, "1", Unit.String())
	assert.Equal(t, "0", Amount(0).String())
	assert.Equal(t, "12.000001", (12*Unit + 1).String())
	assert.Equal(t, "-0.5", (-Unit / 2).String())
}

func TestAmountAdd(t *testing.T) {
	sum, ok := MinFee.Add(MinFee)
	assert.True(t, ok)
	assert.Equal(t, "0.1", sum.String())

	_, ok = Amount(math.MaxInt64).Add(1)
	assert.False(t, ok)
	_, ok = Amount(-1).Add(1)
	assert.False(t, ok)
}
