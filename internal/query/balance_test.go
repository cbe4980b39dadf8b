package query_test

import (
	"testing"

	"HookLedger/internal/query"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatter_Amount(t *testing.T) {
	f := query.NewFormatter(map[string]int32{"USDC": 6, "WBTC": 8}, 18)

	assert.Equal(t, query.Amount{Raw: 1_500_000, Display: "1.500000"}, f.Amount("USDC", 1_500_000))
	assert.Equal(t, "-0.000001", f.Amount("USDC", -1).Display)
	assert.Equal(t, "0.00000001", f.Amount("WBTC", 1).Display)
	assert.Equal(t, "0.000000000000000042", f.Amount("UNKNOWN", 42).Display)
	assert.Equal(t, int32(18), f.Decimals("UNKNOWN"))
}

func TestFormatter_ParseAmount(t *testing.T) {
	f := query.NewFormatter(map[string]int32{"USDC": 6}, 18)

	v, err := f.ParseAmount("USDC", "1.5")
	require.NoError(t, err)
	assert.Equal(t, int64(1_500_000), v)

	v, err = f.ParseAmount("USDC", "-0.000002")
	require.NoError(t, err)
	assert.Equal(t, int64(-2), v)

	_, err = f.ParseAmount("USDC", "0.0000001")
	var perr *query.PrecisionError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "USDC", perr.Token)

	_, err = f.ParseAmount("USDC", "99999999999999999999")
	require.ErrorAs(t, err, &perr)

	_, err = f.ParseAmount("USDC", "abc")
	require.Error(t, err)
}

func TestFormatter_RoundTrip(t *testing.T) {
	f := query.NewFormatter(map[string]int32{"USDC": 6}, 18)
	for _, raw := range []int64{0, 1, 999_999, 1_000_000, -12_345_678} {
		back, err := f.ParseAmount("USDC", f.Amount("USDC", raw).Display)
		require.NoError(t, err)
		assert.Equal(t, raw, back)
	}
}
