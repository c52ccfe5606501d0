package fixedpoint

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	maxStr = "170141183460469231731687303715884105727"
	minStr = "-170141183460469231731687303715884105728"
)

func TestBounds(t *testing.T) {
	assert.Equal(t, maxStr, Max.String())
	assert.Equal(t, minStr, Min.String())
	assert.Equal(t, Max, MustParse(maxStr))
	assert.Equal(t, Min, MustParse(minStr))

	_, err := Parse("170141183460469231731687303715884105728")
	assert.ErrorIs(t, err, ErrOverflow)

	_, err = Parse("12abc")
	assert.ErrorIs(t, err, ErrSyntax)
}

func TestFromInt64(t *testing.T) {
	assert.Equal(t, "-1", FromInt64(-1).String())
	assert.Equal(t, "9223372036854775807", FromInt64(math.MaxInt64).String())
	assert.Equal(t, "-9223372036854775808", FromInt64(math.MinInt64).String())
	assert.Equal(t, "18446744073709551615", FromUint64(math.MaxUint64).String())

	v, ok := FromInt64(-42).Int64()
	assert.True(t, ok)
	assert.Equal(t, int64(-42), v)

	_, ok = FromUint64(math.MaxUint64).Int64()
	assert.False(t, ok)
}

func TestAdd(t *testing.T) {
	r, err := FromInt64(10000).Add(FromInt64(41))
	require.NoError(t, err)
	assert.Equal(t, FromInt64(10041), r)

	// 跨越 64 位边界
	r, err = FromUint64(math.MaxUint64).Add(FromInt64(1))
	require.NoError(t, err)
	assert.Equal(t, "18446744073709551616", r.String())

	_, err = Max.Add(FromInt64(1))
	assert.ErrorIs(t, err, ErrOverflow)

	_, err = Min.Add(FromInt64(-1))
	assert.ErrorIs(t, err, ErrOverflow)
}

func TestSub(t *testing.T) {
	r, err := FromInt64(10000).Sub(FromInt64(1000))
	require.NoError(t, err)
	assert.Equal(t, FromInt64(9000), r)

	r, err = FromInt64(1).Sub(FromInt64(2))
	require.NoError(t, err)
	assert.True(t, r.IsNegative())

	_, err = Min.Sub(FromInt64(1))
	assert.ErrorIs(t, err, ErrUnderflow)

	_, err = Max.Sub(FromInt64(-1))
	assert.ErrorIs(t, err, ErrOverflow)

	_, err = FromInt64(0).Sub(Min)
	assert.ErrorIs(t, err, ErrOverflow)
}

func TestMul(t *testing.T) {
	r, err := FromInt64(-3).Mul(FromInt64(7))
	require.NoError(t, err)
	assert.Equal(t, FromInt64(-21), r)

	// 2^63 * 2^63 = 2^126
	half := FromUint64(1 << 63)
	r, err = half.Mul(half)
	require.NoError(t, err)
	assert.Equal(t, "85070591730234615865843651857942052864", r.String())

	// (2^64-1)^2 超过 2^127
	wide := FromUint64(math.MaxUint64)
	_, err = wide.Mul(wide)
	assert.ErrorIs(t, err, ErrOverflow)
}

func TestMulOverflow(t *testing.T) {
	_, err := Max.Mul(FromInt64(2))
	assert.ErrorIs(t, err, ErrOverflow)

	_, err = Min.Mul(FromInt64(-1))
	assert.ErrorIs(t, err, ErrOverflow)
}

func TestDiv(t *testing.T) {
	// 向零截断
	r, err := FromInt64(7).Div(FromInt64(2))
	require.NoError(t, err)
	assert.Equal(t, FromInt64(3), r)

	r, err = FromInt64(-7).Div(FromInt64(2))
	require.NoError(t, err)
	assert.Equal(t, FromInt64(-3), r)

	_, err = FromInt64(1).Div(Zero)
	assert.ErrorIs(t, err, ErrDivision)

	_, err = Min.Div(FromInt64(-1))
	assert.ErrorIs(t, err, ErrDivision)
}

func TestCmpAndSign(t *testing.T) {
	assert.Equal(t, -1, FromInt64(-1).Cmp(Zero))
	assert.Equal(t, 1, FromUint64(math.MaxUint64).Cmp(FromInt64(math.MaxInt64)))
	assert.Equal(t, 0, MustParse("123").Cmp(FromInt64(123)))
	assert.Equal(t, -1, Min.Cmp(Max))

	assert.Equal(t, 0, Zero.Sign())
	assert.Equal(t, 1, FromInt64(5).Sign())
	assert.Equal(t, -1, FromInt64(-5).Sign())
	assert.True(t, FromInt64(5).IsPositive())
}

func TestJSON(t *testing.T) {
	type wrapper struct {
		Amount Int128 `json:"amount"`
	}

	data, err := json.Marshal(wrapper{Amount: Max})
	require.NoError(t, err)
	assert.JSONEq(t, `{"amount":"`+maxStr+`"}`, string(data))

	var w wrapper
	require.NoError(t, json.Unmarshal([]byte(`{"amount":12345}`), &w))
	assert.Equal(t, FromInt64(12345), w.Amount)

	require.NoError(t, json.Unmarshal([]byte(`{"amount":"`+minStr+`"}`), &w))
	assert.Equal(t, Min, w.Amount)

	assert.Error(t, json.Unmarshal([]byte(`{"amount":"abc"}`), &w))
}
