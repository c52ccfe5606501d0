package fixedpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
)

// ============================================================================
// 有符号 128 位定点整数
// ============================================================================
//
// 所有金额（本金、利息、罚金）都用 Int128 表示，单位是代币最小面额。
// 每个运算都返回 (结果, error)，超出 [-2^127, 2^127-1] 时报错，绝不回绕或饱和。
//
// 内部布局与二进制补码一致：value = hi * 2^64 + lo
// ============================================================================

var (
	ErrOverflow  = errors.New("fixedpoint: 运算溢出")
	ErrUnderflow = errors.New("fixedpoint: 运算下溢")
	ErrDivision  = errors.New("fixedpoint: 除法错误")
	ErrSyntax    = errors.New("fixedpoint: 无效的整数格式")
)

var (
	two64  = new(big.Int).Lsh(big.NewInt(1), 64)
	mask64 = new(big.Int).Sub(two64, big.NewInt(1))
	maxBig = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 127), big.NewInt(1))
	minBig = new(big.Int).Neg(new(big.Int).Lsh(big.NewInt(1), 127))
)

// Int128 是不可变值类型，可直接用 == 比较
type Int128 struct {
	hi int64
	lo uint64
}

var (
	Zero = Int128{}
	Max  = Int128{hi: 1<<63 - 1, lo: 1<<64 - 1}
	Min  = Int128{hi: -1 << 63, lo: 0}
)

func FromInt64(v int64) Int128 {
	if v < 0 {
		return Int128{hi: -1, lo: uint64(v)}
	}
	return Int128{lo: uint64(v)}
}

func FromUint64(v uint64) Int128 {
	return Int128{lo: v}
}

// FromBig 超出 128 位范围时返回 ErrOverflow
func FromBig(b *big.Int) (Int128, error) {
	v, ok := fromBig(b)
	if !ok {
		return Int128{}, ErrOverflow
	}
	return v, nil
}

// Parse 解析十进制字符串
func Parse(s string) (Int128, error) {
	b, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return Int128{}, fmt.Errorf("%w: %q", ErrSyntax, s)
	}
	return FromBig(b)
}

// MustParse 仅用于常量和测试
func MustParse(s string) Int128 {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

func (a Int128) Add(b Int128) (Int128, error) {
	r, ok := fromBig(new(big.Int).Add(a.Big(), b.Big()))
	if !ok {
		return Int128{}, ErrOverflow
	}
	return r, nil
}

// Sub 结果低于 Min 返回 ErrUnderflow，高于 Max 返回 ErrOverflow
func (a Int128) Sub(b Int128) (Int128, error) {
	d := new(big.Int).Sub(a.Big(), b.Big())
	r, ok := fromBig(d)
	if !ok {
		if d.Sign() > 0 {
			return Int128{}, ErrOverflow
		}
		return Int128{}, ErrUnderflow
	}
	return r, nil
}

func (a Int128) Mul(b Int128) (Int128, error) {
	r, ok := fromBig(new(big.Int).Mul(a.Big(), b.Big()))
	if !ok {
		return Int128{}, ErrOverflow
	}
	return r, nil
}

// Div 向零截断，除数为零或结果越界（Min / -1）时返回 ErrDivision
func (a Int128) Div(b Int128) (Int128, error) {
	if b.IsZero() {
		return Int128{}, ErrDivision
	}
	r, ok := fromBig(new(big.Int).Quo(a.Big(), b.Big()))
	if !ok {
		return Int128{}, ErrDivision
	}
	return r, nil
}

func (a Int128) Cmp(b Int128) int {
	switch {
	case a.hi < b.hi:
		return -1
	case a.hi > b.hi:
		return 1
	case a.lo < b.lo:
		return -1
	case a.lo > b.lo:
		return 1
	}
	return 0
}

func (a Int128) Sign() int {
	switch {
	case a.hi < 0:
		return -1
	case a.hi == 0 && a.lo == 0:
		return 0
	}
	return 1
}

func (a Int128) IsZero() bool     { return a.hi == 0 && a.lo == 0 }
func (a Int128) IsPositive() bool { return a.Sign() > 0 }
func (a Int128) IsNegative() bool { return a.hi < 0 }

// Int64 返回值以及是否能无损放入 int64
func (a Int128) Int64() (int64, bool) {
	if (a.hi == 0 && a.lo <= 1<<63-1) || (a.hi == -1 && a.lo >= 1<<63) {
		return int64(a.lo), true
	}
	return 0, false
}

func (a Int128) Big() *big.Int {
	b := new(big.Int).SetInt64(a.hi)
	b.Lsh(b, 64)
	return b.Add(b, new(big.Int).SetUint64(a.lo))
}

func (a Int128) String() string {
	return a.Big().String()
}

// MarshalJSON 输出带引号的十进制字符串，避免 JSON 数字精度丢失
func (a Int128) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// UnmarshalJSON 同时接受字符串和裸数字
func (a *Int128) UnmarshalJSON(data []byte) error {
	var s string
	if len(data) > 0 && data[0] == '"' {
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
	} else {
		s = string(data)
	}
	v, err := Parse(s)
	if err != nil {
		return err
	}
	*a = v
	return nil
}

func fromBig(b *big.Int) (Int128, bool) {
	if b.Cmp(maxBig) > 0 || b.Cmp(minBig) < 0 {
		return Int128{}, false
	}
	// big.Int 的 And 对负数按二进制补码处理
	lo := new(big.Int).And(b, mask64)
	hi := new(big.Int).Sub(b, lo)
	hi.Rsh(hi, 64)
	return Int128{hi: hi.Int64(), lo: lo.Uint64()}, true
}
