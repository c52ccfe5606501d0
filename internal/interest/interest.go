package interest

import (
	"savingsvault/internal/fixedpoint"
)

const (
	SecondsPerYear = 31536000
	BasisPoints    = 10000

	// 年化秒数与基点合并成一个除数，只做一次截断
	accrualDivisor = SecondsPerYear * BasisPoints
)

var divisor = fixedpoint.FromInt64(accrualDivisor)

// Accrue 计算 elapsed 秒内的单期利息：
//
//	interest = balance * rateBps * elapsed / (SECONDS_PER_YEAR * 10000)
//
// 先乘后除，向零截断。乘法越界返回 fixedpoint.ErrOverflow，除法失败返回 fixedpoint.ErrDivision。
func Accrue(balance fixedpoint.Int128, rateBps uint32, elapsed uint64) (fixedpoint.Int128, error) {
	product, err := balance.Mul(fixedpoint.FromUint64(uint64(rateBps)))
	if err != nil {
		return fixedpoint.Zero, err
	}
	product, err = product.Mul(fixedpoint.FromUint64(elapsed))
	if err != nil {
		return fixedpoint.Zero, err
	}
	return product.Div(divisor)
}

// Penalty 计算提前支取罚金：total * penaltyBps / 10000
func Penalty(total fixedpoint.Int128, penaltyBps uint32) (fixedpoint.Int128, error) {
	product, err := total.Mul(fixedpoint.FromUint64(uint64(penaltyBps)))
	if err != nil {
		return fixedpoint.Zero, err
	}
	return product.Div(fixedpoint.FromInt64(BasisPoints))
}
