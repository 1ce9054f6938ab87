package safe

import (
	"math"

	"github.com/shopspring/decimal"
)

// SafeAdd performs int64 addition and panics on overflow/underflow.
// Used for share quantities, which are whole numbers.
func SafeAdd(a, b int64) int64 {
	if (b > 0 && a > math.MaxInt64-b) || (b < 0 && a < math.MinInt64-b) {
		panic("CORE_SAFE_ADD_OVERFLOW")
	}
	return a + b
}

// SafeSub performs int64 subtraction and panics on overflow/underflow.
func SafeSub(a, b int64) int64 {
	if (b > 0 && a < math.MinInt64+b) || (b < 0 && a > math.MaxInt64+b) {
		panic("CORE_SAFE_SUB_OVERFLOW")
	}
	return a - b
}

// Notional returns price * qty as an exact decimal.
// Panics if qty is negative: a negative quantity reaching money math
// means validation upstream is broken.
func Notional(price decimal.Decimal, qty int64) decimal.Decimal {
	if qty < 0 {
		panic("CORE_SAFE_NEGATIVE_QTY")
	}
	return price.Mul(decimal.NewFromInt(qty))
}

// WeightedAverage returns the quantity-weighted average of two price lots:
// (priceA*qtyA + priceB*qtyB) / (qtyA + qtyB), computed exactly.
// Panics if the combined quantity is not positive.
func WeightedAverage(priceA decimal.Decimal, qtyA int64, priceB decimal.Decimal, qtyB int64) decimal.Decimal {
	total := SafeAdd(qtyA, qtyB)
	if total <= 0 {
		panic("CORE_SAFE_AVG_EMPTY")
	}
	sum := Notional(priceA, qtyA).Add(Notional(priceB, qtyB))
	return sum.Div(decimal.NewFromInt(total))
}
