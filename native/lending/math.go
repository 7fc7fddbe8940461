package lending

import "github.com/holiman/uint256"

var (
	basisPoints = uint256.NewInt(10_000)
	scale       = uint256.NewInt(1_000_000_000_000_000_000) // 1e18 fixed point
)

// Scale returns a copy of the fixed point unit (1e18).
func Scale() *uint256.Int {
	return new(uint256.Int).Set(scale)
}

func cloneInt(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(v)
}

func checkedAdd(a, b *uint256.Int) (*uint256.Int, error) {
	out, overflow := new(uint256.Int).AddOverflow(a, b)
	if overflow {
		return nil, ErrArithmeticOverflow
	}
	return out, nil
}

// checkedSub reports ok=false instead of wrapping when b > a.
func checkedSub(a, b *uint256.Int) (*uint256.Int, bool) {
	out, underflow := new(uint256.Int).SubOverflow(a, b)
	if underflow {
		return nil, false
	}
	return out, true
}

func checkedMul(a, b *uint256.Int) (*uint256.Int, error) {
	out, overflow := new(uint256.Int).MulOverflow(a, b)
	if overflow {
		return nil, ErrArithmeticOverflow
	}
	return out, nil
}

// mulDiv computes a*b/d truncating toward zero. The product must fit in 256
// bits, matching checked fixed-width arithmetic.
func mulDiv(a, b, d *uint256.Int) (*uint256.Int, error) {
	if d == nil || d.IsZero() {
		return nil, ErrDivisionByZero
	}
	product, err := checkedMul(a, b)
	if err != nil {
		return nil, err
	}
	return product.Div(product, d), nil
}

func bps(amount *uint256.Int, points uint64) (*uint256.Int, error) {
	return mulDiv(amount, uint256.NewInt(points), basisPoints)
}
