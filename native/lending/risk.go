package lending

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"

	"lendledger/crypto"
)

// Risk computes collateral valuation and health from oracle prices. It never
// mutates state.
type Risk struct {
	oracle    PriceOracle
	token     crypto.Address
	maxLTVBps uint64
}

// NewRisk constructs a risk engine for the given token and LTV.
func NewRisk(oracle PriceOracle, token crypto.Address, maxLTVBps uint64) *Risk {
	return &Risk{oracle: oracle, token: token, maxLTVBps: maxLTVBps}
}

func (r *Risk) price(asset crypto.Address) (*uint256.Int, error) {
	if r.oracle == nil {
		return nil, ErrNotConfigured
	}
	price, err := r.oracle.Price(asset)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPriceUnavailable, err)
	}
	if price == nil || price.IsZero() {
		return nil, fmt.Errorf("%w: zero price for %s", ErrPriceUnavailable, asset.Hex())
	}
	return price, nil
}

// CollateralValue returns suppliedNative*price(native)/1e18.
func (r *Risk) CollateralValue(user *UserInfo) (*uint256.Int, error) {
	nativePrice, err := r.price(NativeAsset)
	if err != nil {
		return nil, err
	}
	return mulDiv(user.SuppliedNative, nativePrice, scale)
}

// BorrowCapacity returns the collateral value discounted by the LTV limit.
func (r *Risk) BorrowCapacity(user *UserInfo) (*uint256.Int, error) {
	value, err := r.CollateralValue(user)
	if err != nil {
		return nil, err
	}
	return bps(value, r.maxLTVBps)
}

// IsHealthy reports whether the account's debt is within its capacity.
func (r *Risk) IsHealthy(user *UserInfo) (bool, error) {
	capacity, err := r.BorrowCapacity(user)
	if err != nil {
		return false, err
	}
	return !user.Borrowed.Gt(capacity), nil
}

// WithdrawableNative returns the native collateral not required to cover the
// account's debt at current prices.
func (r *Risk) WithdrawableNative(user *UserInfo) (*uint256.Int, error) {
	tokenPrice, err := r.price(r.token)
	if err != nil {
		return nil, err
	}
	nativePrice, err := r.price(NativeAsset)
	if err != nil {
		return nil, err
	}
	required, err := mulDiv(user.Borrowed, tokenPrice, nativePrice)
	if err != nil {
		return nil, err
	}
	free, ok := checkedSub(user.SuppliedNative, required)
	if !ok {
		return nil, ErrInsufficientCollateral
	}
	return free, nil
}

// LiquidationSeizeAmount converts a token repayment into the native
// collateral to seize: repay*1e18/price(native).
func (r *Risk) LiquidationSeizeAmount(repay *uint256.Int) (*uint256.Int, error) {
	nativePrice, err := r.price(NativeAsset)
	if err != nil {
		return nil, err
	}
	return mulDiv(repay, scale, nativePrice)
}

// Position returns the full risk summary of the account.
func (r *Risk) Position(user *UserInfo) (Position, error) {
	value, err := r.CollateralValue(user)
	if err != nil {
		return Position{}, err
	}
	capacity, err := bps(value, r.maxLTVBps)
	if err != nil {
		return Position{}, err
	}
	pos := Position{
		Account:         user.Clone(),
		CollateralValue: value,
		BorrowCapacity:  capacity,
		Healthy:         !user.Borrowed.Gt(capacity),
	}
	withdrawable, err := r.WithdrawableNative(user)
	switch {
	case err == nil:
		pos.Withdrawable = withdrawable
	case errors.Is(err, ErrInsufficientCollateral):
		pos.Withdrawable = new(uint256.Int)
	default:
		return Position{}, err
	}
	if !user.Borrowed.IsZero() {
		factor, err := mulDiv(capacity, basisPoints, user.Borrowed)
		if err != nil {
			return Position{}, err
		}
		pos.HealthFactorBps = factor
	}
	return pos, nil
}
