package lending

import (
	"fmt"
	"strings"

	"github.com/holiman/uint256"

	"lendledger/crypto"
)

const (
	// SecondsPerBlock is the nominal block interval. Informational only.
	SecondsPerBlock = 12
	// DefaultMaxLTVBps is the 75% loan-to-value limit.
	DefaultMaxLTVBps = 7_500
	// DefaultCloseFactorBps caps a single liquidation at 25% of the debt.
	DefaultCloseFactorBps = 2_500
	// DefaultReserveFactorBps records a 5% reserve factor.
	DefaultReserveFactorBps = 500
)

// DefaultInterestRatePerBlock is 0.1% per block in 1e18 fixed point.
var DefaultInterestRatePerBlock = uint256.NewInt(1_000_000_000_000_000)

// tokenBootstrapAmount is pulled by the token bootstrap to prove the ledger
// accepts transfers into the system account.
var tokenBootstrapAmount = uint256.NewInt(1)

// AccrualMode selects which block height anchors the global index advance.
type AccrualMode uint8

const (
	// AccrualGlobal advances the index from a single ledger-wide checkpoint.
	AccrualGlobal AccrualMode = iota
	// AccrualPerAccount advances the index from the calling account's last
	// recorded block height, reproducing the legacy coupling.
	AccrualPerAccount
)

func (m AccrualMode) String() string {
	switch m {
	case AccrualGlobal:
		return "global"
	case AccrualPerAccount:
		return "per-account"
	default:
		return fmt.Sprintf("AccrualMode(%d)", uint8(m))
	}
}

// ParseAccrualMode parses the textual form of an accrual mode.
func ParseAccrualMode(value string) (AccrualMode, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "global":
		return AccrualGlobal, nil
	case "per-account", "per_account", "account":
		return AccrualPerAccount, nil
	default:
		return 0, fmt.Errorf("unknown accrual mode %q", value)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (m AccrualMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *AccrualMode) UnmarshalText(text []byte) error {
	parsed, err := ParseAccrualMode(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// ActionPauses exposes fine-grained switches for pausing individual lending flows.
type ActionPauses struct {
	Deposit   bool `toml:"Deposit" json:"deposit"`
	Borrow    bool `toml:"Borrow" json:"borrow"`
	Repay     bool `toml:"Repay" json:"repay"`
	Withdraw  bool `toml:"Withdraw" json:"withdraw"`
	Liquidate bool `toml:"Liquidate" json:"liquidate"`
}

func (p ActionPauses) paused(action string) bool {
	switch action {
	case actionDeposit:
		return p.Deposit
	case actionBorrow:
		return p.Borrow
	case actionRepay:
		return p.Repay
	case actionWithdraw:
		return p.Withdraw
	case actionLiquidate:
		return p.Liquidate
	default:
		return false
	}
}

// Params holds the risk and interest parameters of the ledger.
type Params struct {
	// Token is the identity of the fungible token asset.
	Token                crypto.Address
	MaxLTVBps            uint64
	CloseFactorBps       uint64
	InterestRatePerBlock *uint256.Int
	ReserveFactorBps     uint64
	AccrualMode          AccrualMode
	Pauses               ActionPauses
}

// DefaultParams returns the standard parameter set for the supplied token.
func DefaultParams(token crypto.Address) Params {
	return Params{
		Token:                token,
		MaxLTVBps:            DefaultMaxLTVBps,
		CloseFactorBps:       DefaultCloseFactorBps,
		InterestRatePerBlock: new(uint256.Int).Set(DefaultInterestRatePerBlock),
		ReserveFactorBps:     DefaultReserveFactorBps,
		AccrualMode:          AccrualGlobal,
	}
}

// Validate checks the parameters for internal consistency.
func (p Params) Validate() error {
	if p.Token.IsZero() {
		return fmt.Errorf("lending params: token asset must not be the native sentinel")
	}
	if p.MaxLTVBps == 0 || p.MaxLTVBps > 10_000 {
		return fmt.Errorf("lending params: MaxLTVBps must be within (0, 10000]")
	}
	if p.CloseFactorBps == 0 || p.CloseFactorBps > 10_000 {
		return fmt.Errorf("lending params: CloseFactorBps must be within (0, 10000]")
	}
	if p.ReserveFactorBps > 10_000 {
		return fmt.Errorf("lending params: ReserveFactorBps must not exceed 10000")
	}
	if p.InterestRatePerBlock == nil {
		return fmt.Errorf("lending params: InterestRatePerBlock required")
	}
	if p.AccrualMode != AccrualGlobal && p.AccrualMode != AccrualPerAccount {
		return fmt.Errorf("lending params: unsupported accrual mode %s", p.AccrualMode)
	}
	return nil
}
