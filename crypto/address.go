package crypto

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/btcsuite/btcutil/bech32"
)

// AddressLength is the size of a raw account identifier in bytes.
const AddressLength = 20

// AddressPrefix defines the human-readable part used when rendering an
// address as bech32.
type AddressPrefix string

const (
	// AccountPrefix tags user accounts.
	AccountPrefix AddressPrefix = "lend"
	// AssetPrefix tags token asset identities.
	AssetPrefix AddressPrefix = "asset"
)

// Address is a 20-byte account or asset identifier. The zero value is the
// "no address" sentinel. Addresses are comparable and may be used as map keys;
// the prefix only affects rendering and does not take part in equality.
type Address [AddressLength]byte

// BytesToAddress copies b into an Address. It fails when b is not exactly
// AddressLength bytes long.
func BytesToAddress(b []byte) (Address, error) {
	var addr Address
	if len(b) != AddressLength {
		return addr, fmt.Errorf("address must be %d bytes long, got %d", AddressLength, len(b))
	}
	copy(addr[:], b)
	return addr, nil
}

// MustBytesToAddress is like BytesToAddress but panics on malformed input.
func MustBytesToAddress(b []byte) Address {
	addr, err := BytesToAddress(b)
	if err != nil {
		panic(err)
	}
	return addr
}

// Bytes returns a copy of the raw address bytes.
func (a Address) Bytes() []byte {
	out := make([]byte, AddressLength)
	copy(out, a[:])
	return out
}

// IsZero reports whether the address is the zero sentinel.
func (a Address) IsZero() bool {
	return a == Address{}
}

// Compare orders addresses by their raw bytes.
func (a Address) Compare(b Address) int {
	return bytes.Compare(a[:], b[:])
}

// Hex renders the address as 0x-prefixed lowercase hex.
func (a Address) Hex() string {
	return "0x" + hex.EncodeToString(a[:])
}

// Encode renders the address as bech32 using the supplied prefix.
func (a Address) Encode(prefix AddressPrefix) string {
	conv, err := bech32.ConvertBits(a[:], 8, 5, true)
	if err != nil {
		panic(err)
	}
	encoded, err := bech32.Encode(string(prefix), conv)
	if err != nil {
		panic(err)
	}
	return encoded
}

func (a Address) String() string {
	return a.Encode(AccountPrefix)
}

// MarshalText implements encoding.TextMarshaler using the account prefix.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler and accepts either bech32
// or hex input.
func (a *Address) UnmarshalText(text []byte) error {
	decoded, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = decoded
	return nil
}

// DecodeAddress parses a bech32 encoded address, returning the prefix it was
// encoded with.
func DecodeAddress(addrStr string) (Address, AddressPrefix, error) {
	prefix, decoded, err := bech32.Decode(addrStr)
	if err != nil {
		return Address{}, "", fmt.Errorf("invalid bech32 string: %w", err)
	}
	conv, err := bech32.ConvertBits(decoded, 5, 8, false)
	if err != nil {
		return Address{}, "", fmt.Errorf("error converting bits: %w", err)
	}
	addr, err := BytesToAddress(conv)
	if err != nil {
		return Address{}, "", err
	}
	return addr, AddressPrefix(prefix), nil
}

// ParseAddress accepts a bech32 address with any known prefix or a 0x hex
// string. The literal "native" (and the empty string) resolve to the zero
// sentinel used for the native value asset.
func ParseAddress(value string) (Address, error) {
	trimmed := strings.TrimSpace(value)
	switch strings.ToLower(trimmed) {
	case "", "native":
		return Address{}, nil
	}
	if strings.HasPrefix(trimmed, "0x") || strings.HasPrefix(trimmed, "0X") {
		raw, err := hex.DecodeString(trimmed[2:])
		if err != nil {
			return Address{}, fmt.Errorf("invalid hex address: %w", err)
		}
		return BytesToAddress(raw)
	}
	addr, prefix, err := DecodeAddress(trimmed)
	if err != nil {
		return Address{}, err
	}
	switch prefix {
	case AccountPrefix, AssetPrefix:
		return addr, nil
	default:
		return Address{}, fmt.Errorf("unknown address prefix %q", prefix)
	}
}
