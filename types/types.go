package types

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"
)

// AddressLength is the size in bytes of an account address.
const AddressLength = 32

// DefaultCoinType is the testnet USDC coin type accepted when none is configured.
const DefaultCoinType CoinType = "0xa1ec7fc00a6f40db9693ad1415d0c193ad3906494428cf252621037bd7117e29::usdc::USDC"

// DefaultDecimals is the number of decimals of the default stablecoin (micro-USDC units).
const DefaultDecimals = 6

var hexPattern = regexp.MustCompile("^[0-9a-fA-F]+$")

// Address identifies an account. Short forms such as 0x2 are left padded.
type Address [AddressLength]byte

// HexToAddress parses a 0x-prefixed hex address of at most 32 bytes.
func HexToAddress(s string) (Address, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return Address{}, NewError(CodeInvalidAddress, "address %q must start with 0x", s)
	}

	raw := s[2:]
	if raw == "" || len(raw) > AddressLength*2 || !hexPattern.MatchString(raw) {
		return Address{}, NewError(CodeInvalidAddress, "address %q is not a valid %d-byte hex string", s, AddressLength)
	}

	var a Address
	copy(a[:], common.LeftPadBytes(common.FromHex(s), AddressLength))
	return a, nil
}

// MustHexToAddress is HexToAddress for constants; it panics on bad input.
func MustHexToAddress(s string) Address {
	a, err := HexToAddress(s)
	if err != nil {
		panic(err)
	}
	return a
}

// Hex returns the full 0x-prefixed lowercase form.
func (a Address) Hex() string {
	return hexutil.Encode(a[:])
}

func (a Address) String() string {
	return a.Hex()
}

// IsZero reports whether a is the zero address.
func (a Address) IsZero() bool {
	return a == Address{}
}

func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.Hex()), nil
}

func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := HexToAddress(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// SortAddresses orders addresses by their byte value.
func SortAddresses(addrs []Address) {
	sort.Slice(addrs, func(i, j int) bool {
		return strings.Compare(string(addrs[i][:]), string(addrs[j][:])) < 0
	})
}

// Authorizer answers whether an address may perform privileged operations.
type Authorizer interface {
	IsAdmin(addr Address) bool
}

// CoinType is the fully qualified type of the payment asset, e.g. 0x..::usdc::USDC.
type CoinType string

// Validate checks the package::module::Name shape.
func (c CoinType) Validate() error {
	parts := strings.Split(string(c), "::")
	if len(parts) != 3 {
		return NewError(CodeInvalidConfig, "coin type %q must have the form <package>::<module>::<name>", c)
	}
	if _, err := HexToAddress(parts[0]); err != nil {
		return NewError(CodeInvalidConfig, "coin type %q has an invalid package address", c)
	}
	if parts[1] == "" || parts[2] == "" {
		return NewError(CodeInvalidConfig, "coin type %q has an empty module or name", c)
	}
	return nil
}

func (c CoinType) String() string {
	return string(c)
}

// Coin is a payment object presented by a caller. Its value must already equal
// the fee price; merging and splitting coins happens before it gets here.
type Coin struct {
	Owner Address  `json:"owner"`
	Type  CoinType `json:"coinType"`
	Value uint64   `json:"value"`
}

// Receipt is produced by every accepted fee payment.
type Receipt struct {
	ID        uuid.UUID `json:"id"`
	Payer     Address   `json:"payer"`
	Amount    uint64    `json:"amount"`
	Balance   uint64    `json:"balance"`
	Timestamp time.Time `json:"timestamp"`
}

// State is a consistent view of a station's fields.
type State struct {
	ID       string    `json:"id"`
	CoinType CoinType  `json:"coinType"`
	Price    uint64    `json:"price"`
	Balance  uint64    `json:"balance"`
	Admins   []Address `json:"admins"`
}

// InitParams seeds a new station.
type InitParams struct {
	ID       string
	CoinType CoinType
	Price    uint64
	Admins   []Address
}

// Validate checks that the station can be created from p.
func (p InitParams) Validate() error {
	if len(p.Admins) == 0 {
		return NewError(CodeInvalidConfig, "at least one admin is required")
	}
	for _, a := range p.Admins {
		if a.IsZero() {
			return NewError(CodeInvalidConfig, "admin set contains the zero address")
		}
	}
	if p.CoinType == "" {
		return NewError(CodeInvalidConfig, "coin type is required")
	}
	if err := p.CoinType.Validate(); err != nil {
		return err
	}
	return nil
}

// String renders a short description for logs.
func (p InitParams) String() string {
	return fmt.Sprintf("station=%s coin=%s price=%d admins=%d", p.ID, p.CoinType, p.Price, len(p.Admins))
}
