package chain

import (
	"errors"
	"math/big"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
)

var (
	ErrInvalidAmount  = errors.New("amount must be a positive decimal with at most 18 fractional digits")
	ErrInvalidID      = errors.New("id must be a 0x-prefixed 32-byte hex string")
	ErrInvalidAddress = errors.New("invalid address")
)

var decimalPattern = regexp.MustCompile(`^[0-9]+(\.[0-9]+)?$`)

// ParseEther converts a positive decimal ether amount to wei.
func ParseEther(s string) (*big.Int, error) {
	v, err := parseEther(s)
	if err != nil {
		return nil, err
	}
	if v.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	return v, nil
}

// ParseEtherOrZero is ParseEther that also accepts zero.
func ParseEtherOrZero(s string) (*big.Int, error) {
	return parseEther(s)
}

func parseEther(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if !decimalPattern.MatchString(s) {
		return nil, ErrInvalidAmount
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, ErrInvalidAmount
	}
	wei := d.Shift(18)
	if !wei.IsInteger() {
		return nil, ErrInvalidAmount
	}
	return wei.BigInt(), nil
}

// FormatEther renders wei as a decimal ether string without trailing zeros.
func FormatEther(wei *big.Int) string {
	if wei == nil {
		return "0"
	}
	return decimal.NewFromBigInt(wei, -18).String()
}

// ParseID parses a 32-byte identifier such as a withdrawal id, move id or
// transaction hash.
func ParseID(s string) (common.Hash, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return common.Hash{}, ErrInvalidID
	}
	b, err := hexutil.Decode("0x" + s[2:])
	if err != nil || len(b) != common.HashLength {
		return common.Hash{}, ErrInvalidID
	}
	return common.BytesToHash(b), nil
}

func ParseAddress(s string) (common.Address, error) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		return common.Address{}, ErrInvalidAddress
	}
	return common.HexToAddress(s), nil
}

// NormalizeEmail trims and lowercases an email before it is hashed or stored.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// UserKey is the on-chain identity of a user: keccak256 of the normalized email.
func UserKey(email string) common.Hash {
	return crypto.Keccak256Hash([]byte(NormalizeEmail(email)))
}

var txIDArgs = func() abi.Arguments {
	mk := func(t string) abi.Type {
		typ, err := abi.NewType(t, "", nil)
		if err != nil {
			panic(err)
		}
		return typ
	}
	return abi.Arguments{
		{Type: mk("address")},
		{Type: mk("uint256")},
		{Type: mk("bytes32")},
		{Type: mk("uint256")},
	}
}()

// TxID derives a withdrawal id the way Omnibus.computeTxId does:
// keccak256(abi.encode(to, amount, userKey, nonce)).
func TxID(to common.Address, amount *big.Int, userKey common.Hash, nonce *big.Int) common.Hash {
	packed, err := txIDArgs.Pack(to, amount, [32]byte(userKey), nonce)
	if err != nil {
		panic(err)
	}
	return crypto.Keccak256Hash(packed)
}
