package utils

import (
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
)

// DefaultBalanceDecimals is the display precision used by FormatBalance.
const DefaultBalanceDecimals = 4

// ErrMalformedHex is returned for input that is not a 0x-prefixed hex quantity.
var ErrMalformedHex = errors.New("malformed hex quantity")

var weiPerEther = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// ParseHexBig parses a 0x-prefixed hexadecimal quantity. Leading zeros are accepted.
func ParseHexBig(s string) (*big.Int, error) {
	digits, err := hexDigits(s)
	if err != nil {
		return nil, err
	}
	n, ok := new(big.Int).SetString(digits, 16)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrMalformedHex, s)
	}
	return n, nil
}

// FormatBalance renders a hex wei amount as ether with DefaultBalanceDecimals places.
func FormatBalance(hexWei string) (string, error) {
	return FormatBalanceDecimals(hexWei, DefaultBalanceDecimals)
}

// FormatBalanceDecimals renders a hex wei amount as ether with the given number of
// decimal places. The division is exact; only the final digit is rounded.
func FormatBalanceDecimals(hexWei string, decimals int) (string, error) {
	wei, err := ParseHexBig(hexWei)
	if err != nil {
		return "", err
	}
	if decimals < 0 {
		decimals = 0
	}
	return new(big.Rat).SetFrac(wei, weiPerEther).FloatString(decimals), nil
}

// FormatChainAsNum parses a hex chain id such as "0x89" into its decimal value.
func FormatChainAsNum(hexChainID string) (uint64, error) {
	digits, err := hexDigits(hexChainID)
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseUint(digits, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrMalformedHex, hexChainID)
	}
	return n, nil
}

// IsHexQuantity reports whether s is a 0x-prefixed hex number.
func IsHexQuantity(s string) bool {
	_, err := ParseHexBig(s)
	return err == nil
}

func hexDigits(s string) (string, error) {
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return "", fmt.Errorf("%w: %q has no 0x prefix", ErrMalformedHex, s)
	}
	digits := s[2:]
	if digits == "" {
		return "", fmt.Errorf("%w: %q has no digits", ErrMalformedHex, s)
	}
	for _, c := range digits {
		if !isHexRune(c) {
			return "", fmt.Errorf("%w: %q", ErrMalformedHex, s)
		}
	}
	return digits, nil
}

func isHexRune(c rune) bool {
	return ('0' <= c && c <= '9') || ('a' <= c && c <= 'f') || ('A' <= c && c <= 'F')
}
