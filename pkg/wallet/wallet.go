// Package wallet canonicalizes the hex wallet addresses that identify
// identity owners and verifiers.
package wallet

import (
	"strings"

	dErrors "veriledger/pkg/domain-errors"
)

const hexDigits = 40

// Normalize trims, lowercases, and validates an address of the form
// 0x followed by 40 hex digits. The returned form is the canonical one used
// for uniqueness comparison and content hashing.
func Normalize(addr string) (string, error) {
	a := strings.ToLower(strings.TrimSpace(addr))
	a = strings.TrimPrefix(a, "0x")
	if len(a) != hexDigits {
		return "", dErrors.NewField(dErrors.CodeInvalidInput, "walletAddress", "wallet address must be 40 hex digits")
	}
	for _, r := range a {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return "", dErrors.NewField(dErrors.CodeInvalidInput, "walletAddress", "wallet address must be hexadecimal")
		}
	}
	return "0x" + a, nil
}

// Equal reports whether two addresses refer to the same wallet regardless of
// case or 0x prefix.
func Equal(a, b string) bool {
	na, errA := Normalize(a)
	nb, errB := Normalize(b)
	if errA != nil || errB != nil {
		return false
	}
	return na == nb
}
