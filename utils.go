package swap

import (
	"fmt"
	"math/big"
	"strings"
)

const MaxDecimals = 18

var maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

// AmountToBaseUnits converts a decimal amount such as "1.5" to token base
// units. Digits beyond decimals are truncated.
func AmountToBaseUnits(amount string, decimals int) (*big.Int, error) {
	if decimals < 0 || decimals > MaxDecimals {
		return nil, &InvalidParamError{Message: fmt.Sprintf("decimals must be between 0 and %d, got: %d", MaxDecimals, decimals)}
	}
	amount = strings.TrimSpace(amount)
	if amount == "" || strings.HasPrefix(amount, "-") {
		return nil, &InvalidParamError{Message: fmt.Sprintf("amount must be positive, got: %q", amount)}
	}

	// Split into integer and decimal parts
	parts := strings.Split(amount, ".")
	if len(parts) > 2 {
		return nil, &InvalidParamError{Message: "invalid amount format"}
	}
	integerPart := parts[0]
	decimalPart := ""
	if len(parts) == 2 {
		decimalPart = parts[1]
	}

	// Pad or truncate decimal part to match decimals
	if len(decimalPart) > decimals {
		decimalPart = decimalPart[:decimals]
	} else {
		decimalPart += strings.Repeat("0", decimals-len(decimalPart))
	}

	result, ok := new(big.Int).SetString(integerPart+decimalPart, 10)
	if !ok {
		return nil, &InvalidParamError{Message: fmt.Sprintf("invalid amount %q", amount)}
	}
	if result.Cmp(maxUint256) > 0 {
		return nil, &InvalidParamError{Message: fmt.Sprintf("amount too large for uint256: %s", result.String())}
	}
	if result.Sign() <= 0 {
		return nil, &InvalidParamError{Message: "calculated amount is zero"}
	}
	return result, nil
}

// FormatBaseUnits renders base units as a decimal string without trailing
// zeros.
func FormatBaseUnits(v *big.Int, decimals int) string {
	v = orZero(v)
	if decimals <= 0 {
		return v.String()
	}
	neg := v.Sign() < 0
	digits := new(big.Int).Abs(v).String()
	if len(digits) <= decimals {
		digits = strings.Repeat("0", decimals-len(digits)+1) + digits
	}
	whole, frac := digits[:len(digits)-decimals], strings.TrimRight(digits[len(digits)-decimals:], "0")
	out := whole
	if frac != "" {
		out += "." + frac
	}
	if neg {
		out = "-" + out
	}
	return out
}
