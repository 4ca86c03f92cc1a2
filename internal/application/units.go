package application

import (
	"fmt"
	"math/big"
	"regexp"
	"strings"

	"chainsettle/internal/domain"
)

var decimalPattern = regexp.MustCompile(`^[0-9]+(\.[0-9]+)?$`)

func pow10(decimals uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
}

// ParseUnits converts a positive decimal string into the smallest unit of an
// asset with the given decimals. Precision beyond decimals is rejected.
func ParseUnits(amount string, decimals uint8) (*big.Int, error) {
	amount = strings.TrimSpace(amount)
	if !decimalPattern.MatchString(amount) {
		return nil, fmt.Errorf("%w: invalid amount %q", domain.ErrInvalidRequest, amount)
	}
	value, ok := new(big.Rat).SetString(amount)
	if !ok {
		return nil, fmt.Errorf("%w: invalid amount %q", domain.ErrInvalidRequest, amount)
	}
	if value.Sign() <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", domain.ErrInvalidRequest)
	}
	value.Mul(value, new(big.Rat).SetInt(pow10(decimals)))
	if !value.IsInt() {
		return nil, fmt.Errorf("%w: amount %q exceeds %d decimals", domain.ErrInvalidRequest, amount, decimals)
	}
	return new(big.Int).Set(value.Num()), nil
}

// ConvertReference turns a reference-unit amount into asset units at price
// (reference units per whole asset), truncating toward zero.
func ConvertReference(amount string, price *big.Rat, decimals uint8) (*big.Int, error) {
	amount = strings.TrimSpace(amount)
	if !decimalPattern.MatchString(amount) {
		return nil, fmt.Errorf("%w: invalid claimed amount %q", domain.ErrInvalidRequest, amount)
	}
	value, ok := new(big.Rat).SetString(amount)
	if !ok || value.Sign() <= 0 {
		return nil, fmt.Errorf("%w: invalid claimed amount %q", domain.ErrInvalidRequest, amount)
	}
	if price == nil || price.Sign() <= 0 {
		return nil, fmt.Errorf("%w: non-positive price", domain.ErrPriceFetchFailed)
	}
	value.Quo(value, price)
	value.Mul(value, new(big.Rat).SetInt(pow10(decimals)))
	return new(big.Int).Quo(value.Num(), value.Denom()), nil
}
