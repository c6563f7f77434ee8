// Package tax holds the rules around calificacion factors and the CSV
// documents offered for download.
package tax

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"

	"nuam-capital/portal/internal/model"
)

const (
	FactorScale = 8

	// Factors in [SumFirst, SumLast] must add up to at most one.
	SumFirst = 8
	SumLast  = 16
)

var (
	ErrFactorOutOfRange  = errors.New("factor out of range")
	ErrFactorPrecision   = errors.New("factor has more than 8 decimals")
	ErrFactorSumExceeded = errors.New("sum of factors 8 to 16 exceeds 1")
	ErrNegativeAmount    = errors.New("negative amount")
)

// FieldError names the offending factor or amount.
type FieldError struct {
	Field string
	Err   error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %v", e.Field, e.Err)
}

func (e *FieldError) Unwrap() error { return e.Err }

// ValidateFactores checks every set factor is in [0, 1] with at most eight
// decimals and that factors 8..16 add up to at most 1.
func ValidateFactores(f model.Factores) error {
	one := decimal.NewFromInt(1)
	sum := decimal.Zero

	for n := model.FirstFactor; n <= model.LastFactor; n++ {
		d, ok := f.Get(n)
		if !ok {
			continue
		}
		if d.IsNegative() || d.GreaterThan(one) {
			return &FieldError{Field: model.FactorKey(n), Err: ErrFactorOutOfRange}
		}
		if !d.Equal(d.Truncate(FactorScale)) {
			return &FieldError{Field: model.FactorKey(n), Err: ErrFactorPrecision}
		}
		if n >= SumFirst && n <= SumLast {
			sum = sum.Add(d)
		}
	}
	if sum.GreaterThan(one) {
		return ErrFactorSumExceeded
	}
	return nil
}

func AmountKey(n int) string {
	return "monto_" + strconv.Itoa(n)
}

// SumRange returns factor_8 + ... + factor_16, treating unset factors as zero.
func SumRange(f model.Factores) decimal.Decimal {
	sum := decimal.Zero
	for n := SumFirst; n <= SumLast; n++ {
		if d, ok := f.Get(n); ok {
			sum = sum.Add(d)
		}
	}
	return sum
}

// FactorsFromAmounts turns monto_8..monto_37 into factors: each amount over
// the total, rounded to eight decimals. Amounts outside 8..37 are ignored.
// A zero total yields no factors. When rounding pushes the sum above 1 the
// excess is taken from the largest factor, so the result always validates.
func FactorsFromAmounts(amounts map[int]decimal.Decimal) (model.Factores, error) {
	var out model.Factores

	total := decimal.Zero
	for n := model.FirstFactor; n <= model.LastFactor; n++ {
		d, ok := amounts[n]
		if !ok {
			continue
		}
		if d.IsNegative() {
			return model.Factores{}, &FieldError{Field: AmountKey(n), Err: ErrNegativeAmount}
		}
		total = total.Add(d)
	}
	if total.IsZero() {
		return out, nil
	}

	sum := decimal.Zero
	largest := model.FirstFactor
	for n := model.FirstFactor; n <= model.LastFactor; n++ {
		f := amounts[n].DivRound(total, FactorScale)
		out.Set(n, f)
		sum = sum.Add(f)
		if cur, _ := out.Get(largest); f.GreaterThan(cur) {
			largest = n
		}
	}
	if excess := sum.Sub(decimal.NewFromInt(1)); excess.IsPositive() {
		f, _ := out.Get(largest)
		out.Set(largest, f.Sub(excess))
	}
	return out, nil
}
