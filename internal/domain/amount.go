package domain

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Satang is a baht amount in hundredths.
type Satang int64

// maxBaht keeps baht*100+99 within int64.
const maxBaht = (math.MaxInt64 - 99) / 100

// ParseBaht parses a decimal baht string such as "10", "10.5" or "10.50".
func ParseBaht(s string) (Satang, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrInvalidAmountFormat
	}
	if strings.HasPrefix(s, "-") {
		return 0, ErrNegativeAmount
	}

	whole, frac, hasFrac := strings.Cut(s, ".")
	if !digits(whole) || (hasFrac && (!digits(frac) || len(frac) > 2)) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmountFormat, s)
	}

	baht, err := strconv.ParseInt(whole, 10, 64)
	if err != nil || baht > maxBaht {
		return 0, fmt.Errorf("%w: %q out of range", ErrInvalidAmountFormat, s)
	}

	var satang int64
	if hasFrac {
		if len(frac) == 1 {
			frac += "0"
		}
		satang, _ = strconv.ParseInt(frac, 10, 64)
	}

	return Satang(baht*100 + satang), nil
}

func digits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func (a Satang) String() string {
	sign := ""
	v := int64(a)
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}
