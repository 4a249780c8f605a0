// README: Common money value object used across modules.
package types

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// DefaultCurrency is the settlement currency; amounts carry no fractional units.
const DefaultCurrency = "XOF"

type Money struct {
	Amount   int64
	Currency string
}

func (m Money) String() string {
	cur := m.Currency
	if cur == "" {
		cur = DefaultCurrency
	}
	return fmt.Sprintf("%d %s", m.Amount, cur)
}

// ParseMoney reads a stored price that may be a number or a display string
// such as "10 000 FCFA". Everything except digits, '.' and '-' is dropped and
// the result is rounded to whole units. Unparseable input yields 0.
func ParseMoney(v any) int64 {
	switch x := v.(type) {
	case nil:
		return 0
	case int:
		return int64(x)
	case int32:
		return int64(x)
	case int64:
		return x
	case float32:
		return roundUnits(float64(x))
	case float64:
		return roundUnits(x)
	case string:
		clean := strings.Map(func(r rune) rune {
			if (r >= '0' && r <= '9') || r == '.' || r == '-' {
				return r
			}
			return -1
		}, x)
		f, err := strconv.ParseFloat(clean, 64)
		if err != nil {
			return 0
		}
		return roundUnits(f)
	default:
		return ParseMoney(fmt.Sprint(x))
	}
}

// SplitShare divides price between driver and platform. The driver share is
// rounded half away from zero and the platform keeps the remainder, so the two
// always sum to price.
func SplitShare(price int64, driverRate float64) (driverShare, platformShare int64) {
	driverShare = int64(math.Round(float64(price) * driverRate))
	return driverShare, price - driverShare
}

func roundUnits(f float64) int64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return int64(math.Round(f))
}
