package services

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Plan is a purchasable subscription period.
type Plan struct {
	Days  int
	Price decimal.Decimal
}

// Plans is the fixed price list, cheapest first.
var Plans = []Plan{
	{Days: 30, Price: decimal.NewFromInt(200)},
	{Days: 90, Price: decimal.NewFromInt(500)},
	{Days: 180, Price: decimal.NewFromInt(1000)},
}

var amountTolerance = decimal.New(1, -2)

// ParseAmount reads a gateway amount ("500.00", "500,00") rounded to kopecks.
func ParseAmount(raw string) (decimal.Decimal, error) {
	s := strings.TrimSpace(strings.ReplaceAll(raw, ",", "."))
	if s == "" {
		return decimal.Zero, fmt.Errorf("%w: empty amount", ErrMalformedInput)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: amount %q: %v", ErrMalformedInput, raw, err)
	}
	return d.Round(2), nil
}

// MatchPlan finds the plan whose price is within one kopeck of amount.
func MatchPlan(amount decimal.Decimal) (Plan, bool) {
	for _, p := range Plans {
		if amount.Sub(p.Price).Abs().LessThanOrEqual(amountTolerance) {
			return p, true
		}
	}
	return Plan{}, false
}

func PlanByDays(days int) (Plan, bool) {
	for _, p := range Plans {
		if p.Days == days {
			return p, true
		}
	}
	return Plan{}, false
}
