package inflation

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// defaultAssumedRate is the annual rate (percent) assumed for any year in a
// cumulative() range with no cached data.
const defaultAssumedRate = 3.0

// AnnualRate returns the mean of available monthly percentages for year.
// ok is false if the year has no cached months at all.
func (t Table) AnnualRate(year int) (rate float64, ok bool) {
	months, present := t.Rows[year]
	if !present || len(months) == 0 {
		return 0, false
	}
	sum := decimal.Zero
	for _, v := range months {
		sum = sum.Add(decimal.NewFromFloat(v))
	}
	mean := sum.Div(decimal.NewFromInt(int64(len(months))))
	f, _ := mean.Float64()
	return f, true
}

// Cumulative computes the compounded product of annual rates over
// [startYear, endYear), expressed as a unitless multiplier minus one.
// Years with no cached data contribute assumedRate (percent); pass 0 to use
// the specification default of 3%.
func (t Table) Cumulative(startYear, endYear int, assumedRate float64) float64 {
	if assumedRate == 0 {
		assumedRate = defaultAssumedRate
	}
	product := decimal.NewFromInt(1)
	for y := startYear; y < endYear; y++ {
		rate, ok := t.AnnualRate(y)
		if !ok {
			rate = assumedRate
		}
		factor := decimal.NewFromInt(1).Add(decimal.NewFromFloat(rate).Div(decimal.NewFromInt(100)))
		product = product.Mul(factor)
	}
	result := product.Sub(decimal.NewFromInt(1))
	f, _ := result.Float64()
	return f
}

// Adjust scales amount from startYear dollars to endYear dollars using
// Cumulative.
func (t Table) Adjust(amount float64, startYear, endYear int, assumedRate float64) float64 {
	cumulative := t.Cumulative(startYear, endYear, assumedRate)
	return decimalMul(amount, 1+cumulative)
}

func decimalMul(a, b float64) float64 {
	result := decimal.NewFromFloat(a).Mul(decimal.NewFromFloat(b))
	f, _ := result.Float64()
	return f
}

// Summary renders a human-readable block suitable for injection into a
// model prompt.
func (t Table) Summary(startYear, endYear int) string {
	var sb strings.Builder
	if t.Stale {
		sb.WriteString("(stale inflation data — reference source unavailable at last refresh)\n")
	}
	sb.WriteString(fmt.Sprintf("Inflation reference data %d-%d:\n", startYear, endYear))
	for y := startYear; y < endYear; y++ {
		if rate, ok := t.AnnualRate(y); ok {
			sb.WriteString(fmt.Sprintf("  %d: %.2f%%\n", y, rate))
		} else {
			sb.WriteString(fmt.Sprintf("  %d: no data (assuming %.1f%%)\n", y, defaultAssumedRate))
		}
	}
	cumulative := t.Cumulative(startYear, endYear, 0)
	sb.WriteString(fmt.Sprintf("Cumulative change %d->%d: %.2f%%\n", startYear, endYear, cumulative*100))
	return sb.String()
}
