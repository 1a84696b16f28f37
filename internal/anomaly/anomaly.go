// Package anomaly scores spot price movements.
package anomaly

import (
	"github.com/shopspring/decimal"

	"spotwatch/internal/domain"
)

// SignificantScore is the threshold a score must exceed to count as an anomaly.
const SignificantScore = 0.7

var hundred = decimal.NewFromInt(100)

// band thresholds are strict: a change must exceed the bound to fall in the band.
var bands = []struct {
	above float64
	score float64
}{
	{50, 0.9},
	{30, 0.8},
	{20, 0.7},
	{10, 0.5},
}

const dropBound = -20.0

// Result holds the change and its score.
type Result struct {
	PercentChange decimal.Decimal
	Score         float64
}

// Score compares current against previous. A non-positive previous yields a zero change and score.
// PercentChange is exact; the band is picked from the float64 change, so 1.00 -> 1.30 lands above 30.
func Score(current, previous decimal.Decimal) Result {
	if !previous.IsPositive() {
		return Result{PercentChange: decimal.Zero}
	}
	pct := current.Sub(previous).Div(previous).Mul(hundred)
	return Result{PercentChange: pct, Score: classify(floatChange(current, previous))}
}

func floatChange(current, previous decimal.Decimal) float64 {
	cur := current.InexactFloat64()
	prev := previous.InexactFloat64()
	return (cur - prev) / prev * 100
}

func classify(pct float64) float64 {
	for _, b := range bands {
		if pct > b.above {
			return b.score
		}
	}
	if pct < dropBound {
		return 0.3
	}
	return 0
}

// Significant reports whether score crosses SignificantScore.
func Significant(score float64) bool {
	return score > SignificantScore
}

// Event builds the AnomalyEvent for point measured against previous.
func Event(point domain.PricePoint, previous decimal.Decimal) domain.AnomalyEvent {
	res := Score(point.Price, previous)
	return domain.AnomalyEvent{
		InstanceFamily: point.InstanceFamily,
		Region:         point.Region,
		Zone:           point.Zone,
		CurrentPrice:   point.Price,
		PreviousPrice:  previous,
		PercentChange:  res.PercentChange,
		AnomalyScore:   res.Score,
		ObservedAt:     point.ObservedAt,
	}
}
