// Package variance computes planned/committed/actual deltas, classifies them
// and manages variance alerts.
package variance

import (
	"github.com/shopspring/decimal"

	"github.com/gosuda/costtrail/internal/domain"
)

// Status thresholds on the absolute variance percentage. Each bound is
// inclusive for the milder status.
//
//nolint:gochecknoglobals // fixed classification constants
var (
	OnTrackThreshold     = decimal.NewFromInt(5)
	MinorThreshold       = decimal.NewFromInt(15)
	SignificantThreshold = decimal.NewFromInt(50)
)

var hundred = decimal.NewFromInt(100) //nolint:gochecknoglobals // constant

// Data is the variance of one set of amounts.
type Data struct {
	PlannedVsActual    decimal.Decimal       `json:"planned_vs_actual"`
	PlannedVsCommitted decimal.Decimal       `json:"planned_vs_committed"`
	CommittedVsActual  decimal.Decimal       `json:"committed_vs_actual"`
	Percentage         decimal.Decimal       `json:"variance_percentage"`
	Status             domain.VarianceStatus `json:"status"`
}

// CalculateVariance returns the deltas between the three amounts and the
// percentage deviation of actual from planned, rounded to two places. The
// percentage is zero when nothing was planned.
func CalculateVariance(planned, committed, actual decimal.Decimal) Data {
	pct := decimal.Zero
	if !planned.IsZero() {
		pct = actual.Sub(planned).Div(planned).Mul(hundred).Round(2)
	}
	return Data{
		PlannedVsActual:    planned.Sub(actual),
		PlannedVsCommitted: planned.Sub(committed),
		CommittedVsActual:  committed.Sub(actual),
		Percentage:         pct,
		Status:             ClassifyStatus(pct),
	}
}

// ClassifyStatus maps a variance percentage to a status by its absolute value.
func ClassifyStatus(pct decimal.Decimal) domain.VarianceStatus {
	abs := pct.Abs()
	switch {
	case abs.LessThanOrEqual(OnTrackThreshold):
		return domain.VarianceOnTrack
	case abs.LessThanOrEqual(MinorThreshold):
		return domain.VarianceMinor
	case abs.LessThanOrEqual(SignificantThreshold):
		return domain.VarianceSignificant
	default:
		return domain.VarianceCritical
	}
}

// Of returns the variance of a node's own amounts.
func Of(n *domain.POBreakdown) Data {
	return CalculateVariance(n.PlannedAmount, n.CommittedAmount, n.ActualAmount)
}
