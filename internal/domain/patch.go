package domain

import (
	"reflect"
	"slices"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/shopspring/decimal"
)

// FieldChange holds the old and new value of a single changed field.
type FieldChange struct {
	Old any `json:"old"`
	New any `json:"new"`
}

// BreakdownPatch is a typed partial update: nil fields are left untouched.
// Parent changes are not part of a patch; they go through Move.
type BreakdownPatch struct {
	Name            *string
	Code            *string
	SAPPONumber     *string
	SAPLineItem     *string
	PlannedAmount   *decimal.Decimal
	CommittedAmount *decimal.Decimal
	ActualAmount    *decimal.Decimal
	Currency        *string
	ExchangeRate    *decimal.Decimal
	Category        *string
	Subcategory     *string
	CustomFields    map[string]any
	Tags            []string
	Notes           *string
	DisplayOrder    *int
}

var financialFields = mapset.NewSet( //nolint:gochecknoglobals // lookup table
	"planned_amount", "committed_amount", "actual_amount", "remaining_amount", "currency", "exchange_rate",
)

// Validate checks the patch values in isolation.
func (p *BreakdownPatch) Validate() error {
	if p.Name != nil && *p.Name == "" {
		return NewValidationError("name", "must not be empty", nil)
	}
	if p.Code != nil {
		if err := ValidateCode(*p.Code); err != nil {
			return err
		}
	}
	for field, amount := range map[string]*decimal.Decimal{
		"planned_amount":   p.PlannedAmount,
		"committed_amount": p.CommittedAmount,
		"actual_amount":    p.ActualAmount,
	} {
		if amount != nil && amount.IsNegative() {
			return NewValidationError(field, "must not be negative", ErrNegativeAmount)
		}
	}
	if p.ExchangeRate != nil && !p.ExchangeRate.IsPositive() {
		return NewValidationError("exchange_rate", "must be positive", nil)
	}
	return nil
}

// Apply mutates b with the patch and returns the per-field diff. Fields whose
// new value equals the current one are not reported.
func (p *BreakdownPatch) Apply(b *POBreakdown) map[string]FieldChange {
	changes := make(map[string]FieldChange)

	setString := func(field string, dst *string, v *string) {
		if v != nil && *dst != *v {
			changes[field] = FieldChange{Old: *dst, New: *v}
			*dst = *v
		}
	}
	setDecimal := func(field string, dst *decimal.Decimal, v *decimal.Decimal) {
		if v != nil && !dst.Equal(*v) {
			changes[field] = FieldChange{Old: dst.String(), New: v.String()}
			*dst = *v
		}
	}

	setString("name", &b.Name, p.Name)
	setString("code", &b.Code, p.Code)
	setString("sap_po_number", &b.SAPPONumber, p.SAPPONumber)
	setString("sap_line_item", &b.SAPLineItem, p.SAPLineItem)
	setString("currency", &b.Currency, p.Currency)
	setString("category", &b.Category, p.Category)
	setString("subcategory", &b.Subcategory, p.Subcategory)
	setString("notes", &b.Notes, p.Notes)

	setDecimal("planned_amount", &b.PlannedAmount, p.PlannedAmount)
	setDecimal("committed_amount", &b.CommittedAmount, p.CommittedAmount)
	setDecimal("actual_amount", &b.ActualAmount, p.ActualAmount)
	setDecimal("exchange_rate", &b.ExchangeRate, p.ExchangeRate)

	if p.DisplayOrder != nil && b.DisplayOrder != *p.DisplayOrder {
		changes["display_order"] = FieldChange{Old: b.DisplayOrder, New: *p.DisplayOrder}
		b.DisplayOrder = *p.DisplayOrder
	}

	if p.Tags != nil {
		next := NormalizeTags(p.Tags)
		if !mapset.NewSet(b.Tags...).Equal(mapset.NewSet(next...)) {
			changes["tags"] = FieldChange{Old: b.Tags, New: next}
			b.Tags = next
		}
	}

	if p.CustomFields != nil && !reflect.DeepEqual(ToMap(b.CustomFields), ToMap(p.CustomFields)) {
		changes["custom_fields"] = FieldChange{Old: CloneMap(b.CustomFields), New: CloneMap(p.CustomFields)}
		b.CustomFields = CloneMap(p.CustomFields)
	}

	_, plannedChanged := changes["planned_amount"]
	_, actualChanged := changes["actual_amount"]
	if plannedChanged || actualChanged {
		old := b.RemainingAmount
		b.RecalculateRemaining()
		if !old.Equal(b.RemainingAmount) {
			changes["remaining_amount"] = FieldChange{Old: old.String(), New: b.RemainingAmount.String()}
		}
	}

	return changes
}

// ChangeTypeFor infers the version change type from a diff.
func ChangeTypeFor(changes map[string]FieldChange) ChangeType {
	if len(changes) == 0 {
		return ChangeUpdate
	}
	fields := mapset.NewSetWithSize[string](len(changes))
	for f := range changes {
		fields.Add(f)
	}
	switch {
	case fields.IsSubset(financialFields):
		return ChangeFinancialUpdate
	case fields.Equal(mapset.NewSet("tags")):
		return ChangeTagUpdate
	case fields.Equal(mapset.NewSet("custom_fields")):
		return ChangeCustomFieldUpdate
	default:
		return ChangeUpdate
	}
}

// HasFinancialChange reports whether any amount-related field changed.
func HasFinancialChange(changes map[string]FieldChange) bool {
	for f := range changes {
		if financialFields.Contains(f) {
			return true
		}
	}
	return false
}

// NormalizeTags de-duplicates and sorts tags, dropping empty ones.
func NormalizeTags(tags []string) []string {
	set := mapset.NewSetWithSize[string](len(tags))
	for _, t := range tags {
		if t != "" {
			set.Add(t)
		}
	}
	out := set.ToSlice()
	slices.Sort(out)
	return out
}
