package domain

import (
	"fmt"
	"strings"
)

// RawItem is a line item as submitted by the prescription form. Quantity and
// PrescribedAs are optional; UnitsPerPack is only sent when the form had a
// stock row selected.
type RawItem struct {
	MedName      string       `json:"medName"`
	Dosage       string       `json:"dosage,omitempty"`
	Quantity     int          `json:"quantity,omitempty"`
	PrescribedAs PrescribedAs `json:"prescribedAs,omitempty"`
	UnitsPerPack int          `json:"unitsPerPack,omitempty"`
}

// NormalizedItem is a validated line item ready for persistence and ledger
// aggregation.
type NormalizedItem struct {
	MedName      string
	Dosage       string
	Quantity     int
	PrescribedAs PrescribedAs
	UnitsPerPack int
}

// NormalizeItems trims medication names, drops entries left empty, and clamps
// quantities to a minimum of 1 (absent quantities default to 1). Fails with
// ErrInvalidInput when nothing survives the filter: a prescription must carry
// at least one named medication.
func NormalizeItems(raw []RawItem) ([]NormalizedItem, error) {
	normalized := make([]NormalizedItem, 0, len(raw))
	for _, r := range raw {
		name := strings.TrimSpace(r.MedName)
		if name == "" {
			continue
		}

		qty := r.Quantity
		if qty < 1 {
			qty = 1
		}

		mode := r.PrescribedAs
		if mode != "" && mode != PrescribedUnits && mode != PrescribedPacks {
			return nil, fmt.Errorf("%w: unknown prescribedAs %q", ErrInvalidInput, mode)
		}

		normalized = append(normalized, NormalizedItem{
			MedName:      name,
			Dosage:       strings.TrimSpace(r.Dosage),
			Quantity:     qty,
			PrescribedAs: mode,
			UnitsPerPack: r.UnitsPerPack,
		})
	}

	if len(normalized) == 0 {
		return nil, fmt.Errorf("%w: at least one item with a medication name is required", ErrInvalidInput)
	}
	return normalized, nil
}

// MedNames returns the distinct medication names in submission order, used to
// fetch matching stock candidates in one query.
func MedNames(items []NormalizedItem) []string {
	seen := make(map[string]struct{}, len(items))
	names := make([]string, 0, len(items))
	for _, it := range items {
		key := NameKey(it.MedName)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		names = append(names, it.MedName)
	}
	return names
}
