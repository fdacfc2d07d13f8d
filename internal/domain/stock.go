package domain

import (
	"strings"
	"time"
)

// Stock is a medicine inventory row. Quantity is counted in packs; one pack
// holds UnitsPerPack dispensing units. Names are unique case-insensitively
// by convention, not by constraint.
type Stock struct {
	ID                ID        `json:"id"`
	Name              string    `json:"name"`
	Quantity          int       `json:"quantity"`
	LowStockThreshold int       `json:"lowStockThreshold"`
	IsDivisible       bool      `json:"isDivisible"`
	DispensingUnit    string    `json:"dispensingUnit"`
	UnitsPerPack      int       `json:"unitsPerPack"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

// InStock reports whether any quantity remains.
func (s Stock) InStock() bool { return s.Quantity > 0 }

// IsLow reports whether the row is running low but not yet exhausted.
func (s Stock) IsLow() bool {
	return s.Quantity > 0 && s.Quantity <= s.LowStockThreshold
}

// NameKey is the case-folded form used for inventory matching. The persisted
// prescription link only ever uses exact equality on this key; substring
// search for autocomplete is a separate, looser path.
func NameKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// FindStock resolves a free-text medicine name against candidate stocks,
// case-insensitively. Returns nil when nothing matches. With case-duplicate
// names the first candidate wins.
func FindStock(stocks []Stock, name string) *Stock {
	key := NameKey(name)
	for i := range stocks {
		if NameKey(stocks[i].Name) == key {
			return &stocks[i]
		}
	}
	return nil
}
