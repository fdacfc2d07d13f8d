package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// FormatQuantity renders a saved line item's quantity for display. Every
// surface that shows a prescription (save preview, listing, print) must use
// this one function; the strings have to match across all of them.
//
//	PACKS, linked stock:  "2 packs (20 tablets)"
//	UNITS, linked stock:  "1 capsule"
//	no stock link:        "3", or an em-dash when quantity is zero
func FormatQuantity(item PrescriptionItem) string {
	if item.Stock == nil {
		return bareQuantity(item.Quantity)
	}

	switch {
	case item.PrescribedAs == PrescribedPacks && item.UnitsPerPack >= 1:
		unit := strings.ToLower(item.Stock.DispensingUnit)
		if unit == "" {
			unit = "unit"
		}
		total := item.Quantity * item.UnitsPerPack
		return fmt.Sprintf("%d pack%s (%d %s%s)",
			item.Quantity, plural(item.Quantity), total, unit, plural(total))

	case item.PrescribedAs == PrescribedUnits && item.Stock.DispensingUnit != "":
		unit := strings.ToLower(item.Stock.DispensingUnit)
		return fmt.Sprintf("%d %s%s", item.Quantity, unit, plural(item.Quantity))

	default:
		return bareQuantity(item.Quantity)
	}
}

func bareQuantity(q int) string {
	if q == 0 {
		return "—"
	}
	return strconv.Itoa(q)
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}
