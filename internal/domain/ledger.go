package domain

// ResolvedItem pairs a normalized line item with the stock row it matched,
// if any. Unmatched items are still prescribed; they just carry no stock
// link and never touch the ledger.
type ResolvedItem struct {
	NormalizedItem
	Stock *Stock
}

// Decrement is one aggregated stock adjustment: the combined quantity
// requested across every line item that resolved to the same stock row.
type Decrement struct {
	StockID  ID
	Quantity int
}

// ResolveItems links each normalized item to its inventory match using exact
// case-insensitive name equality against the fetched candidates.
func ResolveItems(items []NormalizedItem, stocks []Stock) []ResolvedItem {
	resolved := make([]ResolvedItem, len(items))
	for i, it := range items {
		resolved[i] = ResolvedItem{NormalizedItem: it, Stock: FindStock(stocks, it.MedName)}
	}
	return resolved
}

// AggregateDecrements sums requested quantities per matched stock row, so a
// medicine prescribed in several line items produces exactly one decrement.
// Order follows first appearance in the submission.
func AggregateDecrements(resolved []ResolvedItem) []Decrement {
	totals := make(map[ID]int, len(resolved))
	order := make([]ID, 0, len(resolved))
	for _, r := range resolved {
		if r.Stock == nil {
			continue
		}
		if _, ok := totals[r.Stock.ID]; !ok {
			order = append(order, r.Stock.ID)
		}
		totals[r.Stock.ID] += r.Quantity
	}

	decrements := make([]Decrement, 0, len(order))
	for _, id := range order {
		decrements = append(decrements, Decrement{StockID: id, Quantity: totals[id]})
	}
	return decrements
}

// BuildItem turns a resolved line item into the persisted form, filling the
// prescribe-time defaults: an explicit prescribedAs wins, otherwise UNITS
// for divisible stock and PACKS for the rest; unitsPerPack snapshots the
// stock's value and falls back to 1.
func BuildItem(r ResolvedItem) PrescriptionItem {
	item := PrescriptionItem{
		MedName:      r.MedName,
		Dosage:       r.Dosage,
		Quantity:     r.Quantity,
		PrescribedAs: r.PrescribedAs,
		UnitsPerPack: r.UnitsPerPack,
	}

	if r.Stock != nil {
		id := r.Stock.ID
		item.StockID = &id
		if item.PrescribedAs == "" {
			if r.Stock.IsDivisible {
				item.PrescribedAs = PrescribedUnits
			} else {
				item.PrescribedAs = PrescribedPacks
			}
		}
		if item.UnitsPerPack < 1 {
			item.UnitsPerPack = r.Stock.UnitsPerPack
		}
	}
	if item.UnitsPerPack < 1 {
		item.UnitsPerPack = 1
	}
	return item
}
