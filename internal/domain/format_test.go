package domain

import "testing"

func TestFormatQuantity(t *testing.T) {
	tablet := &Stock{ID: 1, Name: "Paracetamol", DispensingUnit: "TABLET", UnitsPerPack: 10}
	capsule := &Stock{ID: 2, Name: "Amoxicillin", DispensingUnit: "CAPSULE", UnitsPerPack: 12}
	unitless := &Stock{ID: 3, Name: "Bandage"}

	tests := []struct {
		name string
		item PrescriptionItem
		want string
	}{
		{
			name: "packs with units per pack",
			item: PrescriptionItem{Quantity: 2, PrescribedAs: PrescribedPacks, UnitsPerPack: 10, Stock: tablet},
			want: "2 packs (20 tablets)",
		},
		{
			name: "single pack singular on both counts",
			item: PrescriptionItem{Quantity: 1, PrescribedAs: PrescribedPacks, UnitsPerPack: 1, Stock: unitless},
			want: "1 pack (1 unit)",
		},
		{
			name: "units singular",
			item: PrescriptionItem{Quantity: 1, PrescribedAs: PrescribedUnits, UnitsPerPack: 12, Stock: capsule},
			want: "1 capsule",
		},
		{
			name: "units plural",
			item: PrescriptionItem{Quantity: 5, PrescribedAs: PrescribedUnits, UnitsPerPack: 10, Stock: tablet},
			want: "5 tablets",
		},
		{
			name: "no stock link falls back to bare quantity",
			item: PrescriptionItem{Quantity: 3},
			want: "3",
		},
		{
			name: "no stock link and zero quantity",
			item: PrescriptionItem{Quantity: 0},
			want: "—",
		},
		{
			name: "units mode without dispensing unit falls back",
			item: PrescriptionItem{Quantity: 4, PrescribedAs: PrescribedUnits, UnitsPerPack: 1, Stock: unitless},
			want: "4",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatQuantity(tt.item); got != tt.want {
				t.Errorf("FormatQuantity() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFindStockFirstMatchWins(t *testing.T) {
	stocks := []Stock{
		{ID: 1, Name: "Aspirin"},
		{ID: 2, Name: "ASPIRIN"},
	}
	found := FindStock(stocks, "aspirin")
	if found == nil || found.ID != 1 {
		t.Fatalf("expected first candidate, got %+v", found)
	}
	if FindStock(stocks, "tylenol") != nil {
		t.Error("expected nil for unmatched name")
	}
}
