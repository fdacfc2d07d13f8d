package domain

import "time"

// PrescribedAs says what a line item's quantity counts: whole packs or
// individual dispensing units. Only meaningful when the item is linked to a
// stock row.
type PrescribedAs string

const (
	PrescribedUnits PrescribedAs = "UNITS"
	PrescribedPacks PrescribedAs = "PACKS"
)

// Prescription is created once, atomically, and never edited. Number is the
// human-facing identifier, assigned as max(number)+1 at commit time.
type Prescription struct {
	ID        ID                 `json:"id"`
	Number    int                `json:"number"`
	PatientID ID                 `json:"patientId"`
	Patient   *Patient           `json:"patient,omitempty"`
	Symptoms  string             `json:"symptoms,omitempty"`
	CreatedAt time.Time          `json:"createdAt"`
	Items     []PrescriptionItem `json:"items"`
}

// PrescriptionItem is one medication line. StockID is a weak historical
// reference: the matched stock row may later change or disappear without
// invalidating the prescription. UnitsPerPack is a snapshot taken at
// prescribe time for the same reason.
type PrescriptionItem struct {
	ID           ID           `json:"id"`
	MedName      string       `json:"medName"`
	Dosage       string       `json:"dosage,omitempty"`
	Quantity     int          `json:"quantity"`
	PrescribedAs PrescribedAs `json:"prescribedAs,omitempty"`
	UnitsPerPack int          `json:"unitsPerPack"`
	StockID      *ID          `json:"stockId,omitempty"`
	Stock        *Stock       `json:"stock,omitempty"`
}
