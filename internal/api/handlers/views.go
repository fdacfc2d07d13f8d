package handlers

import (
	"time"

	"github.com/clinichq/rxdesk/internal/domain"
)

// stockView is a stock row with its derived availability flags, the shape
// the stock page and the autocomplete consume.
type stockView struct {
	ID                domain.ID `json:"id"`
	Name              string    `json:"name"`
	Quantity          int       `json:"quantity"`
	LowStockThreshold int       `json:"lowStockThreshold"`
	IsDivisible       bool      `json:"isDivisible"`
	DispensingUnit    string    `json:"dispensingUnit"`
	UnitsPerPack      int       `json:"unitsPerPack"`
	UpdatedAt         time.Time `json:"updatedAt"`
	InStock           bool      `json:"inStock"`
	IsLow             bool      `json:"isLow"`
}

func newStockView(s domain.Stock) stockView {
	return stockView{
		ID:                s.ID,
		Name:              s.Name,
		Quantity:          s.Quantity,
		LowStockThreshold: s.LowStockThreshold,
		IsDivisible:       s.IsDivisible,
		DispensingUnit:    s.DispensingUnit,
		UnitsPerPack:      s.UnitsPerPack,
		UpdatedAt:         s.UpdatedAt,
		InStock:           s.InStock(),
		IsLow:             s.IsLow(),
	}
}

func newStockViews(stocks []domain.Stock) []stockView {
	views := make([]stockView, len(stocks))
	for i, s := range stocks {
		views[i] = newStockView(s)
	}
	return views
}

// itemView carries the persisted line item plus the one formatted quantity
// string every display surface must agree on.
type itemView struct {
	ID           domain.ID           `json:"id"`
	MedName      string              `json:"medName"`
	Dosage       string              `json:"dosage,omitempty"`
	Quantity     int                 `json:"quantity"`
	PrescribedAs domain.PrescribedAs `json:"prescribedAs,omitempty"`
	UnitsPerPack int                 `json:"unitsPerPack"`
	StockID      *domain.ID          `json:"stockId,omitempty"`
	Stock        *stockView          `json:"stock,omitempty"`
	Display      string              `json:"display"`
}

type prescriptionView struct {
	ID        domain.ID       `json:"id"`
	Number    int             `json:"number"`
	PatientID domain.ID       `json:"patientId"`
	Patient   *domain.Patient `json:"patient,omitempty"`
	Symptoms  string          `json:"symptoms,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
	Items     []itemView      `json:"items"`
}

func newPrescriptionView(p domain.Prescription) prescriptionView {
	view := prescriptionView{
		ID:        p.ID,
		Number:    p.Number,
		PatientID: p.PatientID,
		Patient:   p.Patient,
		Symptoms:  p.Symptoms,
		CreatedAt: p.CreatedAt,
		Items:     make([]itemView, len(p.Items)),
	}
	for i, item := range p.Items {
		iv := itemView{
			ID:           item.ID,
			MedName:      item.MedName,
			Dosage:       item.Dosage,
			Quantity:     item.Quantity,
			PrescribedAs: item.PrescribedAs,
			UnitsPerPack: item.UnitsPerPack,
			StockID:      item.StockID,
			Display:      domain.FormatQuantity(item),
		}
		if item.Stock != nil {
			sv := newStockView(*item.Stock)
			iv.Stock = &sv
		}
		view.Items[i] = iv
	}
	return view
}

func newPrescriptionViews(list []domain.Prescription) []prescriptionView {
	views := make([]prescriptionView, len(list))
	for i, p := range list {
		views[i] = newPrescriptionView(p)
	}
	return views
}
