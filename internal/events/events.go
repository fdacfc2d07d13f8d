// Package events defines the domain events written to the transactional
// outbox and relayed to Kafka, plus their topic names.
package events

import (
	"time"

	"github.com/clinichq/rxdesk/internal/domain"
)

// Topic names. The relay publishes outbox entries to the topic recorded on
// the entry; the dead-letter topic receives entries that exhaust retries.
const (
	TopicPrescriptionCreated = "prescription.created"
	TopicStockLow            = "stock.low"
	TopicDeadLetter          = "dead.letter"
)

// StockAdjustment is one aggregated decrement applied during a save.
type StockAdjustment struct {
	StockID  domain.ID `json:"stockId"`
	Quantity int       `json:"quantity"`
}

// PrescriptionCreated is emitted once per saved prescription, in the same
// transaction as the save itself.
type PrescriptionCreated struct {
	PrescriptionID domain.ID         `json:"prescriptionId"`
	Number         int               `json:"number"`
	PatientID      domain.ID         `json:"patientId"`
	ItemCount      int               `json:"itemCount"`
	Decrements     []StockAdjustment `json:"decrements,omitempty"`
	CreatedAt      time.Time         `json:"createdAt"`
}

// StockLow is emitted when a decrement or intake moves a stock row into the
// low or exhausted state (quantity zero included). Rows already depleted
// before the change do not re-alert.
type StockLow struct {
	StockID           domain.ID `json:"stockId"`
	Name              string    `json:"name"`
	Quantity          int       `json:"quantity"`
	LowStockThreshold int       `json:"lowStockThreshold"`
	At                time.Time `json:"at"`
}
