// Package domain holds the clinic's core types and the pure computations
// behind the prescription-save workflow: item normalization, stock decrement
// aggregation, and quantity display formatting.
package domain

import "time"

// Patient is identified by phone number. There is no separate registration
// flow; every prescription save upserts the patient with the submitted
// name and age.
type Patient struct {
	ID        ID        `json:"id"`
	Phone     string    `json:"phone"`
	Name      string    `json:"name"`
	Age       *int      `json:"age,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
