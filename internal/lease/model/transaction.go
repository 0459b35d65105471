package model

import (
	"time"

	"github.com/google/uuid"
)

// TransactionStatus is the settlement state of a payment.
type TransactionStatus string

const (
	TransactionStatusCompleted TransactionStatus = "completed"
	TransactionStatusFailed    TransactionStatus = "failed"
)

// Transaction records one payment against a rental. Rows are never deleted.
type Transaction struct {
	ID         uuid.UUID         `json:"id"          db:"id"`
	RentalID   uuid.UUID         `json:"rental_id"   db:"rental_id"`
	Amount     int64             `json:"amount"      db:"amount"`
	PaymentRef string            `json:"payment_ref" db:"payment_ref"`
	Status     TransactionStatus `json:"status"      db:"status"`
	CreatedAt  time.Time         `json:"created_at"  db:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"  db:"updated_at"`
}
