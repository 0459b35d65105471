package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jmerrifield20/sublease/internal/lease/model"
)

// TransactionRepository provides persistence for payment transactions.
type TransactionRepository struct {
	db *pgxpool.Pool
}

// NewTransactionRepository creates a new TransactionRepository.
func NewTransactionRepository(db *pgxpool.Pool) *TransactionRepository {
	return &TransactionRepository{db: db}
}

// Create inserts a transaction. A repeated payment reference fails with
// ErrDuplicate.
func (r *TransactionRepository) Create(ctx context.Context, tx *model.Transaction) error {
	tx.ID = uuid.New()
	now := time.Now().UTC()
	tx.CreatedAt = now
	tx.UpdatedAt = now

	_, err := r.db.Exec(ctx, `
		INSERT INTO transactions (id, rental_id, amount, payment_ref, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		tx.ID, tx.RentalID, tx.Amount, tx.PaymentRef, string(tx.Status), tx.CreatedAt, tx.UpdatedAt,
	)
	if err != nil {
		if _, ok := isUniqueViolation(err); ok {
			return ErrDuplicate
		}
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

// GetByPaymentRef retrieves a transaction by its external payment reference.
func (r *TransactionRepository) GetByPaymentRef(ctx context.Context, ref string) (*model.Transaction, error) {
	var (
		tx     model.Transaction
		status string
	)
	err := r.db.QueryRow(ctx, `
		SELECT id, rental_id, amount, payment_ref, status, created_at, updated_at
		FROM transactions WHERE payment_ref = $1`, ref,
	).Scan(&tx.ID, &tx.RentalID, &tx.Amount, &tx.PaymentRef, &status, &tx.CreatedAt, &tx.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTransactionNotFound
		}
		return nil, fmt.Errorf("get transaction: %w", err)
	}
	tx.Status = model.TransactionStatus(status)
	return &tx, nil
}

// UpdateStatus sets the status of a transaction.
func (r *TransactionRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status model.TransactionStatus) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE transactions SET status = $2, updated_at = $3 WHERE id = $1`,
		id, string(status), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update transaction status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrTransactionNotFound
	}
	return nil
}
