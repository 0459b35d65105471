// Package repository persists listings, rentals and transactions in
// PostgreSQL.
package repository

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrListingNotFound     = errors.New("listing not found")
	ErrRentalNotFound      = errors.New("rental not found")
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrDomainTaken is returned when a listing for the domain already exists.
	ErrDomainTaken = errors.New("a listing for this domain already exists")
	// ErrSubdomainTaken is returned when an active rental already holds the
	// (listing, subdomain) pair.
	ErrSubdomainTaken = errors.New("subdomain already has an active rental")
	// ErrMaxSubdomainsReached is returned when a listing already has as many
	// active rentals as it allows.
	ErrMaxSubdomainsReached = errors.New("listing has reached its maximum number of active rentals")
	// ErrDuplicate is returned for other unique violations.
	ErrDuplicate = errors.New("duplicate record")
)

const uniqueViolation = "23505"

func isUniqueViolation(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return pgErr, true
	}
	return nil, false
}
