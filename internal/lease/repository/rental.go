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
	"github.com/jmerrifield20/sublease/internal/registrar"
)

// RentalRepository provides persistence for rentals.
type RentalRepository struct {
	db *pgxpool.Pool
}

// NewRentalRepository creates a new RentalRepository.
func NewRentalRepository(db *pgxpool.Pool) *RentalRepository {
	return &RentalRepository{db: db}
}

const rentalColumns = `
	id, listing_id, renter_id, subdomain, full_domain, record_type, record_value,
	period_start, period_end, subscription_ref, customer_ref, status,
	dns_status, dns_record_id, dns_error, created_at, updated_at, cancelled_at`

// Create inserts an active rental. The listing row is locked while its
// active rentals are counted, so concurrent creates cannot exceed
// max_subdomains; ErrMaxSubdomainsReached reports a full listing. The partial
// unique index on (listing_id, subdomain) makes the losing side of a race for
// one label fail with ErrSubdomainTaken.
func (r *RentalRepository) Create(ctx context.Context, rt *model.Rental) error {
	rt.ID = uuid.New()
	now := time.Now().UTC()
	rt.CreatedAt = now
	rt.UpdatedAt = now

	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		var maxSubs int
		err := tx.QueryRow(ctx,
			`SELECT max_subdomains FROM listings WHERE id = $1 FOR UPDATE`, rt.ListingID,
		).Scan(&maxSubs)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrListingNotFound
		}
		if err != nil {
			return fmt.Errorf("lock listing: %w", err)
		}

		if rt.Status == model.RentalStatusActive {
			var active int
			if err := tx.QueryRow(ctx,
				`SELECT COUNT(*) FROM rentals WHERE listing_id = $1 AND status = 'active'`, rt.ListingID,
			).Scan(&active); err != nil {
				return fmt.Errorf("count active rentals: %w", err)
			}
			if active >= maxSubs {
				return ErrMaxSubdomainsReached
			}
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO rentals (`+rentalColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
			rt.ID, rt.ListingID, rt.RenterID, rt.Subdomain, rt.FullDomain, string(rt.RecordType), rt.RecordValue,
			rt.PeriodStart, rt.PeriodEnd, rt.SubscriptionRef, rt.CustomerRef, string(rt.Status),
			string(rt.DNSStatus), rt.DNSRecordID, rt.DNSError, rt.CreatedAt, rt.UpdatedAt, rt.CancelledAt,
		)
		return err
	})
	if err != nil {
		if pgErr, ok := isUniqueViolation(err); ok {
			if pgErr.ConstraintName == "rentals_active_subdomain_idx" {
				return ErrSubdomainTaken
			}
			return ErrDuplicate
		}
		if errors.Is(err, ErrListingNotFound) || errors.Is(err, ErrMaxSubdomainsReached) {
			return err
		}
		return fmt.Errorf("insert rental: %w", err)
	}
	return nil
}

// GetByID retrieves a rental by its UUID.
func (r *RentalRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Rental, error) {
	return r.getOne(ctx, `SELECT `+rentalColumns+` FROM rentals WHERE id = $1`, id)
}

// GetBySubscriptionRef retrieves the rental backed by a billing subscription.
func (r *RentalRepository) GetBySubscriptionRef(ctx context.Context, ref string) (*model.Rental, error) {
	return r.getOne(ctx, `SELECT `+rentalColumns+` FROM rentals WHERE subscription_ref = $1`, ref)
}

// ListByRenter returns a renter's rentals, newest first.
func (r *RentalRepository) ListByRenter(ctx context.Context, renterID string) ([]*model.Rental, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+rentalColumns+` FROM rentals
		WHERE renter_id = $1
		ORDER BY created_at DESC`, renterID)
	if err != nil {
		return nil, fmt.Errorf("list rentals: %w", err)
	}
	defer rows.Close()

	var out []*model.Rental
	for rows.Next() {
		rt, err := scanRental(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rt)
	}
	return out, rows.Err()
}

// CountActiveByListing returns the number of active rentals on a listing.
func (r *RentalRepository) CountActiveByListing(ctx context.Context, listingID uuid.UUID) (int, error) {
	var n int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM rentals WHERE listing_id = $1 AND status = 'active'`, listingID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count active rentals: %w", err)
	}
	return n, nil
}

// ActiveExists reports whether subdomain has an active rental on the listing.
func (r *RentalRepository) ActiveExists(ctx context.Context, listingID uuid.UUID, subdomain string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM rentals
			WHERE listing_id = $1 AND lower(subdomain) = lower($2) AND status = 'active'
		)`, listingID, subdomain,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check active rental: %w", err)
	}
	return exists, nil
}

// Cancel moves an active rental to cancelled. It reports false without
// error when the rental was already terminal.
func (r *RentalRepository) Cancel(ctx context.Context, id uuid.UUID) (bool, error) {
	now := time.Now().UTC()
	tag, err := r.db.Exec(ctx, `
		UPDATE rentals SET status = 'cancelled', cancelled_at = $2, updated_at = $2
		WHERE id = $1 AND status = 'active'`, id, now)
	if err != nil {
		return false, fmt.Errorf("cancel rental: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// UpdateDNS records the outcome of a DNS side effect.
func (r *RentalRepository) UpdateDNS(ctx context.Context, id uuid.UUID, st model.DNSState) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE rentals SET dns_status = $2, dns_record_id = $3, dns_error = $4, updated_at = $5
		WHERE id = $1`, id, string(st.Status), st.RecordID, st.Error, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update rental dns state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRentalNotFound
	}
	return nil
}

// UpdateRecordValue changes the record value of an active rental.
func (r *RentalRepository) UpdateRecordValue(ctx context.Context, id uuid.UUID, value string) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE rentals SET record_value = $2, updated_at = $3
		WHERE id = $1 AND status = 'active'`, id, value, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update record value: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRentalNotFound
	}
	return nil
}

// UpdatePeriod stores the current billing period bounds.
func (r *RentalRepository) UpdatePeriod(ctx context.Context, id uuid.UUID, start, end time.Time) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE rentals SET period_start = $2, period_end = $3, updated_at = $4
		WHERE id = $1`, id, start, end, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update rental period: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRentalNotFound
	}
	return nil
}

func (r *RentalRepository) getOne(ctx context.Context, query string, args ...any) (*model.Rental, error) {
	rt, err := scanRental(r.db.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRentalNotFound
		}
		return nil, fmt.Errorf("get rental: %w", err)
	}
	return rt, nil
}

func scanRental(row pgx.Row) (*model.Rental, error) {
	var (
		rt                          model.Rental
		recordType, status, dnsStat string
	)
	err := row.Scan(
		&rt.ID, &rt.ListingID, &rt.RenterID, &rt.Subdomain, &rt.FullDomain, &recordType, &rt.RecordValue,
		&rt.PeriodStart, &rt.PeriodEnd, &rt.SubscriptionRef, &rt.CustomerRef, &status,
		&dnsStat, &rt.DNSRecordID, &rt.DNSError, &rt.CreatedAt, &rt.UpdatedAt, &rt.CancelledAt,
	)
	if err != nil {
		return nil, err
	}
	rt.RecordType = registrar.RecordType(recordType)
	rt.Status = model.RentalStatus(status)
	rt.DNSStatus = model.DNSStatus(dnsStat)
	return &rt, nil
}
