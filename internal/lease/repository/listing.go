package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jmerrifield20/sublease/internal/billing"
	"github.com/jmerrifield20/sublease/internal/lease/model"
	"github.com/jmerrifield20/sublease/internal/registrar"
)

// ListingRepository provides CRUD operations for listings against PostgreSQL.
type ListingRepository struct {
	db *pgxpool.Pool
}

// NewListingRepository creates a new ListingRepository.
func NewListingRepository(db *pgxpool.Pool) *ListingRepository {
	return &ListingRepository{db: db}
}

const listingColumns = `
	id, domain, owner_id, registrar, sealed_credentials, allowed_record_types,
	max_subdomains, verification_token, verified, status, price, billing_interval,
	created_at, updated_at`

// Create inserts a new listing. A second listing for the same domain fails
// with ErrDomainTaken.
func (r *ListingRepository) Create(ctx context.Context, l *model.Listing) error {
	l.ID = uuid.New()
	now := time.Now().UTC()
	l.CreatedAt = now
	l.UpdatedAt = now

	_, err := r.db.Exec(ctx, `
		INSERT INTO listings (`+listingColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		l.ID, l.Domain, l.OwnerID, string(l.Registrar), l.SealedCredentials, recordTypesToStrings(l.AllowedRecordTypes),
		l.MaxSubdomains, l.VerificationToken, l.Verified, string(l.Status), l.Price, string(l.Interval),
		l.CreatedAt, l.UpdatedAt,
	)
	if err != nil {
		if _, ok := isUniqueViolation(err); ok {
			return ErrDomainTaken
		}
		return fmt.Errorf("insert listing: %w", err)
	}
	return nil
}

// GetByID retrieves a listing by its UUID.
func (r *ListingRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Listing, error) {
	row := r.db.QueryRow(ctx, `SELECT `+listingColumns+` FROM listings WHERE id = $1`, id)
	l, err := scanListing(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrListingNotFound
		}
		return nil, fmt.Errorf("get listing: %w", err)
	}
	return l, nil
}

// ListPublic returns active, verified listings, newest first.
func (r *ListingRepository) ListPublic(ctx context.Context, limit, offset int) ([]*model.Listing, error) {
	if limit <= 0 {
		limit = 50
	}
	return r.list(ctx, `
		SELECT `+listingColumns+` FROM listings
		WHERE status = 'active' AND verified = true
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2`, limit, offset)
}

// ListByOwner returns every listing owned by ownerID, newest first.
func (r *ListingRepository) ListByOwner(ctx context.Context, ownerID string) ([]*model.Listing, error) {
	return r.list(ctx, `
		SELECT `+listingColumns+` FROM listings
		WHERE owner_id = $1
		ORDER BY created_at DESC`, ownerID)
}

// Update writes the owner-editable fields of l.
func (r *ListingRepository) Update(ctx context.Context, l *model.Listing) error {
	l.UpdatedAt = time.Now().UTC()
	tag, err := r.db.Exec(ctx, `
		UPDATE listings SET
			sealed_credentials   = $2,
			allowed_record_types = $3,
			max_subdomains       = $4,
			status               = $5,
			price                = $6,
			billing_interval     = $7,
			updated_at           = $8
		WHERE id = $1`,
		l.ID, l.SealedCredentials, recordTypesToStrings(l.AllowedRecordTypes), l.MaxSubdomains,
		string(l.Status), l.Price, string(l.Interval), l.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update listing: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrListingNotFound
	}
	return nil
}

// MarkVerified sets verified=true and clears the verification token.
func (r *ListingRepository) MarkVerified(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE listings SET verified = true, verification_token = NULL, updated_at = $2
		WHERE id = $1`, id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("mark listing verified: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrListingNotFound
	}
	return nil
}

// Delete removes a listing. Callers must check for active rentals first;
// terminal rentals keep their listing_id after the row is gone.
func (r *ListingRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM listings WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete listing: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrListingNotFound
	}
	return nil
}

func (r *ListingRepository) list(ctx context.Context, query string, args ...any) ([]*model.Listing, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list listings: %w", err)
	}
	defer rows.Close()

	var out []*model.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func scanListing(row pgx.Row) (*model.Listing, error) {
	var (
		l                     model.Listing
		tag, status, interval string
		recordTypes           []string
	)
	err := row.Scan(
		&l.ID, &l.Domain, &l.OwnerID, &tag, &l.SealedCredentials, &recordTypes,
		&l.MaxSubdomains, &l.VerificationToken, &l.Verified, &status, &l.Price, &interval,
		&l.CreatedAt, &l.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	l.Registrar = registrar.Tag(tag)
	l.Status = model.ListingStatus(status)
	l.Interval = billing.Interval(interval)
	l.AllowedRecordTypes = make([]registrar.RecordType, 0, len(recordTypes))
	for _, rt := range recordTypes {
		l.AllowedRecordTypes = append(l.AllowedRecordTypes, registrar.RecordType(rt))
	}
	return &l, nil
}

func recordTypesToStrings(types []registrar.RecordType) []string {
	out := make([]string, 0, len(types))
	for _, t := range types {
		out = append(out, string(t))
	}
	return out
}
