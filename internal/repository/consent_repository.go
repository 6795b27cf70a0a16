package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ME-sdeo/me3-zam0pf-sub003/internal/domain"
)

// ConsentRepository persists consent records and their provenance history.
// Records are never deleted; status changes are version-checked.
type ConsentRepository interface {
	Create(ctx context.Context, record *domain.ConsentRecord, ref domain.ConsentLedgerRef) error
	GetByID(ctx context.Context, id string) (*domain.ConsentRecord, error)
	ListBySubject(ctx context.Context, subjectID string, limit, offset int) ([]domain.ConsentRecord, error)
	ListByRequester(ctx context.Context, requesterID string, limit, offset int) ([]domain.ConsentRecord, error)
	ListActive(ctx context.Context, subjectID, requesterID string) ([]domain.ConsentRecord, error)
	UpdateStatus(ctx context.Context, id string, status domain.ConsentStatus, actorID string, expectedVersion int64, ledgerEntryID string) (*domain.ConsentRecord, error)
	ListLedgerEntries(ctx context.Context, consentID string) ([]domain.ConsentLedgerRef, error)
	ListDueForExpiry(ctx context.Context, now time.Time, limit int) ([]domain.ConsentRecord, error)
}

type consentRepository struct {
	db DB
}

// NewConsentRepository returns a Postgres-backed implementation.
func NewConsentRepository(db DB) ConsentRepository {
	return &consentRepository{db: db}
}

const consentColumns = `id, subject_id, requester_id, categories, purpose, valid_from, valid_until,
        status, ledger_ref, version, last_modified_by, created_at, updated_at`

const insertLedgerEntrySQL = `
        INSERT INTO consent_ledger_entries (consent_id, ledger_entry_id, event_type, status, actor_id)
        VALUES ($1, $2, $3, $4, $5)`

const insertConsentAuditSQL = `
        INSERT INTO consent_audit (consent_id, old_status, new_status, actor_id, version)
        VALUES ($1, $2, $3, $4, $5)`

// Create stores the record with its creation ledger reference and audit row.
func (r *consentRepository) Create(ctx context.Context, record *domain.ConsentRecord, ref domain.ConsentLedgerRef) error {
	const query = `
        INSERT INTO consents (id, subject_id, requester_id, categories, purpose, valid_from, valid_until,
            status, ledger_ref, version, last_modified_by)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 1, $10)
        RETURNING version, created_at, updated_at`

	return withTx(ctx, r.db, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, query,
			record.ID,
			record.SubjectID,
			record.RequesterID,
			domain.SortedCategories(record.Scope.Categories),
			record.Scope.Purpose,
			record.Window.Start,
			record.Window.End,
			record.Status,
			record.LedgerRef,
			record.LastModifiedBy,
		).Scan(&record.Version, &record.CreatedAt, &record.UpdatedAt); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, insertLedgerEntrySQL,
			record.ID, ref.LedgerEntryID, ref.EventType, ref.Status, ref.ActorID); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, insertConsentAuditSQL,
			record.ID, nil, record.Status, record.LastModifiedBy, record.Version)
		return err
	})
}

func (r *consentRepository) GetByID(ctx context.Context, id string) (*domain.ConsentRecord, error) {
	if !isRowID(id) {
		return nil, pgx.ErrNoRows
	}
	return scanConsent(r.db.QueryRow(ctx, `SELECT `+consentColumns+` FROM consents WHERE id=$1`, id))
}

func (r *consentRepository) ListBySubject(ctx context.Context, subjectID string, limit, offset int) ([]domain.ConsentRecord, error) {
	return r.list(ctx,
		`SELECT `+consentColumns+` FROM consents WHERE subject_id=$1 ORDER BY created_at DESC, id LIMIT $2 OFFSET $3`,
		subjectID, clampLimit(limit), offset)
}

func (r *consentRepository) ListByRequester(ctx context.Context, requesterID string, limit, offset int) ([]domain.ConsentRecord, error) {
	return r.list(ctx,
		`SELECT `+consentColumns+` FROM consents WHERE requester_id=$1 ORDER BY created_at DESC, id LIMIT $2 OFFSET $3`,
		requesterID, clampLimit(limit), offset)
}

func (r *consentRepository) ListActive(ctx context.Context, subjectID, requesterID string) ([]domain.ConsentRecord, error) {
	if !isRowID(subjectID) || !isRowID(requesterID) {
		return []domain.ConsentRecord{}, nil
	}
	return r.list(ctx,
		`SELECT `+consentColumns+` FROM consents
        WHERE subject_id=$1 AND requester_id=$2 AND status='ACTIVE' ORDER BY created_at DESC`,
		subjectID, requesterID)
}

// ListDueForExpiry returns ACTIVE records whose window ended at or before now.
func (r *consentRepository) ListDueForExpiry(ctx context.Context, now time.Time, limit int) ([]domain.ConsentRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	return r.list(ctx,
		`SELECT `+consentColumns+` FROM consents
        WHERE status='ACTIVE' AND valid_until IS NOT NULL AND valid_until <= $1
        ORDER BY valid_until LIMIT $2`,
		now, limit)
}

// UpdateStatus applies the change only if the stored version still equals
// expectedVersion, recording the ledger reference and an audit row in the
// same transaction.
func (r *consentRepository) UpdateStatus(ctx context.Context, id string, status domain.ConsentStatus, actorID string, expectedVersion int64, ledgerEntryID string) (*domain.ConsentRecord, error) {
	const query = `
        WITH prev AS (
            SELECT id, status FROM consents WHERE id=$3 AND version=$4 FOR UPDATE
        )
        UPDATE consents c SET status=$1, version=c.version+1, last_modified_by=$2
        FROM prev WHERE c.id=prev.id
        RETURNING prev.status, c.id, c.subject_id, c.requester_id, c.categories, c.purpose, c.valid_from,
            c.valid_until, c.status, c.ledger_ref, c.version, c.last_modified_by, c.created_at, c.updated_at`

	if !isRowID(id) {
		return nil, ErrVersionConflict
	}

	var updated *domain.ConsentRecord
	err := withTx(ctx, r.db, func(tx pgx.Tx) error {
		var oldStatus domain.ConsentStatus
		rec, err := scanConsentWithPrefix(tx.QueryRow(ctx, query, status, actorID, id, expectedVersion), &oldStatus)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrVersionConflict
		}
		if err != nil {
			return err
		}
		eventType := "consent.status_changed"
		if _, err := tx.Exec(ctx, insertLedgerEntrySQL, id, ledgerEntryID, eventType, status, actorID); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, insertConsentAuditSQL, id, oldStatus, status, actorID, rec.Version); err != nil {
			return err
		}
		updated = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (r *consentRepository) ListLedgerEntries(ctx context.Context, consentID string) ([]domain.ConsentLedgerRef, error) {
	const query = `
        SELECT consent_id, ledger_entry_id, event_type, status, actor_id, created_at
        FROM consent_ledger_entries WHERE consent_id=$1 ORDER BY id`

	if !isRowID(consentID) {
		return []domain.ConsentLedgerRef{}, nil
	}

	rows, err := r.db.Query(ctx, query, consentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	refs := []domain.ConsentLedgerRef{}
	for rows.Next() {
		var ref domain.ConsentLedgerRef
		if err := rows.Scan(
			&ref.ConsentID,
			&ref.LedgerEntryID,
			&ref.EventType,
			&ref.Status,
			&ref.ActorID,
			&ref.CreatedAt,
		); err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

func (r *consentRepository) list(ctx context.Context, query string, args ...any) ([]domain.ConsentRecord, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []domain.ConsentRecord{}
	for rows.Next() {
		rec, err := scanConsent(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

func scanConsent(row rowScanner) (*domain.ConsentRecord, error) {
	return scanConsentWithPrefix(row)
}

func scanConsentWithPrefix(row rowScanner, prefix ...any) (*domain.ConsentRecord, error) {
	var (
		rec        domain.ConsentRecord
		categories []string
	)
	dest := append(prefix,
		&rec.ID,
		&rec.SubjectID,
		&rec.RequesterID,
		&categories,
		&rec.Scope.Purpose,
		&rec.Window.Start,
		&rec.Window.End,
		&rec.Status,
		&rec.LedgerRef,
		&rec.Version,
		&rec.LastModifiedBy,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	rec.Scope.Categories = make([]domain.DataCategory, 0, len(categories))
	for _, c := range categories {
		rec.Scope.Categories = append(rec.Scope.Categories, domain.DataCategory(c))
	}
	return &rec, nil
}
