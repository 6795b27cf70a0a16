package repository

import (
	"context"
	"strconv"
	"strings"

	"github.com/ME-sdeo/me3-zam0pf-sub003/internal/domain"
)

// AuditFilter narrows audit log listings.
type AuditFilter struct {
	ActorID      *string
	ResourceType *string
	ResourceID   *string
	Limit        int
	Offset       int
}

// AuditRepository appends to and reads the audit log.
type AuditRepository interface {
	Create(ctx context.Context, entry *domain.AuditEntry) error
	List(ctx context.Context, filter AuditFilter) ([]domain.AuditEntry, error)
}

type auditRepository struct {
	db DB
}

// NewAuditRepository returns a Postgres-backed implementation.
func NewAuditRepository(db DB) AuditRepository {
	return &auditRepository{db: db}
}

func (r *auditRepository) Create(ctx context.Context, entry *domain.AuditEntry) error {
	const query = `
        INSERT INTO audit_log (actor_id, actor_role, action, resource_type, resource_id, request_id, http_status, details)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        RETURNING id, created_at`

	details := entry.Details
	if details == nil {
		details = map[string]any{}
	}
	return r.db.QueryRow(ctx, query,
		entry.ActorID,
		entry.ActorRole,
		entry.Action,
		entry.ResourceType,
		entry.ResourceID,
		entry.RequestID,
		entry.HTTPStatus,
		details,
	).Scan(&entry.ID, &entry.CreatedAt)
}

func (r *auditRepository) List(ctx context.Context, filter AuditFilter) ([]domain.AuditEntry, error) {
	var (
		clauses []string
		args    []any
	)
	add := func(column string, value *string) {
		if value == nil {
			return
		}
		args = append(args, *value)
		clauses = append(clauses, column+"=$"+strconv.Itoa(len(args)))
	}
	add("actor_id", filter.ActorID)
	add("resource_type", filter.ResourceType)
	add("resource_id", filter.ResourceID)

	query := `SELECT id, actor_id, actor_role, action, resource_type, resource_id, request_id, http_status, details, created_at
        FROM audit_log`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	args = append(args, clampLimit(filter.Limit), filter.Offset)
	query += " ORDER BY created_at DESC LIMIT $" + strconv.Itoa(len(args)-1) + " OFFSET $" + strconv.Itoa(len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []domain.AuditEntry{}
	for rows.Next() {
		var entry domain.AuditEntry
		if err := rows.Scan(
			&entry.ID,
			&entry.ActorID,
			&entry.ActorRole,
			&entry.Action,
			&entry.ResourceType,
			&entry.ResourceID,
			&entry.RequestID,
			&entry.HTTPStatus,
			&entry.Details,
			&entry.CreatedAt,
		); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
