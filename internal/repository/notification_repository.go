package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/ME-sdeo/me3-zam0pf-sub003/internal/domain"
)

// NotificationRepository persists in-app notifications.
type NotificationRepository interface {
	Create(ctx context.Context, n *domain.Notification) error
	ListByRecipient(ctx context.Context, recipientType domain.RecipientType, recipientID string, limit, offset int) ([]domain.Notification, error)
	MarkRead(ctx context.Context, id string, recipientType domain.RecipientType, recipientID string) error
	UpdateDelivery(ctx context.Context, id string, state domain.DeliveryState) error
}

type notificationRepository struct {
	db DB
}

// NewNotificationRepository returns a Postgres-backed implementation.
func NewNotificationRepository(db DB) NotificationRepository {
	return &notificationRepository{db: db}
}

func (r *notificationRepository) Create(ctx context.Context, n *domain.Notification) error {
	const query = `
        INSERT INTO notifications (recipient_type, recipient_id, event_type, consent_id, message, delivery)
        VALUES ($1, $2, $3, $4, $5, $6)
        RETURNING id, created_at`

	return r.db.QueryRow(ctx, query,
		n.RecipientType,
		n.RecipientID,
		n.EventType,
		nullableString(n.ConsentID),
		n.Message,
		n.Delivery,
	).Scan(&n.ID, &n.CreatedAt)
}

func (r *notificationRepository) ListByRecipient(ctx context.Context, recipientType domain.RecipientType, recipientID string, limit, offset int) ([]domain.Notification, error) {
	const query = `
        SELECT id, recipient_type, recipient_id, event_type, consent_id, message, read, delivery, created_at
        FROM notifications WHERE recipient_type=$1 AND recipient_id=$2
        ORDER BY created_at DESC LIMIT $3 OFFSET $4`

	rows, err := r.db.Query(ctx, query, recipientType, recipientID, clampLimit(limit), offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []domain.Notification{}
	for rows.Next() {
		var (
			n         domain.Notification
			consentID *string
		)
		if err := rows.Scan(
			&n.ID,
			&n.RecipientType,
			&n.RecipientID,
			&n.EventType,
			&consentID,
			&n.Message,
			&n.Read,
			&n.Delivery,
			&n.CreatedAt,
		); err != nil {
			return nil, err
		}
		n.ConsentID = optionalString(consentID)
		items = append(items, n)
	}
	return items, rows.Err()
}

// MarkRead only touches notifications owned by the recipient.
func (r *notificationRepository) MarkRead(ctx context.Context, id string, recipientType domain.RecipientType, recipientID string) error {
	if !isRowID(id) {
		return pgx.ErrNoRows
	}
	cmd, err := r.db.Exec(ctx,
		`UPDATE notifications SET read=TRUE WHERE id=$1 AND recipient_type=$2 AND recipient_id=$3`,
		id, recipientType, recipientID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *notificationRepository) UpdateDelivery(ctx context.Context, id string, state domain.DeliveryState) error {
	_, err := r.db.Exec(ctx, `UPDATE notifications SET delivery=$1 WHERE id=$2`, state, id)
	return err
}
