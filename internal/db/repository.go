package db

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const notificationColumns = `id, kind, aggregate_id, recipients, subject, body, created_at, updated_at,
	scheduled_at, published_at, delivered_at, publish_attempts, delivery_attempts, error`

type NotificationRepository struct {
	pool *pgxpool.Pool
}

func NewNotificationRepository(pool *pgxpool.Pool) *NotificationRepository {
	return &NotificationRepository{pool: pool}
}

func (r *NotificationRepository) Pool() *pgxpool.Pool {
	return r.pool
}

func (r *NotificationRepository) BeginTx(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

// Create inserts the entity through q, so callers can enqueue inside their own transaction.
func (r *NotificationRepository) Create(ctx context.Context, q DBTX, entity *NotificationEntity) (*NotificationEntity, error) {
	query := `INSERT INTO notification_outbox (id, kind, aggregate_id, recipients, subject, body, created_at, updated_at, scheduled_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $7, $8) RETURNING id`
	err := q.QueryRow(ctx, query, entity.ID, entity.Kind, entity.AggregateID, entity.Recipients, entity.Subject,
		entity.Body, entity.CreatedAt, entity.ScheduledAt).Scan(&entity.ID)
	if err != nil {
		return nil, err
	}
	return entity, nil
}

func (r *NotificationRepository) GetByID(ctx context.Context, id uuid.UUID) (*NotificationEntity, error) {
	query := `SELECT ` + notificationColumns + ` FROM notification_outbox WHERE id = $1`
	return scanNotification(r.pool.QueryRow(ctx, query, id))
}

// GetScheduledNotifications locks due rows, skipping rows another producer holds.
func (r *NotificationRepository) GetScheduledNotifications(ctx context.Context, tx pgx.Tx, limit int) ([]*NotificationEntity, error) {
	query := `SELECT ` + notificationColumns + ` FROM notification_outbox
	          WHERE scheduled_at IS NOT NULL AND scheduled_at <= NOW()
	          ORDER BY scheduled_at
	          LIMIT $1
	          FOR UPDATE SKIP LOCKED`
	rows, err := tx.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entities []*NotificationEntity
	for rows.Next() {
		entity, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		entities = append(entities, entity)
	}
	return entities, rows.Err()
}

func (r *NotificationRepository) Update(ctx context.Context, tx pgx.Tx, entity *NotificationEntity) error {
	query := `UPDATE notification_outbox
	          SET scheduled_at = $2, published_at = $3, publish_attempts = $4, delivery_attempts = $5, error = $6, updated_at = NOW()
	          WHERE id = $1`
	_, err := tx.Exec(ctx, query, entity.ID, entity.ScheduledAt, entity.PublishedAt, entity.PublishAttempts,
		entity.DeliveryAttempts, entity.Error)
	return err
}

func (r *NotificationRepository) SelectForUpdateByID(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*NotificationEntity, error) {
	query := `SELECT ` + notificationColumns + ` FROM notification_outbox WHERE id = $1 FOR UPDATE`
	return scanNotification(tx.QueryRow(ctx, query, id))
}

// UpdateScheduledAtAndAttemptsByID records a failed delivery. A nil scheduledAt
// parks the row for good.
func (r *NotificationRepository) UpdateScheduledAtAndAttemptsByID(ctx context.Context, tx pgx.Tx, id uuid.UUID, scheduledAt *time.Time, attempts int, errMsg string) error {
	query := `UPDATE notification_outbox
	          SET scheduled_at = $2, delivery_attempts = $3, error = $4, updated_at = NOW()
	          WHERE id = $1`
	_, err := tx.Exec(ctx, query, id, scheduledAt, attempts, errMsg)
	return err
}

func (r *NotificationRepository) UpdateAttemptsAndDeliveredAtByID(ctx context.Context, tx pgx.Tx, id uuid.UUID, attempts int, deliveredAt time.Time) error {
	query := `UPDATE notification_outbox
	          SET delivered_at = $2, delivery_attempts = $3, scheduled_at = NULL, error = NULL, updated_at = NOW()
	          WHERE id = $1`
	_, err := tx.Exec(ctx, query, id, deliveredAt, attempts)
	return err
}

func scanNotification(row pgx.Row) (*NotificationEntity, error) {
	var e NotificationEntity
	err := row.Scan(&e.ID, &e.Kind, &e.AggregateID, &e.Recipients, &e.Subject, &e.Body, &e.CreatedAt, &e.UpdatedAt,
		&e.ScheduledAt, &e.PublishedAt, &e.DeliveredAt, &e.PublishAttempts, &e.DeliveryAttempts, &e.Error)
	if err != nil {
		return nil, err
	}
	return &e, nil
}
