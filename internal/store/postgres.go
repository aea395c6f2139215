package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/achzod/achzodyt-bilans-coaching/internal/config"
	"github.com/achzod/achzodyt-bilans-coaching/internal/models"
)

// Postgres is the production mirror backed by a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres wraps an existing connection pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// Connect creates a new PostgreSQL connection pool from the configuration.
func Connect(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.GetDatabaseURL())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	poolConfig.MaxConns = 25
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return pool, nil
}

// InitSchema creates the mirror tables if they do not exist.
func (p *Postgres) InitSchema(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS messages (
			message_id        TEXT PRIMARY KEY,
			from_address      TEXT        NOT NULL DEFAULT '',
			from_display_name TEXT        NOT NULL DEFAULT '',
			to_address        TEXT        NOT NULL DEFAULT '',
			subject           TEXT        NOT NULL DEFAULT '',
			sent_at           TIMESTAMPTZ NOT NULL,
			direction         TEXT        NOT NULL,
			body              TEXT        NOT NULL DEFAULT '',
			body_loaded       BOOLEAN     NOT NULL DEFAULT FALSE,
			lifecycle_state   TEXT        NOT NULL DEFAULT 'new',
			is_checkin        BOOLEAN     NOT NULL DEFAULT FALSE,
			created_at        TIMESTAMPTZ NOT NULL DEFAULT now()
		);

		CREATE INDEX IF NOT EXISTS idx_messages_sent_at ON messages (sent_at DESC);

		CREATE TABLE IF NOT EXISTS attachments (
			id           BIGSERIAL PRIMARY KEY,
			message_id   TEXT    NOT NULL REFERENCES messages (message_id) ON DELETE CASCADE,
			filename     TEXT    NOT NULL,
			content_type TEXT    NOT NULL DEFAULT '',
			payload      BYTEA,
			size_bytes   BIGINT  NOT NULL DEFAULT 0,
			is_image     BOOLEAN NOT NULL DEFAULT FALSE
		);

		CREATE INDEX IF NOT EXISTS idx_attachments_message_id ON attachments (message_id);
	`)
	if err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

func (p *Postgres) UpsertHeader(ctx context.Context, msg *models.Message) (bool, error) {
	tag, err := p.pool.Exec(ctx, `
		INSERT INTO messages (
			message_id,
			from_address,
			from_display_name,
			to_address,
			subject,
			sent_at,
			direction,
			lifecycle_state,
			is_checkin
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (message_id) DO NOTHING
	`,
		msg.MessageID,
		msg.FromAddress,
		msg.FromDisplayName,
		msg.ToAddress,
		msg.Subject,
		msg.SentAt,
		msg.Direction,
		msg.LifecycleState,
		msg.IsCheckin,
	)
	if err != nil {
		return false, fmt.Errorf("failed to upsert header: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}

func (p *Postgres) GetByMessageID(ctx context.Context, messageID string) (*models.Message, error) {
	var msg models.Message
	err := p.pool.QueryRow(ctx, `
		SELECT
			message_id,
			from_address,
			from_display_name,
			to_address,
			subject,
			sent_at,
			direction,
			body,
			body_loaded,
			lifecycle_state,
			is_checkin
		FROM messages
		WHERE message_id = $1
	`, messageID).Scan(
		&msg.MessageID,
		&msg.FromAddress,
		&msg.FromDisplayName,
		&msg.ToAddress,
		&msg.Subject,
		&msg.SentAt,
		&msg.Direction,
		&msg.Body,
		&msg.BodyLoaded,
		&msg.LifecycleState,
		&msg.IsCheckin,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}

	attachments, err := p.getAttachments(ctx, messageID, true)
	if err != nil {
		return nil, err
	}
	msg.Attachments = attachments

	return &msg, nil
}

func (p *Postgres) SetBody(ctx context.Context, messageID, body string, attachments []models.Attachment) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
		UPDATE messages
		SET body = $2, body_loaded = TRUE
		WHERE message_id = $1
	`, messageID, body)
	if err != nil {
		return fmt.Errorf("failed to set body: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrMessageNotFound
	}

	// Replace rather than append so a re-load cannot duplicate attachments.
	if _, err := tx.Exec(ctx, `DELETE FROM attachments WHERE message_id = $1`, messageID); err != nil {
		return fmt.Errorf("failed to clear attachments: %w", err)
	}

	for _, att := range attachments {
		_, err := tx.Exec(ctx, `
			INSERT INTO attachments (message_id, filename, content_type, payload, size_bytes, is_image)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, messageID, att.Filename, att.ContentType, att.Payload, att.SizeBytes, att.IsImage)
		if err != nil {
			return fmt.Errorf("failed to save attachment %s: %w", att.Filename, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit body update: %w", err)
	}
	return nil
}

func (p *Postgres) SetLifecycleState(ctx context.Context, messageID string, state models.LifecycleState) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE messages SET lifecycle_state = $2 WHERE message_id = $1
	`, messageID, state)
	if err != nil {
		return fmt.Errorf("failed to set lifecycle state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrMessageNotFound
	}
	return nil
}

func (p *Postgres) SetCheckin(ctx context.Context, messageID string, isCheckin bool) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE messages SET is_checkin = $2 WHERE message_id = $1
	`, messageID, isCheckin)
	if err != nil {
		return fmt.Errorf("failed to set check-in flag: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrMessageNotFound
	}
	return nil
}

func (p *Postgres) ListSince(ctx context.Context, since time.Time, f ListFilter) ([]*models.Message, error) {
	query := `
		SELECT
			message_id,
			from_address,
			from_display_name,
			to_address,
			subject,
			sent_at,
			direction,
			body,
			body_loaded,
			lifecycle_state,
			is_checkin
		FROM messages
		WHERE sent_at >= $1
	`
	args := []interface{}{since}

	if f.Direction != "" {
		args = append(args, f.Direction)
		query += fmt.Sprintf(" AND direction = $%d", len(args))
	}
	if f.State != "" {
		args = append(args, f.State)
		query += fmt.Sprintf(" AND lifecycle_state = $%d", len(args))
	}
	if f.CheckinOnly {
		query += " AND is_checkin"
	}

	query += " ORDER BY sent_at DESC"

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	var messages []*models.Message
	for rows.Next() {
		var msg models.Message
		if err := rows.Scan(
			&msg.MessageID,
			&msg.FromAddress,
			&msg.FromDisplayName,
			&msg.ToAddress,
			&msg.Subject,
			&msg.SentAt,
			&msg.Direction,
			&msg.Body,
			&msg.BodyLoaded,
			&msg.LifecycleState,
			&msg.IsCheckin,
		); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating messages: %w", err)
	}

	for _, msg := range messages {
		attachments, err := p.getAttachments(ctx, msg.MessageID, false)
		if err != nil {
			return nil, err
		}
		msg.Attachments = attachments
	}

	return messages, nil
}

// getAttachments loads attachment rows for one message; payloads are only
// materialized when withPayload is set, listings stay light.
func (p *Postgres) getAttachments(ctx context.Context, messageID string, withPayload bool) ([]models.Attachment, error) {
	payloadColumn := "NULL::BYTEA"
	if withPayload {
		payloadColumn = "payload"
	}

	rows, err := p.pool.Query(ctx, fmt.Sprintf(`
		SELECT filename, content_type, %s, size_bytes, is_image
		FROM attachments
		WHERE message_id = $1
		ORDER BY id
	`, payloadColumn), messageID)
	if err != nil {
		return nil, fmt.Errorf("failed to get attachments: %w", err)
	}
	defer rows.Close()

	var attachments []models.Attachment
	for rows.Next() {
		var att models.Attachment
		if err := rows.Scan(&att.Filename, &att.ContentType, &att.Payload, &att.SizeBytes, &att.IsImage); err != nil {
			return nil, fmt.Errorf("failed to scan attachment: %w", err)
		}
		attachments = append(attachments, att)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating attachments: %w", err)
	}

	return attachments, nil
}
