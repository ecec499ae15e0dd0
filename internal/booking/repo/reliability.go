package repo

import (
	"context"
	"fmt"

	"booking-service/internal/booking/domain"
)

func (r *Postgres) ClaimEffect(ctx context.Context, key string) (bool, error) {
	cmd, err := r.db.Exec(ctx, `
		INSERT INTO effect_claims (key) VALUES ($1)
		ON CONFLICT (key) DO NOTHING
	`, key)
	if err != nil {
		return false, fmt.Errorf("claim effect %q: %w", key, err)
	}
	return cmd.RowsAffected() == 1, nil
}

func (r *Postgres) ReleaseEffect(ctx context.Context, key string) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM effect_claims WHERE key = $1`, key); err != nil {
		return fmt.Errorf("release effect %q: %w", key, err)
	}
	return nil
}

func (r *Postgres) SaveOutbox(ctx context.Context, e domain.OutboxEntry) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO outbox (id, topic, message_key, body, dedup_key, attempts, last_error)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING
	`, e.ID, e.Topic, e.Key, e.Body, e.DedupKey, e.Attempts, e.LastError)
	if err != nil {
		return fmt.Errorf("save outbox entry: %w", err)
	}
	return nil
}

func (r *Postgres) PendingOutbox(ctx context.Context, limit int) ([]domain.OutboxEntry, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id::text, topic, message_key, body, dedup_key, attempts, last_error, created_at
		FROM outbox
		ORDER BY created_at, id
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list outbox: %w", err)
	}
	defer rows.Close()

	var out []domain.OutboxEntry
	for rows.Next() {
		var e domain.OutboxEntry
		if err := rows.Scan(&e.ID, &e.Topic, &e.Key, &e.Body, &e.DedupKey, &e.Attempts, &e.LastError, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan outbox entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *Postgres) MarkOutboxSent(ctx context.Context, id string) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM outbox WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete outbox entry %s: %w", id, err)
	}
	return nil
}

func (r *Postgres) RecordOutboxFailure(ctx context.Context, id string, cause string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE outbox SET attempts = attempts + 1, last_error = $2 WHERE id = $1
	`, id, cause)
	if err != nil {
		return fmt.Errorf("record outbox failure %s: %w", id, err)
	}
	return nil
}

func (r *Postgres) SaveDeadLetter(ctx context.Context, l domain.DeadLetter) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO dead_letters (id, topic, body, error, attempts)
		VALUES ($1, $2, $3, $4, $5)
	`, l.ID, l.Topic, l.Body, l.Error, l.Attempts)
	if err != nil {
		return fmt.Errorf("save dead letter: %w", err)
	}
	return nil
}
