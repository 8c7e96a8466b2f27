/**
 * @description
 * Email outbox persistence. Transactional emails (magic links, payment and
 * report notifications) are written to the email_outbox table and handed to the
 * mail provider by a background dispatcher, so a provider outage never fails the
 * request that triggered the email.
 *
 * Claiming uses FOR UPDATE SKIP LOCKED so multiple service instances can run
 * dispatchers without double-sending, and rows stuck in 'processing' past the
 * stale window are reclaimed.
 */

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"
)

// EnqueueEmail writes one email to the outbox in pending status.
func (r *PostgresRepository) EnqueueEmail(ctx context.Context, email OutboxEmail) error {
	blob, err := json.Marshal(email.Variables)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, `
        INSERT INTO email_outbox (recipient, subject, template, variables)
        VALUES ($1, $2, $3, $4::jsonb)
    `, normalizeEmail(email.Recipient), strings.TrimSpace(email.Subject), strings.TrimSpace(email.Template), string(blob))
	if err != nil {
		return fmt.Errorf("failed to enqueue outbox email: %w", err)
	}
	return nil
}

// ClaimOutboxEmails marks up to limit due emails as processing and returns them.
func (r *PostgresRepository) ClaimOutboxEmails(ctx context.Context, limit, staleAfterSeconds int) ([]OutboxEmail, error) {
	if limit <= 0 {
		limit = 50
	}
	if staleAfterSeconds <= 0 {
		staleAfterSeconds = 120
	}

	query := `
        WITH candidates AS (
            SELECT id
            FROM email_outbox
            WHERE (
                (status = 'pending' AND next_attempt_at <= NOW())
                OR (status = 'processing' AND processing_started_at < NOW() - ($2 * INTERVAL '1 second'))
            )
            ORDER BY created_at
            LIMIT $1
            FOR UPDATE SKIP LOCKED
        )
        UPDATE email_outbox AS o
        SET status = 'processing',
            processing_started_at = NOW(),
            attempts = o.attempts + 1
        FROM candidates
        WHERE o.id = candidates.id
        RETURNING o.id, o.recipient, o.subject, o.template, o.variables::text, o.attempts, o.created_at
    `

	rows, err := r.db.Query(ctx, query, limit, staleAfterSeconds)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	emails := make([]OutboxEmail, 0, limit)
	for rows.Next() {
		var (
			email     OutboxEmail
			variables string
		)
		if err := rows.Scan(&email.ID, &email.Recipient, &email.Subject, &email.Template, &variables, &email.Attempts, &email.CreatedAt); err != nil {
			return nil, err
		}
		email.Variables = map[string]string{}
		if variables != "" {
			if unmarshalErr := json.Unmarshal([]byte(variables), &email.Variables); unmarshalErr != nil {
				log.Printf("Warning: failed to unmarshal outbox variables for email %d: %v", email.ID, unmarshalErr)
			}
		}
		emails = append(emails, email)
	}
	return emails, rows.Err()
}

// MarkOutboxPublished records a successful hand-off to the mail provider.
func (r *PostgresRepository) MarkOutboxPublished(ctx context.Context, id int64) error {
	_, err := r.db.Exec(ctx, `
        UPDATE email_outbox
        SET status = 'published',
            published_at = NOW(),
            processing_started_at = NULL,
            last_error = NULL
        WHERE id = $1
    `, id)
	return err
}

// MarkOutboxFailed returns an email to pending with a retry delay.
func (r *PostgresRepository) MarkOutboxFailed(ctx context.Context, id int64, retryAfterSeconds int, reason string) error {
	if retryAfterSeconds < 1 {
		retryAfterSeconds = 1
	}
	if len(reason) > 2000 {
		reason = reason[:2000]
	}
	_, err := r.db.Exec(ctx, `
        UPDATE email_outbox
        SET status = 'pending',
            next_attempt_at = NOW() + ($2 * INTERVAL '1 second'),
            processing_started_at = NULL,
            last_error = $3
        WHERE id = $1
    `, id, retryAfterSeconds, reason)
	return err
}

// PurgePublishedOutbox deletes published rows older than the given age and
// returns how many were removed.
func (r *PostgresRepository) PurgePublishedOutbox(ctx context.Context, olderThan time.Duration) (int64, error) {
	tag, err := r.db.Exec(ctx, `
        DELETE FROM email_outbox
        WHERE status = 'published' AND published_at < NOW() - ($1 * INTERVAL '1 second')
    `, int(olderThan.Seconds()))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
