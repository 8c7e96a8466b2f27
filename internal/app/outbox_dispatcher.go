// Outbox dispatcher: drains the email_outbox table and hands messages to the
// mail provider. Runs as a background loop per process; claiming is guarded at
// the storage layer so multiple instances never double-send.
package app

import (
	"context"
	"log"
	"time"

	"github.com/jaypozo/grant-pathway/internal/store"
)

const (
	defaultBatchSize       = 50
	defaultPollInterval    = 1200 * time.Millisecond
	defaultStaleProcessing = 2 * time.Minute
)

// Mailer abstracts the transactional mail provider.
type Mailer interface {
	SendTemplate(ctx context.Context, recipient, subject, template string, variables map[string]string) error
}

// OutboxDispatcher polls the email outbox and delivers queued messages.
type OutboxDispatcher struct {
	repo                store.Repository
	mailer              Mailer
	batchSize           int
	pollInterval        time.Duration
	staleProcessingTime time.Duration
}

// NewOutboxDispatcher creates a dispatcher with default batching and intervals.
func NewOutboxDispatcher(repo store.Repository, mailer Mailer) *OutboxDispatcher {
	return &OutboxDispatcher{
		repo:                repo,
		mailer:              mailer,
		batchSize:           defaultBatchSize,
		pollInterval:        defaultPollInterval,
		staleProcessingTime: defaultStaleProcessing,
	}
}

// Run blocks until the context is cancelled, flushing the outbox on a ticker.
func (d *OutboxDispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := d.flushOnce(ctx); err != nil {
				log.Printf("Outbox flush error: %v", err)
			}
		}
	}
}

func (d *OutboxDispatcher) flushOnce(ctx context.Context) error {
	staleAfterSeconds := int(d.staleProcessingTime.Seconds())
	emails, err := d.repo.ClaimOutboxEmails(ctx, d.batchSize, staleAfterSeconds)
	if err != nil {
		return err
	}
	if len(emails) == 0 {
		return nil
	}

	for _, email := range emails {
		if err := d.mailer.SendTemplate(ctx, email.Recipient, email.Subject, email.Template, email.Variables); err != nil {
			log.Printf("Failed to send outbox email %d (%s): %v", email.ID, email.Template, err)
			retryAfter := retryDelaySeconds(email.Attempts)
			_ = d.repo.MarkOutboxFailed(ctx, email.ID, retryAfter, err.Error())
			continue
		}
		if err := d.repo.MarkOutboxPublished(ctx, email.ID); err != nil {
			log.Printf("Failed to mark outbox email %d as published: %v", email.ID, err)
		}
	}
	return nil
}

func retryDelaySeconds(attempt int) int {
	if attempt < 1 {
		return 1
	}
	delay := 1 << min(attempt, 8)
	if delay > 300 {
		return 300
	}
	return delay
}
