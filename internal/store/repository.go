/**
 * @description
 * This file defines the `Repository` interface, which specifies the contract for all
 * data access operations required by the grant-pathway backend. By defining an
 * interface, we decouple the application's business logic from the specific database
 * implementation (e.g., PostgreSQL), making the code more modular and easier to test.
 *
 * @dependencies
 * - context, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID handling.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/jaypozo/grant-pathway/internal/domain"
)

// Sentinel errors returned by repository implementations. Callers use errors.Is;
// the API boundary collapses both into the single outward "Token expired /
// not found" class so responses never reveal which lookup missed.
var (
	ErrAccountNotFound = errors.New("account not found")
	ErrRecordNotFound  = errors.New("business record not found")
	ErrRecordNotPaid   = errors.New("business record has not been paid for")
)

// OutboxEmail is one queued transactional email. Rows live in the email_outbox
// table until the dispatcher hands them to the mail provider.
type OutboxEmail struct {
	ID        int64
	Recipient string
	Subject   string
	Template  string
	Variables map[string]string
	Attempts  int
	CreatedAt time.Time
}

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// Account methods
	FindAccountByEmail(ctx context.Context, email string) (*domain.Account, error)
	FindAccountByID(ctx context.Context, accountID uuid.UUID) (*domain.Account, error)
	CreateAccount(ctx context.Context, email, token string, tokenExpiresAt time.Time) (*domain.Account, error)
	// RotateAccountToken replaces the account's token and expiry in place. The
	// write is a single-row update, so concurrent rotations are last-writer-wins.
	RotateAccountToken(ctx context.Context, accountID uuid.UUID, token string, tokenExpiresAt time.Time) error
	// FindAccountByUnexpiredToken resolves a bearer token to its account iff the
	// token matches exactly and has not expired.
	FindAccountByUnexpiredToken(ctx context.Context, token string) (*domain.Account, error)

	// Business record methods
	CreateBusinessRecord(ctx context.Context, rec *domain.BusinessRecord) error
	FindRecordsByAccountID(ctx context.Context, accountID uuid.UUID) ([]domain.BusinessRecord, error)
	FindRecordForAccount(ctx context.Context, recordID, accountID uuid.UUID) (*domain.BusinessRecord, error)
	FindRecordByID(ctx context.Context, recordID uuid.UUID) (*domain.BusinessRecord, error)
	// MarkRecordPaid transitions a record from pending_payment to
	// processing_report. It reports whether the transition was applied; a record
	// already at or past processing_report is left untouched (webhook replays).
	MarkRecordPaid(ctx context.Context, recordID uuid.UUID, paymentIntentID string, paidAt time.Time) (bool, error)
	// ReplaceReportItems swaps in the curated funding opportunities for a paid
	// record, stamps the upload time and moves the record to report_ready.
	ReplaceReportItems(ctx context.Context, recordID uuid.UUID, items []domain.FundingOpportunity, uploadedAt time.Time) error
	FindOpportunitiesByRecordID(ctx context.Context, recordID uuid.UUID) ([]domain.FundingOpportunity, error)
	CountStalePendingRecords(ctx context.Context, olderThan time.Duration) (int, error)

	// Email outbox methods
	EnqueueEmail(ctx context.Context, email OutboxEmail) error
	ClaimOutboxEmails(ctx context.Context, batchSize, staleAfterSeconds int) ([]OutboxEmail, error)
	MarkOutboxPublished(ctx context.Context, id int64) error
	MarkOutboxFailed(ctx context.Context, id int64, retryAfterSeconds int, reason string) error
	PurgePublishedOutbox(ctx context.Context, olderThan time.Duration) (int64, error)
}
