/**
 * @description
 * This file implements the data access layer for the grant-pathway backend.
 * It contains all the SQL queries and logic for interacting with the database.
 *
 * Key features:
 * - Accounts: email-keyed identities carrying the single current access token.
 * - Business records: submitted profiles with a forward-only payment lifecycle,
 *   enforced by status predicates in the UPDATE statements themselves.
 * - Funding opportunities: curated report items replaced atomically per record.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: PostgreSQL driver and connection pooling.
 * - github.com/google/uuid: Primary key handling.
 */

package store

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jaypozo/grant-pathway/internal/domain"
)

// PostgresRepository is the PostgreSQL implementation of the Repository interface.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// FindAccountByEmail retrieves an account by its (normalized) email address.
func (r *PostgresRepository) FindAccountByEmail(ctx context.Context, email string) (*domain.Account, error) {
	query := `
        SELECT id, email, token, token_expires_at, created_at, updated_at
        FROM accounts
        WHERE email = $1
    `
	var acct domain.Account
	err := r.db.QueryRow(ctx, query, normalizeEmail(email)).Scan(
		&acct.ID,
		&acct.Email,
		&acct.Token,
		&acct.TokenExpiresAt,
		&acct.CreatedAt,
		&acct.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &acct, nil
}

// FindAccountByID retrieves an account by its primary key.
func (r *PostgresRepository) FindAccountByID(ctx context.Context, accountID uuid.UUID) (*domain.Account, error) {
	query := `
        SELECT id, email, token, token_expires_at, created_at, updated_at
        FROM accounts
        WHERE id = $1
    `
	var acct domain.Account
	err := r.db.QueryRow(ctx, query, accountID).Scan(
		&acct.ID,
		&acct.Email,
		&acct.Token,
		&acct.TokenExpiresAt,
		&acct.CreatedAt,
		&acct.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &acct, nil
}

// CreateAccount inserts a new account with its initial token.
func (r *PostgresRepository) CreateAccount(ctx context.Context, email, token string, tokenExpiresAt time.Time) (*domain.Account, error) {
	query := `
        INSERT INTO accounts (email, token, token_expires_at)
        VALUES ($1, $2, $3)
        RETURNING id, email, token, token_expires_at, created_at, updated_at
    `
	var acct domain.Account
	err := r.db.QueryRow(ctx, query, normalizeEmail(email), token, tokenExpiresAt).Scan(
		&acct.ID,
		&acct.Email,
		&acct.Token,
		&acct.TokenExpiresAt,
		&acct.CreatedAt,
		&acct.UpdatedAt,
	)
	if err != nil {
		if pgErr, ok := err.(*pgconn.PgError); ok && pgErr.Code == "23505" {
			// Lost a race with a concurrent intake for the same email; surface the
			// winner's row instead.
			log.Printf("Account insert hit unique constraint %s, re-reading by email", pgErr.ConstraintName)
			return r.FindAccountByEmail(ctx, email)
		}
		log.Printf("Error inserting account: %v", err)
		return nil, err
	}
	return &acct, nil
}

// RotateAccountToken overwrites the account's token and expiry in place. The
// previous token stops resolving the moment this commits.
func (r *PostgresRepository) RotateAccountToken(ctx context.Context, accountID uuid.UUID, token string, tokenExpiresAt time.Time) error {
	tag, err := r.db.Exec(ctx, `
        UPDATE accounts
        SET token = $2, token_expires_at = $3, updated_at = NOW()
        WHERE id = $1
    `, accountID, token, tokenExpiresAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// FindAccountByUnexpiredToken resolves a token to its account. Expiry is part of
// the predicate: an expired token is indistinguishable from an unknown one.
func (r *PostgresRepository) FindAccountByUnexpiredToken(ctx context.Context, token string) (*domain.Account, error) {
	query := `
        SELECT id, email, token, token_expires_at, created_at, updated_at
        FROM accounts
        WHERE token = $1 AND token_expires_at > NOW()
    `
	var acct domain.Account
	err := r.db.QueryRow(ctx, query, token).Scan(
		&acct.ID,
		&acct.Email,
		&acct.Token,
		&acct.TokenExpiresAt,
		&acct.CreatedAt,
		&acct.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &acct, nil
}

// CreateBusinessRecord inserts a new record in pending_payment status and fills
// in the generated ID, status and creation time on the passed struct.
func (r *PostgresRepository) CreateBusinessRecord(ctx context.Context, rec *domain.BusinessRecord) error {
	query := `
        INSERT INTO business_records (
            account_id, business_name, city, province, business_type,
            industry, other_industry, business_stage, start_date,
            gender, age_range, underrepresented_groups, other_group, status
        )
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
        RETURNING id, status, created_at
    `
	err := r.db.QueryRow(ctx, query,
		rec.AccountID,
		rec.BusinessName,
		rec.City,
		rec.Province,
		rec.BusinessType,
		rec.Industry,
		rec.OtherIndustry,
		rec.BusinessStage,
		rec.StartDate,
		rec.Gender,
		rec.AgeRange,
		rec.Groups,
		rec.OtherGroup,
		domain.StatusPendingPayment,
	).Scan(&rec.ID, &rec.Status, &rec.CreatedAt)
	if err != nil {
		log.Printf("Error inserting business record for account %s: %v", rec.AccountID, err)
		return err
	}
	return nil
}

const recordColumns = `
    id, account_id, business_name, city, province, business_type,
    industry, other_industry, business_stage, start_date,
    gender, age_range, underrepresented_groups, other_group,
    status, payment_intent_id, paid_at, report_uploaded_at, created_at
`

func scanRecord(row pgx.Row) (*domain.BusinessRecord, error) {
	var rec domain.BusinessRecord
	err := row.Scan(
		&rec.ID,
		&rec.AccountID,
		&rec.BusinessName,
		&rec.City,
		&rec.Province,
		&rec.BusinessType,
		&rec.Industry,
		&rec.OtherIndustry,
		&rec.BusinessStage,
		&rec.StartDate,
		&rec.Gender,
		&rec.AgeRange,
		&rec.Groups,
		&rec.OtherGroup,
		&rec.Status,
		&rec.PaymentIntentID,
		&rec.PaidAt,
		&rec.ReportUploadedAt,
		&rec.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// FindRecordsByAccountID lists every record owned by the account, newest first.
func (r *PostgresRepository) FindRecordsByAccountID(ctx context.Context, accountID uuid.UUID) ([]domain.BusinessRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM business_records WHERE account_id = $1 ORDER BY created_at DESC`
	rows, err := r.db.Query(ctx, query, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []domain.BusinessRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

// FindRecordForAccount fetches one record scoped to its owner. Ownership is part
// of the predicate: a record id belonging to someone else behaves exactly like a
// missing record.
func (r *PostgresRepository) FindRecordForAccount(ctx context.Context, recordID, accountID uuid.UUID) (*domain.BusinessRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM business_records WHERE id = $1 AND account_id = $2`
	rec, err := scanRecord(r.db.QueryRow(ctx, query, recordID, accountID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return rec, nil
}

// FindRecordByID fetches a record without an ownership scope. Used by the
// webhook path after signature verification, where the record id comes from
// session metadata and is validated against the store.
func (r *PostgresRepository) FindRecordByID(ctx context.Context, recordID uuid.UUID) (*domain.BusinessRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM business_records WHERE id = $1`
	rec, err := scanRecord(r.db.QueryRow(ctx, query, recordID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return rec, nil
}

// MarkRecordPaid applies the pending_payment -> processing_report transition.
// The status predicate makes replayed webhook deliveries no-ops: a record
// already at or past processing_report is not touched and (false, nil) is
// returned.
func (r *PostgresRepository) MarkRecordPaid(ctx context.Context, recordID uuid.UUID, paymentIntentID string, paidAt time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx, `
        UPDATE business_records
        SET status = $2, payment_intent_id = $3, paid_at = $4
        WHERE id = $1 AND status = $5
    `, recordID, domain.StatusProcessingReport, paymentIntentID, paidAt, domain.StatusPendingPayment)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}

	// Nothing transitioned: either the record is already past pending_payment
	// (benign replay) or it does not exist at all.
	var status string
	err = r.db.QueryRow(ctx, `SELECT status FROM business_records WHERE id = $1`, recordID).Scan(&status)
	if err != nil {
		if err == pgx.ErrNoRows {
			return false, ErrRecordNotFound
		}
		return false, err
	}
	return false, nil
}

// ReplaceReportItems swaps in the curated opportunities for a record inside a
// single transaction, stamps the upload time and moves the record to
// report_ready. Records still awaiting payment are rejected.
func (r *PostgresRepository) ReplaceReportItems(ctx context.Context, recordID uuid.UUID, items []domain.FundingOpportunity, uploadedAt time.Time) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var status string
	err = tx.QueryRow(ctx, `SELECT status FROM business_records WHERE id = $1 FOR UPDATE`, recordID).Scan(&status)
	if err != nil {
		if err == pgx.ErrNoRows {
			return ErrRecordNotFound
		}
		return err
	}
	if status == domain.StatusPendingPayment {
		return ErrRecordNotPaid
	}

	if _, err := tx.Exec(ctx, `DELETE FROM funding_opportunities WHERE business_record_id = $1`, recordID); err != nil {
		return err
	}

	for _, item := range items {
		_, err := tx.Exec(ctx, `
            INSERT INTO funding_opportunities (
                business_record_id, title, description, url, type, category,
                deadline, max_amount, funding_provider
            )
            VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
        `, recordID, item.Title, item.Description, item.URL, item.Type, item.Category,
			item.Deadline, item.MaxAmount, item.FundingProvider)
		if err != nil {
			return err
		}
	}

	_, err = tx.Exec(ctx, `
        UPDATE business_records
        SET report_uploaded_at = $2, status = $3
        WHERE id = $1
    `, recordID, uploadedAt, domain.StatusReportReady)
	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// FindOpportunitiesByRecordID returns the record's report items ordered by
// category then title, with the id as tiebreaker so repeated report views
// render identically even when two items share both.
func (r *PostgresRepository) FindOpportunitiesByRecordID(ctx context.Context, recordID uuid.UUID) ([]domain.FundingOpportunity, error) {
	query := `
        SELECT id, business_record_id, title, description, url, type, category,
               deadline, max_amount, funding_provider, created_at
        FROM funding_opportunities
        WHERE business_record_id = $1
        ORDER BY category, title, id
    `
	rows, err := r.db.Query(ctx, query, recordID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.FundingOpportunity, 0)
	for rows.Next() {
		var item domain.FundingOpportunity
		if err := rows.Scan(
			&item.ID,
			&item.BusinessRecordID,
			&item.Title,
			&item.Description,
			&item.URL,
			&item.Type,
			&item.Category,
			&item.Deadline,
			&item.MaxAmount,
			&item.FundingProvider,
			&item.CreatedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// CountStalePendingRecords counts records that have sat in pending_payment
// longer than the given age. Used by the ops sweep job.
func (r *PostgresRepository) CountStalePendingRecords(ctx context.Context, olderThan time.Duration) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, `
        SELECT COUNT(*)
        FROM business_records
        WHERE status = $1 AND created_at < NOW() - ($2 * INTERVAL '1 second')
    `, domain.StatusPendingPayment, int(olderThan.Seconds())).Scan(&count)
	return count, err
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
