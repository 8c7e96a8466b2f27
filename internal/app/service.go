/**
 * @description
 * This file contains the core business logic for the grant-pathway backend: the
 * token-based access lifecycle that turns an anonymous form submission into a
 * paid, retrievable record.
 *
 * Key rules enforced here:
 * - Intake validation happens before any write, so a rejected submission never
 *   leaves an orphan record.
 * - An account's unexpired token is reused on repeat intake (an in-flight magic
 *   link must not be silently invalidated), while re-issuance always rotates.
 * - Webhook metadata is untrusted: record and account ids are revalidated
 *   against the store before any state change.
 * - Every outward-facing view is built from allow-listed projections.
 *
 * @dependencies
 * - internal/store: Repository interface and sentinel errors.
 * - internal/token: Bearer token generation.
 * - pkg/stripeclient, pkg/rabbitmq: External checkout and event publishing.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/mail"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jaypozo/grant-pathway/internal/config"
	"github.com/jaypozo/grant-pathway/internal/domain"
	"github.com/jaypozo/grant-pathway/internal/store"
	"github.com/jaypozo/grant-pathway/internal/token"
	"github.com/jaypozo/grant-pathway/pkg/rabbitmq"
	"github.com/jaypozo/grant-pathway/pkg/stripeclient"
)

// Service-level errors. Handlers translate these into the HTTP error taxonomy;
// wrapped detail is safe to show to the caller.
var (
	// ErrValidation marks user-correctable input problems (400).
	ErrValidation = errors.New("validation failed")
	// ErrTokenExpired is the single outward error for every token resolution
	// miss: unknown token, expired token, or a record id the token does not own.
	// Collapsing these avoids leaking which tokens or records exist.
	ErrTokenExpired = errors.New("token expired or not found")
	// ErrUnknownEmail is returned by re-issuance when no account matches.
	ErrUnknownEmail = errors.New("no business details found for this email")
)

// Email templates dispatched through the outbox.
const (
	templateMagicLink   = "magic-link"
	templatePaymentDone = "payment-confirmation"
	templateReportReady = "report-ready"
	subjectMagicLink    = "Your Grant Pathway access link"
	subjectPaymentDone  = "Payment received - your grant report is on the way"
	subjectReportReady  = "Your Grant Pathway report is ready"
)

// CheckoutClient abstracts the Stripe checkout session API for testing.
type CheckoutClient interface {
	CreateCheckoutSession(ctx context.Context, params stripeclient.CreateCheckoutSessionParams) (*domain.CheckoutSession, error)
}

// Service provides the business logic for the record lifecycle.
type Service struct {
	repo      store.Repository
	checkout  CheckoutClient
	publisher rabbitmq.Publisher
	cfg       config.Config
}

// NewService creates a new Service.
func NewService(repo store.Repository, checkout CheckoutClient, publisher rabbitmq.Publisher, cfg config.Config) *Service {
	return &Service{repo: repo, checkout: checkout, publisher: publisher, cfg: cfg}
}

// CreateCheckout validates an intake submission, resolves the owning account,
// creates a pending business record and starts the hosted payment flow. It does
// not wait for payment.
func (s *Service) CreateCheckout(ctx context.Context, req domain.IntakeRequest) (*domain.CheckoutResult, error) {
	if err := validateIntake(&req); err != nil {
		return nil, err
	}

	acct, accessToken, err := s.resolveAccountForIntake(ctx, req.Email)
	if err != nil {
		return nil, err
	}

	rec := &domain.BusinessRecord{
		AccountID:     acct.ID,
		BusinessName:  req.BusinessName,
		City:          req.City,
		Province:      req.Province,
		BusinessType:  req.BusinessType,
		Industry:      req.Industry,
		OtherIndustry: optional(req.OtherIndustry),
		BusinessStage: req.BusinessStage,
		StartDate:     req.StartDate,
		Gender:        req.Gender,
		AgeRange:      req.AgeRange,
		Groups:        req.Groups,
		OtherGroup:    optional(req.OtherGroup),
	}
	if err := s.repo.CreateBusinessRecord(ctx, rec); err != nil {
		return nil, err
	}

	session, err := s.checkout.CreateCheckoutSession(ctx, stripeclient.CreateCheckoutSessionParams{
		PriceID:       s.cfg.StripePriceID,
		CustomerEmail: acct.Email,
		SuccessURL:    fmt.Sprintf("%s/success?token=%s&bid=%s", s.cfg.BaseURL, accessToken, rec.ID),
		CancelURL:     fmt.Sprintf("%s/business-details", s.cfg.BaseURL),
		Metadata: map[string]string{
			domain.MetadataRecordID:  rec.ID.String(),
			domain.MetadataAccountID: acct.ID.String(),
			domain.MetadataToken:     accessToken,
		},
	})
	if err != nil {
		// The record stays in pending_payment; the caller can retry intake and
		// the account token is unaffected.
		log.Printf("Checkout session creation failed for record %s: %v", rec.ID, err)
		return nil, err
	}

	return &domain.CheckoutResult{RecordID: rec.ID, RedirectURL: session.URL}, nil
}

// resolveAccountForIntake finds or creates the account for an intake email and
// returns the token new records should embed. An unexpired token is reused so a
// quick double submission does not invalidate an in-flight access link.
func (s *Service) resolveAccountForIntake(ctx context.Context, email string) (*domain.Account, string, error) {
	now := time.Now().UTC()

	acct, err := s.repo.FindAccountByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, store.ErrAccountNotFound) {
			return nil, "", err
		}
		tok, expiresAt, err := token.Issue(now)
		if err != nil {
			return nil, "", err
		}
		created, err := s.repo.CreateAccount(ctx, email, tok, expiresAt)
		if err != nil {
			return nil, "", err
		}
		return created, created.Token, nil
	}

	if acct.TokenValid(now) {
		return acct, acct.Token, nil
	}

	tok, expiresAt, err := token.Issue(now)
	if err != nil {
		return nil, "", err
	}
	if err := s.repo.RotateAccountToken(ctx, acct.ID, tok, expiresAt); err != nil {
		return nil, "", err
	}
	acct.Token = tok
	acct.TokenExpiresAt = expiresAt
	return acct, tok, nil
}

// ResolveToken resolves a bearer token to its owner and record(s). With a record
// id the result is scoped to that record; an id the token does not own resolves
// to the same outward error as an unknown token.
func (s *Service) ResolveToken(ctx context.Context, accessToken string, recordID *uuid.UUID) (*domain.ResolvedAccess, error) {
	if strings.TrimSpace(accessToken) == "" {
		return nil, fmt.Errorf("%w: token is required", ErrValidation)
	}

	acct, err := s.repo.FindAccountByUnexpiredToken(ctx, accessToken)
	if err != nil {
		if errors.Is(err, store.ErrAccountNotFound) {
			return nil, ErrTokenExpired
		}
		return nil, err
	}

	var records []domain.BusinessRecord
	if recordID != nil {
		rec, err := s.repo.FindRecordForAccount(ctx, *recordID, acct.ID)
		if err != nil {
			if errors.Is(err, store.ErrRecordNotFound) {
				return nil, ErrTokenExpired
			}
			return nil, err
		}
		records = []domain.BusinessRecord{*rec}
	} else {
		records, err = s.repo.FindRecordsByAccountID(ctx, acct.ID)
		if err != nil {
			return nil, err
		}
	}

	resolved := &domain.ResolvedAccess{
		Owner:   domain.OwnerView{Email: acct.Email, CreatedAt: acct.CreatedAt},
		Records: make([]domain.RecordView, 0, len(records)),
	}
	for i := range records {
		resolved.Records = append(resolved.Records, domain.NewRecordView(&records[i]))
	}
	return resolved, nil
}

// GetReport returns the finished report for a record the token owns. A record
// with no opportunities yet is a valid, empty report.
func (s *Service) GetReport(ctx context.Context, accessToken string, recordID uuid.UUID) (*domain.Report, error) {
	if strings.TrimSpace(accessToken) == "" {
		return nil, fmt.Errorf("%w: token is required", ErrValidation)
	}

	acct, err := s.repo.FindAccountByUnexpiredToken(ctx, accessToken)
	if err != nil {
		if errors.Is(err, store.ErrAccountNotFound) {
			return nil, ErrTokenExpired
		}
		return nil, err
	}

	rec, err := s.repo.FindRecordForAccount(ctx, recordID, acct.ID)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return nil, ErrTokenExpired
		}
		return nil, err
	}

	items, err := s.repo.FindOpportunitiesByRecordID(ctx, rec.ID)
	if err != nil {
		return nil, err
	}
	sortReportItems(items)

	return &domain.Report{
		BusinessDetails: domain.ReportBusinessView{
			BusinessName:     rec.BusinessName,
			City:             rec.City,
			Province:         rec.Province,
			ReportUploadedAt: rec.ReportUploadedAt,
		},
		ReportItems: items,
	}, nil
}

// ReissueToken rotates the account token for a known email and queues the magic
// link email. Unlike intake, rotation is unconditional: requesting a new link
// deliberately invalidates the old one.
func (s *Service) ReissueToken(ctx context.Context, email string) error {
	if strings.TrimSpace(email) == "" {
		return fmt.Errorf("%w: email is required", ErrValidation)
	}

	acct, err := s.repo.FindAccountByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrAccountNotFound) {
			return ErrUnknownEmail
		}
		return err
	}

	now := time.Now().UTC()
	tok, expiresAt, err := token.Issue(now)
	if err != nil {
		return err
	}
	if err := s.repo.RotateAccountToken(ctx, acct.ID, tok, expiresAt); err != nil {
		return err
	}

	return s.repo.EnqueueEmail(ctx, store.OutboxEmail{
		Recipient: acct.Email,
		Subject:   subjectMagicLink,
		Template:  templateMagicLink,
		Variables: map[string]string{
			"magic_link": fmt.Sprintf("%s/success?token=%s", s.cfg.BaseURL, tok),
			"expires_at": expiresAt.Format(time.RFC3339),
		},
	})
}

// HandleCheckoutCompleted applies a verified checkout completion to the record
// named in the session metadata. The metadata is revalidated against the store
// before anything is mutated; replays of an already-applied completion are
// no-ops. Callers acknowledge the webhook regardless of the returned error, so
// any failure here must be treated as loud-log-only.
func (s *Service) HandleCheckoutCompleted(ctx context.Context, session domain.CheckoutSession) error {
	recordIDValue := session.Metadata[domain.MetadataRecordID]
	if recordIDValue == "" {
		return fmt.Errorf("checkout session %s has no record id in metadata", session.ID)
	}
	recordID, err := uuid.Parse(recordIDValue)
	if err != nil {
		return fmt.Errorf("checkout session %s carries malformed record id %q: %w", session.ID, recordIDValue, err)
	}

	rec, err := s.repo.FindRecordByID(ctx, recordID)
	if err != nil {
		return fmt.Errorf("checkout session %s references record %s: %w", session.ID, recordID, err)
	}

	// The account id must correspond to the record it claims to pay for.
	if accountIDValue := session.Metadata[domain.MetadataAccountID]; accountIDValue != "" {
		accountID, err := uuid.Parse(accountIDValue)
		if err != nil || accountID != rec.AccountID {
			return fmt.Errorf("checkout session %s metadata account %q does not match record %s owner", session.ID, accountIDValue, recordID)
		}
	}

	paidAt := time.Now().UTC()
	applied, err := s.repo.MarkRecordPaid(ctx, recordID, session.PaymentIntent, paidAt)
	if err != nil {
		return fmt.Errorf("failed to mark record %s paid: %w", recordID, err)
	}
	if !applied {
		log.Printf("Checkout completion replay for record %s ignored (already %s or later)", recordID, domain.StatusProcessingReport)
		return nil
	}

	// Downstream notifications are fire-and-forget: the payment transition has
	// committed and must not be rolled back or retried because of them.
	if err := s.publisher.Publish(ctx, domain.RecordEventsExchange, domain.RoutingKeyPaymentComplete, domain.PaymentCompletedEvent{
		RecordID:        recordID,
		AccountID:       rec.AccountID,
		PaymentIntentID: session.PaymentIntent,
		PaidAt:          paidAt,
	}); err != nil {
		log.Printf("Failed to publish payment completion event for record %s: %v", recordID, err)
	}

	s.enqueueLifecycleEmail(ctx, rec, subjectPaymentDone, templatePaymentDone)
	return nil
}

// AttachReport replaces a record's funding opportunities with a curated set,
// marks the report ready and queues the notification email. Used by the internal
// upload endpoint.
func (s *Service) AttachReport(ctx context.Context, recordID uuid.UUID, items []domain.FundingOpportunity) error {
	for i := range items {
		if strings.TrimSpace(items[i].Title) == "" || strings.TrimSpace(items[i].URL) == "" || strings.TrimSpace(items[i].Category) == "" {
			return fmt.Errorf("%w: report items require a title, url and category", ErrValidation)
		}
	}

	uploadedAt := time.Now().UTC()
	if err := s.repo.ReplaceReportItems(ctx, recordID, items, uploadedAt); err != nil {
		return err
	}

	rec, err := s.repo.FindRecordByID(ctx, recordID)
	if err != nil {
		log.Printf("Report uploaded but record %s could not be re-read: %v", recordID, err)
		return nil
	}

	if err := s.publisher.Publish(ctx, domain.RecordEventsExchange, domain.RoutingKeyReportReady, domain.ReportReadyEvent{
		RecordID:  recordID,
		AccountID: rec.AccountID,
		ItemCount: len(items),
		ReadyAt:   uploadedAt,
	}); err != nil {
		log.Printf("Failed to publish report ready event for record %s: %v", recordID, err)
	}

	s.enqueueLifecycleEmail(ctx, rec, subjectReportReady, templateReportReady)
	return nil
}

// enqueueLifecycleEmail queues a status email for the record's owner, carrying a
// link back into the success page. Failures are logged, never propagated.
func (s *Service) enqueueLifecycleEmail(ctx context.Context, rec *domain.BusinessRecord, subject, template string) {
	acct, err := s.repo.FindAccountByID(ctx, rec.AccountID)
	if err != nil {
		log.Printf("Could not load account %s for record %s email: %v", rec.AccountID, rec.ID, err)
		return
	}
	err = s.repo.EnqueueEmail(ctx, store.OutboxEmail{
		Recipient: acct.Email,
		Subject:   subject,
		Template:  template,
		Variables: map[string]string{
			"business_name": rec.BusinessName,
			"status_link":   fmt.Sprintf("%s/success?token=%s&bid=%s", s.cfg.BaseURL, acct.Token, rec.ID),
		},
	})
	if err != nil {
		log.Printf("Failed to queue %s email for record %s: %v", template, rec.ID, err)
	}
}

// sortReportItems orders report items by category, then title, then id, so the
// report renders identically on every view regardless of how the rows came back.
func sortReportItems(items []domain.FundingOpportunity) {
	sort.Slice(items, func(i, j int) bool {
		if items[i].Category != items[j].Category {
			return items[i].Category < items[j].Category
		}
		if items[i].Title != items[j].Title {
			return items[i].Title < items[j].Title
		}
		return items[i].ID.String() < items[j].ID.String()
	})
}

func optional(value string) *string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

// validateIntake checks required fields and enum values, normalizing
// whitespace in place. It runs before any write.
func validateIntake(req *domain.IntakeRequest) error {
	req.BusinessName = strings.TrimSpace(req.BusinessName)
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.City = strings.TrimSpace(req.City)
	req.Province = strings.TrimSpace(req.Province)
	req.BusinessType = strings.TrimSpace(req.BusinessType)
	req.Industry = strings.TrimSpace(req.Industry)
	req.BusinessStage = strings.TrimSpace(req.BusinessStage)
	req.StartDate = strings.TrimSpace(req.StartDate)
	req.Gender = strings.TrimSpace(req.Gender)
	req.AgeRange = strings.TrimSpace(req.AgeRange)

	required := []struct {
		value string
		label string
	}{
		{req.BusinessName, "business name"},
		{req.Email, "email"},
		{req.City, "city"},
		{req.Province, "province"},
		{req.BusinessType, "business type"},
		{req.Industry, "industry"},
		{req.BusinessStage, "business stage"},
		{req.StartDate, "start date"},
		{req.Gender, "gender"},
		{req.AgeRange, "age range"},
	}
	for _, field := range required {
		if field.value == "" {
			return fmt.Errorf("%w: %s is required", ErrValidation, field.label)
		}
	}

	if _, err := mail.ParseAddress(req.Email); err != nil {
		return fmt.Errorf("%w: email address is not valid", ErrValidation)
	}
	if req.BusinessType != domain.BusinessTypeForProfit && req.BusinessType != domain.BusinessTypeNonProfit {
		return fmt.Errorf("%w: business type must be %q or %q", ErrValidation, domain.BusinessTypeForProfit, domain.BusinessTypeNonProfit)
	}
	return nil
}
