package app

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/jaypozo/grant-pathway/internal/config"
	"github.com/jaypozo/grant-pathway/internal/domain"
	"github.com/jaypozo/grant-pathway/internal/store"
	"github.com/jaypozo/grant-pathway/pkg/stripeclient"
)

type serviceRepoStub struct {
	store.Repository

	accountsByEmail map[string]*domain.Account
	accountsByToken map[string]*domain.Account
	accountsByID    map[uuid.UUID]*domain.Account

	createdAccount *domain.Account
	rotateCalled   bool
	rotatedToken   string

	createdRecord *domain.BusinessRecord
	records       []domain.BusinessRecord

	markPaidCalled  bool
	markPaidApplied bool
	paymentIntentID string

	opportunities []domain.FundingOpportunity

	enqueued []store.OutboxEmail
}

func (s *serviceRepoStub) FindAccountByEmail(ctx context.Context, email string) (*domain.Account, error) {
	if acct, ok := s.accountsByEmail[strings.ToLower(email)]; ok {
		return acct, nil
	}
	return nil, store.ErrAccountNotFound
}

func (s *serviceRepoStub) FindAccountByID(ctx context.Context, accountID uuid.UUID) (*domain.Account, error) {
	if acct, ok := s.accountsByID[accountID]; ok {
		return acct, nil
	}
	return nil, store.ErrAccountNotFound
}

func (s *serviceRepoStub) FindAccountByUnexpiredToken(ctx context.Context, tok string) (*domain.Account, error) {
	acct, ok := s.accountsByToken[tok]
	if !ok || !acct.TokenExpiresAt.After(time.Now()) {
		return nil, store.ErrAccountNotFound
	}
	return acct, nil
}

func (s *serviceRepoStub) CreateAccount(ctx context.Context, email, tok string, expiresAt time.Time) (*domain.Account, error) {
	acct := &domain.Account{
		ID:             uuid.New(),
		Email:          strings.ToLower(email),
		Token:          tok,
		TokenExpiresAt: expiresAt,
		CreatedAt:      time.Now(),
	}
	s.createdAccount = acct
	return acct, nil
}

func (s *serviceRepoStub) RotateAccountToken(ctx context.Context, accountID uuid.UUID, tok string, expiresAt time.Time) error {
	s.rotateCalled = true
	s.rotatedToken = tok
	return nil
}

func (s *serviceRepoStub) CreateBusinessRecord(ctx context.Context, rec *domain.BusinessRecord) error {
	rec.ID = uuid.New()
	rec.Status = domain.StatusPendingPayment
	rec.CreatedAt = time.Now()
	s.createdRecord = rec
	return nil
}

func (s *serviceRepoStub) FindRecordsByAccountID(ctx context.Context, accountID uuid.UUID) ([]domain.BusinessRecord, error) {
	var owned []domain.BusinessRecord
	for _, rec := range s.records {
		if rec.AccountID == accountID {
			owned = append(owned, rec)
		}
	}
	return owned, nil
}

func (s *serviceRepoStub) FindRecordForAccount(ctx context.Context, recordID, accountID uuid.UUID) (*domain.BusinessRecord, error) {
	for i := range s.records {
		if s.records[i].ID == recordID && s.records[i].AccountID == accountID {
			return &s.records[i], nil
		}
	}
	return nil, store.ErrRecordNotFound
}

func (s *serviceRepoStub) FindRecordByID(ctx context.Context, recordID uuid.UUID) (*domain.BusinessRecord, error) {
	for i := range s.records {
		if s.records[i].ID == recordID {
			return &s.records[i], nil
		}
	}
	return nil, store.ErrRecordNotFound
}

func (s *serviceRepoStub) MarkRecordPaid(ctx context.Context, recordID uuid.UUID, paymentIntentID string, paidAt time.Time) (bool, error) {
	s.markPaidCalled = true
	s.paymentIntentID = paymentIntentID
	return s.markPaidApplied, nil
}

func (s *serviceRepoStub) FindOpportunitiesByRecordID(ctx context.Context, recordID uuid.UUID) ([]domain.FundingOpportunity, error) {
	if s.opportunities == nil {
		return []domain.FundingOpportunity{}, nil
	}
	return s.opportunities, nil
}

func (s *serviceRepoStub) EnqueueEmail(ctx context.Context, email store.OutboxEmail) error {
	s.enqueued = append(s.enqueued, email)
	return nil
}

type checkoutStub struct {
	lastParams stripeclient.CreateCheckoutSessionParams
	err        error
}

func (c *checkoutStub) CreateCheckoutSession(ctx context.Context, params stripeclient.CreateCheckoutSessionParams) (*domain.CheckoutSession, error) {
	c.lastParams = params
	if c.err != nil {
		return nil, c.err
	}
	return &domain.CheckoutSession{ID: "cs_test", URL: "https://checkout.stripe.com/pay/cs_test"}, nil
}

type publisherStub struct {
	routingKeys []string
}

func (p *publisherStub) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	p.routingKeys = append(p.routingKeys, routingKey)
	return nil
}
func (p *publisherStub) Close() {}

func testConfig() config.Config {
	return config.Config{
		BaseURL:       "https://grantpathway.example",
		StripePriceID: "price_test",
	}
}

func validIntake() domain.IntakeRequest {
	return domain.IntakeRequest{
		BusinessName:  "Maple Bakery",
		Email:         "owner@example.com",
		City:          "Halifax",
		Province:      "NS",
		BusinessType:  "for-profit",
		Industry:      "food",
		BusinessStage: "operating",
		StartDate:     "2021-06",
		Gender:        "female",
		AgeRange:      "35-44",
	}
}

func TestCreateCheckout_MissingFieldCreatesNothing(t *testing.T) {
	repo := &serviceRepoStub{}
	checkout := &checkoutStub{}
	service := NewService(repo, checkout, &publisherStub{}, testConfig())

	req := validIntake()
	req.City = ""

	_, err := service.CreateCheckout(context.Background(), req)
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if repo.createdRecord != nil || repo.createdAccount != nil {
		t.Fatal("expected no writes for an invalid submission")
	}
}

func TestCreateCheckout_RejectsUnknownBusinessType(t *testing.T) {
	service := NewService(&serviceRepoStub{}, &checkoutStub{}, &publisherStub{}, testConfig())

	req := validIntake()
	req.BusinessType = "charity"

	if _, err := service.CreateCheckout(context.Background(), req); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestCreateCheckout_CreatesAccountAndRecordForNewEmail(t *testing.T) {
	repo := &serviceRepoStub{}
	checkout := &checkoutStub{}
	service := NewService(repo, checkout, &publisherStub{}, testConfig())

	result, err := service.CreateCheckout(context.Background(), validIntake())
	if err != nil {
		t.Fatalf("CreateCheckout returned error: %v", err)
	}

	if repo.createdAccount == nil {
		t.Fatal("expected an account to be created")
	}
	if repo.createdRecord == nil {
		t.Fatal("expected a business record to be created")
	}
	if repo.createdRecord.Status != domain.StatusPendingPayment {
		t.Fatalf("expected record in pending_payment, got %s", repo.createdRecord.Status)
	}
	if result.RedirectURL == "" {
		t.Fatal("expected a redirect URL")
	}
	if got := checkout.lastParams.Metadata[domain.MetadataToken]; got != repo.createdAccount.Token {
		t.Fatalf("expected session metadata to carry the account token, got %q", got)
	}
	if got := checkout.lastParams.Metadata[domain.MetadataRecordID]; got != repo.createdRecord.ID.String() {
		t.Fatalf("expected session metadata to carry the record id, got %q", got)
	}
	wantExpiry := time.Now().Add(30 * 24 * time.Hour)
	if diff := repo.createdAccount.TokenExpiresAt.Sub(wantExpiry); diff > time.Minute || diff < -time.Minute {
		t.Fatalf("expected token expiry 30 days out, got %v", repo.createdAccount.TokenExpiresAt)
	}
}

func TestCreateCheckout_ReusesUnexpiredToken(t *testing.T) {
	acct := &domain.Account{
		ID:             uuid.New(),
		Email:          "owner@example.com",
		Token:          "existing-token",
		TokenExpiresAt: time.Now().Add(10 * 24 * time.Hour),
	}
	repo := &serviceRepoStub{accountsByEmail: map[string]*domain.Account{acct.Email: acct}}
	checkout := &checkoutStub{}
	service := NewService(repo, checkout, &publisherStub{}, testConfig())

	if _, err := service.CreateCheckout(context.Background(), validIntake()); err != nil {
		t.Fatalf("CreateCheckout returned error: %v", err)
	}
	if repo.rotateCalled {
		t.Fatal("expected the unexpired token to be reused, not rotated")
	}
	if got := checkout.lastParams.Metadata[domain.MetadataToken]; got != "existing-token" {
		t.Fatalf("expected reused token in metadata, got %q", got)
	}
}

func TestCreateCheckout_RotatesExpiredToken(t *testing.T) {
	acct := &domain.Account{
		ID:             uuid.New(),
		Email:          "owner@example.com",
		Token:          "stale-token",
		TokenExpiresAt: time.Now().Add(-time.Hour),
	}
	repo := &serviceRepoStub{accountsByEmail: map[string]*domain.Account{acct.Email: acct}}
	checkout := &checkoutStub{}
	service := NewService(repo, checkout, &publisherStub{}, testConfig())

	if _, err := service.CreateCheckout(context.Background(), validIntake()); err != nil {
		t.Fatalf("CreateCheckout returned error: %v", err)
	}
	if !repo.rotateCalled {
		t.Fatal("expected the expired token to be rotated")
	}
	if repo.rotatedToken == "stale-token" {
		t.Fatal("expected a fresh token, got the stale one")
	}
	if got := checkout.lastParams.Metadata[domain.MetadataToken]; got != repo.rotatedToken {
		t.Fatalf("expected rotated token in metadata, got %q", got)
	}
}

func TestCreateCheckout_StripeFailureLeavesPendingRecord(t *testing.T) {
	repo := &serviceRepoStub{}
	checkout := &checkoutStub{err: errors.New("stripe unavailable")}
	service := NewService(repo, checkout, &publisherStub{}, testConfig())

	_, err := service.CreateCheckout(context.Background(), validIntake())
	if err == nil {
		t.Fatal("expected checkout failure to surface")
	}
	if errors.Is(err, ErrValidation) {
		t.Fatal("checkout failure must not look user-correctable")
	}
	// The record stays pending so the payment can be retried.
	if repo.createdRecord == nil {
		t.Fatal("expected the pending record to remain")
	}
}

func TestResolveToken_UnknownAndExpiredLookTheSame(t *testing.T) {
	expired := &domain.Account{
		ID:             uuid.New(),
		Email:          "old@example.com",
		Token:          "expired-token",
		TokenExpiresAt: time.Now().Add(-time.Minute),
	}
	repo := &serviceRepoStub{accountsByToken: map[string]*domain.Account{expired.Token: expired}}
	service := NewService(repo, &checkoutStub{}, &publisherStub{}, testConfig())

	_, unknownErr := service.ResolveToken(context.Background(), "never-issued", nil)
	_, expiredErr := service.ResolveToken(context.Background(), "expired-token", nil)

	if !errors.Is(unknownErr, ErrTokenExpired) || !errors.Is(expiredErr, ErrTokenExpired) {
		t.Fatalf("expected the same error class for unknown and expired tokens, got %v and %v", unknownErr, expiredErr)
	}
}

func TestResolveToken_ReturnsRedactedProjection(t *testing.T) {
	acct := &domain.Account{
		ID:             uuid.New(),
		Email:          "owner@example.com",
		Token:          "valid-token",
		TokenExpiresAt: time.Now().Add(time.Hour),
		CreatedAt:      time.Now().Add(-48 * time.Hour),
	}
	rec := domain.BusinessRecord{
		ID:           uuid.New(),
		AccountID:    acct.ID,
		BusinessName: "Maple Bakery",
		City:         "Halifax",
		Province:     "NS",
		Status:       domain.StatusProcessingReport,
	}
	repo := &serviceRepoStub{
		accountsByToken: map[string]*domain.Account{acct.Token: acct},
		records:         []domain.BusinessRecord{rec},
	}
	service := NewService(repo, &checkoutStub{}, &publisherStub{}, testConfig())

	resolved, err := service.ResolveToken(context.Background(), "valid-token", nil)
	if err != nil {
		t.Fatalf("ResolveToken returned error: %v", err)
	}
	if resolved.Owner.Email != acct.Email {
		t.Fatalf("expected owner email %q, got %q", acct.Email, resolved.Owner.Email)
	}
	if len(resolved.Records) != 1 {
		t.Fatalf("expected one record, got %d", len(resolved.Records))
	}
	if resolved.Records[0].Status != domain.StatusProcessingReport {
		t.Fatalf("unexpected record status %q", resolved.Records[0].Status)
	}
}

func TestResolveToken_RecordScopeRejectsForeignRecord(t *testing.T) {
	acct := &domain.Account{
		ID:             uuid.New(),
		Email:          "owner@example.com",
		Token:          "valid-token",
		TokenExpiresAt: time.Now().Add(time.Hour),
	}
	foreign := domain.BusinessRecord{ID: uuid.New(), AccountID: uuid.New()}
	repo := &serviceRepoStub{
		accountsByToken: map[string]*domain.Account{acct.Token: acct},
		records:         []domain.BusinessRecord{foreign},
	}
	service := NewService(repo, &checkoutStub{}, &publisherStub{}, testConfig())

	_, err := service.ResolveToken(context.Background(), "valid-token", &foreign.ID)
	if !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected foreign record to resolve like a miss, got %v", err)
	}
}

func TestGetReport_EmptyOpportunitiesIsValid(t *testing.T) {
	acct := &domain.Account{
		ID:             uuid.New(),
		Email:          "owner@example.com",
		Token:          "valid-token",
		TokenExpiresAt: time.Now().Add(time.Hour),
	}
	rec := domain.BusinessRecord{
		ID:           uuid.New(),
		AccountID:    acct.ID,
		BusinessName: "Maple Bakery",
		City:         "Halifax",
		Province:     "NS",
		Status:       domain.StatusProcessingReport,
	}
	repo := &serviceRepoStub{
		accountsByToken: map[string]*domain.Account{acct.Token: acct},
		records:         []domain.BusinessRecord{rec},
	}
	service := NewService(repo, &checkoutStub{}, &publisherStub{}, testConfig())

	report, err := service.GetReport(context.Background(), "valid-token", rec.ID)
	if err != nil {
		t.Fatalf("GetReport returned error: %v", err)
	}
	if report.ReportItems == nil || len(report.ReportItems) != 0 {
		t.Fatalf("expected an empty (non-nil) item list, got %v", report.ReportItems)
	}
	if report.BusinessDetails.BusinessName != rec.BusinessName {
		t.Fatalf("unexpected business projection %+v", report.BusinessDetails)
	}
}

func TestGetReport_ItemsOrderedByCategoryThenTitle(t *testing.T) {
	acct := &domain.Account{
		ID:             uuid.New(),
		Email:          "owner@example.com",
		Token:          "valid-token",
		TokenExpiresAt: time.Now().Add(time.Hour),
	}
	rec := domain.BusinessRecord{
		ID:        uuid.New(),
		AccountID: acct.ID,
		Status:    domain.StatusReportReady,
	}
	duplicateA := domain.FundingOpportunity{ID: uuid.MustParse("00000000-0000-0000-0000-00000000000a"), Category: "grant", Title: "Export Grant"}
	duplicateB := domain.FundingOpportunity{ID: uuid.MustParse("00000000-0000-0000-0000-00000000000b"), Category: "grant", Title: "Export Grant"}
	repo := &serviceRepoStub{
		accountsByToken: map[string]*domain.Account{acct.Token: acct},
		records:         []domain.BusinessRecord{rec},
		opportunities: []domain.FundingOpportunity{
			{ID: uuid.New(), Category: "loan", Title: "Startup Loan"},
			duplicateB,
			{ID: uuid.New(), Category: "grant", Title: "Apprenticeship Grant"},
			duplicateA,
			{ID: uuid.New(), Category: "loan", Title: "Equipment Loan"},
		},
	}
	service := NewService(repo, &checkoutStub{}, &publisherStub{}, testConfig())

	report, err := service.GetReport(context.Background(), "valid-token", rec.ID)
	if err != nil {
		t.Fatalf("GetReport returned error: %v", err)
	}

	got := make([]string, 0, len(report.ReportItems))
	for _, item := range report.ReportItems {
		got = append(got, item.Category+"/"+item.Title)
	}
	want := []string{
		"grant/Apprenticeship Grant",
		"grant/Export Grant",
		"grant/Export Grant",
		"loan/Equipment Loan",
		"loan/Startup Loan",
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d items, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("item %d out of order: got %v, want %v", i, got, want)
		}
	}
	// Items sharing category and title keep a fixed relative order across views.
	if report.ReportItems[1].ID != duplicateA.ID || report.ReportItems[2].ID != duplicateB.ID {
		t.Fatalf("tied items not ordered by id: got %s then %s", report.ReportItems[1].ID, report.ReportItems[2].ID)
	}
}

func TestReissueToken_AlwaysRotatesAndQueuesEmail(t *testing.T) {
	acct := &domain.Account{
		ID:             uuid.New(),
		Email:          "owner@example.com",
		Token:          "current-token",
		TokenExpiresAt: time.Now().Add(20 * 24 * time.Hour), // still valid, rotated anyway
	}
	repo := &serviceRepoStub{accountsByEmail: map[string]*domain.Account{acct.Email: acct}}
	service := NewService(repo, &checkoutStub{}, &publisherStub{}, testConfig())

	if err := service.ReissueToken(context.Background(), "owner@example.com"); err != nil {
		t.Fatalf("ReissueToken returned error: %v", err)
	}
	if !repo.rotateCalled {
		t.Fatal("expected the token to be rotated")
	}
	if repo.rotatedToken == "current-token" {
		t.Fatal("expected a different token on re-issuance")
	}
	if len(repo.enqueued) != 1 {
		t.Fatalf("expected one queued email, got %d", len(repo.enqueued))
	}
	email := repo.enqueued[0]
	if email.Recipient != acct.Email {
		t.Fatalf("unexpected recipient %q", email.Recipient)
	}
	if !strings.Contains(email.Variables["magic_link"], repo.rotatedToken) {
		t.Fatalf("expected the magic link to carry the new token, got %q", email.Variables["magic_link"])
	}
}

func TestReissueToken_UnknownEmail(t *testing.T) {
	service := NewService(&serviceRepoStub{}, &checkoutStub{}, &publisherStub{}, testConfig())

	if err := service.ReissueToken(context.Background(), "nobody@example.com"); !errors.Is(err, ErrUnknownEmail) {
		t.Fatalf("expected ErrUnknownEmail, got %v", err)
	}
}

func TestHandleCheckoutCompleted_AppliesTransition(t *testing.T) {
	acct := &domain.Account{ID: uuid.New(), Email: "owner@example.com", Token: "tok"}
	rec := domain.BusinessRecord{ID: uuid.New(), AccountID: acct.ID, BusinessName: "Maple Bakery", Status: domain.StatusPendingPayment}
	repo := &serviceRepoStub{
		records:         []domain.BusinessRecord{rec},
		accountsByID:    map[uuid.UUID]*domain.Account{acct.ID: acct},
		markPaidApplied: true,
	}
	publisher := &publisherStub{}
	service := NewService(repo, &checkoutStub{}, publisher, testConfig())

	session := domain.CheckoutSession{
		ID:            "cs_live",
		PaymentIntent: "pi_123",
		Metadata: map[string]string{
			domain.MetadataRecordID:  rec.ID.String(),
			domain.MetadataAccountID: acct.ID.String(),
		},
	}
	if err := service.HandleCheckoutCompleted(context.Background(), session); err != nil {
		t.Fatalf("HandleCheckoutCompleted returned error: %v", err)
	}
	if !repo.markPaidCalled {
		t.Fatal("expected the paid transition to be applied")
	}
	if repo.paymentIntentID != "pi_123" {
		t.Fatalf("expected payment intent to be stored, got %q", repo.paymentIntentID)
	}
	if len(publisher.routingKeys) != 1 || publisher.routingKeys[0] != domain.RoutingKeyPaymentComplete {
		t.Fatalf("expected one payment completion event, got %v", publisher.routingKeys)
	}
	if len(repo.enqueued) != 1 {
		t.Fatalf("expected a payment confirmation email, got %d", len(repo.enqueued))
	}
}

func TestHandleCheckoutCompleted_ReplayIsNoOp(t *testing.T) {
	acct := &domain.Account{ID: uuid.New(), Email: "owner@example.com"}
	rec := domain.BusinessRecord{ID: uuid.New(), AccountID: acct.ID, Status: domain.StatusProcessingReport}
	repo := &serviceRepoStub{
		records:         []domain.BusinessRecord{rec},
		accountsByID:    map[uuid.UUID]*domain.Account{acct.ID: acct},
		markPaidApplied: false,
	}
	publisher := &publisherStub{}
	service := NewService(repo, &checkoutStub{}, publisher, testConfig())

	session := domain.CheckoutSession{
		ID:            "cs_replay",
		PaymentIntent: "pi_123",
		Metadata:      map[string]string{domain.MetadataRecordID: rec.ID.String()},
	}
	if err := service.HandleCheckoutCompleted(context.Background(), session); err != nil {
		t.Fatalf("expected replay to be a no-op, got %v", err)
	}
	if len(publisher.routingKeys) != 0 {
		t.Fatal("replay must not publish another event")
	}
	if len(repo.enqueued) != 0 {
		t.Fatal("replay must not queue another email")
	}
}

func TestHandleCheckoutCompleted_MissingMetadataFailsClosed(t *testing.T) {
	repo := &serviceRepoStub{}
	service := NewService(repo, &checkoutStub{}, &publisherStub{}, testConfig())

	err := service.HandleCheckoutCompleted(context.Background(), domain.CheckoutSession{ID: "cs_x"})
	if err == nil {
		t.Fatal("expected missing record id to be an error")
	}
	if repo.markPaidCalled {
		t.Fatal("expected no state change without a record id")
	}
}

func TestHandleCheckoutCompleted_AccountMismatchRejected(t *testing.T) {
	rec := domain.BusinessRecord{ID: uuid.New(), AccountID: uuid.New(), Status: domain.StatusPendingPayment}
	repo := &serviceRepoStub{records: []domain.BusinessRecord{rec}}
	service := NewService(repo, &checkoutStub{}, &publisherStub{}, testConfig())

	session := domain.CheckoutSession{
		ID: "cs_bad",
		Metadata: map[string]string{
			domain.MetadataRecordID:  rec.ID.String(),
			domain.MetadataAccountID: uuid.NewString(),
		},
	}
	if err := service.HandleCheckoutCompleted(context.Background(), session); err == nil {
		t.Fatal("expected mismatched metadata to be rejected")
	}
	if repo.markPaidCalled {
		t.Fatal("expected no state change on metadata mismatch")
	}
}
