/**
 * @description
 * This file defines the core domain models for the grant-pathway backend.
 * These structs represent the main entities and data transfer objects (DTOs)
 * used throughout the service's business logic, database interactions, and API layers.
 *
 * @notes
 * - An Account owns zero or more BusinessRecords. Early revisions of the product
 *   embedded the contact email on the record itself; the account model treats that
 *   as the degenerate case of an account with exactly one record.
 * - The access token and its expiry live on the Account, never in any API response.
 *   Outward-facing views are built from the explicit projection types below.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// BusinessRecord status values. Transitions only move forward:
// pending_payment -> processing_report -> report_ready.
const (
	StatusPendingPayment   = "pending_payment"
	StatusProcessingReport = "processing_report"
	StatusReportReady      = "report_ready"
)

// Business type values accepted on intake.
const (
	BusinessTypeForProfit = "for-profit"
	BusinessTypeNonProfit = "non-profit"
)

// Account is the owning identity for business records. Access is granted by the
// bearer token alone; there is no password or session.
type Account struct {
	ID             uuid.UUID `json:"id"`
	Email          string    `json:"email"`
	Token          string    `json:"-"`
	TokenExpiresAt time.Time `json:"-"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// TokenValid reports whether the account's current token is still usable at the
// given instant.
func (a *Account) TokenValid(now time.Time) bool {
	return a.Token != "" && a.TokenExpiresAt.After(now)
}

// BusinessRecord is one submitted business profile. This struct maps directly to
// the `business_records` table in the database.
type BusinessRecord struct {
	ID        uuid.UUID `json:"id"`
	AccountID uuid.UUID `json:"account_id"`

	BusinessName  string   `json:"business_name"`
	City          string   `json:"city"`
	Province      string   `json:"province"`
	BusinessType  string   `json:"business_type"` // 'for-profit' or 'non-profit'
	Industry      string   `json:"industry"`
	OtherIndustry *string  `json:"other_industry,omitempty"`
	BusinessStage string   `json:"business_stage"`
	StartDate     string   `json:"start_date"`
	Gender        string   `json:"gender"`
	AgeRange      string   `json:"age_range"`
	Groups        []string `json:"underrepresented_groups,omitempty"`
	OtherGroup    *string  `json:"other_underrepresented_group,omitempty"`

	Status           string     `json:"status"`
	PaymentIntentID  *string    `json:"payment_intent_id,omitempty"`
	PaidAt           *time.Time `json:"paid_at,omitempty"`
	ReportUploadedAt *time.Time `json:"report_uploaded_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

// FundingOpportunity is one curated report item matched to a business record.
// Rows are written only by the internal report upload path.
type FundingOpportunity struct {
	ID               uuid.UUID `json:"id"`
	BusinessRecordID uuid.UUID `json:"-"`
	Title            string    `json:"title"`
	Description      string    `json:"description"`
	URL              string    `json:"url"`
	Type             string    `json:"type"`
	Category         string    `json:"category"`
	Deadline         *string   `json:"deadline,omitempty"`
	MaxAmount        *string   `json:"max_amount,omitempty"`
	FundingProvider  *string   `json:"funding_provider,omitempty"`
	CreatedAt        time.Time `json:"-"`
}

// IntakeRequest is the DTO for the business-details intake endpoint.
type IntakeRequest struct {
	BusinessName  string   `json:"businessName"`
	Email         string   `json:"email"`
	City          string   `json:"city"`
	Province      string   `json:"province"`
	BusinessType  string   `json:"businessType"`
	Industry      string   `json:"industry"`
	OtherIndustry string   `json:"otherIndustry"`
	BusinessStage string   `json:"businessStage"`
	StartDate     string   `json:"startDate"`
	Gender        string   `json:"gender"`
	AgeRange      string   `json:"ageRange"`
	Groups        []string `json:"underrepresentedGroups"`
	OtherGroup    string   `json:"otherUnderrepresentedGroup"`
}

// CheckoutResult is returned to the frontend so it can redirect the visitor to
// the hosted payment page.
type CheckoutResult struct {
	RecordID    uuid.UUID `json:"recordId"`
	RedirectURL string    `json:"redirectUrl"`
}

// OwnerView is the redacted projection of an Account exposed on the verify
// endpoint. Fields here are allow-listed; the token and its expiry must never be
// added.
type OwnerView struct {
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

// RecordView is the redacted projection of a BusinessRecord exposed on the
// verify endpoint.
type RecordView struct {
	ID               uuid.UUID  `json:"id"`
	BusinessName     string     `json:"businessName"`
	City             string     `json:"city"`
	Province         string     `json:"province"`
	BusinessType     string     `json:"businessType"`
	Industry         string     `json:"industry"`
	BusinessStage    string     `json:"businessStage"`
	Status           string     `json:"status"`
	PaidAt           *time.Time `json:"paidAt,omitempty"`
	ReportUploadedAt *time.Time `json:"reportUploadedAt,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
}

// ResolvedAccess bundles the owner projection with the record(s) a token grants
// access to.
type ResolvedAccess struct {
	Owner   OwnerView    `json:"owner"`
	Records []RecordView `json:"businessDetails"`
}

// ReportBusinessView is the allow-listed slice of a record shown on the report
// page.
type ReportBusinessView struct {
	BusinessName     string     `json:"businessName"`
	City             string     `json:"city"`
	Province         string     `json:"province"`
	ReportUploadedAt *time.Time `json:"reportUploadedAt,omitempty"`
}

// Report is the finished report payload: the business summary plus its matched
// funding opportunities ordered by category then title.
type Report struct {
	BusinessDetails ReportBusinessView   `json:"businessDetails"`
	ReportItems     []FundingOpportunity `json:"reportItems"`
}

// NewRecordView builds the redacted record projection from a stored record.
func NewRecordView(rec *BusinessRecord) RecordView {
	return RecordView{
		ID:               rec.ID,
		BusinessName:     rec.BusinessName,
		City:             rec.City,
		Province:         rec.Province,
		BusinessType:     rec.BusinessType,
		Industry:         rec.Industry,
		BusinessStage:    rec.BusinessStage,
		Status:           rec.Status,
		PaidAt:           rec.PaidAt,
		ReportUploadedAt: rec.ReportUploadedAt,
		CreatedAt:        rec.CreatedAt,
	}
}
