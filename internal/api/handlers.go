/**
 * @description
 * This file contains the HTTP handler functions for the grant-pathway backend.
 * Handlers are responsible for parsing incoming requests, calling the
 * appropriate business logic in the service layer, and writing the HTTP
 * response.
 *
 * Error translation happens here and only here: service errors are mapped to
 * the outward taxonomy (validation 400, token/record miss 404, everything else
 * a generic 500) so no internal detail ever reaches a response body.
 */
package api

import (
	"encoding/json"
	"errors"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/jaypozo/grant-pathway/internal/app"
	"github.com/jaypozo/grant-pathway/internal/config"
	"github.com/jaypozo/grant-pathway/internal/domain"
	"github.com/jaypozo/grant-pathway/internal/store"
)

// tokenExpiredMessage is the single outward message for every token or record
// lookup miss.
const tokenExpiredMessage = "Token expired"

// Handler holds the application service that handlers will interact with.
type Handler struct {
	service *app.Service
	limiter *app.RedisRateLimiter
	cfg     config.Config
}

// NewHandler creates a new Handler with the given service.
func NewHandler(service *app.Service, limiter *app.RedisRateLimiter, cfg config.Config) *Handler {
	return &Handler{service: service, limiter: limiter, cfg: cfg}
}

// handleIntake accepts a business-details submission and starts the hosted
// checkout flow.
func (h *Handler) handleIntake(w http.ResponseWriter, r *http.Request) {
	var req domain.IntakeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	result, err := h.service.CreateCheckout(r.Context(), req)
	if err != nil {
		if errors.Is(err, app.ErrValidation) {
			respondWithError(w, http.StatusBadRequest, err.Error())
			return
		}
		log.Printf("Error saving business details: %v", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to save business details")
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"success":     true,
		"recordId":    result.RecordID,
		"redirectUrl": result.RedirectURL,
	})
}

// handleVerify resolves an access token to its owner and record(s), optionally
// scoped to one record id.
func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	accessToken := r.URL.Query().Get("token")
	if accessToken == "" {
		respondWithError(w, http.StatusBadRequest, "Token is required")
		return
	}

	var recordID *uuid.UUID
	if raw := r.URL.Query().Get("recordId"); raw != "" {
		parsed, err := uuid.Parse(raw)
		if err != nil {
			// A malformed record id gets the same outward answer as a miss.
			respondWithError(w, http.StatusNotFound, tokenExpiredMessage)
			return
		}
		recordID = &parsed
	}

	resolved, err := h.service.ResolveToken(r.Context(), accessToken, recordID)
	if err != nil {
		h.respondResolveError(w, err, "verifying token")
		return
	}
	respondWithJSON(w, http.StatusOK, resolved)
}

// handleReport serves the finished report for one record.
func (h *Handler) handleReport(w http.ResponseWriter, r *http.Request) {
	accessToken := r.URL.Query().Get("token")
	rawRecordID := r.URL.Query().Get("bid")
	if accessToken == "" || rawRecordID == "" {
		respondWithError(w, http.StatusBadRequest, "Token and business ID are required")
		return
	}

	recordID, err := uuid.Parse(rawRecordID)
	if err != nil {
		respondWithError(w, http.StatusNotFound, tokenExpiredMessage)
		return
	}

	report, err := h.service.GetReport(r.Context(), accessToken, recordID)
	if err != nil {
		h.respondResolveError(w, err, "fetching report")
		return
	}
	respondWithJSON(w, http.StatusOK, report)
}

// handleRequestLink rotates the token for a known email and queues the magic
// link email. Rate limited per target address and per client IP.
func (h *Handler) handleRequestLink(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" {
		respondWithError(w, http.StatusBadRequest, "Email is required")
		return
	}

	if h.rateLimited(w, r, req.Email) {
		return
	}

	if err := h.service.ReissueToken(r.Context(), req.Email); err != nil {
		switch {
		case errors.Is(err, app.ErrValidation):
			respondWithError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, app.ErrUnknownEmail):
			respondWithError(w, http.StatusNotFound, "No business details found for this email")
		default:
			log.Printf("Error requesting magic link: %v", err)
			respondWithError(w, http.StatusInternalServerError, "Failed to generate magic link")
		}
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Magic link has been sent to your email",
	})
}

// handleReportUpload is the internal endpoint the curation tooling calls to
// attach the finished report to a paid record.
func (h *Handler) handleReportUpload(w http.ResponseWriter, r *http.Request) {
	recordID, err := uuid.Parse(chi.URLParam(r, "recordID"))
	if err != nil {
		respondWithError(w, http.StatusNotFound, "Record not found")
		return
	}

	var req struct {
		Items []domain.FundingOpportunity `json:"items"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.service.AttachReport(r.Context(), recordID, req.Items); err != nil {
		switch {
		case errors.Is(err, app.ErrValidation):
			respondWithError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, store.ErrRecordNotFound):
			respondWithError(w, http.StatusNotFound, "Record not found")
		case errors.Is(err, store.ErrRecordNotPaid):
			respondWithError(w, http.StatusConflict, "Record has not been paid for")
		default:
			log.Printf("Error uploading report for record %s: %v", recordID, err)
			respondWithError(w, http.StatusInternalServerError, "Failed to upload report")
		}
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"success":   true,
		"itemCount": len(req.Items),
	})
}

// rateLimited applies the re-issuance limits. It writes the 429 response and
// returns true when the caller is over budget; limiter failures fail open.
func (h *Handler) rateLimited(w http.ResponseWriter, r *http.Request, email string) bool {
	window := time.Duration(h.cfg.ReissueRateWindowSeconds) * time.Second

	for _, check := range []struct {
		scope   string
		subject string
	}{
		{"reissue_email", email},
		{"reissue_ip", clientIP(r)},
	} {
		count, retryAfter, err := h.limiter.ConsumeRateLimit(r.Context(), check.scope, check.subject, h.cfg.ReissueRateLimit, window)
		if err != nil {
			log.Printf("Rate limit check failed for %s: %v", check.scope, err)
			continue
		}
		if retryAfter > 0 {
			log.Printf("Rate limited %s (%s), count %d", check.scope, check.subject, count)
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			respondWithError(w, http.StatusTooManyRequests, "Too many link requests, try again later")
			return true
		}
	}
	return false
}

// respondResolveError maps token resolution failures to the outward taxonomy.
func (h *Handler) respondResolveError(w http.ResponseWriter, err error, operation string) {
	switch {
	case errors.Is(err, app.ErrValidation):
		respondWithError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, app.ErrTokenExpired):
		respondWithError(w, http.StatusNotFound, tokenExpiredMessage)
	default:
		log.Printf("Error %s: %v", operation, err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
	}
}

// clientIP prefers the client-most X-Forwarded-For entry so the per-IP rate
// limit key stays stable no matter how many proxy hops the header accumulates.
func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// respondWithJSON is a helper function to write JSON responses.
func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

// respondWithError writes the standard {"error": ...} body.
func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}
