/**
 * @description
 * This file contains the HTTP handler for processing incoming webhooks from
 * Stripe. It is the only path through which a record learns its payment
 * completed.
 *
 * Key features:
 * - Security: validates the HMAC signature of incoming webhooks before any
 *   state is read or written. A failed signature is rejected with 400 and the
 *   payload is never logged.
 * - Acknowledgment: once the signature has passed, the handler always answers
 *   200. Returning an error would make Stripe retry indefinitely, which is
 *   worse than losing one transition; processing failures are logged loudly so
 *   they can be reconciled manually.
 *
 * @dependencies
 * - crypto/hmac, crypto/sha256, encoding/hex: For webhook signature validation.
 * - encoding/json: For decoding the event payload.
 * - The service's internal packages for domain models and business logic.
 */
package api

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jaypozo/grant-pathway/internal/domain"
)

// signatureTolerance bounds how old a signed timestamp may be, limiting replay
// of captured webhook requests.
const signatureTolerance = 5 * time.Minute

// CheckoutEventProcessor is the slice of the app service the webhook needs.
type CheckoutEventProcessor interface {
	HandleCheckoutCompleted(ctx context.Context, session domain.CheckoutSession) error
}

// StripeWebhookHandler processes incoming webhooks from Stripe.
type StripeWebhookHandler struct {
	processor CheckoutEventProcessor
	secret    string
}

// NewStripeWebhookHandler creates a new handler for the webhook endpoint.
func NewStripeWebhookHandler(processor CheckoutEventProcessor, secret string) *StripeWebhookHandler {
	return &StripeWebhookHandler{processor: processor, secret: secret}
}

// ServeHTTP implements the http.Handler interface.
func (h *StripeWebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		log.Printf("Error reading webhook body: %v", err)
		http.Error(w, "Cannot read request body", http.StatusBadRequest)
		return
	}

	if err := verifyStripeSignature(r.Header.Get("Stripe-Signature"), body, h.secret, time.Now()); err != nil {
		log.Printf("Webhook signature verification failed: %v", err)
		respondWithError(w, http.StatusBadRequest, "Invalid signature")
		return
	}

	// The request is authenticated from here on, so it is always acknowledged:
	// any processing failure below is logged for manual reconciliation instead
	// of being surfaced to Stripe.
	var event domain.StripeEvent
	if err := json.Unmarshal(body, &event); err != nil {
		log.Printf("ERROR: signed webhook carried undecodable JSON: %v", err)
		respondWithJSON(w, http.StatusOK, map[string]string{})
		return
	}

	switch event.Type {
	case domain.EventCheckoutSessionCompleted:
		var session domain.CheckoutSession
		if err := json.Unmarshal(event.Data.Object, &session); err != nil {
			log.Printf("ERROR: could not decode checkout session from event %s: %v", event.ID, err)
			break
		}
		if err := h.processor.HandleCheckoutCompleted(r.Context(), session); err != nil {
			// Silent data loss without this log line: the transition is gone
			// unless someone reconciles it by hand.
			log.Printf("ERROR: failed to process checkout completion (event %s, session %s), manual reconciliation required: %v",
				event.ID, session.ID, err)
		}
	default:
		log.Printf("Unhandled webhook event type %s", event.Type)
	}

	respondWithJSON(w, http.StatusOK, map[string]string{})
}

// verifyStripeSignature checks a Stripe-Signature header against the raw
// request body. The header has the form "t=<unix>,v1=<hex hmac>[,v1=...]"; the
// signed payload is "<t>.<body>" and the MAC is HMAC-SHA256 under the endpoint
// secret. Comparison is constant time and the timestamp must be within
// tolerance of now.
func verifyStripeSignature(header string, body []byte, secret string, now time.Time) error {
	header = strings.TrimSpace(header)
	if header == "" {
		return fmt.Errorf("missing Stripe-Signature header")
	}

	var (
		timestamp  int64
		signatures [][]byte
	)
	for _, part := range strings.Split(header, ",") {
		key, value, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			continue
		}
		switch key {
		case "t":
			parsed, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return fmt.Errorf("malformed timestamp in signature header")
			}
			timestamp = parsed
		case "v1":
			decoded, err := hex.DecodeString(value)
			if err == nil {
				signatures = append(signatures, decoded)
			}
		}
	}

	if timestamp == 0 || len(signatures) == 0 {
		return fmt.Errorf("signature header missing timestamp or v1 signature")
	}

	age := now.Sub(time.Unix(timestamp, 0))
	if age > signatureTolerance || age < -signatureTolerance {
		return fmt.Errorf("signature timestamp outside tolerance")
	}

	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", timestamp)
	mac.Write(body)
	expected := mac.Sum(nil)

	for _, signature := range signatures {
		if hmac.Equal(signature, expected) {
			return nil
		}
	}
	return fmt.Errorf("no matching v1 signature")
}
