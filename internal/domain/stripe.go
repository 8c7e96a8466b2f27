/**
 * @description
 * This file defines the payload shapes for the Stripe objects the service
 * touches: the webhook event envelope, the checkout session it carries, and the
 * checkout session creation response.
 *
 * @notes
 * - Only the fields the webhook and checkout paths actually read are modelled.
 *   The session metadata is the single channel through which the asynchronous
 *   webhook learns which record to update, so it is treated as untrusted input
 *   and revalidated against the store before any mutation.
 */

package domain

import "encoding/json"

// Webhook event types the service reacts to.
const EventCheckoutSessionCompleted = "checkout.session.completed"

// Session metadata keys set at checkout creation and echoed back verbatim.
const (
	MetadataRecordID  = "record_id"
	MetadataAccountID = "account_id"
	MetadataToken     = "token"
)

// StripeEvent is the webhook envelope.
type StripeEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

// CheckoutSession is the checkout.session object embedded in webhook events and
// returned by session creation.
type CheckoutSession struct {
	ID            string            `json:"id"`
	URL           string            `json:"url"`
	PaymentIntent string            `json:"payment_intent"`
	PaymentStatus string            `json:"payment_status"`
	CustomerEmail string            `json:"customer_email"`
	Metadata      map[string]string `json:"metadata"`
}
