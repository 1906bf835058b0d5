package api

import (
	"encoding/json"
	"io"
	"log"
	"net/http"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"

	"github.com/bookwise/booking-core/internal/booking"
)

const maxWebhookBody = 1 << 20

// stripeWebhookHandler activates a pending package purchase once Stripe
// reports the checkout session as completed. The purchase id travels in
// the checkout session metadata.
func stripeWebhookHandler(ledger *booking.Ledger, webhookSecret string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if webhookSecret == "" {
			writeError(w, http.StatusServiceUnavailable, "webhook_not_configured", "stripe webhook secret is not set")
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not read body")
			return
		}

		event, err := webhook.ConstructEvent(body, r.Header.Get("Stripe-Signature"), webhookSecret)
		if err != nil {
			log.Printf("stripe webhook signature verification failed: %v", err)
			writeError(w, http.StatusBadRequest, "invalid_signature", "signature verification failed")
			return
		}

		switch event.Type {
		case "checkout.session.completed":
			var session stripe.CheckoutSession
			if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
				log.Printf("stripe webhook: bad checkout session payload: %v", err)
				writeError(w, http.StatusBadRequest, "invalid_payload", "could not parse checkout session")
				return
			}

			purchaseID, err := uuid.Parse(session.Metadata["purchase_id"])
			if err != nil {
				log.Printf("stripe webhook: missing or invalid purchase_id metadata on session %s", session.ID)
				writeError(w, http.StatusBadRequest, "invalid_metadata", "purchase_id metadata missing or invalid")
				return
			}

			if _, err := ledger.Activate(r.Context(), purchaseID, true); err != nil {
				handleDomainError(w, err)
				return
			}
			log.Printf("stripe webhook: activated purchase %s", purchaseID)

		default:
			// Acknowledge event types we do not act on so Stripe stops
			// retrying them.
		}

		writeJSON(w, http.StatusOK, map[string]string{"status": "received"})
	}
}
