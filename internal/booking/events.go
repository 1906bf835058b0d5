package booking

import (
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"
)

const (
	EventAppointmentCreated   = "APPOINTMENT_CREATED"
	EventAppointmentConfirmed = "APPOINTMENT_CONFIRMED"
	EventAppointmentCancelled = "APPOINTMENT_CANCELLED"
	EventPurchaseCreated      = "PURCHASE_CREATED"
	EventPurchaseActivated    = "PURCHASE_ACTIVATED"
	EventSessionReserved      = "SESSION_RESERVED"
	EventSessionRestored      = "SESSION_RESTORED"
	EventCustomerRegistered   = "CUSTOMER_REGISTERED"
	EventCustomerDeregistered = "CUSTOMER_DEREGISTERED"
)

// Topic suffixes; the configured prefix is prepended by the service.
const (
	TopicAppointmentCreated   = "appointment.created"
	TopicAppointmentCancelled = "appointment.cancelled"
	TopicPurchaseActivated    = "purchase.activated"
)

// Publisher delivers domain events to the notification collaborator.
// Delivery is fire-and-forget; booking outcomes never depend on it.
type Publisher interface {
	Publish(topic string, key, value []byte)
}

// Envelope is the versioned wire format for domain events.
type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

type AppointmentCreatedPayload struct {
	AppointmentID      string `json:"appointment_id"`
	BusinessID         string `json:"business_id"`
	CustomerID         string `json:"customer_id"`
	ServiceID          string `json:"service_id"`
	StaffID            string `json:"staff_id,omitempty"`
	StartTime          string `json:"start_time"`
	EndTime            string `json:"end_time"`
	Status             string `json:"status"`
	UsedPackageSession bool   `json:"used_package_session"`
	PurchaseID         string `json:"purchase_id,omitempty"`
}

type AppointmentCancelledPayload struct {
	AppointmentID    string `json:"appointment_id"`
	BusinessID       string `json:"business_id"`
	CustomerID       string `json:"customer_id"`
	StartTime        string `json:"start_time"`
	SessionRestored  bool   `json:"session_restored"`
	LateCancellation bool   `json:"late_cancellation"`
}

type PurchaseActivatedPayload struct {
	PurchaseID string `json:"purchase_id"`
	CustomerID string `json:"customer_id"`
	BusinessID string `json:"business_id"`
	PackageID  string `json:"package_id"`
	ExpiresAt  string `json:"expires_at,omitempty"`
}

// PartitionKey keeps all events of one appointment or purchase ordered.
func PartitionKey(id string) []byte { return []byte(id) }

// publishEnvelope wraps a payload in the versioned envelope and hands it to
// the publisher. Marshal failures are logged and dropped; event delivery is
// never allowed to fail a booking operation.
func publishEnvelope(pub Publisher, prefix, topicSuffix, eventType, correlationID string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("failed to marshal %s payload: %v", eventType, err)
		return
	}

	env := Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      "booking-core",
		CorrelationID: correlationID,
		Payload:       data,
	}

	raw, err := json.Marshal(env)
	if err != nil {
		log.Printf("failed to marshal %s envelope: %v", eventType, err)
		return
	}

	pub.Publish(prefix+"."+topicSuffix, PartitionKey(correlationID), raw)
}
