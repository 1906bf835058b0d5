package api

import (
	"time"

	"github.com/google/uuid"
)

type CreateAppointmentRequest struct {
	BusinessID string `json:"business_id"`
	ServiceID  string `json:"service_id"`
	StaffID    string `json:"staff_id,omitempty"`
	CustomerID string `json:"customer_id"`
	StartTime  string `json:"start_time"` // RFC3339
	PurchaseID string `json:"purchase_id,omitempty"`
}

type AppointmentResponse struct {
	ID                 uuid.UUID  `json:"id"`
	BusinessID         uuid.UUID  `json:"business_id"`
	CustomerID         uuid.UUID  `json:"customer_id"`
	ServiceID          uuid.UUID  `json:"service_id"`
	StaffID            *uuid.UUID `json:"staff_id,omitempty"`
	PurchaseID         *uuid.UUID `json:"purchase_id,omitempty"`
	UsedPackageSession bool       `json:"used_package_session"`
	StartTime          time.Time  `json:"start_time"`
	EndTime            time.Time  `json:"end_time"`
	Status             string     `json:"status"`
	CancelledAt        *time.Time `json:"cancelled_at,omitempty"`
}

type CancelAppointmentRequest struct {
	CustomerID string `json:"customer_id"`
}

type CancelAppointmentResponse struct {
	Appointment      AppointmentResponse `json:"appointment"`
	SessionRestored  bool                `json:"session_restored"`
	LateCancellation bool                `json:"late_cancellation"`
}

type SlotsResponse struct {
	BusinessID uuid.UUID `json:"business_id"`
	ServiceID  uuid.UUID `json:"service_id"`
	Date       string    `json:"date"`
	StaffID    string    `json:"staff_id,omitempty"`
	Slots      []string  `json:"slots"`
}

type PurchaseResponse struct {
	ID                uuid.UUID  `json:"id"`
	CustomerID        uuid.UUID  `json:"customer_id"`
	BusinessID        uuid.UUID  `json:"business_id"`
	PackageID         uuid.UUID  `json:"package_id"`
	SessionCount      int        `json:"session_count"`
	RemainingSessions int        `json:"remaining_sessions"`
	Status            string     `json:"status"`
	PurchaseDate      time.Time  `json:"purchase_date"`
	ExpiresAt         *time.Time `json:"expires_at,omitempty"`
}

type CreatePurchaseRequest struct {
	CustomerID string `json:"customer_id"`
	BusinessID string `json:"business_id"`
	PackageID  string `json:"package_id"`
}

type RegisterRequest struct {
	BusinessID string `json:"business_id"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
