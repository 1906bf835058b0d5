package booking

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrBusinessNotFound     = errors.New("business not found")
	ErrServiceNotFound      = errors.New("service not found")
	ErrStaffNotFound        = errors.New("staff not found")
	ErrCustomerNotFound     = errors.New("customer not found")
	ErrPackageNotFound      = errors.New("package not found")
	ErrPurchaseNotFound     = errors.New("package purchase not found")
	ErrAppointmentNotFound  = errors.New("appointment not found")
	ErrRegistrationNotFound = errors.New("customer is not registered at this business")

	// ErrSlotTaken is raised by the storage layer when an insert collides
	// with an existing non-cancelled appointment interval. The exclusion
	// constraint makes this the cross-process double-booking backstop.
	ErrSlotTaken = errors.New("appointment interval already taken")
)

// Repository contains all DB interactions needed by the booking core.
type Repository interface {
	GetBusinessByID(ctx context.Context, id uuid.UUID) (*Business, error)
	GetServiceByID(ctx context.Context, id uuid.UUID) (*Service, error)
	GetStaffByID(ctx context.Context, id uuid.UUID) (*Staff, error)
	GetCustomerByID(ctx context.Context, id uuid.UUID) (*Customer, error)
	GetPackageByID(ctx context.Context, id uuid.UUID) (*Package, error)
	GetPurchaseByID(ctx context.Context, id uuid.UUID) (*PackagePurchase, error)
	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)

	// Scheduling inputs
	ListWorkingHours(ctx context.Context, businessID uuid.UUID) ([]WorkingHours, error)
	ListBookableStaff(ctx context.Context, businessID uuid.UUID) ([]Staff, error)
	// ListActiveAppointments returns non-cancelled appointments overlapping
	// [from, to) for one resource: a staff member, or the business itself
	// when staffID is nil.
	ListActiveAppointments(ctx context.Context, businessID uuid.UUID, staffID *uuid.UUID, from, to time.Time) ([]Appointment, error)

	// Booking writes
	CreateAppointment(ctx context.Context, appt *Appointment) (*Appointment, error)
	UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error)
	// CancelAppointment flips a pending/confirmed appointment to cancelled
	// and, when it was funded by a package session, restores that session
	// (capped at the purchase's session count) in the same transaction.
	// The returned bool reports whether a session was restored.
	CancelAppointment(ctx context.Context, id uuid.UUID) (*Appointment, bool, error)

	// Entitlement ledger
	CreatePurchase(ctx context.Context, p *PackagePurchase) (*PackagePurchase, error)
	// DecrementSessions performs the atomic conditional reserve: it
	// succeeds only if the purchase is active, unexpired, and has sessions
	// left at commit time. Returns false without error when the condition
	// does not hold.
	DecrementSessions(ctx context.Context, purchaseID uuid.UUID, now time.Time) (bool, error)
	// IncrementSessions restores one session, capped at the purchase's
	// session count. Returns false when the purchase is already at its cap.
	IncrementSessions(ctx context.Context, purchaseID uuid.UUID) (bool, error)
	ActivatePurchase(ctx context.Context, purchaseID uuid.UUID, expiresAt *time.Time) (*PackagePurchase, error)
	ListUsablePurchases(ctx context.Context, customerID, businessID, serviceID uuid.UUID, now time.Time) ([]PackagePurchase, error)

	// Registration lifecycle
	CreateRegistration(ctx context.Context, customerID, businessID uuid.UUID) error
	DeleteRegistration(ctx context.Context, customerID, businessID uuid.UUID) error
	IsRegistered(ctx context.Context, customerID, businessID uuid.UUID) (bool, error)
	// Deregistration guards
	CountBlockingAppointments(ctx context.Context, customerID, businessID uuid.UUID, now time.Time) (int, error)
	CountActiveEntitlements(ctx context.Context, customerID, businessID uuid.UUID, now time.Time) (int, error)

	// Read side for customers and the reporting collaborator
	ListAppointmentsByCustomer(ctx context.Context, customerID uuid.UUID, limit, offset int) ([]Appointment, error)
	ListPurchasesByCustomer(ctx context.Context, customerID uuid.UUID, limit, offset int) ([]PackagePurchase, error)

	// Expiry worker
	ExpireActivePurchases(ctx context.Context, now time.Time) (int64, error)
	CancelStalePendingPurchases(ctx context.Context, olderThan time.Time) (int64, error)

	// Event logging
	InsertEvent(ctx context.Context, ev EventLog) error
}
