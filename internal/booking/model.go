package booking

import (
	"time"

	"github.com/google/uuid"
)

type AppointmentStatus string

const (
	StatusPending   AppointmentStatus = "pending"
	StatusConfirmed AppointmentStatus = "confirmed"
	StatusCancelled AppointmentStatus = "cancelled"
	StatusCompleted AppointmentStatus = "completed"
	StatusNoShow    AppointmentStatus = "no_show"
)

type PurchaseStatus string

const (
	PurchasePending   PurchaseStatus = "pending"
	PurchaseActive    PurchaseStatus = "active"
	PurchaseCancelled PurchaseStatus = "cancelled"
	// PurchaseExpired is materialized by the expiry worker for reporting.
	// Usability checks always test expires_at directly, so an unswept row
	// is never usable.
	PurchaseExpired PurchaseStatus = "expired"
)

type Business struct {
	ID                   uuid.UUID
	Name                 string
	SlotIntervalMinutes  int // uniform booking grid, e.g. 15/30/45/60
	StaffModuleEnabled   bool
	RequiresConfirmation bool
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// DayHours is the resolved schedule for a single weekday.
// Start and End are local clock times in "HH:MM" (24h) format.
type DayHours struct {
	IsActive bool
	Start    string
	End      string
}

// WorkingHours is one stored schedule row. StaffID nil means the
// business-level default for that weekday.
type WorkingHours struct {
	ID         uuid.UUID
	BusinessID uuid.UUID
	StaffID    *uuid.UUID
	Weekday    time.Weekday
	IsActive   bool
	StartTime  string // "HH:MM"
	EndTime    string // "HH:MM"
}

type Service struct {
	ID              uuid.UUID
	BusinessID      uuid.UUID
	Name            string
	DurationMinutes int
	PriceCents      int
	IsActive        bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (s *Service) Duration() time.Duration {
	return time.Duration(s.DurationMinutes) * time.Minute
}

type Staff struct {
	ID                uuid.UUID
	BusinessID        uuid.UUID
	Name              string
	IsActive          bool
	CanAcceptBookings bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (s *Staff) Bookable() bool {
	return s.IsActive && s.CanAcceptBookings
}

// PackageService declares that a package may fund bookings of a service.
// Quantity is the advertised session count for that service; the remaining
// balance itself is pooled on the purchase (see PackagePurchase).
type PackageService struct {
	ServiceID uuid.UUID
	Quantity  int
}

type Package struct {
	ID           uuid.UUID
	BusinessID   uuid.UUID
	Name         string
	SessionCount int
	ValidityDays *int // nil means no expiry
	PriceCents   int
	Covers       []PackageService
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (p *Package) CoversService(serviceID uuid.UUID) bool {
	for _, ps := range p.Covers {
		if ps.ServiceID == serviceID {
			return true
		}
	}
	return false
}

// PackagePurchase is one entitlement ledger row. SessionCount is snapshotted
// from the package at purchase time so later package edits cannot move the
// restore cap under an existing purchase.
type PackagePurchase struct {
	ID                uuid.UUID
	CustomerID        uuid.UUID
	BusinessID        uuid.UUID
	PackageID         uuid.UUID
	SessionCount      int
	RemainingSessions int
	Status            PurchaseStatus
	PurchaseDate      time.Time
	ExpiresAt         *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Usable reports whether the purchase can fund a booking right now.
func (p *PackagePurchase) Usable(now time.Time) bool {
	if p.Status != PurchaseActive || p.RemainingSessions <= 0 {
		return false
	}
	if p.ExpiresAt != nil && !p.ExpiresAt.After(now) {
		return false
	}
	return true
}

type Customer struct {
	ID        uuid.UUID
	Name      string
	Email     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Appointment struct {
	ID                 uuid.UUID
	BusinessID         uuid.UUID
	CustomerID         uuid.UUID
	ServiceID          uuid.UUID
	StaffID            *uuid.UUID
	PurchaseID         *uuid.UUID
	UsedPackageSession bool
	StartTime          time.Time
	EndTime            time.Time
	Status             AppointmentStatus
	CancelledAt        *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Active reports whether the appointment still occupies its interval.
func (a *Appointment) Active() bool {
	return a.Status == StatusPending || a.Status == StatusConfirmed
}

// Registration links a customer to a business, enabling package purchase
// and portal visibility.
type Registration struct {
	CustomerID uuid.UUID
	BusinessID uuid.UUID
	CreatedAt  time.Time
}

type EventLog struct {
	ID        int64
	EventType string
	SubjectID *uuid.UUID
	Payload   []byte
	CreatedAt time.Time
}
