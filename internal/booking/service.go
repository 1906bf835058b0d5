package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/bookwise/booking-core/internal/config"
	redisclient "github.com/bookwise/booking-core/internal/redis"
)

var (
	ErrSlotConflict           = errors.New("requested time is no longer available")
	ErrSlotBeingBooked        = errors.New("slot is currently being booked, please retry")
	ErrInvalidState           = errors.New("operation not allowed in the current state")
	ErrHasPendingAppointments = errors.New("customer has upcoming appointments at this business")
	ErrHasActiveEntitlements  = errors.New("customer has active package sessions at this business")
	ErrStaffModuleDisabled    = errors.New("staff selection is not enabled for this business")
	ErrStaffNotBookable       = errors.New("staff member cannot accept bookings")
	ErrServiceInactive        = errors.New("service is not active")
	ErrCancelNotAllowed       = errors.New("appointment belongs to a different customer")
)

type Manager struct {
	repo      Repository
	ledger    *Ledger
	locker    redisclient.Locker
	publisher Publisher
	cfg       config.Config
}

func NewManager(repo Repository, ledger *Ledger, locker redisclient.Locker, publisher Publisher, cfg config.Config) *Manager {
	return &Manager{
		repo:      repo,
		ledger:    ledger,
		locker:    locker,
		publisher: publisher,
		cfg:       cfg,
	}
}

// Ledger exposes the entitlement ledger to callers that query or activate
// purchases directly (portal listing, payment webhook).
func (s *Manager) Ledger() *Ledger {
	return s.ledger
}

// AvailableSlots returns the bookable start times, formatted "HH:MM" and
// ascending, for one date. A closed or unconfigured day yields an empty
// list, not an error. When staffID is nil and the staff module is enabled,
// a slot is offered if at least one bookable staff member is free.
func (s *Manager) AvailableSlots(ctx context.Context, businessID, serviceID uuid.UUID, date time.Time, staffID *uuid.UUID) ([]string, error) {
	b, svc, err := s.loadBusinessService(ctx, businessID, serviceID)
	if err != nil {
		return nil, err
	}

	hours, err := s.repo.ListWorkingHours(ctx, businessID)
	if err != nil {
		return nil, fmt.Errorf("load working hours: %w", err)
	}

	times, err := s.candidateTimes(ctx, b, svc, hours, date, staffID, time.Now())
	if err != nil {
		return nil, err
	}

	slots := make([]string, 0, len(times))
	for _, t := range times {
		slots = append(slots, FormatSlot(t))
	}
	return slots, nil
}

type CreateAppointmentRequest struct {
	BusinessID uuid.UUID
	ServiceID  uuid.UUID
	StaffID    *uuid.UUID
	CustomerID uuid.UUID
	StartTime  time.Time
	PurchaseID *uuid.UUID
}

// CreateAppointment validates and commits a booking.
//
// Availability is re-validated at commit time inside a per business-day
// lock, closing the race between slot listing and submission; the storage
// layer's exclusion constraint backs this up across processes. If a package
// session was reserved and the insert then fails, the reservation is rolled
// back before the error is returned, so either both the appointment row and
// the decrement persist or neither does.
func (s *Manager) CreateAppointment(ctx context.Context, req CreateAppointmentRequest) (*Appointment, error) {
	b, svc, err := s.loadBusinessService(ctx, req.BusinessID, req.ServiceID)
	if err != nil {
		return nil, err
	}

	if req.StaffID != nil {
		if _, err := s.loadBookableStaff(ctx, b, *req.StaffID); err != nil {
			return nil, err
		}
	}

	if _, err := s.repo.GetCustomerByID(ctx, req.CustomerID); err != nil {
		return nil, err
	}

	var created *Appointment

	lockKey := fmt.Sprintf("booking:%s:%s", b.ID, req.StartTime.Format("2006-01-02"))
	err = s.locker.WithLock(ctx, lockKey, func(lockCtx context.Context) error {
		hours, err := s.repo.ListWorkingHours(lockCtx, b.ID)
		if err != nil {
			return fmt.Errorf("load working hours: %w", err)
		}

		now := time.Now()
		date := startOfDay(req.StartTime)

		staffID := req.StaffID
		if staffID == nil && b.StaffModuleEnabled {
			// "Any available" booking: assign the first eligible staff
			// member free at the requested time. The assignment is
			// recorded on the appointment so the per-staff no-overlap
			// invariant stays enforceable.
			staffID, err = s.assignStaff(lockCtx, b, svc, hours, date, req.StartTime, now)
			if err != nil {
				return err
			}
		} else {
			times, err := s.resourceTimes(lockCtx, b, svc, hours, date, staffID, now)
			if err != nil {
				return err
			}
			if !containsTime(times, req.StartTime) {
				return ErrSlotConflict
			}
		}

		reserved := false
		if req.PurchaseID != nil {
			if err := s.checkFunding(lockCtx, req, svc); err != nil {
				return err
			}
			if err := s.ledger.Reserve(lockCtx, *req.PurchaseID); err != nil {
				// Hard reservation failure: never fall back to a paid
				// booking silently.
				return err
			}
			reserved = true
		}

		status := StatusConfirmed
		if b.RequiresConfirmation {
			status = StatusPending
		}

		appt := &Appointment{
			BusinessID:         b.ID,
			CustomerID:         req.CustomerID,
			ServiceID:          svc.ID,
			StaffID:            staffID,
			PurchaseID:         req.PurchaseID,
			UsedPackageSession: reserved,
			StartTime:          req.StartTime,
			EndTime:            req.StartTime.Add(svc.Duration()),
			Status:             status,
		}

		created, err = s.repo.CreateAppointment(lockCtx, appt)
		if err != nil {
			if reserved {
				if rerr := s.ledger.Restore(lockCtx, *req.PurchaseID); rerr != nil {
					log.Printf("failed to roll back session reservation for purchase %s: %v", *req.PurchaseID, rerr)
				}
			}
			if errors.Is(err, ErrSlotTaken) {
				return ErrSlotConflict
			}
			return fmt.Errorf("create appointment: %w", err)
		}

		s.logEvent(lockCtx, created.ID, EventAppointmentCreated, map[string]any{
			"business_id": b.ID.String(),
			"customer_id": req.CustomerID.String(),
			"service_id":  svc.ID.String(),
			"start_time":  created.StartTime.Format(time.RFC3339),
			"status":      string(created.Status),
		})
		s.publishCreated(created)

		return nil
	})

	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrSlotBeingBooked
		}
		return nil, err
	}

	return created, nil
}

// ConfirmAppointment moves a pending appointment to confirmed. Used by
// businesses that require manual confirmation.
func (s *Manager) ConfirmAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if appt.Status != StatusPending {
		return nil, ErrInvalidState
	}

	updated, err := s.repo.UpdateAppointmentStatus(ctx, id, StatusPending, StatusConfirmed)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			// Status moved under us between the read and the update.
			return nil, ErrInvalidState
		}
		return nil, fmt.Errorf("confirm appointment: %w", err)
	}

	s.logEvent(ctx, updated.ID, EventAppointmentConfirmed, map[string]any{})

	return updated, nil
}

type CancelResult struct {
	Appointment      *Appointment
	SessionRestored  bool
	LateCancellation bool
}

// CancelAppointment cancels a pending or confirmed appointment on behalf of
// the given customer. A session-funded appointment returns its session to
// the purchase in the same transaction, regardless of lead time; cancelling
// inside the business's notice window only sets the late flag for the UI.
// The row is kept for reporting, never deleted.
func (s *Manager) CancelAppointment(ctx context.Context, id, actor uuid.UUID) (*CancelResult, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if appt.CustomerID != actor {
		return nil, ErrCancelNotAllowed
	}
	if !appt.Active() {
		return nil, ErrInvalidState
	}

	cancelled, restored, err := s.repo.CancelAppointment(ctx, id)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, ErrInvalidState
		}
		return nil, fmt.Errorf("cancel appointment: %w", err)
	}

	late := time.Until(cancelled.StartTime) < s.cfg.LateCancelNotice

	s.logEvent(ctx, cancelled.ID, EventAppointmentCancelled, map[string]any{
		"business_id":       cancelled.BusinessID.String(),
		"customer_id":       cancelled.CustomerID.String(),
		"session_restored":  restored,
		"late_cancellation": late,
	})
	s.publishCancelled(cancelled, restored, late)

	return &CancelResult{
		Appointment:      cancelled,
		SessionRestored:  restored,
		LateCancellation: late,
	}, nil
}

// RegisterCustomer links a customer to a business. Registering twice is a
// no-op.
func (s *Manager) RegisterCustomer(ctx context.Context, customerID, businessID uuid.UUID) error {
	if _, err := s.repo.GetCustomerByID(ctx, customerID); err != nil {
		return err
	}
	if _, err := s.repo.GetBusinessByID(ctx, businessID); err != nil {
		return err
	}

	if err := s.repo.CreateRegistration(ctx, customerID, businessID); err != nil {
		return fmt.Errorf("create registration: %w", err)
	}

	s.logEvent(ctx, customerID, EventCustomerRegistered, map[string]any{
		"business_id": businessID.String(),
	})
	return nil
}

// DeregisterCustomer removes the customer-business link. Blocked while the
// customer still has upcoming non-cancelled appointments or a usable
// package purchase at the business; historical appointments are preserved.
func (s *Manager) DeregisterCustomer(ctx context.Context, customerID, businessID uuid.UUID) error {
	registered, err := s.repo.IsRegistered(ctx, customerID, businessID)
	if err != nil {
		return fmt.Errorf("check registration: %w", err)
	}
	if !registered {
		return ErrRegistrationNotFound
	}

	now := time.Now()

	pending, err := s.repo.CountBlockingAppointments(ctx, customerID, businessID, now)
	if err != nil {
		return fmt.Errorf("count blocking appointments: %w", err)
	}
	if pending > 0 {
		return ErrHasPendingAppointments
	}

	entitlements, err := s.repo.CountActiveEntitlements(ctx, customerID, businessID, now)
	if err != nil {
		return fmt.Errorf("count active entitlements: %w", err)
	}
	if entitlements > 0 {
		return ErrHasActiveEntitlements
	}

	if err := s.repo.DeleteRegistration(ctx, customerID, businessID); err != nil {
		return err
	}

	s.logEvent(ctx, customerID, EventCustomerDeregistered, map[string]any{
		"business_id": businessID.String(),
	})
	return nil
}

// GetAppointment retrieves an appointment by ID
func (s *Manager) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return appt, nil
}

// ListAppointmentsByCustomer retrieves appointments for a specific customer
func (s *Manager) ListAppointmentsByCustomer(ctx context.Context, customerID uuid.UUID, limit, offset int) ([]Appointment, error) {
	limit, offset = clampPage(limit, offset)
	appts, err := s.repo.ListAppointmentsByCustomer(ctx, customerID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list appointments by customer: %w", err)
	}
	return appts, nil
}

// ListPurchasesByCustomer retrieves purchase history for a specific customer
func (s *Manager) ListPurchasesByCustomer(ctx context.Context, customerID uuid.UUID, limit, offset int) ([]PackagePurchase, error) {
	limit, offset = clampPage(limit, offset)
	purchases, err := s.repo.ListPurchasesByCustomer(ctx, customerID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list purchases by customer: %w", err)
	}
	return purchases, nil
}

// Internals

func (s *Manager) loadBusinessService(ctx context.Context, businessID, serviceID uuid.UUID) (*Business, *Service, error) {
	b, err := s.repo.GetBusinessByID(ctx, businessID)
	if err != nil {
		return nil, nil, err
	}

	svc, err := s.repo.GetServiceByID(ctx, serviceID)
	if err != nil {
		return nil, nil, err
	}
	if svc.BusinessID != b.ID {
		return nil, nil, ErrServiceNotFound
	}
	if !svc.IsActive {
		return nil, nil, ErrServiceInactive
	}
	return b, svc, nil
}

func (s *Manager) loadBookableStaff(ctx context.Context, b *Business, staffID uuid.UUID) (*Staff, error) {
	if !b.StaffModuleEnabled {
		return nil, ErrStaffModuleDisabled
	}
	st, err := s.repo.GetStaffByID(ctx, staffID)
	if err != nil {
		return nil, err
	}
	if st.BusinessID != b.ID {
		return nil, ErrStaffNotFound
	}
	if !st.Bookable() {
		return nil, ErrStaffNotBookable
	}
	return st, nil
}

// candidateTimes computes slot start times for a business/service/date,
// resolving "any available staff" semantics when staffID is nil.
func (s *Manager) candidateTimes(ctx context.Context, b *Business, svc *Service, hours []WorkingHours, date time.Time, staffID *uuid.UUID, now time.Time) ([]time.Time, error) {
	if staffID != nil {
		if _, err := s.loadBookableStaff(ctx, b, *staffID); err != nil {
			return nil, err
		}
		return s.resourceTimes(ctx, b, svc, hours, date, staffID, now)
	}

	if !b.StaffModuleEnabled {
		return s.resourceTimes(ctx, b, svc, hours, date, nil, now)
	}

	staffList, err := s.repo.ListBookableStaff(ctx, b.ID)
	if err != nil {
		return nil, fmt.Errorf("list bookable staff: %w", err)
	}

	var sets [][]time.Time
	for _, st := range staffList {
		set, err := s.resourceTimes(ctx, b, svc, hours, date, &st.ID, now)
		if err != nil {
			return nil, err
		}
		sets = append(sets, set)
	}
	return mergeSlotTimes(sets...), nil
}

// resourceTimes computes slot start times for a single bookable resource:
// one staff member, or the business itself when staffID is nil.
func (s *Manager) resourceTimes(ctx context.Context, b *Business, svc *Service, hours []WorkingHours, date time.Time, staffID *uuid.UUID, now time.Time) ([]time.Time, error) {
	day := EffectiveHours(b, hours, staffID, date.Weekday())
	if !day.IsActive {
		return nil, nil
	}

	dayStart := startOfDay(date)
	dayEnd := dayStart.AddDate(0, 0, 1)

	appts, err := s.repo.ListActiveAppointments(ctx, b.ID, staffID, dayStart, dayEnd)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}

	step := time.Duration(b.SlotIntervalMinutes) * time.Minute
	return GridSlots(day, date, svc.Duration(), step, busyIntervals(appts), now), nil
}

// assignStaff picks the first bookable staff member free at the requested
// start time (ordered by staff ID so the choice is deterministic).
func (s *Manager) assignStaff(ctx context.Context, b *Business, svc *Service, hours []WorkingHours, date, start time.Time, now time.Time) (*uuid.UUID, error) {
	staffList, err := s.repo.ListBookableStaff(ctx, b.ID)
	if err != nil {
		return nil, fmt.Errorf("list bookable staff: %w", err)
	}

	for _, st := range staffList {
		set, err := s.resourceTimes(ctx, b, svc, hours, date, &st.ID, now)
		if err != nil {
			return nil, err
		}
		if containsTime(set, start) {
			id := st.ID
			return &id, nil
		}
	}
	return nil, ErrSlotConflict
}

// checkFunding verifies the purchase may fund this booking: right owner,
// right business, service covered by the purchased package.
func (s *Manager) checkFunding(ctx context.Context, req CreateAppointmentRequest, svc *Service) error {
	p, err := s.repo.GetPurchaseByID(ctx, *req.PurchaseID)
	if err != nil {
		return err
	}
	if p.CustomerID != req.CustomerID || p.BusinessID != req.BusinessID {
		return ErrPurchaseMismatch
	}

	pkg, err := s.repo.GetPackageByID(ctx, p.PackageID)
	if err != nil {
		return fmt.Errorf("load package: %w", err)
	}
	if !pkg.CoversService(svc.ID) {
		return ErrServiceNotCovered
	}
	return nil
}

func (s *Manager) publishCreated(appt *Appointment) {
	if s.publisher == nil {
		return
	}
	payload := AppointmentCreatedPayload{
		AppointmentID:      appt.ID.String(),
		BusinessID:         appt.BusinessID.String(),
		CustomerID:         appt.CustomerID.String(),
		ServiceID:          appt.ServiceID.String(),
		StartTime:          appt.StartTime.Format(time.RFC3339),
		EndTime:            appt.EndTime.Format(time.RFC3339),
		Status:             string(appt.Status),
		UsedPackageSession: appt.UsedPackageSession,
	}
	if appt.StaffID != nil {
		payload.StaffID = appt.StaffID.String()
	}
	if appt.PurchaseID != nil {
		payload.PurchaseID = appt.PurchaseID.String()
	}
	publishEnvelope(s.publisher, s.cfg.KafkaTopicPrefix, TopicAppointmentCreated, EventAppointmentCreated, appt.ID.String(), payload)
}

func (s *Manager) publishCancelled(appt *Appointment, restored, late bool) {
	if s.publisher == nil {
		return
	}
	payload := AppointmentCancelledPayload{
		AppointmentID:    appt.ID.String(),
		BusinessID:       appt.BusinessID.String(),
		CustomerID:       appt.CustomerID.String(),
		StartTime:        appt.StartTime.Format(time.RFC3339),
		SessionRestored:  restored,
		LateCancellation: late,
	}
	publishEnvelope(s.publisher, s.cfg.KafkaTopicPrefix, TopicAppointmentCancelled, EventAppointmentCancelled, appt.ID.String(), payload)
}

func (s *Manager) logEvent(ctx context.Context, subjectID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("failed to marshal event payload for %s: %v", eventType, err)
		data = nil
	}

	id := subjectID
	ev := EventLog{
		EventType: eventType,
		SubjectID: &id,
		Payload:   data,
		CreatedAt: time.Now(),
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		log.Printf("failed to insert event log %s for %s: %v", eventType, subjectID, err)
	}
}

func containsTime(set []time.Time, t time.Time) bool {
	for _, s := range set {
		if s.Equal(t) {
			return true
		}
	}
	return false
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = 20 // default
	}
	if limit > 100 {
		limit = 100 // max
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
