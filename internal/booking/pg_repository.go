package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// exclusion_violation, raised by the no-overlap constraint on appointments
const pgExclusionViolation = "23P01"

func isExclusionViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgExclusionViolation
}

// Scan helpers

func scanBusiness(row pgx.Row) (*Business, error) {
	var b Business
	err := row.Scan(
		&b.ID,
		&b.Name,
		&b.SlotIntervalMinutes,
		&b.StaffModuleEnabled,
		&b.RequiresConfirmation,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBusinessNotFound
		}
		return nil, err
	}
	return &b, nil
}

func scanService(row pgx.Row) (*Service, error) {
	var s Service
	err := row.Scan(
		&s.ID,
		&s.BusinessID,
		&s.Name,
		&s.DurationMinutes,
		&s.PriceCents,
		&s.IsActive,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrServiceNotFound
		}
		return nil, err
	}
	return &s, nil
}

func scanStaff(row pgx.Row) (*Staff, error) {
	var s Staff
	err := row.Scan(
		&s.ID,
		&s.BusinessID,
		&s.Name,
		&s.IsActive,
		&s.CanAcceptBookings,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrStaffNotFound
		}
		return nil, err
	}
	return &s, nil
}

func scanCustomer(row pgx.Row) (*Customer, error) {
	var c Customer
	var email *string
	err := row.Scan(
		&c.ID,
		&c.Name,
		&email,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCustomerNotFound
		}
		return nil, err
	}
	c.Email = email
	return &c, nil
}

func scanPurchase(row pgx.Row) (*PackagePurchase, error) {
	var p PackagePurchase
	var expiresAt *time.Time
	err := row.Scan(
		&p.ID,
		&p.CustomerID,
		&p.BusinessID,
		&p.PackageID,
		&p.SessionCount,
		&p.RemainingSessions,
		&p.Status,
		&p.PurchaseDate,
		&expiresAt,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPurchaseNotFound
		}
		return nil, err
	}
	p.ExpiresAt = expiresAt
	return &p, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var staffID, purchaseID *uuid.UUID
	var cancelledAt *time.Time
	err := row.Scan(
		&a.ID,
		&a.BusinessID,
		&a.CustomerID,
		&a.ServiceID,
		&staffID,
		&purchaseID,
		&a.UsedPackageSession,
		&a.StartTime,
		&a.EndTime,
		&a.Status,
		&cancelledAt,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}
	a.StaffID = staffID
	a.PurchaseID = purchaseID
	a.CancelledAt = cancelledAt
	return &a, nil
}

const appointmentCols = `id, business_id, customer_id, service_id, staff_id, purchase_id,
		used_package_session, start_time, end_time, status, cancelled_at, created_at, updated_at`

const purchaseCols = `id, customer_id, business_id, package_id, session_count,
		remaining_sessions, status, purchase_date, expires_at, created_at, updated_at`

// Lookups

func (r *PgRepository) GetBusinessByID(ctx context.Context, id uuid.UUID) (*Business, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, slot_interval_minutes, staff_module_enabled, requires_confirmation, created_at, updated_at
		FROM businesses
		WHERE id = $1
	`, id)
	return scanBusiness(row)
}

func (r *PgRepository) GetServiceByID(ctx context.Context, id uuid.UUID) (*Service, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, business_id, name, duration_minutes, price_cents, is_active, created_at, updated_at
		FROM services
		WHERE id = $1
	`, id)
	return scanService(row)
}

func (r *PgRepository) GetStaffByID(ctx context.Context, id uuid.UUID) (*Staff, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, business_id, name, is_active, can_accept_bookings, created_at, updated_at
		FROM staff
		WHERE id = $1
	`, id)
	return scanStaff(row)
}

func (r *PgRepository) GetCustomerByID(ctx context.Context, id uuid.UUID) (*Customer, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, email, created_at, updated_at
		FROM customers
		WHERE id = $1
	`, id)
	return scanCustomer(row)
}

func (r *PgRepository) GetPackageByID(ctx context.Context, id uuid.UUID) (*Package, error) {
	var p Package
	var validityDays *int
	err := r.pool.QueryRow(ctx, `
		SELECT id, business_id, name, session_count, validity_days, price_cents, created_at, updated_at
		FROM packages
		WHERE id = $1
	`, id).Scan(
		&p.ID,
		&p.BusinessID,
		&p.Name,
		&p.SessionCount,
		&validityDays,
		&p.PriceCents,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPackageNotFound
		}
		return nil, err
	}
	p.ValidityDays = validityDays

	rows, err := r.pool.Query(ctx, `
		SELECT service_id, quantity
		FROM package_services
		WHERE package_id = $1
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var ps PackageService
		if err := rows.Scan(&ps.ServiceID, &ps.Quantity); err != nil {
			return nil, err
		}
		p.Covers = append(p.Covers, ps)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &p, nil
}

func (r *PgRepository) GetPurchaseByID(ctx context.Context, id uuid.UUID) (*PackagePurchase, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+purchaseCols+`
		FROM package_purchases
		WHERE id = $1
	`, id)
	return scanPurchase(row)
}

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentCols+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

// Scheduling inputs

func (r *PgRepository) ListWorkingHours(ctx context.Context, businessID uuid.UUID) ([]WorkingHours, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, business_id, staff_id, weekday, is_active, start_time, end_time
		FROM working_hours
		WHERE business_id = $1
		ORDER BY weekday, staff_id NULLS FIRST
	`, businessID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []WorkingHours
	for rows.Next() {
		var wh WorkingHours
		var staffID *uuid.UUID
		var weekday int
		if err := rows.Scan(&wh.ID, &wh.BusinessID, &staffID, &weekday, &wh.IsActive, &wh.StartTime, &wh.EndTime); err != nil {
			return nil, err
		}
		wh.StaffID = staffID
		wh.Weekday = time.Weekday(weekday)
		result = append(result, wh)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PgRepository) ListBookableStaff(ctx context.Context, businessID uuid.UUID) ([]Staff, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, business_id, name, is_active, can_accept_bookings, created_at, updated_at
		FROM staff
		WHERE business_id = $1
		  AND is_active
		  AND can_accept_bookings
		ORDER BY id ASC
	`, businessID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Staff
	for rows.Next() {
		s, err := scanStaff(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PgRepository) ListActiveAppointments(ctx context.Context, businessID uuid.UUID, staffID *uuid.UUID, from, to time.Time) ([]Appointment, error) {
	query := `
		SELECT ` + appointmentCols + `
		FROM appointments
		WHERE business_id = $1
		  AND status IN ('pending', 'confirmed')
		  AND start_time < $3
		  AND end_time > $2
	`
	args := []any{businessID, from, to}
	if staffID != nil {
		query += ` AND staff_id = $4`
		args = append(args, *staffID)
	} else {
		query += ` AND staff_id IS NULL`
	}
	query += ` ORDER BY start_time ASC`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Booking writes

func (r *PgRepository) CreateAppointment(ctx context.Context, appt *Appointment) (*Appointment, error) {
	id := uuid.New()

	row := r.pool.QueryRow(ctx, `
		INSERT INTO appointments
			(id, business_id, customer_id, service_id, staff_id, purchase_id,
			 used_package_session, start_time, end_time, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now(), now())
		RETURNING `+appointmentCols+`
	`, id, appt.BusinessID, appt.CustomerID, appt.ServiceID, appt.StaffID, appt.PurchaseID,
		appt.UsedPackageSession, appt.StartTime, appt.EndTime, appt.Status)

	created, err := scanAppointment(row)
	if err != nil {
		if isExclusionViolation(err) {
			return nil, ErrSlotTaken
		}
		return nil, err
	}
	return created, nil
}

func (r *PgRepository) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+appointmentCols+`
	`, id, to, from)
	return scanAppointment(row)
}

func (r *PgRepository) CancelAppointment(ctx context.Context, id uuid.UUID) (*Appointment, bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("begin cancel tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, `
		UPDATE appointments
		SET status = 'cancelled',
		    cancelled_at = now(),
		    updated_at = now()
		WHERE id = $1
		  AND status IN ('pending', 'confirmed')
		RETURNING `+appointmentCols+`
	`, id)

	appt, err := scanAppointment(row)
	if err != nil {
		return nil, false, err
	}

	restored := false
	if appt.UsedPackageSession && appt.PurchaseID != nil {
		ct, err := tx.Exec(ctx, `
			UPDATE package_purchases
			SET remaining_sessions = remaining_sessions + 1,
			    updated_at = now()
			WHERE id = $1
			  AND remaining_sessions < session_count
		`, *appt.PurchaseID)
		if err != nil {
			return nil, false, fmt.Errorf("restore session: %w", err)
		}
		restored = ct.RowsAffected() == 1
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, fmt.Errorf("commit cancel tx: %w", err)
	}

	return appt, restored, nil
}

// Entitlement ledger

func (r *PgRepository) CreatePurchase(ctx context.Context, p *PackagePurchase) (*PackagePurchase, error) {
	id := uuid.New()

	row := r.pool.QueryRow(ctx, `
		INSERT INTO package_purchases
			(id, customer_id, business_id, package_id, session_count,
			 remaining_sessions, status, purchase_date, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now(), now())
		RETURNING `+purchaseCols+`
	`, id, p.CustomerID, p.BusinessID, p.PackageID, p.SessionCount,
		p.RemainingSessions, p.Status, p.PurchaseDate, p.ExpiresAt)

	return scanPurchase(row)
}

func (r *PgRepository) DecrementSessions(ctx context.Context, purchaseID uuid.UUID, now time.Time) (bool, error) {
	ct, err := r.pool.Exec(ctx, `
		UPDATE package_purchases
		SET remaining_sessions = remaining_sessions - 1,
		    updated_at = now()
		WHERE id = $1
		  AND status = 'active'
		  AND remaining_sessions > 0
		  AND (expires_at IS NULL OR expires_at > $2)
	`, purchaseID, now)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() == 1, nil
}

func (r *PgRepository) IncrementSessions(ctx context.Context, purchaseID uuid.UUID) (bool, error) {
	ct, err := r.pool.Exec(ctx, `
		UPDATE package_purchases
		SET remaining_sessions = remaining_sessions + 1,
		    updated_at = now()
		WHERE id = $1
		  AND remaining_sessions < session_count
	`, purchaseID)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() == 1, nil
}

func (r *PgRepository) ActivatePurchase(ctx context.Context, purchaseID uuid.UUID, expiresAt *time.Time) (*PackagePurchase, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE package_purchases
		SET status = 'active',
		    expires_at = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = 'pending'
		RETURNING `+purchaseCols+`
	`, purchaseID, expiresAt)
	return scanPurchase(row)
}

func (r *PgRepository) ListUsablePurchases(ctx context.Context, customerID, businessID, serviceID uuid.UUID, now time.Time) ([]PackagePurchase, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT pp.id, pp.customer_id, pp.business_id, pp.package_id, pp.session_count,
			pp.remaining_sessions, pp.status, pp.purchase_date, pp.expires_at, pp.created_at, pp.updated_at
		FROM package_purchases pp
		JOIN package_services ps ON ps.package_id = pp.package_id
		WHERE pp.customer_id = $1
		  AND pp.business_id = $2
		  AND ps.service_id = $3
		  AND pp.status = 'active'
		  AND pp.remaining_sessions > 0
		  AND (pp.expires_at IS NULL OR pp.expires_at > $4)
		ORDER BY pp.purchase_date ASC
	`, customerID, businessID, serviceID, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []PackagePurchase
	for rows.Next() {
		p, err := scanPurchase(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Registration lifecycle

func (r *PgRepository) CreateRegistration(ctx context.Context, customerID, businessID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO registrations (customer_id, business_id, created_at)
		VALUES ($1, $2, now())
		ON CONFLICT (customer_id, business_id) DO NOTHING
	`, customerID, businessID)
	return err
}

func (r *PgRepository) DeleteRegistration(ctx context.Context, customerID, businessID uuid.UUID) error {
	ct, err := r.pool.Exec(ctx, `
		DELETE FROM registrations
		WHERE customer_id = $1 AND business_id = $2
	`, customerID, businessID)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrRegistrationNotFound
	}
	return nil
}

func (r *PgRepository) IsRegistered(ctx context.Context, customerID, businessID uuid.UUID) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM registrations
			WHERE customer_id = $1 AND business_id = $2
		)
	`, customerID, businessID).Scan(&exists)
	return exists, err
}

func (r *PgRepository) CountBlockingAppointments(ctx context.Context, customerID, businessID uuid.UUID, now time.Time) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM appointments
		WHERE customer_id = $1
		  AND business_id = $2
		  AND status NOT IN ('cancelled', 'completed')
		  AND start_time >= $3
	`, customerID, businessID, now).Scan(&count)
	return count, err
}

func (r *PgRepository) CountActiveEntitlements(ctx context.Context, customerID, businessID uuid.UUID, now time.Time) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM package_purchases
		WHERE customer_id = $1
		  AND business_id = $2
		  AND status = 'active'
		  AND remaining_sessions > 0
		  AND (expires_at IS NULL OR expires_at > $3)
	`, customerID, businessID, now).Scan(&count)
	return count, err
}

// Read side

func (r *PgRepository) ListAppointmentsByCustomer(ctx context.Context, customerID uuid.UUID, limit, offset int) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentCols+`
		FROM appointments
		WHERE customer_id = $1
		ORDER BY start_time DESC
		LIMIT $2 OFFSET $3
	`, customerID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PgRepository) ListPurchasesByCustomer(ctx context.Context, customerID uuid.UUID, limit, offset int) ([]PackagePurchase, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+purchaseCols+`
		FROM package_purchases
		WHERE customer_id = $1
		ORDER BY purchase_date DESC
		LIMIT $2 OFFSET $3
	`, customerID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []PackagePurchase
	for rows.Next() {
		p, err := scanPurchase(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Expiry worker

func (r *PgRepository) ExpireActivePurchases(ctx context.Context, now time.Time) (int64, error) {
	ct, err := r.pool.Exec(ctx, `
		UPDATE package_purchases
		SET status = 'expired',
		    updated_at = now()
		WHERE status = 'active'
		  AND expires_at IS NOT NULL
		  AND expires_at <= $1
	`, now)
	if err != nil {
		return 0, err
	}
	return ct.RowsAffected(), nil
}

func (r *PgRepository) CancelStalePendingPurchases(ctx context.Context, olderThan time.Time) (int64, error) {
	ct, err := r.pool.Exec(ctx, `
		UPDATE package_purchases
		SET status = 'cancelled',
		    updated_at = now()
		WHERE status = 'pending'
		  AND created_at < $1
	`, olderThan)
	if err != nil {
		return 0, err
	}
	return ct.RowsAffected(), nil
}

// Event logging

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO event_logs (event_type, subject_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.SubjectID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}
	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
