package booking

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// fakeRepo is an in-memory Repository used by the ledger and manager tests.
// Writes emulate the storage layer's atomicity: conditional session updates
// and overlap rejection behave like the SQL they stand in for.
type fakeRepo struct {
	mu sync.Mutex

	businesses    map[uuid.UUID]*Business
	services      map[uuid.UUID]*Service
	staff         map[uuid.UUID]*Staff
	customers     map[uuid.UUID]*Customer
	packages      map[uuid.UUID]*Package
	purchases     map[uuid.UUID]*PackagePurchase
	appointments  map[uuid.UUID]*Appointment
	workingHours  []WorkingHours
	registrations map[[2]uuid.UUID]bool
	events        []EventLog
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		businesses:    make(map[uuid.UUID]*Business),
		services:      make(map[uuid.UUID]*Service),
		staff:         make(map[uuid.UUID]*Staff),
		customers:     make(map[uuid.UUID]*Customer),
		packages:      make(map[uuid.UUID]*Package),
		purchases:     make(map[uuid.UUID]*PackagePurchase),
		appointments:  make(map[uuid.UUID]*Appointment),
		registrations: make(map[[2]uuid.UUID]bool),
	}
}

func (f *fakeRepo) GetBusinessByID(_ context.Context, id uuid.UUID) (*Business, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if b, ok := f.businesses[id]; ok {
		cp := *b
		return &cp, nil
	}
	return nil, ErrBusinessNotFound
}

func (f *fakeRepo) GetServiceByID(_ context.Context, id uuid.UUID) (*Service, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.services[id]; ok {
		cp := *s
		return &cp, nil
	}
	return nil, ErrServiceNotFound
}

func (f *fakeRepo) GetStaffByID(_ context.Context, id uuid.UUID) (*Staff, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.staff[id]; ok {
		cp := *s
		return &cp, nil
	}
	return nil, ErrStaffNotFound
}

func (f *fakeRepo) GetCustomerByID(_ context.Context, id uuid.UUID) (*Customer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.customers[id]; ok {
		cp := *c
		return &cp, nil
	}
	return nil, ErrCustomerNotFound
}

func (f *fakeRepo) GetPackageByID(_ context.Context, id uuid.UUID) (*Package, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.packages[id]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, ErrPackageNotFound
}

func (f *fakeRepo) GetPurchaseByID(_ context.Context, id uuid.UUID) (*PackagePurchase, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.purchases[id]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, ErrPurchaseNotFound
}

func (f *fakeRepo) GetAppointmentByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if a, ok := f.appointments[id]; ok {
		cp := *a
		return &cp, nil
	}
	return nil, ErrAppointmentNotFound
}

func (f *fakeRepo) ListWorkingHours(_ context.Context, businessID uuid.UUID) ([]WorkingHours, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []WorkingHours
	for _, wh := range f.workingHours {
		if wh.BusinessID == businessID {
			out = append(out, wh)
		}
	}
	return out, nil
}

func (f *fakeRepo) ListBookableStaff(_ context.Context, businessID uuid.UUID) ([]Staff, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Staff
	for _, s := range f.staff {
		if s.BusinessID == businessID && s.Bookable() {
			out = append(out, *s)
		}
	}
	// Deterministic order, matching the storage layer's ORDER BY id.
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j].ID.String() < out[i].ID.String() {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	return out, nil
}

func sameResource(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func (f *fakeRepo) ListActiveAppointments(_ context.Context, businessID uuid.UUID, staffID *uuid.UUID, from, to time.Time) ([]Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Appointment
	for _, a := range f.appointments {
		if a.BusinessID != businessID || !a.Active() || !sameResource(a.StaffID, staffID) {
			continue
		}
		if a.StartTime.Before(to) && from.Before(a.EndTime) {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (f *fakeRepo) CreateAppointment(_ context.Context, appt *Appointment) (*Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.appointments {
		if existing.BusinessID != appt.BusinessID || !existing.Active() || !sameResource(existing.StaffID, appt.StaffID) {
			continue
		}
		if appt.StartTime.Before(existing.EndTime) && existing.StartTime.Before(appt.EndTime) {
			return nil, ErrSlotTaken
		}
	}
	cp := *appt
	cp.ID = uuid.New()
	cp.CreatedAt = time.Now()
	cp.UpdatedAt = cp.CreatedAt
	f.appointments[cp.ID] = &cp
	result := cp
	return &result, nil
}

func (f *fakeRepo) UpdateAppointmentStatus(_ context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.appointments[id]
	if !ok || a.Status != from {
		return nil, ErrAppointmentNotFound
	}
	a.Status = to
	a.UpdatedAt = time.Now()
	cp := *a
	return &cp, nil
}

func (f *fakeRepo) CancelAppointment(_ context.Context, id uuid.UUID) (*Appointment, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.appointments[id]
	if !ok || !a.Active() {
		return nil, false, ErrAppointmentNotFound
	}
	now := time.Now()
	a.Status = StatusCancelled
	a.CancelledAt = &now
	a.UpdatedAt = now

	restored := false
	if a.UsedPackageSession && a.PurchaseID != nil {
		if p, ok := f.purchases[*a.PurchaseID]; ok && p.RemainingSessions < p.SessionCount {
			p.RemainingSessions++
			restored = true
		}
	}
	cp := *a
	return &cp, restored, nil
}

func (f *fakeRepo) CreatePurchase(_ context.Context, p *PackagePurchase) (*PackagePurchase, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *p
	cp.ID = uuid.New()
	cp.CreatedAt = time.Now()
	cp.UpdatedAt = cp.CreatedAt
	f.purchases[cp.ID] = &cp
	result := cp
	return &result, nil
}

func (f *fakeRepo) DecrementSessions(_ context.Context, purchaseID uuid.UUID, now time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.purchases[purchaseID]
	if !ok || !p.Usable(now) {
		return false, nil
	}
	p.RemainingSessions--
	return true, nil
}

func (f *fakeRepo) IncrementSessions(_ context.Context, purchaseID uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.purchases[purchaseID]
	if !ok || p.RemainingSessions >= p.SessionCount {
		return false, nil
	}
	p.RemainingSessions++
	return true, nil
}

func (f *fakeRepo) ActivatePurchase(_ context.Context, purchaseID uuid.UUID, expiresAt *time.Time) (*PackagePurchase, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.purchases[purchaseID]
	if !ok || p.Status != PurchasePending {
		return nil, ErrPurchaseNotFound
	}
	p.Status = PurchaseActive
	p.ExpiresAt = expiresAt
	p.UpdatedAt = time.Now()
	cp := *p
	return &cp, nil
}

func (f *fakeRepo) ListUsablePurchases(_ context.Context, customerID, businessID, serviceID uuid.UUID, now time.Time) ([]PackagePurchase, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []PackagePurchase
	for _, p := range f.purchases {
		if p.CustomerID != customerID || p.BusinessID != businessID || !p.Usable(now) {
			continue
		}
		if pkg, ok := f.packages[p.PackageID]; !ok || !pkg.CoversService(serviceID) {
			continue
		}
		out = append(out, *p)
	}
	return out, nil
}

func (f *fakeRepo) CreateRegistration(_ context.Context, customerID, businessID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registrations[[2]uuid.UUID{customerID, businessID}] = true
	return nil
}

func (f *fakeRepo) DeleteRegistration(_ context.Context, customerID, businessID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.registrations, [2]uuid.UUID{customerID, businessID})
	return nil
}

func (f *fakeRepo) IsRegistered(_ context.Context, customerID, businessID uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.registrations[[2]uuid.UUID{customerID, businessID}], nil
}

func (f *fakeRepo) CountBlockingAppointments(_ context.Context, customerID, businessID uuid.UUID, now time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, a := range f.appointments {
		if a.CustomerID != customerID || a.BusinessID != businessID {
			continue
		}
		if a.Status == StatusCancelled || a.Status == StatusCompleted {
			continue
		}
		if !a.StartTime.Before(now) {
			count++
		}
	}
	return count, nil
}

func (f *fakeRepo) CountActiveEntitlements(_ context.Context, customerID, businessID uuid.UUID, now time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, p := range f.purchases {
		if p.CustomerID == customerID && p.BusinessID == businessID && p.Usable(now) {
			count++
		}
	}
	return count, nil
}

func (f *fakeRepo) ListAppointmentsByCustomer(_ context.Context, customerID uuid.UUID, limit, offset int) ([]Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Appointment
	for _, a := range f.appointments {
		if a.CustomerID == customerID {
			out = append(out, *a)
		}
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeRepo) ListPurchasesByCustomer(_ context.Context, customerID uuid.UUID, limit, offset int) ([]PackagePurchase, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []PackagePurchase
	for _, p := range f.purchases {
		if p.CustomerID == customerID {
			out = append(out, *p)
		}
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeRepo) ExpireActivePurchases(_ context.Context, now time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, p := range f.purchases {
		if p.Status == PurchaseActive && p.ExpiresAt != nil && !p.ExpiresAt.After(now) {
			p.Status = PurchaseExpired
			n++
		}
	}
	return n, nil
}

func (f *fakeRepo) CancelStalePendingPurchases(_ context.Context, olderThan time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, p := range f.purchases {
		if p.Status == PurchasePending && p.PurchaseDate.Before(olderThan) {
			p.Status = PurchaseCancelled
			n++
		}
	}
	return n, nil
}

func (f *fakeRepo) InsertEvent(_ context.Context, ev EventLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeRepo) eventTypes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.events))
	for _, ev := range f.events {
		out = append(out, ev.EventType)
	}
	return out
}

// localLocker serializes WithLock calls per resource within the process,
// standing in for the Redis lock.
type localLocker struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newLocalLocker() *localLocker {
	return &localLocker{locks: make(map[string]*sync.Mutex)}
}

func (l *localLocker) WithLock(ctx context.Context, resource string, fn func(ctx context.Context) error) error {
	l.mu.Lock()
	m, ok := l.locks[resource]
	if !ok {
		m = &sync.Mutex{}
		l.locks[resource] = m
	}
	l.mu.Unlock()

	m.Lock()
	defer m.Unlock()
	return fn(ctx)
}
