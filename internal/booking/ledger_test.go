package booking

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

func intPtr(n int) *int { return &n }

type ledgerFixture struct {
	repo       *fakeRepo
	ledger     *Ledger
	businessID uuid.UUID
	customerID uuid.UUID
	serviceID  uuid.UUID
	packageID  uuid.UUID
}

func newLedgerFixture(t *testing.T, priceCents int, validityDays *int) *ledgerFixture {
	t.Helper()
	repo := newFakeRepo()

	f := &ledgerFixture{
		repo:       repo,
		ledger:     NewLedger(repo, nil, "booking"),
		businessID: uuid.New(),
		customerID: uuid.New(),
		serviceID:  uuid.New(),
		packageID:  uuid.New(),
	}

	repo.businesses[f.businessID] = &Business{ID: f.businessID, SlotIntervalMinutes: 30}
	repo.customers[f.customerID] = &Customer{ID: f.customerID}
	repo.services[f.serviceID] = &Service{ID: f.serviceID, BusinessID: f.businessID, DurationMinutes: 60, IsActive: true}
	repo.packages[f.packageID] = &Package{
		ID:           f.packageID,
		BusinessID:   f.businessID,
		SessionCount: 5,
		ValidityDays: validityDays,
		PriceCents:   priceCents,
		Covers:       []PackageService{{ServiceID: f.serviceID, Quantity: 5}},
	}
	repo.registrations[[2]uuid.UUID{f.customerID, f.businessID}] = true
	return f
}

func (f *ledgerFixture) activePurchase(t *testing.T, remaining int, expiresAt *time.Time) uuid.UUID {
	t.Helper()
	id := uuid.New()
	f.repo.purchases[id] = &PackagePurchase{
		ID:                id,
		CustomerID:        f.customerID,
		BusinessID:        f.businessID,
		PackageID:         f.packageID,
		SessionCount:      5,
		RemainingSessions: remaining,
		Status:            PurchaseActive,
		PurchaseDate:      time.Now(),
		ExpiresAt:         expiresAt,
	}
	return id
}

func TestPurchasePackage_PaidStartsPending(t *testing.T) {
	f := newLedgerFixture(t, 5000, intPtr(90))

	p, err := f.ledger.PurchasePackage(context.Background(), f.customerID, f.businessID, f.packageID)
	if err != nil {
		t.Fatalf("PurchasePackage: %v", err)
	}
	if p.Status != PurchasePending {
		t.Errorf("status = %s, want pending", p.Status)
	}
	if p.SessionCount != 5 || p.RemainingSessions != 5 {
		t.Errorf("sessions = %d/%d, want 5/5", p.RemainingSessions, p.SessionCount)
	}
	if p.ExpiresAt != nil {
		t.Error("pending purchase should not have an expiry yet")
	}
}

func TestPurchasePackage_FreeActivatesImmediately(t *testing.T) {
	f := newLedgerFixture(t, 0, intPtr(90))

	p, err := f.ledger.PurchasePackage(context.Background(), f.customerID, f.businessID, f.packageID)
	if err != nil {
		t.Fatalf("PurchasePackage: %v", err)
	}
	if p.Status != PurchaseActive {
		t.Errorf("status = %s, want active", p.Status)
	}
	if p.ExpiresAt == nil {
		t.Fatal("free purchase with validity should carry an expiry")
	}
	want := p.PurchaseDate.AddDate(0, 0, 90)
	if !p.ExpiresAt.Equal(want) {
		t.Errorf("expires_at = %s, want %s", p.ExpiresAt, want)
	}
}

func TestPurchasePackage_RequiresRegistration(t *testing.T) {
	f := newLedgerFixture(t, 5000, nil)
	delete(f.repo.registrations, [2]uuid.UUID{f.customerID, f.businessID})

	_, err := f.ledger.PurchasePackage(context.Background(), f.customerID, f.businessID, f.packageID)
	if !errors.Is(err, ErrNotRegistered) {
		t.Fatalf("err = %v, want ErrNotRegistered", err)
	}
}

func TestPurchasePackage_WrongBusiness(t *testing.T) {
	f := newLedgerFixture(t, 5000, nil)
	otherBusiness := uuid.New()
	f.repo.businesses[otherBusiness] = &Business{ID: otherBusiness}
	f.repo.registrations[[2]uuid.UUID{f.customerID, otherBusiness}] = true

	_, err := f.ledger.PurchasePackage(context.Background(), f.customerID, otherBusiness, f.packageID)
	if !errors.Is(err, ErrPackageNotFound) {
		t.Fatalf("err = %v, want ErrPackageNotFound", err)
	}
}

func TestActivate_PendingToActive(t *testing.T) {
	f := newLedgerFixture(t, 5000, intPtr(30))

	p, err := f.ledger.PurchasePackage(context.Background(), f.customerID, f.businessID, f.packageID)
	if err != nil {
		t.Fatalf("PurchasePackage: %v", err)
	}

	activated, err := f.ledger.Activate(context.Background(), p.ID, true)
	if err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if activated.Status != PurchaseActive {
		t.Errorf("status = %s, want active", activated.Status)
	}
	if activated.ExpiresAt == nil {
		t.Fatal("expected expiry derived from package validity")
	}

	// Webhook retries re-deliver the same event; activation is idempotent.
	again, err := f.ledger.Activate(context.Background(), p.ID, true)
	if err != nil {
		t.Fatalf("second Activate: %v", err)
	}
	if again.Status != PurchaseActive {
		t.Errorf("second activation status = %s, want active", again.Status)
	}
}

func TestActivate_RejectsUnconfirmedPayment(t *testing.T) {
	f := newLedgerFixture(t, 5000, nil)
	p, _ := f.ledger.PurchasePackage(context.Background(), f.customerID, f.businessID, f.packageID)

	if _, err := f.ledger.Activate(context.Background(), p.ID, false); !errors.Is(err, ErrPaymentNotConfirmed) {
		t.Fatalf("err = %v, want ErrPaymentNotConfirmed", err)
	}
}

func TestActivate_RejectsCancelledPurchase(t *testing.T) {
	f := newLedgerFixture(t, 5000, nil)
	p, _ := f.ledger.PurchasePackage(context.Background(), f.customerID, f.businessID, f.packageID)
	f.repo.purchases[p.ID].Status = PurchaseCancelled

	if _, err := f.ledger.Activate(context.Background(), p.ID, true); !errors.Is(err, ErrPurchaseNotActive) {
		t.Fatalf("err = %v, want ErrPurchaseNotActive", err)
	}
}

func TestReserve_DecrementsBalance(t *testing.T) {
	f := newLedgerFixture(t, 0, nil)
	id := f.activePurchase(t, 2, nil)

	if err := f.ledger.Reserve(context.Background(), id); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if got := f.repo.purchases[id].RemainingSessions; got != 1 {
		t.Errorf("remaining = %d, want 1", got)
	}
}

func TestReserve_ExhaustedBalance(t *testing.T) {
	f := newLedgerFixture(t, 0, nil)
	id := f.activePurchase(t, 0, nil)

	if err := f.ledger.Reserve(context.Background(), id); !errors.Is(err, ErrInsufficientSessions) {
		t.Fatalf("err = %v, want ErrInsufficientSessions", err)
	}
}

func TestReserve_ExpiredPurchase(t *testing.T) {
	f := newLedgerFixture(t, 0, nil)
	past := time.Now().Add(-time.Hour)
	id := f.activePurchase(t, 3, &past)

	if err := f.ledger.Reserve(context.Background(), id); !errors.Is(err, ErrPurchaseExpired) {
		t.Fatalf("err = %v, want ErrPurchaseExpired", err)
	}
	if got := f.repo.purchases[id].RemainingSessions; got != 3 {
		t.Errorf("remaining = %d, balance of an expired purchase must not move", got)
	}
}

func TestReserve_SweptPurchase(t *testing.T) {
	f := newLedgerFixture(t, 0, nil)
	past := time.Now().Add(-time.Hour)
	id := f.activePurchase(t, 3, &past)

	// The expiry worker already materialized the expired status.
	if _, err := f.repo.ExpireActivePurchases(context.Background(), time.Now()); err != nil {
		t.Fatalf("ExpireActivePurchases: %v", err)
	}

	if err := f.ledger.Reserve(context.Background(), id); !errors.Is(err, ErrPurchaseExpired) {
		t.Fatalf("err = %v, want ErrPurchaseExpired for a swept purchase", err)
	}
}

func TestReserve_PendingPurchase(t *testing.T) {
	f := newLedgerFixture(t, 5000, nil)
	p, _ := f.ledger.PurchasePackage(context.Background(), f.customerID, f.businessID, f.packageID)

	if err := f.ledger.Reserve(context.Background(), p.ID); !errors.Is(err, ErrPurchaseNotActive) {
		t.Fatalf("err = %v, want ErrPurchaseNotActive", err)
	}
}

func TestRestore_CappedAtSessionCount(t *testing.T) {
	f := newLedgerFixture(t, 0, nil)
	id := f.activePurchase(t, 4, nil)

	if err := f.ledger.Restore(context.Background(), id); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if got := f.repo.purchases[id].RemainingSessions; got != 5 {
		t.Errorf("remaining = %d, want 5", got)
	}

	// Restoring a full purchase is a no-op, not an error.
	if err := f.ledger.Restore(context.Background(), id); err != nil {
		t.Fatalf("Restore at cap: %v", err)
	}
	if got := f.repo.purchases[id].RemainingSessions; got != 5 {
		t.Errorf("remaining = %d after no-op restore, want 5", got)
	}
}

func TestRestore_MissingPurchase(t *testing.T) {
	f := newLedgerFixture(t, 0, nil)

	if err := f.ledger.Restore(context.Background(), uuid.New()); !errors.Is(err, ErrPurchaseNotFound) {
		t.Fatalf("err = %v, want ErrPurchaseNotFound", err)
	}
}

func TestFindUsablePurchases_FiltersCoverage(t *testing.T) {
	f := newLedgerFixture(t, 0, nil)
	usable := f.activePurchase(t, 3, nil)
	f.activePurchase(t, 0, nil) // exhausted
	past := time.Now().Add(-time.Minute)
	f.activePurchase(t, 3, &past) // expired

	uncoveredService := uuid.New()
	f.repo.services[uncoveredService] = &Service{ID: uncoveredService, BusinessID: f.businessID, IsActive: true}

	got, err := f.ledger.FindUsablePurchases(context.Background(), f.customerID, f.businessID, f.serviceID)
	if err != nil {
		t.Fatalf("FindUsablePurchases: %v", err)
	}
	if len(got) != 1 || got[0].ID != usable {
		t.Fatalf("expected exactly the usable purchase, got %d results", len(got))
	}

	got, err = f.ledger.FindUsablePurchases(context.Background(), f.customerID, f.businessID, uncoveredService)
	if err != nil {
		t.Fatalf("FindUsablePurchases uncovered: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("uncovered service should yield no purchases, got %d", len(got))
	}
}

func TestExpirySweep(t *testing.T) {
	f := newLedgerFixture(t, 0, nil)
	past := time.Now().Add(-time.Hour)
	expired := f.activePurchase(t, 3, &past)
	alive := f.activePurchase(t, 3, nil)

	n, err := f.repo.ExpireActivePurchases(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("ExpireActivePurchases: %v", err)
	}
	if n != 1 {
		t.Fatalf("expired count = %d, want 1", n)
	}
	if f.repo.purchases[expired].Status != PurchaseExpired {
		t.Error("expired purchase should be swept to expired status")
	}
	if f.repo.purchases[alive].Status != PurchaseActive {
		t.Error("purchase without expiry must stay active")
	}
}
