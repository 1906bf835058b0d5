package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
)

var (
	ErrInsufficientSessions = errors.New("package purchase has no sessions left")
	ErrPurchaseExpired      = errors.New("package purchase has expired")
	ErrPurchaseNotActive    = errors.New("package purchase is not active")
	ErrPurchaseMismatch     = errors.New("package purchase does not belong to this customer and business")
	ErrServiceNotCovered    = errors.New("package does not cover this service")
	ErrPaymentNotConfirmed  = errors.New("payment has not been confirmed")
	ErrNotRegistered        = errors.New("customer is not registered at this business")
)

// Ledger tracks package purchases and their remaining session balance.
//
// Sessions are pooled: one counter per purchase, decremented no matter which
// covered service funds a booking. The package's per-service quantities act
// as a coverage set only.
type Ledger struct {
	repo        Repository
	publisher   Publisher
	topicPrefix string
}

func NewLedger(repo Repository, publisher Publisher, topicPrefix string) *Ledger {
	return &Ledger{
		repo:        repo,
		publisher:   publisher,
		topicPrefix: topicPrefix,
	}
}

// FindUsablePurchases lists purchases able to fund a booking of the given
// service right now: active, unexpired, sessions remaining, service covered.
func (l *Ledger) FindUsablePurchases(ctx context.Context, customerID, businessID, serviceID uuid.UUID) ([]PackagePurchase, error) {
	purchases, err := l.repo.ListUsablePurchases(ctx, customerID, businessID, serviceID, time.Now())
	if err != nil {
		return nil, fmt.Errorf("list usable purchases: %w", err)
	}
	return purchases, nil
}

// Reserve consumes one session. The decrement is a single conditional update
// re-verified at the storage layer, so two concurrent bookings can never
// drive the balance below zero; when it does not apply, the purchase is
// re-read to report the precise reason.
func (l *Ledger) Reserve(ctx context.Context, purchaseID uuid.UUID) error {
	now := time.Now()

	ok, err := l.repo.DecrementSessions(ctx, purchaseID, now)
	if err != nil {
		return fmt.Errorf("reserve session: %w", err)
	}
	if ok {
		l.logEvent(ctx, purchaseID, EventSessionReserved, map[string]any{
			"purchase_id": purchaseID.String(),
		})
		return nil
	}

	p, err := l.repo.GetPurchaseByID(ctx, purchaseID)
	if err != nil {
		return err
	}
	switch {
	// Expiry wins over status: the worker sweeps expired purchases to the
	// expired status, and the caller should see the same reason either way.
	case p.Status == PurchaseExpired,
		p.ExpiresAt != nil && !p.ExpiresAt.After(now):
		return ErrPurchaseExpired
	case p.Status != PurchaseActive:
		return ErrPurchaseNotActive
	default:
		return ErrInsufficientSessions
	}
}

// Restore returns one session to the pool, capped at the purchase's session
// count. Restoring an already-full purchase is a no-op, not an error.
func (l *Ledger) Restore(ctx context.Context, purchaseID uuid.UUID) error {
	ok, err := l.repo.IncrementSessions(ctx, purchaseID)
	if err != nil {
		return fmt.Errorf("restore session: %w", err)
	}
	if !ok {
		// Either at cap (fine) or missing (report it).
		if _, err := l.repo.GetPurchaseByID(ctx, purchaseID); err != nil {
			return err
		}
		return nil
	}

	l.logEvent(ctx, purchaseID, EventSessionRestored, map[string]any{
		"purchase_id": purchaseID.String(),
	})
	return nil
}

// Activate transitions a pending purchase to active once the payment
// collaborator confirms. Expiry is derived from the package's validity at
// activation time. Re-activating an already-active purchase is idempotent,
// which webhook retries rely on.
func (l *Ledger) Activate(ctx context.Context, purchaseID uuid.UUID, paymentConfirmed bool) (*PackagePurchase, error) {
	if !paymentConfirmed {
		return nil, ErrPaymentNotConfirmed
	}

	p, err := l.repo.GetPurchaseByID(ctx, purchaseID)
	if err != nil {
		return nil, err
	}
	if p.Status == PurchaseActive {
		return p, nil
	}
	if p.Status != PurchasePending {
		return nil, ErrPurchaseNotActive
	}

	pkg, err := l.repo.GetPackageByID(ctx, p.PackageID)
	if err != nil {
		return nil, fmt.Errorf("load package: %w", err)
	}

	expiresAt := purchaseExpiry(p.PurchaseDate, pkg.ValidityDays)

	activated, err := l.repo.ActivatePurchase(ctx, purchaseID, expiresAt)
	if err != nil {
		if errors.Is(err, ErrPurchaseNotFound) {
			// Lost a race with a concurrent activation; re-read and settle.
			current, rerr := l.repo.GetPurchaseByID(ctx, purchaseID)
			if rerr != nil {
				return nil, rerr
			}
			if current.Status == PurchaseActive {
				return current, nil
			}
			return nil, ErrPurchaseNotActive
		}
		return nil, fmt.Errorf("activate purchase: %w", err)
	}

	payload := map[string]any{
		"purchase_id": activated.ID.String(),
		"customer_id": activated.CustomerID.String(),
		"business_id": activated.BusinessID.String(),
		"package_id":  activated.PackageID.String(),
	}
	if activated.ExpiresAt != nil {
		payload["expires_at"] = activated.ExpiresAt.Format(time.RFC3339)
	}
	l.logEvent(ctx, activated.ID, EventPurchaseActivated, payload)
	l.publishActivated(activated)

	return activated, nil
}

// PurchasePackage records a new purchase for a registered customer. Paid
// packages start pending until the payment collaborator confirms; free
// packages activate immediately.
func (l *Ledger) PurchasePackage(ctx context.Context, customerID, businessID, packageID uuid.UUID) (*PackagePurchase, error) {
	registered, err := l.repo.IsRegistered(ctx, customerID, businessID)
	if err != nil {
		return nil, fmt.Errorf("check registration: %w", err)
	}
	if !registered {
		return nil, ErrNotRegistered
	}

	pkg, err := l.repo.GetPackageByID(ctx, packageID)
	if err != nil {
		return nil, err
	}
	if pkg.BusinessID != businessID {
		return nil, ErrPackageNotFound
	}
	if _, err := l.repo.GetCustomerByID(ctx, customerID); err != nil {
		return nil, err
	}

	now := time.Now()
	p := &PackagePurchase{
		CustomerID:        customerID,
		BusinessID:        businessID,
		PackageID:         packageID,
		SessionCount:      pkg.SessionCount,
		RemainingSessions: pkg.SessionCount,
		Status:            PurchasePending,
		PurchaseDate:      now,
	}
	if pkg.PriceCents == 0 {
		p.Status = PurchaseActive
		p.ExpiresAt = purchaseExpiry(now, pkg.ValidityDays)
	}

	created, err := l.repo.CreatePurchase(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("create purchase: %w", err)
	}

	l.logEvent(ctx, created.ID, EventPurchaseCreated, map[string]any{
		"purchase_id": created.ID.String(),
		"package_id":  packageID.String(),
		"customer_id": customerID.String(),
		"status":      string(created.Status),
	})
	if created.Status == PurchaseActive {
		l.publishActivated(created)
	}

	return created, nil
}

func purchaseExpiry(purchaseDate time.Time, validityDays *int) *time.Time {
	if validityDays == nil {
		return nil
	}
	t := purchaseDate.AddDate(0, 0, *validityDays)
	return &t
}

func (l *Ledger) publishActivated(p *PackagePurchase) {
	if l.publisher == nil {
		return
	}
	payload := PurchaseActivatedPayload{
		PurchaseID: p.ID.String(),
		CustomerID: p.CustomerID.String(),
		BusinessID: p.BusinessID.String(),
		PackageID:  p.PackageID.String(),
	}
	if p.ExpiresAt != nil {
		payload.ExpiresAt = p.ExpiresAt.Format(time.RFC3339)
	}
	publishEnvelope(l.publisher, l.topicPrefix, TopicPurchaseActivated, EventPurchaseActivated, p.ID.String(), payload)
}

func (l *Ledger) logEvent(ctx context.Context, subjectID uuid.UUID, eventType string, payload map[string]any) {
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

	if err := l.repo.InsertEvent(ctx, ev); err != nil {
		log.Printf("failed to insert event log %s for purchase %s: %v", eventType, subjectID, err)
	}
}
