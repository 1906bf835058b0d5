package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/bookwise/booking-core/internal/booking"
	redisclient "github.com/bookwise/booking-core/internal/redis"
)

func listSlotsHandler(mgr *booking.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		businessID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_business_id", "id must be a valid UUID")
			return
		}

		serviceID, err := uuid.Parse(r.URL.Query().Get("service_id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_service_id", "service_id must be a valid UUID")
			return
		}

		dateStr := r.URL.Query().Get("date")
		date, err := time.ParseInLocation("2006-01-02", dateStr, time.Local)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
			return
		}

		staffID, ok := optionalUUID(r.URL.Query().Get("staff_id"))
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_staff_id", "staff_id must be a valid UUID")
			return
		}

		slots, err := mgr.AvailableSlots(r.Context(), businessID, serviceID, date, staffID)
		if err != nil {
			handleDomainError(w, err)
			return
		}

		resp := SlotsResponse{
			BusinessID: businessID,
			ServiceID:  serviceID,
			Date:       dateStr,
			Slots:      slots,
		}
		if staffID != nil {
			resp.StaffID = staffID.String()
		}

		writeJSON(w, http.StatusOK, resp)
	}
}

func createAppointmentHandler(mgr *booking.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		businessID, err := uuid.Parse(req.BusinessID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_business_id", "business_id must be a valid UUID")
			return
		}
		serviceID, err := uuid.Parse(req.ServiceID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_service_id", "service_id must be a valid UUID")
			return
		}
		customerID, err := uuid.Parse(req.CustomerID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_customer_id", "customer_id must be a valid UUID")
			return
		}
		startTime, err := time.Parse(time.RFC3339, req.StartTime)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_start_time", "start_time must be RFC3339")
			return
		}
		staffID, ok := optionalUUID(req.StaffID)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_staff_id", "staff_id must be a valid UUID")
			return
		}
		purchaseID, ok := optionalUUID(req.PurchaseID)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_purchase_id", "purchase_id must be a valid UUID")
			return
		}

		appt, err := mgr.CreateAppointment(r.Context(), booking.CreateAppointmentRequest{
			BusinessID: businessID,
			ServiceID:  serviceID,
			StaffID:    staffID,
			CustomerID: customerID,
			StartTime:  startTime,
			PurchaseID: purchaseID,
		})
		if err != nil {
			handleDomainError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
	}
}

func getAppointmentHandler(mgr *booking.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		appt, err := mgr.GetAppointment(r.Context(), id)
		if err != nil {
			handleDomainError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func confirmAppointmentHandler(mgr *booking.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		appt, err := mgr.ConfirmAppointment(r.Context(), id)
		if err != nil {
			handleDomainError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func cancelAppointmentHandler(mgr *booking.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		var req CancelAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		actor, err := uuid.Parse(req.CustomerID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_customer_id", "customer_id must be a valid UUID")
			return
		}

		result, err := mgr.CancelAppointment(r.Context(), id, actor)
		if err != nil {
			handleDomainError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, CancelAppointmentResponse{
			Appointment:      toAppointmentResponse(result.Appointment),
			SessionRestored:  result.SessionRestored,
			LateCancellation: result.LateCancellation,
		})
	}
}

func listCustomerAppointmentsHandler(mgr *booking.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		customerID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_customer_id", "id must be a valid UUID")
			return
		}

		limit, offset := pageParams(r)
		appts, err := mgr.ListAppointmentsByCustomer(r.Context(), customerID, limit, offset)
		if err != nil {
			handleDomainError(w, err)
			return
		}

		resp := make([]AppointmentResponse, 0, len(appts))
		for i := range appts {
			resp = append(resp, toAppointmentResponse(&appts[i]))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func listCustomerPurchasesHandler(mgr *booking.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		customerID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_customer_id", "id must be a valid UUID")
			return
		}

		limit, offset := pageParams(r)
		purchases, err := mgr.ListPurchasesByCustomer(r.Context(), customerID, limit, offset)
		if err != nil {
			handleDomainError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toPurchaseResponses(purchases))
	}
}

// listEntitlementsHandler answers "which purchases can fund a booking of
// this service right now".
func listEntitlementsHandler(ledger *booking.Ledger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		customerID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_customer_id", "id must be a valid UUID")
			return
		}
		businessID, err := uuid.Parse(r.URL.Query().Get("business_id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_business_id", "business_id must be a valid UUID")
			return
		}
		serviceID, err := uuid.Parse(r.URL.Query().Get("service_id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_service_id", "service_id must be a valid UUID")
			return
		}

		purchases, err := ledger.FindUsablePurchases(r.Context(), customerID, businessID, serviceID)
		if err != nil {
			handleDomainError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toPurchaseResponses(purchases))
	}
}

func createPurchaseHandler(ledger *booking.Ledger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreatePurchaseRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		customerID, err := uuid.Parse(req.CustomerID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_customer_id", "customer_id must be a valid UUID")
			return
		}
		businessID, err := uuid.Parse(req.BusinessID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_business_id", "business_id must be a valid UUID")
			return
		}
		packageID, err := uuid.Parse(req.PackageID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_package_id", "package_id must be a valid UUID")
			return
		}

		purchase, err := ledger.PurchasePackage(r.Context(), customerID, businessID, packageID)
		if err != nil {
			handleDomainError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, toPurchaseResponse(purchase))
	}
}

func registerCustomerHandler(mgr *booking.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		customerID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_customer_id", "id must be a valid UUID")
			return
		}

		var req RegisterRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		businessID, err := uuid.Parse(req.BusinessID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_business_id", "business_id must be a valid UUID")
			return
		}

		if err := mgr.RegisterCustomer(r.Context(), customerID, businessID); err != nil {
			handleDomainError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, map[string]string{"status": "registered"})
	}
}

func deregisterCustomerHandler(mgr *booking.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		customerID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_customer_id", "id must be a valid UUID")
			return
		}
		businessID, err := uuid.Parse(chi.URLParam(r, "businessID"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_business_id", "businessID must be a valid UUID")
			return
		}

		if err := mgr.DeregisterCustomer(r.Context(), customerID, businessID); err != nil {
			handleDomainError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]string{"status": "deregistered"})
	}
}

// handleDomainError maps booking core errors onto HTTP status codes and
// stable error code strings.
func handleDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, booking.ErrBusinessNotFound):
		writeError(w, http.StatusNotFound, "business_not_found", err.Error())
	case errors.Is(err, booking.ErrServiceNotFound):
		writeError(w, http.StatusNotFound, "service_not_found", err.Error())
	case errors.Is(err, booking.ErrStaffNotFound):
		writeError(w, http.StatusNotFound, "staff_not_found", err.Error())
	case errors.Is(err, booking.ErrCustomerNotFound):
		writeError(w, http.StatusNotFound, "customer_not_found", err.Error())
	case errors.Is(err, booking.ErrPackageNotFound):
		writeError(w, http.StatusNotFound, "package_not_found", err.Error())
	case errors.Is(err, booking.ErrPurchaseNotFound):
		writeError(w, http.StatusNotFound, "purchase_not_found", err.Error())
	case errors.Is(err, booking.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, booking.ErrRegistrationNotFound):
		writeError(w, http.StatusNotFound, "registration_not_found", err.Error())
	case errors.Is(err, booking.ErrSlotConflict):
		writeError(w, http.StatusConflict, "slot_conflict", err.Error())
	case errors.Is(err, booking.ErrSlotBeingBooked),
		errors.Is(err, redisclient.ErrLockNotAcquired):
		writeError(w, http.StatusConflict, "slot_being_booked", "slot is currently being booked, please retry shortly")
	case errors.Is(err, booking.ErrInsufficientSessions):
		writeError(w, http.StatusConflict, "insufficient_sessions", err.Error())
	case errors.Is(err, booking.ErrPurchaseExpired):
		writeError(w, http.StatusConflict, "purchase_expired", err.Error())
	case errors.Is(err, booking.ErrPurchaseNotActive):
		writeError(w, http.StatusConflict, "purchase_not_active", err.Error())
	case errors.Is(err, booking.ErrInvalidState):
		writeError(w, http.StatusConflict, "invalid_state", err.Error())
	case errors.Is(err, booking.ErrHasPendingAppointments):
		writeError(w, http.StatusConflict, "has_pending_appointments", err.Error())
	case errors.Is(err, booking.ErrHasActiveEntitlements):
		writeError(w, http.StatusConflict, "has_active_entitlements", err.Error())
	case errors.Is(err, booking.ErrPurchaseMismatch):
		writeError(w, http.StatusBadRequest, "purchase_mismatch", err.Error())
	case errors.Is(err, booking.ErrServiceNotCovered):
		writeError(w, http.StatusBadRequest, "service_not_covered", err.Error())
	case errors.Is(err, booking.ErrServiceInactive):
		writeError(w, http.StatusBadRequest, "service_inactive", err.Error())
	case errors.Is(err, booking.ErrStaffModuleDisabled):
		writeError(w, http.StatusBadRequest, "staff_module_disabled", err.Error())
	case errors.Is(err, booking.ErrStaffNotBookable):
		writeError(w, http.StatusBadRequest, "staff_not_bookable", err.Error())
	case errors.Is(err, booking.ErrPaymentNotConfirmed):
		writeError(w, http.StatusBadRequest, "payment_not_confirmed", err.Error())
	case errors.Is(err, booking.ErrNotRegistered):
		writeError(w, http.StatusForbidden, "not_registered", err.Error())
	case errors.Is(err, booking.ErrCancelNotAllowed):
		writeError(w, http.StatusForbidden, "cancel_not_allowed", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func toAppointmentResponse(a *booking.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:                 a.ID,
		BusinessID:         a.BusinessID,
		CustomerID:         a.CustomerID,
		ServiceID:          a.ServiceID,
		StaffID:            a.StaffID,
		PurchaseID:         a.PurchaseID,
		UsedPackageSession: a.UsedPackageSession,
		StartTime:          a.StartTime,
		EndTime:            a.EndTime,
		Status:             string(a.Status),
		CancelledAt:        a.CancelledAt,
	}
}

func toPurchaseResponse(p *booking.PackagePurchase) PurchaseResponse {
	return PurchaseResponse{
		ID:                p.ID,
		CustomerID:        p.CustomerID,
		BusinessID:        p.BusinessID,
		PackageID:         p.PackageID,
		SessionCount:      p.SessionCount,
		RemainingSessions: p.RemainingSessions,
		Status:            string(p.Status),
		PurchaseDate:      p.PurchaseDate,
		ExpiresAt:         p.ExpiresAt,
	}
}

func toPurchaseResponses(purchases []booking.PackagePurchase) []PurchaseResponse {
	resp := make([]PurchaseResponse, 0, len(purchases))
	for i := range purchases {
		resp = append(resp, toPurchaseResponse(&purchases[i]))
	}
	return resp
}

func optionalUUID(s string) (*uuid.UUID, bool) {
	if s == "" {
		return nil, true
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return nil, false
	}
	return &id, true
}

func pageParams(r *http.Request) (limit, offset int) {
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			offset = n
		}
	}
	return limit, offset
}
