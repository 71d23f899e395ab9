package v1

import (
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"careflow/internal/domain"
	"careflow/internal/domain/appointment"
	"careflow/internal/service"
	"careflow/pkg/metrics"
)

type AppointmentHandler struct {
	svc     *service.AppointmentService
	metrics *metrics.Collector
}

func NewAppointmentHandler(svc *service.AppointmentService, m *metrics.Collector) *AppointmentHandler {
	return &AppointmentHandler{svc: svc, metrics: m}
}

type createAppointmentRequest struct {
	PatientID uuid.UUID `json:"patient_id"`
	DoctorID  uuid.UUID `json:"doctor_id" binding:"required"`
	Start     time.Time `json:"scheduled_start" binding:"required"`
	End       time.Time `json:"scheduled_end" binding:"required"`
	Reason    string    `json:"reason" binding:"required"`
	Notes     string    `json:"notes"`
}

func (h *AppointmentHandler) Create(c *gin.Context) {
	actorID, actorRole, ok := actor(c)
	if !ok {
		return
	}

	var req createAppointmentRequest
	if !bindJSON(c, &req) {
		return
	}

	// Patients always book for themselves.
	if actorRole == domain.RolePatient {
		req.PatientID = actorID
	}

	a, err := h.svc.CreateAppointment(c.Request.Context(), &appointment.CreateAppointmentCommand{
		PatientID: req.PatientID,
		DoctorID:  req.DoctorID,
		Start:     req.Start,
		End:       req.End,
		Reason:    req.Reason,
		Notes:     req.Notes,
		CreatedBy: actorID,
	}, c.ClientIP())
	if err != nil {
		switch {
		case errors.Is(err, appointment.ErrDoctorUnavailable):
			h.metrics.BookingConflictsTotal.WithLabelValues("doctor").Inc()
		case errors.Is(err, appointment.ErrPatientUnavailable):
			h.metrics.BookingConflictsTotal.WithLabelValues("patient").Inc()
		}
		respondServiceError(c, err)
		return
	}

	h.metrics.AppointmentsBookedTotal.Inc()
	respondCreated(c, a)
}

func (h *AppointmentHandler) Get(c *gin.Context) {
	actorID, actorRole, ok := actor(c)
	if !ok {
		return
	}
	id, ok := parseUUID(c, "id")
	if !ok {
		return
	}

	a, err := h.svc.GetAppointment(c.Request.Context(), id, actorID, actorRole)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, a)
}

func (h *AppointmentHandler) List(c *gin.Context) {
	actorID, actorRole, ok := actor(c)
	if !ok {
		return
	}

	q := &appointment.ListAppointmentsQuery{
		PartyID: actorID,
		Role:    actorRole,
		Limit:   parseQueryInt(c, "limit", 100),
	}

	if from, set, ok := parseQueryDate(c, "start_date"); !ok {
		return
	} else if set {
		q.From = &from
	}
	if to, set, ok := parseQueryDate(c, "end_date"); !ok {
		return
	} else if set {
		// end_date is inclusive in the API; the range filter is
		// end-exclusive.
		end := to.AddDate(0, 0, 1)
		q.To = &end
	}
	if raw := c.Query("status"); raw != "" {
		st := appointment.AppointmentStatus(raw)
		if !st.IsValid() {
			respondServiceError(c, appointment.ErrInvalidStatus)
			return
		}
		q.Status = &st
	}

	// Admins may inspect any party.
	if actorRole == domain.RoleAdmin {
		if raw := c.Query("party_id"); raw != "" {
			partyID, err := uuid.Parse(raw)
			if err != nil {
				respondServiceError(c, &service.ValidationError{Fields: []string{"party_id must be a valid UUID"}})
				return
			}
			q.PartyID = partyID
			q.Role = domain.Role(c.DefaultQuery("role", string(domain.RolePatient)))
		}
	}

	appts, err := h.svc.ListAppointments(c.Request.Context(), q, actorID, actorRole)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, appts)
}

func (h *AppointmentHandler) Upcoming(c *gin.Context) {
	actorID, actorRole, ok := actor(c)
	if !ok {
		return
	}

	appts, err := h.svc.GetUpcoming(c.Request.Context(), actorID, actorRole, parseQueryInt(c, "days_ahead", 7))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, appts)
}

type updateStatusRequest struct {
	Status appointment.AppointmentStatus `json:"status" binding:"required"`
}

func (h *AppointmentHandler) UpdateStatus(c *gin.Context) {
	actorID, _, ok := actor(c)
	if !ok {
		return
	}
	id, ok := parseUUID(c, "id")
	if !ok {
		return
	}

	var req updateStatusRequest
	if !bindJSON(c, &req) {
		return
	}

	a, err := h.svc.UpdateStatus(c.Request.Context(), id, req.Status, actorID, c.ClientIP())
	if err != nil {
		respondServiceError(c, err)
		return
	}

	h.metrics.AppointmentTransitionsTotal.WithLabelValues(string(a.Status)).Inc()
	respondOK(c, a)
}

type cancelAppointmentRequest struct {
	Reason appointment.CancellationReason `json:"cancellation_reason" binding:"required"`
	Notes  string                         `json:"cancellation_notes"`
}

func (h *AppointmentHandler) Cancel(c *gin.Context) {
	actorID, _, ok := actor(c)
	if !ok {
		return
	}
	id, ok := parseUUID(c, "id")
	if !ok {
		return
	}

	var req cancelAppointmentRequest
	if !bindJSON(c, &req) {
		return
	}

	a, err := h.svc.CancelAppointment(c.Request.Context(), id, &appointment.CancelAppointmentCommand{
		Reason:      req.Reason,
		Notes:       req.Notes,
		CancelledBy: actorID,
	}, c.ClientIP())
	if err != nil {
		respondServiceError(c, err)
		return
	}

	h.metrics.AppointmentsCancelledTotal.WithLabelValues(string(req.Reason)).Inc()
	respondOK(c, a)
}

type rescheduleRequest struct {
	Start time.Time `json:"scheduled_start" binding:"required"`
	End   time.Time `json:"scheduled_end" binding:"required"`
}

func (h *AppointmentHandler) Reschedule(c *gin.Context) {
	actorID, _, ok := actor(c)
	if !ok {
		return
	}
	id, ok := parseUUID(c, "id")
	if !ok {
		return
	}

	var req rescheduleRequest
	if !bindJSON(c, &req) {
		return
	}

	a, err := h.svc.RescheduleAppointment(c.Request.Context(), id, &appointment.RescheduleAppointmentCommand{
		Start:       req.Start,
		End:         req.End,
		RequestedBy: actorID,
	}, c.ClientIP())
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, a)
}

func (h *AppointmentHandler) Delete(c *gin.Context) {
	actorID, actorRole, ok := actor(c)
	if !ok {
		return
	}
	id, ok := parseUUID(c, "id")
	if !ok {
		return
	}

	if err := h.svc.DeleteAppointment(c.Request.Context(), id, actorID, actorRole, c.ClientIP()); err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, gin.H{"deleted": true})
}

func (h *AppointmentHandler) DoctorAvailability(c *gin.Context) {
	if _, _, ok := actor(c); !ok {
		return
	}
	doctorID, ok := parseUUID(c, "id")
	if !ok {
		return
	}

	date, set, ok := parseQueryDate(c, "date")
	if !ok {
		return
	}
	if !set {
		respondServiceError(c, &service.ValidationError{Fields: []string{"date is required (YYYY-MM-DD)"}})
		return
	}

	slots, err := h.svc.GetDoctorAvailability(c.Request.Context(), doctorID, date, parseQueryInt(c, "slot_minutes", 30))
	if err != nil {
		respondServiceError(c, err)
		return
	}

	h.metrics.AvailabilityRequestsTotal.Inc()
	respondOK(c, gin.H{
		"date":  date.Format("2006-01-02"),
		"slots": slots,
	})
}
