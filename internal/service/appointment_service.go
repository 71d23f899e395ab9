package service

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"careflow/internal/config"
	"careflow/internal/domain"
	"careflow/internal/domain/appointment"
)

type AppointmentService struct {
	repo     appointment.Repository
	userRepo UserRepository
	auditSvc *AuditService
	sched    config.SchedulingConfig
	log      *zap.Logger

	// Injectable clock so validation against "now" is deterministic in
	// tests.
	now func() time.Time
}

func NewAppointmentService(
	repo appointment.Repository,
	userRepo UserRepository,
	auditSvc *AuditService,
	sched config.SchedulingConfig,
	log *zap.Logger,
) *AppointmentService {
	return &AppointmentService{
		repo:     repo,
		userRepo: userRepo,
		auditSvc: auditSvc,
		sched:    sched,
		log:      log,
		now:      time.Now,
	}
}

// requireParty fetches a user and checks it can sit on a new appointment
// in the given role.
func (s *AppointmentService) requireParty(ctx context.Context, id uuid.UUID, role domain.Role) (*domain.User, error) {
	u, err := s.userRepo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", role, err)
	}
	if !u.CanBeScheduled(role) {
		return nil, &ValidationError{Fields: []string{
			fmt.Sprintf("%s_id must reference an active user with the %s role", role, role),
		}}
	}
	return u, nil
}

// validateInterval applies the time-bound booking rules shared by
// creation and reschedule. Order matters: callers rely on the first
// failing rule being deterministic.
func (s *AppointmentService) validateInterval(start, end time.Time) error {
	if !end.After(start) {
		return appointment.ErrInvalidTimeRange
	}

	if d := end.Sub(start); d < appointment.MinDuration || d > appointment.MaxDuration {
		return appointment.ErrInvalidDuration
	}

	now := s.now()
	if start.Before(now) {
		return appointment.ErrScheduledInPast
	}
	if start.After(now.Add(s.sched.MaxAdvanceBooking)) {
		return appointment.ErrScheduledTooFarAhead
	}
	return nil
}

// CreateAppointment validates a booking request end to end and, only if
// every rule holds and both parties are free, persists a new appointment
// in scheduled state.
func (s *AppointmentService) CreateAppointment(ctx context.Context, cmd *appointment.CreateAppointmentCommand, ip string) (*appointment.Appointment, error) {
	if _, err := s.requireParty(ctx, cmd.PatientID, domain.RolePatient); err != nil {
		return nil, err
	}
	if _, err := s.requireParty(ctx, cmd.DoctorID, domain.RoleDoctor); err != nil {
		return nil, err
	}

	if err := s.validateInterval(cmd.Start, cmd.End); err != nil {
		return nil, err
	}

	reason := strings.TrimSpace(cmd.Reason)
	if reason == "" {
		return nil, appointment.ErrReasonRequired
	}
	if utf8.RuneCountInString(reason) > appointment.MaxReasonLength {
		return nil, appointment.ErrReasonTooLong
	}

	a := &appointment.Appointment{
		PatientID:      cmd.PatientID,
		DoctorID:       cmd.DoctorID,
		ScheduledStart: cmd.Start,
		ScheduledEnd:   cmd.End,
		Status:         appointment.StatusScheduled,
		Reason:         reason,
		Notes:          strings.TrimSpace(cmd.Notes),
		CreatedBy:      cmd.CreatedBy,
	}

	// The repository serializes the two availability checks with the
	// insert; a plain check-then-insert here would race a concurrent
	// booking for the same party.
	if err := s.repo.CreateIfAvailable(ctx, a); err != nil {
		return nil, err
	}

	s.log.Info("appointment booked",
		zap.String("appointment_id", a.ID.String()),
		zap.String("doctor_id", a.DoctorID.String()),
		zap.String("patient_id", a.PatientID.String()),
		zap.Time("scheduled_start", a.ScheduledStart),
	)

	s.auditSvc.LogAsync(ctx, AuditEntry{
		UserID:       cmd.CreatedBy,
		Action:       string(domain.ActionCreate),
		ResourceType: "appointment",
		ResourceID:   a.ID.String(),
		IPAddress:    ip,
	})

	return a, nil
}

// GetAppointment returns an appointment to one of its parties or an
// admin.
func (s *AppointmentService) GetAppointment(ctx context.Context, id uuid.UUID, actorID uuid.UUID, actorRole domain.Role) (*appointment.Appointment, error) {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if actorRole != domain.RoleAdmin && !a.IsParty(actorID) {
		return nil, ErrForbidden
	}
	return a, nil
}

// ListAppointments returns a party's appointments within a date range,
// ordered by scheduled start. Non-admin callers can only query
// themselves.
func (s *AppointmentService) ListAppointments(ctx context.Context, q *appointment.ListAppointmentsQuery, actorID uuid.UUID, actorRole domain.Role) ([]*appointment.Appointment, error) {
	if actorRole != domain.RoleAdmin {
		q.PartyID = actorID
		q.Role = actorRole
	}
	if q.Role != domain.RolePatient && q.Role != domain.RoleDoctor {
		return nil, domain.ErrInvalidRole
	}
	return s.repo.List(ctx, q)
}

// GetUpcoming returns the actor's active appointments starting within
// the next daysAhead days.
func (s *AppointmentService) GetUpcoming(ctx context.Context, actorID uuid.UUID, actorRole domain.Role, daysAhead int) ([]*appointment.Appointment, error) {
	if daysAhead <= 0 {
		daysAhead = 7
	}
	return s.repo.GetUpcoming(ctx, actorID, actorRole, time.Duration(daysAhead)*24*time.Hour)
}

// UpdateStatus runs the transition engine for every target except
// cancelled, which carries its own field group and must go through
// CancelAppointment.
//
// Authorization per target: confirmed may be requested by either party;
// in_progress, completed and no_show only by the doctor.
func (s *AppointmentService) UpdateStatus(ctx context.Context, id uuid.UUID, target appointment.AppointmentStatus, actorID uuid.UUID, ip string) (*appointment.Appointment, error) {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if !a.IsParty(actorID) {
		return nil, ErrForbidden
	}

	switch target {
	case appointment.StatusConfirmed:
		// Either party may confirm.
	case appointment.StatusInProgress, appointment.StatusCompleted, appointment.StatusNoShow:
		if actorID != a.DoctorID {
			return nil, ErrForbidden
		}
	}

	expected := a.Status
	if err := a.TransitionTo(target, s.now()); err != nil {
		return nil, err
	}

	if err := s.repo.UpdateStatus(ctx, a, expected); err != nil {
		return nil, err
	}

	s.auditSvc.LogAsync(ctx, AuditEntry{
		UserID:       actorID,
		Action:       string(domain.ActionUpdate),
		ResourceType: "appointment",
		ResourceID:   a.ID.String(),
		IPAddress:    ip,
		Changes:      fmt.Sprintf(`{"status":%q}`, a.Status),
	})

	return a, nil
}

// CancelAppointment is the only path into the cancelled state. It
// atomically populates the cancellation field group alongside the status
// change.
func (s *AppointmentService) CancelAppointment(ctx context.Context, id uuid.UUID, cmd *appointment.CancelAppointmentCommand, ip string) (*appointment.Appointment, error) {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if !a.IsParty(cmd.CancelledBy) {
		return nil, ErrForbidden
	}

	expected := a.Status
	if err := a.Cancel(cmd.CancelledBy, cmd.Reason, cmd.Notes, s.now()); err != nil {
		return nil, err
	}

	if err := s.repo.UpdateStatus(ctx, a, expected); err != nil {
		return nil, err
	}

	s.log.Info("appointment cancelled",
		zap.String("appointment_id", a.ID.String()),
		zap.String("cancelled_by", cmd.CancelledBy.String()),
		zap.String("reason", string(cmd.Reason)),
	)

	s.auditSvc.LogAsync(ctx, AuditEntry{
		UserID:       cmd.CancelledBy,
		Action:       string(domain.ActionCancel),
		ResourceType: "appointment",
		ResourceID:   a.ID.String(),
		IPAddress:    ip,
		Changes:      fmt.Sprintf(`{"status":"cancelled","reason":%q}`, cmd.Reason),
	})

	return a, nil
}

// RescheduleAppointment moves an appointment to a new interval,
// re-checking both parties with the appointment itself excluded from
// the overlap scan. Only scheduled or confirmed appointments may move.
func (s *AppointmentService) RescheduleAppointment(ctx context.Context, id uuid.UUID, cmd *appointment.RescheduleAppointmentCommand, ip string) (*appointment.Appointment, error) {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if !a.IsParty(cmd.RequestedBy) {
		return nil, ErrForbidden
	}

	if a.Status != appointment.StatusScheduled && a.Status != appointment.StatusConfirmed {
		return nil, appointment.ErrInvalidStatusTransition
	}

	if err := s.validateInterval(cmd.Start, cmd.End); err != nil {
		return nil, err
	}

	if err := s.repo.RescheduleIfAvailable(ctx, a, cmd.Start, cmd.End); err != nil {
		return nil, err
	}

	s.auditSvc.LogAsync(ctx, AuditEntry{
		UserID:       cmd.RequestedBy,
		Action:       string(domain.ActionReschedule),
		ResourceType: "appointment",
		ResourceID:   a.ID.String(),
		IPAddress:    ip,
		Changes:      fmt.Sprintf(`{"scheduled_start":%q}`, cmd.Start.Format(time.RFC3339)),
	})

	return a, nil
}

// DeleteAppointment tombstones an appointment. Admin only; the row
// vanishes from every read and conflict check but is never physically
// removed.
func (s *AppointmentService) DeleteAppointment(ctx context.Context, id uuid.UUID, actorID uuid.UUID, actorRole domain.Role, ip string) error {
	if actorRole != domain.RoleAdmin {
		return ErrForbidden
	}

	if err := s.repo.SoftDelete(ctx, id); err != nil {
		return err
	}

	s.auditSvc.LogAsync(ctx, AuditEntry{
		UserID:       actorID,
		UserRole:     string(actorRole),
		Action:       string(domain.ActionDelete),
		ResourceType: "appointment",
		ResourceID:   id.String(),
		IPAddress:    ip,
	})
	return nil
}

// GetDoctorAvailability walks the working-day slot grid for the given
// date and flags each slot through the overlap checker. A trailing slot
// that would not fit fully inside the window is dropped, not truncated.
func (s *AppointmentService) GetDoctorAvailability(ctx context.Context, doctorID uuid.UUID, date time.Time, slotMinutes int) ([]appointment.Slot, error) {
	if _, err := s.requireParty(ctx, doctorID, domain.RoleDoctor); err != nil {
		return nil, err
	}

	if slotMinutes <= 0 {
		return nil, appointment.ErrInvalidSlotDuration
	}

	loc := date.Location()
	dayStart := time.Date(date.Year(), date.Month(), date.Day(), s.sched.WorkingDayStartHour, 0, 0, 0, loc)
	dayEnd := time.Date(date.Year(), date.Month(), date.Day(), s.sched.WorkingDayEndHour, 0, 0, 0, loc)
	slotDur := time.Duration(slotMinutes) * time.Minute

	var slots []appointment.Slot
	for start := dayStart; !start.Add(slotDur).After(dayEnd); start = start.Add(slotDur) {
		end := start.Add(slotDur)
		free, err := s.repo.IsAvailable(ctx, doctorID, start, end, nil)
		if err != nil {
			return nil, err
		}
		slots = append(slots, appointment.Slot{Start: start, End: end, Available: free})
	}
	return slots, nil
}
