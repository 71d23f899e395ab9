package appointment

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"careflow/internal/domain"
)

// State transition possibilities:
//
//	scheduled → confirmed → in_progress → completed
//	scheduled → cancelled
//	confirmed → cancelled | no_show (if patient doesn't arrive)
//	in_progress → cancelled
//
// completed and cancelled reject every transition, including to
// themselves. no_show accepts only the redundant no_show → no_show.
type AppointmentStatus string

const (
	StatusScheduled  AppointmentStatus = "scheduled"
	StatusConfirmed  AppointmentStatus = "confirmed"
	StatusInProgress AppointmentStatus = "in_progress"
	StatusCompleted  AppointmentStatus = "completed"
	StatusCancelled  AppointmentStatus = "cancelled"
	StatusNoShow     AppointmentStatus = "no_show"
)

func (s AppointmentStatus) IsValid() bool {
	switch s {
	case StatusScheduled, StatusConfirmed, StatusInProgress, StatusCompleted, StatusCancelled, StatusNoShow:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition leaves this status.
func (s AppointmentStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusNoShow:
		return true
	}
	return false
}

type CancellationReason string

const (
	CancelPatientRequest    CancellationReason = "patient_request"
	CancelDoctorUnavailable CancellationReason = "doctor_unavailable"
	CancelRescheduled       CancellationReason = "rescheduled"
	CancelEmergency         CancellationReason = "emergency"
	CancelOther             CancellationReason = "other"
)

func (r CancellationReason) IsValid() bool {
	switch r {
	case CancelPatientRequest, CancelDoctorUnavailable, CancelRescheduled, CancelEmergency, CancelOther:
		return true
	}
	return false
}

const (
	MinDuration     = 15 * time.Minute
	MaxDuration     = 4 * time.Hour
	MaxReasonLength = 500
)

type Appointment struct {
	ID        uuid.UUID  `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	CreatedAt time.Time  `gorm:"autoCreateTime;index"`
	UpdatedAt time.Time  `gorm:"autoUpdateTime"`
	DeletedAt *time.Time `gorm:"index"`

	PatientID uuid.UUID `gorm:"column:patient_id;type:uuid;not null;index"`
	DoctorID  uuid.UUID `gorm:"column:doctor_id;type:uuid;not null;index"`

	ScheduledStart time.Time         `gorm:"column:scheduled_start;not null;index"`
	ScheduledEnd   time.Time         `gorm:"column:scheduled_end;not null"`
	Status         AppointmentStatus `gorm:"column:status;type:varchar(30);not null;default:'scheduled';index"`

	Reason string `gorm:"column:reason;type:varchar(500);not null"`
	Notes  string `gorm:"column:notes;type:text"`

	// Cancellation field group: all set together iff Status is cancelled.
	CancelledAt        *time.Time          `gorm:"column:cancelled_at"`
	CancelledBy        *uuid.UUID          `gorm:"column:cancelled_by;type:uuid"`
	CancellationReason *CancellationReason `gorm:"column:cancellation_reason;type:varchar(30)"`
	CancellationNotes  string              `gorm:"column:cancellation_notes;type:text"`

	// Set iff Status is completed.
	CompletedAt *time.Time `gorm:"column:completed_at"`

	CreatedBy uuid.UUID `gorm:"column:created_by;type:uuid;not null"`
}

func (Appointment) TableName() string {
	return "scheduling.appointments"
}

func (a *Appointment) Duration() time.Duration {
	return a.ScheduledEnd.Sub(a.ScheduledStart)
}

// IsParty reports whether the given user is the patient or the doctor on
// this appointment.
func (a *Appointment) IsParty(userID uuid.UUID) bool {
	return userID == a.PatientID || userID == a.DoctorID
}

// IsActive reports whether this appointment blocks its time slot:
// not soft-deleted and not in a status that frees the interval.
func (a *Appointment) IsActive() bool {
	return a.DeletedAt == nil && a.Status != StatusCancelled && a.Status != StatusNoShow
}

// Overlaps applies the half-open interval rule: [s1,e1) and [s2,e2)
// overlap iff s1 < e2 && s2 < e1. An appointment ending exactly when
// another starts does not conflict.
func (a *Appointment) Overlaps(start, end time.Time) bool {
	return a.ScheduledStart.Before(end) && start.Before(a.ScheduledEnd)
}

func (a *Appointment) CanTransitionTo(newStatus AppointmentStatus) bool {
	allowed := map[AppointmentStatus][]AppointmentStatus{
		StatusScheduled:  {StatusConfirmed, StatusCancelled},
		StatusConfirmed:  {StatusInProgress, StatusNoShow, StatusCancelled},
		StatusInProgress: {StatusCompleted, StatusCancelled},
		StatusCompleted:  {},
		StatusCancelled:  {},
		StatusNoShow:     {StatusNoShow},
	}

	for _, s := range allowed[a.Status] {
		if s == newStatus {
			return true
		}
	}
	return false
}

// TransitionTo applies a status change requested through the transition
// engine. Cancellation is rejected here: it carries its own field group
// and must go through Cancel.
func (a *Appointment) TransitionTo(target AppointmentStatus, now time.Time) error {
	if !target.IsValid() {
		return ErrInvalidStatus
	}
	if target == StatusCancelled {
		return ErrCancelViaStatusUpdate
	}
	if !a.CanTransitionTo(target) {
		return ErrInvalidStatusTransition
	}

	a.Status = target
	if target == StatusCompleted {
		a.CompletedAt = &now
	}
	return nil
}

// Cancel moves the appointment to cancelled and populates the whole
// cancellation field group in one step.
func (a *Appointment) Cancel(cancelledBy uuid.UUID, reason CancellationReason, notes string, now time.Time) error {
	if !reason.IsValid() {
		return ErrInvalidCancellationReason
	}
	if !a.CanTransitionTo(StatusCancelled) {
		return ErrInvalidStatusTransition
	}

	a.Status = StatusCancelled
	a.CancelledAt = &now
	a.CancelledBy = &cancelledBy
	a.CancellationReason = &reason
	a.CancellationNotes = strings.TrimSpace(notes)
	return nil
}

type CreateAppointmentCommand struct {
	PatientID uuid.UUID
	DoctorID  uuid.UUID
	Start     time.Time
	End       time.Time
	Reason    string
	Notes     string
	CreatedBy uuid.UUID
}

type CancelAppointmentCommand struct {
	Reason      CancellationReason
	Notes       string
	CancelledBy uuid.UUID
}

type RescheduleAppointmentCommand struct {
	Start       time.Time
	End         time.Time
	RequestedBy uuid.UUID
}

type ListAppointmentsQuery struct {
	PartyID uuid.UUID
	Role    domain.Role
	From    *time.Time
	To      *time.Time
	Status  *AppointmentStatus
	Limit   int
}

// Slot is one cell of a doctor's daily availability grid.
type Slot struct {
	Start     time.Time `json:"slot_start"`
	End       time.Time `json:"slot_end"`
	Available bool      `json:"is_available"`
}
