package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"

	"careflow/internal/domain"
)

type Repository interface {
	// CreateIfAvailable persists a new appointment only if both parties
	// are free for its interval. The availability check and the insert
	// run as one serialized unit so that two concurrent bookings for an
	// overlapping interval cannot both succeed. Returns
	// ErrDoctorUnavailable or ErrPatientUnavailable on conflict.
	CreateIfAvailable(ctx context.Context, a *Appointment) error

	// GetByID returns ErrAppointmentNotFound for missing or soft-deleted
	// rows.
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)

	// UpdateStatus writes the status and its terminal field group,
	// guarded by the expected current status. If the row moved away from
	// expected concurrently, ErrInvalidStatusTransition is returned and
	// nothing is written.
	UpdateStatus(ctx context.Context, a *Appointment, expected AppointmentStatus) error

	// RescheduleIfAvailable moves an appointment's interval, re-checking
	// both parties with the appointment itself excluded, under the same
	// serialization as CreateIfAvailable.
	RescheduleIfAvailable(ctx context.Context, a *Appointment, newStart, newEnd time.Time) error

	// List returns a party's appointments ordered by scheduled_start.
	List(ctx context.Context, q *ListAppointmentsQuery) ([]*Appointment, error)

	// GetUpcoming returns a party's active appointments starting within
	// the given window, ordered by scheduled_start.
	GetUpcoming(ctx context.Context, partyID uuid.UUID, role domain.Role, within time.Duration) ([]*Appointment, error)

	// IsAvailable reports whether the party has no active appointment
	// overlapping [start, end). excludeID removes one appointment from
	// consideration, for re-checks during a reschedule.
	IsAvailable(ctx context.Context, partyID uuid.UUID, start, end time.Time, excludeID *uuid.UUID) (bool, error)

	// SoftDelete tombstones the row; it disappears from every read and
	// conflict check.
	SoftDelete(ctx context.Context, id uuid.UUID) error
}
