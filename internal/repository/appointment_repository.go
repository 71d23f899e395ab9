package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"careflow/internal/domain"
	"careflow/internal/domain/appointment"
)

// Exclusion constraint names installed by pkg/database.Migrate. A writer
// that slips past the advisory locks still hits these at commit time.
const (
	doctorOverlapConstraint  = "appointments_doctor_no_overlap"
	patientOverlapConstraint = "appointments_patient_no_overlap"
)

type AppointmentRepository struct {
	db *gorm.DB
}

func NewAppointmentRepository(db *gorm.DB) *AppointmentRepository {
	return &AppointmentRepository{db: db}
}

var _ appointment.Repository = (*AppointmentRepository)(nil)

// blocking narrows a query to rows that occupy a time slot: not
// soft-deleted, status neither cancelled nor no_show.
func blocking(db *gorm.DB) *gorm.DB {
	return db.
		Where("deleted_at IS NULL").
		Where("status NOT IN ?", []appointment.AppointmentStatus{
			appointment.StatusCancelled,
			appointment.StatusNoShow,
		})
}

// lockParties takes per-party advisory transaction locks, in sorted key
// order so two bookings touching the same pair cannot deadlock. The
// locks serialize the availability check with the insert that follows.
func lockParties(tx *gorm.DB, ids ...uuid.UUID) error {
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = id.String()
	}
	sort.Strings(keys)

	for _, key := range keys {
		if err := tx.Exec("SELECT pg_advisory_xact_lock(hashtextextended(?, 0))", key).Error; err != nil {
			return fmt.Errorf("acquiring scheduling lock: %w", err)
		}
	}
	return nil
}

func isAvailableTx(tx *gorm.DB, partyID uuid.UUID, start, end time.Time, excludeID *uuid.UUID) (bool, error) {
	q := blocking(tx.Model(&appointment.Appointment{})).
		Where("(patient_id = ? OR doctor_id = ?)", partyID, partyID).
		Where("scheduled_start < ? AND ? < scheduled_end", end, start)

	if excludeID != nil {
		q = q.Where("id <> ?", *excludeID)
	}

	var count int64
	if err := q.Count(&count).Error; err != nil {
		return false, fmt.Errorf("counting overlapping appointments: %w", err)
	}
	return count == 0, nil
}

func (r *AppointmentRepository) CreateIfAvailable(ctx context.Context, a *appointment.Appointment) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockParties(tx, a.DoctorID, a.PatientID); err != nil {
			return err
		}

		// Doctor first, then patient: callers rely on this order being
		// deterministic.
		free, err := isAvailableTx(tx, a.DoctorID, a.ScheduledStart, a.ScheduledEnd, nil)
		if err != nil {
			return err
		}
		if !free {
			return appointment.ErrDoctorUnavailable
		}

		free, err = isAvailableTx(tx, a.PatientID, a.ScheduledStart, a.ScheduledEnd, nil)
		if err != nil {
			return err
		}
		if !free {
			return appointment.ErrPatientUnavailable
		}

		if err := tx.Create(a).Error; err != nil {
			return fmt.Errorf("creating appointment: %w", err)
		}
		return nil
	})

	return translateOverlapViolation(err)
}

func (r *AppointmentRepository) GetByID(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error) {
	var a appointment.Appointment
	err := r.db.WithContext(ctx).
		Where("id = ? AND deleted_at IS NULL", id).
		First(&a).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, appointment.ErrAppointmentNotFound
		}
		return nil, fmt.Errorf("fetching appointment: %w", err)
	}
	return &a, nil
}

func (r *AppointmentRepository) UpdateStatus(ctx context.Context, a *appointment.Appointment, expected appointment.AppointmentStatus) error {
	res := r.db.WithContext(ctx).
		Model(&appointment.Appointment{}).
		Where("id = ? AND deleted_at IS NULL AND status = ?", a.ID, expected).
		Updates(map[string]any{
			"status":              a.Status,
			"completed_at":        a.CompletedAt,
			"cancelled_at":        a.CancelledAt,
			"cancelled_by":        a.CancelledBy,
			"cancellation_reason": a.CancellationReason,
			"cancellation_notes":  a.CancellationNotes,
		})
	if res.Error != nil {
		return fmt.Errorf("updating appointment status: %w", res.Error)
	}

	if res.RowsAffected == 0 {
		// Either the row is gone or another writer moved the status
		// between our read and this write.
		if _, err := r.GetByID(ctx, a.ID); err != nil {
			return err
		}
		return appointment.ErrInvalidStatusTransition
	}
	return nil
}

func (r *AppointmentRepository) RescheduleIfAvailable(ctx context.Context, a *appointment.Appointment, newStart, newEnd time.Time) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockParties(tx, a.DoctorID, a.PatientID); err != nil {
			return err
		}

		free, err := isAvailableTx(tx, a.DoctorID, newStart, newEnd, &a.ID)
		if err != nil {
			return err
		}
		if !free {
			return appointment.ErrDoctorUnavailable
		}

		free, err = isAvailableTx(tx, a.PatientID, newStart, newEnd, &a.ID)
		if err != nil {
			return err
		}
		if !free {
			return appointment.ErrPatientUnavailable
		}

		res := tx.Model(&appointment.Appointment{}).
			Where("id = ? AND deleted_at IS NULL AND status = ?", a.ID, a.Status).
			Updates(map[string]any{
				"scheduled_start": newStart,
				"scheduled_end":   newEnd,
			})
		if res.Error != nil {
			return fmt.Errorf("rescheduling appointment: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return appointment.ErrInvalidStatusTransition
		}

		a.ScheduledStart = newStart
		a.ScheduledEnd = newEnd
		return nil
	})

	return translateOverlapViolation(err)
}

func (r *AppointmentRepository) List(ctx context.Context, q *appointment.ListAppointmentsQuery) ([]*appointment.Appointment, error) {
	db := r.db.WithContext(ctx).
		Model(&appointment.Appointment{}).
		Where("deleted_at IS NULL")

	switch q.Role {
	case domain.RolePatient:
		db = db.Where("patient_id = ?", q.PartyID)
	case domain.RoleDoctor:
		db = db.Where("doctor_id = ?", q.PartyID)
	default:
		return nil, domain.ErrInvalidRole
	}

	if q.From != nil {
		db = db.Where("scheduled_start >= ?", *q.From)
	}
	if q.To != nil {
		db = db.Where("scheduled_start < ?", *q.To)
	}
	if q.Status != nil {
		db = db.Where("status = ?", *q.Status)
	}

	limit := q.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	var out []*appointment.Appointment
	if err := db.Order("scheduled_start ASC").Limit(limit).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("listing appointments: %w", err)
	}
	return out, nil
}

func (r *AppointmentRepository) GetUpcoming(ctx context.Context, partyID uuid.UUID, role domain.Role, within time.Duration) ([]*appointment.Appointment, error) {
	now := time.Now()

	db := blocking(r.db.WithContext(ctx).Model(&appointment.Appointment{})).
		Where("scheduled_start >= ? AND scheduled_start < ?", now, now.Add(within))

	switch role {
	case domain.RolePatient:
		db = db.Where("patient_id = ?", partyID)
	case domain.RoleDoctor:
		db = db.Where("doctor_id = ?", partyID)
	default:
		return nil, domain.ErrInvalidRole
	}

	var out []*appointment.Appointment
	if err := db.Order("scheduled_start ASC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("listing upcoming appointments: %w", err)
	}
	return out, nil
}

func (r *AppointmentRepository) IsAvailable(ctx context.Context, partyID uuid.UUID, start, end time.Time, excludeID *uuid.UUID) (bool, error) {
	return isAvailableTx(r.db.WithContext(ctx), partyID, start, end, excludeID)
}

func (r *AppointmentRepository) SoftDelete(ctx context.Context, id uuid.UUID) error {
	res := r.db.WithContext(ctx).
		Model(&appointment.Appointment{}).
		Where("id = ? AND deleted_at IS NULL", id).
		Update("deleted_at", time.Now())
	if res.Error != nil {
		return fmt.Errorf("soft-deleting appointment: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return appointment.ErrAppointmentNotFound
	}
	return nil
}

func translateOverlapViolation(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, doctorOverlapConstraint):
		return appointment.ErrDoctorUnavailable
	case strings.Contains(msg, patientOverlapConstraint):
		return appointment.ErrPatientUnavailable
	}
	return err
}
