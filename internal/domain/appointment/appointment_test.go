package appointment

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ts(hour, min int) time.Time {
	return time.Date(2026, 9, 14, hour, min, 0, 0, time.UTC)
}

func TestOverlaps_HalfOpenRule(t *testing.T) {
	a := &Appointment{ScheduledStart: ts(10, 0), ScheduledEnd: ts(10, 30)}

	tests := []struct {
		name       string
		start, end time.Time
		want       bool
	}{
		{"identical interval", ts(10, 0), ts(10, 30), true},
		{"contained", ts(10, 10), ts(10, 20), true},
		{"containing", ts(9, 0), ts(12, 0), true},
		{"overlapping head", ts(9, 45), ts(10, 15), true},
		{"overlapping tail", ts(10, 15), ts(10, 45), true},
		{"touching before does not conflict", ts(9, 30), ts(10, 0), false},
		{"touching after does not conflict", ts(10, 30), ts(11, 0), false},
		{"disjoint before", ts(8, 0), ts(9, 0), false},
		{"disjoint after", ts(11, 0), ts(12, 0), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, a.Overlaps(tt.start, tt.end))
		})
	}
}

// Every (current, target) pair is pinned down here; the service-level
// engine relies on this table being exhaustive.
func TestCanTransitionTo_FullMatrix(t *testing.T) {
	allStatuses := []AppointmentStatus{
		StatusScheduled, StatusConfirmed, StatusInProgress,
		StatusCompleted, StatusCancelled, StatusNoShow,
	}

	allowed := map[AppointmentStatus]map[AppointmentStatus]bool{
		StatusScheduled:  {StatusConfirmed: true, StatusCancelled: true},
		StatusConfirmed:  {StatusInProgress: true, StatusNoShow: true, StatusCancelled: true},
		StatusInProgress: {StatusCompleted: true, StatusCancelled: true},
		StatusCompleted:  {},
		StatusCancelled:  {},
		StatusNoShow:     {StatusNoShow: true},
	}

	for _, current := range allStatuses {
		for _, target := range allStatuses {
			a := &Appointment{Status: current}
			want := allowed[current][target]
			assert.Equalf(t, want, a.CanTransitionTo(target),
				"%s -> %s", current, target)
		}
	}
}

func TestTransitionTo(t *testing.T) {
	now := ts(12, 0)

	t.Run("completed stamps completed_at", func(t *testing.T) {
		a := &Appointment{Status: StatusInProgress}
		require.NoError(t, a.TransitionTo(StatusCompleted, now))
		assert.Equal(t, StatusCompleted, a.Status)
		require.NotNil(t, a.CompletedAt)
		assert.Equal(t, now, *a.CompletedAt)
	})

	t.Run("non-terminal transitions leave terminal fields unset", func(t *testing.T) {
		a := &Appointment{Status: StatusScheduled}
		require.NoError(t, a.TransitionTo(StatusConfirmed, now))
		assert.Equal(t, StatusConfirmed, a.Status)
		assert.Nil(t, a.CompletedAt)
		assert.Nil(t, a.CancelledAt)
	})

	t.Run("cancelled target is rejected", func(t *testing.T) {
		a := &Appointment{Status: StatusScheduled}
		assert.ErrorIs(t, a.TransitionTo(StatusCancelled, now), ErrCancelViaStatusUpdate)
		assert.Equal(t, StatusScheduled, a.Status)
	})

	t.Run("unknown status is rejected", func(t *testing.T) {
		a := &Appointment{Status: StatusScheduled}
		assert.ErrorIs(t, a.TransitionTo("archived", now), ErrInvalidStatus)
	})

	t.Run("scheduled cannot jump straight to completed", func(t *testing.T) {
		a := &Appointment{Status: StatusScheduled}
		assert.ErrorIs(t, a.TransitionTo(StatusCompleted, now), ErrInvalidStatusTransition)
		assert.Nil(t, a.CompletedAt)
	})

	t.Run("no_show to no_show is accepted", func(t *testing.T) {
		a := &Appointment{Status: StatusNoShow}
		require.NoError(t, a.TransitionTo(StatusNoShow, now))
		assert.Equal(t, StatusNoShow, a.Status)
	})
}

func TestCancel_FieldGroup(t *testing.T) {
	now := ts(12, 0)
	by := uuid.New()

	a := &Appointment{Status: StatusConfirmed}
	require.NoError(t, a.Cancel(by, CancelPatientRequest, "  feeling better  ", now))

	assert.Equal(t, StatusCancelled, a.Status)
	require.NotNil(t, a.CancelledAt)
	assert.Equal(t, now, *a.CancelledAt)
	require.NotNil(t, a.CancelledBy)
	assert.Equal(t, by, *a.CancelledBy)
	require.NotNil(t, a.CancellationReason)
	assert.Equal(t, CancelPatientRequest, *a.CancellationReason)
	assert.Equal(t, "feeling better", a.CancellationNotes)
}

func TestCancel_Rejections(t *testing.T) {
	now := ts(12, 0)
	by := uuid.New()

	t.Run("invalid reason", func(t *testing.T) {
		a := &Appointment{Status: StatusScheduled}
		assert.ErrorIs(t, a.Cancel(by, "changed_mind", "", now), ErrInvalidCancellationReason)
		assert.Equal(t, StatusScheduled, a.Status)
		assert.Nil(t, a.CancelledAt)
	})

	for _, terminal := range []AppointmentStatus{StatusCompleted, StatusCancelled, StatusNoShow} {
		t.Run("from "+string(terminal), func(t *testing.T) {
			a := &Appointment{Status: terminal}
			assert.ErrorIs(t, a.Cancel(by, CancelOther, "", now), ErrInvalidStatusTransition)
			assert.Equal(t, terminal, a.Status)
		})
	}
}

func TestIsActive(t *testing.T) {
	deleted := ts(8, 0)

	tests := []struct {
		name string
		a    Appointment
		want bool
	}{
		{"scheduled blocks", Appointment{Status: StatusScheduled}, true},
		{"confirmed blocks", Appointment{Status: StatusConfirmed}, true},
		{"in_progress blocks", Appointment{Status: StatusInProgress}, true},
		{"completed blocks", Appointment{Status: StatusCompleted}, true},
		{"cancelled frees the slot", Appointment{Status: StatusCancelled}, false},
		{"no_show frees the slot", Appointment{Status: StatusNoShow}, false},
		{"soft-deleted never blocks", Appointment{Status: StatusScheduled, DeletedAt: &deleted}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.a.IsActive())
		})
	}
}

func TestEnums(t *testing.T) {
	assert.True(t, StatusScheduled.IsValid())
	assert.False(t, AppointmentStatus("archived").IsValid())

	assert.True(t, StatusCompleted.IsTerminal())
	assert.True(t, StatusCancelled.IsTerminal())
	assert.True(t, StatusNoShow.IsTerminal())
	assert.False(t, StatusInProgress.IsTerminal())

	for _, r := range []CancellationReason{
		CancelPatientRequest, CancelDoctorUnavailable, CancelRescheduled, CancelEmergency, CancelOther,
	} {
		assert.True(t, r.IsValid())
	}
	assert.False(t, CancellationReason("changed_mind").IsValid())
}

func TestIsParty(t *testing.T) {
	patient, doctor, stranger := uuid.New(), uuid.New(), uuid.New()
	a := &Appointment{PatientID: patient, DoctorID: doctor}

	assert.True(t, a.IsParty(patient))
	assert.True(t, a.IsParty(doctor))
	assert.False(t, a.IsParty(stranger))
}
