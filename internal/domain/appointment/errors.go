package appointment

import "errors"

var (
	ErrAppointmentNotFound       = errors.New("appointment not found")
	ErrDoctorUnavailable         = errors.New("doctor already has an appointment in this time slot")
	ErrPatientUnavailable        = errors.New("patient already has an appointment in this time slot")
	ErrInvalidStatusTransition   = errors.New("invalid appointment status transition")
	ErrInvalidStatus             = errors.New("invalid appointment status")
	ErrCancelViaStatusUpdate     = errors.New("cancellation must use the dedicated cancel operation")
	ErrInvalidCancellationReason = errors.New("invalid cancellation reason")
	ErrInvalidTimeRange          = errors.New("scheduled end must be after scheduled start")
	ErrInvalidDuration           = errors.New("appointment duration must be between 15 minutes and 4 hours")
	ErrScheduledInPast           = errors.New("cannot schedule appointment in the past")
	ErrScheduledTooFarAhead      = errors.New("cannot schedule appointment more than a year ahead")
	ErrReasonRequired            = errors.New("appointment reason is required")
	ErrReasonTooLong             = errors.New("appointment reason exceeds 500 characters")
	ErrInvalidSlotDuration       = errors.New("slot duration must be positive")
)
