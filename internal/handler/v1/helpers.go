package v1

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"careflow/internal/domain"
	"careflow/internal/domain/appointment"
	"careflow/internal/service"
)

type APIResponse[T any] struct {
	Data    T      `json:"data"`
	Message string `json:"message,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

type ValidationErrorResponse struct {
	Error  string   `json:"error"`
	Fields []string `json:"fields"`
}

func respondOK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, APIResponse[any]{Data: data})
}

func respondCreated(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, APIResponse[any]{Data: data})
}

func respondServiceError(c *gin.Context, err error) {
	var validErr *service.ValidationError
	if errors.As(err, &validErr) {
		c.JSON(http.StatusBadRequest, ValidationErrorResponse{
			Error:  "validation failed",
			Fields: validErr.Fields,
		})
		return
	}

	switch {
	case errors.Is(err, appointment.ErrAppointmentNotFound),
		errors.Is(err, domain.ErrUserNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error()})

	case errors.Is(err, appointment.ErrDoctorUnavailable),
		errors.Is(err, appointment.ErrPatientUnavailable),
		errors.Is(err, domain.ErrEmailAlreadyRegistered):
		c.JSON(http.StatusConflict, ErrorResponse{Error: err.Error()})

	case errors.Is(err, appointment.ErrInvalidTimeRange),
		errors.Is(err, appointment.ErrInvalidDuration),
		errors.Is(err, appointment.ErrScheduledInPast),
		errors.Is(err, appointment.ErrScheduledTooFarAhead),
		errors.Is(err, appointment.ErrReasonRequired),
		errors.Is(err, appointment.ErrReasonTooLong),
		errors.Is(err, appointment.ErrInvalidStatus),
		errors.Is(err, appointment.ErrInvalidStatusTransition),
		errors.Is(err, appointment.ErrCancelViaStatusUpdate),
		errors.Is(err, appointment.ErrInvalidCancellationReason),
		errors.Is(err, appointment.ErrInvalidSlotDuration),
		errors.Is(err, domain.ErrInvalidRole),
		errors.Is(err, service.ErrWeakPassword):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})

	case errors.Is(err, service.ErrForbidden):
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "access denied"})

	case errors.Is(err, service.ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "invalid credentials"})

	case errors.Is(err, service.ErrAccountInactive):
		c.JSON(http.StatusForbidden, ErrorResponse{Error: err.Error(), Code: "ACCOUNT_INACTIVE"})

	default:
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
	}
}

func bindJSON(c *gin.Context, obj any) bool {
	if err := c.ShouldBindJSON(obj); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request: " + err.Error()})
		return false
	}
	return true
}

func parseUUID(c *gin.Context, param string) (uuid.UUID, bool) {
	raw := c.Param(param)
	id, err := uuid.Parse(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid " + param + ": must be a valid UUID"})
		return uuid.Nil, false
	}
	return id, true
}

func parseQueryInt(c *gin.Context, key string, defaultVal int) int {
	if raw := c.Query(key); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			return v
		}
	}
	return defaultVal
}

// parseQueryDate reads a YYYY-MM-DD query parameter as a local-midnight
// timestamp.
func parseQueryDate(c *gin.Context, key string) (time.Time, bool, bool) {
	raw := c.Query(key)
	if raw == "" {
		return time.Time{}, false, true
	}
	t, err := time.ParseInLocation("2006-01-02", raw, time.Local)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid " + key + ": expected YYYY-MM-DD"})
		return time.Time{}, false, false
	}
	return t, true, true
}

// actor returns the authenticated caller set by the auth middleware.
// Every service call receives these explicitly; nothing below the
// handler layer reads ambient session state.
func actor(c *gin.Context) (uuid.UUID, domain.Role, bool) {
	claims, exists := c.Get("claims")
	if !exists {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "authentication required"})
		return uuid.Nil, "", false
	}
	cl, ok := claims.(*domain.Claims)
	if !ok {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return uuid.Nil, "", false
	}
	return cl.UserID, cl.Role, true
}
