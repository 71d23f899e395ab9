package v1

import (
	"github.com/gin-gonic/gin"
)

// RegisterRoutes wires the v1 API surface. authMW must be the bearer
// middleware; every route except auth and health requires it.
func RegisterRoutes(r *gin.Engine, appts *AppointmentHandler, authH *AuthHandler, authMW gin.HandlerFunc) {
	api := r.Group("/api/v1")

	authGroup := api.Group("/auth")
	{
		authGroup.POST("/register", authH.Register)
		authGroup.POST("/login", authH.Login)
		authGroup.POST("/refresh", authH.Refresh)
	}

	protected := api.Group("")
	protected.Use(authMW)
	{
		protected.POST("/appointments", appts.Create)
		protected.GET("/appointments", appts.List)
		protected.GET("/appointments/upcoming", appts.Upcoming)
		protected.GET("/appointments/:id", appts.Get)
		protected.PATCH("/appointments/:id/status", appts.UpdateStatus)
		protected.POST("/appointments/:id/cancel", appts.Cancel)
		protected.PATCH("/appointments/:id/schedule", appts.Reschedule)
		protected.DELETE("/appointments/:id", appts.Delete)

		protected.GET("/doctors/:id/availability", appts.DoctorAvailability)
	}
}
