// README: HTTP router registration.
package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"dispatchd/internal/http/handlers"
	"dispatchd/internal/http/middleware"
)

func (s *Server) Routes() http.Handler {
	r := gin.New()
	r.Use(middleware.Recovery(s.deps.Log), middleware.Logging(s.deps.Log, s.deps.Metrics))

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{})))

	api := r.Group("/api", middleware.Auth(s.deps.Verifier, s.deps.AdminToken))

	reservationHandler := handlers.NewReservationHandler(s.deps.Reservations)
	api.POST("/reservations/:id/complete", reservationHandler.Complete)
	api.POST("/reservations/:id/cancel", middleware.RequireAdmin(), reservationHandler.Cancel)

	adminHandler := handlers.NewAdminHandler(s.deps.Assigner, s.deps.Recoverer, s.deps.Sweeper, s.deps.Reconciler)
	admin := api.Group("/admin", middleware.RequireAdmin())
	admin.POST("/reservations/:id/assign", adminHandler.Assign)
	admin.POST("/credits/recover", adminHandler.RecoverCredits)
	admin.POST("/jobs/reassign", adminHandler.RunReassign)
	admin.POST("/jobs/reconcile", adminHandler.RunReconcile)

	return r
}
