// README: HTTP router registration.
package http

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"ridematch/internal/http/handlers"
	"ridematch/internal/http/middleware"
	"ridematch/internal/infra"
	"ridematch/internal/modules/dispatch"
	"ridematch/internal/modules/location"
	"ridematch/internal/modules/offer"
	"ridematch/internal/modules/payment"
	"ridematch/internal/modules/rating"
	"ridematch/internal/modules/trip"
	"ridematch/internal/modules/wallet"
	"ridematch/internal/types"
)

type Deps struct {
	Dispatch *dispatch.Service
	Trips    *trip.Service
	Rating   *rating.Service
	Offers   *offer.Service
	Location *location.Service
	Payments *payment.Service
	Wallets  *wallet.Service
	Verifier infra.TokenVerifier
	Logger   *slog.Logger

	// Deliveries is optional; without it the stats route reports tracked=false.
	Deliveries handlers.DeliveryTotals
}

func NewRouter(deps Deps) *gin.Engine {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r := gin.New()
	r.Use(middleware.Logging(logger), middleware.Recovery(logger))

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})

	paymentHandler := handlers.NewPaymentHandler(deps.Payments, deps.Wallets)
	// signed by the provider, not by a user token
	r.POST("/payments/callback", paymentHandler.Callback)

	api := r.Group("/", middleware.Auth(deps.Verifier))
	passenger := middleware.RequireRole(types.RolePassenger)
	driver := middleware.RequireRole(types.RoleDriver)
	admin := middleware.RequireRole(types.RoleAdmin)

	tripHandler := handlers.NewTripHandler(deps.Dispatch, deps.Trips, deps.Rating)
	api.POST("/trips", passenger, tripHandler.Create)
	api.GET("/trips/active", driver, tripHandler.ListActive)
	api.GET("/trips/history", tripHandler.History)
	api.GET("/trips/:id", tripHandler.Get)
	api.GET("/trips/:id/dispatch", tripHandler.Dispatch)
	api.PUT("/trips/:id/accept", driver, tripHandler.Accept)
	api.PUT("/trips/:id/status", tripHandler.UpdateStatus)
	api.PUT("/trips/:id/rate", tripHandler.Rate)

	offerHandler := handlers.NewOfferHandler(deps.Offers)
	api.POST("/trips/:id/offers", driver, offerHandler.Propose)
	api.GET("/trips/:id/offers", passenger, offerHandler.List)
	api.PUT("/trips/:id/offers/:driver_id/accept", passenger, offerHandler.Accept)

	driverHandler := handlers.NewDriverHandler(deps.Location)
	api.PUT("/drivers/me/location", driver, driverHandler.UpdateLocation)
	api.PUT("/drivers/me/availability", driver, driverHandler.SetAvailability)

	api.POST("/payments/process", passenger, paymentHandler.Process)
	api.GET("/payments/wallet", driver, paymentHandler.Wallet)
	api.GET("/payments/wallet/statement", driver, paymentHandler.Statement)
	api.POST("/payments/wallet/withdraw", driver, paymentHandler.Withdraw)
	api.GET("/payments/payouts", driver, paymentHandler.Payouts)

	api.PUT("/admin/payouts/:id", admin, paymentHandler.ResolvePayout)
	api.PUT("/admin/drivers/:id/verification", admin, driverHandler.SetVerification)

	statsHandler := handlers.NewStatsHandler(deps.Deliveries)
	api.GET("/admin/stats/notifications", admin, statsHandler.Notifications)

	return r
}
