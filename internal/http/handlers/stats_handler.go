// README: Admin view of notification delivery counters.
package handlers

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

// DeliveryTotals reports lifetime notification outcomes; notify.RedisStats implements it.
type DeliveryTotals interface {
	Totals(ctx context.Context) (delivered, failed int64, err error)
}

type StatsHandler struct {
	deliveries DeliveryTotals
}

// NewStatsHandler accepts a nil source when no counter backend is configured.
func NewStatsHandler(deliveries DeliveryTotals) *StatsHandler {
	return &StatsHandler{deliveries: deliveries}
}

func (h *StatsHandler) Notifications(c *gin.Context) {
	if h.deliveries == nil {
		writeJSON(c, http.StatusOK, gin.H{"tracked": false, "delivered": 0, "failed": 0})
		return
	}
	delivered, failed, err := h.deliveries.Totals(c.Request.Context())
	if err != nil {
		writeAppError(c, fmt.Errorf("reading delivery counters: %w", err))
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"tracked": true, "delivered": delivered, "failed": failed})
}
