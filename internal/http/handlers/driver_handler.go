// README: Driver handlers for location, availability and admin verification.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"ridematch/internal/http/middleware"
	"ridematch/internal/modules/location"
	"ridematch/internal/types"
)

type DriverHandler struct {
	location *location.Service
}

func NewDriverHandler(svc *location.Service) *DriverHandler {
	return &DriverHandler{location: svc}
}

type availabilityReq struct {
	Available *bool `json:"is_available" binding:"required"`
}

type verificationReq struct {
	Status string `json:"status" binding:"required"`
}

func (h *DriverHandler) UpdateLocation(c *gin.Context) {
	var req types.Point
	if !bindJSON(c, &req) {
		return
	}
	d, err := h.location.UpdateLocation(c.Request.Context(), middleware.CallerIdentity(c), req)
	if err != nil {
		writeAppError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"driver": d})
}

func (h *DriverHandler) SetAvailability(c *gin.Context) {
	var req availabilityReq
	if !bindJSON(c, &req) {
		return
	}
	d, err := h.location.SetAvailability(c.Request.Context(), middleware.CallerIdentity(c), *req.Available)
	if err != nil {
		writeAppError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"driver": d})
}

func (h *DriverHandler) SetVerification(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req verificationReq
	if !bindJSON(c, &req) {
		return
	}
	d, err := h.location.SetVerification(c.Request.Context(), middleware.CallerIdentity(c), id, location.Verification(req.Status))
	if err != nil {
		writeAppError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"driver": d})
}
