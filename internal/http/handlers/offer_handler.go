// README: Offer handlers: drivers propose prices, passengers list and accept them.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"ridematch/internal/http/middleware"
	"ridematch/internal/modules/offer"
)

type OfferHandler struct {
	offers *offer.Service
}

func NewOfferHandler(svc *offer.Service) *OfferHandler {
	return &OfferHandler{offers: svc}
}

func (h *OfferHandler) Propose(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req offer.ProposeCommand
	if !bindJSON(c, &req) {
		return
	}
	o, err := h.offers.ProposeOffer(c.Request.Context(), middleware.CallerIdentity(c), id, req)
	if err != nil {
		writeAppError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, gin.H{"offer": o})
}

func (h *OfferHandler) List(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	offers, err := h.offers.ListOffers(c.Request.Context(), middleware.CallerIdentity(c), id)
	if err != nil {
		writeAppError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"offers": offers})
}

func (h *OfferHandler) Accept(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	driverID, ok := pathID(c, "driver_id")
	if !ok {
		return
	}
	t, err := h.offers.AcceptOffer(c.Request.Context(), middleware.CallerIdentity(c), id, driverID)
	if err != nil {
		writeAppError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"trip": t})
}
