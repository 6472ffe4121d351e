// README: Trip handlers: create and dispatch, listing, accept, status, rating.
package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"ridematch/internal/http/middleware"
	"ridematch/internal/modules/dispatch"
	"ridematch/internal/modules/rating"
	"ridematch/internal/modules/trip"
)

type TripHandler struct {
	dispatch *dispatch.Service
	trips    *trip.Service
	rating   *rating.Service
}

func NewTripHandler(dispatchSvc *dispatch.Service, tripSvc *trip.Service, ratingSvc *rating.Service) *TripHandler {
	return &TripHandler{dispatch: dispatchSvc, trips: tripSvc, rating: ratingSvc}
}

type statusReq struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

func (h *TripHandler) Create(c *gin.Context) {
	var req dispatch.CreateTripCommand
	if !bindJSON(c, &req) {
		return
	}
	res, err := h.dispatch.CreateTrip(c.Request.Context(), middleware.CallerIdentity(c), req)
	if err != nil {
		writeAppError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, res)
}

func (h *TripHandler) ListActive(c *gin.Context) {
	trips, err := h.dispatch.ListActive(c.Request.Context(), middleware.CallerIdentity(c))
	if err != nil {
		writeAppError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"trips": trips})
}

func (h *TripHandler) History(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	trips, err := h.trips.History(c.Request.Context(), middleware.CallerIdentity(c), limit)
	if err != nil {
		writeAppError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"trips": trips})
}

func (h *TripHandler) Get(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	t, err := h.trips.Get(c.Request.Context(), middleware.CallerIdentity(c), id)
	if err != nil {
		writeAppError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"trip": t})
}

func (h *TripHandler) Dispatch(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	rec, err := h.dispatch.DispatchInfo(c.Request.Context(), middleware.CallerIdentity(c), id)
	if err != nil {
		writeAppError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, rec)
}

// Accept is the atomic claim; losers get 404 and should drop the trip from their list.
func (h *TripHandler) Accept(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	t, err := h.trips.Accept(c.Request.Context(), middleware.CallerIdentity(c), id)
	if err != nil {
		writeAppError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"trip": t})
}

func (h *TripHandler) UpdateStatus(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req statusReq
	if !bindJSON(c, &req) {
		return
	}
	t, err := h.trips.UpdateStatus(c.Request.Context(), middleware.CallerIdentity(c), id, trip.StatusCommand{
		Status: trip.Status(req.Status),
		Reason: req.Reason,
	})
	if err != nil {
		writeAppError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"trip": t})
}

func (h *TripHandler) Rate(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req rating.RateCommand
	if !bindJSON(c, &req) {
		return
	}
	t, err := h.rating.Rate(c.Request.Context(), middleware.CallerIdentity(c), id, req)
	if err != nil {
		writeAppError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"trip": t})
}
