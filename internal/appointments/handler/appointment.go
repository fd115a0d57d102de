package handler

import (
	"medislot/internal/appointments/service"
	apperrors "medislot/pkg/errors"
	httputil "medislot/pkg/http"
	"medislot/pkg/logger"
	"medislot/pkg/middleware"
	"medislot/pkg/model"
	"net/http"

	"github.com/julienschmidt/httprouter"
)

type AppointmentHandler struct {
	service service.AppointmentService
	log     *logger.Logger
}

func NewAppointmentHandler(service service.AppointmentService, log *logger.Logger) *AppointmentHandler {
	return &AppointmentHandler{
		service: service,
		log:     log,
	}
}

func (h *AppointmentHandler) Slots(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	date := r.URL.Query().Get("date")
	if date == "" {
		h.writeError(w, "Slots", apperrors.InvalidInput("'date' query parameter is required"))
		return
	}

	duration, err := httputil.QueryInt(r, "duration", 0)
	if err != nil {
		h.writeError(w, "Slots", err)
		return
	}

	listing, err := h.service.AvailableSlots(r.Context(), ps.ByName("provider_id"), date, duration)
	if err != nil {
		h.writeError(w, "Slots", err)
		return
	}

	if err := httputil.WriteSuccess(w, listing); err != nil {
		h.log.Error("failed to write success response", "handler", "Slots", "operation", "WriteSuccess", "error", err)
	}
}

func (h *AppointmentHandler) Create(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	actor, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		h.writeError(w, "Create", apperrors.Unauthorized("Authentication required"))
		return
	}

	var req model.BookingRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		h.writeError(w, "Create", err)
		return
	}
	if req.PatientID == "" {
		req.PatientID = actor.ID
	}

	appointment, err := h.service.CreateBooking(r.Context(), actor, &req)
	if err != nil {
		h.writeError(w, "Create", err)
		return
	}
	h.service.AnnounceBooking(r.Context(), appointment)

	if err := httputil.WriteCreated(w, appointment); err != nil {
		h.log.Error("failed to write created response", "handler", "Create", "operation", "WriteCreated", "error", err)
	}
}

func (h *AppointmentHandler) GetByID(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	actor, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		h.writeError(w, "GetByID", apperrors.Unauthorized("Authentication required"))
		return
	}

	appointment, err := h.service.Get(r.Context(), actor, ps.ByName("id"))
	if err != nil {
		h.writeError(w, "GetByID", err)
		return
	}

	if err := httputil.WriteSuccess(w, appointment); err != nil {
		h.log.Error("failed to write success response", "handler", "GetByID", "operation", "WriteSuccess", "error", err)
	}
}

func (h *AppointmentHandler) List(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	actor, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		h.writeError(w, "List", apperrors.Unauthorized("Authentication required"))
		return
	}

	limit, offset, err := httputil.ExtractLimitOffset(r)
	if err != nil {
		h.writeError(w, "List", err)
		return
	}

	appointments, total, err := h.service.ListForActor(r.Context(), actor, limit, offset)
	if err != nil {
		h.writeError(w, "List", err)
		return
	}

	if err := httputil.WritePaginated(w, appointments, total, limit, offset); err != nil {
		h.log.Error("failed to write paginated response", "handler", "List", "operation", "WritePaginated", "error", err)
	}
}

func (h *AppointmentHandler) Cancel(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	actor, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		h.writeError(w, "Cancel", apperrors.Unauthorized("Authentication required"))
		return
	}

	appointment, err := h.service.Cancel(r.Context(), actor, ps.ByName("id"))
	if err != nil {
		h.writeError(w, "Cancel", err)
		return
	}

	if err := httputil.WriteSuccess(w, appointment); err != nil {
		h.log.Error("failed to write success response", "handler", "Cancel", "operation", "WriteSuccess", "error", err)
	}
}

func (h *AppointmentHandler) Waive(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	actor, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		h.writeError(w, "Waive", apperrors.Unauthorized("Authentication required"))
		return
	}

	appointment, err := h.service.Waive(r.Context(), actor, ps.ByName("id"))
	if err != nil {
		h.writeError(w, "Waive", err)
		return
	}

	if err := httputil.WriteSuccess(w, appointment); err != nil {
		h.log.Error("failed to write success response", "handler", "Waive", "operation", "WriteSuccess", "error", err)
	}
}

func (h *AppointmentHandler) Join(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	actor, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		h.writeError(w, "Join", apperrors.Unauthorized("Authentication required"))
		return
	}

	info, err := h.service.Join(r.Context(), actor, ps.ByName("id"))
	if err != nil {
		h.writeError(w, "Join", err)
		return
	}

	if err := httputil.WriteSuccess(w, info); err != nil {
		h.log.Error("failed to write success response", "handler", "Join", "operation", "WriteSuccess", "error", err)
	}
}

func (h *AppointmentHandler) writeError(w http.ResponseWriter, handler string, err error) {
	if writeErr := httputil.WriteError(w, err); writeErr != nil {
		h.log.Error("failed to write error response", "handler", handler, "operation", "WriteError", "error", writeErr)
	}
}

func (h *AppointmentHandler) RegisterRoutes(router *httprouter.Router) {
	router.GET("/api/v1/providers/:provider_id/slots", h.Slots)
	router.POST("/api/v1/appointments", h.Create)
	router.GET("/api/v1/appointments", h.List)
	router.GET("/api/v1/appointments/:id", h.GetByID)
	router.POST("/api/v1/appointments/:id/cancel", h.Cancel)
	router.POST("/api/v1/appointments/:id/waive", h.Waive)
	router.GET("/api/v1/appointments/:id/join", h.Join)
}
