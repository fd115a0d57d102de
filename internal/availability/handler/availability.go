package handler

import (
	"medislot/internal/availability/service"
	apperrors "medislot/pkg/errors"
	httputil "medislot/pkg/http"
	"medislot/pkg/logger"
	"medislot/pkg/middleware"
	"medislot/pkg/model"
	"net/http"

	"github.com/julienschmidt/httprouter"
)

type AvailabilityHandler struct {
	service service.AvailabilityService
	log     *logger.Logger
}

func NewAvailabilityHandler(service service.AvailabilityService, log *logger.Logger) *AvailabilityHandler {
	return &AvailabilityHandler{
		service: service,
		log:     log,
	}
}

func (h *AvailabilityHandler) Create(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	actor, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		h.writeError(w, "Create", apperrors.Unauthorized("Authentication required"))
		return
	}

	var rule model.AvailabilityRule
	if err := httputil.DecodeJSON(r, &rule); err != nil {
		h.writeError(w, "Create", err)
		return
	}
	rule.ProviderID = ps.ByName("provider_id")

	if err := h.service.Create(r.Context(), actor, &rule); err != nil {
		h.writeError(w, "Create", err)
		return
	}

	if err := httputil.WriteCreated(w, rule); err != nil {
		h.log.Error("failed to write created response", "handler", "Create", "operation", "WriteCreated", "error", err)
	}
}

func (h *AvailabilityHandler) List(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	includeInactive := r.URL.Query().Get("include_inactive") == "true"

	rules, err := h.service.List(r.Context(), ps.ByName("provider_id"), includeInactive)
	if err != nil {
		h.writeError(w, "List", err)
		return
	}

	if err := httputil.WriteSuccess(w, rules); err != nil {
		h.log.Error("failed to write success response", "handler", "List", "operation", "WriteSuccess", "error", err)
	}
}

func (h *AvailabilityHandler) Update(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	actor, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		h.writeError(w, "Update", apperrors.Unauthorized("Authentication required"))
		return
	}

	var updates model.AvailabilityRuleUpdate
	if err := httputil.DecodeJSON(r, &updates); err != nil {
		h.writeError(w, "Update", err)
		return
	}

	rule, err := h.service.Update(r.Context(), actor, ps.ByName("id"), &updates)
	if err != nil {
		h.writeError(w, "Update", err)
		return
	}

	if err := httputil.WriteSuccess(w, rule); err != nil {
		h.log.Error("failed to write success response", "handler", "Update", "operation", "WriteSuccess", "error", err)
	}
}

func (h *AvailabilityHandler) Activate(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	h.setActive(w, r, ps, true)
}

func (h *AvailabilityHandler) Deactivate(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	h.setActive(w, r, ps, false)
}

func (h *AvailabilityHandler) setActive(w http.ResponseWriter, r *http.Request, ps httprouter.Params, active bool) {
	actor, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		h.writeError(w, "SetActive", apperrors.Unauthorized("Authentication required"))
		return
	}

	if err := h.service.SetActive(r.Context(), actor, ps.ByName("id"), active); err != nil {
		h.writeError(w, "SetActive", err)
		return
	}

	httputil.WriteNoContent(w)
}

func (h *AvailabilityHandler) writeError(w http.ResponseWriter, handler string, err error) {
	if writeErr := httputil.WriteError(w, err); writeErr != nil {
		h.log.Error("failed to write error response", "handler", handler, "operation", "WriteError", "error", writeErr)
	}
}

func (h *AvailabilityHandler) RegisterRoutes(router *httprouter.Router) {
	router.POST("/api/v1/providers/:provider_id/availability", h.Create)
	router.GET("/api/v1/providers/:provider_id/availability", h.List)
	router.PATCH("/api/v1/availability/:id", h.Update)
	router.POST("/api/v1/availability/:id/activate", h.Activate)
	router.POST("/api/v1/availability/:id/deactivate", h.Deactivate)
}
