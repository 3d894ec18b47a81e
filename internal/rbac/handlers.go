// Palisade - Access Control Core
// Copyright 2026 Palisade Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/palisade-server/palisade

package rbac

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"

	"github.com/palisade-server/palisade/internal/apperror"
	"github.com/palisade-server/palisade/internal/auth"
)

// Handlers exposes the administrative policy surface. Every endpoint is
// itself authorized through CheckAccess against the "policies" resource, so
// policy administration obeys the same rules it manages.
type Handlers struct {
	service  *Service
	validate *validator.Validate
}

// NewHandlers creates the policy admin handlers.
func NewHandlers(service *Service) *Handlers {
	return &Handlers{
		service:  service,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// RuleRequest is the body for adding or removing an allow tuple.
type RuleRequest struct {
	Subject  string `json:"subject" validate:"required,max=255"`
	Resource string `json:"resource" validate:"required,max=255"`
	Action   string `json:"action" validate:"required,max=255"`
}

// InheritanceRequest is the body for adding a role inheritance edge.
type InheritanceRequest struct {
	Child  string `json:"child" validate:"required,max=255"`
	Parent string `json:"parent" validate:"required,max=255"`
}

// PolicyListResponse is the body returned by ListRules.
type PolicyListResponse struct {
	Rules         [][]string `json:"rules"`
	GroupingRules [][]string `json:"grouping_rules"`
	Success       bool       `json:"success"`
}

type mutationResponse struct {
	Changed bool `json:"changed"`
	Success bool `json:"success"`
}

// authorize gates an admin endpoint on the caller's roles.
func (h *Handlers) authorize(r *http.Request, action string) error {
	identity, ok := auth.IdentityFrom(r.Context())
	if !ok {
		return apperror.ErrUnauthorized
	}
	return h.service.CheckAccessAs(r.Context(), identity.ID, identity.Roles, "policies", action)
}

// ListRules handles GET /api/v1/policies.
func (h *Handlers) ListRules(w http.ResponseWriter, r *http.Request) {
	if err := h.authorize(r, "read"); err != nil {
		apperror.WriteJSON(w, err)
		return
	}

	writeJSON(w, http.StatusOK, PolicyListResponse{
		Rules:         h.service.Rules(),
		GroupingRules: h.service.GroupingRules(),
		Success:       true,
	})
}

// AddRule handles POST /api/v1/policies.
func (h *Handlers) AddRule(w http.ResponseWriter, r *http.Request) {
	if err := h.authorize(r, "write"); err != nil {
		apperror.WriteJSON(w, err)
		return
	}

	var req RuleRequest
	if err := h.decode(r, &req); err != nil {
		apperror.WriteJSON(w, err)
		return
	}

	added, err := h.service.AddRule(r.Context(), req.Subject, req.Resource, req.Action)
	if err != nil {
		apperror.WriteJSON(w, err)
		return
	}

	status := http.StatusCreated
	if !added {
		status = http.StatusOK
	}
	writeJSON(w, status, mutationResponse{Changed: added, Success: true})
}

// RemoveRule handles DELETE /api/v1/policies.
func (h *Handlers) RemoveRule(w http.ResponseWriter, r *http.Request) {
	if err := h.authorize(r, "write"); err != nil {
		apperror.WriteJSON(w, err)
		return
	}

	var req RuleRequest
	if err := h.decode(r, &req); err != nil {
		apperror.WriteJSON(w, err)
		return
	}

	removed, err := h.service.RemoveRule(r.Context(), req.Subject, req.Resource, req.Action)
	if err != nil {
		apperror.WriteJSON(w, err)
		return
	}
	if !removed {
		apperror.WriteJSON(w, apperror.New(apperror.KindNotFound, "policy rule not found"))
		return
	}
	writeJSON(w, http.StatusOK, mutationResponse{Changed: true, Success: true})
}

// AddInheritance handles POST /api/v1/policies/roles.
func (h *Handlers) AddInheritance(w http.ResponseWriter, r *http.Request) {
	if err := h.authorize(r, "write"); err != nil {
		apperror.WriteJSON(w, err)
		return
	}

	var req InheritanceRequest
	if err := h.decode(r, &req); err != nil {
		apperror.WriteJSON(w, err)
		return
	}

	added, err := h.service.AddRoleInheritance(r.Context(), req.Child, req.Parent)
	if err != nil {
		apperror.WriteJSON(w, err)
		return
	}

	status := http.StatusCreated
	if !added {
		status = http.StatusOK
	}
	writeJSON(w, status, mutationResponse{Changed: added, Success: true})
}

// Reload handles POST /api/v1/policies/reload.
func (h *Handlers) Reload(w http.ResponseWriter, r *http.Request) {
	if err := h.authorize(r, "write"); err != nil {
		apperror.WriteJSON(w, err)
		return
	}

	if err := h.service.Reload(r.Context()); err != nil {
		apperror.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, mutationResponse{Changed: true, Success: true})
}

func (h *Handlers) decode(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return apperror.Wrap(apperror.KindValidation, err)
	}
	if err := h.validate.Struct(dst); err != nil {
		return apperror.Wrap(apperror.KindValidation, err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
