package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/bcnelson/stack-manager/internal/auth"
	"github.com/bcnelson/stack-manager/internal/domain"
	"github.com/bcnelson/stack-manager/internal/service"
)

// PipelineHandler handles the delivery pipeline endpoints of pipeline
// stacks.
type PipelineHandler struct {
	factory *service.Factory
}

// NewPipelineHandler creates a new PipelineHandler.
func NewPipelineHandler(factory *service.Factory) *PipelineHandler {
	return &PipelineHandler{factory: factory}
}

// States returns the action states of the stack's pipeline.
func (h *PipelineHandler) States(w http.ResponseWriter, r *http.Request) {
	pipelines := h.factory.Pipelines(*auth.CallerFromContext(r.Context()))
	states, err := pipelines.Get(r.Context(), chi.URLParam(r, "name"))
	respond(w, map[string]any{"states": states}, err)
}

// Approve answers the pending approval of the stack's pipeline.
func (h *PipelineHandler) Approve(w http.ResponseWriter, r *http.Request) {
	var req domain.ApprovalRequest
	if err := decodeJSON(r, &req); err != nil {
		Error(err).Write(w)
		return
	}

	pipelines := h.factory.Pipelines(*auth.CallerFromContext(r.Context()))
	result, err := pipelines.Approve(r.Context(), chi.URLParam(r, "name"), req)
	respond(w, result, err)
}
