package handler

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/bcnelson/stack-manager/internal/auth"
	"github.com/bcnelson/stack-manager/internal/domain"
	"github.com/bcnelson/stack-manager/internal/service"
)

// StackHandler handles the stack endpoints of one kind.
type StackHandler struct {
	factory  *service.Factory
	kind     domain.Kind
	listName string
}

// NewStackHandler creates a handler for stacks of kind. Listings are
// returned under listName.
func NewStackHandler(factory *service.Factory, kind domain.Kind, listName string) *StackHandler {
	return &StackHandler{factory: factory, kind: kind, listName: listName}
}

func (h *StackHandler) manager(r *http.Request) *service.StackManager {
	return h.factory.Manager(*auth.CallerFromContext(r.Context()), h.kind)
}

// List lists the caller's stacks. The fields query parameter selects the
// returned fields as a comma separated list.
func (h *StackHandler) List(w http.ResponseWriter, r *http.Request) {
	var fields []string
	if f := r.URL.Query().Get("fields"); f != "" {
		for _, name := range strings.Split(f, ",") {
			if name = strings.TrimSpace(name); name != "" {
				fields = append(fields, name)
			}
		}
	}

	stacks, err := h.manager(r).List(r.Context(), fields)
	respond(w, map[string]any{h.listName: stacks}, err)
}

// Create creates a stack.
func (h *StackHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req domain.StackRequest
	if err := decodeJSON(r, &req); err != nil {
		Error(err).Write(w)
		return
	}

	stack, err := h.manager(r).Create(r.Context(), req)
	respond(w, stack, err)
}

// Get describes a stack.
func (h *StackHandler) Get(w http.ResponseWriter, r *http.Request) {
	stack, err := h.manager(r).Describe(r.Context(), chi.URLParam(r, "name"))
	respond(w, stack, err)
}

// Update updates a stack.
func (h *StackHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req domain.StackRequest
	if err := decodeJSON(r, &req); err != nil {
		Error(err).Write(w)
		return
	}

	stack, err := h.manager(r).Update(r.Context(), chi.URLParam(r, "name"), req)
	respond(w, stack, err)
}

// Delete deletes a stack.
func (h *StackHandler) Delete(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	err := h.manager(r).Delete(r.Context(), name)
	respond(w, map[string]string{"name": name, "status": "DELETE_IN_PROGRESS"}, err)
}

// Events returns the latest events of a stack of any kind.
func (h *StackHandler) Events(w http.ResponseWriter, r *http.Request) {
	events, err := h.manager(r).Events(r.Context(), chi.URLParam(r, "name"))
	respond(w, map[string]any{"events": events}, err)
}
