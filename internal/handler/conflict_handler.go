package handler

import (
	"encoding/json"
	"net/http"
	"strings"

	"calsync-agent/internal/domain"
	"calsync-agent/internal/service"
	"calsync-agent/pkg/response"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
)

type ConflictHandler struct {
	orchestrator *service.OrchestratorService
	validate     *validator.Validate
}

func NewConflictHandler(orchestrator *service.OrchestratorService) *ConflictHandler {
	return &ConflictHandler{
		orchestrator: orchestrator,
		validate:     validator.New(),
	}
}

func (h *ConflictHandler) List(w http.ResponseWriter, r *http.Request) {
	response.Success(w, h.orchestrator.Status().PendingConflicts)
}

func (h *ConflictHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	conflictID := mux.Vars(r)["id"]
	if conflictID == "" {
		response.BadRequest(w, "conflict id is required")
		return
	}

	var req domain.ResolveConflictRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}

	if err := h.validate.Struct(req); err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	if err := h.orchestrator.ResolvePending(conflictID, req.Strategy); err != nil {
		if strings.Contains(err.Error(), "not found") {
			response.NotFound(w, err.Error())
			return
		}
		response.InternalError(w, err.Error())
		return
	}

	response.Success(w, map[string]string{"resolved": conflictID})
}
