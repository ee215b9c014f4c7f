package handler

import (
	"context"
	"errors"
	"log"
	"net/http"

	"calsync-agent/internal/adapter"
	"calsync-agent/internal/service"
	"calsync-agent/pkg/response"
)

type SyncHandler struct {
	orchestrator *service.OrchestratorService
}

func NewSyncHandler(orchestrator *service.OrchestratorService) *SyncHandler {
	return &SyncHandler{
		orchestrator: orchestrator,
	}
}

func (h *SyncHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	response.Success(w, h.orchestrator.Status())
}

// TriggerSync kicks off a cycle and returns immediately; progress is observed
// through the status endpoint.
func (h *SyncHandler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	if h.orchestrator.Status().IsSyncing {
		response.Conflict(w, service.ErrSyncInProgress.Error())
		return
	}

	go func() {
		err := h.orchestrator.SyncNow(context.Background(), adapter.DateRange{})
		if err != nil && !errors.Is(err, service.ErrSyncInProgress) {
			log.Printf("triggered sync failed: %v", err)
		}
	}()

	response.Accepted(w, map[string]string{"status": "sync started"})
}
