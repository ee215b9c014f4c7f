package handler

import (
	"net/http"

	"calsync-agent/internal/service"
	"calsync-agent/pkg/response"
)

type DeviceHandler struct {
	replication *service.ReplicationService
}

func NewDeviceHandler(replication *service.ReplicationService) *DeviceHandler {
	return &DeviceHandler{
		replication: replication,
	}
}

// List returns the devices currently online for this account, per the
// replica registry's staleness threshold.
func (h *DeviceHandler) List(w http.ResponseWriter, r *http.Request) {
	devices, err := h.replication.ListOnlineDevices()
	if err != nil {
		response.InternalError(w, "failed to list devices")
		return
	}

	response.Success(w, devices)
}
