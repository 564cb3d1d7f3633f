package api

import (
	"net/http"

	"github.com/netwatch-nms/netwatch/pkg/audit"
	"github.com/netwatch-nms/netwatch/pkg/model"
	"github.com/netwatch-nms/netwatch/pkg/util"
)

func (s *Server) handleDeviceList(w http.ResponseWriter, r *http.Request) {
	var (
		devices []model.Device
		err     error
	)
	if raw := r.URL.Query().Get("status"); raw != "" {
		status, perr := model.ParseDeviceStatus(raw)
		if perr != nil {
			respondError(w, perr)
			return
		}
		devices, err = s.store.Devices.ListForOwnerByStatus(r.Context(), owner(r), status)
	} else {
		devices, err = s.store.Devices.ListForOwner(r.Context(), owner(r))
	}
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, envelope{"devices": devices, "count": len(devices)})
}

func (s *Server) handleDeviceSearch(w http.ResponseWriter, r *http.Request) {
	term := r.URL.Query().Get("q")
	if term == "" {
		respondError(w, util.InvalidArgumentf("query parameter q is required"))
		return
	}

	devices, err := s.store.Devices.Search(r.Context(), owner(r), term)
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, envelope{"devices": devices, "count": len(devices)})
}

func (s *Server) handleDeviceGet(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		respondError(w, err)
		return
	}

	device, err := s.store.Devices.GetForOwner(r.Context(), id, owner(r))
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, envelope{"device": device})
}

func (s *Server) handleDeviceUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		respondError(w, err)
		return
	}

	var req model.DeviceUpdateRequest
	if err := decode(r, &req); err != nil {
		respondError(w, err)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		respondError(w, util.InvalidArgumentf("%v", err))
		return
	}

	device, err := s.store.Devices.Update(r.Context(), id, owner(r), req)
	s.recordAudit(r, audit.ActionDeviceUpdate, "device", id.String(), err)
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, envelope{"device": device})
}

type deviceStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=online offline unknown error"`
}

func (s *Server) handleDeviceSetStatus(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		respondError(w, err)
		return
	}

	var req deviceStatusRequest
	if err := decode(r, &req); err != nil {
		respondError(w, err)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		respondError(w, util.InvalidArgumentf("%v", err))
		return
	}

	// Ownership first so a foreign id reads as not-found.
	if _, err := s.store.Devices.GetForOwner(r.Context(), id, owner(r)); err != nil {
		respondError(w, err)
		return
	}

	status, _ := model.ParseDeviceStatus(req.Status)
	if err := s.store.Devices.SetStatus(r.Context(), id, status, nil); err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, envelope{"message": "device status updated"})
}

func (s *Server) handleDeviceDelete(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		respondError(w, err)
		return
	}

	err = s.store.Devices.Delete(r.Context(), id, owner(r))
	s.recordAudit(r, audit.ActionDeviceDelete, "device", id.String(), err)
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, envelope{"message": "device deleted"})
}
