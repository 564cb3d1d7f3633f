package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/netwatch-nms/netwatch/pkg/audit"
	"github.com/netwatch-nms/netwatch/pkg/model"
	"github.com/netwatch-nms/netwatch/pkg/util"
)

// owner pulls the authenticated user from the context; the auth
// middleware guarantees presence on these routes.
func owner(r *http.Request) uuid.UUID {
	id, _ := OwnerFromContext(r.Context())
	return id
}

func pathUUID(r *http.Request, name string) (uuid.UUID, error) {
	raw := chi.URLParam(r, name)
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, util.InvalidArgumentf("%s must be a UUID", name)
	}
	return id, nil
}

func (s *Server) handleDiscoveryStart(w http.ResponseWriter, r *http.Request) {
	var req model.DiscoveryRequest
	if err := decode(r, &req); err != nil {
		respondError(w, err)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		respondError(w, util.InvalidArgumentf("%v", err))
		return
	}

	job, err := s.discovery.Start(r.Context(), owner(r), req)
	if err != nil {
		s.recordAudit(r, audit.ActionDiscoveryStart, "discovery_job", "", err)
		respondError(w, err)
		return
	}
	s.recordAudit(r, audit.ActionDiscoveryStart, "discovery_job", job.ID.String(), nil)
	respond(w, http.StatusCreated, envelope{"job": job, "jobId": job.ID})
}

func (s *Server) handleDiscoveryJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.store.Jobs.ListForOwner(r.Context(), owner(r))
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, envelope{"jobs": jobs, "count": len(jobs)})
}

func (s *Server) handleDiscoveryStatus(w http.ResponseWriter, r *http.Request) {
	jobID, err := pathUUID(r, "jobID")
	if err != nil {
		respondError(w, err)
		return
	}

	job, err := s.discovery.Status(r.Context(), owner(r), jobID)
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, envelope{"job": job})
}

func (s *Server) handleDiscoveryResults(w http.ResponseWriter, r *http.Request) {
	jobID, err := pathUUID(r, "jobID")
	if err != nil {
		respondError(w, err)
		return
	}

	res, err := s.discovery.Results(r.Context(), owner(r), jobID)
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, envelope{
		"job":     res.Job,
		"devices": res.Devices,
		"count":   res.Count,
	})
}

func (s *Server) handleDiscoveryCancel(w http.ResponseWriter, r *http.Request) {
	jobID, err := pathUUID(r, "jobID")
	if err != nil {
		respondError(w, err)
		return
	}

	err = s.discovery.Cancel(r.Context(), owner(r), jobID)
	s.recordAudit(r, audit.ActionDiscoveryCancel, "discovery_job", jobID.String(), err)
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, envelope{"message": "discovery job cancelled"})
}
