package api

import (
	"net/http"

	"github.com/netwatch-nms/netwatch/pkg/audit"
	"github.com/netwatch-nms/netwatch/pkg/model"
	"github.com/netwatch-nms/netwatch/pkg/util"
)

func (s *Server) handleCredentialCreate(w http.ResponseWriter, r *http.Request) {
	var req model.CredentialProfileRequest
	if err := decode(r, &req); err != nil {
		respondError(w, err)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		respondError(w, util.InvalidArgumentf("%v", err))
		return
	}

	// Secret material is encrypted at the door; nothing downstream of
	// this handler sees plaintext.
	passwordEnc, err := s.secrets.Encrypt(req.Password)
	if err != nil {
		respondError(w, err)
		return
	}
	keyEnc, err := s.secrets.Encrypt(req.PrivateKey)
	if err != nil {
		respondError(w, err)
		return
	}

	port := req.Port
	if port == 0 {
		port = 22
	}
	profile, err := s.store.Credentials.Create(r.Context(), &model.CredentialProfile{
		Name:                req.Name,
		Username:            req.Username,
		PasswordEncrypted:   passwordEnc,
		PrivateKeyEncrypted: keyEnc,
		Port:                port,
		CreatedBy:           owner(r),
	})
	if err != nil {
		s.recordAudit(r, audit.ActionProfileCreate, "credential_profile", "", err)
		respondError(w, err)
		return
	}
	s.recordAudit(r, audit.ActionProfileCreate, "credential_profile", profile.ID.String(), nil)
	respond(w, http.StatusCreated, envelope{"profile": profile})
}

func (s *Server) handleCredentialList(w http.ResponseWriter, r *http.Request) {
	profiles, err := s.store.Credentials.ListForOwner(r.Context(), owner(r))
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, envelope{"profiles": profiles, "count": len(profiles)})
}

func (s *Server) handleCredentialGet(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		respondError(w, err)
		return
	}

	profile, err := s.store.Credentials.GetForOwner(r.Context(), id, owner(r))
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, envelope{"profile": profile})
}

func (s *Server) handleCredentialUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		respondError(w, err)
		return
	}

	var req model.CredentialProfileUpdate
	if err := decode(r, &req); err != nil {
		respondError(w, err)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		respondError(w, util.InvalidArgumentf("%v", err))
		return
	}

	var passwordEnc, keyEnc *string
	if req.Password != nil {
		enc, err := s.secrets.Encrypt(*req.Password)
		if err != nil {
			respondError(w, err)
			return
		}
		passwordEnc = &enc
	}
	if req.PrivateKey != nil {
		enc, err := s.secrets.Encrypt(*req.PrivateKey)
		if err != nil {
			respondError(w, err)
			return
		}
		keyEnc = &enc
	}

	profile, err := s.store.Credentials.Update(r.Context(), id, owner(r),
		req.Name, req.Username, passwordEnc, keyEnc, req.Port)
	s.recordAudit(r, audit.ActionProfileUpdate, "credential_profile", id.String(), err)
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, envelope{"profile": profile})
}

func (s *Server) handleCredentialDelete(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		respondError(w, err)
		return
	}

	err = s.store.Credentials.Delete(r.Context(), id, owner(r))
	s.recordAudit(r, audit.ActionProfileDelete, "credential_profile", id.String(), err)
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, envelope{"message": "credential profile deleted"})
}
