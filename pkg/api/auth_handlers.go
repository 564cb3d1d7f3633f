package api

import (
	"net/http"

	"github.com/netwatch-nms/netwatch/pkg/audit"
	"github.com/netwatch-nms/netwatch/pkg/util"
)

type registerRequest struct {
	Username string `json:"username" validate:"required,min=3,max=255,alphanum"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type loginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken" validate:"required"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decode(r, &req); err != nil {
		respondError(w, err)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		respondError(w, util.InvalidArgumentf("%v", err))
		return
	}

	user, err := s.auth.Register(r.Context(), req.Username, req.Email, req.Password)
	s.recordAuditAs(r, req.Username, audit.ActionRegister, "user", "", err)
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusCreated, envelope{"user": user})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decode(r, &req); err != nil {
		respondError(w, err)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		respondError(w, util.InvalidArgumentf("%v", err))
		return
	}

	pair, user, err := s.auth.Login(r.Context(), req.Username, req.Password)
	s.recordAuditAs(r, req.Username, audit.ActionLogin, "user", "", err)
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, envelope{"tokens": pair, "user": user})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decode(r, &req); err != nil {
		respondError(w, err)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		respondError(w, util.InvalidArgumentf("%v", err))
		return
	}

	pair, err := s.auth.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, envelope{"tokens": pair})
}
