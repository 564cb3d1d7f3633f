// Package api is the HTTP front end: chi router, middleware chain, and
// the handlers for auth, discovery, credentials, and devices. Handlers
// never touch the scan engine directly; discovery operations go through
// the control-plane Service.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/netwatch-nms/netwatch/pkg/util"
)

// envelope is the uniform response shape. Every reply carries success
// and a millisecond timestamp; payload keys are merged alongside.
type envelope map[string]interface{}

func respond(w http.ResponseWriter, status int, payload envelope) {
	body := envelope{
		"success":   status < 400,
		"timestamp": time.Now().UnixMilli(),
	}
	for k, v := range payload {
		body[k] = v
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		util.Errorf("encoding response: %v", err)
	}
}

// respondError maps the error chain to a status code and renders the
// failure envelope. Internal errors never leak detail to the client.
func respondError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	message := "internal server error"

	var verr *util.ValidationError
	switch {
	case errors.As(err, &verr):
		respond(w, http.StatusBadRequest, envelope{
			"error":   http.StatusText(http.StatusBadRequest),
			"message": "validation failed",
			"errors":  verr.Errors,
		})
		return
	case errors.Is(err, util.ErrInvalidArgument):
		status, message = http.StatusBadRequest, err.Error()
	case errors.Is(err, util.ErrNotFound):
		status, message = http.StatusNotFound, err.Error()
	case errors.Is(err, util.ErrAlreadyExists):
		status, message = http.StatusConflict, err.Error()
	case errors.Is(err, util.ErrInUse):
		status, message = http.StatusConflict, err.Error()
	case errors.Is(err, util.ErrUnauthorized):
		status, message = http.StatusUnauthorized, err.Error()
	case errors.Is(err, util.ErrTransportFailure):
		status, message = http.StatusServiceUnavailable, "discovery backend unavailable"
		util.Errorf("transport failure: %v", err)
	default:
		util.Errorf("internal error: %v", err)
	}

	respond(w, status, envelope{
		"error":   http.StatusText(status),
		"message": message,
	})
}

// decode reads a JSON body into dst, rejecting unknown fields and
// oversized payloads (the body limit middleware caps the reader).
func decode(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return util.InvalidArgumentf("malformed request body: %v", err)
	}
	return nil
}
