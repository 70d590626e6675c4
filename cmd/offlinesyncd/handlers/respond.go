// Package handlers provides the REST API of the offline sync daemon.
package handlers

import (
	"io"
	"net/http"

	"github.com/goccy/go-json"

	apperrors "github.com/Shahabul87/enterprise-auth-template-sub020/internal/errors"
	"github.com/Shahabul87/enterprise-auth-template-sub020/internal/logging"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error("Failed to write response", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	code := apperrors.CodeOf(err)
	status := statusFor(code)
	if status >= 500 {
		logging.ErrorWithCode("Request failed", string(code), err)
	}

	var body ErrorBody
	body.Error.Code = string(code)
	body.Error.Message = err.Error()
	writeJSON(w, status, body)
}

func statusFor(code apperrors.ErrorCode) int {
	switch code {
	case apperrors.ErrInvalid:
		return http.StatusBadRequest
	case apperrors.ErrNotFound:
		return http.StatusNotFound
	case apperrors.ErrNoConnection, apperrors.ErrClosed:
		return http.StatusServiceUnavailable
	case apperrors.ErrRemoteFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func readBody(r *http.Request) ([]byte, error) {
	b, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInvalid, "read request body", err)
	}
	if len(b) > maxBodyBytes {
		return nil, apperrors.New(apperrors.ErrInvalid, "request body too large")
	}
	return b, nil
}

func decodeBody(r *http.Request, v interface{}) error {
	b, err := readBody(r)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, v); err != nil {
		return apperrors.Wrap(apperrors.ErrInvalid, "invalid request body", err)
	}
	return nil
}
