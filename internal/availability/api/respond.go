// Package api exposes the availability engine over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	apperrors "github.com/libresocial/engine/internal/errors"
)

// errorBody is the wire shape of every error response.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code     apperrors.Code    `json:"code"`
	Message  string            `json:"message"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("write response failed err=%v", err)
	}
}

// writeError maps domain errors to HTTP statuses through their code. Errors
// without a code become opaque 500s; their detail stays in the logs.
func writeError(w http.ResponseWriter, err error) {
	var domainErr *apperrors.Error
	if errors.As(err, &domainErr) {
		writeJSON(w, domainErr.Code.HTTPStatus(), errorBody{Error: errorDetail{
			Code:     domainErr.Code,
			Message:  domainErr.Message,
			Metadata: domainErr.Metadata,
		}})
		return
	}
	log.Printf("request failed err=%v", err)
	writeJSON(w, http.StatusInternalServerError, errorBody{Error: errorDetail{
		Code:    apperrors.CodeUnknown,
		Message: "internal error",
	}})
}

func writeInvalidArgument(w http.ResponseWriter, message string) {
	writeError(w, apperrors.New(apperrors.CodeInvalidArgument, message))
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusUnauthorized, errorBody{Error: errorDetail{
		Code:    "UNAUTHENTICATED",
		Message: message,
	}})
}
