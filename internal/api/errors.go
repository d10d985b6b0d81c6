// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ManuGH/samplr/internal/queue"
	"github.com/ManuGH/samplr/internal/validate"
)

const retryAfterSeconds = "5"

type errorBody struct {
	Error string `json:"error"`
}

// validationBody is the 422 payload: field name to messages.
type validationBody struct {
	Errors map[string][]string `json:"errors"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	var mbe *http.MaxBytesError
	switch {
	case err == nil:
		return http.StatusOK
	case isValidation(err):
		return http.StatusUnprocessableEntity
	case errors.Is(err, queue.ErrQueueUnavailable):
		return http.StatusServiceUnavailable
	case errors.As(err, &mbe):
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusInternalServerError
	}
}

func isValidation(err error) bool {
	_, ok := validate.AsValidationError(err)
	return ok
}
