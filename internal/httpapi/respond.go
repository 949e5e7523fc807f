package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"treasury-lens/internal/fetch"
	"treasury-lens/internal/storage"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorBody{Error: errorDetail{Code: code, Message: message}})
}

// respondFetchError maps an upstream failure to its status: 400 for bad
// input, 404 for missing entities, 503 with a retry-later text otherwise.
func respondFetchError(w http.ResponseWriter, err error) {
	kind := fetch.KindOf(err)
	status := http.StatusServiceUnavailable
	switch kind {
	case fetch.KindInvalidInput:
		status = http.StatusBadRequest
	case fetch.KindNotFound:
		status = http.StatusNotFound
	}
	respondError(w, status, kind.String(), fetch.UserMessage(err))
}

// respondStorageError maps a storage failure to its status.
func respondStorageError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrInvalidInput):
		respondError(w, http.StatusBadRequest, "invalid_input", err.Error())
	case errors.Is(err, storage.ErrDuplicateKey):
		respondError(w, http.StatusBadRequest, "duplicate", err.Error())
	default:
		respondError(w, http.StatusInternalServerError, "internal", "storage unavailable")
	}
}
