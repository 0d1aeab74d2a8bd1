package api

import (
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"

	"github.com/vpnforge/vpnforge/easyrsa"
	"github.com/vpnforge/vpnforge/pki"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// retryAfterBusy is the hint returned with 503 responses caused by the
// store gate. The gate wait already bounds how long the conflicting
// operation was observed running.
const retryAfterBusy = "5"

func mapError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, pki.ErrInvalidIdentifier):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, pki.ErrNotIssued):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, pki.ErrIdentifierUsed):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, pki.ErrCARepairNeeded):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, pki.ErrBusy):
		w.Header().Set("Retry-After", retryAfterBusy)
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, easyrsa.ErrUnavailable):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, fs.ErrNotExist):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
