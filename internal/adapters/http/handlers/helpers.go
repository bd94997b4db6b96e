package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/chronicleaudio/chronicle/internal/adapters/http/dto"
	"github.com/chronicleaudio/chronicle/internal/domain"
)

const maxRequestBody = 1 << 20 // 1MB for JSON bodies; uploads have their own limit

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			log.Printf("Failed to encode JSON response: %v", err)
		}
	}
}

func respondError(w http.ResponseWriter, status int, errType, message string) {
	respondJSON(w, status, dto.NewErrorResponse(errType, message, status))
}

// respondDomainError maps domain sentinel errors to HTTP statuses. Access
// denials carry no detail about the resource.
func respondDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrAccessDenied):
		respondError(w, http.StatusForbidden, "access_denied", "access denied")
	case errors.Is(err, domain.ErrConversationNotFound),
		errors.Is(err, domain.ErrMemoryNotFound),
		errors.Is(err, domain.ErrJobNotFound),
		errors.Is(err, domain.ErrAudioNotFound),
		errors.Is(err, domain.ErrNotFound):
		respondError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, domain.ErrConversationDeleted),
		errors.Is(err, domain.ErrCannotModifyDeletedConv),
		errors.Is(err, domain.ErrVersionNotFound),
		errors.Is(err, domain.ErrAudioFormatUnsupported),
		errors.Is(err, domain.ErrInvalidID),
		errors.Is(err, domain.ErrInvalidInput):
		respondError(w, http.StatusBadRequest, "validation_error", err.Error())
	default:
		log.Printf("HTTP 500: %v", err)
		respondError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

func parseIntQuery(r *http.Request, key string, defaultValue int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return defaultValue
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultValue
	}
	return i
}

func parseBoolQuery(r *http.Request, key string) bool {
	v := r.URL.Query().Get(key)
	return v == "true" || v == "1"
}

// decodeJSON reads and validates a JSON request body with a size cap.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body: "+err.Error())
		return false
	}
	return true
}
