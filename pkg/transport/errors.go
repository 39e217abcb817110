package transport

import (
	"encoding/json"
	"net/http"

	"github.com/rhuss/chatrelay/pkg/chat"
)

// HTTPStatusFromError maps an APIError type to the corresponding HTTP status
// code. Transport-level errors (body too large, unsupported content type)
// are handled by the handlers directly.
func HTTPStatusFromError(err *chat.APIError) int {
	switch err.Type {
	case chat.ErrorTypeInvalidRequest:
		return http.StatusBadRequest
	case chat.ErrorTypeUnauthenticated:
		return http.StatusUnauthorized
	case chat.ErrorTypeUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// WriteErrorResponse writes a JSON error response using the ErrorResponse
// wrapper format from pkg/chat.
func WriteErrorResponse(w http.ResponseWriter, apiErr *chat.APIError, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(chat.ErrorResponse{Error: apiErr})
}

// WriteAPIError writes an APIError response, deriving the HTTP status code
// from the error type.
func WriteAPIError(w http.ResponseWriter, apiErr *chat.APIError) {
	WriteErrorResponse(w, apiErr, HTTPStatusFromError(apiErr))
}
