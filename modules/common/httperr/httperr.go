package httperr

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"labubufy-server/modules/common/replicate"
)

// ErrorResponse is the uniform error body every handler returns.
type ErrorResponse struct {
	Error string `json:"error"`
}

// WriteError emits a well-formed JSON error payload.
func WriteError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponse{Error: message})
}

// GatewayStatus maps a gateway submission failure to a caller-facing status
// code and message: 401 for bad credentials, 429 for rate limits, 503 with
// the upstream status for everything else.
func GatewayStatus(err error) (int, string) {
	var apiErr *replicate.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusUnauthorized:
			return http.StatusUnauthorized, "Invalid API credentials for the image service"
		case http.StatusTooManyRequests:
			return http.StatusTooManyRequests, "Image service is rate limited, please try again shortly"
		default:
			return http.StatusServiceUnavailable,
				fmt.Sprintf("Image service error (upstream status %d)", apiErr.StatusCode)
		}
	}
	return http.StatusServiceUnavailable, "Image service unavailable"
}

// Recover converts a handler panic into a generic 500 body so the client
// always receives well-formed JSON. Use as: defer httperr.Recover(w).
func Recover(w http.ResponseWriter) {
	if r := recover(); r != nil {
		WriteError(w, http.StatusInternalServerError, "Internal server error")
	}
}
