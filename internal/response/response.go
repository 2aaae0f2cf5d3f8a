// Package response writes JSON bodies and the shared error envelope
// {"error":{"code","message","details"}} used by handlers and middleware.
package response

import (
	"encoding/json"
	"net/http"
)

// JSON writes data with the given status
func JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error writes an error envelope without details
func Error(w http.ResponseWriter, status int, code, message string) {
	ErrorWithDetails(w, status, code, message, nil)
}

// ErrorWithDetails writes an error envelope; empty details are omitted
func ErrorWithDetails(w http.ResponseWriter, status int, code, message string, details map[string]string) {
	body := map[string]interface{}{
		"code":    code,
		"message": message,
	}
	if len(details) > 0 {
		body["details"] = details
	}
	JSON(w, status, map[string]interface{}{"error": body})
}
