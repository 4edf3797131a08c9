package apiresp

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
)

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type Meta struct {
	RequestID string `json:"request_id,omitempty"`
	Count     *int   `json:"count,omitempty"`
}

type Envelope struct {
	OK    bool          `json:"ok"`
	Data  interface{}   `json:"data,omitempty"`
	Error *ErrorPayload `json:"error,omitempty"`
	Meta  Meta          `json:"meta"`
}

func WriteOK(w http.ResponseWriter, r *http.Request, status int, data interface{}) {
	write(w, status, Envelope{OK: true, Data: data, Meta: metaFor(r)})
}

// WriteList is WriteOK with the item count in meta.
func WriteList(w http.ResponseWriter, r *http.Request, data interface{}, count int) {
	meta := metaFor(r)
	meta.Count = &count
	write(w, http.StatusOK, Envelope{OK: true, Data: data, Meta: meta})
}

func WriteError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	WriteErrorCode(w, r, status, "", msg)
}

// WriteErrorCode lets callers pick a domain-specific code; an empty code is
// derived from the status.
func WriteErrorCode(w http.ResponseWriter, r *http.Request, status int, code, msg string) {
	if msg == "" {
		msg = http.StatusText(status)
	}
	if code == "" {
		code = codeFromStatus(status)
	}
	write(w, status, Envelope{
		OK:    false,
		Error: &ErrorPayload{Code: code, Message: msg},
		Meta:  metaFor(r),
	})
}

func metaFor(r *http.Request) Meta {
	if r == nil {
		return Meta{}
	}
	return Meta{RequestID: middleware.GetReqID(r.Context())}
}

func write(w http.ResponseWriter, status int, res Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(res)
}

func codeFromStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "invalid_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "unprocessable_entity"
	case http.StatusTooManyRequests:
		return "rate_limited"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		if status >= 200 && status < 300 {
			return ""
		}
		return "error"
	}
}
