package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"clinique/predict"
)

type errorResponse struct {
	Error   string                   `json:"error"`
	Details []predict.FieldViolation `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// requestError is a body that could not be decoded into the request type.
type requestError struct {
	status  int
	message string
}

func (e *requestError) Error() string {
	return e.message
}

// decodeBody reads exactly one JSON object. Unknown fields are ignored; type
// mismatches such as a string for a number are rejected.
func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		var maxBytes *http.MaxBytesError
		var syntaxErr *json.SyntaxError
		var typeErr *json.UnmarshalTypeError
		switch {
		case errors.As(err, &maxBytes):
			return &requestError{http.StatusRequestEntityTooLarge, "request body too large"}
		case errors.Is(err, io.EOF):
			return &requestError{http.StatusBadRequest, "request body is empty"}
		case errors.As(err, &syntaxErr), errors.Is(err, io.ErrUnexpectedEOF):
			return &requestError{http.StatusBadRequest, "request body is not valid JSON"}
		case errors.As(err, &typeErr) && typeErr.Field == "":
			return &requestError{http.StatusBadRequest, "request body must be a JSON object"}
		case errors.As(err, &typeErr):
			return &requestError{http.StatusBadRequest, fmt.Sprintf("field %q must be %s", typeErr.Field, typeErr.Type)}
		default:
			return &requestError{http.StatusBadRequest, err.Error()}
		}
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return &requestError{http.StatusBadRequest, "request body must contain a single JSON value"}
	}
	return nil
}

// writeRequestError maps decode and validation failures onto client errors.
func writeRequestError(w http.ResponseWriter, err error) {
	var reqErr *requestError
	if errors.As(err, &reqErr) {
		writeError(w, reqErr.status, reqErr.message)
		return
	}
	var ve *predict.ValidationError
	if errors.As(err, &ve) {
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: "validation failed", Details: ve.Violations})
		return
	}
	writeError(w, http.StatusInternalServerError, "internal server error")
}
