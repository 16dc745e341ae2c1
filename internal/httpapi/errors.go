package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/siltdata/silt/pkg/silterrors"
)

// errorBody is the JSON envelope every non-2xx response carries.
type errorBody struct {
	Error string `json:"error"`
}

// statusFor maps a silterrors kind to the HTTP status SPEC_FULL.md §8
// assigns it.
func statusFor(kind silterrors.Kind) int {
	switch kind {
	case silterrors.KindNotFound:
		return http.StatusNotFound
	case silterrors.KindAlreadyExists:
		return http.StatusConflict
	case silterrors.KindConflict:
		return http.StatusConflict
	case silterrors.KindInvalid:
		return http.StatusUnprocessableEntity
	case silterrors.KindIntegrity:
		return http.StatusInternalServerError
	case silterrors.KindIO:
		return http.StatusInternalServerError
	case silterrors.KindShallowRequired:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeError classifies err via silterrors.ClassOf and writes the
// matching status with a JSON error body.
func writeError(w http.ResponseWriter, err error) {
	status := statusFor(silterrors.ClassOf(err))
	writeJSON(w, status, errorBody{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
