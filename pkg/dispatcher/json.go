package dispatcher

import (
	"encoding/json"
	"net/http"

	"github.com/cuemby/dispatch-core/pkg/apierr"
)

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err error) {
	apiErr, ok := apierr.As(err)
	if !ok {
		apiErr = apierr.Wrap(apierr.Internal, "internal error", err)
	}
	writeJSON(w, apiErr.Status(), map[string]string{
		"error":  string(apiErr.Kind),
		"detail": apiErr.Detail,
	})
}

func decodeJSON(r *http.Request, dst interface{}) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		return apierr.Wrap(apierr.BadRequest, "malformed request body", err)
	}
	return nil
}
