package webchat

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/pawfect/pkg/persistence/chatstore"
)

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Str("component", "webchat").Msg("response write failed")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// writeStoreError maps store errors to a status; anything unexpected is logged
// and reported as 500 without details.
func writeStoreError(w http.ResponseWriter, err error, what string) {
	switch {
	case errors.Is(err, chatstore.ErrNotFound):
		writeError(w, http.StatusNotFound, what+" not found")
	case errors.Is(err, chatstore.ErrEmailTaken):
		writeError(w, http.StatusConflict, err.Error())
	default:
		log.Error().Err(err).Str("component", "webchat").Msg(what + " failed")
		writeError(w, http.StatusInternalServerError, what+" failed")
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.Wrap(err, "decode request body")
	}
	return nil
}

func pathID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)[name], 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
