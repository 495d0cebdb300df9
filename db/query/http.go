package query

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
)

func (handler *queryHandler) Register(router *mux.Router) {
	router.HandleFunc("/kv", handler.getAll).Methods(http.MethodGet)
	router.HandleFunc("/kv/{key}", handler.getValue).Methods(http.MethodGet)
}

func (handler *queryHandler) getValue(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]

	value, ok := handler.Get(key)
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]string{"key": key, "value": value}); err != nil {
		handler.logger.Warn("couldn't encode value", "key", key, "error", err)
	}
}

func (handler *queryHandler) getAll(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(handler.Data()); err != nil {
		handler.logger.Warn("couldn't encode data", "error", err)
	}
}
