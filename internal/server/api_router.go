package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	gmux "github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type APIRouter struct {
	*gmux.Router
	sta *State
}

func APIRouterOf(sta *State) *APIRouter {
	ret := &APIRouter{
		sta: sta,
	}
	ret.registerMux()
	return ret
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		next.ServeHTTP(w, r)
	})
}

func (ar *APIRouter) registerMux() {
	ar.Router = gmux.NewRouter()
	ar.HandleFunc("/admin/sessions", ar.listSessionsHlr).Methods("GET")
	ar.HandleFunc("/admin/sessions/{id}", ar.getSessionHlr).Methods("GET")
	ar.HandleFunc("/admin/sessions/{id}", ar.abortSessionHlr).Methods("DELETE")
	ar.HandleFunc("/admin/usage", ar.listUsageHlr).Methods("GET")
	ar.Handle("/metrics", promhttp.HandlerFor(ar.sta.metrics.registry, promhttp.HandlerOpts{})).Methods("GET")
	ar.Methods("OPTIONS").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Methods", "GET,DELETE,OPTIONS")
	})
	ar.Use(corsMiddleware)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	resp, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(resp)
}

func sessionIDOf(w http.ResponseWriter, r *http.Request) (uint32, bool) {
	id, err := strconv.ParseUint(gmux.Vars(r)["id"], 10, 32)
	if err != nil {
		http.Error(w, "invalid session id", http.StatusBadRequest)
		return 0, false
	}
	return uint32(id), true
}

func (ar *APIRouter) listSessionsHlr(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, ar.sta.ListSessions())
}

func (ar *APIRouter) getSessionHlr(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionIDOf(w, r)
	if !ok {
		return
	}
	info, err := ar.sta.GetSession(id)
	if err == ErrSessionNotFound {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, info)
}

func (ar *APIRouter) abortSessionHlr(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionIDOf(w, r)
	if !ok {
		return
	}
	err := ar.sta.AbortSession(id, r.URL.Query().Get("reason"))
	if err == ErrSessionNotFound {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (ar *APIRouter) listUsageHlr(w http.ResponseWriter, r *http.Request) {
	if ar.sta.Usage == nil {
		http.Error(w, "no usage database configured", http.StatusNotFound)
		return
	}
	var since int64
	if s := r.URL.Query().Get("since"); s != "" {
		var err error
		since, err = strconv.ParseInt(s, 10, 64)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}
	usages, err := ar.sta.Usage.ListUsage(since)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, usages)
}
