package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"

	"publicsquare/pkg/analysis"
	"publicsquare/pkg/lifecycle"
	"publicsquare/pkg/logger"
	"publicsquare/pkg/realtime"
	"publicsquare/pkg/registry"
	"publicsquare/pkg/store"
	"publicsquare/pkg/telemetry"
	"publicsquare/pkg/validation"
)

// API wires the HTTP surface to the orchestration components. Handlers
// stay thin: validation plus delegation, JSON in and out.
type API struct {
	mgr     *lifecycle.Manager
	reg     *registry.Registry
	client  *analysis.Client
	hub     *realtime.Hub
	st      store.Storage
	version string
}

func New(mgr *lifecycle.Manager, reg *registry.Registry, client *analysis.Client, hub *realtime.Hub, st store.Storage, version string) *API {
	return &API{mgr: mgr, reg: reg, client: client, hub: hub, st: st, version: version}
}

// Router builds the full route table. sec is applied to everything;
// /metrics and /docs stay outside the rate limiter budget concern by
// virtue of being read-only and cheap.
func (a *API) Router(sec SecConfig) http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", a.healthz).Methods(http.MethodGet)
	r.HandleFunc("/readyz", a.readyz).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.PathPrefix("/docs/").Handler(httpSwagger.Handler(httpSwagger.URL("/openapi.yaml")))
	r.Handle("/openapi.yaml", http.FileServer(http.Dir("./docs"))).Methods(http.MethodGet)

	r.HandleFunc("/v1/rooms", a.createRoom).Methods(http.MethodPost)
	r.HandleFunc("/v1/rooms", a.listRooms).Methods(http.MethodGet)
	r.HandleFunc("/v1/rooms/{id}", a.getRoom).Methods(http.MethodGet)
	r.HandleFunc("/v1/rooms/{id}", a.closeRoom).Methods(http.MethodDelete)
	r.HandleFunc("/v1/rooms/{id}/messages", a.submitMessage).Methods(http.MethodPost)
	r.HandleFunc("/v1/rooms/{id}/messages", a.listMessages).Methods(http.MethodGet)
	r.HandleFunc("/v1/rooms/{id}/factchecks", a.listFactChecks).Methods(http.MethodGet)
	r.HandleFunc("/v1/rooms/{id}/summary", a.summarize).Methods(http.MethodPost)
	r.HandleFunc("/ws/debate/{roomId}", a.serveWS).Methods(http.MethodGet)

	return SecurityMiddleware(sec)(telemetry.Middleware(r))
}

func (a *API) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readyz reports storage readiness plus the primary analysis backend's
// availability. A failing store read flips readiness; the upstream
// state is informational only, since analysis degrades instead of
// failing.
func (a *API) readyz(w http.ResponseWriter, r *http.Request) {
	if _, err := a.st.LoadRooms(); err != nil {
		logger.Error("readyz_store_probe_failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
		return
	}
	upstream := "down"
	if a.client.Health(r.Context()) {
		upstream = "ok"
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "ok",
		"upstream": upstream,
		"version":  a.version,
	})
}

type createRoomRequest struct {
	Topic string `json:"topic"`
}

func (a *API) createRoom(w http.ResponseWriter, r *http.Request) {
	var req createRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := validation.Topic(req.Topic); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	room, err := a.mgr.CreateRoom(req.Topic)
	if err != nil {
		logger.Error("create_room_failed", "error", err)
		writeError(w, http.StatusInternalServerError, "create room failed")
		return
	}
	writeJSON(w, http.StatusCreated, room)
}

func (a *API) listRooms(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.mgr.Rooms())
}

func (a *API) getRoom(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	room, ok := a.mgr.Room(id)
	if !ok {
		writeError(w, http.StatusNotFound, "room not found")
		return
	}
	writeJSON(w, http.StatusOK, room)
}

func (a *API) closeRoom(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := a.mgr.CloseRoom(id); err != nil {
		if errors.Is(err, lifecycle.ErrUnknownRoom) {
			writeError(w, http.StatusNotFound, "room not found")
			return
		}
		logger.Error("close_room_failed", "room", id, "error", err)
		writeError(w, http.StatusInternalServerError, "close room failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type submitMessageRequest struct {
	AuthorID   string `json:"author_id"`
	AuthorName string `json:"author_name"`
	Content    string `json:"content"`
}

// submitMessage returns the pending message immediately; its terminal
// status arrives over the dispatch channel once analysis completes.
func (a *API) submitMessage(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req submitMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := validation.Message(req.AuthorID, req.Content); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	msg, err := a.mgr.Submit(id, req.AuthorID, req.AuthorName, req.Content)
	if err != nil {
		if errors.Is(err, lifecycle.ErrUnknownRoom) {
			writeError(w, http.StatusNotFound, "room not found")
			return
		}
		logger.Error("submit_failed", "room", id, "error", err)
		writeError(w, http.StatusInternalServerError, "submit failed")
		return
	}
	writeJSON(w, http.StatusAccepted, msg)
}

func (a *API) listMessages(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	msgs, err := a.mgr.Messages(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "room not found")
		return
	}
	if limStr := r.URL.Query().Get("limit"); limStr != "" {
		if lim, err := strconv.Atoi(limStr); err == nil && lim >= 0 && lim < len(msgs) {
			msgs = msgs[len(msgs)-lim:]
		}
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (a *API) listFactChecks(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, ok := a.mgr.Room(id); !ok {
		writeError(w, http.StatusNotFound, "room not found")
		return
	}
	writeJSON(w, http.StatusOK, a.reg.List(id))
}

// summarize proxies the primary backend. There is no degraded tier
// here: upstream failure surfaces as 502 and the caller retries.
func (a *API) summarize(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	msgs, err := a.mgr.Messages(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "room not found")
		return
	}
	sum, err := a.client.Summarize(r.Context(), id, msgs)
	if err != nil {
		logger.Warn("summarize_failed", "room", id, "error", err)
		writeError(w, http.StatusBadGateway, "summary unavailable")
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (a *API) serveWS(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["roomId"]
	if _, ok := a.mgr.Room(roomID); !ok {
		writeError(w, http.StatusNotFound, "room not found")
		return
	}
	a.hub.ServeWS(w, r, roomID)
}
