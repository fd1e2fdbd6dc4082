package server

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/charmbracelet/log"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/desertthunder/darkroom/internal/models"
	"github.com/desertthunder/darkroom/internal/shared"
	"github.com/desertthunder/darkroom/internal/tasks"
)

// JobManager is the subset of [tasks.Manager] the API drives.
type JobManager interface {
	Submit(kind tasks.JobKind, payload tasks.JobPayload) *tasks.Job
	Cancel(sessionID int64)
	State(sessionID int64, kind tasks.JobKind) tasks.JobState
	Summary() tasks.Summary
}

// NotificationStore lists and clears the notification log.
type NotificationStore interface {
	List(ctx context.Context) ([]models.Notification, error)
	MarkAllRead(ctx context.Context) error
	Clear(ctx context.Context) error
}

// APIOpts wires the API to its collaborators. Google may be nil when the integration is disabled.
type APIOpts struct {
	Jobs          JobManager
	Notifications NotificationStore
	Google        Authorizer
	Logger        *log.Logger
}

// API serves the JSON routes used by the CLI and TUI.
type API struct {
	jobs          JobManager
	notifications NotificationStore
	google        Authorizer
	logger        *log.Logger
}

func NewAPI(opts APIOpts) *API {
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	return &API{
		jobs:          opts.Jobs,
		notifications: opts.Notifications,
		google:        opts.Google,
		logger:        opts.Logger.WithPrefix("http"),
	}
}

// NewRouter builds a [BasicRouter] with logging and every API route registered.
func NewRouter(api *API) *BasicRouter {
	router := NewBasicRouter()
	router.Use(Logging(api.logger), Recover(api.logger))
	api.Register(router)
	return router
}

// Register adds the API routes to r.
func (a *API) Register(r Router) {
	r.Handle(http.MethodGet, "/api/jobs", http.HandlerFunc(a.handleSummary))

	for _, kind := range []tasks.JobKind{tasks.KindImport, tasks.KindExport} {
		path := "/api/sessions/{id}/" + string(kind)
		r.Handle(http.MethodGet, path, a.handleState(kind))
		r.Handle(http.MethodPost, path, a.handleSubmit(kind))
		r.Handle(http.MethodDelete, path, a.handleCancel(kind))
	}

	r.Handle(http.MethodGet, "/api/notifications", http.HandlerFunc(a.handleNotifications))
	r.Handle(http.MethodPatch, "/api/notifications", http.HandlerFunc(a.handleMarkRead))
	r.Handle(http.MethodDelete, "/api/notifications", http.HandlerFunc(a.handleClear))

	if a.google != nil {
		r.Handle(http.MethodGet, "/auth/google", startAuth(a.google))
		r.Handler(NewOAuthHandler(a.google))
	}

	r.Handle(http.MethodGet, "/metrics", promhttp.Handler())
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(append(data, '\n'))
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func sessionID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: session id %q", shared.ErrInvalidArgument, r.PathValue("id"))
	}
	return id, nil
}

func (a *API) handleSummary(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.jobs.Summary())
}

func (a *API) handleState(kind tasks.JobKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := sessionID(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeJSON(w, http.StatusOK, a.jobs.State(id, kind))
	}
}

func (a *API) handleSubmit(kind tasks.JobKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := sessionID(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		if job := a.jobs.Submit(kind, tasks.JobPayload{SessionID: id}); job == nil {
			writeError(w, http.StatusConflict, fmt.Errorf("%s already running for session %d", kind, id))
			return
		}
		writeJSON(w, http.StatusAccepted, a.jobs.State(id, kind))
	}
}

// handleCancel cancels every job of the session, matching [tasks.Manager.Cancel], and reports the state of kind.
func (a *API) handleCancel(kind tasks.JobKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := sessionID(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		a.jobs.Cancel(id)
		writeJSON(w, http.StatusAccepted, a.jobs.State(id, kind))
	}
}

func (a *API) handleNotifications(w http.ResponseWriter, r *http.Request) {
	notifications, err := a.notifications.List(r.Context())
	if err != nil {
		a.logger.Error("failed to list notifications", "error", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if notifications == nil {
		notifications = []models.Notification{}
	}
	writeJSON(w, http.StatusOK, notifications)
}

func (a *API) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	if err := a.notifications.MarkAllRead(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleClear(w http.ResponseWriter, r *http.Request) {
	if err := a.notifications.Clear(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
