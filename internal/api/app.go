package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/deskconf/internal/field"
	"github.com/kalambet/deskconf/internal/schema"
	"github.com/kalambet/deskconf/internal/storage"
	"github.com/kalambet/deskconf/internal/tree"
	"github.com/kalambet/deskconf/internal/viewmodel"
)

const maxRequestBodySize = 1 << 20 // 1MB

// AppDeps are the dependencies of the HTTP API.
type AppDeps struct {
	Sessions *Sessions
	Store    *storage.Store
	Schema   schema.Registry
	Config   viewmodel.Configuration
	Token    string
	Events   http.Handler // optional; serves GET /events
}

// NewAppHandler returns the HTTP API. Every route except /health requires
// the bearer token.
func NewAppHandler(deps AppDeps) http.Handler {
	if deps.Schema == nil {
		deps.Schema = schema.Desktop()
	}

	r := chi.NewRouter()
	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Get("/schema", handleSchema(deps))

		r.Post("/sessions", handleOpenSession(deps))
		r.Route("/sessions/{id}", func(r chi.Router) {
			r.Get("/", handleGetSession(deps))
			r.Delete("/", handleCloseSession(deps))
			r.Patch("/settings", handleUpdateSession(deps))
			r.Post("/controls/activate", handleActivateControl(deps))
			r.Get("/dialogs", handleListDialogs(deps))
			r.Post("/dialogs/{dialogID}", handleResolveDialog(deps))
			r.Post("/save", handleSaveSession(deps))
			r.Post("/refresh", handleRefreshSession(deps))
		})

		r.Get("/settings", handleGetSettings(deps))
		r.Get("/settings/value", handleGetValue(deps))
		r.Put("/settings/value", handlePutValue(deps))
		r.Get("/settings/history", handleHistory(deps))

		if deps.Events != nil {
			r.Method(http.MethodGet, "/events", deps.Events)
		}
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func handleSchema(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, deps.Schema.Describe())
	}
}

// SessionView is the JSON form of an open session.
type SessionView struct {
	ID       string           `json:"id"`
	State    schema.ViewState `json:"state"`
	Sections []field.Section  `json:"sections"`
	Dialogs  []PendingDialog  `json:"dialogs"`
}

func viewOf(s *Session) SessionView {
	return SessionView{
		ID:       s.ID,
		State:    s.Model().State(),
		Sections: s.Render(),
		Dialogs:  s.Dialogs(),
	}
}

func handleOpenSession(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := deps.Sessions.Open(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to open session: %v", err)
			return
		}
		writeJSON(w, http.StatusCreated, viewOf(s))
	}
}

// withSession resolves the {id} URL parameter.
func withSession(deps AppDeps, fn func(w http.ResponseWriter, r *http.Request, s *Session)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := deps.Sessions.Get(chi.URLParam(r, "id"))
		if err != nil {
			httpError(w, http.StatusNotFound, "not_found", "session not found")
			return
		}
		fn(w, r, s)
	}
}

func handleGetSession(deps AppDeps) http.HandlerFunc {
	return withSession(deps, func(w http.ResponseWriter, r *http.Request, s *Session) {
		writeJSON(w, http.StatusOK, viewOf(s))
	})
}

func handleCloseSession(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Sessions.Close(chi.URLParam(r, "id")); err != nil {
			httpError(w, http.StatusNotFound, "not_found", "session not found")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "closed"})
	}
}

func handleUpdateSession(deps AppDeps) http.HandlerFunc {
	return withSession(deps, func(w http.ResponseWriter, r *http.Request, s *Session) {
		var change schema.Change
		if !decodeBody(w, r, &change) {
			return
		}
		if change.Path == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "path is required")
			return
		}

		ctl, err := s.Control(change.Path)
		if err != nil {
			httpError(w, http.StatusNotFound, "not_found", "%v", err)
			return
		}
		if err := ctl.Change(change.Value); err != nil {
			writeControlError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, viewOf(s))
	})
}

func handleActivateControl(deps AppDeps) http.HandlerFunc {
	return withSession(deps, func(w http.ResponseWriter, r *http.Request, s *Session) {
		var req struct {
			Path string `json:"path"`
		}
		if !decodeBody(w, r, &req) {
			return
		}

		ctl, err := s.Control(req.Path)
		if err != nil {
			httpError(w, http.StatusNotFound, "not_found", "%v", err)
			return
		}
		if err := ctl.Activate(); err != nil {
			writeControlError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, s.Dialogs())
	})
}

func handleListDialogs(deps AppDeps) http.HandlerFunc {
	return withSession(deps, func(w http.ResponseWriter, r *http.Request, s *Session) {
		writeJSON(w, http.StatusOK, s.Dialogs())
	})
}

// DialogAnswer is the body of POST /sessions/{id}/dialogs/{dialogID}.
type DialogAnswer struct {
	Button schema.Button `json:"button"`
	Result any           `json:"result"`
}

func handleResolveDialog(deps AppDeps) http.HandlerFunc {
	return withSession(deps, func(w http.ResponseWriter, r *http.Request, s *Session) {
		var ans DialogAnswer
		if !decodeBody(w, r, &ans) {
			return
		}
		switch ans.Button {
		case schema.ButtonOK, schema.ButtonCancel, schema.ButtonDismiss:
		default:
			httpError(w, http.StatusBadRequest, "invalid_request_error", "unknown button %q", ans.Button)
			return
		}

		if err := s.ResolveDialog(chi.URLParam(r, "dialogID"), ans.Button, ans.Result); err != nil {
			httpError(w, http.StatusNotFound, "not_found", "dialog not found")
			return
		}
		writeJSON(w, http.StatusOK, viewOf(s))
	})
}

func handleSaveSession(deps AppDeps) http.HandlerFunc {
	return withSession(deps, func(w http.ResponseWriter, r *http.Request, s *Session) {
		err := s.Model().Save(r.Context())
		if errors.Is(err, viewmodel.ErrSaveInFlight) {
			httpError(w, http.StatusConflict, "conflict", "a save is already in progress")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
			return
		}
		writeJSON(w, http.StatusOK, viewOf(s))
	})
}

func handleRefreshSession(deps AppDeps) http.HandlerFunc {
	return withSession(deps, func(w http.ResponseWriter, r *http.Request, s *Session) {
		if err := s.Model().Refresh(r.Context()); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
			return
		}
		writeJSON(w, http.StatusOK, viewOf(s))
	})
}

// SettingsView is the stored settings document next to the defaults.
type SettingsView struct {
	Settings tree.Tree `json:"settings"`
	Defaults tree.Tree `json:"defaults"`
}

// currentSettings reads the saved scopes into one tree.
func currentSettings(ctx context.Context, store *storage.Store, cfg viewmodel.Configuration) (SettingsView, error) {
	st := storage.NewSettings(store)
	if err := st.Load(ctx); err != nil {
		return SettingsView{}, err
	}

	view := SettingsView{Settings: tree.Tree{}, Defaults: tree.Tree{}}
	for scope, key := range viewmodel.DefaultScopes() {
		if doc := st.Get(scope, "", nil); doc != nil {
			view.Settings[key] = doc
		}
	}
	if cfg != nil {
		if d, ok := cfg.Get("defaults", nil).(map[string]any); ok {
			view.Defaults = d
		}
	}
	return view, nil
}

func handleGetSettings(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		view, err := currentSettings(r.Context(), deps.Store, deps.Config)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load settings: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, view)
	}
}

// ValueView is one resolved setting. Source is "settings", "defaults" or
// "unset".
type ValueView struct {
	Path   string `json:"path"`
	Value  any    `json:"value"`
	Source string `json:"source"`
}

func handleGetValue(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Query().Get("path")
		if path == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "path is required")
			return
		}
		view, err := currentSettings(r.Context(), deps.Store, deps.Config)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load settings: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, resolveValue(view, path))
	}
}

func resolveValue(view SettingsView, path string) ValueView {
	if v := tree.Resolve(view.Settings, path, tree.Undefined); !tree.IsUndefined(v) {
		return ValueView{Path: path, Value: v, Source: "settings"}
	}
	if v := tree.Resolve(view.Defaults, path, tree.Undefined); !tree.IsUndefined(v) {
		return ValueView{Path: path, Value: v, Source: "defaults"}
	}
	return ValueView{Path: path, Source: "unset"}
}

func handlePutValue(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Query().Get("path")
		if path == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "path is required")
			return
		}
		var req struct {
			Value any `json:"value"`
		}
		if !decodeBody(w, r, &req) {
			return
		}

		if err := deps.Sessions.SetValue(r.Context(), path, req.Value); err != nil {
			writeControlError(w, err)
			return
		}

		view, err := currentSettings(r.Context(), deps.Store, deps.Config)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load settings: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, resolveValue(view, path))
	}
}

// HistoryEntry is one saved revision.
type HistoryEntry struct {
	ID       string    `json:"id"`
	Scope    string    `json:"scope"`
	Revision int       `json:"revision"`
	Document tree.Tree `json:"document"`
	SavedAt  time.Time `json:"saved_at"`
}

func handleHistory(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 100)
		revs, err := deps.Store.ListHistory(r.Context(), r.URL.Query().Get("scope"), limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list history: %v", err)
			return
		}

		out := make([]HistoryEntry, 0, len(revs))
		for _, rev := range revs {
			out = append(out, HistoryEntry{
				ID:       rev.ID,
				Scope:    rev.Scope,
				Revision: rev.Revision,
				Document: rev.Document,
				SavedAt:  rev.SavedAt,
			})
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// writeControlError maps control and save errors to HTTP statuses.
func writeControlError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrUnknownPath):
		httpError(w, http.StatusNotFound, "not_found", "%v", err)
	case errors.Is(err, field.ErrInvalidValue):
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
	case errors.Is(err, field.ErrReadOnly), errors.Is(err, field.ErrNoDialog):
		httpError(w, http.StatusConflict, "conflict", "%v", err)
	case errors.Is(err, viewmodel.ErrSaveInFlight):
		httpError(w, http.StatusConflict, "conflict", "a save is already in progress")
	default:
		httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
