// Package pagesapi is the JSON API for reading and mutating pages and for
// signing in. Every request runs one content processing cycle as the
// request's actor, so responses only ever contain pages that actor may
// see.
package pagesapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/flatcms/internal/content"
	"github.com/keithlinneman/flatcms/internal/httpmw"
	"github.com/keithlinneman/flatcms/internal/log"
	"github.com/keithlinneman/flatcms/internal/pathutil"
	"github.com/keithlinneman/flatcms/internal/users"
)

var ErrInvalidOptions = errors.New("pagesapi: invalid options")

// StoreFunc builds the request-scoped store.
type StoreFunc func(r *http.Request) *content.Store

// Limiter is satisfied by *ratelimit.IPLimiter.
type Limiter interface {
	Allow(ip string) bool
	Middleware(next http.Handler) http.Handler
}

// Metrics counts login attempts by result: "ok", "denied" or "limited".
type Metrics interface {
	IncLogin(result string)
}

type Options struct {
	NewStore StoreFunc
	Users    content.UserHandler

	// Sessions and Directory are nil when no users file is configured;
	// the auth endpoints then answer 404.
	Sessions  *users.Sessions
	Directory *users.Directory

	// EditorRole is the minimum role for mutations; default Editor.
	EditorRole string

	// MaxBody caps request bodies; default 1 MiB.
	MaxBody int64

	LoginLimiter    Limiter
	MutationLimiter Limiter
	Metrics         Metrics
}

// API implements the /api endpoints.
type API struct {
	opts Options
}

func New(opts Options) (*API, error) {
	if opts.NewStore == nil {
		return nil, errors.Join(ErrInvalidOptions, errors.New("NewStore is nil"))
	}
	if opts.Users == nil {
		return nil, errors.Join(ErrInvalidOptions, errors.New("Users is nil"))
	}
	if opts.EditorRole == "" {
		opts.EditorRole = content.RoleEditor
	}
	if opts.MaxBody <= 0 {
		opts.MaxBody = 1 << 20
	}
	return &API{opts: opts}, nil
}

// RegisterRoutes attaches the API below /api.
func (api *API) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Use(httpmw.Scope("pagesapi"))

		r.Get("/pages", api.HandleList)
		r.Get("/pages/*", api.HandleGet)
		r.Get("/tree", api.HandleTree)
		r.Get("/me", api.HandleMe)

		r.Group(func(r chi.Router) {
			r.Use(httpmw.MaxBody(api.opts.MaxBody), httpmw.RequireJSON)
			r.Post("/login", api.HandleLogin)
			r.Post("/logout", api.HandleLogout)
			r.Put("/me/password", api.HandleChangePassword)

			r.Group(func(r chi.Router) {
				if api.opts.MutationLimiter != nil {
					r.Use(api.opts.MutationLimiter.Middleware)
				}
				r.Post("/pages", api.HandleCreate)
				r.Put("/pages/*", api.HandleEdit)
				r.Delete("/pages/*", api.HandleDelete)
			})
		})
	})
}

// pageID turns the wildcard of /api/pages/* into a page id.
func pageID(r *http.Request) (string, bool) {
	rest := chi.URLParam(r, "*")
	id := "/" + strings.Trim(rest, "/")
	if !pathutil.SafePageID(id) {
		return "", false
	}
	return id, true
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	// responses depend on the actor
	w.Header().Set("Cache-Control", "no-store")
	if v == nil {
		w.WriteHeader(status)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.FromContext(ctx).Warn(ctx, "failed to encode JSON response", "error", err)
	}
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, msg string) {
	writeJSON(ctx, w, status, errorResponse{Error: msg})
}

// writeContentError maps store errors to statuses. Details of unexpected
// errors stay in the log.
func writeContentError(ctx context.Context, w http.ResponseWriter, err error) {
	L := log.FromContext(ctx)
	switch {
	case errors.Is(err, content.ErrParentNotFound):
		writeError(ctx, w, http.StatusUnprocessableEntity, "parent page not found")
	case errors.Is(err, content.ErrNotFound):
		writeError(ctx, w, http.StatusNotFound, "page not found")
	case errors.Is(err, content.ErrExists):
		writeError(ctx, w, http.StatusConflict, "page already exists")
	case errors.Is(err, content.ErrTreeDisabled):
		writeError(ctx, w, http.StatusNotFound, "page tree is not enabled")
	case content.IsIntegrity(err):
		L.Error(ctx, err, "content integrity violation")
		writeError(ctx, w, http.StatusInternalServerError, "content integrity error")
	default:
		L.Error(ctx, err, "content operation failed")
		writeError(ctx, w, http.StatusInternalServerError, "internal server error")
	}
}

// decode reads a JSON body into v, rejecting unknown fields.
func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	// keeps integer meta such as unix times exact
	dec.UseNumber()
	return dec.Decode(v)
}

func writeDecodeError(ctx context.Context, w http.ResponseWriter, err error) {
	var tooBig *http.MaxBytesError
	if errors.As(err, &tooBig) {
		writeError(ctx, w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}
	writeError(ctx, w, http.StatusBadRequest, "invalid request body")
}

// requireRole answers 401 for guests and 403 for signed-in users below
// minRole. It returns false when the request was answered.
func (api *API) requireRole(w http.ResponseWriter, r *http.Request, store *content.Store, minRole string) bool {
	actor := store.Actor()
	if api.opts.Users.IsGranted(minRole, actor) {
		return true
	}
	ctx := r.Context()
	if actor == content.GuestActor {
		writeError(ctx, w, http.StatusUnauthorized, "sign in required")
		return false
	}
	log.FromContext(ctx).Info(ctx, "mutation denied", "user", actor.Username, "role", actor.Role, "required", minRole)
	writeError(ctx, w, http.StatusForbidden, "insufficient role")
	return false
}
