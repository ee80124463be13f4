package pagesapi

import (
	"errors"
	"net/http"

	"github.com/keithlinneman/flatcms/internal/content"
	"github.com/keithlinneman/flatcms/internal/httpmw"
	"github.com/keithlinneman/flatcms/internal/log"
	"github.com/keithlinneman/flatcms/internal/users"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type actorResponse struct {
	Username string `json:"username"`
	Role     string `json:"role"`
	SignedIn bool   `json:"signed_in"`
}

func actorBody(a content.Actor) actorResponse {
	return actorResponse{Username: a.Username, Role: a.Role, SignedIn: a != content.GuestActor}
}

func (api *API) countLogin(result string) {
	if api.opts.Metrics != nil {
		api.opts.Metrics.IncLogin(result)
	}
}

// HandleLogin checks credentials and sets the session cookie.
func (api *API) HandleLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if api.opts.Sessions == nil {
		writeError(ctx, w, http.StatusNotFound, "sign-in is not enabled")
		return
	}
	ip := httpmw.ClientIPFromContext(ctx)
	if api.opts.LoginLimiter != nil && !api.opts.LoginLimiter.Allow(ip) {
		api.countLogin("limited")
		writeError(ctx, w, http.StatusTooManyRequests, "too many requests")
		return
	}

	var req loginRequest
	if err := decode(r, &req); err != nil {
		writeDecodeError(ctx, w, err)
		return
	}
	actor, err := api.opts.Sessions.Login(w, r, req.Username, req.Password)
	switch {
	case errors.Is(err, users.ErrInvalidCredentials):
		api.countLogin("denied")
		// username is attacker-chosen, keep it out of the log
		log.FromContext(ctx).Info(ctx, "login denied")
		writeError(ctx, w, http.StatusUnauthorized, "invalid username or password")
		return
	case err != nil:
		log.FromContext(ctx).Error(ctx, err, "save session failed")
		writeError(ctx, w, http.StatusInternalServerError, "internal server error")
		return
	}
	api.countLogin("ok")
	log.FromContext(ctx).Info(ctx, "login", "user", actor.Username)
	writeJSON(ctx, w, http.StatusOK, actorBody(actor))
}

// HandleLogout expires the session cookie.
func (api *API) HandleLogout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if api.opts.Sessions == nil {
		writeError(ctx, w, http.StatusNotFound, "sign-in is not enabled")
		return
	}
	if err := api.opts.Sessions.Logout(w, r); err != nil {
		log.FromContext(ctx).Error(ctx, err, "expire session failed")
		writeError(ctx, w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(ctx, w, http.StatusNoContent, nil)
}

// HandleMe reports the request's actor.
func (api *API) HandleMe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	writeJSON(ctx, w, http.StatusOK, actorBody(api.opts.Users.CurrentUser(ctx)))
}

type passwordRequest struct {
	Old string `json:"old_password"`
	New string `json:"new_password"`
}

// HandleChangePassword lets a signed-in user replace their own password.
func (api *API) HandleChangePassword(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if api.opts.Directory == nil {
		writeError(ctx, w, http.StatusNotFound, "sign-in is not enabled")
		return
	}
	actor := api.opts.Users.CurrentUser(ctx)
	if actor == content.GuestActor {
		writeError(ctx, w, http.StatusUnauthorized, "sign in required")
		return
	}
	var req passwordRequest
	if err := decode(r, &req); err != nil {
		writeDecodeError(ctx, w, err)
		return
	}
	if req.New == "" {
		writeError(ctx, w, http.StatusBadRequest, "new_password is required")
		return
	}
	err := api.opts.Directory.ChangePassword(actor.Username, req.Old, req.New)
	switch {
	case errors.Is(err, users.ErrInvalidCredentials):
		writeError(ctx, w, http.StatusForbidden, "current password is wrong")
	case err != nil:
		log.FromContext(ctx).Error(ctx, err, "change password failed", "user", actor.Username)
		writeError(ctx, w, http.StatusInternalServerError, "internal server error")
	default:
		log.FromContext(ctx).Info(ctx, "password changed", "user", actor.Username)
		writeJSON(ctx, w, http.StatusNoContent, nil)
	}
}
