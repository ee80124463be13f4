package users

import (
	"net/http"

	"github.com/gorilla/sessions"

	"github.com/keithlinneman/flatcms/internal/content"
	"github.com/keithlinneman/flatcms/internal/log"
)

const (
	sessionName = "flatcms_session"
	usernameKey = "username"
)

// SessionOptions configures the session cookie.
type SessionOptions struct {
	Secret []byte
	// Secure marks the cookie HTTPS-only.
	Secure bool
	// MaxAge in seconds; zero means 12h.
	MaxAge int
}

// Sessions maps a signed cookie to the actor of a request.
type Sessions struct {
	store sessions.Store
	dir   *Directory
}

func NewSessions(dir *Directory, opts SessionOptions) *Sessions {
	store := sessions.NewCookieStore(opts.Secret)
	maxAge := opts.MaxAge
	if maxAge == 0 {
		maxAge = 60 * 60 * 12
	}
	store.Options = &sessions.Options{
		Path:     "/",
		HttpOnly: true,
		MaxAge:   maxAge,
		SameSite: http.SameSiteLaxMode,
		Secure:   opts.Secure,
	}
	return &Sessions{store: store, dir: dir}
}

// Middleware puts the signed-in actor on the request context. Requests
// with no cookie, a bad cookie or an unknown user proceed as Guest.
func (s *Sessions) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, err := s.store.Get(r, sessionName)
		if err != nil {
			log.FromContext(r.Context()).Debug(r.Context(), "ignoring unreadable session cookie", "error", err)
		}
		if sess != nil {
			if name, ok := sess.Values[usernameKey].(string); ok && name != "" {
				if u, found := s.dir.Find(name); found {
					r = r.WithContext(WithActor(r.Context(), content.Actor{Username: u.Username, Role: u.Role}))
				}
			}
		}
		next.ServeHTTP(w, r)
	})
}

// Login authenticates and writes the session cookie.
func (s *Sessions) Login(w http.ResponseWriter, r *http.Request, username, password string) (content.Actor, error) {
	actor, err := s.dir.Authenticate(username, password)
	if err != nil {
		return actor, err
	}
	sess, _ := s.store.Get(r, sessionName)
	sess.Values[usernameKey] = actor.Username
	if err := sess.Save(r, w); err != nil {
		return content.GuestActor, err
	}
	return actor, nil
}

// Logout expires the session cookie.
func (s *Sessions) Logout(w http.ResponseWriter, r *http.Request) error {
	sess, _ := s.store.Get(r, sessionName)
	delete(sess.Values, usernameKey)
	sess.Options.MaxAge = -1
	return sess.Save(r, w)
}
