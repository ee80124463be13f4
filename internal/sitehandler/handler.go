package sitehandler

import (
	"bytes"
	"errors"
	"html/template"
	"net/http"
	"strconv"

	"github.com/keithlinneman/flatcms/internal/content"
	"github.com/keithlinneman/flatcms/internal/cryptoutil"
	"github.com/keithlinneman/flatcms/internal/log"
	"github.com/keithlinneman/flatcms/internal/webassets"
)

var ErrInvalidOptions = errors.New("sitehandler: invalid options")

// Handler renders the visible page named by the request into the page
// layout. Pages the actor may not see are indistinguishable from pages
// that do not exist.
type Handler struct {
	opts Options
}

func New(opts Options) (*Handler, error) {
	if err := opts.setDefaults(); err != nil {
		return nil, err
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}
	return &Handler{opts: opts}, nil
}

type link struct {
	URL   string
	Title string
}

type pageView struct {
	Title       string
	Description string
	Robots      string
	HomeURL     string
	SignedIn    bool
	Username    string
	Children    []link
	Body        template.HTML
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		w.Header().Set("Cache-Control", "no-store")
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	id, redirectTo, ok := resolveID(r, h.opts.Base, h.opts.QueryURLs)
	if redirectTo != "" {
		http.Redirect(w, r, redirectTo, http.StatusPermanentRedirect)
		return
	}
	if !ok {
		h.serveNotFound(w, r)
		return
	}

	ctx := r.Context()
	L := log.FromContext(ctx)
	store := h.opts.NewStore(r)

	page, found, err := store.Page(ctx, id)
	if err != nil {
		h.serveError(w, r, err)
		return
	}
	if !found {
		h.serveNotFound(w, r)
		return
	}

	body, err := store.Render(ctx, page)
	if err != nil {
		h.serveError(w, r, err)
		return
	}

	actor := store.Actor()
	view := pageView{
		Title:       page.Meta.Title(),
		Description: page.Meta.Text(content.KeyDescription),
		Robots:      page.Meta.Text(content.KeyRobots),
		HomeURL:     h.homeURL(),
		SignedIn:    actor != content.GuestActor,
		Username:    actor.Username,
		Children:    h.children(r, store, page),
		// authored content is trusted, only editors can write it
		Body: template.HTML(body),
	}
	if view.Title == "" {
		view.Title = page.ID
	}

	var buf bytes.Buffer
	if err := h.layoutFor(page).Execute(&buf, view); err != nil {
		h.serveError(w, r, err)
		return
	}

	etag := cryptoutil.ETag(buf.Bytes())
	w.Header().Set("ETag", etag)
	if cryptoutil.ETagMatches(r.Header.Get("If-None-Match"), etag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	if _, err := w.Write(buf.Bytes()); err != nil {
		L.Debug(ctx, "write page response", "id", page.ID, "err", err)
	}
}

// layoutFor honors a page's "template" meta when the named layout exists.
func (h *Handler) layoutFor(p *content.Page) *template.Template {
	if name := p.Meta.Text(content.KeyTemplate); name != "" && name != webassets.NotFoundTemplate {
		if t := h.opts.Templates.Lookup(name + ".html"); t != nil {
			return t
		}
	}
	return h.opts.Templates.Lookup(webassets.PageTemplate)
}

// children lists visible, non-hidden direct children when the page tree
// is enabled.
func (h *Handler) children(r *http.Request, store *content.Store, p *content.Page) []link {
	tree, err := store.Tree(r.Context())
	if err != nil {
		return nil
	}
	var out []link
	for _, c := range tree.Children(p.ID) {
		if c.Hidden {
			continue
		}
		title := c.Meta.Title()
		if title == "" {
			title = c.ID
		}
		out = append(out, link{URL: c.URL, Title: title})
	}
	return out
}

func (h *Handler) homeURL() string {
	return h.opts.Base + "/"
}

func (h *Handler) serveNotFound(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store")
	var buf bytes.Buffer
	if err := h.opts.Templates.ExecuteTemplate(&buf, webassets.NotFoundTemplate, pageView{HomeURL: h.homeURL()}); err != nil {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("404 page not found"))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusNotFound)
	if r.Method != http.MethodHead {
		_, _ = w.Write(buf.Bytes())
	}
}

func (h *Handler) serveError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	L := log.FromContext(ctx)
	if content.IsIntegrity(err) {
		L.Error(ctx, err, "content integrity violation, refusing to serve")
	} else {
		L.Error(ctx, err, "render page failed")
	}
	w.Header().Set("Cache-Control", "no-store")
	http.Error(w, "internal server error", http.StatusInternalServerError)
}
