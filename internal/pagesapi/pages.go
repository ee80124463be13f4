package pagesapi

import (
	"net/http"
	"strings"

	"github.com/keithlinneman/flatcms/internal/content"
)

// PageResponse is a page as the API shows it. Content is only filled for
// single-page reads.
type PageResponse struct {
	ID       string       `json:"id"`
	URL      string       `json:"url"`
	Title    string       `json:"title"`
	Parent   string       `json:"parent"`
	File     string       `json:"file"`
	Hidden   bool         `json:"hidden"`
	Renderer string       `json:"renderer"`
	Meta     content.Meta `json:"meta"`
	Content  string       `json:"content,omitempty"`
	Children []string     `json:"children,omitempty"`
}

func pageResponse(p *content.Page, withContent bool) PageResponse {
	resp := PageResponse{
		ID:       p.ID,
		URL:      p.URL,
		Title:    p.Meta.Title(),
		Parent:   content.ParentPath(p.ID),
		File:     p.File,
		Hidden:   p.Hidden,
		Renderer: content.KindOf(p).String(),
		Meta:     p.Meta,
		Children: p.Children,
	}
	if withContent {
		resp.Content = p.RawContent
	}
	return resp
}

type listResponse struct {
	Pages []PageResponse `json:"pages"`
}

// HandleList serves every page visible to the actor, in read order.
func (api *API) HandleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	set, err := api.opts.NewStore(r).Pages(ctx)
	if err != nil {
		writeContentError(ctx, w, err)
		return
	}
	resp := listResponse{Pages: make([]PageResponse, 0, set.Len())}
	for _, p := range set.All() {
		resp.Pages = append(resp.Pages, pageResponse(p, false))
	}
	writeJSON(ctx, w, http.StatusOK, resp)
}

// HandleGet serves one page including its raw body.
func (api *API) HandleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := pageID(r)
	if !ok {
		writeError(ctx, w, http.StatusNotFound, "page not found")
		return
	}
	p, found, err := api.opts.NewStore(r).Page(ctx, id)
	if err != nil {
		writeContentError(ctx, w, err)
		return
	}
	if !found {
		writeError(ctx, w, http.StatusNotFound, "page not found")
		return
	}
	writeJSON(ctx, w, http.StatusOK, pageResponse(p, true))
}

type treeNode struct {
	ID       string   `json:"id"`
	URL      string   `json:"url"`
	Title    string   `json:"title"`
	Depth    int      `json:"depth"`
	Hidden   bool     `json:"hidden"`
	Children []string `json:"children"`
}

type treeResponse struct {
	Nodes []treeNode `json:"nodes"`
}

// HandleTree serves the page tree depth-first, parents before children.
func (api *API) HandleTree(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tree, err := api.opts.NewStore(r).Tree(ctx)
	if err != nil {
		writeContentError(ctx, w, err)
		return
	}
	resp := treeResponse{Nodes: make([]treeNode, 0, tree.Len())}
	_ = tree.Walk(func(p *content.Page, depth int) error {
		kids := p.Children
		if kids == nil {
			kids = []string{}
		}
		resp.Nodes = append(resp.Nodes, treeNode{
			ID:       p.ID,
			URL:      p.URL,
			Title:    p.Meta.Title(),
			Depth:    depth,
			Hidden:   p.Hidden,
			Children: kids,
		})
		return nil
	})
	writeJSON(ctx, w, http.StatusOK, resp)
}

type createRequest struct {
	Parent string `json:"parent"`
	Title  string `json:"title"`
	Folder bool   `json:"folder"`
}

// HandleCreate creates a page or folder below parent.
func (api *API) HandleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	store := api.opts.NewStore(r)
	if !api.requireRole(w, r, store, api.opts.EditorRole) {
		return
	}
	var req createRequest
	if err := decode(r, &req); err != nil {
		writeDecodeError(ctx, w, err)
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		writeError(ctx, w, http.StatusBadRequest, "title is required")
		return
	}
	if req.Parent == "" {
		req.Parent = content.RootID
	}
	p, err := store.Create(ctx, req.Parent, req.Title, req.Folder)
	if err != nil {
		writeContentError(ctx, w, err)
		return
	}
	w.Header().Set("Location", "/api/pages"+p.ID)
	writeJSON(ctx, w, http.StatusCreated, pageResponse(p, true))
}

type editRequest struct {
	Content string       `json:"content"`
	Meta    content.Meta `json:"meta"`
}

// HandleEdit merges meta into the page and replaces its body when content
// is non-empty. The response is the page as reread after the write.
func (api *API) HandleEdit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := pageID(r)
	if !ok {
		writeError(ctx, w, http.StatusNotFound, "page not found")
		return
	}
	store := api.opts.NewStore(r)
	if !api.requireRole(w, r, store, api.opts.EditorRole) {
		return
	}
	var req editRequest
	if err := decode(r, &req); err != nil {
		writeDecodeError(ctx, w, err)
		return
	}
	if _, err := store.Edit(ctx, id, req.Content, req.Meta); err != nil {
		writeContentError(ctx, w, err)
		return
	}
	p, found, err := store.Page(ctx, id)
	if err != nil {
		writeContentError(ctx, w, err)
		return
	}
	if !found {
		// the edit made the page invisible to its editor, e.g. PRIVATE
		// with another owner
		writeJSON(ctx, w, http.StatusNoContent, nil)
		return
	}
	writeJSON(ctx, w, http.StatusOK, pageResponse(p, true))
}

// HandleDelete removes a page. Deleting a missing page succeeds.
func (api *API) HandleDelete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := pageID(r)
	if !ok {
		writeError(ctx, w, http.StatusNotFound, "page not found")
		return
	}
	if id == content.RootID {
		writeError(ctx, w, http.StatusBadRequest, "the root page cannot be deleted")
		return
	}
	store := api.opts.NewStore(r)
	if !api.requireRole(w, r, store, api.opts.EditorRole) {
		return
	}
	if _, err := store.Delete(ctx, id); err != nil {
		writeContentError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusNoContent, nil)
}
