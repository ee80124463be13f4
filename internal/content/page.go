package content

import (
	"context"
	"slices"
)

// Page is one content file as seen by one actor in one read cycle.
type Page struct {
	ID          string
	URL         string
	Hidden      bool
	RawMarkdown string
	RawContent  string
	Meta        Meta

	// File is the slash path relative to the content filesystem root.
	File string
	// FilePath is File joined onto the filesystem root.
	FilePath string

	// Children holds direct child ids; only set when the page tree is built.
	Children []string
}

func (p *Page) clone() *Page {
	cp := *p
	cp.Meta = p.Meta.Clone()
	cp.Children = slices.Clone(p.Children)
	return &cp
}

// PageSet is the ordered, id-keyed result of a read cycle.
type PageSet struct {
	order []string
	byID  map[string]*Page
}

func newPageSet() *PageSet {
	return &PageSet{byID: make(map[string]*Page)}
}

func (s *PageSet) add(p *Page) {
	if _, dup := s.byID[p.ID]; !dup {
		s.order = append(s.order, p.ID)
	}
	s.byID[p.ID] = p
}

func (s *PageSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.order)
}

func (s *PageSet) Get(id string) (*Page, bool) {
	if s == nil {
		return nil, false
	}
	p, ok := s.byID[id]
	return p, ok
}

// IDs returns page ids in read order.
func (s *PageSet) IDs() []string {
	if s == nil {
		return nil
	}
	return slices.Clone(s.order)
}

// All returns the pages in read order.
func (s *PageSet) All() []*Page {
	if s == nil {
		return nil
	}
	out := make([]*Page, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.byID[id])
	}
	return out
}

// Roles, highest first.
const (
	RoleSuperAdmin = "Super Admin"
	RoleEditor     = "Editor"
	RoleReader     = "Reader"
	RoleGuest      = "Guest"
)

var roleOrder = []string{RoleSuperAdmin, RoleEditor, RoleReader, RoleGuest}

// Roles returns the known roles ordered from most to least privileged.
func Roles() []string { return slices.Clone(roleOrder) }

// RoleGranted reports whether role ranks at or above minRole. Unknown
// roles rank below Guest; an unknown minRole grants nobody.
func RoleGranted(minRole, role string) bool {
	need := slices.Index(roleOrder, minRole)
	have := slices.Index(roleOrder, role)
	if need < 0 || have < 0 {
		return false
	}
	return have <= need
}

// Actor is the user a read cycle runs as.
type Actor struct {
	Username string
	Role     string
}

// GuestActor is used when nobody is signed in.
var GuestActor = Actor{Username: RoleGuest, Role: RoleGuest}

// UserHandler resolves the current actor and answers role checks.
type UserHandler interface {
	CurrentUser(ctx context.Context) Actor
	IsGranted(minRole string, actor Actor) bool
}

// RequestContext is the per-cycle input a Store needs besides its options.
type RequestContext struct {
	Actor Actor
	// Path is the request path or CLI target; informational only.
	Path string
}

// NewRequestContext resolves the actor through users; nil users means Guest.
func NewRequestContext(ctx context.Context, users UserHandler, path string) RequestContext {
	actor := GuestActor
	if users != nil {
		actor = users.CurrentUser(ctx)
	}
	return RequestContext{Actor: actor, Path: path}
}
