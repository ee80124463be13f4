package content

// Tree indexes a PageSet by parent. Pages live once in the arena and
// are linked by id only.
type Tree struct {
	rootID   string
	pages    map[string]*Page
	children map[string][]string
}

// BuildTree links every page to its direct children, starting at rootID.
// Pages not reachable from the root stay out of the tree. Cost is
// quadratic in the page count.
func BuildTree(rootID string, set *PageSet) *Tree {
	t := &Tree{
		rootID:   rootID,
		pages:    make(map[string]*Page),
		children: make(map[string][]string),
	}
	root, ok := set.Get(rootID)
	if !ok {
		return t
	}
	all := set.All()
	var attach func(p *Page)
	attach = func(p *Page) {
		t.pages[p.ID] = p
		var kids []string
		for _, c := range all {
			if IsDirectChild(c.ID, p.ID) {
				kids = append(kids, c.ID)
				attach(c)
			}
		}
		t.children[p.ID] = kids
		p.Children = kids
	}
	attach(root)
	return t
}

// Root returns nil when the root page is not visible.
func (t *Tree) Root() *Page { return t.pages[t.rootID] }

func (t *Tree) Get(id string) (*Page, bool) {
	p, ok := t.pages[id]
	return p, ok
}

func (t *Tree) Len() int { return len(t.pages) }

// Children returns the direct children of id in read order.
func (t *Tree) Children(id string) []*Page {
	ids := t.children[id]
	out := make([]*Page, 0, len(ids))
	for _, c := range ids {
		out = append(out, t.pages[c])
	}
	return out
}

// Walk visits the tree depth-first from the root, parents before children.
// A non-nil error from fn stops the walk and is returned.
func (t *Tree) Walk(fn func(p *Page, depth int) error) error {
	root := t.Root()
	if root == nil {
		return nil
	}
	var visit func(id string, depth int) error
	visit = func(id string, depth int) error {
		if err := fn(t.pages[id], depth); err != nil {
			return err
		}
		for _, c := range t.children[id] {
			if err := visit(c, depth+1); err != nil {
				return err
			}
		}
		return nil
	}
	return visit(root.ID, 0)
}
