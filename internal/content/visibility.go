package content

// Filter decides per page whether the actor may see it. It is stateful:
// a restricted page that the actor cannot see hides everything below it
// for the rest of the traversal, so pages must be fed parent-first (see
// SortDepthFirst). Use one Filter per read cycle.
type Filter struct {
	actor   Actor
	users   UserHandler
	private []string
}

func NewFilter(actor Actor, users UserHandler) *Filter {
	return &Filter{actor: actor, users: users}
}

// Visible returns an *IntegrityError for a PRIVATE page without owner.
func (f *Filter) Visible(p *Page) (bool, error) {
	for _, prefix := range f.private {
		if IsDescendant(p.ID, prefix) {
			return false, nil
		}
	}

	sec := p.Meta.Security()
	if sec == SecurityPublic {
		return true, nil
	}

	visible := false
	switch sec {
	case SecurityPrivate:
		owner := p.Meta.Owner()
		if owner == "" {
			return false, &IntegrityError{ID: p.ID, Reason: "set to PRIVATE but has no owner"}
		}
		visible = f.actor.Username != "" && f.actor.Username == owner
	case SecurityProtected:
		minRole := p.Meta.MinRole()
		if minRole == "" {
			minRole = RoleGuest
		}
		visible = f.users != nil && f.users.IsGranted(minRole, f.actor)
	}

	if !visible {
		f.private = append(f.private, p.ID)
	}
	return visible, nil
}

// PrivatePrefixes returns the ids recorded as restricted so far.
func (f *Filter) PrivatePrefixes() []string {
	out := make([]string, len(f.private))
	copy(out, f.private)
	return out
}
