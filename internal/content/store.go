// internal/content/store.go
//
// Store is the page manager for one processing cycle. It reads the content
// filesystem lazily on first access, filters it for the cycle's actor and
// forces a fresh read after every successful mutation.
package content

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	"github.com/yuin/goldmark"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/keithlinneman/flatcms/internal/log"
	"github.com/keithlinneman/flatcms/internal/xerrors"
)

const (
	// DefaultExt is the content file extension.
	DefaultExt = ".md"

	rootContent    = "---\ntitle: Home\n---\nWelcome Home"
	newPageContent = "Write Some Content"
)

// StoreMetrics is implemented by the metrics package.
type StoreMetrics interface {
	ObserveReadCycle(seconds float64, pages int)
	IncParseError()
	IncMutation(op, result string)
}

// MutationObserver is told about every file a mutation wrote or removed,
// after the fact. It cannot fail the mutation.
type MutationObserver interface {
	PageWritten(ctx context.Context, file string, data []byte)
	PageRemoved(ctx context.Context, file string)
}

// StoreOptions are shared by every Store of a process and never mutated.
type StoreOptions struct {
	FS  billy.Filesystem
	Ext string

	URLs    URLScheme
	Users   UserHandler
	Headers []Header

	// PageTree builds the parent/child index on every read. Off by default
	// since it is quadratic in the page count.
	PageTree bool

	Markdown goldmark.Markdown
	Logger   log.Logger
	Metrics  StoreMetrics
	Observer MutationObserver

	// Now defaults to time.Now.
	Now func() time.Time
}

// Store is not safe for concurrent use; build one per request.
type Store struct {
	opts   StoreOptions
	rc     RequestContext
	tracer trace.Tracer

	pages *PageSet
	tree  *Tree
}

func NewStore(opts StoreOptions, rc RequestContext) *Store {
	if opts.Ext == "" {
		opts.Ext = DefaultExt
	}
	if opts.URLs == nil {
		opts.URLs = PathURLs{}
	}
	if opts.Headers == nil {
		opts.Headers = DefaultHeaders
	}
	if opts.Markdown == nil {
		opts.Markdown = NewMarkdown()
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if rc.Actor == (Actor{}) {
		rc.Actor = GuestActor
	}
	return &Store{
		opts:   opts,
		rc:     rc,
		tracer: otel.Tracer("flatcms/content"),
	}
}

// Actor returns the actor this store filters for.
func (s *Store) Actor() Actor { return s.rc.Actor }

// Pages returns the visible pages, reading the filesystem if needed.
func (s *Store) Pages(ctx context.Context) (*PageSet, error) {
	if s.pages == nil {
		if err := s.ReadPages(ctx); err != nil {
			return nil, err
		}
	}
	return s.pages, nil
}

// Tree returns ErrTreeDisabled unless StoreOptions.PageTree is set.
func (s *Store) Tree(ctx context.Context) (*Tree, error) {
	if !s.opts.PageTree {
		return nil, ErrTreeDisabled
	}
	if s.tree == nil {
		if err := s.ReadPages(ctx); err != nil {
			return nil, err
		}
	}
	return s.tree, nil
}

// Page looks id up in the tree when it is enabled, else in the flat set.
// A miss is not an error.
func (s *Store) Page(ctx context.Context, id string) (*Page, bool, error) {
	if s.opts.PageTree {
		t, err := s.Tree(ctx)
		if err != nil {
			return nil, false, err
		}
		p, ok := t.Get(id)
		return p, ok, nil
	}
	set, err := s.Pages(ctx)
	if err != nil {
		return nil, false, err
	}
	p, ok := set.Get(id)
	return p, ok, nil
}

// Render returns the page body rendered by its handler.
func (s *Store) Render(ctx context.Context, p *Page) (string, error) {
	return s.handlerFor(p).RenderPage(ctx)
}

func (s *Store) handlerFor(p *Page) Handler {
	h := newHandler(KindOf(p), s.opts.FS, s.opts.Markdown)
	h.SetPage(p)
	return h
}

func (s *Store) invalidate() {
	s.pages = nil
	s.tree = nil
}

// ReadPages runs a full read cycle. On error the previous cache is kept.
func (s *Store) ReadPages(ctx context.Context) (err error) {
	ctx, span := s.tracer.Start(ctx, "content.read_pages",
		trace.WithAttributes(attribute.String("actor", s.rc.Actor.Username)))
	defer func() { endSpan(span, err) }()
	start := s.opts.Now()

	if err := s.ensureRootPage(); err != nil {
		return err
	}

	files := ResolveConflicts(Discover(ctx, s.opts.FS, ".", s.opts.Ext), s.opts.Ext)
	filter := NewFilter(s.rc.Actor, s.opts.Users)
	set := newPageSet()

	for _, file := range files {
		p, err := s.buildPage(ctx, file)
		if err != nil {
			s.opts.Logger.Warn(ctx, "skipping unreadable page", "file", file, "err", err)
			continue
		}
		visible, err := filter.Visible(p)
		if err != nil {
			s.opts.Logger.Error(ctx, err, "content integrity violation", "id", p.ID, "file", p.File)
			return xerrors.WithStack(err)
		}
		if visible {
			set.add(p)
		}
	}

	s.pages = set
	s.tree = nil
	if s.opts.PageTree {
		s.tree = BuildTree(RootID, set)
		if s.tree.Root() == nil {
			s.opts.Logger.Debug(ctx, "root page not visible, tree is empty", "actor", s.rc.Actor.Username)
		}
	}

	span.SetAttributes(attribute.Int("pages", set.Len()), attribute.Int("files", len(files)))
	if s.opts.Metrics != nil {
		s.opts.Metrics.ObserveReadCycle(s.opts.Now().Sub(start).Seconds(), set.Len())
	}
	return nil
}

func (s *Store) buildPage(ctx context.Context, file string) (*Page, error) {
	raw, err := s.readFile(file)
	if err != nil {
		return nil, err
	}
	id := IdentityFor(file, s.opts.Ext)

	meta, perr := ParseMeta(raw, s.opts.Headers)
	if perr != nil {
		meta, _ = ParseMeta("", s.opts.Headers)
		meta[KeyParseError] = perr.Error()
		s.opts.Logger.Warn(ctx, "front matter parse error", "id", id, "file", file, "err", perr)
		if s.opts.Metrics != nil {
			s.opts.Metrics.IncParseError()
		}
	}
	meta[KeyParentPath] = ParentPath(id)

	return &Page{
		ID:          id,
		URL:         s.opts.URLs.URL(id),
		Hidden:      meta.Hidden() || IsHiddenID(id),
		RawMarkdown: raw,
		RawContent:  StripFrontMatter(raw),
		Meta:        meta,
		File:        file,
		FilePath:    s.absPath(file),
	}, nil
}

func (s *Store) readFile(file string) (string, error) {
	f, err := s.opts.FS.Open(file)
	if err != nil {
		return "", err
	}
	defer f.Close()
	b, err := io.ReadAll(f)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (s *Store) absPath(file string) string {
	return filepath.Join(s.opts.FS.Root(), filepath.FromSlash(file))
}

func (s *Store) exists(file string) bool {
	_, err := s.opts.FS.Stat(file)
	return err == nil
}

func (s *Store) ensureRootPage() error {
	root := indexName + s.opts.Ext
	if s.exists(root) {
		return nil
	}
	if err := util.WriteFile(s.opts.FS, root, []byte(rootContent), 0o644); err != nil {
		return xerrors.Wrapf(err, "create root page %s", root)
	}
	return nil
}

// Create writes a new page below parentID and returns it after a fresh
// read. Folders get their own directory with an index file. Existing
// files are never overwritten.
func (s *Store) Create(ctx context.Context, parentID, title string, isFolder bool) (p *Page, err error) {
	ctx, span := s.tracer.Start(ctx, "content.create",
		trace.WithAttributes(attribute.String("parent", parentID), attribute.Bool("folder", isFolder)))
	defer func() {
		endSpan(span, err)
		s.countMutation("create", err)
	}()

	if _, ok, err := s.Page(ctx, parentID); err != nil {
		return nil, err
	} else if !ok && parentID != RootID {
		return nil, fmt.Errorf("%w: %s", ErrParentNotFound, parentID)
	}

	parentDir := strings.TrimSuffix(parentID, indexName+s.opts.Ext)
	if !strings.HasSuffix(parentDir, "/") {
		parentDir += "/"
	}
	slug := Slug(title)
	id := parentDir + slug
	relDir := strings.TrimPrefix(parentDir, "/")

	var file string
	if isFolder {
		file = path.Join(relDir, slug, indexName+s.opts.Ext)
		if s.exists(path.Join(relDir, slug+s.opts.Ext)) {
			return nil, fmt.Errorf("%w: %s is already a page", ErrExists, id)
		}
	} else {
		file = path.Join(relDir, slug+s.opts.Ext)
		if s.exists(path.Join(relDir, slug, indexName+s.opts.Ext)) {
			return nil, fmt.Errorf("%w: %s is already a folder", ErrExists, id)
		}
	}
	if s.exists(file) {
		return nil, fmt.Errorf("%w: %s", ErrExists, file)
	}

	now := s.opts.Now().UTC().Format(dateTimeLayout)
	meta := Meta{
		KeyTitle:       title,
		KeyDateCreated: now,
		KeyDateUpdated: now,
		KeyOwner:       s.rc.Actor.Username,
	}
	data, err := EncodeFrontMatter(meta, newPageContent)
	if err != nil {
		return nil, err
	}
	if isFolder {
		if err := s.opts.FS.MkdirAll(path.Join(relDir, slug), 0o755); err != nil {
			return nil, xerrors.Wrapf(err, "create folder for %s", id)
		}
	}
	if err := util.WriteFile(s.opts.FS, file, data, 0o644); err != nil {
		return nil, xerrors.Wrapf(err, "write %s", file)
	}
	s.notifyWritten(ctx, file, data)
	s.opts.Logger.Info(ctx, "page created", "id", id, "file", file, "actor", s.rc.Actor.Username)

	s.invalidate()
	if err := s.ReadPages(ctx); err != nil {
		return nil, err
	}
	if created, ok := s.pages.Get(id); ok {
		return created, nil
	}
	// written but not visible to this actor, e.g. below a private folder
	meta[KeyParentPath] = ParentPath(id)
	return &Page{
		ID:          id,
		URL:         s.opts.URLs.URL(id),
		Hidden:      IsHiddenID(id),
		RawMarkdown: string(data),
		RawContent:  newPageContent,
		Meta:        meta,
		File:        file,
		FilePath:    s.absPath(file),
	}, nil
}

// Edit merges patch into the page's meta, replaces its body when
// newContent is non-empty and writes it back. ErrNotFound if id is not
// visible.
func (s *Store) Edit(ctx context.Context, id, newContent string, patch Meta) (ok bool, err error) {
	ctx, span := s.tracer.Start(ctx, "content.edit", trace.WithAttributes(attribute.String("id", id)))
	defer func() {
		endSpan(span, err)
		s.countMutation("edit", err)
	}()

	page, found, err := s.Page(ctx, id)
	if err != nil {
		return false, err
	}
	if !found {
		return false, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	meta := page.Meta.Clone()
	for k, v := range patch {
		meta[k] = plainValue(v)
	}
	if isEmpty(meta[KeyOwner]) {
		meta[KeyOwner] = s.rc.Actor.Username
	}
	if !isEmpty(meta[KeyDate]) && !isEmpty(meta[KeyTime]) {
		meta[KeyDateCreated] = legacyDateCreated(meta[KeyDate], meta[KeyTime])
		delete(meta, KeyDate)
		delete(meta, KeyTime)
	}
	meta[KeyDateUpdated] = s.opts.Now().UTC().Format(dateTimeLayout)

	next := page.clone()
	next.Meta = meta
	h := s.handlerFor(next)
	updated, err := h.HandleUpdate(ctx, id, newContent, meta)
	if err != nil {
		return false, err
	}

	data, err := EncodeFrontMatter(updated.Meta, updated.RawContent)
	if err != nil {
		return false, err
	}
	if err := util.WriteFile(s.opts.FS, updated.File, data, 0o644); err != nil {
		return false, xerrors.Wrapf(err, "write %s", updated.File)
	}
	s.notifyWritten(ctx, updated.File, data)
	if KindOf(updated) == RendererAlternative && newContent != "" {
		s.notifyWritten(ctx, SidecarPath(updated.File, updated.Meta.Renderer()), []byte(newContent))
	}
	s.opts.Logger.Info(ctx, "page edited", "id", id, "file", updated.File, "actor", s.rc.Actor.Username)

	s.invalidate()
	return true, nil
}

// legacyDateCreated folds separate date and time fields into one value.
// A numeric time is a unix timestamp and wins over the date.
func legacyDateCreated(date, tm any) string {
	if n, ok := asTimestamp(tm); ok {
		return time.Unix(n, 0).UTC().Format(dateTimeLayout)
	}
	return metaString(date) + " " + metaString(tm)
}

// Delete removes the page file after the handler's cleanup. A page that
// does not exist counts as deleted. When the file is gone but the reread
// fails, Delete returns true together with the read error.
func (s *Store) Delete(ctx context.Context, id string) (ok bool, err error) {
	ctx, span := s.tracer.Start(ctx, "content.delete", trace.WithAttributes(attribute.String("id", id)))
	defer func() {
		endSpan(span, err)
		s.countMutation("delete", err)
	}()

	page, found, err := s.Page(ctx, id)
	if err != nil {
		return false, err
	}
	if !found {
		return true, nil
	}

	if err := s.handlerFor(page).HandleDelete(ctx); err != nil {
		return false, err
	}
	if err := s.opts.FS.Remove(page.File); err != nil && !errors.Is(err, os.ErrNotExist) {
		return false, xerrors.Wrapf(err, "remove %s", page.File)
	}
	s.notifyRemoved(ctx, page.File)
	if KindOf(page) == RendererAlternative {
		s.notifyRemoved(ctx, SidecarPath(page.File, page.Meta.Renderer()))
	}
	s.opts.Logger.Info(ctx, "page deleted", "id", id, "file", page.File, "actor", s.rc.Actor.Username)

	s.invalidate()
	if err := s.ReadPages(ctx); err != nil {
		return true, err
	}
	return true, nil
}

func (s *Store) notifyWritten(ctx context.Context, file string, data []byte) {
	if s.opts.Observer != nil {
		s.opts.Observer.PageWritten(ctx, file, data)
	}
}

func (s *Store) notifyRemoved(ctx context.Context, file string) {
	if s.opts.Observer != nil {
		s.opts.Observer.PageRemoved(ctx, file)
	}
}

func (s *Store) countMutation(op string, err error) {
	if s.opts.Metrics == nil {
		return
	}
	result := "ok"
	switch {
	case err == nil:
	case errors.Is(err, ErrNotFound):
		result = "not_found"
	case errors.Is(err, ErrExists):
		result = "exists"
	default:
		result = "error"
	}
	s.opts.Metrics.IncMutation(op, result)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
