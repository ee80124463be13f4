package content

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"regexp"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
)

// RendererKind selects the Handler for a page.
type RendererKind int

const (
	RendererMarkdown RendererKind = iota
	RendererAlternative
)

func (k RendererKind) String() string {
	switch k {
	case RendererMarkdown:
		return "markdown"
	case RendererAlternative:
		return "alternative"
	}
	return fmt.Sprintf("RendererKind(%d)", int(k))
}

// KindOf picks Markdown unless the page names a renderer in its meta. The
// renderer must be a plain extension other than the page file's own, since
// the sidecar would otherwise be the page file or sit outside its folder.
func KindOf(p *Page) RendererKind {
	r := strings.TrimPrefix(p.Meta.Renderer(), ".")
	if r == "" || !sidecarExt.MatchString(r) || strings.EqualFold("."+r, path.Ext(p.File)) {
		return RendererMarkdown
	}
	return RendererAlternative
}

var sidecarExt = regexp.MustCompile(`^[A-Za-z0-9]+$`)

// Handler renders one page and runs type-specific side effects for edits
// and deletes. The store calls SetPage before any other method.
type Handler interface {
	SetPage(p *Page)
	RenderPage(ctx context.Context) (string, error)
	// HandleUpdate returns the page the store should persist.
	HandleUpdate(ctx context.Context, id, newContent string, meta Meta) (*Page, error)
	HandleDelete(ctx context.Context) error
}

// NewMarkdown returns the default goldmark converter: GFM plus heading ids.
func NewMarkdown() goldmark.Markdown {
	return goldmark.New(
		goldmark.WithExtensions(extension.GFM),
		goldmark.WithParserOptions(parser.WithAutoHeadingID()),
	)
}

func newHandler(kind RendererKind, fsys billy.Filesystem, md goldmark.Markdown) Handler {
	if kind == RendererAlternative {
		return &AlternativeHandler{fsys: fsys}
	}
	return &MarkdownHandler{md: md}
}

// MarkdownHandler renders the page body as Markdown. Edits replace the
// body; deletes need no cleanup.
type MarkdownHandler struct {
	md   goldmark.Markdown
	page *Page
}

func (h *MarkdownHandler) SetPage(p *Page) { h.page = p }

func (h *MarkdownHandler) RenderPage(context.Context) (string, error) {
	md := h.md
	if md == nil {
		md = NewMarkdown()
	}
	var buf bytes.Buffer
	if err := md.Convert([]byte(h.page.RawContent), &buf); err != nil {
		return "", fmt.Errorf("render %s: %w", h.page.ID, err)
	}
	return buf.String(), nil
}

func (h *MarkdownHandler) HandleUpdate(_ context.Context, _ string, newContent string, meta Meta) (*Page, error) {
	p := h.page.clone()
	if newContent != "" {
		p.RawContent = newContent
	}
	p.Meta = meta
	return p, nil
}

func (h *MarkdownHandler) HandleDelete(context.Context) error { return nil }

// AlternativeHandler keeps the real body in a sidecar file next to the
// page, named after the page file with the renderer as extension
// ("a/b.md" with renderer "html" uses "a/b.html"). The page file then only
// carries meta. The sidecar is served verbatim.
type AlternativeHandler struct {
	fsys billy.Filesystem
	page *Page
}

func (h *AlternativeHandler) SetPage(p *Page) { h.page = p }

// Sidecar returns the sidecar path for the current page.
func (h *AlternativeHandler) Sidecar() string {
	return SidecarPath(h.page.File, h.page.Meta.Renderer())
}

// SidecarPath derives the sidecar name from a page file and renderer.
func SidecarPath(file, renderer string) string {
	stem := strings.TrimSuffix(file, path.Ext(file))
	return stem + "." + strings.TrimPrefix(renderer, ".")
}

func (h *AlternativeHandler) RenderPage(context.Context) (string, error) {
	f, err := h.fsys.Open(h.Sidecar())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("open sidecar for %s: %w", h.page.ID, err)
	}
	defer f.Close()
	b, err := io.ReadAll(f)
	if err != nil {
		return "", fmt.Errorf("read sidecar for %s: %w", h.page.ID, err)
	}
	return string(b), nil
}

// HandleUpdate writes newContent to the sidecar and leaves the page body
// untouched.
func (h *AlternativeHandler) HandleUpdate(_ context.Context, _ string, newContent string, meta Meta) (*Page, error) {
	p := h.page.clone()
	p.Meta = meta
	if newContent != "" {
		sidecar := SidecarPath(p.File, meta.Renderer())
		if err := util.WriteFile(h.fsys, sidecar, []byte(newContent), 0o644); err != nil {
			return nil, fmt.Errorf("write sidecar %s: %w", sidecar, err)
		}
	}
	return p, nil
}

// HandleDelete removes the sidecar; a missing sidecar is fine.
func (h *AlternativeHandler) HandleDelete(context.Context) error {
	if err := h.fsys.Remove(h.Sidecar()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove sidecar for %s: %w", h.page.ID, err)
	}
	return nil
}
