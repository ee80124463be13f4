// Command pagectl runs one page operation against a content directory
// and exits. It reads the same flags, FLATCMS_ environment and config
// file as the server, so both see the same pages.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/go-git/go-billy/v5/osfs"
	"gopkg.in/yaml.v3"

	"github.com/keithlinneman/flatcms/internal/cfg"
	"github.com/keithlinneman/flatcms/internal/content"
	"github.com/keithlinneman/flatcms/internal/log"
	"github.com/keithlinneman/flatcms/internal/mirror"
	"github.com/keithlinneman/flatcms/internal/users"
	"github.com/keithlinneman/flatcms/internal/xerrors"
)

const usage = `usage: pagectl [flags] <command> [args]

commands:
  list                         list visible pages
  tree                         print the page tree
  show [-render] <id>          print a page's meta and body
  create [-folder] <parent> <title>
  edit [-body file|-] [-set key=value]... <id>
  delete <id>
  passwd <username>            read a new password from stdin
  role <username> <role>

run "pagectl -h" for flags; -as picks the user the command runs as.
`

var errUsage = errors.New("usage")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

type app struct {
	conf   cfg.App
	as     string
	asJSON bool
	cmd    string

	dir   *users.Directory
	store *content.Store

	stdin  io.Reader
	stdout io.Writer
	L      log.Logger
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	a := &app{stdin: stdin, stdout: stdout}

	fs := flag.NewFlagSet("pagectl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprint(stderr, usage)
		fs.PrintDefaults()
	}
	cfg.Register(fs, &a.conf)
	fs.StringVar(&a.as, "as", "", "username to run as; empty means Guest")
	fs.BoolVar(&a.asJSON, "json", false, "print JSON instead of text")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	warnf := func(format string, args ...any) { fmt.Fprintf(stderr, format+"\n", args...) }
	cfg.FillFromEnv(fs, "FLATCMS_", warnf)
	if err := cfg.ApplyFile(fs, a.conf.ConfigFile, warnf); err != nil {
		fmt.Fprintln(stderr, "config error:", err)
		return 1
	}

	lvl, err := log.ParseLevel(a.conf.LogLevel)
	if err != nil {
		fmt.Fprintln(stderr, "config error:", err)
		return 1
	}
	lg, err := log.New(log.Options{App: "pagectl", Level: lvl, JSON: a.conf.LogJSON, Writer: stderr, File: a.conf.LogFile})
	if err != nil {
		fmt.Fprintln(stderr, "logger init error:", err)
		return 1
	}
	defer lg.Sync()
	a.L = lg.With("component", "pagectl")
	ctx = log.WithContext(ctx, a.L)

	rest := fs.Args()
	if len(rest) == 0 {
		fs.Usage()
		return 2
	}
	if err := a.setup(ctx); err != nil {
		a.L.Error(ctx, err, "setup failed")
		return 1
	}

	err = a.dispatch(ctx, rest[0], rest[1:])
	switch {
	case err == nil:
		return 0
	case errors.Is(err, errUsage):
		fmt.Fprint(stderr, usage)
		return 2
	default:
		fmt.Fprintln(stderr, "pagectl:", err)
		return 1
	}
}

// setup builds the store for this one processing cycle.
func (a *app) setup(ctx context.Context) error {
	dir, err := users.Load(a.conf.UsersFile)
	if err != nil {
		return err
	}
	a.dir = dir

	if a.as != "" {
		if _, ok := dir.Find(a.as); !ok {
			return xerrors.Newf("unknown user %q", a.as)
		}
		ctx = users.WithActor(ctx, content.Actor{Username: a.as})
	}

	opts := content.StoreOptions{
		FS:       osfs.New(a.conf.ContentDir),
		Ext:      a.conf.ContentExt,
		Users:    dir,
		PageTree: a.conf.PageTree,
		Logger:   a.L,
	}
	if a.conf.URLMode == cfg.URLModeQuery {
		opts.URLs = content.QueryURLs{Base: a.conf.URLBase}
	} else {
		opts.URLs = content.PathURLs{Base: a.conf.URLBase}
	}
	if a.conf.MirrorS3Bucket != "" {
		mr, err := mirror.New(ctx, mirror.Options{Logger: a.L, Bucket: a.conf.MirrorS3Bucket, Prefix: a.conf.MirrorS3Prefix})
		if err != nil {
			return err
		}
		opts.Observer = mr
	}
	a.store = content.NewStore(opts, content.NewRequestContext(ctx, dir, "pagectl"))
	return nil
}

func (a *app) dispatch(ctx context.Context, cmd string, args []string) error {
	a.cmd = cmd
	switch cmd {
	case "list":
		return a.list(ctx)
	case "tree":
		return a.tree(ctx)
	case "show":
		return a.show(ctx, args)
	case "create":
		return a.create(ctx, args)
	case "edit":
		return a.edit(ctx, args)
	case "delete":
		return a.remove(ctx, args)
	case "passwd":
		return a.passwd(args)
	case "role":
		return a.role(args)
	}
	return xerrors.Wrapf(errUsage, "unknown command %q", cmd)
}

type pageOut struct {
	ID       string       `json:"id"`
	URL      string       `json:"url"`
	Title    string       `json:"title"`
	File     string       `json:"file"`
	Hidden   bool         `json:"hidden"`
	Renderer string       `json:"renderer"`
	Meta     content.Meta `json:"meta,omitempty"`
	Body     string       `json:"body,omitempty"`
}

func toOut(p *content.Page) pageOut {
	return pageOut{
		ID:       p.ID,
		URL:      p.URL,
		Title:    p.Meta.Title(),
		File:     p.File,
		Hidden:   p.Hidden,
		Renderer: content.KindOf(p).String(),
	}
}

func (a *app) printJSON(v any) error {
	enc := json.NewEncoder(a.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (a *app) list(ctx context.Context) error {
	set, err := a.store.Pages(ctx)
	if err != nil {
		return err
	}
	out := make([]pageOut, 0, set.Len())
	for _, p := range set.All() {
		out = append(out, toOut(p))
	}
	if a.asJSON {
		return a.printJSON(out)
	}
	tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTITLE\tRENDERER\tHIDDEN")
	for _, p := range out {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%v\n", p.ID, p.Title, p.Renderer, p.Hidden)
	}
	return tw.Flush()
}

func (a *app) tree(ctx context.Context) error {
	t, err := a.store.Tree(ctx)
	if err != nil {
		if errors.Is(err, content.ErrTreeDisabled) {
			return xerrors.New("tree needs -page-tree=true")
		}
		return err
	}
	if t.Root() == nil {
		return nil
	}
	return t.Walk(func(p *content.Page, depth int) error {
		_, err := fmt.Fprintf(a.stdout, "%s%s  %s\n", strings.Repeat("  ", depth), p.ID, p.Meta.Title())
		return err
	})
}

func (a *app) show(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("show", flag.ContinueOnError)
	render := fs.Bool("render", false, "print rendered HTML instead of the raw body")
	if err := fs.Parse(args); err != nil || fs.NArg() != 1 {
		return errUsage
	}
	p, err := a.page(ctx, fs.Arg(0))
	if err != nil {
		return err
	}
	out := toOut(p)
	out.Meta = p.Meta
	out.Body = p.RawContent
	if *render {
		if out.Body, err = a.store.Render(ctx, p); err != nil {
			return err
		}
	}
	if a.asJSON {
		return a.printJSON(out)
	}
	meta, err := yaml.Marshal(map[string]any(p.Meta))
	if err != nil {
		return xerrors.Wrap(err, "encode meta")
	}
	_, err = fmt.Fprintf(a.stdout, "---\n%s---\n%s\n", meta, out.Body)
	return err
}

func (a *app) page(ctx context.Context, id string) (*content.Page, error) {
	p, ok, err := a.store.Page(ctx, normalizeID(id))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, xerrors.Wrapf(content.ErrNotFound, "page %s", id)
	}
	return p, nil
}

func (a *app) create(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("create", flag.ContinueOnError)
	folder := fs.Bool("folder", false, "create a folder page that can hold children")
	if err := fs.Parse(args); err != nil || fs.NArg() != 2 {
		return errUsage
	}
	if err := a.requireRole(content.RoleEditor); err != nil {
		return err
	}
	title := strings.TrimSpace(fs.Arg(1))
	if title == "" {
		return xerrors.Wrap(errUsage, "title is empty")
	}
	p, err := a.store.Create(ctx, normalizeID(fs.Arg(0)), title, *folder)
	if err != nil {
		return err
	}
	if a.asJSON {
		return a.printJSON(toOut(p))
	}
	_, err = fmt.Fprintln(a.stdout, p.ID)
	return err
}

// metaFlags collects repeated -set key=value pairs.
type metaFlags content.Meta

func (m metaFlags) String() string { return "" }

func (m metaFlags) Set(s string) error {
	k, val, ok := strings.Cut(s, "=")
	if !ok || strings.TrimSpace(k) == "" {
		return fmt.Errorf("want key=value, got %q", s)
	}
	m[strings.TrimSpace(k)] = val
	return nil
}

func (a *app) edit(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("edit", flag.ContinueOnError)
	bodyFile := fs.String("body", "", "file with the new body; - reads stdin; empty keeps the body")
	patch := metaFlags{}
	fs.Var(patch, "set", "meta key=value to set (repeatable)")
	if err := fs.Parse(args); err != nil || fs.NArg() != 1 {
		return errUsage
	}
	if err := a.requireRole(content.RoleEditor); err != nil {
		return err
	}
	id := normalizeID(fs.Arg(0))

	// empty keeps the current body
	var body string
	switch *bodyFile {
	case "":
	case "-":
		b, err := io.ReadAll(a.stdin)
		if err != nil {
			return xerrors.Wrap(err, "read body from stdin")
		}
		body = string(b)
	default:
		b, err := os.ReadFile(*bodyFile)
		if err != nil {
			return xerrors.Wrap(err, "read body file")
		}
		body = string(b)
	}

	ok, err := a.store.Edit(ctx, id, body, content.Meta(patch))
	if err != nil {
		return err
	}
	if !ok {
		return xerrors.Newf("edit of %s not applied", id)
	}
	a.L.Info(ctx, "page edited", "id", id, "meta_keys", sortedKeys(patch))
	return nil
}

func (a *app) remove(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	if err := a.requireRole(content.RoleEditor); err != nil {
		return err
	}
	id := normalizeID(args[0])
	if id == content.RootID {
		return xerrors.New("the root page cannot be deleted")
	}
	if _, err := a.page(ctx, id); err != nil {
		return err
	}
	if _, err := a.store.Delete(ctx, id); err != nil {
		return err
	}
	a.L.Info(ctx, "page deleted", "id", id)
	return nil
}

// requireRole applies the same role checks as the pages API.
func (a *app) requireRole(minRole string) error {
	if !a.dir.IsGranted(minRole, a.store.Actor()) {
		return xerrors.Newf("%s needs -as with role %q or higher", a.cmd, minRole)
	}
	return nil
}

func (a *app) passwd(args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	if err := a.requireRole(content.RoleSuperAdmin); err != nil {
		return err
	}
	line, err := bufio.NewReader(a.stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return xerrors.Wrap(err, "read password")
	}
	pw := strings.TrimRight(line, "\r\n")
	if pw == "" {
		return xerrors.New("empty password")
	}
	return a.dir.SetPassword(args[0], pw)
}

func (a *app) role(args []string) error {
	if len(args) != 2 {
		return errUsage
	}
	if err := a.requireRole(content.RoleSuperAdmin); err != nil {
		return err
	}
	return a.dir.SetRole(args[0], args[1])
}

// normalizeID accepts "docs/intro", "/docs/intro/" and "" for the root.
func normalizeID(s string) string {
	s = strings.Trim(strings.TrimSpace(s), "/")
	if s == "" {
		return content.RootID
	}
	return "/" + s
}

func sortedKeys(m metaFlags) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
