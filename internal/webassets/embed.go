// Package webassets embeds the HTML layouts pages are rendered into.
package webassets

import (
	"embed"
	"html/template"
	"io/fs"
)

//go:embed templates
var embedded embed.FS

// Layout names inside the set returned by Templates.
const (
	PageTemplate     = "page.html"
	NotFoundTemplate = "404.html"
)

// TemplatesFS returns the raw layout files.
func TemplatesFS() fs.FS {
	sub, err := fs.Sub(embedded, "templates")
	if err != nil {
		panic(err)
	}
	return sub
}

// Templates parses every embedded layout. Callers parse once at startup.
func Templates() (*template.Template, error) {
	return template.ParseFS(TemplatesFS(), "*.html")
}
