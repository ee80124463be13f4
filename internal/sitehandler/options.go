package sitehandler

import (
	"fmt"
	"html/template"
	"net/http"

	"github.com/keithlinneman/flatcms/internal/content"
	"github.com/keithlinneman/flatcms/internal/webassets"
)

// StoreFunc builds the request-scoped store a page is read through.
type StoreFunc func(r *http.Request) *content.Store

type Options struct {
	NewStore StoreFunc

	// Templates must define webassets.PageTemplate and
	// webassets.NotFoundTemplate. Defaults to the embedded layouts.
	Templates *template.Template

	// Base is the URL prefix pages are served under; "" and "/" mean root.
	Base string
	// QueryURLs serves ids from the query string ("/?docs/intro") instead
	// of the path, for hosts without path rewriting.
	QueryURLs bool
}

func (o *Options) setDefaults() error {
	if o.Templates == nil {
		tpl, err := webassets.Templates()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidOptions, err)
		}
		o.Templates = tpl
	}
	if o.Base == "/" {
		o.Base = ""
	}
	return nil
}

func (o *Options) validate() error {
	if o.NewStore == nil {
		return fmt.Errorf("%w: NewStore is nil", ErrInvalidOptions)
	}
	for _, name := range []string{webassets.PageTemplate, webassets.NotFoundTemplate} {
		if o.Templates.Lookup(name) == nil {
			return fmt.Errorf("%w: missing template %q", ErrInvalidOptions, name)
		}
	}
	return nil
}
