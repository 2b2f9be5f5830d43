// Package router matches in-app locations against the route table and drives
// navigation through the guard.
package router

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/jrsteele09/citycard-gateway/guard"
)

// CatchAll as a route path matches any location no other route matched.
const CatchAll = "*"

// Route is one entry of the route table. Child paths are relative to the
// parent and inherit its access requirements and layout.
type Route struct {
	Path     string
	Name     string
	Meta     guard.Meta
	Children []Route
}

// Location is a resolved navigation target.
type Location struct {
	Name     string
	Path     string
	FullPath string
	Params   map[string]string
	Query    url.Values
	Meta     guard.Meta
}

type entry struct {
	name     string
	segments []string
	catchAll bool
	meta     guard.Meta
}

// Table is an immutable, compiled route table.
type Table struct {
	entries []entry
}

// NewTable compiles routes. Routes are matched in declaration order, so
// static paths should precede parameterised siblings.
func NewTable(routes []Route) (*Table, error) {
	t := &Table{}
	names := map[string]bool{}
	if err := t.add(routes, "", guard.Meta{}, names); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Table) add(routes []Route, prefix string, parent guard.Meta, names map[string]bool) error {
	for _, r := range routes {
		if r.Name != "" {
			if names[r.Name] {
				return fmt.Errorf("[router.NewTable] duplicate route name %q", r.Name)
			}
			names[r.Name] = true
		}
		meta := inherit(parent, r.Meta)

		if r.Path == CatchAll {
			t.entries = append(t.entries, entry{name: r.Name, catchAll: true, meta: meta})
			continue
		}

		full := joinPath(prefix, r.Path)
		t.entries = append(t.entries, entry{name: r.Name, segments: split(full), meta: meta})
		if err := t.add(r.Children, full, meta, names); err != nil {
			return err
		}
	}
	return nil
}

// Resolve matches a location such as "/booking/42?seat=A1". The boolean is
// false when nothing, not even a catch-all, matched.
func (t *Table) Resolve(target string) (*Location, bool) {
	u, err := url.Parse(target)
	if err != nil {
		return nil, false
	}
	path := "/" + strings.Trim(u.Path, "/")
	segments := split(path)

	for _, e := range t.entries {
		params, ok := e.match(segments)
		if !ok {
			continue
		}
		full := path
		if u.RawQuery != "" {
			full += "?" + u.RawQuery
		}
		return &Location{
			Name:     e.name,
			Path:     path,
			FullPath: full,
			Params:   params,
			Query:    u.Query(),
			Meta:     e.meta,
		}, true
	}
	return nil, false
}

func (e entry) match(segments []string) (map[string]string, bool) {
	if e.catchAll {
		return map[string]string{"pathMatch": strings.Join(segments, "/")}, true
	}
	if len(segments) != len(e.segments) {
		return nil, false
	}
	params := map[string]string{}
	for i, want := range e.segments {
		got := segments[i]
		if strings.HasPrefix(want, ":") {
			if got == "" {
				return nil, false
			}
			v, err := url.PathUnescape(got)
			if err != nil {
				return nil, false
			}
			params[want[1:]] = v
			continue
		}
		if want != got {
			return nil, false
		}
	}
	return params, true
}

func inherit(parent, child guard.Meta) guard.Meta {
	out := child
	out.RequiresAuth = parent.RequiresAuth || child.RequiresAuth
	out.RequiresAdmin = parent.RequiresAdmin || child.RequiresAdmin
	out.GuestOnly = parent.GuestOnly || child.GuestOnly
	if out.Layout == "" {
		out.Layout = parent.Layout
	}
	return out
}

func joinPath(prefix, p string) string {
	if strings.HasPrefix(p, "/") || prefix == "" {
		return "/" + strings.Trim(p, "/")
	}
	return strings.TrimRight(prefix, "/") + "/" + strings.Trim(p, "/")
}

func split(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}
