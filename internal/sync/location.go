// Package sync is the reconciliation engine: it walks an origin's package
// content against an aptly repository's and produces the minimal ordered
// action list that brings the repository in line, then applies it.
package sync

import (
	"fmt"
	"net/url"
	"path"
	"path/filepath"
)

// Location points at one origin resource, either a local filesystem path or
// a URL. Scanners produce locations; Apply reads local ones directly and
// downloads remote ones.
type Location struct {
	path string
	url  *url.URL
}

// PathLocation makes a Location for a local file.
func PathLocation(p string) Location {
	return Location{path: p}
}

// URLLocation makes a Location for a remote file.
func URLLocation(u *url.URL) Location {
	return Location{url: u}
}

// ParseLocation reads a location string: anything with a URL scheme becomes
// a URL location, the rest are paths.
func ParseLocation(s string) Location {
	if u, err := url.Parse(s); err == nil && u.Scheme != "" && u.Host != "" {
		return URLLocation(u)
	}
	return PathLocation(s)
}

// IsURL reports whether the location is remote.
func (l Location) IsURL() bool { return l.url != nil }

// Path returns the local path, or "" for a URL location.
func (l Location) Path() string { return l.path }

// URL returns the remote URL, or nil for a path location.
func (l Location) URL() *url.URL { return l.url }

// Basename returns the last path element.
func (l Location) Basename() string {
	if l.url != nil {
		return path.Base(l.url.Path)
	}
	return filepath.Base(l.path)
}

// Parent returns the location of the containing directory.
func (l Location) Parent() Location {
	if l.url != nil {
		u := *l.url
		u.Path = path.Dir(u.Path)
		return Location{url: &u}
	}
	return Location{path: filepath.Dir(l.path)}
}

// Join appends one or more child path elements.
func (l Location) Join(elem ...string) Location {
	if l.url != nil {
		u := *l.url
		u.Path = path.Join(append([]string{u.Path}, elem...)...)
		return Location{url: &u}
	}
	return Location{path: filepath.Join(append([]string{l.path}, elem...)...)}
}

// String renders the location for logs and action listings.
func (l Location) String() string {
	if l.url != nil {
		return l.url.String()
	}
	return l.path
}

// Equal reports whether two locations point at the same resource.
func (l Location) Equal(o Location) bool {
	return l.String() == o.String() && l.IsURL() == o.IsURL()
}

var _ fmt.Stringer = Location{}
