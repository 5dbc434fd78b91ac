// Package key models aptly package identity: the "P<arch> <name> <version> <hash>"
// key form aptly uses to address packages, Debian version ordering, and the
// content hash computed over a package's checksummed file list.
package key

import (
	"errors"
	"fmt"
	"strings"

	packageurl "github.com/package-url/packageurl-go"
	"pault.ag/go/debian/version"
)

const sourceArch = "source"

var (
	ErrInvalidKey          = errors.New("invalid aptly key")
	ErrInvalidArchitecture = errors.New("invalid architecture in aptly key")
	ErrInvalidPackage      = errors.New("invalid package name in aptly key")
	ErrInvalidVersion      = errors.New("invalid version in aptly key")
	ErrInvalidHash         = errors.New("invalid hash in aptly key")
)

// Key identifies one package inside an aptly repository. Two builds of the
// same name and version with different contents get different keys, because
// the hash covers the package's file checksums.
type Key struct {
	arch    string
	pkg     string
	version version.Version
	hash    string
}

// New builds a key from its parts. Use NewSource for source packages.
func New(arch, pkg string, ver version.Version, hash string) Key {
	return Key{arch: arch, pkg: pkg, version: ver, hash: hash}
}

// NewSource builds a key for a source package.
func NewSource(pkg string, ver version.Version, hash string) Key {
	return New(sourceArch, pkg, ver, hash)
}

// Parse reads a key in aptly's display form, "P<arch> <name> <version> <hash>".
func Parse(s string) (Key, error) {
	fields := strings.Split(s, " ")
	if len(fields) != 4 {
		return Key{}, fmt.Errorf("%w: expected 4 fields, got %d", ErrInvalidKey, len(fields))
	}

	arch, pkg, ver, hash := fields[0], fields[1], fields[2], fields[3]

	if !strings.HasPrefix(arch, "P") {
		return Key{}, fmt.Errorf("%w: missing P prefix", ErrInvalidArchitecture)
	}
	arch = arch[1:]
	if len(arch) < 3 {
		return Key{}, fmt.Errorf("%w: %q", ErrInvalidArchitecture, arch)
	}

	if pkg == "" {
		return Key{}, ErrInvalidPackage
	}

	parsed, err := version.Parse(ver)
	if err != nil {
		return Key{}, fmt.Errorf("%w: %q: %v", ErrInvalidVersion, ver, err)
	}

	if hash == "" || len(hash) > 16 {
		return Key{}, fmt.Errorf("%w: %q", ErrInvalidHash, hash)
	}
	for _, c := range hash {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return Key{}, fmt.Errorf("%w: %q", ErrInvalidHash, hash)
		}
	}

	return Key{arch: arch, pkg: pkg, version: parsed, hash: hash}, nil
}

// Arch returns the key's architecture, or "source" for source packages.
func (k Key) Arch() string { return k.arch }

// Package returns the package name.
func (k Key) Package() string { return k.pkg }

// Version returns the parsed Debian version.
func (k Key) Version() version.Version { return k.version }

// Hash returns the content hash in lowercase hex.
func (k Key) Hash() string { return k.hash }

// IsSource reports whether the key names a source package.
func (k Key) IsSource() bool { return k.arch == sourceArch }

// IsBinary reports whether the key names a binary package.
func (k Key) IsBinary() bool { return !k.IsSource() }

// String renders the key in aptly's display form.
func (k Key) String() string {
	return fmt.Sprintf("P%s %s %s %s", k.arch, k.pkg, k.version, k.hash)
}

// Compare orders keys by architecture, package name, Debian version
// semantics, then hash. It returns -1, 0 or 1.
func (k Key) Compare(o Key) int {
	if c := strings.Compare(k.arch, o.arch); c != 0 {
		return c
	}
	if c := strings.Compare(k.pkg, o.pkg); c != 0 {
		return c
	}
	if c := version.Compare(k.version, o.version); c != 0 {
		return c
	}
	return strings.Compare(k.hash, o.hash)
}

// PURL renders the key as a package URL, pkg:deb/<name>@<version>?arch=<arch>.
// The content hash has no PURL representation and is dropped.
func (k Key) PURL() string {
	qualifiers := packageurl.Qualifiers{{Key: "arch", Value: k.arch}}
	p := packageurl.NewPackageURL("deb", "", k.pkg, k.version.String(), qualifiers, "")
	return p.ToString()
}

// FromPURL parses a pkg:deb package URL into a hashless lookup key. The
// result matches any key with the same architecture, name and version.
func FromPURL(s string) (Key, error) {
	p, err := packageurl.FromString(s)
	if err != nil {
		return Key{}, err
	}
	if p.Type != "deb" {
		return Key{}, fmt.Errorf("%w: purl type %q is not deb", ErrInvalidKey, p.Type)
	}
	ver, err := version.Parse(p.Version)
	if err != nil {
		return Key{}, fmt.Errorf("%w: %q: %v", ErrInvalidVersion, p.Version, err)
	}
	arch := sourceArch
	for _, q := range p.Qualifiers {
		if q.Key == "arch" {
			arch = q.Value
		}
	}
	return Key{arch: arch, pkg: p.Name, version: ver}, nil
}
