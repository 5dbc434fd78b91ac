package sync

import (
	"fmt"
	"sort"

	"pault.ag/go/debian/version"

	"github.com/git-pkgs/aptsync/deb"
)

// PackageName is a Debian package or source package name.
type PackageName string

func (n PackageName) String() string { return string(n) }

// OriginDeb is one binary package the origin offers.
type OriginDeb struct {
	Package      PackageName
	Version      *LazyVersion
	Architecture string
	Location     Location
	// Source linkage from the build that produced this deb. The arch-indep
	// strategy groups by it, because several source uploads can rebuild the
	// same "all" package with identical contents.
	FromSource        PackageName
	FromSourceVersion version.Version
	Hash              string
}

func (d *OriginDeb) String() string { return d.Location.String() }

// OriginPackage collects every origin deb sharing one package name within
// one architecture.
type OriginPackage struct {
	debs []*OriginDeb
}

// Push records one deb.
func (p *OriginPackage) Push(d *OriginDeb) {
	p.debs = append(p.debs, d)
}

// Debs returns the collected debs in insertion order.
func (p *OriginPackage) Debs() []*OriginDeb {
	return p.debs
}

// Newest returns the deb with the highest version. Resolving may read
// lazy versions.
func (p *OriginPackage) Newest() (*OriginDeb, error) {
	if len(p.debs) == 0 {
		return nil, fmt.Errorf("%w: no debs", ErrEmptyGroup)
	}
	best := p.debs[0]
	bestVer, err := best.Version.Version()
	if err != nil {
		return nil, fmt.Errorf("resolving version of %s: %w", best, err)
	}
	for _, d := range p.debs[1:] {
		v, err := d.Version.Version()
		if err != nil {
			return nil, fmt.Errorf("resolving version of %s: %w", d, err)
		}
		if version.Compare(v, bestVer) > 0 {
			best, bestVer = d, v
		}
	}
	return best, nil
}

// OriginDsc is one source package version the origin offers.
type OriginDsc struct {
	Package     PackageName
	Version     version.Version
	DscLocation Location
	Files       []deb.FileRecord
	Hash        string
}

func (d *OriginDsc) String() string { return d.DscLocation.String() }

// OriginSource collects every origin source version sharing one name.
type OriginSource struct {
	sources []*OriginDsc
}

// Push records one source version.
func (s *OriginSource) Push(d *OriginDsc) {
	s.sources = append(s.sources, d)
}

// Sources returns the collected versions in insertion order.
func (s *OriginSource) Sources() []*OriginDsc {
	return s.sources
}

// Newest returns the source with the highest version.
func (s *OriginSource) Newest() (*OriginDsc, error) {
	if len(s.sources) == 0 {
		return nil, fmt.Errorf("%w: no sources", ErrEmptyGroup)
	}
	best := s.sources[0]
	for _, d := range s.sources[1:] {
		if version.Compare(d.Version, best.Version) > 0 {
			best = d
		}
	}
	return best, nil
}

// OriginContent is everything a scan of the origin found, partitioned the
// way the walk consumes it: arch-specific binaries per architecture,
// arch-indep ("all") binaries, and sources.
type OriginContent struct {
	binaryArch  map[string]map[PackageName]*OriginPackage
	binaryIndep map[PackageName]*OriginPackage
	sources     map[PackageName]*OriginSource
}

// Architectures returns the specific architectures seen, sorted.
func (c *OriginContent) Architectures() []string {
	arches := make([]string, 0, len(c.binaryArch))
	for a := range c.binaryArch {
		arches = append(arches, a)
	}
	sort.Strings(arches)
	return arches
}

// BinaryArch returns the packages for one specific architecture.
func (c *OriginContent) BinaryArch(arch string) map[PackageName]*OriginPackage {
	return c.binaryArch[arch]
}

// BinaryIndep returns the architecture-independent packages.
func (c *OriginContent) BinaryIndep() map[PackageName]*OriginPackage {
	return c.binaryIndep
}

// Sources returns the source packages.
func (c *OriginContent) Sources() map[PackageName]*OriginSource {
	return c.sources
}

// OriginContentBuilder accumulates scan results into an OriginContent.
type OriginContentBuilder struct {
	content *OriginContent
}

// NewOriginContentBuilder returns an empty builder.
func NewOriginContentBuilder() *OriginContentBuilder {
	return &OriginContentBuilder{
		content: &OriginContent{
			binaryArch:  make(map[string]map[PackageName]*OriginPackage),
			binaryIndep: make(map[PackageName]*OriginPackage),
			sources:     make(map[PackageName]*OriginSource),
		},
	}
}

// AddDeb records one binary package. Architecture "all" goes into the
// arch-indep partition.
func (b *OriginContentBuilder) AddDeb(d *OriginDeb) *OriginContentBuilder {
	var packages map[PackageName]*OriginPackage
	if d.Architecture == "all" {
		packages = b.content.binaryIndep
	} else {
		packages = b.content.binaryArch[d.Architecture]
		if packages == nil {
			packages = make(map[PackageName]*OriginPackage)
			b.content.binaryArch[d.Architecture] = packages
		}
	}
	pkg := packages[d.Package]
	if pkg == nil {
		pkg = &OriginPackage{}
		packages[d.Package] = pkg
	}
	pkg.Push(d)
	return b
}

// AddDsc records one source package version.
func (b *OriginContentBuilder) AddDsc(d *OriginDsc) *OriginContentBuilder {
	src := b.content.sources[d.Package]
	if src == nil {
		src = &OriginSource{}
		b.content.sources[d.Package] = src
	}
	src.Push(d)
	return b
}

// Build returns the accumulated content. The builder must not be reused.
func (b *OriginContentBuilder) Build() *OriginContent {
	return b.content
}
