package sync

import (
	"context"
	"fmt"
	"sort"

	"github.com/git-pkgs/aptsync/client"
	"github.com/git-pkgs/aptsync/key"
)

// TargetPackage holds every key a repository currently has for one package
// name, sorted by key order.
type TargetPackage struct {
	keys []key.Key
}

// Push inserts a key, keeping the set sorted and duplicate-free.
func (p *TargetPackage) Push(k key.Key) {
	i := sort.Search(len(p.keys), func(i int) bool {
		return p.keys[i].Compare(k) >= 0
	})
	if i < len(p.keys) && p.keys[i].Compare(k) == 0 {
		return
	}
	p.keys = append(p.keys, key.Key{})
	copy(p.keys[i+1:], p.keys[i:])
	p.keys[i] = k
}

// Keys returns the sorted keys.
func (p *TargetPackage) Keys() []key.Key {
	return p.keys
}

// Newest returns the key with the highest version.
func (p *TargetPackage) Newest() (key.Key, error) {
	if len(p.keys) == 0 {
		return key.Key{}, fmt.Errorf("%w: no keys", ErrEmptyGroup)
	}
	// Keys sort by version before hash, so the newest is last.
	return p.keys[len(p.keys)-1], nil
}

// TargetContent is the package content of one aptly repository, partitioned
// like OriginContent.
type TargetContent struct {
	repo        string
	binaryArch  map[string]map[PackageName]*TargetPackage
	binaryIndep map[PackageName]*TargetPackage
	sources     map[PackageName]*TargetPackage
}

// NewTargetContent returns empty content for a repository.
func NewTargetContent(repo string) *TargetContent {
	return &TargetContent{
		repo:        repo,
		binaryArch:  make(map[string]map[PackageName]*TargetPackage),
		binaryIndep: make(map[PackageName]*TargetPackage),
		sources:     make(map[PackageName]*TargetPackage),
	}
}

// TargetContentFromAptly lists a repository and partitions its keys.
func TargetContentFromAptly(ctx context.Context, c *client.Client, repo string) (*TargetContent, error) {
	keys, err := c.ListPackages(ctx, repo)
	if err != nil {
		return nil, fmt.Errorf("listing repo %s: %w", repo, err)
	}
	t := NewTargetContent(repo)
	for _, k := range keys {
		t.AddKey(k)
	}
	return t, nil
}

// Repo returns the repository name.
func (t *TargetContent) Repo() string { return t.repo }

// AddKey files one key into the right partition.
func (t *TargetContent) AddKey(k key.Key) {
	var packages map[PackageName]*TargetPackage
	switch {
	case k.IsSource():
		packages = t.sources
	case k.Arch() == "all":
		packages = t.binaryIndep
	default:
		packages = t.binaryArch[k.Arch()]
		if packages == nil {
			packages = make(map[PackageName]*TargetPackage)
			t.binaryArch[k.Arch()] = packages
		}
	}
	name := PackageName(k.Package())
	pkg := packages[name]
	if pkg == nil {
		pkg = &TargetPackage{}
		packages[name] = pkg
	}
	pkg.Push(k)
}

// Architectures returns the specific architectures present, sorted.
func (t *TargetContent) Architectures() []string {
	arches := make([]string, 0, len(t.binaryArch))
	for a := range t.binaryArch {
		arches = append(arches, a)
	}
	sort.Strings(arches)
	return arches
}

// BinaryArch returns the packages for one specific architecture.
func (t *TargetContent) BinaryArch(arch string) map[PackageName]*TargetPackage {
	return t.binaryArch[arch]
}

// BinaryIndep returns the architecture-independent packages.
func (t *TargetContent) BinaryIndep() map[PackageName]*TargetPackage {
	return t.binaryIndep
}

// Sources returns the source packages.
func (t *TargetContent) Sources() map[PackageName]*TargetPackage {
	return t.sources
}
