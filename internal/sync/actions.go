package sync

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/git-pkgs/aptsync/client"
	"github.com/git-pkgs/aptsync/key"
)

// MatchPolicy controls how the pool-reuse pass may match a pending add
// against a package already in aptly's pool.
type MatchPolicy int

const (
	// MatchKeyOnly accepts only an exact content-hash match. A pool file
	// with the same name but a different hash is an error.
	MatchKeyOnly MatchPolicy = iota
	// MatchKeyOrFilename also accepts a file-name match. Arch-indep debs
	// use this: the same "all" package rebuilt by a newer source upload
	// collides on file name with the copy already in the pool.
	MatchKeyOrFilename
)

// Action is one step of bringing the target repository in sync.
type Action interface {
	fmt.Stringer
	isAction()
}

// AddDeb uploads and ingests one binary package.
type AddDeb struct {
	Package       PackageName
	Hash          string
	Location      Location
	MatchExisting MatchPolicy
}

func (a *AddDeb) isAction() {}
func (a *AddDeb) String() string {
	return fmt.Sprintf("add deb %s (%s)", a.Location, a.Hash)
}

// AddDsc uploads and ingests one source package: the .dsc plus every file it
// references.
type AddDsc struct {
	Package             PackageName
	Hash                string
	DscLocation         Location
	ReferencedLocations []Location
}

func (a *AddDsc) isAction() {}
func (a *AddDsc) String() string {
	return fmt.Sprintf("add dsc %s (%s)", a.DscLocation, a.Hash)
}

// AddPoolPackage attaches a package aptly's pool already holds, skipping the
// upload entirely.
type AddPoolPackage struct {
	Key key.Key
}

func (a *AddPoolPackage) isAction() {}
func (a *AddPoolPackage) String() string {
	return "add from pool " + a.Key.String()
}

// RemoveTarget detaches one key from the target repository. Pool files are
// left alone.
type RemoveTarget struct {
	Key key.Key
}

func (a *RemoveTarget) isAction() {}
func (a *RemoveTarget) String() string {
	return "remove " + a.Key.String()
}

// AddDebOptions tunes how one deb is added.
type AddDebOptions struct {
	MatchExisting MatchPolicy
}

// Actions accumulates the steps a sync decided on and knows how to apply
// them against one aptly repository.
type Actions struct {
	aptly   *client.Client
	repo    string
	log     logrus.FieldLogger
	fetcher artifactFetcher
	actions []Action
}

// NewActions returns an empty action list for a repository.
func NewActions(aptly *client.Client, repo string, log logrus.FieldLogger) *Actions {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Actions{aptly: aptly, repo: repo, log: log}
}

// Repo returns the target repository name.
func (a *Actions) Repo() string { return a.repo }

// Actions returns the accumulated steps in decision order.
func (a *Actions) Actions() []Action { return a.actions }

// AddDeb schedules a binary package for upload.
func (a *Actions) AddDeb(d *OriginDeb) {
	a.AddDebWithOptions(d, AddDebOptions{})
}

// AddDebWithOptions schedules a binary package for upload with an explicit
// pool match policy.
func (a *Actions) AddDebWithOptions(d *OriginDeb, opts AddDebOptions) {
	a.log.WithFields(logrus.Fields{
		"package": d.Package,
		"deb":     d.Location.String(),
	}).Debug("scheduling deb upload")
	a.actions = append(a.actions, &AddDeb{
		Package:       d.Package,
		Hash:          d.Hash,
		Location:      d.Location,
		MatchExisting: opts.MatchExisting,
	})
}

// AddDsc schedules a source package for upload. Referenced files resolve
// relative to the .dsc's directory; the .dsc itself is not duplicated into
// the referenced list.
func (a *Actions) AddDsc(d *OriginDsc) {
	dir := d.DscLocation.Parent()
	dscName := d.DscLocation.Basename()
	var refs []Location
	for _, f := range d.Files {
		if f.Name == dscName {
			continue
		}
		refs = append(refs, dir.Join(f.Name))
	}
	a.log.WithFields(logrus.Fields{
		"package": d.Package,
		"dsc":     d.DscLocation.String(),
	}).Debug("scheduling source upload")
	a.actions = append(a.actions, &AddDsc{
		Package:             d.Package,
		Hash:                d.Hash,
		DscLocation:         d.DscLocation,
		ReferencedLocations: refs,
	})
}

// RemoveTarget schedules the removal of one repository key.
func (a *Actions) RemoveTarget(k key.Key) {
	a.log.WithField("key", k.String()).Debug("scheduling removal")
	a.actions = append(a.actions, &RemoveTarget{Key: k})
}

// poolQueryChunk caps how many package names go into one pool query.
const poolQueryChunk = 1000

// ReuseExistingPoolPackages rewrites pending uploads whose content aptly's
// pool already holds into AddPoolPackage actions. A pool file sharing a name
// with a pending upload but not its hash is rejected unless the action's
// policy allows filename matches.
func (a *Actions) ReuseExistingPoolPackages(ctx context.Context) error {
	names := a.pendingNames()
	if len(names) == 0 {
		return nil
	}

	byName := make(map[string][]client.PoolPackage)
	for start := 0; start < len(names); start += poolQueryChunk {
		end := min(start+poolQueryChunk, len(names))
		pkgs, err := a.aptly.QueryPackages(ctx, strings.Join(names[start:end], "|"))
		if err != nil {
			return fmt.Errorf("querying pool: %w", err)
		}
		for _, p := range pkgs {
			byName[p.Package] = append(byName[p.Package], p)
		}
	}

	for i, action := range a.actions {
		switch act := action.(type) {
		case *AddDeb:
			match, err := findPoolMatch(byName[string(act.Package)], false,
				act.Hash, act.Location.Basename(), act.MatchExisting)
			if err != nil {
				return err
			}
			if match != nil {
				a.log.WithFields(logrus.Fields{
					"deb": act.Location.String(),
					"key": match.String(),
				}).Info("reusing pool package")
				a.actions[i] = &AddPoolPackage{Key: *match}
			}
		case *AddDsc:
			match, err := findPoolMatch(byName[string(act.Package)], true,
				act.Hash, act.DscLocation.Basename(), MatchKeyOnly)
			if err != nil {
				return err
			}
			if match != nil {
				a.log.WithFields(logrus.Fields{
					"dsc": act.DscLocation.String(),
					"key": match.String(),
				}).Info("reusing pool package")
				a.actions[i] = &AddPoolPackage{Key: *match}
			}
		}
	}
	return nil
}

// findPoolMatch looks for a pool package matching a pending upload. Hash
// matches win; a filename collision without a hash match is either reused
// (MatchKeyOrFilename) or a hard error.
func findPoolMatch(candidates []client.PoolPackage, wantSource bool,
	hash, basename string, policy MatchPolicy) (*key.Key, error) {

	var filenameHit *key.Key
	for _, c := range candidates {
		k, err := c.AptlyKey()
		if err != nil {
			return nil, fmt.Errorf("pool returned a bad key %q: %w", c.Key, err)
		}
		if k.IsSource() != wantSource {
			continue
		}
		if k.Hash() == hash {
			return &k, nil
		}
		if filenameHit == nil {
			for _, name := range c.Filenames() {
				if name == basename {
					hit := k
					filenameHit = &hit
					break
				}
			}
		}
	}

	if filenameHit == nil {
		return nil, nil
	}
	if policy == MatchKeyOrFilename {
		return filenameHit, nil
	}
	return nil, fmt.Errorf("%w: %s is already in the pool as %s",
		ErrPoolConflict, basename, filenameHit)
}

// pendingNames returns the sorted, deduplicated package names of all pending
// uploads.
func (a *Actions) pendingNames() []string {
	seen := make(map[string]bool)
	for _, action := range a.actions {
		switch act := action.(type) {
		case *AddDeb:
			seen[string(act.Package)] = true
		case *AddDsc:
			seen[string(act.Package)] = true
		}
	}
	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
