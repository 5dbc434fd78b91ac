package sync

import (
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"
	"pault.ag/go/debian/version"

	"github.com/git-pkgs/aptsync/client"
	"github.com/git-pkgs/aptsync/key"
)

// Syncer decides what to do for one package name. Add handles a name the
// target does not have yet; Sync reconciles a name both sides have.
type Syncer[O any] interface {
	Add(name PackageName, origin O, actions *Actions) error
	Sync(name PackageName, origin O, target *TargetPackage, actions *Actions) error
}

// Syncers bundles the per-class strategies one walk uses.
type Syncers struct {
	BinaryArch  Syncer[*OriginPackage]
	BinaryIndep Syncer[*OriginPackage]
	Source      Syncer[*OriginSource]
}

// NewSyncers returns the strategy set for build-output origins: publish the
// newest build of each package and retire what it supersedes.
func NewSyncers(log logrus.FieldLogger) Syncers {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return Syncers{
		BinaryArch:  &BinarySyncer{log: log},
		BinaryIndep: &BinaryIndepSyncer{log: log},
		Source:      &SourceSyncer{log: log},
	}
}

// NewMirrorSyncers returns the strategy set for mirroring an apt tree
// verbatim: every distinct origin hash is published, everything else goes.
func NewMirrorSyncers(log logrus.FieldLogger) Syncers {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return Syncers{
		BinaryArch:  &MirrorBinarySyncer{},
		BinaryIndep: &MirrorBinarySyncer{},
		Source:      &MirrorSourceSyncer{},
	}
}

// Sync walks origin against target and returns the action list. The walk is
// pure: it talks to nothing and is deterministic for a given input, so a
// dry run can print its result verbatim.
func Sync(origin *OriginContent, aptly *client.Client, target *TargetContent,
	syncers Syncers, log logrus.FieldLogger) (*Actions, error) {

	actions := NewActions(aptly, target.Repo(), log)

	arches := unionSorted(origin.Architectures(), target.Architectures())
	for _, arch := range arches {
		err := syncPackages(origin.BinaryArch(arch), target.BinaryArch(arch),
			syncers.BinaryArch, actions)
		if err != nil {
			return nil, fmt.Errorf("syncing %s: %w", arch, err)
		}
	}

	if err := syncPackages(origin.BinaryIndep(), target.BinaryIndep(),
		syncers.BinaryIndep, actions); err != nil {
		return nil, fmt.Errorf("syncing all: %w", err)
	}

	if err := syncPackages(origin.Sources(), target.Sources(),
		syncers.Source, actions); err != nil {
		return nil, fmt.Errorf("syncing sources: %w", err)
	}

	return actions, nil
}

// syncPackages merge-joins two name-sorted package maps. Origin-only names
// are added, names on both sides are reconciled by the strategy, and
// target-only names are removed outright.
func syncPackages[O any](origin map[PackageName]O, target map[PackageName]*TargetPackage,
	syncer Syncer[O], actions *Actions) error {

	onames := sortedNames(origin)
	tnames := sortedNames(target)

	i, j := 0, 0
	for i < len(onames) || j < len(tnames) {
		switch {
		case j >= len(tnames) || (i < len(onames) && onames[i] < tnames[j]):
			name := onames[i]
			if err := syncer.Add(name, origin[name], actions); err != nil {
				return fmt.Errorf("adding %s: %w", name, err)
			}
			i++
		case i >= len(onames) || tnames[j] < onames[i]:
			for _, k := range target[tnames[j]].Keys() {
				actions.RemoveTarget(k)
			}
			j++
		default:
			name := onames[i]
			if err := syncer.Sync(name, origin[name], target[name], actions); err != nil {
				return fmt.Errorf("syncing %s: %w", name, err)
			}
			i++
			j++
		}
	}
	return nil
}

func sortedNames[V any](m map[PackageName]V) []PackageName {
	names := make([]PackageName, 0, len(m))
	for n := range m {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

func unionSorted(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	var out []string
	for _, s := range append(append([]string{}, a...), b...) {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

// BinarySyncer reconciles arch-specific binaries: one newest build wins.
type BinarySyncer struct {
	log logrus.FieldLogger
}

func (s *BinarySyncer) Add(name PackageName, origin *OriginPackage, actions *Actions) error {
	newest, err := origin.Newest()
	if err != nil {
		return err
	}
	actions.AddDeb(newest)
	return nil
}

func (s *BinarySyncer) Sync(name PackageName, origin *OriginPackage,
	target *TargetPackage, actions *Actions) error {

	newest, err := origin.Newest()
	if err != nil {
		return err
	}
	originVersion, err := newest.Version.Version()
	if err != nil {
		return err
	}
	current, err := target.Newest()
	if err != nil {
		return err
	}

	if version.Compare(originVersion, current.Version()) < 0 {
		// Never downgrade: a stale origin must not roll the repo back.
		s.log.WithFields(logrus.Fields{
			"package": name,
			"origin":  originVersion.String(),
			"target":  current.Version().String(),
		}).Warn("origin is older than target, leaving target alone")
		return nil
	}

	if newest.Hash == current.Hash() {
		return nil
	}

	for _, k := range target.Keys() {
		actions.RemoveTarget(k)
	}
	actions.AddDeb(newest)
	return nil
}

// BinaryIndepSyncer reconciles "all" packages. These are shared across
// architectures and re-uploaded unchanged by rebuilds of newer sources, so
// removal has to be conservative: only keys strictly older than the newest
// origin build may go.
type BinaryIndepSyncer struct {
	log logrus.FieldLogger
}

func (s *BinaryIndepSyncer) Add(name PackageName, origin *OriginPackage, actions *Actions) error {
	newest, err := origin.Newest()
	if err != nil {
		return err
	}
	actions.AddDebWithOptions(newest, AddDebOptions{MatchExisting: MatchKeyOrFilename})
	return nil
}

func (s *BinaryIndepSyncer) Sync(name PackageName, origin *OriginPackage,
	target *TargetPackage, actions *Actions) error {

	keep := make(map[key.Key]bool)

	for _, group := range groupBySource(origin.Debs()) {
		kept := false
		for _, d := range group {
			for _, k := range target.Keys() {
				if k.Hash() == d.Hash {
					keep[k] = true
					kept = true
				}
			}
		}
		if kept {
			continue
		}

		debVersion, err := group[0].Version.Version()
		if err != nil {
			return err
		}

		newerThanAll := true
		for _, k := range target.Keys() {
			if version.Compare(k.Version(), debVersion) >= 0 {
				newerThanAll = false
				break
			}
		}
		if newerThanAll {
			actions.AddDebWithOptions(group[0], AddDebOptions{MatchExisting: MatchKeyOrFilename})
			continue
		}

		for _, k := range target.Keys() {
			if version.Compare(k.Version(), debVersion) == 0 {
				keep[k] = true
			}
		}
	}

	newest, err := origin.Newest()
	if err != nil {
		return err
	}
	newestVersion, err := newest.Version.Version()
	if err != nil {
		return err
	}

	for _, k := range target.Keys() {
		if keep[k] {
			continue
		}
		if version.Compare(k.Version(), newestVersion) < 0 {
			actions.RemoveTarget(k)
		} else {
			s.log.WithField("key", k.String()).
				Debug("target key is not older than the newest origin build, keeping it")
		}
	}
	return nil
}

// groupBySource buckets origin debs by the source upload that produced
// them, in a deterministic order.
func groupBySource(debs []*OriginDeb) [][]*OriginDeb {
	type sourceKey struct {
		name    PackageName
		version string
	}
	groups := make(map[sourceKey][]*OriginDeb)
	var order []sourceKey
	for _, d := range debs {
		sk := sourceKey{name: d.FromSource, version: d.FromSourceVersion.String()}
		if _, ok := groups[sk]; !ok {
			order = append(order, sk)
		}
		groups[sk] = append(groups[sk], d)
	}
	sort.Slice(order, func(i, j int) bool {
		if order[i].name != order[j].name {
			return order[i].name < order[j].name
		}
		return order[i].version < order[j].version
	})
	out := make([][]*OriginDeb, 0, len(order))
	for _, sk := range order {
		group := groups[sk]
		sort.Slice(group, func(i, j int) bool {
			return group[i].Location.String() < group[j].Location.String()
		})
		out = append(out, group)
	}
	return out
}

// SourceSyncer reconciles source packages. The origin must present a single
// effective source: several coexisting versions are tolerated only when
// their contents are identical.
type SourceSyncer struct {
	log logrus.FieldLogger
}

func (s *SourceSyncer) effective(name PackageName, origin *OriginSource) (*OriginDsc, error) {
	sources := origin.Sources()
	if len(sources) == 0 {
		return nil, fmt.Errorf("%w: no sources for %s", ErrEmptyGroup, name)
	}
	for _, d := range sources[1:] {
		if d.Hash != sources[0].Hash {
			return nil, fmt.Errorf("%w: %s has %s and %s",
				ErrAmbiguousSource, name, sources[0].DscLocation, d.DscLocation)
		}
	}
	return origin.Newest()
}

func (s *SourceSyncer) Add(name PackageName, origin *OriginSource, actions *Actions) error {
	d, err := s.effective(name, origin)
	if err != nil {
		return err
	}
	actions.AddDsc(d)
	return nil
}

func (s *SourceSyncer) Sync(name PackageName, origin *OriginSource,
	target *TargetPackage, actions *Actions) error {

	d, err := s.effective(name, origin)
	if err != nil {
		return err
	}
	current, err := target.Newest()
	if err != nil {
		return err
	}
	if d.Hash == current.Hash() {
		return nil
	}

	for _, k := range target.Keys() {
		actions.RemoveTarget(k)
	}
	actions.AddDsc(d)
	return nil
}

// MirrorBinarySyncer publishes every distinct origin hash and removes any
// target key whose hash the origin no longer offers. Mirrors carry several
// versions of one package side by side, so no newest-wins logic applies.
type MirrorBinarySyncer struct{}

func (s *MirrorBinarySyncer) Add(name PackageName, origin *OriginPackage, actions *Actions) error {
	for _, d := range distinctByHash(origin.Debs()) {
		actions.AddDeb(d)
	}
	return nil
}

func (s *MirrorBinarySyncer) Sync(name PackageName, origin *OriginPackage,
	target *TargetPackage, actions *Actions) error {

	pending := make(map[string]*OriginDeb)
	for _, d := range distinctByHash(origin.Debs()) {
		pending[d.Hash] = d
	}
	for _, k := range target.Keys() {
		if _, ok := pending[k.Hash()]; ok {
			delete(pending, k.Hash())
		} else {
			actions.RemoveTarget(k)
		}
	}
	hashes := make([]string, 0, len(pending))
	for h := range pending {
		hashes = append(hashes, h)
	}
	sort.Strings(hashes)
	for _, h := range hashes {
		actions.AddDeb(pending[h])
	}
	return nil
}

func distinctByHash(debs []*OriginDeb) []*OriginDeb {
	seen := make(map[string]bool)
	var out []*OriginDeb
	for _, d := range debs {
		if !seen[d.Hash] {
			seen[d.Hash] = true
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Hash < out[j].Hash })
	return out
}

// MirrorSourceSyncer is MirrorBinarySyncer for sources.
type MirrorSourceSyncer struct{}

func (s *MirrorSourceSyncer) Add(name PackageName, origin *OriginSource, actions *Actions) error {
	for _, d := range distinctSourcesByHash(origin.Sources()) {
		actions.AddDsc(d)
	}
	return nil
}

func (s *MirrorSourceSyncer) Sync(name PackageName, origin *OriginSource,
	target *TargetPackage, actions *Actions) error {

	pending := make(map[string]*OriginDsc)
	for _, d := range distinctSourcesByHash(origin.Sources()) {
		pending[d.Hash] = d
	}
	for _, k := range target.Keys() {
		if _, ok := pending[k.Hash()]; ok {
			delete(pending, k.Hash())
		} else {
			actions.RemoveTarget(k)
		}
	}
	hashes := make([]string, 0, len(pending))
	for h := range pending {
		hashes = append(hashes, h)
	}
	sort.Strings(hashes)
	for _, h := range hashes {
		actions.AddDsc(pending[h])
	}
	return nil
}

func distinctSourcesByHash(sources []*OriginDsc) []*OriginDsc {
	seen := make(map[string]bool)
	var out []*OriginDsc
	for _, d := range sources {
		if !seen[d.Hash] {
			seen[d.Hash] = true
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Hash < out[j].Hash })
	return out
}
