package sync

import (
	stdsync "sync"

	"pault.ag/go/debian/version"
)

// LazyVersion defers a possibly expensive version lookup until something
// actually needs it. OBS file names drop the epoch, so the definitive
// version of a .deb lives in its control file and reading it means opening
// the archive; most syncs never have to.
type LazyVersion struct {
	get func() (version.Version, error)
}

// NewLazyVersion wraps a fallible compute. The compute runs at most once;
// its result, error included, is memoized.
func NewLazyVersion(compute func() (version.Version, error)) *LazyVersion {
	return &LazyVersion{get: stdsync.OnceValues(compute)}
}

// VersionOf wraps an already known version.
func VersionOf(v version.Version) *LazyVersion {
	return &LazyVersion{get: func() (version.Version, error) { return v, nil }}
}

// Version returns the resolved version.
func (l *LazyVersion) Version() (version.Version, error) {
	return l.get()
}
