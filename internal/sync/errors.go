package sync

import "errors"

var (
	// ErrEmptyGroup means a package group had no members; scanners never
	// produce these, so hitting one is a bug in the caller.
	ErrEmptyGroup = errors.New("empty package group")

	// ErrAmbiguousSource means the origin offers several versions of one
	// source package with differing contents, so there is no single source
	// of truth to publish.
	ErrAmbiguousSource = errors.New("origin has multiple conflicting versions of a source package")

	// ErrPoolConflict means the pool already holds a file with the same
	// name as a pending upload but different contents. Ingesting would
	// either fail or silently attach the wrong package.
	ErrPoolConflict = errors.New("pool already contains a conflicting package file")

	// ErrIngestFailed means aptly rejected files during directory ingest.
	ErrIngestFailed = errors.New("aptly failed to ingest uploaded files")

	// ErrUnknownOrigin means no scanner is registered for the origin kind.
	ErrUnknownOrigin = errors.New("unknown origin kind")
)
