// Package deb reads the Debian control files that describe uploads: .changes
// files produced by builds and .dsc files describing source packages. Both
// list their constituent files three times (Files, Checksums-Sha1,
// Checksums-Sha256); the lists are cross-merged so every file carries all
// three digests, and a package-level content hash can be computed from them.
package deb

import (
	"errors"
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"

	"pault.ag/go/debian/version"

	"github.com/git-pkgs/aptsync/key"
)

var (
	ErrMissingField      = errors.New("control file is missing a required field")
	ErrInconsistentFiles = errors.New("file lists disagree between checksum fields")
	ErrMalformedFileLine = errors.New("malformed file list line")
	ErrBadFilename       = errors.New("filename does not follow package_version_arch naming")
)

// FileRecord is one checksummed file referenced by a .changes or .dsc.
type FileRecord struct {
	Name   string
	Size   uint64
	MD5    string
	SHA1   string
	SHA256 string
}

// HashFile converts the record for content hashing.
func (r FileRecord) HashFile() key.HashFile {
	return key.HashFile{
		Basename: path.Base(r.Name),
		Size:     r.Size,
		MD5:      r.MD5,
		SHA1:     r.SHA1,
		SHA256:   r.SHA256,
	}
}

// ContentHash computes the aptly content hash of this single file. Binary
// packages hash exactly one file, the .deb itself.
func (r FileRecord) ContentHash() (string, error) {
	return key.HashFiles([]key.HashFile{r.HashFile()})
}

// ContentHash computes the aptly content hash over a file list.
func ContentHash(files []FileRecord) (string, error) {
	hf := make([]key.HashFile, 0, len(files))
	for _, r := range files {
		hf = append(hf, r.HashFile())
	}
	return key.HashFiles(hf)
}

// DebInfo is the package identity encoded in a .deb file name,
// package_version_architecture.deb. File names never carry an epoch.
type DebInfo struct {
	Package      string
	Version      version.Version
	Architecture string
	Extension    string
}

// ParseDebName splits a .deb or .udeb file name into its parts.
func (r FileRecord) ParseDebName() (DebInfo, error) {
	base := path.Base(r.Name)
	ext := path.Ext(base)
	if ext != ".deb" && ext != ".udeb" {
		return DebInfo{}, fmt.Errorf("%w: %q", ErrBadFilename, base)
	}
	stem := strings.TrimSuffix(base, ext)
	parts := strings.Split(stem, "_")
	if len(parts) != 3 {
		return DebInfo{}, fmt.Errorf("%w: %q", ErrBadFilename, base)
	}
	ver, err := version.Parse(parts[1])
	if err != nil {
		return DebInfo{}, fmt.Errorf("%w: %q: %v", ErrBadFilename, base, err)
	}
	return DebInfo{
		Package:      parts[0],
		Version:      ver,
		Architecture: parts[2],
		Extension:    strings.TrimPrefix(ext, "."),
	}, nil
}

// digestEntry is one "digest size name" line from a checksum field.
type digestEntry struct {
	digest string
	size   uint64
	name   string
}

func parseDigestLines(field string) ([]digestEntry, error) {
	var entries []digestEntry
	for _, line := range strings.Split(field, "\n") {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		if len(fields) != 3 {
			return nil, fmt.Errorf("%w: %q", ErrMalformedFileLine, line)
		}
		size, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrMalformedFileLine, line, err)
		}
		entries = append(entries, digestEntry{digest: fields[0], size: size, name: fields[2]})
	}
	return entries, nil
}

// MergeFileLists cross-merges the three checksum fields of a .dsc or Sources
// paragraph, where Files lines are "md5 size name". Every file must appear in
// all three lists with the same size.
func MergeFileLists(md5Field, sha1Field, sha256Field string) ([]FileRecord, error) {
	md5s, err := parseDigestLines(md5Field)
	if err != nil {
		return nil, err
	}
	return mergeDigests(md5s, sha1Field, sha256Field)
}

// mergeDigests merges pre-parsed md5 entries with the Checksums-Sha1 and
// Checksums-Sha256 fields. The .changes Files field has extra section and
// priority columns, so its caller parses the md5 entries itself.
func mergeDigests(md5s []digestEntry, sha1Field, sha256Field string) ([]FileRecord, error) {
	sha1s, err := parseDigestLines(sha1Field)
	if err != nil {
		return nil, err
	}
	sha256s, err := parseDigestLines(sha256Field)
	if err != nil {
		return nil, err
	}

	records := make(map[string]*FileRecord, len(md5s))
	order := make([]string, 0, len(md5s))
	for _, e := range md5s {
		if _, dup := records[e.name]; dup {
			return nil, fmt.Errorf("%w: %q listed twice", ErrInconsistentFiles, e.name)
		}
		records[e.name] = &FileRecord{Name: e.name, Size: e.size, MD5: e.digest}
		order = append(order, e.name)
	}

	apply := func(entries []digestEntry, set func(*FileRecord, string)) error {
		if len(entries) != len(records) {
			return fmt.Errorf("%w: %d files in Files, %d in a checksum field",
				ErrInconsistentFiles, len(records), len(entries))
		}
		for _, e := range entries {
			r, ok := records[e.name]
			if !ok {
				return fmt.Errorf("%w: %q not listed in Files", ErrInconsistentFiles, e.name)
			}
			if r.Size != e.size {
				return fmt.Errorf("%w: %q has sizes %d and %d", ErrInconsistentFiles, e.name, r.Size, e.size)
			}
			set(r, e.digest)
		}
		return nil
	}
	if err := apply(sha1s, func(r *FileRecord, d string) { r.SHA1 = d }); err != nil {
		return nil, err
	}
	if err := apply(sha256s, func(r *FileRecord, d string) { r.SHA256 = d }); err != nil {
		return nil, err
	}

	sort.Strings(order)
	out := make([]FileRecord, 0, len(order))
	for _, name := range order {
		out = append(out, *records[name])
	}
	return out, nil
}
