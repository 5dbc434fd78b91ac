package deb

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"pault.ag/go/debian/control"
	"pault.ag/go/debian/version"
)

// Changes is a parsed .changes file: the manifest a build emits, listing the
// source it was built from and every artifact with its digests.
type Changes struct {
	Path          string
	Source        string
	Version       version.Version
	Architectures []string
	Distribution  string

	files []FileRecord
}

type changesParagraph struct {
	Source          string
	Version         version.Version
	Architecture    string
	Distribution    string
	Files           string
	ChecksumsSha1   string `control:"Checksums-Sha1"`
	ChecksumsSha256 string `control:"Checksums-Sha256"`
}

// LoadChanges reads and parses a .changes file. Signed files are accepted;
// the signature is not verified.
func LoadChanges(path string) (*Changes, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var p changesParagraph
	if err := control.Unmarshal(&p, f); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if p.Source == "" {
		return nil, fmt.Errorf("%w: Source in %s", ErrMissingField, path)
	}
	for field, value := range map[string]string{
		"Files":            p.Files,
		"Checksums-Sha1":   p.ChecksumsSha1,
		"Checksums-Sha256": p.ChecksumsSha256,
	} {
		if strings.TrimSpace(value) == "" {
			return nil, fmt.Errorf("%w: %s in %s", ErrMissingField, field, path)
		}
	}

	md5s, err := parseChangesFiles(p.Files)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	files, err := mergeDigests(md5s, p.ChecksumsSha1, p.ChecksumsSha256)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	return &Changes{
		Path:          path,
		Source:        p.Source,
		Version:       p.Version,
		Architectures: strings.Fields(p.Architecture),
		Distribution:  p.Distribution,
		files:         files,
	}, nil
}

// Files returns every artifact the changes file references, sorted by name.
func (c *Changes) Files() []FileRecord {
	return c.files
}

// Debs returns the subset of files that are binary packages (.deb or .udeb).
func (c *Changes) Debs() []FileRecord {
	var debs []FileRecord
	for _, r := range c.files {
		if strings.HasSuffix(r.Name, ".deb") || strings.HasSuffix(r.Name, ".udeb") {
			debs = append(debs, r)
		}
	}
	return debs
}

// parseChangesFiles reads the 5-column Files field of a .changes file:
// "md5 size section priority name".
func parseChangesFiles(field string) ([]digestEntry, error) {
	var entries []digestEntry
	for _, line := range strings.Split(field, "\n") {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		if len(fields) != 5 {
			return nil, fmt.Errorf("%w: %q", ErrMalformedFileLine, line)
		}
		size, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrMalformedFileLine, line, err)
		}
		entries = append(entries, digestEntry{digest: fields[0], size: size, name: fields[4]})
	}
	return entries, nil
}
