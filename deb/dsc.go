package deb

import (
	"bytes"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"pault.ag/go/debian/control"
	"pault.ag/go/debian/version"

	"github.com/git-pkgs/aptsync/key"
)

// Dsc is a parsed .dsc file. Its file list covers the referenced source
// artifacts plus the .dsc itself, whose digests are computed from the file
// bytes, because aptly includes the .dsc in a source package's content hash.
type Dsc struct {
	Path    string
	Source  string
	Version version.Version

	files []FileRecord
}

type dscParagraph struct {
	Source          string
	Version         version.Version
	Files           string
	ChecksumsSha1   string `control:"Checksums-Sha1"`
	ChecksumsSha256 string `control:"Checksums-Sha256"`
}

// LoadDsc reads and parses a .dsc file. Clearsigned files are accepted; the
// signature is not verified.
func LoadDsc(path string) (*Dsc, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var p dscParagraph
	if err := control.Unmarshal(&p, bytes.NewReader(data)); err != nil {
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

	files, err := MergeFileLists(p.Files, p.ChecksumsSha1, p.ChecksumsSha256)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	self := FileRecord{
		Name:   filepath.Base(path),
		Size:   uint64(len(data)),
		MD5:    fmt.Sprintf("%x", md5.Sum(data)),
		SHA1:   fmt.Sprintf("%x", sha1.Sum(data)),
		SHA256: fmt.Sprintf("%x", sha256.Sum256(data)),
	}
	files = append(files, self)
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })

	return &Dsc{
		Path:    path,
		Source:  p.Source,
		Version: p.Version,
		files:   files,
	}, nil
}

// Files returns the source's file list including the .dsc itself, sorted by
// name.
func (d *Dsc) Files() []FileRecord {
	return d.files
}

// ContentHash computes the source package's aptly content hash over the full
// file list.
func (d *Dsc) ContentHash() (string, error) {
	return ContentHash(d.files)
}

// Key builds the aptly source key for this .dsc.
func (d *Dsc) Key() (key.Key, error) {
	hash, err := d.ContentHash()
	if err != nil {
		return key.Key{}, err
	}
	return key.NewSource(d.Source, d.Version, hash), nil
}
