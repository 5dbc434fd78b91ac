package key

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/fnv"
	"sort"
)

// ErrMissingChecksum is returned when a file is missing a size or digest,
// which would silently change the content hash if ignored.
var ErrMissingChecksum = errors.New("file is missing a size or checksum")

// HashFile is one checksummed file folded into a content hash.
type HashFile struct {
	Basename string
	Size     uint64
	MD5      string
	SHA1     string
	SHA256   string
}

func (f HashFile) validate() error {
	if f.Basename == "" || f.Size == 0 || f.MD5 == "" || f.SHA1 == "" || f.SHA256 == "" {
		return fmt.Errorf("%w: %q", ErrMissingChecksum, f.Basename)
	}
	return nil
}

// HashBuilder accumulates a package's files and computes the content hash
// that appears as the last field of its aptly key. The result depends only
// on the set of files, not the order they were added in.
type HashBuilder struct {
	files []HashFile
}

// AddFile records one file. It returns the builder for chaining.
func (b *HashBuilder) AddFile(f HashFile) *HashBuilder {
	b.files = append(b.files, f)
	return b
}

// Sum computes the content hash: FNV-1a/64 over the files sorted by
// basename, folding in each file's basename, size (8 big-endian bytes) and
// md5/sha1/sha256 hex digests. Any missing field fails before hashing.
func (b *HashBuilder) Sum() (string, error) {
	for _, f := range b.files {
		if err := f.validate(); err != nil {
			return "", err
		}
	}

	sorted := make([]HashFile, len(b.files))
	copy(sorted, b.files)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Basename < sorted[j].Basename
	})

	h := fnv.New64a()
	var size [8]byte
	for _, f := range sorted {
		h.Write([]byte(f.Basename))
		binary.BigEndian.PutUint64(size[:], f.Size)
		h.Write(size[:])
		h.Write([]byte(f.MD5))
		h.Write([]byte(f.SHA1))
		h.Write([]byte(f.SHA256))
	}
	return fmt.Sprintf("%x", h.Sum64()), nil
}

// HashFiles is a convenience wrapper for hashing a ready-made file list.
func HashFiles(files []HashFile) (string, error) {
	var b HashBuilder
	for _, f := range files {
		b.AddFile(f)
	}
	return b.Sum()
}
