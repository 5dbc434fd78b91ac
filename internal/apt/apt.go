// Package apt scans an apt repository distribution tree. The location points
// at a dists/<distribution> directory, local or remote; the Release file
// names the components and architectures, and each Packages and Sources
// index contributes origin content. Pool paths in the indices resolve
// against the repository root, two levels above the distribution directory.
package apt

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"pault.ag/go/debian/control"
	"pault.ag/go/debian/version"

	"github.com/git-pkgs/aptsync/deb"
	"github.com/git-pkgs/aptsync/fetch"
	"github.com/git-pkgs/aptsync/internal/sync"
	"github.com/git-pkgs/aptsync/key"
)

func init() {
	sync.RegisterOrigin("apt", Scan)
}

// Scan reads a distribution's indices into origin content.
func Scan(ctx context.Context, location sync.Location) (*sync.OriginContent, error) {
	s := &scanner{
		dist:    location,
		root:    location.Parent().Parent(),
		builder: sync.NewOriginContentBuilder(),
	}
	if location.IsURL() {
		s.fetcher = fetch.NewFetcher()
	}
	if err := s.run(ctx); err != nil {
		return nil, fmt.Errorf("scanning %s: %w", location, err)
	}
	return s.builder.Build(), nil
}

type scanner struct {
	dist    sync.Location
	root    sync.Location
	fetcher *fetch.Fetcher
	builder *sync.OriginContentBuilder
}

type release struct {
	Components    string
	Architectures string
}

func (s *scanner) run(ctx context.Context) error {
	data, ok, err := s.readIndex(ctx, s.dist.Join("Release"))
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no Release file at %s", s.dist)
	}
	var rel release
	if err := control.Unmarshal(&rel, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("parsing Release: %w", err)
	}

	for _, component := range strings.Fields(rel.Components) {
		for _, arch := range strings.Fields(rel.Architectures) {
			if err := s.scanPackages(ctx, component, arch); err != nil {
				return err
			}
		}
		if err := s.scanSources(ctx, component); err != nil {
			return err
		}
	}
	return nil
}

type binaryIndexEntry struct {
	Package      string
	Source       string
	Version      version.Version
	Architecture string
	Filename     string
	Size         string
	MD5sum       string `control:"MD5sum"`
	SHA1         string
	SHA256       string
}

func (s *scanner) scanPackages(ctx context.Context, component, arch string) error {
	index := s.dist.Join(component, "binary-"+arch, "Packages")
	data, ok, err := s.readIndex(ctx, index)
	if err != nil {
		return err
	}
	if !ok {
		// Not every component publishes every architecture.
		return nil
	}

	decoder, err := control.NewDecoder(bytes.NewReader(data), nil)
	if err != nil {
		return fmt.Errorf("reading %s: %w", index, err)
	}
	for {
		var entry binaryIndexEntry
		if err := decoder.Decode(&entry); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("parsing %s: %w", index, err)
		}
		if err := s.addBinary(entry); err != nil {
			return fmt.Errorf("parsing %s: %w", index, err)
		}
	}
}

func (s *scanner) addBinary(entry binaryIndexEntry) error {
	size, err := strconv.ParseUint(entry.Size, 10, 64)
	if err != nil {
		return fmt.Errorf("package %s has size %q: %w", entry.Package, entry.Size, err)
	}
	location := s.root.Join(entry.Filename)
	hash, err := key.HashFiles([]key.HashFile{{
		Basename: location.Basename(),
		Size:     size,
		MD5:      entry.MD5sum,
		SHA1:     entry.SHA1,
		SHA256:   entry.SHA256,
	}})
	if err != nil {
		return fmt.Errorf("package %s: %w", entry.Package, err)
	}

	fromSource, fromSourceVersion := entry.Package, entry.Version
	if entry.Source != "" {
		// "src" or "src (version)".
		name, rest, found := strings.Cut(entry.Source, " ")
		fromSource = name
		if found {
			v, err := version.Parse(strings.Trim(rest, "()"))
			if err != nil {
				return fmt.Errorf("package %s has source %q: %w", entry.Package, entry.Source, err)
			}
			fromSourceVersion = v
		}
	}

	s.builder.AddDeb(&sync.OriginDeb{
		Package:           sync.PackageName(entry.Package),
		Version:           sync.VersionOf(entry.Version),
		Architecture:      entry.Architecture,
		Location:          location,
		FromSource:        sync.PackageName(fromSource),
		FromSourceVersion: fromSourceVersion,
		Hash:              hash,
	})
	return nil
}

type sourceIndexEntry struct {
	Package         string
	Version         version.Version
	Directory       string
	Files           string
	ChecksumsSha1   string `control:"Checksums-Sha1"`
	ChecksumsSha256 string `control:"Checksums-Sha256"`
}

func (s *scanner) scanSources(ctx context.Context, component string) error {
	index := s.dist.Join(component, "source", "Sources")
	data, ok, err := s.readIndex(ctx, index)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	decoder, err := control.NewDecoder(bytes.NewReader(data), nil)
	if err != nil {
		return fmt.Errorf("reading %s: %w", index, err)
	}
	for {
		var entry sourceIndexEntry
		if err := decoder.Decode(&entry); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("parsing %s: %w", index, err)
		}
		if err := s.addSource(entry); err != nil {
			return fmt.Errorf("parsing %s: %w", index, err)
		}
	}
}

func (s *scanner) addSource(entry sourceIndexEntry) error {
	files, err := deb.MergeFileLists(entry.Files, entry.ChecksumsSha1, entry.ChecksumsSha256)
	if err != nil {
		return fmt.Errorf("source %s: %w", entry.Package, err)
	}

	var dscName string
	for _, f := range files {
		if strings.HasSuffix(f.Name, ".dsc") {
			if dscName != "" {
				return fmt.Errorf("source %s lists more than one .dsc", entry.Package)
			}
			dscName = f.Name
		}
	}
	if dscName == "" {
		return fmt.Errorf("source %s lists no .dsc", entry.Package)
	}

	hash, err := deb.ContentHash(files)
	if err != nil {
		return fmt.Errorf("source %s: %w", entry.Package, err)
	}

	s.builder.AddDsc(&sync.OriginDsc{
		Package:     sync.PackageName(entry.Package),
		Version:     entry.Version,
		DscLocation: s.root.Join(entry.Directory, dscName),
		Files:       files,
		Hash:        hash,
	})
	return nil
}

// readIndex reads an index file, trying the plain name and then a .gz
// sibling. ok is false when neither exists.
func (s *scanner) readIndex(ctx context.Context, loc sync.Location) ([]byte, bool, error) {
	data, ok, err := s.readRaw(ctx, loc)
	if err != nil || ok {
		return data, ok, err
	}

	compressed, ok, err := s.readRaw(ctx, loc.Parent().Join(loc.Basename()+".gz"))
	if err != nil || !ok {
		return nil, false, err
	}
	zr, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, false, fmt.Errorf("decompressing %s.gz: %w", loc, err)
	}
	defer zr.Close()
	data, err = io.ReadAll(zr)
	if err != nil {
		return nil, false, fmt.Errorf("decompressing %s.gz: %w", loc, err)
	}
	return data, true, nil
}

func (s *scanner) readRaw(ctx context.Context, loc sync.Location) ([]byte, bool, error) {
	if loc.IsURL() {
		artifact, err := s.fetcher.Fetch(ctx, loc.URL().String())
		if err != nil {
			if errors.Is(err, fetch.ErrNotFound) {
				return nil, false, nil
			}
			return nil, false, err
		}
		defer artifact.Body.Close()
		data, err := io.ReadAll(artifact.Body)
		if err != nil {
			return nil, false, err
		}
		return data, true, nil
	}

	data, err := os.ReadFile(loc.Path())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return data, true, nil
}
