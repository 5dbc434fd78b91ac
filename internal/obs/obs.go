// Package obs scans an OBS build output tree. Builds drop .changes files
// next to the artifacts they describe; every .deb and .udeb a changes file
// lists becomes an origin binary, every .dsc an origin source.
package obs

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	debfile "pault.ag/go/debian/deb"
	"pault.ag/go/debian/version"

	"github.com/git-pkgs/aptsync/deb"
	"github.com/git-pkgs/aptsync/internal/sync"
)

func init() {
	sync.RegisterOrigin("obs", Scan)
}

// Scan walks a local build tree for .changes and .dsc files.
func Scan(ctx context.Context, location sync.Location) (*sync.OriginContent, error) {
	if location.IsURL() {
		return nil, fmt.Errorf("obs origin requires a local path, got %s", location)
	}

	builder := sync.NewOriginContentBuilder()
	err := filepath.WalkDir(location.Path(), func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch {
		case strings.HasSuffix(path, ".changes"):
			return addChanges(builder, path)
		case strings.HasSuffix(path, ".dsc"):
			return addDsc(builder, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", location, err)
	}
	return builder.Build(), nil
}

func addChanges(builder *sync.OriginContentBuilder, path string) error {
	changes, err := deb.LoadChanges(path)
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	for _, record := range changes.Debs() {
		info, err := record.ParseDebName()
		if err != nil {
			return err
		}
		hash, err := record.ContentHash()
		if err != nil {
			return err
		}

		debPath := filepath.Join(dir, record.Name)
		builder.AddDeb(&sync.OriginDeb{
			Package: sync.PackageName(info.Package),
			// The file name drops the epoch; the control file inside the
			// deb has the definitive version. Read it only when a version
			// comparison actually happens.
			Version:           sync.NewLazyVersion(controlVersion(debPath)),
			Architecture:      info.Architecture,
			Location:          sync.PathLocation(debPath),
			FromSource:        sync.PackageName(changes.Source),
			FromSourceVersion: changes.Version,
			Hash:              hash,
		})
	}
	return nil
}

func addDsc(builder *sync.OriginContentBuilder, path string) error {
	dsc, err := deb.LoadDsc(path)
	if err != nil {
		return err
	}
	hash, err := dsc.ContentHash()
	if err != nil {
		return err
	}

	builder.AddDsc(&sync.OriginDsc{
		Package:     sync.PackageName(dsc.Source),
		Version:     dsc.Version,
		DscLocation: sync.PathLocation(path),
		Files:       dsc.Files(),
		Hash:        hash,
	})
	return nil
}

func controlVersion(debPath string) func() (version.Version, error) {
	return func() (version.Version, error) {
		f, err := os.Open(debPath)
		if err != nil {
			return version.Version{}, fmt.Errorf("opening %s: %w", debPath, err)
		}
		defer f.Close()

		d, err := debfile.Load(f, debPath)
		if err != nil {
			return version.Version{}, fmt.Errorf("reading control of %s: %w", debPath, err)
		}
		return d.Control.Version, nil
	}
}
