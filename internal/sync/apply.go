package sync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"

	"github.com/cenk/backoff"
	"golang.org/x/sync/errgroup"

	"github.com/git-pkgs/aptsync/client"
	"github.com/git-pkgs/aptsync/fetch"
	"github.com/git-pkgs/aptsync/key"
)

// artifactFetcher downloads a remote origin artifact to a local temp file.
type artifactFetcher interface {
	FetchToTemp(ctx context.Context, url string) (*os.File, error)
}

// SetFetcher injects the downloader used for URL locations. Without it,
// Apply builds a circuit-breaking fetcher on first use.
func (a *Actions) SetFetcher(f artifactFetcher) {
	a.fetcher = f
}

// UploadOptions tunes the application phase.
type UploadOptions struct {
	// MaxParallel bounds concurrent uploads. Zero or less means one at a
	// time.
	MaxParallel int
}

// Apply executes the accumulated actions against aptly, in the only order
// that never leaves the repository observing half a package: clear the
// upload directory, upload everything, attach pool packages, ingest the
// directory, then do removals last.
func (a *Actions) Apply(ctx context.Context, uploadDir string, opts UploadOptions) error {
	if len(a.actions) == 0 {
		a.log.Info("nothing to do")
		return nil
	}

	if err := a.aptly.DeleteDirectory(ctx, uploadDir); err != nil {
		if !errors.Is(err, client.ErrNotFound) {
			return fmt.Errorf("clearing upload directory %s: %w", uploadDir, err)
		}
	}

	uploads := a.uploadLocations()
	reuse, removals := a.keyedActions()

	if a.fetcher == nil {
		for _, loc := range uploads {
			if loc.IsURL() {
				a.fetcher = fetch.NewCircuitBreakerFetcher(fetch.NewFetcher())
				break
			}
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, opts.MaxParallel))
	for _, loc := range uploads {
		loc := loc
		g.Go(func() error {
			return a.uploadOne(gctx, uploadDir, loc)
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("uploading to %s: %w", uploadDir, err)
	}

	if len(reuse) > 0 {
		a.log.WithField("count", len(reuse)).Info("attaching pool packages")
		if err := a.aptly.AddPackages(ctx, a.repo, reuse); err != nil {
			return fmt.Errorf("attaching pool packages: %w", err)
		}
	}

	if len(uploads) > 0 {
		report, err := a.aptly.IngestDirectory(ctx, a.repo, uploadDir)
		if err != nil {
			return fmt.Errorf("ingesting %s: %w", uploadDir, err)
		}
		for _, warning := range report.Report.Warnings {
			a.log.Warn(warning)
		}
		if len(report.FailedFiles) > 0 {
			return fmt.Errorf("%w: %s", ErrIngestFailed, strings.Join(report.FailedFiles, ", "))
		}
		a.log.WithField("count", len(report.Report.Added)).Info("ingested uploads")
	}

	if len(removals) > 0 {
		a.log.WithField("count", len(removals)).Info("removing superseded packages")
		if err := a.aptly.DeletePackages(ctx, a.repo, removals); err != nil {
			return fmt.Errorf("removing packages: %w", err)
		}
	}

	return nil
}

// uploadLocations flattens the pending adds into one deduplicated, ordered
// list of files to upload.
func (a *Actions) uploadLocations() []Location {
	var locations []Location
	seen := make(map[string]bool)
	push := func(loc Location) {
		if s := loc.String(); !seen[s] {
			seen[s] = true
			locations = append(locations, loc)
		}
	}
	for _, action := range a.actions {
		switch act := action.(type) {
		case *AddDeb:
			push(act.Location)
		case *AddDsc:
			push(act.DscLocation)
			for _, ref := range act.ReferencedLocations {
				push(ref)
			}
		}
	}
	return locations
}

// keyedActions splits out the pool attachments and removals, sorted for
// deterministic requests.
func (a *Actions) keyedActions() (reuse, removals []key.Key) {
	for _, action := range a.actions {
		switch act := action.(type) {
		case *AddPoolPackage:
			reuse = append(reuse, act.Key)
		case *RemoveTarget:
			removals = append(removals, act.Key)
		}
	}
	sort.Slice(reuse, func(i, j int) bool { return reuse[i].Compare(reuse[j]) < 0 })
	sort.Slice(removals, func(i, j int) bool { return removals[i].Compare(removals[j]) < 0 })
	return reuse, removals
}

// uploadOne stages a single file into the upload directory, retrying
// transient failures. 4xx responses are permanent: retrying an upload aptly
// rejected cannot succeed.
func (a *Actions) uploadOne(ctx context.Context, uploadDir string, loc Location) error {
	log := a.log.WithField("file", loc.String())

	var f *os.File
	if loc.IsURL() {
		log.Info("downloading")
		tmp, err := a.fetcher.FetchToTemp(ctx, loc.URL().String())
		if err != nil {
			return fmt.Errorf("downloading %s: %w", loc, err)
		}
		f = tmp
	} else {
		local, err := os.Open(loc.Path())
		if err != nil {
			return fmt.Errorf("opening %s: %w", loc, err)
		}
		f = local
	}
	defer f.Close()

	log.Info("uploading")
	attempt := func() error {
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return backoff.Permanent(err)
		}
		err := a.aptly.UploadFile(ctx, uploadDir, loc.Basename(), f)
		var httpErr *client.HTTPError
		if errors.As(err, &httpErr) &&
			httpErr.StatusCode >= 400 && httpErr.StatusCode < 500 &&
			httpErr.StatusCode != http.StatusTooManyRequests {
			return backoff.Permanent(err)
		}
		return err
	}
	policy := backoff.NewExponentialBackOff()
	if err := backoff.Retry(attempt, backoff.WithContext(policy, ctx)); err != nil {
		return fmt.Errorf("uploading %s: %w", loc, err)
	}
	return nil
}
