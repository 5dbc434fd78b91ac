// Package aptsync reconciles the package contents of an origin (an OBS
// build output tree or an apt repository) against an aptly repository. A
// sync scans the origin, lists the target, computes the minimal ordered
// action list (upload a binary, upload a source, attach a package aptly's
// pool already holds, remove a superseded key), then applies it.
//
// Basic usage:
//
//	import (
//		"context"
//		"github.com/git-pkgs/aptsync"
//		_ "github.com/git-pkgs/aptsync/all"
//	)
//
//	cfg, err := aptsync.LoadConfig("aptsync.yaml")
//	if err != nil {
//		log.Fatal(err)
//	}
//	if err := aptsync.Run(context.Background(), cfg, nil); err != nil {
//		log.Fatal(err)
//	}
//
// The pieces compose individually too: ScanOrigin, TargetContentFromAptly,
// Sync and Actions.Apply are all exported for callers that want to inspect
// or filter the action list themselves.
package aptsync

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/git-pkgs/aptsync/client"
	"github.com/git-pkgs/aptsync/internal/config"
	"github.com/git-pkgs/aptsync/internal/sync"
	"github.com/git-pkgs/aptsync/key"
)

// Re-export types from key
type (
	// Key identifies one package inside an aptly repository.
	Key = key.Key

	// HashFile is one checksummed file folded into a content hash.
	HashFile = key.HashFile

	// HashBuilder computes the content hash of a package's file list.
	HashBuilder = key.HashBuilder
)

// Re-export types from internal/sync
type (
	// PackageName is a Debian package or source package name.
	PackageName = sync.PackageName

	// Location points at one origin resource, path or URL.
	Location = sync.Location

	// LazyVersion defers a possibly expensive version lookup.
	LazyVersion = sync.LazyVersion

	// OriginDeb is one binary package the origin offers.
	OriginDeb = sync.OriginDeb

	// OriginDsc is one source package version the origin offers.
	OriginDsc = sync.OriginDsc

	// OriginPackage groups origin debs sharing one name and architecture.
	OriginPackage = sync.OriginPackage

	// OriginSource groups origin source versions sharing one name.
	OriginSource = sync.OriginSource

	// OriginContent is everything a scan of the origin found.
	OriginContent = sync.OriginContent

	// OriginContentBuilder accumulates scan results.
	OriginContentBuilder = sync.OriginContentBuilder

	// TargetPackage holds a repository's keys for one package name.
	TargetPackage = sync.TargetPackage

	// TargetContent is the package content of one aptly repository.
	TargetContent = sync.TargetContent

	// Action is one step of bringing the target repository in sync.
	Action = sync.Action

	// AddDeb uploads and ingests one binary package.
	AddDeb = sync.AddDeb

	// AddDsc uploads and ingests one source package.
	AddDsc = sync.AddDsc

	// AddPoolPackage attaches a package aptly's pool already holds.
	AddPoolPackage = sync.AddPoolPackage

	// RemoveTarget detaches one key from the target repository.
	RemoveTarget = sync.RemoveTarget

	// Actions is the accumulated action list for one repository.
	Actions = sync.Actions

	// Syncers bundles the per-class reconciliation strategies.
	Syncers = sync.Syncers

	// MatchPolicy controls pool-reuse matching for one add.
	MatchPolicy = sync.MatchPolicy

	// UploadOptions tunes the application phase.
	UploadOptions = sync.UploadOptions

	// Config is one sync run.
	Config = config.Config
)

// Re-export types from client
type (
	// Client talks to one aptly server.
	Client = client.Client

	// HTTPError is returned for any non-2xx aptly response.
	HTTPError = client.HTTPError
)

// Re-export constants
const (
	MatchKeyOnly       = sync.MatchKeyOnly
	MatchKeyOrFilename = sync.MatchKeyOrFilename
)

// Re-export errors
var (
	ErrMissingChecksum = key.ErrMissingChecksum
	ErrAmbiguousSource = sync.ErrAmbiguousSource
	ErrPoolConflict    = sync.ErrPoolConflict
	ErrIngestFailed    = sync.ErrIngestFailed
	ErrUnknownOrigin   = sync.ErrUnknownOrigin
	ErrNotFound        = client.ErrNotFound
)

// ParseKey reads a key in aptly's display form.
func ParseKey(s string) (Key, error) {
	return key.Parse(s)
}

// PathLocation makes a Location for a local file.
var PathLocation = sync.PathLocation

// URLLocation makes a Location for a remote file.
var URLLocation = sync.URLLocation

// ParseLocation reads a location string, URL or path.
var ParseLocation = sync.ParseLocation

// NewOriginContentBuilder returns an empty origin content builder.
var NewOriginContentBuilder = sync.NewOriginContentBuilder

// NewTargetContent returns empty target content for a repository.
var NewTargetContent = sync.NewTargetContent

// NewActions returns an empty action list for a repository.
var NewActions = sync.NewActions

// NewSyncers returns the strategy set for build-output origins.
var NewSyncers = sync.NewSyncers

// NewMirrorSyncers returns the strategy set for mirroring apt trees.
var NewMirrorSyncers = sync.NewMirrorSyncers

// NewClient creates a client for the aptly API rooted at baseURL.
func NewClient(baseURL string, opts ...client.Option) *Client {
	return client.New(baseURL, opts...)
}

// WithToken sets a bearer token sent with every aptly request.
var WithToken = client.WithToken

// WithTimeout sets the aptly client's per-request timeout.
var WithTimeout = client.WithTimeout

// WithMaxRetries sets the aptly client's retry budget.
var WithMaxRetries = client.WithMaxRetries

// LoadConfig reads and validates a YAML run configuration.
func LoadConfig(path string) (*Config, error) {
	return config.Load(path)
}

// ScanOrigin scans a location with the registered scanner for kind.
// Note: origin scanners must be imported to be registered; import
// github.com/git-pkgs/aptsync/all to get them all.
func ScanOrigin(ctx context.Context, kind string, location Location) (*OriginContent, error) {
	return sync.ScanOrigin(ctx, kind, location)
}

// SupportedOrigins returns all registered origin kinds.
func SupportedOrigins() []string {
	return sync.SupportedOrigins()
}

// TargetContentFromAptly lists a repository and partitions its keys.
func TargetContentFromAptly(ctx context.Context, c *Client, repo string) (*TargetContent, error) {
	return sync.TargetContentFromAptly(ctx, c, repo)
}

// Sync walks origin against target and returns the action list without
// touching anything.
func Sync(origin *OriginContent, aptly *Client, target *TargetContent,
	syncers Syncers, log logrus.FieldLogger) (*Actions, error) {
	return sync.Sync(origin, aptly, target, syncers, log)
}

// Run performs one complete sync: scan the origin, list the target, compute
// the actions, reuse pool packages, and apply. In dry-run mode the computed
// actions are logged and nothing is changed. A converged repository yields
// an empty action list and Run returns without touching aptly.
func Run(ctx context.Context, cfg *Config, log logrus.FieldLogger) error {
	if log == nil {
		log = logrus.StandardLogger()
	}

	aptly := client.New(cfg.Aptly.URL, client.WithToken(cfg.Aptly.Token))

	log.WithFields(logrus.Fields{
		"kind":     cfg.Origin.Kind,
		"location": cfg.Origin.Location,
	}).Info("scanning origin")
	origin, err := sync.ScanOrigin(ctx, cfg.Origin.Kind, sync.ParseLocation(cfg.Origin.Location))
	if err != nil {
		return fmt.Errorf("scanning origin: %w", err)
	}

	log.WithField("repo", cfg.Repo).Info("listing target repository")
	target, err := sync.TargetContentFromAptly(ctx, aptly, cfg.Repo)
	if err != nil {
		return err
	}

	// Build-output origins publish one newest build per package; apt
	// origins mirror every version the tree carries.
	syncers := sync.NewSyncers(log)
	if cfg.Origin.Kind == "apt" {
		syncers = sync.NewMirrorSyncers(log)
	}

	actions, err := sync.Sync(origin, aptly, target, syncers, log)
	if err != nil {
		return err
	}
	if err := actions.ReuseExistingPoolPackages(ctx); err != nil {
		return err
	}

	for _, action := range actions.Actions() {
		log.Info(action.String())
	}
	if cfg.DryRun {
		log.WithField("actions", len(actions.Actions())).Info("dry run, stopping before apply")
		return nil
	}

	return actions.Apply(ctx, cfg.Upload.Directory, sync.UploadOptions{
		MaxParallel: cfg.Upload.MaxParallel,
	})
}
