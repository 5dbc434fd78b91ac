// Package client is a typed client for the aptly REST API, covering the
// operations repository reconciliation needs: listing and querying packages,
// uploading files into a named directory, ingesting that directory into a
// repository, and attaching or removing packages by key.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	retryablehttp "github.com/hashicorp/go-retryablehttp"

	"github.com/git-pkgs/aptsync/key"
)

// ErrNotFound indicates the server answered 404 for the resource.
var ErrNotFound = errors.New("not found")

// HTTPError is returned for any non-2xx response.
type HTTPError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("aptly returned %d for %s: %s", e.StatusCode, e.URL, e.Body)
}

// Unwrap lets errors.Is(err, ErrNotFound) work for 404 responses.
func (e *HTTPError) Unwrap() error {
	if e.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	return nil
}

// IsNotFound reports whether the error is a 404 response.
func (e *HTTPError) IsNotFound() bool {
	return e.StatusCode == http.StatusNotFound
}

// Client talks to one aptly server.
type Client struct {
	baseURL string
	token   string
	retry   *retryablehttp.Client
}

// Option configures a Client.
type Option func(*Client)

// WithToken sets a bearer token sent with every request.
func WithToken(token string) Option {
	return func(c *Client) {
		c.token = token
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.retry.HTTPClient.Timeout = d
	}
}

// WithMaxRetries sets the maximum number of retries for transient failures.
func WithMaxRetries(n int) Option {
	return func(c *Client) {
		c.retry.RetryMax = n
	}
}

// New creates a client for the aptly API rooted at baseURL. Transient
// failures (connection errors, 5xx) are retried with exponential backoff;
// 4xx responses are returned immediately.
func New(baseURL string, opts ...Option) *Client {
	retry := retryablehttp.NewClient()
	retry.RetryMax = 5
	retry.RetryWaitMin = 500 * time.Millisecond
	retry.RetryWaitMax = 30 * time.Second
	retry.HTTPClient.Timeout = 5 * time.Minute
	retry.Logger = nil

	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		retry:   retry,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// endpoint builds an API URL from escaped path segments.
func (c *Client) endpoint(parts ...string) string {
	escaped := make([]string, len(parts))
	for i, p := range parts {
		escaped[i] = url.PathEscape(p)
	}
	return c.baseURL + "/" + strings.Join(escaped, "/")
}

func (c *Client) do(ctx context.Context, method, endpoint string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, endpoint, payload)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.authorize(req.Header)

	resp, err := c.retry.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return newHTTPError(resp)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding response from %s: %w", endpoint, err)
		}
	}
	return nil
}

func (c *Client) authorize(h http.Header) {
	if c.token != "" {
		h.Set("Authorization", "Bearer "+c.token)
	}
}

func newHTTPError(resp *http.Response) *HTTPError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	return &HTTPError{
		StatusCode: resp.StatusCode,
		URL:        resp.Request.URL.String(),
		Body:       strings.TrimSpace(string(body)),
	}
}

// Version returns the aptly server version.
func (c *Client) Version(ctx context.Context) (string, error) {
	var out struct {
		Version string `json:"Version"`
	}
	if err := c.do(ctx, http.MethodGet, c.endpoint("api", "version"), nil, &out); err != nil {
		return "", err
	}
	return out.Version, nil
}

// Repo is a local aptly repository.
type Repo struct {
	Name                string `json:"Name"`
	Comment             string `json:"Comment,omitempty"`
	DefaultDistribution string `json:"DefaultDistribution,omitempty"`
	DefaultComponent    string `json:"DefaultComponent,omitempty"`
}

// Repos lists all local repositories.
func (c *Client) Repos(ctx context.Context) ([]Repo, error) {
	var out []Repo
	if err := c.do(ctx, http.MethodGet, c.endpoint("api", "repos"), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateRepo creates a local repository.
func (c *Client) CreateRepo(ctx context.Context, repo Repo) (Repo, error) {
	var out Repo
	if err := c.do(ctx, http.MethodPost, c.endpoint("api", "repos"), repo, &out); err != nil {
		return Repo{}, err
	}
	return out, nil
}

// ListPackages returns the key of every package in a repository.
func (c *Client) ListPackages(ctx context.Context, repo string) ([]key.Key, error) {
	var raw []string
	if err := c.do(ctx, http.MethodGet, c.endpoint("api", "repos", repo, "packages"), nil, &raw); err != nil {
		return nil, err
	}
	keys := make([]key.Key, 0, len(raw))
	for _, s := range raw {
		k, err := key.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("repo %s: %w", repo, err)
		}
		keys = append(keys, k)
	}
	return keys, nil
}

// PoolPackage is the detailed record aptly returns for a pool-wide package
// query. Binary packages carry Filename and SHA256; source packages carry
// their file list in Checksums-Sha256.
type PoolPackage struct {
	Key             string `json:"Key"`
	Package         string `json:"Package"`
	Version         string `json:"Version"`
	Architecture    string `json:"Architecture"`
	Filename        string `json:"Filename"`
	SHA256          string `json:"SHA256"`
	ChecksumsSha256 string `json:"Checksums-Sha256"`
}

// AptlyKey parses the record's key string.
func (p *PoolPackage) AptlyKey() (key.Key, error) {
	return key.Parse(p.Key)
}

// Filenames returns the basenames of the package's files: the Filename field
// for a binary, or every name in Checksums-Sha256 for a source.
func (p *PoolPackage) Filenames() []string {
	if p.Filename != "" {
		return []string{p.Filename}
	}
	var names []string
	for _, line := range strings.Split(p.ChecksumsSha256, "\n") {
		fields := strings.Fields(line)
		if len(fields) == 3 {
			names = append(names, fields[2])
		}
	}
	return names
}

// QueryPackages runs a pool-wide package query and returns detailed records.
func (c *Client) QueryPackages(ctx context.Context, query string) ([]PoolPackage, error) {
	endpoint := c.endpoint("api", "packages") +
		"?q=" + url.QueryEscape(query) + "&format=details"
	var out []PoolPackage
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// UploadFile streams one file into a named upload directory on the server.
// The request is not retried internally; callers own the retry policy since
// the body is a one-shot stream.
func (c *Client) UploadFile(ctx context.Context, dir, filename string, r io.Reader) error {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		part, err := mw.CreateFormFile("file", filename)
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(part, r); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(mw.Close())
	}()

	endpoint := c.endpoint("api", "files", dir)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, pr)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	c.authorize(req.Header)

	resp, err := c.retry.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("uploading %s: %w", filename, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return newHTTPError(resp)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// DeleteDirectory removes an upload directory and its contents. Deleting a
// directory that does not exist returns an error satisfying
// errors.Is(err, ErrNotFound).
func (c *Client) DeleteDirectory(ctx context.Context, dir string) error {
	return c.do(ctx, http.MethodDelete, c.endpoint("api", "files", dir), nil, nil)
}

// IngestReport is aptly's response to importing an upload directory.
type IngestReport struct {
	FailedFiles []string `json:"FailedFiles"`
	Report      struct {
		Warnings []string `json:"Warnings"`
		Added    []string `json:"Added"`
		Removed  []string `json:"Removed"`
	} `json:"Report"`
}

// IngestDirectory imports every file in an upload directory into a
// repository. The report lists files aptly rejected.
func (c *Client) IngestDirectory(ctx context.Context, repo, dir string) (*IngestReport, error) {
	var out IngestReport
	endpoint := c.endpoint("api", "repos", repo, "file", dir)
	if err := c.do(ctx, http.MethodPost, endpoint, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type packageRefs struct {
	PackageRefs []string `json:"PackageRefs"`
}

func refsOf(keys []key.Key) packageRefs {
	refs := make([]string, len(keys))
	for i, k := range keys {
		refs[i] = k.String()
	}
	return packageRefs{PackageRefs: refs}
}

// AddPackages attaches packages already present in the pool to a repository.
func (c *Client) AddPackages(ctx context.Context, repo string, keys []key.Key) error {
	if len(keys) == 0 {
		return nil
	}
	return c.do(ctx, http.MethodPost, c.endpoint("api", "repos", repo, "packages"), refsOf(keys), nil)
}

// DeletePackages removes packages from a repository by key. The underlying
// pool files are untouched.
func (c *Client) DeletePackages(ctx context.Context, repo string, keys []key.Key) error {
	if len(keys) == 0 {
		return nil
	}
	return c.do(ctx, http.MethodDelete, c.endpoint("api", "repos", repo, "packages"), refsOf(keys), nil)
}
