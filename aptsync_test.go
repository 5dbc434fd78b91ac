package aptsync_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/git-pkgs/aptsync"
	_ "github.com/git-pkgs/aptsync/all"
)

const md5a = "0123456789abcdef0123456789abcdef"
const sha1a = "0123456789abcdef0123456789abcdef01234567"
const sha256a = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"

func testLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func TestSupportedOrigins(t *testing.T) {
	kinds := aptsync.SupportedOrigins()
	want := map[string]bool{"apt": false, "obs": false}
	for _, kind := range kinds {
		if _, ok := want[kind]; ok {
			want[kind] = true
		}
	}
	for kind, seen := range want {
		if !seen {
			t.Errorf("origin %q not registered, got %v", kind, kinds)
		}
	}
}

func writeAptDist(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	dist := filepath.Join(root, "dists", "bookworm")

	write := func(rel, content string) {
		path := filepath.Join(dist, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	write("Release", "Components: main\nArchitectures: amd64\n")
	write(filepath.Join("main", "binary-amd64", "Packages"), `Package: alpha
Version: 1.0-1
Architecture: amd64
Filename: pool/main/a/alpha/alpha_1.0-1_amd64.deb
Size: 1234
MD5sum: `+md5a+`
SHA1: `+sha1a+`
SHA256: `+sha256a+`
`)
	write(filepath.Join("main", "source", "Sources"), `Package: alpha
Version: 1.0-1
Directory: pool/main/a/alpha
Files:
 `+md5a+` 321 alpha_1.0-1.dsc
Checksums-Sha1:
 `+sha1a+` 321 alpha_1.0-1.dsc
Checksums-Sha256:
 `+sha256a+` 321 alpha_1.0-1.dsc
`)
	return dist
}

func writeRunConfig(t *testing.T, aptlyURL, dist string, dryRun bool) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "aptsync.yaml")
	content := fmt.Sprintf(`
aptly:
  url: %s
repo: testrepo
origin:
  kind: apt
  location: %s
dry_run: %v
`, aptlyURL, dist, dryRun)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// originKeys scans the dist and renders the aptly keys its content maps to.
func originKeys(t *testing.T, dist string) []string {
	t.Helper()
	content, err := aptsync.ScanOrigin(context.Background(), "apt", aptsync.PathLocation(dist))
	if err != nil {
		t.Fatalf("ScanOrigin: %v", err)
	}

	var keys []string
	for _, arch := range content.Architectures() {
		for name, pkg := range content.BinaryArch(arch) {
			for _, d := range pkg.Debs() {
				v, err := d.Version.Version()
				if err != nil {
					t.Fatalf("resolving version: %v", err)
				}
				keys = append(keys, fmt.Sprintf("P%s %s %s %s", arch, name, v, d.Hash))
			}
		}
	}
	for name, src := range content.Sources() {
		for _, d := range src.Sources() {
			keys = append(keys, fmt.Sprintf("Psource %s %s %s", name, d.Version, d.Hash))
		}
	}
	return keys
}

func TestRunDryRunTouchesNothing(t *testing.T) {
	dist := writeAptDist(t)

	var mutations []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			mutations = append(mutations, r.Method+" "+r.URL.Path)
		}
		switch r.URL.Path {
		case "/api/repos/testrepo/packages":
			json.NewEncoder(w).Encode([]string{})
		case "/api/packages":
			json.NewEncoder(w).Encode([]any{})
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))
	defer server.Close()

	cfg, err := aptsync.LoadConfig(writeRunConfig(t, server.URL, dist, true))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if err := aptsync.Run(context.Background(), cfg, testLogger()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(mutations) != 0 {
		t.Errorf("dry run mutated the server: %v", mutations)
	}
}

func TestRunConvergedIsNoOp(t *testing.T) {
	dist := writeAptDist(t)
	keys := originKeys(t, dist)
	if len(keys) != 2 {
		t.Fatalf("origin keys = %v", keys)
	}

	var mutations []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			mutations = append(mutations, r.Method+" "+r.URL.Path)
		}
		switch r.URL.Path {
		case "/api/repos/testrepo/packages":
			json.NewEncoder(w).Encode(keys)
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))
	defer server.Close()

	cfg, err := aptsync.LoadConfig(writeRunConfig(t, server.URL, dist, false))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if err := aptsync.Run(context.Background(), cfg, testLogger()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(mutations) != 0 {
		t.Errorf("converged repo mutated the server: %v", mutations)
	}
}
