package obs

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/git-pkgs/aptsync/internal/sync"
)

const md5a = "0123456789abcdef0123456789abcdef"
const md5b = "fedcba9876543210fedcba9876543210"
const sha1a = "0123456789abcdef0123456789abcdef01234567"
const sha1b = "fedcba9876543210fedcba9876543210fedcba98"
const sha256a = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"
const sha256b = "fedcba9876543210fedcba9876543210fedcba9876543210fedcba9876543210"

const changes = `Format: 1.8
Source: alpha
Binary: alpha alpha-data
Architecture: amd64 all
Version: 1.0-1
Distribution: stable
Maintainer: Example Maintainer <maint@example.org>
Changed-By: Example Maintainer <maint@example.org>
Files:
 ` + md5a + ` 1234 utils optional alpha_1.0-1_amd64.deb
 ` + md5b + ` 567 utils optional alpha-data_1.0-1_all.deb
Checksums-Sha1:
 ` + sha1a + ` 1234 alpha_1.0-1_amd64.deb
 ` + sha1b + ` 567 alpha-data_1.0-1_all.deb
Checksums-Sha256:
 ` + sha256a + ` 1234 alpha_1.0-1_amd64.deb
 ` + sha256b + ` 567 alpha-data_1.0-1_all.deb
`

const dsc = `Format: 3.0 (quilt)
Source: alpha
Binary: alpha
Architecture: any
Version: 1.0-1
Maintainer: Example Maintainer <maint@example.org>
Files:
 ` + md5a + ` 4096 alpha_1.0.orig.tar.gz
Checksums-Sha1:
 ` + sha1a + ` 4096 alpha_1.0.orig.tar.gz
Checksums-Sha256:
 ` + sha256a + ` 4096 alpha_1.0.orig.tar.gz
`

func writeTree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	dir := filepath.Join(root, "out", "standard", "x86_64")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	for name, content := range map[string]string{
		"alpha_1.0-1_amd64.changes": changes,
		"alpha_1.0-1.dsc":           dsc,
		"unrelated.log":             "build log",
	} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return root
}

func TestScan(t *testing.T) {
	root := writeTree(t)

	content, err := Scan(context.Background(), sync.PathLocation(root))
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}

	amd64 := content.BinaryArch("amd64")
	pkg := amd64["alpha"]
	if pkg == nil {
		t.Fatalf("amd64 alpha missing, content: %v", content.Architectures())
	}
	debs := pkg.Debs()
	if len(debs) != 1 {
		t.Fatalf("alpha debs = %d", len(debs))
	}
	if debs[0].FromSource != "alpha" || debs[0].FromSourceVersion.String() != "1.0-1" {
		t.Errorf("source linkage = %s %s", debs[0].FromSource, debs[0].FromSourceVersion)
	}
	if debs[0].Hash == "" {
		t.Error("deb has no content hash")
	}
	if debs[0].Location.Basename() != "alpha_1.0-1_amd64.deb" {
		t.Errorf("deb location = %s", debs[0].Location)
	}

	if content.BinaryIndep()["alpha-data"] == nil {
		t.Error("arch all deb not partitioned as arch-indep")
	}

	src := content.Sources()["alpha"]
	if src == nil {
		t.Fatal("source missing")
	}
	sources := src.Sources()
	if len(sources) != 1 {
		t.Fatalf("sources = %d", len(sources))
	}
	// The .dsc lists one tarball; with the .dsc itself that is two files.
	if len(sources[0].Files) != 2 {
		t.Errorf("source files = %v", sources[0].Files)
	}
	if sources[0].Hash == "" {
		t.Error("source has no content hash")
	}
}

func TestScanIsRegistered(t *testing.T) {
	root := writeTree(t)
	content, err := sync.ScanOrigin(context.Background(), "obs", sync.PathLocation(root))
	if err != nil {
		t.Fatalf("ScanOrigin: %v", err)
	}
	if len(content.Architectures()) != 1 {
		t.Errorf("Architectures() = %v", content.Architectures())
	}
}

func TestScanRejectsURL(t *testing.T) {
	loc := sync.ParseLocation("https://build.example.org/out")
	if _, err := Scan(context.Background(), loc); err == nil {
		t.Error("URL location must be rejected")
	}
}
