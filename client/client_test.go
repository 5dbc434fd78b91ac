package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/git-pkgs/aptsync/key"
)

func TestListPackages(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/repos/myrepo/packages" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode([]string{
			"Pamd64 example 1.0-1 aabbccdd",
			"Psource example 1.0-1 11223344",
		})
	}))
	defer server.Close()

	keys, err := New(server.URL).ListPackages(context.Background(), "myrepo")
	if err != nil {
		t.Fatalf("ListPackages: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("got %d keys", len(keys))
	}
	if keys[0].Arch() != "amd64" || keys[0].Package() != "example" {
		t.Errorf("keys[0] = %v", keys[0])
	}
	if !keys[1].IsSource() {
		t.Errorf("keys[1] should be a source key: %v", keys[1])
	}
}

func TestListPackagesBadKey(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]string{"not a key"})
	}))
	defer server.Close()

	if _, err := New(server.URL).ListPackages(context.Background(), "myrepo"); err == nil {
		t.Error("expected a parse error")
	}
}

func TestQueryPackages(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/packages" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("q"); got != "example|other" {
			t.Errorf("q = %q", got)
		}
		if got := r.URL.Query().Get("format"); got != "details" {
			t.Errorf("format = %q", got)
		}
		json.NewEncoder(w).Encode([]PoolPackage{
			{
				Key:          "Pamd64 example 1.0-1 aabbccdd",
				Package:      "example",
				Version:      "1.0-1",
				Architecture: "amd64",
				Filename:     "example_1.0-1_amd64.deb",
				SHA256:       "00",
			},
			{
				Key:             "Psource example 1.0-1 11223344",
				Package:         "example",
				Version:         "1.0-1",
				ChecksumsSha256: "00 100 example_1.0-1.dsc\n11 200 example_1.0.orig.tar.gz",
			},
		})
	}))
	defer server.Close()

	pkgs, err := New(server.URL).QueryPackages(context.Background(), "example|other")
	if err != nil {
		t.Fatalf("QueryPackages: %v", err)
	}
	if len(pkgs) != 2 {
		t.Fatalf("got %d packages", len(pkgs))
	}

	k, err := pkgs[0].AptlyKey()
	if err != nil {
		t.Fatalf("AptlyKey: %v", err)
	}
	if k.Hash() != "aabbccdd" {
		t.Errorf("hash = %q", k.Hash())
	}
	if names := pkgs[0].Filenames(); len(names) != 1 || names[0] != "example_1.0-1_amd64.deb" {
		t.Errorf("binary Filenames() = %v", names)
	}
	if names := pkgs[1].Filenames(); len(names) != 2 || names[0] != "example_1.0-1.dsc" {
		t.Errorf("source Filenames() = %v", names)
	}
}

func TestUploadFile(t *testing.T) {
	var gotName, gotBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/files/sync-dir" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parsing multipart: %v", err)
		}
		f, header, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("FormFile: %v", err)
		}
		defer f.Close()
		body, _ := io.ReadAll(f)
		gotName, gotBody = header.Filename, string(body)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	err := New(server.URL).UploadFile(context.Background(), "sync-dir",
		"example_1.0-1_amd64.deb", strings.NewReader("deb contents"))
	if err != nil {
		t.Fatalf("UploadFile: %v", err)
	}
	if gotName != "example_1.0-1_amd64.deb" || gotBody != "deb contents" {
		t.Errorf("server received %q %q", gotName, gotBody)
	}
}

func TestDeleteDirectoryNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"no such directory"}`, http.StatusNotFound)
	}))
	defer server.Close()

	err := New(server.URL).DeleteDirectory(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) || !httpErr.IsNotFound() {
		t.Errorf("error should be a 404 HTTPError, got %v", err)
	}
}

func TestIngestDirectory(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/repos/myrepo/file/sync-dir" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		io.WriteString(w, `{"FailedFiles":["bad.deb"],"Report":{"Warnings":["checksum mismatch"],"Added":["example_1.0-1_amd64 added"]}}`)
	}))
	defer server.Close()

	report, err := New(server.URL).IngestDirectory(context.Background(), "myrepo", "sync-dir")
	if err != nil {
		t.Fatalf("IngestDirectory: %v", err)
	}
	if len(report.FailedFiles) != 1 || report.FailedFiles[0] != "bad.deb" {
		t.Errorf("FailedFiles = %v", report.FailedFiles)
	}
	if len(report.Report.Warnings) != 1 {
		t.Errorf("Warnings = %v", report.Report.Warnings)
	}
}

func TestAddAndDeletePackages(t *testing.T) {
	type call struct {
		method string
		refs   []string
	}
	var calls []call
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/repos/myrepo/packages" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var body struct {
			PackageRefs []string `json:"PackageRefs"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decoding body: %v", err)
		}
		calls = append(calls, call{method: r.Method, refs: body.PackageRefs})
		io.WriteString(w, `{}`)
	}))
	defer server.Close()

	c := New(server.URL)
	k, err := key.Parse("Pamd64 example 1.0-1 aabbccdd")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if err := c.AddPackages(context.Background(), "myrepo", []key.Key{k}); err != nil {
		t.Fatalf("AddPackages: %v", err)
	}
	if err := c.DeletePackages(context.Background(), "myrepo", []key.Key{k}); err != nil {
		t.Fatalf("DeletePackages: %v", err)
	}
	// Empty sets never reach the server.
	if err := c.AddPackages(context.Background(), "myrepo", nil); err != nil {
		t.Fatalf("AddPackages(nil): %v", err)
	}

	if len(calls) != 2 {
		t.Fatalf("server saw %d calls", len(calls))
	}
	if calls[0].method != http.MethodPost || calls[1].method != http.MethodDelete {
		t.Errorf("methods = %s, %s", calls[0].method, calls[1].method)
	}
	want := "Pamd64 example 1.0-1 aabbccdd"
	if len(calls[0].refs) != 1 || calls[0].refs[0] != want {
		t.Errorf("refs = %v", calls[0].refs)
	}
}

func TestRetriesTransientFailures(t *testing.T) {
	var attempts int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			http.Error(w, "temporary", http.StatusBadGateway)
			return
		}
		io.WriteString(w, `{"Version":"1.5.0"}`)
	}))
	defer server.Close()

	v, err := New(server.URL, WithMaxRetries(5)).Version(context.Background())
	if err != nil {
		t.Fatalf("Version: %v", err)
	}
	if v != "1.5.0" {
		t.Errorf("Version = %q", v)
	}
	if attempts != 3 {
		t.Errorf("server saw %d attempts", attempts)
	}
}
