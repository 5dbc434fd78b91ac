package key

import (
	"errors"
	"testing"

	"pault.ag/go/debian/version"
)

func mustVersion(t *testing.T, s string) version.Version {
	t.Helper()
	v, err := version.Parse(s)
	if err != nil {
		t.Fatalf("parsing version %q: %v", s, err)
	}
	return v
}

func TestKeyString(t *testing.T) {
	k := New("amd64", "libexample", mustVersion(t, "1.2.3-1"), "f5ca149f66cd59dc")
	want := "Pamd64 libexample 1.2.3-1 f5ca149f66cd59dc"
	if got := k.String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}

	src := NewSource("example", mustVersion(t, "1:2.0~rc1-1"), "ab12")
	want = "Psource example 1:2.0~rc1-1 ab12"
	if got := src.String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
	if !src.IsSource() || src.IsBinary() {
		t.Errorf("source key misclassified: IsSource=%v IsBinary=%v", src.IsSource(), src.IsBinary())
	}
}

func TestParseRoundTrip(t *testing.T) {
	inputs := []string{
		"Pamd64 libexample 1.2.3-1 f5ca149f66cd59dc",
		"Psource example 1:2.0~rc1-1 ab12",
		"Pall example-data 2.0 0123456789abcdef",
	}
	for _, in := range inputs {
		k, err := Parse(in)
		if err != nil {
			t.Errorf("Parse(%q): %v", in, err)
			continue
		}
		if got := k.String(); got != in {
			t.Errorf("Parse(%q).String() = %q", in, got)
		}
	}
}

func TestParseFields(t *testing.T) {
	k, err := Parse("Pamd64 libexample 1:1.2.3-1 f5ca149f66cd59dc")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if k.Arch() != "amd64" {
		t.Errorf("Arch() = %q", k.Arch())
	}
	if k.Package() != "libexample" {
		t.Errorf("Package() = %q", k.Package())
	}
	if k.Version().Epoch != 1 {
		t.Errorf("Version().Epoch = %d", k.Version().Epoch)
	}
	if k.Hash() != "f5ca149f66cd59dc" {
		t.Errorf("Hash() = %q", k.Hash())
	}
	if !k.IsBinary() {
		t.Error("IsBinary() = false")
	}
}

func TestParseErrors(t *testing.T) {
	cases := []struct {
		input string
		want  error
	}{
		{"", ErrInvalidKey},
		{"Pamd64 libexample 1.2.3-1", ErrInvalidKey},
		{"Pamd64 libexample 1.2.3-1 abcd extra", ErrInvalidKey},
		{"amd64 libexample 1.2.3-1 abcd", ErrInvalidArchitecture},
		{"Pxy libexample 1.2.3-1 abcd", ErrInvalidArchitecture},
		{"Pamd64  1.2.3-1 abcd", ErrInvalidPackage},
		{"Pamd64 libexample !bad! abcd", ErrInvalidVersion},
		{"Pamd64 libexample 1.2.3-1 ", ErrInvalidHash},
		{"Pamd64 libexample 1.2.3-1 0123456789abcdef0", ErrInvalidHash},
		{"Pamd64 libexample 1.2.3-1 ABCD", ErrInvalidHash},
		{"Pamd64 libexample 1.2.3-1 xyz", ErrInvalidHash},
	}
	for _, c := range cases {
		_, err := Parse(c.input)
		if !errors.Is(err, c.want) {
			t.Errorf("Parse(%q) error = %v, want %v", c.input, err, c.want)
		}
	}
}

func TestCompare(t *testing.T) {
	older := New("amd64", "pkg", mustVersion(t, "1.0-1"), "aaaa")
	newer := New("amd64", "pkg", mustVersion(t, "1.0-2"), "aaaa")
	if older.Compare(newer) != -1 || newer.Compare(older) != 1 {
		t.Error("version ordering not respected")
	}

	// Debian semantics, not lexicographic: 1.10 > 1.9, epoch dominates.
	nine := New("amd64", "pkg", mustVersion(t, "1.9"), "aaaa")
	ten := New("amd64", "pkg", mustVersion(t, "1.10"), "aaaa")
	if nine.Compare(ten) != -1 {
		t.Error("1.9 should order before 1.10")
	}
	epoch := New("amd64", "pkg", mustVersion(t, "1:0.1"), "aaaa")
	if ten.Compare(epoch) != -1 {
		t.Error("epoch should dominate upstream version")
	}

	// Arch orders before name, name before version, hash breaks ties.
	if New("arm64", "a", mustVersion(t, "9"), "ffff").Compare(New("amd64", "z", mustVersion(t, "1"), "0000")) != 1 {
		t.Error("arch should order first")
	}
	a := New("amd64", "pkg", mustVersion(t, "1.0"), "aaaa")
	b := New("amd64", "pkg", mustVersion(t, "1.0"), "bbbb")
	if a.Compare(b) != -1 || a.Compare(a) != 0 {
		t.Error("hash should break ties")
	}
}

func TestPURLRoundTrip(t *testing.T) {
	k := New("amd64", "libexample", mustVersion(t, "1.2.3-1"), "f5ca149f66cd59dc")
	p := k.PURL()
	got, err := FromPURL(p)
	if err != nil {
		t.Fatalf("FromPURL(%q): %v", p, err)
	}
	if got.Arch() != "amd64" || got.Package() != "libexample" {
		t.Errorf("FromPURL(%q) = %v", p, got)
	}
	if version.Compare(got.Version(), k.Version()) != 0 {
		t.Errorf("version did not round-trip: %v", got.Version())
	}
	if got.Hash() != "" {
		t.Errorf("hash should not round-trip through a purl, got %q", got.Hash())
	}

	if _, err := FromPURL("pkg:cargo/serde@1.0.0"); err == nil {
		t.Error("non-deb purl should be rejected")
	}
}
